package gen

import (
	"context"
	"fmt"
	"strings"
)

// Studio assembles provider clients into the full Service surface: image
// rendering through the image client, analysis and prompt work through the
// text/vision clients, and the composite operations through the grid
// backend.
type Studio struct {
	text   TextClient
	vision VisionClient
	images ImageClient
	grids  *GridBackend
}

// NewStudio wires a Service from its parts. Every part is required; use
// the factory for config-driven assembly.
func NewStudio(text TextClient, vision VisionClient, images ImageClient, grids *GridBackend) *Studio {
	return &Studio{text: text, vision: vision, images: images, grids: grids}
}

// TextToImage implements Service.
func (s *Studio) TextToImage(ctx context.Context, req TextToImageRequest) (*ImageResult, error) {
	url, err := s.images.Render(ctx, req)
	if err != nil {
		return nil, err
	}
	return &ImageResult{ImageURL: url}, nil
}

// ImageToImage implements Service.
func (s *Studio) ImageToImage(ctx context.Context, req ImageToImageRequest) (*ImageResult, error) {
	url, err := s.images.Transform(ctx, req)
	if err != nil {
		return nil, err
	}
	return &ImageResult{ImageURL: url}, nil
}

// DescribeImage implements Service.
func (s *Studio) DescribeImage(ctx context.Context, imageURL string) (*Description, error) {
	text, err := s.vision.Describe(ctx, imageURL)
	if err != nil {
		return nil, err
	}
	return &Description{Text: strings.TrimSpace(text)}, nil
}

// GenerateMultiAngleGrid implements Service.
func (s *Studio) GenerateMultiAngleGrid(ctx context.Context, req GridRequest) (*GridResult, error) {
	return s.grids.MultiAngleGrid(ctx, req)
}

// GenerateActionSequenceGrid implements Service.
func (s *Studio) GenerateActionSequenceGrid(ctx context.Context, req GridRequest) (*GridResult, error) {
	return s.grids.ActionSequenceGrid(ctx, req)
}

// GenerateDynamicNineGrid implements Service.
func (s *Studio) GenerateDynamicNineGrid(ctx context.Context, req NineGridRequest) (*GridResult, error) {
	return s.grids.DynamicNineGrid(ctx, req)
}

// SplitGridImage implements Service.
func (s *Studio) SplitGridImage(ctx context.Context, req SplitRequest) (*SplitResult, error) {
	return s.grids.Split(ctx, req)
}

// ExtractAndUpscaleCell implements Service.
func (s *Studio) ExtractAndUpscaleCell(ctx context.Context, req ExtractRequest) (*ExtractResult, error) {
	return s.grids.ExtractCell(ctx, req)
}

// GenerateShotReverseShot implements Service.
func (s *Studio) GenerateShotReverseShot(ctx context.Context, req ShotRequest) (*ShotResult, error) {
	return s.grids.ShotReverseShot(ctx, req)
}

// OptimizePrompt implements Service: it asks the text model to rewrite a
// rough prompt into a precise generation prompt.
func (s *Studio) OptimizePrompt(ctx context.Context, prompt string) (string, error) {
	out, err := s.text.Complete(ctx, fmt.Sprintf(
		"Rewrite the following rough image-generation prompt into a single precise, "+
			"richly detailed prompt. Reply with the rewritten prompt only.\n\n%s", prompt))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

var _ Service = (*Studio)(nil)
