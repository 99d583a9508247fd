// Package gen defines the generation collaborators consumed by the
// workflow engine: text-to-image, image-to-image, image analysis, grid
// composition, cell extraction, and prompt optimization. Every operation
// is a black-box remote call: fallible, context-bound, and slow.
//
// The Service interface is what the engine programs against. Concrete
// providers (OpenAI, Gemini, Claude, and an HTTP studio backend for the
// grid operations) are assembled into a Studio by the factory.
package gen

import (
	"context"
)

// Reference is one conditioning image submitted with a request. Role
// constrains how the backend treats the image (subject, scene, prop,
// style). The set is ordered and immutable once submitted.
type Reference struct {
	URL         string
	Role        string
	Description string
}

// TextToImageRequest generates an image from a prompt.
type TextToImageRequest struct {
	Prompt string
	Model  string
	Width  int
	Height int
}

// ImageToImageRequest transforms an existing image under a prompt.
type ImageToImageRequest struct {
	Prompt   string
	ImageURL string
	Strength float64
}

// ImageResult is the outcome of a single-image generation.
type ImageResult struct {
	ImageURL string
}

// Description is the outcome of image analysis.
type Description struct {
	Text string
}

// GridRequest generates an N×N composite from reference images. Angles is
// only meaningful for multi-angle grids, ActionType only for action
// sequences.
type GridRequest struct {
	References []Reference
	Prompt     string
	GridSize   int
	Resolution string
	Angles     []string
	ActionType string
}

// NineGridRequest generates a 3×3 dynamic-sequence composite from a single
// reference.
type NineGridRequest struct {
	ReferenceURL     string
	SceneDescription string
	DynamicAction    string
	AspectRatio      string
}

// GridResult is a generated composite plus per-frame captions.
type GridResult struct {
	GridImageURL      string
	AspectRatio       string
	FrameDescriptions []string
}

// SplitRequest slices a composite into standalone cell images server-side.
// SelectedCells nil means all cells.
type SplitRequest struct {
	GridImageURL  string
	GridSize      int
	SelectedCells []int
}

// SplitCell is one extracted cell image.
type SplitCell struct {
	Index int
	URL   string
	Row   int
	Col   int
}

// SplitResult is the outcome of a composite split.
type SplitResult struct {
	ExtractedImages []SplitCell
}

// ExtractRequest extracts one cell of a composite and upscales it to a
// standalone image. This is a remote operation, not a local resize.
type ExtractRequest struct {
	GridImageURL string
	CellIndex    int
	AspectRatio  string
}

// ExtractResult is an upscaled standalone cell.
type ExtractResult struct {
	UpscaledURL string
	AngleName   string
}

// ShotRequest generates a shot/reverse-shot image for two characters.
type ShotRequest struct {
	ReferenceURL     string
	ShotType         string
	CharacterA       string
	CharacterB       string
	SceneDescription string
	AspectRatio      string
}

// ShotResult is a generated shot/reverse-shot image.
type ShotResult struct {
	ImageURL    string
	Description string
}

// Service is the full collaborator surface consumed by the engine.
type Service interface {
	TextToImage(ctx context.Context, req TextToImageRequest) (*ImageResult, error)
	ImageToImage(ctx context.Context, req ImageToImageRequest) (*ImageResult, error)
	DescribeImage(ctx context.Context, imageURL string) (*Description, error)
	GenerateMultiAngleGrid(ctx context.Context, req GridRequest) (*GridResult, error)
	GenerateActionSequenceGrid(ctx context.Context, req GridRequest) (*GridResult, error)
	GenerateDynamicNineGrid(ctx context.Context, req NineGridRequest) (*GridResult, error)
	SplitGridImage(ctx context.Context, req SplitRequest) (*SplitResult, error)
	ExtractAndUpscaleCell(ctx context.Context, req ExtractRequest) (*ExtractResult, error)
	GenerateShotReverseShot(ctx context.Context, req ShotRequest) (*ShotResult, error)
	OptimizePrompt(ctx context.Context, prompt string) (string, error)
}

// TextClient completes a text prompt. Satisfied by the OpenAI, Gemini, and
// Claude clients.
type TextClient interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// VisionClient describes an image. Satisfied by the OpenAI, Gemini, and
// Claude clients.
type VisionClient interface {
	Describe(ctx context.Context, imageURL string) (string, error)
}

// ImageClient renders and transforms images. Satisfied by the OpenAI
// client.
type ImageClient interface {
	Render(ctx context.Context, req TextToImageRequest) (string, error)
	Transform(ctx context.Context, req ImageToImageRequest) (string, error)
}
