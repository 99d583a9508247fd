package gen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// GridBackend talks to the studio service that performs the composite
// operations: grid composition, server-side splitting, cell extraction
// with upscaling, and shot/reverse-shot rendering. Each operation is one
// JSON POST.
type GridBackend struct {
	base   string
	client *http.Client
	apiKey string
}

// GridBackendOption configures a GridBackend.
type GridBackendOption func(*GridBackend)

// WithGridHTTPClient overrides the HTTP client.
func WithGridHTTPClient(c *http.Client) GridBackendOption {
	return func(b *GridBackend) { b.client = c }
}

// WithGridAPIKey sets the bearer token sent with each request.
func WithGridAPIKey(key string) GridBackendOption {
	return func(b *GridBackend) { b.apiKey = key }
}

// NewGridBackend creates a backend for the given base URL.
func NewGridBackend(baseURL string, opts ...GridBackendOption) *GridBackend {
	b := &GridBackend{
		base:   strings.TrimRight(baseURL, "/"),
		client: &http.Client{Timeout: 5 * time.Minute},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *GridBackend) post(ctx context.Context, path string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.base+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if b.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+b.apiKey)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: status %d: %s", path, resp.StatusCode, firstLine(body))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func firstLine(body []byte) string {
	s := strings.TrimSpace(string(body))
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}

type gridAPIRequest struct {
	References []Reference `json:"references,omitempty"`
	Prompt     string      `json:"prompt,omitempty"`
	GridSize   int         `json:"gridSize,omitempty"`
	Resolution string      `json:"resolution,omitempty"`
	Angles     []string    `json:"angles,omitempty"`
	ActionType string      `json:"actionType,omitempty"`

	ReferenceURL     string `json:"referenceImageUrl,omitempty"`
	SceneDescription string `json:"sceneDescription,omitempty"`
	DynamicAction    string `json:"dynamicAction,omitempty"`
	AspectRatio      string `json:"aspectRatio,omitempty"`

	GridImageURL  string `json:"gridImageUrl,omitempty"`
	SelectedCells []int  `json:"selectedCells,omitempty"`

	ShotType   string `json:"shotType,omitempty"`
	CharacterA string `json:"characterA,omitempty"`
	CharacterB string `json:"characterB,omitempty"`
}

// extractAPIRequest is separate from gridAPIRequest because cellIndex must
// always be sent: index 0 is a valid cell, so omitempty would make cell 0
// indistinguishable from an unspecified cell.
type extractAPIRequest struct {
	GridImageURL string `json:"gridImageUrl"`
	CellIndex    int    `json:"cellIndex"`
	AspectRatio  string `json:"aspectRatio,omitempty"`
}

type gridAPIResponse struct {
	GridImageURL      string      `json:"gridImageUrl"`
	AspectRatio       string      `json:"aspectRatio"`
	FrameDescriptions []string    `json:"frameDescriptions"`
	ExtractedImages   []SplitCell `json:"extractedImages"`
	UpscaledURL       string      `json:"upscaledUrl"`
	AngleName         string      `json:"angleName"`
	ImageURL          string      `json:"imageUrl"`
	Description       string      `json:"description"`
}

// MultiAngleGrid composes a multi-angle composite.
func (b *GridBackend) MultiAngleGrid(ctx context.Context, req GridRequest) (*GridResult, error) {
	var resp gridAPIResponse
	err := b.post(ctx, "/v1/grids/multi-angle", gridAPIRequest{
		References: req.References,
		Prompt:     req.Prompt,
		GridSize:   req.GridSize,
		Resolution: req.Resolution,
		Angles:     req.Angles,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &GridResult{
		GridImageURL:      resp.GridImageURL,
		AspectRatio:       resp.AspectRatio,
		FrameDescriptions: resp.FrameDescriptions,
	}, nil
}

// ActionSequenceGrid composes an action-sequence composite.
func (b *GridBackend) ActionSequenceGrid(ctx context.Context, req GridRequest) (*GridResult, error) {
	var resp gridAPIResponse
	err := b.post(ctx, "/v1/grids/action-sequence", gridAPIRequest{
		References: req.References,
		Prompt:     req.Prompt,
		GridSize:   req.GridSize,
		Resolution: req.Resolution,
		ActionType: req.ActionType,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &GridResult{
		GridImageURL:      resp.GridImageURL,
		AspectRatio:       resp.AspectRatio,
		FrameDescriptions: resp.FrameDescriptions,
	}, nil
}

// DynamicNineGrid composes a 3×3 dynamic-sequence composite.
func (b *GridBackend) DynamicNineGrid(ctx context.Context, req NineGridRequest) (*GridResult, error) {
	var resp gridAPIResponse
	err := b.post(ctx, "/v1/grids/dynamic-nine", gridAPIRequest{
		ReferenceURL:     req.ReferenceURL,
		SceneDescription: req.SceneDescription,
		DynamicAction:    req.DynamicAction,
		AspectRatio:      req.AspectRatio,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &GridResult{
		GridImageURL:      resp.GridImageURL,
		AspectRatio:       resp.AspectRatio,
		FrameDescriptions: resp.FrameDescriptions,
	}, nil
}

// Split slices a composite server-side.
func (b *GridBackend) Split(ctx context.Context, req SplitRequest) (*SplitResult, error) {
	var resp gridAPIResponse
	err := b.post(ctx, "/v1/grids/split", gridAPIRequest{
		GridImageURL:  req.GridImageURL,
		GridSize:      req.GridSize,
		SelectedCells: req.SelectedCells,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &SplitResult{ExtractedImages: resp.ExtractedImages}, nil
}

// ExtractCell extracts and upscales one cell.
func (b *GridBackend) ExtractCell(ctx context.Context, req ExtractRequest) (*ExtractResult, error) {
	var resp gridAPIResponse
	err := b.post(ctx, "/v1/grids/extract", extractAPIRequest{
		GridImageURL: req.GridImageURL,
		CellIndex:    req.CellIndex,
		AspectRatio:  req.AspectRatio,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &ExtractResult{UpscaledURL: resp.UpscaledURL, AngleName: resp.AngleName}, nil
}

// ShotReverseShot renders a two-character shot pair.
func (b *GridBackend) ShotReverseShot(ctx context.Context, req ShotRequest) (*ShotResult, error) {
	var resp gridAPIResponse
	err := b.post(ctx, "/v1/shots/reverse", gridAPIRequest{
		ReferenceURL:     req.ReferenceURL,
		ShotType:         req.ShotType,
		CharacterA:       req.CharacterA,
		CharacterB:       req.CharacterB,
		SceneDescription: req.SceneDescription,
		AspectRatio:      req.AspectRatio,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &ShotResult{ImageURL: resp.ImageURL, Description: resp.Description}, nil
}
