package gen

import (
	"context"
	"fmt"
	"strings"
)

// Options selects and configures the providers behind a Studio.
type Options struct {
	// TextProvider and VisionProvider choose the language-model backend:
	// "openai", "gemini", or "claude".
	TextProvider   string
	VisionProvider string

	OpenAIKey        string
	OpenAIBaseURL    string
	OpenAIChatModel  string
	OpenAIImageModel string

	GeminiKey   string
	GeminiModel string

	AnthropicKey     string
	AnthropicBaseURL string
	AnthropicModel   string

	// StudioBaseURL is the grid backend endpoint.
	StudioBaseURL string
	StudioAPIKey  string
}

// NewService assembles a Studio from options. Image rendering always runs
// on OpenAI (the only image-capable provider here); text and vision are
// selectable per provider.
func NewService(ctx context.Context, opts Options) (Service, error) {
	if opts.StudioBaseURL == "" {
		return nil, fmt.Errorf("gen: studio base url is required")
	}

	oa := NewOpenAIClient(opts.OpenAIKey, opts.OpenAIChatModel, opts.OpenAIImageModel, opts.OpenAIBaseURL)

	text, err := textClient(ctx, opts, oa)
	if err != nil {
		return nil, err
	}
	vision, err := visionClient(ctx, opts, oa)
	if err != nil {
		return nil, err
	}

	grids := NewGridBackend(opts.StudioBaseURL, WithGridAPIKey(opts.StudioAPIKey))
	return NewStudio(text, vision, oa, grids), nil
}

func textClient(ctx context.Context, opts Options, oa *OpenAIClient) (TextClient, error) {
	switch strings.ToLower(opts.TextProvider) {
	case "", "openai":
		return oa, nil
	case "gemini":
		return NewGeminiClient(ctx, opts.GeminiKey, opts.GeminiModel)
	case "claude":
		return NewClaudeClient(opts.AnthropicKey, opts.AnthropicModel, opts.AnthropicBaseURL), nil
	}
	return nil, fmt.Errorf("gen: unsupported text provider %q", opts.TextProvider)
}

func visionClient(ctx context.Context, opts Options, oa *OpenAIClient) (VisionClient, error) {
	switch strings.ToLower(opts.VisionProvider) {
	case "", "openai":
		return oa, nil
	case "gemini":
		return NewGeminiClient(ctx, opts.GeminiKey, opts.GeminiModel)
	case "claude":
		return NewClaudeClient(opts.AnthropicKey, opts.AnthropicModel, opts.AnthropicBaseURL), nil
	}
	return nil, fmt.Errorf("gen: unsupported vision provider %q", opts.VisionProvider)
}
