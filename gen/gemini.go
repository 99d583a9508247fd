package gen

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// GeminiClient wraps the Gemini API as a text and vision client.
type GeminiClient struct {
	client *genai.Client
	model  string
}

// NewGeminiClient creates a Gemini-backed client.
func NewGeminiClient(ctx context.Context, apiKey, model string) (*GeminiClient, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}
	if model == "" {
		model = "gemini-1.5-pro"
	}
	return &GeminiClient{client: client, model: model}, nil
}

// Close releases the underlying connection.
func (c *GeminiClient) Close() error { return c.client.Close() }

// Complete runs a plain text generation.
func (c *GeminiClient) Complete(ctx context.Context, prompt string) (string, error) {
	model := c.client.GenerativeModel(c.model)
	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", err
	}
	return firstText(resp)
}

// Describe analyzes an image. Data URLs are decoded inline; remote URLs are
// handed over as file references for the backend to fetch.
func (c *GeminiClient) Describe(ctx context.Context, imageURL string) (string, error) {
	model := c.client.GenerativeModel(c.model)

	part, err := imagePart(imageURL)
	if err != nil {
		return "", err
	}
	resp, err := model.GenerateContent(ctx,
		genai.Text("Describe this image in detail: subject, setting, lighting, camera angle, and mood."),
		part,
	)
	if err != nil {
		return "", err
	}
	return firstText(resp)
}

func imagePart(imageURL string) (genai.Part, error) {
	rest, ok := strings.CutPrefix(imageURL, "data:")
	if !ok {
		return genai.FileData{MIMEType: "image/png", URI: imageURL}, nil
	}
	meta, data, ok := strings.Cut(rest, ",")
	if !ok || !strings.Contains(meta, "base64") {
		return nil, fmt.Errorf("unsupported data url")
	}
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("decode data url: %w", err)
	}
	mime, _, _ := strings.Cut(meta, ";")
	format := strings.TrimPrefix(mime, "image/")
	if format == "" {
		format = "png"
	}
	return genai.ImageData(format, raw), nil
}

func firstText(resp *genai.GenerateContentResponse) (string, error) {
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("no response candidates")
	}
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			return string(txt), nil
		}
	}
	return "", fmt.Errorf("no text content in response")
}
