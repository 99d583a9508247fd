package gen

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/liushuangls/go-anthropic/v2"
)

// ClaudeClient wraps the Anthropic API as a text and vision client.
type ClaudeClient struct {
	client *anthropic.Client
	model  string
	http   *http.Client
}

// NewClaudeClient creates a Claude-backed client.
func NewClaudeClient(apiKey, model, baseURL string) *ClaudeClient {
	var opts []anthropic.ClientOption
	if baseURL != "" {
		opts = append(opts, anthropic.WithBaseURL(baseURL))
	}
	if model == "" {
		model = "claude-sonnet-4-20250514"
	}
	return &ClaudeClient{
		client: anthropic.NewClient(apiKey, opts...),
		model:  model,
		http:   &http.Client{Timeout: 30 * time.Second},
	}
}

// Complete runs a plain completion.
func (c *ClaudeClient) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := c.client.CreateMessages(ctx, anthropic.MessagesRequest{
		Model: anthropic.Model(c.model),
		Messages: []anthropic.Message{
			{
				Role:    anthropic.RoleUser,
				Content: []anthropic.MessageContent{anthropic.NewTextMessageContent(prompt)},
			},
		},
		MaxTokens: 1024,
	})
	if err != nil {
		return "", err
	}
	if len(resp.Content) == 0 || resp.Content[0].Text == nil {
		return "", fmt.Errorf("no response content")
	}
	return *resp.Content[0].Text, nil
}

// Describe analyzes an image. The API wants inline base64, so remote URLs
// are fetched first.
func (c *ClaudeClient) Describe(ctx context.Context, imageURL string) (string, error) {
	mime, data, err := c.imageBytes(ctx, imageURL)
	if err != nil {
		return "", err
	}

	resp, err := c.client.CreateMessages(ctx, anthropic.MessagesRequest{
		Model: anthropic.Model(c.model),
		Messages: []anthropic.Message{
			{
				Role: anthropic.RoleUser,
				Content: []anthropic.MessageContent{
					anthropic.NewImageMessageContent(
						anthropic.NewMessageContentSource(
							anthropic.MessagesContentSourceTypeBase64, mime, data),
					),
					anthropic.NewTextMessageContent(
						"Describe this image in detail: subject, setting, lighting, camera angle, and mood."),
				},
			},
		},
		MaxTokens: 1024,
	})
	if err != nil {
		return "", err
	}
	if len(resp.Content) == 0 || resp.Content[0].Text == nil {
		return "", fmt.Errorf("no response content")
	}
	return *resp.Content[0].Text, nil
}

func (c *ClaudeClient) imageBytes(ctx context.Context, imageURL string) (mime, b64 string, err error) {
	if rest, ok := strings.CutPrefix(imageURL, "data:"); ok {
		meta, data, ok := strings.Cut(rest, ",")
		if !ok || !strings.Contains(meta, "base64") {
			return "", "", fmt.Errorf("unsupported data url")
		}
		mime, _, _ = strings.Cut(meta, ";")
		return mime, data, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return "", "", err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", "", err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("fetch image: status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 24<<20))
	if err != nil {
		return "", "", err
	}
	mime = resp.Header.Get("Content-Type")
	if mime == "" {
		mime = http.DetectContentType(body)
	}
	return mime, base64.StdEncoding.EncodeToString(body), nil
}
