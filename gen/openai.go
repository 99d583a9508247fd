package gen

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIClient wraps the OpenAI API as a text, vision, and image client.
type OpenAIClient struct {
	client     *openai.Client
	chatModel  string
	imageModel string
}

// NewOpenAIClient creates an OpenAI-backed client. baseURL empty uses the
// public endpoint; compatible servers (Ollama and friends) work by pointing
// baseURL at them.
func NewOpenAIClient(apiKey, chatModel, imageModel, baseURL string) *OpenAIClient {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	if chatModel == "" {
		chatModel = openai.GPT4o
	}
	if imageModel == "" {
		imageModel = openai.CreateImageModelDallE3
	}
	return &OpenAIClient{
		client:     openai.NewClientWithConfig(config),
		chatModel:  chatModel,
		imageModel: imageModel,
	}
}

// Complete runs a plain chat completion.
func (c *OpenAIClient) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.chatModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no response choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// Describe analyzes an image with the vision-capable chat model. imageURL
// may be an http(s) URL or a data URL.
func (c *OpenAIClient) Describe(ctx context.Context, imageURL string) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.chatModel,
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{
						Type: openai.ChatMessagePartTypeText,
						Text: "Describe this image in detail: subject, setting, lighting, camera angle, and mood.",
					},
					{
						Type:     openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{URL: imageURL},
					},
				},
			},
		},
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no response choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// Render generates an image from a prompt.
func (c *OpenAIClient) Render(ctx context.Context, req TextToImageRequest) (string, error) {
	model := req.Model
	if model == "" {
		model = c.imageModel
	}
	resp, err := c.client.CreateImage(ctx, openai.ImageRequest{
		Prompt:         req.Prompt,
		Model:          model,
		N:              1,
		Size:           imageSize(req.Width, req.Height),
		ResponseFormat: openai.CreateImageResponseFormatURL,
	})
	if err != nil {
		return "", err
	}
	if len(resp.Data) == 0 {
		return "", fmt.Errorf("no image data")
	}
	return resp.Data[0].URL, nil
}

// Transform rewrites an existing image under a prompt. The strength knob
// maps onto prompt emphasis since the images API has no denoise control.
func (c *OpenAIClient) Transform(ctx context.Context, req ImageToImageRequest) (string, error) {
	prompt := req.Prompt
	if req.Strength > 0 && req.Strength < 0.5 {
		prompt = fmt.Sprintf("%s (stay close to the original image)", prompt)
	}
	resp, err := c.client.CreateImage(ctx, openai.ImageRequest{
		Prompt:         fmt.Sprintf("%s\n\nReference image: %s", prompt, req.ImageURL),
		Model:          c.imageModel,
		N:              1,
		Size:           openai.CreateImageSize1024x1024,
		ResponseFormat: openai.CreateImageResponseFormatURL,
	})
	if err != nil {
		return "", err
	}
	if len(resp.Data) == 0 {
		return "", fmt.Errorf("no image data")
	}
	return resp.Data[0].URL, nil
}

func imageSize(w, h int) string {
	switch {
	case w > h:
		return openai.CreateImageSize1792x1024
	case h > w:
		return openai.CreateImageSize1024x1792
	default:
		return openai.CreateImageSize1024x1024
	}
}
