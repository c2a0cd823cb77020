package openai

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"brandpost-backend/internal/imagegen"
)

// Client implements imagegen.Capability with the OpenAI Images API.
type Client struct {
	model  string
	client openai.Client
}

// NewClient constructs an image capability. SDK retries are disabled.
func NewClient(apiKey, model, baseURL string, timeout time.Duration) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is required")
	}
	if strings.TrimSpace(model) == "" {
		model = "dall-e-3"
	}
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
		option.WithRequestTimeout(timeout),
	}
	if strings.TrimSpace(baseURL) != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &Client{model: model, client: openai.NewClient(opts...)}, nil
}

// Invoke requests one base64 image and decodes it.
func (c *Client) Invoke(ctx context.Context, req imagegen.Request, width, height int) (imagegen.Output, error) {
	resp, err := c.client.Images.Generate(ctx, openai.ImageGenerateParams{
		Prompt:         BuildPrompt(req),
		Model:          openai.ImageModel(c.model),
		N:              openai.Int(1),
		Size:           openai.ImageGenerateParamsSize(imagegen.SizeString(width, height)),
		ResponseFormat: openai.ImageGenerateParamsResponseFormatB64JSON,
	})
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return imagegen.Output{}, fmt.Errorf("openai images http status %d: %w", apiErr.StatusCode, err)
		}
		return imagegen.Output{}, fmt.Errorf("openai images: %w", err)
	}
	if len(resp.Data) == 0 || resp.Data[0].B64JSON == "" {
		return imagegen.Output{}, errors.New("openai images: empty response")
	}
	data, err := base64.StdEncoding.DecodeString(resp.Data[0].B64JSON)
	if err != nil {
		return imagegen.Output{}, fmt.Errorf("openai images decode: %w", err)
	}
	return imagegen.Output{Data: data, ContentType: "image/png"}, nil
}

// BuildPrompt describes a text-free background that leaves room for an overlay.
func BuildPrompt(req imagegen.Request) string {
	style := strings.TrimSpace(req.Style)
	if style == "" {
		style = "modern"
	}
	platform := strings.TrimSpace(req.Platform)
	if platform == "" || platform == "both" {
		platform = "social media"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Create a professional social media background image for %s.\n\n", platform)
	fmt.Fprintf(&b, "Style: %s, clean, modern\n", style)
	if len(req.Colors) > 0 {
		fmt.Fprintf(&b, "Colors: use %s as primary colors\n", strings.Join(req.Colors, ", "))
	}
	fmt.Fprintf(&b, "Theme: %s\n\n", req.Hint)
	b.WriteString("Requirements:\n")
	b.WriteString("- Leave space in the center or top for text overlay\n")
	b.WriteString("- No text or words in the image\n")
	b.WriteString("- Clean composition with good contrast that works on mobile\n")
	return b.String()
}

var _ imagegen.Capability = (*Client)(nil)
