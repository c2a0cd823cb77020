package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"brandpost-backend/internal/llm"
	"brandpost-backend/internal/shared/telemetry"
)

// Client implements llm.Capability using OpenAI Chat Completions in JSON mode.
type Client struct {
	model  string
	client openai.Client
}

// NewClient constructs a new OpenAI text capability.
// Retries are disabled at the SDK level; the calling components own retry policy.
func NewClient(apiKey, model, baseURL string, timeout time.Duration) (*Client, error) {
	if strings.TrimSpace(model) == "" {
		return nil, fmt.Errorf("LLM_MODEL is required for OpenAI")
	}
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is required")
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

// Invoke renders the task prompt, calls the model and decodes the JSON object it returns.
func (c *Client) Invoke(ctx context.Context, kind llm.TaskKind, payload llm.Payload) (llm.Result, error) {
	messages, err := BuildPrompt(kind, payload)
	if err != nil {
		return llm.Result{}, &llm.CapabilityError{Kind: llm.FailureMalformed, Message: "build prompt", Err: err}
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(c.model),
		Messages: toParams(messages),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		},
	}
	if !isGPT5(c.model) {
		params.Temperature = openai.Float(temperatures[kind])
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return llm.Result{}, classifyError(err)
	}
	logUsage(c.model, kind, resp)

	if len(resp.Choices) == 0 {
		return llm.Result{}, &llm.CapabilityError{Kind: llm.FailureMalformed, Message: "openai response missing choices"}
	}
	choice := resp.Choices[0]
	if choice.FinishReason == "content_filter" {
		return llm.Result{}, &llm.CapabilityError{Kind: llm.FailureRejected, Message: "content filtered"}
	}
	if refusal := strings.TrimSpace(choice.Message.Refusal); refusal != "" {
		return llm.Result{}, &llm.CapabilityError{Kind: llm.FailureRejected, Message: refusal}
	}

	content := strings.TrimSpace(choice.Message.Content)
	if content == "" {
		return llm.Result{}, &llm.CapabilityError{Kind: llm.FailureMalformed, Message: "openai response empty content"}
	}
	var fields map[string]any
	if err := json.Unmarshal([]byte(content), &fields); err != nil {
		return llm.Result{}, &llm.CapabilityError{Kind: llm.FailureMalformed, Message: "invalid JSON from OpenAI", Err: err}
	}
	return llm.Result{Text: content, Fields: fields}, nil
}

func toParams(messages []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case "system":
			out = append(out, openai.SystemMessage(m.Content))
		case "assistant":
			out = append(out, openai.ChatCompletionMessageParamOfAssistant(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}

// classifyError maps SDK errors onto capability failure kinds.
// 408, 409, 429 and 5xx are transient; other 4xx are rejections.
func classifyError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusTooManyRequests:
			return &llm.CapabilityError{Kind: llm.FailureQuota, Message: fmt.Sprintf("openai http status %d", apiErr.StatusCode), Err: err}
		case apiErr.StatusCode == http.StatusRequestTimeout || apiErr.StatusCode == http.StatusConflict:
			return &llm.CapabilityError{Kind: llm.FailureTimeout, Message: fmt.Sprintf("openai http status %d", apiErr.StatusCode), Err: err}
		case apiErr.StatusCode >= 500:
			return &llm.CapabilityError{Kind: llm.FailureTransport, Message: fmt.Sprintf("openai http status %d", apiErr.StatusCode), Err: err}
		default:
			return &llm.CapabilityError{Kind: llm.FailureRejected, Message: fmt.Sprintf("openai http status %d: %s", apiErr.StatusCode, apiErr.Message), Err: err}
		}
	}
	if errors.Is(err, context.DeadlineExceeded) || strings.Contains(err.Error(), "Client.Timeout") {
		return &llm.CapabilityError{Kind: llm.FailureTimeout, Message: "openai request timeout", Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.Canceled) {
		return &llm.CapabilityError{Kind: llm.FailureTransport, Message: "openai transport", Err: err}
	}
	return &llm.CapabilityError{Kind: llm.FailureTransport, Message: "openai request failed", Err: err}
}

func logUsage(model string, kind llm.TaskKind, resp *openai.ChatCompletion) {
	if resp == nil {
		return
	}
	telemetry.Info("llm.response", map[string]any{
		"model":             model,
		"task_kind":         string(kind),
		"prompt_tokens":     resp.Usage.PromptTokens,
		"completion_tokens": resp.Usage.CompletionTokens,
		"total_tokens":      resp.Usage.TotalTokens,
	})
}

func isGPT5(model string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(model)), "gpt-5")
}

var _ llm.Capability = (*Client)(nil)
