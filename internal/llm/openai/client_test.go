package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"brandpost-backend/internal/llm"
)

func TestIsGPT5(t *testing.T) {
	tests := []struct {
		name  string
		model string
		want  bool
	}{
		{name: "gpt5", model: "gpt-5", want: true},
		{name: "gpt5 variant", model: "gpt-5-mini", want: true},
		{name: "gpt5 uppercase", model: " GPT-5o ", want: true},
		{name: "gpt4", model: "gpt-4o", want: false},
		{name: "empty", model: "", want: false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if got := isGPT5(tt.model); got != tt.want {
				t.Fatalf("isGPT5(%q) = %v, want %v", tt.model, got, tt.want)
			}
		})
	}
}

func draftPayload() llm.Payload {
	return llm.Payload{
		llm.KeyIntent:       "Announce hackathon",
		llm.KeyPlatform:     "linkedin",
		llm.KeyBrandProfile: map[string]any{"tone": "professional"},
		llm.KeyDirective:    "More storytelling",
		llm.KeyConstraints:  []string{"mention March 3"},
	}
}

type recordedRequest struct {
	mu   sync.Mutex
	body map[string]any
}

func newServer(t *testing.T, status int, response string, rec *recordedRequest) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		var payload map[string]any
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if rec != nil {
			rec.mu.Lock()
			rec.body = payload
			rec.mu.Unlock()
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(response))
	}))
	t.Cleanup(server.Close)
	return server
}

func TestInvokeDecodesJSONObject(t *testing.T) {
	rec := &recordedRequest{}
	server := newServer(t, http.StatusOK, `{"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"{\"caption\":\"Join us\",\"hashtags\":[\"hack\"]}"}}],"usage":{"prompt_tokens":10,"completion_tokens":5,"total_tokens":15}}`, rec)

	client, err := NewClient("test-key", "gpt-4o-mini", server.URL+"/", 5*time.Second)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	res, err := client.Invoke(context.Background(), llm.TaskVariationDraft, draftPayload())
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if res.String("caption") != "Join us" {
		t.Fatalf("unexpected caption %q", res.String("caption"))
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if _, ok := rec.body["temperature"]; !ok {
		t.Fatalf("expected temperature for non gpt-5 model")
	}
	format, _ := rec.body["response_format"].(map[string]any)
	if format["type"] != "json_object" {
		t.Fatalf("expected json_object response format, got %v", rec.body["response_format"])
	}
	msgs, _ := rec.body["messages"].([]any)
	if len(msgs) != 2 {
		t.Fatalf("expected system + user messages, got %d", len(msgs))
	}
	user, _ := msgs[1].(map[string]any)
	content, _ := user["content"].(string)
	if !strings.Contains(content, "Announce hackathon") || !strings.Contains(content, "mention March 3") {
		t.Fatalf("user prompt missing intent or constraints: %s", content)
	}
}

func TestInvokeOmitsTemperatureForGPT5(t *testing.T) {
	rec := &recordedRequest{}
	server := newServer(t, http.StatusOK, `{"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"{}"}}]}`, rec)

	client, err := NewClient("test-key", "gpt-5-mini", server.URL+"/", 5*time.Second)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	_, _ = client.Invoke(context.Background(), llm.TaskVariationDraft, draftPayload())

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if _, ok := rec.body["temperature"]; ok {
		t.Fatalf("expected temperature to be omitted for gpt-5 models")
	}
}

func TestInvokeClassifiesHTTPFailures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   llm.FailureKind
	}{
		{name: "rate limited", status: http.StatusTooManyRequests, want: llm.FailureQuota},
		{name: "server error", status: http.StatusInternalServerError, want: llm.FailureTransport},
		{name: "bad request", status: http.StatusBadRequest, want: llm.FailureRejected},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			server := newServer(t, tt.status, `{"error":{"message":"nope","type":"test"}}`, nil)
			client, err := NewClient("test-key", "gpt-4o-mini", server.URL+"/", 5*time.Second)
			if err != nil {
				t.Fatalf("NewClient: %v", err)
			}
			_, err = client.Invoke(context.Background(), llm.TaskVariationDraft, draftPayload())
			var capErr *llm.CapabilityError
			if !errors.As(err, &capErr) {
				t.Fatalf("expected capability error, got %v", err)
			}
			if capErr.Kind != tt.want {
				t.Fatalf("kind = %s, want %s", capErr.Kind, tt.want)
			}
		})
	}
}

func TestInvokeMalformedContent(t *testing.T) {
	server := newServer(t, http.StatusOK, `{"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"not json"}}]}`, nil)
	client, err := NewClient("test-key", "gpt-4o-mini", server.URL+"/", 5*time.Second)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	_, err = client.Invoke(context.Background(), llm.TaskVariationDraft, draftPayload())
	var capErr *llm.CapabilityError
	if !errors.As(err, &capErr) || capErr.Kind != llm.FailureMalformed {
		t.Fatalf("expected malformed failure, got %v", err)
	}
}

func TestBuildPromptPerTask(t *testing.T) {
	payloads := map[llm.TaskKind]llm.Payload{
		llm.TaskBrandExtraction: {llm.KeySources: []string{"post one", "post two"}},
		llm.TaskVariationDraft:  draftPayload(),
		llm.TaskCritique: {
			llm.KeyVariation:    map[string]any{"caption": "hi"},
			llm.KeyFeedback:     "Make the caption shorter",
			llm.KeyBrandProfile: map[string]any{"tone": "casual"},
			llm.KeyPlatform:     "instagram",
		},
		llm.TaskRefine: {
			llm.KeyVariation:       map[string]any{"caption": "hi"},
			llm.KeyCritiqueSummary: "Too long",
			llm.KeyBrandProfile:    map[string]any{"tone": "casual"},
			llm.KeyPlatform:        "instagram",
		},
	}
	for kind, payload := range payloads {
		msgs, err := BuildPrompt(kind, payload)
		if err != nil {
			t.Fatalf("BuildPrompt(%s): %v", kind, err)
		}
		if len(msgs) != 2 || msgs[0].Role != "system" || strings.TrimSpace(msgs[1].Content) == "" {
			t.Fatalf("unexpected messages for %s: %+v", kind, msgs)
		}
	}

	draft := draftPayload()
	draft[llm.KeyElements] = map[string][]string{"speakers": {"Ada Lovelace"}}
	msgs, _ := BuildPrompt(llm.TaskVariationDraft, draft)
	if !strings.Contains(msgs[1].Content, "ELEMENTS TO INCLUDE") || !strings.Contains(msgs[1].Content, "Ada Lovelace") {
		t.Fatalf("expected elements section, got %s", msgs[1].Content)
	}
	msgs, _ = BuildPrompt(llm.TaskVariationDraft, draftPayload())
	if strings.Contains(msgs[1].Content, "ELEMENTS TO INCLUDE") {
		t.Fatalf("elements section must be omitted when empty")
	}

	msgs, _ = BuildPrompt(llm.TaskBrandExtraction, payloads[llm.TaskBrandExtraction])
	if !strings.Contains(msgs[1].Content, "excerpt 2") {
		t.Fatalf("expected numbered excerpts, got %s", msgs[1].Content)
	}
}
