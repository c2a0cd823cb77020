package openai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"brandpost-backend/internal/imagegen"
)

func TestInvokeDecodesBase64Image(t *testing.T) {
	png := []byte{0x89, 'P', 'N', 'G'}
	var gotSize string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode: %v", err)
		}
		gotSize, _ = body["size"].(string)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"created":1,"data":[{"b64_json":"` + base64.StdEncoding.EncodeToString(png) + `"}]}`))
	}))
	defer server.Close()

	client, err := NewClient("key", "dall-e-3", server.URL+"/", 5*time.Second)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	out, err := client.Invoke(context.Background(), imagegen.Request{Caption: "hi", Hint: "city skyline", Platform: "linkedin"}, 1792, 1024)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if string(out.Data) != string(png) {
		t.Fatalf("unexpected bytes %v", out.Data)
	}
	if gotSize != "1792x1024" {
		t.Fatalf("unexpected size %q", gotSize)
	}
}

func TestInvokeSurfacesHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"unsafe content","type":"invalid_request_error"}}`))
	}))
	defer server.Close()

	client, err := NewClient("key", "dall-e-3", server.URL+"/", 5*time.Second)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	_, err = client.Invoke(context.Background(), imagegen.Request{Caption: "hi", Hint: "x"}, 1024, 1024)
	if err == nil || !strings.Contains(err.Error(), "400") {
		t.Fatalf("expected status error, got %v", err)
	}
}

func TestBuildPromptIncludesColorsAndHint(t *testing.T) {
	prompt := BuildPrompt(imagegen.Request{Hint: "hackathon crowd", Colors: []string{"#1a73e8"}, Platform: "instagram"})
	for _, want := range []string{"hackathon crowd", "#1a73e8", "instagram", "No text"} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("prompt missing %q: %s", want, prompt)
		}
	}
}
