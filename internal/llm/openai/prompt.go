package openai

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"text/template"

	"brandpost-backend/internal/llm"
)

//go:embed prompts/*.tmpl
var promptFS embed.FS

// Message represents an OpenAI chat message.
type Message struct {
	Role    string
	Content string
}

var systemPrompts = map[llm.TaskKind]string{
	llm.TaskBrandExtraction: "You are a brand analysis expert. Always respond with valid JSON only.",
	llm.TaskVariationDraft:  "You are a social media content expert. Always respond with valid JSON only.",
	llm.TaskCritique:        "You are a brand review expert. Always respond with valid JSON only.",
	llm.TaskRefine:          "You are a social media improvement expert. Always respond with valid JSON only.",
}

var temperatures = map[llm.TaskKind]float64{
	llm.TaskBrandExtraction: 0.7,
	llm.TaskVariationDraft:  0.8,
	llm.TaskCritique:        0.7,
	llm.TaskRefine:          0.7,
}

var templates = template.Must(template.New("prompts").Funcs(template.FuncMap{
	"json": func(v any) string {
		raw, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(raw)
	},
	"inc": func(i int) int { return i + 1 },
}).ParseFS(promptFS, "prompts/*.tmpl"))

type promptData struct {
	Sources         []string
	Intent          string
	Platform        string
	PlatformSpec    any
	BrandProfile    any
	Directive       string
	Constraints     []string
	Elements        any
	AvoidCaptions   []string
	Variation       any
	Feedback        string
	CritiqueSummary string
	Critique        any
}

// BuildPrompt renders the chat messages for one task.
func BuildPrompt(kind llm.TaskKind, payload llm.Payload) ([]Message, error) {
	system, ok := systemPrompts[kind]
	if !ok {
		return nil, fmt.Errorf("no prompt for task %q", kind)
	}
	data := promptData{
		Sources:         stringList(payload[llm.KeySources]),
		Intent:          stringValue(payload[llm.KeyIntent]),
		Platform:        stringValue(payload[llm.KeyPlatform]),
		PlatformSpec:    payload[llm.KeyPlatformSpec],
		BrandProfile:    payload[llm.KeyBrandProfile],
		Directive:       stringValue(payload[llm.KeyDirective]),
		Constraints:     stringList(payload[llm.KeyConstraints]),
		Elements:        payload[llm.KeyElements],
		AvoidCaptions:   stringList(payload[llm.KeyAvoidCaptions]),
		Variation:       payload[llm.KeyVariation],
		Feedback:        stringValue(payload[llm.KeyFeedback]),
		CritiqueSummary: stringValue(payload[llm.KeyCritiqueSummary]),
		Critique:        payload[llm.KeyCritique],
	}

	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, string(kind)+".tmpl", data); err != nil {
		return nil, fmt.Errorf("render %s prompt: %w", kind, err)
	}
	return []Message{
		{Role: "system", Content: system},
		{Role: "user", Content: buf.String()},
	}, nil
}

func stringValue(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case fmt.Stringer:
		return s.String()
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", s)
	}
}

func stringList(v any) []string {
	switch list := v.(type) {
	case []string:
		return list
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			out = append(out, stringValue(item))
		}
		return out
	default:
		return nil
	}
}
