// Package mock is a deterministic text capability for local runs and tests.
// It never calls an external model.
package mock

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"brandpost-backend/internal/llm"
)

// Capability answers every task kind from the payload alone.
type Capability struct{}

// Invoke implements llm.Capability.
func (Capability) Invoke(ctx context.Context, kind llm.TaskKind, payload llm.Payload) (llm.Result, error) {
	if err := ctx.Err(); err != nil {
		return llm.Result{}, &llm.CapabilityError{Kind: llm.FailureTimeout, Message: "context done", Err: err}
	}
	var fields map[string]any
	switch kind {
	case llm.TaskBrandExtraction:
		fields = extractBrand(toStrings(payload[llm.KeySources]))
	case llm.TaskVariationDraft:
		fields = draft(payload)
	case llm.TaskCritique:
		fields = critique(payload)
	case llm.TaskRefine:
		fields = refine(payload)
	default:
		return llm.Result{}, &llm.CapabilityError{Kind: llm.FailureMalformed, Message: fmt.Sprintf("unsupported task %q", kind)}
	}
	raw, err := json.Marshal(fields)
	if err != nil {
		return llm.Result{}, &llm.CapabilityError{Kind: llm.FailureMalformed, Message: "encode", Err: err}
	}
	return llm.Result{Text: string(raw), Fields: fields}, nil
}

func extractBrand(sources []string) map[string]any {
	joined := strings.Join(sources, "\n")
	lower := strings.ToLower(joined)

	tone := "professional"
	switch {
	case strings.Count(joined, "!") >= 3:
		tone = "playful"
	case strings.Contains(lower, "api") || strings.Contains(lower, "latency") || strings.Contains(lower, "benchmark"):
		tone = "technical"
	case strings.Contains(lower, "hey") || strings.Contains(lower, "folks"):
		tone = "casual"
	}

	return map[string]any{
		"voice_descriptors":  []string{"clear", "confident", "community-minded"},
		"tone":               tone,
		"vocabulary_signals": topWords(joined, 5),
		"emoji_usage":        emojiUsage(joined),
		"typical_ctas":       []string{"Learn more", "Join us"},
		"key_themes":         topWords(joined, 3),
		"primary_colors":     []string{"#1a73e8", "#34a853"},
		"target_audience":    "professionals following the brand",
	}
}

var directiveOpeners = map[string]string{
	"call_to_action": "Don't miss this:",
	"narrative":      "It started with a simple idea.",
	"data":           "By the numbers:",
}

func draft(payload llm.Payload) map[string]any {
	intent := strings.TrimSpace(fmt.Sprint(payload[llm.KeyIntent]))
	directive := fmt.Sprint(payload[llm.KeyDirective])
	name := directiveName(directive)
	opener, ok := directiveOpeners[name]
	if !ok {
		opener = "Here's the latest."
	}

	caption := fmt.Sprintf("%s %s.", opener, intent)
	switch name {
	case "call_to_action":
		caption += " Save your spot today and bring your team."
	case "narrative":
		caption += " We remember the first late night that turned into something real, and we want you in the next chapter."
	case "data":
		caption += " 48 hours, 3 tracks, one goal: ship something that matters."
	}
	for _, c := range toStrings(payload[llm.KeyConstraints]) {
		caption += " " + strings.TrimSpace(c) + "."
	}
	caption += elementsSentence(payload[llm.KeyElements])
	if avoid := toStrings(payload[llm.KeyAvoidCaptions]); len(avoid) > 0 {
		caption += fmt.Sprintf(" Take %d on a fresh angle.", len(avoid)+1)
	}

	return map[string]any{
		"caption":           caption,
		"overlay_text":      truncateWords(intent, 6),
		"hashtags":          hashtags(intent),
		"tone_label":        strings.ReplaceAll(name, "_", " "),
		"cta":               "Learn more",
		"hook":              opener,
		"image_description": "Bright editorial photo illustrating: " + intent,
	}
}

func critique(payload llm.Payload) map[string]any {
	feedback := strings.TrimSpace(fmt.Sprint(payload[llm.KeyFeedback]))
	variation := toMap(payload[llm.KeyVariation])
	caption, _ := variation["caption"].(string)
	return map[string]any{
		"summary":      fmt.Sprintf("Address the feedback: %s. The current caption has %d words.", feedback, len(strings.Fields(caption))),
		"priority_fix": feedback,
		"scores": map[string]any{
			"brand_consistency":        8,
			"message_clarity":          7,
			"cta_effectiveness":        6,
			"text_readability":         8,
			"platform_appropriateness": 8,
			"engagement_potential":     7,
		},
		"overall_score":         7.3,
		"strengths":             []string{"Clear message"},
		"weaknesses":            []string{"Could be more engaging"},
		"specific_improvements": []string{feedback},
	}
}

func refine(payload llm.Payload) map[string]any {
	variation := toMap(payload[llm.KeyVariation])
	feedback := strings.ToLower(fmt.Sprint(payload[llm.KeyFeedback]) + " " + fmt.Sprint(payload[llm.KeyCritiqueSummary]))
	caption, _ := variation["caption"].(string)
	cta, _ := variation["cta"].(string)

	switch {
	case strings.Contains(feedback, "shorter") || strings.Contains(feedback, "concise"):
		caption = shorten(caption)
	case strings.Contains(feedback, "formal"):
		caption = strings.NewReplacer("Don't", "Do not", "don't", "do not", "we're", "we are", "!", ".").Replace(caption)
	case strings.Contains(feedback, "casual"):
		caption = "Hey folks! " + caption
	case strings.Contains(feedback, "call-to-action") || strings.Contains(feedback, "cta"):
		cta = "Register now, seats are limited"
		caption = strings.TrimSpace(caption) + " " + cta + "."
	default:
		caption = strings.TrimSpace(caption) + " (revised)"
	}

	out := map[string]any{}
	for k, v := range variation {
		out[k] = v
	}
	out["caption"] = caption
	out["cta"] = cta
	out["improvements_made"] = "Applied feedback"
	return out
}

func directiveName(directive string) string {
	lower := strings.ToLower(directive)
	switch {
	case strings.Contains(lower, "action"):
		return "call_to_action"
	case strings.Contains(lower, "story") || strings.Contains(lower, "narrative"):
		return "narrative"
	case strings.Contains(lower, "data"):
		return "data"
	default:
		return lower
	}
}

func shorten(caption string) string {
	words := strings.Fields(caption)
	if len(words) <= 4 {
		return caption
	}
	keep := len(words) * 2 / 3
	return strings.TrimRight(strings.Join(words[:keep], " "), ",;:") + "."
}

func truncateWords(s string, n int) string {
	words := strings.Fields(s)
	if len(words) > n {
		words = words[:n]
	}
	return strings.Join(words, " ")
}

func hashtags(intent string) []string {
	var out []string
	for _, w := range strings.Fields(intent) {
		w = strings.TrimFunc(w, func(r rune) bool { return !unicode.IsLetter(r) && !unicode.IsDigit(r) })
		if len(w) < 4 {
			continue
		}
		out = append(out, strings.ToLower(w))
		if len(out) == 3 {
			break
		}
	}
	return out
}

func topWords(text string, n int) []string {
	counts := map[string]int{}
	for _, w := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool { return !unicode.IsLetter(r) }) {
		if len(w) >= 5 {
			counts[w]++
		}
	}
	words := make([]string, 0, len(counts))
	for w := range counts {
		words = append(words, w)
	}
	sort.Slice(words, func(i, j int) bool {
		if counts[words[i]] != counts[words[j]] {
			return counts[words[i]] > counts[words[j]]
		}
		return words[i] < words[j]
	})
	if len(words) > n {
		words = words[:n]
	}
	return words
}

func emojiUsage(text string) string {
	count := 0
	for _, r := range text {
		if r >= 0x1F300 {
			count++
		}
	}
	switch {
	case count == 0:
		return "none"
	case count < 3:
		return "minimal"
	default:
		return "moderate"
	}
}

func toStrings(v any) []string {
	switch list := v.(type) {
	case []string:
		return list
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func toMap(v any) map[string]any {
	if m, ok := v.(map[string]any); ok {
		return m
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return map[string]any{}
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil || out == nil {
		return map[string]any{}
	}
	return out
}

var _ llm.Capability = Capability{}

// elementsSentence mentions every element, keys in sorted order.
func elementsSentence(v any) string {
	elements := map[string][]string{}
	switch m := v.(type) {
	case map[string][]string:
		elements = m
	case map[string]any:
		for k, vals := range m {
			elements[k] = toStrings(vals)
		}
	}
	keys := make([]string, 0, len(elements))
	for k := range elements {
		if len(elements[k]) > 0 {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, " %s: %s.", strings.ReplaceAll(k, "_", " "), strings.Join(elements[k], ", "))
	}
	return b.String()
}
