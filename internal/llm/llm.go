// Package llm is the text generation gateway: a uniform way to ask a text
// capability for brand extraction, variation drafts, critiques and refinements.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// TaskKind selects what the capability is asked to produce.
type TaskKind string

const (
	TaskBrandExtraction TaskKind = "brand_extraction"
	TaskVariationDraft  TaskKind = "variation_draft"
	TaskCritique        TaskKind = "critique"
	TaskRefine          TaskKind = "refine"
)

// Payload keys understood by the capabilities.
const (
	KeySources         = "sources"
	KeyIntent          = "intent"
	KeyPlatform        = "platform"
	KeyPlatformSpec    = "platform_spec"
	KeyBrandProfile    = "brand_profile"
	KeyDirective       = "directive"
	KeyConstraints     = "constraints"
	KeyElements        = "elements"
	KeyAvoidCaptions   = "avoid_captions"
	KeyVariation       = "variation"
	KeyFeedback        = "feedback"
	KeyCritiqueSummary = "critique_summary"
	KeyCritique        = "critique"
)

var requiredFields = map[TaskKind][]string{
	TaskBrandExtraction: {KeySources},
	TaskVariationDraft:  {KeyIntent, KeyPlatform, KeyBrandProfile, KeyDirective},
	TaskCritique:        {KeyVariation, KeyFeedback, KeyBrandProfile, KeyPlatform},
	TaskRefine:          {KeyVariation, KeyCritiqueSummary, KeyBrandProfile, KeyPlatform},
}

// Valid reports whether k is one of the four supported task kinds.
func (k TaskKind) Valid() bool {
	_, ok := requiredFields[k]
	return ok
}

// Payload is the structured request body for one task.
type Payload map[string]any

// Result is a normalized capability response.
type Result struct {
	Text   string
	Fields map[string]any
}

// Capability is the text generation backend (OpenAI, mock, ...).
type Capability interface {
	Invoke(ctx context.Context, kind TaskKind, payload Payload) (Result, error)
}

// FailureKind classifies a capability error.
type FailureKind string

const (
	FailureTransport FailureKind = "transport"
	FailureQuota     FailureKind = "quota"
	FailureTimeout   FailureKind = "timeout"
	FailureRejected  FailureKind = "rejected"
	FailureMalformed FailureKind = "malformed"
)

// CapabilityError is the error shape capabilities return.
type CapabilityError struct {
	Kind    FailureKind
	Message string
	Err     error
}

func (e *CapabilityError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *CapabilityError) Unwrap() error { return e.Err }

// ErrNotConfigured is returned when no capability is wired.
var ErrNotConfigured = errors.New("text capability not configured")

// String returns a trimmed string field.
func (r Result) String(key string) string {
	if r.Fields == nil {
		return ""
	}
	switch v := r.Fields[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case fmt.Stringer:
		return strings.TrimSpace(v.String())
	default:
		return ""
	}
}

// Strings returns a string list field, dropping blanks.
func (r Result) Strings(key string) []string {
	if r.Fields == nil {
		return nil
	}
	var out []string
	switch v := r.Fields[key].(type) {
	case []string:
		for _, s := range v {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				if s = strings.TrimSpace(s); s != "" {
					out = append(out, s)
				}
			}
		}
	case string:
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}

// Float returns a numeric field.
func (r Result) Float(key string) (float64, bool) {
	if r.Fields == nil {
		return 0, false
	}
	return Number(r.Fields[key])
}

// Map returns a nested object field.
func (r Result) Map(key string) map[string]any {
	if r.Fields == nil {
		return nil
	}
	m, _ := r.Fields[key].(map[string]any)
	return m
}

// Number converts a decoded JSON number to float64.
func Number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
