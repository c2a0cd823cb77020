// Package variations drafts the three candidate posts for an intent.
package variations

import (
	"fmt"
	"strings"

	"brandpost-backend/internal/brand"
	"brandpost-backend/internal/shared/errs"
)

// BatchSize is the number of candidates produced per request.
const BatchSize = 3

// Platform is the target social network.
type Platform string

const (
	PlatformLinkedIn  Platform = "linkedin"
	PlatformInstagram Platform = "instagram"
	PlatformBoth      Platform = "both"
)

// ParsePlatform validates a platform name.
func ParsePlatform(raw string) (Platform, error) {
	switch p := Platform(strings.ToLower(strings.TrimSpace(raw))); p {
	case PlatformLinkedIn, PlatformInstagram, PlatformBoth:
		return p, nil
	default:
		return "", fmt.Errorf("%w: unknown platform %q", errs.ErrInvalidRequest, raw)
	}
}

// Variation is one candidate post at a given refinement version.
type Variation struct {
	ID               int      `json:"id"`
	Caption          string   `json:"caption"`
	Hashtags         []string `json:"hashtags"`
	ToneLabel        string   `json:"tone_label"`
	Version          int      `json:"version"`
	OverlayText      string   `json:"overlay_text,omitempty"`
	CTA              string   `json:"cta,omitempty"`
	Hook             string   `json:"hook,omitempty"`
	ImageDescription string   `json:"image_description,omitempty"`
	Approach         string   `json:"approach,omitempty"`
}

// Clone returns a deep copy.
func (v Variation) Clone() Variation {
	v.Hashtags = append([]string(nil), v.Hashtags...)
	return v
}

// Request is the input for one batch.
type Request struct {
	Intent      string
	Platform    Platform
	Constraints []string
	// Elements are facts every draft must mention, grouped by kind
	// (for example "speakers", "prizes", "event_details").
	Elements map[string][]string
	Profile  *brand.Profile
}

// CleanElements trims keys and values and drops empty entries. It returns nil when
// nothing is left.
func CleanElements(in map[string][]string) map[string][]string {
	var out map[string][]string
	for k, vals := range in {
		key := strings.ToLower(strings.TrimSpace(k))
		if key == "" {
			continue
		}
		for _, v := range vals {
			v = strings.TrimSpace(v)
			if v == "" {
				continue
			}
			if out == nil {
				out = make(map[string][]string)
			}
			out[key] = append(out[key], v)
		}
	}
	return out
}

// CloneElements returns a deep copy.
func CloneElements(in map[string][]string) map[string][]string {
	if in == nil {
		return nil
	}
	out := make(map[string][]string, len(in))
	for k, v := range in {
		out[k] = append([]string(nil), v...)
	}
	return out
}

// DuplicatePair reports two variations that stayed near-identical after the re-request.
type DuplicatePair struct {
	First      int     `json:"first"`
	Second     int     `json:"second"`
	Similarity float64 `json:"similarity"`
}

// Batch is a complete set of three variations in slot order.
type Batch struct {
	Variations []Variation     `json:"variations"`
	Duplicates []DuplicatePair `json:"duplicates,omitempty"`
}

// Clone returns a deep copy.
func (b Batch) Clone() Batch {
	out := Batch{Duplicates: append([]DuplicatePair(nil), b.Duplicates...)}
	for _, v := range b.Variations {
		out.Variations = append(out.Variations, v.Clone())
	}
	return out
}

// Find returns the variation with the given id.
func (b Batch) Find(id int) (Variation, bool) {
	for _, v := range b.Variations {
		if v.ID == id {
			return v, true
		}
	}
	return Variation{}, false
}

// BatchError carries the variations that did succeed when the batch ended short.
type BatchError struct {
	Partial  []Variation
	Failures []error
}

func (e *BatchError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, f.Error())
	}
	return fmt.Sprintf("%s: %d of %d variations produced: %s",
		errs.ErrVariationGenerationFailed.Error(), len(e.Partial), BatchSize, strings.Join(parts, "; "))
}

// Unwrap exposes the taxonomy sentinel and every slot failure.
func (e *BatchError) Unwrap() []error {
	return append([]error{errs.ErrVariationGenerationFailed}, e.Failures...)
}
