// Package sessions owns the multi-step workflow state: brand profile, variation batch,
// selection with its critique history, and the image needed for export.
package sessions

import (
	"time"

	"brandpost-backend/internal/brand"
	"brandpost-backend/internal/critique"
	"brandpost-backend/internal/export"
	"brandpost-backend/internal/imagegen"
	"brandpost-backend/internal/variations"
)

// Stage is a coarse, derived position in the workflow.
type Stage string

const (
	StageNew       Stage = "new"
	StageProfiled  Stage = "profiled"
	StageGenerated Stage = "generated"
	StageSelected  Stage = "selected"
	StageAccepted  Stage = "accepted"
)

// Session is the persisted session state. Repositories store it as one JSON document.
type Session struct {
	ID          string              `json:"id"`
	OwnerID     string              `json:"owner_id"`
	Profile     *brand.Profile      `json:"profile,omitempty"`
	Intent      string              `json:"intent,omitempty"`
	Platform    variations.Platform `json:"platform,omitempty"`
	Constraints []string            `json:"constraints,omitempty"`
	Elements    map[string][]string `json:"elements,omitempty"`
	Batch       *variations.Batch   `json:"batch,omitempty"`
	SelectedID  int                 `json:"selected_id,omitempty"`
	Records     []critique.Record   `json:"records,omitempty"`
	Accepted    bool                `json:"accepted,omitempty"`
	Image       *imagegen.Artifact  `json:"image,omitempty"`
	LastExport  *export.Receipt     `json:"last_export,omitempty"`
	CreatedAt   time.Time           `json:"created_at"`
	UpdatedAt   time.Time           `json:"updated_at"`
}

// Clone returns a deep copy.
func (s Session) Clone() Session {
	out := s
	out.Profile = s.Profile.Clone()
	out.Constraints = append([]string(nil), s.Constraints...)
	out.Elements = variations.CloneElements(s.Elements)
	if s.Batch != nil {
		b := s.Batch.Clone()
		out.Batch = &b
	}
	if s.Records != nil {
		out.Records = make([]critique.Record, len(s.Records))
		for i, r := range s.Records {
			out.Records[i] = r.Clone()
		}
	}
	if s.Image != nil {
		img := *s.Image
		img.Data = append([]byte(nil), s.Image.Data...)
		out.Image = &img
	}
	if s.LastExport != nil {
		rec := *s.LastExport
		rec.Keys = append([]string(nil), s.LastExport.Keys...)
		out.LastExport = &rec
	}
	return out
}

// Stage derives the workflow position from what the session holds.
func (s Session) Stage() Stage {
	switch {
	case s.SelectedID != 0 && s.Accepted:
		return StageAccepted
	case s.SelectedID != 0:
		return StageSelected
	case s.Batch != nil && len(s.Batch.Variations) > 0:
		return StageGenerated
	case s.Profile != nil:
		return StageProfiled
	default:
		return StageNew
	}
}

// Selected returns the originally selected variation from the batch.
func (s Session) Selected() (variations.Variation, bool) {
	if s.SelectedID == 0 || s.Batch == nil {
		return variations.Variation{}, false
	}
	return s.Batch.Find(s.SelectedID)
}

// Current returns the latest version of the selected variation.
func (s Session) Current() (variations.Variation, bool) {
	if n := len(s.Records); n > 0 {
		return s.Records[n-1].Resulting, true
	}
	return s.Selected()
}

// LoopView summarizes the critique loop of the selection.
type LoopView struct {
	State          critique.State          `json:"state"`
	TerminalReason critique.TerminalReason `json:"terminal_reason,omitempty"`
	Iterations     int                     `json:"iterations"`
	MaxIterations  int                     `json:"max_iterations"`
}

// View is the read model returned to callers.
type View struct {
	ID          string                     `json:"id"`
	Stage       Stage                      `json:"stage"`
	Profile     *brand.Profile             `json:"profile,omitempty"`
	Intent      string                     `json:"intent,omitempty"`
	Platform    variations.Platform        `json:"platform,omitempty"`
	Constraints []string                   `json:"constraints,omitempty"`
	Elements    map[string][]string        `json:"elements,omitempty"`
	Variations  []variations.Variation     `json:"variations"`
	Duplicates  []variations.DuplicatePair `json:"duplicates,omitempty"`
	SelectedID  int                        `json:"selected_id,omitempty"`
	Current     *variations.Variation      `json:"current,omitempty"`
	History     []critique.Record          `json:"history"`
	Loop        *LoopView                  `json:"loop,omitempty"`
	Image       *imagegen.Artifact         `json:"image,omitempty"`
	ExportReady bool                       `json:"export_ready"`
	LastExport  *export.Receipt            `json:"last_export,omitempty"`
	CreatedAt   time.Time                  `json:"created_at"`
	UpdatedAt   time.Time                  `json:"updated_at"`
}

// FeedbackResult is the outcome of one refine cycle. ImageRegenerated is set when the
// refined caption drifted far enough from the image's source caption to replace it.
type FeedbackResult struct {
	View             View            `json:"session"`
	Record           critique.Record `json:"record"`
	ImageRegenerated bool            `json:"image_regenerated"`
}

// FeedbackOutcome is delivered by SubmitFeedbackAsync.
type FeedbackOutcome struct {
	Result FeedbackResult
	Err    error
}

// GenerateInput is the caller's request for a new batch.
type GenerateInput struct {
	Intent      string              `json:"intent"`
	Platform    string              `json:"platform"`
	Constraints []string            `json:"constraints"`
	Elements    map[string][]string `json:"elements"`
}

func buildView(s Session, loop *LoopView) View {
	v := View{
		ID:          s.ID,
		Stage:       s.Stage(),
		Profile:     s.Profile.Clone(),
		Intent:      s.Intent,
		Platform:    s.Platform,
		Constraints: append([]string(nil), s.Constraints...),
		Elements:    variations.CloneElements(s.Elements),
		Variations:  []variations.Variation{},
		SelectedID:  s.SelectedID,
		History:     []critique.Record{},
		Loop:        loop,
		ExportReady: s.SelectedID != 0 && s.Image != nil,
		CreatedAt:   s.CreatedAt,
		UpdatedAt:   s.UpdatedAt,
	}
	if s.Batch != nil {
		b := s.Batch.Clone()
		v.Variations = b.Variations
		v.Duplicates = b.Duplicates
	}
	if cur, ok := s.Current(); ok {
		c := cur.Clone()
		v.Current = &c
	}
	for _, r := range s.Records {
		v.History = append(v.History, r.Clone())
	}
	if s.Image != nil {
		img := *s.Image
		img.Data = nil
		v.Image = &img
	}
	if s.LastExport != nil {
		rec := *s.LastExport
		v.LastExport = &rec
	}
	return v
}
