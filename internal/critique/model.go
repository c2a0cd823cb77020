// Package critique runs the bounded self-critique loop over a selected variation.
package critique

import (
	"time"

	"brandpost-backend/internal/llm"
	"brandpost-backend/internal/variations"
)

// DefaultMaxIterations bounds the loop when no limit is configured.
const DefaultMaxIterations = 10

// State is the loop's position in its state machine.
type State string

const (
	StateAwaitingFeedback State = "awaiting_feedback"
	StateCritiquing       State = "critiquing"
	StateRefining         State = "refining"
	StateTerminal         State = "terminal"
)

// TerminalReason says why a loop stopped.
type TerminalReason string

const (
	ReasonNone     TerminalReason = ""
	ReasonAccepted TerminalReason = "accepted"
	ReasonLimit    TerminalReason = "limit_reached"
)

// Critique is the structured review produced in the critiquing stage.
type Critique struct {
	Summary      string             `json:"summary"`
	Scores       map[string]float64 `json:"scores,omitempty"`
	Overall      float64            `json:"overall_score,omitempty"`
	PriorityFix  string             `json:"priority_fix,omitempty"`
	Strengths    []string           `json:"strengths,omitempty"`
	Weaknesses   []string           `json:"weaknesses,omitempty"`
	Improvements []string           `json:"specific_improvements,omitempty"`
}

// Record is one completed iteration: feedback in, critique out, new version produced.
type Record struct {
	TargetVariationID int                  `json:"target_variation_id"`
	Iteration         int                  `json:"iteration"`
	FeedbackInput     string               `json:"feedback_input"`
	QuickAction       string               `json:"quick_action,omitempty"`
	CritiqueSummary   string               `json:"critique_summary"`
	Critique          Critique             `json:"critique"`
	Resulting         variations.Variation `json:"resulting_variation"`
	CreatedAt         time.Time            `json:"created_at"`
}

// Clone returns a deep copy.
func (r Record) Clone() Record {
	r.Resulting = r.Resulting.Clone()
	r.Critique.Strengths = append([]string(nil), r.Critique.Strengths...)
	r.Critique.Weaknesses = append([]string(nil), r.Critique.Weaknesses...)
	r.Critique.Improvements = append([]string(nil), r.Critique.Improvements...)
	if r.Critique.Scores != nil {
		scores := make(map[string]float64, len(r.Critique.Scores))
		for k, v := range r.Critique.Scores {
			scores[k] = v
		}
		r.Critique.Scores = scores
	}
	return r
}

var scoreKeys = []string{
	"brand_consistency",
	"message_clarity",
	"cta_effectiveness",
	"text_readability",
	"platform_appropriateness",
	"engagement_potential",
}

func critiqueFromResult(res llm.Result) Critique {
	c := Critique{
		Summary:      res.String("summary"),
		PriorityFix:  res.String("priority_fix"),
		Strengths:    res.Strings("strengths"),
		Weaknesses:   res.Strings("weaknesses"),
		Improvements: res.Strings("specific_improvements"),
	}
	if c.Summary == "" {
		c.Summary = c.PriorityFix
	}
	if c.Summary == "" && len(res.Fields) == 0 {
		c.Summary = res.Text
	}
	if raw := res.Map("scores"); raw != nil {
		c.Scores = make(map[string]float64, len(scoreKeys))
		for _, key := range scoreKeys {
			if v, ok := llm.Number(raw[key]); ok {
				c.Scores[key] = v
			}
		}
	}
	if overall, ok := res.Float("overall_score"); ok {
		c.Overall = overall
	} else if len(c.Scores) > 0 {
		var sum float64
		for _, v := range c.Scores {
			sum += v
		}
		c.Overall = sum / float64(len(c.Scores))
	}
	return c
}
