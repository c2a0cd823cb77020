package critique

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"brandpost-backend/internal/brand"
	"brandpost-backend/internal/catalog"
	"brandpost-backend/internal/llm"
	"brandpost-backend/internal/shared/errs"
	"brandpost-backend/internal/shared/metrics"
	"brandpost-backend/internal/shared/telemetry"
	"brandpost-backend/internal/variations"
)

// Deps are the collaborators shared by every loop.
type Deps struct {
	Generator     llm.Generator
	Catalog       *catalog.Catalog
	MaxIterations int
	Backoff       time.Duration
	Now           func() time.Time
}

func (d Deps) withDefaults() Deps {
	if d.MaxIterations <= 0 {
		d.MaxIterations = DefaultMaxIterations
	}
	if d.Backoff < 0 {
		d.Backoff = llm.DefaultRetryBackoff
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return d
}

// Loop is the critique/refine state machine for one selected variation.
// A record is appended only when both the critique and the refine succeed.
type Loop struct {
	deps     Deps
	profile  *brand.Profile
	platform variations.Platform
	spec     catalog.PlatformSpec

	mu       sync.Mutex
	state    State
	reason   TerminalReason
	selected variations.Variation
	current  variations.Variation
	records  []Record
}

// NewLoop starts a loop in AwaitingFeedback over the selected variation.
func NewLoop(deps Deps, selected variations.Variation, profile *brand.Profile, platform variations.Platform) (*Loop, error) {
	deps = deps.withDefaults()
	if profile == nil {
		return nil, errs.Transition("start_critique", "a brand profile")
	}
	if deps.Catalog == nil {
		return nil, fmt.Errorf("critique loop requires a catalog")
	}
	spec, ok := deps.Catalog.Platform(string(platform))
	if !ok {
		return nil, fmt.Errorf("%w: no platform spec for %q", errs.ErrInvalidRequest, platform)
	}
	return &Loop{
		deps:     deps,
		profile:  profile,
		platform: platform,
		spec:     spec,
		state:    StateAwaitingFeedback,
		selected: selected.Clone(),
		current:  selected.Clone(),
	}, nil
}

// Restore rebuilds a loop from persisted records.
func Restore(deps Deps, selected variations.Variation, profile *brand.Profile, platform variations.Platform, records []Record, accepted bool) (*Loop, error) {
	l, err := NewLoop(deps, selected, profile, platform)
	if err != nil {
		return nil, err
	}
	prevVersion := selected.Version
	for i, rec := range records {
		if rec.Iteration != i+1 {
			return nil, fmt.Errorf("restore critique loop: record %d has iteration %d", i, rec.Iteration)
		}
		if rec.TargetVariationID != selected.ID {
			return nil, fmt.Errorf("restore critique loop: record %d targets variation %d, want %d", i, rec.TargetVariationID, selected.ID)
		}
		if rec.Resulting.Version != prevVersion+1 {
			return nil, fmt.Errorf("restore critique loop: record %d has version %d after %d", i, rec.Resulting.Version, prevVersion)
		}
		prevVersion = rec.Resulting.Version
		l.records = append(l.records, rec.Clone())
	}
	if n := len(l.records); n > 0 {
		l.current = l.records[n-1].Resulting.Clone()
	}
	switch {
	case accepted:
		l.state, l.reason = StateTerminal, ReasonAccepted
	case len(l.records) >= l.deps.MaxIterations:
		l.state, l.reason = StateTerminal, ReasonLimit
	}
	return l, nil
}

// Submit runs one critique and refine cycle for the given feedback.
// On any failure the loop returns to AwaitingFeedback with the history untouched.
func (l *Loop) Submit(ctx context.Context, feedback string) (Record, error) {
	instruction, quickAction := l.deps.Catalog.ResolveFeedback(feedback)
	if instruction == "" {
		return Record{}, &errs.StageError{Stage: "critique_loop", VariationID: l.selected.ID, Reason: "feedback is required", Err: errs.ErrInvalidRequest}
	}

	iteration, current, err := l.begin()
	if err != nil {
		return Record{}, err
	}
	fields := map[string]any{
		"stage":        "critique_loop",
		"variation_id": l.selected.ID,
		"iteration":    iteration,
	}
	gen := llm.NewRetrying(l.deps.Generator, l.deps.Backoff).With(fields)

	critiqueRes, err := gen.Generate(ctx, llm.TaskCritique, llm.Payload{
		llm.KeyVariation:    current,
		llm.KeyFeedback:     instruction,
		llm.KeyBrandProfile: l.profile,
		llm.KeyPlatform:     string(l.platform),
		llm.KeyPlatformSpec: l.spec,
	})
	if err != nil {
		return Record{}, l.fail(llm.TaskCritique, iteration, err, "")
	}
	review := critiqueFromResult(critiqueRes)
	if strings.TrimSpace(review.Summary) == "" {
		return Record{}, l.fail(llm.TaskCritique, iteration, errs.ErrGenerationRejected, "critique carried no summary")
	}

	l.advance(StateRefining)
	refineRes, err := gen.Generate(ctx, llm.TaskRefine, llm.Payload{
		llm.KeyVariation:       current,
		llm.KeyCritiqueSummary: review.Summary,
		llm.KeyCritique:        review,
		llm.KeyFeedback:        instruction,
		llm.KeyBrandProfile:    l.profile,
		llm.KeyPlatform:        string(l.platform),
		llm.KeyPlatformSpec:    l.spec,
	})
	if err != nil {
		return Record{}, l.fail(llm.TaskRefine, iteration, err, "")
	}
	next, ok := variations.FromResult(refineRes, l.spec, current)
	if !ok {
		return Record{}, l.fail(llm.TaskRefine, iteration, errs.ErrGenerationRejected, "refine carried no caption")
	}
	next.ID = current.ID
	next.Version = current.Version + 1

	// An abandoned call must not leave a half-written iteration behind.
	if ctx.Err() != nil {
		return Record{}, l.fail(llm.TaskRefine, iteration, errs.ErrGenerationUnavailable, ctx.Err().Error())
	}

	rec := Record{
		TargetVariationID: l.selected.ID,
		Iteration:         iteration,
		FeedbackInput:     strings.TrimSpace(feedback),
		QuickAction:       quickAction,
		CritiqueSummary:   review.Summary,
		Critique:          review,
		Resulting:         next,
		CreatedAt:         l.deps.Now().UTC(),
	}
	l.commit(rec)

	metrics.IncRefineIteration()
	telemetry.Info("critique.iteration.completed", map[string]any{
		"variation_id": rec.TargetVariationID,
		"iteration":    rec.Iteration,
		"version":      rec.Resulting.Version,
		"quick_action": quickAction,
		"state":        string(l.State()),
	})
	return rec.Clone(), nil
}

// begin moves AwaitingFeedback to Critiquing and reserves the next iteration number.
func (l *Loop) begin() (int, variations.Variation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	iteration := len(l.records) + 1
	switch l.state {
	case StateAwaitingFeedback:
	case StateTerminal:
		if l.reason == ReasonLimit {
			return 0, variations.Variation{}, &errs.StageError{
				Stage:       "critique_loop",
				VariationID: l.selected.ID,
				Iteration:   iteration,
				Reason:      fmt.Sprintf("maximum of %d iterations reached", l.deps.MaxIterations),
				Err:         errs.ErrRefinementLimitReached,
			}
		}
		return 0, variations.Variation{}, errs.Transition("submit_feedback", "a critique loop that has not been accepted")
	default:
		return 0, variations.Variation{}, errs.Transition("submit_feedback", "no refinement already in progress")
	}
	if iteration > l.deps.MaxIterations {
		l.state, l.reason = StateTerminal, ReasonLimit
		return 0, variations.Variation{}, &errs.StageError{
			Stage:       "critique_loop",
			VariationID: l.selected.ID,
			Iteration:   iteration,
			Err:         errs.ErrRefinementLimitReached,
		}
	}
	l.state = StateCritiquing
	return iteration, l.current.Clone(), nil
}

func (l *Loop) advance(s State) {
	l.mu.Lock()
	l.state = s
	l.mu.Unlock()
}

func (l *Loop) fail(kind llm.TaskKind, iteration int, cause error, reason string) error {
	l.mu.Lock()
	l.state = StateAwaitingFeedback
	l.mu.Unlock()

	metrics.IncRefineFailure()
	err := &errs.StageError{
		Stage:       "critique_loop",
		TaskKind:    string(kind),
		VariationID: l.selected.ID,
		Iteration:   iteration,
		Reason:      reason,
		Err:         cause,
	}
	telemetry.Warn("critique.iteration.failed", map[string]any{
		"variation_id": l.selected.ID,
		"iteration":    iteration,
		"task_kind":    string(kind),
		"recoverable":  errs.Recoverable(err),
		"error":        err,
	})
	return err
}

func (l *Loop) commit(rec Record) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, rec.Clone())
	l.current = rec.Resulting.Clone()
	if len(l.records) >= l.deps.MaxIterations {
		l.state, l.reason = StateTerminal, ReasonLimit
		return
	}
	l.state = StateAwaitingFeedback
}

// Accept ends the loop keeping the current version.
func (l *Loop) Accept() (variations.Variation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	switch {
	case l.state == StateCritiquing || l.state == StateRefining:
		return variations.Variation{}, errs.Transition("accept", "no refinement in progress")
	case l.state == StateTerminal && l.reason == ReasonAccepted:
		return variations.Variation{}, errs.Transition("accept", "a critique loop that has not been accepted")
	}
	l.state, l.reason = StateTerminal, ReasonAccepted
	return l.current.Clone(), nil
}

// State returns the current state.
func (l *Loop) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// TerminalReason returns why the loop stopped, if it did.
func (l *Loop) TerminalReason() TerminalReason {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.reason
}

// Accepted reports whether the user accepted the current version.
func (l *Loop) Accepted() bool {
	return l.TerminalReason() == ReasonAccepted
}

// Current returns the latest successful version.
func (l *Loop) Current() variations.Variation {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current.Clone()
}

// Selected returns the version the loop started from.
func (l *Loop) Selected() variations.Variation {
	return l.selected.Clone()
}

// History returns a copy of the appended records.
func (l *Loop) History() []Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Record, len(l.records))
	for i, r := range l.records {
		out[i] = r.Clone()
	}
	return out
}

// MaxIterations returns the configured limit.
func (l *Loop) MaxIterations() int { return l.deps.MaxIterations }
