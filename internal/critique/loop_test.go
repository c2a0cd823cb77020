package critique

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"brandpost-backend/internal/brand"
	"brandpost-backend/internal/catalog"
	"brandpost-backend/internal/llm"
	"brandpost-backend/internal/llm/mock"
	"brandpost-backend/internal/shared/errs"
	"brandpost-backend/internal/variations"
)

// scriptedGen fails calls of a task kind according to a queue and delegates the rest to the mock.
type scriptedGen struct {
	mu       sync.Mutex
	failures map[llm.TaskKind][]error
	calls    map[llm.TaskKind]int
	block    chan struct{}
	entered  chan struct{}
}

func newScriptedGen() *scriptedGen {
	return &scriptedGen{failures: map[llm.TaskKind][]error{}, calls: map[llm.TaskKind]int{}}
}

func (s *scriptedGen) Generate(ctx context.Context, kind llm.TaskKind, payload llm.Payload) (llm.Result, error) {
	s.mu.Lock()
	n := s.calls[kind]
	s.calls[kind]++
	var failure error
	if q := s.failures[kind]; n < len(q) {
		failure = q[n]
	}
	block := s.block
	entered := s.entered
	s.mu.Unlock()

	if block != nil && kind == llm.TaskCritique {
		if entered != nil {
			entered <- struct{}{}
		}
		<-block
	}
	if failure != nil {
		return llm.Result{}, failure
	}
	return llm.NewGateway(mock.Capability{}).Generate(ctx, kind, payload)
}

func testDeps(t *testing.T, gen llm.Generator, max int) Deps {
	t.Helper()
	cat, err := catalog.Default()
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	return Deps{
		Generator:     gen,
		Catalog:       cat,
		MaxIterations: max,
		Backoff:       0,
		Now:           func() time.Time { return time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC) },
	}
}

func selected() variations.Variation {
	return variations.Variation{
		ID:        2,
		Caption:   "It started with a simple idea. Announce hackathon. We remember the first late night that turned into something real, and we want you in the next chapter.",
		Hashtags:  []string{"hackathon"},
		ToneLabel: "narrative",
		Version:   1,
	}
}

func profile() *brand.Profile {
	return brand.Default(3, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
}

func newLoop(t *testing.T, gen llm.Generator, max int) *Loop {
	t.Helper()
	l, err := NewLoop(testDeps(t, gen, max), selected(), profile(), variations.PlatformLinkedIn)
	if err != nil {
		t.Fatalf("new loop: %v", err)
	}
	return l
}

func TestScenarioShorterTwiceThenAccept(t *testing.T) {
	l := newLoop(t, newScriptedGen(), DefaultMaxIterations)
	if l.State() != StateAwaitingFeedback {
		t.Fatalf("initial state %q", l.State())
	}

	first, err := l.Submit(context.Background(), "shorter")
	if err != nil {
		t.Fatalf("submit 1: %v", err)
	}
	if first.Iteration != 1 || first.Resulting.Version != 2 || first.TargetVariationID != 2 {
		t.Fatalf("unexpected first record %+v", first)
	}
	if first.QuickAction != "shorter" || first.FeedbackInput != "shorter" {
		t.Fatalf("unexpected feedback fields %+v", first)
	}
	if first.CritiqueSummary == "" {
		t.Fatalf("expected critique summary")
	}
	if len(first.Critique.Scores) != 6 {
		t.Fatalf("expected six criterion scores, got %v", first.Critique.Scores)
	}

	second, err := l.Submit(context.Background(), "shorter")
	if err != nil {
		t.Fatalf("submit 2: %v", err)
	}
	if second.Iteration != 2 || second.Resulting.Version != 3 {
		t.Fatalf("unexpected second record %+v", second)
	}
	if len(second.Resulting.Caption) >= len(first.Resulting.Caption) {
		t.Fatalf("expected caption to shrink again")
	}

	accepted, err := l.Accept()
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if l.State() != StateTerminal || !l.Accepted() {
		t.Fatalf("expected terminal accepted, got %q/%q", l.State(), l.TerminalReason())
	}
	if accepted.Version != 3 || l.Current().Version != 3 {
		t.Fatalf("expected version 3 to remain current, got %d", accepted.Version)
	}

	if _, err := l.Submit(context.Background(), "shorter"); !errors.Is(err, errs.ErrInvalidStateTransition) {
		t.Fatalf("submit after accept should be an invalid transition, got %v", err)
	}
	if _, err := l.Accept(); !errors.Is(err, errs.ErrInvalidStateTransition) {
		t.Fatalf("double accept should be an invalid transition, got %v", err)
	}
}

func TestRefinementLimit(t *testing.T) {
	l := newLoop(t, newScriptedGen(), 2)
	for i := 0; i < 2; i++ {
		if _, err := l.Submit(context.Background(), "make it punchier"); err != nil {
			t.Fatalf("submit %d: %v", i+1, err)
		}
	}
	if l.State() != StateTerminal || l.TerminalReason() != ReasonLimit {
		t.Fatalf("expected terminal by limit, got %q/%q", l.State(), l.TerminalReason())
	}
	before := l.Current()

	_, err := l.Submit(context.Background(), "one more")
	if !errors.Is(err, errs.ErrRefinementLimitReached) {
		t.Fatalf("expected refinement limit, got %v", err)
	}
	if l.Current().Version != before.Version || l.Current().Caption != before.Caption {
		t.Fatalf("current version changed after limit")
	}
	if len(l.History()) != 2 {
		t.Fatalf("expected 2 records, got %d", len(l.History()))
	}
}

func TestFailedAttemptsNeverAppend(t *testing.T) {
	unavailable := &errs.StageError{Stage: "text_generation", Err: errs.ErrGenerationUnavailable}
	rejected := &errs.StageError{Stage: "text_generation", Err: errs.ErrGenerationRejected, Reason: "content policy"}

	tests := []struct {
		name        string
		failures    map[llm.TaskKind][]error
		wantErr     error
		recoverable bool
		wantReason  string
	}{
		{name: "critique unavailable twice", failures: map[llm.TaskKind][]error{llm.TaskCritique: {unavailable, unavailable}}, wantErr: errs.ErrGenerationUnavailable, recoverable: true},
		{name: "refine unavailable twice", failures: map[llm.TaskKind][]error{llm.TaskRefine: {unavailable, unavailable}}, wantErr: errs.ErrGenerationUnavailable, recoverable: true},
		{name: "critique rejected", failures: map[llm.TaskKind][]error{llm.TaskCritique: {rejected}}, wantErr: errs.ErrGenerationRejected, wantReason: "content policy"},
		{name: "refine rejected", failures: map[llm.TaskKind][]error{llm.TaskRefine: {rejected}}, wantErr: errs.ErrGenerationRejected, wantReason: "content policy"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			gen := newScriptedGen()
			gen.failures = tt.failures
			l := newLoop(t, gen, DefaultMaxIterations)

			_, err := l.Submit(context.Background(), "shorter")
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
			if errs.Recoverable(err) != tt.recoverable {
				t.Fatalf("recoverable = %v, want %v", errs.Recoverable(err), tt.recoverable)
			}
			if tt.wantReason != "" && errs.Reason(err) != tt.wantReason {
				t.Fatalf("reason = %q, want %q", errs.Reason(err), tt.wantReason)
			}
			var se *errs.StageError
			if !errors.As(err, &se) || se.Iteration != 1 || se.VariationID != 2 {
				t.Fatalf("expected stage context, got %#v", err)
			}
			if l.State() != StateAwaitingFeedback {
				t.Fatalf("expected awaiting feedback after failure, got %q", l.State())
			}
			if len(l.History()) != 0 || l.Current().Version != 1 {
				t.Fatalf("failed attempt must not change history")
			}

			// The failed attempt does not consume an iteration number.
			rec, err := l.Submit(context.Background(), "shorter")
			if err != nil {
				t.Fatalf("retry submit: %v", err)
			}
			if rec.Iteration != 1 || rec.Resulting.Version != 2 {
				t.Fatalf("expected iteration 1 / version 2 after failure, got %d/%d", rec.Iteration, rec.Resulting.Version)
			}
		})
	}
}

func TestUnavailableRetriedOnceWithinSubmit(t *testing.T) {
	gen := newScriptedGen()
	gen.failures[llm.TaskRefine] = []error{&errs.StageError{Err: errs.ErrGenerationUnavailable}}
	l := newLoop(t, gen, DefaultMaxIterations)

	if _, err := l.Submit(context.Background(), "shorter"); err != nil {
		t.Fatalf("expected retry to recover, got %v", err)
	}
	if gen.calls[llm.TaskRefine] != 2 {
		t.Fatalf("expected 2 refine calls, got %d", gen.calls[llm.TaskRefine])
	}
}

func TestOverlappingSubmitIsRejected(t *testing.T) {
	gen := newScriptedGen()
	gen.block = make(chan struct{})
	gen.entered = make(chan struct{}, 1)
	l := newLoop(t, gen, DefaultMaxIterations)

	done := make(chan error, 1)
	go func() {
		_, err := l.Submit(context.Background(), "shorter")
		done <- err
	}()
	<-gen.entered
	if l.State() != StateCritiquing {
		t.Fatalf("expected critiquing while call in flight, got %q", l.State())
	}
	if _, err := l.Submit(context.Background(), "more_formal"); !errors.Is(err, errs.ErrInvalidStateTransition) {
		t.Fatalf("expected overlapping submit to fail, got %v", err)
	}
	if _, err := l.Accept(); !errors.Is(err, errs.ErrInvalidStateTransition) {
		t.Fatalf("expected accept during refinement to fail, got %v", err)
	}
	close(gen.block)
	if err := <-done; err != nil {
		t.Fatalf("first submit: %v", err)
	}
	if len(l.History()) != 1 {
		t.Fatalf("expected one record")
	}
}

func TestAbandonedCallLeavesPreCallState(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	gen := newScriptedGen()
	gen.block = make(chan struct{})
	gen.entered = make(chan struct{}, 1)
	l := newLoop(t, gen, DefaultMaxIterations)

	done := make(chan error, 1)
	go func() {
		_, err := l.Submit(ctx, "shorter")
		done <- err
	}()
	<-gen.entered
	cancel()
	close(gen.block)

	err := <-done
	if !errors.Is(err, errs.ErrGenerationUnavailable) {
		t.Fatalf("expected unavailable for abandoned call, got %v", err)
	}
	if l.State() != StateAwaitingFeedback || len(l.History()) != 0 || l.Current().Version != 1 {
		t.Fatalf("abandoned call left partial state")
	}
}

func TestEmptyFeedbackIsInvalid(t *testing.T) {
	l := newLoop(t, newScriptedGen(), DefaultMaxIterations)
	if _, err := l.Submit(context.Background(), "   "); !errors.Is(err, errs.ErrInvalidRequest) {
		t.Fatalf("expected invalid request, got %v", err)
	}
}

func TestRestore(t *testing.T) {
	l := newLoop(t, newScriptedGen(), 3)
	for i := 0; i < 2; i++ {
		if _, err := l.Submit(context.Background(), "add_cta"); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}
	history := l.History()

	restored, err := Restore(testDeps(t, newScriptedGen(), 3), selected(), profile(), variations.PlatformLinkedIn, history, false)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if restored.Current().Version != 3 || restored.State() != StateAwaitingFeedback {
		t.Fatalf("unexpected restored loop: version %d state %q", restored.Current().Version, restored.State())
	}
	rec, err := restored.Submit(context.Background(), "shorter")
	if err != nil {
		t.Fatalf("submit after restore: %v", err)
	}
	if rec.Iteration != 3 || restored.TerminalReason() != ReasonLimit {
		t.Fatalf("expected iteration 3 and limit terminal, got %d/%q", rec.Iteration, restored.TerminalReason())
	}

	broken := append([]Record(nil), history...)
	broken[1].Iteration = 5
	if _, err := Restore(testDeps(t, newScriptedGen(), 3), selected(), profile(), variations.PlatformLinkedIn, broken, false); err == nil {
		t.Fatalf("expected gap in iterations to be rejected")
	}
}
