package llm

import (
	"context"
	"time"

	"brandpost-backend/internal/shared/errs"
	"brandpost-backend/internal/shared/telemetry"
)

// DefaultRetryBackoff is the pause before the single retry.
const DefaultRetryBackoff = 300 * time.Millisecond

// Generator is the call shape shared by Gateway and its decorators.
type Generator interface {
	Generate(ctx context.Context, kind TaskKind, payload Payload) (Result, error)
}

// Retrying retries a GenerationUnavailable failure once after Backoff.
// Rejections and invalid requests are returned immediately.
type Retrying struct {
	Base    Generator
	Backoff time.Duration
	// Fields are attached to the retry log line.
	Fields map[string]any
}

// NewRetrying wraps base with the retry-once policy.
func NewRetrying(base Generator, backoff time.Duration) Retrying {
	if backoff < 0 {
		backoff = DefaultRetryBackoff
	}
	return Retrying{Base: base, Backoff: backoff}
}

// With returns a copy that logs the given fields on retry.
func (r Retrying) With(fields map[string]any) Retrying {
	merged := make(map[string]any, len(r.Fields)+len(fields))
	for k, v := range r.Fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	r.Fields = merged
	return r
}

// Generate implements Generator.
func (r Retrying) Generate(ctx context.Context, kind TaskKind, payload Payload) (Result, error) {
	res, err := r.Base.Generate(ctx, kind, payload)
	if err == nil || !errs.Recoverable(err) {
		return res, err
	}

	fields := map[string]any{"task_kind": string(kind), "attempt": 1, "error": err}
	for k, v := range r.Fields {
		fields[k] = v
	}
	telemetry.Info("llm.retry", fields)

	if r.Backoff > 0 {
		timer := time.NewTimer(r.Backoff)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return Result{}, err
		}
	}
	return r.Base.Generate(ctx, kind, payload)
}
