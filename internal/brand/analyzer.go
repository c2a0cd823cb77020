package brand

import (
	"context"
	"time"

	"brandpost-backend/internal/llm"
	"brandpost-backend/internal/shared/errs"
	"brandpost-backend/internal/shared/metrics"
	"brandpost-backend/internal/shared/telemetry"
)

// Analyzer turns brand sources into a Profile.
type Analyzer struct {
	gen             llm.Generator
	backoff         time.Duration
	fallbackDefault bool
	now             func() time.Time
}

// Option customizes an Analyzer.
type Option func(*Analyzer)

// WithBackoff sets the pause before the single retry.
func WithBackoff(d time.Duration) Option { return func(a *Analyzer) { a.backoff = d } }

// WithDefaultFallback answers with the default profile when the capability stays unavailable.
func WithDefaultFallback(enabled bool) Option {
	return func(a *Analyzer) { a.fallbackDefault = enabled }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(a *Analyzer) { a.now = now } }

// NewAnalyzer builds an Analyzer on top of the text gateway.
func NewAnalyzer(gen llm.Generator, opts ...Option) *Analyzer {
	a := &Analyzer{gen: gen, backoff: llm.DefaultRetryBackoff, now: time.Now}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Analyze extracts a brand profile. source_excerpt_count is the number of non-empty excerpts.
func (a *Analyzer) Analyze(ctx context.Context, src Sources) (*Profile, error) {
	excerpts := src.Excerpts()
	if len(excerpts) == 0 {
		return nil, &errs.StageError{Stage: "brand_analysis", Reason: "no brand material supplied", Err: errs.ErrInvalidRequest}
	}

	gen := llm.NewRetrying(a.gen, a.backoff).With(map[string]any{"stage": "brand_analysis"})
	res, err := gen.Generate(ctx, llm.TaskBrandExtraction, llm.Payload{llm.KeySources: excerpts})
	if err != nil {
		if a.fallbackDefault && errs.Recoverable(err) && ctx.Err() == nil {
			telemetry.Warn("brand.analyze.fallback", map[string]any{"excerpts": len(excerpts), "error": err})
			metrics.IncBrandFallback()
			return Default(len(excerpts), a.now()), nil
		}
		return nil, &errs.StageError{Stage: "brand_analysis", TaskKind: string(llm.TaskBrandExtraction), Err: err}
	}

	profile := fromResult(res, len(excerpts), a.now())
	if len(profile.VoiceDescriptors) == 0 {
		return nil, &errs.StageError{
			Stage:    "brand_analysis",
			TaskKind: string(llm.TaskBrandExtraction),
			Reason:   "response carried no voice descriptors",
			Err:      errs.ErrGenerationRejected,
		}
	}
	telemetry.Info("brand.analyze.completed", map[string]any{
		"excerpts": len(excerpts),
		"tone":     string(profile.Tone),
	})
	return profile, nil
}

func fromResult(res llm.Result, excerpts int, now time.Time) *Profile {
	descriptors := res.Strings("voice_descriptors")
	if len(descriptors) == 0 {
		descriptors = res.Strings("personality_traits")
	}
	return &Profile{
		VoiceDescriptors:   orderedUnique(descriptors),
		Tone:               ParseTone(res.String("tone")),
		VocabularySignals:  signalSet(res.Strings("vocabulary_signals")),
		SourceExcerptCount: excerpts,
		EmojiUsage:         res.String("emoji_usage"),
		TypicalCTAs:        orderedUnique(res.Strings("typical_ctas")),
		KeyThemes:          orderedUnique(res.Strings("key_themes")),
		PrimaryColors:      orderedUnique(res.Strings("primary_colors")),
		TargetAudience:     res.String("target_audience"),
		CreatedAt:          now.UTC(),
	}
}
