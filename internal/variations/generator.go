package variations

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"brandpost-backend/internal/catalog"
	"brandpost-backend/internal/llm"
	"brandpost-backend/internal/shared/errs"
	"brandpost-backend/internal/shared/metrics"
	"brandpost-backend/internal/shared/telemetry"
)

// DefaultDuplicateThreshold is the similarity at or above which two captions count as near-identical.
const DefaultDuplicateThreshold = 0.8

// Generator produces batches of three variations.
type Generator struct {
	gen         llm.Generator
	catalog     *catalog.Catalog
	backoff     time.Duration
	concurrency int
	threshold   float64
}

// Option customizes a Generator.
type Option func(*Generator)

// WithBackoff sets the pause before a slot's single retry.
func WithBackoff(d time.Duration) Option { return func(g *Generator) { g.backoff = d } }

// WithConcurrency caps parallel drafting calls. 1 drafts sequentially.
func WithConcurrency(n int) Option { return func(g *Generator) { g.concurrency = n } }

// WithDuplicateThreshold sets the near-duplicate similarity threshold.
func WithDuplicateThreshold(t float64) Option { return func(g *Generator) { g.threshold = t } }

// NewGenerator builds a Generator.
func NewGenerator(gen llm.Generator, cat *catalog.Catalog, opts ...Option) *Generator {
	g := &Generator{
		gen:         gen,
		catalog:     cat,
		backoff:     llm.DefaultRetryBackoff,
		concurrency: BatchSize,
		threshold:   DefaultDuplicateThreshold,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.concurrency <= 0 {
		g.concurrency = BatchSize
	}
	if g.threshold <= 0 || g.threshold > 1 {
		g.threshold = DefaultDuplicateThreshold
	}
	return g
}

// Generate drafts one variation per directive, joins them and deduplicates.
// The batch is only returned once all three slots are complete; a short batch
// is reported as *BatchError carrying the variations that did succeed.
func (g *Generator) Generate(ctx context.Context, req Request) (Batch, error) {
	spec, err := g.validate(req)
	if err != nil {
		return Batch{}, err
	}
	directives := g.catalog.Directives[:BatchSize]

	var (
		slots    [BatchSize]Variation
		failures [BatchSize]error
	)
	var group errgroup.Group
	group.SetLimit(g.concurrency)
	for i := range directives {
		i := i
		group.Go(func() error {
			v, err := g.draft(ctx, req, spec, i, nil)
			slots[i] = v
			failures[i] = err
			// Slot failures never cancel the other slots.
			return nil
		})
	}
	_ = group.Wait()

	var (
		partial []Variation
		failed  []error
	)
	for i := range slots {
		if failures[i] != nil {
			failed = append(failed, failures[i])
			continue
		}
		partial = append(partial, slots[i])
	}
	if len(failed) > 0 {
		metrics.IncVariationFailure()
		telemetry.Warn("variations.batch.short", map[string]any{
			"produced": len(partial),
			"failed":   len(failed),
			"error":    errors.Join(failed...),
		})
		return Batch{}, &BatchError{Partial: partial, Failures: failed}
	}

	batch := Batch{Variations: append([]Variation(nil), slots[:]...)}
	g.dedupe(ctx, req, spec, &batch)

	metrics.IncVariationBatch()
	metrics.AddVariationDuplicates(len(batch.Duplicates))
	telemetry.Info("variations.batch.completed", map[string]any{
		"platform":   string(req.Platform),
		"duplicates": len(batch.Duplicates),
	})
	return batch, nil
}

func (g *Generator) validate(req Request) (catalog.PlatformSpec, error) {
	invalid := func(reason string) error {
		return &errs.StageError{Stage: "variation_generation", TaskKind: string(llm.TaskVariationDraft), Reason: reason, Err: errs.ErrInvalidRequest}
	}
	if strings.TrimSpace(req.Intent) == "" {
		return catalog.PlatformSpec{}, invalid("intent is required")
	}
	if _, err := ParsePlatform(string(req.Platform)); err != nil {
		return catalog.PlatformSpec{}, invalid(err.Error())
	}
	if req.Profile == nil {
		return catalog.PlatformSpec{}, invalid("brand profile is required")
	}
	if g.catalog == nil || len(g.catalog.Directives) < BatchSize {
		return catalog.PlatformSpec{}, invalid("directive catalog incomplete")
	}
	spec, ok := g.catalog.Platform(string(req.Platform))
	if !ok {
		return catalog.PlatformSpec{}, invalid(fmt.Sprintf("no platform spec for %q", req.Platform))
	}
	return spec, nil
}

func (g *Generator) draft(ctx context.Context, req Request, spec catalog.PlatformSpec, slot int, avoid []string) (Variation, error) {
	directive := g.catalog.Directives[slot]
	payload := llm.Payload{
		llm.KeyIntent:       req.Intent,
		llm.KeyPlatform:     string(req.Platform),
		llm.KeyPlatformSpec: spec,
		llm.KeyBrandProfile: req.Profile,
		llm.KeyDirective:    directive.Instruction,
	}
	if len(req.Constraints) > 0 {
		payload[llm.KeyConstraints] = req.Constraints
	}
	if len(req.Elements) > 0 {
		payload[llm.KeyElements] = req.Elements
	}
	if len(avoid) > 0 {
		payload[llm.KeyAvoidCaptions] = avoid
	}

	gen := llm.NewRetrying(g.gen, g.backoff).With(map[string]any{"stage": "variation_generation", "variation_id": slot + 1})
	res, err := gen.Generate(ctx, llm.TaskVariationDraft, payload)
	if err != nil {
		return Variation{}, &errs.StageError{
			Stage:       "variation_generation",
			TaskKind:    string(llm.TaskVariationDraft),
			VariationID: slot + 1,
			Err:         err,
		}
	}

	base := Variation{
		ID:        slot + 1,
		Version:   1,
		ToneLabel: string(req.Profile.Tone),
		Approach:  directive.Name,
	}
	v, ok := FromResult(res, spec, base)
	if !ok {
		return Variation{}, &errs.StageError{
			Stage:       "variation_generation",
			TaskKind:    string(llm.TaskVariationDraft),
			VariationID: slot + 1,
			Reason:      "draft carried no caption",
			Err:         errs.ErrGenerationRejected,
		}
	}
	return v, nil
}

// dedupe re-requests each later slot once when it nearly duplicates an earlier one.
// Pairs still above the threshold afterwards are reported, not fatal.
func (g *Generator) dedupe(ctx context.Context, req Request, spec catalog.PlatformSpec, batch *Batch) {
	vs := batch.Variations
	for j := 1; j < len(vs); j++ {
		dup := false
		for i := 0; i < j; i++ {
			if Similarity(vs[i].Caption, vs[j].Caption) >= g.threshold {
				dup = true
				break
			}
		}
		if !dup {
			continue
		}
		avoid := make([]string, 0, len(vs)-1)
		for k := range vs {
			if k != j {
				avoid = append(avoid, vs[k].Caption)
			}
		}
		replacement, err := g.draft(ctx, req, spec, j, avoid)
		if err != nil {
			telemetry.Warn("variations.dedupe.retry_failed", map[string]any{"variation_id": j + 1, "error": err})
			continue
		}
		vs[j] = replacement
	}

	batch.Duplicates = nil
	for i := 0; i < len(vs); i++ {
		for j := i + 1; j < len(vs); j++ {
			if s := Similarity(vs[i].Caption, vs[j].Caption); s >= g.threshold {
				batch.Duplicates = append(batch.Duplicates, DuplicatePair{First: vs[i].ID, Second: vs[j].ID, Similarity: s})
			}
		}
	}
}
