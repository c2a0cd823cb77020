package sessions

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"brandpost-backend/internal/brand"
	"brandpost-backend/internal/critique"
	"brandpost-backend/internal/export"
	"brandpost-backend/internal/imagegen"
	"brandpost-backend/internal/shared/errs"
	"brandpost-backend/internal/shared/storage/object"
	"brandpost-backend/internal/shared/telemetry"
	"brandpost-backend/internal/shared/util"
	"brandpost-backend/internal/variations"
)

const (
	defaultMaxLive    = 1000
	defaultImageDrift = 0.9
)

// BrandAnalyzer builds a brand profile from source material.
type BrandAnalyzer interface {
	Analyze(ctx context.Context, src brand.Sources) (*brand.Profile, error)
}

// VariationGenerator drafts a batch of three variations.
type VariationGenerator interface {
	Generate(ctx context.Context, req variations.Request) (variations.Batch, error)
}

// ImageGenerator produces an image artifact and never fails.
type ImageGenerator interface {
	Generate(ctx context.Context, req imagegen.Request) imagegen.Artifact
}

// Deps are the Manager's collaborators.
type Deps struct {
	Repo       Repo
	Analyzer   BrandAnalyzer
	Variations VariationGenerator
	Images     ImageGenerator
	Store      object.ObjectStore
	Exporter   export.Sink
	Loop       critique.Deps
	Now        func() time.Time
	NewID      func() string
	// MaxLive bounds the sessions kept hydrated in memory; evicted ones reload from Repo.
	MaxLive int
	// ImageDrift is the caption similarity below which a refine replaces the current image.
	ImageDrift float64
}

// entry is one live session. lock serializes operations on sess and loop;
// loaded and lastUsed are written by the lock holder under Manager.mu and read by
// eviction under Manager.mu alone.
type entry struct {
	lock     chan struct{}
	loaded   bool
	sess     Session
	loop     *critique.Loop
	lastUsed time.Time
}

// Manager serializes operations per session and enforces the transition table.
// Sessions are independent; different sessions proceed in parallel.
type Manager struct {
	deps Deps

	mu   sync.Mutex
	live map[string]*entry
}

// NewManager builds a Manager.
func NewManager(deps Deps) *Manager {
	if deps.Repo == nil {
		deps.Repo = NewMemoryRepo()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.NewID == nil {
		deps.NewID = uuid.NewString
	}
	if deps.MaxLive <= 0 {
		deps.MaxLive = defaultMaxLive
	}
	if deps.ImageDrift <= 0 {
		deps.ImageDrift = defaultImageDrift
	}
	if deps.Loop.Now == nil {
		deps.Loop.Now = deps.Now
	}
	return &Manager{deps: deps, live: make(map[string]*entry)}
}

// Create starts an empty session for owner.
func (m *Manager) Create(ctx context.Context, owner string) (View, error) {
	if strings.TrimSpace(owner) == "" {
		return View{}, fmt.Errorf("%w: owner is required", errs.ErrInvalidRequest)
	}
	now := m.now()
	s := Session{ID: m.deps.NewID(), OwnerID: owner, CreatedAt: now, UpdatedAt: now}
	if err := m.deps.Repo.Save(ctx, s); err != nil {
		return View{}, fmt.Errorf("save session: %w", err)
	}

	e := &entry{lock: make(chan struct{}, 1), loaded: true, sess: s, lastUsed: now}
	m.mu.Lock()
	m.live[s.ID] = e
	m.evictLocked()
	m.mu.Unlock()

	telemetry.Info("session.created", map[string]any{"session_id": s.ID, "owner_id": owner})
	return buildView(s, nil), nil
}

// Get returns the current view of a session.
func (m *Manager) Get(ctx context.Context, owner, id string) (View, error) {
	var view View
	err := m.with(ctx, owner, id, "get", func(e *entry) error {
		view = m.view(e)
		return nil
	})
	return view, err
}

// Delete removes a session.
func (m *Manager) Delete(ctx context.Context, owner, id string) error {
	return m.with(ctx, owner, id, "delete", func(e *entry) error {
		if err := m.deps.Repo.Delete(ctx, id); err != nil {
			return fmt.Errorf("delete session: %w", err)
		}
		m.mu.Lock()
		if m.live[id] == e {
			delete(m.live, id)
		}
		e.loaded = false
		m.mu.Unlock()
		return nil
	})
}

// AnalyzeBrand replaces the brand profile and clears everything downstream of it.
func (m *Manager) AnalyzeBrand(ctx context.Context, owner, id string, src brand.Sources) (View, error) {
	var view View
	err := m.transition(ctx, owner, id, OpAnalyzeBrand, func(e *entry) error {
		if m.deps.Analyzer == nil {
			return fmt.Errorf("brand analyzer not configured")
		}
		profile, err := m.deps.Analyzer.Analyze(ctx, src)
		if err != nil {
			return err
		}
		next := e.sess.Clone()
		applyProfile(&next, func(s *Session) { s.Profile = profile })
		if err := m.commit(ctx, e, next); err != nil {
			return err
		}
		e.loop = nil
		view = m.view(e)
		return nil
	})
	return view, err
}

// GenerateVariations drafts a new batch. A failed or short batch leaves the session untouched;
// the partial variations travel inside the returned error.
func (m *Manager) GenerateVariations(ctx context.Context, owner, id string, in GenerateInput) (View, error) {
	var view View
	err := m.transition(ctx, owner, id, OpGenerateVariations, func(e *entry) error {
		platform, err := variations.ParsePlatform(in.Platform)
		if err != nil {
			return err
		}
		if m.deps.Variations == nil {
			return fmt.Errorf("variation generator not configured")
		}
		constraints := cleanStrings(in.Constraints)
		elements := variations.CleanElements(in.Elements)
		batch, err := m.deps.Variations.Generate(ctx, variations.Request{
			Intent:      strings.TrimSpace(in.Intent),
			Platform:    platform,
			Constraints: constraints,
			Elements:    elements,
			Profile:     e.sess.Profile,
		})
		if err != nil {
			return err
		}
		if len(batch.Variations) != variations.BatchSize {
			return &variations.BatchError{Partial: batch.Variations}
		}

		next := e.sess.Clone()
		applyBatch(&next, func(s *Session) {
			s.Intent = strings.TrimSpace(in.Intent)
			s.Platform = platform
			s.Constraints = constraints
			s.Elements = elements
			s.Batch = &batch
		})
		if err := m.commit(ctx, e, next); err != nil {
			return err
		}
		e.loop = nil
		view = m.view(e)
		return nil
	})
	return view, err
}

// SelectVariation starts a critique loop over one variation of the current batch.
// Selecting the variation that is already selected keeps its history.
func (m *Manager) SelectVariation(ctx context.Context, owner, id string, variationID int) (View, error) {
	var view View
	err := m.transition(ctx, owner, id, OpSelectVariation, func(e *entry) error {
		v, ok := e.sess.Batch.Find(variationID)
		if !ok {
			return errs.Transition(string(OpSelectVariation), fmt.Sprintf("variation %d in the current batch", variationID))
		}
		if e.sess.SelectedID == variationID {
			view = m.view(e)
			return nil
		}
		loop, err := critique.NewLoop(m.deps.Loop, v, e.sess.Profile, e.sess.Platform)
		if err != nil {
			return err
		}
		next := e.sess.Clone()
		applySelection(&next, variationID)
		if err := m.commit(ctx, e, next); err != nil {
			return err
		}
		e.loop = loop
		view = m.view(e)
		return nil
	})
	return view, err
}

// SubmitFeedback runs one critique and refine cycle on the selection.
func (m *Manager) SubmitFeedback(ctx context.Context, owner, id, feedback string) (FeedbackResult, error) {
	var res FeedbackResult
	err := m.transition(ctx, owner, id, OpSubmitFeedback, func(e *entry) error {
		loop, err := m.ensureLoop(e)
		if err != nil {
			return err
		}
		rec, err := loop.Submit(ctx, feedback)
		if err != nil {
			return err
		}

		next := e.sess.Clone()
		next.Records = loop.History()
		regenerated := false
		if next.Image != nil && variations.Similarity(next.Image.SourceCaption, rec.Resulting.Caption) < m.deps.ImageDrift {
			art, err := m.renderImage(ctx, next, rec.Resulting, next.Image.Hint)
			if err != nil || ctx.Err() != nil {
				// The old image no longer matches the caption; drop it rather than export a stale one.
				telemetry.Warn("session.image_regenerate_failed", map[string]any{
					"session_id": id,
					"error":      fmt.Sprint(err, ctx.Err()),
				})
				next.Image = nil
			} else {
				next.Image = &art
				regenerated = true
			}
		}

		if err := m.commit(ctx, e, next); err != nil {
			m.rollbackLoop(e)
			return err
		}
		res = FeedbackResult{View: m.view(e), Record: rec, ImageRegenerated: regenerated}
		return nil
	})
	return res, err
}

// SubmitFeedbackAsync runs SubmitFeedback in the background and delivers the outcome on the
// returned channel. Calls on one session still run one at a time.
func (m *Manager) SubmitFeedbackAsync(ctx context.Context, owner, id, feedback string) <-chan FeedbackOutcome {
	out := make(chan FeedbackOutcome, 1)
	go func() {
		defer close(out)
		res, err := m.SubmitFeedback(ctx, owner, id, feedback)
		out <- FeedbackOutcome{Result: res, Err: err}
	}()
	return out
}

// Accept ends refinement of the selection; its current version is final.
func (m *Manager) Accept(ctx context.Context, owner, id string) (View, error) {
	var view View
	err := m.transition(ctx, owner, id, OpAccept, func(e *entry) error {
		loop, err := m.ensureLoop(e)
		if err != nil {
			return err
		}
		if _, err := loop.Accept(); err != nil {
			return err
		}
		next := e.sess.Clone()
		next.Accepted = true
		if err := m.commit(ctx, e, next); err != nil {
			m.rollbackLoop(e)
			return err
		}
		view = m.view(e)
		return nil
	})
	return view, err
}

// GenerateImage renders an image for the current version of the selection. The theme hint
// defaults to the variation's image description.
func (m *Manager) GenerateImage(ctx context.Context, owner, id, hint string) (View, error) {
	var view View
	err := m.transition(ctx, owner, id, OpGenerateImage, func(e *entry) error {
		cur, ok := e.sess.Current()
		if !ok {
			return errs.Transition(string(OpGenerateImage), "a selected variation")
		}
		if strings.TrimSpace(hint) == "" {
			hint = cur.ImageDescription
		}
		art, err := m.renderImage(ctx, e.sess, cur, hint)
		if err != nil {
			return err
		}
		next := e.sess.Clone()
		next.Image = &art
		if err := m.commit(ctx, e, next); err != nil {
			return err
		}
		view = m.view(e)
		return nil
	})
	return view, err
}

// OpenImage streams the stored image of a session.
func (m *Manager) OpenImage(ctx context.Context, owner, id string) (io.ReadCloser, string, error) {
	var (
		rc          io.ReadCloser
		contentType string
	)
	err := m.with(ctx, owner, id, "open_image", func(e *entry) error {
		if e.sess.Image == nil {
			return errs.Transition("open_image", "an image")
		}
		var err error
		rc, err = m.openImage(ctx, *e.sess.Image)
		contentType = e.sess.Image.ContentType
		return err
	})
	return rc, contentType, err
}

// Export persists the current version with its image through the export sink.
func (m *Manager) Export(ctx context.Context, owner, id string) (export.Receipt, error) {
	var rec export.Receipt
	err := m.transition(ctx, owner, id, OpExport, func(e *entry) error {
		if m.deps.Exporter == nil {
			return fmt.Errorf("export sink not configured")
		}
		cur, ok := e.sess.Current()
		if !ok {
			return errs.Transition(string(OpExport), "a selected variation")
		}
		rc, err := m.openImage(ctx, *e.sess.Image)
		if err != nil {
			return err
		}
		data, err := io.ReadAll(rc)
		_ = rc.Close()
		if err != nil {
			return fmt.Errorf("read image: %w", err)
		}

		payload := export.Payload{
			OwnerID:    owner,
			SessionID:  id,
			Platform:   string(e.sess.Platform),
			Intent:     e.sess.Intent,
			Variation:  cur,
			Image:      *e.sess.Image,
			ImageData:  data,
			Iterations: len(e.sess.Records),
			Accepted:   e.sess.Accepted,
		}
		if n := len(e.sess.Records); n > 0 {
			payload.CritiqueScore = e.sess.Records[n-1].Critique.Overall
		}
		rec, err = m.deps.Exporter.Export(ctx, payload)
		if err != nil {
			return err
		}

		next := e.sess.Clone()
		next.LastExport = &rec
		if err := m.commit(ctx, e, next); err != nil {
			// The export is already written; the receipt stands.
			telemetry.Warn("session.export_save_failed", map[string]any{
				"session_id": id,
				"export_id":  rec.ID,
				"error":      err.Error(),
			})
			e.sess = next
		}
		return nil
	})
	return rec, err
}

// transition runs fn under the session lock after the transition table approves op.
func (m *Manager) transition(ctx context.Context, owner, id string, op Op, fn func(*entry) error) error {
	return m.with(ctx, owner, id, string(op), func(e *entry) error {
		from := e.sess.Stage()
		if err := checkTransition(op, e.sess); err != nil {
			return err
		}
		if err := fn(e); err != nil {
			return err
		}
		telemetry.Info("session.transition", map[string]any{
			"session_id": id,
			"op":         string(op),
			"from":       string(from),
			"to":         string(e.sess.Stage()),
		})
		return nil
	})
}

func (m *Manager) with(ctx context.Context, owner, id, op string, fn func(*entry) error) error {
	e, release, err := m.acquire(ctx, owner, id)
	if err != nil {
		return err
	}
	defer release()

	if err := fn(e); err != nil {
		fields := map[string]any{
			"session_id":  id,
			"op":          op,
			"code":        errs.Code(err),
			"recoverable": errs.Recoverable(err),
			"error":       err.Error(),
		}
		var se *errs.StageError
		if errors.As(err, &se) {
			fields["stage"] = se.Stage
			fields["variation_id"] = se.VariationID
			fields["iteration"] = se.Iteration
		}
		telemetry.Warn("session.op_failed", fields)
		return err
	}
	return nil
}

// acquire locks the session's entry, loading it from the repository when it is not live.
func (m *Manager) acquire(ctx context.Context, owner, id string) (*entry, func(), error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, nil, abandoned(id, err)
		}
		m.mu.Lock()
		e, ok := m.live[id]
		if !ok {
			e = &entry{lock: make(chan struct{}, 1)}
			m.live[id] = e
		}
		m.mu.Unlock()

		select {
		case e.lock <- struct{}{}:
		case <-ctx.Done():
			return nil, nil, abandoned(id, ctx.Err())
		}
		release := func() { <-e.lock }

		m.mu.Lock()
		current := m.live[id] == e
		m.mu.Unlock()
		if !current {
			// Evicted or deleted while we waited; start over with the live entry.
			release()
			continue
		}

		if !e.loaded {
			if err := m.hydrate(ctx, id, e); err != nil {
				m.mu.Lock()
				if m.live[id] == e {
					delete(m.live, id)
				}
				m.mu.Unlock()
				release()
				return nil, nil, err
			}
			m.mu.Lock()
			e.loaded = true
			e.lastUsed = m.now()
			m.evictLocked()
			m.mu.Unlock()
		}
		if e.sess.OwnerID != owner {
			release()
			return nil, nil, errs.ErrNotFound
		}
		m.mu.Lock()
		e.lastUsed = m.now()
		m.mu.Unlock()
		return e, release, nil
	}
}

// abandoned reports a request that gave up before it reached the session. The
// session is untouched, so the caller may retry.
func abandoned(id string, cause error) error {
	return &errs.StageError{
		Stage:  "session",
		Reason: "request abandoned before session " + id + " was available",
		Err:    fmt.Errorf("%w: %w", errs.ErrGenerationUnavailable, cause),
	}
}

func (m *Manager) hydrate(ctx context.Context, id string, e *entry) error {
	s, err := m.deps.Repo.Get(ctx, id)
	if err != nil {
		return err
	}
	e.sess = s
	e.loop = nil
	if _, err := m.ensureLoop(e); err != nil && s.SelectedID != 0 {
		return fmt.Errorf("restore session %s: %w", id, err)
	}
	telemetry.Info("session.rehydrated", map[string]any{
		"session_id": id,
		"stage":      string(s.Stage()),
		"iterations": len(s.Records),
	})
	return nil
}

// ensureLoop returns the selection's loop, rebuilding it from the session's records if needed.
func (m *Manager) ensureLoop(e *entry) (*critique.Loop, error) {
	if e.loop != nil {
		return e.loop, nil
	}
	selected, ok := e.sess.Selected()
	if !ok {
		return nil, errs.Transition("critique", "a selected variation")
	}
	loop, err := critique.Restore(m.deps.Loop, selected, e.sess.Profile, e.sess.Platform, e.sess.Records, e.sess.Accepted)
	if err != nil {
		return nil, err
	}
	e.loop = loop
	return loop, nil
}

func (m *Manager) rollbackLoop(e *entry) {
	e.loop = nil
	if _, err := m.ensureLoop(e); err != nil {
		telemetry.Error("session.loop_rollback_failed", map[string]any{
			"session_id": e.sess.ID,
			"error":      err.Error(),
		})
	}
}

// commit persists next and makes it the live state. Persisting ignores caller cancellation
// so a transition that already completed is not lost halfway.
func (m *Manager) commit(ctx context.Context, e *entry, next Session) error {
	next.UpdatedAt = m.now()
	if err := m.deps.Repo.Save(context.WithoutCancel(ctx), next); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	e.sess = next
	return nil
}

// evictLocked drops the least recently used idle sessions above MaxLive. Caller holds m.mu.
func (m *Manager) evictLocked() {
	over := len(m.live) - m.deps.MaxLive
	if over <= 0 {
		return
	}
	type candidate struct {
		id string
		e  *entry
	}
	var idle []candidate
	for id, e := range m.live {
		if e.loaded {
			idle = append(idle, candidate{id: id, e: e})
		}
	}
	sort.Slice(idle, func(i, j int) bool { return idle[i].e.lastUsed.Before(idle[j].e.lastUsed) })
	for _, c := range idle {
		if over <= 0 {
			return
		}
		select {
		case c.e.lock <- struct{}{}:
			delete(m.live, c.id)
			<-c.e.lock
			over--
		default:
		}
	}
}

func (m *Manager) renderImage(ctx context.Context, s Session, v variations.Variation, hint string) (imagegen.Artifact, error) {
	if m.deps.Images == nil {
		return imagegen.Artifact{}, fmt.Errorf("image generator not configured")
	}
	req := imagegen.Request{
		Caption:     v.Caption,
		Hint:        hint,
		OverlayText: v.OverlayText,
		Platform:    string(s.Platform),
	}
	if s.Profile != nil {
		req.Colors = append([]string(nil), s.Profile.PrimaryColors...)
		req.Style = string(s.Profile.Tone)
	}
	art := m.deps.Images.Generate(ctx, req)
	if m.deps.Store == nil {
		return art, nil
	}
	key := object.Join("images", util.HashUserKey(s.OwnerID), s.ID, m.deps.NewID()+".png")
	if _, err := m.deps.Store.Put(context.WithoutCancel(ctx), key, art.ContentType, bytes.NewReader(art.Data)); err != nil {
		return imagegen.Artifact{}, fmt.Errorf("store image: %w", err)
	}
	art.Handle = key
	art.Data = nil
	return art, nil
}

func (m *Manager) openImage(ctx context.Context, art imagegen.Artifact) (io.ReadCloser, error) {
	if art.Handle == "" {
		if len(art.Data) == 0 {
			return nil, errs.Transition("read_image", "a stored image")
		}
		return io.NopCloser(bytes.NewReader(art.Data)), nil
	}
	if m.deps.Store == nil {
		return nil, fmt.Errorf("object store not configured")
	}
	return m.deps.Store.Open(ctx, art.Handle)
}

func (m *Manager) view(e *entry) View {
	var lv *LoopView
	if e.loop != nil {
		lv = &LoopView{
			State:          e.loop.State(),
			TerminalReason: e.loop.TerminalReason(),
			Iterations:     len(e.sess.Records),
			MaxIterations:  e.loop.MaxIterations(),
		}
	}
	return buildView(e.sess, lv)
}

func (m *Manager) now() time.Time {
	return m.deps.Now().UTC()
}

func cleanStrings(in []string) []string {
	var out []string
	for _, s := range in {
		if t := strings.TrimSpace(s); t != "" {
			out = append(out, t)
		}
	}
	return out
}
