// Package export persists an accepted post (caption, metadata, image) to the object store.
package export

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"brandpost-backend/internal/imagegen"
	"brandpost-backend/internal/shared/errs"
	"brandpost-backend/internal/shared/metrics"
	"brandpost-backend/internal/shared/storage/object"
	"brandpost-backend/internal/shared/telemetry"
	"brandpost-backend/internal/shared/util"
	"brandpost-backend/internal/variations"
)

const (
	captionFile  = "caption.txt"
	metadataFile = "metadata.json"
)

// Payload is everything a sink needs to persist one post.
type Payload struct {
	OwnerID       string
	SessionID     string
	Platform      string
	Intent        string
	Variation     variations.Variation
	Image         imagegen.Artifact
	ImageData     []byte
	Iterations    int
	Accepted      bool
	CritiqueScore float64
}

// Receipt describes a persisted export.
type Receipt struct {
	ID            string    `json:"id"`
	SessionID     string    `json:"session_id"`
	Platform      string    `json:"platform"`
	Prefix        string    `json:"prefix"`
	Keys          []string  `json:"keys"`
	VariationID   int       `json:"variation_id"`
	Version       int       `json:"version"`
	IsPlaceholder bool      `json:"is_placeholder"`
	CreatedAt     time.Time `json:"created_at"`
}

// Metadata is the JSON document written next to the caption.
type Metadata struct {
	Platform      string    `json:"platform"`
	Intent        string    `json:"intent"`
	Timestamp     time.Time `json:"timestamp"`
	Caption       string    `json:"caption"`
	Hashtags      []string  `json:"hashtags"`
	OverlayText   string    `json:"overlay_text"`
	ToneLabel     string    `json:"tone_label"`
	VariationID   int       `json:"variation_id"`
	Version       int       `json:"version"`
	Iterations    int       `json:"iterations"`
	Accepted      bool      `json:"accepted"`
	CritiqueScore float64   `json:"critique_score,omitempty"`
	IsPlaceholder bool      `json:"is_placeholder"`
	ImageKey      string    `json:"image_key"`
}

// Sink persists export payloads.
type Sink interface {
	Export(ctx context.Context, p Payload) (Receipt, error)
}

// Ledger records receipts somewhere queryable. Optional.
type Ledger interface {
	Record(ctx context.Context, ownerID string, rec Receipt) error
}

// ObjectSink writes exports under exports/<owner-hash>/<session-id>/<export-id>/.
type ObjectSink struct {
	Store  object.ObjectStore
	Ledger Ledger
	Now    func() time.Time
	NewID  func() string
}

// NewObjectSink builds a sink over store.
func NewObjectSink(store object.ObjectStore, ledger Ledger) *ObjectSink {
	return &ObjectSink{Store: store, Ledger: ledger, Now: time.Now, NewID: uuid.NewString}
}

// Export writes caption.txt, metadata.json and the image.
func (s *ObjectSink) Export(ctx context.Context, p Payload) (Receipt, error) {
	if s == nil || s.Store == nil {
		return Receipt{}, fmt.Errorf("export sink not configured")
	}
	if strings.TrimSpace(p.Variation.Caption) == "" {
		return Receipt{}, fmt.Errorf("%w: caption is required", errs.ErrInvalidRequest)
	}
	if len(p.ImageData) == 0 {
		return Receipt{}, fmt.Errorf("%w: image data is required", errs.ErrInvalidRequest)
	}

	now := s.now()
	id := s.newID()
	prefix := object.Join("exports", util.HashUserKey(p.OwnerID), p.SessionID, id)
	imageKey := object.Join(prefix, "image"+extension(p.Image.ContentType))

	meta := Metadata{
		Platform:      p.Platform,
		Intent:        p.Intent,
		Timestamp:     now,
		Caption:       p.Variation.Caption,
		Hashtags:      append([]string{}, p.Variation.Hashtags...),
		OverlayText:   p.Variation.OverlayText,
		ToneLabel:     p.Variation.ToneLabel,
		VariationID:   p.Variation.ID,
		Version:       p.Variation.Version,
		Iterations:    p.Iterations,
		Accepted:      p.Accepted,
		CritiqueScore: p.CritiqueScore,
		IsPlaceholder: p.Image.IsPlaceholder,
		ImageKey:      imageKey,
	}
	metaJSON, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return Receipt{}, fmt.Errorf("marshal metadata: %w", err)
	}

	files := []struct {
		key         string
		contentType string
		body        []byte
	}{
		{key: object.Join(prefix, captionFile), contentType: "text/plain; charset=utf-8", body: []byte(CaptionText(p.Variation))},
		{key: imageKey, contentType: contentTypeOrDefault(p.Image.ContentType), body: p.ImageData},
		// Metadata goes last so its presence marks a complete export.
		{key: object.Join(prefix, metadataFile), contentType: "application/json", body: metaJSON},
	}

	rec := Receipt{
		ID:            id,
		SessionID:     p.SessionID,
		Platform:      p.Platform,
		Prefix:        prefix,
		VariationID:   p.Variation.ID,
		Version:       p.Variation.Version,
		IsPlaceholder: p.Image.IsPlaceholder,
		CreatedAt:     now,
	}
	for _, f := range files {
		if _, err := s.Store.Put(ctx, f.key, f.contentType, bytes.NewReader(f.body)); err != nil {
			return Receipt{}, fmt.Errorf("export write %s: %w", f.key, err)
		}
		rec.Keys = append(rec.Keys, f.key)
	}

	if s.Ledger != nil {
		if err := s.Ledger.Record(ctx, p.OwnerID, rec); err != nil {
			// Files are already written; the ledger is an index over them.
			telemetry.Warn("export.ledger_failed", map[string]any{
				"session_id": p.SessionID,
				"export_id":  id,
				"error":      err.Error(),
			})
		}
	}

	metrics.IncExport()
	telemetry.Info("export.complete", map[string]any{
		"session_id":     p.SessionID,
		"export_id":      id,
		"variation_id":   p.Variation.ID,
		"version":        p.Variation.Version,
		"is_placeholder": p.Image.IsPlaceholder,
	})
	return rec, nil
}

// CaptionText renders the caption followed by its hashtags.
func CaptionText(v variations.Variation) string {
	caption := strings.TrimSpace(v.Caption)
	if len(v.Hashtags) == 0 {
		return caption + "\n"
	}
	tags := make([]string, 0, len(v.Hashtags))
	for _, h := range v.Hashtags {
		tags = append(tags, "#"+strings.TrimPrefix(h, "#"))
	}
	return caption + "\n\n" + strings.Join(tags, " ") + "\n"
}

func (s *ObjectSink) now() time.Time {
	if s.Now == nil {
		return time.Now().UTC()
	}
	return s.Now().UTC()
}

func (s *ObjectSink) newID() string {
	if s.NewID == nil {
		return uuid.NewString()
	}
	return s.NewID()
}

func extension(contentType string) string {
	switch strings.ToLower(strings.TrimSpace(contentType)) {
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	default:
		return ".png"
	}
}

func contentTypeOrDefault(ct string) string {
	if strings.TrimSpace(ct) == "" {
		return "image/png"
	}
	return ct
}

var _ Sink = (*ObjectSink)(nil)
