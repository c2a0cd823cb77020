// Package imagegen is the image generation gateway. It never fails outward:
// any capability failure degrades to a deterministic placeholder card.
package imagegen

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"brandpost-backend/internal/shared/metrics"
	"brandpost-backend/internal/shared/telemetry"
)

const contentTypePNG = "image/png"

// Artifact is one generated (or placeholder) image bound to the caption it illustrates.
type Artifact struct {
	Handle        string    `json:"handle,omitempty"`
	Data          []byte    `json:"-"`
	ContentType   string    `json:"content_type"`
	IsPlaceholder bool      `json:"is_placeholder"`
	SourceCaption string    `json:"source_caption"`
	Hint          string    `json:"hint,omitempty"`
	Width         int       `json:"width"`
	Height        int       `json:"height"`
	FailureReason string    `json:"failure_reason,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// Request describes the image wanted for a caption.
type Request struct {
	Caption     string
	Hint        string
	OverlayText string
	Platform    string
	Colors      []string
	Style       string
}

// Output is what a capability returns.
type Output struct {
	Data          []byte
	ContentType   string
	IsPlaceholder bool
}

// Capability produces image bytes for a caption and theme hint.
type Capability interface {
	Invoke(ctx context.Context, req Request, width, height int) (Output, error)
}

// Gateway wraps a capability with the placeholder fallback.
type Gateway struct {
	capability Capability
	now        func() time.Time
}

// NewGateway builds a gateway. A nil capability always yields placeholders.
func NewGateway(capability Capability) *Gateway {
	return &Gateway{capability: capability, now: time.Now}
}

// Generate returns an artifact for req. It never returns an error.
func (g *Gateway) Generate(ctx context.Context, req Request) Artifact {
	width, height := Dimensions(req.Platform)
	hint := strings.TrimSpace(req.Hint)
	if hint == "" {
		hint = "professional brand background"
	}
	req.Hint = hint

	art := Artifact{
		SourceCaption: req.Caption,
		Hint:          hint,
		Width:         width,
		Height:        height,
		CreatedAt:     g.now().UTC(),
	}

	out, err := g.invoke(ctx, req, width, height)
	if err == nil && len(out.Data) > 0 {
		art.Data = out.Data
		art.ContentType = out.ContentType
		if art.ContentType == "" {
			art.ContentType = contentTypePNG
		}
		art.IsPlaceholder = out.IsPlaceholder
		if !art.IsPlaceholder && strings.TrimSpace(req.OverlayText) != "" {
			if withText, oerr := Overlay(art.Data, req.OverlayText); oerr == nil {
				art.Data = withText
				art.ContentType = contentTypePNG
			} else {
				// The background is still usable without its headline.
				telemetry.Warn("imagegen.overlay_failed", map[string]any{
					"platform": req.Platform,
					"error":    oerr.Error(),
				})
			}
		}
		metrics.IncImage(art.IsPlaceholder)
		return art
	}

	reason := "empty image"
	if err != nil {
		reason = err.Error()
	}
	telemetry.Warn("imagegen.placeholder", map[string]any{
		"platform": req.Platform,
		"reason":   reason,
	})

	data, perr := RenderPlaceholder(req, width, height)
	if perr != nil {
		// Rendering is local; fall back to a flat card if text layout fails.
		data = solidCard(req, width, height)
	}
	art.Data = data
	art.ContentType = contentTypePNG
	art.IsPlaceholder = true
	art.FailureReason = reason
	metrics.IncImage(true)
	return art
}

func (g *Gateway) invoke(ctx context.Context, req Request, width, height int) (out Output, err error) {
	if g == nil || g.capability == nil {
		return Output{}, fmt.Errorf("image capability not configured")
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("image capability panic: %v", r)
		}
	}()
	start := time.Now()
	out, err = g.capability.Invoke(ctx, req, width, height)
	metrics.ObserveGenerationMs("image", metrics.SinceMs(start))
	return out, err
}

// Dimensions returns the image size used for a platform.
// LinkedIn gets a landscape frame, everything else a square.
func Dimensions(platform string) (int, int) {
	if strings.EqualFold(strings.TrimSpace(platform), "linkedin") {
		return 1792, 1024
	}
	return 1024, 1024
}

// SizeString formats dimensions the way image APIs expect them.
func SizeString(width, height int) string {
	return strconv.Itoa(width) + "x" + strconv.Itoa(height)
}
