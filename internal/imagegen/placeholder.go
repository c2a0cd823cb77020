package imagegen

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"strings"
	"sync"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/goregular"
)

var (
	fontOnce    sync.Once
	regularFont *truetype.Font
	boldFont    *truetype.Font
	fontErr     error
)

func loadFonts() error {
	fontOnce.Do(func() {
		regularFont, fontErr = truetype.Parse(goregular.TTF)
		if fontErr != nil {
			return
		}
		boldFont, fontErr = truetype.Parse(gobold.TTF)
	})
	return fontErr
}

func face(f *truetype.Font, size float64) font.Face {
	return truetype.NewFace(f, &truetype.Options{
		Size:    size,
		DPI:     72,
		Hinting: font.HintingNone,
	})
}

// RenderPlaceholder draws a text card of the caption. Identical input yields identical bytes.
func RenderPlaceholder(req Request, width, height int) ([]byte, error) {
	if err := loadFonts(); err != nil {
		return nil, fmt.Errorf("load fonts: %w", err)
	}
	bg, accent := palette(req)

	dc := gg.NewContext(width, height)
	dc.SetColor(bg)
	dc.DrawRectangle(0, 0, float64(width), float64(height))
	dc.Fill()

	w := float64(width)
	h := float64(height)
	dc.SetColor(accent)
	dc.DrawRectangle(0, h-h*0.04, w, h*0.04)
	dc.Fill()

	margin := w * 0.08
	textColor := contrastColor(bg)

	headline := strings.TrimSpace(req.OverlayText)
	if headline == "" {
		headline = firstWords(req.Caption, 10)
	}
	dc.SetFontFace(face(boldFont, w*0.05))
	dc.SetColor(textColor)
	dc.DrawStringWrapped(headline, w/2, h*0.38, 0.5, 0.5, w-2*margin, 1.3, gg.AlignCenter)

	body := firstWords(req.Caption, 40)
	if body != "" && body != headline {
		dc.SetFontFace(face(regularFont, w*0.022))
		dc.DrawStringWrapped(body, w/2, h*0.68, 0.5, 0.5, w-2*margin, 1.4, gg.AlignCenter)
	}

	var buf bytes.Buffer
	if err := dc.EncodePNG(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func solidCard(req Request, width, height int) []byte {
	bg, _ := palette(req)
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetNRGBA(x, y, bg)
		}
	}
	var buf bytes.Buffer
	_ = png.Encode(&buf, img)
	return buf.Bytes()
}

// palette picks the brand's first two colors, or derives a stable pair from the caption.
func palette(req Request) (color.NRGBA, color.NRGBA) {
	var parsed []color.NRGBA
	for _, c := range req.Colors {
		if col, err := parseHex(c); err == nil {
			parsed = append(parsed, col)
		}
	}
	sum := sha256.Sum256([]byte(req.Caption))
	derived := color.NRGBA{R: 40 + sum[0]%120, G: 40 + sum[1]%120, B: 60 + sum[2]%140, A: 255}
	switch len(parsed) {
	case 0:
		return derived, color.NRGBA{R: 255 - derived.R, G: 255 - derived.G, B: 255 - derived.B, A: 255}
	case 1:
		return parsed[0], contrastColor(parsed[0])
	default:
		return parsed[0], parsed[1]
	}
}

func parseHex(s string) (color.NRGBA, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(s) != 6 {
		return color.NRGBA{}, fmt.Errorf("expected 6 hex chars")
	}
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != 3 {
		return color.NRGBA{}, fmt.Errorf("invalid hex")
	}
	return color.NRGBA{R: raw[0], G: raw[1], B: raw[2], A: 255}, nil
}

func contrastColor(c color.NRGBA) color.NRGBA {
	luminance := 0.299*float64(c.R) + 0.587*float64(c.G) + 0.114*float64(c.B)
	if luminance > 150 {
		return color.NRGBA{R: 20, G: 20, B: 20, A: 255}
	}
	return color.NRGBA{R: 255, G: 255, B: 255, A: 255}
}

func firstWords(s string, n int) string {
	words := strings.Fields(s)
	if len(words) <= n {
		return strings.Join(words, " ")
	}
	return strings.Join(words[:n], " ") + "..."
}
