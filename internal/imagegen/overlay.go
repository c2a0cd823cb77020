package imagegen

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	"strings"

	"github.com/fogleman/gg"
)

// Overlay draws text centered in the upper third of a generated background, with a
// drop shadow so it stays readable on busy images. The result is always PNG.
func Overlay(data []byte, text string) ([]byte, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return data, nil
	}
	if err := loadFonts(); err != nil {
		return nil, fmt.Errorf("load fonts: %w", err)
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	dc := gg.NewContextForImage(img)
	w := float64(dc.Width())
	h := float64(dc.Height())
	margin := w * 0.08
	shadow := w * 0.003
	if shadow < 1 {
		shadow = 1
	}

	dc.SetFontFace(face(boldFont, w*0.06))
	dc.SetColor(color.NRGBA{A: 200})
	dc.DrawStringWrapped(text, w/2+shadow, h/3+shadow, 0.5, 0, w-2*margin, 1.25, gg.AlignCenter)
	dc.SetColor(contrastColor(color.NRGBA{A: 255}))
	dc.DrawStringWrapped(text, w/2, h/3, 0.5, 0, w-2*margin, 1.25, gg.AlignCenter)

	var buf bytes.Buffer
	if err := dc.EncodePNG(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
