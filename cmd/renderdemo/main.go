package main

import (
	"bytes"
	"flag"
	"fmt"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"brandpost-backend/internal/imagegen"
)

func main() {
	outDir := flag.String("out", "./out", "directory for generated placeholder cards")
	caption := flag.String("caption", "Three ways our team ships faster without burning out.", "caption to render")
	colors := flag.String("colors", "#0A66C2,#F5F5F5", "comma separated brand colors")
	flag.Parse()

	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "create output dir: %v\n", err)
		os.Exit(1)
	}

	for _, platform := range []string{"linkedin", "instagram"} {
		width, height := imagegen.Dimensions(platform)
		data, err := imagegen.RenderPlaceholder(imagegen.Request{
			Caption:     *caption,
			OverlayText: *caption,
			Platform:    platform,
			Colors:      splitColors(*colors),
		}, width, height)
		if err != nil {
			fmt.Fprintf(os.Stderr, "render %s failed: %v\n", platform, err)
			os.Exit(1)
		}
		if err := validatePNG(data, width, height); err != nil {
			fmt.Fprintf(os.Stderr, "render validation failed for %s: %v\n", platform, err)
			os.Exit(1)
		}
		path := filepath.Join(*outDir, "placeholder_"+platform+".png")
		if err := os.WriteFile(path, data, 0o644); err != nil {
			fmt.Fprintf(os.Stderr, "write failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("OK: wrote %s (%dx%d)\n", path, width, height)
	}
}

func splitColors(raw string) []string {
	var out []string
	for _, c := range strings.Split(raw, ",") {
		if c = strings.TrimSpace(c); c != "" {
			out = append(out, c)
		}
	}
	return out
}

func validatePNG(data []byte, width, height int) error {
	cfg, err := png.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return err
	}
	if cfg.Width != width || cfg.Height != height {
		return fmt.Errorf("unexpected size %dx%d", cfg.Width, cfg.Height)
	}
	return nil
}
