package extract

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"brandpost-backend/internal/shared/storage/object/local"
)

func buildDocx(t *testing.T, body string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("word/document.xml")
	if err != nil {
		t.Fatalf("create docx entry: %v", err)
	}
	if _, err := w.Write([]byte(body)); err != nil {
		t.Fatalf("write docx entry: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close docx: %v", err)
	}
	return buf.Bytes()
}

func TestExtractTextFromBytes(t *testing.T) {
	docx := buildDocx(t, `<w:document xmlns:w="x"><w:body><w:p><w:r><w:t>Be warm.</w:t></w:r></w:p><w:p><w:r><w:t>Avoid jargon.</w:t></w:r></w:p></w:body></w:document>`)

	tests := []struct {
		name     string
		data     []byte
		mime     string
		fileName string
		want     string
	}{
		{name: "plain text", data: []byte("  Friendly and direct.\n"), mime: "text/plain; charset=utf-8", fileName: "voice.txt", want: "Friendly and direct."},
		{name: "txt by extension", data: []byte("Short sentences."), mime: "application/octet-stream", fileName: "voice.txt", want: "Short sentences."},
		{name: "markdown by extension", data: []byte("# Voice\n\nWe are **bold** and\nkind.\n\n- Use `emoji` sparingly\n"), mime: "text/plain", fileName: "guide.md", want: "Voice\nWe are bold and kind.\nUse emoji sparingly"},
		{name: "markdown by mime", data: []byte("## Colors\n\nNavy and coral."), mime: "text/x-markdown", fileName: "guide", want: "Colors\nNavy and coral."},
		{name: "docx", data: docx, mime: mimeDOCX, fileName: "guide.docx", want: "Be warm.\nAvoid jargon."},
		{name: "docx sent as zip", data: docx, mime: "application/zip", fileName: "guide.docx", want: "Be warm.\nAvoid jargon."},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ExtractTextFromBytes(context.Background(), tt.data, tt.mime, tt.fileName)
			if err != nil {
				t.Fatalf("extract: %v", err)
			}
			if got != tt.want {
				t.Fatalf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExtractTextFromBytes_Rejects(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("notes.txt")
	if err != nil {
		t.Fatalf("create zip entry: %v", err)
	}
	if _, err := w.Write([]byte("hello")); err != nil {
		t.Fatalf("write zip entry: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}

	tests := []struct {
		name string
		data []byte
		mime string
		file string
	}{
		{name: "real zip", data: buf.Bytes(), mime: "application/zip", file: "notes.zip"},
		{name: "image", data: []byte("\x89PNG"), mime: "image/png", file: "logo.png"},
		{name: "invalid utf8", data: []byte{0xff, 0xfe, 0xfd}, mime: "text/plain", file: "x.txt"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := ExtractTextFromBytes(context.Background(), tt.data, tt.mime, tt.file)
			if !errors.Is(err, ErrUnsupported) {
				t.Fatalf("expected ErrUnsupported, got %v", err)
			}
		})
	}
}

func TestExtractTextSavesDerivedCopy(t *testing.T) {
	ctx := context.Background()
	store := local.New(t.TempDir())
	key, _, _, err := store.Save(ctx, "guest:abc", "guide.md", strings.NewReader("# Tone\n\nCalm."))
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := ExtractText(ctx, store, key, "text/markdown", "guide.md")
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if got != "Tone\nCalm." {
		t.Fatalf("unexpected text %q", got)
	}

	rc, err := store.Open(ctx, key+".extracted.txt")
	if err != nil {
		t.Fatalf("open derived copy: %v", err)
	}
	defer rc.Close()
	derived, _ := io.ReadAll(rc)
	if string(derived) != got {
		t.Fatalf("derived copy %q differs from %q", derived, got)
	}
}

func TestExtractTextHonorsCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := ExtractTextFromBytes(ctx, []byte("x"), "text/plain", "x.txt"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected canceled, got %v", err)
	}
}
