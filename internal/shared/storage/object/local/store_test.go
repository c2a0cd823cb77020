package local

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"brandpost-backend/internal/shared/storage/object"
)

func TestPutOpenRoundTrip(t *testing.T) {
	store := New(t.TempDir())
	ctx := context.Background()

	n, err := store.Put(ctx, "exports/owner/s1/e1/caption.txt", "text/plain", strings.NewReader("hello"))
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if n != 5 {
		t.Fatalf("expected 5 bytes written, got %d", n)
	}
	// Overwrite replaces the object.
	if _, err := store.Put(ctx, "exports/owner/s1/e1/caption.txt", "text/plain", strings.NewReader("bye")); err != nil {
		t.Fatalf("put overwrite: %v", err)
	}

	rc, err := store.Open(ctx, "exports/owner/s1/e1/caption.txt")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer rc.Close()
	body, _ := io.ReadAll(rc)
	if string(body) != "bye" {
		t.Fatalf("unexpected body %q", body)
	}
}

func TestSaveSniffsMimeAndNamespacesOwner(t *testing.T) {
	store := New(t.TempDir())
	key, size, mime, err := store.Save(context.Background(), "guest:abc", "guide lines.txt", strings.NewReader("Our voice is warm."))
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if !strings.HasPrefix(key, "uploads/") || !strings.HasSuffix(key, "_guide lines.txt") {
		t.Fatalf("unexpected key %q", key)
	}
	if size != int64(len("Our voice is warm.")) {
		t.Fatalf("unexpected size %d", size)
	}
	if !strings.HasPrefix(mime, "text/plain") {
		t.Fatalf("unexpected mime %q", mime)
	}
}

func TestRejectsTraversal(t *testing.T) {
	store := New(t.TempDir())
	if _, err := store.Put(context.Background(), "../escape.txt", "text/plain", strings.NewReader("x")); !errors.Is(err, object.ErrInvalidKey) {
		t.Fatalf("expected invalid key, got %v", err)
	}
	if _, err := store.Open(context.Background(), "../../etc/passwd"); !errors.Is(err, object.ErrInvalidKey) {
		t.Fatalf("expected invalid key, got %v", err)
	}
}
