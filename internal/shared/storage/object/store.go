package object

import (
	"context"
	"errors"
	"io"
	"path"
	"strings"
)

// ErrInvalidKey is returned for keys that escape the store root.
var ErrInvalidKey = errors.New("invalid storage key")

// ObjectStore persists generated images, uploaded guideline documents and exports.
type ObjectStore interface {
	// Save stores an upload under the owner's namespace with a random prefix and sniffs its MIME type.
	Save(ctx context.Context, owner, fileName string, r io.Reader) (storageKey string, sizeBytes int64, mimeType string, err error)
	// Put writes r at an exact key, replacing any previous object.
	Put(ctx context.Context, storageKey, contentType string, r io.Reader) (int64, error)
	Open(ctx context.Context, storageKey string) (io.ReadCloser, error)
}

// CleanKey normalizes a slash-separated key and rejects traversal.
func CleanKey(key string) (string, error) {
	trimmed := strings.TrimSpace(strings.ReplaceAll(key, "\\", "/"))
	if trimmed == "" {
		return "", ErrInvalidKey
	}
	clean := path.Clean("/" + trimmed)[1:]
	if clean == "" || strings.Contains(trimmed, "..") {
		return "", ErrInvalidKey
	}
	return clean, nil
}

// Join builds a key from segments.
func Join(parts ...string) string {
	return path.Join(parts...)
}
