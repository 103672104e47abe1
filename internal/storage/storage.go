// Package storage abstracts the blob store holding raw uploads and parsed
// artifacts. Paths are a pure function of owner and document identity, so a
// rerun of any stage writes to the same location.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path"
)

var ErrObjectNotFound = errors.New("object not found")

const (
	BackendSupabase = "supabase"
	BackendMemory   = "memory"
)

const (
	KindRaw    = "raw"
	KindParsed = "parsed"
)

type Storage interface {
	Put(ctx context.Context, objectPath string, data io.Reader, contentType string) error
	Get(ctx context.Context, objectPath string) (io.ReadCloser, error)
	Exists(ctx context.Context, objectPath string) (bool, error)
	PublicURL(objectPath string) string
}

type Config struct {
	Backend     string
	SupabaseURL string
	SupabaseKey string
	Bucket      string
}

// New builds the configured storage backend. The backend set is closed.
func New(cfg Config) (Storage, error) {
	switch cfg.Backend {
	case BackendSupabase:
		return NewSupabaseStorage(cfg.SupabaseURL, cfg.SupabaseKey, cfg.Bucket), nil
	case BackendMemory:
		return NewMemoryStorage(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

// ObjectPath derives the canonical location of a document artifact. The same
// (user, kind, document) triple always maps to the same path.
func ObjectPath(userID, kind, documentID, ext string) string {
	return path.Join("user", userID, kind, documentID+ext)
}

// ExtForMime picks a filename extension for a stored artifact.
func ExtForMime(mimeType string) string {
	switch mimeType {
	case "application/pdf":
		return ".pdf"
	case "text/plain":
		return ".txt"
	case "text/markdown":
		return ".md"
	}
	if exts, err := mime.ExtensionsByType(mimeType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ".bin"
}
