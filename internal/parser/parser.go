// Package parser submits documents to the parsing service. Parsing is
// asynchronous: Submit hands the document off, and the result arrives later
// through the parse callback endpoint. The local backend runs extraction
// in-process and drives the same callback path, so the rest of the pipeline
// cannot tell the difference.
package parser

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/inkwelldata/docpipe/internal/storage"
)

const (
	BackendHTTP  = "http"
	BackendLocal = "local"
	BackendMock  = "mock"
)

// Submission describes one parse request.
type Submission struct {
	JobID          uuid.UUID
	DocumentID     uuid.UUID
	RawPath        string
	ParsedPath     string
	MimeType       string
	CallbackURL    string
	CallbackSecret string
}

// Callback is the parse outcome delivered back to the pipeline.
type Callback struct {
	JobID       uuid.UUID `json:"job_id"`
	Secret      string    `json:"secret"`
	Status      string    `json:"status"` // succeeded or failed
	ParsedPath  string    `json:"parsed_path,omitempty"`
	ContentHash string    `json:"content_hash,omitempty"`
	PageCount   int       `json:"page_count,omitempty"`
	Error       string    `json:"error,omitempty"`
}

const (
	CallbackSucceeded = "succeeded"
	CallbackFailed    = "failed"
)

// CallbackFunc receives parse outcomes. The HTTP receiver satisfies it for
// external services; the local backend calls it directly.
type CallbackFunc func(ctx context.Context, cb Callback) error

// Service submits parse work. Submit returns once the request is accepted;
// the outcome arrives via callback.
type Service interface {
	Submit(ctx context.Context, sub Submission) error
}

// Config selects and parameterizes a parser backend.
type Config struct {
	Backend       string
	URL           string
	SubmitTimeout int // seconds, http backend only
}

// Deps carries the collaborators a backend may need.
type Deps struct {
	Storage  storage.Storage
	Callback CallbackFunc
	Logger   *slog.Logger
}

// New builds the configured parser backend. The backend set is closed. deps
// are only consulted by the backends that need them.
func New(cfg Config, deps Deps) (Service, error) {
	switch cfg.Backend {
	case BackendHTTP:
		return NewHTTPParser(cfg.URL, cfg.SubmitTimeout), nil
	case BackendLocal:
		if deps.Storage == nil || deps.Callback == nil {
			return nil, fmt.Errorf("local parser requires storage and callback wiring")
		}
		return NewLocalParser(deps.Storage, deps.Callback, deps.Logger), nil
	case BackendMock:
		return NewMockParser(), nil
	default:
		return nil, fmt.Errorf("unknown parser backend %q", cfg.Backend)
	}
}
