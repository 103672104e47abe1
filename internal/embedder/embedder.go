// Package embedder turns chunk text into vectors. The embedding service is
// synchronous; callers see a plain request-response interface decorated with
// caching and a concurrency bound.
package embedder

import (
	"context"
	"fmt"
)

const (
	BackendOpenAI = "openai"
	BackendMock   = "mock"
)

// Embedder produces one vector per input text, in input order. Model and
// Version identify the embedding generation; vectors from different
// generations are never interchangeable.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Model() string
	Version() string
	Dimension() int
}

// Config selects and parameterizes an embedder backend.
type Config struct {
	Backend       string
	OpenAIKey     string
	OpenAIBaseURL string
	Model         string
	Version       string
	Dimension     int
	BatchSize     int
	MaxConcurrent int
}

// New builds the configured backend and wraps it with the concurrency
// bound. Callers layer the cache on top where a redis client is available.
func New(cfg Config) (Embedder, error) {
	var base Embedder
	switch cfg.Backend {
	case BackendOpenAI:
		base = NewOpenAIEmbedder(cfg)
	case BackendMock:
		base = NewMockEmbedder(cfg.Model, cfg.Version, cfg.Dimension)
	default:
		return nil, fmt.Errorf("unknown embedder backend %q", cfg.Backend)
	}
	if cfg.MaxConcurrent > 0 {
		base = Bounded(base, cfg.MaxConcurrent)
	}
	return base, nil
}
