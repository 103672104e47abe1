package embedder

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"sync/atomic"
)

// MockEmbedder derives vectors from a hash of the input text. The same text
// always yields the same vector, which lets tests assert on cache hits and
// vector hashes without a network call.
type MockEmbedder struct {
	model     string
	version   string
	dimension int
	calls     atomic.Int64
}

func NewMockEmbedder(model, version string, dimension int) *MockEmbedder {
	if model == "" {
		model = "mock-embed"
	}
	if version == "" {
		version = "1"
	}
	if dimension <= 0 {
		dimension = 8
	}
	return &MockEmbedder{model: model, version: version, dimension: dimension}
}

func (e *MockEmbedder) Model() string   { return e.model }
func (e *MockEmbedder) Version() string { return e.version }
func (e *MockEmbedder) Dimension() int  { return e.dimension }

// Calls reports how many Embed invocations reached the backend.
func (e *MockEmbedder) Calls() int64 { return e.calls.Load() }

func (e *MockEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	e.calls.Add(1)

	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		sum := sha256.Sum256([]byte(e.model + "\x00" + e.version + "\x00" + text))
		vec := make([]float32, e.dimension)
		for d := 0; d < e.dimension; d++ {
			bits := binary.BigEndian.Uint32(sum[(d*4)%len(sum):])
			vec[d] = float32(bits%2000)/1000 - 1
		}
		vectors[i] = vec
	}
	return vectors, nil
}
