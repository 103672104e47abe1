package embedder

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewUnknownBackend(t *testing.T) {
	_, err := New(Config{Backend: "cohere"})
	require.Error(t, err)
}

func TestMockEmbedderDeterministic(t *testing.T) {
	e := NewMockEmbedder("mock-embed", "1", 8)

	first, err := e.Embed(context.Background(), []string{"hello", "world"})
	require.NoError(t, err)
	second, err := e.Embed(context.Background(), []string{"hello", "world"})
	require.NoError(t, err)

	require.Len(t, first, 2)
	assert.Equal(t, first, second, "same text must embed to the same vector")
	assert.NotEqual(t, first[0], first[1])
	assert.Len(t, first[0], 8)
}

func TestMockEmbedderVersionChangesVectors(t *testing.T) {
	v1 := NewMockEmbedder("mock-embed", "1", 8)
	v2 := NewMockEmbedder("mock-embed", "2", 8)

	a, err := v1.Embed(context.Background(), []string{"hello"})
	require.NoError(t, err)
	b, err := v2.Embed(context.Background(), []string{"hello"})
	require.NoError(t, err)

	assert.NotEqual(t, a[0], b[0], "a new generation must produce different vectors")
}

func TestMockEmbedderEmptyInput(t *testing.T) {
	e := NewMockEmbedder("mock-embed", "1", 8)
	vecs, err := e.Embed(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, vecs)
	assert.Zero(t, e.Calls())
}

func TestBoundedPreservesIdentity(t *testing.T) {
	e := Bounded(NewMockEmbedder("mock-embed", "3", 4), 2)

	assert.Equal(t, "mock-embed", e.Model())
	assert.Equal(t, "3", e.Version())
	assert.Equal(t, 4, e.Dimension())

	vecs, err := e.Embed(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)
}
