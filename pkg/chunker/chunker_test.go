package chunker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewUnknownStrategy(t *testing.T) {
	_, err := New("semantic", DefaultOptions())
	require.Error(t, err)
}

func TestFixedChunkerDeterministic(t *testing.T) {
	c, err := New(StrategyFixed, Options{ChunkSize: 10, ChunkOverlap: 2, Version: "1"})
	require.NoError(t, err)

	text := strings.Repeat("abcdefghij", 5)
	first := c.Chunk(text)
	second := c.Chunk(text)

	require.NotEmpty(t, first)
	assert.Equal(t, first, second, "same input must produce identical chunks")
	for i, ch := range first {
		assert.Equal(t, i, ch.Index)
	}
}

func TestFixedChunkerOverlap(t *testing.T) {
	c, err := New(StrategyFixed, Options{ChunkSize: 10, ChunkOverlap: 4, Version: "1"})
	require.NoError(t, err)

	chunks := c.Chunk("0123456789abcdefghij")
	require.GreaterOrEqual(t, len(chunks), 2)
	// Step is size-overlap, so the second chunk starts at offset 6.
	assert.True(t, strings.HasPrefix(chunks[1].Content, "6789"))
}

func TestRecursiveChunkerPrefersParagraphs(t *testing.T) {
	c, err := New(StrategyRecursive, Options{ChunkSize: 30, Version: "1"})
	require.NoError(t, err)

	text := "first paragraph here\n\nsecond paragraph here\n\nthird paragraph here"
	chunks := c.Chunk(text)

	require.Len(t, chunks, 3)
	assert.Equal(t, "first paragraph here", chunks[0].Content)
	assert.Equal(t, "second paragraph here", chunks[1].Content)
}

func TestRecursiveChunkerShortInputSingleChunk(t *testing.T) {
	c, err := New(StrategyRecursive, Options{ChunkSize: 1000, Version: "1"})
	require.NoError(t, err)

	chunks := c.Chunk("tiny")
	require.Len(t, chunks, 1)
	assert.Equal(t, "tiny", chunks[0].Content)
}

func TestRecursiveChunkerEmptyInput(t *testing.T) {
	c, err := New(StrategyRecursive, DefaultOptions())
	require.NoError(t, err)
	assert.Empty(t, c.Chunk(""))
	assert.Empty(t, c.Chunk("   \n\n  "))
}

func TestSentenceChunkerGroupsSentences(t *testing.T) {
	c, err := New(StrategySentence, Options{ChunkSize: 40, Version: "1"})
	require.NoError(t, err)

	text := "One short sentence. Another short one. A third sentence follows here. And a fourth."
	chunks := c.Chunk(text)

	require.GreaterOrEqual(t, len(chunks), 2)
	for _, ch := range chunks {
		assert.NotEmpty(t, strings.TrimSpace(ch.Content))
	}
}

func TestNameAndVersion(t *testing.T) {
	for _, strategy := range []string{StrategyFixed, StrategyRecursive, StrategySentence} {
		c, err := New(strategy, Options{ChunkSize: 100, Version: "2"})
		require.NoError(t, err)
		assert.Equal(t, strategy, c.Name())
		assert.Equal(t, "2", c.Version())
	}
}
