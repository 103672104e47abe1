package identity

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestDocumentIDDeterministic(t *testing.T) {
	hash := ContentHash([]byte("file bytes"))

	a := DocumentID("user-1", hash)
	b := DocumentID("user-1", hash)
	assert.Equal(t, a, b)

	other := DocumentID("user-2", hash)
	assert.NotEqual(t, a, other, "document identity is scoped to the user")
}

func TestChunkIDVariesByVersionAndOrdinal(t *testing.T) {
	docID := DocumentID("user-1", ContentHash([]byte("x")))

	base := ChunkID(docID, "recursive", "1", 0)
	assert.Equal(t, base, ChunkID(docID, "recursive", "1", 0))
	assert.NotEqual(t, base, ChunkID(docID, "recursive", "1", 1))
	assert.NotEqual(t, base, ChunkID(docID, "recursive", "2", 0))
	assert.NotEqual(t, base, ChunkID(docID, "fixed", "1", 0))
}

func TestParseIDDeterministic(t *testing.T) {
	docID := uuid.MustParse("3c9e6d44-97d1-4a6e-9f1c-08a94c2e1b77")
	assert.Equal(t, ParseID(docID, "docparse", "1"), ParseID(docID, "docparse", "1"))
	assert.NotEqual(t, ParseID(docID, "docparse", "1"), ParseID(docID, "docparse", "2"))
}

func TestContentHash(t *testing.T) {
	// Known SHA-256 of the empty string.
	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", ContentHash(nil))
	assert.Equal(t, ContentHash([]byte("a")), ContentHash([]byte("a")))
	assert.NotEqual(t, ContentHash([]byte("a")), ContentHash([]byte("b")))
}

func TestVectorHash(t *testing.T) {
	a := VectorHash([]float32{0.1, 0.2, 0.3})
	assert.Equal(t, a, VectorHash([]float32{0.1, 0.2, 0.3}))
	assert.NotEqual(t, a, VectorHash([]float32{0.1, 0.2, 0.30001}))
	assert.NotEqual(t, VectorHash([]float32{1, 2}), VectorHash([]float32{2, 1}), "order matters")
}

func TestCanonicalize(t *testing.T) {
	assert.Equal(t, "hello world", Canonicalize("  Hello \t\n World "))
	assert.Equal(t, "abc", Canonicalize("A\x01B\x02C"))
	assert.Equal(t, "", Canonicalize("\x00\x1f"))
}
