// Package identity derives deterministic identifiers and content hashes for
// pipeline entities. Every function here is pure: the same logical input
// always yields the same identifier, regardless of process or machine, which
// is what makes retries and re-uploads idempotent without locks.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Namespace for all derived UUIDs. Changing this invalidates every stored
// identifier, so it is fixed for the lifetime of the schema.
var namespace = uuid.MustParse("9f2c1d6e-4b8a-4f53-9c77-2d35a0c8e1b4")

// DocumentID derives the document identifier from the owning user and the
// content hash of the raw bytes. Identical bytes uploaded by the same user
// always map to the same document.
func DocumentID(userID, fileHash string) uuid.UUID {
	return derive(fmt.Sprintf("%s:%s", userID, fileHash))
}

// ChunkID derives the chunk identifier from the document, the chunker
// identity and the chunk's ordinal position. Reprocessing a document with the
// same chunker version reproduces the same IDs.
func ChunkID(documentID uuid.UUID, chunkerName, chunkerVersion string, ordinal int) uuid.UUID {
	return derive(fmt.Sprintf("%s:%s:%s:%d", documentID, chunkerName, chunkerVersion, ordinal))
}

// ParseID derives the identifier of a parse result from the document and the
// parser identity.
func ParseID(documentID uuid.UUID, parserName, parserVersion string) uuid.UUID {
	return derive(fmt.Sprintf("%s:%s:%s", documentID, parserName, parserVersion))
}

// ContentHash returns the SHA-256 hex digest of data. Empty input hashes the
// empty byte string rather than being skipped.
func ContentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// VectorHash returns the SHA-256 hex digest of a canonical serialization of
// the vector: components in order, shortest round-trip float formatting,
// comma separated.
func VectorHash(vector []float32) string {
	var b strings.Builder
	for i, v := range vector {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(v), 'g', -1, 32))
	}
	return ContentHash([]byte(b.String()))
}

func derive(s string) uuid.UUID {
	return uuid.NewSHA1(namespace, []byte(Canonicalize(s)))
}

// Canonicalize lowercases the input, strips control characters (code points
// below 32) and collapses whitespace runs to single spaces.
func Canonicalize(s string) string {
	s = strings.ToLower(s)
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r < 32 {
			continue
		}
		b.WriteRune(r)
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
