package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHappyPathTransitions(t *testing.T) {
	path := []JobStatus{
		StatusUploaded, StatusParseQueued, StatusParsed, StatusParseValidated,
		StatusChunking, StatusChunksStored, StatusEmbeddingQueued,
		StatusEmbeddingInProgress, StatusEmbeddingsStored, StatusComplete,
	}
	for i := 0; i < len(path)-1; i++ {
		assert.True(t, CanTransition(path[i], path[i+1]), "%s -> %s", path[i], path[i+1])
	}
}

func TestIllegalTransitions(t *testing.T) {
	cases := []struct{ from, to JobStatus }{
		{StatusUploaded, StatusParsed},
		{StatusUploaded, StatusComplete},
		{StatusParseValidated, StatusEmbeddingQueued},
		{StatusComplete, StatusUploaded},
		{StatusFailedParse, StatusParsed},
		{StatusEmbeddingsStored, StatusEmbeddingQueued},
	}
	for _, c := range cases {
		assert.False(t, CanTransition(c.from, c.to), "%s -> %s must be illegal", c.from, c.to)
	}
}

func TestRetryEdges(t *testing.T) {
	assert.True(t, CanTransition(StatusParseQueued, StatusUploaded))
	assert.True(t, CanTransition(StatusParsed, StatusUploaded))
	assert.True(t, CanTransition(StatusChunking, StatusParseValidated))
	assert.True(t, CanTransition(StatusEmbeddingInProgress, StatusEmbeddingQueued))
}

func TestFailureEdges(t *testing.T) {
	assert.True(t, CanTransition(StatusParseQueued, StatusFailedParse))
	assert.True(t, CanTransition(StatusChunking, StatusFailedChunking))
	assert.True(t, CanTransition(StatusEmbeddingInProgress, StatusFailedEmbedding))
}

func TestTerminal(t *testing.T) {
	for _, s := range []JobStatus{StatusComplete, StatusFailedParse, StatusFailedChunking, StatusFailedEmbedding} {
		assert.True(t, s.Terminal(), "%s", s)
	}
	for _, s := range []JobStatus{StatusUploaded, StatusParseQueued, StatusChunking, StatusEmbeddingsStored} {
		assert.False(t, s.Terminal(), "%s", s)
	}
}

func TestRetryTarget(t *testing.T) {
	assert.Equal(t, StatusUploaded, RetryTarget(StatusParseQueued))
	assert.Equal(t, StatusUploaded, RetryTarget(StatusFailedParse))
	assert.Equal(t, StatusParseValidated, RetryTarget(StatusChunking))
	assert.Equal(t, StatusParseValidated, RetryTarget(StatusFailedChunking))
	assert.Equal(t, StatusEmbeddingQueued, RetryTarget(StatusEmbeddingInProgress))
	assert.Equal(t, StatusEmbeddingQueued, RetryTarget(StatusFailedEmbedding))
}

func TestFailureTarget(t *testing.T) {
	assert.Equal(t, StatusFailedParse, FailureTarget(StatusParseQueued))
	assert.Equal(t, StatusFailedChunking, FailureTarget(StatusChunking))
	assert.Equal(t, StatusFailedEmbedding, FailureTarget(StatusEmbeddingInProgress))
}

func TestClaimableStatusesExcludesParseQueued(t *testing.T) {
	for _, s := range ClaimableStatuses() {
		assert.NotEqual(t, StatusParseQueued, s, "parse_queued awaits a callback, not a worker")
		assert.False(t, s.Terminal())
	}
}
