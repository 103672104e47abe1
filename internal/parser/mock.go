package parser

import (
	"context"
	"sync"
)

// MockParser records submissions and never calls back. Tests drive the
// callback path themselves to exercise specific outcomes.
type MockParser struct {
	mu          sync.Mutex
	submissions []Submission

	// SubmitErr, when set, is returned by Submit.
	SubmitErr error
}

func NewMockParser() *MockParser {
	return &MockParser{}
}

func (p *MockParser) Submit(ctx context.Context, sub Submission) error {
	if p.SubmitErr != nil {
		return p.SubmitErr
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.submissions = append(p.submissions, sub)
	return nil
}

// Submissions returns a copy of everything submitted so far.
func (p *MockParser) Submissions() []Submission {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Submission, len(p.submissions))
	copy(out, p.submissions)
	return out
}
