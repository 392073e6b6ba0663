package rerank

import (
	"context"
	"math"
	"regexp"
	"strings"
)

// querySplitRe splits a query into candidate tokens on whitespace and
// common CJK/latin punctuation.
var querySplitRe = regexp.MustCompile(`[\s,，。；;、/]+`)

// CountHits counts occurrences of query tokens (length >= 2 runes) in text.
func CountHits(query, text string) int {
	hits := 0
	for _, token := range querySplitRe.Split(strings.TrimSpace(query), -1) {
		token = strings.TrimSpace(token)
		if token == "" || len([]rune(token)) < 2 {
			continue
		}
		hits += strings.Count(text, token)
	}
	return hits
}

// MockReranker scores texts with a term-hit count plus a length penalty.
// Deterministic, no model required.
type MockReranker struct{}

// NewMockReranker creates a rule-based mock reranker.
func NewMockReranker() *MockReranker {
	return &MockReranker{}
}

// Rerank returns hits*2.0 plus a 1/(1+ln(1+len)) length term per text.
func (r *MockReranker) Rerank(_ context.Context, query string, texts []string) ([]float64, error) {
	scores := make([]float64, len(texts))
	for i, t := range texts {
		hits := CountHits(query, t)
		n := len([]rune(t))
		if n < 1 {
			n = 1
		}
		lengthPenalty := 1.0 / (1.0 + math.Log(1+float64(n)))
		scores[i] = float64(hits)*2.0 + lengthPenalty
	}
	return scores, nil
}

// ModelName returns the model identifier.
func (r *MockReranker) ModelName() string {
	return "mock-weighted"
}

// Kind reports the rule-based kind.
func (r *MockReranker) Kind() Kind {
	return KindRule
}

var _ Reranker = (*MockReranker)(nil)
