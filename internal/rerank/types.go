// Package rerank scores (query, text) pairs for second-stage retrieval
// ranking. Backends are either rule-based (deterministic heuristics) or
// model-based (cross-encoder behind a local server).
package rerank

import (
	"context"
)

// Kind classifies a reranker implementation.
type Kind string

const (
	// KindRule marks deterministic, heuristic rerankers. Retrieval applies
	// its additional rule-based lift only on top of this kind.
	KindRule Kind = "rule"
	// KindModel marks cross-encoder model rerankers.
	KindModel Kind = "model"
)

// Reranker scores candidate texts against a query. Higher is better.
type Reranker interface {
	// Rerank returns one score per text, in input order.
	Rerank(ctx context.Context, query string, texts []string) ([]float64, error)

	// ModelName returns the model identifier.
	ModelName() string

	// Kind reports whether scores come from rules or a model.
	Kind() Kind
}
