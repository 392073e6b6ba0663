package embed

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math/rand"
	"sync"
)

// MockEmbedder generates deterministic pseudo-random embeddings.
// The vector for a text is seeded from a stable hash of the text, so the
// same input always yields the same vector. Works without any model.
type MockEmbedder struct {
	dim int

	mu     sync.RWMutex
	closed bool
}

// NewMockEmbedder creates a mock embedder with the default dimension.
func NewMockEmbedder() *MockEmbedder {
	return NewMockEmbedderWithDim(MockDimensions)
}

// NewMockEmbedderWithDim creates a mock embedder with the given dimension.
func NewMockEmbedderWithDim(dim int) *MockEmbedder {
	if dim <= 0 {
		dim = MockDimensions
	}
	return &MockEmbedder{dim: dim}
}

// vecFor derives a unit-norm vector from the text. The seed is the first
// 8 bytes of SHA-256(text), so vectors are stable across processes.
func (e *MockEmbedder) vecFor(text string) []float32 {
	h := sha256.Sum256([]byte(text))
	seed := binary.BigEndian.Uint64(h[:8])

	rng := rand.New(rand.NewSource(int64(seed)))
	v := make([]float32, e.dim)
	for i := range v {
		v[i] = float32(rng.Float64()*2 - 1)
	}
	return normalizeVector(v)
}

// EmbedTexts generates embeddings for a batch of texts.
func (e *MockEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return nil, fmt.Errorf("embedder is closed")
	}
	e.mu.RUnlock()

	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	results := make([][]float32, len(texts))
	for i, t := range texts {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		results[i] = e.vecFor(t)
	}
	return results, nil
}

// EmbedQuery generates an embedding for a single query string.
func (e *MockEmbedder) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	vecs, err := e.EmbedTexts(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// Dimensions returns the embedding dimension.
func (e *MockEmbedder) Dimensions() int {
	return e.dim
}

// ModelName returns the model identifier.
func (e *MockEmbedder) ModelName() string {
	return fmt.Sprintf("mock-hash-%d", e.dim)
}

// Available checks if the embedder is ready (always true unless closed).
func (e *MockEmbedder) Available(_ context.Context) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return !e.closed
}

// Close releases resources.
func (e *MockEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

var _ Embedder = (*MockEmbedder)(nil)
