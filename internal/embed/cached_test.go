package embed

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStore is an in-memory CacheStore for tests.
type memStore struct {
	mu   sync.Mutex
	rows map[string][]float32
	puts int
}

func newMemStore() *memStore {
	return &memStore{rows: make(map[string][]float32)}
}

func (m *memStore) GetEmbedding(_ context.Context, key string) ([]float32, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.rows[key]
	return v, ok, nil
}

func (m *memStore) PutEmbedding(_ context.Context, key, _ string, vector []float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[key] = vector
	m.puts++
	return nil
}

// countingEmbedder wraps MockEmbedder counting inner calls.
type countingEmbedder struct {
	*MockEmbedder
	calls int
}

func (c *countingEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	c.calls++
	return c.MockEmbedder.EmbedTexts(ctx, texts)
}

func TestCachedEmbedderIdempotence(t *testing.T) {
	store := newMemStore()
	inner := &countingEmbedder{MockEmbedder: NewMockEmbedder()}
	c := NewCachedEmbedder(inner, store, 16, 8)
	ctx := context.Background()

	texts := []string{"alpha", "beta"}
	first, err := c.EmbedTexts(ctx, texts)
	require.NoError(t, err)
	second, err := c.EmbedTexts(ctx, texts)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, inner.calls)
	assert.Equal(t, 2, store.puts) // one row per text, never duplicated
	assert.Len(t, store.rows, 2)
}

func TestCachedEmbedderStoreHitSkipsInner(t *testing.T) {
	store := newMemStore()
	inner := &countingEmbedder{MockEmbedder: NewMockEmbedder()}
	ctx := context.Background()

	// Warm the persistent store with one cache, then read through a fresh one
	// (fresh memory LRU, same store).
	warm := NewCachedEmbedder(inner, store, 16, 8)
	_, err := warm.EmbedTexts(ctx, []string{"gamma"})
	require.NoError(t, err)
	require.Equal(t, 1, inner.calls)

	cold := NewCachedEmbedder(inner, store, 16, 8)
	_, err = cold.EmbedTexts(ctx, []string{"gamma"})
	require.NoError(t, err)
	assert.Equal(t, 1, inner.calls)
}

func TestCachedEmbedderMixedHitsPreserveOrder(t *testing.T) {
	store := newMemStore()
	c := NewCachedEmbedder(NewMockEmbedder(), store, 16, 8)
	ctx := context.Background()

	_, err := c.EmbedTexts(ctx, []string{"b"})
	require.NoError(t, err)

	vecs, err := c.EmbedTexts(ctx, []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)

	wantA, _ := NewMockEmbedder().EmbedQuery(ctx, "a")
	wantB, _ := NewMockEmbedder().EmbedQuery(ctx, "b")
	wantC, _ := NewMockEmbedder().EmbedQuery(ctx, "c")
	assert.Equal(t, wantA, vecs[0])
	assert.Equal(t, wantB, vecs[1])
	assert.Equal(t, wantC, vecs[2])
}

func TestCacheKeyIncludesModel(t *testing.T) {
	a := CacheKey("mock-hash-256", "same text")
	b := CacheKey("bge-m3", "same text")
	assert.NotEqual(t, a, b)

	// Deterministic for the same pair.
	assert.Equal(t, a, CacheKey("mock-hash-256", "same text"))
}

func TestCachedEmbedderNilStore(t *testing.T) {
	c := NewCachedEmbedder(NewMockEmbedder(), nil, 16, 8)
	vecs, err := c.EmbedTexts(context.Background(), []string{"x", "y"})
	require.NoError(t, err)
	assert.Len(t, vecs, 2)
}

func TestCachedEmbedderBatching(t *testing.T) {
	inner := &countingEmbedder{MockEmbedder: NewMockEmbedder()}
	c := NewCachedEmbedder(inner, nil, 64, 2)

	texts := []string{"t1", "t2", "t3", "t4", "t5"}
	vecs, err := c.EmbedTexts(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, vecs, 5)
	assert.Equal(t, 3, inner.calls) // ceil(5/2) batches
}

func TestCachedEmbedderPassthrough(t *testing.T) {
	inner := NewMockEmbedder()
	c := NewCachedEmbedder(inner, nil, 16, 8)

	assert.Equal(t, inner.Dimensions(), c.Dimensions())
	assert.Equal(t, inner.ModelName(), c.ModelName())
	assert.True(t, c.Available(context.Background()))
	assert.Equal(t, inner, c.Inner())
}
