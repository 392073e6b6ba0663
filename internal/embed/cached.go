package embed

import (
	"context"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize is the default number of embeddings kept in memory.
const DefaultCacheSize = 1024

// CacheStore is the persistent backing of the embedding cache.
// Implementations must upsert on put so racing writers cannot duplicate.
type CacheStore interface {
	// GetEmbedding returns the cached vector for key, if present.
	GetEmbedding(ctx context.Context, key string) ([]float32, bool, error)

	// PutEmbedding persists the vector under key with the model that
	// produced it. Must be an upsert.
	PutEmbedding(ctx context.Context, key, modelName string, vector []float32) error
}

// CachedEmbedder wraps an Embedder with a two-level cache: an in-memory
// LRU in front of a persistent store. A vector is computed at most once
// per (model, text) pair.
type CachedEmbedder struct {
	inner     Embedder
	store     CacheStore
	memory    *lru.Cache[string, []float32]
	batchSize int
}

// NewCachedEmbedder creates a cached embedder wrapping the given embedder.
// store may be nil, in which case only the in-memory layer is used.
func NewCachedEmbedder(inner Embedder, store CacheStore, cacheSize, batchSize int) *CachedEmbedder {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if batchSize > MaxBatchSize {
		batchSize = MaxBatchSize
	}
	memory, _ := lru.New[string, []float32](cacheSize)
	return &CachedEmbedder{
		inner:     inner,
		store:     store,
		memory:    memory,
		batchSize: batchSize,
	}
}

// CacheKey returns the persistent cache key for a text under the given
// model: model_name + ":" + UUIDv5(DNS, text). The model prefix ensures
// the cache is never consulted across models.
func CacheKey(modelName, text string) string {
	return modelName + ":" + uuid.NewSHA1(uuid.NameSpaceDNS, []byte(text)).String()
}

func (c *CachedEmbedder) cacheKey(text string) string {
	return CacheKey(c.inner.ModelName(), text)
}

// EmbedTexts returns a vector per text, computing and persisting any that
// are not cached. Lookup order is memory, store, inner embedder.
func (c *CachedEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	results := make([][]float32, len(texts))
	missIndices := make([]int, 0, len(texts))
	missTexts := make([]string, 0, len(texts))

	for i, text := range texts {
		key := c.cacheKey(text)
		if vec, ok := c.memory.Get(key); ok {
			results[i] = vec
			continue
		}
		if c.store != nil {
			vec, ok, err := c.store.GetEmbedding(ctx, key)
			if err != nil {
				return nil, err
			}
			if ok {
				c.memory.Add(key, vec)
				results[i] = vec
				continue
			}
		}
		missIndices = append(missIndices, i)
		missTexts = append(missTexts, text)
	}

	if len(missTexts) == 0 {
		return results, nil
	}

	// Compute misses in batches.
	for start := 0; start < len(missTexts); start += c.batchSize {
		end := start + c.batchSize
		if end > len(missTexts) {
			end = len(missTexts)
		}

		vecs, err := c.inner.EmbedTexts(ctx, missTexts[start:end])
		if err != nil {
			return nil, err
		}

		for j, vec := range vecs {
			idx := missIndices[start+j]
			key := c.cacheKey(texts[idx])
			if c.store != nil {
				if err := c.store.PutEmbedding(ctx, key, c.inner.ModelName(), vec); err != nil {
					return nil, err
				}
			}
			c.memory.Add(key, vec)
			results[idx] = vec
		}
	}

	return results, nil
}

// EmbedQuery embeds a single query through the same cache path.
func (c *CachedEmbedder) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	vecs, err := c.EmbedTexts(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// Dimensions returns the embedding dimension (passthrough to inner).
func (c *CachedEmbedder) Dimensions() int {
	return c.inner.Dimensions()
}

// ModelName returns the model identifier (passthrough to inner).
func (c *CachedEmbedder) ModelName() string {
	return c.inner.ModelName()
}

// Available checks if the embedder is ready (passthrough to inner).
func (c *CachedEmbedder) Available(ctx context.Context) bool {
	return c.inner.Available(ctx)
}

// Close releases resources and closes the inner embedder.
func (c *CachedEmbedder) Close() error {
	return c.inner.Close()
}

// Inner returns the underlying embedder.
func (c *CachedEmbedder) Inner() Embedder {
	return c.inner
}

var _ Embedder = (*CachedEmbedder)(nil)
