package embed

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	ierrors "github.com/inkwell-ai/inkwell/internal/errors"
)

// BGEEmbedder talks to a local BGE-M3 model served behind an
// OpenAI-compatible embeddings endpoint (Ollama, vLLM, llama.cpp server).
type BGEEmbedder struct {
	client  openai.Client
	model   string
	dim     int
	timeout time.Duration
	retry   ierrors.RetryConfig

	mu     sync.RWMutex
	closed bool
}

// BGEOption configures a BGEEmbedder.
type BGEOption func(*BGEEmbedder)

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) BGEOption {
	return func(e *BGEEmbedder) {
		e.timeout = d
	}
}

// WithRetryConfig overrides the retry behavior for transient failures.
func WithRetryConfig(cfg ierrors.RetryConfig) BGEOption {
	return func(e *BGEEmbedder) {
		e.retry = cfg
	}
}

// NewBGEEmbedder creates an embedder for the given endpoint and model.
// The dimension is discovered from the first successful call.
func NewBGEEmbedder(baseURL, apiKey, model string, opts ...BGEOption) *BGEEmbedder {
	clientOpts := []option.RequestOption{option.WithBaseURL(baseURL)}
	if apiKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(apiKey))
	}

	e := &BGEEmbedder{
		client:  openai.NewClient(clientOpts...),
		model:   model,
		timeout: DefaultTimeout,
		retry:   ierrors.DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// EmbedTexts generates embeddings for a batch of texts.
func (e *BGEEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return nil, fmt.Errorf("embedder is closed")
	}
	e.mu.RUnlock()

	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	return ierrors.RetryWithResult(ctx, e.retry, func() ([][]float32, error) {
		reqCtx, cancel := context.WithTimeout(ctx, e.timeout)
		defer cancel()

		resp, err := e.client.Embeddings.New(reqCtx, openai.EmbeddingNewParams{
			Model: openai.EmbeddingModel(e.model),
			Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		})
		if err != nil {
			if reqCtx.Err() == context.DeadlineExceeded {
				return nil, ierrors.BackendError(ierrors.ErrCodeBackendTimeout, "embedding request timed out", err)
			}
			return nil, ierrors.BackendError(ierrors.ErrCodeEmbeddingFailed, "embedding request failed", err)
		}
		if len(resp.Data) != len(texts) {
			return nil, ierrors.BackendError(ierrors.ErrCodeEmbeddingFailed,
				fmt.Sprintf("expected %d embeddings, got %d", len(texts), len(resp.Data)), nil)
		}

		results := make([][]float32, len(texts))
		for _, d := range resp.Data {
			v := make([]float32, len(d.Embedding))
			for i, f := range d.Embedding {
				v[i] = float32(f)
			}
			results[d.Index] = normalizeVector(v)
		}

		e.mu.Lock()
		if e.dim == 0 && len(results) > 0 {
			e.dim = len(results[0])
		}
		e.mu.Unlock()

		return results, nil
	})
}

// EmbedQuery generates an embedding for a single query string.
func (e *BGEEmbedder) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	vecs, err := e.EmbedTexts(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// Dimensions returns the embedding dimension, or 0 before the first call.
func (e *BGEEmbedder) Dimensions() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.dim
}

// ModelName returns the model identifier.
func (e *BGEEmbedder) ModelName() string {
	return e.model
}

// Available probes the endpoint with a minimal embedding request.
func (e *BGEEmbedder) Available(ctx context.Context) bool {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return false
	}
	e.mu.RUnlock()

	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := e.client.Embeddings.New(probeCtx, openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(e.model),
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: []string{"ping"}},
	})
	return err == nil
}

// Close releases resources.
func (e *BGEEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

var _ Embedder = (*BGEEmbedder)(nil)
