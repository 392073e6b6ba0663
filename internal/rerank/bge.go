package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	ierrors "github.com/inkwell-ai/inkwell/internal/errors"
)

// DefaultRerankTimeout is the per-request timeout for the remote reranker.
const DefaultRerankTimeout = 30 * time.Second

// BGEReranker calls a local BGE cross-encoder served behind a
// text-embeddings-inference style /rerank endpoint.
type BGEReranker struct {
	baseURL string
	model   string
	client  *http.Client
}

// NewBGEReranker creates a reranker client for the given endpoint.
func NewBGEReranker(baseURL, model string) *BGEReranker {
	return &BGEReranker{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		client:  &http.Client{Timeout: DefaultRerankTimeout},
	}
}

type rerankRequest struct {
	Query string   `json:"query"`
	Texts []string `json:"texts"`
}

type rerankResult struct {
	Index int     `json:"index"`
	Score float64 `json:"score"`
}

// Rerank returns one model score per text, in input order.
func (r *BGEReranker) Rerank(ctx context.Context, query string, texts []string) ([]float64, error) {
	if len(texts) == 0 {
		return []float64{}, nil
	}

	body, err := json.Marshal(rerankRequest{Query: query, Texts: texts})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal rerank request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/rerank", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create rerank request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, ierrors.BackendError(ierrors.ErrCodeBackendUnavailable, "rerank server unreachable", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, ierrors.BackendError(ierrors.ErrCodeRerankFailed,
			fmt.Sprintf("rerank server returned %d: %s", resp.StatusCode, string(data)), nil)
	}

	var results []rerankResult
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return nil, ierrors.BackendError(ierrors.ErrCodeRerankFailed, "failed to decode rerank response", err)
	}

	scores := make([]float64, len(texts))
	for _, res := range results {
		if res.Index >= 0 && res.Index < len(scores) {
			scores[res.Index] = res.Score
		}
	}
	return scores, nil
}

// ModelName returns the model identifier.
func (r *BGEReranker) ModelName() string {
	return r.model
}

// Kind reports the model-based kind.
func (r *BGEReranker) Kind() Kind {
	return KindModel
}

// Available probes the server health endpoint.
func (r *BGEReranker) Available(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, r.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode == http.StatusOK
}

var _ Reranker = (*BGEReranker)(nil)
