package rerank

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/inkwell-ai/inkwell/internal/config"
)

// New builds the configured reranker. When the local backend is unreachable
// it downgrades to the rule-based mock and returns a fallback note for the
// caller to surface in the agent log.
func New(ctx context.Context, cfg config.RerankConfig) (Reranker, []string) {
	var notes []string

	switch strings.ToLower(cfg.Provider) {
	case "local_bge":
		bge := NewBGEReranker(cfg.BaseURL, cfg.Model)
		if bge.Available(ctx) {
			slog.Info("reranker_ready", "model", bge.ModelName(), "kind", string(bge.Kind()))
			return bge, nil
		}
		notes = append(notes, fmt.Sprintf(
			"reranker fallback: %s unavailable at %s, using mock", cfg.Model, cfg.BaseURL))
		slog.Warn("reranker_fallback",
			"provider", cfg.Provider,
			"model", cfg.Model,
			"base_url", cfg.BaseURL)
	}

	mock := NewMockReranker()
	slog.Info("reranker_ready", "model", mock.ModelName(), "kind", string(mock.Kind()))
	return mock, notes
}
