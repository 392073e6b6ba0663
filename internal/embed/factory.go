package embed

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/inkwell-ai/inkwell/internal/config"
)

// New builds the configured embedder wrapped in the two-level cache.
// When the local backend is unreachable it downgrades to the mock embedder
// and returns a fallback note for the caller to surface in the agent log.
func New(ctx context.Context, cfg config.EmbeddingsConfig, store CacheStore, cacheSize int) (Embedder, []string) {
	var notes []string
	var inner Embedder

	switch strings.ToLower(cfg.Provider) {
	case "local_bge_m3":
		bge := NewBGEEmbedder(cfg.BaseURL, "", cfg.Model)
		if bge.Available(ctx) {
			inner = bge
		} else {
			_ = bge.Close()
			notes = append(notes, fmt.Sprintf(
				"embedder fallback: %s unavailable at %s, using mock", cfg.Model, cfg.BaseURL))
			slog.Warn("embedder_fallback",
				"provider", cfg.Provider,
				"model", cfg.Model,
				"base_url", cfg.BaseURL)
			inner = NewMockEmbedder()
		}
	default:
		inner = NewMockEmbedder()
	}

	slog.Info("embedder_ready", "model", inner.ModelName(), "dimensions", inner.Dimensions())

	return NewCachedEmbedder(inner, store, cacheSize, cfg.BatchSize), notes
}
