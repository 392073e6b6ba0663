package llm

import (
	"log/slog"
	"strings"

	"github.com/inkwell-ai/inkwell/internal/config"
)

// New builds the configured completion client. Mock mode or a missing API
// key selects the deterministic mock, matching local development defaults.
func New(cfg config.LLMConfig) Client {
	if cfg.Mock || strings.ToLower(cfg.Provider) == "mock" || cfg.APIKey == "" {
		slog.Info("llm_ready", "model", "mock")
		return NewMockClient()
	}

	client := NewOpenAIClient(cfg.APIKey, cfg.BaseURL, cfg.Model, cfg.Temperature)
	slog.Info("llm_ready", "model", cfg.Model, "base_url", cfg.BaseURL)
	return client
}
