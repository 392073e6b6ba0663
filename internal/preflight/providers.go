package preflight

import (
	"fmt"
	"strings"

	"github.com/inkwell-ai/inkwell/internal/config"
)

// Provider checks are non-critical: every provider degrades to a
// deterministic mock, but a silent downgrade is worth a warning.

// CheckEmbeddingsProvider reports whether real embeddings will be used.
func (c *Checker) CheckEmbeddingsProvider(cfg *config.Config) CheckResult {
	result := CheckResult{Name: "embeddings_provider"}

	provider := strings.ToLower(cfg.Embeddings.Provider)
	switch {
	case provider == "" || provider == "mock":
		result.Status = StatusWarn
		result.Message = "mock embeddings configured (deterministic, low quality)"
	case cfg.Embeddings.BaseURL == "":
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("%s has no base_url; mock embeddings will be used", provider)
	default:
		result.Status = StatusPass
		result.Message = fmt.Sprintf("%s via %s", provider, cfg.Embeddings.BaseURL)
	}
	return result
}

// CheckRerankProvider reports whether a real reranker will be used.
func (c *Checker) CheckRerankProvider(cfg *config.Config) CheckResult {
	result := CheckResult{Name: "rerank_provider"}

	provider := strings.ToLower(cfg.Rerank.Provider)
	switch {
	case provider == "" || provider == "mock":
		result.Status = StatusWarn
		result.Message = "rule-based reranker configured"
	case cfg.Rerank.BaseURL == "":
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("%s has no base_url; rule-based reranker will be used", provider)
	default:
		result.Status = StatusPass
		result.Message = fmt.Sprintf("%s via %s", provider, cfg.Rerank.BaseURL)
	}
	return result
}

// CheckLLMProvider reports whether a real completion backend will be used.
func (c *Checker) CheckLLMProvider(cfg *config.Config) CheckResult {
	result := CheckResult{Name: "llm_provider"}

	provider := strings.ToLower(cfg.LLM.Provider)
	switch {
	case cfg.LLM.Mock || provider == "" || provider == "mock":
		result.Status = StatusWarn
		result.Message = "mock completion client configured; agents return canned text"
	case cfg.LLM.APIKey == "":
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("%s has no api_key; mock completion client will be used", provider)
	default:
		result.Status = StatusPass
		result.Message = fmt.Sprintf("%s model %s", provider, cfg.LLM.Model)
	}
	return result
}
