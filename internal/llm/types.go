// Package llm abstracts text completion behind a small port so agents can
// run against an OpenAI-compatible backend or a deterministic mock.
package llm

import (
	"context"
	"encoding/json"
	"strings"
)

// Client is the completion port used by all agents.
type Client interface {
	// Complete returns the model's text for a system message and prompt.
	Complete(ctx context.Context, system, prompt string) (string, error)

	// ModelName returns the model identifier.
	ModelName() string
}

// ParseJSONObject extracts the first balanced-looking JSON object from raw
// LLM output: the substring from the first '{' to the last '}'. Returns
// false when no object can be decoded. Best-effort by design; callers keep
// a fallback for unparseable output.
func ParseJSONObject(raw string) (map[string]any, bool) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return nil, false
	}

	var obj map[string]any
	if err := json.Unmarshal([]byte(raw[start:end+1]), &obj); err != nil {
		return nil, false
	}
	return obj, true
}

// ParseJSONArray extracts the first '[' to last ']' slice of raw as a JSON
// array, mirroring ParseJSONObject for list-shaped output.
func ParseJSONArray(raw string) ([]any, bool) {
	start := strings.Index(raw, "[")
	end := strings.LastIndex(raw, "]")
	if start < 0 || end <= start {
		return nil, false
	}

	var arr []any
	if err := json.Unmarshal([]byte(raw[start:end+1]), &arr); err != nil {
		return nil, false
	}
	return arr, true
}
