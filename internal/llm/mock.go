package llm

import (
	"context"
	"fmt"
	"strings"
)

// MockClient is a deterministic placeholder completion backend so the
// application works without any LLM configured.
type MockClient struct{}

// NewMockClient creates the mock completion client.
func NewMockClient() *MockClient {
	return &MockClient{}
}

// Complete echoes truncated system and prompt text in a fixed template.
func (m *MockClient) Complete(_ context.Context, system, prompt string) (string, error) {
	return fmt.Sprintf(
		"[mock completion]\nSystem: %s\nPrompt: %s\n\n(set MOCK_LLM=0 and the LLM_* variables to use a real backend)",
		truncate(strings.TrimSpace(system), 120),
		truncate(strings.TrimSpace(prompt), 800),
	), nil
}

// ModelName returns the model identifier.
func (m *MockClient) ModelName() string {
	return "mock"
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

var _ Client = (*MockClient)(nil)
