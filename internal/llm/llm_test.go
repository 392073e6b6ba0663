package llm

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkwell-ai/inkwell/internal/config"
)

func TestParseJSONObject(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want map[string]any
		ok   bool
	}{
		{
			name: "bare object",
			raw:  `{"name":"Mira","role":"captain"}`,
			want: map[string]any{"name": "Mira", "role": "captain"},
			ok:   true,
		},
		{
			name: "object inside prose",
			raw:  "Here is the review:\n```json\n{\"issues\": []}\n```\nDone.",
			want: map[string]any{"issues": []any{}},
			ok:   true,
		},
		{
			name: "no braces",
			raw:  "plain text only",
			ok:   false,
		},
		{
			name: "unbalanced",
			raw:  "{\"broken\": ",
			ok:   false,
		},
		{
			name: "empty",
			raw:  "",
			ok:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseJSONObject(tt.raw)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestParseJSONArray(t *testing.T) {
	arr, ok := ParseJSONArray("facts: [\"the gate is sealed\", \"Mira owes a debt\"] end")
	require.True(t, ok)
	assert.Equal(t, []any{"the gate is sealed", "Mira owes a debt"}, arr)

	_, ok = ParseJSONArray("no array here")
	assert.False(t, ok)
}

func TestMockClientDeterministic(t *testing.T) {
	m := NewMockClient()
	ctx := context.Background()

	a, err := m.Complete(ctx, "you are a writer", "write chapter one")
	require.NoError(t, err)
	b, err := m.Complete(ctx, "you are a writer", "write chapter one")
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Contains(t, a, "[mock completion]")
	assert.Contains(t, a, "write chapter one")
}

func TestMockClientTruncatesLongPrompt(t *testing.T) {
	m := NewMockClient()
	long := strings.Repeat("p", 2000)

	out, err := m.Complete(context.Background(), "sys", long)
	require.NoError(t, err)
	assert.NotContains(t, out, strings.Repeat("p", 801))
}

func TestFactorySelectsMock(t *testing.T) {
	c := New(config.LLMConfig{Mock: true})
	assert.Equal(t, "mock", c.ModelName())

	// Missing API key forces mock even with a real provider.
	c = New(config.LLMConfig{Provider: "openai_compatible", Model: "gpt-4o-mini"})
	assert.Equal(t, "mock", c.ModelName())
}

func TestFactorySelectsOpenAI(t *testing.T) {
	c := New(config.LLMConfig{
		Provider:    "openai_compatible",
		APIKey:      "sk-test",
		Model:       "gpt-4o-mini",
		Temperature: 0.7,
	})
	assert.Equal(t, "gpt-4o-mini", c.ModelName())
	_, ok := c.(*OpenAIClient)
	assert.True(t, ok)
}
