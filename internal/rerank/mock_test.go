package rerank

import (
	"context"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountHits(t *testing.T) {
	tests := []struct {
		name  string
		query string
		text  string
		want  int
	}{
		{"simple match", "lighthouse keeper", "the lighthouse stood alone", 1},
		{"both tokens", "lighthouse keeper", "the keeper of the lighthouse", 2},
		{"repeated occurrences", "storm", "storm after storm after storm", 3},
		{"short tokens ignored", "a b storm", "a b storm", 1},
		{"empty query", "", "anything", 0},
		{"no match", "dragon", "the quiet harbour", 0},
		{"cjk punctuation split", "灯塔，守望", "灯塔下的守望者", 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CountHits(tt.query, tt.text))
		})
	}
}

func TestMockRerankerScores(t *testing.T) {
	r := NewMockReranker()
	ctx := context.Background()

	scores, err := r.Rerank(ctx, "storm", []string{
		"storm storm",
		"a calm day",
	})
	require.NoError(t, err)
	require.Len(t, scores, 2)

	// Two hits: 2*2.0 plus length term.
	wantLength := 1.0 / (1.0 + math.Log(1+11.0))
	assert.InDelta(t, 4.0+wantLength, scores[0], 1e-9)
	assert.Greater(t, scores[0], scores[1])
	assert.Less(t, scores[1], 1.0) // length term only
}

func TestMockRerankerShortTextFavoredOnTie(t *testing.T) {
	r := NewMockReranker()
	scores, err := r.Rerank(context.Background(), "query", []string{
		"short",
		strings.Repeat("long text without the term ", 40),
	})
	require.NoError(t, err)
	assert.Greater(t, scores[0], scores[1])
}

func TestMockRerankerEmptyTexts(t *testing.T) {
	scores, err := NewMockReranker().Rerank(context.Background(), "q", nil)
	require.NoError(t, err)
	assert.Empty(t, scores)
}

func TestMockRerankerIdentity(t *testing.T) {
	r := NewMockReranker()
	assert.Equal(t, "mock-weighted", r.ModelName())
	assert.Equal(t, KindRule, r.Kind())
}
