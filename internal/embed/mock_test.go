package embed

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockEmbedderDeterministic(t *testing.T) {
	e := NewMockEmbedder()
	ctx := context.Background()

	a, err := e.EmbedQuery(ctx, "the lighthouse keeper")
	require.NoError(t, err)
	b, err := e.EmbedQuery(ctx, "the lighthouse keeper")
	require.NoError(t, err)

	assert.Equal(t, a, b)
}

func TestMockEmbedderDistinctTexts(t *testing.T) {
	e := NewMockEmbedder()
	ctx := context.Background()

	a, err := e.EmbedQuery(ctx, "winter")
	require.NoError(t, err)
	b, err := e.EmbedQuery(ctx, "summer")
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestMockEmbedderUnitNorm(t *testing.T) {
	e := NewMockEmbedder()
	vec, err := e.EmbedQuery(context.Background(), "some narrative text")
	require.NoError(t, err)
	require.Len(t, vec, MockDimensions)

	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, math.Sqrt(sum), 1e-5)
}

func TestMockEmbedderBatch(t *testing.T) {
	e := NewMockEmbedder()
	ctx := context.Background()

	vecs, err := e.EmbedTexts(ctx, []string{"one", "two", "three"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)

	single, err := e.EmbedQuery(ctx, "two")
	require.NoError(t, err)
	assert.Equal(t, single, vecs[1])
}

func TestMockEmbedderEmptyBatch(t *testing.T) {
	e := NewMockEmbedder()
	vecs, err := e.EmbedTexts(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, vecs)
}

func TestMockEmbedderModelName(t *testing.T) {
	assert.Equal(t, "mock-hash-256", NewMockEmbedder().ModelName())
	assert.Equal(t, "mock-hash-64", NewMockEmbedderWithDim(64).ModelName())
}

func TestMockEmbedderClose(t *testing.T) {
	e := NewMockEmbedder()
	require.True(t, e.Available(context.Background()))

	require.NoError(t, e.Close())
	assert.False(t, e.Available(context.Background()))

	_, err := e.EmbedQuery(context.Background(), "x")
	assert.Error(t, err)
}
