package embed

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticProviderDeterministic(t *testing.T) {
	e := NewStaticProvider()
	ctx := context.Background()

	first, err := e.EmbedQuery(ctx, "coffee brewing notes")
	require.NoError(t, err)
	second, err := e.EmbedQuery(ctx, "coffee brewing notes")
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestStaticProviderDimensions(t *testing.T) {
	e := NewStaticProvider()
	vec, err := e.EmbedQuery(context.Background(), "hello")
	require.NoError(t, err)
	assert.Len(t, vec, StaticDimensions)
	assert.Equal(t, StaticDimensions, e.Dimensions())
}

func TestStaticProviderNormalized(t *testing.T) {
	e := NewStaticProvider()
	vec, err := e.EmbedQuery(context.Background(), "some nontrivial text input")
	require.NoError(t, err)

	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, math.Sqrt(sum), 1e-5)
}

func TestStaticProviderEmptyText(t *testing.T) {
	e := NewStaticProvider()
	vec, err := e.EmbedQuery(context.Background(), "   ")
	require.NoError(t, err)
	assert.Equal(t, make([]float32, StaticDimensions), vec)
}

func TestStaticProviderBatchPreservesOrder(t *testing.T) {
	e := NewStaticProvider()
	ctx := context.Background()
	texts := []string{"alpha", "beta", "gamma"}

	batch, err := e.EmbedDocuments(ctx, texts)
	require.NoError(t, err)
	require.Len(t, batch, 3)

	for i, text := range texts {
		single, err := e.EmbedQuery(ctx, text)
		require.NoError(t, err)
		assert.Equal(t, single, batch[i], "batch index %d disagrees with single embed", i)
	}
}

func TestStaticProviderDifferentTextsDiffer(t *testing.T) {
	e := NewStaticProvider()
	ctx := context.Background()
	a, err := e.EmbedQuery(ctx, "coffee brewing techniques")
	require.NoError(t, err)
	b, err := e.EmbedQuery(ctx, "quarterly financial report")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestStaticProviderClosed(t *testing.T) {
	e := NewStaticProvider()
	require.NoError(t, e.Close())
	_, err := e.EmbedQuery(context.Background(), "text")
	assert.Error(t, err)
}
