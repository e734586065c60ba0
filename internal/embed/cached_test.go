package embed

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingProvider wraps StaticProvider and counts backend calls.
type countingProvider struct {
	*StaticProvider
	queryCalls int32
	batchCalls int32
}

func (c *countingProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	atomic.AddInt32(&c.queryCalls, 1)
	return c.StaticProvider.EmbedQuery(ctx, text)
}

func (c *countingProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	atomic.AddInt32(&c.batchCalls, 1)
	return c.StaticProvider.EmbedDocuments(ctx, texts)
}

func TestCachedProviderAvoidsRepeatCalls(t *testing.T) {
	inner := &countingProvider{StaticProvider: NewStaticProvider()}
	c := NewCachedProvider(inner, 10)
	ctx := context.Background()

	first, err := c.EmbedQuery(ctx, "repeated query")
	require.NoError(t, err)
	second, err := c.EmbedQuery(ctx, "repeated query")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), atomic.LoadInt32(&inner.queryCalls))
}

func TestCachedProviderBatchOnlyEmbedsMisses(t *testing.T) {
	inner := &countingProvider{StaticProvider: NewStaticProvider()}
	c := NewCachedProvider(inner, 10)
	ctx := context.Background()

	_, err := c.EmbedQuery(ctx, "alpha")
	require.NoError(t, err)

	results, err := c.EmbedDocuments(ctx, []string{"alpha", "beta", "gamma"})
	require.NoError(t, err)
	require.Len(t, results, 3)
	for i, vec := range results {
		assert.NotEmpty(t, vec, "missing vector at index %d", i)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&inner.batchCalls))

	// Everything cached now.
	_, err = c.EmbedDocuments(ctx, []string{"alpha", "beta", "gamma"})
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&inner.batchCalls))
}

func TestCachedProviderEmptyBatch(t *testing.T) {
	c := NewCachedProvider(NewStaticProvider(), 10)
	results, err := c.EmbedDocuments(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestCachedProviderPassthrough(t *testing.T) {
	inner := NewStaticProvider()
	c := NewCachedProvider(inner, 0)
	assert.Equal(t, inner.Dimensions(), c.Dimensions())
	assert.Equal(t, inner.ModelName(), c.ModelName())
	assert.NoError(t, c.Close())
}
