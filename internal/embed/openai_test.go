package embed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEmbeddingServer(t *testing.T, handler func(req embeddingRequest) embeddingResponse) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)

		var req embeddingRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(handler(req)))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOpenAIProviderEmbedQuery(t *testing.T) {
	srv := newEmbeddingServer(t, func(req embeddingRequest) embeddingResponse {
		var resp embeddingResponse
		for i := range req.Input {
			resp.Data = append(resp.Data, struct {
				Index     int       `json:"index"`
				Embedding []float32 `json:"embedding"`
			}{Index: i, Embedding: []float32{1, 2, 3}})
		}
		return resp
	})

	p, err := NewOpenAIProvider(OpenAIConfig{BaseURL: srv.URL, Model: "test-model", Dimensions: 3})
	require.NoError(t, err)

	vec, err := p.EmbedQuery(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 3}, vec)
	assert.Equal(t, 3, p.Dimensions())
}

func TestOpenAIProviderRejectsWrongWidthVectors(t *testing.T) {
	srv := newEmbeddingServer(t, func(req embeddingRequest) embeddingResponse {
		var resp embeddingResponse
		for i := range req.Input {
			resp.Data = append(resp.Data, struct {
				Index     int       `json:"index"`
				Embedding []float32 `json:"embedding"`
			}{Index: i, Embedding: []float32{1, 2, 3, 4, 5}})
		}
		return resp
	})

	p, err := NewOpenAIProvider(OpenAIConfig{BaseURL: srv.URL, Model: "test-model", Dimensions: 3})
	require.NoError(t, err)

	_, err = p.EmbedQuery(context.Background(), "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "5-dimensional")
}

func TestOpenAIProviderReordersByIndex(t *testing.T) {
	srv := newEmbeddingServer(t, func(req embeddingRequest) embeddingResponse {
		var resp embeddingResponse
		// Reversed order; the index field must be honored.
		for i := len(req.Input) - 1; i >= 0; i-- {
			resp.Data = append(resp.Data, struct {
				Index     int       `json:"index"`
				Embedding []float32 `json:"embedding"`
			}{Index: i, Embedding: []float32{float32(i)}})
		}
		return resp
	})

	p, err := NewOpenAIProvider(OpenAIConfig{BaseURL: srv.URL, Model: "test-model", Dimensions: 1})
	require.NoError(t, err)

	vectors, err := p.EmbedDocuments(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, vectors, 3)
	for i, vec := range vectors {
		assert.Equal(t, []float32{float32(i)}, vec)
	}
}

func TestOpenAIProviderBatching(t *testing.T) {
	var batchSizes []int
	srv := newEmbeddingServer(t, func(req embeddingRequest) embeddingResponse {
		batchSizes = append(batchSizes, len(req.Input))
		var resp embeddingResponse
		for i := range req.Input {
			resp.Data = append(resp.Data, struct {
				Index     int       `json:"index"`
				Embedding []float32 `json:"embedding"`
			}{Index: i, Embedding: []float32{0}})
		}
		return resp
	})

	p, err := NewOpenAIProvider(OpenAIConfig{BaseURL: srv.URL, Model: "test-model", Dimensions: 1, BatchSize: 2})
	require.NoError(t, err)

	texts := []string{"a", "b", "c", "d", "e"}
	vectors, err := p.EmbedDocuments(context.Background(), texts)
	require.NoError(t, err)
	assert.Len(t, vectors, 5)
	assert.Equal(t, []int{2, 2, 1}, batchSizes)
}

func TestOpenAIProviderCountMismatch(t *testing.T) {
	srv := newEmbeddingServer(t, func(req embeddingRequest) embeddingResponse {
		return embeddingResponse{} // zero vectors regardless of input
	})

	p, err := NewOpenAIProvider(OpenAIConfig{BaseURL: srv.URL, Model: "test-model", Dimensions: 1})
	require.NoError(t, err)

	_, err = p.EmbedQuery(context.Background(), "hello")
	assert.Error(t, err)
}

func TestOpenAIProviderServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)

	p, err := NewOpenAIProvider(OpenAIConfig{BaseURL: srv.URL, Model: "missing", Dimensions: 1})
	require.NoError(t, err)

	_, err = p.EmbedQuery(context.Background(), "hello")
	assert.Error(t, err)
}

func TestOpenAIProviderConfigValidation(t *testing.T) {
	_, err := NewOpenAIProvider(OpenAIConfig{Model: "m", Dimensions: 1})
	assert.Error(t, err)
	_, err = NewOpenAIProvider(OpenAIConfig{BaseURL: "http://localhost", Dimensions: 1})
	assert.Error(t, err)
	_, err = NewOpenAIProvider(OpenAIConfig{BaseURL: "http://localhost", Model: "m"})
	assert.Error(t, err, "dimensions are required")
}
