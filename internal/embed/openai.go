package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"
)

// OpenAIConfig configures an OpenAI-compatible embedding endpoint.
// Ollama, LM Studio, and hosted OpenAI all speak this surface.
type OpenAIConfig struct {
	BaseURL    string // e.g. http://localhost:11434/v1
	APIKey     string // optional for local servers
	Model      string
	Dimensions int // vector width of the model, required
	BatchSize  int
	Timeout    time.Duration
}

// OpenAIProvider generates embeddings through the /v1/embeddings API.
// The vector width is fixed at construction; vectors of any other
// width coming back from the server are an error, never stored.
type OpenAIProvider struct {
	client *http.Client
	config OpenAIConfig
}

var _ Provider = (*OpenAIProvider)(nil)

// NewOpenAIProvider creates a provider for an OpenAI-compatible server.
func NewOpenAIProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("embedding base URL is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("embedding model is required")
	}
	if cfg.Dimensions <= 0 {
		// The vector schema is sized from Dimensions before the first
		// embedding call, so it cannot be detected lazily.
		return nil, fmt.Errorf("embedding dimensions are required")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	return &OpenAIProvider{
		client: &http.Client{Timeout: cfg.Timeout},
		config: cfg,
	}, nil
}

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// EmbedQuery generates the embedding for a single text.
func (e *OpenAIProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.embedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedDocuments generates embeddings for all texts, preserving order.
// Large inputs are sent in batches of the configured size.
func (e *OpenAIProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.config.BatchSize {
		end := start + e.config.BatchSize
		if end > len(texts) {
			end = len(texts)
		}
		vectors, err := e.embedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vectors...)
	}
	return out, nil
}

func (e *OpenAIProvider) embedBatch(ctx context.Context, input []string) ([][]float32, error) {
	body, err := json.Marshal(embeddingRequest{Model: e.config.Model, Input: input})
	if err != nil {
		return nil, fmt.Errorf("failed to encode embedding request: %w", err)
	}

	url := e.config.BaseURL + "/embeddings"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.config.APIKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("embedding server returned status %d: %s", resp.StatusCode, string(raw))
	}

	var result embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode embedding response: %w", err)
	}
	if result.Error != nil {
		return nil, fmt.Errorf("embedding server error: %s", result.Error.Message)
	}
	if len(result.Data) != len(input) {
		return nil, fmt.Errorf("embedding server returned %d vectors for %d inputs", len(result.Data), len(input))
	}

	// Servers may return data out of order; the index field is
	// authoritative.
	sort.Slice(result.Data, func(i, j int) bool {
		return result.Data[i].Index < result.Data[j].Index
	})

	vectors := make([][]float32, len(result.Data))
	for i, d := range result.Data {
		if len(d.Embedding) != e.config.Dimensions {
			return nil, fmt.Errorf("embedding server returned a %d-dimensional vector, expected %d",
				len(d.Embedding), e.config.Dimensions)
		}
		vectors[i] = d.Embedding
	}
	return vectors, nil
}

// Dimensions returns the configured embedding dimension.
func (e *OpenAIProvider) Dimensions() int {
	return e.config.Dimensions
}

// ModelName returns the model identifier.
func (e *OpenAIProvider) ModelName() string {
	return e.config.Model
}

// Close releases idle connections.
func (e *OpenAIProvider) Close() error {
	e.client.CloseIdleConnections()
	return nil
}
