package llm

import (
	"context"
	"fmt"
	"net/http"
)

// EmbeddingsClient is a client for interacting with llama.cpp embeddings API.
type EmbeddingsClient struct {
	BaseURL      string
	APIKey       string
	Model        string
	ExpectedSize int // Expected vector size for validation
	client       *http.Client
}

// NewEmbeddingsClient creates a new embeddings client.
// All embeddings returned by EmbedTexts are validated against expectedSize.
func NewEmbeddingsClient(baseURL, apiKey, model string, expectedSize int) *EmbeddingsClient {
	return &EmbeddingsClient{
		BaseURL:      baseURL,
		APIKey:       apiKey,
		Model:        model,
		ExpectedSize: expectedSize,
		client:       newHTTPClient(),
	}
}

// EmbeddingsRequest represents the request payload for embeddings API.
type EmbeddingsRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

// EmbeddingData represents a single embedding in the response.
type EmbeddingData struct {
	Index     int       `json:"index"`
	Embedding []float64 `json:"embedding"`
}

// EmbeddingsResponse represents the response from the embeddings API.
type EmbeddingsResponse struct {
	Data []EmbeddingData `json:"data"`
}

// EmbedTexts generates embeddings for the given texts.
// Returns a slice of float32 vectors, one per input text, in input order.
func (c *EmbeddingsClient) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("empty input array")
	}

	payload := EmbeddingsRequest{
		Model: c.Model,
		Input: texts,
	}

	var embeddingsResp EmbeddingsResponse
	if err := postJSON(ctx, c.client, "embed", c.BaseURL+"/v1/embeddings", c.APIKey, payload, &embeddingsResp); err != nil {
		return nil, err
	}

	vectors := make([][]float64, len(embeddingsResp.Data))
	indexes := make([]int, len(embeddingsResp.Data))
	for i, d := range embeddingsResp.Data {
		vectors[i] = d.Embedding
		indexes[i] = d.Index
	}
	return toFloat32(vectors, indexes, len(texts), c.ExpectedSize)
}

// toFloat32 orders provider vectors by their reported index and checks their size.
func toFloat32(vectors [][]float64, indexes []int, want, expectedSize int) ([][]float32, error) {
	if len(vectors) != want {
		return nil, &ProviderError{Op: "embed", Err: fmt.Errorf("expected %d embeddings, got %d", want, len(vectors))}
	}

	// Providers report an index per vector; fall back to response order
	// when those indexes do not form a permutation.
	order := indexes
	seen := make([]bool, want)
	for _, idx := range indexes {
		if idx < 0 || idx >= want || seen[idx] {
			order = nil
			break
		}
		seen[idx] = true
	}

	result := make([][]float32, want)
	for i, embedding := range vectors {
		if len(embedding) != expectedSize {
			return nil, fmt.Errorf("embedding %d has size %d, expected %d: %w", i, len(embedding), expectedSize, ErrDimensionMismatch)
		}
		idx := i
		if order != nil {
			idx = order[i]
		}

		vec := make([]float32, len(embedding))
		for j, v := range embedding {
			vec[j] = float32(v)
		}
		result[idx] = vec
	}
	return result, nil
}
