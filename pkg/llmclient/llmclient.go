// Package llmclient wraps the LLM, embedding, and reranker HTTP adapters
// that sit outside this service's scope. Only their call contracts matter
// here: each is an interface the retrieval engine and QA store depend on,
// backed by a retrying HTTP implementation.
package llmclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Completion is one LLM text-generation response.
type Completion struct {
	Text string
}

// CompletionChunk is one fragment of a streamed LLM response.
type CompletionChunk struct {
	Text string
	Done bool
}

// Completer generates text from a prompt, optionally streaming fragments.
type Completer interface {
	Complete(ctx context.Context, prompt string) (Completion, error)
	Stream(ctx context.Context, prompt string) (<-chan CompletionChunk, error)
}

// Reranker re-scores a candidate list against a query.
type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []string) ([]float64, error)
}

// HTTPConfig configures one retrying HTTP-backed adapter.
type HTTPConfig struct {
	BaseURL    string
	APIKey     string
	Model      string
	Timeout    time.Duration
	MaxRetries uint
}

// HTTPEmbedder implements qastore.Embedder against an OpenAI-compatible
// embeddings endpoint, retrying transient failures with exponential
// backoff.
type HTTPEmbedder struct {
	cfg       HTTPConfig
	client    *http.Client
	dimension int
}

// NewHTTPEmbedder builds an embedder for cfg. dimension is the vector size
// the configured model is expected to return.
func NewHTTPEmbedder(cfg HTTPConfig, dimension int) *HTTPEmbedder {
	return &HTTPEmbedder{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}, dimension: dimension}
}

func (e *HTTPEmbedder) Dimension() int { return e.dimension }

type embeddingRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func (e *HTTPEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	op := func() ([]float32, error) {
		return e.embedOnce(ctx, text)
	}
	return backoff.Retry(ctx, op, backoff.WithMaxTries(retriesOrDefault(e.cfg.MaxRetries)))
}

func (e *HTTPEmbedder) embedOnce(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(embeddingRequest{Model: e.cfg.Model, Input: text})
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("llmclient: encoding embedding request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.BaseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("llmclient: building embedding request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if e.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.cfg.APIKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("llmclient: embedding request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("llmclient: embedding service returned %d", resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(resp.Body)
		return nil, backoff.Permanent(fmt.Errorf("llmclient: embedding request rejected: %d: %s", resp.StatusCode, raw))
	}

	var decoded embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, backoff.Permanent(fmt.Errorf("llmclient: decoding embedding response: %w", err))
	}
	if len(decoded.Data) == 0 {
		return nil, backoff.Permanent(fmt.Errorf("llmclient: embedding response contained no vectors"))
	}
	return decoded.Data[0].Embedding, nil
}

func retriesOrDefault(n uint) uint {
	if n == 0 {
		return 3
	}
	return n
}
