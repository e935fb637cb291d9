package llmclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/cenkalti/backoff/v5"
)

// HTTPReranker implements Reranker against a cross-encoder reranking
// endpoint.
type HTTPReranker struct {
	cfg    HTTPConfig
	client *http.Client
}

// NewHTTPReranker builds a reranker for cfg.
func NewHTTPReranker(cfg HTTPConfig) *HTTPReranker {
	return &HTTPReranker{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}
}

type rerankRequest struct {
	Model      string   `json:"model"`
	Query      string   `json:"query"`
	Candidates []string `json:"documents"`
}

type rerankResponse struct {
	Scores []float64 `json:"scores"`
}

func (r *HTTPReranker) Rerank(ctx context.Context, query string, candidates []string) ([]float64, error) {
	op := func() ([]float64, error) {
		return r.rerankOnce(ctx, query, candidates)
	}
	return backoff.Retry(ctx, op, backoff.WithMaxTries(retriesOrDefault(r.cfg.MaxRetries)))
}

func (r *HTTPReranker) rerankOnce(ctx context.Context, query string, candidates []string) ([]float64, error) {
	body, err := json.Marshal(rerankRequest{Model: r.cfg.Model, Query: query, Candidates: candidates})
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("llmclient: encoding rerank request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.BaseURL+"/rerank", bytes.NewReader(body))
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("llmclient: building rerank request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if r.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.cfg.APIKey)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("llmclient: rerank request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("llmclient: rerank service returned %d", resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(resp.Body)
		return nil, backoff.Permanent(fmt.Errorf("llmclient: rerank request rejected: %d: %s", resp.StatusCode, raw))
	}

	var decoded rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, backoff.Permanent(fmt.Errorf("llmclient: decoding rerank response: %w", err))
	}
	return decoded.Scores, nil
}
