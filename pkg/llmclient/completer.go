package llmclient

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/cenkalti/backoff/v5"
)

// HTTPCompleter implements Completer against an OpenAI-compatible chat
// completions endpoint.
type HTTPCompleter struct {
	cfg    HTTPConfig
	client *http.Client
}

// NewHTTPCompleter builds a completer for cfg.
func NewHTTPCompleter(cfg HTTPConfig) *HTTPCompleter {
	return &HTTPCompleter{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

type chatStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
}

func (c *HTTPCompleter) Complete(ctx context.Context, prompt string) (Completion, error) {
	op := func() (Completion, error) {
		return c.completeOnce(ctx, prompt)
	}
	return backoff.Retry(ctx, op, backoff.WithMaxTries(retriesOrDefault(c.cfg.MaxRetries)))
}

func (c *HTTPCompleter) completeOnce(ctx context.Context, prompt string) (Completion, error) {
	body, err := json.Marshal(chatRequest{
		Model:    c.cfg.Model,
		Messages: []chatMessage{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return Completion{}, backoff.Permanent(fmt.Errorf("llmclient: encoding chat request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return Completion{}, backoff.Permanent(fmt.Errorf("llmclient: building chat request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return Completion{}, fmt.Errorf("llmclient: chat request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return Completion{}, fmt.Errorf("llmclient: chat service returned %d", resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(resp.Body)
		return Completion{}, backoff.Permanent(fmt.Errorf("llmclient: chat request rejected: %d: %s", resp.StatusCode, raw))
	}

	var decoded chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return Completion{}, backoff.Permanent(fmt.Errorf("llmclient: decoding chat response: %w", err))
	}
	if len(decoded.Choices) == 0 {
		return Completion{}, backoff.Permanent(fmt.Errorf("llmclient: chat response contained no choices"))
	}
	return Completion{Text: decoded.Choices[0].Message.Content}, nil
}

// Stream opens a server-sent-events chat completion and relays each delta
// fragment on the returned channel, closing it when the upstream emits
// [DONE] or ctx is cancelled. Streaming requests are not retried: a partial
// stream cannot be safely replayed into the same channel.
func (c *HTTPCompleter) Stream(ctx context.Context, prompt string) (<-chan CompletionChunk, error) {
	body, err := json.Marshal(chatRequest{
		Model:    c.cfg.Model,
		Messages: []chatMessage{{Role: "user", Content: prompt}},
		Stream:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("llmclient: encoding chat stream request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("llmclient: building chat stream request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("llmclient: chat stream request: %w", err)
	}
	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("llmclient: chat stream rejected: %d: %s", resp.StatusCode, raw)
	}

	out := make(chan CompletionChunk)
	go func() {
		defer close(out)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			select {
			case <-ctx.Done():
				return
			default:
			}

			line := strings.TrimSpace(scanner.Text())
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			payload := strings.TrimPrefix(line, "data: ")
			if payload == "[DONE]" {
				out <- CompletionChunk{Done: true}
				return
			}

			var chunk chatStreamChunk
			if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
				continue
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			out <- CompletionChunk{Text: chunk.Choices[0].Delta.Content}
			if chunk.Choices[0].FinishReason != nil {
				out <- CompletionChunk{Done: true}
				return
			}
		}
	}()
	return out, nil
}
