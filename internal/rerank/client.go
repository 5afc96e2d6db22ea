// Package rerank calls a Cohere-compatible cross-encoder endpoint to
// reorder fused retrieval candidates. The client is optional: a nil
// *Client is a no-op and the fused order stands.
package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"dealerrag/internal/logging"
)

const (
	// Candidates beyond this are not sent for re-ranking
	MaxDocuments = 20
	// Each candidate is truncated to this many characters
	MaxDocChars = 2000

	maxRetries     = 3
	requestTimeout = 30 * time.Second
)

// Config configures the rerank client.
type Config struct {
	URL    string
	Model  string
	APIKey string
}

// Client calls the rerank endpoint.
type Client struct {
	url        string
	model      string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a rerank client. Returns nil when no URL is
// configured, which disables re-ranking.
func NewClient(cfg Config) *Client {
	if cfg.URL == "" {
		return nil
	}
	return &Client{
		url:    cfg.URL,
		model:  cfg.Model,
		apiKey: cfg.APIKey,
		httpClient: &http.Client{
			Timeout: requestTimeout,
		},
	}
}

// Model reports the configured cross-encoder model name. Safe on a
// nil client.
func (c *Client) Model() string {
	if c == nil {
		return ""
	}
	return c.model
}

// Result is one re-ranked candidate: the index into the submitted
// document slice and its relevance score.
type Result struct {
	Index          int     `json:"index"`
	RelevanceScore float64 `json:"relevance_score"`
}

// Rerank scores documents against the query, best first. At most
// MaxDocuments are submitted, each truncated to MaxDocChars.
func (c *Client) Rerank(ctx context.Context, query string, documents []string, topN int) ([]Result, error) {
	if c == nil {
		return nil, fmt.Errorf("rerank client not configured")
	}
	if len(documents) == 0 {
		return nil, nil
	}

	if len(documents) > MaxDocuments {
		documents = documents[:MaxDocuments]
	}
	trimmed := make([]string, len(documents))
	for i, d := range documents {
		if len(d) > MaxDocChars {
			d = d[:MaxDocChars]
		}
		trimmed[i] = d
	}
	if topN <= 0 || topN > len(trimmed) {
		topN = len(trimmed)
	}

	body, err := json.Marshal(rerankRequest{
		Model:     c.model,
		Query:     query,
		Documents: trimmed,
		TopN:      topN,
	})
	if err != nil {
		return nil, err
	}

	timer := logging.StartTimer(logging.CategoryRerank, fmt.Sprintf("rerank %d docs", len(trimmed)))
	defer timer.Stop()

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(time.Duration(1<<uint(attempt-1)) * time.Second):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		results, err := c.call(ctx, body)
		if err == nil {
			return results, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	return nil, fmt.Errorf("rerank failed after %d attempts: %w", maxRetries, lastErr)
}

func (c *Client) call(ctx context.Context, body []byte) ([]Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rerank endpoint: status %d: %s", resp.StatusCode, respBody)
	}

	var parsed rerankResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("rerank response: %w", err)
	}
	return parsed.Results, nil
}

// =============================================================================
// REQUEST/RESPONSE TYPES
// =============================================================================

type rerankRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	TopN      int      `json:"top_n"`
}

type rerankResponse struct {
	Results []Result `json:"results"`
}
