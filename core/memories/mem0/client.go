// Package mem0 implements the memory store against the Mem0 v2 REST API.
package mem0

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/prediqt/voicepipe/core/memories"
)

const defaultBaseURL = "https://api.mem0.ai"

// Client scopes all memory operations to a user/agent/run triple.
type Client struct {
	apiKey     string
	baseURL    string
	userID     string
	agentID    string
	runID      string
	httpClient *http.Client
}

var _ memories.Store = (*Client)(nil)

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) { c.baseURL = strings.TrimSuffix(baseURL, "/") }
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) { c.httpClient = httpClient }
}

func WithAgentID(agentID string) Option {
	return func(c *Client) { c.agentID = agentID }
}

func WithRunID(runID string) Option {
	return func(c *Client) { c.runID = runID }
}

func NewClient(apiKey, userID string, opts ...Option) *Client {
	client := &Client{
		apiKey:     apiKey,
		baseURL:    defaultBaseURL,
		userID:     userID,
		httpClient: &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

type searchRequest struct {
	Query     string         `json:"query"`
	Filters   map[string]any `json:"filters"`
	TopK      int            `json:"top_k,omitempty"`
	Threshold float64        `json:"threshold,omitempty"`
}

type searchResult struct {
	ID     string  `json:"id"`
	Memory string  `json:"memory"`
	Score  float64 `json:"score"`
}

func (c *Client) Search(ctx context.Context, query string, opts ...memories.SearchOption) ([]memories.Memory, error) {
	options := memories.SearchOptions{}
	for _, opt := range opts {
		opt(&options)
	}

	body := searchRequest{
		Query:     query,
		Filters:   c.filters(),
		TopK:      options.Limit,
		Threshold: options.Threshold,
	}

	var results []searchResult
	if err := c.post(ctx, "/v2/memories/search/", body, &results); err != nil {
		return nil, fmt.Errorf("memory search failed: %w", err)
	}

	recalled := make([]memories.Memory, 0, len(results))
	for _, result := range results {
		if options.Threshold > 0 && result.Score < options.Threshold {
			continue
		}
		recalled = append(recalled, memories.Memory{
			ID:    result.ID,
			Text:  result.Memory,
			Score: result.Score,
		})
	}
	return recalled, nil
}

type recordRequest struct {
	Messages []recordMessage `json:"messages"`
	UserID   string          `json:"user_id,omitempty"`
	AgentID  string          `json:"agent_id,omitempty"`
	RunID    string          `json:"run_id,omitempty"`
}

type recordMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func (c *Client) Record(ctx context.Context, role, content string) error {
	body := recordRequest{
		Messages: []recordMessage{{Role: role, Content: content}},
		UserID:   c.userID,
		AgentID:  c.agentID,
		RunID:    c.runID,
	}

	if err := c.post(ctx, "/v1/memories/", body, nil); err != nil {
		return fmt.Errorf("memory record failed: %w", err)
	}
	return nil
}

func (c *Client) filters() map[string]any {
	var clauses []map[string]any
	if c.userID != "" {
		clauses = append(clauses, map[string]any{"user_id": c.userID})
	}
	if c.agentID != "" {
		clauses = append(clauses, map[string]any{"agent_id": c.agentID})
	}
	if c.runID != "" {
		clauses = append(clauses, map[string]any{"run_id": c.runID})
	}
	return map[string]any{"AND": clauses}
}

func (c *Client) post(ctx context.Context, path string, body any, out any) error {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Token "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response from %s: %w", path, err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("mem0 api returned status %d: %s", resp.StatusCode, string(respBody))
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("failed to parse response from %s: %w", path, err)
		}
	}
	return nil
}
