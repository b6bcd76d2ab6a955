// Package tavily implements internet search as a model-invocable tool.
package tavily

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/prediqt/voicepipe/core/llms"
)

const defaultBaseURL = "https://api.tavily.com"

type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) { c.baseURL = strings.TrimSuffix(baseURL, "/") }
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) { c.httpClient = httpClient }
}

func NewClient(apiKey string, opts ...Option) *Client {
	client := &Client{
		apiKey:     apiKey,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

type searchRequest struct {
	APIKey string `json:"api_key"`
	Query  string `json:"query"`
}

// SearchResponse carries the raw provider answer plus ranked results.
type SearchResponse struct {
	Answer  string         `json:"answer"`
	Results []SearchResult `json:"results"`
}

type SearchResult struct {
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

func (c *Client) Search(ctx context.Context, query string) (*SearchResponse, error) {
	body, err := json.Marshal(searchRequest{APIKey: c.apiKey, Query: query})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal search request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/search", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read search response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tavily api returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var response SearchResponse
	if err := json.Unmarshal(respBody, &response); err != nil {
		return nil, fmt.Errorf("failed to parse search response: %w", err)
	}
	return &response, nil
}

// Tool exposes the client as the "search_internet" capability. The raw
// provider response is returned as the tool payload so the model can quote
// from it.
func (c *Client) Tool() llms.Tool {
	return llms.NewTool("search_internet",
		"Do internet search. Use this for anything you can not answer directly, including today's news and weather.",
		func(parameters struct {
			Query string `json:"query" jsonschema:"description=Query to search on the internet"`
		}) (string, error) {
			response, err := c.Search(context.Background(), parameters.Query)
			if err != nil {
				return "", fmt.Errorf("internet search failed: %w", err)
			}

			payload, err := json.Marshal(response)
			if err != nil {
				return "", fmt.Errorf("failed to encode search results: %w", err)
			}
			return string(payload), nil
		})
}
