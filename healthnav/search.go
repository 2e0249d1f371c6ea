// Copyright 2025 The HealthNav Authors
// SPDX-License-Identifier: Apache-2.0

// Package healthnav assembles the health navigator application: the
// specialist pipelines, their tools, and the router that dispatches each
// user turn to one of them.
package healthnav

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
)

// SearchResult is one hit returned by a search backend.
type SearchResult struct {
	Title   string `json:"title"`
	Link    string `json:"link"`
	Snippet string `json:"snippet"`
}

// SearchClient retrieves web search results for a query. The production
// implementation is [CustomSearchClient]; tests substitute their own.
type SearchClient interface {
	Search(ctx context.Context, query string, num int) ([]SearchResult, error)
}

const customSearchEndpoint = "https://www.googleapis.com/customsearch/v1"

// CustomSearchClient queries the Google Custom Search API. The search engine
// ID controls the scope: the health engine is restricted to cdc.gov and
// who.int, the web engine searches the open web.
type CustomSearchClient struct {
	apiKey   string
	engineID string
	client   *http.Client
	endpoint string
}

var _ SearchClient = (*CustomSearchClient)(nil)

// NewCustomSearchClient creates a search client for the given engine.
func NewCustomSearchClient(apiKey, engineID string) *CustomSearchClient {
	return &CustomSearchClient{
		apiKey:   apiKey,
		engineID: engineID,
		client:   &http.Client{Timeout: 10 * time.Second},
		endpoint: customSearchEndpoint,
	}
}

// Search implements [SearchClient].
func (c *CustomSearchClient) Search(ctx context.Context, query string, num int) ([]SearchResult, error) {
	if num <= 0 {
		num = 5
	}

	params := url.Values{}
	params.Set("key", c.apiKey)
	params.Set("cx", c.engineID)
	params.Set("q", query)
	params.Set("num", strconv.Itoa(num))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build search request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read search response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search returned HTTP %d: %s", resp.StatusCode, body)
	}

	var payload struct {
		Items []SearchResult `json:"items"`
	}
	if err := sonic.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	return payload.Items, nil
}
