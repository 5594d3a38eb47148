// Package tools provides the built-in tool implementations registered
// with the tool registry.
package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/evolvai/evolv/core"
	"github.com/evolvai/evolv/registry"
)

// maxFetchBody caps the response size a fetch returns.
const maxFetchBody = 1 << 20

// HTTPFetch retrieves a URL. It serves search and call tasks.
type HTTPFetch struct {
	client *http.Client
}

// NewHTTPFetch creates the fetch tool. A nil client gets a 30 s default.
func NewHTTPFetch(client *http.Client) *HTTPFetch {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPFetch{client: client}
}

func (t *HTTPFetch) Name() string    { return "http_fetch" }
func (t *HTTPFetch) Version() string { return "1.0.0" }

func (t *HTTPFetch) Parameters() []registry.ParameterSpec {
	return []registry.ParameterSpec{
		{Name: "url", Type: "string", Required: true},
		{Name: "query", Type: "string"},
		{Name: "method", Type: "string", Default: http.MethodGet},
	}
}

// Execute fetches the URL. A "query" without a "url" is appended to the
// search endpoint, so the tool works for plain search tasks too.
func (t *HTTPFetch) Execute(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	url, _ := params["url"].(string)
	if url == "" {
		query, _ := params["query"].(string)
		if query == "" {
			return nil, fmt.Errorf("%w: http_fetch requires url or query", core.ErrInvalidTask)
		}
		url = "https://duckduckgo.com/html/?q=" + strings.ReplaceAll(query, " ", "+")
	}
	method, _ := params["method"].(string)
	if method == "" {
		method = http.MethodGet
	}

	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBody))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("%w: %s returned 429", core.ErrRateLimited, url)
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, fmt.Errorf("%w: %s returned %d", core.ErrAuthFailed, url, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("http_fetch: %s returned %d", url, resp.StatusCode)
	}
	return map[string]interface{}{
		"url":    url,
		"status": resp.StatusCode,
		"body":   string(body),
	}, nil
}
