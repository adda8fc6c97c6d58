package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// fetchTool downloads a URL's body, adapted from gentica's
// llm/tools/fetch.go (FetchParams/fetchTool): a shared *http.Client with
// a default timeout, content-length sanity limit.
type fetchTool struct {
	client *http.Client
}

type fetchParams struct {
	URL     string `json:"url"`
	Timeout int    `json:"timeout,omitempty"`
}

const (
	fetchDefaultTimeout = 30 * time.Second
	fetchMaxBytes       = 1 << 20
)

// NewFetchTool returns the "fetch" tool.
func NewFetchTool() Tool {
	return &fetchTool{client: &http.Client{}}
}

func (f *fetchTool) Name() string        { return "fetch" }
func (f *fetchTool) Description() string { return "Fetches the body of a URL over HTTP(S)." }

func (f *fetchTool) Schema() map[string]any {
	return map[string]any{
		"url":     map[string]any{"type": "string", "description": "URL to fetch"},
		"timeout": map[string]any{"type": "number", "description": "timeout in seconds"},
	}
}

func (f *fetchTool) Run(ctx context.Context, argsJSON string) (string, error) {
	var p fetchParams
	if err := unmarshalParams(argsJSON, &p); err != nil {
		return "", fmt.Errorf("invalid parameters: %w", err)
	}
	if p.URL == "" {
		return "", fmt.Errorf("url is required")
	}

	timeout := fetchDefaultTimeout
	if p.Timeout > 0 {
		timeout = time.Duration(p.Timeout) * time.Second
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, p.URL, nil)
	if err != nil {
		return "", fmt.Errorf("invalid url: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, fetchMaxBytes))
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	return string(body), nil
}
