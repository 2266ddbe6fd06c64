// Package compute provides calculation tools: Wolfram Alpha queries and
// sandboxed Python execution.
package compute

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/ChamsBouzaiene/phidelta/internal/engine"
)

// wolframAPIBase is overridable for tests.
var wolframAPIBase = "https://api.wolframalpha.com/v1/result"

func wolframImpl(ctx context.Context, query string) (string, error) {
	appID := os.Getenv("WOLFRAM_APP_ID")
	if appID == "" {
		return "", fmt.Errorf("WOLFRAM_APP_ID not set")
	}

	params := url.Values{}
	params.Set("appid", appID)
	params.Set("i", query)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, wolframAPIBase+"?"+params.Encode(), nil)
	if err != nil {
		return "", err
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("wolfram request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1024*1024))
	if err != nil {
		return "", fmt.Errorf("failed to read wolfram response: %w", err)
	}

	answer := strings.TrimSpace(string(body))
	if resp.StatusCode == http.StatusNotImplemented {
		// The short answers API uses 501 for "no result".
		return "Wolfram Alpha could not interpret the query: " + answer, nil
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("wolfram returned status %d: %s", resp.StatusCode, answer)
	}
	return answer, nil
}

// NewWolframTool creates a tool that answers computational questions via
// Wolfram Alpha.
func NewWolframTool() engine.Tool {
	return engine.Tool{
		Name:        "wolfram_query",
		Description: "Answer a computational or factual question using Wolfram Alpha (math, unit conversion, data lookups).",
		SchemaJSON:  `{"type":"object","properties":{"query":{"type":"string","description":"Question in plain language or math notation"}},"required":["query"]}`,
		Retryable:   true,
		Fn: func(ctx context.Context, args map[string]any) (string, error) {
			query, ok := args["query"].(string)
			if !ok || query == "" {
				return "", fmt.Errorf("query must be a non-empty string")
			}
			return wolframImpl(ctx, query)
		},
	}
}
