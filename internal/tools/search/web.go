package search

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/ChamsBouzaiene/phidelta/internal/engine"
	"github.com/ChamsBouzaiene/phidelta/internal/memory"
)

// webAPIBase is overridable for tests.
var webAPIBase = "https://api.duckduckgo.com/"

// WebResult is one web search hit in tool output.
type WebResult struct {
	Index int    `json:"index"`
	Title string `json:"title"`
	URL   string `json:"url"`
	Text  string `json:"text"`
}

// ddgResponse mirrors the subset of the DuckDuckGo instant answer API we use.
type ddgResponse struct {
	AbstractText  string `json:"AbstractText"`
	AbstractURL   string `json:"AbstractURL"`
	Heading       string `json:"Heading"`
	RelatedTopics []struct {
		FirstURL string `json:"FirstURL"`
		Text     string `json:"Text"`
	} `json:"RelatedTopics"`
}

func webSearchImpl(ctx context.Context, mem *memory.Memory, query string, maxResults int) (string, error) {
	if maxResults <= 0 {
		maxResults = 5
	}

	params := url.Values{}
	params.Set("q", query)
	params.Set("format", "json")
	params.Set("no_html", "1")
	params.Set("skip_disambig", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, webAPIBase+"?"+params.Encode(), nil)
	if err != nil {
		return "", err
	}

	client := &http.Client{Timeout: 20 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("web search request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("web search returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 5*1024*1024))
	if err != nil {
		return "", fmt.Errorf("failed to read search response: %w", err)
	}

	var ddg ddgResponse
	if err := json.Unmarshal(body, &ddg); err != nil {
		return "", fmt.Errorf("failed to parse search response: %w", err)
	}

	var results []WebResult
	if ddg.AbstractText != "" {
		results = append(results, WebResult{
			Title: ddg.Heading,
			URL:   ddg.AbstractURL,
			Text:  ddg.AbstractText,
		})
	}
	for _, topic := range ddg.RelatedTopics {
		if len(results) >= maxResults {
			break
		}
		if topic.FirstURL == "" || topic.Text == "" {
			continue
		}
		results = append(results, WebResult{
			Title: topic.Text,
			URL:   topic.FirstURL,
			Text:  topic.Text,
		})
	}
	for i := range results {
		results[i].Index = i + 1
	}

	if mem != nil {
		items := make([]memory.ResultItem, len(results))
		for i, r := range results {
			items[i] = memory.ResultItem{Title: r.Title, URL: r.URL}
		}
		mem.ClearReferences()
		mem.InstallResults("web", items)
		for _, r := range results {
			mem.AddReference(memory.Reference{URL: r.URL, Title: r.Title})
		}
	}

	out, err := json.Marshal(map[string]any{
		"query":   query,
		"count":   len(results),
		"results": results,
	})
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// NewWebSearchTool creates a tool that performs a general web search.
func NewWebSearchTool(mem *memory.Memory) engine.Tool {
	return engine.Tool{
		Name:        "web_search",
		Description: "Search the web for current information. Returns numbered results with titles and URLs.",
		SchemaJSON:  `{"type":"object","properties":{"query":{"type":"string","description":"Search query"},"max_results":{"type":"integer","description":"Optional: number of results (default 5)"}},"required":["query"]}`,
		Retryable:   true,
		Fn: func(ctx context.Context, args map[string]any) (string, error) {
			query, ok := args["query"].(string)
			if !ok || query == "" {
				return "", fmt.Errorf("query must be a non-empty string")
			}
			maxResults := 0
			if n, ok := args["max_results"].(float64); ok {
				maxResults = int(n)
			}
			return webSearchImpl(ctx, mem, query, maxResults)
		},
	}
}
