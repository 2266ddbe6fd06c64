package search

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ChamsBouzaiene/phidelta/internal/engine"
	"github.com/ChamsBouzaiene/phidelta/internal/memory"
)

// arxivAPIBase is overridable for tests.
var arxivAPIBase = "https://export.arxiv.org/api/query"

const defaultArxivResults = 5

// atomFeed mirrors the subset of the arXiv Atom response we consume.
type atomFeed struct {
	XMLName xml.Name    `xml:"feed"`
	Entries []atomEntry `xml:"entry"`
}

type atomEntry struct {
	ID        string       `xml:"id"`
	Title     string       `xml:"title"`
	Summary   string       `xml:"summary"`
	Published string       `xml:"published"`
	Authors   []atomAuthor `xml:"author"`
	Links     []atomLink   `xml:"link"`
}

type atomAuthor struct {
	Name string `xml:"name"`
}

type atomLink struct {
	Href  string `xml:"href,attr"`
	Rel   string `xml:"rel,attr"`
	Title string `xml:"title,attr"`
}

// ArxivPaper is one search hit in tool output.
type ArxivPaper struct {
	Index     int    `json:"index"`
	Title     string `json:"title"`
	Authors   string `json:"authors"`
	Summary   string `json:"summary"`
	Published string `json:"published"`
	PDFURL    string `json:"pdf_url"`
}

// parseArxivFeed converts an Atom response body into papers.
func parseArxivFeed(body []byte) ([]ArxivPaper, error) {
	var feed atomFeed
	if err := xml.Unmarshal(body, &feed); err != nil {
		return nil, fmt.Errorf("failed to parse arxiv feed: %w", err)
	}

	papers := make([]ArxivPaper, 0, len(feed.Entries))
	for i, entry := range feed.Entries {
		var authors []string
		for _, a := range entry.Authors {
			authors = append(authors, a.Name)
		}

		pdfURL := ""
		for _, link := range entry.Links {
			if link.Title == "pdf" {
				pdfURL = link.Href
				break
			}
		}
		if pdfURL == "" {
			// Derive from the abstract URL as a fallback.
			pdfURL = strings.Replace(entry.ID, "/abs/", "/pdf/", 1)
		}

		summary := strings.TrimSpace(entry.Summary)
		if len(summary) > 500 {
			summary = summary[:500] + "..."
		}

		papers = append(papers, ArxivPaper{
			Index:     i + 1,
			Title:     strings.Join(strings.Fields(entry.Title), " "),
			Authors:   strings.Join(authors, ", "),
			Summary:   summary,
			Published: entry.Published,
			PDFURL:    pdfURL,
		})
	}
	return papers, nil
}

func arxivSearchImpl(ctx context.Context, mem *memory.Memory, query string, maxResults int) (string, error) {
	if maxResults <= 0 {
		maxResults = defaultArxivResults
	}

	params := url.Values{}
	params.Set("search_query", "all:"+query)
	params.Set("start", "0")
	params.Set("max_results", fmt.Sprintf("%d", maxResults))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, arxivAPIBase+"?"+params.Encode(), nil)
	if err != nil {
		return "", err
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("arxiv request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("arxiv returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10*1024*1024))
	if err != nil {
		return "", fmt.Errorf("failed to read arxiv response: %w", err)
	}

	papers, err := parseArxivFeed(body)
	if err != nil {
		return "", err
	}

	// Replace the session's paper list; download_papers resolves indices
	// against it.
	items := make([]memory.ResultItem, len(papers))
	for i, p := range papers {
		items[i] = memory.ResultItem{
			Title: p.Title,
			URL:   p.PDFURL,
			ID:    p.Published,
		}
	}
	if mem != nil {
		// A new search replaces the current result set and the links
		// collected against the old one.
		mem.ClearReferences()
		mem.InstallResults("arxiv", items)
	}

	out, err := json.Marshal(map[string]any{
		"query":  query,
		"count":  len(papers),
		"papers": papers,
	})
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// NewArxivSearchTool creates a tool that searches arXiv and records the hits
// so later download calls can reference them by index.
func NewArxivSearchTool(mem *memory.Memory) engine.Tool {
	return engine.Tool{
		Name:        "arxiv_search",
		Description: "Search arXiv for academic papers. Returns numbered results; keep the numbers, download_papers uses them.",
		SchemaJSON:  `{"type":"object","properties":{"query":{"type":"string","description":"Search query for arXiv"},"max_results":{"type":"integer","description":"Optional: number of results (default 5)"}},"required":["query"]}`,
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
			return arxivSearchImpl(ctx, mem, query, maxResults)
		},
	}
}
