// Package rag exposes the local document corpus as tools.
package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ChamsBouzaiene/phidelta/internal/engine"
	"github.com/ChamsBouzaiene/phidelta/internal/retrieval"
)

// ragHit is one snippet in tool output.
type ragHit struct {
	Source string  `json:"source"`
	Title  string  `json:"title,omitempty"`
	Text   string  `json:"text"`
	Score  float64 `json:"score"`
}

func searchImpl(ctx context.Context, store retrieval.Store, query string, sources []string, k int) (string, error) {
	snippets, err := store.Search(ctx, query, sources, k)
	if err != nil {
		return "", fmt.Errorf("document search failed: %w", err)
	}

	hits := make([]ragHit, len(snippets))
	for i, s := range snippets {
		hits[i] = ragHit{Source: s.Source, Title: s.Title, Text: s.Text, Score: s.Score}
	}

	out, err := json.Marshal(map[string]any{
		"query": query,
		"count": len(hits),
		"hits":  hits,
	})
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// NewSearchTool creates a tool that searches the ingested document corpus.
func NewSearchTool(store retrieval.Store) engine.Tool {
	return engine.Tool{
		Name:        "rag_search",
		Description: "Search the local document corpus (ingested papers and notes) for passages matching a query.",
		SchemaJSON:  `{"type":"object","properties":{"query":{"type":"string","description":"Search query"},"sources":{"type":"array","items":{"type":"string"},"description":"Optional: restrict to these document paths"},"k":{"type":"integer","description":"Optional: number of passages (default 5)"}},"required":["query"]}`,
		Retryable:   true,
		Fn: func(ctx context.Context, args map[string]any) (string, error) {
			query, ok := args["query"].(string)
			if !ok || query == "" {
				return "", fmt.Errorf("query must be a non-empty string")
			}
			var sources []string
			if raw, ok := args["sources"].([]any); ok {
				for _, v := range raw {
					if s, ok := v.(string); ok {
						sources = append(sources, s)
					}
				}
			}
			k := 0
			if n, ok := args["k"].(float64); ok {
				k = int(n)
			}
			return searchImpl(ctx, store, query, sources, k)
		},
	}
}

func listDirectoryImpl(root string) (string, error) {
	type entry struct {
		Path  string `json:"path"`
		Bytes int64  `json:"bytes"`
	}

	var entries []entry
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && path != root {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		entries = append(entries, entry{Path: rel, Bytes: info.Size()})
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to list documents: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })

	out, err := json.Marshal(map[string]any{
		"root":  root,
		"count": len(entries),
		"files": entries,
	})
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// NewListDirectoryTool creates a tool that lists the document corpus.
func NewListDirectoryTool(root string) engine.Tool {
	return engine.Tool{
		Name:        "list_directory",
		Description: "List the files in the local document corpus.",
		SchemaJSON:  `{"type":"object","properties":{}}`,
		Retryable:   true,
		Fn: func(ctx context.Context, args map[string]any) (string, error) {
			return listDirectoryImpl(root)
		},
	}
}
