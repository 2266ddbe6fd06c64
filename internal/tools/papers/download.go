// Package papers downloads search results into the local paper directory.
package papers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ChamsBouzaiene/phidelta/internal/engine"
	"github.com/ChamsBouzaiene/phidelta/internal/memory"
)

// DownloadOutcome is one per-index entry in tool output.
type DownloadOutcome struct {
	Index  int    `json:"index"`
	Title  string `json:"title,omitempty"`
	Path   string `json:"path,omitempty"`
	Status string `json:"status"` // downloaded, exists, error
	Error  string `json:"error,omitempty"`
}

func downloadImpl(ctx context.Context, mem *memory.Memory, paperDir string, indices []int) (string, error) {
	results := mem.Results()
	if results == nil || results.Kind != "arxiv" {
		return "", fmt.Errorf("no paper search results available; run arxiv_search first")
	}

	if err := os.MkdirAll(paperDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create paper directory: %w", err)
	}

	client := &http.Client{Timeout: 2 * time.Minute}
	outcomes := make([]DownloadOutcome, 0, len(indices))

	for _, idx := range indices {
		item, err := results.Get(idx)
		if err != nil {
			outcomes = append(outcomes, DownloadOutcome{Index: idx, Status: "error", Error: err.Error()})
			continue
		}

		dst := filepath.Join(paperDir, paperFilename(item.Title, item.URL))
		if _, err := os.Stat(dst); err == nil {
			// Already fetched on an earlier attempt of this step.
			mem.RecordDownload(dst)
			outcomes = append(outcomes, DownloadOutcome{Index: idx, Title: item.Title, Path: dst, Status: "exists"})
			continue
		}

		if err := fetchFile(ctx, client, item.URL, dst); err != nil {
			outcomes = append(outcomes, DownloadOutcome{Index: idx, Title: item.Title, Status: "error", Error: err.Error()})
			continue
		}

		mem.RecordDownload(dst)
		mem.AddReference(memory.Reference{URL: item.URL, Title: item.Title})
		outcomes = append(outcomes, DownloadOutcome{Index: idx, Title: item.Title, Path: dst, Status: "downloaded"})
	}

	out, err := json.Marshal(map[string]any{"papers": outcomes})
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func fetchFile(ctx context.Context, client *http.Client, srcURL, dst string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srcURL, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("download failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download returned status %d", resp.StatusCode)
	}

	tmp := dst + ".part"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dst)
}

// paperFilename derives a stable filename from the paper title so repeated
// downloads of the same result land on the same path.
func paperFilename(title, srcURL string) string {
	base := strings.ToLower(strings.TrimSpace(title))
	if base == "" {
		base = filepath.Base(srcURL)
	}
	var b strings.Builder
	for _, r := range base {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.':
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '_':
			b.WriteRune('_')
		}
	}
	name := b.String()
	if len(name) > 80 {
		name = name[:80]
	}
	if name == "" {
		name = "paper"
	}
	return name + ".pdf"
}

// NewDownloadTool creates a tool that downloads papers referenced by the
// numbers from the most recent arxiv_search.
func NewDownloadTool(mem *memory.Memory, paperDir string) engine.Tool {
	return engine.Tool{
		Name:        "download_papers",
		Description: "Download papers by their numbers from the latest arxiv_search results. Already-downloaded papers are skipped.",
		SchemaJSON:  `{"type":"object","properties":{"indices":{"type":"array","items":{"type":"integer"},"description":"1-based result numbers from arxiv_search"}},"required":["indices"]}`,
		Retryable:   true,
		Fn: func(ctx context.Context, args map[string]any) (string, error) {
			raw, ok := args["indices"].([]any)
			if !ok || len(raw) == 0 {
				return "", fmt.Errorf("indices must be a non-empty array of integers")
			}
			indices := make([]int, 0, len(raw))
			for _, v := range raw {
				n, ok := v.(float64)
				if !ok {
					return "", fmt.Errorf("indices must be integers")
				}
				indices = append(indices, int(n))
			}
			return downloadImpl(ctx, mem, paperDir, indices)
		},
	}
}
