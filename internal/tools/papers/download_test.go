package papers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/ChamsBouzaiene/phidelta/internal/memory"
)

func TestDownloadByIndex(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Write([]byte("%PDF-1.4 fake"))
	}))
	defer srv.Close()

	mem := memory.New()
	mem.InstallResults("arxiv", []memory.ResultItem{
		{Title: "First Paper", URL: srv.URL + "/p1"},
		{Title: "Second Paper", URL: srv.URL + "/p2"},
	})

	dir := t.TempDir()
	out, err := downloadImpl(context.Background(), mem, dir, []int{2})
	if err != nil {
		t.Fatalf("downloadImpl failed: %v", err)
	}

	var payload struct {
		Papers []DownloadOutcome `json:"papers"`
	}
	if err := json.Unmarshal([]byte(out), &payload); err != nil {
		t.Fatalf("output not valid JSON: %v", err)
	}
	if len(payload.Papers) != 1 || payload.Papers[0].Status != "downloaded" {
		t.Fatalf("unexpected outcomes: %+v", payload.Papers)
	}
	if payload.Papers[0].Title != "Second Paper" {
		t.Errorf("index 2 resolved to %q", payload.Papers[0].Title)
	}
	if _, err := os.Stat(filepath.Join(dir, "second_paper.pdf")); err != nil {
		t.Errorf("downloaded file missing: %v", err)
	}
	if got := mem.Downloads(); len(got) != 1 {
		t.Errorf("expected 1 recorded download, got %v", got)
	}
}

func TestDownloadSkipsExistingFiles(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Write([]byte("%PDF-1.4 fake"))
	}))
	defer srv.Close()

	mem := memory.New()
	mem.InstallResults("arxiv", []memory.ResultItem{
		{Title: "Cached Paper", URL: srv.URL + "/p1"},
	})

	dir := t.TempDir()
	if _, err := downloadImpl(context.Background(), mem, dir, []int{1}); err != nil {
		t.Fatal(err)
	}
	if hits != 1 {
		t.Fatalf("expected 1 fetch, got %d", hits)
	}

	// Retrying the same step must not fetch again.
	out, err := downloadImpl(context.Background(), mem, dir, []int{1})
	if err != nil {
		t.Fatal(err)
	}
	if hits != 1 {
		t.Errorf("repeat download hit the network: %d fetches", hits)
	}

	var payload struct {
		Papers []DownloadOutcome `json:"papers"`
	}
	if err := json.Unmarshal([]byte(out), &payload); err != nil {
		t.Fatal(err)
	}
	if payload.Papers[0].Status != "exists" {
		t.Errorf("status = %q, want exists", payload.Papers[0].Status)
	}
}

func TestDownloadOutOfRangeIndex(t *testing.T) {
	mem := memory.New()
	mem.InstallResults("arxiv", []memory.ResultItem{
		{Title: "Only Paper", URL: "http://example.com/p1"},
	})

	out, err := downloadImpl(context.Background(), mem, t.TempDir(), []int{0, 5})
	if err != nil {
		t.Fatalf("downloadImpl failed: %v", err)
	}

	var payload struct {
		Papers []DownloadOutcome `json:"papers"`
	}
	if err := json.Unmarshal([]byte(out), &payload); err != nil {
		t.Fatal(err)
	}
	for _, p := range payload.Papers {
		if p.Status != "error" {
			t.Errorf("index %d should error, got %q", p.Index, p.Status)
		}
	}
}

func TestDownloadWithoutSearchResults(t *testing.T) {
	mem := memory.New()
	if _, err := downloadImpl(context.Background(), mem, t.TempDir(), []int{1}); err == nil {
		t.Error("expected error when no search results exist")
	}
}

func TestPaperFilename(t *testing.T) {
	tests := []struct {
		title string
		url   string
		want  string
	}{
		{"Attention Is All You Need", "http://x/p.pdf", "attention_is_all_you_need.pdf"},
		{"", "http://arxiv.org/pdf/1706.03762", "1706.03762.pdf"},
		{"!!!", "http://x/y", "paper.pdf"},
	}
	for _, tt := range tests {
		if got := paperFilename(tt.title, tt.url); got != tt.want {
			t.Errorf("paperFilename(%q) = %q, want %q", tt.title, got, tt.want)
		}
	}
}
