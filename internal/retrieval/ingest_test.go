package retrieval

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *BleveStore {
	t.Helper()
	store, err := NewBleveStore(filepath.Join(t.TempDir(), "docs.bleve"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func writeDoc(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
}

func TestIngestAndSearch(t *testing.T) {
	root := t.TempDir()
	writeDoc(t, root, "transformers.md", "# Attention\n\nTransformers rely on self-attention over token sequences.")
	writeDoc(t, root, "optimizers.md", "# Optimizers\n\nAdam combines momentum with adaptive learning rates.")

	store := newTestStore(t)
	ing := NewIngestor(root, store)

	ingested, err := ing.IngestAll()
	if err != nil {
		t.Fatalf("IngestAll failed: %v", err)
	}
	if len(ingested) != 2 {
		t.Fatalf("expected 2 ingested files, got %d: %v", len(ingested), ingested)
	}

	snippets, err := store.Search(context.Background(), "self-attention", nil, 5)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(snippets) == 0 {
		t.Fatal("expected at least one snippet")
	}
	if snippets[0].Source != "transformers.md" {
		t.Errorf("top hit source = %q, want transformers.md", snippets[0].Source)
	}
	if snippets[0].Title != "Attention" {
		t.Errorf("top hit title = %q, want Attention", snippets[0].Title)
	}
}

func TestIngestSkipsUnchangedFiles(t *testing.T) {
	root := t.TempDir()
	writeDoc(t, root, "a.md", "alpha content")

	store := newTestStore(t)
	ing := NewIngestor(root, store)

	if _, err := ing.IngestAll(); err != nil {
		t.Fatalf("first IngestAll failed: %v", err)
	}
	again, err := ing.IngestAll()
	if err != nil {
		t.Fatalf("second IngestAll failed: %v", err)
	}
	if len(again) != 0 {
		t.Errorf("unchanged files should be skipped, got %v", again)
	}

	writeDoc(t, root, "a.md", "alpha content revised")
	third, err := ing.IngestAll()
	if err != nil {
		t.Fatalf("third IngestAll failed: %v", err)
	}
	if len(third) != 1 {
		t.Errorf("changed file should re-ingest, got %v", third)
	}
}

func TestIngestHonorsDocsIgnore(t *testing.T) {
	root := t.TempDir()
	writeDoc(t, root, DocsIgnoreFile, "drafts/\nsecret.md\n")
	writeDoc(t, root, "keep.md", "indexable content")
	writeDoc(t, root, "secret.md", "should not be indexed")
	if err := os.MkdirAll(filepath.Join(root, "drafts"), 0o755); err != nil {
		t.Fatal(err)
	}
	writeDoc(t, filepath.Join(root, "drafts"), "wip.md", "draft content")

	store := newTestStore(t)
	ing := NewIngestor(root, store)

	ingested, err := ing.IngestAll()
	if err != nil {
		t.Fatalf("IngestAll failed: %v", err)
	}
	if len(ingested) != 1 || ingested[0] != "keep.md" {
		t.Errorf("expected only keep.md, got %v", ingested)
	}
}

func TestIngestPathsRemovesMissingFiles(t *testing.T) {
	root := t.TempDir()
	writeDoc(t, root, "gone.md", "temporary content about quasars")

	store := newTestStore(t)
	ing := NewIngestor(root, store)
	if _, err := ing.IngestAll(); err != nil {
		t.Fatal(err)
	}

	if err := os.Remove(filepath.Join(root, "gone.md")); err != nil {
		t.Fatal(err)
	}
	if _, err := ing.IngestPaths([]string{"gone.md"}); err != nil {
		t.Fatal(err)
	}

	snippets, err := store.Search(context.Background(), "quasars", nil, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(snippets) != 0 {
		t.Errorf("deleted file should leave no snippets, got %d", len(snippets))
	}
}

func TestSearchSourceFilter(t *testing.T) {
	store := newTestStore(t)
	err := store.IndexChunks([]Chunk{
		{ChunkID: "c1", Source: "a.md", Title: "A", Text: "neural networks and gradients"},
		{ChunkID: "c2", Source: "b.md", Title: "B", Text: "neural networks and attention"},
	})
	if err != nil {
		t.Fatal(err)
	}

	snippets, err := store.Search(context.Background(), "neural networks", []string{"b.md"}, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(snippets) != 1 || snippets[0].Source != "b.md" {
		t.Errorf("source filter not applied: %+v", snippets)
	}
}
