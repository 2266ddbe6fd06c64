package retrieval

import "context"

// Snippet is a scored chunk of document text returned by a search.
type Snippet struct {
	ChunkID string
	Source  string
	Title   string
	Text    string
	Score   float64
}

// Store indexes document chunks and serves keyword search over them.
type Store interface {
	// Search returns the top k snippets matching the query. If sources is
	// non-empty, results are restricted to those source paths.
	Search(ctx context.Context, query string, sources []string, k int) ([]Snippet, error)

	// IndexChunks adds or replaces chunks in the index.
	IndexChunks(chunks []Chunk) error

	// DeleteBySource removes every chunk ingested from the given source.
	DeleteBySource(source string) error

	// Sources lists the distinct source paths currently indexed.
	Sources() ([]string, error)

	Close() error
}
