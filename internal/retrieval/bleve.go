package retrieval

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
)

// BleveStore is a Store backed by a bleve BM25 index on disk.
type BleveStore struct {
	index bleve.Index
	path  string
}

// NewBleveStore creates or opens a document index at the given path.
// A corrupted index is deleted and recreated.
func NewBleveStore(path string) (*BleveStore, error) {
	index, err := bleve.Open(path)
	if err == bleve.ErrorIndexPathDoesNotExist {
		index, err = bleve.New(path, buildDocMapping())
		if err != nil {
			return nil, fmt.Errorf("failed to create document index: %w", err)
		}
	} else if err != nil {
		log.Printf("document index at %s unreadable (%v), recreating", path, err)
		if index != nil {
			index.Close()
		}
		if err := os.RemoveAll(path); err != nil {
			return nil, fmt.Errorf("failed to remove corrupted index: %w", err)
		}
		index, err = bleve.New(path, buildDocMapping())
		if err != nil {
			return nil, fmt.Errorf("failed to recreate document index: %w", err)
		}
	}

	return &BleveStore{index: index, path: path}, nil
}

// buildDocMapping creates the index mapping for document chunks.
func buildDocMapping() mapping.IndexMapping {
	indexMapping := bleve.NewIndexMapping()
	docMapping := bleve.NewDocumentMapping()

	chunkIDField := bleve.NewTextFieldMapping()
	chunkIDField.Analyzer = keyword.Name
	chunkIDField.Store = true
	docMapping.AddFieldMappingsAt("chunk_id", chunkIDField)

	sourceField := bleve.NewTextFieldMapping()
	sourceField.Analyzer = keyword.Name
	sourceField.Store = true
	docMapping.AddFieldMappingsAt("source", sourceField)

	titleField := bleve.NewTextFieldMapping()
	titleField.Analyzer = standard.Name
	titleField.Store = true
	docMapping.AddFieldMappingsAt("title", titleField)

	textField := bleve.NewTextFieldMapping()
	textField.Analyzer = standard.Name
	textField.Store = true
	docMapping.AddFieldMappingsAt("text", textField)

	indexMapping.DefaultMapping = docMapping
	return indexMapping
}

// IndexChunks adds or replaces chunks in a single batch.
func (s *BleveStore) IndexChunks(chunks []Chunk) error {
	batch := s.index.NewBatch()
	for i := range chunks {
		chunk := &chunks[i]
		doc := map[string]interface{}{
			"chunk_id": chunk.ChunkID,
			"source":   chunk.Source,
			"title":    chunk.Title,
			"text":     chunk.Text,
		}
		if err := batch.Index(chunk.ChunkID, doc); err != nil {
			return fmt.Errorf("failed to add chunk %s to batch: %w", chunk.ChunkID, err)
		}
	}
	return s.index.Batch(batch)
}

// DeleteBySource removes every chunk ingested from the given source path.
func (s *BleveStore) DeleteBySource(source string) error {
	q := bleve.NewTermQuery(source)
	q.SetField("source")
	req := bleve.NewSearchRequest(q)
	req.Size = 10000

	result, err := s.index.Search(req)
	if err != nil {
		return fmt.Errorf("failed to find chunks for %s: %w", source, err)
	}

	batch := s.index.NewBatch()
	for _, hit := range result.Hits {
		batch.Delete(hit.ID)
	}
	return s.index.Batch(batch)
}

// Search performs keyword search and returns the top k snippets.
func (s *BleveStore) Search(ctx context.Context, query string, sources []string, k int) ([]Snippet, error) {
	if k <= 0 {
		k = 5
	}

	matchQuery := bleve.NewMatchQuery(query)
	var finalQuery = bleve.NewConjunctionQuery(matchQuery)

	if len(sources) > 0 {
		disjunction := bleve.NewDisjunctionQuery()
		for _, src := range sources {
			tq := bleve.NewTermQuery(src)
			tq.SetField("source")
			disjunction.AddQuery(tq)
		}
		finalQuery.AddQuery(disjunction)
	}

	req := bleve.NewSearchRequest(finalQuery)
	req.Size = k
	req.Fields = []string{"chunk_id", "source", "title", "text"}

	result, err := s.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("document search failed: %w", err)
	}

	snippets := make([]Snippet, 0, len(result.Hits))
	for _, hit := range result.Hits {
		sn := Snippet{ChunkID: hit.ID, Score: hit.Score}
		if v, ok := hit.Fields["source"].(string); ok {
			sn.Source = v
		}
		if v, ok := hit.Fields["title"].(string); ok {
			sn.Title = v
		}
		if v, ok := hit.Fields["text"].(string); ok {
			sn.Text = v
		}
		snippets = append(snippets, sn)
	}
	return snippets, nil
}

// Sources lists the distinct source paths currently indexed.
func (s *BleveStore) Sources() ([]string, error) {
	req := bleve.NewSearchRequest(bleve.NewMatchAllQuery())
	req.Size = 0
	req.AddFacet("sources", bleve.NewFacetRequest("source", 1000))

	result, err := s.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("failed to list sources: %w", err)
	}

	facet, ok := result.Facets["sources"]
	if !ok {
		return nil, nil
	}
	var sources []string
	for _, term := range facet.Terms.Terms() {
		sources = append(sources, term.Term)
	}
	return sources, nil
}

// DocCount returns the number of indexed chunks.
func (s *BleveStore) DocCount() (uint64, error) {
	return s.index.DocCount()
}

// Path returns the filesystem path of the index.
func (s *BleveStore) Path() string {
	return s.path
}

// Close closes the underlying index.
func (s *BleveStore) Close() error {
	return s.index.Close()
}
