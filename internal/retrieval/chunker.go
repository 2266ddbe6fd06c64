package retrieval

import (
	"crypto/sha256"
	"fmt"
	"strings"
)

// Chunk is a slice of a source document prepared for indexing.
type Chunk struct {
	ChunkID string
	Source  string
	Title   string
	Ordinal int
	Text    string
}

const (
	// DefaultChunkSize is the target chunk length in characters.
	DefaultChunkSize = 1000
	// DefaultChunkOverlap is how many trailing characters carry into the
	// next chunk so sentences split at a boundary stay searchable.
	DefaultChunkOverlap = 200
)

// Chunker splits document text into overlapping chunks on paragraph
// boundaries where possible.
type Chunker struct {
	Size    int
	Overlap int
}

// NewChunker creates a chunker with the default size and overlap.
func NewChunker() *Chunker {
	return &Chunker{Size: DefaultChunkSize, Overlap: DefaultChunkOverlap}
}

// Chunk splits content from the given source into indexable chunks. The
// title is carried onto every chunk for display in search results.
func (c *Chunker) Chunk(source, title, content string) []Chunk {
	size := c.Size
	if size <= 0 {
		size = DefaultChunkSize
	}
	overlap := c.Overlap
	if overlap < 0 || overlap >= size {
		overlap = DefaultChunkOverlap
	}

	content = strings.TrimSpace(content)
	if content == "" {
		return nil
	}

	var chunks []Chunk
	ordinal := 0
	for start := 0; start < len(content); {
		end := start + size
		if end >= len(content) {
			end = len(content)
		} else {
			// Prefer breaking at a paragraph, then a line, then a space.
			window := content[start:end]
			if idx := strings.LastIndex(window, "\n\n"); idx > size/2 {
				end = start + idx
			} else if idx := strings.LastIndex(window, "\n"); idx > size/2 {
				end = start + idx
			} else if idx := strings.LastIndex(window, " "); idx > size/2 {
				end = start + idx
			}
		}

		text := strings.TrimSpace(content[start:end])
		if text != "" {
			chunks = append(chunks, Chunk{
				ChunkID: hashChunk(source, ordinal, text),
				Source:  source,
				Title:   title,
				Ordinal: ordinal,
				Text:    text,
			})
			ordinal++
		}

		if end == len(content) {
			break
		}
		next := end - overlap
		if next <= start {
			next = end
		}
		start = next
	}

	return chunks
}

func hashChunk(source string, ordinal int, text string) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%s:%d:%s", source, ordinal, text)))
	return fmt.Sprintf("%x", h[:16])
}
