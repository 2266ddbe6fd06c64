package retrieval

import (
	"bufio"
	"crypto/sha256"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	gitignore "github.com/sabhiram/go-gitignore"
)

// DocsIgnoreFile is the per-corpus ignore file honored during ingestion.
const DocsIgnoreFile = ".docsignore"

// defaultIgnorePatterns are always skipped regardless of .docsignore.
var defaultIgnorePatterns = []string{
	".git",
	".docsignore",
	"node_modules",
	"__pycache__",
	".DS_Store",
	".cache",
}

// ingestableExts are the document extensions the ingestor reads as text.
var ingestableExts = map[string]bool{
	".md":   true,
	".txt":  true,
	".rst":  true,
	".text": true,
}

// Ingestor walks a document directory and feeds chunks into a Store. File
// content hashes are remembered so unchanged files are skipped on re-ingest.
type Ingestor struct {
	root    string
	store   Store
	chunker *Chunker

	mu     sync.Mutex
	hashes map[string]string
}

// NewIngestor creates an ingestor rooted at the given document directory.
func NewIngestor(root string, store Store) *Ingestor {
	return &Ingestor{
		root:    root,
		store:   store,
		chunker: NewChunker(),
		hashes:  make(map[string]string),
	}
}

// Root returns the document directory being ingested.
func (ing *Ingestor) Root() string {
	return ing.root
}

// IngestAll walks the document root and indexes every ingestable file that is
// new or changed. It returns the relative paths of files (re)indexed.
func (ing *Ingestor) IngestAll() ([]string, error) {
	matcher := ing.buildIgnoreMatcher()

	var ingested []string
	err := filepath.WalkDir(ing.root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		relPath, err := filepath.Rel(ing.root, path)
		if err != nil {
			return nil
		}
		if matcher != nil && matcher.MatchesPath(relPath) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if !ingestableExts[strings.ToLower(filepath.Ext(path))] {
			return nil
		}

		changed, err := ing.ingestFile(path, relPath)
		if err != nil {
			log.Printf("failed to ingest %s: %v", relPath, err)
			return nil
		}
		if changed {
			ingested = append(ingested, relPath)
		}
		return nil
	})
	if err != nil {
		return ingested, fmt.Errorf("failed to walk %s: %w", ing.root, err)
	}
	return ingested, nil
}

// IngestPaths re-ingests the given paths, relative to the document root.
// Missing files are removed from the index.
func (ing *Ingestor) IngestPaths(relPaths []string) ([]string, error) {
	var ingested []string
	for _, relPath := range relPaths {
		full := filepath.Join(ing.root, relPath)
		if _, err := os.Stat(full); os.IsNotExist(err) {
			if err := ing.store.DeleteBySource(relPath); err != nil {
				log.Printf("failed to drop %s from index: %v", relPath, err)
			}
			ing.mu.Lock()
			delete(ing.hashes, relPath)
			ing.mu.Unlock()
			continue
		}
		if !ingestableExts[strings.ToLower(filepath.Ext(full))] {
			continue
		}
		changed, err := ing.ingestFile(full, relPath)
		if err != nil {
			log.Printf("failed to ingest %s: %v", relPath, err)
			continue
		}
		if changed {
			ingested = append(ingested, relPath)
		}
	}
	return ingested, nil
}

// ingestFile indexes one file. Returns false if the content hash is unchanged.
func (ing *Ingestor) ingestFile(fullPath, relPath string) (bool, error) {
	content, err := os.ReadFile(fullPath)
	if err != nil {
		return false, err
	}

	hash := fmt.Sprintf("%x", sha256.Sum256(content))
	ing.mu.Lock()
	if ing.hashes[relPath] == hash {
		ing.mu.Unlock()
		return false, nil
	}
	ing.mu.Unlock()

	if err := ing.store.DeleteBySource(relPath); err != nil {
		return false, err
	}

	title := documentTitle(relPath, content)
	chunks := ing.chunker.Chunk(relPath, title, string(content))
	if len(chunks) > 0 {
		if err := ing.store.IndexChunks(chunks); err != nil {
			return false, err
		}
	}

	ing.mu.Lock()
	ing.hashes[relPath] = hash
	ing.mu.Unlock()
	return true, nil
}

// buildIgnoreMatcher combines the default patterns with .docsignore lines.
func (ing *Ingestor) buildIgnoreMatcher() gitignore.IgnoreParser {
	patterns := make([]string, 0, len(defaultIgnorePatterns)+10)
	patterns = append(patterns, defaultIgnorePatterns...)

	ignorePath := filepath.Join(ing.root, DocsIgnoreFile)
	if lines, err := readIgnoreLines(ignorePath); err == nil {
		patterns = append(patterns, lines...)
	}

	return gitignore.CompileIgnoreLines(patterns...)
}

func readIgnoreLines(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}

// documentTitle derives a display title from a markdown heading, the first
// non-empty line, or the filename.
func documentTitle(relPath string, content []byte) string {
	scanner := bufio.NewScanner(strings.NewReader(string(content)))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		line = strings.TrimLeft(line, "# ")
		if line != "" {
			if len(line) > 120 {
				line = line[:120]
			}
			return line
		}
	}
	base := filepath.Base(relPath)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// copyIntoRoot copies an external file into the document root so it becomes
// part of the corpus. Used after a run downloads new papers.
func (ing *Ingestor) copyIntoRoot(srcPath string) (string, error) {
	dst := filepath.Join(ing.root, filepath.Base(srcPath))
	if _, err := os.Stat(dst); err == nil {
		return filepath.Base(srcPath), nil
	}

	src, err := os.Open(srcPath)
	if err != nil {
		return "", err
	}
	defer src.Close()

	out, err := os.Create(dst)
	if err != nil {
		return "", err
	}
	defer out.Close()

	if _, err := io.Copy(out, src); err != nil {
		return "", err
	}
	return filepath.Base(srcPath), nil
}

// AdoptFiles copies external files into the corpus and ingests them.
func (ing *Ingestor) AdoptFiles(paths []string) ([]string, error) {
	var relPaths []string
	for _, p := range paths {
		rel, err := ing.copyIntoRoot(p)
		if err != nil {
			log.Printf("failed to adopt %s: %v", p, err)
			continue
		}
		relPaths = append(relPaths, rel)
	}
	return ing.IngestPaths(relPaths)
}
