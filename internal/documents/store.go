// Package documents holds operator-loaded reference documents and serves
// keyword-matched chunks as grounding context for assistant answers. This
// is a simple auxiliary lookup, not a semantic search.
package documents

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/linder3hs/livegate/internal/config"
)

// Document is one loaded reference document plus its derived chunks.
type Document struct {
	Name       string
	Content    string
	SourcePath string
	LoadedAt   time.Time
	Chunks     []string
}

// Info is the listing view of a loaded document.
type Info struct {
	Name     string    `json:"name"`
	Path     string    `json:"path"`
	LoadedAt time.Time `json:"loaded_at"`
	Size     int       `json:"size"`
}

// Store owns the loaded documents. Loading the same name again replaces
// the previous document.
type Store struct {
	mu           sync.RWMutex
	docs         map[string]*Document
	maxChunkSize int
	formats      map[string]bool
}

// NewStore creates an empty document store.
func NewStore(cfg config.DocumentsConfig) *Store {
	formats := make(map[string]bool, len(cfg.SupportedFormats))
	for _, f := range cfg.SupportedFormats {
		formats[strings.ToLower(f)] = true
	}
	size := cfg.MaxChunkSize
	if size <= 0 {
		size = 1000
	}
	return &Store{
		docs:         make(map[string]*Document),
		maxChunkSize: size,
		formats:      formats,
	}
}

// Load reads the file at path and stores it under name.
func (s *Store) Load(path, name string) error {
	ext := strings.ToLower(filepath.Ext(path))
	if !s.formats[ext] {
		return fmt.Errorf("unsupported format %q", ext)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read document: %w", err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}

	doc := &Document{
		Name:       name,
		Content:    string(content),
		SourcePath: abs,
		LoadedAt:   time.Now(),
	}
	doc.Chunks = splitChunks(doc.Content, s.maxChunkSize)

	s.mu.Lock()
	s.docs[name] = doc
	s.mu.Unlock()
	return nil
}

// Query returns every chunk matching at least one query keyword,
// concatenated. With an empty name it searches all documents, prefixing
// each document's matches with its name.
func (s *Store) Query(query, name string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keywords := queryKeywords(query)

	if name != "" {
		doc, ok := s.docs[name]
		if !ok {
			return ""
		}
		return strings.Join(matchingChunks(doc, keywords), "\n\n")
	}

	names := make([]string, 0, len(s.docs))
	for n := range s.docs {
		names = append(names, n)
	}
	sort.Strings(names)

	var parts []string
	for _, n := range names {
		if matches := matchingChunks(s.docs[n], keywords); len(matches) > 0 {
			parts = append(parts, fmt.Sprintf("De %s:\n%s", n, strings.Join(matches, "\n\n")))
		}
	}
	return strings.Join(parts, "\n\n")
}

// TopChunks returns up to k chunks across the searched documents, ranked
// by keyword frequency with a bonus for each distinct query keyword
// present. Used as grounding context for the assistant.
func (s *Store) TopChunks(query, name string, k int) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keywords := queryKeywords(query)
	if len(keywords) == 0 || k <= 0 {
		return nil
	}

	type scored struct {
		chunk string
		score int
	}
	var candidates []scored

	consider := func(doc *Document) {
		for _, chunk := range doc.Chunks {
			if score := scoreChunk(chunk, keywords); score > 0 {
				candidates = append(candidates, scored{chunk: chunk, score: score})
			}
		}
	}

	if name != "" {
		if doc, ok := s.docs[name]; ok {
			consider(doc)
		}
	} else {
		for _, doc := range s.docs {
			consider(doc)
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})
	if len(candidates) > k {
		candidates = candidates[:k]
	}

	chunks := make([]string, len(candidates))
	for i, c := range candidates {
		chunks[i] = c.chunk
	}
	return chunks
}

// List returns the loaded documents sorted by name.
func (s *Store) List() []Info {
	s.mu.RLock()
	defer s.mu.RUnlock()

	infos := make([]Info, 0, len(s.docs))
	for _, doc := range s.docs {
		infos = append(infos, Info{
			Name:     doc.Name,
			Path:     doc.SourcePath,
			LoadedAt: doc.LoadedAt,
			Size:     len(doc.Content),
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// Remove deletes the named document. Returns false if it was not loaded.
func (s *Store) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.docs[name]; !ok {
		return false
	}
	delete(s.docs, name)
	return true
}

// splitChunks packs whole paragraphs into chunks of at most size bytes.
// A single paragraph longer than size becomes its own oversized chunk
// rather than being split mid-sentence.
func splitChunks(content string, size int) []string {
	paragraphs := strings.Split(content, "\n\n")
	var out []string
	var chunk strings.Builder

	for _, p := range paragraphs {
		if chunk.Len()+len(p) <= size {
			if chunk.Len() > 0 {
				chunk.WriteString("\n\n")
			}
			chunk.WriteString(p)
			continue
		}
		if chunk.Len() > 0 {
			out = append(out, chunk.String())
			chunk.Reset()
		}
		chunk.WriteString(p)
	}
	if chunk.Len() > 0 {
		out = append(out, chunk.String())
	}
	return out
}

func queryKeywords(query string) []string {
	fields := strings.Fields(strings.ToLower(query))
	keywords := fields[:0]
	for _, f := range fields {
		if len(f) > 1 {
			keywords = append(keywords, f)
		}
	}
	return keywords
}

func matchingChunks(doc *Document, keywords []string) []string {
	var out []string
	for _, chunk := range doc.Chunks {
		lower := strings.ToLower(chunk)
		for _, k := range keywords {
			if strings.Contains(lower, k) {
				out = append(out, chunk)
				break
			}
		}
	}
	return out
}

// scoreChunk counts keyword occurrences and adds a bonus for each distinct
// keyword present, so chunks covering more of the query outrank chunks
// repeating a single term.
func scoreChunk(chunk string, keywords []string) int {
	lower := strings.ToLower(chunk)
	score := 0
	for _, k := range keywords {
		if n := strings.Count(lower, k); n > 0 {
			score += n + 2
		}
	}
	return score
}
