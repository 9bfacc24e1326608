package vectorindex

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

const bruteForceFileName = "quotes.json"

// BruteForceIndex performs exhaustive nearest neighbor search using cosine
// similarity. Thread-safe. Suitable for small to medium vector counts
// (up to ~1000 quotes).
type BruteForceIndex struct {
	mu      sync.RWMutex
	path    string
	vectors map[string][]float32
}

// NewBruteForceIndex creates an empty in-memory BruteForceIndex.
func NewBruteForceIndex() *BruteForceIndex {
	return &BruteForceIndex{
		vectors: make(map[string][]float32),
	}
}

// OpenBruteForceIndex loads (or creates) a JSON-backed index in dir, so
// quote embeddings survive between invocations.
func OpenBruteForceIndex(dir string) (*BruteForceIndex, error) {
	b := NewBruteForceIndex()
	b.path = filepath.Join(dir, bruteForceFileName)
	data, err := os.ReadFile(b.path)
	if os.IsNotExist(err) {
		return b, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read vector index: %w", err)
	}
	if err := json.Unmarshal(data, &b.vectors); err != nil {
		return nil, fmt.Errorf("failed to parse vector index: %w", err)
	}
	return b, nil
}

// Add inserts or replaces the vector for the given quote ID.
func (b *BruteForceIndex) Add(_ context.Context, quoteID string, vector []float32) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	cp := make([]float32, len(vector))
	copy(cp, vector)
	b.vectors[quoteID] = cp
	return nil
}

// Remove deletes the vector for the given quote ID. No-op if not found.
func (b *BruteForceIndex) Remove(_ context.Context, quoteID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.vectors, quoteID)
	return nil
}

// Search returns the topK most similar vectors to query, sorted by descending score.
func (b *BruteForceIndex) Search(_ context.Context, query []float32, topK int) ([]SearchResult, error) {
	if len(query) == 0 || topK <= 0 {
		return nil, nil
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if len(b.vectors) == 0 {
		return nil, nil
	}

	results := make([]SearchResult, 0, len(b.vectors))
	for id, vec := range b.vectors {
		results = append(results, SearchResult{
			QuoteID: id,
			Score:   cosineSimilarity(query, vec),
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].QuoteID < results[j].QuoteID
	})

	if topK > len(results) {
		topK = len(results)
	}

	return results[:topK], nil
}

// Has reports whether a vector is stored for the quote ID.
func (b *BruteForceIndex) Has(quoteID string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.vectors[quoteID]
	return ok
}

// Len returns the number of vectors in the index.
func (b *BruteForceIndex) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.vectors)
}

// Save writes the index to its backing file. No-op for a purely in-memory
// index.
func (b *BruteForceIndex) Save(_ context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.path == "" {
		return nil
	}
	data, err := json.Marshal(b.vectors)
	if err != nil {
		return fmt.Errorf("failed to encode vector index: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(b.path), 0700); err != nil {
		return fmt.Errorf("failed to create index directory: %w", err)
	}
	if err := os.WriteFile(b.path, data, 0600); err != nil {
		return fmt.Errorf("failed to write vector index: %w", err)
	}
	return nil
}

// Close saves and releases resources.
func (b *BruteForceIndex) Close() error {
	return b.Save(context.Background())
}
