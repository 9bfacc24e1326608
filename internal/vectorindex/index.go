// Package vectorindex provides nearest neighbor search over quote
// embeddings for semantic quote retrieval.
package vectorindex

import (
	"context"
	"math"
)

// SearchResult pairs a quote ID with its cosine similarity score.
type SearchResult struct {
	QuoteID string
	Score   float64 // cosine similarity in [-1, 1], higher = more similar
}

// VectorIndex provides nearest neighbor search over embeddings.
// Implementations must be safe for concurrent use from multiple goroutines.
type VectorIndex interface {
	// Add inserts or updates the vector for the given quote ID.
	// If the ID already exists, the vector is replaced.
	Add(ctx context.Context, quoteID string, vector []float32) error

	// Remove deletes the vector for the given quote ID.
	// Returns nil if the ID does not exist (idempotent).
	Remove(ctx context.Context, quoteID string) error

	// Search returns the topK most similar vectors to query, sorted by
	// descending score. Returns fewer than topK results if the index
	// contains fewer vectors.
	Search(ctx context.Context, query []float32, topK int) ([]SearchResult, error)

	// Has reports whether the index already holds a vector for the ID.
	Has(quoteID string) bool

	// Len returns the number of vectors currently in the index.
	Len() int

	// Save persists the index state to its backing store.
	// Implementations without persistence should no-op.
	Save(ctx context.Context) error

	// Close releases resources. Implementations should save before closing.
	Close() error
}

// cosineSimilarity computes the cosine of the angle between two vectors.
// Mismatched lengths or zero vectors score 0.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
