package vectorindex

import (
	"context"
	"sync"
	"testing"
)

func TestBruteForceIndex_AddAndSearch(t *testing.T) {
	idx := NewBruteForceIndex()
	ctx := context.Background()

	_ = idx.Add(ctx, "q1", []float32{1, 0, 0})
	_ = idx.Add(ctx, "q2", []float32{0, 1, 0})
	_ = idx.Add(ctx, "q3", []float32{0, 0, 1})

	results, err := idx.Search(ctx, []float32{1, 0, 0}, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	// q1 should be first (exact match, score=1.0)
	if results[0].QuoteID != "q1" {
		t.Errorf("expected q1 first, got %s", results[0].QuoteID)
	}
	if results[0].Score < 0.99 {
		t.Errorf("expected score ~1.0 for exact match, got %f", results[0].Score)
	}
	// q2 and q3 should have score 0.0 (orthogonal)
	if results[1].Score > 0.01 {
		t.Errorf("expected score ~0.0 for orthogonal, got %f", results[1].Score)
	}
}

func TestBruteForceIndex_ReplaceExisting(t *testing.T) {
	idx := NewBruteForceIndex()
	ctx := context.Background()

	_ = idx.Add(ctx, "q1", []float32{1, 0, 0})
	_ = idx.Add(ctx, "q1", []float32{0, 1, 0}) // replace

	if idx.Len() != 1 {
		t.Errorf("expected Len()=1 after replace, got %d", idx.Len())
	}

	results, _ := idx.Search(ctx, []float32{0, 1, 0}, 1)
	if len(results) != 1 || results[0].QuoteID != "q1" {
		t.Fatalf("expected q1 result")
	}
	if results[0].Score < 0.99 {
		t.Errorf("expected score ~1.0 for replaced vector, got %f", results[0].Score)
	}
}

func TestBruteForceIndex_Remove(t *testing.T) {
	idx := NewBruteForceIndex()
	ctx := context.Background()

	_ = idx.Add(ctx, "q1", []float32{1, 0, 0})
	_ = idx.Add(ctx, "q2", []float32{0, 1, 0})
	_ = idx.Add(ctx, "q3", []float32{0, 0, 1})

	_ = idx.Remove(ctx, "q2")

	if idx.Len() != 2 {
		t.Errorf("expected Len()=2 after remove, got %d", idx.Len())
	}

	results, _ := idx.Search(ctx, []float32{0, 1, 0}, 3)
	for _, r := range results {
		if r.QuoteID == "q2" {
			t.Error("removed q2 should not appear in results")
		}
	}
}

func TestBruteForceIndex_RemoveNonexistent(t *testing.T) {
	idx := NewBruteForceIndex()
	err := idx.Remove(context.Background(), "nonexistent")
	if err != nil {
		t.Errorf("expected nil error for removing nonexistent, got %v", err)
	}
}

func TestBruteForceIndex_SearchEmpty(t *testing.T) {
	idx := NewBruteForceIndex()
	results, err := idx.Search(context.Background(), []float32{1, 0}, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected empty results, got %d", len(results))
	}
}

func TestBruteForceIndex_SearchTopKExceedsLen(t *testing.T) {
	idx := NewBruteForceIndex()
	ctx := context.Background()

	_ = idx.Add(ctx, "q1", []float32{1, 0})
	_ = idx.Add(ctx, "q2", []float32{0, 1})

	results, _ := idx.Search(ctx, []float32{1, 0}, 10)
	if len(results) != 2 {
		t.Errorf("expected 2 results when topK > len, got %d", len(results))
	}
}

func TestBruteForceIndex_SearchTopKZero(t *testing.T) {
	idx := NewBruteForceIndex()
	ctx := context.Background()

	_ = idx.Add(ctx, "q1", []float32{1, 0})

	results, err := idx.Search(ctx, []float32{1, 0}, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected empty results for topK=0, got %d", len(results))
	}
}

func TestBruteForceIndex_ConcurrentAccess(t *testing.T) {
	idx := NewBruteForceIndex()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := string(rune('a' + n))
			vec := []float32{float32(n), float32(n + 1), float32(n + 2)}
			_ = idx.Add(ctx, id, vec)
			_, _ = idx.Search(ctx, vec, 3)
			_ = idx.Remove(ctx, id)
		}(i)
	}
	wg.Wait()
}

func TestBruteForceIndex_Ordering(t *testing.T) {
	idx := NewBruteForceIndex()
	ctx := context.Background()

	_ = idx.Add(ctx, "q1", []float32{1, 0, 0})
	_ = idx.Add(ctx, "q2", []float32{0.9, 0.1, 0})
	_ = idx.Add(ctx, "q3", []float32{0, 0, 1})

	query := []float32{1, 0, 0}
	results, _ := idx.Search(ctx, query, 3)

	// Expected order: q1 (exact match), q2 (close), q3 (orthogonal)
	expected := []string{"q1", "q2", "q3"}
	for i, r := range results {
		if r.QuoteID != expected[i] {
			t.Errorf("position %d: expected %s, got %s", i, expected[i], r.QuoteID)
		}
	}
}

func TestBruteForceIndex_Has(t *testing.T) {
	idx := NewBruteForceIndex()
	ctx := context.Background()

	_ = idx.Add(ctx, "q1", []float32{1, 0, 0})
	if !idx.Has("q1") {
		t.Error("expected Has(q1) = true")
	}
	if idx.Has("q2") {
		t.Error("expected Has(q2) = false")
	}
}

func TestBruteForceIndex_SaveAndReload(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	idx, err := OpenBruteForceIndex(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_ = idx.Add(ctx, "q1", []float32{1, 0, 0})
	_ = idx.Add(ctx, "q2", []float32{0, 1, 0})
	if err := idx.Save(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	reloaded, err := OpenBruteForceIndex(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reloaded.Len() != 2 {
		t.Fatalf("expected 2 vectors after reload, got %d", reloaded.Len())
	}
	results, _ := reloaded.Search(ctx, []float32{1, 0, 0}, 1)
	if len(results) != 1 || results[0].QuoteID != "q1" {
		t.Errorf("expected q1 from reloaded index, got %v", results)
	}
}
