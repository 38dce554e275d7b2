package vector

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/pepperjavis/recall/internal/errors"
	"github.com/pepperjavis/recall/internal/store"
	"github.com/pepperjavis/recall/internal/telemetry"
)

func newTestIndex(t *testing.T, dimension int, scope string) (*Index, *store.Store) {
	t.Helper()
	s, err := store.Open(context.Background(), store.Options{Path: filepath.Join(t.TempDir(), "memory.db")})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })

	if _, err := s.CreateSession(context.Background(), "s1", "user-1", nil); err != nil {
		t.Fatal(err)
	}

	x, err := New(s, telemetry.NewLogger("error"), dimension, scope)
	if err != nil {
		t.Fatal(err)
	}
	return x, s
}

func TestIndex_DimensionMismatch(t *testing.T) {
	x, _ := newTestIndex(t, 3, ScopeSession)
	ctx := context.Background()

	_, err := x.Index(ctx, "e1", "s1", "user-1", "text", []float32{1, 0}, nil)
	if errors.AsCode(err) != errors.CodeDimensionMismatch {
		t.Errorf("expected DIMENSION_MISMATCH, got %v", err)
	}

	_, err = x.Search(ctx, "s1", "user-1", []float32{1, 0, 0, 0}, 5)
	if errors.AsCode(err) != errors.CodeDimensionMismatch {
		t.Errorf("expected DIMENSION_MISMATCH for query, got %v", err)
	}
}

func TestIndex_SearchReflexivity(t *testing.T) {
	x, _ := newTestIndex(t, 3, ScopeSession)
	ctx := context.Background()

	v := []float32{0.3, -0.7, 0.2}
	if _, err := x.Index(ctx, "e1", "s1", "user-1", "the johnson project follow-up", v, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := x.Index(ctx, "e2", "s1", "user-1", "unrelated grocery list", []float32{-0.9, 0.1, 0.4}, nil); err != nil {
		t.Fatal(err)
	}

	// Querying with the indexed vector itself must rank it first.
	results, err := x.Search(ctx, "s1", "user-1", v, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].Content != "the johnson project follow-up" {
		t.Errorf("expected the indexed content as top-1, got %q", results[0].Content)
	}
}

func TestIndex_TopKMonotonic(t *testing.T) {
	x, _ := newTestIndex(t, 2, ScopeSession)
	ctx := context.Background()

	vectors := [][]float32{{1, 0}, {0.9, 0.1}, {0, 1}, {-1, 0}}
	contents := []string{"a", "b", "c", "d"}
	for i := range vectors {
		if _, err := x.Index(ctx, contents[i], "s1", "", contents[i], vectors[i], nil); err != nil {
			t.Fatal(err)
		}
	}

	query := []float32{1, 0}
	top2, err := x.Search(ctx, "s1", "", query, 2)
	if err != nil {
		t.Fatal(err)
	}
	top4, err := x.Search(ctx, "s1", "", query, 4)
	if err != nil {
		t.Fatal(err)
	}

	if len(top4) < len(top2) {
		t.Fatalf("increasing topK shrank results: %d -> %d", len(top2), len(top4))
	}
	for i := range top2 {
		if top2[i].Content != top4[i].Content {
			t.Errorf("increasing topK reordered rank %d: %q vs %q", i, top2[i].Content, top4[i].Content)
		}
	}
}

func TestIndex_ScoresDescending(t *testing.T) {
	x, _ := newTestIndex(t, 2, ScopeSession)
	ctx := context.Background()

	for i, v := range [][]float32{{1, 0}, {0.5, 0.5}, {0, 1}} {
		if _, err := x.Index(ctx, string(rune('a'+i)), "s1", "", "doc", v, nil); err != nil {
			t.Fatal(err)
		}
	}

	results, err := x.Search(ctx, "s1", "", []float32{1, 0}, 3)
	if err != nil {
		t.Fatal(err)
	}
	for i := 1; i < len(results); i++ {
		if results[i].Score > results[i-1].Score {
			t.Errorf("scores not descending at %d: %f > %f", i, results[i].Score, results[i-1].Score)
		}
	}
}

func TestIndex_SessionScopeIsolation(t *testing.T) {
	x, s := newTestIndex(t, 2, ScopeSession)
	ctx := context.Background()

	if _, err := s.CreateSession(ctx, "s2", "user-1", nil); err != nil {
		t.Fatal(err)
	}

	if _, err := x.Index(ctx, "e1", "s1", "user-1", "in s1", []float32{1, 0}, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := x.Index(ctx, "e2", "s2", "user-1", "in s2", []float32{1, 0}, nil); err != nil {
		t.Fatal(err)
	}

	results, err := x.Search(ctx, "s1", "user-1", []float32{1, 0}, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].Content != "in s1" {
		t.Errorf("session scope leaked: %+v", results)
	}
}

func TestIndex_UserScopeSpansSessions(t *testing.T) {
	x, s := newTestIndex(t, 2, ScopeUser)
	ctx := context.Background()

	if _, err := s.CreateSession(ctx, "s2", "user-1", nil); err != nil {
		t.Fatal(err)
	}

	if _, err := x.Index(ctx, "e1", "s1", "user-1", "in s1", []float32{1, 0}, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := x.Index(ctx, "e2", "s2", "user-1", "in s2", []float32{0.9, 0.1}, nil); err != nil {
		t.Fatal(err)
	}

	results, err := x.Search(ctx, "s1", "user-1", []float32{1, 0}, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Errorf("expected user-scoped search to span sessions, got %d results", len(results))
	}
}

func TestIndex_SearchEmptyScope(t *testing.T) {
	x, _ := newTestIndex(t, 2, ScopeSession)

	results, err := x.Search(context.Background(), "s1", "", []float32{1, 0}, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 0 {
		t.Errorf("expected no results from empty scope, got %d", len(results))
	}
}

func TestIndex_RebuildFromStore(t *testing.T) {
	x, s := newTestIndex(t, 2, ScopeSession)
	ctx := context.Background()

	v := []float32{0.6, 0.8}
	if _, err := x.Index(ctx, "e1", "s1", "", "durable content", v, nil); err != nil {
		t.Fatal(err)
	}

	// A fresh index starts empty and recovers from the rows of record.
	fresh, err := New(s, telemetry.NewLogger("error"), 2, ScopeSession)
	if err != nil {
		t.Fatal(err)
	}
	if err := fresh.Rebuild(ctx); err != nil {
		t.Fatal(err)
	}

	results, err := fresh.Search(ctx, "s1", "", v, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].Content != "durable content" {
		t.Errorf("expected rebuilt index to serve the embedding, got %+v", results)
	}
}

func TestIndex_ClosedIsUnavailable(t *testing.T) {
	x, _ := newTestIndex(t, 2, ScopeSession)
	ctx := context.Background()

	x.Close()

	_, err := x.Index(ctx, "e1", "s1", "", "text", []float32{1, 0}, nil)
	if errors.AsCode(err) != errors.CodeIndexUnavailable {
		t.Errorf("expected INDEX_UNAVAILABLE, got %v", err)
	}
	_, err = x.Search(ctx, "s1", "", []float32{1, 0}, 5)
	if errors.AsCode(err) != errors.CodeIndexUnavailable {
		t.Errorf("expected INDEX_UNAVAILABLE for search, got %v", err)
	}
}
