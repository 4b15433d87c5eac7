package topics

import (
	"context"
	"testing"
)

func TestStaticCandidatesSubset(t *testing.T) {
	pool := []string{"Castle", "Comet", "Garden", "Pirate ship", "Tiny dragon"}
	src := NewStatic(pool)

	got, err := src.Candidates(context.Background(), 3)
	if err != nil {
		t.Fatalf("candidates: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 candidates, got %d", len(got))
	}
	inPool := make(map[string]bool, len(pool))
	for _, p := range pool {
		inPool[p] = true
	}
	seen := make(map[string]bool)
	for _, c := range got {
		if !inPool[c] {
			t.Errorf("candidate %q not from pool", c)
		}
		if seen[c] {
			t.Errorf("duplicate candidate %q", c)
		}
		seen[c] = true
	}
}

func TestStaticCandidatesSmallPool(t *testing.T) {
	src := NewStatic([]string{"Only one"})
	got, err := src.Candidates(context.Background(), 3)
	if err != nil {
		t.Fatalf("candidates: %v", err)
	}
	if len(got) != 1 || got[0] != "Only one" {
		t.Fatalf("expected the whole pool back, got %v", got)
	}
}

func TestStaticCopiesPool(t *testing.T) {
	pool := []string{"A", "B", "C"}
	src := NewStatic(pool)
	pool[0] = "mutated"

	got, err := src.Candidates(context.Background(), 3)
	if err != nil {
		t.Fatalf("candidates: %v", err)
	}
	for _, c := range got {
		if c == "mutated" {
			t.Fatal("source shares backing array with caller")
		}
	}
}
