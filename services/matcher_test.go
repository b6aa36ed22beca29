package services

import (
	"math"
	"testing"

	"github.com/tda9/FUACS/models"
)

// unitVec builds a 2D unit vector whose dot product with (1, 0) equals sim
func unitVec(sim float64) []float32 {
	return []float32{float32(sim), float32(math.Sqrt(1 - sim*sim))}
}

func matcherStore(t *testing.T, entries []models.EnrollmentEntry) *EnrollmentStore {
	t.Helper()
	store := NewEnrollmentStore(nil, nil)
	if err := store.Apply(entries); err != nil {
		t.Fatalf("Apply returned error: %v", err)
	}
	return store
}

func TestMatchPicksBestIdentity(t *testing.T) {
	store := matcherStore(t, []models.EnrollmentEntry{
		{IdentityID: "alice", Embeddings: [][]float32{unitVec(0.9)}, Active: true},
		{IdentityID: "bob", Embeddings: [][]float32{unitVec(0.3)}, Active: true},
	})
	m := NewMatcher(store, 0.60, 0.10)

	decision := m.Match([]float32{1, 0})
	if !decision.Matched || decision.IdentityID != "alice" {
		t.Fatalf("decision = %+v, want alice matched", decision)
	}
	if !almostEqual(decision.Similarity, 0.9) {
		t.Errorf("similarity = %v, want 0.9", decision.Similarity)
	}
	if !almostEqual(decision.Margin, 0.6) {
		t.Errorf("margin = %v, want 0.6", decision.Margin)
	}
}

func TestMatchRejectsAmbiguousTopTwo(t *testing.T) {
	// both clear the threshold but are too close to tell apart
	store := matcherStore(t, []models.EnrollmentEntry{
		{IdentityID: "alice", Embeddings: [][]float32{unitVec(0.82)}, Active: true},
		{IdentityID: "bob", Embeddings: [][]float32{unitVec(0.81)}, Active: true},
	})
	m := NewMatcher(store, 0.60, 0.10)

	decision := m.Match([]float32{1, 0})
	if decision.Matched {
		t.Fatalf("decision = %+v, want unmatched (margin too small)", decision)
	}
	if !almostEqual(decision.Similarity, 0.82) {
		t.Errorf("similarity = %v, want 0.82", decision.Similarity)
	}
	if decision.Margin > 0.02 {
		t.Errorf("margin = %v, want about 0.01", decision.Margin)
	}
}

func TestMatchMarginComparesIdentitiesNotReferences(t *testing.T) {
	// alice's two references are 0.9 and 0.7; the margin must be measured
	// against bob, not against alice's own runner-up reference
	store := matcherStore(t, []models.EnrollmentEntry{
		{IdentityID: "alice", Embeddings: [][]float32{unitVec(0.7), unitVec(0.9)}, Active: true},
		{IdentityID: "bob", Embeddings: [][]float32{unitVec(0.2)}, Active: true},
	})
	m := NewMatcher(store, 0.60, 0.10)

	decision := m.Match([]float32{1, 0})
	if !decision.Matched || decision.IdentityID != "alice" {
		t.Fatalf("decision = %+v, want alice matched", decision)
	}
	if !almostEqual(decision.Margin, 0.7) {
		t.Errorf("margin = %v, want 0.7 (0.9 - 0.2)", decision.Margin)
	}
}

func TestMatchSingleIdentity(t *testing.T) {
	store := matcherStore(t, []models.EnrollmentEntry{
		{IdentityID: "alice", Embeddings: [][]float32{unitVec(0.75)}, Active: true},
	})
	m := NewMatcher(store, 0.60, 0.10)

	decision := m.Match([]float32{1, 0})
	if !decision.Matched || decision.IdentityID != "alice" {
		t.Fatalf("decision = %+v, want alice matched despite having no runner-up", decision)
	}

	// the lone identity still has to clear the threshold
	below := NewMatcher(store, 0.80, 0.10)
	if d := below.Match([]float32{1, 0}); d.Matched {
		t.Errorf("decision = %+v, want unmatched below threshold", d)
	}
}

func TestMatchEmptyIndex(t *testing.T) {
	store := NewEnrollmentStore(nil, nil)
	m := NewMatcher(store, 0.60, 0.10)
	if d := m.Match([]float32{1, 0}); d.Matched {
		t.Errorf("decision = %+v, want unmatched on empty index", d)
	}
	if d := m.Match(nil); d.Matched {
		t.Errorf("decision = %+v, want unmatched on empty embedding", d)
	}
}

func almostEqual(a, b float32) bool {
	return math.Abs(float64(a-b)) < 1e-5
}
