package services

import (
	"github.com/tda9/FUACS/media"
)

// MatchDecision is the outcome of matching one live embedding against the
// enrollment index. Matched is false when nothing cleared the threshold or
// the top-2 identities were too close to call.
type MatchDecision struct {
	IdentityID string
	Similarity float32
	Margin     float32
	Matched    bool
}

// Matcher ranks a live embedding against every active reference embedding.
// An identity's score is the best score across its references; the margin
// compares distinct identities, never two references of the same identity.
type Matcher struct {
	Store     *EnrollmentStore
	Threshold float32
	MinMargin float32
}

// NewMatcher creates a matcher over the given store
func NewMatcher(store *EnrollmentStore, threshold, minMargin float32) *Matcher {
	return &Matcher{Store: store, Threshold: threshold, MinMargin: minMargin}
}

// Match computes the top-2 distinct identities for the embedding and applies
// the threshold and ambiguity margin. Embeddings must be L2-normalized (the
// embedder and the snapshot build both guarantee this).
func (m *Matcher) Match(embedding []float32) MatchDecision {
	snapshot := m.Store.Snapshot()
	if len(embedding) == 0 || len(snapshot.References) == 0 {
		return MatchDecision{}
	}

	// best score per identity
	bestByIdentity := make(map[string]float32)
	for _, ref := range snapshot.References {
		sim := media.CosineSimilarity(embedding, ref.Embedding)
		if cur, ok := bestByIdentity[ref.IdentityID]; !ok || sim > cur {
			bestByIdentity[ref.IdentityID] = sim
		}
	}

	var bestID string
	var best, second float32
	best, second = -2, -2
	for id, sim := range bestByIdentity {
		switch {
		case sim > best:
			second = best
			best = sim
			bestID = id
		case sim > second:
			second = sim
		}
	}

	margin := best - second
	if len(bestByIdentity) == 1 {
		// a lone enrolled identity has no runner-up to be confused with
		margin = 1
	}

	decision := MatchDecision{Similarity: best, Margin: margin}
	if best >= m.Threshold && margin >= m.MinMargin {
		decision.IdentityID = bestID
		decision.Matched = true
	}
	return decision
}
