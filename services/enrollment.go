package services

import (
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/tda9/FUACS/media"
	"github.com/tda9/FUACS/models"
	"github.com/tda9/FUACS/repository"
)

// Reference is one active reference embedding in the live index
type Reference struct {
	IdentityID string
	Embedding  []float32
}

// EnrollmentSnapshot is one immutable build of the enrollment index.
// Matchers grab the pointer once per lookup and never observe a partial
// update; refresh swaps the whole structure.
type EnrollmentSnapshot struct {
	Version    int64
	BuiltAt    time.Time
	References []Reference
	refCounts  map[string]int
}

// IdentityCount returns the number of distinct active identities
func (s *EnrollmentSnapshot) IdentityCount() int {
	return len(s.refCounts)
}

// IdentitySummary lists one indexed identity without its vectors
type IdentitySummary struct {
	IdentityID     string `json:"identity_id"`
	ReferenceCount int    `json:"reference_count"`
}

// SnapshotFetcher pulls the full enrollment snapshot from the
// record-of-truth service
type SnapshotFetcher func() ([]models.EnrollmentEntry, error)

// EnrollmentStore holds the refreshable in-memory enrollment index. Refresh
// is fail-open: a failed pull leaves the previous snapshot active, and at
// startup the last good snapshot can be loaded from the local cache.
type EnrollmentStore struct {
	snap    atomic.Pointer[EnrollmentSnapshot]
	version atomic.Int64
	repo    repository.EnrollmentRepositoryInterface
	fetch   SnapshotFetcher
}

// NewEnrollmentStore creates a store with an empty index. repo may be nil to
// disable the local cache; fetch may be nil to disable pull refresh.
func NewEnrollmentStore(repo repository.EnrollmentRepositoryInterface, fetch SnapshotFetcher) *EnrollmentStore {
	store := &EnrollmentStore{repo: repo, fetch: fetch}
	store.snap.Store(&EnrollmentSnapshot{
		BuiltAt:   time.Now(),
		refCounts: map[string]int{},
	})
	return store
}

// Snapshot returns the current index; never nil
func (es *EnrollmentStore) Snapshot() *EnrollmentSnapshot {
	return es.snap.Load()
}

// Apply builds a new index from a full snapshot and swaps it in atomically.
// Inactive identities are excluded; vectors are L2-normalized once here so
// matching is a plain dot product. The new snapshot is also written to the
// local cache (best effort).
func (es *EnrollmentStore) Apply(entries []models.EnrollmentEntry) error {
	snapshot := buildSnapshot(entries, es.version.Add(1))
	es.snap.Store(snapshot)
	log.Printf("enrollment: applied snapshot v%d (%d identities, %d references)",
		snapshot.Version, snapshot.IdentityCount(), len(snapshot.References))

	if es.repo != nil {
		if err := es.repo.ReplaceSnapshot(cacheRows(entries)); err != nil {
			log.Printf("enrollment: WARNING failed to persist snapshot cache: %v", err)
		}
	}
	return nil
}

// Refresh pulls a fresh snapshot from the backend and applies it. On any
// failure the previous snapshot stays active.
func (es *EnrollmentStore) Refresh() error {
	if es.fetch == nil {
		return fmt.Errorf("enrollment: no snapshot source configured")
	}
	entries, err := es.fetch()
	if err != nil {
		return fmt.Errorf("enrollment: refresh failed, keeping previous snapshot: %w", err)
	}
	return es.Apply(entries)
}

// LoadFromCache rebuilds the index from the locally cached snapshot. Used at
// startup when the first backend pull fails.
func (es *EnrollmentStore) LoadFromCache() error {
	if es.repo == nil {
		return fmt.Errorf("enrollment: no cache repository configured")
	}
	refs, err := es.repo.ListAll()
	if err != nil {
		return fmt.Errorf("enrollment: failed to load snapshot cache: %w", err)
	}

	byIdentity := make(map[string]*models.EnrollmentEntry)
	order := make([]string, 0)
	for _, ref := range refs {
		entry, ok := byIdentity[ref.IdentityID]
		if !ok {
			entry = &models.EnrollmentEntry{IdentityID: ref.IdentityID, Active: ref.Active}
			byIdentity[ref.IdentityID] = entry
			order = append(order, ref.IdentityID)
		}
		if vec := ref.GetEmbedding(); vec != nil {
			entry.Embeddings = append(entry.Embeddings, vec)
		}
	}

	entries := make([]models.EnrollmentEntry, 0, len(order))
	for _, id := range order {
		entries = append(entries, *byIdentity[id])
	}

	snapshot := buildSnapshot(entries, es.version.Add(1))
	es.snap.Store(snapshot)
	log.Printf("enrollment: loaded cached snapshot v%d (%d identities, %d references)",
		snapshot.Version, snapshot.IdentityCount(), len(snapshot.References))
	return nil
}

// Identities summarizes the current index without exposing vectors
func (es *EnrollmentStore) Identities() []IdentitySummary {
	snapshot := es.Snapshot()
	summaries := make([]IdentitySummary, 0, len(snapshot.refCounts))
	seen := make(map[string]bool, len(snapshot.refCounts))
	for _, ref := range snapshot.References {
		if seen[ref.IdentityID] {
			continue
		}
		seen[ref.IdentityID] = true
		summaries = append(summaries, IdentitySummary{
			IdentityID:     ref.IdentityID,
			ReferenceCount: snapshot.refCounts[ref.IdentityID],
		})
	}
	return summaries
}

// RunPeriodicRefresh refreshes the index on the given interval until stop is
// closed. Refresh failures are logged and retried next tick (fail-open).
func (es *EnrollmentStore) RunPeriodicRefresh(interval time.Duration, stop <-chan struct{}) {
	if es.fetch == nil || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := es.Refresh(); err != nil {
				log.Printf("enrollment: periodic refresh: %v", err)
			}
		}
	}
}

func buildSnapshot(entries []models.EnrollmentEntry, version int64) *EnrollmentSnapshot {
	snapshot := &EnrollmentSnapshot{
		Version:   version,
		BuiltAt:   time.Now(),
		refCounts: make(map[string]int),
	}
	for _, entry := range entries {
		if !entry.Active || entry.IdentityID == "" {
			continue
		}
		for _, vec := range entry.Embeddings {
			if len(vec) == 0 {
				continue
			}
			snapshot.References = append(snapshot.References, Reference{
				IdentityID: entry.IdentityID,
				Embedding:  media.NormalizeEmbedding(vec),
			})
			snapshot.refCounts[entry.IdentityID]++
		}
	}
	return snapshot
}

// cacheRows flattens snapshot entries into cache table rows. Inactive
// identities are cached too so a push marking someone inactive survives a
// restart.
func cacheRows(entries []models.EnrollmentEntry) []models.ReferenceEmbedding {
	var rows []models.ReferenceEmbedding
	for _, entry := range entries {
		for _, vec := range entry.Embeddings {
			if len(vec) == 0 {
				continue
			}
			row := models.ReferenceEmbedding{
				IdentityID: entry.IdentityID,
				Active:     entry.Active,
			}
			row.SetEmbedding(vec)
			rows = append(rows, row)
		}
	}
	return rows
}
