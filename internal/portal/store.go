package portal

import (
	"sync"
	"time"

	"github.com/noah-isme/batch-enrollment/internal/models"
)

// Snapshot is a consistent copy of the store contents.
type Snapshot struct {
	Record models.EnrollmentRecord
	// Loaded is false until the first successful fetch.
	Loaded bool
	// Stale marks a cache whose last refresh attempt failed.
	Stale       bool
	AuthExpired bool
	SyncedAt    time.Time
	Anomalies   []models.Anomaly
	// Seq is the token of the fetch the record came from.
	Seq uint64
}

// Store caches the authoritative record. It is only ever replaced wholesale.
type Store struct {
	mu      sync.RWMutex
	snap    Snapshot
	applied uint64
}

// NewStore returns a store holding the NOT_REGISTERED default for batchID.
func NewStore(batchID string) *Store {
	return &Store{snap: Snapshot{Record: models.NewUnregisteredRecord("", batchID)}}
}

// Snapshot returns a deep copy of the current contents.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := s.snap
	out.Record = s.snap.Record.Clone()
	out.Anomalies = append([]models.Anomaly(nil), s.snap.Anomalies...)
	return out
}

// Replace installs record if seq is newer than the last applied fetch and
// reports whether it did.
func (s *Store) Replace(seq uint64, record models.EnrollmentRecord, anomalies []models.Anomaly, at time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq <= s.applied {
		return false
	}
	s.applied = seq
	s.snap = Snapshot{
		Record:    record.Clone(),
		Loaded:    true,
		SyncedAt:  at,
		Anomalies: append([]models.Anomaly(nil), anomalies...),
		Seq:       seq,
	}
	return true
}

// MarkStale flags the cache after a failed fetch that is not superseded.
func (s *Store) MarkStale(seq uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq <= s.applied {
		return
	}
	s.snap.Stale = true
}

// MarkAuthExpired disables the workflow until a new session is supplied.
// A fetch token older than the last applied fetch is ignored; seq 0 marks
// unconditionally.
func (s *Store) MarkAuthExpired(seq uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq != 0 && seq <= s.applied {
		return
	}
	s.snap.AuthExpired = true
}
