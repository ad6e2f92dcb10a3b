package portal

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/batch-enrollment/internal/models"
	appErrors "github.com/noah-isme/batch-enrollment/pkg/errors"
)

type statusFetcher interface {
	FetchStatus(ctx context.Context, batchID string) (models.EnrollmentRecord, error)
}

// Synchronizer reconciles the store with the authoritative record.
type Synchronizer struct {
	fetcher statusFetcher
	store   *Store
	batchID string
	logger  *zap.Logger
	now     func() time.Time

	seq atomic.Uint64

	mu        sync.RWMutex
	observers []func(Snapshot)
}

// NewSynchronizer constructs a Synchronizer.
func NewSynchronizer(fetcher statusFetcher, store *Store, batchID string, logger *zap.Logger) *Synchronizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Synchronizer{fetcher: fetcher, store: store, batchID: batchID, logger: logger, now: time.Now}
}

// Observe registers fn to be called after every applied replacement. Calls
// from concurrent syncs may arrive out of order; observers that keep state
// compare Snapshot.Seq.
func (s *Synchronizer) Observe(fn func(Snapshot)) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, fn)
}

// Sync fetches the record and replaces the cache if no later-started fetch
// has already been applied. It is safe to call concurrently.
func (s *Synchronizer) Sync(ctx context.Context) (Snapshot, error) {
	seq := s.seq.Add(1)
	record, err := s.fetcher.FetchStatus(ctx, s.batchID)
	if err != nil {
		switch {
		case errors.Is(err, appErrors.ErrAuthExpired):
			s.store.MarkAuthExpired(seq)
			s.logger.Warn("enrollment credential rejected", zap.String("batch_id", s.batchID), zap.Uint64("seq", seq))
		default:
			s.store.MarkStale(seq)
			s.logger.Warn("enrollment status sync failed", zap.String("batch_id", s.batchID), zap.Uint64("seq", seq), zap.Error(err))
			if !errors.Is(err, appErrors.ErrSyncUnavailable) {
				err = appErrors.Wrap(err, appErrors.ErrSyncUnavailable.Code, appErrors.ErrSyncUnavailable.Status, appErrors.ErrSyncUnavailable.Message)
			}
		}
		return s.store.Snapshot(), err
	}

	anomalies := models.CheckInvariants(record)
	for _, a := range anomalies {
		s.logger.Warn("inconsistent enrollment record", zap.String("batch_id", s.batchID), zap.Int("invariant", a.Invariant), zap.String("detail", a.Detail))
	}

	if !s.store.Replace(seq, record, anomalies, s.now().UTC()) {
		s.logger.Debug("discarded superseded status response", zap.Uint64("seq", seq))
		return s.store.Snapshot(), nil
	}

	snap := s.store.Snapshot()
	if snap.Seq != seq {
		// a later fetch already replaced the record and notifies on its own
		return snap, nil
	}
	s.mu.RLock()
	observers := append([]func(Snapshot){}, s.observers...)
	s.mu.RUnlock()
	for _, fn := range observers {
		fn(snap)
	}
	return snap, nil
}
