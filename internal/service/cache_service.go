package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/batch-enrollment/internal/models"
	appErrors "github.com/noah-isme/batch-enrollment/pkg/errors"
)

// CacheRepository abstracts persistence for cached payloads.
type CacheRepository interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	DeleteByPattern(ctx context.Context, pattern string) error
}

// CacheService keeps short-lived copies of enrollment records. Every
// mutation invalidates the affected key before it is acknowledged.
type CacheService struct {
	repo    CacheRepository
	metrics *MetricsService
	ttl     time.Duration
	logger  *zap.Logger
	enabled bool
}

// NewCacheService constructs a cache service.
func NewCacheService(repo CacheRepository, metrics *MetricsService, ttl time.Duration, logger *zap.Logger, enabled bool) *CacheService {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CacheService{repo: repo, metrics: metrics, ttl: ttl, logger: logger, enabled: enabled}
}

// Enabled indicates whether caching is active.
func (s *CacheService) Enabled() bool {
	return s != nil && s.enabled && s.repo != nil
}

const statusKeyPattern = "enrollment:status:*"

func statusKey(userID, batchID string) string {
	return fmt.Sprintf("enrollment:status:%s:%s", batchID, userID)
}

// GetStatus returns a cached record. Errors degrade to a miss.
func (s *CacheService) GetStatus(ctx context.Context, userID, batchID string) (*models.EnrollmentRecord, bool) {
	if !s.Enabled() {
		return nil, false
	}
	key := statusKey(userID, batchID)
	start := time.Now()
	var record models.EnrollmentRecord
	err := s.repo.Get(ctx, key, &record)
	hit := err == nil
	s.metrics.RecordCacheOperation(hit, time.Since(start))
	if err != nil {
		if !errors.Is(err, appErrors.ErrCacheMiss) {
			s.logger.Warn("cache get failed", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}
	return &record, true
}

// PutStatus stores the record under its (user, batch) key.
func (s *CacheService) PutStatus(ctx context.Context, record models.EnrollmentRecord) {
	if !s.Enabled() {
		return
	}
	key := statusKey(record.UserID, record.BatchID)
	if err := s.repo.Set(ctx, key, record, s.ttl); err != nil {
		s.logger.Warn("cache set failed", zap.String("key", key), zap.Error(err))
	}
}

// InvalidateStatus drops the cached record for one learner.
func (s *CacheService) InvalidateStatus(ctx context.Context, userID, batchID string) error {
	if !s.Enabled() {
		return nil
	}
	key := statusKey(userID, batchID)
	if err := s.repo.Delete(ctx, key); err != nil {
		s.logger.Warn("cache invalidate failed", zap.String("key", key), zap.Error(err))
		return err
	}
	return nil
}

// Purge drops every cached status record. It runs at startup because cached
// records carry fee amounts and phases derived under the previous
// configuration.
func (s *CacheService) Purge(ctx context.Context) error {
	if !s.Enabled() {
		return nil
	}
	if err := s.repo.DeleteByPattern(ctx, statusKeyPattern); err != nil {
		s.logger.Warn("cache purge failed", zap.String("pattern", statusKeyPattern), zap.Error(err))
		return err
	}
	s.logger.Info("status cache purged")
	return nil
}
