package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/batch-enrollment/internal/models"
	"github.com/noah-isme/batch-enrollment/pkg/events"
	"github.com/noah-isme/batch-enrollment/pkg/jobs"
)

// EventService hands enrollment events to a background queue that delivers
// them to the broker, so request handlers never wait on it.
type EventService struct {
	queue     *jobs.Queue
	publisher events.Publisher
	metrics   *MetricsService
	logger    *zap.Logger
}

// NewEventService builds the dispatcher around publisher.
func NewEventService(publisher events.Publisher, cfg jobs.QueueConfig, metrics *MetricsService, logger *zap.Logger) *EventService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Logger == nil {
		cfg.Logger = logger
	}
	s := &EventService{publisher: publisher, metrics: metrics, logger: logger}
	s.queue = jobs.NewQueue("enrollment-events", s.deliver, cfg)
	return s
}

// Start launches the delivery workers.
func (s *EventService) Start(ctx context.Context) {
	if s == nil {
		return
	}
	s.queue.Start(ctx)
}

// Stop drains the workers and closes the publisher.
func (s *EventService) Stop() {
	if s == nil {
		return
	}
	s.queue.Stop()
	if err := s.publisher.Close(); err != nil {
		s.logger.Warn("close event publisher", zap.Error(err))
	}
}

// Emit enqueues event. Delivery failures never fail the caller.
func (s *EventService) Emit(event models.EnrollmentEvent) {
	if s == nil {
		return
	}
	job := jobs.Job{ID: uuid.NewString(), Type: event.Type, Payload: event}
	if err := s.queue.Enqueue(job); err != nil {
		s.metrics.RecordEvent(event.Type, false)
		s.logger.Warn("enrollment event dropped", zap.String("type", event.Type), zap.String("user_id", event.UserID), zap.Error(err))
	}
}

func (s *EventService) deliver(ctx context.Context, job jobs.Job) error {
	event, ok := job.Payload.(models.EnrollmentEvent)
	if !ok {
		return jobs.Permanent(fmt.Errorf("unexpected payload %T for job %s", job.Payload, job.ID))
	}
	msg := events.Message{Type: event.Type, Key: job.ID, Payload: event}
	if err := s.publisher.Publish(ctx, msg); err != nil {
		s.metrics.RecordEvent(event.Type, false)
		return err
	}
	s.metrics.RecordEvent(event.Type, true)
	return nil
}
