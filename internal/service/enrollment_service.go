package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/batch-enrollment/internal/dto"
	"github.com/noah-isme/batch-enrollment/internal/models"
	"github.com/noah-isme/batch-enrollment/internal/repository"
	"github.com/noah-isme/batch-enrollment/internal/workflow"
	appErrors "github.com/noah-isme/batch-enrollment/pkg/errors"
)

type enrollmentRepository interface {
	FindByUserAndBatch(ctx context.Context, userID, batchID string) (*models.Enrollment, error)
	ListPayments(ctx context.Context, userID, batchID string) ([]models.PaymentEntry, error)
	Create(ctx context.Context, enrollment *models.Enrollment) error
	RecordPayment(ctx context.Context, params repository.RecordPaymentParams) error
	UpdateTestSlot(ctx context.Context, userID, batchID string, slot models.TestSlot) error
	SetApproval(ctx context.Context, userID, batchID string, approved bool, reviewer, note string) error
	List(ctx context.Context, filter models.EnrollmentFilter) ([]models.Enrollment, int, error)
}

type eventEmitter interface {
	Emit(event models.EnrollmentEvent)
}

// EnrollmentService is the authoritative side of the batch enrollment
// workflow. It applies the same guards as the client before persisting.
type EnrollmentService struct {
	repo      enrollmentRepository
	machine   *workflow.Machine
	cache     *CacheService
	events    eventEmitter
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// EnrollmentServiceOption configures optional collaborators.
type EnrollmentServiceOption func(*EnrollmentService)

// WithStatusCache enables the Redis-backed status cache.
func WithStatusCache(cache *CacheService) EnrollmentServiceOption {
	return func(s *EnrollmentService) { s.cache = cache }
}

// WithEventEmitter publishes approval and confirmation events.
func WithEventEmitter(events eventEmitter) EnrollmentServiceOption {
	return func(s *EnrollmentService) { s.events = events }
}

// WithEnrollmentMetrics records action and payment counters.
func WithEnrollmentMetrics(metrics *MetricsService) EnrollmentServiceOption {
	return func(s *EnrollmentService) { s.metrics = metrics }
}

// WithEnrollmentClock overrides the time source used for event timestamps.
func WithEnrollmentClock(now func() time.Time) EnrollmentServiceOption {
	return func(s *EnrollmentService) {
		if now != nil {
			s.now = now
		}
	}
}

// NewEnrollmentService constructs EnrollmentService.
func NewEnrollmentService(repo enrollmentRepository, machine *workflow.Machine, validate *validator.Validate, logger *zap.Logger, opts ...EnrollmentServiceOption) *EnrollmentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &EnrollmentService{repo: repo, machine: machine, validator: validate, logger: logger, now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Status returns the learner's record for a batch, or the NOT_REGISTERED
// default when no row exists yet.
func (s *EnrollmentService) Status(ctx context.Context, actor *models.JWTClaims, batchID string) (*models.EnrollmentRecord, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	batchID = strings.TrimSpace(batchID)
	if batchID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "batchId is required")
	}
	if cached, ok := s.cache.GetStatus(ctx, actor.UserID, batchID); ok {
		return cached, nil
	}
	record, _, err := s.load(ctx, actor, batchID)
	if err != nil {
		return nil, err
	}
	s.cache.PutStatus(ctx, record)
	return &record, nil
}

// load reads the row and its payments concurrently. exists is false when the
// learner has not selected a mode yet.
func (s *EnrollmentService) load(ctx context.Context, actor *models.JWTClaims, batchID string) (models.EnrollmentRecord, bool, error) {
	var (
		row      *models.Enrollment
		payments []models.PaymentEntry
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		row, err = s.repo.FindByUserAndBatch(gctx, actor.UserID, batchID)
		if repository.IsNotFound(err) {
			row = nil
			return nil
		}
		return err
	})
	g.Go(func() error {
		var err error
		payments, err = s.repo.ListPayments(gctx, actor.UserID, batchID)
		return err
	})
	if err := g.Wait(); err != nil {
		return models.EnrollmentRecord{}, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	if row == nil {
		record := models.NewUnregisteredRecord(actor.UserID, batchID)
		record.Name, record.Email, record.Mobile = actor.FullName, actor.Email, actor.Mobile
		return record, false, nil
	}
	record := row.Record(payments)
	if anomalies := models.CheckInvariants(record); len(anomalies) > 0 {
		s.logger.Warn("enrollment row violates invariants",
			zap.String("user_id", actor.UserID), zap.String("batch_id", batchID), zap.Any("anomalies", anomalies))
	}
	return record, true, nil
}

// SelectMode records the chosen track and the accepted terms.
func (s *EnrollmentService) SelectMode(ctx context.Context, actor *models.JWTClaims, req dto.SelectModeRequest) (*dto.Ack, error) {
	record, err := s.prepare(ctx, actor, req.BatchID)
	if err != nil {
		return nil, err
	}
	if _, err := s.decide(record, workflow.SelectMode(req.Mode, req.TermsAccepted)); err != nil {
		return nil, err
	}
	if err := s.validate(req); err != nil {
		return nil, err
	}

	enrollment := &models.Enrollment{
		UserID:        actor.UserID,
		BatchID:       record.BatchID,
		Name:          actor.FullName,
		Email:         actor.Email,
		Mobile:        actor.Mobile,
		Status:        models.StatusModeSelected,
		Mode:          req.Mode,
		TermsAccepted: true,
	}
	if err := s.repo.Create(ctx, enrollment); err != nil {
		return nil, s.persistError(err, "failed to save mode selection")
	}
	s.afterMutation(ctx, workflow.ActionSelectMode, actor.UserID, record.BatchID)
	return &dto.Ack{Accepted: true, Message: fmt.Sprintf("%s track selected", req.Mode)}, nil
}

// SubmitRegistrationPayment records the registration fee and moves the
// record to WAITING_ADMIN.
func (s *EnrollmentService) SubmitRegistrationPayment(ctx context.Context, actor *models.JWTClaims, req dto.RegistrationPaymentRequest) (*dto.Ack, error) {
	record, err := s.prepare(ctx, actor, req.BatchID)
	if err != nil {
		return nil, err
	}
	intent, err := s.decide(record, workflow.RegistrationPayment(req.TransactionID))
	if err != nil {
		return nil, err
	}
	if err := s.validate(req); err != nil {
		return nil, err
	}
	expected := intent.Payload.(dto.RegistrationPaymentRequest)
	if req.Mode != expected.Mode {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("mode must be %s", expected.Mode))
	}
	if req.Amount != expected.Amount {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("registration fee for the %s track is %d", expected.Mode, expected.Amount))
	}

	params := repository.RecordPaymentParams{
		UserID:  actor.UserID,
		BatchID: record.BatchID,
		Payment: models.PaymentEntry{
			TransactionID:        expected.TransactionID,
			Amount:               expected.Amount,
			Purpose:              models.PurposeRegistration,
			ApprovedAtSubmission: record.AdminApproved,
			Timestamp:            s.now().UTC(),
		},
		FromStatus: models.StatusModeSelected,
		ToStatus:   models.StatusWaitingAdmin,
	}
	if err := s.repo.RecordPayment(ctx, params); err != nil {
		return nil, s.persistError(err, "failed to record registration payment")
	}
	s.metrics.RecordPayment(models.PurposeRegistration, record.Mode)
	s.afterMutation(ctx, workflow.ActionRegistrationPayment, actor.UserID, record.BatchID)
	return &dto.Ack{Accepted: true, Message: "registration payment received, awaiting admin review"}, nil
}

// BookTestSlot stores the slot on an approved unpaid enrollment. The status
// does not change.
func (s *EnrollmentService) BookTestSlot(ctx context.Context, actor *models.JWTClaims, req dto.TestSlotRequest) (*dto.Ack, error) {
	record, err := s.prepare(ctx, actor, req.BatchID)
	if err != nil {
		return nil, err
	}
	intent, err := s.decide(record, workflow.BookTestSlot(req.Date, req.Time))
	if err != nil {
		return nil, err
	}
	booked := intent.Payload.(dto.TestSlotRequest)
	if err := s.repo.UpdateTestSlot(ctx, actor.UserID, record.BatchID, models.TestSlot{Date: booked.Date, Time: booked.Time}); err != nil {
		return nil, s.persistError(err, "failed to book test slot")
	}
	s.afterMutation(ctx, workflow.ActionBookTestSlot, actor.UserID, record.BatchID)
	return &dto.Ack{Accepted: true, Message: fmt.Sprintf("test booked for %s %s", booked.Date, booked.Time)}, nil
}

// SubmitCoursePayment records the course fee and confirms the seat.
func (s *EnrollmentService) SubmitCoursePayment(ctx context.Context, actor *models.JWTClaims, req dto.CoursePaymentRequest) (*dto.Ack, error) {
	record, err := s.prepare(ctx, actor, req.BatchID)
	if err != nil {
		return nil, err
	}
	intent, err := s.decide(record, workflow.CourseFeePayment(req.TransactionID))
	if err != nil {
		return nil, err
	}
	if err := s.validate(req); err != nil {
		return nil, err
	}
	expected := intent.Payload.(dto.CoursePaymentRequest)
	if req.Amount != expected.Amount {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("course fee is %d", expected.Amount))
	}

	params := repository.RecordPaymentParams{
		UserID:  actor.UserID,
		BatchID: record.BatchID,
		Payment: models.PaymentEntry{
			TransactionID:        expected.TransactionID,
			Amount:               expected.Amount,
			Purpose:              models.PurposeCourse,
			ApprovedAtSubmission: record.AdminApproved,
			Timestamp:            s.now().UTC(),
		},
		FromStatus: models.StatusAdminApproved,
		ToStatus:   models.StatusSeatConfirmed,
	}
	if err := s.repo.RecordPayment(ctx, params); err != nil {
		return nil, s.persistError(err, "failed to record course payment")
	}
	s.metrics.RecordPayment(models.PurposeCourse, record.Mode)
	s.afterMutation(ctx, workflow.ActionCourseFeePayment, actor.UserID, record.BatchID)
	s.emit(models.EventSeatConfirmed, record, models.StatusSeatConfirmed, actor.UserID)
	return &dto.Ack{Accepted: true, Message: "seat confirmed"}, nil
}

// Approve sets adminApproved. A record waiting for review advances to ADMIN_APPROVED.
func (s *EnrollmentService) Approve(ctx context.Context, admin *models.JWTClaims, userID, batchID string, req dto.AdminDecisionRequest) (*models.EnrollmentRecord, error) {
	return s.review(ctx, admin, userID, batchID, true, req.Note)
}

// Revoke clears adminApproved without touching the status.
func (s *EnrollmentService) Revoke(ctx context.Context, admin *models.JWTClaims, userID, batchID string, req dto.AdminDecisionRequest) (*models.EnrollmentRecord, error) {
	return s.review(ctx, admin, userID, batchID, false, req.Note)
}

func (s *EnrollmentService) review(ctx context.Context, admin *models.JWTClaims, userID, batchID string, approved bool, note string) (*models.EnrollmentRecord, error) {
	if admin == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if !admin.Role.IsAdmin() {
		return nil, appErrors.ErrForbidden
	}
	learner := &models.JWTClaims{UserID: strings.TrimSpace(userID)}
	batchID = strings.TrimSpace(batchID)
	if learner.UserID == "" || batchID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "userId and batchId are required")
	}

	record, exists, err := s.load(ctx, learner, batchID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
	}
	if record.Status.Terminal() {
		return nil, appErrors.Clone(appErrors.ErrTerminalState, "seat already confirmed, approval can no longer change")
	}
	if approved && !record.Status.AtLeast(models.StatusWaitingAdmin) {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "registration fee has not been paid")
	}

	if err := s.repo.SetApproval(ctx, learner.UserID, batchID, approved, admin.UserID, note); err != nil {
		return nil, s.persistError(err, "failed to update approval")
	}
	action, eventType := "approve", models.EventEnrollmentApproved
	if !approved {
		action, eventType = "revoke", models.EventApprovalRevoked
	}
	s.metrics.RecordAction(action, "accepted")
	s.invalidate(ctx, learner.UserID, batchID)

	updated, _, err := s.load(ctx, learner, batchID)
	if err != nil {
		return nil, err
	}
	s.emit(eventType, updated, updated.Status, admin.UserID)
	s.logger.Info("enrollment reviewed",
		zap.String("user_id", learner.UserID), zap.String("batch_id", batchID),
		zap.Bool("approved", approved), zap.String("reviewer", admin.UserID))
	return &updated, nil
}

// List returns the admin review queue with pagination metadata.
func (s *EnrollmentService) List(ctx context.Context, query dto.EnrollmentQuery) ([]models.Enrollment, *models.Pagination, error) {
	if query.Status != "" && !query.Status.Valid() {
		return nil, nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown status %q", query.Status))
	}
	filter := models.EnrollmentFilter{BatchID: query.BatchID, Status: query.Status, Page: query.Page, PageSize: query.PageSize}
	enrollments, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list enrollments")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	return enrollments, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

const exportPageSize = 100

// Export returns every enrollment matching query, walking the pages.
func (s *EnrollmentService) Export(ctx context.Context, query dto.EnrollmentQuery) ([]models.Enrollment, error) {
	if query.Status != "" && !query.Status.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown status %q", query.Status))
	}
	filter := models.EnrollmentFilter{BatchID: query.BatchID, Status: query.Status, Page: 1, PageSize: exportPageSize}
	var out []models.Enrollment
	for {
		rows, total, err := s.repo.List(ctx, filter)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to export enrollments")
		}
		out = append(out, rows...)
		if len(rows) == 0 || len(out) >= total {
			return out, nil
		}
		filter.Page++
	}
}

// prepare loads the authoritative record for a mutation, bypassing the cache.
func (s *EnrollmentService) prepare(ctx context.Context, actor *models.JWTClaims, batchID string) (models.EnrollmentRecord, error) {
	if actor == nil {
		return models.EnrollmentRecord{}, appErrors.ErrUnauthorized
	}
	batchID = strings.TrimSpace(batchID)
	if batchID == "" {
		return models.EnrollmentRecord{}, appErrors.Clone(appErrors.ErrValidation, "batchId is required")
	}
	record, _, err := s.load(ctx, actor, batchID)
	return record, err
}

func (s *EnrollmentService) decide(record models.EnrollmentRecord, action workflow.Action) (workflow.Intent, error) {
	intent, err := s.machine.Decide(record, action)
	if err != nil {
		s.metrics.RecordAction(string(action.Kind), appErrors.FromError(err).Code)
		return workflow.Intent{}, err
	}
	return intent, nil
}

func (s *EnrollmentService) validate(req interface{}) error {
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid enrollment payload")
	}
	return nil
}

func (s *EnrollmentService) persistError(err error, message string) error {
	switch {
	case errors.Is(err, repository.ErrDuplicatePayment):
		return appErrors.Clone(appErrors.ErrConflict, "payment already recorded")
	case errors.Is(err, repository.ErrStaleTransition):
		return appErrors.Clone(appErrors.ErrConflict, "enrollment changed, refresh and try again")
	default:
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, message)
	}
}

func (s *EnrollmentService) afterMutation(ctx context.Context, action workflow.ActionKind, userID, batchID string) {
	s.metrics.RecordAction(string(action), "accepted")
	s.invalidate(ctx, userID, batchID)
}

func (s *EnrollmentService) invalidate(ctx context.Context, userID, batchID string) {
	if err := s.cache.InvalidateStatus(ctx, userID, batchID); err != nil {
		s.logger.Warn("status cache not invalidated", zap.String("user_id", userID), zap.String("batch_id", batchID), zap.Error(err))
	}
}

func (s *EnrollmentService) emit(eventType string, record models.EnrollmentRecord, status models.EnrollmentStatus, actor string) {
	if s.events == nil {
		return
	}
	s.events.Emit(models.EnrollmentEvent{
		Type:       eventType,
		UserID:     record.UserID,
		BatchID:    record.BatchID,
		Mode:       record.Mode,
		Status:     status,
		Actor:      actor,
		OccurredAt: s.now().UTC(),
	})
}
