package service

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/batch-enrollment/internal/dto"
	"github.com/noah-isme/batch-enrollment/internal/models"
	"github.com/noah-isme/batch-enrollment/internal/repository"
	"github.com/noah-isme/batch-enrollment/internal/workflow"
	appErrors "github.com/noah-isme/batch-enrollment/pkg/errors"
)

var serviceNow = time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)

type enrollmentRepoStub struct {
	mu       sync.Mutex
	row      *models.Enrollment
	payments []models.PaymentEntry
	findErr  error

	created   []*models.Enrollment
	recorded  []repository.RecordPaymentParams
	recordErr error
	slots     []models.TestSlot
	approvals []bool
	reviewer  string

	listRows   []models.Enrollment
	pages      [][]models.Enrollment
	listCalls  int
	listTotal  int
	lastFilter models.EnrollmentFilter
}

func (s *enrollmentRepoStub) FindByUserAndBatch(ctx context.Context, userID, batchID string) (*models.Enrollment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findErr != nil {
		return nil, s.findErr
	}
	if s.row == nil {
		return nil, sql.ErrNoRows
	}
	row := *s.row
	return &row, nil
}

func (s *enrollmentRepoStub) ListPayments(ctx context.Context, userID, batchID string) ([]models.PaymentEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.PaymentEntry(nil), s.payments...), nil
}

func (s *enrollmentRepoStub) Create(ctx context.Context, enrollment *models.Enrollment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.created = append(s.created, enrollment)
	row := *enrollment
	s.row = &row
	return nil
}

func (s *enrollmentRepoStub) RecordPayment(ctx context.Context, params repository.RecordPaymentParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.recordErr != nil {
		return s.recordErr
	}
	s.recorded = append(s.recorded, params)
	s.payments = append(s.payments, params.Payment)
	s.row.Status = params.ToStatus
	return nil
}

func (s *enrollmentRepoStub) UpdateTestSlot(ctx context.Context, userID, batchID string, slot models.TestSlot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slots = append(s.slots, slot)
	s.row.TestSlotDate = sql.NullString{String: slot.Date, Valid: true}
	s.row.TestSlotTime = sql.NullString{String: slot.Time, Valid: true}
	return nil
}

func (s *enrollmentRepoStub) SetApproval(ctx context.Context, userID, batchID string, approved bool, reviewer, note string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.approvals = append(s.approvals, approved)
	s.reviewer = reviewer
	s.row.AdminApproved = approved
	if approved && s.row.Status == models.StatusWaitingAdmin {
		s.row.Status = models.StatusAdminApproved
	}
	return nil
}

func (s *enrollmentRepoStub) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.Enrollment, int, error) {
	s.lastFilter = filter
	s.listCalls++
	if s.pages != nil {
		if filter.Page > len(s.pages) {
			return nil, s.listTotal, nil
		}
		return s.pages[filter.Page-1], s.listTotal, nil
	}
	return s.listRows, s.listTotal, nil
}

type emitterStub struct {
	events []models.EnrollmentEvent
}

func (e *emitterStub) Emit(event models.EnrollmentEvent) {
	e.events = append(e.events, event)
}

func newTestEnrollmentService(repo *enrollmentRepoStub, opts ...EnrollmentServiceOption) *EnrollmentService {
	machine := workflow.New(workflow.Fees{RegistrationUnpaid: 500, RegistrationPaid: 1000, Course: 15000},
		workflow.WithClock(func() time.Time { return serviceNow }))
	opts = append(opts, WithEnrollmentClock(func() time.Time { return serviceNow }))
	return NewEnrollmentService(repo, machine, nil, zap.NewNop(), opts...)
}

func learner() *models.JWTClaims {
	return &models.JWTClaims{UserID: "user-1", Role: models.RoleStudent, FullName: "Ana", Email: "ana@example.com", Mobile: "0812"}
}

func adminClaims() *models.JWTClaims {
	return &models.JWTClaims{UserID: "admin-1", Role: models.RoleAdmin}
}

func rowWith(status models.EnrollmentStatus, mode models.EnrollmentMode, approved bool) *models.Enrollment {
	return &models.Enrollment{UserID: "user-1", BatchID: "batch-1", Name: "Ana", Status: status, Mode: mode, AdminApproved: approved, TermsAccepted: true}
}

func TestEnrollmentStatusDefaultsToUnregistered(t *testing.T) {
	svc := newTestEnrollmentService(&enrollmentRepoStub{})

	record, err := svc.Status(context.Background(), learner(), " batch-1 ")
	require.NoError(t, err)
	assert.Equal(t, models.StatusNotRegistered, record.Status)
	assert.Equal(t, models.ModeUnset, record.Mode)
	assert.Equal(t, "batch-1", record.BatchID)
	assert.Equal(t, "Ana", record.Name)
	assert.NotNil(t, record.PaymentHistory)
}

func TestEnrollmentStatusRequiresBatch(t *testing.T) {
	svc := newTestEnrollmentService(&enrollmentRepoStub{})

	_, err := svc.Status(context.Background(), learner(), "")
	assert.True(t, errors.Is(err, appErrors.ErrValidation))

	_, err = svc.Status(context.Background(), nil, "batch-1")
	assert.True(t, errors.Is(err, appErrors.ErrUnauthorized))
}

func TestEnrollmentStatusWrapsRepositoryFailure(t *testing.T) {
	svc := newTestEnrollmentService(&enrollmentRepoStub{findErr: errors.New("connection reset")})

	_, err := svc.Status(context.Background(), learner(), "batch-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrInternal))
}

func TestEnrollmentSelectModeCreatesRow(t *testing.T) {
	repo := &enrollmentRepoStub{}
	svc := newTestEnrollmentService(repo)

	_, err := svc.SelectMode(context.Background(), learner(), dto.SelectModeRequest{BatchID: "batch-1", Mode: models.ModePaid})
	assert.True(t, errors.Is(err, appErrors.ErrPreconditionFailed))
	assert.Empty(t, repo.created)

	ack, err := svc.SelectMode(context.Background(), learner(), dto.SelectModeRequest{BatchID: "batch-1", Mode: models.ModePaid, TermsAccepted: true})
	require.NoError(t, err)
	assert.True(t, ack.Accepted)
	require.Len(t, repo.created, 1)
	assert.Equal(t, models.StatusModeSelected, repo.created[0].Status)
	assert.Equal(t, "ana@example.com", repo.created[0].Email)

	_, err = svc.SelectMode(context.Background(), learner(), dto.SelectModeRequest{BatchID: "batch-1", Mode: models.ModeUnpaid, TermsAccepted: true})
	assert.True(t, errors.Is(err, appErrors.ErrPreconditionFailed))
}

func TestEnrollmentRegistrationPaymentChecksAmount(t *testing.T) {
	repo := &enrollmentRepoStub{row: rowWith(models.StatusModeSelected, models.ModeUnpaid, false)}
	svc := newTestEnrollmentService(repo)

	_, err := svc.SubmitRegistrationPayment(context.Background(), learner(), dto.RegistrationPaymentRequest{
		BatchID: "batch-1", TransactionID: "TXN1", Mode: models.ModeUnpaid, Amount: 1000,
	})
	assert.True(t, errors.Is(err, appErrors.ErrValidation))

	_, err = svc.SubmitRegistrationPayment(context.Background(), learner(), dto.RegistrationPaymentRequest{
		BatchID: "batch-1", TransactionID: "TXN1", Mode: models.ModePaid, Amount: 500,
	})
	assert.True(t, errors.Is(err, appErrors.ErrValidation))
	assert.Empty(t, repo.recorded)

	ack, err := svc.SubmitRegistrationPayment(context.Background(), learner(), dto.RegistrationPaymentRequest{
		BatchID: "batch-1", TransactionID: " TXN1 ", Mode: models.ModeUnpaid, Amount: 500,
	})
	require.NoError(t, err)
	assert.True(t, ack.Accepted)
	require.Len(t, repo.recorded, 1)
	params := repo.recorded[0]
	assert.Equal(t, "TXN1", params.Payment.TransactionID)
	assert.Equal(t, models.PurposeRegistration, params.Payment.Purpose)
	assert.Equal(t, models.StatusModeSelected, params.FromStatus)
	assert.Equal(t, models.StatusWaitingAdmin, params.ToStatus)
	assert.Equal(t, serviceNow, params.Payment.Timestamp)
}

func TestEnrollmentRegistrationPaymentMapsDuplicate(t *testing.T) {
	repo := &enrollmentRepoStub{row: rowWith(models.StatusModeSelected, models.ModePaid, false), recordErr: repository.ErrDuplicatePayment}
	svc := newTestEnrollmentService(repo)

	_, err := svc.SubmitRegistrationPayment(context.Background(), learner(), dto.RegistrationPaymentRequest{
		BatchID: "batch-1", TransactionID: "TXN1", Mode: models.ModePaid, Amount: 1000,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrConflict))

	repo.recordErr = repository.ErrStaleTransition
	_, err = svc.SubmitRegistrationPayment(context.Background(), learner(), dto.RegistrationPaymentRequest{
		BatchID: "batch-1", TransactionID: "TXN1", Mode: models.ModePaid, Amount: 1000,
	})
	assert.True(t, errors.Is(err, appErrors.ErrConflict))
}

func TestEnrollmentBookTestSlot(t *testing.T) {
	repo := &enrollmentRepoStub{row: rowWith(models.StatusAdminApproved, models.ModePaid, true)}
	svc := newTestEnrollmentService(repo)

	_, err := svc.BookTestSlot(context.Background(), learner(), dto.TestSlotRequest{BatchID: "batch-1", Date: "2026-01-15", Time: "10:00"})
	assert.True(t, errors.Is(err, appErrors.ErrPreconditionFailed))

	repo.row.Mode = models.ModeUnpaid
	_, err = svc.BookTestSlot(context.Background(), learner(), dto.TestSlotRequest{BatchID: "batch-1", Date: "2026-01-09", Time: "10:00"})
	assert.True(t, errors.Is(err, appErrors.ErrValidation))

	_, err = svc.BookTestSlot(context.Background(), learner(), dto.TestSlotRequest{BatchID: "batch-1", Date: "2026-01-15", Time: "10:00"})
	require.NoError(t, err)
	assert.Equal(t, []models.TestSlot{{Date: "2026-01-15", Time: "10:00"}}, repo.slots)

	record, err := svc.Status(context.Background(), learner(), "batch-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusAdminApproved, record.Status)
	require.NotNil(t, record.TestSlot)
}

func TestEnrollmentCoursePaymentConfirmsSeat(t *testing.T) {
	repo := &enrollmentRepoStub{row: rowWith(models.StatusAdminApproved, models.ModePaid, true)}
	emitter := &emitterStub{}
	svc := newTestEnrollmentService(repo, WithEventEmitter(emitter))

	_, err := svc.SubmitCoursePayment(context.Background(), learner(), dto.CoursePaymentRequest{BatchID: "batch-1", TransactionID: "TXN2", Amount: 100})
	assert.True(t, errors.Is(err, appErrors.ErrValidation))

	_, err = svc.SubmitCoursePayment(context.Background(), learner(), dto.CoursePaymentRequest{BatchID: "batch-1", TransactionID: "TXN2", Amount: 15000})
	require.NoError(t, err)
	require.Len(t, repo.recorded, 1)
	assert.True(t, repo.recorded[0].Payment.ApprovedAtSubmission)
	assert.Equal(t, models.StatusSeatConfirmed, repo.recorded[0].ToStatus)
	require.Len(t, emitter.events, 1)
	assert.Equal(t, models.EventSeatConfirmed, emitter.events[0].Type)

	_, err = svc.SubmitCoursePayment(context.Background(), learner(), dto.CoursePaymentRequest{BatchID: "batch-1", TransactionID: "TXN3", Amount: 15000})
	assert.True(t, errors.Is(err, appErrors.ErrTerminalState))
}

func TestEnrollmentCoursePaymentRequiresApproval(t *testing.T) {
	repo := &enrollmentRepoStub{row: rowWith(models.StatusAdminApproved, models.ModePaid, false)}
	svc := newTestEnrollmentService(repo)

	_, err := svc.SubmitCoursePayment(context.Background(), learner(), dto.CoursePaymentRequest{BatchID: "batch-1", TransactionID: "TXN2", Amount: 15000})
	assert.True(t, errors.Is(err, appErrors.ErrPreconditionFailed))
	assert.Empty(t, repo.recorded)
}

func TestEnrollmentApproveAndRevoke(t *testing.T) {
	repo := &enrollmentRepoStub{row: rowWith(models.StatusWaitingAdmin, models.ModePaid, false)}
	emitter := &emitterStub{}
	svc := newTestEnrollmentService(repo, WithEventEmitter(emitter))

	_, err := svc.Approve(context.Background(), learner(), "user-1", "batch-1", dto.AdminDecisionRequest{})
	assert.True(t, errors.Is(err, appErrors.ErrForbidden))

	record, err := svc.Approve(context.Background(), adminClaims(), "user-1", "batch-1", dto.AdminDecisionRequest{Note: "ok"})
	require.NoError(t, err)
	assert.True(t, record.AdminApproved)
	assert.Equal(t, models.StatusAdminApproved, record.Status)
	assert.Equal(t, "admin-1", repo.reviewer)

	record, err = svc.Revoke(context.Background(), adminClaims(), "user-1", "batch-1", dto.AdminDecisionRequest{})
	require.NoError(t, err)
	assert.False(t, record.AdminApproved)
	assert.Equal(t, models.StatusAdminApproved, record.Status)
	assert.Equal(t, workflow.PhaseApprovalRevoked, workflow.StateOf(*record).Phase())

	require.Len(t, emitter.events, 2)
	assert.Equal(t, models.EventEnrollmentApproved, emitter.events[0].Type)
	assert.Equal(t, models.EventApprovalRevoked, emitter.events[1].Type)
	assert.Equal(t, "admin-1", emitter.events[1].Actor)
}

func TestEnrollmentReviewGuards(t *testing.T) {
	repo := &enrollmentRepoStub{}
	svc := newTestEnrollmentService(repo)

	_, err := svc.Approve(context.Background(), adminClaims(), "user-1", "batch-1", dto.AdminDecisionRequest{})
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))

	repo.row = rowWith(models.StatusModeSelected, models.ModePaid, false)
	_, err = svc.Approve(context.Background(), adminClaims(), "user-1", "batch-1", dto.AdminDecisionRequest{})
	assert.True(t, errors.Is(err, appErrors.ErrPreconditionFailed))

	repo.row = rowWith(models.StatusSeatConfirmed, models.ModePaid, true)
	_, err = svc.Revoke(context.Background(), adminClaims(), "user-1", "batch-1", dto.AdminDecisionRequest{})
	assert.True(t, errors.Is(err, appErrors.ErrTerminalState))
	assert.Empty(t, repo.approvals)
}

func TestEnrollmentListValidatesStatus(t *testing.T) {
	repo := &enrollmentRepoStub{listRows: []models.Enrollment{*rowWith(models.StatusWaitingAdmin, models.ModePaid, false)}, listTotal: 41}
	svc := newTestEnrollmentService(repo)

	_, _, err := svc.List(context.Background(), dto.EnrollmentQuery{Status: "ARCHIVED"})
	assert.True(t, errors.Is(err, appErrors.ErrValidation))

	rows, pagination, err := svc.List(context.Background(), dto.EnrollmentQuery{BatchID: "batch-1", Status: models.StatusWaitingAdmin, Page: 3, PageSize: 500})
	require.NoError(t, err)
	assert.Len(t, rows, 1)
	assert.Equal(t, 3, pagination.Page)
	assert.Equal(t, 20, pagination.PageSize)
	assert.Equal(t, 41, pagination.TotalCount)
	assert.Equal(t, "batch-1", repo.lastFilter.BatchID)
}

func TestEnrollmentExportWalksPages(t *testing.T) {
	full := make([]models.Enrollment, exportPageSize)
	repo := &enrollmentRepoStub{
		pages:     [][]models.Enrollment{full, {*rowWith(models.StatusWaitingAdmin, models.ModePaid, false)}},
		listTotal: exportPageSize + 1,
	}
	svc := newTestEnrollmentService(repo)

	rows, err := svc.Export(context.Background(), dto.EnrollmentQuery{Status: models.StatusWaitingAdmin})
	require.NoError(t, err)
	assert.Len(t, rows, exportPageSize+1)
	assert.Equal(t, 2, repo.listCalls)
	assert.Equal(t, exportPageSize, repo.lastFilter.PageSize)

	_, err = svc.Export(context.Background(), dto.EnrollmentQuery{Status: "NOPE"})
	assert.True(t, errors.Is(err, appErrors.ErrValidation))
}
