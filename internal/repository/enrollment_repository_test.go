package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/batch-enrollment/internal/models"
)

var rowColumns = []string{"user_id", "batch_id", "name", "email", "mobile", "status", "mode", "admin_approved", "terms_accepted",
	"test_slot_date", "test_slot_time", "reviewed_by", "review_note", "created_at", "updated_at"}

func newEnrollmentRepoMock(t *testing.T) (*EnrollmentRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	sqlxDB := sqlx.NewDb(db, "postgres")
	t.Cleanup(func() { _ = sqlxDB.Close() })
	return NewEnrollmentRepository(sqlxDB), mock
}

func paymentParams() RecordPaymentParams {
	return RecordPaymentParams{
		UserID:  "user-1",
		BatchID: "batch-1",
		Payment: models.PaymentEntry{
			TransactionID: "TXN1",
			Amount:        1000,
			Purpose:       models.PurposeRegistration,
			Timestamp:     time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC),
		},
		FromStatus: models.StatusModeSelected,
		ToStatus:   models.StatusWaitingAdmin,
	}
}

func TestEnrollmentRepositoryFindByUserAndBatch(t *testing.T) {
	repo, mock := newEnrollmentRepoMock(t)
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta(`FROM enrollments WHERE user_id = $1 AND batch_id = $2`)).
		WithArgs("user-1", "batch-1").
		WillReturnRows(sqlmock.NewRows(rowColumns).
			AddRow("user-1", "batch-1", "Ana", "ana@example.com", "0812", "ADMIN_APPROVED", "UNPAID", true, true,
				"2026-01-15", "10:00", "admin-1", nil, now, now))

	row, err := repo.FindByUserAndBatch(context.Background(), "user-1", "batch-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusAdminApproved, row.Status)
	assert.Equal(t, models.ModeUnpaid, row.Mode)
	assert.False(t, row.ReviewNote.Valid)

	record := row.Record(nil)
	require.NotNil(t, record.TestSlot)
	assert.Equal(t, "10:00", record.TestSlot.Time)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryFindMissingRow(t *testing.T) {
	repo, mock := newEnrollmentRepoMock(t)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM enrollments WHERE user_id = $1 AND batch_id = $2`)).
		WithArgs("user-1", "batch-1").
		WillReturnRows(sqlmock.NewRows(rowColumns))

	_, err := repo.FindByUserAndBatch(context.Background(), "user-1", "batch-1")
	assert.True(t, IsNotFound(err))
}

func TestEnrollmentRepositoryCreateConflict(t *testing.T) {
	repo, mock := newEnrollmentRepoMock(t)

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO enrollments`)).
		WillReturnError(&pq.Error{Code: "23505"})

	err := repo.Create(context.Background(), &models.Enrollment{UserID: "user-1", BatchID: "batch-1", Status: models.StatusModeSelected, Mode: models.ModePaid})
	assert.ErrorIs(t, err, ErrStaleTransition)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryRecordPayment(t *testing.T) {
	repo, mock := newEnrollmentRepoMock(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO enrollment_payments`)).
		WithArgs(sqlmock.AnyArg(), "user-1", "batch-1", "REGISTRATION", "TXN1", int64(1000), false, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE enrollments SET status = $3, updated_at = $4 WHERE user_id = $1 AND batch_id = $2 AND status = $5`)).
		WithArgs("user-1", "batch-1", "WAITING_ADMIN", sqlmock.AnyArg(), "MODE_SELECTED").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.RecordPayment(context.Background(), paymentParams()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryRecordPaymentDuplicate(t *testing.T) {
	repo, mock := newEnrollmentRepoMock(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO enrollment_payments`)).
		WillReturnError(&pq.Error{Code: "23505", Constraint: "enrollment_payments_transaction_id_key"})
	mock.ExpectRollback()

	err := repo.RecordPayment(context.Background(), paymentParams())
	assert.ErrorIs(t, err, ErrDuplicatePayment)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryRecordPaymentStaleStatus(t *testing.T) {
	repo, mock := newEnrollmentRepoMock(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO enrollment_payments`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE enrollments SET status`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := repo.RecordPayment(context.Background(), paymentParams())
	assert.ErrorIs(t, err, ErrStaleTransition)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryRecordPaymentFailure(t *testing.T) {
	repo, mock := newEnrollmentRepoMock(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO enrollment_payments`)).
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	err := repo.RecordPayment(context.Background(), paymentParams())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrDuplicatePayment)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositorySetApproval(t *testing.T) {
	repo, mock := newEnrollmentRepoMock(t)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE enrollments SET admin_approved = $3`)).
		WithArgs("user-1", "batch-1", true, "WAITING_ADMIN", "ADMIN_APPROVED", "admin-1", "looks good", sqlmock.AnyArg(), "SEAT_CONFIRMED").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.SetApproval(context.Background(), "user-1", "batch-1", true, "admin-1", "looks good"))

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE enrollments SET admin_approved = $3`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	err := repo.SetApproval(context.Background(), "user-1", "batch-1", false, "admin-1", "")
	assert.ErrorIs(t, err, ErrStaleTransition)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryUpdateTestSlot(t *testing.T) {
	repo, mock := newEnrollmentRepoMock(t)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE enrollments SET test_slot_date = $3, test_slot_time = $4`)).
		WithArgs("user-1", "batch-1", "2026-01-15", "10:00", sqlmock.AnyArg(), "ADMIN_APPROVED", "UNPAID").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.UpdateTestSlot(context.Background(), "user-1", "batch-1", models.TestSlot{Date: "2026-01-15", Time: "10:00"})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryList(t *testing.T) {
	repo, mock := newEnrollmentRepoMock(t)
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta(`FROM enrollments WHERE batch_id = $1 AND status = $2 ORDER BY updated_at ASC LIMIT 10 OFFSET 10`)).
		WithArgs("batch-1", "WAITING_ADMIN").
		WillReturnRows(sqlmock.NewRows(rowColumns).
			AddRow("user-1", "batch-1", "Ana", "ana@example.com", "0812", "WAITING_ADMIN", "PAID", false, true, nil, nil, nil, nil, now, now))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM enrollments WHERE batch_id = $1 AND status = $2`)).
		WithArgs("batch-1", "WAITING_ADMIN").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(11))

	rows, total, err := repo.List(context.Background(), models.EnrollmentFilter{BatchID: "batch-1", Status: models.StatusWaitingAdmin, Page: 2, PageSize: 10})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 11, total)
	assert.Nil(t, rows[0].Record(nil).TestSlot)
	require.NoError(t, mock.ExpectationsWereMet())
}
