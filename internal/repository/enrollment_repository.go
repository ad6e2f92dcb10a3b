package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/batch-enrollment/internal/models"
)

// ErrDuplicatePayment is returned when a payment violates the (purpose, user,
// batch) idempotency key or reuses a transaction id.
var ErrDuplicatePayment = errors.New("duplicate payment")

// ErrStaleTransition is returned when the row no longer holds the status a
// conditional update expected.
var ErrStaleTransition = errors.New("enrollment status changed concurrently")

const uniqueViolation = "23505"

const enrollmentColumns = `user_id, batch_id, name, email, mobile, status, mode, admin_approved, terms_accepted,
        test_slot_date, test_slot_time, reviewed_by, review_note, created_at, updated_at`

// EnrollmentRepository handles persistence of enrollments and their payments.
type EnrollmentRepository struct {
	db *sqlx.DB
}

// NewEnrollmentRepository constructs the repository.
func NewEnrollmentRepository(db *sqlx.DB) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

// FindByUserAndBatch returns the enrollment row or sql.ErrNoRows.
func (r *EnrollmentRepository) FindByUserAndBatch(ctx context.Context, userID, batchID string) (*models.Enrollment, error) {
	query := `SELECT ` + enrollmentColumns + ` FROM enrollments WHERE user_id = $1 AND batch_id = $2`
	var enrollment models.Enrollment
	if err := r.db.GetContext(ctx, &enrollment, query, userID, batchID); err != nil {
		return nil, err
	}
	return &enrollment, nil
}

// ListPayments returns the payment history ordered by creation.
func (r *EnrollmentRepository) ListPayments(ctx context.Context, userID, batchID string) ([]models.PaymentEntry, error) {
	const query = `SELECT id, transaction_id, amount, purpose, approved_at_submission, created_at
        FROM enrollment_payments WHERE user_id = $1 AND batch_id = $2 ORDER BY created_at ASC, id ASC`
	var payments []models.PaymentEntry
	if err := r.db.SelectContext(ctx, &payments, query, userID, batchID); err != nil {
		return nil, fmt.Errorf("list enrollment payments: %w", err)
	}
	return payments, nil
}

// Create inserts the row written on first mode selection.
func (r *EnrollmentRepository) Create(ctx context.Context, enrollment *models.Enrollment) error {
	now := time.Now().UTC()
	if enrollment.CreatedAt.IsZero() {
		enrollment.CreatedAt = now
	}
	enrollment.UpdatedAt = now
	const query = `INSERT INTO enrollments (user_id, batch_id, name, email, mobile, status, mode, admin_approved, terms_accepted, created_at, updated_at)
        VALUES (:user_id, :batch_id, :name, :email, :mobile, :status, :mode, :admin_approved, :terms_accepted, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, enrollment); err != nil {
		if isUniqueViolation(err) {
			return ErrStaleTransition
		}
		return fmt.Errorf("create enrollment: %w", err)
	}
	return nil
}

// RecordPaymentParams describes a fee payment and the transition it causes.
type RecordPaymentParams struct {
	UserID     string
	BatchID    string
	Payment    models.PaymentEntry
	FromStatus models.EnrollmentStatus
	ToStatus   models.EnrollmentStatus
}

// RecordPayment appends the payment and advances the status atomically.
func (r *EnrollmentRepository) RecordPayment(ctx context.Context, params RecordPaymentParams) error {
	if params.Payment.ID == "" {
		params.Payment.ID = uuid.NewString()
	}
	if params.Payment.Timestamp.IsZero() {
		params.Payment.Timestamp = time.Now().UTC()
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin payment tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	const insert = `INSERT INTO enrollment_payments (id, user_id, batch_id, purpose, transaction_id, amount, approved_at_submission, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	if _, err := tx.ExecContext(ctx, insert,
		params.Payment.ID, params.UserID, params.BatchID, params.Payment.Purpose,
		params.Payment.TransactionID, params.Payment.Amount, params.Payment.ApprovedAtSubmission, params.Payment.Timestamp,
	); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicatePayment
		}
		return fmt.Errorf("insert enrollment payment: %w", err)
	}

	const update = `UPDATE enrollments SET status = $3, updated_at = $4 WHERE user_id = $1 AND batch_id = $2 AND status = $5`
	res, err := tx.ExecContext(ctx, update, params.UserID, params.BatchID, params.ToStatus, params.Payment.Timestamp, params.FromStatus)
	if err != nil {
		return fmt.Errorf("advance enrollment status: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return ErrStaleTransition
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit payment tx: %w", err)
	}
	return nil
}

// UpdateTestSlot books the slot while the row is still approved on the unpaid track.
func (r *EnrollmentRepository) UpdateTestSlot(ctx context.Context, userID, batchID string, slot models.TestSlot) error {
	const query = `UPDATE enrollments SET test_slot_date = $3, test_slot_time = $4, updated_at = $5
        WHERE user_id = $1 AND batch_id = $2 AND status = $6 AND mode = $7 AND admin_approved = TRUE`
	res, err := r.db.ExecContext(ctx, query, userID, batchID, slot.Date, slot.Time, time.Now().UTC(), models.StatusAdminApproved, models.ModeUnpaid)
	if err != nil {
		return fmt.Errorf("update test slot: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return ErrStaleTransition
	}
	return nil
}

// SetApproval flips the admin flag. Approving a row waiting for review also
// advances it to ADMIN_APPROVED; revoking leaves the status untouched.
func (r *EnrollmentRepository) SetApproval(ctx context.Context, userID, batchID string, approved bool, reviewer, note string) error {
	const query = `UPDATE enrollments SET admin_approved = $3,
        status = CASE WHEN $3 AND status = $4 THEN $5 ELSE status END,
        reviewed_by = $6, review_note = NULLIF($7, ''), updated_at = $8
        WHERE user_id = $1 AND batch_id = $2 AND status <> $9`
	res, err := r.db.ExecContext(ctx, query, userID, batchID, approved,
		models.StatusWaitingAdmin, models.StatusAdminApproved, reviewer, note, time.Now().UTC(), models.StatusSeatConfirmed)
	if err != nil {
		return fmt.Errorf("set enrollment approval: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return ErrStaleTransition
	}
	return nil
}

// List returns enrollments for the admin review queue.
func (r *EnrollmentRepository) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.Enrollment, int, error) {
	var conditions []string
	var args []interface{}
	if filter.BatchID != "" {
		conditions = append(conditions, fmt.Sprintf("batch_id = $%d", len(args)+1))
		args = append(args, filter.BatchID)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}
	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT %s FROM enrollments%s ORDER BY updated_at ASC LIMIT %d OFFSET %d`, enrollmentColumns, clause, size, offset)
	var enrollments []models.Enrollment
	if err := r.db.SelectContext(ctx, &enrollments, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list enrollments: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM enrollments"+clause, args...); err != nil {
		return nil, 0, fmt.Errorf("count enrollments: %w", err)
	}
	return enrollments, total, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == uniqueViolation
	}
	return false
}

// IsNotFound reports whether err means the row does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
