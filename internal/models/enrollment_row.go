package models

import (
	"database/sql"
	"time"
)

// Enrollment is the persisted enrollment row.
type Enrollment struct {
	UserID        string           `db:"user_id" json:"userId"`
	BatchID       string           `db:"batch_id" json:"batchId"`
	Name          string           `db:"name" json:"name"`
	Email         string           `db:"email" json:"email"`
	Mobile        string           `db:"mobile" json:"mobile"`
	Status        EnrollmentStatus `db:"status" json:"status"`
	Mode          EnrollmentMode   `db:"mode" json:"mode"`
	AdminApproved bool             `db:"admin_approved" json:"adminApproved"`
	TermsAccepted bool             `db:"terms_accepted" json:"termsAccepted"`
	TestSlotDate  sql.NullString   `db:"test_slot_date" json:"-"`
	TestSlotTime  sql.NullString   `db:"test_slot_time" json:"-"`
	ReviewedBy    sql.NullString   `db:"reviewed_by" json:"-"`
	ReviewNote    sql.NullString   `db:"review_note" json:"-"`
	CreatedAt     time.Time        `db:"created_at" json:"createdAt"`
	UpdatedAt     time.Time        `db:"updated_at" json:"updatedAt"`
}

// Record converts the row and its payment history into the wire record.
func (e Enrollment) Record(payments []PaymentEntry) EnrollmentRecord {
	rec := EnrollmentRecord{
		UserID:         e.UserID,
		BatchID:        e.BatchID,
		Name:           e.Name,
		Email:          e.Email,
		Mobile:         e.Mobile,
		Status:         e.Status,
		Mode:           e.Mode,
		AdminApproved:  e.AdminApproved,
		TermsAccepted:  e.TermsAccepted,
		PaymentHistory: append([]PaymentEntry{}, payments...),
	}
	if e.TestSlotDate.Valid && e.TestSlotTime.Valid {
		rec.TestSlot = &TestSlot{Date: e.TestSlotDate.String, Time: e.TestSlotTime.String}
	}
	return rec
}

// EnrollmentFilter provides filters for the admin review queue.
type EnrollmentFilter struct {
	BatchID  string
	Status   EnrollmentStatus
	Page     int
	PageSize int
}

// Enrollment event types published to the broker.
const (
	EventEnrollmentApproved = "enrollment.approved"
	EventApprovalRevoked    = "enrollment.approval_revoked"
	EventSeatConfirmed      = "enrollment.seat_confirmed"
)

// EnrollmentEvent is emitted when the admin or the workflow moves a record.
type EnrollmentEvent struct {
	Type       string           `json:"type"`
	UserID     string           `json:"userId"`
	BatchID    string           `json:"batchId"`
	Mode       EnrollmentMode   `json:"mode"`
	Status     EnrollmentStatus `json:"status"`
	Actor      string           `json:"actor,omitempty"`
	OccurredAt time.Time        `json:"occurredAt"`
}
