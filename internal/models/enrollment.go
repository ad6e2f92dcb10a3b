package models

import (
	"fmt"
	"time"
)

// EnrollmentStatus is the ordered progression of a batch enrollment.
type EnrollmentStatus string

// Possible enrollment statuses, in progression order.
const (
	StatusNotRegistered EnrollmentStatus = "NOT_REGISTERED"
	StatusModeSelected  EnrollmentStatus = "MODE_SELECTED"
	StatusWaitingAdmin  EnrollmentStatus = "WAITING_ADMIN"
	StatusAdminApproved EnrollmentStatus = "ADMIN_APPROVED"
	StatusSeatConfirmed EnrollmentStatus = "SEAT_CONFIRMED"
)

var statusRank = map[EnrollmentStatus]int{
	StatusNotRegistered: 0,
	StatusModeSelected:  1,
	StatusWaitingAdmin:  2,
	StatusAdminApproved: 3,
	StatusSeatConfirmed: 4,
}

// Valid reports whether the status is one of the known values.
func (s EnrollmentStatus) Valid() bool {
	_, ok := statusRank[s]
	return ok
}

// AtLeast compares positions in the progression. Unknown statuses rank below everything.
func (s EnrollmentStatus) AtLeast(other EnrollmentStatus) bool {
	rank, ok := statusRank[s]
	if !ok {
		return false
	}
	return rank >= statusRank[other]
}

// Terminal reports whether no further transition is permitted.
func (s EnrollmentStatus) Terminal() bool {
	return s == StatusSeatConfirmed
}

// EnrollmentMode is the track a user picks once.
type EnrollmentMode string

const (
	ModeUnset  EnrollmentMode = "UNSET"
	ModePaid   EnrollmentMode = "PAID"
	ModeUnpaid EnrollmentMode = "UNPAID"
)

// Chosen reports whether a concrete track has been selected.
func (m EnrollmentMode) Chosen() bool {
	return m == ModePaid || m == ModeUnpaid
}

// PaymentPurpose distinguishes the two fees of the workflow.
type PaymentPurpose string

const (
	PurposeRegistration PaymentPurpose = "REGISTRATION"
	PurposeCourse       PaymentPurpose = "COURSE"
)

// SlotDateLayout and SlotTimeLayout are the wire formats of a test slot.
const (
	SlotDateLayout = "2006-01-02"
	SlotTimeLayout = "15:04"
)

// TestSlot is the booked test date and time, as entered by the user.
type TestSlot struct {
	Date string `db:"test_slot_date" json:"date"`
	Time string `db:"test_slot_time" json:"time"`
}

// Deadline combines date and time into an absolute instant in loc.
func (t TestSlot) Deadline(loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	deadline, err := time.ParseInLocation(SlotDateLayout+" "+SlotTimeLayout, t.Date+" "+t.Time, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse test slot %q %q: %w", t.Date, t.Time, err)
	}
	return deadline, nil
}

// PaymentEntry is one append-only payment history line.
type PaymentEntry struct {
	ID            string         `db:"id" json:"id,omitempty"`
	TransactionID string         `db:"transaction_id" json:"transactionId"`
	Amount        int64          `db:"amount" json:"amount"`
	Purpose       PaymentPurpose `db:"purpose" json:"purpose"`
	// ApprovedAtSubmission records the admin flag observed when the entry was written.
	ApprovedAtSubmission bool      `db:"approved_at_submission" json:"approvedAtSubmission"`
	Timestamp            time.Time `db:"created_at" json:"timestamp"`
}

// EnrollmentRecord is the authoritative per-user, per-batch workflow state.
type EnrollmentRecord struct {
	UserID         string           `json:"userId"`
	BatchID        string           `json:"batchId"`
	Name           string           `json:"name"`
	Email          string           `json:"email"`
	Mobile         string           `json:"mobile"`
	Status         EnrollmentStatus `json:"status"`
	Mode           EnrollmentMode   `json:"mode"`
	AdminApproved  bool             `json:"adminApproved"`
	TermsAccepted  bool             `json:"termsAccepted"`
	TestSlot       *TestSlot        `json:"testSlot,omitempty"`
	PaymentHistory []PaymentEntry   `json:"paymentHistory"`
}

// NewUnregisteredRecord is the default view before any row exists server-side.
func NewUnregisteredRecord(userID, batchID string) EnrollmentRecord {
	return EnrollmentRecord{
		UserID:         userID,
		BatchID:        batchID,
		Status:         StatusNotRegistered,
		Mode:           ModeUnset,
		PaymentHistory: []PaymentEntry{},
	}
}

// Clone returns a deep copy so cached records are never shared.
func (r EnrollmentRecord) Clone() EnrollmentRecord {
	out := r
	if r.TestSlot != nil {
		slot := *r.TestSlot
		out.TestSlot = &slot
	}
	out.PaymentHistory = append([]PaymentEntry{}, r.PaymentHistory...)
	return out
}

// Payments returns the history entries for a purpose.
func (r EnrollmentRecord) Payments(purpose PaymentPurpose) []PaymentEntry {
	var out []PaymentEntry
	for _, p := range r.PaymentHistory {
		if p.Purpose == purpose {
			out = append(out, p)
		}
	}
	return out
}

// Anomaly describes a violated record invariant.
type Anomaly struct {
	Invariant int    `json:"invariant"`
	Detail    string `json:"detail"`
}

func (a Anomaly) String() string {
	return fmt.Sprintf("invariant %d: %s", a.Invariant, a.Detail)
}

// CheckInvariants lists every record invariant the record violates.
func CheckInvariants(r EnrollmentRecord) []Anomaly {
	var anomalies []Anomaly
	if !r.Status.Valid() {
		anomalies = append(anomalies, Anomaly{Invariant: 0, Detail: fmt.Sprintf("unknown status %q", r.Status)})
	}
	modeSet := r.Mode.Chosen()
	if modeSet != r.Status.AtLeast(StatusModeSelected) {
		anomalies = append(anomalies, Anomaly{Invariant: 1, Detail: fmt.Sprintf("mode %s with status %s", r.Mode, r.Status)})
	}
	if r.TestSlot != nil && r.Mode != ModeUnpaid {
		anomalies = append(anomalies, Anomaly{Invariant: 2, Detail: fmt.Sprintf("test slot present with mode %s", r.Mode)})
	}
	for _, p := range r.Payments(PurposeCourse) {
		if r.Mode != ModePaid || !p.ApprovedAtSubmission {
			anomalies = append(anomalies, Anomaly{Invariant: 3, Detail: fmt.Sprintf("course payment %s with mode %s approved=%t", p.TransactionID, r.Mode, p.ApprovedAtSubmission)})
		}
	}
	return anomalies
}
