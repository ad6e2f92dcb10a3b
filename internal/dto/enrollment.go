package dto

import "github.com/noah-isme/batch-enrollment/internal/models"

// SelectModeRequest chooses the PAID or UNPAID track.
type SelectModeRequest struct {
	BatchID       string                `json:"batchId" validate:"required"`
	Mode          models.EnrollmentMode `json:"mode" validate:"required,oneof=PAID UNPAID"`
	TermsAccepted bool                  `json:"termsAccepted"`
}

// RegistrationPaymentRequest submits the registration-fee transaction id.
type RegistrationPaymentRequest struct {
	BatchID       string                `json:"batchId" validate:"required"`
	TransactionID string                `json:"transactionId" validate:"required"`
	Mode          models.EnrollmentMode `json:"mode" validate:"required,oneof=PAID UNPAID"`
	Amount        int64                 `json:"amount" validate:"gt=0"`
}

// TestSlotRequest books the test date and time.
type TestSlotRequest struct {
	BatchID string `json:"batchId" validate:"required"`
	Date    string `json:"date" validate:"required"`
	Time    string `json:"time" validate:"required"`
}

// CoursePaymentRequest submits the course-fee transaction id.
type CoursePaymentRequest struct {
	BatchID       string `json:"batchId" validate:"required"`
	TransactionID string `json:"transactionId" validate:"required"`
	Amount        int64  `json:"amount" validate:"gt=0"`
}

// Ack is returned by every mutating enrollment endpoint.
type Ack struct {
	Accepted bool   `json:"accepted"`
	Message  string `json:"message,omitempty"`
}

// AdminDecisionRequest carries an optional note from the reviewing admin.
type AdminDecisionRequest struct {
	Note string `json:"note"`
}

// EnrollmentQuery filters the admin review queue.
type EnrollmentQuery struct {
	BatchID  string
	Status   models.EnrollmentStatus
	Page     int
	PageSize int
}
