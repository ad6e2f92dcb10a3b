// Package workflow decides whether a user action is admissible for an
// enrollment record and, if so, which request must be issued. It never
// mutates the record: the authoritative copy only changes on the backend and
// is observed by re-fetching it.
package workflow

import (
	"fmt"
	"strings"
	"time"

	"github.com/noah-isme/batch-enrollment/internal/dto"
	"github.com/noah-isme/batch-enrollment/internal/models"
	appErrors "github.com/noah-isme/batch-enrollment/pkg/errors"
)

// ActionKind names a user-initiated action.
type ActionKind string

const (
	ActionSelectMode          ActionKind = "SELECT_MODE"
	ActionRegistrationPayment ActionKind = "REGISTRATION_PAYMENT"
	ActionBookTestSlot        ActionKind = "BOOK_TEST_SLOT"
	ActionCourseFeePayment    ActionKind = "COURSE_FEE_PAYMENT"
)

// Endpoints of the consumed backend operations, relative to the enrollment base.
const (
	EndpointStatus              = "/enrollment/status"
	EndpointSelectMode          = "/enrollment/select-mode"
	EndpointRegistrationPayment = "/enrollment/registration-pay"
	EndpointTestSlot            = "/enrollment/test-slot"
	EndpointCoursePayment       = "/enrollment/course-pay"
)

// Action is a user request together with its input.
type Action struct {
	Kind          ActionKind
	Mode          models.EnrollmentMode
	TermsAccepted bool
	TransactionID string
	Slot          models.TestSlot
}

// SelectMode builds the mode-selection action.
func SelectMode(mode models.EnrollmentMode, termsAccepted bool) Action {
	return Action{Kind: ActionSelectMode, Mode: mode, TermsAccepted: termsAccepted}
}

// RegistrationPayment builds the registration-fee action.
func RegistrationPayment(transactionID string) Action {
	return Action{Kind: ActionRegistrationPayment, TransactionID: transactionID}
}

// BookTestSlot builds the test-slot booking action.
func BookTestSlot(date, clock string) Action {
	return Action{Kind: ActionBookTestSlot, Slot: models.TestSlot{Date: date, Time: clock}}
}

// CourseFeePayment builds the course-fee action.
func CourseFeePayment(transactionID string) Action {
	return Action{Kind: ActionCourseFeePayment, TransactionID: transactionID}
}

// Intent is the side-effecting request the caller must issue for an admitted action.
type Intent struct {
	Action   ActionKind
	Endpoint string
	// Purpose is set for payment intents only.
	Purpose models.PaymentPurpose
	Payload interface{}
}

// Fees are the configured fee tiers.
type Fees struct {
	RegistrationUnpaid int64
	RegistrationPaid   int64
	Course             int64
}

// Registration returns the registration fee for a track.
func (f Fees) Registration(mode models.EnrollmentMode) int64 {
	if mode == models.ModePaid {
		return f.RegistrationPaid
	}
	return f.RegistrationUnpaid
}

// Machine evaluates actions against records.
type Machine struct {
	fees     Fees
	location *time.Location
	now      func() time.Time
}

// Option configures a Machine.
type Option func(*Machine)

// WithLocation sets the zone test slots are interpreted in.
func WithLocation(loc *time.Location) Option {
	return func(m *Machine) {
		if loc != nil {
			m.location = loc
		}
	}
}

// WithClock overrides the time source used to reject past test slots.
func WithClock(now func() time.Time) Option {
	return func(m *Machine) {
		if now != nil {
			m.now = now
		}
	}
}

// New constructs a Machine.
func New(fees Fees, opts ...Option) *Machine {
	m := &Machine{fees: fees, location: time.UTC, now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// Fees exposes the configured tiers.
func (m *Machine) Fees() Fees {
	return m.fees
}

// Location exposes the zone test slots are interpreted in.
func (m *Machine) Location() *time.Location {
	return m.location
}

// Decide validates action against record and returns the request to issue.
// A terminal record rejects every action before its input is looked at.
func (m *Machine) Decide(record models.EnrollmentRecord, action Action) (Intent, error) {
	if record.Status.Terminal() {
		return Intent{}, appErrors.Clone(appErrors.ErrTerminalState, "seat already confirmed, no further changes allowed")
	}
	state := StateOf(record)

	switch action.Kind {
	case ActionSelectMode:
		return m.decideSelectMode(record, state, action)
	case ActionRegistrationPayment:
		return m.decideRegistrationPayment(record, state, action)
	case ActionBookTestSlot:
		return m.decideTestSlot(record, state, action)
	case ActionCourseFeePayment:
		return m.decideCourseFee(record, state, action)
	default:
		return Intent{}, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown action %q", action.Kind))
	}
}

func (m *Machine) decideSelectMode(record models.EnrollmentRecord, state State, action Action) (Intent, error) {
	if !action.Mode.Chosen() {
		return Intent{}, appErrors.Clone(appErrors.ErrValidation, "mode must be PAID or UNPAID")
	}
	if !action.TermsAccepted {
		return Intent{}, appErrors.Clone(appErrors.ErrPreconditionFailed, "terms and conditions must be accepted")
	}
	if state.Status != models.StatusNotRegistered || state.Mode.Chosen() {
		return Intent{}, appErrors.Clone(appErrors.ErrPreconditionFailed, "mode already selected")
	}
	return Intent{
		Action:   ActionSelectMode,
		Endpoint: EndpointSelectMode,
		Payload: dto.SelectModeRequest{
			BatchID:       record.BatchID,
			Mode:          action.Mode,
			TermsAccepted: true,
		},
	}, nil
}

func (m *Machine) decideRegistrationPayment(record models.EnrollmentRecord, state State, action Action) (Intent, error) {
	txn := strings.TrimSpace(action.TransactionID)
	if txn == "" {
		return Intent{}, appErrors.Clone(appErrors.ErrValidation, "transaction id is required")
	}
	if state.Status != models.StatusModeSelected || !state.Mode.Chosen() {
		return Intent{}, appErrors.Clone(appErrors.ErrPreconditionFailed, fmt.Sprintf("registration payment not allowed in status %s", state.Status))
	}
	return Intent{
		Action:   ActionRegistrationPayment,
		Endpoint: EndpointRegistrationPayment,
		Purpose:  models.PurposeRegistration,
		Payload: dto.RegistrationPaymentRequest{
			BatchID:       record.BatchID,
			TransactionID: txn,
			Mode:          state.Mode,
			Amount:        m.fees.Registration(state.Mode),
		},
	}, nil
}

func (m *Machine) decideTestSlot(record models.EnrollmentRecord, state State, action Action) (Intent, error) {
	if state.Mode != models.ModeUnpaid {
		return Intent{}, appErrors.Clone(appErrors.ErrPreconditionFailed, "test slots are only available on the unpaid track")
	}
	if !state.Approved {
		return Intent{}, appErrors.Clone(appErrors.ErrPreconditionFailed, "admin approval required before booking a test slot")
	}
	if state.Status != models.StatusAdminApproved {
		return Intent{}, appErrors.Clone(appErrors.ErrPreconditionFailed, fmt.Sprintf("test slot not allowed in status %s", state.Status))
	}
	slot := models.TestSlot{Date: strings.TrimSpace(action.Slot.Date), Time: strings.TrimSpace(action.Slot.Time)}
	if slot.Date == "" || slot.Time == "" {
		return Intent{}, appErrors.Clone(appErrors.ErrValidation, "test date and time are required")
	}
	deadline, err := slot.Deadline(m.location)
	if err != nil {
		return Intent{}, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "test date must be YYYY-MM-DD and time HH:MM")
	}
	if !deadline.After(m.now()) {
		return Intent{}, appErrors.Clone(appErrors.ErrValidation, "test slot must be in the future")
	}
	return Intent{
		Action:   ActionBookTestSlot,
		Endpoint: EndpointTestSlot,
		Payload:  dto.TestSlotRequest{BatchID: record.BatchID, Date: slot.Date, Time: slot.Time},
	}, nil
}

func (m *Machine) decideCourseFee(record models.EnrollmentRecord, state State, action Action) (Intent, error) {
	txn := strings.TrimSpace(action.TransactionID)
	if txn == "" {
		return Intent{}, appErrors.Clone(appErrors.ErrValidation, "transaction id is required")
	}
	if state.Mode != models.ModePaid {
		return Intent{}, appErrors.Clone(appErrors.ErrPreconditionFailed, "course fee applies to the paid track only")
	}
	if !state.Approved {
		return Intent{}, appErrors.Clone(appErrors.ErrPreconditionFailed, "admin approval required before paying the course fee")
	}
	if state.Status != models.StatusAdminApproved {
		return Intent{}, appErrors.Clone(appErrors.ErrPreconditionFailed, fmt.Sprintf("course fee not allowed in status %s", state.Status))
	}
	return Intent{
		Action:   ActionCourseFeePayment,
		Endpoint: EndpointCoursePayment,
		Purpose:  models.PurposeCourse,
		Payload: dto.CoursePaymentRequest{
			BatchID:       record.BatchID,
			TransactionID: txn,
			Amount:        m.fees.Course,
		},
	}, nil
}
