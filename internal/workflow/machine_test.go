package workflow

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/batch-enrollment/internal/dto"
	"github.com/noah-isme/batch-enrollment/internal/models"
	appErrors "github.com/noah-isme/batch-enrollment/pkg/errors"
)

var testFees = Fees{RegistrationUnpaid: 500, RegistrationPaid: 1000, Course: 15000}

func fixedNow() time.Time {
	return time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)
}

func newTestMachine() *Machine {
	return New(testFees, WithClock(fixedNow))
}

func record(status models.EnrollmentStatus, mode models.EnrollmentMode, approved bool) models.EnrollmentRecord {
	r := models.NewUnregisteredRecord("user-1", "batch-1")
	r.Status = status
	r.Mode = mode
	r.AdminApproved = approved
	return r
}

func requireCode(t *testing.T, err error, sentinel *appErrors.Error) {
	t.Helper()
	require.Error(t, err)
	assert.True(t, errors.Is(err, sentinel), "expected %s, got %v", sentinel.Code, err)
}

func TestDecideSelectMode(t *testing.T) {
	m := newTestMachine()

	_, err := m.Decide(record(models.StatusNotRegistered, models.ModeUnset, false), SelectMode(models.ModePaid, false))
	requireCode(t, err, appErrors.ErrPreconditionFailed)

	_, err = m.Decide(record(models.StatusNotRegistered, models.ModeUnset, false), SelectMode("FREE", true))
	requireCode(t, err, appErrors.ErrValidation)

	intent, err := m.Decide(record(models.StatusNotRegistered, models.ModeUnset, false), SelectMode(models.ModePaid, true))
	require.NoError(t, err)
	assert.Equal(t, EndpointSelectMode, intent.Endpoint)
	assert.Empty(t, intent.Purpose)
	assert.Equal(t, dto.SelectModeRequest{BatchID: "batch-1", Mode: models.ModePaid, TermsAccepted: true}, intent.Payload)

	_, err = m.Decide(record(models.StatusModeSelected, models.ModeUnpaid, false), SelectMode(models.ModePaid, true))
	requireCode(t, err, appErrors.ErrPreconditionFailed)
}

func TestDecideRegistrationPaymentAmountsFollowMode(t *testing.T) {
	m := newTestMachine()

	intent, err := m.Decide(record(models.StatusModeSelected, models.ModeUnpaid, false), RegistrationPayment(" TXN1 "))
	require.NoError(t, err)
	assert.Equal(t, models.PurposeRegistration, intent.Purpose)
	payload := intent.Payload.(dto.RegistrationPaymentRequest)
	assert.Equal(t, "TXN1", payload.TransactionID)
	assert.Equal(t, int64(500), payload.Amount)

	intent, err = m.Decide(record(models.StatusModeSelected, models.ModePaid, false), RegistrationPayment("TXN1"))
	require.NoError(t, err)
	assert.Equal(t, int64(1000), intent.Payload.(dto.RegistrationPaymentRequest).Amount)

	_, err = m.Decide(record(models.StatusModeSelected, models.ModePaid, false), RegistrationPayment("  "))
	requireCode(t, err, appErrors.ErrValidation)

	_, err = m.Decide(record(models.StatusWaitingAdmin, models.ModePaid, false), RegistrationPayment("TXN2"))
	requireCode(t, err, appErrors.ErrPreconditionFailed)
}

func TestDecideTestSlotGuards(t *testing.T) {
	m := newTestMachine()
	book := BookTestSlot("2026-01-15", "10:00")

	cases := []struct {
		name   string
		record models.EnrollmentRecord
		action Action
		want   *appErrors.Error
	}{
		{"paid track", record(models.StatusAdminApproved, models.ModePaid, true), book, appErrors.ErrPreconditionFailed},
		{"not approved", record(models.StatusAdminApproved, models.ModeUnpaid, false), book, appErrors.ErrPreconditionFailed},
		{"approved flag before status", record(models.StatusWaitingAdmin, models.ModeUnpaid, true), book, appErrors.ErrPreconditionFailed},
		{"missing time", record(models.StatusAdminApproved, models.ModeUnpaid, true), BookTestSlot("2026-01-15", ""), appErrors.ErrValidation},
		{"malformed date", record(models.StatusAdminApproved, models.ModeUnpaid, true), BookTestSlot("15/01/2026", "10:00"), appErrors.ErrValidation},
		{"in the past", record(models.StatusAdminApproved, models.ModeUnpaid, true), BookTestSlot("2026-01-10", "08:59"), appErrors.ErrValidation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := m.Decide(tc.record, tc.action)
			requireCode(t, err, tc.want)
		})
	}

	intent, err := m.Decide(record(models.StatusAdminApproved, models.ModeUnpaid, true), book)
	require.NoError(t, err)
	assert.Equal(t, EndpointTestSlot, intent.Endpoint)
	assert.Equal(t, dto.TestSlotRequest{BatchID: "batch-1", Date: "2026-01-15", Time: "10:00"}, intent.Payload)
}

func TestDecideCourseFeeGuards(t *testing.T) {
	m := newTestMachine()

	_, err := m.Decide(record(models.StatusAdminApproved, models.ModeUnpaid, true), CourseFeePayment("TXN2"))
	requireCode(t, err, appErrors.ErrPreconditionFailed)

	_, err = m.Decide(record(models.StatusAdminApproved, models.ModePaid, false), CourseFeePayment("TXN2"))
	requireCode(t, err, appErrors.ErrPreconditionFailed)

	_, err = m.Decide(record(models.StatusWaitingAdmin, models.ModePaid, true), CourseFeePayment("TXN2"))
	requireCode(t, err, appErrors.ErrPreconditionFailed)

	_, err = m.Decide(record(models.StatusAdminApproved, models.ModePaid, true), CourseFeePayment(""))
	requireCode(t, err, appErrors.ErrValidation)

	intent, err := m.Decide(record(models.StatusAdminApproved, models.ModePaid, true), CourseFeePayment("TXN2"))
	require.NoError(t, err)
	assert.Equal(t, models.PurposeCourse, intent.Purpose)
	assert.Equal(t, dto.CoursePaymentRequest{BatchID: "batch-1", TransactionID: "TXN2", Amount: 15000}, intent.Payload)
}

func TestDecideRejectsEverythingOnceConfirmed(t *testing.T) {
	m := newTestMachine()
	actions := []Action{
		SelectMode(models.ModePaid, true),
		SelectMode("", false),
		RegistrationPayment("TXN9"),
		RegistrationPayment(""),
		BookTestSlot("2030-01-01", "10:00"),
		BookTestSlot("garbage", ""),
		CourseFeePayment("TXN9"),
		{Kind: "UNKNOWN"},
	}
	for _, mode := range []models.EnrollmentMode{models.ModePaid, models.ModeUnpaid, models.ModeUnset} {
		for _, approved := range []bool{true, false} {
			confirmed := record(models.StatusSeatConfirmed, mode, approved)
			for _, action := range actions {
				_, err := m.Decide(confirmed, action)
				requireCode(t, err, appErrors.ErrTerminalState)
			}
		}
	}
}

func TestPhaseClassifiesEveryCompositeState(t *testing.T) {
	cases := []struct {
		state State
		want  Phase
	}{
		{State{models.StatusNotRegistered, models.ModeUnset, false}, PhaseUnregistered},
		{State{models.StatusNotRegistered, models.ModePaid, false}, PhaseInconsistent},
		{State{models.StatusModeSelected, models.ModeUnpaid, false}, PhaseModeSelected},
		{State{models.StatusModeSelected, models.ModeUnset, false}, PhaseInconsistent},
		{State{models.StatusWaitingAdmin, models.ModePaid, true}, PhaseAwaitingApproval},
		{State{models.StatusAdminApproved, models.ModePaid, false}, PhaseApprovalRevoked},
		{State{models.StatusAdminApproved, models.ModeUnpaid, true}, PhaseFreeTrackOpen},
		{State{models.StatusAdminApproved, models.ModePaid, true}, PhasePaidTrackOpen},
		{State{models.StatusSeatConfirmed, models.ModePaid, true}, PhaseConfirmed},
		{State{"ARCHIVED", models.ModePaid, true}, PhaseInconsistent},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, tc.state.Phase(), "%+v", tc.state)
	}
}

func TestAvailableAndVisibleTestSlot(t *testing.T) {
	assert.Equal(t, []ActionKind{ActionSelectMode}, Available(record(models.StatusNotRegistered, "", false)))
	assert.Equal(t, []ActionKind{ActionCourseFeePayment}, Available(record(models.StatusAdminApproved, models.ModePaid, true)))
	assert.Empty(t, Available(record(models.StatusAdminApproved, models.ModePaid, false)))
	assert.Empty(t, Available(record(models.StatusSeatConfirmed, models.ModePaid, true)))

	inconsistent := record(models.StatusAdminApproved, models.ModePaid, true)
	inconsistent.TestSlot = &models.TestSlot{Date: "2026-01-15", Time: "10:00"}
	assert.Nil(t, VisibleTestSlot(inconsistent))

	unpaid := record(models.StatusAdminApproved, models.ModeUnpaid, true)
	unpaid.TestSlot = &models.TestSlot{Date: "2026-01-15", Time: "10:00"}
	slot := VisibleTestSlot(unpaid)
	require.NotNil(t, slot)
	slot.Date = "changed"
	assert.Equal(t, "2026-01-15", unpaid.TestSlot.Date)
}
