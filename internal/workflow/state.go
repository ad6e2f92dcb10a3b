package workflow

import "github.com/noah-isme/batch-enrollment/internal/models"

// State is the composite key every guard consults. Status alone is not
// enough: approval is a side-channel fact set by the admin.
type State struct {
	Status   models.EnrollmentStatus
	Mode     models.EnrollmentMode
	Approved bool
}

// StateOf extracts the composite key from a record.
func StateOf(r models.EnrollmentRecord) State {
	mode := r.Mode
	if mode == "" {
		mode = models.ModeUnset
	}
	return State{Status: r.Status, Mode: mode, Approved: r.AdminApproved}
}

// Phase is the classification of a composite state.
type Phase string

const (
	PhaseUnregistered     Phase = "UNREGISTERED"
	PhaseModeSelected     Phase = "MODE_SELECTED"
	PhaseAwaitingApproval Phase = "AWAITING_APPROVAL"
	PhaseApprovalRevoked  Phase = "APPROVAL_REVOKED"
	PhaseFreeTrackOpen    Phase = "FREE_TRACK_OPEN"
	PhasePaidTrackOpen    Phase = "PAID_TRACK_OPEN"
	PhaseConfirmed        Phase = "CONFIRMED"
	PhaseInconsistent     Phase = "INCONSISTENT"
)

// Phase classifies every (status, mode, approved) combination. Combinations the
// backend should never produce map to PhaseInconsistent.
func (s State) Phase() Phase {
	switch s.Status {
	case models.StatusNotRegistered:
		if s.Mode.Chosen() {
			return PhaseInconsistent
		}
		return PhaseUnregistered
	case models.StatusModeSelected:
		if !s.Mode.Chosen() {
			return PhaseInconsistent
		}
		return PhaseModeSelected
	case models.StatusWaitingAdmin:
		if !s.Mode.Chosen() {
			return PhaseInconsistent
		}
		// approved=true here means the status write has not landed yet.
		return PhaseAwaitingApproval
	case models.StatusAdminApproved:
		switch {
		case !s.Mode.Chosen():
			return PhaseInconsistent
		case !s.Approved:
			return PhaseApprovalRevoked
		case s.Mode == models.ModeUnpaid:
			return PhaseFreeTrackOpen
		default:
			return PhasePaidTrackOpen
		}
	case models.StatusSeatConfirmed:
		return PhaseConfirmed
	default:
		return PhaseInconsistent
	}
}

// Available lists the actions the record currently admits, for affordances.
func Available(r models.EnrollmentRecord) []ActionKind {
	switch StateOf(r).Phase() {
	case PhaseUnregistered:
		return []ActionKind{ActionSelectMode}
	case PhaseModeSelected:
		return []ActionKind{ActionRegistrationPayment}
	case PhaseFreeTrackOpen:
		return []ActionKind{ActionBookTestSlot}
	case PhasePaidTrackOpen:
		return []ActionKind{ActionCourseFeePayment}
	default:
		return nil
	}
}

// VisibleTestSlot returns the slot only when the record is consistent enough
// to show it. A slot on a non-UNPAID record is hidden rather than trusted.
func VisibleTestSlot(r models.EnrollmentRecord) *models.TestSlot {
	if r.TestSlot == nil || r.Mode != models.ModeUnpaid {
		return nil
	}
	slot := *r.TestSlot
	return &slot
}
