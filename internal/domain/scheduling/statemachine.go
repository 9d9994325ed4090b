package scheduling

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/eyeclinic/clinic/internal/platform/auth"
	"github.com/eyeclinic/clinic/internal/platform/notification"
)

// Status is the lifecycle state of an appointment.
type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusConfirmed Status = "confirmed"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

func (s Status) Valid() bool {
	switch s {
	case StatusScheduled, StatusConfirmed, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// PaymentFlag mirrors the paired Payment's status on the appointment row.
type PaymentFlag string

const (
	FlagPending   PaymentFlag = "pending"
	FlagPaid      PaymentFlag = "paid"
	FlagCancelled PaymentFlag = "cancelled"
)

// CancelNotice is how far ahead of the appointment a patient must cancel.
const CancelNotice = 24 * time.Hour

// staffTransitions lists the statuses staff may move an appointment to from
// each state.
var staffTransitions = map[Status][]Status{
	StatusScheduled: {StatusConfirmed, StatusCompleted, StatusCancelled},
	StatusConfirmed: {StatusCompleted, StatusCancelled},
	StatusCompleted: {},
	StatusCancelled: {},
}

// patientTransitions is the subset open to the appointment's own patient.
var patientTransitions = map[Status][]Status{
	StatusScheduled: {StatusCancelled},
}

// Reason says why a transition was refused.
type Reason string

const (
	ReasonNotOwner     Reason = "not_owner"
	ReasonTooLate      Reason = "too_late"
	ReasonInvalidState Reason = "invalid_state"
	ReasonForbidden    Reason = "forbidden"
)

// TransitionError is returned for every refused transition. Nothing has been
// written when it is returned.
type TransitionError struct {
	Reason Reason
	From   Status
	To     Status
}

func (e *TransitionError) Error() string {
	switch e.Reason {
	case ReasonNotOwner:
		return "appointment belongs to another patient"
	case ReasonTooLate:
		return fmt.Sprintf("appointments can only be cancelled at least %d hours in advance", int(CancelNotice.Hours()))
	case ReasonForbidden:
		return fmt.Sprintf("not allowed to move appointment to %s", e.To)
	}
	return fmt.Sprintf("cannot move appointment from %s to %s", e.From, e.To)
}

// Actor is the caller requesting a transition.
type Actor struct {
	ID   uuid.UUID
	Role auth.Role
}

// Effect is what an accepted transition changes. PaymentState is applied to
// the paired Payment only if one exists; an empty value leaves it alone.
type Effect struct {
	Status       Status
	Flag         PaymentFlag
	PaymentState PaymentState
	Template     string
}

// Decide checks whether actor may move appt to target at now and returns the
// resulting Effect or a *TransitionError. Patient requests are checked for
// ownership, then notice period, then starting state.
func Decide(appt *Appointment, target Status, actor Actor, now time.Time, loc *time.Location) (Effect, error) {
	refuse := func(r Reason) (Effect, error) {
		return Effect{}, &TransitionError{Reason: r, From: appt.Status, To: target}
	}

	switch {
	case actor.Role == auth.RolePatient:
		if target != StatusCancelled {
			return refuse(ReasonForbidden)
		}
		if appt.PatientID != actor.ID {
			return refuse(ReasonNotOwner)
		}
		if now.Add(CancelNotice).After(appt.StartsAt(loc)) {
			return refuse(ReasonTooLate)
		}
		if !allowed(patientTransitions, appt.Status, target) {
			return refuse(ReasonInvalidState)
		}
	case actor.Role.IsStaff():
		if !allowed(staffTransitions, appt.Status, target) {
			return refuse(ReasonInvalidState)
		}
	default:
		return refuse(ReasonForbidden)
	}

	eff := Effect{Status: target, Flag: appt.PaymentStatus}
	switch target {
	case StatusCancelled:
		eff.Flag = FlagCancelled
		eff.PaymentState = PaymentCancelled
		eff.Template = notification.AppointmentCancelledClinic
		if actor.Role == auth.RolePatient {
			eff.Template = notification.AppointmentCancelled
		}
	case StatusConfirmed:
		eff.Flag = FlagPaid
		eff.PaymentState = PaymentCompleted
		eff.Template = notification.AppointmentConfirmed
	case StatusCompleted:
		eff.Template = notification.AppointmentCompleted
	}
	return eff, nil
}

func allowed(table map[Status][]Status, from, to Status) bool {
	for _, s := range table[from] {
		if s == to {
			return true
		}
	}
	return false
}
