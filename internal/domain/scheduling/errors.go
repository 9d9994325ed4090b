package scheduling

import (
	"errors"

	"github.com/eyeclinic/clinic/internal/platform/validation"
)

var (
	ErrNotFound        = errors.New("appointment not found")
	ErrPaymentNotFound = errors.New("payment not found")
	ErrPaymentSettled  = errors.New("payment is not pending")
	ErrSlotUnavailable = errors.New("the selected time slot is fully booked")
	ErrSlotInPast      = errors.New("cannot book an appointment in the past")
	ErrNotASlot        = errors.New("the selected time is not a bookable slot for that date")
	ErrUnauthenticated = errors.New("authentication required")

	// ErrValidation marks malformed input; it is the same sentinel the
	// request validator wraps.
	ErrValidation = validation.ErrInvalid
)
