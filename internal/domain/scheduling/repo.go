package scheduling

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type AppointmentRepository interface {
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	// GetForUpdate locks the row until the surrounding transaction ends.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Appointment, error)
	Update(ctx context.Context, a *Appointment) error
	// ListBookings returns the non-cancelled bookings on date.
	ListBookings(ctx context.Context, date time.Time) ([]Booking, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Appointment, int, error)
	Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Appointment, int, error)
	// ListDueForReminder returns confirmed appointments on the given dates that
	// have not been reminded yet.
	ListDueForReminder(ctx context.Context, dates []time.Time) ([]*Appointment, error)
	MarkReminded(ctx context.Context, id uuid.UUID, at time.Time) error
	Counts(ctx context.Context, today time.Time) (AppointmentCounts, error)
}

type PaymentRepository interface {
	Create(ctx context.Context, p *Payment) error
	// GetByAppointment returns ErrPaymentNotFound when the appointment has no payment.
	GetByAppointment(ctx context.Context, appointmentID uuid.UUID) (*Payment, error)
	Update(ctx context.Context, p *Payment) error
}
