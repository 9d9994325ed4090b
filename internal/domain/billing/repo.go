package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Period bounds a report by calendar date. Zero values are open ends.
type Period struct {
	From time.Time
	To   time.Time
}

type TreatmentRepository interface {
	Create(ctx context.Context, t *Treatment) error
	List(ctx context.Context, p Period) ([]*Treatment, error)
}

type SalaryRepository interface {
	Create(ctx context.Context, s *Salary) error
	// List returns salaries newest first; a nil assistantID lists everyone's.
	List(ctx context.Context, assistantID *uuid.UUID) ([]*Salary, error)
}

// PaymentLedger reads settled consultation payments.
type PaymentLedger interface {
	CompletedPayments(ctx context.Context, p Period) ([]*PaymentLine, error)
}
