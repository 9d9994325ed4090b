package billing

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/eyeclinic/clinic/internal/platform/notification"
	"github.com/eyeclinic/clinic/internal/platform/validation"
)

// StaffDirectory resolves where a staff member's messages go.
type StaffDirectory interface {
	StaffContact(ctx context.Context, id uuid.UUID) (notification.Recipient, error)
}

type Notifier interface {
	Notify(ctx context.Context, templateID string, to notification.Recipient, data map[string]string)
}

type Service struct {
	treatments TreatmentRepository
	salaries   SalaryRepository
	payments   PaymentLedger
	staff      StaffDirectory
	notifier   Notifier
	logger     zerolog.Logger
}

func NewService(treatments TreatmentRepository, salaries SalaryRepository, payments PaymentLedger,
	staff StaffDirectory, notifier Notifier, logger zerolog.Logger) *Service {
	return &Service{
		treatments: treatments,
		salaries:   salaries,
		payments:   payments,
		staff:      staff,
		notifier:   notifier,
		logger:     logger.With().Str("component", "billing").Logger(),
	}
}

func parseDate(field, s string) (time.Time, error) {
	d, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, &validation.Error{Fields: map[string]string{field: "must be a date in YYYY-MM-DD format"}}
	}
	return d, nil
}

// -- Treatments --

// RecordWalkIn books the consultation line for a walk-in appointment. It
// runs inside the caller's transaction when there is one.
func (s *Service) RecordWalkIn(ctx context.Context, patientID, appointmentID uuid.UUID, amount float64, date time.Time) error {
	notes := "Walk-in patient"
	return s.treatments.Create(ctx, &Treatment{
		PatientID:     patientID,
		AppointmentID: &appointmentID,
		Name:          WalkInTreatment,
		Date:          date,
		Amount:        amount,
		Notes:         &notes,
	})
}

type TreatmentRequest struct {
	PatientID     uuid.UUID `json:"patient_id" validate:"required"`
	TreatmentName string    `json:"treatment_name" validate:"required,max=200"`
	TreatmentDate string    `json:"treatment_date" validate:"required"`
	Amount        float64   `json:"amount" validate:"required,gt=0"`
	Notes         string    `json:"notes" validate:"max=2000"`
}

func (s *Service) AddTreatment(ctx context.Context, req TreatmentRequest) (*Treatment, error) {
	if err := validation.Struct(req); err != nil {
		return nil, err
	}
	date, err := parseDate("treatment_date", req.TreatmentDate)
	if err != nil {
		return nil, err
	}
	t := &Treatment{
		PatientID: req.PatientID,
		Name:      req.TreatmentName,
		Date:      date,
		Amount:    req.Amount,
	}
	if req.Notes != "" {
		t.Notes = &req.Notes
	}
	if err := s.treatments.Create(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// Revenue reports settled payments and treatments within p.
func (s *Service) Revenue(ctx context.Context, p Period) (*Revenue, error) {
	if !p.From.IsZero() && !p.To.IsZero() && p.To.Before(p.From) {
		return nil, fmt.Errorf("%w: to is before from", validation.ErrInvalid)
	}
	payments, err := s.payments.CompletedPayments(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("load payments: %w", err)
	}
	treatments, err := s.treatments.List(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("load treatments: %w", err)
	}

	rev := &Revenue{Payments: payments, Treatments: treatments}
	if rev.Payments == nil {
		rev.Payments = []*PaymentLine{}
	}
	if rev.Treatments == nil {
		rev.Treatments = []*Treatment{}
	}
	for _, pay := range payments {
		rev.AppointmentTotal += pay.Amount
	}
	for _, t := range treatments {
		if t.AppointmentID == nil {
			rev.TreatmentTotal += t.Amount
		}
	}
	rev.Total = rev.AppointmentTotal + rev.TreatmentTotal
	return rev, nil
}

// -- Salaries --

type SalaryRequest struct {
	AssistantID   uuid.UUID `json:"assistant_id" validate:"required"`
	Amount        float64   `json:"amount" validate:"required,gt=0"`
	PaymentDate   string    `json:"payment_date" validate:"required"`
	PaymentMethod string    `json:"payment_method" validate:"required,oneof=bank_transfer cash upi online other"`
	TransactionID string    `json:"transaction_id" validate:"max=100"`
	Description   string    `json:"description" validate:"max=500"`
}

// RecordSalary stores a completed salary payment and emails the assistant a
// receipt. A failed receipt does not undo the payment.
func (s *Service) RecordSalary(ctx context.Context, req SalaryRequest) (*Salary, error) {
	if err := validation.Struct(req); err != nil {
		return nil, err
	}
	date, err := parseDate("payment_date", req.PaymentDate)
	if err != nil {
		return nil, err
	}
	sal := &Salary{
		AssistantID:   req.AssistantID,
		Amount:        req.Amount,
		PaymentDate:   date,
		PaymentMethod: req.PaymentMethod,
		Status:        SalaryCompleted,
	}
	if req.TransactionID != "" {
		sal.TransactionID = &req.TransactionID
	}
	if req.Description != "" {
		sal.Description = &req.Description
	}
	if err := s.salaries.Create(ctx, sal); err != nil {
		return nil, err
	}
	s.sendReceipt(ctx, sal)
	return sal, nil
}

func (s *Service) sendReceipt(ctx context.Context, sal *Salary) {
	to, err := s.staff.StaffContact(ctx, sal.AssistantID)
	if err != nil {
		s.logger.Error().Err(err).Str("salary_id", sal.ID.String()).Msg("salary receipt: contact lookup failed")
		return
	}
	description := ""
	if sal.Description != nil {
		description = *sal.Description
	}
	s.notifier.Notify(ctx, notification.SalaryReceipt, to, map[string]string{
		"staff_name":     to.Name,
		"amount":         strconv.FormatFloat(sal.Amount, 'f', 2, 64),
		"payment_date":   sal.PaymentDate.Format(dateLayout),
		"payment_method": sal.PaymentMethod,
		"description":    description,
	})
}

func (s *Service) ListSalaries(ctx context.Context, assistantID *uuid.UUID) ([]*Salary, error) {
	return s.salaries.List(ctx, assistantID)
}
