package scheduling

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/eyeclinic/clinic/internal/domain/identity"
	"github.com/eyeclinic/clinic/internal/platform/auth"
	"github.com/eyeclinic/clinic/internal/platform/checkout"
	"github.com/eyeclinic/clinic/internal/platform/db"
	"github.com/eyeclinic/clinic/internal/platform/notification"
	"github.com/eyeclinic/clinic/internal/platform/validation"
)

// PatientDirectory resolves and describes patients for booking and messages.
type PatientDirectory interface {
	ResolvePatient(ctx context.Context, info identity.PatientInfo) (uuid.UUID, error)
	Contact(ctx context.Context, patientID uuid.UUID) (notification.Recipient, error)
	CountPatients(ctx context.Context) (int, error)
}

// TreatmentRecorder books the revenue line for a walk-in consultation.
type TreatmentRecorder interface {
	RecordWalkIn(ctx context.Context, patientID, appointmentID uuid.UUID, amount float64, date time.Time) error
}

// Notifier sends a templated message to a patient or staff member.
type Notifier interface {
	Notify(ctx context.Context, templateID string, to notification.Recipient, data map[string]string)
}

// Publisher pushes appointment changes to connected staff screens.
type Publisher interface {
	Publish(ctx context.Context, topic, kind string, payload interface{})
}

// Live feed topic and event kinds.
const (
	TopicAppointments   = "appointments"
	EventBooked         = "appointment.booked"
	EventStatusChanged  = "appointment.status_changed"
	EventWalkIn         = "appointment.walk_in"
	EventPaymentSettled = "payment.completed"
)

// Config holds the clinic-wide scheduling settings.
type Config struct {
	Location        *time.Location
	ConsultationFee float64
	// GatewaySecret verifies online payment signatures.
	GatewaySecret string
}

// Reminder window relative to the scan time.
const (
	ReminderLeadMin = 7 * time.Hour
	ReminderLeadMax = 8 * time.Hour
)

type Service struct {
	appointments AppointmentRepository
	payments     PaymentRepository
	patients     PatientDirectory
	treatments   TreatmentRecorder
	tx           db.TxRunner
	notifier     Notifier
	events       Publisher
	gateway      checkout.Gateway
	cfg          Config
	now          func() time.Time
	logger       zerolog.Logger
}

func NewService(appt AppointmentRepository, pay PaymentRepository, patients PatientDirectory,
	treatments TreatmentRecorder, tx db.TxRunner, notifier Notifier, gateway checkout.Gateway,
	cfg Config, logger zerolog.Logger) *Service {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.ConsultationFee <= 0 {
		cfg.ConsultationFee = 500
	}
	return &Service{
		appointments: appt,
		payments:     pay,
		patients:     patients,
		treatments:   treatments,
		tx:           tx,
		notifier:     notifier,
		gateway:      gateway,
		cfg:          cfg,
		now:          time.Now,
		logger:       logger.With().Str("component", "scheduling").Logger(),
	}
}

// SetPublisher enables the live appointment feed.
func (s *Service) SetPublisher(p Publisher) { s.events = p }

// Location is the clinic's time zone.
func (s *Service) Location() *time.Location { return s.cfg.Location }

// Today is the current calendar date at the clinic.
func (s *Service) Today() time.Time { return DateOf(s.now(), s.cfg.Location) }

// -- Slots --

// AvailableSlots lists date's slots that still have room.
func (s *Service) AvailableSlots(ctx context.Context, date time.Time) ([]TimeOfDay, error) {
	bookings, err := s.appointments.ListBookings(ctx, date)
	if err != nil {
		return nil, fmt.Errorf("list bookings: %w", err)
	}
	return FilterAvailable(SlotsForDate(date), bookings), nil
}

// -- Booking --

type BookingRequest struct {
	FullName        string `json:"full_name" validate:"required,min=3,max=100"`
	MobileNumber    string `json:"mobile_number" validate:"required,mobile"`
	Email           string `json:"email" validate:"omitempty,email,max=120"`
	Age             int    `json:"age" validate:"required,min=1,max=120"`
	Sex             string `json:"sex" validate:"omitempty,max=10"`
	AppointmentDate string `json:"appointment_date" validate:"required,datetime=2006-01-02"`
	AppointmentTime string `json:"appointment_time" validate:"required"`
	PrimaryIssue    string `json:"primary_issue" validate:"max=500"`
	ReferralInfo    string `json:"referral_info" validate:"max=255"`
}

func (r BookingRequest) patientInfo() identity.PatientInfo {
	return identity.PatientInfo{
		FullName:     r.FullName,
		MobileNumber: r.MobileNumber,
		Email:        r.Email,
		Age:          r.Age,
		Sex:          r.Sex,
	}
}

// Book creates a scheduled appointment with a pending cash payment. The
// capacity check and the insert are not serialised, so two concurrent
// bookings can both pass the check for the last place in a slot.
func (s *Service) Book(ctx context.Context, req BookingRequest) (*Appointment, error) {
	if err := validation.Struct(req); err != nil {
		return nil, err
	}
	date, err := ParseDate(req.AppointmentDate)
	if err != nil {
		return nil, err
	}
	slot, err := ParseTimeOfDay(req.AppointmentTime)
	if err != nil {
		return nil, err
	}
	if !IsSlot(date, slot) {
		return nil, ErrNotASlot
	}
	if slot.On(date, s.cfg.Location).Before(s.now()) {
		return nil, ErrSlotInPast
	}

	var appt *Appointment
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		patientID, err := s.bookingPatient(ctx, req)
		if err != nil {
			return err
		}

		bookings, err := s.appointments.ListBookings(ctx, date)
		if err != nil {
			return fmt.Errorf("list bookings: %w", err)
		}
		if !HasCapacity(slot, bookings) {
			return ErrSlotUnavailable
		}

		appt = &Appointment{
			PatientID:       patientID,
			Date:            date,
			Time:            slot,
			PrimaryIssue:    optional(req.PrimaryIssue),
			ReferralInfo:    optional(req.ReferralInfo),
			Status:          StatusScheduled,
			ConsultationFee: s.cfg.ConsultationFee,
			PaymentStatus:   FlagPending,
		}
		if err := s.appointments.Create(ctx, appt); err != nil {
			return fmt.Errorf("create appointment: %w", err)
		}
		pay := &Payment{
			AppointmentID: appt.ID,
			Amount:        appt.ConsultationFee,
			Method:        MethodCash,
			Status:        PaymentPending,
		}
		if err := s.payments.Create(ctx, pay); err != nil {
			return fmt.Errorf("create payment: %w", err)
		}
		appt.Payment = pay

		booked := *appt
		db.AfterCommit(ctx, func(ctx context.Context) {
			s.notifyPatient(ctx, &booked, notification.AppointmentBooked, nil)
			s.publish(ctx, EventBooked, &booked)
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return appt, nil
}

// bookingPatient is the signed-in patient, or the patient found or created
// from the form.
func (s *Service) bookingPatient(ctx context.Context, req BookingRequest) (uuid.UUID, error) {
	if p, ok := auth.PrincipalFromContext(ctx); ok && p.Role == auth.RolePatient {
		id, err := uuid.Parse(p.Subject)
		if err == nil {
			return id, nil
		}
	}
	id, err := s.patients.ResolvePatient(ctx, req.patientInfo())
	if err != nil {
		return uuid.Nil, fmt.Errorf("resolve patient: %w", err)
	}
	return id, nil
}

// -- Reads --

func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	appt, err := s.appointments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeView(ctx, appt); err != nil {
		return nil, err
	}
	pay, err := s.payments.GetByAppointment(ctx, id)
	switch {
	case err == nil:
		appt.Payment = pay
	case !errors.Is(err, ErrPaymentNotFound):
		return nil, err
	}
	return appt, nil
}

// authorizeView lets staff see everything and patients only their own.
func (s *Service) authorizeView(ctx context.Context, appt *Appointment) error {
	actor, err := actorFromContext(ctx)
	if err != nil {
		return err
	}
	if actor.Role == auth.RolePatient && actor.ID != appt.PatientID {
		return &TransitionError{Reason: ReasonNotOwner, From: appt.Status}
	}
	return nil
}

func (s *Service) ListForPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Appointment, int, error) {
	return s.appointments.ListByPatient(ctx, patientID, limit, offset)
}

func (s *Service) SearchAppointments(ctx context.Context, params map[string]string, limit, offset int) ([]*Appointment, int, error) {
	if v, ok := params["status"]; ok && !Status(v).Valid() {
		return nil, 0, fmt.Errorf("%w: invalid status %q", ErrValidation, v)
	}
	for _, key := range []string{"date", "from", "to"} {
		if v, ok := params[key]; ok {
			if _, err := ParseDate(v); err != nil {
				return nil, 0, err
			}
		}
	}
	if v, ok := params["patient_id"]; ok {
		if _, err := uuid.Parse(v); err != nil {
			return nil, 0, fmt.Errorf("%w: invalid patient_id", ErrValidation)
		}
	}
	return s.appointments.Search(ctx, params, limit, offset)
}

// -- Transitions --

func actorFromContext(ctx context.Context) (Actor, error) {
	p, ok := auth.PrincipalFromContext(ctx)
	if !ok {
		return Actor{}, ErrUnauthenticated
	}
	// Non-uuid subjects (dev identities) can never own an appointment.
	id, _ := uuid.Parse(p.Subject)
	return Actor{ID: id, Role: p.Role}, nil
}

// Transition moves appointment id to target on behalf of the caller in ctx.
// The appointment and its payment are updated in one transaction; the
// patient is notified after commit.
func (s *Service) Transition(ctx context.Context, id uuid.UUID, target Status, reason string) (*Appointment, error) {
	if !target.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrValidation, target)
	}
	actor, err := actorFromContext(ctx)
	if err != nil {
		return nil, err
	}

	var appt *Appointment
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		a, err := s.appointments.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		eff, err := Decide(a, target, actor, s.now(), s.cfg.Location)
		if err != nil {
			return err
		}
		if err := s.apply(ctx, a, eff, reason); err != nil {
			return err
		}
		appt = a

		done := *a
		db.AfterCommit(ctx, func(ctx context.Context) {
			s.notifyPatient(ctx, &done, eff.Template, map[string]string{"reason": reason})
			s.publish(ctx, EventStatusChanged, &done)
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return appt, nil
}

// apply writes eff to a and, when it names one, to the paired payment. An
// appointment without a payment keeps its payment flag.
func (s *Service) apply(ctx context.Context, a *Appointment, eff Effect, reason string) error {
	pay, err := s.payments.GetByAppointment(ctx, a.ID)
	if err != nil && !errors.Is(err, ErrPaymentNotFound) {
		return fmt.Errorf("load payment: %w", err)
	}

	a.Status = eff.Status
	if pay != nil {
		a.PaymentStatus = eff.Flag
	}
	if eff.Status == StatusCancelled && reason != "" {
		a.CancellationReason = &reason
	}
	if err := s.appointments.Update(ctx, a); err != nil {
		return fmt.Errorf("update appointment: %w", err)
	}

	if pay == nil {
		return nil
	}
	if eff.PaymentState != "" && pay.Status != eff.PaymentState {
		pay.Status = eff.PaymentState
		if err := s.payments.Update(ctx, pay); err != nil {
			return fmt.Errorf("update payment: %w", err)
		}
	}
	a.Payment = pay
	return nil
}

// Cancel is Transition to cancelled.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID, reason string) (*Appointment, error) {
	return s.Transition(ctx, id, StatusCancelled, reason)
}

// CompleteAppointment marks id completed for the staff member in ctx and
// returns its patient. An appointment that is already completed is left as
// is, so a prescription can be rewritten.
func (s *Service) CompleteAppointment(ctx context.Context, id uuid.UUID) (uuid.UUID, error) {
	var patientID uuid.UUID
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		a, err := s.appointments.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		patientID = a.PatientID
		if a.Status == StatusCompleted {
			return nil
		}
		_, err = s.Transition(ctx, id, StatusCompleted, "")
		return err
	})
	return patientID, err
}

// -- Walk-ins --

type WalkInRequest struct {
	FullName     string `json:"full_name" validate:"required,min=3,max=100"`
	MobileNumber string `json:"mobile_number" validate:"required,mobile"`
	Email        string `json:"email" validate:"omitempty,email,max=120"`
	Age          int    `json:"age" validate:"required,min=1,max=120"`
	Sex          string `json:"sex" validate:"omitempty,max=10"`
	PrimaryIssue string `json:"primary_issue" validate:"max=500"`
}

// WalkIn records a patient seen without a booking: a completed, paid
// appointment at today's walk-in slot, its cash payment and the matching
// treatment line. The slot's capacity is not checked.
func (s *Service) WalkIn(ctx context.Context, req WalkInRequest) (*Appointment, error) {
	if err := validation.Struct(req); err != nil {
		return nil, err
	}
	now := s.now().In(s.cfg.Location)
	slot := AssignWalkInSlot(now)
	date := DateOf(now, s.cfg.Location)

	var appt *Appointment
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		patientID, err := s.patients.ResolvePatient(ctx, identity.PatientInfo{
			FullName:     req.FullName,
			MobileNumber: req.MobileNumber,
			Email:        req.Email,
			Age:          req.Age,
			Sex:          req.Sex,
		})
		if err != nil {
			return fmt.Errorf("resolve patient: %w", err)
		}

		appt = &Appointment{
			PatientID:       patientID,
			Date:            date,
			Time:            slot,
			PrimaryIssue:    optional(req.PrimaryIssue),
			Status:          StatusCompleted,
			ConsultationFee: s.cfg.ConsultationFee,
			PaymentStatus:   FlagPaid,
			WalkIn:          true,
		}
		if err := s.appointments.Create(ctx, appt); err != nil {
			return fmt.Errorf("create appointment: %w", err)
		}
		pay := &Payment{
			AppointmentID: appt.ID,
			Amount:        appt.ConsultationFee,
			Method:        MethodCash,
			Status:        PaymentCompleted,
		}
		if err := s.payments.Create(ctx, pay); err != nil {
			return fmt.Errorf("create payment: %w", err)
		}
		appt.Payment = pay

		if err := s.treatments.RecordWalkIn(ctx, patientID, appt.ID, appt.ConsultationFee, date); err != nil {
			return fmt.Errorf("record treatment: %w", err)
		}
		seen := *appt
		db.AfterCommit(ctx, func(ctx context.Context) { s.publish(ctx, EventWalkIn, &seen) })
		return nil
	})
	if err != nil {
		return nil, err
	}
	return appt, nil
}

// -- Reminders --

// SendReminders notifies patients whose confirmed appointment starts between
// 7 and 8 hours after now. Each appointment is reminded at most once.
func (s *Service) SendReminders(ctx context.Context, now time.Time) (int, error) {
	from := now.Add(ReminderLeadMin)
	to := now.Add(ReminderLeadMax)

	dates := []time.Time{DateOf(from, s.cfg.Location)}
	if last := DateOf(to, s.cfg.Location); !last.Equal(dates[0]) {
		dates = append(dates, last)
	}

	due, err := s.appointments.ListDueForReminder(ctx, dates)
	if err != nil {
		return 0, fmt.Errorf("list reminders: %w", err)
	}

	sent := 0
	for _, a := range due {
		at := a.StartsAt(s.cfg.Location)
		if at.Before(from) || at.After(to) {
			continue
		}
		s.notifyPatient(ctx, a, notification.AppointmentReminder, nil)
		if err := s.appointments.MarkReminded(ctx, a.ID, now); err != nil {
			s.logger.Error().Err(err).Str("appointment_id", a.ID.String()).Msg("failed to mark reminder sent")
			continue
		}
		sent++
	}
	return sent, nil
}

// SendReminder sends the reminder for one appointment immediately.
func (s *Service) SendReminder(ctx context.Context, id uuid.UUID) error {
	a, err := s.appointments.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if a.Status.Terminal() {
		return &TransitionError{Reason: ReasonInvalidState, From: a.Status, To: a.Status}
	}
	s.notifyPatient(ctx, a, notification.AppointmentReminder, nil)
	return nil
}

// -- Online payment --

// CreatePaymentOrder opens a gateway order for the appointment's pending
// payment and switches the payment to the online method.
func (s *Service) CreatePaymentOrder(ctx context.Context, id uuid.UUID) (*checkout.Order, error) {
	appt, err := s.GetAppointment(ctx, id)
	if err != nil {
		return nil, err
	}
	if appt.Status == StatusCancelled {
		return nil, &TransitionError{Reason: ReasonInvalidState, From: appt.Status, To: appt.Status}
	}
	pay := appt.Payment
	if pay == nil {
		return nil, ErrPaymentNotFound
	}
	if pay.Status != PaymentPending {
		return nil, ErrPaymentSettled
	}

	order, err := s.gateway.CreateOrder(ctx, appt.ID.String(), pay.Amount)
	if err != nil {
		return nil, err
	}
	pay.Method = MethodOnline
	pay.GatewayOrderID = &order.ID
	if err := s.payments.Update(ctx, pay); err != nil {
		return nil, fmt.Errorf("update payment: %w", err)
	}
	return order, nil
}

type PaymentVerification struct {
	OrderID   string `json:"razorpay_order_id" validate:"required"`
	PaymentID string `json:"razorpay_payment_id" validate:"required"`
	Signature string `json:"razorpay_signature" validate:"required"`
}

var ErrBadSignature = errors.New("payment signature does not match")

// VerifyPayment checks the gateway's signature for the order opened by
// CreatePaymentOrder and marks the payment completed. The appointment status
// is left for staff to confirm.
func (s *Service) VerifyPayment(ctx context.Context, id uuid.UUID, v PaymentVerification) (*Payment, error) {
	if err := validation.Struct(v); err != nil {
		return nil, err
	}
	if _, err := actorFromContext(ctx); err != nil {
		return nil, err
	}

	var pay *Payment
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		appt, err := s.appointments.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := s.authorizeView(ctx, appt); err != nil {
			return err
		}
		p, err := s.payments.GetByAppointment(ctx, id)
		if err != nil {
			return err
		}
		if p.GatewayOrderID == nil || *p.GatewayOrderID != v.OrderID {
			return ErrBadSignature
		}
		if !ValidSignature(v.OrderID, v.PaymentID, v.Signature, s.cfg.GatewaySecret) {
			return ErrBadSignature
		}
		if p.Status != PaymentPending {
			return ErrPaymentSettled
		}
		p.Status = PaymentCompleted
		p.TransactionID = &v.PaymentID
		if err := s.payments.Update(ctx, p); err != nil {
			return fmt.Errorf("update payment: %w", err)
		}
		appt.PaymentStatus = FlagPaid
		if err := s.appointments.Update(ctx, appt); err != nil {
			return fmt.Errorf("update appointment: %w", err)
		}
		pay = p
		paid := *appt
		paid.Payment = p
		db.AfterCommit(ctx, func(ctx context.Context) { s.publish(ctx, EventPaymentSettled, &paid) })
		return nil
	})
	return pay, err
}

// ValidSignature checks an HMAC-SHA256 of "order|payment" keyed with secret.
func ValidSignature(orderID, paymentID, signature, secret string) bool {
	if secret == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(orderID + "|" + paymentID))
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// -- Dashboard --

func (s *Service) Dashboard(ctx context.Context) (*DashboardStats, error) {
	today := s.Today()
	counts, err := s.appointments.Counts(ctx, today)
	if err != nil {
		return nil, fmt.Errorf("count appointments: %w", err)
	}
	patients, err := s.patients.CountPatients(ctx)
	if err != nil {
		return nil, fmt.Errorf("count patients: %w", err)
	}
	todays, _, err := s.appointments.Search(ctx, map[string]string{"date": today.Format(dateLayout)}, 100, 0)
	if err != nil {
		return nil, fmt.Errorf("list today's appointments: %w", err)
	}
	if todays == nil {
		todays = []*Appointment{}
	}
	return &DashboardStats{
		UpcomingScheduled: counts.UpcomingScheduled,
		TotalAppointments: counts.Total,
		TotalPatients:     patients,
		Today:             todays,
	}, nil
}

// -- helpers --

func (s *Service) notifyPatient(ctx context.Context, a *Appointment, templateID string, extra map[string]string) {
	if templateID == "" {
		return
	}
	to, err := s.patients.Contact(ctx, a.PatientID)
	if err != nil {
		s.logger.Warn().Err(err).Str("appointment_id", a.ID.String()).Msg("no contact for notification")
		return
	}
	data := map[string]string{
		"appointment_id": a.ID.String(),
		"date":           a.Date.Format("02 January, 2006"),
		"time":           a.Time.Kitchen(),
		"primary_issue":  deref(a.PrimaryIssue),
	}
	for k, v := range extra {
		data[k] = v
	}
	s.notifier.Notify(ctx, templateID, to, data)
}

func (s *Service) publish(ctx context.Context, kind string, a *Appointment) {
	if s.events == nil {
		return
	}
	s.events.Publish(ctx, TopicAppointments, kind, a)
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
