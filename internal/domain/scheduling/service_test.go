package scheduling

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/eyeclinic/clinic/internal/domain/identity"
	"github.com/eyeclinic/clinic/internal/platform/auth"
	"github.com/eyeclinic/clinic/internal/platform/checkout"
	"github.com/eyeclinic/clinic/internal/platform/db"
	"github.com/eyeclinic/clinic/internal/platform/db/dbtest"
	"github.com/eyeclinic/clinic/internal/platform/notification"
	"github.com/eyeclinic/clinic/internal/platform/validation"
)

// -- Mock Repositories --

type mockAppointmentRepo struct {
	mu       sync.Mutex
	store    map[uuid.UUID]*Appointment
	failNext error
}

func newMockAppointmentRepo() *mockAppointmentRepo {
	return &mockAppointmentRepo{store: make(map[uuid.UUID]*Appointment)}
}

func (m *mockAppointmentRepo) Create(_ context.Context, a *Appointment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	cp := *a
	m.store[a.ID] = &cp
	return nil
}

func (m *mockAppointmentRepo) GetByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.store[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *mockAppointmentRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return m.GetByID(ctx, id)
}

func (m *mockAppointmentRepo) Update(_ context.Context, a *Appointment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failNext != nil {
		err := m.failNext
		m.failNext = nil
		return err
	}
	if _, ok := m.store[a.ID]; !ok {
		return ErrNotFound
	}
	cp := *a
	cp.Payment = nil
	m.store[a.ID] = &cp
	return nil
}

func (m *mockAppointmentRepo) ListBookings(_ context.Context, date time.Time) ([]Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Booking
	for _, a := range m.store {
		if a.Date.Equal(date) && a.Status != StatusCancelled {
			out = append(out, a.Booking())
		}
	}
	return out, nil
}

func (m *mockAppointmentRepo) ListByPatient(_ context.Context, patientID uuid.UUID, limit, offset int) ([]*Appointment, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Appointment
	for _, a := range m.store {
		if a.PatientID == patientID {
			out = append(out, a)
		}
	}
	return out, len(out), nil
}

func (m *mockAppointmentRepo) Search(_ context.Context, params map[string]string, limit, offset int) ([]*Appointment, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Appointment
	for _, a := range m.store {
		if d, ok := params["date"]; ok && a.Date.Format(dateLayout) != d {
			continue
		}
		if s, ok := params["status"]; ok && string(a.Status) != s {
			continue
		}
		out = append(out, a)
	}
	return out, len(out), nil
}

func (m *mockAppointmentRepo) ListDueForReminder(_ context.Context, dates []time.Time) ([]*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Appointment
	for _, a := range m.store {
		if a.Status != StatusConfirmed || a.ReminderSentAt != nil {
			continue
		}
		for _, d := range dates {
			if a.Date.Equal(d) {
				cp := *a
				out = append(out, &cp)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Time < out[j].Time })
	return out, nil
}

func (m *mockAppointmentRepo) MarkReminded(_ context.Context, id uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.store[id].ReminderSentAt = &at
	return nil
}

func (m *mockAppointmentRepo) Counts(_ context.Context, today time.Time) (AppointmentCounts, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var c AppointmentCounts
	for _, a := range m.store {
		c.Total++
		if a.Status == StatusScheduled && !a.Date.Before(today) {
			c.UpcomingScheduled++
		}
	}
	return c, nil
}

type mockPaymentRepo struct {
	mu    sync.Mutex
	store map[uuid.UUID]*Payment
}

func newMockPaymentRepo() *mockPaymentRepo {
	return &mockPaymentRepo{store: make(map[uuid.UUID]*Payment)}
}

func (m *mockPaymentRepo) Create(_ context.Context, p *Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p.ID = uuid.New()
	cp := *p
	m.store[p.AppointmentID] = &cp
	return nil
}

func (m *mockPaymentRepo) GetByAppointment(_ context.Context, appointmentID uuid.UUID) (*Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.store[appointmentID]
	if !ok {
		return nil, ErrPaymentNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *mockPaymentRepo) Update(_ context.Context, p *Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.store[p.AppointmentID] = &cp
	return nil
}

type mockDirectory struct {
	byMobile map[string]uuid.UUID
	contacts map[uuid.UUID]notification.Recipient
}

func newMockDirectory() *mockDirectory {
	return &mockDirectory{byMobile: map[string]uuid.UUID{}, contacts: map[uuid.UUID]notification.Recipient{}}
}

func (d *mockDirectory) ResolvePatient(_ context.Context, info identity.PatientInfo) (uuid.UUID, error) {
	if id, ok := d.byMobile[info.MobileNumber]; ok {
		return id, nil
	}
	id := uuid.New()
	d.byMobile[info.MobileNumber] = id
	d.contacts[id] = notification.Recipient{Name: info.FullName, Email: info.Email, Mobile: info.MobileNumber}
	return id, nil
}

// Contact fails like a pgx read through a finished transaction.
func (d *mockDirectory) Contact(ctx context.Context, id uuid.UUID) (notification.Recipient, error) {
	if tx, ok := db.TxFromContext(ctx).(*dbtest.Tx); ok && tx.Closed() {
		return notification.Recipient{}, pgx.ErrTxClosed
	}
	r, ok := d.contacts[id]
	if !ok {
		return notification.Recipient{}, errors.New("no such patient")
	}
	return r, nil
}

func (d *mockDirectory) CountPatients(_ context.Context) (int, error) { return len(d.contacts), nil }

type treatmentCall struct {
	patientID, appointmentID uuid.UUID
	amount                   float64
}

type mockTreatments struct{ calls []treatmentCall }

func (m *mockTreatments) RecordWalkIn(_ context.Context, patientID, appointmentID uuid.UUID, amount float64, _ time.Time) error {
	m.calls = append(m.calls, treatmentCall{patientID, appointmentID, amount})
	return nil
}

type notice struct {
	template string
	to       notification.Recipient
	data     map[string]string
}

type mockNotifier struct {
	mu   sync.Mutex
	sent []notice
}

func (n *mockNotifier) Notify(_ context.Context, id string, to notification.Recipient, data map[string]string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, notice{id, to, data})
}

func (n *mockNotifier) templates() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, len(n.sent))
	for i, s := range n.sent {
		out[i] = s.template
	}
	return out
}

type fakeGateway struct{ orders int }

func (g *fakeGateway) CreateOrder(_ context.Context, receipt string, amount float64) (*checkout.Order, error) {
	g.orders++
	return &checkout.Order{ID: "order_test1", Amount: checkout.ToPaise(amount), Currency: "INR", Receipt: receipt}, nil
}

// -- Fixture --

const testSecret = "rzp_secret"

type fixture struct {
	svc        *Service
	appts      *mockAppointmentRepo
	payments   *mockPaymentRepo
	patients   *mockDirectory
	treatments *mockTreatments
	notes      *mockNotifier
	gateway    *fakeGateway
	tx         *dbtest.Beginner
	now        time.Time
}

// newFixture pins the clock to Monday 3 June 2024, 09:00 IST.
func newFixture() *fixture {
	f := &fixture{
		appts:      newMockAppointmentRepo(),
		payments:   newMockPaymentRepo(),
		patients:   newMockDirectory(),
		treatments: &mockTreatments{},
		notes:      &mockNotifier{},
		gateway:    &fakeGateway{},
		tx:         &dbtest.Beginner{},
		now:        time.Date(2024, 6, 3, 9, 0, 0, 0, testLoc),
	}
	f.svc = NewService(f.appts, f.payments, f.patients, f.treatments, db.NewTxManager(f.tx), f.notes, f.gateway,
		Config{Location: testLoc, ConsultationFee: 500, GatewaySecret: testSecret}, zerolog.Nop())
	f.svc.now = func() time.Time { return f.now }
	return f
}

func as(role auth.Role, id uuid.UUID) context.Context {
	return auth.WithPrincipal(context.Background(), auth.Principal{Subject: id.String(), Role: role})
}

func staffCtx() context.Context { return as(auth.RoleAssistant, uuid.New()) }

func booking(date, at, mobile string) BookingRequest {
	return BookingRequest{
		FullName:        "Asha Rao",
		MobileNumber:    mobile,
		Email:           "asha@example.com",
		Age:             40,
		AppointmentDate: date,
		AppointmentTime: at,
		PrimaryIssue:    "blurred vision",
	}
}

// -- Booking --

func TestBook_CreatesAppointmentAndPayment(t *testing.T) {
	f := newFixture()
	appt, err := f.svc.Book(context.Background(), booking("2024-06-04", "17:30", "9876543210"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if appt.Status != StatusScheduled || appt.PaymentStatus != FlagPending || appt.ConsultationFee != 500 {
		t.Errorf("unexpected appointment %+v", appt)
	}
	pay, err := f.payments.GetByAppointment(context.Background(), appt.ID)
	if err != nil {
		t.Fatalf("payment: %v", err)
	}
	if pay.Status != PaymentPending || pay.Method != MethodCash || pay.Amount != 500 {
		t.Errorf("unexpected payment %+v", pay)
	}
	if got := f.notes.templates(); len(got) != 1 || got[0] != notification.AppointmentBooked {
		t.Errorf("expected booking notice, got %v", got)
	}
	if f.notes.sent[0].data["time"] != "05:30 PM" || f.notes.sent[0].data["date"] != "04 June, 2024" {
		t.Errorf("unexpected notice data %v", f.notes.sent[0].data)
	}
}

func TestBook_SignedInPatientIsUsed(t *testing.T) {
	f := newFixture()
	me := uuid.New()
	appt, err := f.svc.Book(as(auth.RolePatient, me), booking("2024-06-04", "17:30", "9876543210"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if appt.PatientID != me {
		t.Errorf("expected patient %s, got %s", me, appt.PatientID)
	}
}

func TestBook_SlotFull(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	for i, mobile := range []string{"9000000001", "9000000002", "9000000003"} {
		if _, err := f.svc.Book(ctx, booking("2024-06-04", "18:00", mobile)); err != nil {
			t.Fatalf("booking %d: %v", i, err)
		}
	}
	_, err := f.svc.Book(ctx, booking("2024-06-04", "18:00", "9000000004"))
	if !errors.Is(err, ErrSlotUnavailable) {
		t.Fatalf("expected ErrSlotUnavailable, got %v", err)
	}

	slots, _ := f.svc.AvailableSlots(ctx, mustDate(t, "2024-06-04"))
	for _, s := range slots {
		if s == NewTimeOfDay(18, 0) {
			t.Error("full slot still listed")
		}
	}
	if len(slots) != 6 {
		t.Errorf("expected 6 open slots, got %d", len(slots))
	}
}

func TestBook_CancelledFreesCapacity(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	var first *Appointment
	for i, mobile := range []string{"9000000001", "9000000002", "9000000003"} {
		a, err := f.svc.Book(ctx, booking("2024-06-04", "18:00", mobile))
		if err != nil {
			t.Fatalf("booking %d: %v", i, err)
		}
		if first == nil {
			first = a
		}
	}
	if _, err := f.svc.Cancel(staffCtx(), first.ID, "duplicate"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := f.svc.Book(ctx, booking("2024-06-04", "18:00", "9000000004")); err != nil {
		t.Errorf("expected freed slot, got %v", err)
	}
}

func TestBook_Rejections(t *testing.T) {
	tests := []struct {
		name string
		req  BookingRequest
		want error
	}{
		{"not a slot", booking("2024-06-04", "17:15", "9876543210"), ErrNotASlot},
		{"outside window", booking("2024-06-04", "10:00", "9876543210"), ErrNotASlot},
		{"sunday evening", booking("2024-06-09", "17:00", "9876543210"), ErrNotASlot},
		{"in the past", booking("2024-06-02", "10:00", "9876543210"), ErrSlotInPast},
		{"bad time", booking("2024-06-04", "evening", "9876543210"), ErrValidation},
		{"bad mobile", booking("2024-06-04", "17:00", "12"), validation.ErrInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			_, err := f.svc.Book(context.Background(), tt.req)
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
			if len(f.appts.store) != 0 {
				t.Error("nothing should be written")
			}
		})
	}
}

// -- Transitions --

func bookFor(t *testing.T, f *fixture, patient uuid.UUID, date, at string) *Appointment {
	t.Helper()
	a, err := f.svc.Book(as(auth.RolePatient, patient), booking(date, at, "9876543210"))
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	f.patients.contacts[patient] = notification.Recipient{Name: "Asha Rao", Email: "asha@example.com"}
	f.notes.sent = nil
	return a
}

func TestTransition_StaffConfirmSyncsPayment(t *testing.T) {
	f := newFixture()
	appt := bookFor(t, f, uuid.New(), "2024-06-04", "17:00")

	got, err := f.svc.Transition(staffCtx(), appt.ID, StatusConfirmed, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != StatusConfirmed || got.PaymentStatus != FlagPaid {
		t.Errorf("unexpected appointment %+v", got)
	}
	pay, _ := f.payments.GetByAppointment(context.Background(), appt.ID)
	if pay.Status != PaymentCompleted {
		t.Errorf("expected completed payment, got %s", pay.Status)
	}
	if tpl := f.notes.templates(); len(tpl) != 1 || tpl[0] != notification.AppointmentConfirmed {
		t.Errorf("unexpected notices %v", tpl)
	}
}

type published struct {
	topic, kind string
	appt        *Appointment
}

type mockPublisher struct{ events []published }

func (m *mockPublisher) Publish(_ context.Context, topic, kind string, payload interface{}) {
	m.events = append(m.events, published{topic, kind, payload.(*Appointment)})
}

func TestLiveFeed(t *testing.T) {
	f := newFixture()
	pub := &mockPublisher{}
	f.svc.SetPublisher(pub)

	appt, err := f.svc.Book(context.Background(), booking("2024-06-04", "17:30", "9876543210"))
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	if _, err := f.svc.Transition(staffCtx(), appt.ID, StatusConfirmed, ""); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if _, err := f.svc.Transition(staffCtx(), appt.ID, StatusConfirmed, ""); err == nil {
		t.Fatal("expected repeated confirm to fail")
	}

	if len(pub.events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(pub.events))
	}
	if pub.events[0].kind != EventBooked || pub.events[1].kind != EventStatusChanged {
		t.Errorf("unexpected kinds %s, %s", pub.events[0].kind, pub.events[1].kind)
	}
	if pub.events[1].topic != TopicAppointments || pub.events[1].appt.Status != StatusConfirmed {
		t.Errorf("unexpected event %+v", pub.events[1])
	}
}

func TestTransition_NotifiesPatientAfterCommit(t *testing.T) {
	f := newFixture()
	appt, err := f.svc.Book(context.Background(), booking("2024-06-04", "17:30", "9876543210"))
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	if _, err := f.svc.Transition(staffCtx(), appt.ID, StatusConfirmed, ""); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	if f.tx.Commits() != 2 {
		t.Errorf("expected 2 commits, got %d", f.tx.Commits())
	}
	tpl := f.notes.templates()
	if len(tpl) != 2 || tpl[0] != notification.AppointmentBooked || tpl[1] != notification.AppointmentConfirmed {
		t.Fatalf("expected booked and confirmed notices, got %v", tpl)
	}
	if to := f.notes.sent[1].to; to.Email != "asha@example.com" {
		t.Errorf("expected the patient's contact, got %+v", to)
	}
}

func TestBook_FailedCommitSendsNothing(t *testing.T) {
	f := newFixture()
	pub := &mockPublisher{}
	f.svc.SetPublisher(pub)
	f.tx.CommitErr = errors.New("could not serialize access")

	if _, err := f.svc.Book(context.Background(), booking("2024-06-04", "17:30", "9876543210")); err == nil {
		t.Fatal("expected commit error")
	}
	if len(f.notes.sent) != 0 || len(pub.events) != 0 {
		t.Errorf("expected no notice or event, got %d and %d", len(f.notes.sent), len(pub.events))
	}
}

func TestTransition_StorageErrorPublishesNothing(t *testing.T) {
	f := newFixture()
	appt := bookFor(t, f, uuid.New(), "2024-06-04", "17:00")
	pub := &mockPublisher{}
	f.svc.SetPublisher(pub)
	sent := len(f.notes.sent)
	f.appts.failNext = errors.New("connection reset")

	if _, err := f.svc.Transition(staffCtx(), appt.ID, StatusCancelled, "doctor away"); err == nil {
		t.Fatal("expected storage error")
	}
	if len(f.notes.sent) != sent || len(pub.events) != 0 {
		t.Errorf("rolled back transition must not notify or publish")
	}
}

func TestTransition_PatientCancel(t *testing.T) {
	f := newFixture()
	me := uuid.New()
	appt := bookFor(t, f, me, "2024-06-05", "17:00")

	got, err := f.svc.Cancel(as(auth.RolePatient, me), appt.ID, "travelling")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != StatusCancelled || got.PaymentStatus != FlagCancelled {
		t.Errorf("unexpected appointment %+v", got)
	}
	if got.CancellationReason == nil || *got.CancellationReason != "travelling" {
		t.Error("expected cancellation reason")
	}
	pay, _ := f.payments.GetByAppointment(context.Background(), appt.ID)
	if pay.Status != PaymentCancelled {
		t.Errorf("expected cancelled payment, got %s", pay.Status)
	}
}

func TestTransition_PatientTooLateLeavesStateUntouched(t *testing.T) {
	f := newFixture()
	me := uuid.New()
	// Tomorrow 17:00 is 32h away; move the clock to 2h before.
	appt := bookFor(t, f, me, "2024-06-04", "17:00")
	f.now = time.Date(2024, 6, 4, 15, 0, 0, 0, testLoc)

	_, err := f.svc.Cancel(as(auth.RolePatient, me), appt.ID, "")
	if r := reasonOf(t, err); r != ReasonTooLate {
		t.Fatalf("expected too_late, got %s", r)
	}
	stored, _ := f.appts.GetByID(context.Background(), appt.ID)
	if stored.Status != StatusScheduled || stored.PaymentStatus != FlagPending {
		t.Errorf("state changed: %+v", stored)
	}
	if len(f.notes.sent) != 0 {
		t.Error("no notice expected")
	}
}

func TestTransition_OtherPatient(t *testing.T) {
	f := newFixture()
	appt := bookFor(t, f, uuid.New(), "2024-06-06", "17:00")
	_, err := f.svc.Cancel(as(auth.RolePatient, uuid.New()), appt.ID, "")
	if r := reasonOf(t, err); r != ReasonNotOwner {
		t.Errorf("expected not_owner, got %s", r)
	}
}

func TestTransition_WithoutPayment(t *testing.T) {
	f := newFixture()
	appt := &Appointment{
		PatientID: uuid.New(), Date: mustDate(t, "2024-06-04"), Time: NewTimeOfDay(17, 0),
		Status: StatusScheduled, PaymentStatus: FlagPending,
	}
	f.appts.Create(context.Background(), appt)

	got, err := f.svc.Transition(staffCtx(), appt.ID, StatusConfirmed, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != StatusConfirmed || got.PaymentStatus != FlagPending || got.Payment != nil {
		t.Errorf("unexpected appointment %+v", got)
	}
	stored, _ := f.appts.GetByID(context.Background(), appt.ID)
	if stored.PaymentStatus != FlagPending {
		t.Errorf("flag must not claim a payment that does not exist, got %s", stored.PaymentStatus)
	}
}

func TestTransition_StorageErrorIsReturned(t *testing.T) {
	f := newFixture()
	appt := bookFor(t, f, uuid.New(), "2024-06-04", "17:00")
	boom := errors.New("connection reset")
	f.appts.failNext = boom

	_, err := f.svc.Transition(staffCtx(), appt.ID, StatusConfirmed, "")
	if !errors.Is(err, boom) {
		t.Fatalf("expected storage error, got %v", err)
	}
	pay, _ := f.payments.GetByAppointment(context.Background(), appt.ID)
	if pay.Status != PaymentPending {
		t.Error("payment must not change when the appointment write fails")
	}
	if len(f.notes.sent) != 0 {
		t.Error("no notice expected")
	}
	if f.tx.Rollbacks() != 1 {
		t.Errorf("expected the transition to roll back, got %d rollbacks", f.tx.Rollbacks())
	}
}

func TestTransition_Unauthenticated(t *testing.T) {
	f := newFixture()
	appt := bookFor(t, f, uuid.New(), "2024-06-04", "17:00")
	if _, err := f.svc.Transition(context.Background(), appt.ID, StatusConfirmed, ""); !errors.Is(err, ErrUnauthenticated) {
		t.Errorf("expected ErrUnauthenticated, got %v", err)
	}
}

func TestTransition_UnknownStatus(t *testing.T) {
	f := newFixture()
	if _, err := f.svc.Transition(staffCtx(), uuid.New(), "archived", ""); !errors.Is(err, ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}
}

func TestCompleteAppointment_Idempotent(t *testing.T) {
	f := newFixture()
	patient := uuid.New()
	appt := bookFor(t, f, patient, "2024-06-04", "17:00")

	got, err := f.svc.CompleteAppointment(staffCtx(), appt.ID)
	if err != nil || got != patient {
		t.Fatalf("complete: %v %s", err, got)
	}
	if _, err := f.svc.CompleteAppointment(staffCtx(), appt.ID); err != nil {
		t.Fatalf("second complete: %v", err)
	}
	if tpl := f.notes.templates(); len(tpl) != 1 || tpl[0] != notification.AppointmentCompleted {
		t.Errorf("expected one completion notice, got %v", tpl)
	}
}

// -- Walk-ins --

func TestWalkIn(t *testing.T) {
	f := newFixture()
	f.now = time.Date(2024, 6, 3, 18, 40, 0, 0, testLoc)

	appt, err := f.svc.WalkIn(staffCtx(), WalkInRequest{FullName: "Ravi Kumar", MobileNumber: "9123456780", Age: 61})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if appt.Time != NewTimeOfDay(18, 30) || appt.Date.Format(dateLayout) != "2024-06-03" {
		t.Errorf("unexpected slot %s %s", appt.Date.Format(dateLayout), appt.Time)
	}
	if appt.Status != StatusCompleted || appt.PaymentStatus != FlagPaid || !appt.WalkIn {
		t.Errorf("unexpected appointment %+v", appt)
	}
	pay, _ := f.payments.GetByAppointment(context.Background(), appt.ID)
	if pay.Status != PaymentCompleted || pay.Method != MethodCash {
		t.Errorf("unexpected payment %+v", pay)
	}
	if len(f.treatments.calls) != 1 || f.treatments.calls[0].amount != 500 {
		t.Errorf("unexpected treatments %+v", f.treatments.calls)
	}
}

func TestWalkIn_IgnoresCapacity(t *testing.T) {
	f := newFixture()
	f.now = time.Date(2024, 6, 3, 17, 10, 0, 0, testLoc)
	for i := 0; i < SlotCapacity+1; i++ {
		if _, err := f.svc.WalkIn(staffCtx(), WalkInRequest{FullName: "Walk In", MobileNumber: "9123456780", Age: 30}); err != nil {
			t.Fatalf("walk-in %d: %v", i, err)
		}
	}
}

// -- Reminders --

func TestSendReminders_Window(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	mk := func(date string, at TimeOfDay, status Status) *Appointment {
		a := &Appointment{PatientID: uuid.New(), Date: mustDate(t, date), Time: at, Status: status}
		f.appts.Create(ctx, a)
		f.patients.contacts[a.PatientID] = notification.Recipient{Name: "P", Mobile: "9000000000"}
		return a
	}
	// Scan at 10:00 covers 17:00 through 18:00 the same day.
	inWindow := mk("2024-06-03", NewTimeOfDay(17, 30), StatusConfirmed)
	mk("2024-06-03", NewTimeOfDay(18, 30), StatusConfirmed)
	mk("2024-06-03", NewTimeOfDay(17, 0), StatusScheduled)
	mk("2024-06-04", NewTimeOfDay(17, 30), StatusConfirmed)

	now := time.Date(2024, 6, 3, 10, 0, 0, 0, testLoc)
	n, err := f.svc.SendReminders(ctx, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 reminder, got %d", n)
	}
	if f.notes.sent[0].template != notification.AppointmentReminder {
		t.Errorf("unexpected template %s", f.notes.sent[0].template)
	}
	if f.notes.sent[0].data["appointment_id"] != inWindow.ID.String() {
		t.Error("reminded the wrong appointment")
	}

	// A second scan in the same window does not repeat the reminder.
	n, _ = f.svc.SendReminders(ctx, now.Add(20*time.Minute))
	if n != 0 {
		t.Errorf("expected no repeat, got %d", n)
	}
}

func TestSendReminders_WindowAcrossMidnight(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	a := &Appointment{PatientID: uuid.New(), Date: mustDate(t, "2024-06-09"), Time: NewTimeOfDay(0, 15), Status: StatusConfirmed}
	f.appts.Create(ctx, a)
	f.patients.contacts[a.PatientID] = notification.Recipient{Name: "P", Email: "p@example.com"}

	// Saturday 16:30 scans 23:30 Saturday through 00:30 Sunday.
	n, err := f.svc.SendReminders(ctx, time.Date(2024, 6, 8, 16, 30, 0, 0, testLoc))
	if err != nil || n != 1 {
		t.Errorf("expected 1 reminder, got %d %v", n, err)
	}
}

func TestSendReminder_Terminal(t *testing.T) {
	f := newFixture()
	a := &Appointment{PatientID: uuid.New(), Date: mustDate(t, "2024-06-04"), Time: NewTimeOfDay(17, 0), Status: StatusCancelled}
	f.appts.Create(context.Background(), a)
	err := f.svc.SendReminder(staffCtx(), a.ID)
	if r := reasonOf(t, err); r != ReasonInvalidState {
		t.Errorf("expected invalid_state, got %s", r)
	}
}

// -- Online payment --

func sign(order, payment string) string {
	mac := hmac.New(sha256.New, []byte(testSecret))
	mac.Write([]byte(order + "|" + payment))
	return hex.EncodeToString(mac.Sum(nil))
}

func TestOnlinePayment(t *testing.T) {
	f := newFixture()
	me := uuid.New()
	appt := bookFor(t, f, me, "2024-06-04", "17:00")
	ctx := as(auth.RolePatient, me)

	order, err := f.svc.CreatePaymentOrder(ctx, appt.ID)
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if order.Amount != 50000 {
		t.Errorf("expected 50000 paise, got %d", order.Amount)
	}
	pay, _ := f.payments.GetByAppointment(ctx, appt.ID)
	if pay.Method != MethodOnline || pay.GatewayOrderID == nil || *pay.GatewayOrderID != order.ID {
		t.Errorf("unexpected payment %+v", pay)
	}

	bad := PaymentVerification{OrderID: order.ID, PaymentID: "pay_1", Signature: "deadbeef"}
	if _, err := f.svc.VerifyPayment(ctx, appt.ID, bad); !errors.Is(err, ErrBadSignature) {
		t.Errorf("expected ErrBadSignature, got %v", err)
	}

	good := PaymentVerification{OrderID: order.ID, PaymentID: "pay_1", Signature: sign(order.ID, "pay_1")}
	pay, err = f.svc.VerifyPayment(ctx, appt.ID, good)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if pay.Status != PaymentCompleted || pay.TransactionID == nil || *pay.TransactionID != "pay_1" {
		t.Errorf("unexpected payment %+v", pay)
	}
	stored, _ := f.appts.GetByID(ctx, appt.ID)
	if stored.PaymentStatus != FlagPaid || stored.Status != StatusScheduled {
		t.Errorf("unexpected appointment %+v", stored)
	}

	if _, err := f.svc.CreatePaymentOrder(ctx, appt.ID); !errors.Is(err, ErrPaymentSettled) {
		t.Errorf("expected ErrPaymentSettled, got %v", err)
	}
}

func TestCreatePaymentOrder_OtherPatient(t *testing.T) {
	f := newFixture()
	appt := bookFor(t, f, uuid.New(), "2024-06-04", "17:00")
	_, err := f.svc.CreatePaymentOrder(as(auth.RolePatient, uuid.New()), appt.ID)
	if r := reasonOf(t, err); r != ReasonNotOwner {
		t.Errorf("expected not_owner, got %s", r)
	}
	if f.gateway.orders != 0 {
		t.Error("no order should be created")
	}
}

func TestValidSignature_EmptySecret(t *testing.T) {
	if ValidSignature("o", "p", sign("o", "p"), "") {
		t.Error("empty secret must never validate")
	}
}

// -- Dashboard --

func TestDashboard(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.svc.Book(ctx, booking("2024-06-03", "17:00", "9000000001"))
	f.svc.Book(ctx, booking("2024-06-04", "17:00", "9000000002"))
	old := &Appointment{PatientID: uuid.New(), Date: mustDate(t, "2024-05-01"), Time: NewTimeOfDay(17, 0), Status: StatusScheduled}
	f.appts.Create(ctx, old)

	stats, err := f.svc.Dashboard(staffCtx())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.TotalAppointments != 3 || stats.UpcomingScheduled != 2 || stats.TotalPatients != 2 {
		t.Errorf("unexpected stats %+v", stats)
	}
	if len(stats.Today) != 1 {
		t.Errorf("expected 1 appointment today, got %d", len(stats.Today))
	}
}
