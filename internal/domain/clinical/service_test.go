package clinical

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/eyeclinic/clinic/internal/domain/scheduling"
	"github.com/eyeclinic/clinic/internal/platform/auth"
	"github.com/eyeclinic/clinic/internal/platform/db"
	"github.com/eyeclinic/clinic/internal/platform/db/dbtest"
	"github.com/eyeclinic/clinic/internal/platform/validation"
)

// -- Mock Repositories --

type mockRecordRepo struct {
	byAppt map[uuid.UUID]*MedicalRecord
}

func newMockRecordRepo() *mockRecordRepo {
	return &mockRecordRepo{byAppt: make(map[uuid.UUID]*MedicalRecord)}
}

func (m *mockRecordRepo) Upsert(_ context.Context, r *MedicalRecord) error {
	if prev, ok := m.byAppt[r.AppointmentID]; ok {
		r.ID = prev.ID
		r.CreatedAt = prev.CreatedAt
	} else {
		r.ID = uuid.New()
		r.CreatedAt = time.Now()
	}
	r.UpdatedAt = time.Now()
	m.byAppt[r.AppointmentID] = r
	return nil
}

func (m *mockRecordRepo) GetByAppointment(_ context.Context, id uuid.UUID) (*MedicalRecord, error) {
	r, ok := m.byAppt[id]
	if !ok {
		return nil, ErrNotFound
	}
	return r, nil
}

func (m *mockRecordRepo) ListByPatient(_ context.Context, pid uuid.UUID, limit, offset int) ([]*MedicalRecord, int, error) {
	var out []*MedicalRecord
	for _, r := range m.byAppt {
		if r.PatientID == pid {
			out = append(out, r)
		}
	}
	return out, len(out), nil
}

type mockDoctorRxRepo struct {
	items   map[uuid.UUID]*DoctorPrescription
	failErr error
}

func newMockDoctorRxRepo() *mockDoctorRxRepo {
	return &mockDoctorRxRepo{items: make(map[uuid.UUID]*DoctorPrescription)}
}

func (m *mockDoctorRxRepo) Create(_ context.Context, p *DoctorPrescription) error {
	if m.failErr != nil {
		return m.failErr
	}
	p.ID = uuid.New()
	p.CreatedAt = time.Now()
	m.items[p.ID] = p
	return nil
}

func (m *mockDoctorRxRepo) ListByPatient(_ context.Context, pid uuid.UUID) ([]*DoctorPrescription, error) {
	var out []*DoctorPrescription
	for _, p := range m.items {
		if p.PatientID == pid {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *mockDoctorRxRepo) Delete(_ context.Context, id uuid.UUID) error {
	if _, ok := m.items[id]; !ok {
		return ErrNotFound
	}
	delete(m.items, id)
	return nil
}

type mockOptometryRxRepo struct {
	items map[uuid.UUID]*OptometristPrescription
}

func newMockOptometryRxRepo() *mockOptometryRxRepo {
	return &mockOptometryRxRepo{items: make(map[uuid.UUID]*OptometristPrescription)}
}

func (m *mockOptometryRxRepo) Create(_ context.Context, p *OptometristPrescription) error {
	p.ID = uuid.New()
	p.CreatedAt = time.Now()
	m.items[p.ID] = p
	return nil
}

func (m *mockOptometryRxRepo) ListByPatient(_ context.Context, pid uuid.UUID) ([]*OptometristPrescription, error) {
	var out []*OptometristPrescription
	for _, p := range m.items {
		if p.PatientID == pid {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *mockOptometryRxRepo) Delete(_ context.Context, id uuid.UUID) error {
	if _, ok := m.items[id]; !ok {
		return ErrNotFound
	}
	delete(m.items, id)
	return nil
}

// stubCompleter stands in for the appointment service.
type stubCompleter struct {
	patients  map[uuid.UUID]uuid.UUID
	completed map[uuid.UUID]bool
	err       error
}

func (s *stubCompleter) CompleteAppointment(_ context.Context, id uuid.UUID) (uuid.UUID, error) {
	if s.err != nil {
		return uuid.Nil, s.err
	}
	pid, ok := s.patients[id]
	if !ok {
		return uuid.Nil, scheduling.ErrNotFound
	}
	s.completed[id] = true
	return pid, nil
}

type fixture struct {
	svc       *Service
	records   *mockRecordRepo
	doctorRx  *mockDoctorRxRepo
	optometry *mockOptometryRxRepo
	appts     *stubCompleter
}

func newFixture() *fixture {
	f := &fixture{
		records:   newMockRecordRepo(),
		doctorRx:  newMockDoctorRxRepo(),
		optometry: newMockOptometryRxRepo(),
		appts:     &stubCompleter{patients: map[uuid.UUID]uuid.UUID{}, completed: map[uuid.UUID]bool{}},
	}
	f.svc = NewService(f.records, f.doctorRx, f.optometry, f.appts, db.NewTxManager(&dbtest.Beginner{}), zerolog.Nop())
	return f
}

// appointment registers an appointment for patient and returns its id.
func (f *fixture) appointment(patient uuid.UUID) uuid.UUID {
	id := uuid.New()
	f.appts.patients[id] = patient
	return id
}

func as(role auth.Role, id uuid.UUID) context.Context {
	return auth.WithPrincipal(context.Background(), auth.Principal{Subject: id.String(), Role: role})
}

// -- RecordPrescription --

func TestRecordPrescription(t *testing.T) {
	f := newFixture()
	patient, doctor := uuid.New(), uuid.New()
	appt := f.appointment(patient)

	rec, err := f.svc.RecordPrescription(as(auth.RoleDoctor, doctor), appt, PrescriptionRequest{
		Diagnosis:             "Mild myopia",
		PrescribedMedications: "Lubricating drops",
		PrescribedEyewear:     "-1.25 both eyes",
		FollowUpInstructions:  "Review in 6 months",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !f.appts.completed[appt] {
		t.Error("expected appointment to be completed")
	}
	if rec.PatientID != patient || rec.Diagnosis != "Mild myopia" {
		t.Errorf("unexpected record %+v", rec)
	}
	rxs, _ := f.doctorRx.ListByPatient(context.Background(), patient)
	if len(rxs) != 1 {
		t.Fatalf("expected 1 prescription, got %d", len(rxs))
	}
	rx := rxs[0]
	if rx.DoctorID != doctor || rx.AppointmentID == nil || *rx.AppointmentID != appt {
		t.Errorf("prescription not linked: %+v", rx)
	}
	if rx.Medications != "Lubricating drops" || rx.Instructions != "Review in 6 months" {
		t.Errorf("unexpected prescription body %+v", rx)
	}
}

func TestRecordPrescription_ReplacesRecord(t *testing.T) {
	f := newFixture()
	patient := uuid.New()
	appt := f.appointment(patient)
	ctx := as(auth.RoleDoctor, uuid.New())

	first, err := f.svc.RecordPrescription(ctx, appt, PrescriptionRequest{Diagnosis: "first"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := f.svc.RecordPrescription(ctx, appt, PrescriptionRequest{Diagnosis: "second"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.ID != second.ID {
		t.Error("expected the record to be updated in place")
	}
	got, _ := f.svc.GetMedicalRecord(context.Background(), appt)
	if got.Diagnosis != "second" {
		t.Errorf("expected second diagnosis, got %q", got.Diagnosis)
	}
}

func TestRecordPrescription_DiagnosisRequired(t *testing.T) {
	f := newFixture()
	appt := f.appointment(uuid.New())
	_, err := f.svc.RecordPrescription(as(auth.RoleDoctor, uuid.New()), appt, PrescriptionRequest{})
	var verr *validation.Error
	if !errors.As(err, &verr) || verr.Fields["diagnosis"] == "" {
		t.Fatalf("expected diagnosis validation error, got %v", err)
	}
	if f.appts.completed[appt] {
		t.Error("appointment must not be completed on invalid input")
	}
}

func TestRecordPrescription_RefusedTransitionWritesNothing(t *testing.T) {
	f := newFixture()
	appt := f.appointment(uuid.New())
	f.appts.err = &scheduling.TransitionError{Reason: scheduling.ReasonInvalidState, From: scheduling.StatusCancelled, To: scheduling.StatusCompleted}

	_, err := f.svc.RecordPrescription(as(auth.RoleDoctor, uuid.New()), appt, PrescriptionRequest{Diagnosis: "x"})
	var te *scheduling.TransitionError
	if !errors.As(err, &te) {
		t.Fatalf("expected transition error, got %v", err)
	}
	if len(f.records.byAppt) != 0 || len(f.doctorRx.items) != 0 {
		t.Error("nothing should be written when the appointment cannot be completed")
	}
}

func TestRecordPrescription_StorageError(t *testing.T) {
	f := newFixture()
	appt := f.appointment(uuid.New())
	f.doctorRx.failErr = errors.New("connection reset")

	_, err := f.svc.RecordPrescription(as(auth.RoleDoctor, uuid.New()), appt, PrescriptionRequest{Diagnosis: "x"})
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestRecordPrescription_Unauthenticated(t *testing.T) {
	f := newFixture()
	appt := f.appointment(uuid.New())
	_, err := f.svc.RecordPrescription(context.Background(), appt, PrescriptionRequest{Diagnosis: "x"})
	if !errors.Is(err, ErrUnauthenticated) {
		t.Errorf("expected ErrUnauthenticated, got %v", err)
	}
}

// -- Doctor prescriptions --

func TestDoctorPrescription_CreateListDelete(t *testing.T) {
	f := newFixture()
	patient, doctor := uuid.New(), uuid.New()
	ctx := as(auth.RoleDoctor, doctor)

	rx, err := f.svc.CreateDoctorPrescription(ctx, patient, DoctorPrescriptionRequest{
		Diagnosis:    "Conjunctivitis",
		Medications:  "Antibiotic drops",
		Instructions: "Twice daily for 5 days",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rx.DoctorID != doctor || rx.PatientID != patient || rx.AppointmentID != nil {
		t.Errorf("unexpected prescription %+v", rx)
	}

	items, _ := f.svc.ListDoctorPrescriptions(ctx, patient)
	if len(items) != 1 {
		t.Fatalf("expected 1, got %d", len(items))
	}
	if err := f.svc.DeleteDoctorPrescription(ctx, rx.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := f.svc.DeleteDoctorPrescription(ctx, rx.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestDoctorPrescription_RequiredFields(t *testing.T) {
	f := newFixture()
	_, err := f.svc.CreateDoctorPrescription(as(auth.RoleDoctor, uuid.New()), uuid.New(), DoctorPrescriptionRequest{Diagnosis: "x"})
	var verr *validation.Error
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}
	for _, field := range []string{"medications", "instructions"} {
		if verr.Fields[field] == "" {
			t.Errorf("expected %s to be reported", field)
		}
	}
}

// -- Optometrist prescriptions --

func TestOptometristPrescription_Create(t *testing.T) {
	f := newFixture()
	patient, assistant := uuid.New(), uuid.New()

	rx, err := f.svc.CreateOptometristPrescription(as(auth.RoleAssistant, assistant), patient, OptometristPrescriptionRequest{
		VisionTest:      "6/9 both eyes",
		EyePower:        "-0.75",
		Refraction:      json.RawMessage(`{"right":{"sph":-0.75,"cyl":0,"axis":0},"left":{"sph":-0.5}}`),
		Recommendations: "Distance glasses",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rx.AssistantID != assistant || rx.PatientID != patient {
		t.Errorf("unexpected prescription %+v", rx)
	}
	items, _ := f.svc.ListOptometristPrescriptions(context.Background(), patient)
	if len(items) != 1 {
		t.Errorf("expected 1, got %d", len(items))
	}
}

func TestOptometristPrescription_BadRefraction(t *testing.T) {
	f := newFixture()
	_, err := f.svc.CreateOptometristPrescription(as(auth.RoleAssistant, uuid.New()), uuid.New(), OptometristPrescriptionRequest{
		VisionTest:      "6/6",
		EyePower:        "0",
		Refraction:      json.RawMessage(`{"right":`),
		Recommendations: "none",
	})
	var verr *validation.Error
	if !errors.As(err, &verr) || verr.Fields["refraction"] == "" {
		t.Errorf("expected refraction validation error, got %v", err)
	}
}
