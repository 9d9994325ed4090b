package clinical

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/eyeclinic/clinic/internal/platform/auth"
	"github.com/eyeclinic/clinic/internal/platform/db"
	"github.com/eyeclinic/clinic/internal/platform/validation"
)

// AppointmentCompleter moves an appointment to completed and reports whose
// appointment it is. Completing an already completed appointment is a no-op.
type AppointmentCompleter interface {
	CompleteAppointment(ctx context.Context, id uuid.UUID) (uuid.UUID, error)
}

type Service struct {
	records      MedicalRecordRepository
	doctorRx     DoctorPrescriptionRepository
	optometryRx  OptometristPrescriptionRepository
	appointments AppointmentCompleter
	tx           db.TxRunner
	logger       zerolog.Logger
	now          func() time.Time
}

func NewService(records MedicalRecordRepository, doctorRx DoctorPrescriptionRepository,
	optometryRx OptometristPrescriptionRepository, appointments AppointmentCompleter,
	tx db.TxRunner, logger zerolog.Logger) *Service {
	return &Service{
		records:      records,
		doctorRx:     doctorRx,
		optometryRx:  optometryRx,
		appointments: appointments,
		tx:           tx,
		logger:       logger.With().Str("component", "clinical").Logger(),
		now:          time.Now,
	}
}

func callerID(ctx context.Context) (uuid.UUID, error) {
	p, ok := auth.PrincipalFromContext(ctx)
	if !ok {
		return uuid.Nil, ErrUnauthenticated
	}
	id, err := uuid.Parse(p.Subject)
	if err != nil {
		return uuid.Nil, ErrUnauthenticated
	}
	return id, nil
}

// -- Appointment write-up --

type PrescriptionRequest struct {
	LeftEyeAssessment             string `json:"left_eye_assessment" validate:"max=2000"`
	RightEyeAssessment            string `json:"right_eye_assessment" validate:"max=2000"`
	Complaints                    string `json:"complaints" validate:"max=2000"`
	History                       string `json:"history" validate:"max=2000"`
	DoctorNotes                   string `json:"doctor_notes" validate:"max=4000"`
	Diagnosis                     string `json:"diagnosis" validate:"required,max=2000"`
	PrescribedMedications         string `json:"prescribed_medications" validate:"max=2000"`
	PrescribedEyewear             string `json:"prescribed_eyewear" validate:"max=2000"`
	FollowUpInstructions          string `json:"follow_up_instructions" validate:"max=2000"`
	NextAppointmentRecommendation string `json:"next_appointment_recommendation" validate:"max=500"`
}

// RecordPrescription finalizes an appointment: it is completed, its medical
// record is written (replacing any earlier one) and a doctor prescription is
// filed for the patient, all in one transaction.
func (s *Service) RecordPrescription(ctx context.Context, appointmentID uuid.UUID, req PrescriptionRequest) (*MedicalRecord, error) {
	if err := validation.Struct(req); err != nil {
		return nil, err
	}
	doctorID, err := callerID(ctx)
	if err != nil {
		return nil, err
	}

	rec := &MedicalRecord{
		AppointmentID:                 appointmentID,
		LeftEyeAssessment:             optional(req.LeftEyeAssessment),
		RightEyeAssessment:            optional(req.RightEyeAssessment),
		DoctorNotes:                   optional(req.DoctorNotes),
		Diagnosis:                     req.Diagnosis,
		PrescribedMedications:         optional(req.PrescribedMedications),
		PrescribedEyewear:             optional(req.PrescribedEyewear),
		FollowUpInstructions:          optional(req.FollowUpInstructions),
		NextAppointmentRecommendation: optional(req.NextAppointmentRecommendation),
	}
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		patientID, err := s.appointments.CompleteAppointment(ctx, appointmentID)
		if err != nil {
			return err
		}
		rec.PatientID = patientID
		if err := s.records.Upsert(ctx, rec); err != nil {
			return fmt.Errorf("save medical record: %w", err)
		}
		apptID := appointmentID
		rx := &DoctorPrescription{
			PatientID:        patientID,
			DoctorID:         doctorID,
			AppointmentID:    &apptID,
			PrescriptionDate: s.now(),
			LeftEyeFindings:  rec.LeftEyeAssessment,
			RightEyeFindings: rec.RightEyeAssessment,
			Complaints:       optional(req.Complaints),
			History:          optional(req.History),
			Diagnosis:        req.Diagnosis,
			Medications:      req.PrescribedMedications,
			Eyewear:          rec.PrescribedEyewear,
			Instructions:     req.FollowUpInstructions,
			FollowUp:         rec.NextAppointmentRecommendation,
		}
		if err := s.doctorRx.Create(ctx, rx); err != nil {
			return fmt.Errorf("save prescription: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("appointment_id", appointmentID.String()).Msg("appointment written up")
	return rec, nil
}

func (s *Service) GetMedicalRecord(ctx context.Context, appointmentID uuid.UUID) (*MedicalRecord, error) {
	return s.records.GetByAppointment(ctx, appointmentID)
}

func (s *Service) ListMedicalRecords(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*MedicalRecord, int, error) {
	return s.records.ListByPatient(ctx, patientID, limit, offset)
}

// -- Doctor prescriptions --

type DoctorPrescriptionRequest struct {
	AppointmentID    *uuid.UUID `json:"appointment_id"`
	LeftEyeFindings  string     `json:"left_eye_findings" validate:"max=2000"`
	RightEyeFindings string     `json:"right_eye_findings" validate:"max=2000"`
	Complaints       string     `json:"complaints" validate:"max=2000"`
	History          string     `json:"history" validate:"max=2000"`
	Diagnosis        string     `json:"diagnosis" validate:"required,max=2000"`
	Medications      string     `json:"medications" validate:"required,max=2000"`
	Eyewear          string     `json:"prescribed_eyewear" validate:"max=2000"`
	Instructions     string     `json:"instructions" validate:"required,max=2000"`
	FollowUp         string     `json:"follow_up" validate:"max=500"`
	PlanOfCare       string     `json:"plan_of_care" validate:"max=2000"`
	Comments         string     `json:"comments" validate:"max=2000"`
}

func (s *Service) CreateDoctorPrescription(ctx context.Context, patientID uuid.UUID, req DoctorPrescriptionRequest) (*DoctorPrescription, error) {
	if err := validation.Struct(req); err != nil {
		return nil, err
	}
	doctorID, err := callerID(ctx)
	if err != nil {
		return nil, err
	}
	rx := &DoctorPrescription{
		PatientID:        patientID,
		DoctorID:         doctorID,
		AppointmentID:    req.AppointmentID,
		PrescriptionDate: s.now(),
		LeftEyeFindings:  optional(req.LeftEyeFindings),
		RightEyeFindings: optional(req.RightEyeFindings),
		Complaints:       optional(req.Complaints),
		History:          optional(req.History),
		Diagnosis:        req.Diagnosis,
		Medications:      req.Medications,
		Eyewear:          optional(req.Eyewear),
		Instructions:     req.Instructions,
		FollowUp:         optional(req.FollowUp),
		PlanOfCare:       optional(req.PlanOfCare),
		Comments:         optional(req.Comments),
	}
	if err := s.doctorRx.Create(ctx, rx); err != nil {
		return nil, err
	}
	return rx, nil
}

func (s *Service) ListDoctorPrescriptions(ctx context.Context, patientID uuid.UUID) ([]*DoctorPrescription, error) {
	return s.doctorRx.ListByPatient(ctx, patientID)
}

func (s *Service) DeleteDoctorPrescription(ctx context.Context, id uuid.UUID) error {
	return s.doctorRx.Delete(ctx, id)
}

// -- Optometrist prescriptions --

type OptometristPrescriptionRequest struct {
	PresentComplaints string          `json:"present_complaints" validate:"max=2000"`
	VisionTest        string          `json:"vision_test" validate:"required,max=2000"`
	EyePower          string          `json:"eye_power" validate:"required,max=500"`
	Refraction        json.RawMessage `json:"refraction"`
	Recommendations   string          `json:"recommendations" validate:"required,max=2000"`
	Notes             string          `json:"notes" validate:"max=2000"`
}

func (s *Service) CreateOptometristPrescription(ctx context.Context, patientID uuid.UUID, req OptometristPrescriptionRequest) (*OptometristPrescription, error) {
	if err := validation.Struct(req); err != nil {
		return nil, err
	}
	if len(req.Refraction) > 0 && !json.Valid(req.Refraction) {
		return nil, &validation.Error{Fields: map[string]string{"refraction": "must be a JSON document"}}
	}
	assistantID, err := callerID(ctx)
	if err != nil {
		return nil, err
	}
	rx := &OptometristPrescription{
		PatientID:         patientID,
		AssistantID:       assistantID,
		PrescriptionDate:  s.now(),
		PresentComplaints: optional(req.PresentComplaints),
		VisionTest:        req.VisionTest,
		EyePower:          req.EyePower,
		Refraction:        req.Refraction,
		Recommendations:   req.Recommendations,
		Notes:             optional(req.Notes),
	}
	if err := s.optometryRx.Create(ctx, rx); err != nil {
		return nil, err
	}
	return rx, nil
}

func (s *Service) ListOptometristPrescriptions(ctx context.Context, patientID uuid.UUID) ([]*OptometristPrescription, error) {
	return s.optometryRx.ListByPatient(ctx, patientID)
}

func (s *Service) DeleteOptometristPrescription(ctx context.Context, id uuid.UUID) error {
	return s.optometryRx.Delete(ctx, id)
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
