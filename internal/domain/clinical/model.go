package clinical

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound        = errors.New("record not found")
	ErrPatientNotFound = errors.New("patient not found")
	ErrUnauthenticated = errors.New("authentication required")
)

// MedicalRecord is the doctor's write-up of one appointment.
type MedicalRecord struct {
	ID                            uuid.UUID `db:"id" json:"id"`
	AppointmentID                 uuid.UUID `db:"appointment_id" json:"appointment_id"`
	PatientID                     uuid.UUID `db:"-" json:"patient_id"`
	AppointmentDate               time.Time `db:"-" json:"appointment_date"`
	LeftEyeAssessment             *string   `db:"left_eye_assessment" json:"left_eye_assessment,omitempty"`
	RightEyeAssessment            *string   `db:"right_eye_assessment" json:"right_eye_assessment,omitempty"`
	DoctorNotes                   *string   `db:"doctor_notes" json:"doctor_notes,omitempty"`
	Diagnosis                     string    `db:"diagnosis" json:"diagnosis"`
	PrescribedMedications         *string   `db:"prescribed_medications" json:"prescribed_medications,omitempty"`
	PrescribedEyewear             *string   `db:"prescribed_eyewear" json:"prescribed_eyewear,omitempty"`
	FollowUpInstructions          *string   `db:"follow_up_instructions" json:"follow_up_instructions,omitempty"`
	NextAppointmentRecommendation *string   `db:"next_appointment_recommendation" json:"next_appointment_recommendation,omitempty"`
	CreatedAt                     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt                     time.Time `db:"updated_at" json:"updated_at"`
}

// DoctorPrescription is a prescription written by a doctor, optionally for a
// specific appointment.
type DoctorPrescription struct {
	ID               uuid.UUID  `db:"id" json:"id"`
	PatientID        uuid.UUID  `db:"patient_id" json:"patient_id"`
	DoctorID         uuid.UUID  `db:"doctor_id" json:"doctor_id"`
	AppointmentID    *uuid.UUID `db:"appointment_id" json:"appointment_id,omitempty"`
	PrescriptionDate time.Time  `db:"prescription_date" json:"prescription_date"`
	LeftEyeFindings  *string    `db:"left_eye_findings" json:"left_eye_findings,omitempty"`
	RightEyeFindings *string    `db:"right_eye_findings" json:"right_eye_findings,omitempty"`
	Complaints       *string    `db:"complaints" json:"complaints,omitempty"`
	History          *string    `db:"history" json:"history,omitempty"`
	Diagnosis        string     `db:"diagnosis" json:"diagnosis"`
	Medications      string     `db:"medications" json:"medications"`
	Eyewear          *string    `db:"prescribed_eyewear" json:"prescribed_eyewear,omitempty"`
	Instructions     string     `db:"instructions" json:"instructions"`
	FollowUp         *string    `db:"follow_up" json:"follow_up,omitempty"`
	PlanOfCare       *string    `db:"plan_of_care" json:"plan_of_care,omitempty"`
	Comments         *string    `db:"comments" json:"comments,omitempty"`
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`
}

// OptometristPrescription records an assistant's eye test. Refraction holds
// the per-eye measurements (sph, cyl, axis, va and so on) as a JSON document.
type OptometristPrescription struct {
	ID                uuid.UUID       `db:"id" json:"id"`
	PatientID         uuid.UUID       `db:"patient_id" json:"patient_id"`
	AssistantID       uuid.UUID       `db:"assistant_id" json:"assistant_id"`
	PrescriptionDate  time.Time       `db:"prescription_date" json:"prescription_date"`
	PresentComplaints *string         `db:"present_complaints" json:"present_complaints,omitempty"`
	VisionTest        string          `db:"vision_test" json:"vision_test"`
	EyePower          string          `db:"eye_power" json:"eye_power"`
	Refraction        json.RawMessage `db:"refraction" json:"refraction,omitempty"`
	Recommendations   string          `db:"recommendations" json:"recommendations"`
	Notes             *string         `db:"notes" json:"notes,omitempty"`
	CreatedAt         time.Time       `db:"created_at" json:"created_at"`
}
