package clinical

import (
	"context"

	"github.com/google/uuid"
)

type MedicalRecordRepository interface {
	// Upsert creates or replaces the record for r.AppointmentID.
	Upsert(ctx context.Context, r *MedicalRecord) error
	GetByAppointment(ctx context.Context, appointmentID uuid.UUID) (*MedicalRecord, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*MedicalRecord, int, error)
}

type DoctorPrescriptionRepository interface {
	Create(ctx context.Context, p *DoctorPrescription) error
	ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*DoctorPrescription, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

type OptometristPrescriptionRepository interface {
	Create(ctx context.Context, p *OptometristPrescription) error
	ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*OptometristPrescription, error)
	Delete(ctx context.Context, id uuid.UUID) error
}
