package clinical

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eyeclinic/clinic/internal/platform/db"
)

const foreignKeyViolation = "23503"

func mapWriteErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolation {
		return ErrPatientNotFound
	}
	return err
}

// -- Medical Record --

type medicalRecordRepoPG struct{ pool *pgxpool.Pool }

func NewMedicalRecordRepoPG(pool *pgxpool.Pool) MedicalRecordRepository {
	return &medicalRecordRepoPG{pool: pool}
}

func (r *medicalRecordRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const mrCols = `m.id, m.appointment_id, a.patient_id, a.appointment_date, m.left_eye_assessment,
	m.right_eye_assessment, m.doctor_notes, m.diagnosis, m.prescribed_medications, m.prescribed_eyewear,
	m.follow_up_instructions, m.next_appointment_recommendation, m.created_at, m.updated_at`

const mrFrom = ` FROM medical_record m JOIN appointment a ON a.id = m.appointment_id`

func scanMedicalRecord(row pgx.Row) (*MedicalRecord, error) {
	var m MedicalRecord
	err := row.Scan(&m.ID, &m.AppointmentID, &m.PatientID, &m.AppointmentDate, &m.LeftEyeAssessment,
		&m.RightEyeAssessment, &m.DoctorNotes, &m.Diagnosis, &m.PrescribedMedications, &m.PrescribedEyewear,
		&m.FollowUpInstructions, &m.NextAppointmentRecommendation, &m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *medicalRecordRepoPG) Upsert(ctx context.Context, m *MedicalRecord) error {
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO medical_record (id, appointment_id, left_eye_assessment, right_eye_assessment,
			doctor_notes, diagnosis, prescribed_medications, prescribed_eyewear,
			follow_up_instructions, next_appointment_recommendation)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (appointment_id) DO UPDATE SET
			left_eye_assessment = EXCLUDED.left_eye_assessment,
			right_eye_assessment = EXCLUDED.right_eye_assessment,
			doctor_notes = EXCLUDED.doctor_notes,
			diagnosis = EXCLUDED.diagnosis,
			prescribed_medications = EXCLUDED.prescribed_medications,
			prescribed_eyewear = EXCLUDED.prescribed_eyewear,
			follow_up_instructions = EXCLUDED.follow_up_instructions,
			next_appointment_recommendation = EXCLUDED.next_appointment_recommendation,
			updated_at = NOW()
		RETURNING id, created_at, updated_at`,
		uuid.New(), m.AppointmentID, m.LeftEyeAssessment, m.RightEyeAssessment,
		m.DoctorNotes, m.Diagnosis, m.PrescribedMedications, m.PrescribedEyewear,
		m.FollowUpInstructions, m.NextAppointmentRecommendation,
	).Scan(&m.ID, &m.CreatedAt, &m.UpdatedAt)
}

func (r *medicalRecordRepoPG) GetByAppointment(ctx context.Context, appointmentID uuid.UUID) (*MedicalRecord, error) {
	return scanMedicalRecord(r.conn(ctx).QueryRow(ctx, `SELECT `+mrCols+mrFrom+` WHERE m.appointment_id = $1`, appointmentID))
}

func (r *medicalRecordRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*MedicalRecord, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*)`+mrFrom+` WHERE a.patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+mrCols+mrFrom+`
		WHERE a.patient_id = $1
		ORDER BY a.appointment_date DESC LIMIT $2 OFFSET $3`, patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*MedicalRecord
	for rows.Next() {
		m, err := scanMedicalRecord(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, m)
	}
	return items, total, rows.Err()
}

// -- Doctor Prescription --

type doctorPrescriptionRepoPG struct{ pool *pgxpool.Pool }

func NewDoctorPrescriptionRepoPG(pool *pgxpool.Pool) DoctorPrescriptionRepository {
	return &doctorPrescriptionRepoPG{pool: pool}
}

func (r *doctorPrescriptionRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const dpCols = `id, patient_id, doctor_id, appointment_id, prescription_date, left_eye_findings,
	right_eye_findings, complaints, history, diagnosis, medications, prescribed_eyewear, instructions,
	follow_up, plan_of_care, comments, created_at`

func (r *doctorPrescriptionRepoPG) Create(ctx context.Context, p *DoctorPrescription) error {
	p.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO doctor_prescription (id, patient_id, doctor_id, appointment_id, prescription_date,
			left_eye_findings, right_eye_findings, complaints, history, diagnosis, medications,
			prescribed_eyewear, instructions, follow_up, plan_of_care, comments)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
		RETURNING created_at`,
		p.ID, p.PatientID, p.DoctorID, p.AppointmentID, p.PrescriptionDate,
		p.LeftEyeFindings, p.RightEyeFindings, p.Complaints, p.History, p.Diagnosis, p.Medications,
		p.Eyewear, p.Instructions, p.FollowUp, p.PlanOfCare, p.Comments,
	).Scan(&p.CreatedAt)
	return mapWriteErr(err)
}

func (r *doctorPrescriptionRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*DoctorPrescription, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+dpCols+` FROM doctor_prescription
		WHERE patient_id = $1 ORDER BY prescription_date DESC`, patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*DoctorPrescription
	for rows.Next() {
		var p DoctorPrescription
		if err := rows.Scan(&p.ID, &p.PatientID, &p.DoctorID, &p.AppointmentID, &p.PrescriptionDate,
			&p.LeftEyeFindings, &p.RightEyeFindings, &p.Complaints, &p.History, &p.Diagnosis, &p.Medications,
			&p.Eyewear, &p.Instructions, &p.FollowUp, &p.PlanOfCare, &p.Comments, &p.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, &p)
	}
	return items, rows.Err()
}

func (r *doctorPrescriptionRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM doctor_prescription WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// -- Optometrist Prescription --

type optometristPrescriptionRepoPG struct{ pool *pgxpool.Pool }

func NewOptometristPrescriptionRepoPG(pool *pgxpool.Pool) OptometristPrescriptionRepository {
	return &optometristPrescriptionRepoPG{pool: pool}
}

func (r *optometristPrescriptionRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const opCols = `id, patient_id, assistant_id, prescription_date, present_complaints, vision_test,
	eye_power, refraction, recommendations, notes, created_at`

func (r *optometristPrescriptionRepoPG) Create(ctx context.Context, p *OptometristPrescription) error {
	p.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO optometrist_prescription (id, patient_id, assistant_id, prescription_date,
			present_complaints, vision_test, eye_power, refraction, recommendations, notes)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING created_at`,
		p.ID, p.PatientID, p.AssistantID, p.PrescriptionDate,
		p.PresentComplaints, p.VisionTest, p.EyePower, p.Refraction, p.Recommendations, p.Notes,
	).Scan(&p.CreatedAt)
	return mapWriteErr(err)
}

func (r *optometristPrescriptionRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*OptometristPrescription, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+opCols+` FROM optometrist_prescription
		WHERE patient_id = $1 ORDER BY prescription_date DESC`, patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*OptometristPrescription
	for rows.Next() {
		var p OptometristPrescription
		if err := rows.Scan(&p.ID, &p.PatientID, &p.AssistantID, &p.PrescriptionDate, &p.PresentComplaints,
			&p.VisionTest, &p.EyePower, &p.Refraction, &p.Recommendations, &p.Notes, &p.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, &p)
	}
	return items, rows.Err()
}

func (r *optometristPrescriptionRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM optometrist_prescription WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
