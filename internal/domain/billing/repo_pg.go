package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eyeclinic/clinic/internal/platform/db"
)

const foreignKeyViolation = "23503"

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolation
}

// periodWhere appends date bounds on column to where.
func periodWhere(where, column string, p Period, args []interface{}) (string, []interface{}) {
	idx := len(args) + 1
	if !p.From.IsZero() {
		where += fmt.Sprintf(` AND %s >= $%d`, column, idx)
		args = append(args, p.From)
		idx++
	}
	if !p.To.IsZero() {
		where += fmt.Sprintf(` AND %s <= $%d`, column, idx)
		args = append(args, p.To)
	}
	return where, args
}

// =========== Treatment Repository ===========

type treatmentRepoPG struct{ pool *pgxpool.Pool }

func NewTreatmentRepoPG(pool *pgxpool.Pool) TreatmentRepository { return &treatmentRepoPG{pool: pool} }

func (r *treatmentRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

func (r *treatmentRepoPG) Create(ctx context.Context, t *Treatment) error {
	t.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO treatment (id, patient_id, appointment_id, treatment_name, treatment_date, amount, notes)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING created_at`,
		t.ID, t.PatientID, t.AppointmentID, t.Name, t.Date, t.Amount, t.Notes,
	).Scan(&t.CreatedAt)
	if isForeignKeyViolation(err) {
		return ErrPatientNotFound
	}
	return err
}

func (r *treatmentRepoPG) List(ctx context.Context, p Period) ([]*Treatment, error) {
	where, args := periodWhere(` WHERE 1=1`, `t.treatment_date`, p, nil)
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT t.id, t.patient_id, pt.full_name, t.appointment_id, t.treatment_name, t.treatment_date,
			t.amount, t.notes, t.created_at
		FROM treatment t JOIN patient pt ON pt.id = t.patient_id`+where+`
		ORDER BY t.treatment_date DESC, t.created_at DESC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Treatment
	for rows.Next() {
		var t Treatment
		if err := rows.Scan(&t.ID, &t.PatientID, &t.PatientName, &t.AppointmentID, &t.Name, &t.Date,
			&t.Amount, &t.Notes, &t.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, &t)
	}
	return items, rows.Err()
}

// =========== Salary Repository ===========

type salaryRepoPG struct{ pool *pgxpool.Pool }

func NewSalaryRepoPG(pool *pgxpool.Pool) SalaryRepository { return &salaryRepoPG{pool: pool} }

func (r *salaryRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

func (r *salaryRepoPG) Create(ctx context.Context, s *Salary) error {
	s.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO salary (id, assistant_id, amount, payment_date, payment_method, transaction_id, status, description)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING created_at`,
		s.ID, s.AssistantID, s.Amount, s.PaymentDate, s.PaymentMethod, s.TransactionID, s.Status, s.Description,
	).Scan(&s.CreatedAt)
	if isForeignKeyViolation(err) {
		return ErrStaffNotFound
	}
	return err
}

func (r *salaryRepoPG) List(ctx context.Context, assistantID *uuid.UUID) ([]*Salary, error) {
	where := ` WHERE 1=1`
	var args []interface{}
	if assistantID != nil {
		where += ` AND s.assistant_id = $1`
		args = append(args, *assistantID)
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT s.id, s.assistant_id, st.full_name, s.amount, s.payment_date, s.payment_method,
			s.transaction_id, s.status, s.description, s.created_at
		FROM salary s JOIN staff st ON st.id = s.assistant_id`+where+`
		ORDER BY s.payment_date DESC, s.created_at DESC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Salary
	for rows.Next() {
		var s Salary
		if err := rows.Scan(&s.ID, &s.AssistantID, &s.AssistantName, &s.Amount, &s.PaymentDate, &s.PaymentMethod,
			&s.TransactionID, &s.Status, &s.Description, &s.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, &s)
	}
	return items, rows.Err()
}

// =========== Payment Ledger ===========

type paymentLedgerPG struct{ pool *pgxpool.Pool }

func NewPaymentLedgerPG(pool *pgxpool.Pool) PaymentLedger { return &paymentLedgerPG{pool: pool} }

func (r *paymentLedgerPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

func (r *paymentLedgerPG) CompletedPayments(ctx context.Context, p Period) ([]*PaymentLine, error) {
	where, args := periodWhere(` WHERE pay.status = 'completed'`, `a.appointment_date`, p, nil)
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT pay.id, a.id, a.appointment_date, pt.id, pt.full_name, pay.amount, pay.payment_method,
			pay.transaction_id, pay.updated_at
		FROM payment pay
		JOIN appointment a ON a.id = pay.appointment_id
		JOIN patient pt ON pt.id = a.patient_id`+where+`
		ORDER BY pay.updated_at DESC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*PaymentLine
	for rows.Next() {
		var (
			l    PaymentLine
			date time.Time
		)
		if err := rows.Scan(&l.PaymentID, &l.AppointmentID, &date, &l.PatientID, &l.PatientName, &l.Amount,
			&l.Method, &l.TransactionID, &l.PaidAt); err != nil {
			return nil, err
		}
		l.AppointmentDate = date.Format(dateLayout)
		items = append(items, &l)
	}
	return items, rows.Err()
}
