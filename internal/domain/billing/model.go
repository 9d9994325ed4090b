package billing

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

const dateLayout = "2006-01-02"

// WalkInTreatment names the revenue line booked for every walk-in.
const WalkInTreatment = "Walk-in Consultation"

var (
	ErrPatientNotFound = errors.New("patient not found")
	ErrStaffNotFound   = errors.New("staff member not found")
)

// Treatment is a revenue line outside the consultation fee. Walk-in lines
// carry the appointment they were booked with.
type Treatment struct {
	ID            uuid.UUID  `db:"id" json:"id"`
	PatientID     uuid.UUID  `db:"patient_id" json:"patient_id"`
	PatientName   string     `db:"-" json:"patient_name,omitempty"`
	AppointmentID *uuid.UUID `db:"appointment_id" json:"appointment_id,omitempty"`
	Name          string     `db:"treatment_name" json:"treatment_name"`
	Date          time.Time  `db:"treatment_date" json:"-"`
	Amount        float64    `db:"amount" json:"amount"`
	Notes         *string    `db:"notes" json:"notes,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
}

func (t Treatment) MarshalJSON() ([]byte, error) {
	type plain Treatment
	return json.Marshal(struct {
		plain
		Date string `json:"treatment_date"`
	}{plain: plain(t), Date: t.Date.Format(dateLayout)})
}

// SalaryStatus mirrors the payment lifecycle of a salary row.
type SalaryStatus string

const (
	SalaryPending   SalaryStatus = "pending"
	SalaryCompleted SalaryStatus = "completed"
	SalaryFailed    SalaryStatus = "failed"
)

type Salary struct {
	ID            uuid.UUID    `db:"id" json:"id"`
	AssistantID   uuid.UUID    `db:"assistant_id" json:"assistant_id"`
	AssistantName string       `db:"-" json:"assistant_name,omitempty"`
	Amount        float64      `db:"amount" json:"amount"`
	PaymentDate   time.Time    `db:"payment_date" json:"-"`
	PaymentMethod string       `db:"payment_method" json:"payment_method"`
	TransactionID *string      `db:"transaction_id" json:"transaction_id,omitempty"`
	Status        SalaryStatus `db:"status" json:"status"`
	Description   *string      `db:"description" json:"description,omitempty"`
	CreatedAt     time.Time    `db:"created_at" json:"created_at"`
}

func (s Salary) MarshalJSON() ([]byte, error) {
	type plain Salary
	return json.Marshal(struct {
		plain
		Date string `json:"payment_date"`
	}{plain: plain(s), Date: s.PaymentDate.Format(dateLayout)})
}

// PaymentLine is a settled consultation payment as shown on the revenue
// report.
type PaymentLine struct {
	PaymentID       uuid.UUID `json:"payment_id"`
	AppointmentID   uuid.UUID `json:"appointment_id"`
	AppointmentDate string    `json:"appointment_date"`
	PatientID       uuid.UUID `json:"patient_id"`
	PatientName     string    `json:"patient_name"`
	Amount          float64   `json:"amount"`
	Method          string    `json:"payment_method"`
	TransactionID   *string   `json:"transaction_id,omitempty"`
	PaidAt          time.Time `json:"paid_at"`
}

// Revenue totals settled consultation payments and stand-alone treatments.
// Treatments booked against an appointment are listed but not added again,
// since their payment is already counted.
type Revenue struct {
	Payments         []*PaymentLine `json:"payments"`
	Treatments       []*Treatment   `json:"treatments"`
	AppointmentTotal float64        `json:"appointment_revenue"`
	TreatmentTotal   float64        `json:"treatment_revenue"`
	Total            float64        `json:"total_revenue"`
}
