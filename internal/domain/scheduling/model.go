package scheduling

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Appointment maps to the appointment table.
type Appointment struct {
	ID                 uuid.UUID   `db:"id" json:"id"`
	PatientID          uuid.UUID   `db:"patient_id" json:"patient_id"`
	PatientName        string      `db:"-" json:"patient_name,omitempty"`
	Date               time.Time   `db:"appointment_date" json:"-"`
	Time               TimeOfDay   `db:"appointment_time" json:"appointment_time"`
	PrimaryIssue       *string     `db:"primary_issue" json:"primary_issue,omitempty"`
	ReferralInfo       *string     `db:"referral_info" json:"referral_info,omitempty"`
	Status             Status      `db:"status" json:"status"`
	ConsultationFee    float64     `db:"consultation_fee" json:"consultation_fee"`
	PaymentStatus      PaymentFlag `db:"payment_status" json:"payment_status"`
	WalkIn             bool        `db:"walk_in" json:"walk_in"`
	CancellationReason *string     `db:"cancellation_reason" json:"cancellation_reason,omitempty"`
	ReminderSentAt     *time.Time  `db:"reminder_sent_at" json:"reminder_sent_at,omitempty"`
	CreatedAt          time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time   `db:"updated_at" json:"updated_at"`
	Payment            *Payment    `db:"-" json:"payment,omitempty"`
}

// MarshalJSON renders Date as a YYYY-MM-DD calendar date.
func (a Appointment) MarshalJSON() ([]byte, error) {
	type plain Appointment
	return json.Marshal(struct {
		plain
		Date string `json:"appointment_date"`
	}{plain: plain(a), Date: a.Date.Format(dateLayout)})
}

// StartsAt is the appointment's date and slot in loc.
func (a *Appointment) StartsAt(loc *time.Location) time.Time {
	return a.Time.On(a.Date, loc)
}

func (a *Appointment) Booking() Booking {
	return Booking{Time: a.Time, Status: a.Status}
}

// PaymentMethod is how a payment was or will be made.
type PaymentMethod string

const (
	MethodCash         PaymentMethod = "cash"
	MethodUPI          PaymentMethod = "upi"
	MethodCard         PaymentMethod = "card"
	MethodBankTransfer PaymentMethod = "bank_transfer"
	MethodOnline       PaymentMethod = "online"
)

// PaymentState is the status of a Payment row.
type PaymentState string

const (
	PaymentPending   PaymentState = "pending"
	PaymentCompleted PaymentState = "completed"
	PaymentCancelled PaymentState = "cancelled"
	PaymentFailed    PaymentState = "failed"
)

// Payment maps to the payment table; at most one per appointment.
type Payment struct {
	ID             uuid.UUID     `db:"id" json:"id"`
	AppointmentID  uuid.UUID     `db:"appointment_id" json:"appointment_id"`
	Amount         float64       `db:"amount" json:"amount"`
	Method         PaymentMethod `db:"payment_method" json:"payment_method"`
	TransactionID  *string       `db:"transaction_id" json:"transaction_id,omitempty"`
	UPIID          *string       `db:"upi_id" json:"upi_id,omitempty"`
	GatewayOrderID *string       `db:"gateway_order_id" json:"gateway_order_id,omitempty"`
	Status         PaymentState  `db:"status" json:"status"`
	CreatedAt      time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time     `db:"updated_at" json:"updated_at"`
}

// DashboardStats is the staff landing summary.
type DashboardStats struct {
	UpcomingScheduled int            `json:"upcoming_scheduled"`
	TotalAppointments int            `json:"total_appointments"`
	TotalPatients     int            `json:"total_patients"`
	Today             []*Appointment `json:"today"`
}

// AppointmentCounts is what the appointment store contributes to the dashboard.
type AppointmentCounts struct {
	UpcomingScheduled int
	Total             int
}
