package identity

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/eyeclinic/clinic/internal/platform/auth"
)

var (
	ErrNotFound           = errors.New("account not found")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAlreadyRegistered  = errors.New("a patient with this email or mobile number is already registered")
	ErrDuplicate          = errors.New("account already exists")
)

// Patient maps to the patient table. Patients created by anonymous booking
// have no password and IsRegistered false until they register.
type Patient struct {
	ID           uuid.UUID `db:"id" json:"id"`
	FullName     string    `db:"full_name" json:"full_name"`
	MobileNumber string    `db:"mobile_number" json:"mobile_number"`
	Email        *string   `db:"email" json:"email,omitempty"`
	Age          int       `db:"age" json:"age"`
	Sex          *string   `db:"sex" json:"sex,omitempty"`
	PasswordHash *string   `db:"password_hash" json:"-"`
	IsRegistered bool      `db:"is_registered" json:"is_registered"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// PatientInfo is the demographic part of a booking or walk-in form.
type PatientInfo struct {
	FullName     string
	MobileNumber string
	Email        string
	Age          int
	Sex          string
}

// Staff maps to the staff table and covers doctors, assistants and admins.
type Staff struct {
	ID             uuid.UUID  `db:"id" json:"id"`
	Username       string     `db:"username" json:"username"`
	Email          string     `db:"email" json:"email"`
	PasswordHash   string     `db:"password_hash" json:"-"`
	FullName       string     `db:"full_name" json:"full_name"`
	MobileNumber   *string    `db:"mobile_number" json:"mobile_number,omitempty"`
	Role           auth.Role  `db:"role" json:"role"`
	Qualifications *string    `db:"qualifications" json:"qualifications,omitempty"`
	Specialization *string    `db:"specialization" json:"specialization,omitempty"`
	Position       *string    `db:"position" json:"position,omitempty"`
	JoiningDate    *time.Time `db:"joining_date" json:"joining_date,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
}
