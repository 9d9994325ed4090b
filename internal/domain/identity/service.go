package identity

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/eyeclinic/clinic/internal/platform/auth"
	"github.com/eyeclinic/clinic/internal/platform/db"
	"github.com/eyeclinic/clinic/internal/platform/notification"
	"github.com/eyeclinic/clinic/internal/platform/otp"
	"github.com/eyeclinic/clinic/internal/platform/validation"
)

// CodeStore issues and checks one-time codes.
type CodeStore interface {
	Issue(ctx context.Context, key string, payload interface{}) (string, error)
	Verify(ctx context.Context, key, code string, out interface{}) error
	TTL() time.Duration
}

type Notifier interface {
	Send(ctx context.Context, templateID string, to notification.Recipient, data map[string]string) error
}

type Service struct {
	patients PatientRepository
	staff    StaffRepository
	tx       db.TxRunner
	codes    CodeStore
	tokens   *auth.Tokens
	notifier Notifier
	logger   zerolog.Logger
}

func NewService(patients PatientRepository, staff StaffRepository, tx db.TxRunner, codes CodeStore,
	tokens *auth.Tokens, notifier Notifier, logger zerolog.Logger) *Service {
	return &Service{
		patients: patients,
		staff:    staff,
		tx:       tx,
		codes:    codes,
		tokens:   tokens,
		notifier: notifier,
		logger:   logger.With().Str("component", "identity").Logger(),
	}
}

// -- Patients --

// ResolvePatient returns the patient registered under info's mobile number,
// creating an unregistered one if there is none.
func (s *Service) ResolvePatient(ctx context.Context, info PatientInfo) (uuid.UUID, error) {
	p, err := s.patients.GetByMobile(ctx, info.MobileNumber)
	if err == nil {
		return p.ID, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return uuid.Nil, err
	}
	p = &Patient{
		FullName:     info.FullName,
		MobileNumber: info.MobileNumber,
		Email:        optional(info.Email),
		Age:          info.Age,
		Sex:          optional(info.Sex),
	}
	if err := s.patients.Create(ctx, p); err != nil {
		return uuid.Nil, err
	}
	return p.ID, nil
}

// Contact is where messages for the patient go.
func (s *Service) Contact(ctx context.Context, patientID uuid.UUID) (notification.Recipient, error) {
	p, err := s.patients.GetByID(ctx, patientID)
	if err != nil {
		return notification.Recipient{}, err
	}
	return notification.Recipient{Name: p.FullName, Email: deref(p.Email), Mobile: p.MobileNumber}, nil
}

func (s *Service) CountPatients(ctx context.Context) (int, error) {
	return s.patients.Count(ctx)
}

func (s *Service) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return s.patients.GetByID(ctx, id)
}

func (s *Service) SearchPatients(ctx context.Context, params map[string]string, limit, offset int) ([]*Patient, int, error) {
	return s.patients.Search(ctx, params, limit, offset)
}

// -- Registration --

type RegisterRequest struct {
	FullName     string `json:"full_name" validate:"required,min=3,max=100"`
	MobileNumber string `json:"mobile_number" validate:"required,mobile"`
	Email        string `json:"email" validate:"required,email,max=120"`
	Age          int    `json:"age" validate:"required,min=1,max=120"`
	Sex          string `json:"sex" validate:"omitempty,max=10"`
	Password     string `json:"password" validate:"required,min=8,max=72"`
}

// pendingRegistration is held next to the code until it is verified. The
// password is hashed before it is stored.
type pendingRegistration struct {
	FullName     string `json:"full_name"`
	MobileNumber string `json:"mobile_number"`
	Email        string `json:"email"`
	Age          int    `json:"age"`
	Sex          string `json:"sex"`
	PasswordHash string `json:"password_hash"`
}

func registrationKey(email string) string { return "register:" + strings.ToLower(email) }
func loginKey(email string) string        { return "login:" + strings.ToLower(email) }

// StartRegistration emails a one-time code that completes the registration.
func (s *Service) StartRegistration(ctx context.Context, req RegisterRequest) error {
	if err := validation.Struct(req); err != nil {
		return err
	}
	if err := s.ensureNotRegistered(ctx, req.Email, req.MobileNumber); err != nil {
		return err
	}
	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		return err
	}
	pending := pendingRegistration{
		FullName:     req.FullName,
		MobileNumber: req.MobileNumber,
		Email:        req.Email,
		Age:          req.Age,
		Sex:          req.Sex,
		PasswordHash: hash,
	}
	code, err := s.codes.Issue(ctx, registrationKey(req.Email), pending)
	if err != nil {
		return fmt.Errorf("issue code: %w", err)
	}
	return s.sendCode(ctx, notification.Recipient{Name: req.FullName, Email: req.Email}, code)
}

func (s *Service) ensureNotRegistered(ctx context.Context, email, mobile string) error {
	for _, lookup := range []func() (*Patient, error){
		func() (*Patient, error) { return s.patients.GetByEmail(ctx, email) },
		func() (*Patient, error) { return s.patients.GetByMobile(ctx, mobile) },
	} {
		p, err := lookup()
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		if p.IsRegistered {
			return ErrAlreadyRegistered
		}
	}
	return nil
}

type VerifyRequest struct {
	Email string `json:"email" validate:"required,email"`
	Code  string `json:"code" validate:"required,len=6,numeric"`
}

// CompleteRegistration checks the code and creates the patient account. A
// patient previously created by an anonymous booking with the same mobile
// number is upgraded in place, keeping its appointments.
func (s *Service) CompleteRegistration(ctx context.Context, req VerifyRequest) (*auth.TokenResponse, error) {
	if err := validation.Struct(req); err != nil {
		return nil, err
	}
	var pending pendingRegistration
	if err := s.codes.Verify(ctx, registrationKey(req.Email), req.Code, &pending); err != nil {
		return nil, err
	}

	var patient *Patient
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.ensureNotRegistered(ctx, pending.Email, pending.MobileNumber); err != nil {
			return err
		}
		p, err := s.patients.GetByMobile(ctx, pending.MobileNumber)
		switch {
		case errors.Is(err, ErrNotFound):
			p = &Patient{}
		case err != nil:
			return err
		}
		p.FullName = pending.FullName
		p.MobileNumber = pending.MobileNumber
		p.Email = optional(pending.Email)
		p.Age = pending.Age
		p.Sex = optional(pending.Sex)
		p.PasswordHash = &pending.PasswordHash
		p.IsRegistered = true

		if p.ID == uuid.Nil {
			err = s.patients.Create(ctx, p)
		} else {
			err = s.patients.Update(ctx, p)
		}
		patient = p
		return err
	})
	if err != nil {
		return nil, err
	}
	return s.tokens.Issue(auth.Principal{Subject: patient.ID.String(), Role: auth.RolePatient})
}

// -- Login --

type PatientLoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

func (s *Service) LoginPatient(ctx context.Context, req PatientLoginRequest) (*auth.TokenResponse, error) {
	if err := validation.Struct(req); err != nil {
		return nil, err
	}
	p, err := s.patients.GetByEmail(ctx, req.Email)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if !p.IsRegistered || p.PasswordHash == nil || auth.CheckPassword(*p.PasswordHash, req.Password) != nil {
		return nil, ErrInvalidCredentials
	}
	return s.tokens.Issue(auth.Principal{Subject: p.ID.String(), Role: auth.RolePatient})
}

type OTPRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// StartOTPLogin emails a login code to a known patient. Unknown addresses
// get the same response so the endpoint cannot be used to probe accounts.
func (s *Service) StartOTPLogin(ctx context.Context, req OTPRequest) error {
	if err := validation.Struct(req); err != nil {
		return err
	}
	p, err := s.patients.GetByEmail(ctx, req.Email)
	if errors.Is(err, ErrNotFound) {
		s.logger.Info().Msg("otp login requested for unknown email")
		return nil
	}
	if err != nil {
		return err
	}
	code, err := s.codes.Issue(ctx, loginKey(req.Email), p.ID.String())
	if err != nil {
		return fmt.Errorf("issue code: %w", err)
	}
	return s.sendCode(ctx, notification.Recipient{Name: p.FullName, Email: req.Email}, code)
}

func (s *Service) CompleteOTPLogin(ctx context.Context, req VerifyRequest) (*auth.TokenResponse, error) {
	if err := validation.Struct(req); err != nil {
		return nil, err
	}
	var subject string
	if err := s.codes.Verify(ctx, loginKey(req.Email), req.Code, &subject); err != nil {
		return nil, err
	}
	id, err := uuid.Parse(subject)
	if err != nil {
		return nil, ErrInvalidCredentials
	}
	if _, err := s.patients.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return s.tokens.Issue(auth.Principal{Subject: id.String(), Role: auth.RolePatient})
}

type StaffLoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

func (s *Service) LoginStaff(ctx context.Context, req StaffLoginRequest) (*auth.TokenResponse, error) {
	if err := validation.Struct(req); err != nil {
		return nil, err
	}
	st, err := s.staff.GetByUsername(ctx, req.Username)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if auth.CheckPassword(st.PasswordHash, req.Password) != nil {
		return nil, ErrInvalidCredentials
	}
	return s.tokens.Issue(auth.Principal{Subject: st.ID.String(), Role: st.Role})
}

func (s *Service) sendCode(ctx context.Context, to notification.Recipient, code string) error {
	minutes := int(s.codes.TTL().Minutes())
	err := s.notifier.Send(ctx, notification.OTPCode, to, map[string]string{
		"code":        code,
		"ttl_minutes": strconv.Itoa(minutes),
	})
	if err != nil {
		return fmt.Errorf("send code: %w", err)
	}
	return nil
}

// -- Staff --

type CreateStaffRequest struct {
	Username       string     `json:"username" validate:"required,min=3,max=64"`
	Email          string     `json:"email" validate:"required,email,max=120"`
	Password       string     `json:"password" validate:"required,min=8,max=72"`
	FullName       string     `json:"full_name" validate:"required,max=100"`
	MobileNumber   string     `json:"mobile_number" validate:"omitempty,mobile"`
	Role           auth.Role  `json:"role" validate:"required,oneof=doctor assistant admin"`
	Qualifications string     `json:"qualifications" validate:"max=200"`
	Specialization string     `json:"specialization" validate:"max=100"`
	Position       string     `json:"position" validate:"max=100"`
	JoiningDate    *time.Time `json:"joining_date"`
}

func (s *Service) CreateStaff(ctx context.Context, req CreateStaffRequest) (*Staff, error) {
	if err := validation.Struct(req); err != nil {
		return nil, err
	}
	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		return nil, err
	}
	st := &Staff{
		Username:       req.Username,
		Email:          req.Email,
		PasswordHash:   hash,
		FullName:       req.FullName,
		MobileNumber:   optional(req.MobileNumber),
		Role:           req.Role,
		Qualifications: optional(req.Qualifications),
		Specialization: optional(req.Specialization),
		Position:       optional(req.Position),
		JoiningDate:    req.JoiningDate,
	}
	if err := s.staff.Create(ctx, st); err != nil {
		return nil, err
	}
	s.logger.Info().Str("username", st.Username).Str("role", string(st.Role)).Msg("staff account created")
	return st, nil
}

func (s *Service) GetStaff(ctx context.Context, id uuid.UUID) (*Staff, error) {
	return s.staff.GetByID(ctx, id)
}

func (s *Service) ListStaff(ctx context.Context, role auth.Role) ([]*Staff, error) {
	if role != "" && !role.IsStaff() {
		return nil, fmt.Errorf("%w: unknown staff role %q", validation.ErrInvalid, role)
	}
	return s.staff.List(ctx, role)
}

// StaffContact is where messages for a staff member go.
func (s *Service) StaffContact(ctx context.Context, id uuid.UUID) (notification.Recipient, error) {
	st, err := s.staff.GetByID(ctx, id)
	if err != nil {
		return notification.Recipient{}, err
	}
	return notification.Recipient{Name: st.FullName, Email: st.Email, Mobile: deref(st.MobileNumber)}, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// IsCodeError reports whether err came from a rejected or expired one-time code.
func IsCodeError(err error) bool {
	return errors.Is(err, otp.ErrExpired) || errors.Is(err, otp.ErrInvalidCode)
}
