package auth

import (
	"context"
	"fmt"
)

// Role is the capability an authenticated caller acts with.
type Role string

const (
	RolePatient   Role = "patient"
	RoleAssistant Role = "assistant"
	RoleDoctor    Role = "doctor"
	RoleAdmin     Role = "admin"
)

// IsStaff reports whether the role belongs to clinic staff.
func (r Role) IsStaff() bool {
	return r == RoleAssistant || r == RoleDoctor || r == RoleAdmin
}

func (r Role) Valid() bool {
	switch r {
	case RolePatient, RoleAssistant, RoleDoctor, RoleAdmin:
		return true
	}
	return false
}

// ParseRole converts a claim or flag value into a Role.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.Valid() {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}

// Principal identifies the caller of a request. Subject is the patient or
// staff id as issued in the token.
type Principal struct {
	Subject string `json:"subject"`
	Role    Role   `json:"role"`
}

type contextKey string

const PrincipalKey contextKey = "principal"

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, PrincipalKey, p)
}

// PrincipalFromContext returns the authenticated caller, if any.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(PrincipalKey).(Principal)
	return p, ok
}
