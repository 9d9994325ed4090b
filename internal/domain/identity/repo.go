package identity

import (
	"context"

	"github.com/google/uuid"

	"github.com/eyeclinic/clinic/internal/platform/auth"
)

type PatientRepository interface {
	Create(ctx context.Context, p *Patient) error
	GetByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	GetByMobile(ctx context.Context, mobile string) (*Patient, error)
	GetByEmail(ctx context.Context, email string) (*Patient, error)
	Update(ctx context.Context, p *Patient) error
	Count(ctx context.Context) (int, error)
	Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Patient, int, error)
}

type StaffRepository interface {
	Create(ctx context.Context, s *Staff) error
	GetByID(ctx context.Context, id uuid.UUID) (*Staff, error)
	GetByUsername(ctx context.Context, username string) (*Staff, error)
	// List returns staff with role, or everyone when role is empty.
	List(ctx context.Context, role auth.Role) ([]*Staff, error)
}
