package review

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("review not found")

// Review is public feedback. Only approved reviews are listed publicly.
type Review struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	PatientID   *uuid.UUID `db:"patient_id" json:"patient_id,omitempty"`
	PatientName string     `db:"patient_name" json:"patient_name"`
	Rating      int        `db:"rating" json:"rating"`
	ReviewText  string     `db:"review_text" json:"review_text"`
	IsApproved  bool       `db:"is_approved" json:"is_approved"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
}

type Repository interface {
	Create(ctx context.Context, r *Review) error
	List(ctx context.Context, approved bool, limit, offset int) ([]*Review, int, error)
	Approve(ctx context.Context, id uuid.UUID) (*Review, error)
	Delete(ctx context.Context, id uuid.UUID) error
}
