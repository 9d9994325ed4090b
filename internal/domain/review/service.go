package review

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/eyeclinic/clinic/internal/platform/auth"
	"github.com/eyeclinic/clinic/internal/platform/validation"
)

type Service struct {
	repo   Repository
	logger zerolog.Logger
}

func NewService(repo Repository, logger zerolog.Logger) *Service {
	return &Service{repo: repo, logger: logger.With().Str("component", "review").Logger()}
}

type SubmitRequest struct {
	PatientName string `json:"patient_name" validate:"required,min=3,max=100"`
	Rating      int    `json:"rating" validate:"required,min=1,max=5"`
	ReviewText  string `json:"review_text" validate:"required,min=10,max=500"`
}

// Submit stores a review awaiting moderation. Reviews posted by a signed-in
// patient are linked to that patient.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*Review, error) {
	if err := validation.Struct(req); err != nil {
		return nil, err
	}
	rv := &Review{PatientName: req.PatientName, Rating: req.Rating, ReviewText: req.ReviewText}
	if p, ok := auth.PrincipalFromContext(ctx); ok && p.Role == auth.RolePatient {
		if id, err := uuid.Parse(p.Subject); err == nil {
			rv.PatientID = &id
		}
	}
	if err := s.repo.Create(ctx, rv); err != nil {
		return nil, err
	}
	return rv, nil
}

func (s *Service) ListApproved(ctx context.Context, limit, offset int) ([]*Review, int, error) {
	return s.repo.List(ctx, true, limit, offset)
}

func (s *Service) ListPending(ctx context.Context, limit, offset int) ([]*Review, int, error) {
	return s.repo.List(ctx, false, limit, offset)
}

func (s *Service) Approve(ctx context.Context, id uuid.UUID) (*Review, error) {
	rv, err := s.repo.Approve(ctx, id)
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("review_id", id.String()).Msg("review approved")
	return rv, nil
}

func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	return s.repo.Delete(ctx, id)
}
