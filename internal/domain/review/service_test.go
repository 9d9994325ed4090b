package review

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/eyeclinic/clinic/internal/platform/auth"
	"github.com/eyeclinic/clinic/internal/platform/validation"
)

type mockRepo struct {
	items map[uuid.UUID]*Review
}

func newMockRepo() *mockRepo {
	return &mockRepo{items: make(map[uuid.UUID]*Review)}
}

func (m *mockRepo) Create(_ context.Context, r *Review) error {
	r.ID = uuid.New()
	r.CreatedAt = time.Now()
	m.items[r.ID] = r
	return nil
}

func (m *mockRepo) List(_ context.Context, approved bool, limit, offset int) ([]*Review, int, error) {
	var out []*Review
	for _, r := range m.items {
		if r.IsApproved == approved {
			out = append(out, r)
		}
	}
	return out, len(out), nil
}

func (m *mockRepo) Approve(_ context.Context, id uuid.UUID) (*Review, error) {
	r, ok := m.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	r.IsApproved = true
	return r, nil
}

func (m *mockRepo) Delete(_ context.Context, id uuid.UUID) error {
	if _, ok := m.items[id]; !ok {
		return ErrNotFound
	}
	delete(m.items, id)
	return nil
}

func newTestService() (*Service, *mockRepo) {
	repo := newMockRepo()
	return NewService(repo, zerolog.Nop()), repo
}

func goodReview() SubmitRequest {
	return SubmitRequest{PatientName: "Asha Rao", Rating: 5, ReviewText: "Very thorough eye exam."}
}

func TestSubmit_Anonymous(t *testing.T) {
	svc, _ := newTestService()
	rv, err := svc.Submit(context.Background(), goodReview())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rv.IsApproved || rv.PatientID != nil {
		t.Errorf("expected unlinked pending review, got %+v", rv)
	}
}

func TestSubmit_LinksPatient(t *testing.T) {
	svc, _ := newTestService()
	me := uuid.New()
	ctx := auth.WithPrincipal(context.Background(), auth.Principal{Subject: me.String(), Role: auth.RolePatient})
	rv, err := svc.Submit(ctx, goodReview())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rv.PatientID == nil || *rv.PatientID != me {
		t.Errorf("expected review linked to %s", me)
	}
}

func TestSubmit_Validation(t *testing.T) {
	svc, _ := newTestService()
	tests := []struct {
		name   string
		mutate func(*SubmitRequest)
		field  string
	}{
		{"rating too high", func(r *SubmitRequest) { r.Rating = 6 }, "rating"},
		{"rating zero", func(r *SubmitRequest) { r.Rating = 0 }, "rating"},
		{"text too short", func(r *SubmitRequest) { r.ReviewText = "good" }, "review_text"},
		{"name too short", func(r *SubmitRequest) { r.PatientName = "Al" }, "patient_name"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := goodReview()
			tt.mutate(&req)
			_, err := svc.Submit(context.Background(), req)
			var verr *validation.Error
			if !errors.As(err, &verr) || verr.Fields[tt.field] == "" {
				t.Errorf("expected error on %s, got %v", tt.field, err)
			}
		})
	}
}

func TestModeration(t *testing.T) {
	svc, _ := newTestService()
	a, _ := svc.Submit(context.Background(), goodReview())
	svc.Submit(context.Background(), goodReview())

	if _, err := svc.Approve(context.Background(), a.ID); err != nil {
		t.Fatalf("approve: %v", err)
	}
	approved, _, _ := svc.ListApproved(context.Background(), 20, 0)
	pending, _, _ := svc.ListPending(context.Background(), 20, 0)
	if len(approved) != 1 || len(pending) != 1 {
		t.Errorf("expected 1 approved and 1 pending, got %d and %d", len(approved), len(pending))
	}
	if _, err := svc.Approve(context.Background(), uuid.New()); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
