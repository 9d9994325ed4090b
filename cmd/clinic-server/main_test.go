package main

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/eyeclinic/clinic/internal/config"
	"github.com/eyeclinic/clinic/internal/domain/billing"
	"github.com/eyeclinic/clinic/internal/domain/clinical"
	"github.com/eyeclinic/clinic/internal/domain/identity"
	"github.com/eyeclinic/clinic/internal/domain/review"
	"github.com/eyeclinic/clinic/internal/domain/scheduling"
	"github.com/eyeclinic/clinic/internal/platform/auth"
	"github.com/eyeclinic/clinic/internal/platform/checkout"
	"github.com/eyeclinic/clinic/internal/platform/websocket"
)

func TestResolveSigningKey(t *testing.T) {
	key, generated, err := resolveSigningKey("configured-secret")
	if err != nil || generated || string(key) != "configured-secret" {
		t.Errorf("expected configured key, got %q generated=%v err=%v", key, generated, err)
	}

	a, generated, err := resolveSigningKey("")
	if err != nil || !generated || len(a) != 32 {
		t.Fatalf("expected 32 random bytes, got %d generated=%v err=%v", len(a), generated, err)
	}
	b, _, _ := resolveSigningKey("")
	if string(a) == string(b) {
		t.Error("expected a fresh key per call")
	}
}

func testApp() *app {
	cfg := &config.Config{
		Env:               "development",
		CORSOrigins:       []string{"*"},
		ClinicName:        "Test Clinic",
		RateLimitRequests: 5,
		RateLimitWindow:   time.Minute,
	}
	logger := zerolog.Nop()
	a := &app{cfg: cfg, logger: logger}
	a.tokens = auth.NewTokens(auth.JWTConfig{Issuer: "test", SigningKey: []byte("test-key")})
	a.notes = newNotificationManager(cfg, logger)
	a.identity = identity.NewService(nil, nil, nil, nil, a.tokens, a.notes, logger)
	a.billing = billing.NewService(nil, nil, nil, a.identity, a.notes, logger)
	a.scheduling = scheduling.NewService(nil, nil, a.identity, a.billing, nil, a.notes,
		checkout.DisabledGateway{}, scheduling.Config{}, logger)
	a.live = websocket.NewHub(logger, scheduling.TopicAppointments)
	a.clinical = clinical.NewService(nil, nil, nil, a.scheduling, nil, logger)
	a.reviews = review.NewService(nil, logger)
	return a
}

func TestNewEcho_Routes(t *testing.T) {
	e := newEcho(testApp())

	registered := map[string]bool{}
	for _, r := range e.Routes() {
		registered[r.Method+" "+r.Path] = true
	}
	for _, want := range []string{
		"POST /api/v1/auth/patients/register",
		"POST /api/v1/auth/staff/login",
		"POST /api/v1/appointments",
		"POST /api/v1/appointments/:id/prescription",
		"GET /api/v1/revenue",
		"POST /api/v1/salaries",
		"GET /api/v1/reviews",
		"GET /api/v1/notifications",
		"GET /api/v1/live",
		"GET /health",
		"GET /health/db",
	} {
		if !registered[want] {
			t.Errorf("route %s not registered", want)
		}
	}
}

func TestNewEcho_Health(t *testing.T) {
	e := newEcho(testApp())
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestNewEcho_NotificationsRequireAdmin(t *testing.T) {
	e := newEcho(testApp())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/notifications", nil)
	req.Header.Set("X-Dev-Role", "assistant")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403 for assistant, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/notifications", nil)
	req.Header.Set("X-Dev-Role", "admin")
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 for admin, got %d", rec.Code)
	}
}
