package main

import (
	"context"
	"crypto/rand"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/eyeclinic/clinic/internal/config"
	"github.com/eyeclinic/clinic/internal/domain/billing"
	"github.com/eyeclinic/clinic/internal/domain/clinical"
	"github.com/eyeclinic/clinic/internal/domain/identity"
	"github.com/eyeclinic/clinic/internal/domain/review"
	"github.com/eyeclinic/clinic/internal/domain/scheduling"
	"github.com/eyeclinic/clinic/internal/platform/auth"
	"github.com/eyeclinic/clinic/internal/platform/checkout"
	"github.com/eyeclinic/clinic/internal/platform/db"
	"github.com/eyeclinic/clinic/internal/platform/middleware"
	"github.com/eyeclinic/clinic/internal/platform/notification"
	"github.com/eyeclinic/clinic/internal/platform/otp"
	"github.com/eyeclinic/clinic/internal/platform/reminder"
	"github.com/eyeclinic/clinic/internal/platform/websocket"
)

// app holds the wired services shared by the server and the one-shot
// commands.
type app struct {
	cfg    *config.Config
	logger zerolog.Logger
	pool   *pgxpool.Pool
	redis  *redis.Client
	tokens *auth.Tokens
	notes  *notification.Manager
	live   *websocket.Hub

	identity   *identity.Service
	scheduling *scheduling.Service
	clinical   *clinical.Service
	billing    *billing.Service
	reviews    *review.Service
}

func newLogger(dev bool) zerolog.Logger {
	if dev {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func bootstrap(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	logger := newLogger(cfg.IsDev())

	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	signingKey, generated, err := resolveSigningKey(cfg.AuthSigningKey)
	if err != nil {
		return nil, err
	}
	if generated {
		logger.Warn().Msg("AUTH_SIGNING_KEY not set, using an ephemeral key; tokens will not survive a restart")
	}

	pool, err := db.NewPool(ctx, poolConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("REDIS_URL: %w", err)
	}
	rdb := redis.NewClient(redisOpts)

	a := &app{cfg: cfg, logger: logger, pool: pool, redis: rdb}
	a.tokens = auth.NewTokens(auth.JWTConfig{Issuer: cfg.AuthIssuer, SigningKey: signingKey, TTL: cfg.AuthTokenTTL})
	a.notes = newNotificationManager(cfg, logger)

	var gateway checkout.Gateway = checkout.DisabledGateway{}
	if cfg.PaymentsEnabled() {
		gateway = checkout.NewRazorpayGateway(cfg.RazorpayKeyID, cfg.RazorpayKeySecret)
	}

	tx := db.NewTxManager(pool)

	a.identity = identity.NewService(identity.NewPatientRepo(pool), identity.NewStaffRepo(pool), tx,
		otp.NewStore(rdb, cfg.OTPTTL), a.tokens, a.notes, logger)
	a.billing = billing.NewService(billing.NewTreatmentRepoPG(pool), billing.NewSalaryRepoPG(pool),
		billing.NewPaymentLedgerPG(pool), a.identity, a.notes, logger)
	a.scheduling = scheduling.NewService(scheduling.NewAppointmentRepoPG(pool), scheduling.NewPaymentRepoPG(pool),
		a.identity, a.billing, tx, a.notes, gateway, scheduling.Config{
			Location:        loc,
			ConsultationFee: cfg.ConsultationFee,
			GatewaySecret:   cfg.RazorpayKeySecret,
		}, logger)
	a.live = websocket.NewHub(logger, scheduling.TopicAppointments)
	a.scheduling.SetPublisher(a.live)
	a.clinical = clinical.NewService(clinical.NewMedicalRecordRepoPG(pool), clinical.NewDoctorPrescriptionRepoPG(pool),
		clinical.NewOptometristPrescriptionRepoPG(pool), a.scheduling, tx, logger)
	a.reviews = review.NewService(review.NewRepoPG(pool), logger)

	return a, nil
}

func poolConfig(cfg *config.Config) db.PoolConfig {
	return db.PoolConfig{
		URL:      cfg.DatabaseURL,
		MaxConns: cfg.DBMaxConns,
		MinConns: cfg.DBMinConns,
		TimeZone: cfg.ClinicTimezone,
	}
}

func (a *app) Close() {
	if err := a.redis.Close(); err != nil {
		a.logger.Warn().Err(err).Msg("close redis")
	}
	a.pool.Close()
}

func newNotificationManager(cfg *config.Config, logger zerolog.Logger) *notification.Manager {
	noop := notification.NoopSender{Logger: logger}

	var email notification.EmailSender = noop
	if cfg.EmailEnabled() {
		from := cfg.SMTPFrom
		if from == "" {
			from = cfg.ClinicEmail
		}
		email = notification.NewSMTPSender(notification.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     from,
		})
	}

	var sms notification.SMSSender = noop
	if cfg.SMSEnabled() {
		sms = notification.NewTwilioSender(notification.TwilioConfig{
			AccountSID:  cfg.TwilioAccountSID,
			AuthToken:   cfg.TwilioAuthToken,
			FromNumber:  cfg.TwilioFromNumber,
			CountryCode: cfg.TwilioCountryCode,
		})
	}

	defaults := map[string]string{"clinic_name": cfg.ClinicName}
	if cfg.ClinicEmail != "" {
		defaults["clinic_email"] = cfg.ClinicEmail
	}
	return notification.NewManager(email, sms, notification.NewTemplateEngine(), defaults, logger)
}

// resolveSigningKey returns the configured key, or a random one when none is
// set. Config validation only allows the latter in development.
func resolveSigningKey(configured string) ([]byte, bool, error) {
	if configured != "" {
		return []byte(configured), false, nil
	}
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, false, fmt.Errorf("generate signing key: %w", err)
	}
	return key, true, nil
}

func newEcho(a *app) *echo.Echo {
	cfg, logger := a.cfg, a.logger

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders(!cfg.IsDev()))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))

	// Auth middleware
	if cfg.IsDev() {
		e.Use(auth.DevAuthMiddleware(a.tokens))
	} else {
		e.Use(auth.JWTMiddleware(a.tokens))
	}

	apiV1 := e.Group("/api/v1")

	// Login, registration and OTP endpoints are rate limited per client.
	limit := middleware.RateLimitConfig{Requests: cfg.RateLimitRequests, Window: cfg.RateLimitWindow}
	if limit.Requests <= 0 || limit.Window <= 0 {
		limit = middleware.DefaultRateLimitConfig()
	}
	public := apiV1.Group("", middleware.RateLimit(middleware.NewRedisLimiter(a.redis, limit), logger))

	identity.NewHandler(a.identity).RegisterRoutes(public, apiV1)
	scheduling.NewHandler(a.scheduling).RegisterRoutes(apiV1)
	clinical.NewHandler(a.clinical).RegisterRoutes(apiV1)
	billing.NewHandler(a.billing).RegisterRoutes(apiV1)
	review.NewHandler(a.reviews).RegisterRoutes(apiV1)
	notification.NewHandler(a.notes).RegisterRoutes(apiV1.Group("", auth.RequireRole(auth.RoleAdmin)))
	websocket.NewHandler(a.live, cfg.CORSOrigins, scheduling.TopicAppointments).
		RegisterRoutes(apiV1.Group("", auth.RequireStaff()))

	// Health check
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": "0.1.0",
		})
	})
	e.GET("/health/db", db.HealthHandler(db.PoolCheck(a.pool), db.Check{Name: "redis", Ping: func(ctx context.Context) error {
		return a.redis.Ping(ctx).Err()
	}}))

	return e
}

func runServer() error {
	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	a, err := bootstrap(ctx)
	if err != nil {
		startupLogger := newLogger(os.Getenv("ENV") == "development")
		startupLogger.Error().Err(err).Msg("startup failed")
		return err
	}
	defer a.Close()
	logger := a.logger
	logger.Info().Msg("connected to database")

	e := newEcho(a)

	// Reminder scanner
	go reminder.NewScheduler(a.scheduling, a.cfg.ReminderInterval, logger).Start(ctx)

	// Graceful shutdown
	go func() {
		addr := ":" + a.cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}
