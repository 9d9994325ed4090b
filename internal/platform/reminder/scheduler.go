// Package reminder drives the periodic appointment reminder scan.
package reminder

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Scanner sends reminders for appointments that fall due relative to now and
// reports how many were sent.
type Scanner interface {
	SendReminders(ctx context.Context, now time.Time) (int, error)
}

// Scheduler calls the scanner once at start and then on every tick.
type Scheduler struct {
	scanner  Scanner
	interval time.Duration
	now      func() time.Time
	logger   zerolog.Logger
}

func NewScheduler(scanner Scanner, interval time.Duration, logger zerolog.Logger) *Scheduler {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Scheduler{
		scanner:  scanner,
		interval: interval,
		now:      time.Now,
		logger:   logger.With().Str("component", "reminder").Logger(),
	}
}

// Start blocks until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info().Dur("interval", s.interval).Msg("reminder scheduler started")
	s.RunOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("reminder scheduler stopped")
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single scan. Errors are logged; the next tick retries.
func (s *Scheduler) RunOnce(ctx context.Context) {
	sent, err := s.scanner.SendReminders(ctx, s.now())
	if err != nil {
		s.logger.Error().Err(err).Msg("reminder scan failed")
		return
	}
	s.logger.Info().Int("sent", sent).Msg("reminder scan complete")
}
