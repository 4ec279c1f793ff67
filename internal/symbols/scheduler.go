package symbols

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/marketcalls/openalgo-sub020/pkg/utils"
)

// Scheduler refreshes every registered directory daily at a fixed
// pre-market time, retrying transient failures with backoff. A failed
// refresh leaves the stale table in service.
type Scheduler struct {
	directories []*Directory
	hour        int
	minute      int
	location    *time.Location
	retry       utils.RetryConfig
	logger      zerolog.Logger
}

// SchedulerConfig holds refresh scheduling configuration.
type SchedulerConfig struct {
	Hour        int
	Minute      int
	Timezone    string
	MaxAttempts int
}

// NewScheduler creates a refresh scheduler over the given directories.
func NewScheduler(directories []*Directory, cfg SchedulerConfig, logger zerolog.Logger) (*Scheduler, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, err
	}

	retry := utils.DefaultRetryConfig()
	if cfg.MaxAttempts > 0 {
		retry.MaxAttempts = cfg.MaxAttempts
	}

	return &Scheduler{
		directories: directories,
		hour:        cfg.Hour,
		minute:      cfg.Minute,
		location:    loc,
		retry:       retry,
		logger:      logger,
	}, nil
}

// Run blocks, firing a refresh of all directories at the configured
// time each day until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	for {
		next := s.nextRun(time.Now().In(s.location))
		s.logger.Debug().Time("next_refresh", next).Msg("Refresh scheduled")

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		s.RefreshAll(ctx)
	}
}

// RefreshAll refreshes every directory, retrying each with backoff.
// Failures are logged; the previous tables stay in service.
func (s *Scheduler) RefreshAll(ctx context.Context) {
	for _, dir := range s.directories {
		dir := dir
		err := utils.Retry(ctx, s.retry, func() error {
			return dir.Refresh(ctx)
		})
		if err != nil {
			s.logger.Error().
				Str("broker", dir.Broker()).
				Err(err).
				Msg("Scheduled refresh failed, stale table kept in service")
		}
	}
}

func (s *Scheduler) nextRun(now time.Time) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), s.hour, s.minute, 0, 0, s.location)
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
