package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// DefaultRolloverSpec fires just after local midnight.
const DefaultRolloverSpec = "0 0 * * *"

// Scheduler applies the daily rollover on a cron schedule so the persisted
// snapshot reflects the new day even when no request arrives.
type Scheduler struct {
	cron   *cron.Cron
	ledger *Ledger
	logger zerolog.Logger
}

// NewScheduler registers the rollover job. spec uses standard five-field cron
// syntax; empty means DefaultRolloverSpec.
func NewScheduler(l *Ledger, spec string, logger zerolog.Logger) (*Scheduler, error) {
	if l == nil {
		return nil, fmt.Errorf("ledger is required")
	}
	if spec == "" {
		spec = DefaultRolloverSpec
	}

	s := &Scheduler{
		cron:   cron.New(cron.WithLocation(time.Local)),
		ledger: l,
		logger: logger,
	}
	if _, err := s.cron.AddFunc(spec, s.rollover); err != nil {
		return nil, fmt.Errorf("invalid rollover schedule %q: %w", spec, err)
	}
	return s, nil
}

func (s *Scheduler) rollover() {
	s.ledger.Rollover()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.ledger.Flush(ctx); err != nil {
		s.logger.Error().Err(err).Msg("Failed to persist ledger after rollover")
		return
	}
	s.logger.Info().Msg("Quota ledger rolled over")
}

// Start runs the scheduler in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops the scheduler and waits for a running job.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
