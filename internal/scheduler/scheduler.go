package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// PassFunc runs one analysis pass started at the given time.
type PassFunc func(ctx context.Context, at time.Time) error

// Options tune scheduler behaviour.
type Options struct {
	Interval       time.Duration
	StartupDelay   time.Duration
	RunImmediately bool
}

// Scheduler repeats analysis passes on a fixed interval. Passes never
// overlap: the next one is scheduled from the end of the previous one.
type Scheduler struct {
	opts   Options
	logger zerolog.Logger
	now    func() time.Time
}

// New constructs a Scheduler instance.
func New(opts Options, logger zerolog.Logger) *Scheduler {
	if opts.Interval <= 0 {
		panic("scheduler interval must be positive")
	}
	return &Scheduler{
		opts:   opts,
		logger: logger.With().Str("component", "scheduler").Logger(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Run blocks, invoking pass until ctx is cancelled. Pass errors are logged
// and do not stop the loop.
func (s *Scheduler) Run(ctx context.Context, pass PassFunc) error {
	if s.opts.StartupDelay > 0 {
		if err := sleep(ctx, s.opts.StartupDelay); err != nil {
			return err
		}
	}

	if s.opts.RunImmediately {
		s.execute(ctx, pass)
	}

	for {
		next := s.now().Add(s.opts.Interval)
		s.logger.Debug().Time("next_pass", next).Msg("waiting for next pass")
		if err := sleep(ctx, s.opts.Interval); err != nil {
			return err
		}
		s.execute(ctx, pass)
	}
}

func (s *Scheduler) execute(ctx context.Context, pass PassFunc) {
	at := s.now()
	s.logger.Info().Time("pass", at).Msg("starting analysis pass")
	if err := pass(ctx, at); err != nil {
		s.logger.Error().Err(err).Time("pass", at).Msg("analysis pass failed")
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
