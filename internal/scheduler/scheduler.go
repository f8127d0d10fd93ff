package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// TickFunc is invoked on every scheduled activation.
type TickFunc func(ctx context.Context, at time.Time) error

// Options tune scheduler behaviour.
type Options struct {
	Spec     string
	Location *time.Location
	RunNow   bool
}

// Scheduler triggers a job on a cron expression in a fixed location.
type Scheduler struct {
	opts     Options
	schedule cron.Schedule
	logger   zerolog.Logger
}

var specParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// New parses opts.Spec and constructs a Scheduler.
func New(opts Options, logger zerolog.Logger) (*Scheduler, error) {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	schedule, err := specParser.Parse(opts.Spec)
	if err != nil {
		return nil, fmt.Errorf("parse schedule %q: %w", opts.Spec, err)
	}
	return &Scheduler{
		opts:     opts,
		schedule: schedule,
		logger:   logger.With().Str("component", "scheduler").Logger(),
	}, nil
}

// Next returns the first activation strictly after t.
func (s *Scheduler) Next(t time.Time) time.Time {
	return s.schedule.Next(t.In(s.opts.Location))
}

// Run blocks, invoking tick on every activation until ctx is cancelled.
// Ticks never overlap; a tick still running when the next one is due makes
// the scheduler skip that activation.
func (s *Scheduler) Run(ctx context.Context, tick TickFunc) error {
	if s.opts.RunNow {
		s.invoke(ctx, tick, time.Now().In(s.opts.Location))
	}

	c := cron.New(
		cron.WithLocation(s.opts.Location),
		cron.WithParser(specParser),
		cron.WithChain(cron.SkipIfStillRunning(cronLogger{s.logger})),
	)
	c.Schedule(s.schedule, cron.FuncJob(func() {
		s.invoke(ctx, tick, time.Now().In(s.opts.Location))
	}))

	s.logger.Info().Str("spec", s.opts.Spec).
		Str("location", s.opts.Location.String()).
		Time("next_run", s.Next(time.Now())).
		Msg("scheduler started")

	c.Start()
	<-ctx.Done()
	stopCtx := c.Stop()
	<-stopCtx.Done()

	return ctx.Err()
}

func (s *Scheduler) invoke(ctx context.Context, tick TickFunc, at time.Time) {
	if ctx.Err() != nil {
		return
	}
	s.logger.Info().Time("at", at).Msg("executing scheduled run")
	if err := tick(ctx, at); err != nil {
		s.logger.Error().Err(err).Time("at", at).Msg("scheduled run failed")
	}
	s.logger.Debug().Time("next_run", s.Next(time.Now())).Msg("waiting for next run")
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
