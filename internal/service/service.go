package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"fx-notifier/internal/fetcher"
	"fx-notifier/internal/metrics"
	"fx-notifier/internal/notify"
	"fx-notifier/internal/rates"
	"fx-notifier/internal/report"
	"fx-notifier/internal/scheduler"
)

// Failure kinds used as the metrics "kind" label.
const (
	KindFetch       = "fetch"
	KindParse       = "parse"
	KindMissingRate = "missing_rate"
	KindDelivery    = "delivery"
	KindUnknown     = "unknown"
)

// Options describe what a run fetches and reports.
type Options struct {
	Base             string
	FetchCurrencies  []string
	ReportCurrencies []string
	Peg              rates.Peg
	Location         *time.Location
	DryRun           bool
}

// Service runs the fetch, derive, format and send pipeline.
type Service struct {
	opts      Options
	fetcher   fetcher.RateFetcher
	formatter *report.Formatter
	sender    notify.Sender
	recorder  *metrics.Recorder
	scheduler *scheduler.Scheduler
	logger    zerolog.Logger
}

// Result summarises a completed run.
type Result struct {
	RunID   string
	Message string
	Rates   rates.RateSet
	DryRun  bool
}

// New constructs the pipeline service. recorder and sched may be nil.
func New(opts Options, f fetcher.RateFetcher, formatter *report.Formatter, sender notify.Sender, recorder *metrics.Recorder, sched *scheduler.Scheduler, logger zerolog.Logger) *Service {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &Service{
		opts:      opts,
		fetcher:   f,
		formatter: formatter,
		sender:    sender,
		recorder:  recorder,
		scheduler: sched,
		logger:    logger.With().Str("component", "service").Logger(),
	}
}

// Run invokes RunOnce on every scheduler activation until ctx is done.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.scheduler.Run(ctx, func(ctx context.Context, at time.Time) error {
		_, err := s.RunOnce(ctx, at)
		return err
	})
}

// RunOnce executes the pipeline a single time. The first failing stage
// aborts the run, so nothing is sent unless every rate was resolved.
func (s *Service) RunOnce(ctx context.Context, at time.Time) (Result, error) {
	runID := uuid.NewString()
	logger := s.logger.With().Str("run_id", runID).Logger()
	result := Result{RunID: runID, DryRun: s.opts.DryRun}

	defer s.pushMetrics(ctx, logger)

	logger.Info().Str("base", s.opts.Base).
		Strs("symbols", s.opts.FetchCurrencies).
		Bool("dry_run", s.opts.DryRun).
		Msg("run started")

	start := time.Now()
	fetched, err := s.fetcher.Fetch(ctx, s.opts.Base, s.opts.FetchCurrencies)
	s.observe("fetch", start)
	if err != nil {
		return result, s.fail(logger, at, err)
	}
	if s.recorder != nil {
		s.recorder.FetchedCurrency.Set(float64(fetched.Len()))
	}

	start = time.Now()
	derived, err := rates.Derive(fetched, s.opts.ReportCurrencies, s.opts.Peg)
	s.observe("derive", start)
	if err != nil {
		return result, s.fail(logger, at, err)
	}
	result.Rates = derived

	start = time.Now()
	message, err := s.formatter.Format(derived, s.opts.ReportCurrencies, at.In(s.opts.Location))
	s.observe("format", start)
	if err != nil {
		return result, s.fail(logger, at, err)
	}
	result.Message = message

	start = time.Now()
	err = s.sender.Send(ctx, message)
	s.observe("send", start)
	if err != nil {
		return result, s.fail(logger, at, err)
	}

	outcome := metrics.OutcomeSuccess
	if s.opts.DryRun {
		outcome = metrics.OutcomeDryRun
	}
	if s.recorder != nil {
		for _, code := range s.opts.ReportCurrencies {
			rate, _ := derived.Get(code)
			s.recorder.RecordRate(derived.Base, code, rate, derived.IsDerived(code))
		}
		s.recorder.RecordRun(outcome, "", at)
	}

	logger.Info().Str("outcome", outcome).
		Str("rate_date", derived.Date).
		Int("currencies", len(s.opts.ReportCurrencies)).
		Msg("run completed")
	return result, nil
}

func (s *Service) fail(logger zerolog.Logger, at time.Time, err error) error {
	kind := FailureKind(err)
	logger.Error().Err(err).Str("kind", kind).Msg("run failed")
	if s.recorder != nil {
		s.recorder.RecordRun(metrics.OutcomeFailure, kind, at)
	}
	return err
}

func (s *Service) observe(stage string, start time.Time) {
	if s.recorder != nil {
		s.recorder.ObserveStage(stage, start)
	}
}

// Push failures never change the outcome of a run.
func (s *Service) pushMetrics(ctx context.Context, logger zerolog.Logger) {
	if s.recorder == nil {
		return
	}
	if err := s.recorder.Push(context.WithoutCancel(ctx)); err != nil {
		logger.Warn().Err(err).Msg("failed to push metrics")
	}
}

// FailureKind classifies err into one of the Kind constants.
func FailureKind(err error) string {
	var (
		fetchErr    *fetcher.FetchError
		parseErr    *fetcher.ParseError
		missingErr  *rates.MissingRateError
		deliveryErr *notify.DeliveryError
	)
	switch {
	case errors.As(err, &fetchErr):
		return KindFetch
	case errors.As(err, &parseErr):
		return KindParse
	case errors.As(err, &missingErr):
		return KindMissingRate
	case errors.As(err, &deliveryErr):
		return KindDelivery
	default:
		return KindUnknown
	}
}
