// Package metrics records per-run Prometheus metrics and pushes them to a
// Pushgateway, the usual sink for short-lived batch jobs.
package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Outcome labels.
const (
	OutcomeSuccess = "success"
	OutcomeDryRun  = "dry_run"
	OutcomeFailure = "failure"
)

// Config configures the push target.
type Config struct {
	PushgatewayURL string        `mapstructure:"pushgateway_url"`
	Job            string        `mapstructure:"job"`
	Timeout        time.Duration `mapstructure:"timeout"`
}

// Recorder holds the run metrics in a private registry.
type Recorder struct {
	registry *prometheus.Registry
	cfg      Config
	logger   zerolog.Logger

	RunsTotal       *prometheus.CounterVec
	StageDuration   *prometheus.HistogramVec
	LastSuccess     prometheus.Gauge
	ReportedRate    *prometheus.GaugeVec
	FetchedCurrency prometheus.Gauge
}

// NewRecorder registers the run metrics.
func NewRecorder(cfg Config, logger zerolog.Logger) *Recorder {
	if cfg.Job == "" {
		cfg.Job = "fx_notifier"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}

	r := &Recorder{
		registry: prometheus.NewRegistry(),
		cfg:      cfg,
		logger:   logger.With().Str("component", "metrics").Logger(),
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fxnotifier_runs_total",
			Help: "Pipeline runs by outcome and failure kind.",
		}, []string{"outcome", "kind"}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fxnotifier_stage_duration_seconds",
			Help:    "Duration of each pipeline stage.",
			Buckets: prometheus.DefBuckets,
		}, []string{"stage"}),
		LastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fxnotifier_last_success_timestamp_seconds",
			Help: "Unix time of the last successful run.",
		}),
		ReportedRate: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "fxnotifier_reported_rate",
			Help: "Last reported rate per currency pair.",
		}, []string{"base", "quote", "derived"}),
		FetchedCurrency: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fxnotifier_fetched_currencies",
			Help: "Number of currencies returned by the rate API in the last run.",
		}),
	}

	r.registry.MustRegister(r.RunsTotal, r.StageDuration, r.LastSuccess, r.ReportedRate, r.FetchedCurrency)
	return r
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// ObserveStage records the time elapsed since start for stage.
func (r *Recorder) ObserveStage(stage string, start time.Time) {
	r.StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}

// RecordRun counts one finished run. kind is empty on success. Only a
// delivered run moves LastSuccess.
func (r *Recorder) RecordRun(outcome, kind string, at time.Time) {
	r.RunsTotal.WithLabelValues(outcome, kind).Inc()
	if outcome == OutcomeSuccess {
		r.LastSuccess.Set(float64(at.Unix()))
	}
}

// RecordRate publishes the reported rate for base/quote.
func (r *Recorder) RecordRate(base, quote string, rate decimal.Decimal, derived bool) {
	r.ReportedRate.WithLabelValues(base, quote, fmt.Sprintf("%t", derived)).Set(rate.InexactFloat64())
}

// Enabled reports whether a push target is configured.
func (r *Recorder) Enabled() bool {
	return r.cfg.PushgatewayURL != ""
}

// Push sends the registry to the Pushgateway. Without a target it is a no-op.
func (r *Recorder) Push(ctx context.Context) error {
	if !r.Enabled() {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	if err := push.New(r.cfg.PushgatewayURL, r.cfg.Job).Gatherer(r.registry).PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics: %w", err)
	}
	r.logger.Debug().Str("job", r.cfg.Job).Msg("metrics pushed")
	return nil
}
