package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"fx-notifier/internal/config"
	"fx-notifier/internal/fetcher"
	"fx-notifier/internal/metrics"
	"fx-notifier/internal/notify"
	"fx-notifier/internal/report"
	"fx-notifier/internal/scheduler"
	"fx-notifier/internal/service"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	// Stdout receives the dry-run message, the test-send response and probe output.
	Stdout io.Writer
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger, stdout io.Writer) *App {
	if stdout == nil {
		stdout = os.Stdout
	}
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger(), Stdout: stdout}
}

func (a *App) newFetcher() *fetcher.Client {
	cfg := a.Config.Rates
	return fetcher.NewClient(fetcher.Options{
		URL:            cfg.APIURL,
		AccessKey:      cfg.AccessKey,
		AccessKeyParam: cfg.AccessKeyParam,
		Timeout:        cfg.RequestTimeout,
		UserAgent:      cfg.UserAgent,
	}, a.Logger)
}

func (a *App) newTelegram() *notify.TelegramSender {
	cfg := a.Config.Telegram
	return notify.NewTelegramSender(cfg.BotToken, cfg.ChatID, cfg.APIBase, cfg.RequestTimeout, a.Logger)
}

func (a *App) newSender() notify.Sender {
	if a.Config.Run.DryRun {
		return notify.NewDryRunSender(a.Stdout, a.Logger)
	}
	return a.newTelegram()
}

func (a *App) newService(sched *scheduler.Scheduler) *service.Service {
	formatter := report.NewFormatter(report.Options{
		Precision:   int32(a.Config.Report.Precision),
		SourceLabel: a.Config.Report.SourceLabel,
		Peg:         a.Config.Peg(),
	})

	return service.New(service.Options{
		Base:             a.Config.Rates.BaseCurrency,
		FetchCurrencies:  a.Config.Rates.FetchCurrencies,
		ReportCurrencies: a.Config.Report.Currencies,
		Peg:              a.Config.Peg(),
		Location:         a.Config.Location(),
		DryRun:           a.Config.Run.DryRun,
	}, a.newFetcher(), formatter, a.newSender(), metrics.NewRecorder(a.Config.Metrics, a.Logger), sched, a.Logger)
}

// Notify runs the pipeline once. In test-send mode it only sends the fixed
// test message.
func (a *App) Notify(ctx context.Context) (service.Result, error) {
	if a.Config.Run.TestSend {
		return service.Result{DryRun: a.Config.Run.DryRun}, a.TestSend(ctx)
	}
	return a.newService(nil).RunOnce(ctx, time.Now())
}

// TestSend performs a single sendMessage call with notify.TestMessage and
// prints the raw Telegram response, failing with the send error when
// Telegram rejects it. In dry-run it prints the text instead.
func (a *App) TestSend(ctx context.Context) error {
	if a.Config.Run.DryRun {
		a.Logger.Info().Msg("dry run: test message not sent")
		_, err := fmt.Fprintln(a.Stdout, notify.TestMessage)
		return err
	}

	body, sendErr := a.newTelegram().SendRaw(ctx, notify.TestMessage)
	if len(body) > 0 {
		if _, err := fmt.Fprintln(a.Stdout, string(body)); err != nil && sendErr == nil {
			return err
		}
	}
	return sendErr
}

// Probe prints the uninterpreted rate API response for the configured request.
func (a *App) Probe(ctx context.Context) error {
	result, err := a.newFetcher().Probe(ctx, a.Config.Rates.BaseCurrency, a.Config.Rates.FetchCurrencies)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(a.Stdout, "GET %s\nstatus: %d\n%s\n", result.URL, result.Status, result.Body)
	return err
}

// Schedule runs the pipeline on the configured cron schedule until SIGINT or
// SIGTERM.
func (a *App) Schedule(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	loc, err := a.Config.SchedulerLocation()
	if err != nil {
		return err
	}
	sched, err := scheduler.New(scheduler.Options{
		Spec:     a.Config.Scheduler.Spec,
		Location: loc,
		RunNow:   a.Config.Scheduler.RunNow,
	}, a.Logger)
	if err != nil {
		return &config.ConfigError{Field: "scheduler.spec", Err: err}
	}

	a.Logger.Info().Msg("starting notifier schedule")
	err = a.newService(sched).Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("schedule terminated with error")
		return err
	}

	a.Logger.Info().Msg("notifier schedule stopped")
	return nil
}
