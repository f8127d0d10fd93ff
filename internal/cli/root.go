package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/gookit/color"
	"github.com/spf13/cobra"

	"fx-notifier/internal/app"
	"fx-notifier/internal/config"
	"fx-notifier/internal/fetcher"
	"fx-notifier/internal/logging"
	"fx-notifier/internal/notify"
	"fx-notifier/internal/rates"
)

// Exit codes returned by Run.
const (
	ExitOK          = 0
	ExitUnexpected  = 1
	ExitConfig      = 2
	ExitFetch       = 3
	ExitParse       = 4
	ExitMissingRate = 5
	ExitDelivery    = 6
)

// skipDeliveryAnnotation marks commands that never talk to Telegram.
const skipDeliveryAnnotation = "fx-notifier/skip-delivery"

type rootOptions struct {
	cfgFile string
	envFile string
	stdout  io.Writer
	stderr  io.Writer
	app     *app.App
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	opts := &rootOptions{stdout: stdout, stderr: stderr}

	cmd := &cobra.Command{
		Use:   "fx-notifier",
		Short: "Send daily exchange rates to a Telegram chat",
		Long: "Fetches the latest exchange rates, derives pegged currencies, " +
			"and delivers a formatted summary to Telegram.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.init(cmd)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := opts.app.Notify(cmd.Context())
			if err != nil {
				return err
			}
			switch {
			case opts.app.Config.Run.TestSend:
				opts.success("test message done")
			case result.DryRun:
				opts.success("dry run complete, message not sent")
			default:
				opts.success("rates sent to Telegram")
			}
			return nil
		},
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.cfgFile, "config", "", "Path to YAML configuration file")
	flags.StringVar(&opts.envFile, "env-file", "", "Path to dotenv file (default .env when present)")
	flags.String("log-level", "", "Override log level defined in config")
	flags.Bool("dry-run", false, "Print the message instead of sending it")
	flags.String("pairs", "", "Currency pairs, e.g. EUR/USD,EUR/AZN or USD,AZN")
	flags.String("timezone", "", "IANA timezone for the message date")
	flags.String("token", "", "Telegram bot token")
	flags.String("chat-id", "", "Telegram chat id")
	flags.Bool("test-send", false, "Send a fixed test message and print the raw response")

	cmd.AddCommand(newScheduleCmd(opts))
	cmd.AddCommand(newProbeCmd(opts))
	cmd.AddCommand(newVersionCmd())

	return cmd
}

func (o *rootOptions) init(cmd *cobra.Command) error {
	if o.app != nil {
		return nil
	}

	cfg, err := config.Load(config.LoadOptions{
		ConfigFile:   o.cfgFile,
		EnvFile:      o.envFile,
		Flags:        cmd.Flags(),
		SkipDelivery: cmd.Annotations[skipDeliveryAnnotation] == "true",
	})
	if err != nil {
		return err
	}

	logOut := o.stderr
	if strings.EqualFold(cfg.Logging.Output, "stdout") {
		logOut = o.stdout
	}
	logger := logging.NewLoggerTo(logOut, cfg.Logging)
	o.app = app.NewApp(cfg, logger, o.stdout)
	return nil
}

func (o *rootOptions) success(msg string) {
	fmt.Fprintln(o.stderr, color.Green.Sprint(msg))
}

// Run executes the command line and returns the process exit code.
func Run(args []string, stdout, stderr io.Writer) int {
	return RunContext(context.Background(), args, stdout, stderr)
}

// RunContext is Run with a caller-supplied context.
func RunContext(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cmd := newRootCmd(stdout, stderr)
	cmd.SetArgs(args)

	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(stderr, color.Red.Sprintf("error: %v", err))
		return ExitCode(err)
	}
	return ExitOK
}

// ExitCode maps an error to the process exit status.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}

	var (
		cfgErr      *config.ConfigError
		fetchErr    *fetcher.FetchError
		parseErr    *fetcher.ParseError
		missingErr  *rates.MissingRateError
		deliveryErr *notify.DeliveryError
	)
	switch {
	case errors.As(err, &cfgErr):
		return ExitConfig
	case errors.As(err, &fetchErr):
		return ExitFetch
	case errors.As(err, &parseErr):
		return ExitParse
	case errors.As(err, &missingErr):
		return ExitMissingRate
	case errors.As(err, &deliveryErr):
		return ExitDelivery
	default:
		return ExitUnexpected
	}
}
