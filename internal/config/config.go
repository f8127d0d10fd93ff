package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"fx-notifier/internal/logging"
	"fx-notifier/internal/metrics"
	"fx-notifier/internal/rates"
)

const envPrefix = "FXNOTIFIER"

// DefaultEnvFile is read when present and no other file is requested.
const DefaultEnvFile = ".env"

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Rates     RatesConfig     `mapstructure:"rates"`
	Report    ReportConfig    `mapstructure:"report"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	Run       RunConfig       `mapstructure:"run"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Metrics   metrics.Config  `mapstructure:"metrics"`

	location *time.Location
}

// AppConfig general metadata.
type AppConfig struct {
	Name string `mapstructure:"name"`
}

// RatesConfig covers the rate API and derivation.
type RatesConfig struct {
	APIURL          string        `mapstructure:"api_url"`
	AccessKey       string        `mapstructure:"access_key"`
	AccessKeyParam  string        `mapstructure:"access_key_param"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	UserAgent       string        `mapstructure:"user_agent"`
	BaseCurrency    string        `mapstructure:"base_currency"`
	FetchCurrencies []string      `mapstructure:"fetch_currencies"`
	Peg             PegConfig     `mapstructure:"peg"`
}

// PegConfig is a fixed Anchor->Target conversion.
type PegConfig struct {
	Anchor string  `mapstructure:"anchor"`
	Target string  `mapstructure:"target"`
	Rate   float64 `mapstructure:"rate"`
}

// ReportConfig shapes the outgoing message.
type ReportConfig struct {
	Currencies  []string `mapstructure:"currencies"`
	Pairs       string   `mapstructure:"pairs"`
	Timezone    string   `mapstructure:"timezone"`
	Precision   int      `mapstructure:"precision"`
	SourceLabel string   `mapstructure:"source_label"`
}

// TelegramConfig holds Bot API credentials.
type TelegramConfig struct {
	BotToken       string        `mapstructure:"bot_token"`
	ChatID         string        `mapstructure:"chat_id"`
	APIBase        string        `mapstructure:"api_base"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// RunConfig carries mode flags.
type RunConfig struct {
	DryRun   bool `mapstructure:"dry_run"`
	TestSend bool `mapstructure:"test_send"`
}

// SchedulerConfig drives the long-running schedule command.
type SchedulerConfig struct {
	Spec     string `mapstructure:"spec"`
	Timezone string `mapstructure:"timezone"`
	RunNow   bool   `mapstructure:"run_now"`
}

// ConfigError reports missing or invalid configuration.
type ConfigError struct {
	Field string
	Msg   string
	Err   error
}

func (e *ConfigError) Error() string {
	msg := "config"
	if e.Field != "" {
		msg += ": " + e.Field
	}
	if e.Msg != "" {
		msg += ": " + e.Msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigError) Unwrap() error { return e.Err }

// LoadOptions select the sources merged by Load.
type LoadOptions struct {
	// ConfigFile is an optional YAML file; empty searches ./fxnotifier.yaml.
	ConfigFile string
	// EnvFile is a dotenv file; empty means DefaultEnvFile, read only when present.
	EnvFile string
	// Flags are bound over every other source.
	Flags *pflag.FlagSet
	// SkipDelivery drops the Telegram credential checks for commands that
	// never send, such as probe.
	SkipDelivery bool
}

// flagKeys maps command-line flags onto configuration keys.
var flagKeys = map[string]string{
	"dry-run":   "run.dry_run",
	"test-send": "run.test_send",
	"pairs":     "report.pairs",
	"timezone":  "report.timezone",
	"token":     "telegram.bot_token",
	"chat-id":   "telegram.chat_id",
	"log-level": "logging.level",
}

// envAliases are the unprefixed variable names accepted for a key, in
// priority order after the FXNOTIFIER_ name.
var envAliases = map[string][]string{
	"telegram.bot_token":     {"TELEGRAM_BOT_TOKEN"},
	"telegram.chat_id":       {"TELEGRAM_CHAT_ID"},
	"rates.api_url":          {"FX_API_URL", "FRANKFURTER_API_URL", "EXCHANGE_API_URL"},
	"rates.access_key":       {"EXCHANGERATE_ACCESS_KEY", "EXCHANGE_ACCESS_KEY"},
	"rates.base_currency":    {"BASE_CURRENCY"},
	"rates.fetch_currencies": {"API_CURRENCIES"},
	"rates.peg.rate":         {"USD_AZN_PEG"},
	"report.currencies":      {"REPORT_CURRENCIES"},
	"report.pairs":           {"PAIRS"},
	"report.timezone":        {"TIMEZONE"},
	"run.dry_run":            {"DRY_RUN"},
	"logging.level":          {"LOG_LEVEL"},
}

// Load resolves configuration with the precedence
// defaults < config file < dotenv file < environment < flags,
// then normalises and validates the result.
func Load(opts LoadOptions) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	bindEnv(v)

	if err := readConfigFile(v, opts.ConfigFile); err != nil {
		return nil, err
	}
	if err := mergeEnvFile(v, opts.EnvFile); err != nil {
		return nil, err
	}
	if err := bindFlags(v, opts.Flags); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, &ConfigError{Msg: "unmarshal config", Err: err}
	}

	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	if err := cfg.validate(opts.SkipDelivery); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "fx-notifier")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stderr")
	v.SetDefault("logging.time_format", "")
	v.SetDefault("logging.caller", false)
	v.SetDefault("logging.pretty", false)

	v.SetDefault("rates.api_url", "https://api.frankfurter.app/latest")
	v.SetDefault("rates.access_key", "")
	v.SetDefault("rates.access_key_param", "access_key")
	v.SetDefault("rates.request_timeout", "10s")
	v.SetDefault("rates.user_agent", "fx-notifier/1.0")
	v.SetDefault("rates.base_currency", "EUR")
	v.SetDefault("rates.fetch_currencies", []string{})
	v.SetDefault("rates.peg.anchor", "USD")
	v.SetDefault("rates.peg.target", "AZN")
	v.SetDefault("rates.peg.rate", 1.7)

	v.SetDefault("report.currencies", []string{"USD", "HUF", "AZN"})
	v.SetDefault("report.pairs", "")
	v.SetDefault("report.timezone", "Asia/Baku")
	v.SetDefault("report.precision", 4)
	v.SetDefault("report.source_label", "Frankfurter API (frankfurter.app)")

	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("telegram.chat_id", "")
	v.SetDefault("telegram.api_base", "https://api.telegram.org")
	v.SetDefault("telegram.request_timeout", "10s")

	v.SetDefault("run.dry_run", false)
	v.SetDefault("run.test_send", false)

	v.SetDefault("scheduler.spec", "0 9 * * 1-5")
	v.SetDefault("scheduler.timezone", "")
	v.SetDefault("scheduler.run_now", false)

	v.SetDefault("metrics.pushgateway_url", "")
	v.SetDefault("metrics.job", "fx_notifier")
	v.SetDefault("metrics.timeout", "5s")
}

func bindEnv(v *viper.Viper) {
	for _, key := range v.AllKeys() {
		names := append([]string{envName(key)}, envAliases[key]...)
		_ = v.BindEnv(append([]string{key}, names...)...)
	}
}

func envName(key string) string {
	return envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

func readConfigFile(v *viper.Viper, path string) error {
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("fxnotifier")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path == "" && errors.As(err, &notFound) {
			return nil
		}
		return &ConfigError{Msg: "read config file", Err: err}
	}
	return nil
}

// mergeEnvFile layers dotenv values over the config file without touching
// the process environment, so real environment variables still win.
func mergeEnvFile(v *viper.Viper, path string) error {
	required := path != ""
	if path == "" {
		path = DefaultEnvFile
	}

	if _, err := os.Stat(path); err != nil {
		if !required && errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return &ConfigError{Msg: "read env file", Err: err}
	}

	values, err := godotenv.Read(path)
	if err != nil {
		return &ConfigError{Msg: "parse env file " + path, Err: err}
	}

	layer := make(map[string]any)
	for _, key := range v.AllKeys() {
		names := append([]string{envName(key)}, envAliases[key]...)
		for _, name := range names {
			if val, ok := values[name]; ok {
				setNested(layer, key, val)
				break
			}
		}
	}
	if len(layer) == 0 {
		return nil
	}
	if err := v.MergeConfigMap(layer); err != nil {
		return &ConfigError{Msg: "merge env file", Err: err}
	}
	return nil
}

func setNested(m map[string]any, key, val string) {
	parts := strings.Split(key, ".")
	for _, part := range parts[:len(parts)-1] {
		next, ok := m[part].(map[string]any)
		if !ok {
			next = make(map[string]any)
			m[part] = next
		}
		m = next
	}
	m[parts[len(parts)-1]] = val
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	if flags == nil {
		return nil
	}
	for name, key := range flagKeys {
		flag := flags.Lookup(name)
		if flag == nil {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return &ConfigError{Field: key, Msg: "bind flag --" + name, Err: err}
		}
	}
	return nil
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// normalize upper-cases currency codes, applies pairs, resolves the fetch
// list and loads the report location.
func (c *Config) normalize() error {
	base, err := rates.NormalizeCode(c.Rates.BaseCurrency)
	if err != nil {
		return &ConfigError{Field: "rates.base_currency", Err: err}
	}
	c.Rates.BaseCurrency = base

	report, err := normalizeCodes(c.Report.Currencies)
	if err != nil {
		return &ConfigError{Field: "report.currencies", Err: err}
	}
	c.Report.Currencies = report

	fetch, err := normalizeCodes(c.Rates.FetchCurrencies)
	if err != nil {
		return &ConfigError{Field: "rates.fetch_currencies", Err: err}
	}

	if strings.TrimSpace(c.Report.Pairs) != "" {
		pairBase, quotes, err := ParsePairs(c.Report.Pairs, c.Rates.BaseCurrency)
		if err != nil {
			return &ConfigError{Field: "pairs", Err: err}
		}
		c.Rates.BaseCurrency = pairBase
		c.Report.Currencies = quotes
		fetch = nil
	}

	if c.Rates.Peg.Target != "" || c.Rates.Peg.Anchor != "" {
		anchor, err := rates.NormalizeCode(c.Rates.Peg.Anchor)
		if err != nil {
			return &ConfigError{Field: "rates.peg.anchor", Err: err}
		}
		target, err := rates.NormalizeCode(c.Rates.Peg.Target)
		if err != nil {
			return &ConfigError{Field: "rates.peg.target", Err: err}
		}
		c.Rates.Peg.Anchor, c.Rates.Peg.Target = anchor, target
	}

	c.Rates.FetchCurrencies = c.resolveFetch(fetch)

	tz := strings.TrimSpace(c.Report.Timezone)
	if tz == "" {
		tz = "UTC"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return &ConfigError{Field: "report.timezone", Err: err}
	}
	c.Report.Timezone = tz
	c.location = loc

	c.Telegram.BotToken = strings.TrimSpace(c.Telegram.BotToken)
	c.Telegram.ChatID = strings.TrimSpace(c.Telegram.ChatID)
	return nil
}

// resolveFetch derives the symbols to request: the configured list, or the
// report currencies when none is configured, with the peg target swapped for
// its anchor and the base currency dropped.
func (c *Config) resolveFetch(configured []string) []string {
	source := configured
	if len(source) == 0 {
		source = c.Report.Currencies
	}

	peg := c.Rates.Peg
	needsPeg := peg.Target != "" && slices.Contains(c.Report.Currencies, peg.Target) && len(configured) == 0

	out := make([]string, 0, len(source)+1)
	for _, code := range source {
		if code == c.Rates.BaseCurrency || slices.Contains(out, code) {
			continue
		}
		if needsPeg && code == peg.Target {
			continue
		}
		out = append(out, code)
	}

	reportsTarget := peg.Target != "" && slices.Contains(c.Report.Currencies, peg.Target)
	if reportsTarget && !slices.Contains(out, peg.Target) && peg.Anchor != c.Rates.BaseCurrency && !slices.Contains(out, peg.Anchor) {
		out = append(out, peg.Anchor)
	}
	return out
}

// ParsePairs reads "EUR/USD,EUR/AZN" or bare quote codes ("USD,AZN", taken
// against defaultBase). All pairs must share one base.
func ParsePairs(raw, defaultBase string) (string, []string, error) {
	base := ""
	quotes := make([]string, 0)

	for _, token := range strings.Split(raw, ",") {
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}

		pairBase, quote := defaultBase, token
		if b, q, ok := strings.Cut(token, "/"); ok {
			pairBase, quote = b, q
		}

		normBase, err := rates.NormalizeCode(pairBase)
		if err != nil {
			return "", nil, fmt.Errorf("pair %q: %w", token, err)
		}
		normQuote, err := rates.NormalizeCode(quote)
		if err != nil {
			return "", nil, fmt.Errorf("pair %q: %w", token, err)
		}

		if base == "" {
			base = normBase
		} else if base != normBase {
			return "", nil, fmt.Errorf("pairs must share one base currency, got %s and %s", base, normBase)
		}
		if !slices.Contains(quotes, normQuote) {
			quotes = append(quotes, normQuote)
		}
	}

	if len(quotes) == 0 {
		return "", nil, errors.New("no valid pairs")
	}
	return base, quotes, nil
}

func normalizeCodes(in []string) ([]string, error) {
	out := make([]string, 0, len(in))
	for _, raw := range in {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		code, err := rates.NormalizeCode(raw)
		if err != nil {
			return nil, err
		}
		if !slices.Contains(out, code) {
			out = append(out, code)
		}
	}
	return out, nil
}

// Validate performs sanity checks on the normalised configuration.
func (c *Config) Validate() error {
	return c.validate(false)
}

func (c *Config) validate(skipDelivery bool) error {
	if len(c.Report.Currencies) == 0 {
		return &ConfigError{Field: "report.currencies", Msg: "at least one report currency is required"}
	}
	if c.Report.Precision < 0 || c.Report.Precision > 12 {
		return &ConfigError{Field: "report.precision", Msg: "must be between 0 and 12"}
	}
	if err := validateHTTPURL(c.Rates.APIURL); err != nil {
		return &ConfigError{Field: "rates.api_url", Err: err}
	}
	if err := validateHTTPURL(c.Telegram.APIBase); err != nil {
		return &ConfigError{Field: "telegram.api_base", Err: err}
	}

	peg := c.Rates.Peg
	if peg.Target != "" && slices.Contains(c.Report.Currencies, peg.Target) && peg.Rate <= 0 {
		return &ConfigError{Field: "rates.peg.rate", Msg: fmt.Sprintf("%s->%s peg must be greater than zero", peg.Anchor, peg.Target)}
	}

	if !c.Run.DryRun && !skipDelivery {
		if c.Telegram.BotToken == "" {
			return &ConfigError{Field: "telegram.bot_token", Msg: "required unless dry-run (set TELEGRAM_BOT_TOKEN or --token)"}
		}
		if c.Telegram.ChatID == "" {
			return &ConfigError{Field: "telegram.chat_id", Msg: "required unless dry-run (set TELEGRAM_CHAT_ID or --chat-id)"}
		}
	}
	return nil
}

func validateHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme in %q", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("missing host in %q", raw)
	}
	return nil
}

// Location returns the timezone used for the message date.
func (c *Config) Location() *time.Location {
	if c.location == nil {
		return time.UTC
	}
	return c.location
}

// SchedulerLocation returns the schedule timezone, defaulting to the report one.
func (c *Config) SchedulerLocation() (*time.Location, error) {
	if strings.TrimSpace(c.Scheduler.Timezone) == "" {
		return c.Location(), nil
	}
	loc, err := time.LoadLocation(c.Scheduler.Timezone)
	if err != nil {
		return nil, &ConfigError{Field: "scheduler.timezone", Err: err}
	}
	return loc, nil
}

// Peg returns the configured peg for derivation.
func (c *Config) Peg() rates.Peg {
	if c.Rates.Peg.Target == "" {
		return rates.Peg{}
	}
	return rates.Peg{
		Anchor: c.Rates.Peg.Anchor,
		Target: c.Rates.Peg.Target,
		Rate:   decimal.NewFromFloat(c.Rates.Peg.Rate),
	}
}
