package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fx-notifier/internal/config"
	"fx-notifier/internal/fetcher"
	"fx-notifier/internal/notify"
	"fx-notifier/internal/rates"
)

const ratesBody = `{"amount":1.0,"base":"EUR","date":"2024-07-26","rates":{"USD":1.08,"HUF":390.0}}`

type fakeAPIs struct {
	rateHits     atomic.Int32
	telegramHits atomic.Int32
	sentText     atomic.Value

	rateStatus   int
	rateBody     string
	telegramBody string
}

// start launches both servers and points the environment at them.
func (f *fakeAPIs) start(t *testing.T) {
	t.Helper()
	if f.rateStatus == 0 {
		f.rateStatus = http.StatusOK
	}
	if f.rateBody == "" {
		f.rateBody = ratesBody
	}
	if f.telegramBody == "" {
		f.telegramBody = `{"ok":true,"result":{"message_id":7}}`
	}

	rateSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.rateHits.Add(1)
		w.WriteHeader(f.rateStatus)
		_, _ = w.Write([]byte(f.rateBody))
	}))
	t.Cleanup(rateSrv.Close)

	tgSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.telegramHits.Add(1)
		var payload map[string]string
		_ = json.NewDecoder(r.Body).Decode(&payload)
		f.sentText.Store(payload["text"])
		_, _ = w.Write([]byte(f.telegramBody))
	}))
	t.Cleanup(tgSrv.Close)

	t.Setenv("FX_API_URL", rateSrv.URL+"/latest")
	t.Setenv("FXNOTIFIER_TELEGRAM_API_BASE", tgSrv.URL)
}

func isolate(t *testing.T) {
	t.Helper()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })
	for _, name := range []string{
		"TELEGRAM_BOT_TOKEN", "TELEGRAM_CHAT_ID", "FXNOTIFIER_TELEGRAM_BOT_TOKEN", "FXNOTIFIER_TELEGRAM_CHAT_ID",
		"FRANKFURTER_API_URL", "EXCHANGE_API_URL", "EXCHANGERATE_ACCESS_KEY", "EXCHANGE_ACCESS_KEY",
		"BASE_CURRENCY", "API_CURRENCIES", "REPORT_CURRENCIES", "USD_AZN_PEG",
		"PAIRS", "TIMEZONE", "DRY_RUN", "LOG_LEVEL",
	} {
		t.Setenv(name, "")
	}
}

func run(args ...string) (int, string, string) {
	var stdout, stderr bytes.Buffer
	code := Run(args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestMissingTokenExitsBeforeAnyRequest(t *testing.T) {
	isolate(t)
	apis := &fakeAPIs{}
	apis.start(t)

	code, _, stderr := run()

	assert.Equal(t, ExitConfig, code)
	assert.Contains(t, stderr, "error: config: telegram.bot_token")
	assert.Zero(t, apis.rateHits.Load())
	assert.Zero(t, apis.telegramHits.Load())
}

func TestDryRunPrintsMessageWithoutTelegram(t *testing.T) {
	isolate(t)
	apis := &fakeAPIs{}
	apis.start(t)

	code, stdout, stderr := run("--dry-run")

	require.Equal(t, ExitOK, code, stderr)
	assert.Contains(t, stdout, "(Base: EUR):\n")
	assert.Contains(t, stdout, "- USD: 1.0800\n")
	assert.Contains(t, stdout, "- HUF: 390.0000\n")
	assert.Contains(t, stdout, "- AZN: 1.8360 (derived)\n")
	assert.Equal(t, int32(1), apis.rateHits.Load())
	assert.Zero(t, apis.telegramHits.Load())
}

func TestSendDeliversMessage(t *testing.T) {
	isolate(t)
	apis := &fakeAPIs{}
	apis.start(t)

	code, stdout, stderr := run("--token", "123:abc", "--chat-id", "42", "--timezone", "UTC")

	require.Equal(t, ExitOK, code, stderr)
	assert.Empty(t, stdout)
	assert.Equal(t, int32(1), apis.telegramHits.Load())
	assert.Contains(t, apis.sentText.Load(), "- AZN: 1.8360 (derived)")
}

func TestRateAPIErrorSkipsTelegram(t *testing.T) {
	isolate(t)
	apis := &fakeAPIs{rateStatus: http.StatusInternalServerError, rateBody: `{"message":"upstream down"}`}
	apis.start(t)
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")
	t.Setenv("TELEGRAM_CHAT_ID", "42")

	code, _, stderr := run()

	assert.Equal(t, ExitFetch, code)
	assert.Contains(t, stderr, "upstream down")
	assert.Zero(t, apis.telegramHits.Load())
}

func TestMalformedRatesExitParse(t *testing.T) {
	isolate(t)
	apis := &fakeAPIs{rateBody: `{"base":"EUR","rates":`}
	apis.start(t)

	code, stdout, _ := run("--dry-run")

	assert.Equal(t, ExitParse, code)
	assert.Empty(t, stdout)
}

func TestMissingAnchorExitMissingRate(t *testing.T) {
	isolate(t)
	apis := &fakeAPIs{rateBody: `{"base":"EUR","date":"2024-07-26","rates":{"HUF":390.0}}`}
	apis.start(t)
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")
	t.Setenv("TELEGRAM_CHAT_ID", "42")

	code, _, _ := run()

	assert.Equal(t, ExitMissingRate, code)
	assert.Zero(t, apis.telegramHits.Load())
}

func TestTelegramRejectionExitDelivery(t *testing.T) {
	isolate(t)
	apis := &fakeAPIs{telegramBody: `{"ok":false,"description":"Bad Request: chat not found"}`}
	apis.start(t)

	code, _, stderr := run("--token", "123:abc", "--chat-id", "42")

	assert.Equal(t, ExitDelivery, code)
	assert.Contains(t, stderr, "chat not found")
	assert.NotContains(t, stderr, "123:abc")
}

func TestTestSendPrintsRawResponse(t *testing.T) {
	isolate(t)
	apis := &fakeAPIs{}
	apis.start(t)

	code, stdout, stderr := run("--test-send", "--token", "123:abc", "--chat-id", "42")

	require.Equal(t, ExitOK, code, stderr)
	assert.Equal(t, `{"ok":true,"result":{"message_id":7}}`+"\n", stdout)
	assert.Equal(t, notify.TestMessage, apis.sentText.Load())
	assert.Equal(t, int32(1), apis.telegramHits.Load())
	assert.Zero(t, apis.rateHits.Load())
}

func TestTestSendDryRunMakesNoCalls(t *testing.T) {
	isolate(t)
	apis := &fakeAPIs{}
	apis.start(t)

	code, stdout, _ := run("--test-send", "--dry-run")

	assert.Equal(t, ExitOK, code)
	assert.Equal(t, notify.TestMessage+"\n", stdout)
	assert.Zero(t, apis.rateHits.Load())
	assert.Zero(t, apis.telegramHits.Load())
}

func TestMixedPairBasesIsConfigError(t *testing.T) {
	isolate(t)
	apis := &fakeAPIs{}
	apis.start(t)

	code, _, _ := run("--dry-run", "--pairs", "EUR/USD,USD/AZN")

	assert.Equal(t, ExitConfig, code)
	assert.Zero(t, apis.rateHits.Load())
}

func TestProbePrintsStatusAndBody(t *testing.T) {
	isolate(t)
	apis := &fakeAPIs{rateStatus: http.StatusForbidden, rateBody: `{"success":false,"error":{"info":"invalid key"}}`}
	apis.start(t)

	code, stdout, stderr := run("probe")

	require.Equal(t, ExitOK, code, stderr)
	assert.Contains(t, stdout, "status: 403")
	assert.Contains(t, stdout, "invalid key")
	assert.Equal(t, int32(1), apis.rateHits.Load())
	assert.Zero(t, apis.telegramHits.Load())
}

func TestTestSendRejectedExitDelivery(t *testing.T) {
	isolate(t)
	body := `{"ok":false,"error_code":401,"description":"Unauthorized"}`
	apis := &fakeAPIs{telegramBody: body}
	apis.start(t)

	code, stdout, stderr := run("--test-send", "--token", "123:abc", "--chat-id", "42")

	assert.Equal(t, ExitDelivery, code)
	assert.Equal(t, body+"\n", stdout)
	assert.Contains(t, stderr, "Unauthorized")
	assert.NotContains(t, stderr, "test message done")
	assert.Equal(t, int32(1), apis.telegramHits.Load())
}

func TestVersionNeedsNoConfig(t *testing.T) {
	isolate(t)

	code, stdout, _ := run("version")

	assert.Equal(t, ExitOK, code)
	assert.Contains(t, stdout, "version: dev")
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{nil, ExitOK},
		{&config.ConfigError{Msg: "x"}, ExitConfig},
		{fmt.Errorf("wrapped: %w", &fetcher.FetchError{Msg: "x"}), ExitFetch},
		{&fetcher.ParseError{Msg: "x"}, ExitParse},
		{&rates.MissingRateError{Base: "EUR", Currency: "AZN"}, ExitMissingRate},
		{&notify.DeliveryError{Msg: "x"}, ExitDelivery},
		{errors.New("boom"), ExitUnexpected},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.code, ExitCode(tt.err))
	}
}
