package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordRun(t *testing.T) {
	rec := NewRecorder(Config{}, zerolog.Nop())
	at := time.Unix(1_700_000_000, 0)

	rec.RecordRun(OutcomeSuccess, "", at)
	rec.RecordRun(OutcomeFailure, "fetch", at.Add(time.Hour))

	assert.Equal(t, 1.0, testutil.ToFloat64(rec.RunsTotal.WithLabelValues(OutcomeSuccess, "")))
	assert.Equal(t, 1.0, testutil.ToFloat64(rec.RunsTotal.WithLabelValues(OutcomeFailure, "fetch")))
	assert.Equal(t, float64(at.Unix()), testutil.ToFloat64(rec.LastSuccess))
}

func TestDryRunDoesNotMoveLastSuccess(t *testing.T) {
	rec := NewRecorder(Config{}, zerolog.Nop())
	at := time.Unix(1_700_000_000, 0)

	rec.RecordRun(OutcomeSuccess, "", at)
	rec.RecordRun(OutcomeDryRun, "", at.Add(time.Hour))

	assert.Equal(t, 1.0, testutil.ToFloat64(rec.RunsTotal.WithLabelValues(OutcomeDryRun, "")))
	assert.Equal(t, float64(at.Unix()), testutil.ToFloat64(rec.LastSuccess))
}

func TestRecordRate(t *testing.T) {
	rec := NewRecorder(Config{}, zerolog.Nop())

	rec.RecordRate("EUR", "AZN", decimal.RequireFromString("1.836"), true)

	assert.InDelta(t, 1.836, testutil.ToFloat64(rec.ReportedRate.WithLabelValues("EUR", "AZN", "true")), 1e-9)
}

func TestPushDisabledIsNoop(t *testing.T) {
	rec := NewRecorder(Config{}, zerolog.Nop())
	assert.False(t, rec.Enabled())
	assert.NoError(t, rec.Push(context.Background()))
}

func TestPushSendsRegistry(t *testing.T) {
	var path, body string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		raw, _ := io.ReadAll(r.Body)
		body = string(raw)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	rec := NewRecorder(Config{PushgatewayURL: srv.URL, Job: "fx_test"}, zerolog.Nop())
	rec.RecordRun(OutcomeDryRun, "", time.Now())

	require.NoError(t, rec.Push(context.Background()))
	assert.Equal(t, "/metrics/job/fx_test", path)
	assert.NotEmpty(t, body)
}

func TestPushFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	rec := NewRecorder(Config{PushgatewayURL: srv.URL}, zerolog.Nop())
	err := rec.Push(context.Background())
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), "push metrics"))
}
