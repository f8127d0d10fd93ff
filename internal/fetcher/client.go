package fetcher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/go-querystring/query"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"moul.io/http2curl"

	"fx-notifier/internal/rates"
)

const (
	defaultAPIURL   = "https://api.frankfurter.app/latest"
	maxBodyBytes    = 1 << 20
	redactedValue   = "REDACTED"
	maxErrorMessage = 300
)

// Options parameterise the rate API client.
type Options struct {
	URL            string
	AccessKey      string
	AccessKeyParam string
	Timeout        time.Duration
	UserAgent      string
}

// Client fetches latest rates from a Frankfurter-compatible endpoint.
type Client struct {
	opts   Options
	logger zerolog.Logger
	client *http.Client
	url    string
}

// NewClient constructs a rate API client.
func NewClient(opts Options, logger zerolog.Logger) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	endpoint := strings.TrimSpace(opts.URL)
	if endpoint == "" {
		endpoint = defaultAPIURL
	}
	if opts.AccessKeyParam == "" {
		opts.AccessKeyParam = "access_key"
	}

	return &Client{
		opts:   opts,
		logger: logger.With().Str("component", "rate_fetcher").Logger(),
		client: &http.Client{Timeout: timeout},
		url:    endpoint,
	}
}

// Fetch retrieves base->symbols rates in a single request.
func (c *Client) Fetch(ctx context.Context, base string, symbols []string) (rates.RateSet, error) {
	req, err := c.newRequest(ctx, base, symbols)
	if err != nil {
		return rates.RateSet{}, &FetchError{Err: err}
	}

	status, payload, err := c.do(req)
	if err != nil {
		return rates.RateSet{}, &FetchError{Err: err}
	}

	if status < 200 || status >= 300 {
		return rates.RateSet{}, &FetchError{Status: status, Msg: providerMessage(payload)}
	}

	var res latestResponse
	if err := json.Unmarshal(payload, &res); err != nil {
		return rates.RateSet{}, &ParseError{Msg: "invalid json", Err: err}
	}

	if res.Success != nil && !*res.Success {
		msg := providerMessage(res.Error)
		if msg == "" {
			msg = "provider reported success=false"
		}
		return rates.RateSet{}, &FetchError{Status: status, Msg: msg}
	}

	if res.Rates == nil {
		return rates.RateSet{}, &ParseError{Msg: `response has no "rates" object`}
	}

	if res.Base != "" && !strings.EqualFold(res.Base, base) {
		return rates.RateSet{}, &ParseError{Msg: fmt.Sprintf("response base %q does not match requested %q", res.Base, base)}
	}

	set := rates.NewRateSet(base, make(map[string]decimal.Decimal, len(res.Rates)))
	set.Date = res.Date
	for code, rate := range res.Rates {
		normalized, err := rates.NormalizeCode(code)
		if err != nil {
			c.logger.Warn().Str("code", code).Msg("ignoring rate with invalid currency code")
			continue
		}
		set.Rates[normalized] = rate
	}

	for _, symbol := range symbols {
		if !set.Has(symbol) {
			c.logger.Warn().Str("base", base).Str("symbol", symbol).Msg("rate missing from response")
		}
	}

	c.logger.Debug().Str("base", base).Str("date", set.Date).Int("rates", set.Len()).Msg("rates fetched")
	return set, nil
}

// ProbeResult is the uninterpreted outcome of a rate API request.
type ProbeResult struct {
	URL    string
	Status int
	Body   []byte
}

// Probe issues the same request as Fetch and returns the raw response.
func (c *Client) Probe(ctx context.Context, base string, symbols []string) (ProbeResult, error) {
	req, err := c.newRequest(ctx, base, symbols)
	if err != nil {
		return ProbeResult{}, &FetchError{Err: err}
	}

	result := ProbeResult{URL: c.redactURL(req.URL).String()}
	status, payload, err := c.do(req)
	if err != nil {
		return result, &FetchError{Err: err}
	}
	result.Status = status
	result.Body = payload
	return result, nil
}

func (c *Client) newRequest(ctx context.Context, base string, symbols []string) (*http.Request, error) {
	endpoint, err := url.Parse(c.url)
	if err != nil {
		return nil, fmt.Errorf("parse api url: %w", err)
	}

	params, err := query.Values(latestQuery{Base: base, Symbols: symbols})
	if err != nil {
		return nil, fmt.Errorf("encode query: %w", err)
	}

	q := endpoint.Query()
	for key, values := range params {
		q[key] = values
	}
	if c.opts.AccessKey != "" {
		q.Set(c.opts.AccessKeyParam, c.opts.AccessKey)
	}
	endpoint.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(c.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", "fx-notifier/1.0")
	}
	return req, nil
}

func (c *Client) do(req *http.Request) (int, []byte, error) {
	if c.logger.GetLevel() <= zerolog.DebugLevel {
		dbg := req.Clone(req.Context())
		dbg.URL = c.redactURL(req.URL)
		if command, err := http2curl.GetCurlCommand(dbg); err == nil {
			c.logger.Debug().Str("curl", command.String()).Msg("requesting rates")
		}
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, nil, c.redactError(err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return 0, nil, fmt.Errorf("read response body: %w", err)
	}
	return resp.StatusCode, payload, nil
}

func (c *Client) redactURL(u *url.URL) *url.URL {
	out := *u
	if c.opts.AccessKey == "" {
		return &out
	}
	q := out.Query()
	if q.Has(c.opts.AccessKeyParam) {
		q.Set(c.opts.AccessKeyParam, redactedValue)
		out.RawQuery = q.Encode()
	}
	return &out
}

// url.Error carries the full request URL, access key included.
func (c *Client) redactError(err error) error {
	var uerr *url.Error
	if c.opts.AccessKey != "" && errors.As(err, &uerr) {
		if parsed, perr := url.Parse(uerr.URL); perr == nil {
			uerr.URL = c.redactURL(parsed).String()
		} else {
			uerr.URL = strings.ReplaceAll(uerr.URL, c.opts.AccessKey, redactedValue)
		}
	}
	return err
}

type latestQuery struct {
	Base    string   `url:"base,omitempty"`
	Symbols []string `url:"symbols,comma,omitempty"`
}

type latestResponse struct {
	Success *bool                      `json:"success"`
	Error   json.RawMessage            `json:"error"`
	Base    string                     `json:"base"`
	Date    string                     `json:"date"`
	Rates   map[string]decimal.Decimal `json:"rates"`
}

type errorResponse struct {
	Code        any    `json:"code"`
	Type        string `json:"type"`
	Info        string `json:"info"`
	Message     string `json:"message"`
	Description string `json:"description"`
	Error       any    `json:"error"`
}

// providerMessage extracts a human-readable message from the error shapes
// used by Frankfurter, exchangerate.host and exchangeratesapi.io.
func providerMessage(payload []byte) string {
	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 || bytes.Equal(payload, []byte("null")) {
		return ""
	}

	var asString string
	if err := json.Unmarshal(payload, &asString); err == nil {
		return truncate(asString)
	}

	var apiErr errorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		switch {
		case apiErr.Info != "":
			return truncate(apiErr.Info)
		case apiErr.Message != "":
			return truncate(apiErr.Message)
		case apiErr.Description != "":
			return truncate(apiErr.Description)
		case apiErr.Type != "":
			return truncate(apiErr.Type)
		}
		if nested, err := json.Marshal(apiErr.Error); err == nil && apiErr.Error != nil {
			return providerMessage(nested)
		}
	}

	return truncate(string(payload))
}

func truncate(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > maxErrorMessage {
		return s[:maxErrorMessage] + "..."
	}
	return s
}

var _ RateFetcher = (*Client)(nil)
