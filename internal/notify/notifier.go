package notify

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

	"github.com/rs/zerolog"
)

// TestMessage is the fixed text used by test-send mode.
const TestMessage = "FX Notifier test message"

const maxResponseBytes = 64 << 10

// Sender delivers a rendered message to a chat channel.
type Sender interface {
	Send(ctx context.Context, message string) error
}

// DeliveryError reports a failed or rejected send.
type DeliveryError struct {
	Status int
	Msg    string
	Err    error
}

func (e *DeliveryError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("deliver message: %v", e.Err)
	case e.Status != 0:
		return fmt.Sprintf("deliver message: telegram status %d: %s", e.Status, e.Msg)
	default:
		return "deliver message: " + e.Msg
	}
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// TelegramSender posts messages through the Telegram Bot API.
type TelegramSender struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramSender constructs a Telegram sender.
func NewTelegramSender(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramSender {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramSender{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "telegram").Logger(),
	}
}

// Send calls sendMessage and checks the ok flag of the response.
func (n *TelegramSender) Send(ctx context.Context, message string) error {
	status, body, err := n.post(ctx, message)
	if err != nil {
		return err
	}
	if err := checkResponse(status, body); err != nil {
		return err
	}

	n.logger.Info().Str("chat_id", n.chatID).Int("length", len(message)).Msg("message sent")
	return nil
}

// SendRaw performs exactly one sendMessage call and returns the raw
// response body. A rejected send still returns the body alongside a
// DeliveryError.
func (n *TelegramSender) SendRaw(ctx context.Context, message string) ([]byte, error) {
	status, body, err := n.post(ctx, message)
	if err != nil {
		return nil, err
	}
	n.logger.Info().Int("status", status).Msg("test message sent")

	if err := checkResponse(status, body); err != nil {
		var delivery *DeliveryError
		if errors.As(err, &delivery) && (status == http.StatusUnauthorized || status == http.StatusNotFound) {
			delivery.Msg += " (check the bot token, expected <bot id>:<secret>)"
		}
		return body, err
	}
	return body, nil
}

func checkResponse(status int, body []byte) error {
	var result struct {
		OK          bool   `json:"ok"`
		Description string `json:"description"`
	}
	decodeErr := json.Unmarshal(body, &result)

	if status < 200 || status >= 300 {
		msg := result.Description
		if decodeErr != nil || msg == "" {
			msg = strings.TrimSpace(string(body))
		}
		return &DeliveryError{Status: status, Msg: msg}
	}
	if decodeErr != nil {
		return &DeliveryError{Status: status, Msg: "unexpected response body", Err: decodeErr}
	}
	if !result.OK {
		msg := "telegram returned ok=false"
		if result.Description != "" {
			msg += ": " + result.Description
		}
		return &DeliveryError{Msg: msg}
	}
	return nil
}

func (n *TelegramSender) post(ctx context.Context, message string) (int, []byte, error) {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    message,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, &DeliveryError{Err: fmt.Errorf("marshal telegram payload: %w", err)}
	}

	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, nil, &DeliveryError{Err: n.redact(fmt.Errorf("create telegram request: %w", err))}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return 0, nil, &DeliveryError{Err: n.redact(err)}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return 0, nil, &DeliveryError{Err: fmt.Errorf("read telegram response: %w", err)}
	}
	return resp.StatusCode, respBody, nil
}

// The bot token is part of the URL path, so transport errors would leak it.
func (n *TelegramSender) redact(err error) error {
	if n.botToken == "" {
		return err
	}
	var uerr *url.Error
	if errors.As(err, &uerr) {
		uerr.URL = strings.ReplaceAll(uerr.URL, n.botToken, "<token>")
		return err
	}
	return errors.New(strings.ReplaceAll(err.Error(), n.botToken, "<token>"))
}

// DryRunSender writes the message instead of sending it.
type DryRunSender struct {
	out    io.Writer
	logger zerolog.Logger
}

// NewDryRunSender builds a sender that prints to out.
func NewDryRunSender(out io.Writer, logger zerolog.Logger) *DryRunSender {
	return &DryRunSender{out: out, logger: logger.With().Str("component", "dry_run").Logger()}
}

// Send prints the message. It never fails.
func (d *DryRunSender) Send(_ context.Context, message string) error {
	if _, err := fmt.Fprintln(d.out, message); err != nil {
		d.logger.Warn().Err(err).Msg("failed to print message")
	}
	d.logger.Info().Msg("dry run: message not sent")
	return nil
}

var (
	_ Sender = (*TelegramSender)(nil)
	_ Sender = (*DryRunSender)(nil)
)
