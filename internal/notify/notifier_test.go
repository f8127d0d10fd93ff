package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestTelegramSenderSuccess(t *testing.T) {
	received := make(map[string]string)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/bottoken/sendMessage" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Fatalf("unexpected content type %q", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Fatalf("decode request body: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	sender := NewTelegramSender("token", "chat", srv.URL+"/", time.Second, testLogger())
	if err := sender.Send(context.Background(), "hello"); err != nil {
		t.Fatalf("Send should succeed: %v", err)
	}

	if received["chat_id"] != "chat" {
		t.Fatalf("wrong chat_id: %#v", received)
	}
	if received["text"] != "hello" {
		t.Fatalf("wrong text: %#v", received)
	}
}

func TestTelegramSenderOKFalse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false, "description": "chat not found"})
	}))
	defer srv.Close()

	sender := NewTelegramSender("token", "chat", srv.URL, time.Second, testLogger())
	err := sender.Send(context.Background(), "hello")

	var delivery *DeliveryError
	if !errors.As(err, &delivery) {
		t.Fatalf("ok=false should return DeliveryError, got %v", err)
	}
	if !strings.Contains(err.Error(), "chat not found") {
		t.Fatalf("error should carry description: %v", err)
	}
}

func TestTelegramSenderHTTPStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false, "error_code": 401, "description": "Unauthorized"})
	}))
	defer srv.Close()

	sender := NewTelegramSender("token", "chat", srv.URL, time.Second, testLogger())
	err := sender.Send(context.Background(), "hello")

	var delivery *DeliveryError
	if !errors.As(err, &delivery) {
		t.Fatalf("expected DeliveryError, got %v", err)
	}
	if delivery.Status != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", delivery.Status)
	}
	if !strings.Contains(err.Error(), "Unauthorized") {
		t.Fatalf("unexpected error text: %v", err)
	}
}

func TestTelegramSenderUndecodableBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>gateway</html>"))
	}))
	defer srv.Close()

	sender := NewTelegramSender("token", "chat", srv.URL, time.Second, testLogger())
	var delivery *DeliveryError
	if err := sender.Send(context.Background(), "hello"); !errors.As(err, &delivery) {
		t.Fatalf("expected DeliveryError, got %v", err)
	}
}

func TestTelegramSenderTransportErrorHidesToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	base := srv.URL
	srv.Close()

	sender := NewTelegramSender("123456:SECRET", "chat", base, time.Second, testLogger())
	err := sender.Send(context.Background(), "hello")
	if err == nil {
		t.Fatal("closed server should fail")
	}
	if strings.Contains(err.Error(), "SECRET") {
		t.Fatalf("token leaked into error: %v", err)
	}
}

func TestTelegramSenderSendRaw(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["text"] != TestMessage {
			t.Fatalf("unexpected text %q", body["text"])
		}
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"ok":false,"description":"Bad Request: chat not found"}`))
	}))
	defer srv.Close()

	sender := NewTelegramSender("token", "chat", srv.URL, time.Second, testLogger())
	raw, err := sender.SendRaw(context.Background(), TestMessage)
	var delivery *DeliveryError
	if !errors.As(err, &delivery) || delivery.Status != http.StatusBadRequest {
		t.Fatalf("rejected send should return DeliveryError, got %v", err)
	}
	if !strings.Contains(string(raw), "chat not found") {
		t.Fatalf("raw body not returned: %s", raw)
	}
	if calls != 1 {
		t.Fatalf("expected exactly one call, got %d", calls)
	}
}

func TestTelegramSenderSendRawOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":1}}`))
	}))
	defer srv.Close()

	sender := NewTelegramSender("token", "chat", srv.URL, time.Second, testLogger())
	raw, err := sender.SendRaw(context.Background(), TestMessage)
	if err != nil {
		t.Fatalf("SendRaw should succeed: %v", err)
	}
	if string(raw) != `{"ok":true,"result":{"message_id":1}}` {
		t.Fatalf("raw body not returned: %s", raw)
	}
}

func TestTelegramSenderSendRawBadTokenHint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"ok":false,"error_code":401,"description":"Unauthorized"}`))
	}))
	defer srv.Close()

	sender := NewTelegramSender("token", "chat", srv.URL, time.Second, testLogger())
	raw, err := sender.SendRaw(context.Background(), TestMessage)
	if err == nil || !strings.Contains(err.Error(), "check the bot token") {
		t.Fatalf("expected token hint, got %v", err)
	}
	if !strings.Contains(string(raw), "Unauthorized") {
		t.Fatalf("raw body not returned: %s", raw)
	}
}

func TestDryRunSenderPrints(t *testing.T) {
	var out bytes.Buffer
	sender := NewDryRunSender(&out, testLogger())

	if err := sender.Send(context.Background(), "FX Rates"); err != nil {
		t.Fatalf("dry run must not fail: %v", err)
	}
	if out.String() != "FX Rates\n" {
		t.Fatalf("unexpected output %q", out.String())
	}
}

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}
