package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestRequestIDRoundTrip(t *testing.T) {
	ctx := context.Background()
	if got := RequestID(ctx); got != "" {
		t.Errorf("RequestID on empty context = %q, want empty", got)
	}

	ctx = WithRequestID(ctx, "req_abc123")
	if got := RequestID(ctx); got != "req_abc123" {
		t.Errorf("RequestID = %q, want req_abc123", got)
	}
}

func TestFromContextFallsBackToDefault(t *testing.T) {
	if FromContext(context.Background()) != slog.Default() {
		t.Error("FromContext on empty context should return default logger")
	}
}

func TestWithLogger(t *testing.T) {
	logger := New("debug", "json")
	ctx := WithLogger(context.Background(), logger)
	if FromContext(ctx) != logger {
		t.Error("FromContext did not return the stored logger")
	}
}

func TestNewLevels(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error", "bogus"} {
		if New(level, "text") == nil {
			t.Errorf("New(%q) returned nil", level)
		}
	}
}

func TestServiceAttribute(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "info", "json")
	logger.Info("hello")

	if !strings.Contains(buf.String(), `"service":"betguard"`) {
		t.Errorf("log line missing service attribute: %s", buf.String())
	}
}

func TestTxnCarriesTransactionFields(t *testing.T) {
	var buf bytes.Buffer
	ctx := WithLogger(context.Background(), NewWithWriter(&buf, "info", "json"))
	ctx = WithRequestID(ctx, "req_1")

	Txn(ctx, "u1", "txn-9").Warn("transaction denied")

	out := buf.String()
	for _, want := range []string{`"user_id":"u1"`, `"transaction_id":"txn-9"`, `"request_id":"req_1"`} {
		if !strings.Contains(out, want) {
			t.Errorf("log line missing %s: %s", want, out)
		}
	}
}
