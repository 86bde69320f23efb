package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"shoplist.app/internal/auth"
	"shoplist.app/internal/obs"
)

func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	logger := obs.Logger()
	original := logger.Writer()
	logger.SetFlags(0)
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	t.Cleanup(func() { logger.SetOutput(original) })
	return &buf
}

func TestLogEvent(t *testing.T) {
	buf := captureLog(t)

	ctx := context.Background()
	ctx = WithRequestID(ctx, "req-123")
	ctx = auth.ContextWithClaims(ctx, &auth.Claims{UserID: "user-42"})

	if err := LogEvent(ctx, "auth.logout", map[string]any{"foo": "bar"}); err != nil {
		t.Fatalf("LogEvent failed: %v", err)
	}

	line := buf.String()
	if line == "" {
		t.Fatal("expected log output")
	}

	var entry map[string]any
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("log not valid JSON: %v", err)
	}
	if entry["type"] != "audit" {
		t.Fatalf("unexpected type: %v", entry["type"])
	}
	if entry["event"] != "auth.logout" {
		t.Fatalf("unexpected event: %v", entry["event"])
	}
	if entry["request_id"] != "req-123" {
		t.Fatalf("unexpected request id: %v", entry["request_id"])
	}
	if entry["user_id"] != "user-42" {
		t.Fatalf("unexpected user id: %v", entry["user_id"])
	}
	fields, ok := entry["fields"].(map[string]any)
	if !ok || fields["foo"] != "bar" {
		t.Fatalf("fields missing or incorrect: %v", entry["fields"])
	}
}

func TestLogEventRequiresName(t *testing.T) {
	if err := LogEvent(context.Background(), "  ", nil); err == nil {
		t.Fatal("expected error for empty event name")
	}
}

func TestActorPrecedence(t *testing.T) {
	ctx := auth.ContextWithClaims(context.Background(), &auth.Claims{UserID: "from-claims"})
	if got, _ := ActorFromContext(ctx); got != "from-claims" {
		t.Fatalf("expected claims fallback, got %q", got)
	}
	ctx = WithActor(ctx, "explicit")
	if got, _ := ActorFromContext(ctx); got != "explicit" {
		t.Fatalf("expected explicit actor, got %q", got)
	}
	if _, ok := ActorFromContext(context.Background()); ok {
		t.Fatal("expected no actor on bare context")
	}
	if got := OriginFromContext(context.Background()); got != "internal" {
		t.Fatalf("unexpected default origin %q", got)
	}
}
