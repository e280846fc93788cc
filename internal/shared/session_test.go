package shared_test

import (
	"context"
	"testing"

	"github.com/basket/taskdeck/internal/shared"
)

func TestSessionIDRoundTrip(t *testing.T) {
	ctx := context.Background()
	if got := shared.SessionID(ctx); got != "" {
		t.Fatalf("empty context should yield empty session id, got %q", got)
	}
	ctx = shared.WithSessionID(ctx, "sess-1")
	if got := shared.SessionID(ctx); got != "sess-1" {
		t.Fatalf("got %q, want sess-1", got)
	}
}

func TestTraceIDDefaultsToDash(t *testing.T) {
	if got := shared.TraceID(context.Background()); got != "-" {
		t.Fatalf("got %q, want -", got)
	}
	ctx := shared.WithTraceID(context.Background(), "abc")
	if got := shared.TraceID(ctx); got != "abc" {
		t.Fatalf("got %q, want abc", got)
	}
}

func TestNewTraceIDUnique(t *testing.T) {
	if shared.NewTraceID() == shared.NewTraceID() {
		t.Fatalf("trace ids should be unique")
	}
}
