package logging

import (
	"context"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestNew(t *testing.T) {
	t.Parallel()

	for _, development := range []bool{true, false} {
		logger, err := New(development, "pagerender")
		if err != nil {
			t.Fatalf("New(%v) error = %v", development, err)
		}
		if logger == nil {
			t.Fatal("expected logger to be non-nil")
		}
		logger.Info("logger ready")
		_ = logger.Sync() //nolint:errcheck // best-effort flush
	}
}

func TestFromContext(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.InfoLevel)
	scoped := zap.New(core).With(zap.String("request_id", "req-1"))
	ctx := WithLogger(context.Background(), scoped)

	FromContext(ctx, zap.NewNop()).Info("scoped")
	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if got := entries[0].ContextMap()["request_id"]; got != "req-1" {
		t.Fatalf("expected request_id field, got %v", got)
	}

	fallback := zap.NewExample()
	if FromContext(context.Background(), fallback) != fallback {
		t.Fatal("expected fallback logger without a scoped one")
	}
	if FromContext(context.Background(), nil) == nil {
		t.Fatal("expected a no-op logger when fallback is nil")
	}
}
