package logging

import (
	"context"
	"testing"
)

func TestFromContext_FallsBackToDefault(t *testing.T) {
	l := FromContext(context.Background())
	if l == nil {
		t.Fatal("Expected the default logger, got nil")
	}
	if l != Default() {
		t.Error("Expected the default logger for a bare context")
	}
}

func TestNewContext_RoundTrip(t *testing.T) {
	scoped := WithComponent("roundtrip")
	ctx := NewContext(context.Background(), scoped)
	if got := FromContext(ctx); got != scoped {
		t.Error("Expected the stored logger back from the context")
	}
}

func TestWithTraceContext(t *testing.T) {
	ctx, l := WithTraceContext(context.Background())

	traceID := TraceIDFromContext(ctx)
	if len(traceID) != 32 {
		t.Errorf("Expected 32-char hex trace ID, got %q", traceID)
	}
	if got, ok := l.fields["trace_id"]; !ok || got != traceID {
		t.Errorf("Expected logger to carry trace_id %q, got %v", traceID, got)
	}
	if FromContext(ctx) != l {
		t.Error("Expected the trace logger to ride the context")
	}

	// Each call mints a distinct ID
	ctx2, _ := WithTraceContext(context.Background())
	if TraceIDFromContext(ctx2) == traceID {
		t.Error("Expected distinct trace IDs per request")
	}
}

func TestWithTraceID(t *testing.T) {
	l := Default().WithTraceID("abc123")
	if l.fields["trace_id"] != "abc123" {
		t.Errorf("Expected trace_id field, got %v", l.fields["trace_id"])
	}
}
