package filter

import (
	"context"
	"testing"

	"quantdinger-engine/config"
	"quantdinger-engine/internal/database"
)

func TestExtractDecision(t *testing.T) {
	testCases := []struct {
		raw      string
		expected string
	}{
		{"BUY", "BUY"},
		{"sell", "SELL"},
		{"I would HOLD for now.", "HOLD"},
		{"Based on the momentum, BUY.", "BUY"},
		{"no idea", ""},
		{"", ""},
	}

	for _, tc := range testCases {
		if got := extractDecision(tc.raw); got != tc.expected {
			t.Errorf("extractDecision(%q): expected %q, got %q", tc.raw, tc.expected, got)
		}
	}
}

func TestWantsDirection(t *testing.T) {
	for _, st := range []string{"open_long", "add_long"} {
		if !wantsLong(st) {
			t.Errorf("Expected %s to want long", st)
		}
		if wantsShort(st) {
			t.Errorf("Expected %s not to want short", st)
		}
	}
	for _, st := range []string{"open_short", "add_short"} {
		if !wantsShort(st) {
			t.Errorf("Expected %s to want short", st)
		}
	}
	// Exits want neither; the filter never sees them anyway
	if wantsLong("close_long") || wantsShort("close_long") {
		t.Error("Expected close_long to want neither direction")
	}
}

func TestPassthroughFilterAllowsEverything(t *testing.T) {
	f := PassthroughFilter{}
	verdict, err := f.Check(context.Background(), &database.Strategy{}, "open_long", 100, nil)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !verdict.Allowed {
		t.Error("Expected passthrough to allow")
	}
}

func TestLLMFilter_DisabledStrategyPasses(t *testing.T) {
	f := NewLLMFilter(config.AIConfig{})
	st := &database.Strategy{AIModelConfig: database.JSONMap{"enabled": false}}

	verdict, err := f.Check(context.Background(), st, "open_long", 100, nil)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !verdict.Allowed {
		t.Error("Expected disabled filter to allow")
	}
}

func TestLLMFilter_MissingKeyPasses(t *testing.T) {
	f := NewLLMFilter(config.AIConfig{})
	st := &database.Strategy{AIModelConfig: database.JSONMap{"enabled": true}}

	verdict, err := f.Check(context.Background(), st, "open_long", 100, nil)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !verdict.Allowed {
		t.Error("Expected filter without credentials to allow")
	}
}
