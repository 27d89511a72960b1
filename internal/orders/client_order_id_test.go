package orders

import (
	"errors"
	"strings"
	"testing"
)

func TestClientOrderIDDefaultForm(t *testing.T) {
	id, err := ClientOrderID("binance", 42, 1007, PhaseMaker)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "qd_42_1007_m" {
		t.Errorf("expected qd_42_1007_m, got %s", id)
	}
}

func TestClientOrderIDOkxCompactForm(t *testing.T) {
	id, err := ClientOrderID("okx", 42, 1007, PhaseMarket)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "qd421007t" {
		t.Errorf("expected qd421007t, got %s", id)
	}
	if strings.Contains(id, "_") {
		t.Error("OKX IDs must not contain underscores")
	}
}

func TestClientOrderIDOkxLengthLimit(t *testing.T) {
	_, err := ClientOrderID("okx", 999999999999999, 999999999999999999, PhaseSingle)
	if !errors.Is(err, ErrClientOrderIDTooLong) {
		t.Errorf("expected ErrClientOrderIDTooLong, got %v", err)
	}
}

func TestClientOrderIDRejectsUnknownPhase(t *testing.T) {
	_, err := ClientOrderID("binance", 1, 2, "x")
	if !errors.Is(err, ErrInvalidPhase) {
		t.Errorf("expected ErrInvalidPhase, got %v", err)
	}
}

func TestParseRoundTrip(t *testing.T) {
	id, err := ClientOrderID("bybit", 7, 31, PhaseSingle)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	parsed, err := Parse(id)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if parsed.StrategyID != 7 || parsed.OrderID != 31 || parsed.Phase != PhaseSingle {
		t.Errorf("bad parse result: %+v", parsed)
	}
}

func TestParseRejectsForeignIDs(t *testing.T) {
	for _, id := range []string{"", "qd_1_2", "web_1_2_m", "qd_a_2_m", "qd_1_b_m", "qd_1_2_z"} {
		if _, err := Parse(id); err == nil {
			t.Errorf("expected error parsing %q", id)
		}
	}
}

func TestIsEngineID(t *testing.T) {
	cases := map[string]bool{
		"qd_42_1007_m": true,
		"qd421007t":    true,
		"qdx":          false,
		"web_1_2_m":    false,
		"":             false,
	}
	for id, want := range cases {
		if got := IsEngineID(id); got != want {
			t.Errorf("IsEngineID(%q) = %v, want %v", id, got, want)
		}
	}
}
