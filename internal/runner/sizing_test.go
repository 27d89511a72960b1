package runner

import (
	"math"
	"testing"

	"quantdinger-engine/internal/database"
)

func futuresStrategy(capital float64, leverage int, tc database.JSONMap) *database.Strategy {
	return &database.Strategy{
		InitialCapital: capital,
		Leverage:       leverage,
		TradingConfig:  tc,
	}
}

func TestEntryAmount_FuturesScalesWithLeverage(t *testing.T) {
	st := futuresStrategy(1000, 5, database.JSONMap{"market_type": "swap"})
	sig := &Signal{Type: SignalOpenLong, PositionSize: 0.1}

	// 1000 * 0.1 * 5 / 100 = 5 base units
	got := entryAmount(st, sig, 100, 0)
	if math.Abs(got-5) > 1e-9 {
		t.Errorf("Expected 5, got %v", got)
	}
}

func TestEntryAmount_SpotIgnoresLeverage(t *testing.T) {
	st := futuresStrategy(1000, 1, database.JSONMap{"market_type": "spot"})
	sig := &Signal{Type: SignalOpenLong, PositionSize: 0.1}

	got := entryAmount(st, sig, 100, 0)
	if math.Abs(got-1) > 1e-9 {
		t.Errorf("Expected 1, got %v", got)
	}
}

func TestEntryAmount_PercentScaleRatio(t *testing.T) {
	st := futuresStrategy(1000, 1, database.JSONMap{"market_type": "spot"})

	// 10 on the 0..100 scale means 10%
	a := entryAmount(st, &Signal{Type: SignalOpenLong, PositionSize: 10}, 100, 0)
	b := entryAmount(st, &Signal{Type: SignalOpenLong, PositionSize: 0.1}, 100, 0)
	if math.Abs(a-b) > 1e-9 {
		t.Errorf("Expected 0..100 and 0..1 scales to agree, got %v and %v", a, b)
	}
}

func TestEntryAmount_ConfigDefaults(t *testing.T) {
	st := futuresStrategy(1000, 1, database.JSONMap{"market_type": "spot", "entry_pct": 0.2})

	got := entryAmount(st, &Signal{Type: SignalOpenLong}, 100, 0)
	if math.Abs(got-2) > 1e-9 {
		t.Errorf("Expected entry_pct override to size 2, got %v", got)
	}

	// No config: open falls back to 0.08
	st2 := futuresStrategy(1000, 1, database.JSONMap{"market_type": "spot"})
	got = entryAmount(st2, &Signal{Type: SignalOpenLong}, 100, 0)
	if math.Abs(got-0.8) > 1e-9 {
		t.Errorf("Expected default open sizing 0.8, got %v", got)
	}

	// Adds fall back to 0.06
	got = entryAmount(st2, &Signal{Type: SignalAddLong}, 100, 0)
	if math.Abs(got-0.6) > 1e-9 {
		t.Errorf("Expected default add sizing 0.6, got %v", got)
	}
}

func TestEntryAmount_LeverageCap(t *testing.T) {
	st := futuresStrategy(1000, 200, database.JSONMap{"market_type": "swap"})
	sig := &Signal{Type: SignalOpenLong, PositionSize: 0.1}

	capped := entryAmount(st, sig, 100, 125)
	if math.Abs(capped-125) > 1e-9 {
		t.Errorf("Expected leverage capped at 125 to size 125, got %v", capped)
	}
}

func TestReduceAmount_FallbackChain(t *testing.T) {
	// reduce_size wins
	amount, promoted := reduceAmount(&Signal{ReduceSize: 0.5, PositionSize: 0.2}, 10)
	if promoted || math.Abs(amount-5) > 1e-9 {
		t.Errorf("Expected 5 without promotion, got %v promoted=%v", amount, promoted)
	}

	// position_size next
	amount, promoted = reduceAmount(&Signal{PositionSize: 0.2}, 10)
	if promoted || math.Abs(amount-2) > 1e-9 {
		t.Errorf("Expected 2 without promotion, got %v promoted=%v", amount, promoted)
	}

	// default 0.1 last
	amount, promoted = reduceAmount(&Signal{}, 10)
	if promoted || math.Abs(amount-1) > 1e-9 {
		t.Errorf("Expected 1 without promotion, got %v promoted=%v", amount, promoted)
	}
}

func TestReduceAmount_PromotesFullReduceToClose(t *testing.T) {
	amount, promoted := reduceAmount(&Signal{ReduceSize: 1.0}, 10)
	if !promoted {
		t.Fatal("Expected a 100% reduce to promote to close")
	}
	if math.Abs(amount-10) > 1e-9 {
		t.Errorf("Expected full position size 10, got %v", amount)
	}

	// 99.95% is within the promotion band
	_, promoted = reduceAmount(&Signal{ReduceSize: 0.9995}, 10)
	if !promoted {
		t.Error("Expected a 99.95% reduce to promote to close")
	}

	// 99% is not
	_, promoted = reduceAmount(&Signal{ReduceSize: 0.99}, 10)
	if promoted {
		t.Error("Expected a 99% reduce to stay a reduce")
	}
}

func TestPromoteToClose(t *testing.T) {
	if got := promoteToClose(SignalReduceLong); got != SignalCloseLong {
		t.Errorf("Expected close_long, got %s", got)
	}
	if got := promoteToClose(SignalReduceShort); got != SignalCloseShort {
		t.Errorf("Expected close_short, got %s", got)
	}
	if got := promoteToClose(SignalOpenLong); got != SignalOpenLong {
		t.Errorf("Expected open_long unchanged, got %s", got)
	}
}
