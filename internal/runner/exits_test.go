package runner

import (
	"testing"
	"time"

	"quantdinger-engine/internal/database"
)

func longPosition(entry, size float64) *database.Position {
	return &database.Position{
		Symbol:     "BTCUSDT",
		Side:       database.SideLong,
		Size:       size,
		EntryPrice: entry,
	}
}

func shortPosition(entry, size float64) *database.Position {
	return &database.Position{
		Symbol:     "BTCUSDT",
		Side:       database.SideShort,
		Size:       size,
		EntryPrice: entry,
	}
}

func TestServerExit_StopLossLong(t *testing.T) {
	// 5% margin loss at 5x leverage = 1% adverse price move from entry 100
	st := futuresStrategy(1000, 5, database.JSONMap{
		"market_type":   "swap",
		"stop_loss_pct": 0.05,
		"timeframe":     "1m",
	})
	pos := longPosition(100, 1)
	now := time.Now()

	if sig := serverExit(st, pos, 99.5, 0, now); sig != nil {
		t.Errorf("Expected no exit at 99.5, got %s", sig.Reason)
	}

	sig := serverExit(st, pos, 98.9, 0, now)
	if sig == nil {
		t.Fatal("Expected stop-loss exit at 98.9")
	}
	if sig.Type != SignalCloseLong {
		t.Errorf("Expected close_long, got %s", sig.Type)
	}
	if sig.Reason != ReasonServerStopLoss {
		t.Errorf("Expected %s, got %s", ReasonServerStopLoss, sig.Reason)
	}
}

func TestServerExit_StopLossShort(t *testing.T) {
	st := futuresStrategy(1000, 5, database.JSONMap{
		"market_type":   "swap",
		"stop_loss_pct": 0.05,
		"timeframe":     "1m",
	})
	pos := shortPosition(100, 1)
	now := time.Now()

	if sig := serverExit(st, pos, 100.5, 0, now); sig != nil {
		t.Errorf("Expected no exit at 100.5, got %s", sig.Reason)
	}

	sig := serverExit(st, pos, 101.1, 0, now)
	if sig == nil {
		t.Fatal("Expected stop-loss exit at 101.1")
	}
	if sig.Type != SignalCloseShort {
		t.Errorf("Expected close_short, got %s", sig.Type)
	}
}

func TestServerExit_TakeProfit(t *testing.T) {
	st := futuresStrategy(1000, 10, database.JSONMap{
		"market_type":     "swap",
		"take_profit_pct": 0.2,
		"timeframe":       "1m",
	})
	pos := longPosition(100, 1)
	now := time.Now()

	// 20% margin gain at 10x = 2% move
	if sig := serverExit(st, pos, 101.9, 0, now); sig != nil {
		t.Errorf("Expected no exit at 101.9, got %s", sig.Reason)
	}

	sig := serverExit(st, pos, 102.1, 0, now)
	if sig == nil {
		t.Fatal("Expected take-profit exit at 102.1")
	}
	if sig.Reason != ReasonServerTakeProfit {
		t.Errorf("Expected %s, got %s", ReasonServerTakeProfit, sig.Reason)
	}
}

func TestServerExit_TrailingDisablesFixedTakeProfit(t *testing.T) {
	st := futuresStrategy(1000, 10, database.JSONMap{
		"market_type":           "swap",
		"take_profit_pct":       0.2,
		"trailing_stop_enabled": true,
		"trailing_stop_pct":     0.1,
		"timeframe":             "1m",
	})
	pos := longPosition(100, 1)
	pos.HighestPrice = 102.0
	now := time.Now()

	// Price sits at the fixed TP threshold but trailing is armed and the
	// retrace hasn't fired: no exit.
	sig := serverExit(st, pos, 102.0, 0, now)
	if sig != nil && sig.Reason == ReasonServerTakeProfit {
		t.Error("Expected fixed take-profit to be disabled while trailing is on")
	}
}

func TestServerExit_TrailingStopFires(t *testing.T) {
	// Activation 20% at 10x = extreme must reach 102; retrace 10%/10 = 1%
	st := futuresStrategy(1000, 10, database.JSONMap{
		"market_type":             "swap",
		"trailing_stop_enabled":   true,
		"trailing_stop_pct":       0.1,
		"trailing_activation_pct": 0.2,
		"timeframe":               "1m",
	})
	now := time.Now()

	// Not armed: extreme below activation
	pos := longPosition(100, 1)
	pos.HighestPrice = 101.0
	if sig := serverExit(st, pos, 100.0, 0, now); sig != nil {
		t.Errorf("Expected no exit while unarmed, got %s", sig.Reason)
	}

	// Armed, retrace short of 1%: hold
	pos.HighestPrice = 103.0
	if sig := serverExit(st, pos, 102.1, 0, now); sig != nil {
		t.Errorf("Expected hold at 0.87%% retrace, got %s", sig.Reason)
	}

	// Armed, 1% retrace from the extreme: fire
	sig := serverExit(st, pos, 101.9, 0, now)
	if sig == nil {
		t.Fatal("Expected trailing stop at 101.9")
	}
	if sig.Reason != ReasonServerTrailingStop {
		t.Errorf("Expected %s, got %s", ReasonServerTrailingStop, sig.Reason)
	}
}

func TestServerExit_TrailingStopShort(t *testing.T) {
	st := futuresStrategy(1000, 10, database.JSONMap{
		"market_type":             "swap",
		"trailing_stop_enabled":   true,
		"trailing_stop_pct":       0.1,
		"trailing_activation_pct": 0.2,
		"timeframe":               "1m",
	})
	now := time.Now()

	pos := shortPosition(100, 1)
	pos.LowestPrice = 97.0 // below the 98.0 activation level

	// A bounce past 1% off the low fires
	sig := serverExit(st, pos, 98.0, 0, now)
	if sig == nil {
		t.Fatal("Expected trailing stop on short bounce")
	}
	if sig.Type != SignalCloseShort {
		t.Errorf("Expected close_short, got %s", sig.Type)
	}
}

func TestServerExit_NoPositionNoExit(t *testing.T) {
	st := futuresStrategy(1000, 5, database.JSONMap{
		"market_type":   "swap",
		"stop_loss_pct": 0.05,
	})
	now := time.Now()

	if sig := serverExit(st, nil, 50, 0, now); sig != nil {
		t.Error("Expected nil for missing position")
	}
	if sig := serverExit(st, longPosition(100, 0), 50, 0, now); sig != nil {
		t.Error("Expected nil for zero-size position")
	}
}
