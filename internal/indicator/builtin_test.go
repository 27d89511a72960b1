package indicator

import (
	"context"
	"testing"

	"quantdinger-engine/internal/market"
)

func candlesFromCloses(closes []float64) []market.Candle {
	out := make([]market.Candle, len(closes))
	for i, c := range closes {
		out[i] = market.Candle{
			Timestamp: int64(1700000000 + i*60),
			Open:      c,
			High:      c,
			Low:       c,
			Close:     c,
			Volume:    1,
		}
	}
	return out
}

func TestMACross_BuyOnCrossUp(t *testing.T) {
	// Flat then a sharp rally: the 2-bar average crosses above the 4-bar one
	closes := []float64{10, 10, 10, 10, 10, 10, 14, 18, 22}
	frame := NewFrame(candlesFromCloses(closes))

	e := NewBuiltinEvaluator()
	out, err := e.Evaluate(context.Background(), "ma_cross", frame,
		map[string]interface{}{"fast_period": 2.0, "slow_period": 4.0}, SeedState{})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	var buys int
	for i := 0; i < out.Len(); i++ {
		if out.BoolAt(ColBuy, i) {
			buys++
		}
	}
	if buys != 1 {
		t.Errorf("Expected exactly one buy cross, got %d", buys)
	}
	for i := 0; i < out.Len(); i++ {
		if out.BoolAt(ColSell, i) {
			t.Errorf("Unexpected sell at bar %d in an uptrend", i)
		}
	}
}

func TestMACross_SellOnCrossDown(t *testing.T) {
	closes := []float64{20, 20, 20, 20, 20, 20, 16, 12, 8}
	frame := NewFrame(candlesFromCloses(closes))

	e := NewBuiltinEvaluator()
	out, err := e.Evaluate(context.Background(), "", frame,
		map[string]interface{}{"fast_period": 2.0, "slow_period": 4.0}, SeedState{})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	var sells int
	for i := 0; i < out.Len(); i++ {
		if out.BoolAt(ColSell, i) {
			sells++
		}
	}
	if sells != 1 {
		t.Errorf("Expected exactly one sell cross, got %d", sells)
	}
}

func TestMACross_RejectsInvertedPeriods(t *testing.T) {
	frame := NewFrame(candlesFromCloses([]float64{1, 2, 3}))
	e := NewBuiltinEvaluator()
	_, err := e.Evaluate(context.Background(), "ma_cross", frame,
		map[string]interface{}{"fast_period": 25.0, "slow_period": 7.0}, SeedState{})
	if err == nil {
		t.Error("Expected error for fast >= slow")
	}
}

func TestEvaluate_UnknownCode(t *testing.T) {
	frame := NewFrame(candlesFromCloses([]float64{1, 2, 3}))
	e := NewBuiltinEvaluator()
	if _, err := e.Evaluate(context.Background(), "mystery", frame, nil, SeedState{}); err == nil {
		t.Error("Expected error for unknown indicator code")
	}
}

func TestNormalize_LongOnly(t *testing.T) {
	frame := NewFrame(candlesFromCloses([]float64{1, 2, 3}))
	frame.SetBool(ColBuy, []bool{false, true, false})
	frame.SetBool(ColSell, []bool{false, false, true})

	out := Normalize(frame, "long")
	if !out.BoolAt(ColOpenLong, 1) {
		t.Error("Expected buy to map to open_long")
	}
	if !out.BoolAt(ColCloseLong, 2) {
		t.Error("Expected sell to map to close_long")
	}
	if out.BoolAt(ColOpenShort, 2) || out.BoolAt(ColCloseShort, 1) {
		t.Error("Expected no short-side signals for a long-only strategy")
	}
}

func TestNormalize_BothDirections(t *testing.T) {
	frame := NewFrame(candlesFromCloses([]float64{1, 2}))
	frame.SetBool(ColBuy, []bool{true, false})
	frame.SetBool(ColSell, []bool{false, true})

	out := Normalize(frame, "both")
	if !out.BoolAt(ColOpenLong, 0) || !out.BoolAt(ColCloseShort, 0) {
		t.Error("Expected buy to open long and close short")
	}
	if !out.BoolAt(ColOpenShort, 1) || !out.BoolAt(ColCloseLong, 1) {
		t.Error("Expected sell to open short and close long")
	}
}

func TestNormalize_ExpandedFramesUntouched(t *testing.T) {
	frame := NewFrame(candlesFromCloses([]float64{1, 2}))
	frame.SetBool(ColOpenLong, []bool{true, false})
	frame.SetBool(ColBuy, []bool{false, true})

	out := Normalize(frame, "both")
	if out.BoolAt(ColOpenLong, 1) {
		t.Error("Expected pre-expanded frame to pass through unchanged")
	}
}

func TestRSIReversion_SignalsAtExtremes(t *testing.T) {
	// Choppy start keeps RSI mid-range, then a grinding decline with small
	// bounces drags it through the oversold level.
	closes := make([]float64, 0, 30)
	v := 100.0
	for i := 0; i < 10; i++ {
		if i%2 == 0 {
			v += 1
		} else {
			v -= 1
		}
		closes = append(closes, v)
	}
	for i := 0; i < 20; i++ {
		if i%3 == 2 {
			v += 0.5
		} else {
			v -= 3
		}
		closes = append(closes, v)
	}

	frame := NewFrame(candlesFromCloses(closes))
	e := NewBuiltinEvaluator()
	out, err := e.Evaluate(context.Background(), "rsi_reversion", frame,
		map[string]interface{}{"rsi_period": 5.0}, SeedState{})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	var buys int
	for i := 0; i < out.Len(); i++ {
		if out.BoolAt(ColBuy, i) {
			buys++
		}
	}
	if buys == 0 {
		t.Error("Expected at least one oversold buy during the decline")
	}
}
