// Package indicator defines the evaluation contract between the strategy
// engine and indicator implementations, plus a built-in evaluator.
package indicator

import (
	"context"

	"quantdinger-engine/internal/market"
)

// Signal column names an evaluator may annotate the frame with. The simple
// pair {buy, sell} is normalized into the expanded set before extraction.
const (
	ColBuy  = "buy"
	ColSell = "sell"

	ColOpenLong    = "open_long"
	ColCloseLong   = "close_long"
	ColOpenShort   = "open_short"
	ColCloseShort  = "close_short"
	ColAddLong     = "add_long"
	ColAddShort    = "add_short"
	ColReduceLong  = "reduce_long"
	ColReduceShort = "reduce_short"

	// Per-bar float columns
	ColReduceSize   = "reduce_size"
	ColPositionSize = "position_size"
)

// SeedState is injected into evaluation so stateful scripts can resume from
// the live position instead of recomputing it from history.
type SeedState struct {
	HighestPrice  float64
	Position      int // -1 short, 0 flat, 1 long
	AvgEntryPrice float64
	PositionCount int
	LastAddPrice  float64
}

// Frame is a column-oriented candle window with signal annotations.
type Frame struct {
	Candles []market.Candle
	Bools   map[string][]bool
	Floats  map[string][]float64
}

// NewFrame wraps candles in an empty frame
func NewFrame(candles []market.Candle) *Frame {
	return &Frame{
		Candles: candles,
		Bools:   make(map[string][]bool),
		Floats:  make(map[string][]float64),
	}
}

// Len returns the number of bars
func (f *Frame) Len() int {
	return len(f.Candles)
}

// HasBool reports whether a boolean column exists
func (f *Frame) HasBool(col string) bool {
	_, ok := f.Bools[col]
	return ok
}

// BoolAt returns the column value at index i, false when absent or out of range.
func (f *Frame) BoolAt(col string, i int) bool {
	vals, ok := f.Bools[col]
	if !ok || i < 0 || i >= len(vals) {
		return false
	}
	return vals[i]
}

// FloatAt returns the float column value at index i, def when absent.
func (f *Frame) FloatAt(col string, i int, def float64) float64 {
	vals, ok := f.Floats[col]
	if !ok || i < 0 || i >= len(vals) {
		return def
	}
	v := vals[i]
	if v == 0 {
		return def
	}
	return v
}

// SetBool installs a boolean column sized to the frame
func (f *Frame) SetBool(col string, vals []bool) {
	f.Bools[col] = vals
}

// SetFloat installs a float column sized to the frame
func (f *Frame) SetFloat(col string, vals []float64) {
	f.Floats[col] = vals
}

// Evaluator computes signal columns for a candle window. Implementations may
// run a sandboxed script engine or, like the built-in one, a fixed rule set.
type Evaluator interface {
	Evaluate(ctx context.Context, code string, frame *Frame, params map[string]interface{}, seed SeedState) (*Frame, error)
}

// Normalize expands a {buy, sell} frame into the 4-way signal set according
// to the trade direction. Frames that already carry expanded columns are
// returned untouched; normalization always runs before signal extraction so
// simple scripts still exercise the full engine.
func Normalize(f *Frame, tradeDirection string) *Frame {
	if f.HasBool(ColOpenLong) || f.HasBool(ColOpenShort) ||
		f.HasBool(ColCloseLong) || f.HasBool(ColCloseShort) {
		return f
	}
	buy, hasBuy := f.Bools[ColBuy]
	sell, hasSell := f.Bools[ColSell]
	if !hasBuy && !hasSell {
		return f
	}

	n := f.Len()
	get := func(vals []bool, ok bool, i int) bool {
		return ok && i < len(vals) && vals[i]
	}

	openLong := make([]bool, n)
	closeLong := make([]bool, n)
	openShort := make([]bool, n)
	closeShort := make([]bool, n)

	for i := 0; i < n; i++ {
		b := get(buy, hasBuy, i)
		s := get(sell, hasSell, i)
		switch tradeDirection {
		case "long":
			openLong[i] = b
			closeLong[i] = s
		case "short":
			openShort[i] = s
			closeShort[i] = b
		default: // both
			openLong[i] = b
			closeShort[i] = b
			openShort[i] = s
			closeLong[i] = s
		}
	}

	f.SetBool(ColOpenLong, openLong)
	f.SetBool(ColCloseLong, closeLong)
	f.SetBool(ColOpenShort, openShort)
	f.SetBool(ColCloseShort, closeShort)
	return f
}
