package indicator

import (
	"context"
	"fmt"
	"strings"

	"quantdinger-engine/internal/market"
)

// BuiltinEvaluator is a fixed-rule evaluator covering the common
// moving-average strategies, so the engine runs end to end without an
// external script backend. The code argument selects the rule set; params
// tune periods.
//
// Supported codes: "ma_cross" (default), "rsi_reversion".
type BuiltinEvaluator struct{}

// NewBuiltinEvaluator creates the built-in evaluator
func NewBuiltinEvaluator() *BuiltinEvaluator {
	return &BuiltinEvaluator{}
}

// Evaluate annotates the frame with {buy, sell} columns.
func (e *BuiltinEvaluator) Evaluate(ctx context.Context, code string, frame *Frame, params map[string]interface{}, seed SeedState) (*Frame, error) {
	_ = ctx
	switch strings.ToLower(strings.TrimSpace(code)) {
	case "", "ma_cross":
		return e.maCross(frame, params)
	case "rsi_reversion":
		return e.rsiReversion(frame, params)
	default:
		return nil, fmt.Errorf("unknown builtin indicator %q", code)
	}
}

func paramInt(params map[string]interface{}, key string, def int) int {
	if params == nil {
		return def
	}
	switch v := params[key].(type) {
	case float64:
		if v > 0 {
			return int(v)
		}
	case int:
		if v > 0 {
			return v
		}
	}
	return def
}

func paramFloat(params map[string]interface{}, key string, def float64) float64 {
	if params == nil {
		return def
	}
	if v, ok := params[key].(float64); ok && v > 0 {
		return v
	}
	return def
}

// maCross: buy when the fast average crosses above the slow, sell on the
// opposite cross. use_ema switches to exponential averaging.
func (e *BuiltinEvaluator) maCross(frame *Frame, params map[string]interface{}) (*Frame, error) {
	fast := paramInt(params, "fast_period", 7)
	slow := paramInt(params, "slow_period", 25)
	if fast >= slow {
		return nil, fmt.Errorf("fast period %d must be below slow period %d", fast, slow)
	}
	useEMA := false
	if v, ok := params["use_ema"].(bool); ok {
		useEMA = v
	}

	closes := closeSeries(frame.Candles)
	var fastMA, slowMA []float64
	if useEMA {
		fastMA = emaSeries(closes, fast)
		slowMA = emaSeries(closes, slow)
	} else {
		fastMA = smaSeries(closes, fast)
		slowMA = smaSeries(closes, slow)
	}

	n := frame.Len()
	buy := make([]bool, n)
	sell := make([]bool, n)
	for i := 1; i < n; i++ {
		if fastMA[i] == 0 || slowMA[i] == 0 || fastMA[i-1] == 0 || slowMA[i-1] == 0 {
			continue
		}
		crossedUp := fastMA[i-1] <= slowMA[i-1] && fastMA[i] > slowMA[i]
		crossedDown := fastMA[i-1] >= slowMA[i-1] && fastMA[i] < slowMA[i]
		buy[i] = crossedUp
		sell[i] = crossedDown
	}

	frame.SetBool(ColBuy, buy)
	frame.SetBool(ColSell, sell)
	return frame, nil
}

// rsiReversion: buy when RSI drops below the oversold level, sell above the
// overbought level.
func (e *BuiltinEvaluator) rsiReversion(frame *Frame, params map[string]interface{}) (*Frame, error) {
	period := paramInt(params, "rsi_period", 14)
	oversold := paramFloat(params, "oversold", 30)
	overbought := paramFloat(params, "overbought", 70)

	closes := closeSeries(frame.Candles)
	rsi := rsiSeries(closes, period)

	n := frame.Len()
	buy := make([]bool, n)
	sell := make([]bool, n)
	for i := 1; i < n; i++ {
		if rsi[i] == 0 || rsi[i-1] == 0 {
			continue
		}
		buy[i] = rsi[i-1] >= oversold && rsi[i] < oversold
		sell[i] = rsi[i-1] <= overbought && rsi[i] > overbought
	}

	frame.SetBool(ColBuy, buy)
	frame.SetBool(ColSell, sell)
	return frame, nil
}

func closeSeries(candles []market.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}

// smaSeries returns the simple moving average per bar; bars before the
// period warms up are zero.
func smaSeries(values []float64, period int) []float64 {
	out := make([]float64, len(values))
	if period <= 0 || len(values) < period {
		return out
	}
	var sum float64
	for i, v := range values {
		sum += v
		if i >= period {
			sum -= values[i-period]
		}
		if i >= period-1 {
			out[i] = sum / float64(period)
		}
	}
	return out
}

// emaSeries returns the exponential moving average per bar, seeded with the
// SMA of the first period.
func emaSeries(values []float64, period int) []float64 {
	out := make([]float64, len(values))
	if period <= 0 || len(values) < period {
		return out
	}
	var sum float64
	for i := 0; i < period; i++ {
		sum += values[i]
	}
	out[period-1] = sum / float64(period)
	multiplier := 2.0 / float64(period+1)
	for i := period; i < len(values); i++ {
		out[i] = (values[i]-out[i-1])*multiplier + out[i-1]
	}
	return out
}

// rsiSeries returns Wilder's RSI per bar; warm-up bars are zero.
func rsiSeries(values []float64, period int) []float64 {
	out := make([]float64, len(values))
	if period <= 0 || len(values) <= period {
		return out
	}

	var gains, losses float64
	for i := 1; i <= period; i++ {
		diff := values[i] - values[i-1]
		if diff > 0 {
			gains += diff
		} else {
			losses -= diff
		}
	}
	avgGain := gains / float64(period)
	avgLoss := losses / float64(period)

	rsiAt := func(g, l float64) float64 {
		if l == 0 {
			return 100
		}
		rs := g / l
		return 100 - 100/(1+rs)
	}
	out[period] = rsiAt(avgGain, avgLoss)

	for i := period + 1; i < len(values); i++ {
		diff := values[i] - values[i-1]
		var gain, loss float64
		if diff > 0 {
			gain = diff
		} else {
			loss = -diff
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
		out[i] = rsiAt(avgGain, avgLoss)
	}
	return out
}
