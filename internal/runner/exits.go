package runner

import (
	"time"

	"quantdinger-engine/internal/database"
	"quantdinger-engine/internal/market"
)

// Server exit reasons
const (
	ReasonServerStopLoss     = "server_stop_loss"
	ReasonServerTakeProfit   = "server_take_profit"
	ReasonServerTrailingStop = "server_trailing_stop"
)

// serverExit checks stop-loss, fixed take-profit and trailing stop against
// the live position. Percent thresholds are defined on margin PnL, so the
// price-move threshold is the configured pct divided by leverage. The
// returned signal shares the per-candle dedup via timestamp=candle_open(now).
func serverExit(strategy *database.Strategy, pos *database.Position, price float64, maxLeverage int, now time.Time) *Signal {
	if pos == nil || pos.Size <= 0 || price <= 0 || pos.EntryPrice <= 0 {
		return nil
	}

	tc := strategy.TradingConfig
	lev := float64(strategy.EffectiveLeverage(maxLeverage))
	long := pos.Side == database.SideLong

	closeType := SignalCloseLong
	if !long {
		closeType = SignalCloseShort
	}
	mk := func(reason string) *Signal {
		return &Signal{
			Type:         closeType,
			TriggerPrice: price,
			Timestamp:    market.CandleOpen(now, strategy.Timeframe()),
			Reason:       reason,
		}
	}

	// Stop-loss
	if sl := tc.Float("stop_loss_pct", 0); sl > 0 {
		move := sl / lev
		if long && price <= pos.EntryPrice*(1-move) {
			return mk(ReasonServerStopLoss)
		}
		if !long && price >= pos.EntryPrice*(1+move) {
			return mk(ReasonServerStopLoss)
		}
	}

	trailingEnabled := tc.Bool("trailing_stop_enabled", false) && tc.Float("trailing_stop_pct", 0) > 0

	// Fixed take-profit, disabled while trailing is active
	if tp := tc.Float("take_profit_pct", 0); tp > 0 && !trailingEnabled {
		move := tp / lev
		if long && price >= pos.EntryPrice*(1+move) {
			return mk(ReasonServerTakeProfit)
		}
		if !long && price <= pos.EntryPrice*(1-move) {
			return mk(ReasonServerTakeProfit)
		}
	}

	// Trailing stop: armed once margin PnL reaches the activation threshold,
	// fires on retracement from the tracked extreme.
	if trailingEnabled {
		activation := tc.Float("trailing_activation_pct", 0)
		if activation <= 0 {
			activation = tc.Float("take_profit_pct", 0)
		}
		retrace := tc.Float("trailing_stop_pct", 0) / lev

		if long {
			extreme := pos.HighestPrice
			if price > extreme {
				extreme = price
			}
			armed := activation <= 0 || extreme >= pos.EntryPrice*(1+activation/lev)
			if armed && extreme > 0 && price <= extreme*(1-retrace) {
				return mk(ReasonServerTrailingStop)
			}
		} else {
			extreme := pos.LowestPrice
			if extreme <= 0 || (price > 0 && price < extreme) {
				extreme = price
			}
			armed := activation <= 0 || extreme <= pos.EntryPrice*(1-activation/lev)
			if armed && price >= extreme*(1+retrace) {
				return mk(ReasonServerTrailingStop)
			}
		}
	}

	return nil
}
