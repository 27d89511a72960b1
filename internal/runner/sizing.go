package runner

import (
	"quantdinger-engine/internal/database"
)

// Default entry ratios when the indicator and config are silent
const (
	defaultOpenRatio   = 0.08
	defaultAddRatio    = 0.06
	defaultReduceRatio = 0.1
)

// closePromotionRatio: a reduce covering this share of the position becomes
// a full close.
const closePromotionRatio = 0.999

// normalizeRatio accepts both 0..1 and 0..100 scales.
func normalizeRatio(r float64) float64 {
	if r > 1 {
		r = r / 100
	}
	if r < 0 {
		return 0
	}
	if r > 1 {
		return 1
	}
	return r
}

// entryAmount sizes an open/add in base units. Futures capital is margin
// budget, so notional scales with leverage.
func entryAmount(strategy *database.Strategy, sig *Signal, price float64, maxLeverage int) float64 {
	if price <= 0 {
		return 0
	}

	ratio := sig.PositionSize
	if ratio <= 0 {
		key := "entry_pct"
		def := defaultOpenRatio
		if sig.Type == SignalAddLong || sig.Type == SignalAddShort {
			key = "add_pct"
			def = defaultAddRatio
		}
		ratio = strategy.TradingConfig.Float(key, def)
	}
	ratio = normalizeRatio(ratio)

	capital := strategy.InitialCapital
	if capital <= 0 {
		return 0
	}

	if strategy.MarketType() == database.MarketTypeSwap {
		lev := float64(strategy.EffectiveLeverage(maxLeverage))
		return capital * ratio * lev / price
	}
	return capital * ratio / price
}

// reduceAmount sizes a reduce as a share of the current position. Fallback
// order: signal reduce_size, then position_size, then 0.1. Returns the base
// amount and whether the reduce should be promoted to a close.
func reduceAmount(sig *Signal, positionSize float64) (float64, bool) {
	ratio := sig.ReduceSize
	if ratio <= 0 {
		ratio = sig.PositionSize
	}
	if ratio <= 0 {
		ratio = defaultReduceRatio
	}
	ratio = normalizeRatio(ratio)

	amount := positionSize * ratio
	if amount >= closePromotionRatio*positionSize {
		return positionSize, true
	}
	return amount, false
}

// promoteToClose rewrites a reduce signal type to its close counterpart.
func promoteToClose(signalType string) string {
	switch signalType {
	case SignalReduceLong:
		return SignalCloseLong
	case SignalReduceShort:
		return SignalCloseShort
	}
	return signalType
}
