// Package runner hosts the per-strategy tick loops and their supervisor.
package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"quantdinger-engine/config"
	"quantdinger-engine/internal/database"
	"quantdinger-engine/internal/filter"
	"quantdinger-engine/internal/indicator"
	"quantdinger-engine/internal/logging"
	"quantdinger-engine/internal/market"
)

// Deps are the shared services a Runner needs. The Supervisor hands the same
// set to every runner; per-strategy state lives on the Runner itself.
type Deps struct {
	Repo      *database.Repository
	Prices    *market.PriceCache
	Klines    market.KlineSource
	Evaluator indicator.Evaluator
	Filter    filter.EntryFilter
	Engine    config.EngineConfig
}

// Runner drives one strategy: one tick = fetch price, refresh candles,
// evaluate the indicator, pick at most one signal, enqueue it.
type Runner struct {
	deps       Deps
	strategyID int64
	logger     *logging.Logger

	candles     []market.Candle
	lastRefresh int64 // candle open of the last full refetch
	dedup       *dedupMap

	done chan struct{}
}

// newRunner builds a runner; the dedup TTL is fixed once the strategy's
// timeframe is known on the first tick.
func newRunner(deps Deps, strategyID int64) *Runner {
	return &Runner{
		deps:       deps,
		strategyID: strategyID,
		logger:     logging.WithComponent("runner").WithField("strategy_id", strategyID),
		done:       make(chan struct{}),
	}
}

// Run loops until the persisted status turns non-running or the context is
// cancelled. It is launched by the Supervisor in its own goroutine.
func (r *Runner) Run(ctx context.Context) {
	defer close(r.done)

	interval := r.deps.Engine.TickInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.logger.Info("Strategy runner started")
	for {
		if !r.tick(ctx) {
			r.logger.Info("Strategy runner stopped")
			return
		}
		select {
		case <-ctx.Done():
			r.logger.Info("Strategy runner cancelled")
			return
		case <-ticker.C:
		}
	}
}

// tick runs one full cycle. It returns false when the runner should exit.
func (r *Runner) tick(ctx context.Context) bool {
	strategy, err := r.deps.Repo.GetStrategy(ctx, r.strategyID)
	if err != nil {
		r.logger.Warn("Failed to load strategy", "error", err)
		return true
	}
	if strategy.Status != database.StrategyStatusRunning {
		return false
	}

	symbol := strategy.Symbol()
	if symbol == "" {
		r.logger.Warn("Strategy has no symbol configured")
		return true
	}

	if r.dedup == nil {
		ttl := 2 * market.TimeframeDuration(strategy.Timeframe())
		if min := r.deps.Engine.DedupMinTTL; ttl < min {
			ttl = min
		}
		r.dedup = newDedupMap(ttl)
	}

	price, err := r.deps.Prices.Price(ctx, symbol)
	if err != nil || price <= 0 {
		r.logger.Warn("Price fetch failed", "symbol", symbol, "error", err)
		return true
	}

	if err := r.refreshCandles(ctx, strategy, symbol, price); err != nil {
		r.logger.Warn("Candle refresh failed", "symbol", symbol, "error", err)
		return true
	}
	if len(r.candles) < 3 {
		return true
	}

	pos, state := r.loadState(ctx, strategy, symbol)

	frame, err := r.evaluate(ctx, strategy, pos)
	if err != nil {
		r.logger.Warn("Indicator evaluation failed", "error", err)
		return true
	}

	candidates := r.extractSignals(strategy, frame)
	if exit := serverExit(strategy, pos, price, r.deps.Engine.MaxLeverage, time.Now().UTC()); exit != nil {
		candidates = append(candidates, *exit)
	}

	candidates = r.dropExpired(strategy, candidates)

	if sig := selectSignal(candidates, state, strategy.TradeDirection()); sig != nil {
		r.execute(ctx, strategy, symbol, state, pos, sig, price)
	}

	r.touchPositions(ctx, strategy, symbol, price)
	return true
}

// refreshCandles does a full refetch on the first tick and on every candle
// rollover; between rollovers the forming candle slides with the live price.
func (r *Runner) refreshCandles(ctx context.Context, strategy *database.Strategy, symbol string, price float64) error {
	tf := strategy.Timeframe()
	currentOpen := market.CandleOpen(time.Now().UTC(), tf)

	if len(r.candles) == 0 || currentOpen != r.lastRefresh {
		limit := r.deps.Engine.KlineHistory
		if limit <= 0 {
			limit = 500
		}
		candles, err := r.deps.Klines.FetchKlines(ctx, strategy.MarketType(), symbol, tf, limit, 0)
		if err != nil {
			return err
		}
		if len(candles) == 0 {
			return fmt.Errorf("no candles returned for %s %s", symbol, tf)
		}
		r.candles = candles
		r.lastRefresh = currentOpen
		return nil
	}

	// Sliding update: OHLC tracks the live price, volume is left alone.
	last := &r.candles[len(r.candles)-1]
	last.Close = price
	if price > last.High {
		last.High = price
	}
	if price < last.Low {
		last.Low = price
	}
	return nil
}

// loadState resolves the position row and state-machine state for the
// symbol. At most one of the two side rows exists per the unique index.
func (r *Runner) loadState(ctx context.Context, strategy *database.Strategy, symbol string) (*database.Position, string) {
	for _, side := range []string{database.SideLong, database.SideShort} {
		pos, err := r.deps.Repo.GetPosition(ctx, r.strategyID, market.NormalizeSymbol(symbol), side)
		if err != nil {
			r.logger.Warn("Position lookup failed", "side", side, "error", err)
			continue
		}
		if pos != nil && pos.Size > 0 {
			if side == database.SideLong {
				return pos, StateLong
			}
			return pos, StateShort
		}
	}
	return nil, StateFlat
}

func (r *Runner) evaluate(ctx context.Context, strategy *database.Strategy, pos *database.Position) (*indicator.Frame, error) {
	seed := indicator.SeedState{}
	if pos != nil {
		seed.AvgEntryPrice = pos.EntryPrice
		seed.HighestPrice = pos.HighestPrice
		seed.LastAddPrice = pos.EntryPrice
		seed.PositionCount = 1
		if pos.Side == database.SideLong {
			seed.Position = 1
		} else {
			seed.Position = -1
		}
	}

	// Evaluators mutate the frame; hand them a copy so a failed run cannot
	// corrupt the candle window.
	candles := make([]market.Candle, len(r.candles))
	copy(candles, r.candles)

	code := strategy.IndicatorConfig.Str("code", "")
	var params map[string]interface{}
	if raw, ok := strategy.IndicatorConfig["params"].(map[string]interface{}); ok {
		params = raw
	}

	frame, err := r.deps.Evaluator.Evaluate(ctx, code, indicator.NewFrame(candles), params, seed)
	if err != nil {
		return nil, err
	}
	return indicator.Normalize(frame, strategy.TradeDirection()), nil
}

// extractSignals sweeps the closed candle (N-2) and, under aggressive modes,
// the forming candle (N-1).
func (r *Runner) extractSignals(strategy *database.Strategy, frame *indicator.Frame) []Signal {
	n := frame.Len()
	tc := strategy.TradingConfig
	aggressiveEntry := tc.Str("signal_mode", "") == "aggressive"
	aggressiveExit := tc.Str("exit_signal_mode", "") == "aggressive"

	indices := []int{n - 2}
	if aggressiveEntry || aggressiveExit {
		indices = append(indices, n-1)
	}

	types := []string{
		indicator.ColOpenLong, indicator.ColCloseLong,
		indicator.ColOpenShort, indicator.ColCloseShort,
		indicator.ColAddLong, indicator.ColAddShort,
		indicator.ColReduceLong, indicator.ColReduceShort,
	}

	var out []Signal
	for _, i := range indices {
		if i < 0 || i >= n {
			continue
		}
		forming := i == n-1
		for _, st := range types {
			if !frame.BoolAt(st, i) {
				continue
			}
			if forming && isEntry(st) && !aggressiveEntry {
				continue
			}
			if forming && !isEntry(st) && !aggressiveExit {
				continue
			}
			out = append(out, Signal{
				Type:         st,
				TriggerPrice: frame.Candles[i].Close,
				Timestamp:    frame.Candles[i].Timestamp,
				PositionSize: frame.FloatAt(indicator.ColPositionSize, i, 0),
				ReduceSize:   frame.FloatAt(indicator.ColReduceSize, i, 0),
			})
		}
	}
	return out
}

// dropExpired removes signals older than twice the timeframe.
func (r *Runner) dropExpired(strategy *database.Strategy, candidates []Signal) []Signal {
	maxAge := 2 * market.TimeframeDuration(strategy.Timeframe())
	now := time.Now().UTC().Unix()

	out := candidates[:0]
	for _, s := range candidates {
		if s.Timestamp > 0 && now-s.Timestamp > int64(maxAge.Seconds()) {
			continue
		}
		out = append(out, s)
	}
	return out
}

// triggerConfirmed applies the trigger filter. Entries default to price
// confirmation, exits default to immediate; the modes can be flipped in
// trading_config.
func triggerConfirmed(strategy *database.Strategy, sig *Signal, price float64) bool {
	tc := strategy.TradingConfig
	if isEntry(sig.Type) {
		if tc.Str("entry_trigger_mode", "price") != "price" {
			return true
		}
	} else {
		if tc.Str("exit_trigger_mode", "immediate") == "immediate" {
			return true
		}
	}
	if sig.TriggerPrice <= 0 {
		return true
	}
	if isBuyLike(sig.Type) {
		return price >= sig.TriggerPrice
	}
	return price <= sig.TriggerPrice
}

// execute sizes the chosen signal, runs the entry filter and dedup, and
// enqueues the pending order. In signal mode the fill is simulated locally
// right after enqueue.
func (r *Runner) execute(ctx context.Context, strategy *database.Strategy, symbol, state string, pos *database.Position, sig *Signal, price float64) {
	if !triggerConfirmed(strategy, sig, price) {
		return
	}

	// Sizing
	var amount float64
	switch {
	case sig.Type == SignalCloseLong || sig.Type == SignalCloseShort:
		if pos == nil {
			return
		}
		amount = pos.Size
	case sig.Type == SignalReduceLong || sig.Type == SignalReduceShort:
		if pos == nil {
			return
		}
		var promote bool
		amount, promote = reduceAmount(sig, pos.Size)
		if promote {
			sig.Type = promoteToClose(sig.Type)
			amount = pos.Size
		}
	default:
		amount = entryAmount(strategy, sig, price, r.deps.Engine.MaxLeverage)
	}
	if amount <= 0 {
		return
	}

	// AI entry filter gates opens only
	if sig.Type == SignalOpenLong || sig.Type == SignalOpenShort {
		verdict, err := r.deps.Filter.Check(ctx, strategy, sig.Type, price, r.candles)
		if err != nil {
			verdict = &filter.Verdict{Allowed: false, Reason: filter.ReasonAnalysisError}
		}
		if !verdict.Allowed {
			r.notifyRejection(ctx, strategy, symbol, sig, verdict)
			return
		}
	}

	if r.dedup.Check(sig.DedupKey(r.strategyID, market.NormalizeSymbol(symbol)), time.Now()) {
		return
	}

	payload := map[string]interface{}{
		"trigger_price": sig.TriggerPrice,
		"leverage":      strategy.EffectiveLeverage(r.deps.Engine.MaxLeverage),
		"margin_mode":   strategy.TradingConfig.Str("margin_mode", "cross"),
	}
	if sig.Reason != "" {
		payload["reason"] = sig.Reason
	}
	if om := strategy.TradingConfig.Str("order_mode", ""); om != "" {
		payload["order_mode"] = om
	}
	payloadJSON, _ := json.Marshal(payload)

	order := &database.PendingOrder{
		UserID:        strategy.UserID,
		StrategyID:    r.strategyID,
		Symbol:        market.NormalizeSymbol(symbol),
		SignalType:    sig.Type,
		SignalTS:      sig.Timestamp,
		MarketType:    strategy.MarketType(),
		Amount:        amount,
		Price:         price,
		ExecutionMode: strategy.ExecutionMode,
		Priority:      QueuePriority(sig.Type),
		PayloadJSON:   string(payloadJSON),
		ExchangeID:    strategy.ExchangeConfig.Str("exchange_id", ""),
	}

	id, inserted, err := r.deps.Repo.Enqueue(ctx, order)
	if err != nil {
		r.logger.Error("Enqueue failed", "signal_type", sig.Type, "error", err)
		return
	}
	if !inserted {
		return
	}
	r.logger.Info("Signal enqueued",
		"order_id", id, "signal_type", sig.Type, "amount", amount, "price", price, "reason", sig.Reason)

	if strategy.ExecutionMode == database.ExecutionModeSignal {
		r.simulateFill(ctx, strategy, symbol, sig, amount, price)
	}
}

// simulateFill advances the local state machine in signal mode, where no
// venue ever reports a fill. Live mode leaves all mutations to the worker.
func (r *Runner) simulateFill(ctx context.Context, strategy *database.Strategy, symbol string, sig *Signal, amount, price float64) {
	profit, _, err := r.deps.Repo.ApplyFill(ctx, strategy.UserID, r.strategyID, market.NormalizeSymbol(symbol), sig.Type, amount, price)
	if err != nil {
		r.logger.Error("Simulated fill failed", "signal_type", sig.Type, "error", err)
		return
	}
	trade := &database.Trade{
		UserID:     strategy.UserID,
		StrategyID: r.strategyID,
		Symbol:     market.NormalizeSymbol(symbol),
		Type:       sig.Type,
		Price:      price,
		Amount:     amount,
		Profit:     profit,
	}
	if err := r.deps.Repo.RecordTrade(ctx, trade); err != nil {
		r.logger.Error("Trade record failed", "error", err)
	}
}

// notifyRejection persists a browser-channel row for a denied entry.
func (r *Runner) notifyRejection(ctx context.Context, strategy *database.Strategy, symbol string, sig *Signal, verdict *filter.Verdict) {
	payload, _ := json.Marshal(map[string]interface{}{
		"reason":   verdict.Reason,
		"decision": verdict.Decision,
		"price":    sig.TriggerPrice,
	})
	err := r.deps.Repo.InsertNotification(ctx, &database.Notification{
		UserID:      strategy.UserID,
		StrategyID:  r.strategyID,
		Symbol:      market.NormalizeSymbol(symbol),
		SignalType:  sig.Type,
		Channels:    "browser",
		Title:       fmt.Sprintf("Entry rejected: %s", symbol),
		Message:     fmt.Sprintf("%s was rejected by the entry filter (%s)", sig.Type, verdict.Reason),
		PayloadJSON: string(payload),
	})
	if err != nil {
		r.logger.Warn("Rejection notification failed", "error", err)
	}
	r.logger.Info("Entry rejected by filter", "signal_type", sig.Type, "reason", verdict.Reason)
}

// touchPositions refreshes current_price (and the tracked extremes) for the
// symbol's open rows.
func (r *Runner) touchPositions(ctx context.Context, strategy *database.Strategy, symbol string, price float64) {
	for _, side := range []string{database.SideLong, database.SideShort} {
		if err := r.deps.Repo.UpdateCurrentPrice(ctx, r.strategyID, market.NormalizeSymbol(symbol), side, price); err != nil {
			r.logger.Warn("Price touch failed", "side", side, "error", err)
		}
	}
}
