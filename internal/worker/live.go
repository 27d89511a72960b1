package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"quantdinger-engine/internal/database"
	"quantdinger-engine/internal/exchange"
	"quantdinger-engine/internal/notify"
	"quantdinger-engine/internal/orders"
)

// makerModes are order modes that start with a maker phase.
var makerModes = map[string]bool{
	"maker":             true,
	"limit":             true,
	"limit_first":       true,
	"maker_then_market": true,
}

// cancelEpsilonRatio: residuals below amount*epsilon are treated as filled,
// skipping the cancel round-trip.
const cancelEpsilonRatio = 0.001

// tailEpsilon pads the min-size comparison against float drift.
const tailEpsilon = 0.999999

// phaseResult records one execution phase for the audit trail.
type phaseResult struct {
	Phase           string  `json:"phase"`
	ExchangeOrderID string  `json:"exchange_order_id,omitempty"`
	Filled          float64 `json:"filled"`
	AvgPrice        float64 `json:"avg_price"`
	Fee             float64 `json:"fee,omitempty"`
	FeeCcy          string  `json:"fee_ccy,omitempty"`
	Error           string  `json:"error,omitempty"`
}

// execution carries the state of one live order through its phases.
type execution struct {
	worker   *Worker
	client   exchange.Client
	traits   exchange.Traits
	order    *database.PendingOrder
	strategy *database.Strategy

	side       string
	posSide    string
	reduceOnly bool
	refPrice   float64
	marginMode string
	leverage   int

	// sizeFactor converts between base units and the venue's order size:
	// 1 for base-sized venues, ctVal-equivalent for contract-sized ones.
	sizeFactor float64
	instrument *exchange.Instrument

	phases      []phaseResult
	totalFilled float64 // base units
	totalCost   float64 // base * price accumulator
	fee         float64
	feeCcy      string
}

// processLive executes a claimed live-mode order end to end.
func (w *Worker) processLive(ctx context.Context, order *database.PendingOrder, strategy *database.Strategy) {
	exchangeID := order.ExchangeID
	if exchangeID == "" {
		exchangeID = strategy.ExchangeConfig.Str("exchange_id", "")
	}
	if exchangeID == "" {
		w.fail(ctx, order, strategy, "missing_exchange_id")
		return
	}

	client, err := w.factory.ClientFor(ctx, parseUserID(order.UserID), exchangeID)
	if err != nil {
		w.fail(ctx, order, strategy, fmt.Sprintf("exchange_client_failed: %v", err))
		return
	}

	if msg := categoryGuard(client.Traits(), strategy, order); msg != "" {
		w.fail(ctx, order, strategy, msg)
		return
	}

	exec := &execution{
		worker:     w,
		client:     client,
		traits:     client.Traits(),
		order:      order,
		strategy:   strategy,
		refPrice:   order.Price,
		sizeFactor: 1,
	}
	exec.resolveSides()
	exec.resolvePayload()

	if err := exec.run(ctx); err != nil {
		if exec.totalFilled > 0 {
			// Partial-success rule: fills already happened, the order must
			// settle as sent no matter what broke afterwards.
			w.settle(ctx, exec, fmt.Sprintf("partial_fill_then_error: %v", err))
			return
		}
		w.fail(ctx, order, strategy, compactError(err))
		return
	}

	// Venue accepted the order but the fill polls came back empty; assume
	// the requested amount filled at the reference price.
	if exec.totalFilled == 0 {
		exec.totalFilled = order.Amount
		exec.totalCost = order.Amount * exec.refPrice
	}
	w.settle(ctx, exec, "")
}

// categoryGuard enforces the market-category guardrails.
func categoryGuard(traits exchange.Traits, strategy *database.Strategy, order *database.PendingOrder) string {
	category := strategy.TradingConfig.Str("market_category", exchange.CategoryCrypto)
	switch category {
	case exchange.CategoryAShare:
		return "a_share_live_trading_not_supported"
	case exchange.CategoryFutures:
		return "futures_category_live_trading_not_supported"
	case exchange.CategoryHShare:
		// H-shares route through the stock bridge
		if traits.Category != exchange.CategoryUSStock {
			return "market_category_mismatch"
		}
	default:
		if traits.Category != category {
			return "market_category_mismatch"
		}
	}

	// Stock bridge has no short path wired up
	if traits.Category == exchange.CategoryUSStock && isShortSignal(order.SignalType) {
		return "ibkr_stock_short_not_supported"
	}
	return ""
}

func isShortSignal(signalType string) bool {
	return strings.HasSuffix(signalType, "_short")
}

// resolveSides maps the signal type to venue side, position side and
// reduce-only.
func (e *execution) resolveSides() {
	switch e.order.SignalType {
	case "open_long", "add_long":
		e.side, e.posSide = exchange.SideBuy, exchange.PosSideLong
	case "close_long", "reduce_long":
		e.side, e.posSide, e.reduceOnly = exchange.SideSell, exchange.PosSideLong, true
	case "open_short", "add_short":
		e.side, e.posSide = exchange.SideSell, exchange.PosSideShort
	case "close_short", "reduce_short":
		e.side, e.posSide, e.reduceOnly = exchange.SideBuy, exchange.PosSideShort, true
	}
}

func (e *execution) resolvePayload() {
	payload := e.order.Payload()
	e.marginMode = payload.Str("margin_mode", "cross")
	e.leverage = int(payload.Float("leverage", float64(e.strategy.EffectiveLeverage(0))))
	if e.leverage < 1 {
		e.leverage = 1
	}
}

// orderMode resolves the execution protocol: payload override first, then
// engine default.
func (e *execution) orderMode() string {
	payload := e.order.Payload()
	if om := payload.Str("order_mode", ""); om != "" {
		return om
	}
	if e.order.OrderType == "limit" {
		return "maker"
	}
	return e.worker.orderCfg.Mode
}

// run walks the phases. Any returned error with zero prior fills fails the
// order; with prior fills the caller settles what filled.
func (e *execution) run(ctx context.Context) error {
	if e.side == "" {
		return fmt.Errorf("unsupported_signal_type: %s", e.order.SignalType)
	}

	if e.traits.SimpleFlow {
		return e.runSimple(ctx)
	}

	if e.order.MarketType == database.MarketTypeSwap {
		if e.traits.ContractSized {
			inst, err := e.client.GetInstrument(ctx, e.order.Symbol, e.order.MarketType)
			if err != nil {
				return fmt.Errorf("instrument_lookup_failed: %v", err)
			}
			e.instrument = inst
			if inst.ContractValue > 0 {
				e.sizeFactor = inst.ContractValue
			}
		}
		if err := e.setLeverage(ctx, true); err != nil {
			return err
		}
	}

	remaining := e.order.Amount

	if makerModes[e.orderMode()] {
		var err error
		remaining, err = e.makerPhase(ctx, remaining)
		if err != nil {
			return err
		}
	}

	if remaining <= 0 {
		return nil
	}

	// Tail guard: a residual below one contract cannot be chased with a
	// market order; treat as partial success.
	if e.traits.ContractSized && e.instrument != nil && e.instrument.MinSize > 0 {
		if remaining < e.instrument.MinSize*e.sizeFactor*tailEpsilon {
			return nil
		}
	}

	return e.marketPhase(ctx, remaining)
}

// runSimple is the broker-bridge flow: one market order, no phases.
func (e *execution) runSimple(ctx context.Context) error {
	clientOID, err := orders.ClientOrderID(e.client.Name(), e.order.StrategyID, e.order.ID, orders.PhaseSingle)
	if err != nil {
		return err
	}

	res, err := e.client.PlaceMarketOrder(ctx, exchange.MarketOrderRequest{
		Symbol:        e.order.Symbol,
		Side:          e.side,
		Amount:        e.order.Amount,
		MarketType:    e.order.MarketType,
		PosSide:       e.posSide,
		ReduceOnly:    e.reduceOnly,
		ClientOrderID: clientOID,
	})
	if err != nil {
		return err
	}

	fill, _ := e.client.WaitForFill(ctx, exchange.FillQuery{
		Symbol:     e.order.Symbol,
		MarketType: e.order.MarketType,
		OrderID:    res.ExchangeOrderID,
		MaxWaitSec: 5,
	})
	e.recordPhase(orders.PhaseSingle, res.ExchangeOrderID, fill, 1, "")
	return nil
}

// setLeverage configures leverage ahead of futures orders. Binance treats a
// failure as fatal; the rest degrade to best-effort.
func (e *execution) setLeverage(ctx context.Context, firstAttempt bool) error {
	req := exchange.LeverageRequest{
		Symbol:     e.order.Symbol,
		Leverage:   e.leverage,
		MarginMode: e.marginMode,
		PosSide:    e.posSide,
	}
	err := e.client.SetLeverage(ctx, req)
	if err == nil {
		return nil
	}
	if e.traits.LeverageRequired && firstAttempt {
		return fmt.Errorf("%s_set_leverage_failed: %v", e.client.Name(), err)
	}
	e.worker.logger.Warn("Leverage set failed, continuing",
		"order_id", e.order.ID, "venue", e.client.Name(), "error", err)
	return nil
}

// makerPhase places a skewed limit order for the full remaining amount and
// waits out the fill budget. Returns the remaining base amount.
func (e *execution) makerPhase(ctx context.Context, remaining float64) (float64, error) {
	offset := e.worker.orderCfg.MakerOffsetBps / 10000
	price := e.refPrice * (1 - offset)
	if e.side == exchange.SideSell {
		price = e.refPrice * (1 + offset)
	}

	size := e.toVenueSize(remaining)
	if size <= 0 {
		return remaining, nil
	}

	clientOID, err := orders.ClientOrderID(e.client.Name(), e.order.StrategyID, e.order.ID, orders.PhaseMaker)
	if err != nil {
		return remaining, err
	}

	res, err := e.client.PlaceLimitOrder(ctx, exchange.LimitOrderRequest{
		Symbol:        e.order.Symbol,
		Side:          e.side,
		Price:         price,
		Amount:        size,
		MarketType:    e.order.MarketType,
		PosSide:       e.posSide,
		ReduceOnly:    e.reduceOnly,
		PostOnly:      e.traits.PostOnly,
		MarginMode:    e.marginMode,
		ClientOrderID: clientOID,
	})
	if err != nil {
		// A rejected maker (post-only crossing, min size) falls through to
		// the market phase; venue-semantic rejections of the whole order
		// surface there if they repeat.
		e.phases = append(e.phases, phaseResult{Phase: orders.PhaseMaker, Error: compactError(err)})
		e.worker.logger.Warn("Maker phase placement failed",
			"order_id", e.order.ID, "error", err)
		return remaining, nil
	}

	waitSec := e.worker.orderCfg.MakerWait.Seconds()
	fill, _ := e.client.WaitForFill(ctx, exchange.FillQuery{
		Symbol:        e.order.Symbol,
		MarketType:    e.order.MarketType,
		OrderID:       res.ExchangeOrderID,
		ClientOrderID: clientOID,
		MaxWaitSec:    waitSec,
	})

	filledBase := e.recordPhase(orders.PhaseMaker, res.ExchangeOrderID, fill, e.sizeFactor, "")
	remaining -= filledBase

	if remaining > e.order.Amount*cancelEpsilonRatio {
		cancelErr := e.client.CancelOrder(ctx, exchange.CancelRequest{
			Symbol:        e.order.Symbol,
			MarketType:    e.order.MarketType,
			OrderID:       res.ExchangeOrderID,
			ClientOrderID: clientOID,
		})
		if cancelErr != nil {
			e.worker.logger.Warn("Maker cancel failed",
				"order_id", e.order.ID, "error", cancelErr)
		}
		// The cancel races in-flight fills; re-read the final state once.
		if final, err := e.client.WaitForFill(ctx, exchange.FillQuery{
			Symbol:        e.order.Symbol,
			MarketType:    e.order.MarketType,
			OrderID:       res.ExchangeOrderID,
			ClientOrderID: clientOID,
			MaxWaitSec:    1,
		}); err == nil && final != nil {
			extra := final.Filled*e.sizeFactor - filledBase
			if extra > 0 {
				e.amendLastPhase(final, e.sizeFactor)
				remaining -= extra
			}
		}
	} else {
		remaining = 0
	}

	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// marketPhase chases the remainder with a taker order.
func (e *execution) marketPhase(ctx context.Context, remaining float64) error {
	// Venues that lost the leverage setting during the maker wait get one
	// more best-effort attempt before the taker order.
	if e.order.MarketType == database.MarketTypeSwap && !e.traits.LeverageRequired {
		_ = e.setLeverage(ctx, false)
	}

	amount := e.toVenueSize(remaining)
	quoteSized := false
	if e.order.MarketType == database.MarketTypeSpot && e.side == exchange.SideBuy && e.traits.QuoteSizedSpotBuy {
		amount = remaining * e.refPrice
		quoteSized = true
	}
	if amount <= 0 {
		return nil
	}

	clientOID, err := orders.ClientOrderID(e.client.Name(), e.order.StrategyID, e.order.ID, orders.PhaseMarket)
	if err != nil {
		return err
	}

	res, err := e.client.PlaceMarketOrder(ctx, exchange.MarketOrderRequest{
		Symbol:        e.order.Symbol,
		Side:          e.side,
		Amount:        amount,
		QuoteSized:    quoteSized,
		MarketType:    e.order.MarketType,
		PosSide:       e.posSide,
		ReduceOnly:    e.reduceOnly,
		MarginMode:    e.marginMode,
		ClientOrderID: clientOID,
	})
	if err != nil {
		return err
	}

	factor := e.sizeFactor
	if quoteSized {
		factor = 1 // venues report spot fills in base units
	}
	fill, _ := e.client.WaitForFill(ctx, exchange.FillQuery{
		Symbol:        e.order.Symbol,
		MarketType:    e.order.MarketType,
		OrderID:       res.ExchangeOrderID,
		ClientOrderID: clientOID,
		MaxWaitSec:    5,
	})
	e.recordPhase(orders.PhaseMarket, res.ExchangeOrderID, fill, factor, "")
	return nil
}

// toVenueSize converts base units into the venue's order size, snapping
// contract counts down to the lot grid.
func (e *execution) toVenueSize(base float64) float64 {
	if e.sizeFactor == 1 {
		return base
	}
	contracts := base / e.sizeFactor
	if e.instrument != nil && e.instrument.LotSize > 0 {
		contracts = math.Floor(contracts/e.instrument.LotSize) * e.instrument.LotSize
	}
	return contracts
}

// recordPhase folds a fill into the totals and the audit trail. Returns the
// base units filled in this phase.
func (e *execution) recordPhase(phase, exchangeOrderID string, fill *exchange.Fill, factor float64, errMsg string) float64 {
	pr := phaseResult{Phase: phase, ExchangeOrderID: exchangeOrderID, Error: errMsg}
	var filledBase float64
	if fill != nil {
		filledBase = fill.Filled * factor
		pr.Filled = filledBase
		pr.AvgPrice = fill.AvgPrice
		pr.Fee = fill.Fee
		pr.FeeCcy = fill.FeeCcy

		e.totalFilled += filledBase
		price := fill.AvgPrice
		if price <= 0 {
			price = e.refPrice
		}
		e.totalCost += filledBase * price
		e.fee += fill.Fee
		if fill.FeeCcy != "" {
			e.feeCcy = fill.FeeCcy
		}
	}
	e.phases = append(e.phases, pr)
	return filledBase
}

// amendLastPhase replaces the last phase's fill with the post-cancel state.
func (e *execution) amendLastPhase(final *exchange.Fill, factor float64) {
	if len(e.phases) == 0 || final == nil {
		return
	}
	last := &e.phases[len(e.phases)-1]
	prevBase := last.Filled
	newBase := final.Filled * factor

	price := final.AvgPrice
	if price <= 0 {
		price = e.refPrice
	}
	e.totalFilled += newBase - prevBase
	e.totalCost += (newBase - prevBase) * price
	e.fee += final.Fee - last.Fee

	last.Filled = newBase
	last.AvgPrice = final.AvgPrice
	last.Fee = final.Fee
	if final.FeeCcy != "" {
		last.FeeCcy = final.FeeCcy
		e.feeCcy = final.FeeCcy
	}
}

// avgPrice is the volume-weighted fill price.
func (e *execution) avgPrice() float64 {
	if e.totalFilled <= 0 {
		return e.refPrice
	}
	return e.totalCost / e.totalFilled
}

func (e *execution) responseJSON() string {
	b, err := json.Marshal(map[string]interface{}{"phases": e.phases})
	if err != nil {
		return ""
	}
	return string(b)
}

// compactError trims an error to a queue-column-friendly string.
func compactError(err error) string {
	msg := err.Error()
	if len(msg) > 500 {
		msg = msg[:500]
	}
	return msg
}

// settle applies fills to the local position, records the trade, and marks
// the order sent.
func (w *Worker) settle(ctx context.Context, e *execution, note string) {
	order := e.order
	avg := e.avgPrice()

	profit, _, err := w.repo.ApplyFill(ctx, order.UserID, order.StrategyID, order.Symbol, order.SignalType, e.totalFilled, avg)
	if err != nil {
		w.logger.Error("Position settlement failed", "order_id", order.ID, "error", err)
	}

	// Fees reduce profit only when paid in a stable currency; a BNB or base
	// currency fee is stored on the trade but left out of the PnL.
	feeCcy := strings.ToUpper(strings.TrimSpace(e.feeCcy))
	if profit != nil && e.fee != 0 {
		switch feeCcy {
		case "USDT", "USDC", "USD":
			adjusted := *profit - e.fee
			profit = &adjusted
		}
	}

	trade := &database.Trade{
		UserID:        order.UserID,
		StrategyID:    order.StrategyID,
		Symbol:        order.Symbol,
		Type:          order.SignalType,
		Price:         avg,
		Amount:        e.totalFilled,
		Commission:    e.fee,
		CommissionCcy: feeCcy,
		Profit:        profit,
	}
	if err := w.repo.RecordTrade(ctx, trade); err != nil {
		w.logger.Error("Trade record failed", "order_id", order.ID, "error", err)
	}

	now := time.Now().Unix()
	sent := database.SentResult{
		Note:                 note,
		ExchangeID:           e.client.Name(),
		ExchangeResponseJSON: e.responseJSON(),
		Filled:               e.totalFilled,
		AvgPrice:             avg,
		ExecutedAt:           &now,
	}
	for _, p := range e.phases {
		if p.ExchangeOrderID != "" {
			sent.ExchangeOrderID = p.ExchangeOrderID
		}
	}
	if err := w.repo.MarkSent(ctx, order.ID, sent); err != nil {
		w.logger.Error("Mark sent failed", "order_id", order.ID, "error", err)
		return
	}

	w.logger.Info("Order executed",
		"order_id", order.ID, "signal_type", order.SignalType,
		"filled", e.totalFilled, "avg_price", avg, "venue", e.client.Name())

	event := &notify.Event{
		Type:       notify.EventExecuted,
		StrategyID: order.StrategyID,
		UserID:     parseUserID(order.UserID),
		Symbol:     order.Symbol,
		SignalType: order.SignalType,
		Price:      avg,
		Amount:     e.totalFilled,
		Title:      fmt.Sprintf("Order executed: %s", order.Symbol),
		Message:    fmt.Sprintf("%s %s filled %s @ %s on %s", order.Symbol, order.SignalType, trimFloat(e.totalFilled), trimFloat(avg), e.client.Name()),
		Timestamp:  time.Now().UTC(),
	}
	w.notifier.Dispatch(ctx, event, enabledChannels(e.strategy))
}

func trimFloat(v float64) string {
	s := strconv.FormatFloat(v, 'f', 8, 64)
	s = strings.TrimRight(s, "0")
	return strings.TrimRight(s, ".")
}
