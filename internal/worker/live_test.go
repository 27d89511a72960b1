package worker

import (
	"context"
	"math"
	"testing"
	"time"

	"quantdinger-engine/config"
	"quantdinger-engine/internal/database"
	"quantdinger-engine/internal/exchange"
	"quantdinger-engine/internal/logging"
)

// fakeVenue is a scripted exchange.Client for dispatch tests.
type fakeVenue struct {
	traits     exchange.Traits
	instrument *exchange.Instrument
	makerFill  *exchange.Fill
	marketFill *exchange.Fill

	limitOrders   []exchange.LimitOrderRequest
	marketOrders  []exchange.MarketOrderRequest
	cancels       int
	leverageCalls int
}

func (f *fakeVenue) Name() string            { return "fakevenue" }
func (f *fakeVenue) Traits() exchange.Traits { return f.traits }

func (f *fakeVenue) PlaceLimitOrder(ctx context.Context, req exchange.LimitOrderRequest) (*exchange.OrderResult, error) {
	f.limitOrders = append(f.limitOrders, req)
	return &exchange.OrderResult{ExchangeOrderID: "maker-1"}, nil
}

func (f *fakeVenue) PlaceMarketOrder(ctx context.Context, req exchange.MarketOrderRequest) (*exchange.OrderResult, error) {
	f.marketOrders = append(f.marketOrders, req)
	return &exchange.OrderResult{ExchangeOrderID: "taker-1"}, nil
}

func (f *fakeVenue) CancelOrder(ctx context.Context, req exchange.CancelRequest) error {
	f.cancels++
	return nil
}

func (f *fakeVenue) WaitForFill(ctx context.Context, q exchange.FillQuery) (*exchange.Fill, error) {
	if q.OrderID == "maker-1" {
		return f.makerFill, nil
	}
	return f.marketFill, nil
}

func (f *fakeVenue) SetLeverage(ctx context.Context, req exchange.LeverageRequest) error {
	f.leverageCalls++
	return nil
}

func (f *fakeVenue) GetPositions(ctx context.Context, marketType string) ([]exchange.PositionSnapshot, error) {
	return nil, nil
}

func (f *fakeVenue) GetInstrument(ctx context.Context, symbol, marketType string) (*exchange.Instrument, error) {
	return f.instrument, nil
}

func newTestExecution(venue *fakeVenue, order *database.PendingOrder) *execution {
	w := &Worker{
		orderCfg: config.OrderConfig{
			Mode:           "maker",
			MakerWait:      10 * time.Millisecond,
			MakerOffsetBps: 5,
		},
		logger: logging.WithComponent("worker"),
	}
	e := &execution{
		worker:     w,
		client:     venue,
		traits:     venue.Traits(),
		order:      order,
		strategy:   &database.Strategy{},
		refPrice:   order.Price,
		sizeFactor: 1,
	}
	e.resolveSides()
	e.resolvePayload()
	return e
}

func TestRun_MakerFillsWhole(t *testing.T) {
	venue := &fakeVenue{
		traits:    exchange.Traits{PostOnly: true, Category: exchange.CategoryCrypto},
		makerFill: &exchange.Fill{Filled: 1.0, AvgPrice: 99.95, Fee: 0.01, FeeCcy: "USDT"},
	}
	e := newTestExecution(venue, &database.PendingOrder{
		SignalType: "open_long",
		Symbol:     "BTCUSDT",
		MarketType: database.MarketTypeSpot,
		Amount:     1.0,
		Price:      100,
	})

	if err := e.run(context.Background()); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if len(venue.limitOrders) != 1 {
		t.Fatalf("Expected one maker order, got %d", len(venue.limitOrders))
	}
	// Buy maker price skews below reference by 5 bps
	if got := venue.limitOrders[0].Price; math.Abs(got-99.95) > 1e-9 {
		t.Errorf("Expected skewed price 99.95, got %v", got)
	}
	if !venue.limitOrders[0].PostOnly {
		t.Error("Expected post-only maker on a post-only venue")
	}
	if venue.cancels != 0 {
		t.Error("Expected no cancel when the maker fills whole")
	}
	if len(venue.marketOrders) != 0 {
		t.Error("Expected no market phase after a full maker fill")
	}
	if math.Abs(e.totalFilled-1.0) > 1e-9 {
		t.Errorf("Expected total filled 1.0, got %v", e.totalFilled)
	}
	if math.Abs(e.avgPrice()-99.95) > 1e-9 {
		t.Errorf("Expected avg 99.95, got %v", e.avgPrice())
	}
}

func TestRun_PartialMakerThenMarket(t *testing.T) {
	venue := &fakeVenue{
		traits:     exchange.Traits{PostOnly: true, Category: exchange.CategoryCrypto},
		makerFill:  &exchange.Fill{Filled: 0.4, AvgPrice: 99.95, Fee: 0.01, FeeCcy: "USDT"},
		marketFill: &exchange.Fill{Filled: 0.6, AvgPrice: 100.1, Fee: 0.02, FeeCcy: "USDT"},
	}
	e := newTestExecution(venue, &database.PendingOrder{
		SignalType: "open_long",
		Symbol:     "BTCUSDT",
		MarketType: database.MarketTypeSpot,
		Amount:     1.0,
		Price:      100,
	})

	if err := e.run(context.Background()); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if venue.cancels != 1 {
		t.Errorf("Expected the unfilled maker to be cancelled, got %d cancels", venue.cancels)
	}
	if len(venue.marketOrders) != 1 {
		t.Fatalf("Expected one market order, got %d", len(venue.marketOrders))
	}
	if got := venue.marketOrders[0].Amount; math.Abs(got-0.6) > 1e-9 {
		t.Errorf("Expected market order for the 0.6 remainder, got %v", got)
	}

	if math.Abs(e.totalFilled-1.0) > 1e-9 {
		t.Errorf("Expected total filled 1.0, got %v", e.totalFilled)
	}
	expectedAvg := (0.4*99.95 + 0.6*100.1) / 1.0
	if math.Abs(e.avgPrice()-expectedAvg) > 1e-9 {
		t.Errorf("Expected avg %v, got %v", expectedAvg, e.avgPrice())
	}
	if math.Abs(e.fee-0.03) > 1e-9 {
		t.Errorf("Expected aggregated fee 0.03, got %v", e.fee)
	}
	if len(e.phases) != 2 {
		t.Errorf("Expected maker and market phases recorded, got %d", len(e.phases))
	}
}

func TestRun_MakerMissedEntirely(t *testing.T) {
	venue := &fakeVenue{
		traits:     exchange.Traits{PostOnly: true, Category: exchange.CategoryCrypto},
		makerFill:  &exchange.Fill{},
		marketFill: &exchange.Fill{Filled: 1.0, AvgPrice: 100.2, Fee: 0.02, FeeCcy: "USDT"},
	}
	e := newTestExecution(venue, &database.PendingOrder{
		SignalType: "close_long",
		Symbol:     "BTCUSDT",
		MarketType: database.MarketTypeSpot,
		Amount:     1.0,
		Price:      100,
	})

	if err := e.run(context.Background()); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if venue.cancels != 1 {
		t.Errorf("Expected cancel of the untouched maker, got %d", venue.cancels)
	}
	if len(venue.marketOrders) != 1 {
		t.Fatalf("Expected the market phase to chase the full amount")
	}
	// Sell maker skews above reference
	if got := venue.limitOrders[0].Price; math.Abs(got-100.05) > 1e-9 {
		t.Errorf("Expected skewed sell price 100.05, got %v", got)
	}
	if !venue.marketOrders[0].ReduceOnly {
		t.Error("Expected reduce-only market order for an exit")
	}
	if math.Abs(e.totalFilled-1.0) > 1e-9 {
		t.Errorf("Expected total filled 1.0, got %v", e.totalFilled)
	}
	if math.Abs(e.avgPrice()-100.2) > 1e-9 {
		t.Errorf("Expected avg 100.2, got %v", e.avgPrice())
	}
}

func TestRun_SubContractTailIsNotChased(t *testing.T) {
	venue := &fakeVenue{
		traits: exchange.Traits{
			PostOnly:      true,
			ContractSized: true,
			Category:      exchange.CategoryCrypto,
		},
		instrument: &exchange.Instrument{ContractValue: 0.01, MinSize: 1, LotSize: 1},
		// 49.5 of the 50 requested contracts filled; the 0.005 base residual
		// is below one contract.
		makerFill: &exchange.Fill{Filled: 49.5, AvgPrice: 99.95},
	}
	e := newTestExecution(venue, &database.PendingOrder{
		SignalType: "open_long",
		Symbol:     "BTCUSDT",
		MarketType: database.MarketTypeSwap,
		Amount:     0.5,
		Price:      100,
	})

	if err := e.run(context.Background()); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if got := venue.limitOrders[0].Amount; math.Abs(got-50) > 1e-9 {
		t.Errorf("Expected 50-contract maker order, got %v", got)
	}
	if venue.cancels != 1 {
		t.Errorf("Expected cancel of the partially filled maker, got %d", venue.cancels)
	}
	if len(venue.marketOrders) != 0 {
		t.Error("Expected the sub-contract tail to settle as-is, not chase a market order")
	}
	if math.Abs(e.totalFilled-0.495) > 1e-9 {
		t.Errorf("Expected 0.495 base filled, got %v", e.totalFilled)
	}
	if venue.leverageCalls == 0 {
		t.Error("Expected leverage to be set ahead of the futures order")
	}
}
