package worker

import (
	"math"
	"testing"

	"quantdinger-engine/internal/database"
	"quantdinger-engine/internal/exchange"
)

func TestEnabledChannels(t *testing.T) {
	testCases := []struct {
		name     string
		config   database.JSONMap
		expected []string
	}{
		{
			name:     "nil config means all channels",
			config:   nil,
			expected: nil,
		},
		{
			name:     "empty config means all channels",
			config:   database.JSONMap{},
			expected: nil,
		},
		{
			name:     "bare flags",
			config:   database.JSONMap{"telegram": true, "browser": true},
			expected: []string{"telegram", "browser"},
		},
		{
			name:     "suffixed flags",
			config:   database.JSONMap{"discord_enabled": true},
			expected: []string{"discord"},
		},
		{
			name:     "false flags ignored",
			config:   database.JSONMap{"telegram": false, "webhook": true},
			expected: []string{"webhook"},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			st := &database.Strategy{NotificationConfig: tc.config}
			got := enabledChannels(st)
			if len(got) != len(tc.expected) {
				t.Fatalf("Expected %v, got %v", tc.expected, got)
			}
			for i := range got {
				if got[i] != tc.expected[i] {
					t.Errorf("Expected %v, got %v", tc.expected, got)
				}
			}
		})
	}
}

func TestParseUserID(t *testing.T) {
	if got := parseUserID("42"); got != 42 {
		t.Errorf("Expected 42, got %d", got)
	}
	if got := parseUserID(" 7 "); got != 7 {
		t.Errorf("Expected 7, got %d", got)
	}
	if got := parseUserID("not-a-number"); got != 0 {
		t.Errorf("Expected 0 for invalid input, got %d", got)
	}
}

func TestDeferReason(t *testing.T) {
	if got := deferReason(&database.Strategy{Status: database.StrategyStatusRunning}); got != "" {
		t.Errorf("Expected running strategy to dispatch, got %q", got)
	}
	if got := deferReason(&database.Strategy{Status: "stopped"}); got != "strategy_not_running" {
		t.Errorf("Expected stopped strategy to park its orders, got %q", got)
	}
}

func TestCategoryGuard(t *testing.T) {
	cryptoTraits := exchange.Traits{Category: exchange.CategoryCrypto}
	stockTraits := exchange.Traits{Category: exchange.CategoryUSStock, SimpleFlow: true}

	longOrder := &database.PendingOrder{SignalType: "open_long"}
	shortOrder := &database.PendingOrder{SignalType: "open_short"}

	strategyWith := func(category string) *database.Strategy {
		return &database.Strategy{TradingConfig: database.JSONMap{"market_category": category}}
	}

	if msg := categoryGuard(cryptoTraits, strategyWith("Crypto"), longOrder); msg != "" {
		t.Errorf("Expected crypto venue to serve crypto, got %q", msg)
	}
	if msg := categoryGuard(cryptoTraits, strategyWith("AShare"), longOrder); msg != "a_share_live_trading_not_supported" {
		t.Errorf("Expected A-share rejection, got %q", msg)
	}
	if msg := categoryGuard(cryptoTraits, strategyWith("Futures"), longOrder); msg == "" {
		t.Error("Expected futures category rejection")
	}
	if msg := categoryGuard(cryptoTraits, strategyWith("USStock"), longOrder); msg != "market_category_mismatch" {
		t.Errorf("Expected category mismatch, got %q", msg)
	}
	if msg := categoryGuard(stockTraits, strategyWith("USStock"), longOrder); msg != "" {
		t.Errorf("Expected stock bridge to serve US stocks, got %q", msg)
	}
	if msg := categoryGuard(stockTraits, strategyWith("HShare"), longOrder); msg != "" {
		t.Errorf("Expected H-shares to route through the stock bridge, got %q", msg)
	}
	if msg := categoryGuard(stockTraits, strategyWith("USStock"), shortOrder); msg != "ibkr_stock_short_not_supported" {
		t.Errorf("Expected stock short rejection, got %q", msg)
	}
	// Default category is crypto
	if msg := categoryGuard(cryptoTraits, &database.Strategy{}, longOrder); msg != "" {
		t.Errorf("Expected default category to be crypto, got %q", msg)
	}
}

func TestExecutionResolveSides(t *testing.T) {
	testCases := []struct {
		signalType string
		side       string
		posSide    string
		reduceOnly bool
	}{
		{"open_long", exchange.SideBuy, exchange.PosSideLong, false},
		{"add_long", exchange.SideBuy, exchange.PosSideLong, false},
		{"close_long", exchange.SideSell, exchange.PosSideLong, true},
		{"reduce_long", exchange.SideSell, exchange.PosSideLong, true},
		{"open_short", exchange.SideSell, exchange.PosSideShort, false},
		{"close_short", exchange.SideBuy, exchange.PosSideShort, true},
		{"reduce_short", exchange.SideBuy, exchange.PosSideShort, true},
	}

	for _, tc := range testCases {
		e := &execution{order: &database.PendingOrder{SignalType: tc.signalType}}
		e.resolveSides()
		if e.side != tc.side || e.posSide != tc.posSide || e.reduceOnly != tc.reduceOnly {
			t.Errorf("%s: expected (%s %s %v), got (%s %s %v)", tc.signalType,
				tc.side, tc.posSide, tc.reduceOnly, e.side, e.posSide, e.reduceOnly)
		}
	}
}

func TestExecutionToVenueSize(t *testing.T) {
	// Base-sized venue passes through
	e := &execution{sizeFactor: 1}
	if got := e.toVenueSize(0.125); got != 0.125 {
		t.Errorf("Expected pass-through 0.125, got %v", got)
	}

	// Contract-sized: 0.55 base at 0.1 base/contract with lot 1 = 5 contracts
	e = &execution{
		sizeFactor: 0.1,
		instrument: &exchange.Instrument{ContractValue: 0.1, MinSize: 1, LotSize: 1},
	}
	if got := e.toVenueSize(0.55); math.Abs(got-5) > 1e-9 {
		t.Errorf("Expected 5 contracts, got %v", got)
	}

	// Fractional lot grid
	e = &execution{
		sizeFactor: 0.01,
		instrument: &exchange.Instrument{ContractValue: 0.01, MinSize: 0.1, LotSize: 0.1},
	}
	got := e.toVenueSize(0.0057) // 0.57 contracts -> snaps down to 0.5
	if math.Abs(got-0.5) > 1e-9 {
		t.Errorf("Expected 0.5 contracts, got %v", got)
	}
}

func TestExecutionFillAggregation(t *testing.T) {
	e := &execution{
		order:      &database.PendingOrder{},
		refPrice:   100,
		sizeFactor: 1,
	}

	e.recordPhase("m", "a1", &exchange.Fill{Filled: 0.6, AvgPrice: 99.9, Fee: 0.01, FeeCcy: "USDT"}, 1, "")
	e.recordPhase("t", "a2", &exchange.Fill{Filled: 0.4, AvgPrice: 100.2, Fee: 0.02, FeeCcy: "USDT"}, 1, "")

	if math.Abs(e.totalFilled-1.0) > 1e-9 {
		t.Errorf("Expected total filled 1.0, got %v", e.totalFilled)
	}

	// VWAP of 0.6@99.9 and 0.4@100.2
	expected := (0.6*99.9 + 0.4*100.2) / 1.0
	if math.Abs(e.avgPrice()-expected) > 1e-9 {
		t.Errorf("Expected avg %v, got %v", expected, e.avgPrice())
	}

	if math.Abs(e.fee-0.03) > 1e-9 {
		t.Errorf("Expected fee 0.03, got %v", e.fee)
	}
	if e.feeCcy != "USDT" {
		t.Errorf("Expected fee ccy USDT, got %s", e.feeCcy)
	}
	if len(e.phases) != 2 {
		t.Errorf("Expected 2 phases recorded, got %d", len(e.phases))
	}
}

func TestExecutionFillAggregation_ContractFactor(t *testing.T) {
	e := &execution{
		order:      &database.PendingOrder{},
		refPrice:   100,
		sizeFactor: 0.1,
	}

	// 5 contracts at 0.1 base each = 0.5 base units
	filled := e.recordPhase("m", "a1", &exchange.Fill{Filled: 5, AvgPrice: 100}, 0.1, "")
	if math.Abs(filled-0.5) > 1e-9 {
		t.Errorf("Expected 0.5 base filled, got %v", filled)
	}
	if math.Abs(e.totalFilled-0.5) > 1e-9 {
		t.Errorf("Expected total 0.5, got %v", e.totalFilled)
	}
}

func TestExecutionAvgPriceFallsBackToReference(t *testing.T) {
	e := &execution{order: &database.PendingOrder{}, refPrice: 123.45, sizeFactor: 1}
	if got := e.avgPrice(); got != 123.45 {
		t.Errorf("Expected reference price fallback, got %v", got)
	}
}
