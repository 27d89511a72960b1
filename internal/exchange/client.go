// Package exchange defines the venue client capability set and its
// per-venue implementations.
package exchange

import (
	"context"
)

// Market categories a strategy symbol can belong to. Live execution is only
// permitted when the configured venue serves the category.
const (
	CategoryCrypto  = "Crypto"
	CategoryUSStock = "USStock"
	CategoryHShare  = "HShare"
	CategoryAShare  = "AShare"
	CategoryForex   = "Forex"
	CategoryFutures = "Futures"
)

// Order sides and position sides in venue-neutral form
const (
	SideBuy  = "buy"
	SideSell = "sell"

	PosSideLong  = "long"
	PosSideShort = "short"
)

// LimitOrderRequest places a maker order.
type LimitOrderRequest struct {
	Symbol        string
	Side          string // buy | sell
	Price         float64
	Amount        float64 // base units
	MarketType    string  // spot | swap
	PosSide       string  // long | short, futures only
	ReduceOnly    bool
	PostOnly      bool
	MarginMode    string // cross | isolated
	ClientOrderID string
}

// MarketOrderRequest places a taker order for the remainder.
type MarketOrderRequest struct {
	Symbol        string
	Side          string
	Amount        float64 // base units unless QuoteSized
	QuoteSized    bool    // amount is quote currency (spot market buys on some venues)
	MarketType    string
	PosSide       string
	ReduceOnly    bool
	MarginMode    string
	ClientOrderID string
}

// CancelRequest identifies an order to cancel.
type CancelRequest struct {
	Symbol        string
	MarketType    string
	OrderID       string
	ClientOrderID string
}

// FillQuery polls an order's execution state.
type FillQuery struct {
	Symbol        string
	MarketType    string
	OrderID       string
	ClientOrderID string
	MaxWaitSec    float64
}

// OrderResult is the immediate placement acknowledgement.
type OrderResult struct {
	ExchangeOrderID string
	Raw             map[string]interface{}
}

// Fill is the accumulated execution state of one order.
type Fill struct {
	Filled   float64 // base units
	AvgPrice float64
	Fee      float64
	FeeCcy   string
}

// Instrument carries size-conversion metadata for contract-sized venues.
// ContractValue is base units per contract; MinSize and LotSize are in
// contracts.
type Instrument struct {
	ContractValue float64
	MinSize       float64
	LotSize       float64
}

// LeverageRequest configures leverage ahead of a futures order.
type LeverageRequest struct {
	Symbol     string
	Leverage   int
	MarginMode string // cross | isolated
	PosSide    string // long | short
}

// PositionSnapshot is one venue position converted to base units.
type PositionSnapshot struct {
	Symbol string
	Long   float64
	Short  float64
}

// Traits describe venue behavior the dispatcher must honor.
type Traits struct {
	// PostOnly: the venue supports post-only limit orders.
	PostOnly bool
	// QuoteSizedSpotBuy: spot market buys take quote-currency size.
	QuoteSizedSpotBuy bool
	// LeverageRequired: a failed leverage call aborts the order instead of
	// degrading to best-effort.
	LeverageRequired bool
	// ContractSized: order and position sizes are denominated in contracts.
	ContractSized bool
	// SimpleFlow: no maker phase; a single market order is placed (broker
	// bridges).
	SimpleFlow bool
	// Category the venue serves.
	Category string
}

// Client is the per-venue capability set consumed by the dispatcher.
type Client interface {
	Name() string
	Traits() Traits

	PlaceLimitOrder(ctx context.Context, req LimitOrderRequest) (*OrderResult, error)
	PlaceMarketOrder(ctx context.Context, req MarketOrderRequest) (*OrderResult, error)
	CancelOrder(ctx context.Context, req CancelRequest) error
	WaitForFill(ctx context.Context, q FillQuery) (*Fill, error)
	SetLeverage(ctx context.Context, req LeverageRequest) error
	GetPositions(ctx context.Context, marketType string) ([]PositionSnapshot, error)
	GetInstrument(ctx context.Context, symbol, marketType string) (*Instrument, error)
}
