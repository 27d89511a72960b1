package exchange

import (
	"errors"
	"fmt"
)

// Machine codes for venue-semantic failures. These surface in
// pending_orders.last_error, so they are stable strings, not error text.
const (
	CodeInsufficientFunds = "insufficient_funds"
	CodeMinNotional       = "min_notional"
	CodeLeverageSetFailed = "leverage_set_failed"
	CodeUnsupportedSymbol = "unsupported_symbol"
	CodeOrderRejected     = "order_rejected"
	CodeTimeout           = "timeout"
)

// Package errors
var (
	ErrNotSupported      = errors.New("operation not supported by venue")
	ErrMissingCredential = errors.New("missing exchange credential")
	ErrUnknownExchange   = errors.New("unknown exchange id")
)

// TradeError is a venue-semantic execution failure. It is terminal for the
// order: the queue does not retry it.
type TradeError struct {
	Venue   string
	Code    string
	Message string
}

func (e *TradeError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: %s", e.Venue, e.Code)
	}
	return fmt.Sprintf("%s: %s: %s", e.Venue, e.Code, e.Message)
}

// NewTradeError builds a TradeError
func NewTradeError(venue, code, message string) *TradeError {
	return &TradeError{Venue: venue, Code: code, Message: message}
}

// IsTradeError reports whether err is (or wraps) a TradeError and returns it.
func IsTradeError(err error) (*TradeError, bool) {
	var te *TradeError
	if errors.As(err, &te) {
		return te, true
	}
	return nil, false
}
