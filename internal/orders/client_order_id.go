// Package orders provides client order ID generation and parsing for the
// execution pipeline.
package orders

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Execution phases encoded in the ID suffix
const (
	PhaseMaker  = "m"
	PhaseMarket = "t"
	PhaseSingle = "s"
)

// okxMaxClientOrderIDLength is OKX's limit; it also rejects underscores.
const okxMaxClientOrderIDLength = 32

// Errors for client order ID operations
var (
	ErrInvalidClientOrderID = errors.New("invalid client order ID format")
	ErrInvalidPhase         = errors.New("invalid execution phase")
	ErrClientOrderIDTooLong = errors.New("client order ID exceeds venue length limit")
)

// ParsedID is the strategy/order/phase triple recovered from a client order
// ID the engine generated.
type ParsedID struct {
	StrategyID int64
	OrderID    int64
	Phase      string
}

// ClientOrderID builds the venue client order ID for one execution phase of
// a pending order. The default form is "qd_{strategyID}_{orderID}_{phase}";
// OKX gets the compact alphanumeric form "qd{strategyID}{orderID}{phase}"
// capped at 32 characters.
func ClientOrderID(exchangeID string, strategyID, orderID int64, phase string) (string, error) {
	if err := validatePhase(phase); err != nil {
		return "", err
	}

	if strings.EqualFold(exchangeID, "okx") {
		id := fmt.Sprintf("qd%d%d%s", strategyID, orderID, phase)
		if len(id) > okxMaxClientOrderIDLength {
			return "", fmt.Errorf("%w: '%s' is %d characters", ErrClientOrderIDTooLong, id, len(id))
		}
		return id, nil
	}

	return fmt.Sprintf("qd_%d_%d_%s", strategyID, orderID, phase), nil
}

// Parse recovers the strategy/order/phase triple from an underscore-form ID.
// Compact OKX IDs are not parseable (the digit boundary is ambiguous) and
// return ErrInvalidClientOrderID.
func Parse(id string) (*ParsedID, error) {
	parts := strings.Split(id, "_")
	if len(parts) != 4 || parts[0] != "qd" {
		return nil, fmt.Errorf("%w: '%s'", ErrInvalidClientOrderID, id)
	}

	strategyID, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: bad strategy id in '%s'", ErrInvalidClientOrderID, id)
	}
	orderID, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: bad order id in '%s'", ErrInvalidClientOrderID, id)
	}
	if err := validatePhase(parts[3]); err != nil {
		return nil, fmt.Errorf("%w: bad phase in '%s'", ErrInvalidClientOrderID, id)
	}

	return &ParsedID{StrategyID: strategyID, OrderID: orderID, Phase: parts[3]}, nil
}

// IsEngineID reports whether a venue-reported client order ID was generated
// by this engine, in either form.
func IsEngineID(id string) bool {
	return strings.HasPrefix(id, "qd_") || (strings.HasPrefix(id, "qd") && len(id) > 2 && id[2] >= '0' && id[2] <= '9')
}

func validatePhase(phase string) error {
	switch phase {
	case PhaseMaker, PhaseMarket, PhaseSingle:
		return nil
	default:
		return fmt.Errorf("%w: '%s'", ErrInvalidPhase, phase)
	}
}
