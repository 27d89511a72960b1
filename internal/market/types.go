// Package market provides candle and ticker access for the strategy engine.
package market

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Candle is one OHLCV bar. Timestamp is the candle open time, UTC.
type Candle struct {
	Timestamp int64   `json:"timestamp"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
}

// KlineSource fetches historical candles.
type KlineSource interface {
	FetchKlines(ctx context.Context, marketType, symbol, timeframe string, limit int, beforeTS int64) ([]Candle, error)
}

// PriceSource fetches the latest traded price.
type PriceSource interface {
	Ticker(ctx context.Context, symbol string) (float64, error)
}

// TimeframeDuration parses timeframes like 1m, 5m, 15m, 1h, 4h, 1d.
// Unknown inputs fall back to one hour.
func TimeframeDuration(tf string) time.Duration {
	tf = strings.ToLower(strings.TrimSpace(tf))
	if tf == "" {
		return time.Hour
	}
	unit := tf[len(tf)-1]
	n, err := strconv.Atoi(tf[:len(tf)-1])
	if err != nil || n <= 0 {
		return time.Hour
	}
	switch unit {
	case 's':
		return time.Duration(n) * time.Second
	case 'm':
		return time.Duration(n) * time.Minute
	case 'h':
		return time.Duration(n) * time.Hour
	case 'd':
		return time.Duration(n) * 24 * time.Hour
	case 'w':
		return time.Duration(n) * 7 * 24 * time.Hour
	default:
		return time.Hour
	}
}

// CandleOpen returns the open timestamp (unix seconds) of the candle
// containing t for the given timeframe. All candle math is UTC.
func CandleOpen(t time.Time, tf string) int64 {
	d := TimeframeDuration(tf)
	return t.UTC().Truncate(d).Unix()
}

// NormalizeSymbol strips separators and uppercases: "btc/usdt" -> "BTCUSDT".
func NormalizeSymbol(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	s = strings.ReplaceAll(s, "/", "")
	s = strings.ReplaceAll(s, "-", "")
	s = strings.ReplaceAll(s, "_", "")
	return s
}

// SplitSymbol splits "BTC/USDT" (or "BTCUSDT") into base and quote. The
// quote is guessed from common stablecoin suffixes when no separator exists.
func SplitSymbol(symbol string) (base, quote string, err error) {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	for _, sep := range []string{"/", "-", "_"} {
		if i := strings.Index(s, sep); i > 0 {
			return s[:i], s[i+len(sep):], nil
		}
	}
	for _, q := range []string{"USDT", "USDC", "BUSD", "USD", "BTC", "ETH"} {
		if strings.HasSuffix(s, q) && len(s) > len(q) {
			return s[:len(s)-len(q)], q, nil
		}
	}
	return "", "", fmt.Errorf("cannot split symbol %q", symbol)
}
