package market

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"quantdinger-engine/config"
)

// BinanceSource serves public market data from Binance spot and USDT-margined
// futures REST endpoints. No credentials are required.
type BinanceSource struct {
	spotBaseURL    string
	futuresBaseURL string
	httpClient     *http.Client
}

// NewBinanceSource creates a market data source
func NewBinanceSource(cfg config.MarketConfig) *BinanceSource {
	spot := cfg.BinanceBaseURL
	if spot == "" {
		spot = "https://api.binance.com"
	}
	futures := cfg.BinanceFuturesBaseURL
	if futures == "" {
		futures = "https://fapi.binance.com"
	}
	return &BinanceSource{
		spotBaseURL:    spot,
		futuresBaseURL: futures,
		httpClient:     &http.Client{Timeout: 15 * time.Second},
	}
}

// Ticker returns the latest spot price for a symbol
func (b *BinanceSource) Ticker(ctx context.Context, symbol string) (float64, error) {
	params := url.Values{}
	params.Set("symbol", NormalizeSymbol(symbol))

	body, err := b.get(ctx, b.spotBaseURL+"/api/v3/ticker/price", params)
	if err != nil {
		return 0, err
	}

	var resp struct {
		Price string `json:"price"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("failed to parse ticker response: %w", err)
	}
	price, err := strconv.ParseFloat(resp.Price, 64)
	if err != nil || price <= 0 {
		return 0, fmt.Errorf("invalid ticker price %q for %s", resp.Price, symbol)
	}
	return price, nil
}

// FetchKlines retrieves candles. The swap market uses the futures endpoint;
// everything else the spot one. beforeTS (unix seconds) bounds the window
// from the right when non-zero.
func (b *BinanceSource) FetchKlines(ctx context.Context, marketType, symbol, timeframe string, limit int, beforeTS int64) ([]Candle, error) {
	if limit <= 0 {
		limit = 500
	}
	if limit > 1000 {
		limit = 1000
	}

	endpoint := b.spotBaseURL + "/api/v3/klines"
	if strings.EqualFold(marketType, "swap") {
		endpoint = b.futuresBaseURL + "/fapi/v1/klines"
	}

	params := url.Values{}
	params.Set("symbol", NormalizeSymbol(symbol))
	params.Set("interval", strings.ToLower(timeframe))
	params.Set("limit", strconv.Itoa(limit))
	if beforeTS > 0 {
		params.Set("endTime", strconv.FormatInt(beforeTS*1000, 10))
	}

	body, err := b.get(ctx, endpoint, params)
	if err != nil {
		return nil, err
	}

	// Binance kline rows are positional arrays:
	// [openTime, open, high, low, close, volume, closeTime, ...]
	var raw [][]interface{}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse klines response: %w", err)
	}

	candles := make([]Candle, 0, len(raw))
	for _, row := range raw {
		if len(row) < 6 {
			continue
		}
		openTime, ok := row[0].(float64)
		if !ok {
			continue
		}
		c := Candle{
			Timestamp: int64(openTime) / 1000,
			Open:      parseField(row[1]),
			High:      parseField(row[2]),
			Low:       parseField(row[3]),
			Close:     parseField(row[4]),
			Volume:    parseField(row[5]),
		}
		candles = append(candles, c)
	}
	return candles, nil
}

func (b *BinanceSource) get(ctx context.Context, endpoint string, params url.Values) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("market data request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("market data request returned %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}

func parseField(v interface{}) float64 {
	switch t := v.(type) {
	case string:
		f, _ := strconv.ParseFloat(t, 64)
		return f
	case float64:
		return t
	default:
		return 0
	}
}
