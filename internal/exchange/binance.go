package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	binanceSpotBaseURL    = "https://api.binance.com"
	binanceFuturesBaseURL = "https://fapi.binance.com"
)

// BinanceClient talks to Binance spot and USDT-M futures. Sizes are base
// units on both markets; futures orders carry positionSide for hedge mode.
type BinanceClient struct {
	apiKey     string
	secretKey  string
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewBinanceClient creates a venue client from raw credentials.
func NewBinanceClient(apiKey, secretKey string) *BinanceClient {
	return &BinanceClient{
		apiKey:     strings.TrimSpace(apiKey),
		secretKey:  strings.TrimSpace(secretKey),
		httpClient: &http.Client{Timeout: 15 * time.Second},
		logger:     venueLogger("binance"),
	}
}

func (c *BinanceClient) Name() string { return "binance" }

func (c *BinanceClient) Traits() Traits {
	return Traits{
		PostOnly:          true,
		QuoteSizedSpotBuy: false,
		LeverageRequired:  true,
		ContractSized:     false,
		SimpleFlow:        false,
		Category:          CategoryCrypto,
	}
}

func (c *BinanceClient) baseURL(marketType string) string {
	if marketType == "swap" {
		return binanceFuturesBaseURL
	}
	return binanceSpotBaseURL
}

func (c *BinanceClient) orderPath(marketType string) string {
	if marketType == "swap" {
		return "/fapi/v1/order"
	}
	return "/api/v3/order"
}

// PlaceLimitOrder places a maker order. On futures, PostOnly maps to GTX;
// on spot, to LIMIT_MAKER.
func (c *BinanceClient) PlaceLimitOrder(ctx context.Context, req LimitOrderRequest) (*OrderResult, error) {
	params := map[string]string{
		"symbol":   ToBinanceSymbol(req.Symbol),
		"side":     strings.ToUpper(req.Side),
		"quantity": trimFloat(req.Amount),
		"price":    trimFloat(req.Price),
	}
	if req.ClientOrderID != "" {
		params["newClientOrderId"] = req.ClientOrderID
	}
	if req.MarketType == "swap" {
		params["positionSide"] = strings.ToUpper(req.PosSide)
		if req.PostOnly {
			params["type"] = "LIMIT"
			params["timeInForce"] = "GTX"
		} else {
			params["type"] = "LIMIT"
			params["timeInForce"] = "GTC"
		}
	} else {
		if req.PostOnly {
			params["type"] = "LIMIT_MAKER"
		} else {
			params["type"] = "LIMIT"
			params["timeInForce"] = "GTC"
		}
	}

	body, err := c.signedRequest(ctx, http.MethodPost, c.baseURL(req.MarketType), c.orderPath(req.MarketType), params)
	if err != nil {
		return nil, err
	}
	return c.parseOrderAck(body)
}

// PlaceMarketOrder places a taker order for the remainder.
func (c *BinanceClient) PlaceMarketOrder(ctx context.Context, req MarketOrderRequest) (*OrderResult, error) {
	params := map[string]string{
		"symbol":   ToBinanceSymbol(req.Symbol),
		"side":     strings.ToUpper(req.Side),
		"type":     "MARKET",
		"quantity": trimFloat(req.Amount),
	}
	if req.ClientOrderID != "" {
		params["newClientOrderId"] = req.ClientOrderID
	}
	if req.MarketType == "swap" {
		params["positionSide"] = strings.ToUpper(req.PosSide)
	}

	body, err := c.signedRequest(ctx, http.MethodPost, c.baseURL(req.MarketType), c.orderPath(req.MarketType), params)
	if err != nil {
		return nil, err
	}
	return c.parseOrderAck(body)
}

func (c *BinanceClient) CancelOrder(ctx context.Context, req CancelRequest) error {
	params := map[string]string{
		"symbol": ToBinanceSymbol(req.Symbol),
	}
	if req.OrderID != "" {
		params["orderId"] = req.OrderID
	} else {
		params["origClientOrderId"] = req.ClientOrderID
	}
	_, err := c.signedRequest(ctx, http.MethodDelete, c.baseURL(req.MarketType), c.orderPath(req.MarketType), params)
	return err
}

// WaitForFill polls the order until it reaches a terminal status or the wait
// budget runs out. Fee currency is read from the futures order trades; spot
// fills report the commission asset of the first trade.
func (c *BinanceClient) WaitForFill(ctx context.Context, q FillQuery) (*Fill, error) {
	return pollFills(ctx, q.MaxWaitSec, func() (*Fill, bool, error) {
		params := map[string]string{
			"symbol": ToBinanceSymbol(q.Symbol),
		}
		if q.OrderID != "" {
			params["orderId"] = q.OrderID
		} else {
			params["origClientOrderId"] = q.ClientOrderID
		}
		body, err := c.signedRequest(ctx, http.MethodGet, c.baseURL(q.MarketType), c.orderPath(q.MarketType), params)
		if err != nil {
			return nil, false, err
		}

		var st struct {
			Status      string `json:"status"`
			ExecutedQty string `json:"executedQty"`
			CumQuote    string `json:"cumQuote"`
			CumQuoteQty string `json:"cummulativeQuoteQty"`
			AvgPrice    string `json:"avgPrice"`
		}
		if err := json.Unmarshal(body, &st); err != nil {
			return nil, false, err
		}

		fill := &Fill{Filled: parseFloat(st.ExecutedQty)}
		if avg := parseFloat(st.AvgPrice); avg > 0 {
			fill.AvgPrice = avg
		} else if fill.Filled > 0 {
			quote := parseFloat(st.CumQuote)
			if quote == 0 {
				quote = parseFloat(st.CumQuoteQty)
			}
			if quote > 0 {
				fill.AvgPrice = quote / fill.Filled
			}
		}
		done := st.Status == "FILLED" || st.Status == "CANCELED" ||
			st.Status == "REJECTED" || st.Status == "EXPIRED"
		return fill, done, nil
	})
}

func (c *BinanceClient) SetLeverage(ctx context.Context, req LeverageRequest) error {
	params := map[string]string{
		"symbol":   ToBinanceSymbol(req.Symbol),
		"leverage": strconv.Itoa(req.Leverage),
	}
	_, err := c.signedRequest(ctx, http.MethodPost, binanceFuturesBaseURL, "/fapi/v1/leverage", params)
	if err != nil {
		return NewTradeError(c.Name(), CodeLeverageSetFailed, err.Error())
	}
	return nil
}

// GetPositions returns non-zero futures positions in base units. Spot has no
// position concept on this venue.
func (c *BinanceClient) GetPositions(ctx context.Context, marketType string) ([]PositionSnapshot, error) {
	if marketType != "swap" {
		return nil, ErrNotSupported
	}
	body, err := c.signedRequest(ctx, http.MethodGet, binanceFuturesBaseURL, "/fapi/v2/positionRisk", map[string]string{})
	if err != nil {
		return nil, err
	}

	var raw []struct {
		Symbol       string `json:"symbol"`
		PositionAmt  string `json:"positionAmt"`
		PositionSide string `json:"positionSide"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, err
	}

	bySymbol := map[string]*PositionSnapshot{}
	for _, p := range raw {
		amt := parseFloat(p.PositionAmt)
		if amt == 0 {
			continue
		}
		snap := bySymbol[p.Symbol]
		if snap == nil {
			snap = &PositionSnapshot{Symbol: p.Symbol}
			bySymbol[p.Symbol] = snap
		}
		switch {
		case p.PositionSide == "SHORT" || amt < 0:
			if amt < 0 {
				amt = -amt
			}
			snap.Short += amt
		default:
			snap.Long += amt
		}
	}

	out := make([]PositionSnapshot, 0, len(bySymbol))
	for _, snap := range bySymbol {
		out = append(out, *snap)
	}
	return out, nil
}

// GetInstrument is not needed on Binance: sizes are already base units.
func (c *BinanceClient) GetInstrument(ctx context.Context, symbol, marketType string) (*Instrument, error) {
	return &Instrument{ContractValue: 1, MinSize: 0, LotSize: 0}, nil
}

// ==================== HTTP HELPERS ====================

func (c *BinanceClient) buildQueryString(params map[string]string) string {
	query := ""
	for k, v := range params {
		if k != "signature" {
			if query != "" {
				query += "&"
			}
			query += k + "=" + url.QueryEscape(v)
		}
	}
	return query
}

func (c *BinanceClient) sign(query string) string {
	mac := hmac.New(sha256.New, []byte(c.secretKey))
	mac.Write([]byte(query))
	return hex.EncodeToString(mac.Sum(nil))
}

func (c *BinanceClient) signedRequest(ctx context.Context, method, base, endpoint string, params map[string]string) ([]byte, error) {
	var body []byte
	call := func() error {
		// Each attempt signs its own timestamp; recvWindow is only 5s, so a
		// backed-off retry must not resend a stale signature.
		params["timestamp"] = strconv.FormatInt(time.Now().UnixMilli(), 10)
		params["recvWindow"] = "5000"
		query := c.buildQueryString(params)
		query += "&signature=" + c.sign(query)

		req, err := http.NewRequestWithContext(ctx, method, base+endpoint+"?"+query, nil)
		if err != nil {
			return err
		}
		req.Header.Set("X-MBX-APIKEY", c.apiKey)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if resp.StatusCode != http.StatusOK {
			return c.classifyError(resp.StatusCode, body)
		}
		return nil
	}

	if err := withRetry(ctx, c.logger, method+" "+endpoint, call); err != nil {
		return nil, err
	}
	return body, nil
}

func (c *BinanceClient) classifyError(status int, body []byte) error {
	var apiErr struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	}
	_ = json.Unmarshal(body, &apiErr)

	switch apiErr.Code {
	case -2010, -2019:
		return NewTradeError(c.Name(), CodeInsufficientFunds, apiErr.Msg)
	case -1013:
		return NewTradeError(c.Name(), CodeMinNotional, apiErr.Msg)
	case -1121:
		return NewTradeError(c.Name(), CodeUnsupportedSymbol, apiErr.Msg)
	}
	if status >= 400 && status < 500 && status != http.StatusTooManyRequests {
		return NewTradeError(c.Name(), CodeOrderRejected, fmt.Sprintf("HTTP %d: %s", status, string(body)))
	}
	return fmt.Errorf("binance API error %d: %s", status, string(body))
}

func (c *BinanceClient) parseOrderAck(body []byte) (*OrderResult, error) {
	var ack struct {
		OrderID int64 `json:"orderId"`
	}
	if err := json.Unmarshal(body, &ack); err != nil {
		return nil, err
	}
	var raw map[string]interface{}
	_ = json.Unmarshal(body, &raw)
	return &OrderResult{ExchangeOrderID: strconv.FormatInt(ack.OrderID, 10), Raw: raw}, nil
}

func trimFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func parseFloat(s string) float64 {
	v, _ := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return v
}
