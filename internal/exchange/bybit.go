package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
)

const bybitBaseURL = "https://api.bybit.com"

// BybitClient talks to Bybit's v5 unified API. Spot and linear perpetuals
// share endpoints with a category switch; sizes are base units on both.
type BybitClient struct {
	apiKey    string
	secretKey string
	rest      *resty.Client
	logger    zerolog.Logger
}

// NewBybitClient creates a venue client from raw credentials.
func NewBybitClient(apiKey, secretKey string) *BybitClient {
	return &BybitClient{
		apiKey:    strings.TrimSpace(apiKey),
		secretKey: strings.TrimSpace(secretKey),
		rest:      newRestClient(bybitBaseURL),
		logger:    venueLogger("bybit"),
	}
}

func (c *BybitClient) Name() string { return "bybit" }

func (c *BybitClient) Traits() Traits {
	return Traits{
		PostOnly:          true,
		QuoteSizedSpotBuy: false,
		LeverageRequired:  false,
		ContractSized:     false,
		SimpleFlow:        false,
		Category:          CategoryCrypto,
	}
}

func bybitCategory(marketType string) string {
	if marketType == "swap" {
		return "linear"
	}
	return "spot"
}

// Bybit wants "Buy"/"Sell"
func bybitSide(side string) string {
	if side == SideSell {
		return "Sell"
	}
	return "Buy"
}

// hedge-mode position index: 1 long, 2 short; spot has none
func bybitPositionIdx(marketType, posSide string) int {
	if marketType != "swap" {
		return 0
	}
	if posSide == PosSideShort {
		return 2
	}
	return 1
}

func (c *BybitClient) PlaceLimitOrder(ctx context.Context, req LimitOrderRequest) (*OrderResult, error) {
	payload := map[string]interface{}{
		"category":  bybitCategory(req.MarketType),
		"symbol":    ToBybitSymbol(req.Symbol),
		"side":      bybitSide(req.Side),
		"orderType": "Limit",
		"qty":       trimFloat(req.Amount),
		"price":     trimFloat(req.Price),
	}
	if req.PostOnly {
		payload["timeInForce"] = "PostOnly"
	} else {
		payload["timeInForce"] = "GTC"
	}
	if req.ClientOrderID != "" {
		payload["orderLinkId"] = req.ClientOrderID
	}
	if req.MarketType == "swap" {
		payload["positionIdx"] = bybitPositionIdx(req.MarketType, req.PosSide)
		if req.ReduceOnly {
			payload["reduceOnly"] = true
		}
	}
	return c.placeOrder(ctx, payload)
}

func (c *BybitClient) PlaceMarketOrder(ctx context.Context, req MarketOrderRequest) (*OrderResult, error) {
	payload := map[string]interface{}{
		"category":  bybitCategory(req.MarketType),
		"symbol":    ToBybitSymbol(req.Symbol),
		"side":      bybitSide(req.Side),
		"orderType": "Market",
		"qty":       trimFloat(req.Amount),
	}
	if req.MarketType != "swap" {
		// spot market orders default to quote sizing; force base units
		payload["marketUnit"] = "baseCoin"
	}
	if req.ClientOrderID != "" {
		payload["orderLinkId"] = req.ClientOrderID
	}
	if req.MarketType == "swap" {
		payload["positionIdx"] = bybitPositionIdx(req.MarketType, req.PosSide)
		if req.ReduceOnly {
			payload["reduceOnly"] = true
		}
	}
	return c.placeOrder(ctx, payload)
}

func (c *BybitClient) placeOrder(ctx context.Context, payload map[string]interface{}) (*OrderResult, error) {
	body, err := c.signedRequest(ctx, "POST", "/v5/order/create", "", payload)
	if err != nil {
		return nil, err
	}
	var resp struct {
		RetCode int    `json:"retCode"`
		RetMsg  string `json:"retMsg"`
		Result  struct {
			OrderID string `json:"orderId"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	if resp.RetCode != 0 {
		return nil, c.classifyError(resp.RetCode, resp.RetMsg)
	}
	var raw map[string]interface{}
	_ = json.Unmarshal(body, &raw)
	return &OrderResult{ExchangeOrderID: resp.Result.OrderID, Raw: raw}, nil
}

func (c *BybitClient) CancelOrder(ctx context.Context, req CancelRequest) error {
	payload := map[string]interface{}{
		"category": bybitCategory(req.MarketType),
		"symbol":   ToBybitSymbol(req.Symbol),
	}
	if req.OrderID != "" {
		payload["orderId"] = req.OrderID
	} else {
		payload["orderLinkId"] = req.ClientOrderID
	}
	_, err := c.signedRequest(ctx, "POST", "/v5/order/cancel", "", payload)
	return err
}

func (c *BybitClient) WaitForFill(ctx context.Context, q FillQuery) (*Fill, error) {
	query := "category=" + bybitCategory(q.MarketType) + "&symbol=" + ToBybitSymbol(q.Symbol)
	if q.OrderID != "" {
		query += "&orderId=" + q.OrderID
	} else {
		query += "&orderLinkId=" + q.ClientOrderID
	}

	return pollFills(ctx, q.MaxWaitSec, func() (*Fill, bool, error) {
		body, err := c.signedRequest(ctx, "GET", "/v5/order/realtime", query, nil)
		if err != nil {
			return nil, false, err
		}
		var resp struct {
			Result struct {
				List []struct {
					OrderStatus string `json:"orderStatus"`
					CumExecQty  string `json:"cumExecQty"`
					AvgPrice    string `json:"avgPrice"`
					CumExecFee  string `json:"cumExecFee"`
				} `json:"list"`
			} `json:"result"`
		}
		if err := json.Unmarshal(body, &resp); err != nil || len(resp.Result.List) == 0 {
			return nil, false, fmt.Errorf("bybit order lookup failed")
		}
		d := resp.Result.List[0]
		fill := &Fill{
			Filled:   parseFloat(d.CumExecQty),
			AvgPrice: parseFloat(d.AvgPrice),
			Fee:      parseFloat(d.CumExecFee),
			FeeCcy:   "USDT",
		}
		done := d.OrderStatus == "Filled" || d.OrderStatus == "Cancelled" ||
			d.OrderStatus == "Rejected" || d.OrderStatus == "Deactivated"
		return fill, done, nil
	})
}

func (c *BybitClient) SetLeverage(ctx context.Context, req LeverageRequest) error {
	lev := strconv.Itoa(req.Leverage)
	payload := map[string]interface{}{
		"category":     "linear",
		"symbol":       ToBybitSymbol(req.Symbol),
		"buyLeverage":  lev,
		"sellLeverage": lev,
	}
	body, err := c.signedRequest(ctx, "POST", "/v5/position/set-leverage", "", payload)
	if err != nil {
		return NewTradeError(c.Name(), CodeLeverageSetFailed, err.Error())
	}
	var resp struct {
		RetCode int    `json:"retCode"`
		RetMsg  string `json:"retMsg"`
	}
	_ = json.Unmarshal(body, &resp)
	// 110043 = leverage not modified, already at the requested value
	if resp.RetCode != 0 && resp.RetCode != 110043 {
		return NewTradeError(c.Name(), CodeLeverageSetFailed, resp.RetMsg)
	}
	return nil
}

func (c *BybitClient) GetPositions(ctx context.Context, marketType string) ([]PositionSnapshot, error) {
	if marketType != "swap" {
		return nil, ErrNotSupported
	}
	body, err := c.signedRequest(ctx, "GET", "/v5/position/list", "category=linear&settleCoin=USDT", nil)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Result struct {
			List []struct {
				Symbol string `json:"symbol"`
				Side   string `json:"side"`
				Size   string `json:"size"`
			} `json:"list"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}

	bySymbol := map[string]*PositionSnapshot{}
	for _, p := range resp.Result.List {
		size := parseFloat(p.Size)
		if size == 0 {
			continue
		}
		snap := bySymbol[p.Symbol]
		if snap == nil {
			snap = &PositionSnapshot{Symbol: p.Symbol}
			bySymbol[p.Symbol] = snap
		}
		if p.Side == "Sell" {
			snap.Short += size
		} else {
			snap.Long += size
		}
	}

	out := make([]PositionSnapshot, 0, len(bySymbol))
	for _, snap := range bySymbol {
		out = append(out, *snap)
	}
	return out, nil
}

func (c *BybitClient) GetInstrument(ctx context.Context, symbol, marketType string) (*Instrument, error) {
	return &Instrument{ContractValue: 1}, nil
}

// ==================== HTTP HELPERS ====================

func (c *BybitClient) signedRequest(ctx context.Context, method, path, query string, payload map[string]interface{}) ([]byte, error) {
	var bodyStr string
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		bodyStr = string(b)
	}

	var out []byte
	call := func() error {
		ts := strconv.FormatInt(time.Now().UnixMilli(), 10)
		recvWindow := "5000"
		signBase := ts + c.apiKey + recvWindow
		if method == "GET" {
			signBase += query
		} else {
			signBase += bodyStr
		}
		mac := hmac.New(sha256.New, []byte(c.secretKey))
		mac.Write([]byte(signBase))

		r := c.rest.R().SetContext(ctx).
			SetHeader("X-BAPI-API-KEY", c.apiKey).
			SetHeader("X-BAPI-TIMESTAMP", ts).
			SetHeader("X-BAPI-RECV-WINDOW", recvWindow).
			SetHeader("X-BAPI-SIGN", hex.EncodeToString(mac.Sum(nil)))
		if bodyStr != "" {
			r.SetBody(bodyStr)
		}

		target := path
		if query != "" {
			target += "?" + query
		}
		resp, err := r.Execute(method, target)
		if err != nil {
			return err
		}
		out = resp.Body()
		if resp.StatusCode() >= 500 {
			return fmt.Errorf("bybit HTTP %d: %s", resp.StatusCode(), string(out))
		}
		return nil
	}

	if err := withRetry(ctx, c.logger, method+" "+path, call); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *BybitClient) classifyError(code int, msg string) error {
	switch code {
	case 110007, 170131:
		return NewTradeError(c.Name(), CodeInsufficientFunds, msg)
	case 170136, 170140:
		return NewTradeError(c.Name(), CodeMinNotional, msg)
	case 10001:
		return NewTradeError(c.Name(), CodeUnsupportedSymbol, msg)
	}
	return NewTradeError(c.Name(), CodeOrderRejected, fmt.Sprintf("%d: %s", code, msg))
}
