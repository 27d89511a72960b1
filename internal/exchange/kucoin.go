package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
)

const (
	kucoinSpotBaseURL    = "https://api.kucoin.com"
	kucoinFuturesBaseURL = "https://api-futures.kucoin.com"
)

// KucoinClient talks to KuCoin spot and futures. Futures sizes are in lots
// (multiplier base units each) and bitcoin is XBT. Spot market buys size in
// quote currency.
type KucoinClient struct {
	apiKey      string
	secretKey   string
	passphrase  string
	spotRest    *resty.Client
	futuresRest *resty.Client
	logger      zerolog.Logger
}

// NewKucoinClient creates a venue client from raw credentials.
func NewKucoinClient(apiKey, secretKey, passphrase string) *KucoinClient {
	return &KucoinClient{
		apiKey:      strings.TrimSpace(apiKey),
		secretKey:   strings.TrimSpace(secretKey),
		passphrase:  strings.TrimSpace(passphrase),
		spotRest:    newRestClient(kucoinSpotBaseURL),
		futuresRest: newRestClient(kucoinFuturesBaseURL),
		logger:      venueLogger("kucoin"),
	}
}

func (c *KucoinClient) Name() string { return "kucoin" }

func (c *KucoinClient) Traits() Traits {
	return Traits{
		PostOnly:          true,
		QuoteSizedSpotBuy: true,
		LeverageRequired:  false,
		ContractSized:     true,
		SimpleFlow:        false,
		Category:          CategoryCrypto,
	}
}

func (c *KucoinClient) restFor(marketType string) *resty.Client {
	if marketType == "swap" {
		return c.futuresRest
	}
	return c.spotRest
}

func (c *KucoinClient) PlaceLimitOrder(ctx context.Context, req LimitOrderRequest) (*OrderResult, error) {
	if req.MarketType == "swap" {
		payload := map[string]interface{}{
			"clientOid": req.ClientOrderID,
			"symbol":    ToKucoinFuturesSymbol(req.Symbol),
			"side":      req.Side,
			"type":      "limit",
			"price":     trimFloat(req.Price),
			"size":      int64(req.Amount),
			"postOnly":  req.PostOnly,
			"marginMode": func() string {
				if req.MarginMode == "isolated" {
					return "ISOLATED"
				}
				return "CROSS"
			}(),
		}
		if req.ReduceOnly {
			payload["reduceOnly"] = true
		}
		return c.placeOrder(ctx, "swap", "/api/v1/orders", payload)
	}

	payload := map[string]interface{}{
		"clientOid": req.ClientOrderID,
		"symbol":    ToKucoinSpotSymbol(req.Symbol),
		"side":      req.Side,
		"type":      "limit",
		"price":     trimFloat(req.Price),
		"size":      trimFloat(req.Amount),
		"postOnly":  req.PostOnly,
	}
	return c.placeOrder(ctx, "spot", "/api/v1/orders", payload)
}

func (c *KucoinClient) PlaceMarketOrder(ctx context.Context, req MarketOrderRequest) (*OrderResult, error) {
	if req.MarketType == "swap" {
		payload := map[string]interface{}{
			"clientOid": req.ClientOrderID,
			"symbol":    ToKucoinFuturesSymbol(req.Symbol),
			"side":      req.Side,
			"type":      "market",
			"size":      int64(req.Amount),
		}
		if req.ReduceOnly {
			payload["reduceOnly"] = true
		}
		return c.placeOrder(ctx, "swap", "/api/v1/orders", payload)
	}

	payload := map[string]interface{}{
		"clientOid": req.ClientOrderID,
		"symbol":    ToKucoinSpotSymbol(req.Symbol),
		"side":      req.Side,
		"type":      "market",
	}
	// spot market buys take funds (quote), sells take size (base)
	if req.QuoteSized {
		payload["funds"] = trimFloat(req.Amount)
	} else {
		payload["size"] = trimFloat(req.Amount)
	}
	return c.placeOrder(ctx, "spot", "/api/v1/orders", payload)
}

func (c *KucoinClient) placeOrder(ctx context.Context, marketType, path string, payload map[string]interface{}) (*OrderResult, error) {
	body, err := c.signedRequest(ctx, marketType, "POST", path, "", payload)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Code string `json:"code"`
		Msg  string `json:"msg"`
		Data struct {
			OrderID string `json:"orderId"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	if resp.Code != "200000" {
		return nil, c.classifyError(resp.Code, resp.Msg)
	}
	var raw map[string]interface{}
	_ = json.Unmarshal(body, &raw)
	return &OrderResult{ExchangeOrderID: resp.Data.OrderID, Raw: raw}, nil
}

func (c *KucoinClient) CancelOrder(ctx context.Context, req CancelRequest) error {
	_, err := c.signedRequest(ctx, req.MarketType, "DELETE", "/api/v1/orders/"+req.OrderID, "", nil)
	return err
}

func (c *KucoinClient) WaitForFill(ctx context.Context, q FillQuery) (*Fill, error) {
	return pollFills(ctx, q.MaxWaitSec, func() (*Fill, bool, error) {
		body, err := c.signedRequest(ctx, q.MarketType, "GET", "/api/v1/orders/"+q.OrderID, "", nil)
		if err != nil {
			return nil, false, err
		}
		var resp struct {
			Data struct {
				IsActive  bool   `json:"isActive"`
				Status    string `json:"status"`
				DealSize  string `json:"dealSize"`
				DealFunds string `json:"dealFunds"`
				FilledSz  string `json:"filledSize"`
				FilledVal string `json:"filledValue"`
				Fee       string `json:"fee"`
				FeeCcy    string `json:"feeCurrency"`
			} `json:"data"`
		}
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, false, err
		}
		d := resp.Data

		filled := parseFloat(d.DealSize)
		funds := parseFloat(d.DealFunds)
		if filled == 0 {
			filled = parseFloat(d.FilledSz)
			funds = parseFloat(d.FilledVal)
		}
		fill := &Fill{Filled: filled, Fee: parseFloat(d.Fee), FeeCcy: d.FeeCcy}
		if filled > 0 && funds > 0 {
			fill.AvgPrice = funds / filled
		}
		done := !d.IsActive || d.Status == "done"
		return fill, done, nil
	})
}

func (c *KucoinClient) SetLeverage(ctx context.Context, req LeverageRequest) error {
	payload := map[string]interface{}{
		"symbol":   ToKucoinFuturesSymbol(req.Symbol),
		"leverage": strconv.Itoa(req.Leverage),
	}
	_, err := c.signedRequest(ctx, "swap", "POST", "/api/v2/changeCrossUserLeverage", "", payload)
	if err != nil {
		return NewTradeError(c.Name(), CodeLeverageSetFailed, err.Error())
	}
	return nil
}

func (c *KucoinClient) GetPositions(ctx context.Context, marketType string) ([]PositionSnapshot, error) {
	if marketType != "swap" {
		return nil, ErrNotSupported
	}
	body, err := c.signedRequest(ctx, "swap", "GET", "/api/v1/positions", "", nil)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Data []struct {
			Symbol     string  `json:"symbol"`
			CurrentQty float64 `json:"currentQty"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}

	out := make([]PositionSnapshot, 0, len(resp.Data))
	for _, p := range resp.Data {
		if p.CurrentQty == 0 {
			continue
		}
		inst, err := c.GetInstrument(ctx, p.Symbol, "swap")
		mult := 1.0
		if err == nil && inst.ContractValue > 0 {
			mult = inst.ContractValue
		}
		symbol := strings.TrimSuffix(p.Symbol, "M")
		if strings.HasPrefix(symbol, "XBT") {
			symbol = "BTC" + symbol[3:]
		}
		snap := PositionSnapshot{Symbol: symbol}
		if p.CurrentQty > 0 {
			snap.Long = p.CurrentQty * mult
		} else {
			snap.Short = -p.CurrentQty * mult
		}
		out = append(out, snap)
	}
	return out, nil
}

func (c *KucoinClient) GetInstrument(ctx context.Context, symbol, marketType string) (*Instrument, error) {
	if marketType != "swap" {
		return &Instrument{ContractValue: 1}, nil
	}
	contract := symbol
	if !strings.HasSuffix(contract, "M") {
		contract = ToKucoinFuturesSymbol(symbol)
	}

	body, err := c.signedRequest(ctx, "swap", "GET", "/api/v1/contracts/"+contract, "", nil)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Data struct {
			Multiplier float64 `json:"multiplier"`
			LotSize    float64 `json:"lotSize"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil || resp.Data.Multiplier == 0 {
		return nil, NewTradeError(c.Name(), CodeUnsupportedSymbol, contract)
	}
	return &Instrument{
		ContractValue: resp.Data.Multiplier,
		MinSize:       resp.Data.LotSize,
		LotSize:       resp.Data.LotSize,
	}, nil
}

// ==================== HTTP HELPERS ====================

func (c *KucoinClient) signedRequest(ctx context.Context, marketType, method, path, query string, payload map[string]interface{}) ([]byte, error) {
	var bodyStr string
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		bodyStr = string(b)
	}

	requestPath := path
	if query != "" {
		requestPath += "?" + query
	}

	var out []byte
	call := func() error {
		ts := strconv.FormatInt(time.Now().UnixMilli(), 10)
		mac := hmac.New(sha256.New, []byte(c.secretKey))
		mac.Write([]byte(ts + method + requestPath + bodyStr))
		sign := base64.StdEncoding.EncodeToString(mac.Sum(nil))

		pmac := hmac.New(sha256.New, []byte(c.secretKey))
		pmac.Write([]byte(c.passphrase))
		passphrase := base64.StdEncoding.EncodeToString(pmac.Sum(nil))

		r := c.restFor(marketType).R().SetContext(ctx).
			SetHeader("KC-API-KEY", c.apiKey).
			SetHeader("KC-API-SIGN", sign).
			SetHeader("KC-API-TIMESTAMP", ts).
			SetHeader("KC-API-PASSPHRASE", passphrase).
			SetHeader("KC-API-KEY-VERSION", "2")
		if bodyStr != "" {
			r.SetBody(bodyStr)
		}

		resp, err := r.Execute(method, requestPath)
		if err != nil {
			return err
		}
		out = resp.Body()
		if resp.StatusCode() >= 500 {
			return fmt.Errorf("kucoin HTTP %d: %s", resp.StatusCode(), string(out))
		}
		return nil
	}

	if err := withRetry(ctx, c.logger, method+" "+path, call); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *KucoinClient) classifyError(code, msg string) error {
	switch code {
	case "200004", "300000":
		return NewTradeError(c.Name(), CodeInsufficientFunds, msg)
	case "400100":
		return NewTradeError(c.Name(), CodeMinNotional, msg)
	case "404000":
		return NewTradeError(c.Name(), CodeUnsupportedSymbol, msg)
	}
	return NewTradeError(c.Name(), CodeOrderRejected, fmt.Sprintf("%s: %s", code, msg))
}
