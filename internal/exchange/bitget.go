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

const bitgetBaseURL = "https://api.bitget.com"

// BitgetClient talks to Bitget v2 spot and USDT-FUTURES. Sizes are base
// units; spot market buys size in quote currency. Hedge-mode leverage is set
// per holdSide.
type BitgetClient struct {
	apiKey     string
	secretKey  string
	passphrase string
	rest       *resty.Client
	logger     zerolog.Logger
}

// NewBitgetClient creates a venue client from raw credentials.
func NewBitgetClient(apiKey, secretKey, passphrase string) *BitgetClient {
	return &BitgetClient{
		apiKey:     strings.TrimSpace(apiKey),
		secretKey:  strings.TrimSpace(secretKey),
		passphrase: strings.TrimSpace(passphrase),
		rest:       newRestClient(bitgetBaseURL),
		logger:     venueLogger("bitget"),
	}
}

func (c *BitgetClient) Name() string { return "bitget" }

func (c *BitgetClient) Traits() Traits {
	return Traits{
		PostOnly:          true,
		QuoteSizedSpotBuy: true,
		LeverageRequired:  false,
		ContractSized:     false,
		SimpleFlow:        false,
		Category:          CategoryCrypto,
	}
}

// hedge-mode futures orders carry tradeSide open/close alongside buy/sell
func bitgetTradeSide(reduceOnly bool) string {
	if reduceOnly {
		return "close"
	}
	return "open"
}

func (c *BitgetClient) PlaceLimitOrder(ctx context.Context, req LimitOrderRequest) (*OrderResult, error) {
	if req.MarketType == "swap" {
		payload := map[string]interface{}{
			"symbol":      ToBitgetSymbol(req.Symbol),
			"productType": "USDT-FUTURES",
			"marginCoin":  "USDT",
			"marginMode":  c.marginMode(req.MarginMode),
			"size":        trimFloat(req.Amount),
			"price":       trimFloat(req.Price),
			"side":        req.Side,
			"tradeSide":   bitgetTradeSide(req.ReduceOnly),
			"orderType":   "limit",
		}
		if req.PostOnly {
			payload["force"] = "post_only"
		} else {
			payload["force"] = "gtc"
		}
		if req.ClientOrderID != "" {
			payload["clientOid"] = req.ClientOrderID
		}
		return c.placeOrder(ctx, "/api/v2/mix/order/place-order", payload)
	}

	payload := map[string]interface{}{
		"symbol":    ToBitgetSymbol(req.Symbol),
		"side":      req.Side,
		"orderType": "limit",
		"price":     trimFloat(req.Price),
		"size":      trimFloat(req.Amount),
	}
	if req.PostOnly {
		payload["force"] = "post_only"
	} else {
		payload["force"] = "gtc"
	}
	if req.ClientOrderID != "" {
		payload["clientOid"] = req.ClientOrderID
	}
	return c.placeOrder(ctx, "/api/v2/spot/trade/place-order", payload)
}

func (c *BitgetClient) PlaceMarketOrder(ctx context.Context, req MarketOrderRequest) (*OrderResult, error) {
	if req.MarketType == "swap" {
		payload := map[string]interface{}{
			"symbol":      ToBitgetSymbol(req.Symbol),
			"productType": "USDT-FUTURES",
			"marginCoin":  "USDT",
			"marginMode":  c.marginMode(req.MarginMode),
			"size":        trimFloat(req.Amount),
			"side":        req.Side,
			"tradeSide":   bitgetTradeSide(req.ReduceOnly),
			"orderType":   "market",
		}
		if req.ClientOrderID != "" {
			payload["clientOid"] = req.ClientOrderID
		}
		return c.placeOrder(ctx, "/api/v2/mix/order/place-order", payload)
	}

	// spot market buys size in quote currency, sells in base
	payload := map[string]interface{}{
		"symbol":    ToBitgetSymbol(req.Symbol),
		"side":      req.Side,
		"orderType": "market",
		"size":      trimFloat(req.Amount),
	}
	if req.ClientOrderID != "" {
		payload["clientOid"] = req.ClientOrderID
	}
	return c.placeOrder(ctx, "/api/v2/spot/trade/place-order", payload)
}

func (c *BitgetClient) marginMode(mode string) string {
	if mode == "isolated" {
		return "isolated"
	}
	return "crossed"
}

func (c *BitgetClient) placeOrder(ctx context.Context, path string, payload map[string]interface{}) (*OrderResult, error) {
	body, err := c.signedRequest(ctx, "POST", path, "", payload)
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
	if resp.Code != "00000" {
		return nil, c.classifyError(resp.Code, resp.Msg)
	}
	var raw map[string]interface{}
	_ = json.Unmarshal(body, &raw)
	return &OrderResult{ExchangeOrderID: resp.Data.OrderID, Raw: raw}, nil
}

func (c *BitgetClient) CancelOrder(ctx context.Context, req CancelRequest) error {
	if req.MarketType == "swap" {
		payload := map[string]interface{}{
			"symbol":      ToBitgetSymbol(req.Symbol),
			"productType": "USDT-FUTURES",
			"orderId":     req.OrderID,
		}
		_, err := c.signedRequest(ctx, "POST", "/api/v2/mix/order/cancel-order", "", payload)
		return err
	}
	payload := map[string]interface{}{
		"symbol":  ToBitgetSymbol(req.Symbol),
		"orderId": req.OrderID,
	}
	_, err := c.signedRequest(ctx, "POST", "/api/v2/spot/trade/cancel-order", "", payload)
	return err
}

func (c *BitgetClient) WaitForFill(ctx context.Context, q FillQuery) (*Fill, error) {
	return pollFills(ctx, q.MaxWaitSec, func() (*Fill, bool, error) {
		var path, query string
		if q.MarketType == "swap" {
			path = "/api/v2/mix/order/detail"
			query = "symbol=" + ToBitgetSymbol(q.Symbol) + "&productType=USDT-FUTURES&orderId=" + q.OrderID
		} else {
			path = "/api/v2/spot/trade/orderInfo"
			query = "orderId=" + q.OrderID
		}
		body, err := c.signedRequest(ctx, "GET", path, query, nil)
		if err != nil {
			return nil, false, err
		}

		if q.MarketType == "swap" {
			var resp struct {
				Data struct {
					State      string `json:"state"`
					BaseVolume string `json:"baseVolume"`
					AvgPrice   string `json:"priceAvg"`
					Fee        string `json:"fee"`
				} `json:"data"`
			}
			if err := json.Unmarshal(body, &resp); err != nil {
				return nil, false, err
			}
			d := resp.Data
			fill := &Fill{
				Filled:   parseFloat(d.BaseVolume),
				AvgPrice: parseFloat(d.AvgPrice),
				Fee:      -parseFloat(d.Fee),
				FeeCcy:   "USDT",
			}
			done := d.State == "filled" || d.State == "canceled"
			return fill, done, nil
		}

		var resp struct {
			Data []struct {
				Status     string `json:"status"`
				BaseVolume string `json:"baseVolume"`
				AvgPrice   string `json:"priceAvg"`
			} `json:"data"`
		}
		if err := json.Unmarshal(body, &resp); err != nil || len(resp.Data) == 0 {
			return nil, false, fmt.Errorf("bitget order lookup failed")
		}
		d := resp.Data[0]
		fill := &Fill{Filled: parseFloat(d.BaseVolume), AvgPrice: parseFloat(d.AvgPrice)}
		done := d.Status == "filled" || d.Status == "cancelled"
		return fill, done, nil
	})
}

// SetLeverage configures hedge-mode leverage for one holdSide.
func (c *BitgetClient) SetLeverage(ctx context.Context, req LeverageRequest) error {
	payload := map[string]interface{}{
		"symbol":      ToBitgetSymbol(req.Symbol),
		"productType": "USDT-FUTURES",
		"marginCoin":  "USDT",
		"leverage":    strconv.Itoa(req.Leverage),
	}
	if req.PosSide != "" {
		payload["holdSide"] = req.PosSide
	}
	_, err := c.signedRequest(ctx, "POST", "/api/v2/mix/account/set-leverage", "", payload)
	if err != nil {
		return NewTradeError(c.Name(), CodeLeverageSetFailed, err.Error())
	}
	return nil
}

func (c *BitgetClient) GetPositions(ctx context.Context, marketType string) ([]PositionSnapshot, error) {
	if marketType != "swap" {
		return nil, ErrNotSupported
	}
	body, err := c.signedRequest(ctx, "GET", "/api/v2/mix/position/all-position",
		"productType=USDT-FUTURES&marginCoin=USDT", nil)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Data []struct {
			Symbol   string `json:"symbol"`
			HoldSide string `json:"holdSide"`
			Total    string `json:"total"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}

	bySymbol := map[string]*PositionSnapshot{}
	for _, p := range resp.Data {
		size := parseFloat(p.Total)
		if size == 0 {
			continue
		}
		snap := bySymbol[p.Symbol]
		if snap == nil {
			snap = &PositionSnapshot{Symbol: p.Symbol}
			bySymbol[p.Symbol] = snap
		}
		if p.HoldSide == "short" {
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

func (c *BitgetClient) GetInstrument(ctx context.Context, symbol, marketType string) (*Instrument, error) {
	return &Instrument{ContractValue: 1}, nil
}

// ==================== HTTP HELPERS ====================

func (c *BitgetClient) signedRequest(ctx context.Context, method, path, query string, payload map[string]interface{}) ([]byte, error) {
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

		r := c.rest.R().SetContext(ctx).
			SetHeader("ACCESS-KEY", c.apiKey).
			SetHeader("ACCESS-SIGN", sign).
			SetHeader("ACCESS-TIMESTAMP", ts).
			SetHeader("ACCESS-PASSPHRASE", c.passphrase)
		if bodyStr != "" {
			r.SetBody(bodyStr)
		}

		resp, err := r.Execute(method, requestPath)
		if err != nil {
			return err
		}
		out = resp.Body()
		if resp.StatusCode() >= 500 {
			return fmt.Errorf("bitget HTTP %d: %s", resp.StatusCode(), string(out))
		}
		return nil
	}

	if err := withRetry(ctx, c.logger, method+" "+path, call); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *BitgetClient) classifyError(code, msg string) error {
	switch code {
	case "43012", "40762":
		return NewTradeError(c.Name(), CodeInsufficientFunds, msg)
	case "45110", "40808":
		return NewTradeError(c.Name(), CodeMinNotional, msg)
	case "40034":
		return NewTradeError(c.Name(), CodeUnsupportedSymbol, msg)
	}
	return NewTradeError(c.Name(), CodeOrderRejected, fmt.Sprintf("%s: %s", code, msg))
}
