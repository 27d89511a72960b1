package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
)

const gateBaseURL = "https://api.gateio.ws"

// GateClient talks to Gate.io spot and USDT perpetual futures. Futures sizes
// are in contracts; quanto_multiplier is the base units per contract.
type GateClient struct {
	apiKey    string
	secretKey string
	rest      *resty.Client
	logger    zerolog.Logger
}

// NewGateClient creates a venue client from raw credentials.
func NewGateClient(apiKey, secretKey string) *GateClient {
	return &GateClient{
		apiKey:    strings.TrimSpace(apiKey),
		secretKey: strings.TrimSpace(secretKey),
		rest:      newRestClient(gateBaseURL),
		logger:    venueLogger("gate"),
	}
}

func (c *GateClient) Name() string { return "gate" }

func (c *GateClient) Traits() Traits {
	return Traits{
		PostOnly:          true,
		QuoteSizedSpotBuy: false,
		LeverageRequired:  false,
		ContractSized:     true,
		SimpleFlow:        false,
		Category:          CategoryCrypto,
	}
}

// futures order sizes are signed: positive opens/extends long, negative
// opens/extends short. reduce_only flips the meaning to closing.
func gateFuturesSize(side, posSide string, contracts float64, reduceOnly bool) float64 {
	sell := side == SideSell
	if sell {
		return -contracts
	}
	_ = posSide
	_ = reduceOnly
	return contracts
}

func (c *GateClient) PlaceLimitOrder(ctx context.Context, req LimitOrderRequest) (*OrderResult, error) {
	if req.MarketType == "swap" {
		payload := map[string]interface{}{
			"contract": ToGateCurrencyPair(req.Symbol),
			"size":     gateFuturesSize(req.Side, req.PosSide, req.Amount, req.ReduceOnly),
			"price":    trimFloat(req.Price),
		}
		if req.PostOnly {
			payload["tif"] = "poc"
		} else {
			payload["tif"] = "gtc"
		}
		if req.ReduceOnly {
			payload["reduce_only"] = true
		}
		if req.ClientOrderID != "" {
			payload["text"] = "t-" + req.ClientOrderID
		}
		return c.placeFuturesOrder(ctx, payload)
	}

	payload := map[string]interface{}{
		"currency_pair": ToGateCurrencyPair(req.Symbol),
		"side":          req.Side,
		"type":          "limit",
		"price":         trimFloat(req.Price),
		"amount":        trimFloat(req.Amount),
	}
	if req.PostOnly {
		payload["time_in_force"] = "poc"
	}
	if req.ClientOrderID != "" {
		payload["text"] = "t-" + req.ClientOrderID
	}
	return c.placeSpotOrder(ctx, payload)
}

func (c *GateClient) PlaceMarketOrder(ctx context.Context, req MarketOrderRequest) (*OrderResult, error) {
	if req.MarketType == "swap" {
		payload := map[string]interface{}{
			"contract": ToGateCurrencyPair(req.Symbol),
			"size":     gateFuturesSize(req.Side, req.PosSide, req.Amount, req.ReduceOnly),
			"price":    "0",
			"tif":      "ioc",
		}
		if req.ReduceOnly {
			payload["reduce_only"] = true
		}
		if req.ClientOrderID != "" {
			payload["text"] = "t-" + req.ClientOrderID
		}
		return c.placeFuturesOrder(ctx, payload)
	}

	payload := map[string]interface{}{
		"currency_pair": ToGateCurrencyPair(req.Symbol),
		"side":          req.Side,
		"type":          "market",
		"time_in_force": "ioc",
		"amount":        trimFloat(req.Amount),
	}
	if req.ClientOrderID != "" {
		payload["text"] = "t-" + req.ClientOrderID
	}
	return c.placeSpotOrder(ctx, payload)
}

func (c *GateClient) placeSpotOrder(ctx context.Context, payload map[string]interface{}) (*OrderResult, error) {
	body, err := c.signedRequest(ctx, "POST", "/api/v4/spot/orders", "", payload)
	if err != nil {
		return nil, err
	}
	var ack struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &ack); err != nil {
		return nil, err
	}
	var raw map[string]interface{}
	_ = json.Unmarshal(body, &raw)
	return &OrderResult{ExchangeOrderID: ack.ID, Raw: raw}, nil
}

func (c *GateClient) placeFuturesOrder(ctx context.Context, payload map[string]interface{}) (*OrderResult, error) {
	body, err := c.signedRequest(ctx, "POST", "/api/v4/futures/usdt/orders", "", payload)
	if err != nil {
		return nil, err
	}
	var ack struct {
		ID int64 `json:"id"`
	}
	if err := json.Unmarshal(body, &ack); err != nil {
		return nil, err
	}
	var raw map[string]interface{}
	_ = json.Unmarshal(body, &raw)
	return &OrderResult{ExchangeOrderID: strconv.FormatInt(ack.ID, 10), Raw: raw}, nil
}

func (c *GateClient) CancelOrder(ctx context.Context, req CancelRequest) error {
	var err error
	if req.MarketType == "swap" {
		_, err = c.signedRequest(ctx, "DELETE", "/api/v4/futures/usdt/orders/"+req.OrderID, "", nil)
	} else {
		_, err = c.signedRequest(ctx, "DELETE", "/api/v4/spot/orders/"+req.OrderID,
			"currency_pair="+ToGateCurrencyPair(req.Symbol), nil)
	}
	return err
}

func (c *GateClient) WaitForFill(ctx context.Context, q FillQuery) (*Fill, error) {
	return pollFills(ctx, q.MaxWaitSec, func() (*Fill, bool, error) {
		if q.MarketType == "swap" {
			body, err := c.signedRequest(ctx, "GET", "/api/v4/futures/usdt/orders/"+q.OrderID, "", nil)
			if err != nil {
				return nil, false, err
			}
			var st struct {
				Status    string  `json:"status"`
				Size      float64 `json:"size"`
				Left      float64 `json:"left"`
				FillPrice string  `json:"fill_price"`
			}
			if err := json.Unmarshal(body, &st); err != nil {
				return nil, false, err
			}
			filled := st.Size - st.Left
			if filled < 0 {
				filled = -filled
			}
			fill := &Fill{Filled: filled, AvgPrice: parseFloat(st.FillPrice), FeeCcy: "USDT"}
			return fill, st.Status == "finished", nil
		}

		body, err := c.signedRequest(ctx, "GET", "/api/v4/spot/orders/"+q.OrderID,
			"currency_pair="+ToGateCurrencyPair(q.Symbol), nil)
		if err != nil {
			return nil, false, err
		}
		var st struct {
			Status      string `json:"status"`
			FilledTotal string `json:"filled_total"`
			Amount      string `json:"amount"`
			Left        string `json:"left"`
			AvgPrice    string `json:"avg_deal_price"`
			Fee         string `json:"fee"`
			FeeCcy      string `json:"fee_currency"`
		}
		if err := json.Unmarshal(body, &st); err != nil {
			return nil, false, err
		}
		fill := &Fill{
			Filled:   parseFloat(st.Amount) - parseFloat(st.Left),
			AvgPrice: parseFloat(st.AvgPrice),
			Fee:      parseFloat(st.Fee),
			FeeCcy:   st.FeeCcy,
		}
		done := st.Status == "closed" || st.Status == "cancelled"
		return fill, done, nil
	})
}

func (c *GateClient) SetLeverage(ctx context.Context, req LeverageRequest) error {
	query := "leverage=" + strconv.Itoa(req.Leverage)
	if req.MarginMode == "cross" {
		// cross margin uses leverage=0 with a cross_leverage_limit
		query = "leverage=0&cross_leverage_limit=" + strconv.Itoa(req.Leverage)
	}
	_, err := c.signedRequest(ctx, "POST",
		"/api/v4/futures/usdt/positions/"+ToGateCurrencyPair(req.Symbol)+"/leverage", query, nil)
	if err != nil {
		return NewTradeError(c.Name(), CodeLeverageSetFailed, err.Error())
	}
	return nil
}

func (c *GateClient) GetPositions(ctx context.Context, marketType string) ([]PositionSnapshot, error) {
	if marketType != "swap" {
		return nil, ErrNotSupported
	}
	body, err := c.signedRequest(ctx, "GET", "/api/v4/futures/usdt/positions", "", nil)
	if err != nil {
		return nil, err
	}

	var raw []struct {
		Contract string  `json:"contract"`
		Size     float64 `json:"size"`
		Mode     string  `json:"mode"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, err
	}

	bySymbol := map[string]*PositionSnapshot{}
	for _, p := range raw {
		if p.Size == 0 {
			continue
		}
		inst, err := c.GetInstrument(ctx, p.Contract, "swap")
		mult := 1.0
		if err == nil && inst.ContractValue > 0 {
			mult = inst.ContractValue
		}
		symbol := strings.ReplaceAll(p.Contract, "_", "")
		snap := bySymbol[symbol]
		if snap == nil {
			snap = &PositionSnapshot{Symbol: symbol}
			bySymbol[symbol] = snap
		}
		if p.Size > 0 {
			snap.Long += p.Size * mult
		} else {
			snap.Short += -p.Size * mult
		}
	}

	out := make([]PositionSnapshot, 0, len(bySymbol))
	for _, snap := range bySymbol {
		out = append(out, *snap)
	}
	return out, nil
}

func (c *GateClient) GetInstrument(ctx context.Context, symbol, marketType string) (*Instrument, error) {
	if marketType != "swap" {
		return &Instrument{ContractValue: 1}, nil
	}
	contract := symbol
	if !strings.Contains(contract, "_") {
		contract = ToGateCurrencyPair(symbol)
	}

	var body []byte
	err := withRetry(ctx, c.logger, "GET contract", func() error {
		resp, err := c.rest.R().SetContext(ctx).Get("/api/v4/futures/usdt/contracts/" + contract)
		if err != nil {
			return err
		}
		body = resp.Body()
		if resp.StatusCode() >= 500 {
			return fmt.Errorf("gate HTTP %d", resp.StatusCode())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	var info struct {
		QuantoMultiplier string  `json:"quanto_multiplier"`
		OrderSizeMin     float64 `json:"order_size_min"`
	}
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, NewTradeError(c.Name(), CodeUnsupportedSymbol, contract)
	}
	return &Instrument{
		ContractValue: parseFloat(info.QuantoMultiplier),
		MinSize:       info.OrderSizeMin,
		LotSize:       1,
	}, nil
}

// ==================== HTTP HELPERS ====================

func (c *GateClient) signedRequest(ctx context.Context, method, path, query string, payload map[string]interface{}) ([]byte, error) {
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
		ts := strconv.FormatInt(time.Now().Unix(), 10)
		bodyHash := sha512.Sum512([]byte(bodyStr))
		signPayload := fmt.Sprintf("%s\n%s\n%s\n%s\n%s",
			method, path, query, hex.EncodeToString(bodyHash[:]), ts)
		mac := hmac.New(sha512.New, []byte(c.secretKey))
		mac.Write([]byte(signPayload))

		r := c.rest.R().SetContext(ctx).
			SetHeader("KEY", c.apiKey).
			SetHeader("Timestamp", ts).
			SetHeader("SIGN", hex.EncodeToString(mac.Sum(nil)))
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
			return fmt.Errorf("gate HTTP %d: %s", resp.StatusCode(), string(out))
		}
		if resp.StatusCode() >= 400 {
			return c.classifyError(out)
		}
		return nil
	}

	if err := withRetry(ctx, c.logger, method+" "+path, call); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *GateClient) classifyError(body []byte) error {
	var apiErr struct {
		Label   string `json:"label"`
		Message string `json:"message"`
	}
	_ = json.Unmarshal(body, &apiErr)

	switch apiErr.Label {
	case "BALANCE_NOT_ENOUGH", "MARGIN_BALANCE_NOT_ENOUGH":
		return NewTradeError(c.Name(), CodeInsufficientFunds, apiErr.Message)
	case "INVALID_CURRENCY_PAIR", "CONTRACT_NOT_FOUND":
		return NewTradeError(c.Name(), CodeUnsupportedSymbol, apiErr.Message)
	case "AMOUNT_TOO_LITTLE", "SIZE_TOO_SMALL":
		return NewTradeError(c.Name(), CodeMinNotional, apiErr.Message)
	}
	return NewTradeError(c.Name(), CodeOrderRejected, fmt.Sprintf("%s: %s", apiErr.Label, apiErr.Message))
}
