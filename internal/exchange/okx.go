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

const okxBaseURL = "https://www.okx.com"

// OKXClient talks to OKX spot and perpetual swap markets. Swap sizes are in
// contracts; GetInstrument exposes ctVal so the dispatcher converts.
type OKXClient struct {
	apiKey     string
	secretKey  string
	passphrase string
	rest       *resty.Client
	logger     zerolog.Logger
}

// NewOKXClient creates a venue client from raw credentials.
func NewOKXClient(apiKey, secretKey, passphrase string) *OKXClient {
	return &OKXClient{
		apiKey:     strings.TrimSpace(apiKey),
		secretKey:  strings.TrimSpace(secretKey),
		passphrase: strings.TrimSpace(passphrase),
		rest:       newRestClient(okxBaseURL),
		logger:     venueLogger("okx"),
	}
}

func (c *OKXClient) Name() string { return "okx" }

func (c *OKXClient) Traits() Traits {
	return Traits{
		PostOnly:          true,
		QuoteSizedSpotBuy: false,
		LeverageRequired:  false,
		ContractSized:     true,
		SimpleFlow:        false,
		Category:          CategoryCrypto,
	}
}

func (c *OKXClient) instID(symbol, marketType string) string {
	if marketType == "swap" {
		return ToOkxSwapInstID(symbol)
	}
	return ToOkxSpotInstID(symbol)
}

func (c *OKXClient) tdMode(marketType, marginMode string) string {
	if marketType != "swap" {
		return "cash"
	}
	if marginMode == "isolated" {
		return "isolated"
	}
	return "cross"
}

func (c *OKXClient) PlaceLimitOrder(ctx context.Context, req LimitOrderRequest) (*OrderResult, error) {
	payload := map[string]string{
		"instId":  c.instID(req.Symbol, req.MarketType),
		"tdMode":  c.tdMode(req.MarketType, req.MarginMode),
		"side":    req.Side,
		"ordType": "limit",
		"px":      trimFloat(req.Price),
		"sz":      trimFloat(req.Amount),
	}
	if req.PostOnly {
		payload["ordType"] = "post_only"
	}
	if req.ClientOrderID != "" {
		payload["clOrdId"] = req.ClientOrderID
	}
	if req.MarketType == "swap" {
		payload["posSide"] = req.PosSide
	} else {
		// spot limit orders size in base currency
		payload["tgtCcy"] = "base_ccy"
	}
	return c.placeOrder(ctx, payload)
}

func (c *OKXClient) PlaceMarketOrder(ctx context.Context, req MarketOrderRequest) (*OrderResult, error) {
	payload := map[string]string{
		"instId":  c.instID(req.Symbol, req.MarketType),
		"tdMode":  c.tdMode(req.MarketType, req.MarginMode),
		"side":    req.Side,
		"ordType": "market",
		"sz":      trimFloat(req.Amount),
	}
	if req.ClientOrderID != "" {
		payload["clOrdId"] = req.ClientOrderID
	}
	if req.MarketType == "swap" {
		payload["posSide"] = req.PosSide
	} else {
		payload["tgtCcy"] = "base_ccy"
	}
	return c.placeOrder(ctx, payload)
}

func (c *OKXClient) placeOrder(ctx context.Context, payload map[string]string) (*OrderResult, error) {
	body, err := c.signedRequest(ctx, "POST", "/api/v5/trade/order", "", payload)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Code string `json:"code"`
		Msg  string `json:"msg"`
		Data []struct {
			OrdID string `json:"ordId"`
			SCode string `json:"sCode"`
			SMsg  string `json:"sMsg"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	if resp.Code != "0" || len(resp.Data) == 0 {
		return nil, c.classifyError(resp.Code, resp.Msg)
	}
	if resp.Data[0].SCode != "0" && resp.Data[0].SCode != "" {
		return nil, c.classifyError(resp.Data[0].SCode, resp.Data[0].SMsg)
	}

	var raw map[string]interface{}
	_ = json.Unmarshal(body, &raw)
	return &OrderResult{ExchangeOrderID: resp.Data[0].OrdID, Raw: raw}, nil
}

func (c *OKXClient) CancelOrder(ctx context.Context, req CancelRequest) error {
	payload := map[string]string{
		"instId": c.instID(req.Symbol, req.MarketType),
	}
	if req.OrderID != "" {
		payload["ordId"] = req.OrderID
	} else {
		payload["clOrdId"] = req.ClientOrderID
	}
	_, err := c.signedRequest(ctx, "POST", "/api/v5/trade/cancel-order", "", payload)
	return err
}

func (c *OKXClient) WaitForFill(ctx context.Context, q FillQuery) (*Fill, error) {
	query := "instId=" + c.instID(q.Symbol, q.MarketType)
	if q.OrderID != "" {
		query += "&ordId=" + q.OrderID
	} else {
		query += "&clOrdId=" + q.ClientOrderID
	}

	return pollFills(ctx, q.MaxWaitSec, func() (*Fill, bool, error) {
		body, err := c.signedRequest(ctx, "GET", "/api/v5/trade/order", query, nil)
		if err != nil {
			return nil, false, err
		}
		var resp struct {
			Data []struct {
				State   string `json:"state"`
				AccFill string `json:"accFillSz"`
				AvgPx   string `json:"avgPx"`
				Fee     string `json:"fee"`
				FeeCcy  string `json:"feeCcy"`
			} `json:"data"`
		}
		if err := json.Unmarshal(body, &resp); err != nil || len(resp.Data) == 0 {
			return nil, false, fmt.Errorf("okx order lookup failed")
		}
		d := resp.Data[0]
		fill := &Fill{
			Filled:   parseFloat(d.AccFill),
			AvgPrice: parseFloat(d.AvgPx),
			Fee:      -parseFloat(d.Fee), // OKX reports fees negative
			FeeCcy:   d.FeeCcy,
		}
		done := d.State == "filled" || d.State == "canceled"
		return fill, done, nil
	})
}

func (c *OKXClient) SetLeverage(ctx context.Context, req LeverageRequest) error {
	payload := map[string]string{
		"instId":  ToOkxSwapInstID(req.Symbol),
		"lever":   strconv.Itoa(req.Leverage),
		"mgnMode": c.tdMode("swap", req.MarginMode),
	}
	if req.MarginMode == "isolated" && req.PosSide != "" {
		payload["posSide"] = req.PosSide
	}
	_, err := c.signedRequest(ctx, "POST", "/api/v5/account/set-leverage", "", payload)
	if err != nil {
		return NewTradeError(c.Name(), CodeLeverageSetFailed, err.Error())
	}
	return nil
}

// GetPositions converts contract-sized swap positions to base units via
// ctVal.
func (c *OKXClient) GetPositions(ctx context.Context, marketType string) ([]PositionSnapshot, error) {
	if marketType != "swap" {
		return nil, ErrNotSupported
	}
	body, err := c.signedRequest(ctx, "GET", "/api/v5/account/positions", "instType=SWAP", nil)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Data []struct {
			InstID  string `json:"instId"`
			PosSide string `json:"posSide"`
			Pos     string `json:"pos"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}

	bySymbol := map[string]*PositionSnapshot{}
	for _, p := range resp.Data {
		contracts := parseFloat(p.Pos)
		if contracts == 0 {
			continue
		}
		symbol := strings.TrimSuffix(p.InstID, "-SWAP")
		symbol = strings.ReplaceAll(symbol, "-", "")

		inst, err := c.GetInstrument(ctx, p.InstID, "swap")
		ctVal := 1.0
		if err == nil && inst.ContractValue > 0 {
			ctVal = inst.ContractValue
		}
		base := contracts * ctVal
		if base < 0 {
			base = -base
		}

		snap := bySymbol[symbol]
		if snap == nil {
			snap = &PositionSnapshot{Symbol: symbol}
			bySymbol[symbol] = snap
		}
		if p.PosSide == "short" || (p.PosSide == "net" && parseFloat(p.Pos) < 0) {
			snap.Short += base
		} else {
			snap.Long += base
		}
	}

	out := make([]PositionSnapshot, 0, len(bySymbol))
	for _, snap := range bySymbol {
		out = append(out, *snap)
	}
	return out, nil
}

// GetInstrument returns ctVal, minSz and lotSz for a swap instrument. Spot
// instruments are base-sized already.
func (c *OKXClient) GetInstrument(ctx context.Context, symbol, marketType string) (*Instrument, error) {
	if marketType != "swap" {
		return &Instrument{ContractValue: 1}, nil
	}
	instID := symbol
	if !strings.HasSuffix(instID, "-SWAP") {
		instID = ToOkxSwapInstID(symbol)
	}

	var body []byte
	err := withRetry(ctx, c.logger, "GET instruments", func() error {
		resp, err := c.rest.R().SetContext(ctx).
			SetQueryParam("instType", "SWAP").
			SetQueryParam("instId", instID).
			Get("/api/v5/public/instruments")
		if err != nil {
			return err
		}
		body = resp.Body()
		return nil
	})
	if err != nil {
		return nil, err
	}

	var resp struct {
		Data []struct {
			CtVal string `json:"ctVal"`
			MinSz string `json:"minSz"`
			LotSz string `json:"lotSz"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil || len(resp.Data) == 0 {
		return nil, NewTradeError(c.Name(), CodeUnsupportedSymbol, instID)
	}
	return &Instrument{
		ContractValue: parseFloat(resp.Data[0].CtVal),
		MinSize:       parseFloat(resp.Data[0].MinSz),
		LotSize:       parseFloat(resp.Data[0].LotSz),
	}, nil
}

// ==================== HTTP HELPERS ====================

func (c *OKXClient) signedRequest(ctx context.Context, method, path, query string, payload map[string]string) ([]byte, error) {
	requestPath := path
	if query != "" {
		requestPath += "?" + query
	}

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
		ts := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
		mac := hmac.New(sha256.New, []byte(c.secretKey))
		mac.Write([]byte(ts + method + requestPath + bodyStr))
		sign := base64.StdEncoding.EncodeToString(mac.Sum(nil))

		r := c.rest.R().SetContext(ctx).
			SetHeader("OK-ACCESS-KEY", c.apiKey).
			SetHeader("OK-ACCESS-SIGN", sign).
			SetHeader("OK-ACCESS-TIMESTAMP", ts).
			SetHeader("OK-ACCESS-PASSPHRASE", c.passphrase)
		if bodyStr != "" {
			r.SetBody(bodyStr)
		}

		resp, err := r.Execute(method, requestPath)
		if err != nil {
			return err
		}
		out = resp.Body()
		if resp.StatusCode() >= 500 {
			return fmt.Errorf("okx HTTP %d: %s", resp.StatusCode(), string(out))
		}
		return nil
	}

	if err := withRetry(ctx, c.logger, method+" "+path, call); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *OKXClient) classifyError(code, msg string) error {
	switch code {
	case "51008", "51119":
		return NewTradeError(c.Name(), CodeInsufficientFunds, msg)
	case "51020", "51120":
		return NewTradeError(c.Name(), CodeMinNotional, msg)
	case "51001":
		return NewTradeError(c.Name(), CodeUnsupportedSymbol, msg)
	}
	return NewTradeError(c.Name(), CodeOrderRejected, fmt.Sprintf("%s: %s", code, msg))
}
