package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
)

// IBKRClient drives a local Interactive Brokers bridge gateway for US stock
// orders. The flow is a single market order per signal: no maker phase, no
// leverage, and no short side (stock shorting is not wired up).
type IBKRClient struct {
	accountID string
	rest      *resty.Client
	logger    zerolog.Logger
}

// NewIBKRClient points the client at a bridge gateway, e.g.
// http://127.0.0.1:5000.
func NewIBKRClient(gatewayURL, accountID string) *IBKRClient {
	return &IBKRClient{
		accountID: strings.TrimSpace(accountID),
		rest:      newRestClient(strings.TrimRight(gatewayURL, "/")),
		logger:    venueLogger("ibkr"),
	}
}

func (c *IBKRClient) Name() string { return "ibkr" }

func (c *IBKRClient) Traits() Traits {
	return Traits{
		SimpleFlow: true,
		Category:   CategoryUSStock,
	}
}

func (c *IBKRClient) PlaceLimitOrder(ctx context.Context, req LimitOrderRequest) (*OrderResult, error) {
	return nil, ErrNotSupported
}

func (c *IBKRClient) PlaceMarketOrder(ctx context.Context, req MarketOrderRequest) (*OrderResult, error) {
	payload := map[string]interface{}{
		"account":  c.accountID,
		"symbol":   strings.ToUpper(req.Symbol),
		"side":     strings.ToUpper(req.Side),
		"quantity": req.Amount,
		"type":     "MKT",
	}

	var body []byte
	err := withRetry(ctx, c.logger, "POST /orders", func() error {
		resp, err := c.rest.R().SetContext(ctx).SetBody(payload).Post("/v1/orders")
		if err != nil {
			return err
		}
		body = resp.Body()
		if resp.StatusCode() >= 500 {
			return fmt.Errorf("ibkr bridge HTTP %d: %s", resp.StatusCode(), string(body))
		}
		if resp.StatusCode() >= 400 {
			return NewTradeError(c.Name(), CodeOrderRejected, string(body))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	var ack struct {
		OrderID string `json:"order_id"`
	}
	if err := json.Unmarshal(body, &ack); err != nil {
		return nil, err
	}
	var raw map[string]interface{}
	_ = json.Unmarshal(body, &raw)
	return &OrderResult{ExchangeOrderID: ack.OrderID, Raw: raw}, nil
}

func (c *IBKRClient) CancelOrder(ctx context.Context, req CancelRequest) error {
	resp, err := c.rest.R().SetContext(ctx).Delete("/v1/orders/" + req.OrderID)
	if err != nil {
		return err
	}
	if resp.StatusCode() >= 400 {
		return NewTradeError(c.Name(), CodeOrderRejected, string(resp.Body()))
	}
	return nil
}

// WaitForFill polls the bridge order state. IBKR commissions settle later,
// so fills report zero fee in USD.
func (c *IBKRClient) WaitForFill(ctx context.Context, q FillQuery) (*Fill, error) {
	return pollFills(ctx, q.MaxWaitSec, func() (*Fill, bool, error) {
		resp, err := c.rest.R().SetContext(ctx).Get("/v1/orders/" + q.OrderID)
		if err != nil {
			return nil, false, err
		}
		var st struct {
			Status   string  `json:"status"`
			Filled   float64 `json:"filled"`
			AvgPrice float64 `json:"avg_price"`
		}
		if err := json.Unmarshal(resp.Body(), &st); err != nil {
			return nil, false, err
		}
		fill := &Fill{Filled: st.Filled, AvgPrice: st.AvgPrice, Fee: 0, FeeCcy: "USD"}
		done := st.Status == "Filled" || st.Status == "Cancelled" || st.Status == "Inactive"
		return fill, done, nil
	})
}

func (c *IBKRClient) SetLeverage(ctx context.Context, req LeverageRequest) error {
	return ErrNotSupported
}

func (c *IBKRClient) GetPositions(ctx context.Context, marketType string) ([]PositionSnapshot, error) {
	resp, err := c.rest.R().SetContext(ctx).Get("/v1/positions")
	if err != nil {
		return nil, err
	}
	var raw []struct {
		Symbol   string  `json:"symbol"`
		Quantity float64 `json:"quantity"`
	}
	if err := json.Unmarshal(resp.Body(), &raw); err != nil {
		return nil, err
	}
	out := make([]PositionSnapshot, 0, len(raw))
	for _, p := range raw {
		if p.Quantity == 0 {
			continue
		}
		snap := PositionSnapshot{Symbol: strings.ToUpper(p.Symbol)}
		if p.Quantity > 0 {
			snap.Long = p.Quantity
		} else {
			snap.Short = -p.Quantity
		}
		out = append(out, snap)
	}
	return out, nil
}

func (c *IBKRClient) GetInstrument(ctx context.Context, symbol, marketType string) (*Instrument, error) {
	return &Instrument{ContractValue: 1}, nil
}
