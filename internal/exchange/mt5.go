package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
)

const mt5OrderComment = "QuantDinger"

// MT5Client drives a local MetaTrader 5 bridge for forex and CFD symbols.
// Like the stock bridge, the flow is a single market order per signal; the
// bridge nets long and short positions per symbol itself.
type MT5Client struct {
	rest   *resty.Client
	logger zerolog.Logger
}

// NewMT5Client points the client at a bridge, e.g. http://127.0.0.1:8078.
func NewMT5Client(bridgeURL string) *MT5Client {
	return &MT5Client{
		rest:   newRestClient(strings.TrimRight(bridgeURL, "/")),
		logger: venueLogger("mt5"),
	}
}

func (c *MT5Client) Name() string { return "mt5" }

func (c *MT5Client) Traits() Traits {
	return Traits{
		SimpleFlow: true,
		Category:   CategoryForex,
	}
}

func (c *MT5Client) PlaceLimitOrder(ctx context.Context, req LimitOrderRequest) (*OrderResult, error) {
	return nil, ErrNotSupported
}

func (c *MT5Client) PlaceMarketOrder(ctx context.Context, req MarketOrderRequest) (*OrderResult, error) {
	payload := map[string]interface{}{
		"symbol":  strings.ToUpper(strings.ReplaceAll(req.Symbol, "/", "")),
		"side":    req.Side,
		"volume":  req.Amount,
		"comment": mt5OrderComment,
	}

	var body []byte
	err := withRetry(ctx, c.logger, "POST /trade", func() error {
		resp, err := c.rest.R().SetContext(ctx).SetBody(payload).Post("/trade")
		if err != nil {
			return err
		}
		body = resp.Body()
		if resp.StatusCode() >= 500 {
			return fmt.Errorf("mt5 bridge HTTP %d: %s", resp.StatusCode(), string(body))
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
		Ticket int64   `json:"ticket"`
		Volume float64 `json:"volume"`
		Price  float64 `json:"price"`
	}
	if err := json.Unmarshal(body, &ack); err != nil {
		return nil, err
	}
	var raw map[string]interface{}
	_ = json.Unmarshal(body, &raw)
	return &OrderResult{ExchangeOrderID: fmt.Sprintf("%d", ack.Ticket), Raw: raw}, nil
}

func (c *MT5Client) CancelOrder(ctx context.Context, req CancelRequest) error {
	return ErrNotSupported
}

// WaitForFill reads the deal the bridge recorded for the ticket. MT5 market
// orders fill synchronously, so one query usually settles it.
func (c *MT5Client) WaitForFill(ctx context.Context, q FillQuery) (*Fill, error) {
	return pollFills(ctx, q.MaxWaitSec, func() (*Fill, bool, error) {
		resp, err := c.rest.R().SetContext(ctx).Get("/deals/" + q.OrderID)
		if err != nil {
			return nil, false, err
		}
		var st struct {
			Volume     float64 `json:"volume"`
			Price      float64 `json:"price"`
			Commission float64 `json:"commission"`
			Done       bool    `json:"done"`
		}
		if err := json.Unmarshal(resp.Body(), &st); err != nil {
			return nil, false, err
		}
		fill := &Fill{Filled: st.Volume, AvgPrice: st.Price, Fee: st.Commission, FeeCcy: "USD"}
		return fill, st.Done || st.Volume > 0, nil
	})
}

func (c *MT5Client) SetLeverage(ctx context.Context, req LeverageRequest) error {
	return ErrNotSupported
}

func (c *MT5Client) GetPositions(ctx context.Context, marketType string) ([]PositionSnapshot, error) {
	resp, err := c.rest.R().SetContext(ctx).Get("/positions")
	if err != nil {
		return nil, err
	}
	var raw []struct {
		Symbol string  `json:"symbol"`
		Type   string  `json:"type"` // buy | sell
		Volume float64 `json:"volume"`
	}
	if err := json.Unmarshal(resp.Body(), &raw); err != nil {
		return nil, err
	}

	bySymbol := map[string]*PositionSnapshot{}
	for _, p := range raw {
		if p.Volume == 0 {
			continue
		}
		symbol := strings.ToUpper(p.Symbol)
		snap := bySymbol[symbol]
		if snap == nil {
			snap = &PositionSnapshot{Symbol: symbol}
			bySymbol[symbol] = snap
		}
		if p.Type == "sell" {
			snap.Short += p.Volume
		} else {
			snap.Long += p.Volume
		}
	}

	out := make([]PositionSnapshot, 0, len(bySymbol))
	for _, snap := range bySymbol {
		out = append(out, *snap)
	}
	return out, nil
}

func (c *MT5Client) GetInstrument(ctx context.Context, symbol, marketType string) (*Instrument, error) {
	return &Instrument{ContractValue: 1}, nil
}
