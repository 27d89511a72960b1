package database

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Strategy statuses
const (
	StrategyStatusRunning = "running"
	StrategyStatusStopped = "stopped"
)

// Execution modes
const (
	ExecutionModeSignal = "signal"
	ExecutionModeLive   = "live"
)

// Market types
const (
	MarketTypeSpot = "spot"
	MarketTypeSwap = "swap"
)

// Position sides
const (
	SideLong  = "long"
	SideShort = "short"
)

// Pending order statuses
const (
	OrderStatusPending    = "pending"
	OrderStatusProcessing = "processing"
	OrderStatusSent       = "sent"
	OrderStatusFailed     = "failed"
	OrderStatusDeferred   = "deferred"
)

// JSONMap is a flat JSON object column.
type JSONMap map[string]interface{}

// Str returns a string value with a default.
func (m JSONMap) Str(key, def string) string {
	if m == nil {
		return def
	}
	if v, ok := m[key]; ok {
		switch t := v.(type) {
		case string:
			if t != "" {
				return t
			}
		case float64:
			return strconv.FormatFloat(t, 'f', -1, 64)
		}
	}
	return def
}

// Float returns a numeric value with a default. JSON numbers and numeric
// strings are both accepted; strategy configs arrive from several frontends.
func (m JSONMap) Float(key string, def float64) float64 {
	if m == nil {
		return def
	}
	v, ok := m[key]
	if !ok || v == nil {
		return def
	}
	switch t := v.(type) {
	case float64:
		return t
	case int:
		return float64(t)
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(t), 64); err == nil {
			return f
		}
	case bool:
		if t {
			return 1
		}
		return 0
	}
	return def
}

// Bool returns a boolean value with a default.
func (m JSONMap) Bool(key string, def bool) bool {
	if m == nil {
		return def
	}
	v, ok := m[key]
	if !ok || v == nil {
		return def
	}
	switch t := v.(type) {
	case bool:
		return t
	case float64:
		return t != 0
	case string:
		s := strings.ToLower(strings.TrimSpace(t))
		return s == "true" || s == "1" || s == "yes"
	}
	return def
}

// Has reports whether the key is present and non-nil.
func (m JSONMap) Has(key string) bool {
	if m == nil {
		return false
	}
	v, ok := m[key]
	return ok && v != nil
}

// DecodeJSONMap parses a JSONB column into a JSONMap. Invalid or empty
// payloads decode to nil.
func DecodeJSONMap(raw []byte) JSONMap {
	if len(raw) == 0 {
		return nil
	}
	var m JSONMap
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	return m
}

// Strategy mirrors a qd_strategies_trading row.
type Strategy struct {
	ID                 int64
	UserID             string
	Status             string
	StrategyName       string
	StrategyType       string
	InitialCapital     float64
	Leverage           int
	DecideInterval     int
	ExecutionMode      string
	NotificationConfig JSONMap
	IndicatorConfig    JSONMap
	ExchangeConfig     JSONMap
	TradingConfig      JSONMap
	AIModelConfig      JSONMap
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Symbol returns the traded symbol, preferring trading_config over
// indicator_config.
func (s *Strategy) Symbol() string {
	if sym := s.TradingConfig.Str("symbol", ""); sym != "" {
		return sym
	}
	return s.IndicatorConfig.Str("symbol", "")
}

// Timeframe returns the candle timeframe, defaulting to 1h.
func (s *Strategy) Timeframe() string {
	if tf := s.TradingConfig.Str("timeframe", ""); tf != "" {
		return tf
	}
	return s.IndicatorConfig.Str("timeframe", "1h")
}

// MarketType resolves the market type. Leverage above 1 always means swap;
// spot strategies are pinned to leverage 1.
func (s *Strategy) MarketType() string {
	mt := strings.ToLower(s.TradingConfig.Str("market_type", ""))
	if s.Leverage > 1 {
		return MarketTypeSwap
	}
	if mt == MarketTypeSwap {
		return MarketTypeSwap
	}
	return MarketTypeSpot
}

// TradeDirection returns long, short or both. Spot is long-only.
func (s *Strategy) TradeDirection() string {
	if s.MarketType() == MarketTypeSpot {
		return SideLong
	}
	switch strings.ToLower(s.TradingConfig.Str("trade_direction", "both")) {
	case SideLong:
		return SideLong
	case SideShort:
		return SideShort
	default:
		return "both"
	}
}

// EffectiveLeverage clamps leverage to [1, max].
func (s *Strategy) EffectiveLeverage(max int) int {
	lev := s.Leverage
	if lev < 1 {
		lev = 1
	}
	if max > 0 && lev > max {
		lev = max
	}
	if s.MarketType() == MarketTypeSpot {
		return 1
	}
	return lev
}

// Position mirrors a qd_strategy_positions row.
type Position struct {
	ID           int64
	UserID       string
	StrategyID   int64
	Symbol       string
	Side         string
	Size         float64
	EntryPrice   float64
	CurrentPrice float64
	HighestPrice float64
	LowestPrice  float64
	UpdatedAt    time.Time
}

// Trade mirrors a qd_strategy_trades row.
type Trade struct {
	ID            int64
	UserID        string
	StrategyID    int64
	Symbol        string
	Type          string
	Price         float64
	Amount        float64
	Value         float64
	Commission    float64
	CommissionCcy string
	Profit        *float64
	CreatedAt     time.Time
}

// PendingOrder mirrors a pending_orders row.
type PendingOrder struct {
	ID                   int64
	UserID               string
	StrategyID           int64
	Symbol               string
	SignalType           string
	SignalTS             int64
	MarketType           string
	OrderType            string
	Amount               float64
	Price                float64
	ExecutionMode        string
	Status               string
	Priority             int
	Attempts             int
	MaxAttempts          int
	LastError            string
	PayloadJSON          string
	ExchangeID           string
	ExchangeOrderID      string
	ExchangeResponseJSON string
	Filled               float64
	AvgPrice             float64
	DispatchNote         string
	CreatedAt            int64
	UpdatedAt            int64
	ProcessedAt          *int64
	SentAt               *int64
	ExecutedAt           *int64
}

// Payload decodes payload_json.
func (o *PendingOrder) Payload() JSONMap {
	return DecodeJSONMap([]byte(o.PayloadJSON))
}

// Notification mirrors a qd_strategy_notifications row.
type Notification struct {
	ID          string
	UserID      string
	StrategyID  int64
	Symbol      string
	SignalType  string
	Channels    string
	Title       string
	Message     string
	PayloadJSON string
	CreatedAt   time.Time
}
