// Package filter gates entry signals through an LLM market read before they
// reach the order queue.
package filter

import (
	"context"
	"fmt"
	"strings"
	"time"

	"quantdinger-engine/config"
	"quantdinger-engine/internal/database"
	"quantdinger-engine/internal/logging"
	"quantdinger-engine/internal/market"
)

// Rejection reasons recorded on denied entries
const (
	ReasonAIHold            = "ai_hold"
	ReasonDirectionMismatch = "direction_mismatch"
	ReasonAnalysisError     = "analysis_error"
	ReasonMissingDecision   = "missing_ai_decision"
)

// Verdict is the filter's answer for one entry signal.
type Verdict struct {
	Allowed  bool
	Reason   string // set when not allowed
	Decision string // raw BUY/SELL/HOLD from the model
}

// EntryFilter decides whether an entry signal may be enqueued. Exits are
// never filtered.
type EntryFilter interface {
	Check(ctx context.Context, strategy *database.Strategy, signalType string, price float64, candles []market.Candle) (*Verdict, error)
}

// PassthroughFilter allows everything; used when AI filtering is disabled.
type PassthroughFilter struct{}

func (PassthroughFilter) Check(ctx context.Context, strategy *database.Strategy, signalType string, price float64, candles []market.Candle) (*Verdict, error) {
	return &Verdict{Allowed: true}, nil
}

// LLMFilter asks a chat model for a BUY/SELL/HOLD read on recent candles and
// only lets entries through when the model agrees with the signal direction.
// Any model or transport failure denies the entry: the filter fails closed.
type LLMFilter struct {
	defaults config.AIConfig
	logger   *logging.Logger
}

// NewLLMFilter creates the LLM-backed entry filter.
func NewLLMFilter(defaults config.AIConfig) *LLMFilter {
	return &LLMFilter{
		defaults: defaults,
		logger:   logging.WithComponent("filter"),
	}
}

const systemPrompt = "You are a trading analyst. Given recent OHLCV candles, answer with exactly one word: BUY, SELL, or HOLD."

// Check runs the model and maps its decision onto the signal direction.
func (f *LLMFilter) Check(ctx context.Context, strategy *database.Strategy, signalType string, price float64, candles []market.Candle) (*Verdict, error) {
	client := f.clientFor(strategy)
	if client == nil {
		return &Verdict{Allowed: true}, nil
	}

	prompt := buildPrompt(strategy.Symbol(), strategy.Timeframe(), signalType, price, candles)
	raw, err := client.Complete(ctx, systemPrompt, prompt)
	if err != nil {
		f.logger.Warn("Entry filter analysis failed",
			"strategy_id", strategy.ID, "signal_type", signalType, "error", err)
		return &Verdict{Allowed: false, Reason: ReasonAnalysisError}, nil
	}

	decision := extractDecision(raw)
	if decision == "" {
		return &Verdict{Allowed: false, Reason: ReasonMissingDecision, Decision: raw}, nil
	}

	verdict := &Verdict{Decision: decision}
	switch {
	case decision == "HOLD":
		verdict.Reason = ReasonAIHold
	case wantsLong(signalType) && decision == "BUY":
		verdict.Allowed = true
	case wantsShort(signalType) && decision == "SELL":
		verdict.Allowed = true
	default:
		verdict.Reason = ReasonDirectionMismatch
	}
	return verdict, nil
}

// clientFor builds a client from per-strategy ai_model_config, falling back
// to engine defaults. Returns nil when filtering is off for this strategy.
func (f *LLMFilter) clientFor(strategy *database.Strategy) *Client {
	cfg := strategy.AIModelConfig
	if !cfg.Bool("enabled", f.defaults.Enabled) {
		return nil
	}

	apiKey := cfg.Str("api_key", f.defaults.APIKey)
	if apiKey == "" {
		return nil
	}

	return NewClient(&ClientConfig{
		Provider:    Provider(cfg.Str("provider", f.defaults.Provider)),
		APIKey:      apiKey,
		Model:       cfg.Str("model", f.defaults.Model),
		BaseURL:     cfg.Str("base_url", f.defaults.BaseURL),
		MaxTokens:   int(cfg.Float("max_tokens", 512)),
		Temperature: cfg.Float("temperature", 0.2),
		Timeout:     30 * time.Second,
	})
}

func buildPrompt(symbol, timeframe, signalType string, price float64, candles []market.Candle) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Symbol: %s, timeframe: %s, proposed action: %s at %.6f.\n", symbol, timeframe, signalType, price)
	b.WriteString("Recent candles (time, open, high, low, close, volume):\n")

	start := 0
	if len(candles) > 30 {
		start = len(candles) - 30
	}
	for _, c := range candles[start:] {
		fmt.Fprintf(&b, "%d, %.6f, %.6f, %.6f, %.6f, %.4f\n",
			c.Timestamp, c.Open, c.High, c.Low, c.Close, c.Volume)
	}
	b.WriteString("Answer with one word: BUY, SELL, or HOLD.")
	return b.String()
}

// extractDecision scans the reply for the first decision token. Models
// sometimes wrap the word in prose despite the instruction.
func extractDecision(raw string) string {
	upper := strings.ToUpper(raw)
	for _, token := range []string{"BUY", "SELL", "HOLD"} {
		if strings.Contains(upper, token) {
			return token
		}
	}
	return ""
}

func wantsLong(signalType string) bool {
	return signalType == "open_long" || signalType == "add_long"
}

func wantsShort(signalType string) bool {
	return signalType == "open_short" || signalType == "add_short"
}
