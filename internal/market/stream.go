package market

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"quantdinger-engine/internal/logging"
)

// TickerStream keeps the price cache primed from the Binance combined
// miniTicker stream so tick loops rarely hit the REST ticker at all.
// Subscriptions are reference counted per symbol; the socket reconnects
// with backoff on failure.
type TickerStream struct {
	wsBaseURL string
	cache     *PriceCache
	log       *logging.Logger

	mu      sync.Mutex
	refs    map[string]int
	cancel  context.CancelFunc
	started bool
}

// NewTickerStream creates a stream bound to a price cache
func NewTickerStream(wsBaseURL string, cache *PriceCache) *TickerStream {
	if wsBaseURL == "" {
		wsBaseURL = "wss://stream.binance.com:9443"
	}
	return &TickerStream{
		wsBaseURL: wsBaseURL,
		cache:     cache,
		log:       logging.WithComponent("market.stream"),
		refs:      make(map[string]int),
	}
}

// Subscribe registers interest in a symbol. The connection is (re)built on
// the next reconnect cycle to include it.
func (ts *TickerStream) Subscribe(symbol string) {
	key := strings.ToLower(NormalizeSymbol(symbol))
	ts.mu.Lock()
	ts.refs[key]++
	ts.mu.Unlock()
}

// Unsubscribe drops one reference to a symbol
func (ts *TickerStream) Unsubscribe(symbol string) {
	key := strings.ToLower(NormalizeSymbol(symbol))
	ts.mu.Lock()
	if ts.refs[key] > 1 {
		ts.refs[key]--
	} else {
		delete(ts.refs, key)
	}
	ts.mu.Unlock()
}

func (ts *TickerStream) streams() []string {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	out := make([]string, 0, len(ts.refs))
	for sym := range ts.refs {
		out = append(out, sym+"@miniTicker")
	}
	return out
}

// Start launches the stream loop. Safe to call once.
func (ts *TickerStream) Start(ctx context.Context) {
	ts.mu.Lock()
	if ts.started {
		ts.mu.Unlock()
		return
	}
	ts.started = true
	runCtx, cancel := context.WithCancel(ctx)
	ts.cancel = cancel
	ts.mu.Unlock()

	go ts.run(runCtx)
}

// Stop terminates the stream loop
func (ts *TickerStream) Stop() {
	ts.mu.Lock()
	if ts.cancel != nil {
		ts.cancel()
	}
	ts.started = false
	ts.mu.Unlock()
}

func (ts *TickerStream) run(ctx context.Context) {
	backoff := time.Second
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		streams := ts.streams()
		if len(streams) == 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(5 * time.Second):
			}
			continue
		}

		if err := ts.connectOnce(ctx, streams); err != nil && ctx.Err() == nil {
			ts.log.Warn("ticker stream disconnected", "error", err, "backoff", backoff.String())
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
		} else {
			backoff = time.Second
		}
	}
}

func (ts *TickerStream) connectOnce(ctx context.Context, streams []string) error {
	url := fmt.Sprintf("%s/stream?streams=%s", ts.wsBaseURL, strings.Join(streams, "/"))
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	ts.log.Info("ticker stream connected", "streams", len(streams))

	// Rebuild the subscription set when it drifts from what we dialed with.
	done := make(chan struct{})
	defer close(done)
	go func() {
		tick := time.NewTicker(30 * time.Second)
		defer tick.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				_ = conn.Close()
				return
			case <-tick.C:
				if len(ts.streams()) != len(streams) {
					_ = conn.Close()
					return
				}
			}
		}
	}()

	for {
		_ = conn.SetReadDeadline(time.Now().Add(90 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		ts.handleMessage(ctx, msg)
	}
}

func (ts *TickerStream) handleMessage(ctx context.Context, msg []byte) {
	var env struct {
		Data struct {
			Symbol string `json:"s"`
			Close  string `json:"c"`
		} `json:"data"`
	}
	if err := json.Unmarshal(msg, &env); err != nil {
		return
	}
	if env.Data.Symbol == "" {
		return
	}
	price, err := strconv.ParseFloat(env.Data.Close, 64)
	if err != nil || price <= 0 {
		return
	}
	ts.cache.Put(ctx, env.Data.Symbol, price)
}
