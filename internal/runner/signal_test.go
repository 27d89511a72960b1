package runner

import (
	"testing"
	"time"
)

func TestSelectSignal_StateMachine(t *testing.T) {
	testCases := []struct {
		name     string
		state    string
		signals  []Signal
		expected string // empty = no selection
	}{
		{
			name:     "flat accepts open_long",
			state:    StateFlat,
			signals:  []Signal{{Type: SignalOpenLong, Timestamp: 100}},
			expected: SignalOpenLong,
		},
		{
			name:     "flat rejects close_long",
			state:    StateFlat,
			signals:  []Signal{{Type: SignalCloseLong, Timestamp: 100}},
			expected: "",
		},
		{
			name:     "long rejects open_long",
			state:    StateLong,
			signals:  []Signal{{Type: SignalOpenLong, Timestamp: 100}},
			expected: "",
		},
		{
			name:     "long rejects short-side exit",
			state:    StateLong,
			signals:  []Signal{{Type: SignalCloseShort, Timestamp: 100}},
			expected: "",
		},
		{
			name:  "close beats add in long state",
			state: StateLong,
			signals: []Signal{
				{Type: SignalAddLong, Timestamp: 100},
				{Type: SignalCloseLong, Timestamp: 100},
			},
			expected: SignalCloseLong,
		},
		{
			name:  "reduce beats add",
			state: StateLong,
			signals: []Signal{
				{Type: SignalAddLong, Timestamp: 100},
				{Type: SignalReduceLong, Timestamp: 100},
			},
			expected: SignalReduceLong,
		},
		{
			name:  "earlier candle wins within a class",
			state: StateShort,
			signals: []Signal{
				{Type: SignalCloseShort, Timestamp: 200},
				{Type: SignalCloseShort, Timestamp: 100},
			},
			expected: SignalCloseShort,
		},
		{
			name:     "short accepts reduce_short",
			state:    StateShort,
			signals:  []Signal{{Type: SignalReduceShort, Timestamp: 100}},
			expected: SignalReduceShort,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := selectSignal(tc.signals, tc.state, "both")
			if tc.expected == "" {
				if got != nil {
					t.Errorf("Expected no signal, got %s", got.Type)
				}
				return
			}
			if got == nil {
				t.Fatalf("Expected %s, got nil", tc.expected)
			}
			if got.Type != tc.expected {
				t.Errorf("Expected %s, got %s", tc.expected, got.Type)
			}
		})
	}
}

func TestSelectSignal_EarlierTimestampSelected(t *testing.T) {
	got := selectSignal([]Signal{
		{Type: SignalCloseLong, Timestamp: 200, TriggerPrice: 2},
		{Type: SignalCloseLong, Timestamp: 100, TriggerPrice: 1},
	}, StateLong, "both")
	if got == nil {
		t.Fatal("Expected a signal")
	}
	if got.Timestamp != 100 {
		t.Errorf("Expected timestamp 100, got %d", got.Timestamp)
	}
}

func TestSelectSignal_FlatDirectionTiebreak(t *testing.T) {
	both := []Signal{
		{Type: SignalOpenShort, Timestamp: 100},
		{Type: SignalOpenLong, Timestamp: 100},
	}

	if got := selectSignal(both, StateFlat, "short"); got == nil || got.Type != SignalOpenShort {
		t.Errorf("Expected open_short for short-only strategy, got %v", got)
	}
	if got := selectSignal(both, StateFlat, "long"); got == nil || got.Type != SignalOpenLong {
		t.Errorf("Expected open_long for long-only strategy, got %v", got)
	}
	// Both allowed: lexicographic within the same class and timestamp
	if got := selectSignal(both, StateFlat, "both"); got == nil || got.Type != SignalOpenLong {
		t.Errorf("Expected open_long for both-direction strategy, got %v", got)
	}
}

func TestQueuePriority_ExitsDispatchFirst(t *testing.T) {
	closeP := QueuePriority(SignalCloseLong)
	reduceP := QueuePriority(SignalReduceShort)
	openP := QueuePriority(SignalOpenLong)
	addP := QueuePriority(SignalAddShort)

	if !(closeP > reduceP && reduceP > openP && openP > addP) {
		t.Errorf("Expected close > reduce > open > add, got %d %d %d %d",
			closeP, reduceP, openP, addP)
	}
}

func TestDedupMap_SuppressesWithinTTL(t *testing.T) {
	d := newDedupMap(2 * time.Minute)
	now := time.Now()

	sig := &Signal{Type: SignalOpenLong, Timestamp: 1700000000}
	key := sig.DedupKey(7, "BTCUSDT")

	if d.Check(key, now) {
		t.Error("Expected first check to pass")
	}
	if !d.Check(key, now.Add(time.Minute)) {
		t.Error("Expected repeat within TTL to be suppressed")
	}
	if d.Check(key, now.Add(3*time.Minute)) {
		t.Error("Expected check after TTL expiry to pass")
	}
}

func TestDedupKey_DistinguishesCandles(t *testing.T) {
	a := (&Signal{Type: SignalOpenLong, Timestamp: 100}).DedupKey(1, "BTCUSDT")
	b := (&Signal{Type: SignalOpenLong, Timestamp: 160}).DedupKey(1, "BTCUSDT")
	if a == b {
		t.Error("Expected different candles to produce different keys")
	}

	c := (&Signal{Type: SignalOpenShort, Timestamp: 100}).DedupKey(1, "BTCUSDT")
	if a == c {
		t.Error("Expected different signal types to produce different keys")
	}
}

func TestIsBuyLike(t *testing.T) {
	buyLike := []string{SignalOpenLong, SignalAddLong, SignalCloseShort, SignalReduceShort}
	for _, st := range buyLike {
		if !isBuyLike(st) {
			t.Errorf("Expected %s to be buy-like", st)
		}
	}
	sellLike := []string{SignalOpenShort, SignalAddShort, SignalCloseLong, SignalReduceLong}
	for _, st := range sellLike {
		if isBuyLike(st) {
			t.Errorf("Expected %s to be sell-like", st)
		}
	}
}
