package runner

import (
	"fmt"
	"sort"
	"time"
)

// Signal types
const (
	SignalOpenLong    = "open_long"
	SignalCloseLong   = "close_long"
	SignalAddLong     = "add_long"
	SignalReduceLong  = "reduce_long"
	SignalOpenShort   = "open_short"
	SignalCloseShort  = "close_short"
	SignalAddShort    = "add_short"
	SignalReduceShort = "reduce_short"
)

// Position states
const (
	StateFlat  = "flat"
	StateLong  = "long"
	StateShort = "short"
)

// Signal is one trade intent produced at a candle boundary or by a
// server-side exit check.
type Signal struct {
	Type         string
	TriggerPrice float64
	Timestamp    int64 // candle open time, unix seconds
	PositionSize float64
	ReduceSize   float64
	Reason       string // set for server-side exits
}

// DedupKey identifies a signal for per-candle suppression.
func (s *Signal) DedupKey(strategyID int64, symbol string) string {
	return fmt.Sprintf("%d:%s:%s:%d", strategyID, symbol, s.Type, s.Timestamp)
}

// selectionPriority orders candidate signals: exits beat entries.
func selectionPriority(signalType string) int {
	switch signalType {
	case SignalCloseLong, SignalCloseShort:
		return 0
	case SignalReduceLong, SignalReduceShort:
		return 1
	case SignalOpenLong, SignalOpenShort:
		return 2
	case SignalAddLong, SignalAddShort:
		return 3
	}
	return 4
}

// QueuePriority maps a signal type to the pending_orders priority column.
// The worker drains priority DESC, so exits dispatch before entries.
func QueuePriority(signalType string) int {
	switch selectionPriority(signalType) {
	case 0:
		return 3
	case 1:
		return 2
	case 2:
		return 1
	default:
		return 0
	}
}

// allowedInState is the state machine acceptance table.
func allowedInState(state, signalType string) bool {
	switch state {
	case StateFlat:
		return signalType == SignalOpenLong || signalType == SignalOpenShort
	case StateLong:
		return signalType == SignalAddLong || signalType == SignalReduceLong || signalType == SignalCloseLong
	case StateShort:
		return signalType == SignalAddShort || signalType == SignalReduceShort || signalType == SignalCloseShort
	}
	return false
}

// selectSignal filters candidates through the state machine and picks at
// most one: lowest priority class, then earliest timestamp, then
// lexicographic type. From flat with both open sides present,
// tradeDirection breaks the tie.
func selectSignal(candidates []Signal, state, tradeDirection string) *Signal {
	eligible := make([]Signal, 0, len(candidates))
	for _, s := range candidates {
		if allowedInState(state, s.Type) {
			eligible = append(eligible, s)
		}
	}
	if len(eligible) == 0 {
		return nil
	}

	if state == StateFlat && tradeDirection == StateLong || state == StateFlat && tradeDirection == StateShort {
		preferred := SignalOpenLong
		if tradeDirection == StateShort {
			preferred = SignalOpenShort
		}
		for _, s := range eligible {
			if s.Type == preferred {
				return &s
			}
		}
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		pi, pj := selectionPriority(eligible[i].Type), selectionPriority(eligible[j].Type)
		if pi != pj {
			return pi < pj
		}
		if eligible[i].Timestamp != eligible[j].Timestamp {
			return eligible[i].Timestamp < eligible[j].Timestamp
		}
		return eligible[i].Type < eligible[j].Type
	})
	return &eligible[0]
}

// dedupMap suppresses repeat signals per candle. Each Runner owns one; no
// cross-strategy sharing.
type dedupMap struct {
	seen map[string]time.Time
	ttl  time.Duration
}

func newDedupMap(ttl time.Duration) *dedupMap {
	return &dedupMap{seen: make(map[string]time.Time), ttl: ttl}
}

// Check records the key and reports whether it was already seen within TTL.
func (d *dedupMap) Check(key string, now time.Time) bool {
	if at, ok := d.seen[key]; ok && now.Sub(at) < d.ttl {
		return true
	}
	d.seen[key] = now
	d.prune(now)
	return false
}

func (d *dedupMap) prune(now time.Time) {
	if len(d.seen) < 256 {
		return
	}
	for k, at := range d.seen {
		if now.Sub(at) >= d.ttl {
			delete(d.seen, k)
		}
	}
}

// isEntry reports whether the signal opens or extends exposure.
func isEntry(signalType string) bool {
	switch signalType {
	case SignalOpenLong, SignalOpenShort, SignalAddLong, SignalAddShort:
		return true
	}
	return false
}

// isBuyLike reports the crossing direction for entry trigger confirmation.
func isBuyLike(signalType string) bool {
	switch signalType {
	case SignalOpenLong, SignalAddLong, SignalCloseShort, SignalReduceShort:
		return true
	}
	return false
}
