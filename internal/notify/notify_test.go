package notify

import (
	"context"
	"errors"
	"testing"
	"time"
)

// fakeNotifier records sends and can be wired to fail.
type fakeNotifier struct {
	name    string
	enabled bool
	err     error
	sent    int
}

func (f *fakeNotifier) Send(ctx context.Context, event *Event) error {
	f.sent++
	return f.err
}

func (f *fakeNotifier) Name() string    { return f.name }
func (f *fakeNotifier) IsEnabled() bool { return f.enabled }

func TestDispatch_AllEnabledChannelsByDefault(t *testing.T) {
	tg := &fakeNotifier{name: "telegram", enabled: true}
	dc := &fakeNotifier{name: "discord", enabled: true}
	off := &fakeNotifier{name: "webhook", enabled: false}

	m := NewManager()
	m.AddNotifier(tg)
	m.AddNotifier(dc)
	m.AddNotifier(off)

	results := m.Dispatch(context.Background(), &Event{Type: EventSignal}, nil)
	if len(results) != 2 {
		t.Fatalf("Expected 2 results, got %d", len(results))
	}
	if tg.sent != 1 || dc.sent != 1 {
		t.Errorf("Expected one send per enabled channel, got tg=%d dc=%d", tg.sent, dc.sent)
	}
	if off.sent != 0 {
		t.Error("Expected disabled channel to be skipped")
	}
}

func TestDispatch_ChannelSelection(t *testing.T) {
	tg := &fakeNotifier{name: "telegram", enabled: true}
	dc := &fakeNotifier{name: "discord", enabled: true}

	m := NewManager()
	m.AddNotifier(tg)
	m.AddNotifier(dc)

	results := m.Dispatch(context.Background(), &Event{}, []string{"discord"})
	if len(results) != 1 || results[0].Channel != "discord" {
		t.Fatalf("Expected only discord, got %v", results)
	}
	if tg.sent != 0 {
		t.Error("Expected unselected channel to be skipped")
	}
}

func TestDispatch_FailureDoesNotBlockOthers(t *testing.T) {
	bad := &fakeNotifier{name: "telegram", enabled: true, err: errors.New("chat not found")}
	good := &fakeNotifier{name: "discord", enabled: true}

	m := NewManager()
	m.AddNotifier(bad)
	m.AddNotifier(good)

	results := m.Dispatch(context.Background(), &Event{}, nil)
	if len(results) != 2 {
		t.Fatalf("Expected 2 results, got %d", len(results))
	}

	byChannel := map[string]Result{}
	for _, r := range results {
		byChannel[r.Channel] = r
	}
	if byChannel["telegram"].OK {
		t.Error("Expected telegram result to record the failure")
	}
	if byChannel["telegram"].Error != "chat not found" {
		t.Errorf("Expected error message preserved, got %q", byChannel["telegram"].Error)
	}
	if !byChannel["discord"].OK {
		t.Error("Expected discord delivery to succeed despite telegram failure")
	}
	if good.sent != 1 {
		t.Error("Expected the healthy channel to still send")
	}
}

func TestFormatSignalEvent(t *testing.T) {
	ts := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	event := FormatSignalEvent(42, "Momentum", "BTCUSDT", "open_long", 65000, 0.05, ts)

	if event.Type != EventSignal {
		t.Errorf("Expected signal event, got %s", event.Type)
	}
	if event.StrategyID != 42 || event.Symbol != "BTCUSDT" || event.SignalType != "open_long" {
		t.Errorf("Unexpected event identity: %+v", event)
	}
	if event.Title == "" || event.Message == "" {
		t.Error("Expected title and message to be populated")
	}
	if !event.Timestamp.Equal(ts) {
		t.Errorf("Expected timestamp preserved, got %v", event.Timestamp)
	}
}
