package market

import (
	"testing"
	"time"
)

func TestTimeframeDuration(t *testing.T) {
	testCases := []struct {
		tf       string
		expected time.Duration
	}{
		{"1m", time.Minute},
		{"5m", 5 * time.Minute},
		{"15m", 15 * time.Minute},
		{"1h", time.Hour},
		{"4h", 4 * time.Hour},
		{"1d", 24 * time.Hour},
		{"1w", 7 * 24 * time.Hour},
		{"30s", 30 * time.Second},
		{"", time.Hour},
		{"bogus", time.Hour},
		{"0m", time.Hour},
	}

	for _, tc := range testCases {
		if got := TimeframeDuration(tc.tf); got != tc.expected {
			t.Errorf("TimeframeDuration(%q): expected %v, got %v", tc.tf, tc.expected, got)
		}
	}
}

func TestCandleOpen(t *testing.T) {
	// 2024-03-15 14:37:42 UTC
	at := time.Date(2024, 3, 15, 14, 37, 42, 0, time.UTC)

	testCases := []struct {
		tf       string
		expected time.Time
	}{
		{"1m", time.Date(2024, 3, 15, 14, 37, 0, 0, time.UTC)},
		{"5m", time.Date(2024, 3, 15, 14, 35, 0, 0, time.UTC)},
		{"1h", time.Date(2024, 3, 15, 14, 0, 0, 0, time.UTC)},
	}

	for _, tc := range testCases {
		if got := CandleOpen(at, tc.tf); got != tc.expected.Unix() {
			t.Errorf("CandleOpen(%q): expected %d, got %d", tc.tf, tc.expected.Unix(), got)
		}
	}
}

func TestCandleOpen_SameCandleSameOpen(t *testing.T) {
	a := time.Date(2024, 3, 15, 14, 0, 1, 0, time.UTC)
	b := time.Date(2024, 3, 15, 14, 59, 59, 0, time.UTC)
	if CandleOpen(a, "1h") != CandleOpen(b, "1h") {
		t.Error("Expected both instants to map to the same hourly candle")
	}

	c := time.Date(2024, 3, 15, 15, 0, 0, 0, time.UTC)
	if CandleOpen(a, "1h") == CandleOpen(c, "1h") {
		t.Error("Expected the next hour to map to a new candle")
	}
}

func TestNormalizeSymbol(t *testing.T) {
	testCases := []struct {
		in       string
		expected string
	}{
		{"btc/usdt", "BTCUSDT"},
		{"BTC-USDT", "BTCUSDT"},
		{"eth_usdt", "ETHUSDT"},
		{" BTCUSDT ", "BTCUSDT"},
		{"BTCUSDT", "BTCUSDT"},
	}
	for _, tc := range testCases {
		if got := NormalizeSymbol(tc.in); got != tc.expected {
			t.Errorf("NormalizeSymbol(%q): expected %q, got %q", tc.in, tc.expected, got)
		}
	}
}

func TestSplitSymbol(t *testing.T) {
	base, quote, err := SplitSymbol("BTC/USDT")
	if err != nil || base != "BTC" || quote != "USDT" {
		t.Errorf("Expected BTC/USDT split, got %q %q err=%v", base, quote, err)
	}

	base, quote, err = SplitSymbol("ETHUSDC")
	if err != nil || base != "ETH" || quote != "USDC" {
		t.Errorf("Expected ETHUSDC split, got %q %q err=%v", base, quote, err)
	}

	if _, _, err := SplitSymbol("XYZ"); err == nil {
		t.Error("Expected error for unsplittable symbol")
	}
}
