package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
)

func TestSignedRequest_RetrySignsFreshTimestamp(t *testing.T) {
	const secret = "test-secret"

	type attempt struct {
		timestamp int64
		sigValid  bool
	}
	var attempts []attempt

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := r.URL.RawQuery
		idx := strings.LastIndex(raw, "&signature=")
		if idx < 0 {
			t.Error("Expected a signature parameter")
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		payload, sig := raw[:idx], raw[idx+len("&signature="):]

		mac := hmac.New(sha256.New, []byte(secret))
		mac.Write([]byte(payload))
		expected := hex.EncodeToString(mac.Sum(nil))

		ts, _ := strconv.ParseInt(r.URL.Query().Get("timestamp"), 10, 64)
		attempts = append(attempts, attempt{timestamp: ts, sigValid: sig == expected})

		if r.Header.Get("X-MBX-APIKEY") != "test-key" {
			t.Errorf("Expected API key header, got %q", r.Header.Get("X-MBX-APIKEY"))
		}

		// First attempt fails with a retryable server error
		if len(attempts) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"orderId": 42}`))
	}))
	defer server.Close()

	c := NewBinanceClient("test-key", secret)
	body, err := c.signedRequest(context.Background(), http.MethodPost, server.URL, "/fapi/v1/order",
		map[string]string{"symbol": "BTCUSDT"})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !strings.Contains(string(body), "42") {
		t.Errorf("Expected the second attempt's body, got %s", body)
	}

	if len(attempts) != 2 {
		t.Fatalf("Expected 2 attempts, got %d", len(attempts))
	}
	for i, a := range attempts {
		if !a.sigValid {
			t.Errorf("Attempt %d: signature does not match its own query", i+1)
		}
	}
	// The retry waits through backoff, so a freshly signed request carries a
	// later timestamp than the first attempt.
	if attempts[1].timestamp <= attempts[0].timestamp {
		t.Errorf("Expected retry to re-sign with a fresh timestamp, got %d then %d",
			attempts[0].timestamp, attempts[1].timestamp)
	}
}
