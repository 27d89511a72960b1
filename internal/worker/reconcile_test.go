package worker

import (
	"math"
	"testing"
)

func TestSizeDrift(t *testing.T) {
	testCases := []struct {
		name     string
		venue    float64
		local    float64
		expected float64
	}{
		{name: "identical sizes", venue: 100, local: 100, expected: 0},
		{name: "two percent on a large position", venue: 102, local: 100, expected: 0.02},
		{name: "sub-unit dust is measured against one unit", venue: 0.0101, local: 0.01, expected: 0.0001},
		{name: "real divergence on a sub-unit position", venue: 0.05, local: 0.01, expected: 0.04},
		{name: "zero local size", venue: 0.5, local: 0, expected: 0.5},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := sizeDrift(tc.venue, tc.local)
			if math.Abs(got-tc.expected) > 1e-12 {
				t.Errorf("Expected drift %v, got %v", tc.expected, got)
			}
		})
	}
}

func TestSizeDrift_DustStaysBelowThreshold(t *testing.T) {
	// A 0.01 BTC position off by a satoshi-scale amount must not trigger a
	// rewrite even though the plain relative error would be enormous.
	if drift := sizeDrift(0.0100001, 0.01); drift > driftThreshold {
		t.Errorf("Expected dust drift below threshold, got %v", drift)
	}
	if drift := sizeDrift(5, 0.01); drift <= driftThreshold {
		t.Errorf("Expected genuine divergence above threshold, got %v", drift)
	}
}

func TestGhostEpsilon(t *testing.T) {
	if !(1e-9 <= ghostEpsilon) {
		t.Error("Expected residual venue dust to count as flat")
	}
	if 0.5 <= ghostEpsilon {
		t.Error("Expected a real venue position to stay alive")
	}
	if !(0.0 <= ghostEpsilon) {
		t.Error("Expected an absent snapshot entry to count as flat")
	}
}
