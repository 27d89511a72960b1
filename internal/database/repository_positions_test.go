package database

import (
	"math"
	"testing"
)

func TestSideForSignal(t *testing.T) {
	testCases := []struct {
		signalType string
		expected   string
	}{
		{"open_long", SideLong},
		{"add_long", SideLong},
		{"close_long", SideLong},
		{"reduce_long", SideLong},
		{"open_short", SideShort},
		{"close_short", SideShort},
		{"reduce_short", SideShort},
	}
	for _, tc := range testCases {
		if got := sideForSignal(tc.signalType); got != tc.expected {
			t.Errorf("%s: expected %s, got %s", tc.signalType, tc.expected, got)
		}
	}
}

func TestSignalKind(t *testing.T) {
	testCases := []struct {
		signalType string
		expected   string
	}{
		{"open_long", "open"},
		{"add_short", "add"},
		{"reduce_long", "reduce"},
		{"close_short", "close"},
		{"close", "close"},
	}
	for _, tc := range testCases {
		if got := signalKind(tc.signalType); got != tc.expected {
			t.Errorf("%s: expected %s, got %s", tc.signalType, tc.expected, got)
		}
	}
}

func TestRealizedProfit(t *testing.T) {
	testCases := []struct {
		name     string
		side     string
		entry    float64
		exit     float64
		qty      float64
		expected float64
	}{
		{name: "long gain", side: SideLong, entry: 100, exit: 110, qty: 2, expected: 20},
		{name: "long loss", side: SideLong, entry: 100, exit: 95, qty: 2, expected: -10},
		{name: "short gain", side: SideShort, entry: 100, exit: 90, qty: 3, expected: 30},
		{name: "short loss", side: SideShort, entry: 100, exit: 104, qty: 1, expected: -4},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := realizedProfit(tc.side, tc.entry, tc.exit, tc.qty)
			if math.Abs(got-tc.expected) > 1e-9 {
				t.Errorf("Expected %v, got %v", tc.expected, got)
			}
		})
	}
}

func TestBlendEntry(t *testing.T) {
	size, entry := blendEntry(1.0, 100, 1.0, 110)
	if math.Abs(size-2.0) > 1e-9 {
		t.Errorf("Expected size 2.0, got %v", size)
	}
	if math.Abs(entry-105) > 1e-9 {
		t.Errorf("Expected blended entry 105, got %v", entry)
	}

	// Uneven weights
	size, entry = blendEntry(3.0, 100, 1.0, 120)
	if math.Abs(size-4.0) > 1e-9 {
		t.Errorf("Expected size 4.0, got %v", size)
	}
	if math.Abs(entry-105) > 1e-9 {
		t.Errorf("Expected blended entry 105, got %v", entry)
	}
}

func TestReduceCollapses(t *testing.T) {
	testCases := []struct {
		name     string
		prior    float64
		qty      float64
		expected bool
	}{
		{name: "full reduce collapses", prior: 10, qty: 10, expected: true},
		{name: "remainder within epsilon collapses", prior: 10, qty: 9.995, expected: true},
		{name: "real remainder survives", prior: 10, qty: 9.5, expected: false},
		{name: "half reduce survives", prior: 0.02, qty: 0.01, expected: false},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := reduceCollapses(tc.prior, tc.qty); got != tc.expected {
				t.Errorf("Expected %v, got %v", tc.expected, got)
			}
		})
	}
}

func TestResolveMaxAttempts(t *testing.T) {
	testCases := []struct {
		name       string
		rowVal     int
		configured int
		expected   int
	}{
		{name: "explicit row value wins", rowVal: 3, configured: 5, expected: 3},
		{name: "configured default fills in", rowVal: 0, configured: 5, expected: 5},
		{name: "hardcoded fallback", rowVal: 0, configured: 0, expected: 10},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := resolveMaxAttempts(tc.rowVal, tc.configured); got != tc.expected {
				t.Errorf("Expected %d, got %d", tc.expected, got)
			}
		})
	}
}
