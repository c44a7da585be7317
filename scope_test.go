package main

import "testing"

func TestScopeScoreRanksDeeperStages(t *testing.T) {
	tests := []struct {
		url      string
		expected int
	}{
		{"https://filmonestop.maketicket.co.kr/ko/onestop/payment", 4},
		{"https://filmonestop.maketicket.co.kr/ko/onestop/price", 3},
		{"https://filmonestop.maketicket.co.kr/ko/onestop/rs/seat", 2},
		{"https://filmonestop.maketicket.co.kr/ko/onestop/booking", 1},
		{"https://filmonestop.maketicket.co.kr/ko/onestop/rs", 1},
		{"https://example.com/ko/onestop", 1},
		// The portal shares the maketicket domain but is never a booking scope.
		{"https://biff.maketicket.co.kr/ko/resMain", 0},
		{"", 0},
	}

	for _, tt := range tests {
		if got := scopeScore(tt.url); got != tt.expected {
			t.Errorf("scopeScore(%q) = %d, expected %d", tt.url, got, tt.expected)
		}
	}
}

// The direct-spawn fallback walks the entry URLs in flow order, and each one
// must land on a URL that qualifies as a booking scope.
func TestBookingEntryPathsInFlowOrder(t *testing.T) {
	expected := []string{"/ko/onestop/booking", "/ko/onestop/rs", "/ko/onestop/rs/seat"}

	if len(bookingEntryPaths) != len(expected) {
		t.Fatalf("Expected %d entry paths, got %d", len(expected), len(bookingEntryPaths))
	}
	config := DefaultConfig()
	for i, path := range expected {
		if bookingEntryPaths[i] != path {
			t.Errorf("Entry %d: expected %s, got %s", i, path, bookingEntryPaths[i])
		}
		entryURL := sprintQuery(config.ReservationURL+bookingEntryPaths[i], "5126", "001")
		if scopeScore(entryURL) < 1 {
			t.Errorf("Entry URL %s does not qualify as a booking scope", entryURL)
		}
	}
}

func TestScopeScorePaymentBeatsEverything(t *testing.T) {
	payment := scopeScore("https://filmonestop.maketicket.co.kr/ko/onestop/payment?prodSeq=1")
	for _, url := range []string{
		"https://filmonestop.maketicket.co.kr/ko/onestop/price",
		"https://filmonestop.maketicket.co.kr/ko/onestop/rs/seat",
		"https://filmonestop.maketicket.co.kr/ko/onestop/booking",
	} {
		if scopeScore(url) >= payment {
			t.Errorf("Expected payment frame to outrank %s", url)
		}
	}
}
