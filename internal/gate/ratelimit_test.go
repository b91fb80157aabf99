package gate

import (
	"testing"
	"time"
)

func TestShouldBlockRollingWindow(t *testing.T) {
	r := NewRateLimiter(950 * time.Millisecond)

	// First two signals are never blocked: the window needs two entries.
	if r.ShouldBlock(1000) {
		t.Error("first signal should not be blocked")
	}
	r.Observe(1000)
	if r.ShouldBlock(1100) {
		t.Error("second signal should not be blocked")
	}
	r.Observe(1100)

	// Third signal is checked against the second-most-recent (1000).
	tests := []struct {
		ts      int64
		blocked bool
	}{
		{1200, true},  // 200ms since two events ago
		{1949, true},  // just inside the gap
		{1950, false}, // exactly the gap
		{3000, false},
	}
	for _, tt := range tests {
		if got := r.ShouldBlock(tt.ts); got != tt.blocked {
			t.Errorf("ShouldBlock(%d) = %v, want %v", tt.ts, got, tt.blocked)
		}
	}
}

func TestBlockedSignalStillShiftsWindow(t *testing.T) {
	r := NewRateLimiter(950 * time.Millisecond)
	r.Observe(1000)
	r.Observe(1100)

	// 1200 is blocked, but observing it must still shift the window so a
	// user who keeps acting quickly stays blocked.
	if !r.ShouldBlock(1200) {
		t.Fatal("expected 1200 to be blocked")
	}
	r.Observe(1200)

	// Now secondLast = 1100: 1300 is still blocked, not allowed through
	// every other event.
	if !r.ShouldBlock(1300) {
		t.Error("expected 1300 to be blocked after a blocked 1200 updated state")
	}
	r.Observe(1300)

	// Far enough from 1200 to pass.
	if r.ShouldBlock(2200) {
		t.Error("expected 2200 to be accepted")
	}
}

func TestBlockingSymmetricRegardlessOfMiddleOutcome(t *testing.T) {
	// Whether the middle event was blocked or accepted, the decision for
	// the next one depends only on the gap to the second-most-recent
	// observed timestamp.
	for _, middleGap := range []int64{100, 2000} {
		r := NewRateLimiter(950 * time.Millisecond)
		r.Observe(1000)
		t2 := 1000 + middleGap
		r.Observe(t2)

		// t3 checked against 1000 either way.
		blocked := r.ShouldBlock(t2 + 1)
		want := (t2+1)-1000 < 950
		if blocked != want {
			t.Errorf("middleGap=%d: ShouldBlock(%d) = %v, want %v", middleGap, t2+1, blocked, want)
		}
	}
}

func TestZeroGapDefaults(t *testing.T) {
	r := NewRateLimiter(0)
	if r.gapMS != DefaultEventGap.Milliseconds() {
		t.Errorf("gapMS = %d, want %d", r.gapMS, DefaultEventGap.Milliseconds())
	}
}
