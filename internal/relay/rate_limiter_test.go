package relay

import (
	"testing"
	"time"
)

// TestRateLimiter verifies the token bucket against a controlled clock.
func TestRateLimiter(t *testing.T) {
	now := time.Unix(1000, 0)
	rl := newRateLimiter(3, 3*time.Second)
	rl.now = func() time.Time { return now }
	rl.lastCheck = now

	for i := 0; i < 3; i++ {
		if !rl.allow() {
			t.Fatalf("message %d rejected within burst", i)
		}
	}
	if rl.allow() {
		t.Fatal("message beyond burst allowed")
	}

	now = now.Add(time.Second)
	if !rl.allow() {
		t.Error("no token after one refill period")
	}
	if rl.allow() {
		t.Error("more than one token after one refill period")
	}

	now = now.Add(time.Hour)
	allowed := 0
	for n := 0; n < 10; n++ {
		if rl.allow() {
			allowed++
		}
	}
	if allowed != 3 {
		t.Errorf("allowed %d after a long pause, want the burst of 3", allowed)
	}
}

// TestRateLimiterDefaults verifies that invalid parameters are replaced.
func TestRateLimiterDefaults(t *testing.T) {
	rl := newRateLimiter(0, 0)
	if rl.capacity != 1 || rl.rate != 1 {
		t.Errorf("capacity %v rate %v, want 1/1", rl.capacity, rl.rate)
	}
}
