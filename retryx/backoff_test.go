package retryx

import (
	"testing"
	"time"
)

func TestBackoff_Grows(t *testing.T) {
	b := Backoff{Initial: time.Second, Max: 100 * time.Second, Multiplier: 2}
	var last time.Duration
	for attempt := 1; attempt <= 5; attempt++ {
		d := b.Next(attempt)
		if d < last {
			t.Fatalf("attempt %d delay %v is less than previous %v", attempt, d, last)
		}
		last = d
	}
}

func TestBackoff_RespectsMax(t *testing.T) {
	b := Backoff{Initial: time.Second, Max: 5 * time.Second, Multiplier: 2}
	if d := b.Next(20); d > 5*time.Second {
		t.Fatalf("delay %v exceeds Max", d)
	}
}

func TestBackoff_JitterStaysPositive(t *testing.T) {
	b := Backoff{Initial: time.Millisecond, Max: time.Second, Multiplier: 2, Jitter: 0.5}
	for i := 0; i < 100; i++ {
		if d := b.Next(1); d < 0 {
			t.Fatalf("negative delay: %v", d)
		}
	}
}
