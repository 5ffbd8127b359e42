package backoff_test

import (
	"math"
	"testing"
	"time"

	"github.com/aws-samples/amazon-ecr-ingestion-demo/backoff"
)

func TestConstant_ReturnsFixedDelay(t *testing.T) {
	c := backoff.NewConstant(5 * time.Second)
	for attempt := 1; attempt <= 10; attempt++ {
		if got := c.Delay(attempt); got != 5*time.Second {
			t.Errorf("Delay(%d) = %v, want %v", attempt, got, 5*time.Second)
		}
	}
}

func TestExponential_MultipliesEachAttempt(t *testing.T) {
	tests := []struct {
		name       string
		multiplier float64
		attempt    int
		want       time.Duration
	}{
		{"x2 first", 2, 1, 1 * time.Second},
		{"x2 second", 2, 2, 2 * time.Second},
		{"x2 third", 2, 3, 4 * time.Second},
		{"x3 third", 3, 3, 9 * time.Second},
		{"x1.5 second", 1.5, 2, 1500 * time.Millisecond},
		{"zero means x2", 0, 4, 8 * time.Second},
		{"x1 flat", 1, 7, 1 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := backoff.NewExponential(time.Second, tt.multiplier, 0)
			if got := e.Delay(tt.attempt); got != tt.want {
				t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
			}
		})
	}
}

func TestExponential_CapsAtMax(t *testing.T) {
	e := backoff.NewExponential(time.Second, 2, 10*time.Second)

	// Attempt 5 = 16s > 10s max.
	if got := e.Delay(5); got != 10*time.Second {
		t.Errorf("Delay(5) = %v, want %v (capped at Max)", got, 10*time.Second)
	}
	if got := e.Delay(20); got != 10*time.Second {
		t.Errorf("Delay(20) = %v, want %v (capped at Max)", got, 10*time.Second)
	}
}

func TestExponential_UncappedDoesNotOverflow(t *testing.T) {
	e := backoff.NewExponential(time.Second, 2, 0)
	if got := e.Delay(200); got != time.Duration(math.MaxInt64) {
		t.Errorf("Delay(200) = %v, want saturated duration", got)
	}
}

func TestExponentialWithJitter_WithinBounds(t *testing.T) {
	e := backoff.NewExponentialWithJitter(time.Second, 10*time.Second)

	for attempt := 1; attempt <= 5; attempt++ {
		for range 100 {
			got := e.Delay(attempt)
			if got < 0 || got > 10*time.Second {
				t.Errorf("Delay(%d) = %v, want within [0, 10s]", attempt, got)
			}
		}
	}
}

func TestExponentialWithJitter_ProducesVariance(t *testing.T) {
	e := backoff.NewExponentialWithJitter(time.Second, time.Minute)

	seen := make(map[time.Duration]bool)
	for range 100 {
		seen[e.Delay(3)] = true
	}
	if len(seen) < 2 {
		t.Errorf("expected variance in jitter, got only %d distinct values", len(seen))
	}
}

func TestDefaultStrategy(t *testing.T) {
	s := backoff.DefaultStrategy()
	if s == nil {
		t.Fatal("DefaultStrategy() returned nil")
	}
	if d := s.Delay(1); d < 0 || d > time.Second {
		t.Errorf("DefaultStrategy().Delay(1) = %v, want within [0, 1s]", d)
	}
}
