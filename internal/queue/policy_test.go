package queue

import (
	"testing"
	"time"
)

func TestDelayWithoutJitter(t *testing.T) {
	p := DefaultRetryPolicy()
	p.Jitter = 0

	tests := []struct {
		retries int
		want    time.Duration
	}{
		{0, 0},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 16 * time.Second},
		{5, 30 * time.Second},
		{12, 30 * time.Second},
	}
	for _, tt := range tests {
		if got := p.Delay(tt.retries); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.retries, got, tt.want)
		}
	}
}

func TestDelayJitterStaysWithinBounds(t *testing.T) {
	for _, r := range []float64{0, 0.25, 0.5, 0.999} {
		p := DefaultRetryPolicy()
		p.Rand = func() float64 { return r }

		for retries := 1; retries <= 10; retries++ {
			got := p.Delay(retries)
			if got > p.Cap {
				t.Fatalf("Delay(%d) = %v exceeds cap", retries, got)
			}
			p0 := p
			p0.Jitter = 0
			nominal := p0.Delay(retries)
			low := time.Duration(float64(nominal) * (1 - p.Jitter))
			if got < low-time.Millisecond {
				t.Fatalf("Delay(%d) = %v below %v", retries, got, low)
			}
		}
	}
}

func TestEscalation(t *testing.T) {
	p := DefaultRetryPolicy()
	if p.escalates(7) {
		t.Error("7 unknown failures should not escalate")
	}
	if !p.escalates(8) {
		t.Error("8 unknown failures should escalate")
	}
	p.MaxUnknownAttempts = 0
	if p.escalates(1000) {
		t.Error("zero limit disables escalation")
	}
}
