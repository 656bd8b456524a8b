package clock

import (
	"testing"
	"time"
)

func TestFakeAfterFiresOnAdvance(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := Fake(start)
	ch := c.After(5 * time.Second)

	c.Advance(4 * time.Second)
	select {
	case <-ch:
		t.Fatal("fired early")
	default:
	}

	c.Advance(time.Second)
	select {
	case got := <-ch:
		if !got.Equal(start.Add(5 * time.Second)) {
			t.Errorf("fired at %v", got)
		}
	default:
		t.Fatal("did not fire")
	}
}

func TestFakeTickerDropsWhenFull(t *testing.T) {
	c := Fake(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	ticker := c.NewTicker(time.Second)
	defer ticker.Stop()

	c.Advance(3 * time.Second)
	<-ticker.C()
	select {
	case <-ticker.C():
		t.Fatal("expected dropped ticks")
	default:
	}
	if got := c.Now(); !got.Equal(time.Date(2024, 1, 1, 0, 0, 3, 0, time.UTC)) {
		t.Errorf("Now = %v", got)
	}
}
