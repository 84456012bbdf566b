package clock

import (
	"testing"
	"time"
)

func TestManualNowAdvanceSet(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	m := NewManual(start)
	if !m.Now().Equal(start) {
		t.Fatalf("expected %v, got %v", start, m.Now())
	}
	m.Advance(time.Second)
	if got := m.Now(); !got.Equal(start.Add(time.Second)) {
		t.Fatalf("advance: got %v", got)
	}
	m.Set(start)
	if !m.Now().Equal(start) {
		t.Fatalf("set: got %v", m.Now())
	}
}

func TestManualTickerFiresOnPeriod(t *testing.T) {
	m := NewManual(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	tk := m.NewTicker(30 * time.Second)
	defer tk.Stop()

	m.Advance(10 * time.Second)
	select {
	case <-tk.C():
		t.Fatal("ticker fired before its period")
	default:
	}

	m.Advance(20 * time.Second)
	select {
	case <-tk.C():
	default:
		t.Fatal("expected tick after period elapsed")
	}
}

func TestManualTickerStop(t *testing.T) {
	m := NewManual(time.Now())
	tk := m.NewTicker(time.Second)
	tk.Stop()
	m.Advance(5 * time.Second)
	select {
	case <-tk.C():
		t.Fatal("stopped ticker fired")
	default:
	}
}

func TestSystemClock(t *testing.T) {
	c := System()
	before := time.Now()
	if c.Now().Before(before) {
		t.Fatal("system clock went backwards")
	}
	tk := c.NewTicker(5 * time.Millisecond)
	defer tk.Stop()
	select {
	case <-tk.C():
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for system tick")
	}
}
