package clock

import (
	"context"
	"testing"
	"time"
)

func TestManualSleepAdvances(t *testing.T) {
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	c := NewManual(start)

	if err := c.Sleep(context.Background(), 100*time.Millisecond); err != nil {
		t.Fatal(err)
	}
	c.Advance(time.Second)

	if got := c.Now().Sub(start); got != 1100*time.Millisecond {
		t.Errorf("expected 1.1s elapsed, got %v", got)
	}
	if s := c.Sleeps(); len(s) != 1 || s[0] != 100*time.Millisecond {
		t.Errorf("unexpected sleeps: %v", s)
	}
}

func TestManualSleepCancelled(t *testing.T) {
	c := NewManual(time.Now())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.Sleep(ctx, time.Second); err == nil {
		t.Error("expected error from cancelled context")
	}
	if len(c.Sleeps()) != 0 {
		t.Error("cancelled sleep should not be recorded")
	}
}

func TestSystemSleepCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	if err := NewSystem().Sleep(ctx, time.Hour); err == nil {
		t.Error("expected error from cancelled context")
	}
	if time.Since(start) > time.Second {
		t.Error("sleep should return promptly on cancel")
	}
}
