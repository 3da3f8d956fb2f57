package clock

import (
	"errors"
	"testing"
	"time"
)

func TestTimedOut(t *testing.T) {
	var c Clock
	c.Start(5 * time.Millisecond)
	sleep := func(d time.Duration) error { return nil }
	for i := 0; i < 2; i++ {
		if err := c.Sleep(sleep, 2*time.Millisecond); err != nil {
			t.Fatal(err)
		}
	}
	if c.TimedOut() {
		t.Fatal("clock timed out early")
	}
	if err := c.Sleep(sleep, 2*time.Millisecond); err != nil {
		t.Fatal(err)
	}
	if !c.TimedOut() {
		t.Fatal("clock should have timed out")
	}
}

func TestSleepPropagatesError(t *testing.T) {
	var c Clock
	c.Start(time.Second)
	wantErr := errors.New("sleep failed")
	err := c.Sleep(func(time.Duration) error { return wantErr }, time.Millisecond)
	if !errors.Is(err, wantErr) {
		t.Fatalf("got %v, want %v", err, wantErr)
	}
	if c.TimedOut() {
		t.Fatal("a failed sleep must not count toward elapsed time")
	}
}
