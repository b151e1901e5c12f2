package tickloop

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestRunFiresImmediatelyThenPeriodically(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	done := make(chan struct{})
	go func() {
		Run(ctx, 10*time.Millisecond, func() {
			if calls.Add(1) >= 3 {
				cancel()
			}
		})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not reach three iterations")
	}
	if n := calls.Load(); n < 3 {
		t.Fatalf("expected at least 3 calls, got %d", n)
	}
}

func TestRunWithCancelledContextRunsOnce(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var calls int
	Run(ctx, time.Hour, func() { calls++ })
	if calls != 1 {
		t.Fatalf("expected exactly one call, got %d", calls)
	}
}
