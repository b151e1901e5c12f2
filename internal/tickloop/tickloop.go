// Package tickloop runs a function on a fixed cadence until stopped.
package tickloop

import (
	"context"
	"time"
)

// Run executes fn once immediately, then every period until ctx is done.
// The wait between iterations ends early when ctx is cancelled; fn itself is
// never interrupted mid-run.
func Run(ctx context.Context, period time.Duration, fn func()) {
	if period <= 0 {
		period = time.Second
	}

	timer := time.NewTimer(0)
	defer timer.Stop()
	<-timer.C // drain initial fire

	for {
		fn()

		timer.Reset(period)
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
	}
}
