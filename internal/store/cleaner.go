package store

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Cleaner deletes check results older than the retention window. It is
// best-effort: failures are logged and the next run tries again. The
// scheduler invokes RunOnce on roughly every tenth tick; an optional cron
// schedule runs it additionally on fixed instants.
type Cleaner struct {
	store     Store
	retention time.Duration

	cron    *cron.Cron
	runMu   sync.Mutex // serializes overlapping cron and tick-driven runs
	timeout time.Duration
}

// NewCleaner creates a Cleaner retaining results for retentionHours.
// schedule may be empty; otherwise it is a standard cron expression.
func NewCleaner(s Store, retentionHours int, schedule string) *Cleaner {
	if retentionHours <= 0 {
		retentionHours = 720
	}
	c := &Cleaner{
		store:     s,
		retention: time.Duration(retentionHours) * time.Hour,
		timeout:   30 * time.Second,
	}
	if schedule != "" {
		c.cron = cron.New()
		if _, err := c.cron.AddFunc(schedule, func() { c.RunOnce(context.Background()) }); err != nil {
			log.Printf("[cleaner] invalid cron expression %q: %v", schedule, err)
			c.cron = nil
		}
	}
	return c
}

// Start launches the cron schedule, when one is configured.
func (c *Cleaner) Start() {
	if c.cron != nil {
		c.cron.Start()
	}
}

// Stop halts the cron schedule and waits for a running sweep to finish.
func (c *Cleaner) Stop() {
	if c.cron != nil {
		ctx := c.cron.Stop()
		<-ctx.Done()
	}
	c.runMu.Lock()
	c.runMu.Unlock() //nolint:staticcheck // barrier: wait out an in-flight sweep
}

// RunOnce performs one cleanup sweep. Errors are logged, never returned:
// cleanup must not interfere with the probe path.
func (c *Cleaner) RunOnce(ctx context.Context) {
	c.runMu.Lock()
	defer c.runMu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	cutoff := time.Now().UTC().Add(-c.retention)
	removed, err := c.store.TTLCleanup(ctx, cutoff)
	if err != nil {
		log.Printf("[cleaner] ttl cleanup failed: %v", err)
		return
	}
	if removed > 0 {
		log.Printf("[cleaner] removed %d check results older than %s", removed, cutoff.Format(time.RFC3339))
	}
}
