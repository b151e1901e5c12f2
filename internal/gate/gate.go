// Package gate implements probe admission control: a global concurrency
// semaphore, an optional global start-rate cap, and per-pattern overrides.
package gate

import (
	"time"

	"github.com/puzpuzpuz/xsync/v4"
	"github.com/zeebo/xxh3"
	"golang.org/x/sync/semaphore"

	"github.com/pingtower/pingtower/internal/config"
)

// Registry composes the global gate with per-pattern overrides. Per-pattern
// semaphores are created lazily on first match and live for the process
// lifetime, so a pattern's concurrency cap is shared by every target it
// matches.
type Registry struct {
	global    *semaphore.Weighted
	globalRPS int
	rules     []config.LimitRule

	// key: xxh3 of the rule pattern.
	perPattern *xsync.Map[uint64, *semaphore.Weighted]
}

// NewRegistry creates a Registry. globalConcurrency is clamped to >= 1;
// globalRPS <= 0 disables the global start-rate cap.
func NewRegistry(globalConcurrency, globalRPS int, rules []config.LimitRule) *Registry {
	if globalConcurrency < 1 {
		globalConcurrency = 1
	}
	if globalRPS < 0 {
		globalRPS = 0
	}
	return &Registry{
		global:     semaphore.NewWeighted(int64(globalConcurrency)),
		globalRPS:  globalRPS,
		rules:      rules,
		perPattern: xsync.NewMap[uint64, *semaphore.Weighted](),
	}
}

// ForURL selects the admission semaphore and per-rule RPS for a target URL.
// The first matching rule wins (configured list order). A rule concurrency
// > 0 replaces the global semaphore with the rule's own; a rule rps > 0 is
// returned for delay computation. URLs matching no rule use the global gate.
func (r *Registry) ForURL(url string) (sem *semaphore.Weighted, perRPS int) {
	for i := range r.rules {
		rule := &r.rules[i]
		if rule.Regexp == nil || !rule.Regexp.MatchString(url) {
			continue
		}
		sem = r.global
		if rule.Concurrency > 0 {
			key := xxh3.HashString(rule.Pattern)
			sem, _ = r.perPattern.LoadOrCompute(key, func() (*semaphore.Weighted, bool) {
				return semaphore.NewWeighted(int64(rule.Concurrency)), false
			})
		}
		if rule.RPS > 0 {
			perRPS = rule.RPS
		}
		return sem, perRPS
	}
	return r.global, 0
}

// Delay computes the initial dispatch delay for the i-th due target of a
// tick: i/global_rps to smooth the global start rate, raised to 1/per_rps
// when the matched rule carries its own rate cap.
func (r *Registry) Delay(i, perRPS int) time.Duration {
	var d time.Duration
	if r.globalRPS > 0 {
		d = time.Duration(i) * time.Second / time.Duration(r.globalRPS)
	}
	if perRPS > 0 {
		if per := time.Second / time.Duration(perRPS); per > d {
			d = per
		}
	}
	return d
}
