// Package incident converts the per-target stream of probe results into
// incident open/close/escalate events and drives notification fan-out.
package incident

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/pingtower/pingtower/internal/model"
	"github.com/pingtower/pingtower/internal/notify"
	"github.com/pingtower/pingtower/internal/store"
)

const (
	// openThreshold is the consecutive-failure streak that opens an incident.
	openThreshold = 3
	// historyWindow is how many recent results the streak scan consults.
	historyWindow = 5
	// escalateEvery re-notifies while an incident stays open.
	escalateEvery = 5
	// escalationSpacing is the minimum gap between escalation notifications
	// for the same incident.
	escalationSpacing = 5 * time.Minute
)

// Engine is the per-target incident state machine. Processing is serialized
// per target; different targets proceed concurrently. Notifications are
// dispatched asynchronously so a slow channel never blocks result handling.
type Engine struct {
	store    store.Store
	notifier notify.Notifier

	locks          *xsync.Map[int64, *sync.Mutex]
	lastEscalation *xsync.Map[int64, time.Time] // keyed by incident id

	notifyWG sync.WaitGroup

	// now is the clock, replaceable in tests.
	now func() time.Time
}

// New creates an Engine over the given store and notifier.
func New(s store.Store, n notify.Notifier) *Engine {
	return &Engine{
		store:          s,
		notifier:       n,
		locks:          xsync.NewMap[int64, *sync.Mutex](),
		lastEscalation: xsync.NewMap[int64, time.Time](),
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// Process consumes one probe outcome for targetID. The result row has
// already been recorded (or its write has already failed and been logged);
// the streak scan reads whatever history the store holds.
func (e *Engine) Process(ctx context.Context, targetID int64, ok bool) error {
	mu, _ := e.locks.LoadOrStore(targetID, &sync.Mutex{})
	mu.Lock()
	defer mu.Unlock()

	open, err := e.store.GetOpenIncident(ctx, targetID)
	if err != nil {
		return fmt.Errorf("incident: load open incident for target %d: %w", targetID, err)
	}

	if ok {
		if open == nil {
			return nil
		}
		return e.close(ctx, targetID, open)
	}

	if open != nil {
		return e.escalate(ctx, targetID, open)
	}
	return e.maybeOpen(ctx, targetID)
}

func (e *Engine) close(ctx context.Context, targetID int64, open *model.Incident) error {
	if err := e.store.CloseIncident(ctx, open.ID, e.now()); err != nil {
		return fmt.Errorf("incident: close %d for target %d: %w", open.ID, targetID, err)
	}
	e.lastEscalation.Delete(open.ID)
	e.dispatch(model.NewAlertEvent(&targetID, model.LevelInfo, "Incident closed", "Target is reachable again"))
	return nil
}

func (e *Engine) escalate(ctx context.Context, targetID int64, open *model.Incident) error {
	if err := e.store.IncrementFail(ctx, open.ID); err != nil {
		return fmt.Errorf("incident: increment fail for incident %d: %w", open.ID, err)
	}
	failCount := open.FailCount + 1
	if failCount%escalateEvery != 0 {
		return nil
	}
	if last, ok := e.lastEscalation.Load(open.ID); ok && e.now().Sub(last) < escalationSpacing {
		return nil
	}
	e.lastEscalation.Store(open.ID, e.now())
	e.dispatch(model.NewAlertEvent(&targetID, model.LevelError, "Incident escalation",
		fmt.Sprintf("Consecutive failures: %d", failCount)))
	return nil
}

func (e *Engine) maybeOpen(ctx context.Context, targetID int64) error {
	recent, err := e.store.LastNResults(ctx, targetID, historyWindow)
	if err != nil {
		return fmt.Errorf("incident: load history for target %d: %w", targetID, err)
	}
	streak := 0
	for _, r := range recent {
		if r.OK {
			break
		}
		streak++
	}
	if streak < openThreshold {
		return nil
	}
	if _, err := e.store.OpenIncident(ctx, targetID, e.now(), streak); err != nil {
		return fmt.Errorf("incident: open for target %d: %w", targetID, err)
	}
	e.dispatch(model.NewAlertEvent(&targetID, model.LevelError, "Incident opened",
		fmt.Sprintf("Target is down (%d consecutive failures)", streak)))
	return nil
}

// dispatch hands the event to the notifier on its own goroutine. The
// composite isolates channel failures; errors are logged there.
func (e *Engine) dispatch(event model.AlertEvent) {
	e.notifyWG.Add(1)
	go func() {
		defer e.notifyWG.Done()
		if err := e.notifier.Send(context.Background(), event); err != nil {
			log.Printf("[incident] notify failed for event %s: %v", event.ID, err)
		}
	}()
}

// Wait blocks until all in-flight notification goroutines have finished.
func (e *Engine) Wait() {
	e.notifyWG.Wait()
}
