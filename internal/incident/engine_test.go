package incident

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pingtower/pingtower/internal/model"
)

type fakeStore struct {
	mu      sync.Mutex
	open    *model.Incident
	history []model.CheckResult

	openedFailCounts []int
	closed           []int64
	incremented      []int64
}

func (f *fakeStore) GetOpenIncident(context.Context, int64) (*model.Incident, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.open == nil {
		return nil, nil
	}
	inc := *f.open
	return &inc, nil
}

func (f *fakeStore) OpenIncident(_ context.Context, targetID int64, openedAt time.Time, failCount int) (*model.Incident, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.openedFailCounts = append(f.openedFailCounts, failCount)
	f.open = &model.Incident{ID: 1, TargetID: targetID, OpenedAt: openedAt, FailCount: failCount, IsOpen: true}
	return f.open, nil
}

func (f *fakeStore) CloseIncident(_ context.Context, id int64, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = append(f.closed, id)
	f.open = nil
	return nil
}

func (f *fakeStore) IncrementFail(_ context.Context, incidentID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.incremented = append(f.incremented, incidentID)
	if f.open != nil && f.open.ID == incidentID {
		f.open.FailCount++
	}
	return nil
}

func (f *fakeStore) LastNResults(_ context.Context, _ int64, n int) ([]model.CheckResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.history) > n {
		return f.history[:n], nil
	}
	return f.history, nil
}

func (f *fakeStore) ListTargets(context.Context) ([]model.Target, error)     { return nil, nil }
func (f *fakeStore) GetTarget(context.Context, int64) (*model.Target, error) { return nil, nil }
func (f *fakeStore) InsertResult(context.Context, model.CheckResult) error   { return nil }
func (f *fakeStore) TTLCleanup(context.Context, time.Time) (int64, error)    { return 0, nil }

type fakeNotifier struct {
	mu     sync.Mutex
	events []model.AlertEvent
}

func (f *fakeNotifier) Send(_ context.Context, event model.AlertEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

func (f *fakeNotifier) titles() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.events))
	for i, e := range f.events {
		out[i] = e.Title
	}
	return out
}

func fails(n int) []model.CheckResult {
	out := make([]model.CheckResult, n)
	for i := range out {
		out[i] = model.CheckResult{OK: false}
	}
	return out
}

func newTestEngine(st *fakeStore, n *fakeNotifier) *Engine {
	return New(st, n)
}

func TestOpensAfterStreak(t *testing.T) {
	st := &fakeStore{history: fails(3)}
	nt := &fakeNotifier{}
	e := newTestEngine(st, nt)

	if err := e.Process(context.Background(), 7, false); err != nil {
		t.Fatalf("process: %v", err)
	}
	e.Wait()

	if len(st.openedFailCounts) != 1 || st.openedFailCounts[0] != 3 {
		t.Fatalf("expected one open with fail count 3, got %v", st.openedFailCounts)
	}
	titles := nt.titles()
	if len(titles) != 1 || titles[0] != "Incident opened" {
		t.Fatalf("expected open notification, got %v", titles)
	}
	if nt.events[0].Level != model.LevelError {
		t.Fatalf("expected error level, got %s", nt.events[0].Level)
	}
	if nt.events[0].TargetID == nil || *nt.events[0].TargetID != 7 {
		t.Fatalf("expected target id 7, got %v", nt.events[0].TargetID)
	}
}

func TestNoOpenBelowThreshold(t *testing.T) {
	st := &fakeStore{history: append(fails(2), model.CheckResult{OK: true})}
	nt := &fakeNotifier{}
	e := newTestEngine(st, nt)

	if err := e.Process(context.Background(), 7, false); err != nil {
		t.Fatalf("process: %v", err)
	}
	e.Wait()

	if len(st.openedFailCounts) != 0 {
		t.Fatalf("expected no incident, got opens %v", st.openedFailCounts)
	}
	if titles := nt.titles(); len(titles) != 0 {
		t.Fatalf("expected no notifications, got %v", titles)
	}
}

func TestStreakInterruptedBySuccess(t *testing.T) {
	// Newest first: fail, ok, fail, fail. The leading streak is 1.
	history := []model.CheckResult{{OK: false}, {OK: true}, {OK: false}, {OK: false}}
	st := &fakeStore{history: history}
	nt := &fakeNotifier{}
	e := newTestEngine(st, nt)

	if err := e.Process(context.Background(), 7, false); err != nil {
		t.Fatalf("process: %v", err)
	}
	e.Wait()

	if len(st.openedFailCounts) != 0 {
		t.Fatal("interrupted streak must not open an incident")
	}
}

func TestSuccessWithoutIncidentIsNoop(t *testing.T) {
	st := &fakeStore{}
	nt := &fakeNotifier{}
	e := newTestEngine(st, nt)

	if err := e.Process(context.Background(), 7, true); err != nil {
		t.Fatalf("process: %v", err)
	}
	e.Wait()

	if len(st.closed) != 0 || len(nt.titles()) != 0 {
		t.Fatal("expected a pure no-op")
	}
}

func TestCloseOnSuccess(t *testing.T) {
	st := &fakeStore{open: &model.Incident{ID: 42, TargetID: 7, FailCount: 6, IsOpen: true}}
	nt := &fakeNotifier{}
	e := newTestEngine(st, nt)

	if err := e.Process(context.Background(), 7, true); err != nil {
		t.Fatalf("process: %v", err)
	}
	e.Wait()

	if len(st.closed) != 1 || st.closed[0] != 42 {
		t.Fatalf("expected incident 42 closed, got %v", st.closed)
	}
	titles := nt.titles()
	if len(titles) != 1 || titles[0] != "Incident closed" {
		t.Fatalf("expected close notification, got %v", titles)
	}
	if nt.events[0].Level != model.LevelInfo {
		t.Fatalf("expected info level, got %s", nt.events[0].Level)
	}
}

func TestEscalationAtMultipleOfFive(t *testing.T) {
	st := &fakeStore{open: &model.Incident{ID: 42, TargetID: 7, FailCount: 4, IsOpen: true}}
	nt := &fakeNotifier{}
	e := newTestEngine(st, nt)

	if err := e.Process(context.Background(), 7, false); err != nil {
		t.Fatalf("process: %v", err)
	}
	e.Wait()

	if len(st.incremented) != 1 {
		t.Fatalf("expected one increment, got %v", st.incremented)
	}
	titles := nt.titles()
	if len(titles) != 1 || titles[0] != "Incident escalation" {
		t.Fatalf("expected escalation notification, got %v", titles)
	}
	if nt.events[0].Message != "Consecutive failures: 5" {
		t.Fatalf("unexpected message %q", nt.events[0].Message)
	}
}

func TestNoEscalationOffMultiple(t *testing.T) {
	st := &fakeStore{open: &model.Incident{ID: 42, TargetID: 7, FailCount: 2, IsOpen: true}}
	nt := &fakeNotifier{}
	e := newTestEngine(st, nt)

	if err := e.Process(context.Background(), 7, false); err != nil {
		t.Fatalf("process: %v", err)
	}
	e.Wait()

	if len(st.incremented) != 1 {
		t.Fatalf("expected the fail count to advance, got %v", st.incremented)
	}
	if titles := nt.titles(); len(titles) != 0 {
		t.Fatalf("expected no notification at fail count 3, got %v", titles)
	}
}

func TestEscalationSpacing(t *testing.T) {
	st := &fakeStore{open: &model.Incident{ID: 42, TargetID: 7, FailCount: 4, IsOpen: true}}
	nt := &fakeNotifier{}
	e := newTestEngine(st, nt)

	clock := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return clock }

	// 4 -> 5: first escalation fires.
	if err := e.Process(context.Background(), 7, false); err != nil {
		t.Fatalf("process: %v", err)
	}
	// 5 -> 10 within the spacing window: suppressed.
	st.mu.Lock()
	st.open.FailCount = 9
	st.mu.Unlock()
	clock = clock.Add(time.Minute)
	if err := e.Process(context.Background(), 7, false); err != nil {
		t.Fatalf("process: %v", err)
	}
	// 10 -> 15 after the window: fires again.
	st.mu.Lock()
	st.open.FailCount = 14
	st.mu.Unlock()
	clock = clock.Add(6 * time.Minute)
	if err := e.Process(context.Background(), 7, false); err != nil {
		t.Fatalf("process: %v", err)
	}
	e.Wait()

	titles := nt.titles()
	if len(titles) != 2 {
		t.Fatalf("expected 2 escalations, got %v", titles)
	}
}

func TestCloseResetsEscalationSpacing(t *testing.T) {
	st := &fakeStore{open: &model.Incident{ID: 42, TargetID: 7, FailCount: 4, IsOpen: true}}
	nt := &fakeNotifier{}
	e := newTestEngine(st, nt)

	clock := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return clock }

	if err := e.Process(context.Background(), 7, false); err != nil {
		t.Fatalf("process: %v", err)
	}
	if err := e.Process(context.Background(), 7, true); err != nil {
		t.Fatalf("process close: %v", err)
	}

	// A fresh incident escalates immediately even inside the old window.
	st.mu.Lock()
	st.open = &model.Incident{ID: 43, TargetID: 7, FailCount: 4, IsOpen: true}
	st.mu.Unlock()
	clock = clock.Add(time.Minute)
	if err := e.Process(context.Background(), 7, false); err != nil {
		t.Fatalf("process: %v", err)
	}
	e.Wait()

	titles := nt.titles()
	want := map[string]int{"Incident escalation": 2, "Incident closed": 1}
	got := map[string]int{}
	for _, title := range titles {
		got[title]++
	}
	for title, n := range want {
		if got[title] != n {
			t.Fatalf("expected %d %q events, got %v", n, title, titles)
		}
	}
}
