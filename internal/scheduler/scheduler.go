// Package scheduler runs the periodic control loop: it decides when each
// target is due, merges the manual priority queue, smooths dispatch against
// the configured rate caps, and feeds probe results to the store, the
// metrics, the secondary sink, and the incident engine.
package scheduler

import (
	"context"
	"log"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
	"golang.org/x/sync/errgroup"

	"github.com/pingtower/pingtower/internal/checker"
	"github.com/pingtower/pingtower/internal/gate"
	"github.com/pingtower/pingtower/internal/metrics"
	"github.com/pingtower/pingtower/internal/model"
	"github.com/pingtower/pingtower/internal/sink"
	"github.com/pingtower/pingtower/internal/store"
	"github.com/pingtower/pingtower/internal/tickloop"
)

// Prober executes one probe. Implemented by *checker.Checker; injectable
// for testing.
type Prober interface {
	Probe(ctx context.Context, url string, timeoutS int) (checker.Result, error)
}

// ResultProcessor consumes one probe outcome per target. Implemented by
// *incident.Engine.
type ResultProcessor interface {
	Process(ctx context.Context, targetID int64, ok bool) error
}

// Options configures a Scheduler.
type Options struct {
	TickSeconds  int
	DrainTimeout time.Duration

	Store     store.Store
	Prober    Prober
	Gates     *gate.Registry
	Processor ResultProcessor
	Metrics   *metrics.Metrics

	Cleaner   *store.Cleaner  // optional
	Forwarder *sink.Forwarder // optional

	ManualQueueSize int
}

// Scheduler owns the next-due map and the manual queue. The map is touched
// only by the loop goroutine; external code interacts through EnqueueManual
// and Stop.
type Scheduler struct {
	opts Options
	tick time.Duration

	nextDue  map[int64]time.Time
	manual   chan int64
	inFlight *xsync.Map[int64, struct{}]

	loopCtx    context.Context
	loopCancel context.CancelFunc
	probeCtx   context.Context
	probeStop  context.CancelFunc
	wg         sync.WaitGroup

	// test hooks
	now    func() time.Time
	jitter func(intervalS int) time.Duration
	sleep  func(ctx context.Context, d time.Duration) error
}

const defaultManualQueueSize = 1024

// New creates a Scheduler. Store, Prober, Gates, Processor, and Metrics are
// required; Cleaner and Forwarder may be nil.
func New(opts Options) *Scheduler {
	if opts.TickSeconds < 1 {
		opts.TickSeconds = 10
	}
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = 5 * time.Second
	}
	if opts.ManualQueueSize <= 0 {
		opts.ManualQueueSize = defaultManualQueueSize
	}

	loopCtx, loopCancel := context.WithCancel(context.Background())
	probeCtx, probeStop := context.WithCancel(context.Background())
	return &Scheduler{
		opts:       opts,
		tick:       time.Duration(opts.TickSeconds) * time.Second,
		nextDue:    make(map[int64]time.Time),
		manual:     make(chan int64, opts.ManualQueueSize),
		inFlight:   xsync.NewMap[int64, struct{}](),
		loopCtx:    loopCtx,
		loopCancel: loopCancel,
		probeCtx:   probeCtx,
		probeStop:  probeStop,
		now:        func() time.Time { return time.Now().UTC() },
		jitter:     defaultJitter,
		sleep:      sleepCtx,
	}
}

// defaultJitter returns uniform(0, min(30, interval*0.1)) seconds. It
// prevents synchronized probe storms when many targets share an interval.
func defaultJitter(intervalS int) time.Duration {
	maxJitter := intervalS / 10
	if maxJitter < 1 {
		maxJitter = 1
	}
	if maxJitter > 30 {
		maxJitter = 30
	}
	return time.Duration(rand.IntN(maxJitter+1)) * time.Second
}

// Start launches the control loop.
func (s *Scheduler) Start() {
	log.Printf("[scheduler] started: tick=%s", s.tick)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		tickloop.Run(s.loopCtx, s.tick, s.runTick)
	}()
}

// Stop halts the loop, waits up to the drain deadline for in-flight probes,
// then cancels the remainder. Cancelled probes surface no result.
func (s *Scheduler) Stop() {
	s.loopCancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(s.opts.DrainTimeout):
		log.Printf("[scheduler] drain deadline %s exceeded, cancelling in-flight probes", s.opts.DrainTimeout)
		s.probeStop()
		<-done
	}
	s.probeStop()
	log.Println("[scheduler] stopped")
}

// EnqueueManual queues a target for an immediate probe on the next tick.
// Manual probes bypass the next-due check but still pass the gates; the
// target's schedule is not advanced. Duplicate enqueues are allowed.
func (s *Scheduler) EnqueueManual(targetID int64) {
	select {
	case s.manual <- targetID:
		s.opts.Metrics.SetManualQueueSize(len(s.manual))
	default:
		log.Printf("[scheduler] manual queue full, dropping target %d", targetID)
	}
}

func (s *Scheduler) runTick() {
	// Manual probes run first and fully, ahead of any scheduled dispatch.
	s.drainManual()

	// TTL cleanup, best-effort, on roughly every tenth tick.
	if s.opts.Cleaner != nil && rand.IntN(10) == 0 {
		s.opts.Cleaner.RunOnce(s.probeCtx)
	}

	targets, err := s.opts.Store.ListTargets(s.probeCtx)
	if err != nil {
		log.Printf("[scheduler] list targets failed, skipping tick: %v", err)
		return
	}
	if len(targets) == 0 {
		return
	}

	now := s.now()

	// Seed next-due for targets new to this process and lazily drop entries
	// for targets that disappeared.
	seen := make(map[int64]struct{}, len(targets))
	for _, t := range targets {
		seen[t.ID] = struct{}{}
		if _, ok := s.nextDue[t.ID]; !ok {
			s.nextDue[t.ID] = now.Add(s.jitter(t.IntervalS))
		}
	}
	for id := range s.nextDue {
		if _, ok := seen[id]; !ok {
			delete(s.nextDue, id)
		}
	}

	var dues []model.Target
	for _, t := range targets {
		if !s.nextDue[t.ID].After(now) {
			dues = append(dues, t)
		}
	}
	if len(dues) == 0 {
		return
	}

	for _, t := range dues {
		interval := t.IntervalS
		if interval < 1 {
			interval = 1
		}
		s.nextDue[t.ID] = now.Add(time.Duration(interval)*time.Second + s.jitter(t.IntervalS))
	}

	var g errgroup.Group
	for i, t := range dues {
		sem, perRPS := s.opts.Gates.ForURL(t.URL)
		delay := s.opts.Gates.Delay(i, perRPS)
		id := t.ID
		g.Go(func() error {
			if err := s.sleep(s.probeCtx, delay); err != nil {
				return nil // shutting down
			}
			return s.probeTarget(s.probeCtx, id, sem)
		})
	}
	if err := g.Wait(); err != nil {
		log.Printf("[scheduler] tick dispatch: %v", err)
	}
}

// drainManual pops every queued manual request and probes them through the
// gates. All manual probes complete before the caller proceeds.
func (s *Scheduler) drainManual() {
	var ids []int64
	for {
		select {
		case id := <-s.manual:
			ids = append(ids, id)
		default:
			s.opts.Metrics.SetManualQueueSize(len(s.manual))
			if len(ids) == 0 {
				return
			}
			var g errgroup.Group
			for _, id := range ids {
				id := id
				g.Go(func() error {
					target, err := s.opts.Store.GetTarget(s.probeCtx, id)
					if err != nil || target == nil {
						return err
					}
					sem, _ := s.opts.Gates.ForURL(target.URL)
					return s.probeTarget(s.probeCtx, id, sem)
				})
			}
			if err := g.Wait(); err != nil {
				log.Printf("[scheduler] manual dispatch: %v", err)
			}
			return
		}
	}
}

// probeTarget runs one probe under the given admission semaphore and fans
// the result out. Errors are contained here: a failing probe or store never
// terminates the tick.
func (s *Scheduler) probeTarget(ctx context.Context, targetID int64, sem Acquirer) error {
	// Two probes for the same target never run concurrently.
	if _, loaded := s.inFlight.LoadOrStore(targetID, struct{}{}); loaded {
		return nil
	}
	defer s.inFlight.Delete(targetID)

	if err := sem.Acquire(ctx, 1); err != nil {
		return nil // cancelled while waiting for a permit
	}
	defer sem.Release(1)

	target, err := s.opts.Store.GetTarget(ctx, targetID)
	if err != nil {
		log.Printf("[scheduler] get target %d: %v", targetID, err)
		return nil
	}
	if target == nil {
		return nil // deleted since selection
	}

	res, err := s.opts.Prober.Probe(ctx, target.URL, target.TimeoutS)
	if err != nil {
		return nil // cancelled mid-probe: no result is recorded
	}

	record := model.CheckResult{
		TargetID:   target.ID,
		TS:         s.now(),
		OK:         res.OK,
		StatusCode: res.StatusCode,
		LatencyMs:  res.LatencyMs,
		ErrorText:  res.ErrorText,
		DNSMs:      res.DNSMs,
		ConnectMs:  res.ConnectMs,
		TLSMs:      res.TLSMs,
		TTFBMs:     res.TTFBMs,
	}

	// A dropped write underreports failures; that is accepted degradation,
	// surfaced in logs, and must not stop incident processing.
	if err := s.opts.Store.InsertResult(ctx, record); err != nil {
		log.Printf("[scheduler] store result for target %d: %v", target.ID, err)
	}
	if s.opts.Forwarder != nil {
		s.opts.Forwarder.Emit(record)
	}
	s.opts.Metrics.RecordCheck(target.ID, res.OK, res.StatusCode, res.LatencyMs)

	if err := s.opts.Processor.Process(ctx, target.ID, res.OK); err != nil {
		log.Printf("[scheduler] incident processing for target %d: %v", target.ID, err)
	}
	return nil
}

// Acquirer is the semaphore surface the scheduler needs.
type Acquirer interface {
	Acquire(ctx context.Context, n int64) error
	Release(n int64)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
