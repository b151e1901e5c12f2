// Package sink forwards check results to an optional secondary analytics
// store. Results are queued without blocking the probe path and flushed in
// batches; the durable store remains the system of record.
package sink

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/pingtower/pingtower/internal/model"
)

// Sink receives batches of check results. Implementations own their
// transport budgets.
type Sink interface {
	WriteBatch(ctx context.Context, batch []model.CheckResult) error
}

// Forwarder provides an async result writer. Emit performs a non-blocking
// channel send and drops on overflow; a background goroutine flushes batches
// to the Sink on size or interval.
type Forwarder struct {
	sink      Sink
	queue     chan model.CheckResult
	batchSize int
	interval  time.Duration

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// Config configures a Forwarder.
type Config struct {
	Sink          Sink
	QueueSize     int
	FlushBatch    int
	FlushInterval time.Duration
}

// NewForwarder creates a Forwarder. Zero config values fall back to defaults.
func NewForwarder(cfg Config) *Forwarder {
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 4096
	}
	batchSize := cfg.FlushBatch
	if batchSize <= 0 {
		batchSize = 256
	}
	interval := cfg.FlushInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Forwarder{
		sink:      cfg.Sink,
		queue:     make(chan model.CheckResult, queueSize),
		batchSize: batchSize,
		interval:  interval,
		stopCh:    make(chan struct{}),
	}
}

// Start launches the background flush goroutine.
func (f *Forwarder) Start() {
	f.wg.Add(1)
	go f.flushLoop()
}

// Stop signals the flush loop to stop, drains remaining entries, and returns.
func (f *Forwarder) Stop() {
	close(f.stopCh)
	f.wg.Wait()
}

// Emit enqueues a result. Non-blocking; overflow is logged and dropped.
// Losing analytics rows must never stall the probe path.
func (f *Forwarder) Emit(res model.CheckResult) {
	select {
	case f.queue <- res:
	default:
		log.Printf("[sink] queue full, dropping result for target %d", res.TargetID)
	}
}

func (f *Forwarder) flushLoop() {
	defer f.wg.Done()

	batch := make([]model.CheckResult, 0, f.batchSize)
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case res := <-f.queue:
			batch = append(batch, res)
			if len(batch) >= f.batchSize {
				f.flush(batch)
				batch = batch[:0]
			}

		case <-ticker.C:
			if len(batch) > 0 {
				f.flush(batch)
				batch = batch[:0]
			}

		case <-f.stopCh:
			f.drainAndFlush(batch)
			return
		}
	}
}

func (f *Forwarder) drainAndFlush(batch []model.CheckResult) {
	for {
		select {
		case res := <-f.queue:
			batch = append(batch, res)
			if len(batch) >= f.batchSize {
				f.flush(batch)
				batch = batch[:0]
			}
		default:
			if len(batch) > 0 {
				f.flush(batch)
			}
			return
		}
	}
}

func (f *Forwarder) flush(batch []model.CheckResult) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := f.sink.WriteBatch(ctx, batch); err != nil {
		log.Printf("[sink] flush %d results failed: %v", len(batch), err)
	}
}
