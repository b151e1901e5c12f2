package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pingtower/pingtower/internal/buildinfo"
	"github.com/pingtower/pingtower/internal/checker"
	"github.com/pingtower/pingtower/internal/config"
	"github.com/pingtower/pingtower/internal/gate"
	"github.com/pingtower/pingtower/internal/incident"
	"github.com/pingtower/pingtower/internal/metrics"
	"github.com/pingtower/pingtower/internal/notify"
	"github.com/pingtower/pingtower/internal/scheduler"
	"github.com/pingtower/pingtower/internal/sink"
	"github.com/pingtower/pingtower/internal/store"
)

func main() {
	// 1. Load and validate environment config
	cfg, err := config.LoadEnvConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}

	log.Printf("pingtower starting: version=%s commit=%s built=%s",
		buildinfo.Version, buildinfo.GitCommit, buildinfo.BuildTime)

	// 2. Open the store and run migrations
	st, err := store.Open(cfg.DBPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: open store: %v\n", err)
		os.Exit(1)
	}

	cleaner := store.NewCleaner(st, cfg.TTLCleanupHours, cfg.TTLCleanupSchedule)
	cleaner.Start()

	// 3. Wire the probe path
	prober := checker.New(checker.Options{
		MaxConcurrent:  cfg.HTTPMaxConcurrent,
		ConnectTimeout: cfg.ConnectTimeout,
		UserAgent:      cfg.UserAgent,
		MaxAttempts:    cfg.RetryAttempts,
		BaseBackoff:    cfg.RetryBaseBackoff,
		Jitter:         cfg.RetryJitter,
		SSLVerify:      cfg.SSLVerify,
		CABundlePath:   cfg.CABundlePath,
		InsecureRetry:  cfg.SSLInsecureRetry,
	})
	gates := gate.NewRegistry(cfg.GlobalConcurrency, cfg.GlobalRPS, cfg.ServiceLimits)

	// 4. Notifications and incident engine
	notifier := notify.BuildFromEnv(cfg)
	engine := incident.New(st, notifier)

	// 5. Optional secondary analytics sink
	var forwarder *sink.Forwarder
	if cfg.SinkURL != "" {
		forwarder = sink.NewForwarder(sink.Config{
			Sink:          sink.NewHTTPSink(cfg.SinkURL),
			QueueSize:     cfg.SinkQueueSize,
			FlushBatch:    cfg.SinkFlushBatch,
			FlushInterval: cfg.SinkFlushInterval,
		})
		forwarder.Start()
		log.Printf("[sink] forwarding results to %s", cfg.SinkURL)
	}

	// 6. Metrics and the ops endpoint
	m := metrics.New()
	ops := metrics.NewServer(cfg.MetricsAddr, m)
	ops.Start()

	// 7. Scheduler
	sched := scheduler.New(scheduler.Options{
		TickSeconds:  cfg.TickSeconds,
		DrainTimeout: cfg.DrainTimeout,
		Store:        st,
		Prober:       prober,
		Gates:        gates,
		Processor:    engine,
		Metrics:      m,
		Cleaner:      cleaner,
		Forwarder:    forwarder,
	})
	sched.Start()

	// 8. Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Printf("Received signal %s, shutting down...", sig)

	sched.Stop()
	engine.Wait()
	if forwarder != nil {
		forwarder.Stop()
	}
	cleaner.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := ops.Shutdown(ctx); err != nil {
		log.Printf("[ops] shutdown error: %v", err)
	}
	if err := st.Close(); err != nil {
		log.Printf("[store] close error: %v", err)
	}
	log.Println("pingtower stopped")
}
