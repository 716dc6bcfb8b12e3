// Package main — cmd/dawncore/main.go
//
// DAWN cognitive runtime entrypoint.
//
// Startup sequence:
//  1. Load and validate config from /etc/dawncore/config.yaml.
//  2. Initialise structured logger (zap).
//  3. Open bbolt memory storage, start per-session JSONL checkpoint writer.
//  4. Construct the cognitive subsystems (pulse, entropy, sigil, memory
//     router, meta-reflex, bloom arena) and wire them into a Runtime.
//  5. Start the Prometheus metrics server.
//  6. Start the ingest queue and the real-OS-signal sampler (if enabled).
//  7. Start the tick scheduler and, if enabled, the periodic export_state()
//     snapshot loop.
//  8. Register SIGHUP handler for config hot-reload.
//  9. Block on SIGINT/SIGTERM for graceful shutdown.
//
// Shutdown sequence (on SIGINT/SIGTERM):
//  1. Cancel root context (propagates to scheduler, sampler, ingest drain).
//  2. Stop the scheduler.
//  3. Flush the session writer and close the bbolt store.
//  4. Flush the logger.
//  5. Exit 0.
//
// On config validation failure: exit 1 immediately.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/jso122-2/dawncore/internal/bloom"
	"github.com/jso122-2/dawncore/internal/config"
	"github.com/jso122-2/dawncore/internal/entropy"
	"github.com/jso122-2/dawncore/internal/eventbus"
	"github.com/jso122-2/dawncore/internal/ingest"
	"github.com/jso122-2/dawncore/internal/memory"
	"github.com/jso122-2/dawncore/internal/metareflex"
	"github.com/jso122-2/dawncore/internal/observability"
	"github.com/jso122-2/dawncore/internal/pulse"
	"github.com/jso122-2/dawncore/internal/runtime"
	"github.com/jso122-2/dawncore/internal/scheduler"
	"github.com/jso122-2/dawncore/internal/sigil"
	"github.com/jso122-2/dawncore/internal/signals"
)

func main() {
	// ── Flags ────────────────────────────────────────────────────────────
	configPath := flag.String("config", "/etc/dawncore/config.yaml", "Path to config.yaml")
	version := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *version {
		fmt.Printf("dawncore %s (commit=%s built=%s)\n",
			config.Version, config.GitCommit, config.BuildTime)
		os.Exit(0)
	}

	// ── Step 1: Load config ─────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: config load failed: %v\n", err)
		os.Exit(1)
	}

	// ── Step 2: Initialise logger ───────────────────────────────────────
	log, err := observability.BuildLogger(cfg.Observability.LogLevel, cfg.Observability.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync() //nolint:errcheck

	log.Info("DAWN starting",
		zap.String("version", config.Version),
		zap.String("commit", config.GitCommit),
		zap.String("built", config.BuildTime),
		zap.String("node_id", cfg.NodeID),
		zap.String("config", *configPath),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── Step 3: Open bbolt storage + session writer ─────────────────────
	store, err := memory.Open(cfg.Memory.DBPath)
	if err != nil {
		log.Fatal("memory store open failed", zap.Error(err),
			zap.String("path", cfg.Memory.DBPath))
	}
	defer store.Close() //nolint:errcheck
	log.Info("memory store opened", zap.String("path", cfg.Memory.DBPath))

	if err := os.MkdirAll(cfg.Memory.SessionLogDir, 0o755); err != nil {
		log.Fatal("session log dir creation failed", zap.Error(err),
			zap.String("dir", cfg.Memory.SessionLogDir))
	}
	sessionWriter := memory.NewSessionWriter(cfg.Memory.SessionLogDir, sessionID(cfg.NodeID))
	go sessionWriter.Run()
	defer sessionWriter.Close() //nolint:errcheck

	// ── Step 4: Construct cognitive subsystems ──────────────────────────
	bus := eventbus.New(256)
	metrics := observability.NewMetrics()
	rt := runtime.New(cfg.NodeID, log, bus, metrics)

	pulseCtl := pulse.NewController(0, bus)
	entropyA := entropy.NewAnalyzer(cfg.Entropy.RingCapacity, bus)
	sigilE := sigil.NewEngine(nil, bus)
	memoryR := memory.NewRouter(store, nil, bus)
	reflex := metareflex.New(bus)
	bloomA := bloom.NewArena()

	sched := scheduler.New(cfg, pulseCtl, entropyA, sigilE, memoryR, reflex, bloomA, rt)

	// ── Step 5: Prometheus metrics ───────────────────────────────────────
	go func() {
		if err := metrics.ServeMetrics(ctx, cfg.Observability.MetricsAddr); err != nil {
			log.Error("metrics server error", zap.Error(err))
		}
	}()
	log.Info("metrics server started", zap.String("addr", cfg.Observability.MetricsAddr))

	// ── Step 6: Ingest queue + real-signal sampler ──────────────────────
	rateBucket := ingest.NewBucket(cfg.Ingest.RateLimitCapacity, cfg.Ingest.RateLimitRefill)
	defer rateBucket.Close()
	ingestQ := ingest.NewQueue(cfg.Ingest.QueueCapacity, rateBucket, metrics, rt.Sub("ingest"))
	go drainIngest(ctx, ingestQ, sched, rt.Sub("ingest"))

	if cfg.Signals.Enabled {
		sampler := signals.NewSampler(cfg.Signals.SampleInterval, &heatSink{queue: ingestQ, sched: sched}, rt.Sub("signals"))
		go sampler.Run(ctx)
		log.Info("OS signal sampler started", zap.Duration("interval", cfg.Signals.SampleInterval))
	} else {
		log.Info("OS signal sampler disabled")
	}

	// ── Step 7: Tick scheduler ───────────────────────────────────────────
	go sched.Start(ctx, 0)
	log.Info("tick scheduler started")

	if cfg.Memory.SnapshotInterval > 0 {
		if err := os.MkdirAll(cfg.Memory.SnapshotDir, 0o755); err != nil {
			log.Error("snapshot dir creation failed", zap.Error(err),
				zap.String("dir", cfg.Memory.SnapshotDir))
		} else {
			go runSnapshotLoop(ctx, sched, cfg.Memory.SnapshotDir, cfg.Memory.SnapshotInterval, rt.Sub("snapshot"))
		}
	}

	// ── Step 8: SIGHUP hot-reload ────────────────────────────────────────
	sighup := make(chan os.Signal, 1)
	signal.Notify(sighup, syscall.SIGHUP)
	go func() {
		for range sighup {
			log.Info("SIGHUP received — reloading config...")
			newCfg, err := config.Load(*configPath)
			if err != nil {
				log.Error("config hot-reload failed — retaining old config", zap.Error(err))
				continue
			}
			log.Info("config hot-reload successful",
				zap.Float64("new_low_scup_threshold", newCfg.MetaReflex.LowScupThreshold),
				zap.Float64("new_high_entropy_threshold", newCfg.MetaReflex.HighEntropyThreshold),
			)
			// The reloaded config is only logged. DB path, metrics address
			// and session log dir are fixed at startup, and thresholds,
			// weights and log level live as read-only values inside the
			// already-constructed subsystems, so no field takes effect
			// until restart.
		}
	}()

	// ── Step 9: Wait for shutdown signal ─────────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info("shutdown signal received", zap.String("signal", sig.String()))

	cancel()
	sched.Stop()

	shutdownTimer := time.NewTimer(5 * time.Second)
	defer shutdownTimer.Stop()
	<-shutdownTimer.C

	log.Info("DAWN shutdown complete")
}

// heatSink adapts signals.Sink to both the ingest queue (for audit/
// replay visibility) and the scheduler's direct heat-input path.
type heatSink struct {
	queue *ingest.Queue
	sched *scheduler.Scheduler
}

func (h *heatSink) Observe(sample signals.Sample) {
	h.queue.IngestEvent(ingest.KindExternalSignal, sample)
	h.sched.FeedHeatInput(sample.CombinedScalar)
}

// drainIngest consumes queued events. User-input events carry arbitrary
// payloads destined for the memory router via a future consumer-facing
// entrypoint; for now every drained event is logged at debug level so the
// queue never silently backs up.
func drainIngest(ctx context.Context, q *ingest.Queue, sched *scheduler.Scheduler, log *zap.Logger) {
	for evt := range q.Drain(ctx) {
		log.Debug("ingest event drained", zap.String("kind", string(evt.Kind)))
		_ = sched
	}
}

func sessionID(nodeID string) string {
	return fmt.Sprintf("%s-%d", nodeID, time.Now().UnixNano())
}

// runSnapshotLoop calls export_state() on a fixed interval, writing each
// bundle to dir under the spec.md §6 filename convention. A failed snapshot
// is logged and skipped; it never stops the loop or the tick scheduler.
func runSnapshotLoop(ctx context.Context, sched *scheduler.Scheduler, dir string, interval time.Duration, log *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if err := writeSnapshot(sched, dir, now); err != nil {
				log.Error("snapshot export failed", zap.Error(err))
				continue
			}
			log.Info("snapshot written", zap.String("dir", dir))
		}
	}
}

func writeSnapshot(sched *scheduler.Scheduler, dir string, now time.Time) error {
	path := fmt.Sprintf("%s/%s", dir, scheduler.SnapshotFilename(now))
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create snapshot file: %w", err)
	}
	defer f.Close()
	return sched.ExportState(f, now)
}
