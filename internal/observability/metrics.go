// Package observability — metrics.go
//
// Prometheus metrics for the DAWN cognitive runtime.
//
// Endpoint: GET /metrics on 127.0.0.1:9090 (configurable), plus GET /healthz.
// Format: Prometheus text exposition format (OpenMetrics compatible).
// Bind: loopback by default — no external exposure unless configured.
//
// Metric naming convention: dawncore_<subsystem>_<name>_<unit>
//
// All metrics are registered on a dedicated prometheus.Registry (not the
// default global registry) to avoid collisions with other instrumented
// libraries in the same process.
package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metric descriptors for the DAWN runtime.
type Metrics struct {
	registry *prometheus.Registry

	// ─── Tick scheduler ───────────────────────────────────────────────────

	TickDuration      prometheus.Histogram
	TicksTotal        prometheus.Counter
	TickFailuresTotal *prometheus.CounterVec
	TickIntervalSecs  prometheus.Gauge
	EmergencyResets   prometheus.Counter

	// ─── Pulse controller ─────────────────────────────────────────────────

	Heat            prometheus.Gauge
	ZoneTransitions *prometheus.CounterVec
	GraceActive     prometheus.Gauge

	// ─── Entropy analyzer ─────────────────────────────────────────────────

	ChaosScore       prometheus.Gauge
	EntropySamples   prometheus.Counter
	AnomaliesTotal   prometheus.Counter
	HotBloomsGauge   prometheus.Gauge

	// ─── Sigil engine ─────────────────────────────────────────────────────

	SigilsLive        prometheus.Gauge
	SigilsExecuted    *prometheus.CounterVec
	SigilsExpired     prometheus.Counter
	SigilsRegistered  *prometheus.CounterVec

	// ─── Memory router ────────────────────────────────────────────────────

	MemoryPoolSize      *prometheus.GaugeVec
	MemoryWriteLatency  prometheus.Histogram
	MemoryEvictionsTotal *prometheus.CounterVec
	MemoryRetrievalsTotal prometheus.Counter

	// ─── Meta-reflex ──────────────────────────────────────────────────────

	InterventionsTotal *prometheus.CounterVec

	// ─── Ingest ───────────────────────────────────────────────────────────

	IngestEventsTotal   *prometheus.CounterVec
	IngestDroppedTotal  *prometheus.CounterVec
	IngestQueueDepth    prometheus.Gauge

	// ─── Runtime ──────────────────────────────────────────────────────────

	UptimeSeconds prometheus.Gauge
	startTime     time.Time
}

// NewMetrics creates and registers all DAWN Prometheus metrics.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry:  reg,
		startTime: time.Now(),

		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "dawncore",
			Subsystem: "scheduler",
			Name:      "tick_duration_seconds",
			Help:      "Wall-clock duration of a single tick cycle.",
			Buckets:   prometheus.DefBuckets,
		}),
		TicksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dawncore",
			Subsystem: "scheduler",
			Name:      "ticks_total",
			Help:      "Total completed tick cycles.",
		}),
		TickFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dawncore",
			Subsystem: "scheduler",
			Name:      "tick_failures_total",
			Help:      "Total tick cycle failures, by error kind.",
		}, []string{"kind"}),
		TickIntervalSecs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "dawncore",
			Subsystem: "scheduler",
			Name:      "tick_interval_seconds",
			Help:      "Current adaptive tick interval in seconds.",
		}),
		EmergencyResets: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dawncore",
			Subsystem: "scheduler",
			Name:      "emergency_resets_total",
			Help:      "Total EMERGENCY_RESET escalations.",
		}),

		Heat: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "dawncore",
			Subsystem: "pulse",
			Name:      "heat",
			Help:      "Current cognitive load scalar in [0,100].",
		}),
		ZoneTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dawncore",
			Subsystem: "pulse",
			Name:      "zone_transitions_total",
			Help:      "Total zone transitions, by from_zone and to_zone.",
		}, []string{"from_zone", "to_zone"}),
		GraceActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "dawncore",
			Subsystem: "pulse",
			Name:      "grace_active",
			Help:      "1 if a grace period is currently active, else 0.",
		}),

		ChaosScore: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "dawncore",
			Subsystem: "entropy",
			Name:      "chaos_score_max",
			Help:      "Highest chaos score across all tracked blooms this tick.",
		}),
		EntropySamples: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dawncore",
			Subsystem: "entropy",
			Name:      "samples_total",
			Help:      "Total entropy samples ingested across all blooms.",
		}),
		AnomaliesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dawncore",
			Subsystem: "entropy",
			Name:      "anomalies_total",
			Help:      "Total entropy z-score anomalies detected.",
		}),
		HotBloomsGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "dawncore",
			Subsystem: "entropy",
			Name:      "hot_blooms",
			Help:      "Current count of blooms above the hot-bloom threshold.",
		}),

		SigilsLive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "dawncore",
			Subsystem: "sigil",
			Name:      "live",
			Help:      "Current number of live sigils.",
		}),
		SigilsExecuted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dawncore",
			Subsystem: "sigil",
			Name:      "executed_total",
			Help:      "Total sigil executions, by house.",
		}, []string{"house"}),
		SigilsExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dawncore",
			Subsystem: "sigil",
			Name:      "expired_total",
			Help:      "Total sigils removed by decay or age.",
		}),
		SigilsRegistered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dawncore",
			Subsystem: "sigil",
			Name:      "registered_total",
			Help:      "Total sigils registered, by name.",
		}, []string{"name"}),

		MemoryPoolSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "dawncore",
			Subsystem: "memory",
			Name:      "pool_size",
			Help:      "Current chunk count per pool.",
		}, []string{"pool"}),
		MemoryWriteLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "dawncore",
			Subsystem: "memory",
			Name:      "write_latency_seconds",
			Help:      "bbolt write transaction latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		}),
		MemoryEvictionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dawncore",
			Subsystem: "memory",
			Name:      "evictions_total",
			Help:      "Total chunk evictions, by pool.",
		}, []string{"pool"}),
		MemoryRetrievalsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dawncore",
			Subsystem: "memory",
			Name:      "retrievals_total",
			Help:      "Total retrieve() calls served.",
		}),

		InterventionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dawncore",
			Subsystem: "metareflex",
			Name:      "interventions_total",
			Help:      "Total interventions issued, by trigger.",
		}, []string{"trigger"}),

		IngestEventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dawncore",
			Subsystem: "ingest",
			Name:      "events_total",
			Help:      "Total ingested events, by kind.",
		}, []string{"kind"}),
		IngestDroppedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dawncore",
			Subsystem: "ingest",
			Name:      "dropped_total",
			Help:      "Total dropped ingest events, by reason.",
		}, []string{"reason"}),
		IngestQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "dawncore",
			Subsystem: "ingest",
			Name:      "queue_depth",
			Help:      "Current depth of the ingest event queue.",
		}),

		UptimeSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "dawncore",
			Subsystem: "runtime",
			Name:      "uptime_seconds",
			Help:      "Seconds since the runtime started.",
		}),
	}

	reg.MustRegister(
		m.TickDuration, m.TicksTotal, m.TickFailuresTotal, m.TickIntervalSecs, m.EmergencyResets,
		m.Heat, m.ZoneTransitions, m.GraceActive,
		m.ChaosScore, m.EntropySamples, m.AnomaliesTotal, m.HotBloomsGauge,
		m.SigilsLive, m.SigilsExecuted, m.SigilsExpired, m.SigilsRegistered,
		m.MemoryPoolSize, m.MemoryWriteLatency, m.MemoryEvictionsTotal, m.MemoryRetrievalsTotal,
		m.InterventionsTotal,
		m.IngestEventsTotal, m.IngestDroppedTotal, m.IngestQueueDepth,
		m.UptimeSeconds,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)

	return m
}

// ServeMetrics starts the Prometheus HTTP metrics server on addr.
// Blocks until ctx is cancelled or the server fails.
func (m *Metrics) ServeMetrics(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go m.updateUptime(ctx)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("metrics server on %s: %w", addr, err)
	}
	return nil
}

func (m *Metrics) updateUptime(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.UptimeSeconds.Set(time.Since(m.startTime).Seconds())
		case <-ctx.Done():
			return
		}
	}
}
