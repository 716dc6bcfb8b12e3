// Package bench — cmd/dawncore-bench/main.go
//
// Tick latency measurement tool.
//
// Measures the wall-clock time of Scheduler.ExecuteSingleTick across a
// run of synthetic ticks, against an in-process scheduler wired with the
// same default configuration the runtime uses (no network I/O, no disk
// persistence — store and vector index are both nil).
//
// Method:
//  1. Construct a scheduler with config.Defaults() and an initial heat
//     chosen to sit in the SURGE zone, so the opening ticks fire meta-reflex
//     interventions that register and execute sigils. No heat input is
//     fed, so heat decays out of SURGE within a few ticks and the sigil
//     table drains as its sigils are executed.
//  2. Call ExecuteSingleTick in a tight loop, timing each call with
//     time.Now()/time.Since().
//  3. Results are written to a CSV file.
//
// Output CSV columns:
//
//	iteration, latency_us, skipped_grace (true/false)
package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/jso122-2/dawncore/internal/bloom"
	"github.com/jso122-2/dawncore/internal/config"
	"github.com/jso122-2/dawncore/internal/entropy"
	"github.com/jso122-2/dawncore/internal/eventbus"
	"github.com/jso122-2/dawncore/internal/memory"
	"github.com/jso122-2/dawncore/internal/metareflex"
	"github.com/jso122-2/dawncore/internal/pulse"
	"github.com/jso122-2/dawncore/internal/runtime"
	"github.com/jso122-2/dawncore/internal/scheduler"
	"github.com/jso122-2/dawncore/internal/sigil"
)

func main() {
	iterations := flag.Int("iterations", 10000, "Number of ticks to measure")
	outputFile := flag.String("output", "tick_latency_raw.csv", "Output CSV file path")
	initialHeat := flag.Float64("heat", 90, "Initial heat value (90 sits in SURGE)")
	flag.Parse()

	// Lock to OS thread to minimise scheduling jitter, same discipline the
	// syscall-latency tool used.
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	f, err := os.Create(*outputFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "create output: %v\n", err)
		os.Exit(1)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	_ = w.Write([]string{"iteration", "latency_us", "skipped_grace"})

	sched := buildBenchScheduler(*initialHeat)

	var (
		totalSkippedGrace int
		histogram         [100001]int // 0-100000µs
	)

	for i := 0; i < *iterations; i++ {
		start := time.Now()
		result := sched.ExecuteSingleTick()
		latency := time.Since(start)

		if result.SkippedGrace {
			totalSkippedGrace++
		}

		latencyUs := int(latency.Microseconds())
		if latencyUs < len(histogram) {
			histogram[latencyUs]++
		}

		_ = w.Write([]string{
			strconv.Itoa(i),
			strconv.Itoa(latencyUs),
			strconv.FormatBool(result.SkippedGrace),
		})
	}

	p50, p95, p99 := computePercentiles(histogram[:], *iterations)

	fmt.Printf("Tick Latency Results (%d iterations)\n", *iterations)
	fmt.Printf("  Grace-skipped ticks: %d/%d (%.1f%%)\n", totalSkippedGrace, *iterations,
		float64(totalSkippedGrace)/float64(*iterations)*100)
	fmt.Printf("  p50: %dµs\n", p50)
	fmt.Printf("  p95: %dµs\n", p95)
	fmt.Printf("  p99: %dµs\n", p99)
	fmt.Printf("  Output: %s\n", *outputFile)

	// Exit 1 if p99 exceeds the scheduler's own floor interval, which would
	// mean a single tick can no longer keep pace with min_interval.
	cfg := config.Defaults()
	p99Budget := int(cfg.Scheduler.MinInterval.Microseconds())
	if p99 > p99Budget {
		fmt.Fprintf(os.Stderr, "FAIL: p99 %dµs exceeds min_interval budget %dµs\n", p99, p99Budget)
		os.Exit(1)
	}
}

// buildBenchScheduler wires a scheduler the same way cmd/dawncore does,
// minus persistence and metrics — a pure in-memory construction so the
// benchmark measures tick logic, not disk or network I/O.
func buildBenchScheduler(initialHeat float64) *scheduler.Scheduler {
	cfg := config.Defaults()
	bus := eventbus.New(256)
	rt := runtime.New("bench-node", zap.NewNop(), bus, nil)

	pulseCtl := pulse.NewController(initialHeat, bus)
	entropyA := entropy.NewAnalyzer(cfg.Entropy.RingCapacity, bus)
	sigilE := sigil.NewEngine(nil, bus)
	memoryR := memory.NewRouter(nil, nil, bus)
	reflex := metareflex.New(bus)
	bloomA := bloom.NewArena()

	return scheduler.New(&cfg, pulseCtl, entropyA, sigilE, memoryR, reflex, bloomA, rt)
}

func computePercentiles(hist []int, total int) (p50, p95, p99 int) {
	targets := []struct {
		pct float64
		out *int
	}{
		{0.50, &p50},
		{0.95, &p95},
		{0.99, &p99},
	}
	cumulative := 0
	ti := 0
	for i, count := range hist {
		cumulative += count
		for ti < len(targets) && float64(cumulative) >= targets[ti].pct*float64(total) {
			*targets[ti].out = i
			ti++
		}
		if ti == len(targets) {
			break
		}
	}
	return
}
