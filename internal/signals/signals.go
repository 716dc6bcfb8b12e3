// Package signals samples a small set of real scalar OS signals (CPU and
// memory utilization) and feeds them into the runtime as external_signal
// ingest events, per spec.md's "gathers a small set of scalar system
// signals" framing in §1.
//
// Grounded on the shirou/gopsutil/v3 usage pattern found in hydraide-hydraide:
// top-level Percent/VirtualMemory calls on a ticker, converted to a single
// scalar. This package is new — nothing upstream gathers non-kernel system
// metrics this way — but follows that library's own idiom.
package signals

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"
)

// Sample is one scalar OS-signal observation, ready to feed Pulse's
// update_heat or be wrapped as an ingest_event(kind=external_signal).
type Sample struct {
	Timestamp      time.Time
	CPUPercent     float64 // 0-100, averaged across logical cores
	MemPercent     float64 // 0-100, used/total virtual memory
	CombinedScalar float64 // 0-100, weighted blend fed to heat
}

// Sink receives samples. Implementations must not block; the sampler calls
// Sink.Observe synchronously on its own ticker goroutine.
type Sink interface {
	Observe(Sample)
}

// Sampler periodically reads CPU and memory utilization and forwards a
// combined scalar to a Sink.
type Sampler struct {
	interval time.Duration
	sink     Sink
	logger   *zap.Logger
}

// NewSampler constructs a Sampler that reports to sink every interval.
func NewSampler(interval time.Duration, sink Sink, logger *zap.Logger) *Sampler {
	return &Sampler{interval: interval, sink: sink, logger: logger}
}

// Run blocks, sampling on a ticker until ctx is cancelled.
func (s *Sampler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sample, err := s.readOnce(ctx)
			if err != nil {
				s.logger.Warn("signal sample failed", zap.Error(err))
				continue
			}
			s.sink.Observe(sample)
		}
	}
}

// readOnce takes one CPU+memory reading and blends it into CombinedScalar.
func (s *Sampler) readOnce(ctx context.Context) (Sample, error) {
	cpuPercents, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return Sample{}, err
	}
	var cpuPct float64
	if len(cpuPercents) > 0 {
		cpuPct = cpuPercents[0]
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return Sample{}, err
	}

	return Sample{
		Timestamp:      time.Now(),
		CPUPercent:     cpuPct,
		MemPercent:     vm.UsedPercent,
		CombinedScalar: blend(cpuPct, vm.UsedPercent),
	}, nil
}

// blend combines CPU and memory percentages into a single [0,100] scalar.
func blend(cpuPct, memPct float64) float64 {
	combined := 0.6*cpuPct + 0.4*memPct
	if combined > 100 {
		return 100
	}
	if combined < 0 {
		return 0
	}
	return combined
}
