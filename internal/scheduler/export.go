package scheduler

import (
	"archive/zip"
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// Archive format is stdlib archive/zip: nothing in the retrieval pack wires
// a third-party archive library to an application-level bundling feature
// (klauspost/compress shows up only as an indirect transitive dependency of
// unrelated repos, never imported directly for zip construction), so this
// stays on the standard library per spec.md §6's StateSnapshot contract.

const (
	recentChunkWindow     = 20
	interventionLogWindow = 50
)

// forecastWindow names one of the four StateSnapshot forecast horizons.
type forecastWindow struct {
	name  string
	hours float64
}

var forecastWindows = []forecastWindow{
	{"next_1h", 1},
	{"next_24h", 24},
	{"next_week", 24 * 7},
	{"next_month", 24 * 30},
}

// entropyProjectionDoc backs forecast.json's entropy_projection field.
type entropyProjectionDoc struct {
	Current            float64    `json:"current"`
	ProjectedRange     [2]float64 `json:"projected_range"`
	VolatilityForecast float64    `json:"volatility_forecast"`
}

type forecastEntryDoc struct {
	Window            string               `json:"window"`
	Confidence        float64              `json:"confidence"`
	LikelyActions     []string             `json:"likely_actions"`
	RiskNodes         []string             `json:"risk_nodes"`
	EntropyProjection entropyProjectionDoc `json:"entropy_projection"`
}

type pulseDoc struct {
	Heat         float64 `json:"heat"`
	Zone         string  `json:"zone"`
	TickInterval string  `json:"tick_interval"`
	InGrace      bool    `json:"in_grace"`
}

type snapshotMetadataDoc struct {
	Version   string         `json:"version"`
	CreatedAt time.Time      `json:"created_at"`
	Counts    map[string]int `json:"counts"`
}

// ExportState builds the StateSnapshot ZIP bundle described in spec.md §6
// and writes it to w. The caller picks the destination (file, buffer, HTTP
// response) and names it DAWN_snapshot_YYYYMMDD-HHMMSS.zip (SnapshotFilename
// below); ExportState itself only produces bytes.
func (s *Scheduler) ExportState(w io.Writer, now time.Time) error {
	zw := zip.NewWriter(w)

	pulseSnap := s.pulseCtl.Snapshot()
	profile := s.entropyA.GetProfile(s.rootBloomID)
	sigilTable := s.sigilE.Snapshot()
	status := s.Status()

	systemState := map[string]interface{}{
		"pulse": pulseDoc{
			Heat:         pulseSnap.Heat,
			Zone:         string(pulseSnap.Zone),
			TickInterval: pulseSnap.TickInterval.String(),
			InGrace:      s.pulseCtl.InGrace(),
		},
		"entropy_profile":  profile,
		"sigil_table":      sigilTable,
		"scheduler_status": status,
	}
	if err := writeJSONEntry(zw, "system_state.json", systemState); err != nil {
		return err
	}

	forecast := make([]forecastEntryDoc, 0, len(forecastWindows))
	for _, fw := range forecastWindows {
		forecast = append(forecast, s.buildForecastEntry(fw))
	}
	if err := writeJSONEntry(zw, "forecast.json", forecast); err != nil {
		return err
	}

	chunks := s.memoryR.RecentChunks(recentChunkWindow)
	if err := writeJSONEntry(zw, "memory_chunks.json", chunks); err != nil {
		return err
	}

	interventions := s.reflex.RecentLog(interventionLogWindow)
	if err := writeJSONEntry(zw, "intervention_log.json", interventions); err != nil {
		return err
	}

	activeBlooms := s.bloomA.ActiveBlooms()
	if err := writeJSONEntry(zw, "bloom_snapshot.json", activeBlooms); err != nil {
		return err
	}

	metadata := snapshotMetadataDoc{
		Version:   "1",
		CreatedAt: now,
		Counts: map[string]int{
			"memory_chunks":    len(chunks),
			"intervention_log": len(interventions),
			"active_blooms":    len(activeBlooms),
			"sigils":           len(sigilTable),
		},
	}
	if err := writeJSONEntry(zw, "snapshot_metadata.json", metadata); err != nil {
		return err
	}

	return zw.Close()
}

// buildForecastEntry projects risk and confidence for one horizon. Confidence
// decreases with window length and with current entropy (chaos_score), per
// spec.md §6: longer horizons and noisier current state both widen the
// forecast's uncertainty.
func (s *Scheduler) buildForecastEntry(fw forecastWindow) forecastEntryDoc {
	p := s.entropyA.GetProfile(s.rootBloomID)

	lengthPenalty := clamp01(fw.hours / (24 * 30))
	confidence := clampRange(0.95-0.45*lengthPenalty-0.4*p.ChaosScore, 0.1, 0.95)

	steps := int(fw.hours)
	if steps < 1 {
		steps = 1
	}
	if steps > 24*30 {
		steps = 24 * 30
	}
	projection := s.entropyA.PredictEntropyFuture(s.rootBloomID, steps)

	current := p.Mean
	lo, hi := current, current
	for _, v := range projection {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}

	var likelyActions, riskNodes []string
	switch {
	case p.ChaosScore >= 0.8:
		likelyActions = []string{"EMERGENCY_RESET"}
		riskNodes = []string{s.rootBloomID}
	case p.ChaosScore >= 0.6:
		likelyActions = []string{"STABILIZE_PROTOCOL"}
		riskNodes = []string{s.rootBloomID}
	case p.ChaosScore >= 0.4:
		likelyActions = []string{"ENTROPY_REGULATION"}
	default:
		likelyActions = []string{}
	}

	return forecastEntryDoc{
		Window:        fw.name,
		Confidence:    confidence,
		LikelyActions: likelyActions,
		RiskNodes:     riskNodes,
		EntropyProjection: entropyProjectionDoc{
			Current:            current,
			ProjectedRange:     [2]float64{lo, hi},
			VolatilityForecast: p.Volatility,
		},
	}
}

func writeJSONEntry(zw *zip.Writer, name string, v interface{}) error {
	f, err := zw.Create(name)
	if err != nil {
		return fmt.Errorf("create %s: %w", name, err)
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	return nil
}

func clamp01(v float64) float64 {
	return clampRange(v, 0, 1)
}

func clampRange(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// SnapshotFilename returns the spec.md §6 filename convention for t.
func SnapshotFilename(t time.Time) string {
	return fmt.Sprintf("DAWN_snapshot_%s.zip", t.UTC().Format("20060102-150405"))
}
