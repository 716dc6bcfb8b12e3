// Package entropy turns a stream of per-bloom entropy samples into
// volatility and chaos estimates, and nominates blooms for stabilization
// (spec.md §3 EntropySample/EntropyProfile, §4.3).
//
// Grounded on internal/anomaly/entropy.go (Shannon-style statistics over a
// bounded window, zero-on-empty-input convention) and
// internal/anomaly/engine.go (a composite score assembled from weighted
// sub-terms with an explicit nil/dimension-mismatch short-circuit).
// detect_entropy_anomalies and get_entropy_correlations are new routines
// written in the same idiom: pure functions, explicit length checks,
// descriptive errors. predict_entropy_future's deterministic numeric-loop
// style is grounded on cmd/octoreflex-sim/main.go's simulation step.
package entropy

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/jso122-2/dawncore/internal/eventbus"
)

// Sample is one immutable entropy observation (spec.md §3 EntropySample).
type Sample struct {
	BloomID   string
	Entropy   float64// [0,1]
	Timestamp time.Time
	SourceTag string
}

// Trend classifies the recent direction of entropy.
type Trend string

const (
	TrendStable      Trend = "stable"
	TrendIncreasing  Trend = "increasing"
	TrendDecreasing  Trend = "decreasing"
	TrendOscillating Trend = "oscillating"
)

// Profile is the derived statistics recomputed on every sample
// (spec.md §3 EntropyProfile).
type Profile struct {
	Mean               float64
	Variance           float64
	StdDev             float64
	Trend              Trend
	Volatility         float64 // [0,1]
	ChaosScore         float64 // [0,1]
	ThermalCorrelation float64 // [-1,1]
}

// Anomaly is one z-score outlier detected in a bloom's ring.
type Anomaly struct {
	Index     int
	Sample    Sample
	ZScore    float64
}

// ChaosAlert is recommend_stabilization's output unit, naming a literal
// sigil (spec.md §4.3/§4.4 house names) the caller should register.
type ChaosAlert struct {
	BloomID         string
	ChaosScore      float64
	RiskBand        string
	RecommendAction string
}

const (
	defaultRingCapacity = 1000
	volatilityWindow    = 50
	anomalyZDefault     = 2.5
	hotBloomThreshold   = 0.7
	chaosThresholdDefault = 0.7
)

// ring is a fixed-capacity circular buffer of samples for one bloom.
type ring struct {
	samples []Sample // logical order, oldest first; trimmed to capacity
	lastThermal float64
	profile Profile
}

// Analyzer owns all per-bloom rings and derived profiles. It is the only
// writer of entropy state; other subsystems read via its query methods.
type Analyzer struct {
	mu            sync.RWMutex
	rings         map[string]*ring
	ringCapacity  int
	bus           *eventbus.Bus
	currentHeat   float64
}

// NewAnalyzer returns an Analyzer with the given per-bloom ring capacity
// (spec.md §5 resource bound: default 1000).
func NewAnalyzer(ringCapacity int, bus *eventbus.Bus) *Analyzer {
	if ringCapacity <= 0 {
		ringCapacity = defaultRingCapacity
	}
	return &Analyzer{
		rings:        make(map[string]*ring),
		ringCapacity: ringCapacity,
		bus:          bus,
	}
}

// AddSample appends a sample to bloomID's ring and recomputes its profile
// over the trailing volatility window.
func (a *Analyzer) AddSample(bloomID string, entropyValue float64, sourceTag string) (Profile, error) {
	if math.IsNaN(entropyValue) || math.IsInf(entropyValue, 0) {
		return Profile{}, fmt.Errorf("entropy.AddSample: entropy value is NaN/Inf")
	}
	entropyValue = clamp01(entropyValue)

	a.mu.Lock()
	defer a.mu.Unlock()

	r, ok := a.rings[bloomID]
	if !ok {
		r = &ring{}
		a.rings[bloomID] = r
	}

	r.samples = append(r.samples, Sample{
		BloomID:   bloomID,
		Entropy:   entropyValue,
		Timestamp: time.Now(),
		SourceTag: sourceTag,
	})
	if len(r.samples) > a.ringCapacity {
		r.samples = r.samples[len(r.samples)-a.ringCapacity:]
	}

	r.profile = computeProfile(windowTail(r.samples, volatilityWindow), r.lastThermal)
	return r.profile, nil
}

// InjectThermalAwareness is called by Pulse on every update_heat; it is
// used only to compute thermal_correlation on the next AddSample.
func (a *Analyzer) InjectThermalAwareness(heat float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.currentHeat = heat
	for _, r := range a.rings {
		r.lastThermal = heat
	}
}

// GetEntropyVariance returns the current variance for bloomID (0 if
// unknown).
func (a *Analyzer) GetEntropyVariance(bloomID string) float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	r, ok := a.rings[bloomID]
	if !ok {
		return 0
	}
	return r.profile.Variance
}

// GetProfile returns the last computed profile for bloomID, or the
// boundary-behavior zero profile if no samples exist.
func (a *Analyzer) GetProfile(bloomID string) Profile {
	a.mu.RLock()
	defer a.mu.RUnlock()
	r, ok := a.rings[bloomID]
	if !ok {
		return Profile{Trend: TrendStable}
	}
	return r.profile
}

// GetHotBlooms returns ids whose recent mean entropy is at or above
// threshold (default 0.7).
func (a *Analyzer) GetHotBlooms(threshold float64) []string {
	if threshold <= 0 {
		threshold = hotBloomThreshold
	}
	a.mu.RLock()
	defer a.mu.RUnlock()

	var hot []string
	for id, r := range a.rings {
		if r.profile.Mean >= threshold {
			hot = append(hot, id)
		}
	}
	return hot
}

// RecommendStabilization returns a ChaosAlert for every bloom whose
// chaos_score is at or above chaosThreshold (default 0.7).
func (a *Analyzer) RecommendStabilization(chaosThreshold float64) []ChaosAlert {
	if chaosThreshold <= 0 {
		chaosThreshold = chaosThresholdDefault
	}
	a.mu.RLock()
	defer a.mu.RUnlock()

	var alerts []ChaosAlert
	for id, r := range a.rings {
		if r.profile.ChaosScore < chaosThreshold {
			continue
		}
		alert := ChaosAlert{
			BloomID:         id,
			ChaosScore:      r.profile.ChaosScore,
			RiskBand:        riskBand(r.profile.ChaosScore),
			RecommendAction: recommendedAction(r.profile.ChaosScore),
		}
		alerts = append(alerts, alert)
		if a.bus != nil {
			a.bus.Publish(eventbus.Event{Kind: eventbus.KindChaosAlert, Payload: alert})
		}
	}
	return alerts
}

// riskBand classifies a chaos score per spec.md §4.3.
func riskBand(chaos float64) string {
	switch {
	case chaos >= 0.9:
		return "critical"
	case chaos >= 0.8:
		return "high"
	case chaos >= 0.7:
		return "medium"
	default:
		return "low"
	}
}

// recommendedAction maps a risk band to a literal sigil name, drawn from
// the named interventions in spec.md §4.4.
func recommendedAction(chaos float64) string {
	switch riskBand(chaos) {
	case "critical":
		return "EMERGENCY_RESET"
	case "high":
		return "STABILIZE_PROTOCOL"
	default:
		return "ENTROPY_REGULATION"
	}
}

// GetEntropyPhasePortrait returns (entropy, d_entropy/dt) pairs across the
// bloom's trailing window.
func (a *Analyzer) GetEntropyPhasePortrait(bloomID string) [][2]float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()

	r, ok := a.rings[bloomID]
	if !ok {
		return nil
	}
	window := windowTail(r.samples, volatilityWindow)
	if len(window) < 2 {
		return nil
	}

	out := make([][2]float64, 0, len(window)-1)
	for i := 1; i < len(window); i++ {
		dt := window[i].Timestamp.Sub(window[i-1].Timestamp).Seconds()
		if dt <= 0 {
			dt = 1
		}
		d := (window[i].Entropy - window[i-1].Entropy) / dt
		out = append(out, [2]float64{window[i].Entropy, d})
	}
	return out
}

// DetectEntropyAnomalies returns z-score outliers over the bloom's full
// ring (not just the trailing window).
func (a *Analyzer) DetectEntropyAnomalies(bloomID string, z float64) []Anomaly {
	if z <= 0 {
		z = anomalyZDefault
	}
	a.mu.RLock()
	defer a.mu.RUnlock()

	r, ok := a.rings[bloomID]
	if !ok || len(r.samples) < 2 {
		return nil
	}

	values := entropies(r.samples)
	mean, std := meanStd(values)
	if std == 0 {
		return nil
	}

	var anomalies []Anomaly
	for i, s := range r.samples {
		zi := (s.Entropy - mean) / std
		if math.Abs(zi) >= z {
			anomalies = append(anomalies, Anomaly{Index: i, Sample: s, ZScore: zi})
		}
	}
	return anomalies
}

// GetEntropyCorrelations returns the Pearson correlation of aligned tails
// between every pair of the given bloom ids.
func (a *Analyzer) GetEntropyCorrelations(ids []string) map[[2]string]float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()

	result := make(map[[2]string]float64)
	for i := 0; i < len(ids); i++ {
		for j := i + 1; j < len(ids); j++ {
			ri, okI := a.rings[ids[i]]
			rj, okJ := a.rings[ids[j]]
			if !okI || !okJ {
				continue
			}
			xs, ys := alignTails(entropies(ri.samples), entropies(rj.samples))
			if len(xs) < 2 {
				continue
			}
			result[[2]string{ids[i], ids[j]}] = pearson(xs, ys)
		}
	}
	return result
}

// PredictEntropyFuture linearly extrapolates the last window of samples
// forward by steps, deterministic and pure — same numeric-loop style as a
// dominance-simulation stepping function.
func (a *Analyzer) PredictEntropyFuture(bloomID string, steps int) []float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()

	r, ok := a.rings[bloomID]
	if !ok || steps <= 0 {
		return nil
	}
	window := windowTail(r.samples, volatilityWindow)
	if len(window) < 2 {
		return nil
	}

	values := entropies(window)
	slope, intercept := linearFit(values)

	out := make([]float64, steps)
	n := float64(len(values))
	for i := 0; i < steps; i++ {
		x := n + float64(i)
		out[i] = clamp01(slope*x + intercept)
	}
	return out
}

// computeProfile recomputes the EntropyProfile from a window of samples.
// Returns the boundary-behavior zero profile for an empty window.
func computeProfile(window []Sample, lastThermal float64) Profile {
	if len(window) == 0 {
		return Profile{Trend: TrendStable}
	}

	values := entropies(window)
	mean, std := meanStd(values)
	variance := std * std

	trend := classifyTrend(values)
	volatility := clamp01(std) // std over [0,1]-bounded entropy is itself in [0,1]

	oscillation := oscillationFraction(values)
	acceleration := accelerationTanh(values)
	anomalyRate := anomalyRate(values, mean, std, anomalyZDefault)
	thermalCorr := thermalCorrelation(values, lastThermal)

	chaos := 0.25*volatility + 0.15*mean + 0.15*oscillation +
		0.12*acceleration + 0.12*anomalyRate + 0.21*math.Abs(thermalCorr)
	chaos = clamp01(chaos)

	return Profile{
		Mean:               mean,
		Variance:           variance,
		StdDev:             std,
		Trend:              trend,
		Volatility:         volatility,
		ChaosScore:         chaos,
		ThermalCorrelation: thermalCorr,
	}
}

// classifyTrend inspects the first-difference sign pattern of values.
func classifyTrend(values []float64) Trend {
	if len(values) < 3 {
		return TrendStable
	}

	var ups, downs, signChanges int
	prevSign := 0
	for i := 1; i < len(values); i++ {
		d := values[i] - values[i-1]
		sign := 0
		switch {
		case d > 1e-9:
			sign = 1
			ups++
		case d < -1e-9:
			sign = -1
			downs++
		}
		if sign != 0 && prevSign != 0 && sign != prevSign {
			signChanges++
		}
		if sign != 0 {
			prevSign = sign
		}
	}

	total := ups + downs
	if total == 0 {
		return TrendStable
	}
	if float64(signChanges)/float64(len(values)-1) > 0.4 {
		return TrendOscillating
	}
	if ups > 2*downs {
		return TrendIncreasing
	}
	if downs > 2*ups {
		return TrendDecreasing
	}
	return TrendStable
}

// oscillationFraction is the fraction of sign changes in the first
// difference over the window (spec.md §4.3).
func oscillationFraction(values []float64) float64 {
	if len(values) < 3 {
		return 0
	}
	diffs := firstDifference(values)
	var signChanges int
	for i := 1; i < len(diffs); i++ {
		if (diffs[i] > 0) != (diffs[i-1] > 0) && diffs[i] != 0 && diffs[i-1] != 0 {
			signChanges++
		}
	}
	return float64(signChanges) / float64(len(diffs)-1)
}

// accelerationTanh is the second-difference mean, clamped to [0,1] via
// tanh (spec.md §4.3).
func accelerationTanh(values []float64) float64 {
	diffs := firstDifference(values)
	if len(diffs) < 2 {
		return 0
	}
	second := firstDifference(diffs)
	if len(second) == 0 {
		return 0
	}
	mean, _ := meanStd(second)
	return math.Abs(math.Tanh(mean))
}

// anomalyRate is the fraction of samples with |z| >= threshold.
func anomalyRate(values []float64, mean, std, z float64) float64 {
	if std == 0 || len(values) == 0 {
		return 0
	}
	var count int
	for _, v := range values {
		if math.Abs((v-mean)/std) >= z {
			count++
		}
	}
	return float64(count) / float64(len(values))
}

// thermalCorrelation correlates the window's entropy values against a
// constant current-heat series (scaled to [0,1]); with only one thermal
// reading available per window this degenerates to a sign-agreement
// proxy rather than a true time series correlation, which is acceptable
// because thermal_correlation is only ever read as a bounded [-1,1]
// auxiliary chaos term.
func thermalCorrelation(values []float64, lastThermal float64) float64 {
	if len(values) < 2 {
		return 0
	}
	heatSeries := make([]float64, len(values))
	heatFrac := clamp01(lastThermal / 100)
	for i := range heatSeries {
		heatSeries[i] = heatFrac
	}
	if allEqual(heatSeries) {
		// No variance in the synthetic heat series: fall back to a
		// sign-agreement proxy between entropy trend and heat level.
		mean, _ := meanStd(values)
		if heatFrac > mean {
			return 0.5
		} else if heatFrac < mean {
			return -0.5
		}
		return 0
	}
	return pearson(values, heatSeries)
}

func allEqual(vs []float64) bool {
	for i := 1; i < len(vs); i++ {
		if vs[i] != vs[0] {
			return false
		}
	}
	return true
}

func firstDifference(values []float64) []float64 {
	if len(values) < 2 {
		return nil
	}
	out := make([]float64, len(values)-1)
	for i := 1; i < len(values); i++ {
		out[i-1] = values[i] - values[i-1]
	}
	return out
}

func meanStd(values []float64) (mean, std float64) {
	if len(values) == 0 {
		return 0, 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean = sum / float64(len(values))

	var sqSum float64
	for _, v := range values {
		d := v - mean
		sqSum += d * d
	}
	variance := sqSum / float64(len(values))
	std = math.Sqrt(variance)
	return mean, std
}

func pearson(xs, ys []float64) float64 {
	n := len(xs)
	if n == 0 || n != len(ys) {
		return 0
	}
	mx, _ := meanStd(xs)
	my, _ := meanStd(ys)

	var num, dx2, dy2 float64
	for i := 0; i < n; i++ {
		dx := xs[i] - mx
		dy := ys[i] - my
		num += dx * dy
		dx2 += dx * dx
		dy2 += dy * dy
	}
	denom := math.Sqrt(dx2 * dy2)
	if denom == 0 {
		return 0
	}
	return clampCorr(num / denom)
}

func clampCorr(v float64) float64 {
	if v > 1 {
		return 1
	}
	if v < -1 {
		return -1
	}
	return v
}

// linearFit returns (slope, intercept) of the least-squares line through
// values indexed 0..len(values)-1.
func linearFit(values []float64) (slope, intercept float64) {
	n := float64(len(values))
	if n < 2 {
		if n == 1 {
			return 0, values[0]
		}
		return 0, 0
	}

	var sumX, sumY, sumXY, sumXX float64
	for i, v := range values {
		x := float64(i)
		sumX += x
		sumY += v
		sumXY += x * v
		sumXX += x * x
	}

	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0, sumY / n
	}
	slope = (n*sumXY - sumX*sumY) / denom
	intercept = (sumY - slope*sumX) / n
	return slope, intercept
}

func entropies(samples []Sample) []float64 {
	out := make([]float64, len(samples))
	for i, s := range samples {
		out[i] = s.Entropy
	}
	return out
}

func windowTail(samples []Sample, window int) []Sample {
	if len(samples) <= window {
		return samples
	}
	return samples[len(samples)-window:]
}

func alignTails(a, b []float64) ([]float64, []float64) {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	if n == 0 {
		return nil, nil
	}
	return a[len(a)-n:], b[len(b)-n:]
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
