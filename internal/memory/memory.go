// Package memory implements the memory router: chunk storage, multi-pool
// routing, and content/context retrieval.
//
// Persistence (bucket-per-concern bbolt layout, atomic write transactions,
// sortable timestamp keys) is grounded on the storage layer's chunk ledger.
// The three in-memory pools are new but follow the same single-writer
// discipline: the router is the only writer to pool membership.
package memory

import (
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jso122-2/dawncore/internal/eventbus"
)

const (
	workingCap       = 50
	recentCap        = 200
	significantSoftCap = 5000

	workingThreshold     = 0.5
	significantThreshold = 0.75
)

// PulseState is an immutable snapshot of scalar cognitive state, embedded
// in every stored chunk.
type PulseState struct {
	Heat    float64            `json:"heat"`
	Entropy float64            `json:"entropy"`
	SCUP    float64            `json:"scup"`
	Mood    map[string]float64 `json:"mood"`
	Zone    string             `json:"zone"`
	// Error carries a classified subsystem failure for the cycle that
	// produced this chunk. Empty on a clean tick.
	Error string `json:"error,omitempty"`
}

// Chunk is an immutable memory record of one event or tick.
type Chunk struct {
	ID         string     `json:"id"`
	Timestamp  time.Time  `json:"timestamp"`
	Speaker    string     `json:"speaker"`
	Topic      string     `json:"topic,omitempty"`
	Content    string     `json:"content"`
	PulseState PulseState `json:"pulse_state"`
	Sigils     []string   `json:"sigils"`
	Importance float64    `json:"importance"`
	Tags       []string   `json:"tags,omitempty"`
}

// Context is optional retrieval context: the caller's current pulse state
// and tag set, used to bias ranking.
type Context struct {
	Pulse PulseState
	Tags  []string
}

// VectorIndex is the optional embedding-space nearest-neighbor backend.
// Implementations must be goroutine-safe; a nil VectorIndex degrades
// retrieval to lexical-only with no error, matching the plugin contract's
// nil-safe-default convention.
type VectorIndex interface {
	Name() string
	// Index adds or updates the embedding for a stored chunk.
	Index(chunkID string, content string) error
	// Query returns chunk ids nearest to query, best first.
	Query(query string, k int) ([]string, error)
}

// Summary is the read-only output of compress(): aggregate statistics over
// every chunk currently held by the router, computed without evicting
// anything.
type Summary struct {
	TotalChunks        int                `json:"total_chunks"`
	BySpeaker          map[string]int     `json:"by_speaker"`
	ByTopic            map[string]int     `json:"by_topic"`
	SigilFrequency     map[string]int     `json:"sigil_frequency"`
	EntropyHistogram   [10]int            `json:"entropy_histogram"`
	MoodDistribution   map[string]float64 `json:"mood_distribution"`
}

type lruEntry struct {
	chunkID  string
	lastUsed time.Time
}

// Router is the single writer to pool membership; every mutating method
// takes the router's own mutex. Chunks themselves are immutable once
// stored and may be read concurrently by value.
type Router struct {
	mu sync.Mutex

	chunks map[string]Chunk

	working     []lruEntry // cap workingCap, most-recently-used last
	recent      []string   // cap recentCap, FIFO, oldest first
	significant []string   // soft cap significantSoftCap, evict lowest importance

	store       *Store // optional persistence, may be nil
	vector      VectorIndex
	bus         *eventbus.Bus

	rebloomSuppressedUntilTick uint64
}

// NewRouter constructs a Router. store and vector may be nil.
func NewRouter(store *Store, vector VectorIndex, bus *eventbus.Bus) *Router {
	return &Router{
		chunks: make(map[string]Chunk),
		store:  store,
		vector: vector,
		bus:    bus,
	}
}

// Importance computes the importance score per the weighted formula:
// 0.35*entropy + 0.25*|heat-33|/67 + 0.25*(has sigils?1:0) + 0.15*speaker_weight.
// speakerWeight is caller-supplied (e.g. 1.0 for the system, lower for
// passive observers); callers that don't distinguish speakers pass 1.0.
func Importance(entropy, heat float64, hasSigils bool, speakerWeight float64) float64 {
	sigilTerm := 0.0
	if hasSigils {
		sigilTerm = 1.0
	}
	heatTerm := math.Abs(heat-33) / 67
	score := 0.35*clamp01(entropy) + 0.25*clamp01(heatTerm) + 0.25*sigilTerm + 0.15*clamp01(speakerWeight)
	return clamp01(score)
}

// Store inserts a chunk, computing its importance and pool membership, and
// returns the set of pools it was routed into. Always inserts into recent.
// Inserts into working if importance >= 0.5 and significant if >= 0.75.
func (r *Router) Store(chunk Chunk, speakerWeight float64) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if chunk.ID == "" {
		chunk.ID = uuid.NewString()
	}
	if chunk.Timestamp.IsZero() {
		chunk.Timestamp = time.Now().UTC()
	}
	chunk.Importance = Importance(chunk.PulseState.Entropy, chunk.PulseState.Heat, len(chunk.Sigils) > 0, speakerWeight)

	r.chunks[chunk.ID] = chunk

	pools := []string{"recent"}
	r.recent = append(r.recent, chunk.ID)
	if len(r.recent) > recentCap {
		evicted := r.recent[0]
		r.recent = r.recent[1:]
		r.maybeDeleteLocked(evicted)
	}

	if chunk.Importance >= workingThreshold {
		pools = append(pools, "working")
		r.working = append(r.working, lruEntry{chunkID: chunk.ID, lastUsed: chunk.Timestamp})
		if len(r.working) > workingCap {
			r.evictLRULocked()
		}
	}

	if chunk.Importance >= significantThreshold {
		pools = append(pools, "significant")
		r.significant = append(r.significant, chunk.ID)
		if len(r.significant) > significantSoftCap {
			r.evictLowestImportanceLocked()
		}
	}

	if r.vector != nil {
		_ = r.vector.Index(chunk.ID, chunk.Content)
	}
	if r.store != nil {
		_ = r.store.Put(chunk)
	}
	if r.bus != nil {
		r.bus.Publish(eventbus.Event{Kind: eventbus.KindChunkStored, Payload: chunk.ID})
	}

	return pools
}

func (r *Router) evictLRULocked() {
	oldestIdx := 0
	for i, e := range r.working {
		if e.lastUsed.Before(r.working[oldestIdx].lastUsed) {
			oldestIdx = i
		}
	}
	r.working = append(r.working[:oldestIdx], r.working[oldestIdx+1:]...)
}

func (r *Router) evictLowestImportanceLocked() {
	lowestIdx := 0
	lowest := math.Inf(1)
	for i, id := range r.significant {
		if c, ok := r.chunks[id]; ok && c.Importance < lowest {
			lowest = c.Importance
			lowestIdx = i
		}
	}
	evicted := r.significant[lowestIdx]
	r.significant = append(r.significant[:lowestIdx], r.significant[lowestIdx+1:]...)
	r.maybeDeleteLocked(evicted)
}

// maybeDeleteLocked removes the chunk from the master map only if it no
// longer belongs to any pool, so a chunk evicted from recent but still held
// by working/significant stays retrievable.
func (r *Router) maybeDeleteLocked(id string) {
	for _, e := range r.working {
		if e.chunkID == id {
			return
		}
	}
	for _, cid := range r.recent {
		if cid == id {
			return
		}
	}
	for _, cid := range r.significant {
		if cid == id {
			return
		}
	}
	delete(r.chunks, id)
}

// PoolSizes reports the current membership counts, for tests and metrics.
func (r *Router) PoolSizes() (working, recent, significant int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.working), len(r.recent), len(r.significant)
}

// WorkingContains reports whether id is currently a member of working,
// for Scenario D-style tests.
func (r *Router) WorkingContains(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.working {
		if e.chunkID == id {
			return true
		}
	}
	return false
}

// SignificantContains reports whether id is currently a member of significant.
func (r *Router) SignificantContains(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id2 := range r.significant {
		if id2 == id {
			return true
		}
	}
	return false
}

// RecentChunks returns up to the last n chunks in recent, most-recent-first,
// for StateSnapshot's memory_chunks.json.
func (r *Router) RecentChunks(n int) []Chunk {
	r.mu.Lock()
	defer r.mu.Unlock()

	if n > len(r.recent) {
		n = len(r.recent)
	}
	out := make([]Chunk, 0, n)
	for i := len(r.recent) - 1; i >= 0 && len(out) < n; i-- {
		if c, ok := r.chunks[r.recent[i]]; ok {
			out = append(out, c)
		}
	}
	return out
}

// Retrieve ranks stored chunks against query and optional context, returning
// up to k results. relevance = 0.5*text_overlap + 0.2*tag_overlap +
// 0.2*pulse_similarity + 0.1*recency_bonus. When a vector index is present,
// the result is the union of lexical matches and nearest neighbors,
// re-ranked by the same formula (merge, not replace); a failing or absent
// vector index degrades silently to lexical-only.
func (r *Router) Retrieve(query string, ctx *Context, k int) []Chunk {
	r.mu.Lock()
	candidates := make(map[string]Chunk, len(r.chunks))
	for id, c := range r.chunks {
		candidates[id] = c
	}
	vector := r.vector
	r.mu.Unlock()

	if vector != nil {
		if ids, err := vector.Query(query, k*2); err == nil {
			r.mu.Lock()
			for _, id := range ids {
				if c, ok := r.chunks[id]; ok {
					candidates[id] = c
				}
			}
			r.mu.Unlock()
		}
	}

	now := time.Now().UTC()
	type scored struct {
		chunk Chunk
		score float64
	}
	results := make([]scored, 0, len(candidates))
	for _, c := range candidates {
		results = append(results, scored{chunk: c, score: relevance(query, ctx, c, now)})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].score != results[j].score {
			return results[i].score > results[j].score
		}
		return results[i].chunk.Timestamp.After(results[j].chunk.Timestamp)
	})
	if k > len(results) {
		k = len(results)
	}
	out := make([]Chunk, k)
	for i := 0; i < k; i++ {
		out[i] = results[i].chunk
	}
	return out
}

func relevance(query string, ctx *Context, c Chunk, now time.Time) float64 {
	text := 0.5 * textOverlap(query, c.Content)
	tag := 0.0
	pulseSim := 0.0
	if ctx != nil {
		tag = 0.2 * tagOverlap(ctx.Tags, c.Tags)
		pulseSim = 0.2 * pulseSimilarity(ctx.Pulse, c.PulseState)
	}
	recency := 0.1 * recencyBonus(c.Timestamp, now)
	return text + tag + pulseSim + recency
}

// pulseSimilarity = 1 - min(1, (|Δentropy| + |Δheat|/100 + |Δscup|) / 3).
func pulseSimilarity(a, b PulseState) float64 {
	dEntropy := math.Abs(a.Entropy - b.Entropy)
	dHeat := math.Abs(a.Heat-b.Heat) / 100
	dSCUP := math.Abs(a.SCUP - b.SCUP)
	dist := (dEntropy + dHeat + dSCUP) / 3
	if dist > 1 {
		dist = 1
	}
	return 1 - dist
}

// recencyBonus decays over a 24h horizon to [0,1], newest = 1.
func recencyBonus(t, now time.Time) float64 {
	age := now.Sub(t)
	if age < 0 {
		age = 0
	}
	const horizon = 24 * time.Hour
	frac := 1 - float64(age)/float64(horizon)
	return clamp01(frac)
}

func textOverlap(query, content string) float64 {
	qTokens := tokenize(query)
	cTokens := tokenize(content)
	if len(qTokens) == 0 || len(cTokens) == 0 {
		return 0
	}
	cSet := make(map[string]bool, len(cTokens))
	for _, t := range cTokens {
		cSet[t] = true
	}
	matches := 0
	for _, t := range qTokens {
		if cSet[t] {
			matches++
		}
	}
	return float64(matches) / float64(len(qTokens))
}

func tagOverlap(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	bSet := make(map[string]bool, len(b))
	for _, t := range b {
		bSet[t] = true
	}
	matches := 0
	for _, t := range a {
		if bSet[t] {
			matches++
		}
	}
	return float64(matches) / float64(len(a))
}

func tokenize(s string) []string {
	fields := strings.Fields(strings.ToLower(s))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, ".,!?;:\"'()[]{}")
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

// RebloomCandidates ranks stored chunks by cognitive similarity to
// reference: 0.4*semantic_overlap + 0.3*pulse_similarity + 0.2*shared_sigils
// + 0.1*same_speaker. Returns nil while suppress_rebloom is in effect.
func (r *Router) RebloomCandidates(reference Chunk, k int, currentTick uint64) []Chunk {
	r.mu.Lock()
	if currentTick < r.rebloomSuppressedUntilTick {
		r.mu.Unlock()
		return nil
	}
	candidates := make([]Chunk, 0, len(r.chunks))
	for id, c := range r.chunks {
		if id == reference.ID {
			continue
		}
		candidates = append(candidates, c)
	}
	r.mu.Unlock()

	type scored struct {
		chunk Chunk
		score float64
	}
	scoredList := make([]scored, 0, len(candidates))
	for _, c := range candidates {
		scoredList = append(scoredList, scored{chunk: c, score: cognitiveSimilarity(reference, c)})
	}
	sort.Slice(scoredList, func(i, j int) bool { return scoredList[i].score > scoredList[j].score })
	if k > len(scoredList) {
		k = len(scoredList)
	}
	out := make([]Chunk, k)
	for i := 0; i < k; i++ {
		out[i] = scoredList[i].chunk
	}
	return out
}

func cognitiveSimilarity(a, b Chunk) float64 {
	semantic := 0.4 * textOverlap(a.Content, b.Content)
	pulseSim := 0.3 * pulseSimilarity(a.PulseState, b.PulseState)
	shared := 0.2 * sharedSigilFraction(a.Sigils, b.Sigils)
	speaker := 0.0
	if a.Speaker != "" && a.Speaker == b.Speaker {
		speaker = 0.1
	}
	return semantic + pulseSim + shared + speaker
}

func sharedSigilFraction(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	bSet := make(map[string]bool, len(b))
	for _, s := range b {
		bSet[s] = true
	}
	matches := 0
	for _, s := range a {
		if bSet[s] {
			matches++
		}
	}
	denom := len(a)
	if len(b) > denom {
		denom = len(b)
	}
	return float64(matches) / float64(denom)
}

// SuppressRebloom makes RebloomCandidates return nil for the given number
// of subsequent ticks, per meta-reflex's HIGH_ENTROPY response.
func (r *Router) SuppressRebloom(currentTick uint64, ticks uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	until := currentTick + ticks
	if until > r.rebloomSuppressedUntilTick {
		r.rebloomSuppressedUntilTick = until
	}
}

// Compress computes aggregate statistics without evicting anything.
func (r *Router) Compress() Summary {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := Summary{
		BySpeaker:      make(map[string]int),
		ByTopic:        make(map[string]int),
		SigilFrequency: make(map[string]int),
		MoodDistribution: make(map[string]float64),
	}
	moodCount := make(map[string]int)

	for _, c := range r.chunks {
		s.TotalChunks++
		if c.Speaker != "" {
			s.BySpeaker[c.Speaker]++
		}
		if c.Topic != "" {
			s.ByTopic[c.Topic]++
		}
		for _, sig := range c.Sigils {
			s.SigilFrequency[sig]++
		}
		bucket := int(clamp01(c.PulseState.Entropy) * 10)
		if bucket > 9 {
			bucket = 9
		}
		s.EntropyHistogram[bucket]++
		for mood, v := range c.PulseState.Mood {
			s.MoodDistribution[mood] += v
			moodCount[mood]++
		}
	}
	for mood, count := range moodCount {
		if count > 0 {
			s.MoodDistribution[mood] /= float64(count)
		}
	}
	return s
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
