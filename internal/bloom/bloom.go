// Package bloom implements the fractal lineage DAG consumed by the entropy
// analyzer (spec.md §3 Bloom, §4.7).
//
// Grounded on internal/escalation/state_machine.go's ProcessState-per-PID
// map idiom and internal/kernel/events.go's accumulators/states maps,
// generalized per the "cyclic parent/child graphs" design note in
// spec.md §9: an arena keyed by bloom_id (string), parent/child links are
// ids rather than pointers, and rebloom only ever adds a fresh leaf, so no
// cycle can form.
package bloom

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Bloom is a node in the fractal lineage DAG (spec.md §3).
type Bloom struct {
	ID                string
	Seed              string
	Mood              map[string]float64
	Entropy           float64
	ParentID          string // empty for root
	Depth             int
	Children          []string
	SemanticVector    []float64
	Tags              map[string]struct{}
	Resonance         float64 // [0,1]
	Heat              float64
	Coherence         float64
	Complexity        float64
	SemanticDrift     float64
	TotalEntropyDrift float64
	IsActive          bool
	DormancyLevel     float64 // [0,1]
	CreatedAt         time.Time
	LastAccessed      time.Time
}

const (
	defaultVectorLen = 64
	maxBlooms        = 5000
	resonanceDecayPerSecond = 0.01
)

// Arena is the id-keyed bloom store. Parent/child links are ids, never
// pointers, and Rebloom only links a newly created child to an existing
// parent, so the lineage stays a tree without a cycle check.
type Arena struct {
	mu     sync.RWMutex
	blooms map[string]*Bloom
}

// NewArena returns an empty Arena.
func NewArena() *Arena {
	return &Arena{blooms: make(map[string]*Bloom)}
}

// CreateRoot creates a new root bloom (depth 0, no parent).
func (a *Arena) CreateRoot(seed string) *Bloom {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := time.Now()
	b := &Bloom{
		ID:             uuid.New().String(),
		Seed:           seed,
		Mood:           make(map[string]float64),
		SemanticVector: make([]float64, defaultVectorLen),
		Tags:           make(map[string]struct{}),
		Resonance:      1.0,
		IsActive:       true,
		Depth:          0,
		CreatedAt:      now,
		LastAccessed:   now,
	}
	a.blooms[b.ID] = b
	a.evictIfOverCapLocked()
	return b
}

// Rebloom creates a child bloom from parentID with an entropy delta and an
// optional seed mutation. Returns an error if parentID is unknown. Each
// new bloom is assigned a fresh id and linked only by the parent's own id,
// so the arena never needs a runtime cycle check: a tree built by strictly
// adding new leaves cannot close a cycle.
func (a *Arena) Rebloom(parentID, seedMutation string, entropyDelta float64) (*Bloom, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	parent, ok := a.blooms[parentID]
	if !ok {
		return nil, fmt.Errorf("bloom.Rebloom: unknown parent id %q", parentID)
	}

	now := time.Now()
	child := &Bloom{
		ID:             uuid.New().String(),
		Seed:           seedMutation,
		Mood:           cloneMood(parent.Mood),
		Entropy:        clamp01(parent.Entropy + entropyDelta),
		ParentID:       parentID,
		Depth:          parent.Depth + 1,
		SemanticVector: make([]float64, len(parent.SemanticVector)),
		Tags:           make(map[string]struct{}),
		Resonance:      1.0,
		IsActive:       true,
		CreatedAt:      now,
		LastAccessed:   now,
	}
	copy(child.SemanticVector, parent.SemanticVector)

	parent.Children = append(parent.Children, child.ID)
	a.blooms[child.ID] = child
	a.evictIfOverCapLocked()
	return child, nil
}

// Get returns the bloom for id, touching LastAccessed and resetting decay.
func (a *Arena) Get(id string) (*Bloom, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	b, ok := a.blooms[id]
	if !ok {
		return nil, false
	}
	b.LastAccessed = time.Now()
	return b, true
}

// Peek returns the bloom without updating LastAccessed.
func (a *Arena) Peek(id string) (*Bloom, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	b, ok := a.blooms[id]
	return b, ok
}

// CheckDepthInvariant checks the depth invariant for id: depth(root)=0,
// depth(child) = depth(parent)+1. Returns an error if violated.
func (a *Arena) CheckDepthInvariant(id string) error {
	a.mu.RLock()
	defer a.mu.RUnlock()

	b, ok := a.blooms[id]
	if !ok {
		return fmt.Errorf("bloom.CheckDepthInvariant: unknown id %q", id)
	}
	if b.ParentID == "" {
		if b.Depth != 0 {
			return fmt.Errorf("bloom %q is a root but has depth %d", id, b.Depth)
		}
		return nil
	}
	parent, ok := a.blooms[b.ParentID]
	if !ok {
		return fmt.Errorf("bloom %q has unknown parent %q", id, b.ParentID)
	}
	if b.Depth != parent.Depth+1 {
		return fmt.Errorf("bloom %q has depth %d, want %d", id, b.Depth, parent.Depth+1)
	}
	return nil
}

// DecayResonance applies monotonic idle-time decay to every bloom not
// accessed since the last call, per spec.md §3: "resonance decays
// monotonically with idle time unless accessed."
func (a *Arena) DecayResonance() {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := time.Now()
	for _, b := range a.blooms {
		idle := now.Sub(b.LastAccessed).Seconds()
		if idle <= 0 {
			continue
		}
		decayed := b.Resonance - resonanceDecayPerSecond*idle
		b.Resonance = clamp01(decayed)
		if b.Resonance < 0.1 {
			b.DormancyLevel = clamp01(b.DormancyLevel + 0.05)
			if b.DormancyLevel >= 1.0 {
				b.IsActive = false
			}
		}
	}
}

// ActiveBlooms returns all blooms with IsActive=true, for StateSnapshot's
// bloom_snapshot.json.
func (a *Arena) ActiveBlooms() []*Bloom {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make([]*Bloom, 0, len(a.blooms))
	for _, b := range a.blooms {
		if b.IsActive {
			out = append(out, b)
		}
	}
	return out
}

// Count returns the total number of blooms held in the arena.
func (a *Arena) Count() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.blooms)
}

// evictIfOverCapLocked prunes the most dormant inactive blooms when the
// arena exceeds maxBlooms, per the resource bound in spec.md §5 ("bloom
// count: 5000, prune dormant at cap"). Must be called with mu held.
func (a *Arena) evictIfOverCapLocked() {
	if len(a.blooms) <= maxBlooms {
		return
	}

	var mostDormantID string
	mostDormancy := -1.0
	for id, b := range a.blooms {
		if b.IsActive {
			continue
		}
		if b.DormancyLevel > mostDormancy {
			mostDormancy = b.DormancyLevel
			mostDormantID = id
		}
	}
	if mostDormantID != "" {
		delete(a.blooms, mostDormantID)
	}
}

func cloneMood(m map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
