package memory

// Optional vector-index plugin registry.
//
// Grounded on the anomaly-scorer plugin contract: implementations register
// themselves by name in an init() function and are looked up by name with
// GetVectorIndex; a missing/unregistered name yields nil, which the router
// treats as lexical-only retrieval rather than an error.

import (
	"fmt"
	"sync"
)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]VectorIndex)
)

// RegisterVectorIndex registers a vector index backend under a stable name.
// Call from init() in plugin packages. Panics on duplicate registration.
func RegisterVectorIndex(v VectorIndex) {
	registryMu.Lock()
	defer registryMu.Unlock()
	name := v.Name()
	if _, exists := registry[name]; exists {
		panic(fmt.Sprintf("memory: vector index %q already registered", name))
	}
	registry[name] = v
}

// GetVectorIndex returns the registered backend for name, or nil if none is
// registered — callers should treat a nil return as "no vector backend",
// not as an error.
func GetVectorIndex(name string) VectorIndex {
	if name == "" {
		return nil
	}
	registryMu.RLock()
	defer registryMu.RUnlock()
	return registry[name]
}
