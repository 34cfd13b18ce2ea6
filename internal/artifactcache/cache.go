// Package artifactcache stores resolved crate outputs across invocations,
// keyed by the crate fingerprint.
package artifactcache

import (
	"errors"
	"sync"

	"voyager/internal/contract"
	"voyager/internal/diag"
)

// Entry is the cached outcome of a crate that resolved to Ready.
//
// Only fingerprint-determined data is stored: no timestamps, no host paths.
type Entry struct {
	Fingerprint string              `json:"fingerprint"`
	Crate       string              `json:"crate"`
	Artifacts   []contract.Artifact `json:"artifacts"`
	Diagnostics []diag.Diagnostic   `json:"diagnostics,omitempty"`
}

var ErrNilEntry = errors.New("cache entry is nil")

// Cache provides storage and retrieval of crate outcomes.
//
// A fingerprint seen before MUST be replayed exactly; Get returns (nil, nil)
// on a miss.
type Cache interface {
	Has(fingerprint string) (bool, error)
	Get(fingerprint string) (*Entry, error)
	Put(entry *Entry) error
	Close() error
}

// MemoryCache implements Cache in process memory.
// Useful for testing and for watch sessions without a cache directory.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]*Entry)}
}

func (c *MemoryCache) Has(fingerprint string) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.entries[fingerprint]
	return ok, nil
}

func (c *MemoryCache) Get(fingerprint string) (*Entry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[fingerprint]
	if !ok {
		return nil, nil
	}
	return copyEntry(e), nil
}

func (c *MemoryCache) Put(entry *Entry) error {
	if entry == nil {
		return ErrNilEntry
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[entry.Fingerprint] = copyEntry(entry)
	return nil
}

func (c *MemoryCache) Close() error { return nil }

// Len reports the number of stored entries.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func copyEntry(e *Entry) *Entry {
	out := &Entry{
		Fingerprint: e.Fingerprint,
		Crate:       e.Crate,
		Artifacts:   make([]contract.Artifact, len(e.Artifacts)),
		Diagnostics: append([]diag.Diagnostic(nil), e.Diagnostics...),
	}
	for i, a := range e.Artifacts {
		a.ABI = append([]string(nil), a.ABI...)
		a.Payload = append([]byte(nil), a.Payload...)
		a.Diagnostics = append([]diag.Diagnostic(nil), a.Diagnostics...)
		out.Artifacts[i] = a
	}
	return out
}
