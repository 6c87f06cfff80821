package assimilator

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Template identifies which assimilator construction a registry entry used.
type Template string

const (
	TemplateOracleBacked Template = "oracle-usd"
	TemplateFixedRate    Template = "fixed-one"
)

// Key dedupes assimilators: exactly one instance exists per
// (token, oracle, template) triple. Fixed-rate entries use the zero oracle
// address.
type Key struct {
	Token    common.Address
	Oracle   common.Address
	Template Template
}

// Registry is the write-once-per-key assimilator cache. Insertion is
// idempotent: the first build wins and later calls return the existing
// instance.
type Registry struct {
	mu      sync.Mutex
	entries map[Key]Assimilator
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[Key]Assimilator)}
}

// GetOrCreate returns the assimilator for key, building it on first use.
// created reports whether this call inserted the entry.
func (r *Registry) GetOrCreate(key Key, build func() (Assimilator, error)) (a Assimilator, created bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.entries[key]; ok {
		return existing, false, nil
	}
	a, err = build()
	if err != nil {
		return nil, false, err
	}
	r.entries[key] = a
	return a, true, nil
}

// Lookup returns the assimilator for key if present.
func (r *Registry) Lookup(key Key) (Assimilator, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.entries[key]
	return a, ok
}

// Len reports the number of registered assimilators.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
