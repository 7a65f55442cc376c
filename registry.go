package bootseq

import (
	"sort"
	"sync"
	"sync/atomic"
)

// maxSignals is the number of distinct signals a Registry can hold.
const maxSignals = 64

// Registry is a set of named, one-shot completion flags.
// Each name is assigned a bit on first reference; setting a flag is a single atomic OR and never blocks. A set flag
// stays set until Reset is called at the start of the next run. Querying a name that was never referenced reports
// false, exactly like a flag that is not set yet.
// Registry is safe for concurrent use.
type Registry struct {
	mu   sync.RWMutex // Protects field bits.
	bits map[string]uint8
	set  atomic.Uint64
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{bits: make(map[string]uint8)}
}

// bit returns the bit assigned to name, assigning a new one if necessary.
// It panics once more than maxSignals distinct names have been referenced.
func (r *Registry) bit(name string) uint64 {
	r.mu.RLock()
	b, ok := r.bits[name]
	r.mu.RUnlock()
	if ok {
		return 1 << b
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok = r.bits[name]; ok {
		return 1 << b
	}
	if len(r.bits) == maxSignals {
		panic(panicSignalLimit)
	}
	b = uint8(len(r.bits))
	r.bits[name] = b
	return 1 << b
}

// mask returns the bits for every name, and false if any of them is unknown.
func (r *Registry) mask(names []string) (uint64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var m uint64
	for _, name := range names {
		b, ok := r.bits[name]
		if !ok {
			return 0, false
		}
		m |= 1 << b
	}
	return m, true
}

// Declare registers names without setting them. Declared names show up in Snapshot as false.
func (r *Registry) Declare(names ...string) {
	for _, name := range names {
		r.bit(name)
	}
}

// Set marks the named signal as true. Setting a signal that is already set has no effect.
func (r *Registry) Set(name string) {
	r.set.Or(r.bit(name))
}

// TrySet is like Set, but returns false instead of panicking when name would be a signal beyond the limit.
func (r *Registry) TrySet(name string) bool {
	r.mu.Lock()
	b, ok := r.bits[name]
	if !ok {
		if len(r.bits) == maxSignals {
			r.mu.Unlock()
			return false
		}
		b = uint8(len(r.bits))
		r.bits[name] = b
	}
	r.mu.Unlock()

	r.set.Or(1 << b)
	return true
}

// IsSet reports whether the named signal has been set in the current run.
func (r *Registry) IsSet(name string) bool {
	set, _ := r.Lookup(name)
	return set
}

// Lookup reports whether the named signal is set, and whether the name has been referenced at all.
func (r *Registry) Lookup(name string) (set, known bool) {
	m, known := r.mask([]string{name})
	if !known {
		return false, false
	}
	return r.set.Load()&m == m, true
}

// AllSet reports whether every named signal is set. It returns true for an empty list.
func (r *Registry) AllSet(names ...string) bool {
	m, known := r.mask(names)
	if !known {
		return false
	}
	return r.set.Load()&m == m
}

// Condition returns a Condition that holds once every named signal is set.
func (r *Registry) Condition(names ...string) Condition {
	names = append([]string(nil), names...)
	return func() bool {
		return r.AllSet(names...)
	}
}

// Reset forgets every signal. It must only be called between runs.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.bits = make(map[string]uint8)
	r.set.Store(0)
}

// Len returns the number of distinct signals referenced so far.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.bits)
}

// Snapshot returns the state of every referenced signal.
func (r *Registry) Snapshot() map[string]bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.set.Load()
	snap := make(map[string]bool, len(r.bits))
	for name, b := range r.bits {
		snap[name] = set&(1<<b) != 0
	}
	return snap
}

// Names returns the name of each referenced signal, sorted alphabetically.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ns := make([]string, 0, len(r.bits))
	for name := range r.bits {
		ns = append(ns, name)
	}
	sort.Strings(ns)
	return ns
}
