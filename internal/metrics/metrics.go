// Package metrics implements the success/failure meters named in
// spec.md §7: "{history, publish|verify-ledger|verify-ledger-chain|
// download-*|bucket-apply|apply-ledger-chain, success|failure}". It is a
// trimmed adaptation of go-algorand's util/metrics package (named counters
// registered once, incremented from call sites) re-based on
// github.com/prometheus/client_golang, a dependency the teacher already
// carries for its own metrics surface.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Meter is a named, monotonically increasing event counter. Unlike a bare
// prometheus.Counter it also supports a synchronous Count() read, which the
// test harness needs to diff start/end snapshots against
// catchup.PerformedWork (spec.md §8's round-trip invariant).
type Meter struct {
	name    string
	counter prometheus.Counter
	mu      sync.Mutex
	count   uint64
}

// Mark increments the meter by one.
func (m *Meter) Mark() {
	m.mu.Lock()
	m.count++
	m.mu.Unlock()
	m.counter.Inc()
}

// Add increments the meter by n.
func (m *Meter) Add(n uint64) {
	m.mu.Lock()
	m.count += n
	m.mu.Unlock()
	m.counter.Add(float64(n))
}

// Count returns the current value. Safe to call concurrently with Mark/Add.
func (m *Meter) Count() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.count
}

// Registry owns the set of named meters for one node instance. Each node in
// the test harness (spec.md §4.G spins a "second node") gets its own
// Registry so meters from different simulated nodes never collide.
type Registry struct {
	mu       sync.Mutex
	meters   map[string]*Meter
	promReg  *prometheus.Registry
}

// NewRegistry creates an empty, independent metrics registry.
func NewRegistry() *Registry {
	return &Registry{
		meters:  make(map[string]*Meter),
		promReg: prometheus.NewRegistry(),
	}
}

// Meter returns the named meter, creating it on first use. component and
// outcome follow spec.md §7's "{history, <operation>, success|failure}"
// naming; the meter is registered as "history_<component>_<outcome>" with
// the prometheus collector and keyed "<component>.<outcome>" for lookups
// and Snapshot.
func (r *Registry) Meter(component, outcome string) *Meter {
	key := component + "." + outcome
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.meters[key]; ok {
		return m
	}
	c := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "history_" + sanitize(component) + "_" + sanitize(outcome),
		Help: "history subsystem meter for " + key,
	})
	r.promReg.MustRegister(c)
	m := &Meter{name: key, counter: c}
	r.meters[key] = m
	return m
}

// Snapshot returns the current count of every meter that has been touched,
// keyed by "component.outcome".
func (r *Registry) Snapshot() map[string]uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]uint64, len(r.meters))
	for k, m := range r.meters {
		out[k] = m.Count()
	}
	return out
}

func sanitize(s string) string {
	b := make([]byte, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '-' || c == ' ' {
			b[i] = '_'
		} else {
			b[i] = c
		}
	}
	return string(b)
}
