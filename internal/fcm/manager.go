package fcm

import (
	"github.com/puzpuzpuz/xsync/v4"

	"github.com/taijiproxy/taiji/internal/metrics"
)

// Manager is the control-plane owner of the current FCM Snapshot. One
// Manager exists per listener. It implements the "writer under lock, many
// lock-free readers" discipline of spec.md §5: Current() takes the
// reader-biased fast path of an xsync.RBMutex, Replace() takes the writer
// path only for the pointer swap itself.
type Manager struct {
	mu       *xsync.RBMutex
	current  *Snapshot
	draining *xsync.Map[string, *FilterChain]
	name     string
}

// NewManager creates an empty Manager for the named listener.
func NewManager(listenerName string) *Manager {
	return &Manager{
		mu:       xsync.NewRBMutex(),
		draining: xsync.NewMap[string, *FilterChain](),
		name:     listenerName,
	}
}

// Current returns the currently published Snapshot. Safe to call
// concurrently with Replace; a caller either observes the old snapshot
// entirely or the new one, never a torn state (spec.md §5).
func (m *Manager) Current() *Snapshot {
	t := m.mu.RLock()
	defer m.mu.RUnlock(t)
	return m.current
}

// Replace builds next via Build, then atomically swaps it in under the
// writer lock, moving every chain dropped by the new snapshot onto the
// draining list (spec.md §4.5, §5). It returns the newly installed
// snapshot, or an error if Build failed — in which case the previously
// published snapshot remains active (spec.md §7).
func (m *Manager) Replace(in BuildInput) (*Snapshot, error) {
	parent := m.Current()
	in.Parent = parent

	next, err := Build(in)
	if err != nil {
		metrics.FCMBuildErrorsTotal.WithLabelValues(m.name).Inc()
		return nil, err
	}
	next.listenerName = m.name

	dropped := DrainingFromParent(parent, next)

	m.mu.Lock()
	m.current = next
	m.mu.Unlock()

	for _, fc := range dropped {
		fc.StartDraining()
		m.draining.Store(fc.Name, fc)
	}
	metrics.FCMSnapshotGenerationsTotal.WithLabelValues(m.name).Inc()
	metrics.FCMDrainingChains.WithLabelValues(m.name).Set(float64(m.drainingCount()))
	return next, nil
}

// ReleaseDrained removes chains from the draining list once every connection
// referencing them has closed (spec.md §3 lifecycle).
func (m *Manager) ReleaseDrained() {
	m.draining.Range(func(name string, fc *FilterChain) bool {
		if fc.RefCount() <= 0 {
			m.draining.Delete(name)
		}
		return true
	})
	metrics.FCMDrainingChains.WithLabelValues(m.name).Set(float64(m.drainingCount()))
}

// DrainingFilterChains returns the chains currently awaiting drain,
// readable lock-free by metrics-reporting goroutines (spec.md §5).
func (m *Manager) DrainingFilterChains() []*FilterChain {
	var out []*FilterChain
	m.draining.Range(func(_ string, fc *FilterChain) bool {
		out = append(out, fc)
		return true
	})
	return out
}

func (m *Manager) drainingCount() int {
	n := 0
	m.draining.Range(func(string, *FilterChain) bool {
		n++
		return true
	})
	return n
}
