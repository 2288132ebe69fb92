package lb

import (
	"strconv"

	"github.com/alitto/pond"
	"github.com/puzpuzpuz/xsync/v4"

	"github.com/taijiproxy/taiji/internal/lb/lbtypes"
	"github.com/taijiproxy/taiji/internal/metrics"
)

// HasherFactory builds a priority's Hasher from its normalized weights,
// spec.md §4.7's "invokes the subclass's createLoadBalancer(weights, min,
// max)". Swappable per cluster: ringhash.New, rendezvous.New, a
// boundedload.New wrapping one of those, or roundrobin.New.
type HasherFactory func(weights lbtypes.NormalizedHostWeightVector) lbtypes.Hasher

type perPriorityState struct {
	globalPanic bool
	hasher      lbtypes.Hasher
}

// Snapshot is the immutable, reader-shared per-cluster LB state published
// by Manager.Refresh, spec.md §4.7.
type Snapshot struct {
	perPriority  []perPriorityState
	healthyLoad  []uint32
	degradedLoad []uint32
}

// Manager owns one cluster's current Snapshot under the writer/reader
// discipline spec.md §5 describes: the control thread publishes under a
// writer lock, workers read via a reader-biased lock long enough only to
// clone the shared reference.
type Manager struct {
	cluster                   string
	priorities                *lbtypes.PrioritySet
	newHasher                 HasherFactory
	localityWeightedBalancing bool

	mu      *xsync.RBMutex
	current *Snapshot

	pool *pond.WorkerPool
}

// NewManager builds a Manager for the named cluster, registering itself
// against priorities' update callback so topology changes trigger Refresh
// automatically (mirrors ThreadAwareLoadBalancerBase::initialize).
func NewManager(cluster string, priorities *lbtypes.PrioritySet, newHasher HasherFactory, localityWeightedBalancing bool) *Manager {
	m := &Manager{
		cluster:                   cluster,
		priorities:                priorities,
		newHasher:                 newHasher,
		localityWeightedBalancing: localityWeightedBalancing,
		mu:                        xsync.NewRBMutex(),
		pool:                      pond.New(4, 0),
	}
	priorities.AddPriorityUpdateCb(func(uint32) { _ = m.Refresh() })
	return m
}

// Current returns the Manager's currently published Snapshot via the
// reader-biased fast path; never blocks on a concurrent Refresh.
func (m *Manager) Current() *Snapshot {
	t := m.mu.RLock()
	defer m.mu.RUnlock(t)
	return m.current
}

// Refresh rebuilds every priority's normalized weights and Hasher, then
// swaps the whole per-priority state vector in as a single atomic
// transaction, spec.md §4.7. Per-priority normalization runs concurrently
// across the Manager's worker pool, since priorities are independent.
func (m *Manager) Refresh() error {
	hostSets := m.priorities.HostSets()
	next := make([]perPriorityState, len(hostSets))
	errs := make([]error, len(hostSets))

	group := m.pool.Group()
	for i, hs := range hostSets {
		i, hs := i, hs
		group.Submit(func() {
			weights, err := normalizeWeights(hs, hs.Panic, m.localityWeightedBalancing)
			if err != nil {
				errs[i] = err
				return
			}
			next[i] = perPriorityState{globalPanic: hs.Panic, hasher: m.newHasher(weights)}
		})
	}
	group.Wait()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}

	// refresh only copies the priority-load vectors PrioritySet already
	// derived (spec.md §4.7 step 3), the same division of labor
	// thread_aware_lb_impl.cc keeps between PrioritySetImpl and
	// ThreadAwareLoadBalancerBase::refresh().
	healthyLoad := make([]uint32, len(hostSets))
	degradedLoad := make([]uint32, len(hostSets))
	for i, hs := range hostSets {
		healthyLoad[i] = hs.HealthyPriorityLoad
		degradedLoad[i] = hs.DegradedPriorityLoad
	}

	snap := &Snapshot{perPriority: next, healthyLoad: healthyLoad, degradedLoad: degradedLoad}

	m.mu.Lock()
	m.current = snap
	m.mu.Unlock()

	metrics.LBSnapshotGenerationsTotal.WithLabelValues(m.cluster).Inc()
	panicActive := 0.0
	for i, hs := range hostSets {
		metrics.LBHostsHealthy.WithLabelValues(m.cluster, strconv.FormatUint(uint64(hs.Priority), 10)).Set(float64(len(hs.HealthyHosts)))
		if next[i].globalPanic {
			panicActive = 1
		}
	}
	metrics.LBPanicModeActive.WithLabelValues(m.cluster).Set(panicActive)
	return nil
}
