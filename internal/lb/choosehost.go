package lb

import (
	"math/rand/v2"
	"time"

	"github.com/taijiproxy/taiji/internal/lb/lbtypes"
	"github.com/taijiproxy/taiji/internal/metrics"
)

// Context is the per-request view chooseHost consumes, spec.md §6
// "LoadBalancerContext": optional hash policy, retry budget, and a host
// filter the caller can use to reject an otherwise-valid selection (e.g. to
// avoid a host already tried on a previous upstream attempt).
type Context struct {
	// ComputeHash returns the request's hash key, or ok=false if neither a
	// hash policy nor computeHashKey() produced one (spec.md §4.8 step 2).
	ComputeHash func() (hash uint64, ok bool)
	// HostSelectionRetryCount bounds the retry loop beyond the first
	// attempt (spec.md §4.8 step 5).
	HostSelectionRetryCount uint32
	// ShouldSelectAnotherHost rejects a candidate host, forcing another
	// retry attempt. The final attempt's result is returned regardless.
	ShouldSelectAnotherHost func(host *lbtypes.Host) bool
}

// ChooseHost implements spec.md §4.8. It is synchronous, non-cancellable,
// and allocation-light: no snapshot lock is held once Current() returns.
func (m *Manager) ChooseHost(ctx *Context) (*lbtypes.Host, bool) {
	start := time.Now()
	defer func() {
		metrics.LBChooseHostDuration.WithLabelValues(m.cluster).Observe(time.Since(start).Seconds())
	}()

	snap := m.Current()
	if snap == nil {
		return nil, false
	}

	var hash uint64
	if ctx != nil && ctx.ComputeHash != nil {
		if h, ok := ctx.ComputeHash(); ok {
			hash = h
		} else {
			hash = rand.Uint64()
		}
	} else {
		hash = rand.Uint64()
	}

	priority, _ := choosePriority(hash, snap.healthyLoad, snap.degradedLoad)
	if int(priority) >= len(snap.perPriority) {
		return nil, false
	}
	state := snap.perPriority[priority]
	if state.globalPanic {
		metrics.LBHealthyPanicTotal.WithLabelValues(m.cluster).Inc()
	}

	maxAttempts := uint32(1)
	if ctx != nil {
		maxAttempts = ctx.HostSelectionRetryCount + 1
	}

	var host *lbtypes.Host
	var ok bool
	for attempt := uint32(0); attempt < maxAttempts; attempt++ {
		host, ok = state.hasher.ChooseHost(hash, attempt)
		if !ok {
			return nil, false
		}
		if ctx == nil || ctx.ShouldSelectAnotherHost == nil || !ctx.ShouldSelectAnotherHost(host) {
			return host, true
		}
	}
	return host, ok
}

// choosePriority maps hash's low-order bits across the cumulative
// healthy/degraded priority-load vectors, spec.md §4.8 step 3. healthyLoad
// and degradedLoad each sum to at most 100; degraded is consulted only for
// the remainder healthyLoad does not cover.
func choosePriority(hash uint64, healthyLoad, degradedLoad []uint32) (priority uint32, degraded bool) {
	point := uint32(hash % 100)

	var cumulative uint32
	for i, load := range healthyLoad {
		cumulative += load
		if point < cumulative {
			return uint32(i), false
		}
	}
	for i, load := range degradedLoad {
		cumulative += load
		if point < cumulative {
			return uint32(i), true
		}
	}
	if len(healthyLoad) == 0 {
		return 0, false
	}
	return uint32(len(healthyLoad) - 1), false
}
