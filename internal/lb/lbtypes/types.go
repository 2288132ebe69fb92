// Package lbtypes holds the types shared between internal/lb and its
// internal/lb/hasher/* implementations, kept in their own package so neither
// side has to import the other.
package lbtypes

import "sync/atomic"

// Host is a single upstream endpoint. ActiveRequests is the per-host counter
// the bounded-load overload formula reads; it is a hint, not a strict
// invariant (spec.md §5), so it is a plain atomic with no surrounding lock.
type Host struct {
	Address        string
	Weight         uint32
	Healthy        atomic.Bool
	ActiveRequests atomic.Int64
}

// LocalityID names one locality within a priority's host set.
type LocalityID string

// LocalityWeights maps each locality present in a priority to its
// configured weight (spec.md §4.6 "locality path").
type LocalityWeights map[LocalityID]uint32

// HostSet is the read-only per-priority view the normalizer and chooseHost
// consume (spec.md §4.6 inputs). Panic, HealthyPriorityLoad, and
// DegradedPriorityLoad are data the priority "holds" (spec.md §3), derived
// by PrioritySet whenever topology changes and then only copied by
// lb.Manager.Refresh — mirroring thread_aware_lb_impl.cc:156-158, where
// refresh() does `per_priority_state->global_panic_ =
// per_priority_panic_[priority]`, a read of a value computed elsewhere, not
// a formula refresh() owns.
type HostSet struct {
	Priority                uint32
	Hosts                   []*Host
	HealthyHosts            []*Host
	HostsPerLocality        map[LocalityID][]*Host
	HealthyHostsPerLocality map[LocalityID][]*Host
	LocalityWeights         LocalityWeights

	Panic                bool
	HealthyPriorityLoad  uint32
	DegradedPriorityLoad uint32
}

// DefaultPanicThreshold is the conventional Envoy panic threshold: a
// priority enters panic mode once fewer than 50% of its hosts are healthy
// (spec.md §3 "a configured threshold"). PrioritySet uses this unless
// SetPanicThreshold overrides it.
const DefaultPanicThreshold = 0.5

// PrioritySet is the control plane's read-only topology view, spec.md §6
// "Priority set". Callbacks registered via AddPriorityUpdateCb run after a
// topology change so the owner can trigger a snapshot refresh.
//
// PrioritySet is also where each HostSet's panic flag and priority-load
// vectors are derived (thread_aware_lb_impl.cc's PrioritySetImpl owns this
// same computation, kept separate from ThreadAwareLoadBalancerBase::refresh
// which only copies the result) — NewPrioritySet/Update recompute them
// whenever the topology changes, so every HostSet reader, including
// lb.Manager.Refresh, only ever reads already-derived fields.
type PrioritySet struct {
	priorities     atomic.Pointer[[]*HostSet]
	callbacks      []func(priority uint32)
	panicThreshold float64
}

// NewPrioritySet builds a PrioritySet over the given per-priority host sets,
// deriving each one's panic flag and priority-load vectors under
// DefaultPanicThreshold.
func NewPrioritySet(priorities []*HostSet) *PrioritySet {
	ps := &PrioritySet{panicThreshold: DefaultPanicThreshold}
	ps.recompute(priorities)
	return ps
}

// SetPanicThreshold overrides the healthy-fraction threshold a priority
// must fall below to enter panic mode (spec.md §3 "a configured
// threshold"), and immediately rederives every current HostSet's panic flag
// and priority-load vectors under the new threshold.
func (ps *PrioritySet) SetPanicThreshold(threshold float64) {
	ps.panicThreshold = threshold
	ps.recompute(ps.HostSets())
}

// HostSets returns every priority's host set in priority order, a snapshot
// safe to read without synchronization even while Update runs concurrently.
func (ps *PrioritySet) HostSets() []*HostSet {
	p := ps.priorities.Load()
	if p == nil {
		return nil
	}
	return *p
}

// Update atomically replaces the topology and notifies every registered
// callback for each replaced priority, the trigger discovery backends
// (CSV reload, Redis pub/sub) use to push a new membership view.
func (ps *PrioritySet) Update(priorities []*HostSet) {
	ps.recompute(priorities)
	for _, hs := range priorities {
		ps.NotifyUpdate(hs.Priority)
	}
}

// recompute derives every HostSet's panic flag and the two priority-load
// vectors before publishing the slice atomically, so no reader ever
// observes a HostSet whose derived fields lag its membership.
func (ps *PrioritySet) recompute(priorities []*HostSet) {
	threshold := ps.panicThreshold
	if threshold <= 0 {
		threshold = DefaultPanicThreshold
	}
	for _, hs := range priorities {
		hs.Panic = isPanic(hs, threshold)
	}
	assignPriorityLoad(priorities)
	ps.priorities.Store(&priorities)
}

// isPanic applies spec.md §3's "a configured threshold": a priority enters
// panic mode once its healthy fraction falls below threshold.
func isPanic(hs *HostSet, threshold float64) bool {
	if len(hs.Hosts) == 0 {
		return false
	}
	return float64(len(hs.HealthyHosts)) < threshold*float64(len(hs.Hosts))
}

// assignPriorityLoad distributes 100 load units across priorities,
// preferring lower (more significant) priorities that still have healthy
// capacity, falling back to degraded allocation for the remainder. This is
// PrioritySetImpl's responsibility in the original, not
// ThreadAwareLoadBalancerBase::refresh()'s, which only copies the result
// (thread_aware_lb_impl.cc:139-142).
func assignPriorityLoad(priorities []*HostSet) {
	remaining := uint32(100)
	for _, hs := range priorities {
		hs.HealthyPriorityLoad = 0
		hs.DegradedPriorityLoad = 0
	}
	for _, hs := range priorities {
		if remaining == 0 {
			break
		}
		if len(hs.HealthyHosts) == 0 {
			continue
		}
		hs.HealthyPriorityLoad = remaining
		remaining = 0
	}
	if remaining > 0 && len(priorities) > 0 {
		priorities[0].DegradedPriorityLoad = remaining
	}
}

// AddPriorityUpdateCb registers a callback invoked after topology changes,
// spec.md §6 "Exposes a callback registration (addPriorityUpdateCb)".
func (ps *PrioritySet) AddPriorityUpdateCb(cb func(priority uint32)) {
	ps.callbacks = append(ps.callbacks, cb)
}

// NotifyUpdate invokes every registered callback for the given priority.
func (ps *PrioritySet) NotifyUpdate(priority uint32) {
	for _, cb := range ps.callbacks {
		cb(priority)
	}
}

// NormalizedHostWeight pairs a host with its normalized [0,1] weight,
// spec.md §4.6.
type NormalizedHostWeight struct {
	Host   *Host
	Weight float64
}

// NormalizedHostWeightVector is one priority's normalization result,
// including the running min/max emitted weight (spec.md §4.6).
type NormalizedHostWeightVector struct {
	Weights []NormalizedHostWeight
	Min     float64
	Max     float64
}

// Hasher is the pluggable per-priority hashing structure, spec.md §9
// "createLoadBalancer(weights, min, max) -> Hasher". Implementations:
// internal/lb/hasher/{ringhash,rendezvous,boundedload,roundrobin}.
type Hasher interface {
	// ChooseHost returns the host selected for hash at the given retry
	// attempt, or ok=false if the hasher holds no hosts.
	ChooseHost(hash uint64, attempt uint32) (host *Host, ok bool)
}
