package fcm

import "github.com/taijiproxy/taiji/internal/metrics"

// Snapshot is the immutable FCM index published atomically to data-plane
// readers, spec.md §3 "Filter-chain index (FCM snapshot)". listenerName is
// stamped on by Manager.Replace so FindFilterChain can label the
// taiji_fcm_lookup_total counter without threading the listener name
// through every caller.
type Snapshot struct {
	idx          *index
	defaultChain *FilterChain
	matcher      MatchTree
	byName       map[string]*FilterChain
	byMatchKey   map[string]*FilterChain
	chains       []*FilterChain
	listenerName string
}

// FindFilterChain is the data-plane lookup entry point, spec.md §4.3/§4.4.
// It never panics and never blocks; it returns nil when nothing matches and
// no default chain is configured (spec.md §7). Every call is counted by
// outcome ("matched", "default", "no_match") against the listener name.
func (s *Snapshot) FindFilterChain(sock ConnectionSocket) *FilterChain {
	if s == nil {
		return nil
	}
	if s.matcher != nil {
		if name, ok := s.matcher.Evaluate(sock); ok {
			if fc, ok := s.byName[name]; ok {
				metrics.FCMLookupTotal.WithLabelValues(s.listenerName, "matched").Inc()
				return fc
			}
		}
		return s.fallback()
	}
	if fc := s.idx.find(sock); fc != nil {
		metrics.FCMLookupTotal.WithLabelValues(s.listenerName, "matched").Inc()
		return fc
	}
	return s.fallback()
}

// fallback records the "default"/"no_match" outcome and returns whichever
// chain applies.
func (s *Snapshot) fallback() *FilterChain {
	if s.defaultChain != nil {
		metrics.FCMLookupTotal.WithLabelValues(s.listenerName, "default").Inc()
	} else {
		metrics.FCMLookupTotal.WithLabelValues(s.listenerName, "no_match").Inc()
	}
	return s.defaultChain
}

// DefaultFilterChain returns the snapshot's fallback chain, or nil.
func (s *Snapshot) DefaultFilterChain() *FilterChain { return s.defaultChain }

// Chains returns every chain reachable from this snapshot (index leaves,
// matcher-tree targets, and the default), for metrics/iteration use.
func (s *Snapshot) Chains() []*FilterChain {
	out := make([]*FilterChain, len(s.chains))
	copy(out, s.chains)
	return out
}
