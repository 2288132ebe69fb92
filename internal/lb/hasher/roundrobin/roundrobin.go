// Package roundrobin implements the degenerate Hasher spec.md §4.8 step 2
// describes: "if neither yields a value, use a fresh random u64 (degenerates
// to random LB)". Built on atomicgo.dev/robin, another of the
// teacher's declared-but-unexercised dependencies, for the case where a
// priority is configured with no hash policy at all and plain rotation is
// preferred over per-call randomness.
package roundrobin

import (
	"atomicgo.dev/robin"

	"github.com/taijiproxy/taiji/internal/lb/lbtypes"
)

// Hasher ignores the hash entirely and rotates through the host list.
type Hasher struct {
	hosts []*lbtypes.Host
	r     *robin.Loadbalancer[*lbtypes.Host]
}

// New builds a round-robin Hasher over weights' hosts, in the order given.
// Each host appears once per rotation; the weights themselves are ignored.
func New(weights lbtypes.NormalizedHostWeightVector) *Hasher {
	h := &Hasher{}
	for _, hw := range weights.Weights {
		h.hosts = append(h.hosts, hw.Host)
	}
	if len(h.hosts) == 0 {
		return h
	}
	h.r = robin.NewLoadbalancer(h.hosts)
	return h
}

// ChooseHost implements lbtypes.Hasher, ignoring hash and attempt.
func (h *Hasher) ChooseHost(uint64, uint32) (*lbtypes.Host, bool) {
	if h.r == nil {
		return nil, false
	}
	return h.r.Next(), true
}
