// Package boundedload wraps another Hasher to enforce spec.md §4.10's
// per-host active-request ceiling, probing alternate hosts via a seeded
// deterministic random walk when the primary choice is overloaded.
package boundedload

import (
	"math"

	"github.com/taijiproxy/taiji/internal/lb/lbtypes"
	"github.com/taijiproxy/taiji/internal/metrics"
)

// ClusterStats exposes the cluster-wide counter the overload formula needs.
// Implemented by whatever owns the cluster's aggregate request count.
type ClusterStats interface {
	UpstreamRequestsActive() int64
}

// Hasher enforces a per-host ceiling of hashBalanceFactor/100 times the
// cluster-wide mean active-request count on top of a wrapped primary
// Hasher, spec.md §4.10.
type Hasher struct {
	inner             lbtypes.Hasher
	weights           map[*lbtypes.Host]float64
	ordered           []lbtypes.NormalizedHostWeight
	hashBalanceFactor uint32
	cluster           ClusterStats
	clusterName       string
}

// New wraps inner with bounded-load probing. hashBalanceFactor is the
// "x100 percent" ceiling multiplier spec.md §4.10 defines; cluster supplies
// the cluster-wide active-request count the overload formula needs;
// clusterName labels the taiji_lb_overload_probes_total counter.
func New(inner lbtypes.Hasher, weights lbtypes.NormalizedHostWeightVector, hashBalanceFactor uint32, clusterName string, cluster ClusterStats) *Hasher {
	h := &Hasher{
		inner:             inner,
		weights:           make(map[*lbtypes.Host]float64, len(weights.Weights)),
		ordered:           weights.Weights,
		hashBalanceFactor: hashBalanceFactor,
		cluster:           cluster,
		clusterName:       clusterName,
	}
	for _, hw := range weights.Weights {
		h.weights[hw.Host] = hw.Weight
	}
	return h
}

// hostOverloadFactor implements spec.md §4.10's "Overload factor" formula
// exactly, including the strict `>` boundary the design notes require be
// preserved.
func (h *Hasher) hostOverloadFactor(host *lbtypes.Host, weight float64) float64 {
	overallActive := h.cluster.UpstreamRequestsActive()
	totalSlots := math.Ceil(float64(overallActive+1) * float64(h.hashBalanceFactor) / 100)
	slots := math.Max(math.Ceil(totalSlots*weight), 1)
	return float64(host.ActiveRequests.Load()) / slots
}

// ChooseHost implements lbtypes.Hasher.
func (h *Hasher) ChooseHost(hash uint64, attempt uint32) (*lbtypes.Host, bool) {
	if len(h.ordered) == 0 {
		return nil, false
	}

	host, ok := h.inner.ChooseHost(hash, attempt)
	if !ok {
		return nil, false
	}
	weight := h.weights[host]
	factor := h.hostOverloadFactor(host, weight)
	if factor <= 1.0 {
		return host, true
	}

	return h.probe(hash, host, factor)
}

// probe implements spec.md §4.10 step 3: a Fisher-Yates-style shuffle over
// host indices, driven by an MT19937 PRNG seeded with hash, skipping the
// primary and stopping at the first host whose overload factor is <= 1.0.
func (h *Hasher) probe(hash uint64, primary *lbtypes.Host, primaryFactor float64) (*lbtypes.Host, bool) {
	n := uint32(len(h.ordered))
	idx := make([]uint32, n)
	for i := range idx {
		idx[i] = uint32(i)
	}

	rng := newMT19937(hash)
	leastOverloaded := primary
	leastFactor := primaryFactor

	for i := uint32(0); i < n; i++ {
		j := uniformInt(rng, n-i)
		idx[i], idx[i+j] = idx[i+j], idx[i]

		candidate := h.ordered[idx[i]].Host
		if candidate == primary {
			continue
		}

		metrics.LBOverloadProbesTotal.WithLabelValues(h.clusterName).Inc()
		factor := h.hostOverloadFactor(candidate, h.ordered[idx[i]].Weight)
		if factor <= 1.0 {
			return candidate, true
		}
		if factor < leastFactor {
			leastOverloaded = candidate
			leastFactor = factor
		}
	}

	return leastOverloaded, true
}
