// Package ringhash implements the default consistent-hashing Hasher: a
// sorted ring of virtual nodes, weighted by each host's normalized weight,
// searched by binary search on the request hash (spec.md §9 "ring-hash ...
// variant").
package ringhash

import (
	"encoding/binary"
	"sort"

	"github.com/cespare/xxhash/v2"

	"github.com/taijiproxy/taiji/internal/lb/lbtypes"
)

type ringEntry struct {
	hash uint64
	host *lbtypes.Host
}

// Ring is a weighted consistent-hash ring over one priority's normalized
// host weights.
type Ring struct {
	entries []ringEntry
}

// New builds a Ring from weights, spec.md §4.7's per-priority
// createLoadBalancer(weights, min, max) call. minWeight determines how many
// virtual nodes the lightest host gets; every other host gets
// proportionally more.
func New(weights lbtypes.NormalizedHostWeightVector) *Ring {
	if len(weights.Weights) == 0 {
		return &Ring{}
	}

	minWeight := weights.Min
	if minWeight <= 0 {
		minWeight = weights.Weights[0].Weight
	}

	r := &Ring{}
	for _, hw := range weights.Weights {
		vnodes := int(hw.Weight/minWeight*16 + 0.5)
		if vnodes < 1 {
			vnodes = 1
		}
		for i := 0; i < vnodes; i++ {
			r.entries = append(r.entries, ringEntry{hash: vnodeHash(hw.Host.Address, i), host: hw.Host})
		}
	}
	sort.Slice(r.entries, func(i, j int) bool { return r.entries[i].hash < r.entries[j].hash })
	return r
}

func vnodeHash(address string, i int) uint64 {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(i))
	h := xxhash.New()
	_, _ = h.WriteString(address)
	_, _ = h.Write(buf[:])
	return h.Sum64()
}

// ChooseHost implements lbtypes.Hasher. attempt perturbs the search point
// deterministically so retries probe different ring positions for the same
// hash.
func (r *Ring) ChooseHost(hash uint64, attempt uint32) (*lbtypes.Host, bool) {
	if len(r.entries) == 0 {
		return nil, false
	}
	if attempt > 0 {
		hash = rehash(hash, attempt)
	}
	i := sort.Search(len(r.entries), func(i int) bool { return r.entries[i].hash >= hash })
	if i == len(r.entries) {
		i = 0
	}
	return r.entries[i].host, true
}

func rehash(hash uint64, attempt uint32) uint64 {
	var buf [12]byte
	binary.LittleEndian.PutUint64(buf[:8], hash)
	binary.LittleEndian.PutUint32(buf[8:], attempt)
	return xxhash.Sum64(buf[:])
}
