// Package rendezvous implements the HRW (highest random weight) hashing
// Hasher by wrapping github.com/dgryski/go-rendezvous, one of the
// unexercised consistent-hashing dependencies the teacher's go.mod already
// declared.
package rendezvous

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
	"github.com/dgryski/go-rendezvous"

	"github.com/taijiproxy/taiji/internal/lb/lbtypes"
)

// Hasher picks the highest-scoring host for a given request hash.
// Rendezvous hashing does not natively support weighted nodes, so New
// expands each host into a node count proportional to its normalized weight
// to approximate it.
type Hasher struct {
	rv    *rendezvous.Rendezvous
	nodes map[string]*lbtypes.Host
}

// New builds a rendezvous Hasher from weights.
func New(weights lbtypes.NormalizedHostWeightVector) *Hasher {
	h := &Hasher{nodes: make(map[string]*lbtypes.Host, len(weights.Weights))}

	minWeight := weights.Min
	if minWeight <= 0 && len(weights.Weights) > 0 {
		minWeight = weights.Weights[0].Weight
	}

	var names []string
	for _, hw := range weights.Weights {
		replicas := int(hw.Weight/minWeight + 0.5)
		if replicas < 1 {
			replicas = 1
		}
		for i := 0; i < replicas; i++ {
			name := nodeName(hw.Host.Address, i)
			names = append(names, name)
			h.nodes[name] = hw.Host
		}
	}

	h.rv = rendezvous.New(names, hashSeeded)
	return h
}

func nodeName(address string, i int) string {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(i))
	return address + "#" + string(buf[:])
}

func hashSeeded(s string) uint64 {
	h := xxhash.New()
	_, _ = h.WriteString(s)
	return h.Sum64()
}

// ChooseHost implements lbtypes.Hasher. attempt is folded into the lookup
// key so each retry deterministically looks up a different key; that key
// can still resolve to the same node as an earlier attempt.
func (h *Hasher) ChooseHost(hash uint64, attempt uint32) (*lbtypes.Host, bool) {
	if h.rv == nil || len(h.nodes) == 0 {
		return nil, false
	}
	key := hashKey(hash, attempt)
	node := h.rv.Lookup(key)
	host, ok := h.nodes[node]
	return host, ok
}

func hashKey(hash uint64, attempt uint32) string {
	var buf [12]byte
	binary.LittleEndian.PutUint64(buf[:8], hash)
	binary.LittleEndian.PutUint32(buf[8:], attempt)
	return string(buf[:])
}
