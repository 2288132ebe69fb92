package lb

import (
	"math"

	"github.com/pkg/errors"

	"github.com/taijiproxy/taiji/internal/lb/lbtypes"
)

// ErrWeightOverflow is returned when a weight sum would exceed uint32 max,
// spec.md §7 "WeightOverflow".
var ErrWeightOverflow = errors.New("sum of host or locality weights exceeds uint32 max")

// ErrMismatchedLocalityWeights is returned when the locality-weights map
// and hostsPerLocality have different lengths, spec.md §7
// "MismatchedLocalityWeights". Only the lengths are compared; the locality
// keys themselves are not checked against each other.
var ErrMismatchedLocalityWeights = errors.New("locality weights do not match hosts-per-locality")

const maxWeightSum = math.MaxUint32

// normalizeHostWeights implements spec.md §4.6's innermost step: emit
// (host, host.weight*localityWeight/sum) for a flat host list, tracking
// min/max as it goes. Accumulates the weight sum in uint64 so the overflow
// check against uint32 max is exact, mirroring the original's accumulator.
func normalizeHostWeights(hosts []*lbtypes.Host, normalizedLocalityWeight float64, out *lbtypes.NormalizedHostWeightVector) error {
	var sum uint64
	for _, h := range hosts {
		sum += uint64(h.Weight)
		if sum > maxWeightSum {
			return errors.WithStack(ErrWeightOverflow)
		}
	}
	if sum == 0 {
		return nil
	}

	for _, h := range hosts {
		weight := float64(h.Weight) * normalizedLocalityWeight / float64(sum)
		out.Weights = append(out.Weights, lbtypes.NormalizedHostWeight{Host: h, Weight: weight})
		if weight < out.Min {
			out.Min = weight
		}
		if weight > out.Max {
			out.Max = weight
		}
	}
	return nil
}

// normalizeLocalityWeights implements spec.md §4.6's "locality path".
func normalizeLocalityWeights(hostsPerLocality map[lbtypes.LocalityID][]*lbtypes.Host, localityWeights lbtypes.LocalityWeights, out *lbtypes.NormalizedHostWeightVector) error {
	if len(localityWeights) != len(hostsPerLocality) {
		return errors.WithStack(ErrMismatchedLocalityWeights)
	}

	var sum uint64
	for _, w := range localityWeights {
		sum += uint64(w)
		if sum > maxWeightSum {
			return errors.WithStack(ErrWeightOverflow)
		}
	}
	if sum == 0 {
		return nil
	}

	for locality, weight := range localityWeights {
		if weight == 0 {
			continue
		}
		normalizedLocalityWeight := float64(weight) / float64(sum)
		if err := normalizeHostWeights(hostsPerLocality[locality], normalizedLocalityWeight, out); err != nil {
			return err
		}
	}
	return nil
}

// normalizeWeights implements spec.md §4.6 in full: chooses the flat or
// locality-weighted path depending on localityWeightedBalancing and whether
// the host set carries locality weights.
func normalizeWeights(hs *lbtypes.HostSet, inPanic, localityWeightedBalancing bool) (lbtypes.NormalizedHostWeightVector, error) {
	out := lbtypes.NormalizedHostWeightVector{Min: 1.0, Max: 0.0}

	if !localityWeightedBalancing || len(hs.LocalityWeights) == 0 {
		hosts := hs.HealthyHosts
		if inPanic {
			hosts = hs.Hosts
		}
		if err := normalizeHostWeights(hosts, 1.0, &out); err != nil {
			return out, err
		}
		return out, nil
	}

	hostsPerLocality := hs.HealthyHostsPerLocality
	if inPanic {
		hostsPerLocality = hs.HostsPerLocality
	}
	if err := normalizeLocalityWeights(hostsPerLocality, hs.LocalityWeights, &out); err != nil {
		return out, err
	}
	return out, nil
}
