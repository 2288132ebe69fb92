package fcm

import (
	"time"

	"github.com/pkg/errors"
)

// ChainSpec is the builder's input for one filter chain, spec.md §6 "sequence
// of { match, transport_socket, filters, connect_timeout, name, added_via_api }".
type ChainSpec struct {
	Name                  string
	Match                 Match
	TransportSocketConfig map[string]any
	Filters               []NetworkFilterFactory
	ConnectTimeout        int64 // nanoseconds; Build converts it to a time.Duration
	AddedViaAPI           bool
}

// BuildInput bundles everything Build needs: the chain specs, an optional
// default chain, an optional matcher tree (with its name->spec pairing), and
// the parent snapshot to inherit unchanged chains from (spec.md §4.5).
type BuildInput struct {
	Chains       []ChainSpec
	Default      *ChainSpec
	Matcher      MatchTree
	Parent       *Snapshot
	NewFactoryContext func(name string) *FactoryContext
}

// Build constructs a new immutable Snapshot from in, per spec.md §4.2–§4.5.
// On error the returned Snapshot is nil and the caller's previously published
// snapshot remains active (spec.md §7).
func Build(in BuildInput) (*Snapshot, error) {
	if in.NewFactoryContext == nil {
		in.NewFactoryContext = func(string) *FactoryContext { return NewFactoryContext(nil) }
	}

	if err := verifyNoDuplicateMatchers(in.Chains); err != nil {
		return nil, err
	}

	idx := newIndex()
	byMatchKey := make(map[string]*FilterChain, len(in.Chains))
	byName := make(map[string]*FilterChain, len(in.Chains))
	chains := make([]*FilterChain, 0, len(in.Chains))
	adopted := make(map[*FilterChain]bool)

	for _, spec := range in.Chains {
		fc := instantiateOrReuse(spec, in.Parent, in.NewFactoryContext, adopted)
		if err := idx.insert(fc); err != nil {
			return nil, err
		}
		byMatchKey[canonicalKey(spec.Match)] = fc
		byName[spec.Name] = fc
		chains = append(chains, fc)
	}
	idx.freeze()

	var defaultChain *FilterChain
	if in.Default != nil {
		defaultChain = instantiateOrReuse(*in.Default, in.Parent, in.NewFactoryContext, adopted)
		chains = append(chains, defaultChain)
	}

	snap := &Snapshot{
		idx:          idx,
		defaultChain: defaultChain,
		matcher:      in.Matcher,
		byName:       byName,
		byMatchKey:   byMatchKey,
		chains:       chains,
	}
	return snap, nil
}

// verifyNoDuplicateMatchers implements spec.md §4.2 step 1.
func verifyNoDuplicateMatchers(specs []ChainSpec) error {
	seen := make(map[string]string, len(specs))
	for _, spec := range specs {
		key := canonicalKey(spec.Match)
		if other, ok := seen[key]; ok {
			return errors.WithStack(&DuplicateMatcherError{First: other, Second: spec.Name})
		}
		seen[key] = spec.Name
	}
	return nil
}

// instantiateOrReuse implements spec.md §4.5: a new chain whose match is
// byte-identical to a parent chain's reuses the parent's *FilterChain object
// (identity, not just equality), keeping its factory context and warm state.
func instantiateOrReuse(spec ChainSpec, parent *Snapshot, newCtx func(string) *FactoryContext, adopted map[*FilterChain]bool) *FilterChain {
	if parent != nil {
		key := canonicalKey(spec.Match)
		if existing, ok := parent.byMatchKey[key]; ok {
			adopted[existing] = true
			return existing
		}
	}

	fc := &FilterChain{
		Name:                          spec.Name,
		Match:                         spec.Match,
		TransportSocketConfig:         spec.TransportSocketConfig,
		Filters:                       spec.Filters,
		TransportSocketConnectTimeout: time.Duration(spec.ConnectTimeout),
		AddedViaAPI:                   spec.AddedViaAPI,
	}
	fc.SetFactoryContext(newCtx(spec.Name))
	return fc
}

// DrainingFromParent computes the parent chains not adopted by the new
// snapshot, spec.md §4.5 "all parent chains not adopted by the new FCM are
// appended to draining_filter_chains of the parent listener when the new FCM
// is installed." The caller (the control-plane Manager) is responsible for
// appending these to its draining list and flipping their draining flag.
func DrainingFromParent(parent, next *Snapshot) []*FilterChain {
	if parent == nil {
		return nil
	}
	stillReferenced := make(map[*FilterChain]bool, len(next.chains))
	for _, fc := range next.chains {
		stillReferenced[fc] = true
	}

	var draining []*FilterChain
	for _, fc := range parent.chains {
		if !stillReferenced[fc] {
			draining = append(draining, fc)
		}
	}
	return draining
}
