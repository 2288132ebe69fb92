// Package fcm implements the filter-chain matcher: the per-connection index
// build (spec.md §4.2), lookup (§4.3), optional matcher-tree mode (§4.4), and
// parent-snapshot inheritance (§4.5).
package fcm

import (
	"net/netip"
	"sync/atomic"
	"time"
)

// SourceType classifies a connection's remote endpoint for the source-type
// match dimension (spec.md §3).
type SourceType int

const (
	SourceTypeAny SourceType = iota
	SourceTypeLocal
	SourceTypeExternal
)

func (s SourceType) String() string {
	switch s {
	case SourceTypeLocal:
		return "LOCAL"
	case SourceTypeExternal:
		return "EXTERNAL"
	default:
		return "ANY"
	}
}

// Match is the conjunction predicate a connection must satisfy, spec.md §3.
// Every field is optional; the zero value of a field means "any".
type Match struct {
	DestinationPort       *uint16
	DestinationIPs        []netip.Prefix
	ServerNames           []string
	TransportProtocol     string
	ApplicationProtocols  []string
	DirectSourceIPs       []netip.Prefix
	SourceType            SourceType
	SourceIPs             []netip.Prefix
	SourcePorts           []uint16
}

// FactoryContext is a per-chain object whose lifetime bounds the connections
// still using the chain. It is an upward borrow, never owned by the chain
// (spec.md §9 "cyclic ownership").
type FactoryContext struct {
	parent Borrowable
}

// Borrowable is the narrow interface a listener's shared factory context
// exposes upward; modeled as a borrow reference with lifetime bounded by the
// snapshot that created it (spec.md §9).
type Borrowable interface {
	StartDraining()
}

// NewFactoryContext creates a per-chain factory context bound to parent.
func NewFactoryContext(parent Borrowable) *FactoryContext {
	return &FactoryContext{parent: parent}
}

// StartDraining forwards the draining signal to the context's parent, if
// any. It does not guard against repeated calls itself; FilterChain's
// StartDraining calls it at most once per chain.
func (c *FactoryContext) StartDraining() {
	if c == nil || c.parent == nil {
		return
	}
	c.parent.StartDraining()
}

// NetworkFilterFactory is an opaque, named network-filter factory entry.
// The real filter instantiation machinery is an excluded collaborator
// (spec.md §1); the matcher only needs to carry the ordered factory list
// through to the connection fan-out step.
type NetworkFilterFactory struct {
	Name   string
	Config map[string]any
}

// FilterChain is an owned, immutable (post-construction) pipeline bound to a
// Match predicate, spec.md §3.
type FilterChain struct {
	Name                        string
	Match                       Match
	TransportSocketConfig       map[string]any
	Filters                     []NetworkFilterFactory
	TransportSocketConnectTimeout time.Duration
	AddedViaAPI                 bool

	draining atomic.Bool
	refs     atomic.Int64
	ctx      *FactoryContext
}

// SetFactoryContext binds the chain's per-chain factory context. Called at
// most once, during Build.
func (fc *FilterChain) SetFactoryContext(ctx *FactoryContext) {
	fc.ctx = ctx
}

// FactoryContext returns the chain's bound factory context, or nil.
func (fc *FilterChain) FactoryContext() *FactoryContext { return fc.ctx }

// StartDraining flips the chain's draining flag exactly once.
func (fc *FilterChain) StartDraining() {
	if fc.draining.CompareAndSwap(false, true) {
		fc.ctx.StartDraining()
	}
}

// IsDraining reports whether the chain has been marked for draining.
func (fc *FilterChain) IsDraining() bool { return fc.draining.Load() }

// Acquire/Release track in-flight connections referencing the chain so its
// destruction can be deferred until both the owning index and every
// connection have released it (spec.md §3 invariants).
func (fc *FilterChain) Acquire() { fc.refs.Add(1) }

// Release returns the chain's remaining reference count after decrementing.
func (fc *FilterChain) Release() int64 { return fc.refs.Add(-1) }

// RefCount returns the current reference count.
func (fc *FilterChain) RefCount() int64 { return fc.refs.Load() }

// ConnectionSocket is the read-only view of an accepted downstream
// connection the matcher consumes (spec.md §6).
type ConnectionSocket interface {
	DestinationPort() uint16
	DestinationIP() netip.Addr
	RequestedServerName() string
	DetectedTransportProtocol() string
	RequestedApplicationProtocols() []string
	DirectRemoteIP() netip.Addr
	RemoteIP() netip.Addr
	RemoteSourcePort() uint16
	LocalOrUDS() bool
}
