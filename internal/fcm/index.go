package fcm

import (
	"net/netip"

	"github.com/taijiproxy/taiji/internal/lpm"
)

// The nested index mirrors spec.md §3/§4.2: one typed level per match
// dimension, tested in the fixed order destination port -> destination IP ->
// server name -> transport protocol -> application protocol -> direct-source
// IP -> source type -> source IP -> source port. Each IP-keyed level keeps
// the flat map it was built from alongside the LPM trie frozen from it.
// Inheritance does not use these maps; it goes through Snapshot.byMatchKey.

type ipLevel[Next any] struct {
	any   *Next
	exact map[string]*Next // keyed by prefix.String(), built during insert
	trie  *lpm.Trie[*Next]
}

func newIPLevel[Next any]() *ipLevel[Next] {
	return &ipLevel[Next]{exact: make(map[string]*Next)}
}

func (l *ipLevel[Next]) getOrCreateAny(newNext func() *Next) *Next {
	if l.any == nil {
		l.any = newNext()
	}
	return l.any
}

func (l *ipLevel[Next]) getOrCreate(p netip.Prefix, newNext func() *Next) *Next {
	key := p.Masked().String()
	n, ok := l.exact[key]
	if !ok {
		n = newNext()
		l.exact[key] = n
	}
	return n
}

// freeze materializes the LPM trie from the flat map, spec.md §4.2 step 3.
func (l *ipLevel[Next]) freeze() {
	entries := make([]lpm.Entry[*Next], 0, len(l.exact))
	for k, v := range l.exact {
		p, err := netip.ParsePrefix(k)
		if err != nil {
			continue
		}
		entries = append(entries, lpm.Entry[*Next]{Prefix: p, Value: v})
	}
	l.trie = lpm.Build(entries)
}

// lookup resolves the LPM match, falling back to the "any" bucket.
func (l *ipLevel[Next]) lookup(addr netip.Addr) *Next {
	if l.trie != nil {
		if v, ok := l.trie.Lookup(addr); ok {
			return v
		}
	}
	return l.any
}

type serverNameLevel struct {
	exact map[string]*transportProtocolLevel // "" = any, ".foo.com" = wildcard, "foo.com" = exact
}

func newServerNameLevel() *serverNameLevel {
	return &serverNameLevel{exact: make(map[string]*transportProtocolLevel)}
}

func (l *serverNameLevel) getOrCreate(key string) *transportProtocolLevel {
	n, ok := l.exact[key]
	if !ok {
		n = newTransportProtocolLevel()
		l.exact[key] = n
	}
	return n
}

// lookup implements spec.md §4.3 step 3: exact SNI first, then the longest
// matching wildcard (".foo.example.com" before ".example.com"), then "any".
func (l *serverNameLevel) lookup(sni string) *transportProtocolLevel {
	if sni != "" {
		if n, ok := l.exact[sni]; ok {
			return n
		}
		// Longest matching wildcard: walk the dotted suffixes of sni from
		// most to least specific and test each as a stored wildcard key.
		rest := sni
		for {
			idx := indexByte(rest, '.')
			if idx < 0 {
				break
			}
			rest = rest[idx:] // includes leading '.'
			if n, ok := l.exact[rest]; ok {
				return n
			}
			rest = rest[1:]
		}
	}
	return l.exact[""]
}

func indexByte(s string, c byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == c {
			return i
		}
	}
	return -1
}

type transportProtocolLevel struct {
	exact map[string]*applicationProtocolLevel // "" = any
}

func newTransportProtocolLevel() *transportProtocolLevel {
	return &transportProtocolLevel{exact: make(map[string]*applicationProtocolLevel)}
}

func (l *transportProtocolLevel) getOrCreate(proto string) *applicationProtocolLevel {
	n, ok := l.exact[proto]
	if !ok {
		n = newApplicationProtocolLevel()
		l.exact[proto] = n
	}
	return n
}

func (l *transportProtocolLevel) lookup(proto string) *applicationProtocolLevel {
	if proto != "" {
		if n, ok := l.exact[proto]; ok {
			return n
		}
	}
	return l.exact[""]
}

type applicationProtocolLevel struct {
	exact map[string]*ipLevel[sourceTypeLevel] // "" = any; Next is direct-source-IP level
}

func newApplicationProtocolLevel() *applicationProtocolLevel {
	return &applicationProtocolLevel{exact: make(map[string]*ipLevel[sourceTypeLevel])}
}

func (l *applicationProtocolLevel) getOrCreate(proto string) *ipLevel[sourceTypeLevel] {
	n, ok := l.exact[proto]
	if !ok {
		n = newIPLevel[sourceTypeLevel]()
		l.exact[proto] = n
	}
	return n
}

// lookup tries each ALPN offered by the connection in order, spec.md §4.3
// step 5, then falls back to "any".
func (l *applicationProtocolLevel) lookup(offered []string) *ipLevel[sourceTypeLevel] {
	for _, proto := range offered {
		if n, ok := l.exact[proto]; ok {
			return n
		}
	}
	return l.exact[""]
}

type sourceTypeLevel struct {
	local    *ipLevel[sourcePortLevel]
	external *ipLevel[sourcePortLevel]
	any      *ipLevel[sourcePortLevel]
}

func (l *sourceTypeLevel) getOrCreate(t SourceType) *ipLevel[sourcePortLevel] {
	switch t {
	case SourceTypeLocal:
		if l.local == nil {
			l.local = newIPLevel[sourcePortLevel]()
		}
		return l.local
	case SourceTypeExternal:
		if l.external == nil {
			l.external = newIPLevel[sourcePortLevel]()
		}
		return l.external
	default:
		if l.any == nil {
			l.any = newIPLevel[sourcePortLevel]()
		}
		return l.any
	}
}

// lookup tries the socket's own class first, then ANY, spec.md §4.3 step 7.
func (l *sourceTypeLevel) lookup(localOrUDS bool) *ipLevel[sourcePortLevel] {
	if localOrUDS {
		if l.local != nil {
			return l.local
		}
	} else if l.external != nil {
		return l.external
	}
	return l.any
}

type sourcePortLevel struct {
	exact map[uint16]*FilterChain // 0 = any
}

func newSourcePortLevel() *sourcePortLevel {
	return &sourcePortLevel{exact: make(map[uint16]*FilterChain)}
}

func (l *sourcePortLevel) set(port uint16, fc *FilterChain) {
	l.exact[port] = fc
}

func (l *sourcePortLevel) lookup(port uint16) *FilterChain {
	if fc, ok := l.exact[port]; ok {
		return fc
	}
	return l.exact[0]
}

// index is the full nested destination-port-rooted structure.
type index struct {
	destPorts map[uint16]*ipLevel[serverNameLevel] // 0 = any
}

func newIndex() *index {
	return &index{destPorts: make(map[uint16]*ipLevel[serverNameLevel])}
}

func (idx *index) destPortLevel(port uint16) *ipLevel[serverNameLevel] {
	n, ok := idx.destPorts[port]
	if !ok {
		n = newIPLevel[serverNameLevel]()
		idx.destPorts[port] = n
	}
	return n
}

// insert threads a single filter chain into every path its Match's set
// dimensions expand to, spec.md §4.2 step 2.
func (idx *index) insert(fc *FilterChain) error {
	m := fc.Match

	ports := []uint16{0}
	if m.DestinationPort != nil {
		ports = []uint16{*m.DestinationPort}
	}
	for _, port := range ports {
		level := idx.destPortLevel(port)
		if err := insertDestIP(level, m.DestinationIPs, m, fc); err != nil {
			return err
		}
	}
	return nil
}

func insertDestIP(level *ipLevel[serverNameLevel], ips []netip.Prefix, m Match, fc *FilterChain) error {
	newNext := func() *serverNameLevel { return newServerNameLevel() }
	if len(ips) == 0 {
		return insertServerName(level.getOrCreateAny(newNext), m, fc)
	}
	for _, ip := range ips {
		next := level.getOrCreate(ip, newNext)
		if err := insertServerName(next, m, fc); err != nil {
			return err
		}
	}
	return nil
}

func insertServerName(level *serverNameLevel, m Match, fc *FilterChain) error {
	names := m.ServerNames
	if len(names) == 0 {
		return insertTransportProtocol(level.getOrCreate(""), m, fc)
	}
	for _, name := range names {
		key := name
		if isWildcardServerName(name) {
			canon, err := canonicalWildcard(name)
			if err != nil {
				return err
			}
			key = canon
		}
		if err := insertTransportProtocol(level.getOrCreate(key), m, fc); err != nil {
			return err
		}
	}
	return nil
}

func insertTransportProtocol(level *transportProtocolLevel, m Match, fc *FilterChain) error {
	return insertApplicationProtocol(level.getOrCreate(m.TransportProtocol), m, fc)
}

func insertApplicationProtocol(level *applicationProtocolLevel, m Match, fc *FilterChain) error {
	protos := m.ApplicationProtocols
	if len(protos) == 0 {
		return insertDirectSourceIP(level.getOrCreate(""), m, fc)
	}
	for _, proto := range protos {
		if err := insertDirectSourceIP(level.getOrCreate(proto), m, fc); err != nil {
			return err
		}
	}
	return nil
}

func insertDirectSourceIP(level *ipLevel[sourceTypeLevel], m Match, fc *FilterChain) error {
	newNext := func() *sourceTypeLevel { return &sourceTypeLevel{} }
	ips := m.DirectSourceIPs
	if len(ips) == 0 {
		return insertSourceType(level.getOrCreateAny(newNext), m, fc)
	}
	for _, ip := range ips {
		next := level.getOrCreate(ip, newNext)
		if err := insertSourceType(next, m, fc); err != nil {
			return err
		}
	}
	return nil
}

func insertSourceType(level *sourceTypeLevel, m Match, fc *FilterChain) error {
	if m.SourceType == SourceTypeLocal && len(m.SourceIPs) > 0 {
		return ErrConflictingSourceType
	}
	return insertSourceIP(level.getOrCreate(m.SourceType), m, fc)
}

func insertSourceIP(level *ipLevel[sourcePortLevel], m Match, fc *FilterChain) error {
	newNext := func() *sourcePortLevel { return newSourcePortLevel() }
	ips := m.SourceIPs
	if len(ips) == 0 {
		return insertSourcePort(level.getOrCreateAny(newNext), m, fc)
	}
	for _, ip := range ips {
		next := level.getOrCreate(ip, newNext)
		if err := insertSourcePort(next, m, fc); err != nil {
			return err
		}
	}
	return nil
}

func insertSourcePort(level *sourcePortLevel, m Match, fc *FilterChain) error {
	ports := m.SourcePorts
	if len(ports) == 0 {
		level.set(0, fc)
		return nil
	}
	for _, port := range ports {
		level.set(port, fc)
	}
	return nil
}

// freeze materializes every IP-keyed level's LPM trie, spec.md §4.2 step 3.
// Must be called after every chain has been inserted.
func (idx *index) freeze() {
	for _, destIPLevel := range idx.destPorts {
		destIPLevel.freeze()
		freezeMapValues(destIPLevel.exact, freezeServerNameLevel)
		if destIPLevel.any != nil {
			freezeServerNameLevel(destIPLevel.any)
		}
	}
}

func freezeServerNameLevel(l *serverNameLevel) {
	for _, tp := range l.exact {
		freezeTransportProtocolLevel(tp)
	}
}

func freezeTransportProtocolLevel(l *transportProtocolLevel) {
	for _, ap := range l.exact {
		freezeApplicationProtocolLevel(ap)
	}
}

func freezeApplicationProtocolLevel(l *applicationProtocolLevel) {
	for _, dsip := range l.exact {
		dsip.freeze()
		freezeMapValues(dsip.exact, freezeSourceTypeLevel)
		if dsip.any != nil {
			freezeSourceTypeLevel(dsip.any)
		}
	}
}

func freezeSourceTypeLevel(l *sourceTypeLevel) {
	for _, sipLevel := range []*ipLevel[sourcePortLevel]{l.local, l.external, l.any} {
		if sipLevel != nil {
			sipLevel.freeze()
		}
	}
}

func freezeMapValues[K comparable, V any](m map[K]*V, fn func(*V)) {
	for _, v := range m {
		fn(v)
	}
}
