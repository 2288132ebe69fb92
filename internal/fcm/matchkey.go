package fcm

import (
	"fmt"
	"net/netip"
	"sort"
	"strings"
)

// canonicalKey deterministically encodes a Match so two structurally
// identical predicates produce the same string, used for duplicate
// detection (spec.md §4.2 step 1) and for inheritance reuse (spec.md §4.5,
// "byte-identical" FilterChainMatch).
func canonicalKey(m Match) string {
	var b strings.Builder

	if m.DestinationPort != nil {
		fmt.Fprintf(&b, "port=%d;", *m.DestinationPort)
	} else {
		b.WriteString("port=any;")
	}

	writeSortedPrefixes(&b, "dip", m.DestinationIPs)
	writeSortedStrings(&b, "sni", m.ServerNames)
	fmt.Fprintf(&b, "transport=%s;", m.TransportProtocol)
	writeSortedStrings(&b, "alpn", m.ApplicationProtocols)
	writeSortedPrefixes(&b, "dsip", m.DirectSourceIPs)
	fmt.Fprintf(&b, "srctype=%s;", m.SourceType)
	writeSortedPrefixes(&b, "sip", m.SourceIPs)
	writeSortedPorts(&b, "sport", m.SourcePorts)

	return b.String()
}

func writeSortedStrings(b *strings.Builder, label string, vs []string) {
	cp := append([]string(nil), vs...)
	sort.Strings(cp)
	fmt.Fprintf(b, "%s=%s;", label, strings.Join(cp, ","))
}

func writeSortedPrefixes(b *strings.Builder, label string, ps []netip.Prefix) {
	cp := make([]string, len(ps))
	for i, p := range ps {
		cp[i] = p.String()
	}
	sort.Strings(cp)
	fmt.Fprintf(b, "%s=%s;", label, strings.Join(cp, ","))
}

func writeSortedPorts(b *strings.Builder, label string, ports []uint16) {
	cp := append([]uint16(nil), ports...)
	sort.Slice(cp, func(i, j int) bool { return cp[i] < cp[j] })
	fmt.Fprintf(b, "%s=", label)
	for i, p := range cp {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(b, "%d", p)
	}
	b.WriteByte(';')
}

// isWildcardServerName reports whether name is a wildcard pattern of the
// form "*.example.com", mirroring
// FilterChainManagerImpl::isWildcardServerName in the original source.
func isWildcardServerName(name string) bool {
	return strings.HasPrefix(name, "*.")
}

// canonicalWildcard turns "*.example.com" into the stored form
// ".example.com" (spec.md §3: "Wildcard server names are stored
// canonicalized with a leading `.`"), rejecting bare-TLD wildcards such as
// "*.com" per policy (spec.md §4.2 InvalidWildcard).
func canonicalWildcard(name string) (string, error) {
	rest := name[1:] // drop leading '*', keep the '.'
	labelPart := rest[1:]
	if !strings.Contains(labelPart, ".") {
		return "", fmt.Errorf("%w: %q is a bare-TLD wildcard", ErrInvalidWildcard, name)
	}
	return rest, nil
}
