package lpm_test

import (
	"net/netip"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/taijiproxy/taiji/internal/lpm"
)

func TestLpm(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "lpm suite")
}

var _ = Describe("Trie", func() {
	It("returns the longest matching prefix", func() {
		trie := lpm.Build([]lpm.Entry[string]{
			{Prefix: netip.MustParsePrefix("10.0.0.0/8"), Value: "broad"},
			{Prefix: netip.MustParsePrefix("10.1.2.0/24"), Value: "specific"},
		})

		v, ok := trie.Lookup(netip.MustParseAddr("10.1.2.5"))
		Expect(ok).To(BeTrue())
		Expect(v).To(Equal("specific"))

		v, ok = trie.Lookup(netip.MustParseAddr("10.2.0.1"))
		Expect(ok).To(BeTrue())
		Expect(v).To(Equal("broad"))
	})

	It("returns false when nothing matches", func() {
		trie := lpm.Build([]lpm.Entry[string]{
			{Prefix: netip.MustParsePrefix("192.168.0.0/16"), Value: "x"},
		})
		_, ok := trie.Lookup(netip.MustParseAddr("8.8.8.8"))
		Expect(ok).To(BeFalse())
	})

	It("treats 0.0.0.0/0 and ::/0 as catch-alls", func() {
		trie := lpm.Build([]lpm.Entry[string]{
			{Prefix: netip.MustParsePrefix("0.0.0.0/0"), Value: "v4-any"},
			{Prefix: netip.MustParsePrefix("::/0"), Value: "v6-any"},
		})

		v, ok := trie.Lookup(netip.MustParseAddr("203.0.113.7"))
		Expect(ok).To(BeTrue())
		Expect(v).To(Equal("v4-any"))

		v, ok = trie.Lookup(netip.MustParseAddr("2001:db8::1"))
		Expect(ok).To(BeTrue())
		Expect(v).To(Equal("v6-any"))
	})

	It("keeps IPv4 and IPv6 spaces independent", func() {
		trie := lpm.Build([]lpm.Entry[string]{
			{Prefix: netip.MustParsePrefix("10.0.0.0/8"), Value: "v4"},
		})
		_, ok := trie.Lookup(netip.MustParseAddr("::ffff:10.0.0.1"))
		// The IPv4-mapped form is still an IPv6 address per netip, so it
		// must not match the IPv4-only entry.
		Expect(ok).To(BeFalse())
	})

	It("last write wins for duplicate CIDRs", func() {
		trie := lpm.Build([]lpm.Entry[string]{
			{Prefix: netip.MustParsePrefix("10.0.0.0/8"), Value: "first"},
			{Prefix: netip.MustParsePrefix("10.0.0.0/8"), Value: "second"},
		})
		v, ok := trie.Lookup(netip.MustParseAddr("10.0.0.1"))
		Expect(ok).To(BeTrue())
		Expect(v).To(Equal("second"))
	})
})
