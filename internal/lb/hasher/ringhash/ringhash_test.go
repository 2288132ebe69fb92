package ringhash_test

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/taijiproxy/taiji/internal/lb/hasher/ringhash"
	"github.com/taijiproxy/taiji/internal/lb/lbtypes"
)

func TestRinghash(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "ringhash suite")
}

var _ = Describe("Ring", func() {
	It("is deterministic for a fixed hash and attempt", func() {
		a := &lbtypes.Host{Address: "10.0.0.1:80"}
		b := &lbtypes.Host{Address: "10.0.0.2:80"}
		weights := lbtypes.NormalizedHostWeightVector{
			Weights: []lbtypes.NormalizedHostWeight{{Host: a, Weight: 0.5}, {Host: b, Weight: 0.5}},
			Min:     0.5,
			Max:     0.5,
		}
		r := ringhash.New(weights)

		h1, ok1 := r.ChooseHost(12345, 0)
		h2, ok2 := r.ChooseHost(12345, 0)
		Expect(ok1).To(BeTrue())
		Expect(ok2).To(BeTrue())
		Expect(h2).To(BeIdenticalTo(h1))
	})

	It("returns ok=false for an empty ring", func() {
		r := ringhash.New(lbtypes.NormalizedHostWeightVector{})
		_, ok := r.ChooseHost(1, 0)
		Expect(ok).To(BeFalse())
	})

	It("can select every configured host across a spread of hashes", func() {
		a := &lbtypes.Host{Address: "10.0.0.1:80"}
		b := &lbtypes.Host{Address: "10.0.0.2:80"}
		weights := lbtypes.NormalizedHostWeightVector{
			Weights: []lbtypes.NormalizedHostWeight{{Host: a, Weight: 0.5}, {Host: b, Weight: 0.5}},
			Min:     0.5,
			Max:     0.5,
		}
		r := ringhash.New(weights)

		seen := map[*lbtypes.Host]bool{}
		for h := uint64(0); h < 4096; h++ {
			host, ok := r.ChooseHost(h*0x9E3779B97F4A7C15, 0)
			Expect(ok).To(BeTrue())
			seen[host] = true
		}
		Expect(seen).To(HaveLen(2))
	})
})
