package roundrobin_test

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/taijiproxy/taiji/internal/lb/hasher/roundrobin"
	"github.com/taijiproxy/taiji/internal/lb/lbtypes"
)

func TestRoundrobin(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "roundrobin suite")
}

var _ = Describe("Hasher", func() {
	It("rotates through every configured host", func() {
		a := &lbtypes.Host{Address: "a"}
		b := &lbtypes.Host{Address: "b"}
		weights := lbtypes.NormalizedHostWeightVector{
			Weights: []lbtypes.NormalizedHostWeight{{Host: a, Weight: 0.5}, {Host: b, Weight: 0.5}},
		}
		h := roundrobin.New(weights)

		seen := map[*lbtypes.Host]bool{}
		for i := 0; i < 4; i++ {
			host, ok := h.ChooseHost(0, 0)
			Expect(ok).To(BeTrue())
			seen[host] = true
		}
		Expect(seen).To(HaveLen(2))
	})

	It("returns ok=false with no hosts", func() {
		h := roundrobin.New(lbtypes.NormalizedHostWeightVector{})
		_, ok := h.ChooseHost(0, 0)
		Expect(ok).To(BeFalse())
	})
})
