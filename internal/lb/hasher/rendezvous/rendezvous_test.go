package rendezvous_test

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/taijiproxy/taiji/internal/lb/hasher/rendezvous"
	"github.com/taijiproxy/taiji/internal/lb/lbtypes"
)

func TestRendezvous(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "rendezvous suite")
}

var _ = Describe("Hasher", func() {
	It("is deterministic for a fixed hash and attempt", func() {
		a := &lbtypes.Host{Address: "10.0.0.1:80"}
		b := &lbtypes.Host{Address: "10.0.0.2:80"}
		weights := lbtypes.NormalizedHostWeightVector{
			Weights: []lbtypes.NormalizedHostWeight{{Host: a, Weight: 0.5}, {Host: b, Weight: 0.5}},
			Min:     0.5,
		}
		h := rendezvous.New(weights)

		host1, ok1 := h.ChooseHost(777, 0)
		host2, ok2 := h.ChooseHost(777, 0)
		Expect(ok1).To(BeTrue())
		Expect(ok2).To(BeTrue())
		Expect(host2).To(BeIdenticalTo(host1))
	})

	It("returns ok=false with no configured hosts", func() {
		h := rendezvous.New(lbtypes.NormalizedHostWeightVector{})
		_, ok := h.ChooseHost(1, 0)
		Expect(ok).To(BeFalse())
	})
})
