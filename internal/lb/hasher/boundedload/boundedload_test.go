package boundedload_test

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/taijiproxy/taiji/internal/lb/hasher/boundedload"
	"github.com/taijiproxy/taiji/internal/lb/lbtypes"
)

func TestBoundedload(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "boundedload suite")
}

type fixedHasher struct {
	host *lbtypes.Host
}

func (f fixedHasher) ChooseHost(uint64, uint32) (*lbtypes.Host, bool) { return f.host, true }

type constCluster int64

func (c constCluster) UpstreamRequestsActive() int64 { return int64(c) }

var _ = Describe("Hasher", func() {
	It("returns the primary host unmodified when it is not overloaded", func() {
		a := &lbtypes.Host{Address: "a"}
		weights := lbtypes.NormalizedHostWeightVector{
			Weights: []lbtypes.NormalizedHostWeight{{Host: a, Weight: 1.0}},
		}
		h := boundedload.New(fixedHasher{host: a}, weights, 150, "test-cluster", constCluster(0))
		host, ok := h.ChooseHost(1, 0)
		Expect(ok).To(BeTrue())
		Expect(host).To(BeIdenticalTo(a))
	})

	It("probes an alternate host when the primary exceeds its slot ceiling", func() {
		a := &lbtypes.Host{Address: "a", Weight: 1}
		b := &lbtypes.Host{Address: "b", Weight: 1}
		a.ActiveRequests.Store(10)
		b.ActiveRequests.Store(0)

		weights := lbtypes.NormalizedHostWeightVector{
			Weights: []lbtypes.NormalizedHostWeight{{Host: a, Weight: 0.5}, {Host: b, Weight: 0.5}},
		}
		// total_slots = ceil(11*150/100) = 17; per-host slots = ceil(17*0.5) = 9.
		// a.rq_active=10 > 9 -> factor > 1.0; b.rq_active=0 -> factor 0.
		h := boundedload.New(fixedHasher{host: a}, weights, 150, "test-cluster", constCluster(10))
		host, ok := h.ChooseHost(42, 0)
		Expect(ok).To(BeTrue())
		Expect(host).To(BeIdenticalTo(b))
	})

	It("produces the same probe outcome for the same seed hash", func() {
		a := &lbtypes.Host{Address: "a", Weight: 1}
		b := &lbtypes.Host{Address: "b", Weight: 1}
		c := &lbtypes.Host{Address: "c", Weight: 1}
		a.ActiveRequests.Store(100)
		b.ActiveRequests.Store(100)
		c.ActiveRequests.Store(100)

		weights := lbtypes.NormalizedHostWeightVector{
			Weights: []lbtypes.NormalizedHostWeight{
				{Host: a, Weight: 1.0 / 3},
				{Host: b, Weight: 1.0 / 3},
				{Host: c, Weight: 1.0 / 3},
			},
		}
		h := boundedload.New(fixedHasher{host: a}, weights, 100, "test-cluster", constCluster(300))
		host1, _ := h.ChooseHost(999, 0)
		host2, _ := h.ChooseHost(999, 0)
		Expect(host2).To(BeIdenticalTo(host1))
	})
})
