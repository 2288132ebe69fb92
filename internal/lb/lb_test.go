package lb_test

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/taijiproxy/taiji/internal/lb"
	"github.com/taijiproxy/taiji/internal/lb/lbtypes"
)

func TestLb(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "lb suite")
}

func newHost(weight uint32) *lbtypes.Host {
	h := &lbtypes.Host{Weight: weight}
	h.Healthy.Store(true)
	return h
}

var _ = Describe("weight normalization", func() {
	It("splits weight 3:1 into 0.75/0.25 with no locality weights", func() {
		a, b := newHost(3), newHost(1)
		hs := &lbtypes.HostSet{
			Hosts:        []*lbtypes.Host{a, b},
			HealthyHosts: []*lbtypes.Host{a, b},
		}
		out, err := lb.NormalizeWeights(hs, false, false)
		Expect(err).NotTo(HaveOccurred())
		Expect(out.Weights).To(HaveLen(2))

		byHost := map[*lbtypes.Host]float64{}
		for _, w := range out.Weights {
			byHost[w.Host] = w.Weight
		}
		Expect(byHost[a]).To(BeNumerically("~", 0.75, 1e-9))
		Expect(byHost[b]).To(BeNumerically("~", 0.25, 1e-9))
	})

	It("uses the full host list, not just healthy ones, when in panic", func() {
		a, b := newHost(1), newHost(1)
		hs := &lbtypes.HostSet{
			Hosts:        []*lbtypes.Host{a, b},
			HealthyHosts: []*lbtypes.Host{a},
		}
		out, err := lb.NormalizeWeights(hs, true, false)
		Expect(err).NotTo(HaveOccurred())
		Expect(out.Weights).To(HaveLen(2))
	})

	It("normalizes across localities weighted by locality weight", func() {
		a := newHost(1)
		b := newHost(1)
		hs := &lbtypes.HostSet{
			HealthyHosts: []*lbtypes.Host{a, b},
			HealthyHostsPerLocality: map[lbtypes.LocalityID][]*lbtypes.Host{
				"us": {a},
				"eu": {b},
			},
			LocalityWeights: lbtypes.LocalityWeights{"us": 3, "eu": 1},
		}
		out, err := lb.NormalizeWeights(hs, false, true)
		Expect(err).NotTo(HaveOccurred())

		byHost := map[*lbtypes.Host]float64{}
		for _, w := range out.Weights {
			byHost[w.Host] = w.Weight
		}
		Expect(byHost[a]).To(BeNumerically("~", 0.75, 1e-9))
		Expect(byHost[b]).To(BeNumerically("~", 0.25, 1e-9))
	})

	It("rejects a locality-weights map that doesn't match hosts-per-locality", func() {
		a := newHost(1)
		hs := &lbtypes.HostSet{
			HealthyHosts:            []*lbtypes.Host{a},
			HealthyHostsPerLocality: map[lbtypes.LocalityID][]*lbtypes.Host{"us": {a}},
			LocalityWeights:         lbtypes.LocalityWeights{"us": 1, "eu": 1},
		}
		_, err := lb.NormalizeWeights(hs, false, true)
		Expect(err).To(HaveOccurred())
	})

	It("rejects a weight sum overflowing uint32", func() {
		a := newHost(4000000000)
		b := newHost(4000000000)
		hs := &lbtypes.HostSet{HealthyHosts: []*lbtypes.Host{a, b}}
		_, err := lb.NormalizeWeights(hs, false, false)
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("choosePriority", func() {
	It("is deterministic for a fixed hash and load vector", func() {
		healthy := []uint32{100}
		degraded := []uint32{0}
		p1, _ := lb.ChoosePriority(42, healthy, degraded)
		p2, _ := lb.ChoosePriority(42, healthy, degraded)
		Expect(p1).To(Equal(p2))
		Expect(p1).To(Equal(uint32(0)))
	})

	It("spills into the next priority once the first is exhausted", func() {
		healthy := []uint32{0, 100}
		p, _ := lb.ChoosePriority(1, healthy, []uint32{0, 0})
		Expect(p).To(Equal(uint32(1)))
	})
})
