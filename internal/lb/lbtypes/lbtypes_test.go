package lbtypes_test

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/taijiproxy/taiji/internal/lb/lbtypes"
)

func TestLbtypes(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "lbtypes suite")
}

func newHost(healthy bool) *lbtypes.Host {
	h := &lbtypes.Host{Weight: 1}
	h.Healthy.Store(healthy)
	return h
}

var _ = Describe("PrioritySet", func() {
	It("flags a priority as panicking once healthy fraction drops below the default threshold", func() {
		unhealthy := []*lbtypes.Host{newHost(false), newHost(false), newHost(false)}
		healthy := []*lbtypes.Host{newHost(true)}
		hs := &lbtypes.HostSet{Hosts: append(append([]*lbtypes.Host{}, unhealthy...), healthy...), HealthyHosts: healthy}

		ps := lbtypes.NewPrioritySet([]*lbtypes.HostSet{hs})
		Expect(ps.HostSets()[0].Panic).To(BeTrue())
	})

	It("does not panic a priority whose healthy fraction meets the threshold", func() {
		a, b := newHost(true), newHost(true)
		hs := &lbtypes.HostSet{Hosts: []*lbtypes.Host{a, b}, HealthyHosts: []*lbtypes.Host{a, b}}

		ps := lbtypes.NewPrioritySet([]*lbtypes.HostSet{hs})
		Expect(ps.HostSets()[0].Panic).To(BeFalse())
	})

	It("honors an overridden panic threshold", func() {
		a, b := newHost(true), newHost(false)
		hs := &lbtypes.HostSet{Hosts: []*lbtypes.Host{a, b}, HealthyHosts: []*lbtypes.Host{a}}

		ps := lbtypes.NewPrioritySet([]*lbtypes.HostSet{hs})
		Expect(ps.HostSets()[0].Panic).To(BeFalse(), "50%% healthy should not panic under the default threshold")

		ps.SetPanicThreshold(0.75)
		Expect(ps.HostSets()[0].Panic).To(BeTrue(), "the same topology should panic once the threshold is raised")
	})

	It("assigns all healthy load to the highest-priority set with healthy hosts", func() {
		empty := &lbtypes.HostSet{Priority: 0}
		withHealthy := &lbtypes.HostSet{Priority: 1, Hosts: []*lbtypes.Host{newHost(true)}, HealthyHosts: []*lbtypes.Host{newHost(true)}}

		ps := lbtypes.NewPrioritySet([]*lbtypes.HostSet{empty, withHealthy})
		sets := ps.HostSets()
		Expect(sets[0].HealthyPriorityLoad).To(Equal(uint32(0)))
		Expect(sets[1].HealthyPriorityLoad).To(Equal(uint32(100)))
	})

	It("falls back to degraded load on the first priority when no priority has healthy hosts", func() {
		empty := &lbtypes.HostSet{Priority: 0}
		ps := lbtypes.NewPrioritySet([]*lbtypes.HostSet{empty})
		Expect(ps.HostSets()[0].DegradedPriorityLoad).To(Equal(uint32(100)))
	})

	It("rederives panic and load vectors on Update", func() {
		a := newHost(true)
		hs := &lbtypes.HostSet{Priority: 0, Hosts: []*lbtypes.Host{a}, HealthyHosts: []*lbtypes.Host{a}}
		ps := lbtypes.NewPrioritySet([]*lbtypes.HostSet{hs})
		Expect(ps.HostSets()[0].Panic).To(BeFalse())

		allUnhealthy := &lbtypes.HostSet{Priority: 0, Hosts: []*lbtypes.Host{newHost(false)}}
		ps.Update([]*lbtypes.HostSet{allUnhealthy})
		Expect(ps.HostSets()[0].Panic).To(BeTrue())
	})
})
