package hosts_test

import (
	"os"
	"path/filepath"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/taijiproxy/taiji/internal/config/hosts"
)

func TestHosts(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "hosts suite")
}

func writeCSV(dir, contents string) string {
	path := filepath.Join(dir, "hosts.csv")
	Expect(os.WriteFile(path, []byte(contents), 0o644)).To(Succeed())
	return path
}

var _ = Describe("Load", func() {
	It("parses a well-formed CSV into a priority-ordered set", func() {
		dir := GinkgoT().TempDir()
		path := writeCSV(dir, "address,weight,priority,locality,healthy\n"+
			"10.0.0.1:8080,3,0,us,true\n"+
			"10.0.0.2:8080,1,0,eu,true\n"+
			"10.0.1.1:8080,1,1,us,true\n")

		ps, err := hosts.LoadNew(path, func(string, ...any) {})
		Expect(err).NotTo(HaveOccurred())

		sets := ps.HostSets()
		Expect(sets).To(HaveLen(2))
		Expect(sets[0].Hosts).To(HaveLen(2))
		Expect(sets[1].Hosts).To(HaveLen(1))
	})

	It("defaults a 4-column row to healthy", func() {
		dir := GinkgoT().TempDir()
		path := writeCSV(dir, "10.0.0.1:8080,1,0,us\n")

		ps, err := hosts.LoadNew(path, func(string, ...any) {})
		Expect(err).NotTo(HaveOccurred())
		Expect(ps.HostSets()[0].HealthyHosts).To(HaveLen(1))
	})

	It("skips malformed rows without failing the whole load", func() {
		dir := GinkgoT().TempDir()
		path := writeCSV(dir, "too,few,columns\n"+"10.0.0.1:8080,1,0,us,true\n")

		var warnings int
		ps, err := hosts.LoadNew(path, func(string, ...any) { warnings++ })
		Expect(err).NotTo(HaveOccurred())
		Expect(warnings).To(Equal(1))
		Expect(ps.HostSets()[0].Hosts).To(HaveLen(1))
	})

	It("fails when no valid rows are present", func() {
		dir := GinkgoT().TempDir()
		path := writeCSV(dir, "address,weight,priority,locality,healthy\n")

		_, err := hosts.LoadNew(path, func(string, ...any) {})
		Expect(err).To(HaveOccurred())
	})
})
