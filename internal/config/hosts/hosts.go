// Package hosts loads the cluster's host topology from a CSV file, the
// teacher's config format generalized from a flat subdomain->backend table
// into a weighted, prioritized, locality-aware host list (spec.md §3 "Data
// model" / §6 "Priority set").
package hosts

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/taijiproxy/taiji/internal/lb/lbtypes"
	"github.com/taijiproxy/taiji/internal/metrics"
)

// Row is one parsed CSV line: address,weight,priority,locality,healthy.
// Column count is either 4 (healthy defaults to true) or 5, mirroring the
// teacher's variable 4-or-5-column acceptance.
type Row struct {
	Address  string
	Weight   uint32
	Priority uint32
	Locality lbtypes.LocalityID
	Healthy  bool
}

// LoadNew parses path into a freshly built PrioritySet, for the initial
// load at startup.
func LoadNew(path string, warn func(format string, args ...any)) (*lbtypes.PrioritySet, error) {
	sets, err := Load(path, warn)
	if err != nil {
		return nil, err
	}
	return lbtypes.NewPrioritySet(sets), nil
}

// LoadInto parses path and atomically swaps its topology into an existing
// PrioritySet, the form the fsnotify watch loop uses on every reload so
// already-bound lb.Manager instances observe the change without
// re-registration.
func LoadInto(path string, ps *lbtypes.PrioritySet, warn func(format string, args ...any)) error {
	sets, err := Load(path, warn)
	if err != nil {
		return err
	}
	ps.Update(sets)
	return nil
}

// Load parses path into an ordered slice of per-priority host sets.
// Malformed rows are skipped with a warning rather than failing the whole
// load, matching the teacher's per-line tolerance in LoadRules.
func Load(path string, warn func(format string, args ...any)) ([]*lbtypes.HostSet, error) {
	metrics.ConfigReloadTotal.WithLabelValues("hosts_csv").Inc()

	file, err := os.Open(path)
	if err != nil {
		metrics.ConfigReloadErrorsTotal.WithLabelValues("hosts_csv").Inc()
		return nil, fmt.Errorf("failed to open hosts CSV file: %w", err)
	}
	defer func() { _ = file.Close() }()

	reader := csv.NewReader(bufio.NewReader(file))
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	byPriority := make(map[uint32]*lbtypes.HostSet)
	lineNum := 0

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			metrics.ConfigReloadErrorsTotal.WithLabelValues("hosts_csv").Inc()
			return nil, fmt.Errorf("hosts CSV parse error at line %d: %w", lineNum+1, err)
		}
		lineNum++

		if lineNum == 1 && len(record) > 0 && record[0] == "address" {
			continue
		}
		if len(record) < 4 || len(record) > 5 {
			warn("invalid field count at line %d (expected 4 or 5, got %d), skipping", lineNum, len(record))
			continue
		}

		row, ok := parseRow(record, lineNum, warn)
		if !ok {
			continue
		}

		hs, exists := byPriority[row.Priority]
		if !exists {
			hs = &lbtypes.HostSet{
				Priority:                row.Priority,
				HostsPerLocality:        make(map[lbtypes.LocalityID][]*lbtypes.Host),
				HealthyHostsPerLocality: make(map[lbtypes.LocalityID][]*lbtypes.Host),
			}
			byPriority[row.Priority] = hs
		}

		host := &lbtypes.Host{Address: row.Address, Weight: row.Weight}
		host.Healthy.Store(row.Healthy)

		hs.Hosts = append(hs.Hosts, host)
		hs.HostsPerLocality[row.Locality] = append(hs.HostsPerLocality[row.Locality], host)
		if row.Healthy {
			hs.HealthyHosts = append(hs.HealthyHosts, host)
			hs.HealthyHostsPerLocality[row.Locality] = append(hs.HealthyHostsPerLocality[row.Locality], host)
		}
	}

	if len(byPriority) == 0 {
		metrics.ConfigReloadErrorsTotal.WithLabelValues("hosts_csv").Inc()
		return nil, fmt.Errorf("no valid hosts loaded from CSV")
	}

	return orderedHostSets(byPriority), nil
}

func parseRow(record []string, lineNum int, warn func(string, ...any)) (Row, bool) {
	address := strings.TrimSpace(record[0])
	if address == "" {
		warn("empty address at line %d, skipping", lineNum)
		return Row{}, false
	}

	weight64, err := strconv.ParseUint(strings.TrimSpace(record[1]), 10, 32)
	if err != nil || weight64 == 0 {
		warn("invalid weight %q for %q at line %d, defaulting to 1", record[1], address, lineNum)
		weight64 = 1
	}

	priority64, err := strconv.ParseUint(strings.TrimSpace(record[2]), 10, 32)
	if err != nil {
		warn("invalid priority %q for %q at line %d, defaulting to 0", record[2], address, lineNum)
		priority64 = 0
	}

	locality := lbtypes.LocalityID(strings.TrimSpace(record[3]))

	healthy := true
	if len(record) == 5 {
		healthy, err = strconv.ParseBool(strings.TrimSpace(record[4]))
		if err != nil {
			warn("invalid healthy flag %q for %q at line %d, defaulting to true", record[4], address, lineNum)
			healthy = true
		}
	}

	return Row{
		Address:  address,
		Weight:   uint32(weight64),
		Priority: uint32(priority64),
		Locality: locality,
		Healthy:  healthy,
	}, true
}

// orderedHostSets returns a slice indexed by priority value (0..max), so
// callers can use the priority as a direct slice index. Priorities with no
// configured hosts get an empty HostSet rather than a gap.
func orderedHostSets(byPriority map[uint32]*lbtypes.HostSet) []*lbtypes.HostSet {
	max := uint32(0)
	for p := range byPriority {
		if p > max {
			max = p
		}
	}
	out := make([]*lbtypes.HostSet, max+1)
	for p := uint32(0); p <= max; p++ {
		if hs, ok := byPriority[p]; ok {
			out[p] = hs
		} else {
			out[p] = &lbtypes.HostSet{Priority: p}
		}
	}
	return out
}
