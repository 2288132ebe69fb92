// Package listener loads filter-chain configuration from YAML, converting
// the raw on-disk shape into internal/fcm's BuildInput the way the pack's
// YAML loaders convert a raw struct into a validated domain struct.
package listener

import (
	"fmt"
	"net/netip"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/taijiproxy/taiji/internal/fcm"
	"github.com/taijiproxy/taiji/internal/metrics"
)

// rawConfig is the on-disk shape of a listener's filter-chain config.
type rawConfig struct {
	Chains  []rawChain  `yaml:"filter_chains"`
	Default *rawChain   `yaml:"default_filter_chain"`
}

type rawChain struct {
	Name                 string            `yaml:"name"`
	DestinationPort      *uint16           `yaml:"destination_port"`
	DestinationIPs       []string          `yaml:"destination_ips"`
	ServerNames          []string          `yaml:"server_names"`
	TransportProtocol    string            `yaml:"transport_protocol"`
	ApplicationProtocols []string          `yaml:"application_protocols"`
	DirectSourceIPs      []string          `yaml:"direct_source_ips"`
	SourceType           string            `yaml:"source_type"`
	SourceIPs            []string          `yaml:"source_ips"`
	SourcePorts          []uint16          `yaml:"source_ports"`
	ConnectTimeoutMS     int64             `yaml:"connect_timeout_ms"`
	AddedViaAPI          bool              `yaml:"added_via_api"`
	Filters              []rawFilter       `yaml:"filters"`
	TransportSocket      map[string]any    `yaml:"transport_socket"`
}

type rawFilter struct {
	Name   string         `yaml:"name"`
	Config map[string]any `yaml:"config"`
}

// Load reads path and converts it into a fcm.BuildInput ready for
// fcm.Build/fcm.Manager.Replace. parent is threaded through unchanged so
// the caller controls inheritance (spec.md §4.5); pass nil on first load.
func Load(path string, parent *fcm.Snapshot) (_ fcm.BuildInput, err error) {
	metrics.ConfigReloadTotal.WithLabelValues("listener_yaml").Inc()
	defer func() {
		if err != nil {
			metrics.ConfigReloadErrorsTotal.WithLabelValues("listener_yaml").Inc()
		}
	}()

	data, err := os.ReadFile(path)
	if err != nil {
		return fcm.BuildInput{}, fmt.Errorf("could not read listener config: %w", err)
	}

	var raw rawConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fcm.BuildInput{}, fmt.Errorf("could not parse listener yaml: %w", err)
	}

	chains := make([]fcm.ChainSpec, 0, len(raw.Chains))
	for _, rc := range raw.Chains {
		spec, err := convertChain(rc)
		if err != nil {
			return fcm.BuildInput{}, fmt.Errorf("chain %q: %w", rc.Name, err)
		}
		chains = append(chains, spec)
	}

	var defaultSpec *fcm.ChainSpec
	if raw.Default != nil {
		spec, err := convertChain(*raw.Default)
		if err != nil {
			return fcm.BuildInput{}, fmt.Errorf("default chain: %w", err)
		}
		defaultSpec = &spec
	}

	return fcm.BuildInput{
		Chains:  chains,
		Default: defaultSpec,
		Parent:  parent,
	}, nil
}

func convertChain(rc rawChain) (fcm.ChainSpec, error) {
	destIPs, err := parsePrefixes(rc.DestinationIPs)
	if err != nil {
		return fcm.ChainSpec{}, fmt.Errorf("destination_ips: %w", err)
	}
	directSrcIPs, err := parsePrefixes(rc.DirectSourceIPs)
	if err != nil {
		return fcm.ChainSpec{}, fmt.Errorf("direct_source_ips: %w", err)
	}
	srcIPs, err := parsePrefixes(rc.SourceIPs)
	if err != nil {
		return fcm.ChainSpec{}, fmt.Errorf("source_ips: %w", err)
	}

	filters := make([]fcm.NetworkFilterFactory, 0, len(rc.Filters))
	for _, f := range rc.Filters {
		filters = append(filters, fcm.NetworkFilterFactory{Name: f.Name, Config: f.Config})
	}

	return fcm.ChainSpec{
		Name: rc.Name,
		Match: fcm.Match{
			DestinationPort:      rc.DestinationPort,
			DestinationIPs:       destIPs,
			ServerNames:          rc.ServerNames,
			TransportProtocol:    rc.TransportProtocol,
			ApplicationProtocols: rc.ApplicationProtocols,
			DirectSourceIPs:      directSrcIPs,
			SourceType:           parseSourceType(rc.SourceType),
			SourceIPs:            srcIPs,
			SourcePorts:          rc.SourcePorts,
		},
		TransportSocketConfig: rc.TransportSocket,
		Filters:               filters,
		ConnectTimeout:         rc.ConnectTimeoutMS * int64(1e6),
		AddedViaAPI:            rc.AddedViaAPI,
	}, nil
}

func parsePrefixes(cidrs []string) ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(cidrs))
	for _, c := range cidrs {
		p, err := netip.ParsePrefix(c)
		if err != nil {
			return nil, fmt.Errorf("%q: %w", c, fcm.ErrInvalidCidr)
		}
		out = append(out, p)
	}
	return out, nil
}

func parseSourceType(s string) fcm.SourceType {
	switch s {
	case "LOCAL":
		return fcm.SourceTypeLocal
	case "EXTERNAL":
		return fcm.SourceTypeExternal
	default:
		return fcm.SourceTypeAny
	}
}
