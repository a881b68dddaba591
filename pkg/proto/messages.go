// Package proto defines shared protocol messages for probemesh.
package proto

import (
	"net"
	"time"
)

// NetworkAddress is one reachable endpoint of a unit, tied to the network
// binding (interface) it is reachable over.
type NetworkAddress struct {
	Binding string `json:"binding" yaml:"binding"` // Interface or network space name (e.g. "eth0", "public")
	IP      string `json:"ip" yaml:"ip"`           // Literal IPv4 address or hostname
	Net     string `json:"net,omitempty" yaml:"net,omitempty"` // Network in CIDR notation, if known
}

// Unit represents one member of the probing mesh.
type Unit struct {
	Name      string           `json:"name" yaml:"name"` // Opaque unit identity, e.g. "be/0"
	Hostname  string           `json:"hostname,omitempty" yaml:"hostname,omitempty"`
	AZ        string           `json:"az,omitempty" yaml:"az,omitempty"` // Availability zone, if any
	Addresses []NetworkAddress `json:"addresses" yaml:"addresses"`
	LastSeen  time.Time        `json:"last_seen" yaml:"last_seen,omitempty"` // Last announce time
}

// StaticConfig is one static target group of a Prometheus scrape job.
type StaticConfig struct {
	Targets []string          `json:"targets" yaml:"targets"`
	Labels  map[string]string `json:"labels,omitempty" yaml:"labels,omitempty"`
}

// RelabelConfig is a single Prometheus relabeling rule.
type RelabelConfig struct {
	SourceLabels []string `json:"source_labels,omitempty" yaml:"source_labels,omitempty"`
	TargetLabel  string   `json:"target_label,omitempty" yaml:"target_label,omitempty"`
	Replacement  string   `json:"replacement,omitempty" yaml:"replacement,omitempty"`
}

// ScrapeJob is a Prometheus scrape job specification. The field set and tags
// match the scrape_configs schema so a collector can load the published jobs
// directly as Prometheus configuration.
type ScrapeJob struct {
	JobName        string              `json:"job_name" yaml:"job_name"`
	MetricsPath    string              `json:"metrics_path,omitempty" yaml:"metrics_path,omitempty"`
	Params         map[string][]string `json:"params,omitempty" yaml:"params,omitempty"`
	ScrapeInterval string              `json:"scrape_interval,omitempty" yaml:"scrape_interval,omitempty"`
	ScrapeTimeout  string              `json:"scrape_timeout,omitempty" yaml:"scrape_timeout,omitempty"`
	StaticConfigs  []StaticConfig      `json:"static_configs,omitempty" yaml:"static_configs,omitempty"`
	RelabelConfigs []RelabelConfig     `json:"relabel_configs,omitempty" yaml:"relabel_configs,omitempty"`
}

// AnnounceRequest is sent by a unit to publish its addresses to the directory.
type AnnounceRequest struct {
	Name      string           `json:"name"`
	Hostname  string           `json:"hostname,omitempty"`
	AZ        string           `json:"az,omitempty"`
	Addresses []NetworkAddress `json:"addresses"`
}

// AnnounceResponse is returned after a successful announce.
type AnnounceResponse struct {
	OK        bool `json:"ok"`
	UnitCount int  `json:"unit_count"` // Units currently known to the directory
}

// UnitsResponse is the directory's answer to a unit listing request.
type UnitsResponse struct {
	Units []Unit `json:"units"`
}

// GetUnitNetworks returns the IPv4 addresses of the local machine across all
// interfaces, excluding loopback and interfaces that are down. Each address
// carries the interface name as its binding.
func GetUnitNetworks() []NetworkAddress {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil
	}

	var networks []NetworkAddress
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		for _, addr := range addrs {
			ipnet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}

			ip4 := ipnet.IP.To4()
			if ip4 == nil || ip4.IsLoopback() {
				continue
			}

			networks = append(networks, NetworkAddress{
				Binding: iface.Name,
				IP:      ip4.String(),
				Net:     ipnet.String(),
			})
		}
	}

	return networks
}
