// Package scrapegen derives Prometheus blackbox scrape jobs from the current
// view of the probing mesh. All functions are pure: peer discovery and job
// publishing are the caller's responsibility.
package scrapegen

import (
	"fmt"
	"sort"

	"github.com/probemesh/probemesh/pkg/proto"
)

const (
	// ProbeMetricsPath is the blackbox exporter probe endpoint.
	ProbeMetricsPath = "/probe"

	// ICMPModule is the prober module used for connectivity checks.
	ICMPModule = "icmp"

	// SelfMonitoringJobName names the exporter's own metrics scrape job.
	SelfMonitoringJobName = "blackbox-self-monitoring"
)

// InvalidUnitError reports a local unit that has no usable addresses. This is
// a contract violation: there is nothing to probe from, so the caller must
// wait for valid addressing rather than retry blindly.
type InvalidUnitError struct {
	Unit string
}

func (e *InvalidUnitError) Error() string {
	return fmt.Sprintf("unit %q has no usable addresses", e.Unit)
}

// Options controls job generation.
type Options struct {
	ProberAddress  string // host:port the local blackbox exporter listens on
	ScrapeInterval string // Prometheus duration string, e.g. "60s"
}

// StandardRelabelRules returns the blackbox-style indirection rules: the
// original target becomes the probe's target parameter and the instance
// label, and the scrape address is replaced by the local prober endpoint.
func StandardRelabelRules(proberAddr string) []proto.RelabelConfig {
	return []proto.RelabelConfig{
		{SourceLabels: []string{"__address__"}, TargetLabel: "__param_target"},
		{SourceLabels: []string{"__param_target"}, TargetLabel: "instance"},
		{TargetLabel: "__address__", Replacement: proberAddr},
	}
}

// Generate produces one ICMP connectivity-check job per network binding,
// probing every address of every peer from the local unit. Jobs are grouped
// by binding so a failure is attributable to a specific network path.
//
// The output is a pure function of the inputs: deterministic order, no
// self-probing, and deduplicated targets. An empty peer set yields an empty
// job list, not an error.
func Generate(local proto.Unit, peers []proto.Unit, opts Options) ([]proto.ScrapeJob, error) {
	if len(local.Addresses) == 0 {
		return nil, &InvalidUnitError{Unit: local.Name}
	}

	localAddrs := make(map[string]bool, len(local.Addresses))
	for _, a := range local.Addresses {
		localAddrs[a.IP] = true
	}

	// Work on a sorted copy so the result does not depend on input order.
	sorted := make([]proto.Unit, 0, len(peers))
	for _, p := range peers {
		if p.Name == local.Name {
			continue
		}
		sorted = append(sorted, p)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	// binding name -> static configs, one per (peer, address)
	grouped := make(map[string][]proto.StaticConfig)
	seen := make(map[string]bool)

	for _, peer := range sorted {
		addrs := make([]proto.NetworkAddress, len(peer.Addresses))
		copy(addrs, peer.Addresses)
		sort.Slice(addrs, func(i, j int) bool {
			if addrs[i].Binding != addrs[j].Binding {
				return addrs[i].Binding < addrs[j].Binding
			}
			return addrs[i].IP < addrs[j].IP
		})

		for _, addr := range addrs {
			if addr.IP == "" || localAddrs[addr.IP] {
				continue
			}
			key := addr.Binding + "|" + peer.Name + "|" + addr.IP
			if seen[key] {
				continue
			}
			seen[key] = true

			grouped[addr.Binding] = append(grouped[addr.Binding], proto.StaticConfig{
				Targets: []string{addr.IP},
				Labels:  targetLabels(local, peer, addr),
			})
		}
	}

	bindings := make([]string, 0, len(grouped))
	for binding := range grouped {
		bindings = append(bindings, binding)
	}
	sort.Strings(bindings)

	jobs := make([]proto.ScrapeJob, 0, len(bindings))
	for _, binding := range bindings {
		jobs = append(jobs, proto.ScrapeJob{
			JobName:        fmt.Sprintf("%s-%s", ICMPModule, binding),
			MetricsPath:    ProbeMetricsPath,
			Params:         map[string][]string{"module": {ICMPModule}},
			ScrapeInterval: opts.ScrapeInterval,
			StaticConfigs:  grouped[binding],
			RelabelConfigs: StandardRelabelRules(opts.ProberAddress),
		})
	}

	return jobs, nil
}

// targetLabels builds the label set describing one probe: which unit probes
// which, over which interface. Targets can only be merged by Prometheus when
// they share labels, and no two peers share destination and interface, so
// every target gets its own static config.
func targetLabels(local, peer proto.Unit, addr proto.NetworkAddress) map[string]string {
	labels := map[string]string{
		"interface":   addr.Binding,
		"probe":       ICMPModule,
		"source":      local.Name,
		"destination": peer.Name,
	}
	if local.Hostname != "" {
		labels["source_hostname"] = local.Hostname
	}
	if peer.Hostname != "" {
		labels["destination_hostname"] = peer.Hostname
	}
	if local.AZ != "" {
		labels["source_az"] = local.AZ
	}
	if peer.AZ != "" {
		labels["destination_az"] = peer.AZ
	}
	return labels
}

// SelfMonitoringJob returns the scrape job for the blackbox exporter's own
// workload metrics, expected to be scraped by a collector on the same host.
func SelfMonitoringJob(proberAddr string) proto.ScrapeJob {
	return proto.ScrapeJob{
		JobName:     SelfMonitoringJobName,
		MetricsPath: "/metrics",
		StaticConfigs: []proto.StaticConfig{
			{Targets: []string{proberAddr}},
		},
		ScrapeTimeout: "10s",
	}
}
