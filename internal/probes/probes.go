// Package probes parses and validates operator-supplied probe job files.
// The file carries a scrape_configs list in the Prometheus schema; validation
// is all-or-nothing, so a single bad job rejects the whole file.
package probes

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/probemesh/probemesh/internal/scrapegen"
	"github.com/probemesh/probemesh/pkg/proto"
)

// ValidationError reports a probes file schema violation at a key path.
type ValidationError struct {
	Path   string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Path == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Reason)
}

// File is the on-disk probes file layout.
type File struct {
	ScrapeConfigs []proto.ScrapeJob `yaml:"scrape_configs"`
}

// Parse validates a raw probes file payload and returns its jobs. No jobs
// are returned when any of them is invalid.
func Parse(raw []byte) ([]proto.ScrapeJob, error) {
	var file File
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, &ValidationError{Reason: fmt.Sprintf("invalid YAML: %v", err)}
	}
	if len(file.ScrapeConfigs) == 0 {
		return nil, &ValidationError{Path: "scrape_configs", Reason: "a non-empty scrape_configs list is required"}
	}

	for i, job := range file.ScrapeConfigs {
		path := fmt.Sprintf("scrape_configs[%d]", i)
		if job.JobName == "" {
			return nil, &ValidationError{Path: path + ".job_name", Reason: "job_name cannot be empty"}
		}
		if job.MetricsPath != scrapegen.ProbeMetricsPath {
			return nil, &ValidationError{
				Path:   path + ".metrics_path",
				Reason: fmt.Sprintf("metrics_path must be %q", scrapegen.ProbeMetricsPath),
			}
		}
		if len(job.StaticConfigs) == 0 {
			return nil, &ValidationError{Path: path + ".static_configs", Reason: "at least one static config is required"}
		}
		for j, sc := range job.StaticConfigs {
			if len(sc.Targets) == 0 {
				return nil, &ValidationError{
					Path:   fmt.Sprintf("%s.static_configs[%d].targets", path, j),
					Reason: "targets cannot be empty",
				}
			}
		}
	}

	return file.ScrapeConfigs, nil
}

// Sanitize prepares user jobs for publishing: job names are prefixed with
// the local hostname so jobs from different units cannot clash at the
// collector, and every target is stamped with the source unit's identity.
// The input is not modified.
func Sanitize(jobs []proto.ScrapeJob, local proto.Unit) []proto.ScrapeJob {
	out := make([]proto.ScrapeJob, 0, len(jobs))
	for _, job := range jobs {
		if local.Hostname != "" {
			job.JobName = fmt.Sprintf("%s-%s", local.Hostname, job.JobName)
		}

		configs := make([]proto.StaticConfig, len(job.StaticConfigs))
		for i, sc := range job.StaticConfigs {
			labels := make(map[string]string, len(sc.Labels)+2)
			for k, v := range sc.Labels {
				labels[k] = v
			}
			labels["source"] = local.Name
			if local.Hostname != "" {
				labels["source_hostname"] = local.Hostname
			}
			configs[i] = proto.StaticConfig{Targets: sc.Targets, Labels: labels}
		}
		job.StaticConfigs = configs

		out = append(out, job)
	}
	return out
}
