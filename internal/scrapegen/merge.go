package scrapegen

import "github.com/probemesh/probemesh/pkg/proto"

// Collision records an auto-generated job dropped because a user-supplied
// job already claims its name. Collisions are reported, never fatal: user
// intent wins, but the shadowing must be surfaced by the caller.
type Collision struct {
	JobName string
}

// Merge combines user-supplied jobs with auto-generated ones. User jobs keep
// their order and take precedence on job-name collisions; colliding auto
// jobs are dropped and reported. User jobs without relabeling rules get the
// standard blackbox indirection attached so operators need not repeat it.
func Merge(userJobs, autoJobs []proto.ScrapeJob, proberAddr string) ([]proto.ScrapeJob, []Collision) {
	merged := make([]proto.ScrapeJob, 0, len(userJobs)+len(autoJobs))
	taken := make(map[string]bool, len(userJobs))

	for _, job := range userJobs {
		if len(job.RelabelConfigs) == 0 {
			job.RelabelConfigs = StandardRelabelRules(proberAddr)
		}
		taken[job.JobName] = true
		merged = append(merged, job)
	}

	var collisions []Collision
	for _, job := range autoJobs {
		if taken[job.JobName] {
			collisions = append(collisions, Collision{JobName: job.JobName})
			continue
		}
		merged = append(merged, job)
	}

	return merged, collisions
}
