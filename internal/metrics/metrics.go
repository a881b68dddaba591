// Package metrics provides Prometheus metrics for the probemesh agent.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the Prometheus registry for all probemesh metrics.
var Registry = prometheus.NewRegistry()

// AgentMetrics holds all Prometheus metrics for a probemesh agent.
type AgentMetrics struct {
	// Reconciliation counters
	ReconcileTotal  prometheus.Counter
	ReconcileErrors prometheus.Counter

	// Current mesh view
	KnownPeers    prometheus.Gauge
	GeneratedJobs prometheus.Gauge

	// Config handling
	ConfigRejections *prometheus.CounterVec // rejected payloads, labeled by file kind
	JobCollisions    prometheus.Counter     // auto jobs shadowed by user jobs

	// Publishing
	PublishDuration prometheus.Histogram
	PublishErrors   prometheus.Counter
}

func init() {
	// Register standard Go metrics
	Registry.MustRegister(collectors.NewGoCollector())
	Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
}

// InitMetrics initializes all metrics with the given unit name as a constant
// label.
func InitMetrics(unitName string) *AgentMetrics {
	constLabels := prometheus.Labels{
		"unit": unitName,
	}

	return &AgentMetrics{
		ReconcileTotal: promauto.With(Registry).NewCounter(prometheus.CounterOpts{
			Name:        "probemesh_reconcile_total",
			Help:        "Total reconciliation cycles run",
			ConstLabels: constLabels,
		}),
		ReconcileErrors: promauto.With(Registry).NewCounter(prometheus.CounterOpts{
			Name:        "probemesh_reconcile_errors_total",
			Help:        "Reconciliation cycles that failed",
			ConstLabels: constLabels,
		}),
		KnownPeers: promauto.With(Registry).NewGauge(prometheus.GaugeOpts{
			Name:        "probemesh_known_peers",
			Help:        "Peer units known from the directory",
			ConstLabels: constLabels,
		}),
		GeneratedJobs: promauto.With(Registry).NewGauge(prometheus.GaugeOpts{
			Name:        "probemesh_generated_jobs",
			Help:        "Scrape jobs in the last published set",
			ConstLabels: constLabels,
		}),
		ConfigRejections: promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
			Name:        "probemesh_config_rejections_total",
			Help:        "Configuration payloads rejected by validation",
			ConstLabels: constLabels,
		}, []string{"file"}),
		JobCollisions: promauto.With(Registry).NewCounter(prometheus.CounterOpts{
			Name:        "probemesh_job_collisions_total",
			Help:        "Auto-generated jobs shadowed by user-supplied jobs",
			ConstLabels: constLabels,
		}),
		PublishDuration: promauto.With(Registry).NewHistogram(prometheus.HistogramOpts{
			Name:        "probemesh_publish_duration_seconds",
			Help:        "Time spent publishing the job set",
			ConstLabels: constLabels,
			Buckets:     prometheus.DefBuckets,
		}),
		PublishErrors: promauto.With(Registry).NewCounter(prometheus.CounterOpts{
			Name:        "probemesh_publish_errors_total",
			Help:        "Failed publishes of the job set",
			ConstLabels: constLabels,
		}),
	}
}

// Handler returns an HTTP handler serving the probemesh registry.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
