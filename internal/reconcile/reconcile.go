// Package reconcile drives the probemesh agent's event loop. Every event
// (directory poll, config file change, probes file change) triggers one full
// recomputation of the published job set from current inputs. Nothing is
// incremental: with tens of units at most, deriving everything from scratch
// is cheap and leaves no room for stale state.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/probemesh/probemesh/internal/blackbox"
	"github.com/probemesh/probemesh/internal/config"
	"github.com/probemesh/probemesh/internal/metrics"
	"github.com/probemesh/probemesh/internal/probes"
	"github.com/probemesh/probemesh/internal/publish"
	"github.com/probemesh/probemesh/internal/scrapegen"
	"github.com/probemesh/probemesh/pkg/proto"
)

// Directory is the unit directory as the reconciler sees it.
type Directory interface {
	Announce(ctx context.Context, unit proto.Unit) (*proto.AnnounceResponse, error)
	FetchPeers(ctx context.Context, localName string) ([]proto.Unit, error)
}

// Reconciler recomputes and publishes the scrape job set.
type Reconciler struct {
	cfg     *config.AgentConfig
	dir     Directory
	manager *blackbox.Manager
	sinks   []publish.Sink
	status  *Status
	metrics *metrics.AgentMetrics

	// Networks supplies the local unit's addresses. Defaults to enumerating
	// the machine's interfaces; tests substitute fixed addresses.
	Networks func() []proto.NetworkAddress

	// Reloader, if set, is invoked after the module configuration file
	// changed on disk.
	Reloader ProberReloader
}

// New creates a Reconciler.
func New(cfg *config.AgentConfig, dir Directory, manager *blackbox.Manager, sinks []publish.Sink, m *metrics.AgentMetrics) *Reconciler {
	return &Reconciler{
		cfg:      cfg,
		dir:      dir,
		manager:  manager,
		sinks:    sinks,
		status:   NewStatus(),
		metrics:  m,
		Networks: proto.GetUnitNetworks,
	}
}

// Status exposes the composite component status.
func (r *Reconciler) Status() *Status {
	return r.status
}

// LocalUnit returns the local unit with its current addresses.
func (r *Reconciler) LocalUnit() proto.Unit {
	return proto.Unit{
		Name:      r.cfg.UnitName,
		Hostname:  r.cfg.Hostname,
		AZ:        r.cfg.AZ,
		Addresses: r.Networks(),
	}
}

// Reconcile runs one full cycle: push the module configuration, derive the
// job set from the current peer snapshot, and publish it. A validation
// failure blocks the affected component but never the cycle; a discovery
// failure or an unusable local unit fails the cycle, to be retried on the
// next event.
func (r *Reconciler) Reconcile(ctx context.Context) error {
	cycle := uuid.NewString()
	logger := log.With().Str("cycle", cycle).Logger()
	r.metrics.ReconcileTotal.Inc()

	r.pushModuleConfig(ctx, logger)

	jobs, err := r.buildJobs(ctx, logger)
	if err != nil {
		r.metrics.ReconcileErrors.Inc()
		return err
	}

	if err := r.publishJobs(ctx, logger, jobs); err != nil {
		r.metrics.ReconcileErrors.Inc()
		return err
	}

	logger.Info().Int("jobs", len(jobs)).Msg("published scrape job set")
	return nil
}

// pushModuleConfig applies the operator's module configuration to the
// exporter. Rejected payloads leave the previous file in place and block the
// config component.
func (r *Reconciler) pushModuleConfig(ctx context.Context, logger zerolog.Logger) {
	var raw []byte
	if r.cfg.ConfigFile != "" {
		data, err := os.ReadFile(r.cfg.ConfigFile)
		if err != nil && !os.IsNotExist(err) {
			logger.Error().Err(err).Str("path", r.cfg.ConfigFile).Msg("cannot read config file")
			r.status.SetBlocked(ComponentConfig, fmt.Sprintf("cannot read config file: %v", err))
			return
		}
		raw = data
	}

	changed, err := r.manager.Push(raw)
	if err != nil {
		logger.Error().Err(err).Msg("module configuration rejected")
		r.metrics.ConfigRejections.WithLabelValues(ComponentConfig).Inc()
		r.status.SetBlocked(ComponentConfig, fmt.Sprintf("config file is invalid: %v", err))
		return
	}
	r.status.SetActive(ComponentConfig)

	if changed && r.Reloader != nil {
		if err := r.Reloader.Reload(ctx); err != nil {
			logger.Warn().Err(err).Msg("failed to reload prober")
		} else {
			logger.Info().Msg("prober reloaded with new module configuration")
		}
	}
}

// buildJobs assembles the full job set: self monitoring, automatic
// connectivity checks, and user-supplied probes, merged with user precedence.
func (r *Reconciler) buildJobs(ctx context.Context, logger zerolog.Logger) ([]proto.ScrapeJob, error) {
	local := r.LocalUnit()

	peers, err := r.dir.FetchPeers(ctx, local.Name)
	if err != nil {
		return nil, fmt.Errorf("fetch peers: %w", err)
	}
	r.metrics.KnownPeers.Set(float64(len(peers)))

	autoJobs := []proto.ScrapeJob{scrapegen.SelfMonitoringJob(r.cfg.Prober.ListenAddress)}
	if r.cfg.AutoChecksEnabled() && len(peers) > 0 {
		generated, err := scrapegen.Generate(local, peers, scrapegen.Options{
			ProberAddress:  r.cfg.Prober.ListenAddress,
			ScrapeInterval: r.cfg.ScrapeInterval,
		})
		if err != nil {
			var invalid *scrapegen.InvalidUnitError
			if errors.As(err, &invalid) {
				// No usable local addressing: abort and wait for it, a
				// blind retry cannot change the outcome.
				return nil, err
			}
			return nil, fmt.Errorf("generate connectivity jobs: %w", err)
		}
		autoJobs = append(autoJobs, generated...)
	}

	userJobs := r.userJobs(logger, local)

	merged, collisions := scrapegen.Merge(userJobs, autoJobs, r.cfg.Prober.ListenAddress)
	for _, collision := range collisions {
		logger.Warn().Str("job", collision.JobName).Msg("user-supplied job shadows an auto-generated job")
		r.metrics.JobCollisions.Inc()
	}
	r.metrics.GeneratedJobs.Set(float64(len(merged)))

	return merged, nil
}

// userJobs loads, validates and sanitizes the operator's probes file. An
// invalid file blocks the probes component and contributes no jobs; the
// automatic checks are unaffected.
func (r *Reconciler) userJobs(logger zerolog.Logger, local proto.Unit) []proto.ScrapeJob {
	if r.cfg.ProbesFile == "" {
		r.status.SetActive(ComponentProbes)
		return nil
	}

	raw, err := os.ReadFile(r.cfg.ProbesFile)
	if err != nil {
		if os.IsNotExist(err) {
			r.status.SetActive(ComponentProbes)
			return nil
		}
		logger.Error().Err(err).Str("path", r.cfg.ProbesFile).Msg("cannot read probes file")
		r.status.SetBlocked(ComponentProbes, fmt.Sprintf("cannot read probes file: %v", err))
		return nil
	}

	jobs, err := probes.Parse(raw)
	if err != nil {
		logger.Error().Err(err).Msg("probes file rejected")
		r.metrics.ConfigRejections.WithLabelValues(ComponentProbes).Inc()
		r.status.SetBlocked(ComponentProbes, fmt.Sprintf("probes file is invalid: %v", err))
		return nil
	}

	r.status.SetActive(ComponentProbes)
	return probes.Sanitize(jobs, local)
}

func (r *Reconciler) publishJobs(ctx context.Context, logger zerolog.Logger, jobs []proto.ScrapeJob) error {
	start := time.Now()
	for _, sink := range r.sinks {
		if err := sink.Publish(ctx, jobs); err != nil {
			r.metrics.PublishErrors.Inc()
			r.status.SetBlocked(ComponentPublish, fmt.Sprintf("publish failed: %v", err))
			return fmt.Errorf("publish jobs: %w", err)
		}
	}
	r.metrics.PublishDuration.Observe(time.Since(start).Seconds())
	r.status.SetActive(ComponentPublish)
	logger.Debug().Dur("elapsed", time.Since(start)).Int("sinks", len(r.sinks)).Msg("job set delivered")
	return nil
}

// Run announces the local unit on an interval and reconciles on every
// debounced event until the context is cancelled.
func (r *Reconciler) Run(ctx context.Context) error {
	pollInterval, err := time.ParseDuration(r.cfg.PollInterval)
	if err != nil {
		return fmt.Errorf("invalid poll_interval: %w", err)
	}
	announceInterval, err := time.ParseDuration(r.cfg.Directory.AnnounceInterval)
	if err != nil {
		return fmt.Errorf("invalid announce_interval: %w", err)
	}
	debounceInterval, err := time.ParseDuration(r.cfg.DebounceInterval)
	if err != nil {
		return fmt.Errorf("invalid debounce_interval: %w", err)
	}

	raw := make(chan Event, 16)
	if r.cfg.ConfigFile != "" || r.cfg.ProbesFile != "" {
		watcher, err := NewFileWatcher(r.cfg.ConfigFile, r.cfg.ProbesFile, raw)
		if err != nil {
			return err
		}
		go watcher.Run(ctx)
	}
	debounced := NewDebouncer(raw, debounceInterval).Run(ctx)

	r.announce(ctx)
	if err := r.Reconcile(ctx); err != nil {
		log.Error().Err(err).Msg("initial reconciliation failed")
	}

	pollTicker := time.NewTicker(pollInterval)
	defer pollTicker.Stop()
	announceTicker := time.NewTicker(announceInterval)
	defer announceTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-announceTicker.C:
			r.announce(ctx)

		case <-pollTicker.C:
			select {
			case raw <- Event{Type: EventTick}:
			default:
				// An event is already queued; the next cycle sees the same
				// directory state anyway.
			}

		case event, ok := <-debounced:
			if !ok {
				return nil
			}
			log.Debug().Str("event", event.Type.String()).Str("path", event.Path).Msg("reconciling")
			if err := r.Reconcile(ctx); err != nil {
				log.Error().Err(err).Str("event", event.Type.String()).Msg("reconciliation failed")
			}
		}
	}
}

// announce publishes the local unit's current addresses to the directory.
// Failures are logged and retried on the next interval; the directory keeps
// the previous announcement until it goes stale.
func (r *Reconciler) announce(ctx context.Context) {
	local := r.LocalUnit()
	if len(local.Addresses) == 0 {
		log.Warn().Str("unit", local.Name).Msg("no local addresses to announce")
		return
	}
	if _, err := r.dir.Announce(ctx, local); err != nil {
		log.Warn().Err(err).Msg("failed to announce to directory")
	}
}
