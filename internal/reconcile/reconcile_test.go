package reconcile

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/probemesh/probemesh/internal/blackbox"
	"github.com/probemesh/probemesh/internal/config"
	"github.com/probemesh/probemesh/internal/metrics"
	"github.com/probemesh/probemesh/internal/publish"
	"github.com/probemesh/probemesh/pkg/proto"
)

type fakeDirectory struct {
	peers     []proto.Unit
	fetchErr  error
	announced []proto.Unit
}

func (f *fakeDirectory) Announce(_ context.Context, unit proto.Unit) (*proto.AnnounceResponse, error) {
	f.announced = append(f.announced, unit)
	return &proto.AnnounceResponse{OK: true, UnitCount: len(f.peers) + 1}, nil
}

func (f *fakeDirectory) FetchPeers(_ context.Context, _ string) ([]proto.Unit, error) {
	return f.peers, f.fetchErr
}

type captureSink struct {
	jobs   []proto.ScrapeJob
	called int
}

func (c *captureSink) Publish(_ context.Context, jobs []proto.ScrapeJob) error {
	c.jobs = jobs
	c.called++
	return nil
}

func testConfig(t *testing.T) *config.AgentConfig {
	t.Helper()
	enabled := true
	return &config.AgentConfig{
		UnitName: "be/0",
		Hostname: "host-0",
		Directory: config.DirectoryClientConfig{
			URL:              "http://directory:9116",
			AnnounceInterval: "30s",
		},
		Prober: config.ProberConfig{
			ListenAddress: "10.0.0.1:9115",
			ConfigPath:    filepath.Join(t.TempDir(), "blackbox.yml"),
		},
		AutoConnectivityChecks: &enabled,
		ScrapeInterval:         "60s",
		PollInterval:           "30s",
		DebounceInterval:       "10ms",
	}
}

func newTestMetrics() *metrics.AgentMetrics {
	metrics.Registry = prometheus.NewRegistry()
	return metrics.InitMetrics("be/0")
}

func newTestReconciler(t *testing.T, cfg *config.AgentConfig, dir Directory, sink publish.Sink) *Reconciler {
	t.Helper()
	r := New(cfg, dir, blackbox.NewManager(cfg.Prober.ConfigPath), []publish.Sink{sink}, newTestMetrics())
	r.Networks = func() []proto.NetworkAddress {
		return []proto.NetworkAddress{
			{Binding: "public", IP: "10.0.0.1"},
			{Binding: "internal", IP: "192.168.0.1"},
		}
	}
	return r
}

func peerBE1() proto.Unit {
	return proto.Unit{
		Name:     "be/1",
		Hostname: "host-1",
		Addresses: []proto.NetworkAddress{
			{Binding: "public", IP: "10.0.0.2"},
			{Binding: "internal", IP: "192.168.0.2"},
		},
	}
}

func jobNames(jobs []proto.ScrapeJob) []string {
	names := make([]string, len(jobs))
	for i, job := range jobs {
		names[i] = job.JobName
	}
	return names
}

func TestReconcile_PublishesConnectivityJobs(t *testing.T) {
	cfg := testConfig(t)
	sink := &captureSink{}
	r := newTestReconciler(t, cfg, &fakeDirectory{peers: []proto.Unit{peerBE1()}}, sink)

	require.NoError(t, r.Reconcile(context.Background()))

	assert.ElementsMatch(t,
		[]string{"blackbox-self-monitoring", "icmp-internal", "icmp-public"},
		jobNames(sink.jobs))
	assert.False(t, r.Status().Degraded())

	// The default module configuration was written for the exporter.
	data, err := os.ReadFile(cfg.Prober.ConfigPath)
	require.NoError(t, err)
	assert.Equal(t, blackbox.DefaultConfigFile, string(data))
}

func TestReconcile_EmptyPeerSet(t *testing.T) {
	cfg := testConfig(t)
	sink := &captureSink{}
	r := newTestReconciler(t, cfg, &fakeDirectory{}, sink)

	require.NoError(t, r.Reconcile(context.Background()))

	// Only the self-monitoring job remains; an empty mesh is not an error.
	assert.Equal(t, []string{"blackbox-self-monitoring"}, jobNames(sink.jobs))
}

func TestReconcile_AutoChecksDisabled(t *testing.T) {
	cfg := testConfig(t)
	disabled := false
	cfg.AutoConnectivityChecks = &disabled

	sink := &captureSink{}
	r := newTestReconciler(t, cfg, &fakeDirectory{peers: []proto.Unit{peerBE1()}}, sink)

	require.NoError(t, r.Reconcile(context.Background()))
	assert.Equal(t, []string{"blackbox-self-monitoring"}, jobNames(sink.jobs))
}

func TestReconcile_UserJobsIncluded(t *testing.T) {
	cfg := testConfig(t)
	cfg.ProbesFile = filepath.Join(t.TempDir(), "probes.yaml")
	require.NoError(t, os.WriteFile(cfg.ProbesFile, []byte(`
scrape_configs:
  - job_name: check-gateway
    metrics_path: /probe
    params:
      module: [icmp]
    static_configs:
      - targets: [192.0.2.1]
`), 0644))

	sink := &captureSink{}
	r := newTestReconciler(t, cfg, &fakeDirectory{peers: []proto.Unit{peerBE1()}}, sink)

	require.NoError(t, r.Reconcile(context.Background()))

	names := jobNames(sink.jobs)
	assert.Contains(t, names, "host-0-check-gateway")
	assert.Contains(t, names, "icmp-public")
	assert.False(t, r.Status().Degraded())
}

func TestReconcile_InvalidProbesFileBlocksComponentOnly(t *testing.T) {
	cfg := testConfig(t)
	cfg.ProbesFile = filepath.Join(t.TempDir(), "probes.yaml")
	require.NoError(t, os.WriteFile(cfg.ProbesFile, []byte(`
scrape_configs:
  - job_name: ""
    metrics_path: /probe
    static_configs:
      - targets: [192.0.2.1]
`), 0644))

	sink := &captureSink{}
	r := newTestReconciler(t, cfg, &fakeDirectory{peers: []proto.Unit{peerBE1()}}, sink)

	require.NoError(t, r.Reconcile(context.Background()))

	// Connectivity checks still go out; only the probes component blocks.
	assert.Contains(t, jobNames(sink.jobs), "icmp-public")
	assert.NotContains(t, jobNames(sink.jobs), "host-0-")
	assert.Equal(t, StateBlocked, r.Status().Get(ComponentProbes).State)
	assert.Equal(t, StateActive, r.Status().Get(ComponentConfig).State)
}

func TestReconcile_InvalidConfigFileKeepsPreviousConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.ConfigFile = filepath.Join(t.TempDir(), "modules.yaml")

	valid := "modules:\n  icmp:\n    prober: icmp\n    timeout: 5s\n"
	require.NoError(t, os.WriteFile(cfg.ConfigFile, []byte(valid), 0644))

	sink := &captureSink{}
	r := newTestReconciler(t, cfg, &fakeDirectory{peers: []proto.Unit{peerBE1()}}, sink)

	require.NoError(t, r.Reconcile(context.Background()))
	require.Equal(t, StateActive, r.Status().Get(ComponentConfig).State)

	// Now the operator breaks the file.
	require.NoError(t, os.WriteFile(cfg.ConfigFile, []byte("modules:\n  broken:\n    prober: smoke-signal\n"), 0644))
	require.NoError(t, r.Reconcile(context.Background()))

	assert.Equal(t, StateBlocked, r.Status().Get(ComponentConfig).State)

	data, err := os.ReadFile(cfg.Prober.ConfigPath)
	require.NoError(t, err)
	assert.Equal(t, valid, string(data), "rejected config must not replace the accepted one")

	// Jobs still published on the degraded path.
	assert.Contains(t, jobNames(sink.jobs), "icmp-public")
}

func TestReconcile_ConfigChangeTriggersReload(t *testing.T) {
	cfg := testConfig(t)
	sink := &captureSink{}
	r := newTestReconciler(t, cfg, &fakeDirectory{}, sink)

	reloads := 0
	r.Reloader = reloaderFunc(func(context.Context) error {
		reloads++
		return nil
	})

	require.NoError(t, r.Reconcile(context.Background()))
	assert.Equal(t, 1, reloads, "first write of the default config reloads the prober")

	require.NoError(t, r.Reconcile(context.Background()))
	assert.Equal(t, 1, reloads, "unchanged config must not reload")
}

type reloaderFunc func(context.Context) error

func (f reloaderFunc) Reload(ctx context.Context) error { return f(ctx) }

func TestReconcile_NoLocalAddressesFailsCycle(t *testing.T) {
	cfg := testConfig(t)
	sink := &captureSink{}
	r := newTestReconciler(t, cfg, &fakeDirectory{peers: []proto.Unit{peerBE1()}}, sink)
	r.Networks = func() []proto.NetworkAddress { return nil }

	err := r.Reconcile(context.Background())
	require.Error(t, err)
	assert.Zero(t, sink.called, "a failed cycle must not publish")
}

func TestReconcile_DirectoryFailureFailsCycle(t *testing.T) {
	cfg := testConfig(t)
	sink := &captureSink{}
	r := newTestReconciler(t, cfg, &fakeDirectory{fetchErr: errors.New("connection refused")}, sink)

	err := r.Reconcile(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fetch peers")
	assert.Zero(t, sink.called)
}

func TestReconcile_UserJobShadowsAutoJob(t *testing.T) {
	cfg := testConfig(t)
	cfg.Hostname = "" // no hostname prefixing, so names can collide
	cfg.ProbesFile = filepath.Join(t.TempDir(), "probes.yaml")
	require.NoError(t, os.WriteFile(cfg.ProbesFile, []byte(`
scrape_configs:
  - job_name: blackbox-self-monitoring
    metrics_path: /probe
    static_configs:
      - targets: [192.0.2.1]
`), 0644))

	sink := &captureSink{}
	r := newTestReconciler(t, cfg, &fakeDirectory{}, sink)

	require.NoError(t, r.Reconcile(context.Background()))

	names := jobNames(sink.jobs)
	assert.Equal(t, []string{"blackbox-self-monitoring"}, names, "user job wins, auto job dropped")
	require.Len(t, sink.jobs, 1)
	assert.Equal(t, []string{"192.0.2.1"}, sink.jobs[0].StaticConfigs[0].Targets)
}

func TestReconcile_Deterministic(t *testing.T) {
	cfg := testConfig(t)
	sink := &captureSink{}
	r := newTestReconciler(t, cfg, &fakeDirectory{peers: []proto.Unit{peerBE1()}}, sink)

	require.NoError(t, r.Reconcile(context.Background()))
	first := sink.jobs

	require.NoError(t, r.Reconcile(context.Background()))
	assert.Equal(t, first, sink.jobs, "same inputs must yield identical output")
}
