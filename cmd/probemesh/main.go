// probemesh generates Prometheus blackbox exporter scrape jobs for
// mesh connectivity checks between announced units.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/probemesh/probemesh/internal/blackbox"
	"github.com/probemesh/probemesh/internal/config"
	"github.com/probemesh/probemesh/internal/directory"
	"github.com/probemesh/probemesh/internal/metrics"
	"github.com/probemesh/probemesh/internal/probes"
	"github.com/probemesh/probemesh/internal/publish"
	"github.com/probemesh/probemesh/internal/reconcile"
	"github.com/probemesh/probemesh/internal/scrapegen"
	"github.com/probemesh/probemesh/internal/svc"
	"github.com/probemesh/probemesh/pkg/proto"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var (
	cfgFile  string
	logLevel string

	// generate flags
	generateOutput string
)

func main() {
	// Invoked by the service manager, not a user shell
	if mode, ok := svc.IsServiceMode(os.Args); ok {
		runAsService(mode)
		return
	}

	rootCmd := &cobra.Command{
		Use:   "probemesh",
		Short: "Probemesh - peer connectivity checks via blackbox exporter",
		Long: `Probemesh keeps a mesh of units probing each other with the
Prometheus blackbox exporter.

Each unit runs an agent next to a blackbox exporter. Agents announce
their network addresses to a shared directory server, fetch the peer
list back, and generate one ICMP scrape job per network binding so
Prometheus probes every peer address through the local exporter.

QUICK START - directory server (one per mesh):

  probemesh directory --config /etc/probemesh/directory.yaml

QUICK START - agent (every unit):

  probemesh agent --config /etc/probemesh/agent.yaml

  # Or install as a system service:
  sudo probemesh service install --mode agent

One-shot generation for debugging:

  probemesh generate --config /etc/probemesh/agent.yaml

For more help on any command, use: probemesh <command> --help`,
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "info", "log level")

	agentCmd := &cobra.Command{
		Use:   "agent",
		Short: "Run the probemesh agent",
		Long: `Run the agent: announce this unit to the directory, watch the
operator-supplied module and probes files, and keep the generated
scrape job set published.`,
		RunE: runAgent,
	}
	rootCmd.AddCommand(agentCmd)

	directoryCmd := &cobra.Command{
		Use:   "directory",
		Short: "Run the unit directory server",
		RunE:  runDirectory,
	}
	rootCmd.AddCommand(directoryCmd)

	generateCmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate the scrape job set once and print it",
		Long: `Fetch peers from the directory, generate the scrape job set this
agent would publish, and write it to stdout (or --output). Useful for
inspecting what Prometheus will be told to probe.`,
		RunE: runGenerate,
	}
	generateCmd.Flags().StringVarP(&generateOutput, "output", "o", "", "write to file instead of stdout")
	rootCmd.AddCommand(generateCmd)

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate operator-supplied files",
	}
	validateModulesCmd := &cobra.Command{
		Use:   "modules <file>",
		Short: "Validate a blackbox exporter module configuration file",
		Args:  cobra.ExactArgs(1),
		RunE:  runValidateModules,
	}
	validateCmd.AddCommand(validateModulesCmd)
	validateProbesCmd := &cobra.Command{
		Use:   "probes <file>",
		Short: "Validate a custom probes file",
		Args:  cobra.ExactArgs(1),
		RunE:  runValidateProbes,
	}
	validateCmd.AddCommand(validateProbesCmd)
	rootCmd.AddCommand(validateCmd)

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("probemesh %s\n", Version)
			fmt.Printf("  commit:     %s\n", Commit)
			fmt.Printf("  build time: %s\n", BuildTime)
			fmt.Printf("  go:         %s\n", runtime.Version())
			fmt.Printf("  os/arch:    %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
	rootCmd.AddCommand(versionCmd)

	rootCmd.AddCommand(newServiceCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// nolint:revive // args required by cobra.Command RunE signature
func runAgent(cmd *cobra.Command, args []string) error {
	setupLogging()

	if cfgFile == "" {
		cfgFile = svc.DefaultConfigPath("agent")
	}
	cfg, err := config.LoadAgentConfig(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	return runAgentWithConfig(ctx, cfg)
}

func runAgentWithConfig(ctx context.Context, cfg *config.AgentConfig) error {
	log.Info().
		Str("unit", cfg.UnitName).
		Str("directory", cfg.Directory.URL).
		Str("prober", cfg.Prober.ListenAddress).
		Msg("starting agent")

	m := metrics.InitMetrics(cfg.UnitName)

	dir := directory.NewClient(cfg.Directory.URL, cfg.Directory.AuthToken)
	manager := blackbox.NewManager(cfg.Prober.ConfigPath)

	var sinks []publish.Sink
	if cfg.Publish.File != "" {
		sinks = append(sinks, &publish.FileSink{Path: cfg.Publish.File})
	}
	if cfg.Publish.URL != "" {
		sinks = append(sinks, publish.NewHTTPSink(cfg.Publish.URL, cfg.Publish.AuthToken))
	}

	r := reconcile.New(cfg, dir, manager, sinks, m)
	r.Reloader = reconcile.NewHTTPReloader(cfg.Prober.ListenAddress)

	if cfg.Metrics.Listen != "" {
		go serveMetrics(ctx, cfg.Metrics.Listen, r.Status())
	}

	if err := r.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// serveMetrics exposes the agent's own /metrics and /status endpoints.
func serveMetrics(ctx context.Context, listen string, status *reconcile.Status) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/status", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		snapshot := status.Snapshot()
		if status.Degraded() {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(snapshot)
	})

	srv := &http.Server{
		Addr:              listen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("listen", listen).Msg("metrics endpoint listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error().Err(err).Msg("metrics endpoint failed")
	}
}

// nolint:revive // args required by cobra.Command RunE signature
func runDirectory(cmd *cobra.Command, args []string) error {
	setupLogging()

	if cfgFile == "" {
		cfgFile = svc.DefaultConfigPath("directory")
	}
	cfg, err := config.LoadDirectoryServerConfig(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	return runDirectoryWithConfig(ctx, cfg)
}

func runDirectoryWithConfig(ctx context.Context, cfg *config.DirectoryServerConfig) error {
	staleAfter, err := time.ParseDuration(cfg.StaleAfter)
	if err != nil {
		return fmt.Errorf("invalid stale_after: %w", err)
	}

	server := directory.NewServer(directory.ServerConfig{
		Listen:     cfg.Listen,
		AuthToken:  cfg.AuthToken,
		StaleAfter: staleAfter,
	})

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           server,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		log.Info().Msg("shutting down directory server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("listen", cfg.Listen).Msg("directory server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("directory server: %w", err)
	}
	return nil
}

// nolint:revive // args required by cobra.Command RunE signature
func runGenerate(cmd *cobra.Command, args []string) error {
	setupLogging()

	if cfgFile == "" {
		cfgFile = svc.DefaultConfigPath("agent")
	}
	cfg, err := config.LoadAgentConfig(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	local := proto.Unit{
		Name:      cfg.UnitName,
		Hostname:  cfg.Hostname,
		AZ:        cfg.AZ,
		Addresses: proto.GetUnitNetworks(),
	}

	dir := directory.NewClient(cfg.Directory.URL, cfg.Directory.AuthToken)
	peers, err := dir.FetchPeers(ctx, cfg.UnitName)
	if err != nil {
		return fmt.Errorf("fetch peers: %w", err)
	}

	autoJobs := []proto.ScrapeJob{scrapegen.SelfMonitoringJob(cfg.Prober.ListenAddress)}
	if cfg.AutoChecksEnabled() && len(peers) > 0 {
		generated, err := scrapegen.Generate(local, peers, scrapegen.Options{
			ProberAddress:  cfg.Prober.ListenAddress,
			ScrapeInterval: cfg.ScrapeInterval,
		})
		if err != nil {
			return fmt.Errorf("generate jobs: %w", err)
		}
		autoJobs = append(autoJobs, generated...)
	}

	var userJobs []proto.ScrapeJob
	if cfg.ProbesFile != "" {
		raw, err := os.ReadFile(cfg.ProbesFile)
		if err == nil {
			parsed, perr := probes.Parse(raw)
			if perr != nil {
				return fmt.Errorf("probes file: %w", perr)
			}
			userJobs = probes.Sanitize(parsed, local)
		} else if !os.IsNotExist(err) {
			return fmt.Errorf("read probes file: %w", err)
		}
	}

	jobs, collisions := scrapegen.Merge(userJobs, autoJobs, cfg.Prober.ListenAddress)
	for _, c := range collisions {
		log.Warn().Str("job", c.JobName).Msg("custom job shadows generated job")
	}

	if generateOutput != "" {
		sink := &publish.FileSink{Path: generateOutput}
		if err := sink.Publish(ctx, jobs); err != nil {
			return err
		}
		fmt.Printf("Wrote %d scrape jobs to %s\n", len(jobs), generateOutput)
		return nil
	}

	data, err := yaml.Marshal(publish.Payload{ScrapeConfigs: jobs})
	if err != nil {
		return fmt.Errorf("marshal jobs: %w", err)
	}
	fmt.Print(string(data))
	return nil
}

// nolint:revive // args required by cobra.Command RunE signature
func runValidateModules(cmd *cobra.Command, args []string) error {
	setupLogging()

	raw, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}

	cfg, err := blackbox.Validate(raw)
	if err != nil {
		return fmt.Errorf("invalid module configuration: %w", err)
	}

	fmt.Printf("OK: %d modules\n", len(cfg.Modules))
	return nil
}

// nolint:revive // args required by cobra.Command RunE signature
func runValidateProbes(cmd *cobra.Command, args []string) error {
	setupLogging()

	raw, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}

	jobs, err := probes.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid probes file: %w", err)
	}

	fmt.Printf("OK: %d scrape jobs\n", len(jobs))
	return nil
}

// runAsService runs the agent or directory under the service manager.
func runAsService(mode string) {
	setupServiceLogging()

	var configPath string
	for i, arg := range os.Args {
		if (arg == "--config" || arg == "-c") && i+1 < len(os.Args) {
			configPath = os.Args[i+1]
		}
	}
	if configPath == "" {
		configPath = svc.DefaultConfigPath(mode)
	}

	log.Info().
		Str("mode", mode).
		Str("config", configPath).
		Msg("starting as service")

	cfg := &svc.ServiceConfig{
		Name:        svc.DefaultServiceName(mode),
		DisplayName: svc.DefaultDisplayName(mode),
		Description: svc.DefaultDescription(mode),
		Mode:        mode,
		ConfigPath:  configPath,
	}

	prg := &svc.Program{
		Mode:         mode,
		ConfigPath:   configPath,
		RunAgent:     runAgentFromService,
		RunDirectory: runDirectoryFromService,
	}

	if err := svc.Run(prg, cfg); err != nil {
		log.Fatal().Err(err).Msg("service error")
	}
}

func runAgentFromService(ctx context.Context, configPath string) error {
	cfg, err := config.LoadAgentConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return runAgentWithConfig(ctx, cfg)
}

func runDirectoryFromService(ctx context.Context, configPath string) error {
	cfg, err := config.LoadDirectoryServerConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return runDirectoryWithConfig(ctx, cfg)
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Info().Msg("shutting down...")
		cancel()
	}()

	return ctx, cancel
}

func setupLogging() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	level, err := zerolog.ParseLevel(logLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
}

// setupServiceLogging configures logging for service mode. Service
// managers do not always redirect stderr, so write to a log file when
// one can be opened.
func setupServiceLogging() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	logPath := "/var/log/probemesh-service.log"
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
		return
	}

	multi := io.MultiWriter(logFile, os.Stderr)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: multi, TimeFormat: time.RFC3339})
}
