// Package config handles configuration loading and validation for probemesh.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DirectoryClientConfig points the agent at the unit directory.
type DirectoryClientConfig struct {
	URL              string `yaml:"url"`
	AuthToken        string `yaml:"auth_token"`
	AnnounceInterval string `yaml:"announce_interval"` // Duration string, e.g. "30s"
}

// ProberConfig describes the locally running blackbox exporter.
type ProberConfig struct {
	ListenAddress string `yaml:"listen_address"` // host:port of the exporter (default: 127.0.0.1:9115)
	ConfigPath    string `yaml:"config_path"`    // Where the module config file is written
}

// PublishConfig selects where the generated job set goes. File and URL may
// both be set; the job set is published to every configured sink.
type PublishConfig struct {
	File      string `yaml:"file"`       // file_sd-style output file (.yaml or .json)
	URL       string `yaml:"url"`        // Collector HTTP endpoint
	AuthToken string `yaml:"auth_token"` // Bearer token for the collector
}

// MetricsConfig configures the agent's own metrics endpoint.
type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

// AgentConfig holds configuration for the probemesh agent.
type AgentConfig struct {
	UnitName string `yaml:"unit_name"`
	Hostname string `yaml:"hostname"` // Defaults to the machine hostname
	AZ       string `yaml:"az"`       // Availability zone label, optional

	Directory DirectoryClientConfig `yaml:"directory"`
	Prober    ProberConfig          `yaml:"prober"`
	Publish   PublishConfig         `yaml:"publish"`
	Metrics   MetricsConfig         `yaml:"metrics"`

	ConfigFile string `yaml:"config_file"` // Operator-supplied module configuration, optional
	ProbesFile string `yaml:"probes_file"` // Operator-supplied custom probe jobs, optional

	AutoConnectivityChecks *bool  `yaml:"auto_connectivity_checks"` // Default: true
	ScrapeInterval         string `yaml:"scrape_interval"`          // Interval stamped on generated jobs
	PollInterval           string `yaml:"poll_interval"`            // Directory poll interval
	DebounceInterval       string `yaml:"debounce_interval"`        // Event coalescing window
}

// LoadAgentConfig loads agent configuration from a YAML file.
func LoadAgentConfig(path string) (*AgentConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &AgentConfig{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	// Apply defaults
	if cfg.Hostname == "" {
		if hostname, err := os.Hostname(); err == nil {
			cfg.Hostname = hostname
		}
	}
	if cfg.Prober.ListenAddress == "" {
		cfg.Prober.ListenAddress = "127.0.0.1:9115"
	}
	if cfg.Prober.ConfigPath == "" {
		cfg.Prober.ConfigPath = "/etc/probemesh/blackbox.yml"
	}
	if cfg.Directory.AnnounceInterval == "" {
		cfg.Directory.AnnounceInterval = "30s"
	}
	if cfg.Metrics.Listen == "" {
		cfg.Metrics.Listen = "127.0.0.1:9117"
	}
	if cfg.ScrapeInterval == "" {
		cfg.ScrapeInterval = "60s"
	}
	if cfg.PollInterval == "" {
		cfg.PollInterval = "30s"
	}
	if cfg.DebounceInterval == "" {
		cfg.DebounceInterval = "2s"
	}
	if cfg.AutoConnectivityChecks == nil {
		enabled := true
		cfg.AutoConnectivityChecks = &enabled
	}

	return cfg, nil
}

// AutoChecksEnabled reports whether automatic connectivity-check jobs are
// generated. Off means no auto jobs; user-supplied jobs are unaffected.
func (c *AgentConfig) AutoChecksEnabled() bool {
	return c.AutoConnectivityChecks == nil || *c.AutoConnectivityChecks
}

// Validate checks if the agent configuration is valid.
func (c *AgentConfig) Validate() error {
	if c.UnitName == "" {
		return fmt.Errorf("unit_name is required")
	}
	if c.Directory.URL == "" {
		return fmt.Errorf("directory.url is required")
	}
	if c.Publish.File == "" && c.Publish.URL == "" {
		return fmt.Errorf("at least one of publish.file or publish.url is required")
	}
	for name, value := range map[string]string{
		"directory.announce_interval": c.Directory.AnnounceInterval,
		"scrape_interval":             c.ScrapeInterval,
		"poll_interval":               c.PollInterval,
		"debounce_interval":           c.DebounceInterval,
	} {
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
	}
	return nil
}

// DirectoryServerConfig holds configuration for the directory server.
type DirectoryServerConfig struct {
	Listen     string `yaml:"listen"`
	AuthToken  string `yaml:"auth_token"`
	StaleAfter string `yaml:"stale_after"` // Duration string, e.g. "5m"
}

// LoadDirectoryServerConfig loads directory server configuration from a
// YAML file.
func LoadDirectoryServerConfig(path string) (*DirectoryServerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &DirectoryServerConfig{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	if cfg.Listen == "" {
		cfg.Listen = ":9116"
	}
	if cfg.StaleAfter == "" {
		cfg.StaleAfter = "5m"
	}

	return cfg, nil
}

// Validate checks if the directory server configuration is valid.
func (c *DirectoryServerConfig) Validate() error {
	if c.AuthToken == "" {
		return fmt.Errorf("auth_token is required")
	}
	if _, err := time.ParseDuration(c.StaleAfter); err != nil {
		return fmt.Errorf("invalid stale_after: %w", err)
	}
	return nil
}
