// Package svc provides cross-platform system service support for probemesh.
package svc

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/kardianos/service"
	"github.com/rs/zerolog/log"
)

// RunFunc is the function signature for running agent or directory modes.
type RunFunc func(ctx context.Context, configPath string) error

// Program implements service.Interface for the kardianos/service library.
type Program struct {
	Mode         string  // "agent" or "directory"
	ConfigPath   string  // Path to configuration file
	RunAgent     RunFunc // Function to run agent mode
	RunDirectory RunFunc // Function to run directory server mode

	ctx    context.Context
	cancel context.CancelFunc
	done   chan error
}

// Start is called when the service starts.
// It must not block - start the actual work in a goroutine.
func (p *Program) Start(s service.Service) error {
	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.done = make(chan error, 1)

	go func() {
		var err error
		switch p.Mode {
		case "agent":
			if p.RunAgent == nil {
				err = fmt.Errorf("agent function not configured")
			} else {
				err = p.RunAgent(p.ctx, p.ConfigPath)
			}
		case "directory":
			if p.RunDirectory == nil {
				err = fmt.Errorf("directory function not configured")
			} else {
				err = p.RunDirectory(p.ctx, p.ConfigPath)
			}
		default:
			err = fmt.Errorf("unknown mode: %s", p.Mode)
		}
		p.done <- err
	}()

	return nil
}

// Stop is called when the service stops.
// It should signal the running goroutine to stop and wait for it.
func (p *Program) Stop(s service.Service) error {
	if p.cancel != nil {
		p.cancel()
	}
	if p.done != nil {
		// Wait for the goroutine to finish
		err := <-p.done
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
	}
	return nil
}

// ServiceConfig holds configuration for service installation.
type ServiceConfig struct {
	Name        string // Service name (e.g., "probemesh", "probemesh-directory")
	DisplayName string // Display name shown in service manager
	Description string // Service description
	Mode        string // "agent" or "directory"
	ConfigPath  string // Path to configuration file
	UserName    string // User to run service as (Linux/macOS only)
}

// DefaultServiceName returns the default service name based on mode.
func DefaultServiceName(mode string) string {
	if mode == "directory" {
		return "probemesh-directory"
	}
	return "probemesh"
}

// DefaultDisplayName returns a human-readable display name.
func DefaultDisplayName(mode string) string {
	if mode == "directory" {
		return "Probemesh Unit Directory"
	}
	return "Probemesh Agent"
}

// DefaultDescription returns the service description.
func DefaultDescription(mode string) string {
	if mode == "directory" {
		return "Probemesh unit directory server for peer discovery"
	}
	return "Probemesh blackbox connectivity-check agent"
}

// DefaultConfigPath returns the default config file path based on platform and mode.
func DefaultConfigPath(mode string) string {
	var configDir string

	switch runtime.GOOS {
	case "windows":
		configDir = filepath.Join(os.Getenv("ProgramData"), "Probemesh")
	default: // linux, darwin
		configDir = "/etc/probemesh"
	}

	if mode == "directory" {
		return filepath.Join(configDir, "directory.yaml")
	}
	return filepath.Join(configDir, "agent.yaml")
}

// NewServiceConfig creates service.Config from our ServiceConfig.
func NewServiceConfig(cfg *ServiceConfig) *service.Config {
	args := []string{
		"--service-run",
		cfg.Mode,
		"--config", cfg.ConfigPath,
	}

	svcCfg := &service.Config{
		Name:        cfg.Name,
		DisplayName: cfg.DisplayName,
		Description: cfg.Description,
		Arguments:   args,
	}

	// Platform-specific options
	switch runtime.GOOS {
	case "linux":
		svcCfg.Dependencies = []string{"After=network-online.target", "Wants=network-online.target"}
		svcCfg.Option = service.KeyValue{
			"Restart":    "on-failure",
			"RestartSec": "5",
		}
		if cfg.UserName != "" {
			svcCfg.UserName = cfg.UserName
		}
	case "darwin":
		svcCfg.Option = service.KeyValue{
			"KeepAlive":     true,
			"RunAtLoad":     true,
			"SessionCreate": true,
		}
		if cfg.UserName != "" {
			svcCfg.UserName = cfg.UserName
		}
	case "windows":
		svcCfg.Option = service.KeyValue{
			"OnFailure":      "restart",
			"OnFailureDelay": "5s",
		}
	}

	return svcCfg
}

// CreateService creates a new service instance.
func CreateService(prg *Program, cfg *ServiceConfig) (service.Service, error) {
	return service.New(prg, NewServiceConfig(cfg))
}

// open builds the service handle for management operations. The handle
// carries a Program for interface purposes only; Start/Stop are never
// invoked on it by the service manager.
func open(cfg *ServiceConfig) (service.Service, error) {
	prg := &Program{Mode: cfg.Mode, ConfigPath: cfg.ConfigPath}
	svc, err := CreateService(prg, cfg)
	if err != nil {
		return nil, fmt.Errorf("create service: %w", err)
	}
	return svc, nil
}

// Install installs the service. With force, a previously installed
// instance is stopped and removed first.
func Install(cfg *ServiceConfig, force bool) error {
	svc, err := open(cfg)
	if err != nil {
		return err
	}

	if status, serr := svc.Status(); serr == nil {
		if !force {
			if status == service.StatusRunning {
				return fmt.Errorf("service %q is running; stop it first or use --force", cfg.Name)
			}
			return fmt.Errorf("service %q already installed; use --force to reinstall", cfg.Name)
		}
		if status == service.StatusRunning {
			if err := svc.Stop(); err != nil {
				log.Warn().Err(err).Msg("failed to stop service")
			}
		}
		if err := svc.Uninstall(); err != nil {
			log.Warn().Err(err).Msg("failed to uninstall service")
		}
	}

	if err := svc.Install(); err != nil {
		return fmt.Errorf("install service: %w", err)
	}
	return nil
}

// Uninstall stops the service if needed and removes it.
func Uninstall(cfg *ServiceConfig) error {
	svc, err := open(cfg)
	if err != nil {
		return err
	}

	if status, _ := svc.Status(); status == service.StatusRunning {
		if err := svc.Stop(); err != nil {
			log.Warn().Err(err).Msg("failed to stop service")
		}
	}

	if err := svc.Uninstall(); err != nil {
		return fmt.Errorf("uninstall service: %w", err)
	}
	return nil
}

// Start starts the installed service.
func Start(cfg *ServiceConfig) error {
	svc, err := open(cfg)
	if err != nil {
		return err
	}
	if err := svc.Start(); err != nil {
		return fmt.Errorf("start service: %w", err)
	}
	return nil
}

// Stop stops the installed service.
func Stop(cfg *ServiceConfig) error {
	svc, err := open(cfg)
	if err != nil {
		return err
	}
	if err := svc.Stop(); err != nil {
		return fmt.Errorf("stop service: %w", err)
	}
	return nil
}

// Restart restarts the installed service.
func Restart(cfg *ServiceConfig) error {
	svc, err := open(cfg)
	if err != nil {
		return err
	}
	if err := svc.Restart(); err != nil {
		return fmt.Errorf("restart service: %w", err)
	}
	return nil
}

// Status returns the service status.
func Status(cfg *ServiceConfig) (service.Status, error) {
	svc, err := open(cfg)
	if err != nil {
		return service.StatusUnknown, err
	}
	return svc.Status()
}

// StatusString returns a human-readable status string.
func StatusString(status service.Status) string {
	switch status {
	case service.StatusRunning:
		return "running"
	case service.StatusStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Run runs the program under the service manager. Blocks until the
// service is stopped.
func Run(prg *Program, cfg *ServiceConfig) error {
	svc, err := CreateService(prg, cfg)
	if err != nil {
		return fmt.Errorf("create service: %w", err)
	}

	return svc.Run()
}

// CheckPrivileges checks if the current user has sufficient privileges
// for service management.
func CheckPrivileges() error {
	switch runtime.GOOS {
	case "windows":
		// Actual install will fail with a better error if not admin
		return nil
	default:
		if os.Geteuid() != 0 {
			return fmt.Errorf("root privileges required (use sudo)")
		}
		return nil
	}
}

// IsServiceMode reports whether the process was launched by the service
// manager with the --service-run flag, and which mode was requested.
func IsServiceMode(args []string) (string, bool) {
	for i, arg := range args {
		if arg == "--service-run" && i+1 < len(args) {
			return args[i+1], true
		}
	}
	return "", false
}
