package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/probemesh/probemesh/internal/svc"
)

var (
	serviceMode       string
	serviceConfigPath string
	serviceName       string
	serviceUser       string
	forceInstall      bool
)

func newServiceCmd() *cobra.Command {
	serviceCmd := &cobra.Command{
		Use:   "service",
		Short: "Manage the probemesh system service",
		Long: `Install, control, and manage probemesh as a system service.

Supported platforms:
  - Linux (systemd)
  - macOS (launchd)
  - Windows (Service Control Manager)

Examples:
  # Install the agent service
  sudo probemesh service install --mode agent --config /etc/probemesh/agent.yaml

  # Install the directory server service
  sudo probemesh service install --mode directory --config /etc/probemesh/directory.yaml

  # Control the service
  sudo probemesh service start
  sudo probemesh service stop
  sudo probemesh service status

Logs go to the platform service manager (journalctl -u probemesh on
Linux) and to /var/log/probemesh-service.log.`,
	}

	installCmd := &cobra.Command{
		Use:   "install",
		Short: "Install probemesh as a system service",
		Long: `Install probemesh as a system service that starts automatically at boot.

Requires administrator/root privileges.`,
		RunE: runServiceInstall,
	}
	installCmd.Flags().StringVar(&serviceMode, "mode", "agent", "Service mode: 'agent' or 'directory'")
	installCmd.Flags().StringVarP(&serviceConfigPath, "config", "c", "", "Path to configuration file")
	installCmd.Flags().StringVarP(&serviceName, "name", "n", "", "Service name (default: probemesh or probemesh-directory)")
	installCmd.Flags().StringVar(&serviceUser, "user", "", "Run service as this user (Linux/macOS only)")
	installCmd.Flags().BoolVarP(&forceInstall, "force", "f", false, "Force reinstall if service already exists")
	serviceCmd.AddCommand(installCmd)

	uninstallCmd := &cobra.Command{
		Use:   "uninstall",
		Short: "Remove the probemesh system service",
		RunE:  runServiceUninstall,
	}
	uninstallCmd.Flags().StringVar(&serviceMode, "mode", "agent", "Service mode: 'agent' or 'directory'")
	uninstallCmd.Flags().StringVarP(&serviceName, "name", "n", "", "Service name")
	serviceCmd.AddCommand(uninstallCmd)

	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start the probemesh service",
		RunE:  runServiceStart,
	}
	startCmd.Flags().StringVar(&serviceMode, "mode", "agent", "Service mode: 'agent' or 'directory'")
	startCmd.Flags().StringVarP(&serviceName, "name", "n", "", "Service name")
	serviceCmd.AddCommand(startCmd)

	stopCmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the probemesh service",
		RunE:  runServiceStop,
	}
	stopCmd.Flags().StringVar(&serviceMode, "mode", "agent", "Service mode: 'agent' or 'directory'")
	stopCmd.Flags().StringVarP(&serviceName, "name", "n", "", "Service name")
	serviceCmd.AddCommand(stopCmd)

	restartCmd := &cobra.Command{
		Use:   "restart",
		Short: "Restart the probemesh service",
		RunE:  runServiceRestart,
	}
	restartCmd.Flags().StringVar(&serviceMode, "mode", "agent", "Service mode: 'agent' or 'directory'")
	restartCmd.Flags().StringVarP(&serviceName, "name", "n", "", "Service name")
	serviceCmd.AddCommand(restartCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show probemesh service status",
		RunE:  runServiceStatus,
	}
	statusCmd.Flags().StringVar(&serviceMode, "mode", "agent", "Service mode: 'agent' or 'directory'")
	statusCmd.Flags().StringVarP(&serviceName, "name", "n", "", "Service name")
	serviceCmd.AddCommand(statusCmd)

	return serviceCmd
}

func getServiceConfig() *svc.ServiceConfig {
	mode := serviceMode
	if mode == "" {
		mode = "agent"
	}

	name := serviceName
	if name == "" {
		name = svc.DefaultServiceName(mode)
	}

	configPath := serviceConfigPath
	if configPath == "" {
		configPath = svc.DefaultConfigPath(mode)
	}

	return &svc.ServiceConfig{
		Name:        name,
		DisplayName: svc.DefaultDisplayName(mode),
		Description: svc.DefaultDescription(mode),
		Mode:        mode,
		ConfigPath:  configPath,
		UserName:    serviceUser,
	}
}

// nolint:revive // args required by cobra.Command RunE signature
func runServiceInstall(cmd *cobra.Command, args []string) error {
	setupLogging()

	if err := svc.CheckPrivileges(); err != nil {
		return err
	}

	if serviceMode != "agent" && serviceMode != "directory" {
		return fmt.Errorf("invalid mode %q: must be 'agent' or 'directory'", serviceMode)
	}

	cfg := getServiceConfig()

	if _, err := os.Stat(cfg.ConfigPath); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s\nCreate the config file first or specify a different path with --config", cfg.ConfigPath)
	}

	log.Info().
		Str("name", cfg.Name).
		Str("mode", cfg.Mode).
		Str("config", cfg.ConfigPath).
		Msg("installing service")

	if err := svc.Install(cfg, forceInstall); err != nil {
		return err
	}

	fmt.Printf("Service %q installed successfully.\n", cfg.Name)
	fmt.Printf("\nTo start the service:\n")
	fmt.Printf("  probemesh service start --name %s\n", cfg.Name)
	return nil
}

// nolint:revive // args required by cobra.Command RunE signature
func runServiceUninstall(cmd *cobra.Command, args []string) error {
	setupLogging()

	if err := svc.CheckPrivileges(); err != nil {
		return err
	}

	cfg := getServiceConfig()

	log.Info().Str("name", cfg.Name).Msg("uninstalling service")

	if err := svc.Uninstall(cfg); err != nil {
		return err
	}

	fmt.Printf("Service %q uninstalled successfully.\n", cfg.Name)
	return nil
}

// nolint:revive // args required by cobra.Command RunE signature
func runServiceStart(cmd *cobra.Command, args []string) error {
	setupLogging()

	if err := svc.CheckPrivileges(); err != nil {
		return err
	}

	cfg := getServiceConfig()

	log.Info().Str("name", cfg.Name).Msg("starting service")

	if err := svc.Start(cfg); err != nil {
		return err
	}

	fmt.Printf("Service %q started.\n", cfg.Name)
	return nil
}

// nolint:revive // args required by cobra.Command RunE signature
func runServiceStop(cmd *cobra.Command, args []string) error {
	setupLogging()

	if err := svc.CheckPrivileges(); err != nil {
		return err
	}

	cfg := getServiceConfig()

	log.Info().Str("name", cfg.Name).Msg("stopping service")

	if err := svc.Stop(cfg); err != nil {
		return err
	}

	fmt.Printf("Service %q stopped.\n", cfg.Name)
	return nil
}

// nolint:revive // args required by cobra.Command RunE signature
func runServiceRestart(cmd *cobra.Command, args []string) error {
	setupLogging()

	if err := svc.CheckPrivileges(); err != nil {
		return err
	}

	cfg := getServiceConfig()

	log.Info().Str("name", cfg.Name).Msg("restarting service")

	if err := svc.Restart(cfg); err != nil {
		return err
	}

	fmt.Printf("Service %q restarted.\n", cfg.Name)
	return nil
}

// nolint:revive // args required by cobra.Command RunE signature
func runServiceStatus(cmd *cobra.Command, args []string) error {
	cfg := getServiceConfig()

	status, err := svc.Status(cfg)
	if err != nil {
		return fmt.Errorf("query service status: %w", err)
	}

	fmt.Printf("Service %q: %s\n", cfg.Name, svc.StatusString(status))
	return nil
}
