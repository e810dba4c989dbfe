// Package cmd implements the command-line interface for resolvd. It
// provides subcommands for running the coordinator and inspecting the
// state of the system resolver configuration.
package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"resolvd/internal/config"
	"resolvd/internal/dns"
	"resolvd/internal/logging"
	"resolvd/internal/security"
)

// RunOptions contains options for the run command
type RunOptions struct {
	ConfigFile string
}

// NewRunCmd creates the run command
func NewRunCmd() *cobra.Command {
	opts := &RunOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the resolver configuration coordinator",
		Long: `Start the coordinator that aggregates DNS facts from interface and
VPN owners and keeps the system resolver configuration in sync.
SIGHUP reloads the configuration; SIGINT/SIGTERM shut down cleanly.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCoordinator(opts)
		},
	}

	cmd.Flags().StringVarP(&opts.ConfigFile, "config", "c", "", "config file path")

	return cmd
}

func runCoordinator(opts *RunOptions) error {
	if os.Geteuid() != 0 {
		return fmt.Errorf("resolvd must run as root to manage the system resolver file")
	}

	cfg, err := config.LoadConfig(opts.ConfigFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %v", err)
	}

	logging.Setup(cfg.LogLevel)
	logrus.Info("Starting resolvd")

	if err := security.NewHardening().ApplyHardening(); err != nil {
		logrus.WithError(err).Warn("Process hardening incomplete")
	}

	manager := dns.New(cfg)
	defer manager.Stop()

	if hostname, err := os.Hostname(); err == nil {
		manager.SetInitialHostname(hostname)
	}

	// Surface successful commits; downstream observers (dispatcher
	// scripts, the D-Bus surface of the owning daemon) hang off this.
	go func() {
		for range manager.Committed() {
			logrus.Debug("resolver configuration committed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)

	for sig := range sigChan {
		if sig == syscall.SIGHUP {
			logrus.Info("Reloading configuration")
			newCfg, err := config.LoadConfig(opts.ConfigFile)
			if err != nil {
				logrus.WithError(err).Error("Failed to reload config, keeping current one")
				continue
			}
			logging.Setup(newCfg.LogLevel)
			manager.Reload(newCfg)
			continue
		}
		break
	}

	logrus.Info("Shutting down...")
	return nil
}
