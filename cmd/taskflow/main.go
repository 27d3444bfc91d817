// Package main is the taskflow binary: the workflow service and its
// operator commands.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kbukum/taskflow/app"
	"github.com/kbukum/taskflow/config"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "taskflow",
		Short: "Declarative workflow engine with quota accounting",
		Long: `taskflow runs pipeline schemas as DAGs of processing steps and charges
their cost against per-user quota through a reserve/confirm/cancel ledger.

Configuration is read from ./cmd/taskflow/config.yml, ./config.yml or the file
given with --config, then overridden by TASKFLOW_* environment variables.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringP("config", "c", "", "Path to configuration file (YAML)")

	root.AddCommand(
		newServeCmd(),
		newValidateCmd(),
		newReconcileCmd(),
		newBalanceCmd(),
		newTokenCmd(),
		newCallbackCmd(),
		newVersionCmd(),
	)
	return root
}

// loadConfig reads the service config honoring --config.
func loadConfig(cmd *cobra.Command) (*app.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, fmt.Errorf("failed to get config flag: %w", err)
	}
	var opts []config.LoaderOption
	if path != "" {
		opts = append(opts, config.WithConfigFile(path))
	}
	cfg := &app.Config{}
	if err := config.LoadConfig(app.ServiceName, cfg, opts...); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadValidConfig is loadConfig plus defaults and validation, for commands
// that do not go through bootstrap.
func loadValidConfig(cmd *cobra.Command) (*app.Config, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}
