package main

import (
	"github.com/spf13/cobra"

	"github.com/kbukum/taskflow/app"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, callback gateway and background workers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			a, _, err := app.Build(cfg, app.ModeServe)
			if err != nil {
				return err
			}
			return a.Run(cmd.Context())
		},
	}
}
