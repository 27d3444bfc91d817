package main

import (
	"context"
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/kbukum/taskflow/app"
)

func newReconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Run one reconciliation sweep over stale quota reservations",
		Long: `Resolves reservations older than quota.reconciler.grace_period. Tasks
that completed are confirmed; every other task is cancelled and its amount
returned to the user. Run it while no server is running tasks, or rely on the
sweep the server runs when quota.reconciler.enabled is set.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			a, svc, err := app.Build(cfg, app.ModeTask)
			if err != nil {
				return err
			}
			return a.RunTask(cmd.Context(), func(ctx context.Context) error {
				res, err := svc.Reconciler.Sweep(ctx)
				if err != nil {
					return err
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(res)
			})
		},
	}
}
