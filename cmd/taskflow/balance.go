package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/kbukum/taskflow/app"
)

func newBalanceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "balance",
		Short: "Inspect or top up user quota",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "get <user-id>",
			Short: "Print a user's balance",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withService(cmd, func(ctx context.Context, svc *app.Service) error {
					bal, err := svc.Ledger.Balance(ctx, args[0])
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d\n", args[0], bal)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "credit <user-id> <amount>",
			Short: "Add quota to a user's balance",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				amount, err := strconv.ParseInt(args[1], 10, 64)
				if err != nil || amount <= 0 {
					return fmt.Errorf("amount must be a positive integer, got %q", args[1])
				}
				return withService(cmd, func(ctx context.Context, svc *app.Service) error {
					bal, err := svc.Ledger.Credit(ctx, args[0], amount)
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d\n", args[0], bal)
					return nil
				})
			},
		},
	)
	return cmd
}

// withService runs fn against the wired domain without serving traffic.
func withService(cmd *cobra.Command, fn func(ctx context.Context, svc *app.Service) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	a, svc, err := app.Build(cfg, app.ModeTask)
	if err != nil {
		return err
	}
	return a.RunTask(cmd.Context(), func(ctx context.Context) error {
		return fn(ctx, svc)
	})
}
