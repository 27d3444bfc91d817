package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kbukum/taskflow/auth"
)

func newTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token <user-id>",
		Short: "Issue an API bearer token for a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadValidConfig(cmd)
			if err != nil {
				return err
			}
			if !cfg.Auth.Enabled {
				return fmt.Errorf("auth is disabled; enable auth to issue tokens")
			}
			scopes, err := cmd.Flags().GetStringSlice("scope")
			if err != nil {
				return fmt.Errorf("failed to get scope flag: %w", err)
			}
			svc, err := auth.NewService(cfg.Auth)
			if err != nil {
				return err
			}
			token, err := svc.Issue(args[0], scopes...)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringSlice("scope", nil, "Scopes to embed in the token")
	return cmd
}
