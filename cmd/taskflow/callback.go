package main

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/kbukum/taskflow/callback"
	"github.com/kbukum/taskflow/dag"
	"github.com/kbukum/taskflow/logger"
)

func newCallbackCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "callback <task-id> <step-index>",
		Short: "Send a signed completion callback for a suspended step",
		Long: `Signs a completion signal with callback.secret and posts it to the
gateway at callback.notifier.base_url, retrying while the step is not yet
waiting. Useful to complete async steps by hand.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadValidConfig(cmd)
			if err != nil {
				return err
			}
			step, err := strconv.Atoi(args[1])
			if err != nil || step < 0 {
				return fmt.Errorf("step index must be a non-negative integer, got %q", args[1])
			}

			flags := cmd.Flags()
			sig := dag.Signal{}
			if sig.Status, err = flags.GetString("status"); err != nil {
				return err
			}
			if sig.Error, err = flags.GetString("error"); err != nil {
				return err
			}
			if sig.OutputURL, err = flags.GetString("output-url"); err != nil {
				return err
			}
			raw, err := flags.GetString("output")
			if err != nil {
				return err
			}
			if raw != "" {
				if err := json.Unmarshal([]byte(raw), &sig.Output); err != nil {
					return fmt.Errorf("output must be JSON: %w", err)
				}
			}

			log := logger.Init(cfg.Logging, cfg.Name)
			n, err := callback.NewNotifier(cfg.Callback.Notifier,
				callback.NewSigner(cfg.Callback.Secret, cfg.Callback.Tolerance), log)
			if err != nil {
				return err
			}
			if err := n.Notify(cmd.Context(), args[0], step, sig); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "delivered")
			return nil
		},
	}
	cmd.Flags().String("status", "completed", "Step status: completed or failed")
	cmd.Flags().String("output", "", "Step output as a JSON object")
	cmd.Flags().String("output-url", "", "Location of the step output")
	cmd.Flags().String("error", "", "Error message for a failed step")
	return cmd
}
