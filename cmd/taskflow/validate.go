package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kbukum/taskflow/schema"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [schema-file...]",
		Short: "Check the configuration and pipeline schema files",
		Long: `Loads and validates the service configuration, then every schema file
given as an argument. All schema problems are reported before exiting.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := loadValidConfig(cmd); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "config: ok")

			failed := 0
			for _, path := range args {
				ps, err := schema.LoadFile(path)
				if err == nil {
					err = ps.Validate()
				}
				if err != nil {
					failed++
					fmt.Fprintf(out, "%s: %v\n", path, err)
					continue
				}
				fmt.Fprintf(out, "%s: ok (%s v%d, %d nodes)\n", path, ps.ID, ps.Version, len(ps.Nodes))
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d schemas are invalid", failed, len(args))
			}
			return nil
		},
	}
}
