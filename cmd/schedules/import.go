package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/diagnosis/railwatch/internal/schedule"
)

var importCmd = &cobra.Command{
	Use:   "import <file.yaml>",
	Short: "Load schedule records from a YAML file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		store, closeFn, cfg, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer closeFn()

		n, err := schedule.ImportFile(ctx, store, args[0])
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if cfg.Schedule.Backend == "" || cfg.Schedule.Backend == "memory" {
			fmt.Fprintf(out, "Validated %d records (memory backend, nothing persisted)\n", n)
			return nil
		}
		fmt.Fprintf(out, "Imported %d records into %s\n", n, cfg.Schedule.Backend)
		return nil
	},
}
