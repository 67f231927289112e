package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list <crossingId>",
	Short: "Show the upcoming trains for a crossing",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		store, closeFn, _, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer closeFn()

		entries, err := store.ByCrossing(ctx, args[0])
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if jsonOutput {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(entries)
		}
		if len(entries) == 0 {
			fmt.Fprintf(out, "No trains scheduled for %s\n", args[0])
			return nil
		}

		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "TRAIN\tARRIVAL\tTYPE")
		for _, e := range entries {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", e.TrainID, e.ArrivalTime, e.TrainType)
		}
		return tw.Flush()
	},
}
