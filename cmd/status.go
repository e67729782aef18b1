package main

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sells-group/visitor-intel/internal/monitoring"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show task queue and identification counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("status"); err != nil {
			return err
		}

		st, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		snap, err := monitoring.NewCollector(st, nil).Collect(ctx)
		if err != nil {
			return err
		}

		if statusJSON {
			return printJSON(cmd.OutOrStdout(), snap)
		}
		return printSnapshot(cmd.OutOrStdout(), snap)
	},
}

func printSnapshot(out io.Writer, snap *monitoring.Snapshot) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Tasks pending:\t%d\n", snap.TasksPending)
	fmt.Fprintf(w, "Tasks completed:\t%d\n", snap.TasksCompleted)
	fmt.Fprintf(w, "Tasks failed:\t%d\n", snap.TasksFailed)
	fmt.Fprintf(w, "Task fail rate:\t%.1f%%\n", snap.TaskFailRate*100)
	fmt.Fprintf(w, "Unidentified visits:\t%d\n", snap.UnidentifiedVisits)
	fmt.Fprintf(w, "Companies:\t%d\n", snap.Companies)
	fmt.Fprintf(w, "IP ranges:\t%d\n", snap.IPRanges)

	names := make([]string, 0, len(snap.Breakers))
	for name := range snap.Breakers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		b := snap.Breakers[name]
		fmt.Fprintf(w, "Circuit %s:\t%s (failures %d, rejected %d)\n", name, b.State, b.ConsecutiveFailures, b.Rejected)
	}
	return w.Flush()
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "print the snapshot as JSON")
	rootCmd.AddCommand(statusCmd)
}
