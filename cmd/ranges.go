package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/visitor-intel/internal/iprange"
)

var rangesCmd = &cobra.Command{
	Use:   "ranges",
	Short: "Manage the static IP range directory",
}

// -- ranges import --

var rangesImportCmd = &cobra.Command{
	Use:   "import <file.yaml>",
	Short: "Replace the IP range directory with the ranges in a YAML file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("ranges"); err != nil {
			return err
		}

		st, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		n, err := iprange.Import(ctx, st, args[0])
		if err != nil {
			return eris.Wrap(err, "ranges import")
		}

		zap.L().Info("ip ranges imported", zap.String("file", args[0]), zap.Int("count", n))
		fmt.Fprintf(cmd.OutOrStdout(), "Imported %d ranges.\n", n)
		return nil
	},
}

// -- ranges list --

var rangesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the IP range directory in lookup order",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("ranges"); err != nil {
			return err
		}

		st, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		ranges, err := st.ListIPRanges(ctx)
		if err != nil {
			return eris.Wrap(err, "ranges list")
		}
		if len(ranges) == 0 {
			fmt.Fprintln(cmd.ErrOrStderr(), "No ranges found.")
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tCOMPANY\tDOMAIN\tSTART\tEND")
		for _, r := range ranges {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", r.ID, r.CompanyName, r.CompanyDomain, r.StartIP, r.EndIP)
		}
		return w.Flush()
	},
}

func init() {
	rangesCmd.AddCommand(rangesImportCmd)
	rangesCmd.AddCommand(rangesListCmd)
	rootCmd.AddCommand(rangesCmd)
}
