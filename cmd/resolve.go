package main

import (
	"net/netip"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var resolveCmd = &cobra.Command{
	Use:   "resolve <ip>",
	Short: "Resolve an IP address to a company",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		ip := args[0]
		if _, err := netip.ParseAddr(ip); err != nil {
			return eris.Errorf("invalid ip %q", ip)
		}

		env, err := initEnv(ctx, cfg, "resolve")
		if err != nil {
			return err
		}
		defer env.Close()

		return printJSON(cmd.OutOrStdout(), env.Resolver.Resolve(ctx, ip))
	},
}

func init() {
	rootCmd.AddCommand(resolveCmd)
}
