package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var dedupConcurrency int

var dedupCmd = &cobra.Command{
	Use:   "dedup",
	Short: "Run one IP dedup cycle over unidentified visits",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if dedupConcurrency > 0 {
			cfg.Dedup.Concurrency = dedupConcurrency
		}

		env, err := initEnv(ctx, cfg, "dedup")
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Dedup.RunCycle(ctx)
		if err != nil {
			return eris.Wrap(err, "dedup")
		}

		zap.L().Info("dedup cycle complete",
			zap.Int("processed", res.Processed),
			zap.Int("unique_ips", res.UniqueIPs),
			zap.Int("identified", res.Identified),
			zap.Int("tasks_created", res.TasksCreated),
		)
		return printJSON(cmd.OutOrStdout(), res)
	},
}

func init() {
	dedupCmd.Flags().IntVar(&dedupConcurrency, "concurrency", 0, "concurrent IP resolutions (default from config)")
	rootCmd.AddCommand(dedupCmd)
}
