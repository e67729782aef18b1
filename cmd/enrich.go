package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	enrichBatchSize   int
	enrichConcurrency int
)

var enrichCmd = &cobra.Command{
	Use:   "enrich",
	Short: "Run one enrichment cycle over pending tasks",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if enrichBatchSize > 0 {
			cfg.Enrichment.BatchSize = enrichBatchSize
		}
		if enrichConcurrency > 0 {
			cfg.Enrichment.Concurrency = enrichConcurrency
		}

		env, err := initEnv(ctx, cfg, "enrich")
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Processor.RunCycle(ctx)
		if err != nil {
			return eris.Wrap(err, "enrich")
		}

		zap.L().Info("enrichment cycle complete",
			zap.Int("processed", res.Processed),
			zap.Int("succeeded", res.Succeeded),
			zap.Int("not_found", res.NotFound),
			zap.Int("failed", res.Failed),
		)
		return printJSON(cmd.OutOrStdout(), res)
	},
}

func init() {
	enrichCmd.Flags().IntVar(&enrichBatchSize, "batch-size", 0, "pending tasks per cycle (default from config)")
	enrichCmd.Flags().IntVar(&enrichConcurrency, "concurrency", 0, "concurrent provider lookups (default from config)")
	rootCmd.AddCommand(enrichCmd)
}
