// Command visitor-intel identifies the companies behind anonymous website
// visits and enriches them with firmographic data.
package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/visitor-intel/internal/config"
)

var (
	cfg      *config.Config
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "visitor-intel",
	Short: "Website visitor company identification",
	Long:  "Resolves anonymous visitor IPs to companies through ASN, reverse DNS and a static range directory, then enriches identified companies with firmographic data.",

	SilenceUsage:      true,
	PersistentPreRunE: setup,
	PersistentPostRun: func(*cobra.Command, []string) { _ = zap.L().Sync() },
}

// setup loads configuration and installs the global logger before any
// subcommand runs.
func setup(*cobra.Command, []string) error {
	c, err := config.Load()
	if err != nil {
		return eris.Wrap(err, "visitor-intel: load config")
	}
	if logLevel != "" {
		c.Log.Level = logLevel
	}
	if err := config.InitLogger(c.Log); err != nil {
		return eris.Wrap(err, "visitor-intel: init logger")
	}
	cfg = c
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log.level (debug, info, warn, error)")
}
