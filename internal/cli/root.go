package cli

import (
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "bridgewarden",
	Short: "Security gateway between an AI coding agent and untrusted text",
	Long: "BridgeWarden forces every byte of untrusted content — files, web pages, repositories — " +
		"through a deterministic inspection pipeline before an agent sees it. " +
		"Blocked originals are quarantined for human review; every decision is audited.",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (default ~/.bridgewarden/config.yaml)")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
