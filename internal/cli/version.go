package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bridgewarden/bridgewarden/internal/policy"
)

// Version is stamped at build time via -ldflags.
var Version = "0.1.0-dev"

func init() {
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version and active policy version",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Printf("bridgewarden %s\n", Version)
		for _, profile := range []string{"strict", "balanced", "permissive"} {
			snap, err := policy.LoadSnapshot(profile)
			if err != nil {
				return err
			}
			fmt.Printf("policy %s: %s (pack %s)\n", profile, snap.Version, snap.PackVersion)
		}
		return nil
	},
}
