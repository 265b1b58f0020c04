package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/bridgewarden/bridgewarden/internal/config"
	"github.com/bridgewarden/bridgewarden/internal/quarantine"
)

var (
	excerptBytes int
	sweepMaxAge  time.Duration
)

func init() {
	rootCmd.AddCommand(quarantineCmd)
	quarantineCmd.AddCommand(quarantineGetCmd, quarantineSweepCmd)
	quarantineGetCmd.Flags().IntVar(&excerptBytes, "excerpt-bytes", 0, "Excerpt size (default 4096)")
	quarantineSweepCmd.Flags().DurationVar(&sweepMaxAge, "max-age", 30*24*time.Hour, "Delete records older than this")
}

var quarantineCmd = &cobra.Command{
	Use:   "quarantine",
	Short: "Inspect and maintain the quarantine store",
}

var quarantineGetCmd = &cobra.Command{
	Use:   "get <quarantine-id>",
	Short: "Show a reviewer-safe view of a quarantined record",
	Args:  cobra.ExactArgs(1),
	RunE:  runQuarantineGet,
}

var quarantineSweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Delete quarantine records past the retention age",
	RunE:  runQuarantineSweep,
}

func runQuarantineGet(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	store, err := quarantine.NewStore(cfg.QuarantineDir())
	if err != nil {
		return err
	}
	view, err := store.GetView(args[0], excerptBytes)
	if err != nil {
		return err
	}
	out, err := json.MarshalIndent(view, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func runQuarantineSweep(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	store, err := quarantine.NewStore(cfg.QuarantineDir())
	if err != nil {
		return err
	}
	removed, err := store.Sweep(sweepMaxAge)
	if err != nil {
		return err
	}
	fmt.Printf("Removed %d record(s).\n", removed)
	return nil
}
