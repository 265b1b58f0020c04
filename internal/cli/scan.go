package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/bridgewarden/bridgewarden/internal/audit"
	"github.com/bridgewarden/bridgewarden/internal/config"
	"github.com/bridgewarden/bridgewarden/internal/model"
	"github.com/bridgewarden/bridgewarden/internal/pipeline"
	"github.com/bridgewarden/bridgewarden/internal/policy"
	"github.com/bridgewarden/bridgewarden/internal/quarantine"
)

var (
	scanProfile string
	scanNoStore bool
)

func init() {
	rootCmd.AddCommand(scanCmd)
	scanCmd.Flags().StringVar(&scanProfile, "profile", "", "Override the configured policy profile")
	scanCmd.Flags().BoolVar(&scanNoStore, "no-store", false, "Skip quarantine and audit writes (dry run)")
}

var scanCmd = &cobra.Command{
	Use:   "scan <file>",
	Short: "Run one file through the inspection pipeline",
	Long:  "Reads a file, runs the full pipeline, and prints the GuardResult as JSON.\nExit code 0 for ALLOW, 1 for WARN, 2 for BLOCK.",
	Args:  cobra.ExactArgs(1),
	RunE:  runScan,
}

func runScan(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	profile := cfg.Profile
	if scanProfile != "" {
		profile = scanProfile
	}

	snap, err := policy.LoadSnapshot(profile)
	if err != nil {
		return err
	}

	var store *quarantine.Store
	var log *audit.Log
	if !scanNoStore {
		if store, err = quarantine.NewStore(cfg.QuarantineDir()); err != nil {
			return err
		}
		if log, err = audit.Open(cfg.AuditLogPath()); err != nil {
			return err
		}
		defer log.Close()
	}

	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", args[0], err)
	}

	guard := pipeline.New(policy.NewHolder(snap), store, log)
	result := guard.Scan(data, model.Source{Kind: model.SourceFile, Path: args[0]})

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))

	switch result.Decision {
	case model.Warn:
		os.Exit(1)
	case model.Block:
		os.Exit(2)
	}
	return nil
}
