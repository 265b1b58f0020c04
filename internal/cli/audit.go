package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/bridgewarden/bridgewarden/internal/audit"
	"github.com/bridgewarden/bridgewarden/internal/config"
)

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.AddCommand(auditVerifyCmd)
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Audit log maintenance",
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify [path]",
	Short: "Verify the audit log hash chain",
	Long:  "Walks the JSONL audit log and checks every entry's prev_hash link.\nDefaults to the configured audit log path.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runAuditVerify,
}

func runAuditVerify(cmd *cobra.Command, args []string) error {
	path := ""
	if len(args) == 1 {
		path = args[0]
	} else {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		path = cfg.AuditLogPath()
	}

	result := audit.Verify(path)
	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	if !result.Valid {
		os.Exit(1)
	}
	return nil
}
