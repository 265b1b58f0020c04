package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bridgewarden/bridgewarden/internal/approval"
	"github.com/bridgewarden/bridgewarden/internal/config"
)

var (
	listStatus string
	listKind   string
	listLimit  int
	decideNote string
	decidedBy  string
)

func init() {
	rootCmd.AddCommand(approvalsCmd)
	approvalsCmd.AddCommand(approvalsListCmd, approvalsApproveCmd, approvalsDenyCmd)
	approvalsListCmd.Flags().StringVar(&listStatus, "status", "", "Filter by status (PENDING, APPROVED, DENIED)")
	approvalsListCmd.Flags().StringVar(&listKind, "kind", "", "Filter by kind (web_domain, repo_url, upstream_mcp_server)")
	approvalsListCmd.Flags().IntVar(&listLimit, "limit", 100, "Maximum records to show")
	for _, cmd := range []*cobra.Command{approvalsApproveCmd, approvalsDenyCmd} {
		cmd.Flags().StringVar(&decideNote, "notes", "", "Reviewer notes recorded on the decision")
		cmd.Flags().StringVar(&decidedBy, "by", "", "Reviewer identity recorded on the decision")
	}
}

var approvalsCmd = &cobra.Command{
	Use:   "approvals",
	Short: "Manage source approval requests",
}

var approvalsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List source approvals, newest first",
	RunE:  runApprovalsList,
}

var approvalsApproveCmd = &cobra.Command{
	Use:   "approve <approval-id>",
	Short: "Approve a pending source request",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return decideApproval(args[0], approval.StatusApproved)
	},
}

var approvalsDenyCmd = &cobra.Command{
	Use:   "deny <approval-id>",
	Short: "Deny a pending source request",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return decideApproval(args[0], approval.StatusDenied)
	},
}

func openStore() (*approval.Store, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	return approval.NewStore(cfg.ApprovalsDir())
}

func runApprovalsList(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	records, err := store.List(approval.Status(listStatus), approval.Kind(listKind), listLimit)
	if err != nil {
		return fmt.Errorf("failed to list approvals: %w", err)
	}
	if len(records) == 0 {
		fmt.Println("No approvals.")
		return nil
	}

	fmt.Printf("%-36s %-20s %-10s %-40s %s\n", "ID", "KIND", "STATUS", "TARGET", "CREATED")
	for _, rec := range records {
		fmt.Printf("%-36s %-20s %-10s %-40s %s\n",
			rec.ApprovalID,
			rec.Kind,
			rec.Status,
			truncate(rec.Target, 40),
			rec.CreatedAt.Format("2006-01-02 15:04:05"),
		)
	}
	return nil
}

func decideApproval(id string, decision approval.Status) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	rec, err := store.Decide(id, decision, decidedBy, decideNote)
	if err != nil {
		return err
	}
	fmt.Printf("%s %s (%s %s)\n", rec.ApprovalID, rec.Status, rec.Kind, rec.Target)
	return nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
