package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/buildmedic/internal/audit"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect the governance audit log and roll back merges",
}

var auditListCmd = &cobra.Command{
	Use:   "list",
	Short: "Show the audit log, most recent first",
	RunE:  runAuditList,
}

var auditRollbackCmd = &cobra.Command{
	Use:   "rollback <audit-id>",
	Short: "Undo an approved merge",
	Long: `Restore the knowledge base and repair history to their state before
the named approval. The rolled-back package returns to the quarantine
view with status rolled-back, and the rollback itself is audited.`,
	Args: cobra.ExactArgs(1),
	RunE: runAuditRollback,
}

func init() {
	auditCmd.AddCommand(auditListCmd)
	auditCmd.AddCommand(auditRollbackCmd)
}

func runAuditList(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	log, err := a.svc.AuditLog(cmd.Context())
	if err != nil {
		return err
	}
	if len(log) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "Audit log is empty.")
		return nil
	}

	out := cmd.OutOrStdout()
	for _, entry := range log {
		ts := time.UnixMilli(entry.Timestamp).Format(time.RFC3339)
		line := fmt.Sprintf("%s  %-8s  %s  package %s", ts, entry.Action, entry.ID, entry.PackageID)
		if entry.Action == audit.ActionApprove {
			line += fmt.Sprintf("  strategy=%s", entry.Details.MergeStrategy)
			if audit.IsRolledBack(log, entry.ID) {
				line += "  (rolled back)"
			}
		}
		if entry.Action == audit.ActionRollback {
			line += fmt.Sprintf("  undoes %s", entry.Details.RolledBackFromAuditID)
		}
		fmt.Fprintln(out, line)
	}
	return nil
}

func runAuditRollback(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.svc.Rollback(cmd.Context(), args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Merge %s rolled back; local memory restored to its pre-merge state.\n", args[0])
	return nil
}
