package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/buildmedic/internal/merge"
)

var approveStrategy string

var quarantineCmd = &cobra.Command{
	Use:   "quarantine",
	Short: "Review quarantined memory packages",
}

var quarantineListCmd = &cobra.Command{
	Use:   "list",
	Short: "List packages awaiting review",
	RunE:  runQuarantineList,
}

var quarantineApproveCmd = &cobra.Command{
	Use:   "approve <package-id>",
	Short: "Merge a quarantined package into local memory",
	Long: `Merge a quarantined package into the local knowledge base and repair
history. The state before the merge is kept in the audit log, so an
approval can be undone later with "buildmedic audit rollback".

Examples:
  # Keep local solutions on conflicts (default)
  buildmedic quarantine approve 4f1f8a2e-...

  # Let the incoming package win conflicts
  buildmedic quarantine approve --strategy overwrite 4f1f8a2e-...`,
	Args: cobra.ExactArgs(1),
	RunE: runQuarantineApprove,
}

var quarantineRejectCmd = &cobra.Command{
	Use:   "reject <package-id>",
	Short: "Reject a quarantined package without merging",
	Args:  cobra.ExactArgs(1),
	RunE:  runQuarantineReject,
}

func init() {
	quarantineApproveCmd.Flags().StringVar(&approveStrategy, "strategy", string(merge.PreferLocal),
		"merge strategy: prefer-local or overwrite")
	quarantineCmd.AddCommand(quarantineListCmd)
	quarantineCmd.AddCommand(quarantineApproveCmd)
	quarantineCmd.AddCommand(quarantineRejectCmd)
}

func runQuarantineList(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	pending, err := a.svc.PendingImports(cmd.Context())
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No packages awaiting review.")
		return nil
	}

	out := cmd.OutOrStdout()
	for _, pkg := range pending {
		imported := time.UnixMilli(pkg.ImportDate).Format(time.RFC3339)
		fmt.Fprintf(out, "%s  imported %s\n", pkg.ID, imported)
		fmt.Fprintf(out, "  %d knowledge entries, %d history entries, %d risky scripts\n",
			pkg.Stats.KnowledgeEntries, pkg.Stats.HistoryEntries, pkg.Stats.RiskyScripts)
	}
	return nil
}

func runQuarantineApprove(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	entry, err := a.svc.Approve(cmd.Context(), args[0], merge.Strategy(approveStrategy))
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Package %s merged (%s). Undo with: buildmedic audit rollback %s\n",
		args[0], approveStrategy, entry.ID)
	return nil
}

func runQuarantineReject(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.svc.Reject(cmd.Context(), args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Package %s rejected.\n", args[0])
	return nil
}
