package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

var memoryCmd = &cobra.Command{
	Use:   "memory",
	Short: "Export and import memory packages",
}

var memoryExportCmd = &cobra.Command{
	Use:   "export [file]",
	Short: "Export local knowledge and repair history as a memory package",
	Long: `Export the local knowledge base and repair history as a portable
memory package. With no file argument the package is written to stdout.

Examples:
  buildmedic memory export memory-package.json
  buildmedic memory export | ssh otherhost buildmedic memory import -`,
	Args: cobra.MaximumNArgs(1),
	RunE: runMemoryExport,
}

var memoryImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import a memory package into quarantine",
	Long: `Import a memory package exported on another machine. The package is
held in quarantine; review it with "buildmedic quarantine list" and merge
it with "buildmedic quarantine approve".

Examples:
  buildmedic memory import memory-package.json
  cat memory-package.json | buildmedic memory import -`,
	Args: cobra.ExactArgs(1),
	RunE: runMemoryImport,
}

func init() {
	memoryCmd.AddCommand(memoryExportCmd)
	memoryCmd.AddCommand(memoryImportCmd)
}

func runMemoryExport(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	raw, err := a.svc.ExportPackage(cmd.Context())
	if err != nil {
		return err
	}

	if len(args) == 0 {
		_, err = cmd.OutOrStdout().Write(raw)
		return err
	}
	if err := os.WriteFile(args[0], raw, 0600); err != nil {
		return fmt.Errorf("failed to write package: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Exported memory package to %s\n", args[0])
	return nil
}

func runMemoryImport(cmd *cobra.Command, args []string) error {
	var raw []byte
	var err error
	if args[0] == "-" {
		raw, err = io.ReadAll(os.Stdin)
	} else {
		raw, err = os.ReadFile(args[0])
	}
	if err != nil {
		return fmt.Errorf("failed to read package: %w", err)
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	pkg, err := a.svc.ImportPackage(cmd.Context(), raw)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(),
		"Package %s quarantined for review (%d knowledge entries, %d history entries, %d risky scripts).\n",
		pkg.ID, pkg.Stats.KnowledgeEntries, pkg.Stats.HistoryEntries, pkg.Stats.RiskyScripts)
	if pkg.Stats.RiskyScripts > 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "Warning: this package contains risky scripts. Review before approving.")
	}
	return nil
}
