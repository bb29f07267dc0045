package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/buildmedic/internal/analyzer"
	"github.com/fyrsmithlabs/buildmedic/internal/memory"
)

var analyzeRecord bool

var analyzeCmd = &cobra.Command{
	Use:   "analyze [file]",
	Short: "Analyze a build or deploy log",
	Long: `Analyze a log file (or stdin) and print the detected errors with
suggested fixes, confidence from local repair history, and similar
historical fixes.

Examples:
  # Analyze a file and learn new error patterns
  buildmedic analyze build.log

  # Analyze from stdin without touching the knowledge base
  docker compose up 2>&1 | buildmedic analyze --record=false -`,
	Args: cobra.MaximumNArgs(1),
	RunE: runAnalyze,
}

func init() {
	analyzeCmd.Flags().BoolVar(&analyzeRecord, "record", true, "record unseen findings in the knowledge base")
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	var content []byte
	var err error
	if len(args) == 0 || args[0] == "-" {
		content, err = io.ReadAll(os.Stdin)
	} else {
		content, err = os.ReadFile(args[0])
	}
	if err != nil {
		return fmt.Errorf("failed to read log: %w", err)
	}
	if len(strings.TrimSpace(string(content))) == 0 {
		return fmt.Errorf("log is empty")
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	an, err := newAnalyzer(a.cfg, a.logger)
	if err != nil {
		return err
	}

	ctx := cmd.Context()

	results, err := an.Analyze(ctx, string(content))
	if err != nil {
		a.logger.Warn("log analysis failed", zap.Error(err))
		results = analyzer.Fallback()
	}
	if len(results) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No errors detected.")
		return nil
	}

	kb, err := a.svc.Knowledge(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for i, result := range results {
		known := memory.IsKnownError(result, kb)
		if analyzeRecord && !known && result.Match != "Analysis Failed" {
			if err := a.svc.RecordAnalysis(ctx, result); err != nil {
				return err
			}
		}

		details, err := a.svc.ConfidenceFor(ctx, result.Match)
		if err != nil {
			return err
		}

		fmt.Fprintf(out, "%d. [%s] %s\n", i+1, result.Framework, result.Match)
		fmt.Fprintf(out, "   Fix: %s\n", result.Solution)
		fmt.Fprintf(out, "   Confidence: %s (%d success, %d failed)\n",
			details.Level, details.SuccessCount, details.FailCount)

		candidate, err := a.svc.SimilarFix(ctx, result.Match)
		if err != nil {
			return err
		}
		if candidate != nil {
			fmt.Fprintf(out, "   Similar past fix (%.0f%% match): %s\n",
				candidate.Similarity*100, candidate.Entry.Script)
		}
	}
	return nil
}
