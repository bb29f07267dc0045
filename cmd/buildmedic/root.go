package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/buildmedic/internal/analyzer"
	"github.com/fyrsmithlabs/buildmedic/internal/config"
	"github.com/fyrsmithlabs/buildmedic/internal/governance"
	"github.com/fyrsmithlabs/buildmedic/internal/logging"
	"github.com/fyrsmithlabs/buildmedic/internal/store"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "buildmedic",
	Short: "Build log analysis with governed local memory",
	Long: `buildmedic analyzes build and deploy logs, learns error patterns and
fixes into a local knowledge base, and governs knowledge exchanged with
other machines through quarantine, audit, and rollback.`,
	Version:       fmt.Sprintf("%s (commit %s)", version, gitCommit),
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path (default ~/.config/buildmedic/config.yaml)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(memoryCmd)
	rootCmd.AddCommand(quarantineCmd)
	rootCmd.AddCommand(auditCmd)
}

// app bundles everything a subcommand needs.
type app struct {
	cfg    *config.Config
	logger *zap.Logger
	svc    governance.Service
}

func (a *app) close() {
	_ = a.svc.Close()
	_ = logging.Sync(a.logger)
}

// newApp loads configuration and wires the governance service over the
// file store. Every subcommand goes through here so the stack is built
// one way only.
func newApp() (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, err
	}

	st, err := store.NewFileStore(cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open memory store: %w", err)
	}

	svc, err := governance.NewService(&governance.Config{
		FuzzyThreshold:    cfg.Fuzzy.Threshold,
		ExtraRiskPatterns: cfg.Risk.ExtraPatterns,
	}, st, logger)
	if err != nil {
		return nil, err
	}

	return &app{cfg: cfg, logger: logger, svc: svc}, nil
}

// newAnalyzer builds the configured analyzer implementation.
func newAnalyzer(cfg *config.Config, logger *zap.Logger) (analyzer.Analyzer, error) {
	if cfg.Analyzer.Provider == "llm" {
		return analyzer.NewLLMAnalyzer(analyzer.Config{
			BaseURL: cfg.Analyzer.BaseURL,
			Model:   cfg.Analyzer.Model,
			APIKey:  cfg.Analyzer.APIKey,
		}, logger)
	}
	return analyzer.NewPatternAnalyzer(), nil
}
