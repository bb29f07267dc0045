package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	httpapi "github.com/fyrsmithlabs/buildmedic/internal/http"
	"github.com/fyrsmithlabs/buildmedic/internal/telemetry"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the buildmedic HTTP API",
	Long: `Start the HTTP API serving log analysis and memory governance.

Examples:
  # Start with defaults (127.0.0.1:8787)
  buildmedic serve

  # Override the port
  BUILDMEDIC_SERVER_PORT=9000 buildmedic serve`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	tel, err := telemetry.New(cmd.Context(), a.cfg.Telemetry, version)
	if err != nil {
		return err
	}
	if tel.Degraded() {
		a.logger.Warn("telemetry degraded, continuing without export")
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(ctx); err != nil {
			a.logger.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}()

	an, err := newAnalyzer(a.cfg, a.logger)
	if err != nil {
		return err
	}

	server, err := httpapi.NewServer(a.svc, an, a.logger, &httpapi.Config{
		Host: a.cfg.Server.Host,
		Port: a.cfg.Server.Port,
	})
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		a.logger.Info("shutting down", zap.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	return server.Shutdown(ctx)
}
