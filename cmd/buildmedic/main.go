// Buildmedic analyzes build and deploy logs and governs the local
// knowledge learned from them.
//
// The binary hosts both the HTTP API (buildmedic serve) and direct CLI
// operations against the local memory store: analyzing logs, exporting
// and importing memory packages, reviewing quarantined imports, and
// rolling back approved merges.
//
// Configuration is loaded from ~/.config/buildmedic/config.yaml and
// BUILDMEDIC_* environment variables. See internal/config for details.
package main

import (
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
