package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"FinPilot/internal/di"
	"FinPilot/pkg/config"
	"FinPilot/pkg/server"
)

var rootCmd = &cobra.Command{
	Use:          "app",
	Short:        "FinPilot daily model pipeline",
	Long:         `FinPilot runs the daily data-ingest, model, alert and notification pipeline and serves its operator API.`,
	SilenceUsage: true,
}

var configPath string

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config/config.yaml", "config file path")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(recoverCmd)
	rootCmd.AddCommand(statusCmd)
}

// buildApp loads config and wires every dependency.
func buildApp() (*server.App, func(), error) {
	cfg, err := config.LoadWithEnv(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("config load failed: %w", err)
	}
	app, cleanup, err := di.InitializeApp(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("app initialization failed: %w", err)
	}
	return app, cleanup, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
