package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/atmx/amm-engine/internal/config"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "ammd",
	Short: "AMM ledger engine",
	Long: `ammd runs the constant-product pool engine: account balances,
token pools, buy/sell settlement, and holdings, served over HTTP and
WebSocket. Without a subcommand it runs the server.`,
	SilenceUsage: true,
}

// Execute runs the root command. Called once from main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "configuration file path (yaml, toml or json)")
	rootCmd.RunE = serveCmd.RunE
}

// loadConfig loads configuration and installs the JSON logger at the
// configured level.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}
	level, _ := cfg.Log.SlogLevel()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return cfg, nil
}
