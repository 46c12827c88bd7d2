package cmd

import (
	"github.com/spf13/cobra"

	"github.com/wfunc/seatkeeper/config"
	"github.com/wfunc/seatkeeper/logger"
)

var configDir string

var rootCmd = &cobra.Command{
	Use:   "seatkeeper",
	Short: "Seat and room coordinator for live game sessions",
	Long:  `HTTP + WebSocket + net/rpc API. Commands: serve, migrate.`,
	RunE:  runServe, // default: same as "seatkeeper serve"
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configDir, "config", ".", "directory containing config.yaml")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
}

// Execute runs the root command and returns the error (for main to log.Fatal).
func Execute() error {
	return rootCmd.Execute()
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(configDir)
	if err != nil {
		return nil, err
	}
	logger.Init(cfg.Log.Level, cfg.Log.Development)
	return cfg, nil
}
