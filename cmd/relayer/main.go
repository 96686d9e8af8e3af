package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/moltrade/relayer/pkg/config"
	"github.com/moltrade/relayer/pkg/log"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "relayer",
	Short: "Moltrade relayer - encrypted copy-trading signal relay",
	Long: `The Moltrade relayer ingests encrypted trading signals from a pool of
upstream relays, deduplicates them across restarts, persists trade and
subscription state, fans signals out to followers over WebSocket push and
re-encrypted re-publication, and reconciles on-chain settlement to award
usage credits.`,
	Version: Version,
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")

		cfg, err := loadConfig(configPath)
		if err != nil {
			return err
		}

		initLogging(cmd, cfg)
		return run(cfg)
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Moltrade relayer version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.Flags().String("config", "", "Path to configuration TOML file")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

// initLogging prefers the CLI flag, then the config value
func initLogging(cmd *cobra.Command, cfg *config.Config) {
	level, _ := cmd.Flags().GetString("log-level")
	if level == "" {
		level = cfg.Monitoring.LogLevel
	}
	logJSON, _ := cmd.Flags().GetBool("log-json")

	log.Init(level, logJSON, nil)
}
