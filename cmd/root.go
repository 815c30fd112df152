package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"go-auditrisk/pkg/config"
	"go-auditrisk/pkg/logger"
)

var (
	cfgFile string
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "auditrisk",
	Short: "Risk analysis for Microsoft 365 unified audit logs",
	Long: `auditrisk scores audit log events by location, operation and time,
flags anomalies against per-address and per-user history and marks events
that look like account compromise.

Batches are read from JSON-lines files or consumed from Kafka.`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: false,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initConfig(cmd)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Sync()
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: config/config.yaml or ./config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "override log.level")
}

func initConfig(cmd *cobra.Command) error {
	if err := config.Init(cfgFile); err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg = &config.GlobalConfig
	if level, _ := cmd.Root().PersistentFlags().GetString("log-level"); level != "" {
		cfg.Log.Level = level
	}

	if err := logger.Init(cfg); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	return nil
}
