/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ssargent/userdots/pkg/config"
	"github.com/ssargent/userdots/pkg/di"
	"github.com/ssargent/userdots/pkg/logging"
)

// container is built from the configuration before any subcommand runs
var container *di.Container

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "dots",
	Short: "userdots - per-user activity containers",
	Long: `userdots builds compact per-user activity containers from activity
exports and resolves users out of them by name, id, glob, regex or offset.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		logger, err := logging.New(cfg.Logging)
		if err != nil {
			return fmt.Errorf("failed to create logger: %w", err)
		}
		container = di.NewContainer(cfg, logger)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if container != nil {
			_ = container.Logger().Sync()
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("config", config.GetDefaultConfigPath(), "Path to the configuration file")
	rootCmd.PersistentFlags().StringP("data", "d", "", "Container file (overrides data.path)")
	rootCmd.PersistentFlags().String("compression", "", "Container compression: none, gzip, zstd, snappy")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error")
}

// loadConfig reads the config file when it exists and applies flag overrides
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")

	cfg := config.DefaultConfig()
	if config.ConfigExists(path) {
		loaded, err := config.LoadConfig(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if cmd.Flags().Changed("data") {
		cfg.Data.Path, _ = cmd.Flags().GetString("data")
	}
	if cmd.Flags().Changed("compression") {
		cfg.Data.Compression, _ = cmd.Flags().GetString("compression")
	}
	if cmd.Flags().Changed("log-level") {
		cfg.Logging.Level, _ = cmd.Flags().GetString("log-level")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// logger returns the container's logger, or a no-op one outside a command run
func logger() *zap.Logger {
	if container == nil {
		return zap.NewNop()
	}
	return container.Logger()
}
