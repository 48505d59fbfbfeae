/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ssargent/userdots/pkg/config"
)

// initCmd represents the init command
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration file",
	Long: `Write a default userdots configuration file.

Examples:
  dots init
  dots init --config ./userdots.yaml --data ./data/users.bin`,
	Run: func(cmd *cobra.Command, args []string) {
		configPath, _ := cmd.Flags().GetString("config")
		dataPath, _ := cmd.Flags().GetString("data")
		force, _ := cmd.Flags().GetBool("force")

		if config.ConfigExists(configPath) && !force {
			cmd.Printf("Config already exists at %s. Use --force to overwrite.\n", configPath)
			return
		}

		cfg, err := initializeConfig(configPath, dataPath)
		if err != nil {
			fail(cmd, err)
		}

		cmd.Printf("✅ Configuration written to %s\n", configPath)
		cmd.Printf("Container path: %s\n", cfg.Data.Path)
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().Bool("force", false, "Overwrite an existing configuration")
}

// initializeConfig writes the default config and creates the data directory
func initializeConfig(configPath, dataPath string) (*config.Config, error) {
	cfg, err := config.BootstrapConfig(configPath, dataPath)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Data.Path), 0750); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	return cfg, nil
}
