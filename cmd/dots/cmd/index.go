/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ssargent/userdots/pkg/storage"
	"github.com/ssargent/userdots/pkg/store"
)

// indexCmd represents the index command
var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Build a persisted index for a container",
	Long: `Scan a container and persist every user's id, offset and name, so a
server can resolve exact selectors without a caching pass.

Examples:
  dots index --output ./data/users.idx
  dots index --output ./data/users.pebble --format pebble`,
	Run: func(cmd *cobra.Command, args []string) {
		output, _ := cmd.Flags().GetString("output")
		format, _ := cmd.Flags().GetString("format")
		if output == "" {
			output = container.Config().Data.IndexPath
		}
		if output == "" {
			fail(cmd, fmt.Errorf("--output is required when data.index_path is not set"))
		}
		if !cmd.Flags().Changed("format") && container.Config().Data.IndexFormat != "" {
			format = container.Config().Data.IndexFormat
		}

		backend, err := container.OpenContainer()
		if err != nil {
			fail(cmd, err)
		}
		defer backend.Close()

		n, err := buildIndex(backend, output, format)
		if err != nil {
			fail(cmd, err)
		}
		cmd.Printf("Indexed %d users into %s (%s)\n", n, output, format)
	},
}

func init() {
	rootCmd.AddCommand(indexCmd)
	indexCmd.Flags().StringP("output", "o", "", "Index to write (default data.index_path)")
	indexCmd.Flags().String("format", "csv", "Index format: csv or pebble")
}

// buildIndex writes the index of backend to output in format
func buildIndex(backend store.Backend, output, format string) (int, error) {
	switch format {
	case "pebble":
		idx, err := storage.OpenPebbleIndex(output)
		if err != nil {
			return 0, fmt.Errorf("failed to open pebble index: %w", err)
		}
		n, err := idx.Build(backend)
		if cerr := idx.Close(); err == nil {
			err = cerr
		}
		return n, err
	case "csv", "":
		return writeCSVIndex(backend, output)
	default:
		return 0, fmt.Errorf("unknown index format %q", format)
	}
}

// writeCSVIndex writes the index next to output and renames it into place
func writeCSVIndex(backend store.Backend, output string) (int, error) {
	tmp, err := os.CreateTemp(filepath.Dir(output), "."+filepath.Base(output)+".*.tmp")
	if err != nil {
		return 0, err
	}
	defer os.Remove(tmp.Name())

	n, err := store.WriteIndex(tmp, backend)
	if err == nil {
		err = tmp.Sync()
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return n, err
	}

	if err := os.Rename(tmp.Name(), output); err != nil {
		return n, err
	}
	logger().Info("index written", zap.String("path", output), zap.Int("entries", n))
	return n, nil
}
