/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"io"

	"github.com/spf13/cobra"

	"github.com/ssargent/userdots/pkg/store"
)

// containerStats summarizes one pass over a container
type containerStats struct {
	Records    int         `json:"records"`
	Events     int         `json:"events"`
	FirstEvent int64       `json:"first_event,omitempty"`
	LastEvent  int64       `json:"last_event,omitempty"`
	Backend    store.Stats `json:"backend"`
}

// statsCmd represents the stats command
var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Count the users and events of a container",
	Long: `Stream a container once and count its users and events.

Examples:
  dots stats --data ./data/users.bin
  dots stats --data users.bin.zst --compression zstd --format table`,
	Run: func(cmd *cobra.Command, args []string) {
		format, _ := cmd.Flags().GetString("format")
		if err := checkFormat(format); err != nil {
			fail(cmd, err)
		}

		backend, err := container.OpenContainer()
		if err != nil {
			fail(cmd, err)
		}
		defer backend.Close()

		if err := runStats(backend, cmd.OutOrStdout(), format); err != nil {
			fail(cmd, err)
		}
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)
	statsCmd.Flags().StringP("format", "f", "table", "Output format: json or table")
}

func runStats(backend store.Backend, w io.Writer, format string) error {
	s, err := collectStats(backend)
	if err != nil {
		return err
	}
	if format == "json" {
		return outputJSON(w, s)
	}
	return outputStatsTable(w, s)
}

// collectStats streams backend without caching
func collectStats(backend store.Backend) (containerStats, error) {
	var s containerStats

	reader := backend.Reader(nil)
	defer reader.Close()
	for reader.Next() {
		rec := reader.Record()
		s.Records++
		s.Events += len(rec.Events)
		for _, ev := range rec.Events {
			if s.FirstEvent == 0 || ev < s.FirstEvent {
				s.FirstEvent = ev
			}
			if ev > s.LastEvent {
				s.LastEvent = ev
			}
		}
	}
	if err := reader.Err(); err != nil {
		return s, err
	}
	s.Backend = backend.Stats()
	return s, nil
}
