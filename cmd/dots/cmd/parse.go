/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ssargent/userdots/pkg/ingest"
	"github.com/ssargent/userdots/pkg/store"
)

type parseOptions struct {
	Src             string
	SrcCompression  string
	Dest            string
	DestCompression string
	Unescape        bool
}

// parseCmd represents the parse command
var parseCmd = &cobra.Command{
	Use:   "parse",
	Short: "Build a container from a JSON lines activity export",
	Long: `Build a container from a JSON lines activity export. Each line names one
event: created_at_timestamp, author_id and author_username. Events of the
same author are merged into one record.

Examples:
  dots parse --src export.jsonl --dest ./data/users.bin
  dots parse --src export.jsonl.zst --src-compression zstd --dest users.bin.gz --dest-compression gzip`,
	Run: func(cmd *cobra.Command, args []string) {
		opts := parseOptions{}
		opts.Src, _ = cmd.Flags().GetString("src")
		opts.SrcCompression, _ = cmd.Flags().GetString("src-compression")
		opts.Dest, _ = cmd.Flags().GetString("dest")
		opts.DestCompression, _ = cmd.Flags().GetString("dest-compression")
		opts.Unescape, _ = cmd.Flags().GetBool("unescape")

		if opts.Dest == "" {
			opts.Dest = container.Config().Data.Path
		}
		if !cmd.Flags().Changed("dest-compression") {
			opts.DestCompression = container.Config().Data.Compression
		}

		summary, written, err := runParse(cmd.Context(), opts)
		if err != nil {
			fail(cmd, err)
		}
		cmd.Printf("Parsed %d lines: %d users, %d events, %d skipped\n",
			summary.Lines, summary.Records, summary.Events, summary.Skipped)
		cmd.Printf("Wrote %d records to %s\n", written, opts.Dest)
	},
}

func init() {
	rootCmd.AddCommand(parseCmd)
	parseCmd.Flags().String("src", "-", "Activity export, - for stdin")
	parseCmd.Flags().String("src-compression", "none", "Compression of the export")
	parseCmd.Flags().String("dest", "", "Container to write (default data.path)")
	parseCmd.Flags().String("dest-compression", "none", "Compression of the container (default data.compression)")
	parseCmd.Flags().Bool("unescape", false, "Collapse doubled backslashes before decoding each line")
}

// runParse ingests opts.Src and writes the records to opts.Dest
func runParse(ctx context.Context, opts parseOptions) (ingest.Summary, int, error) {
	srcKind, err := store.ParseCompression(opts.SrcCompression)
	if err != nil {
		return ingest.Summary{}, 0, err
	}
	destKind, err := store.ParseCompression(opts.DestCompression)
	if err != nil {
		return ingest.Summary{}, 0, err
	}

	var src io.Reader = os.Stdin
	if opts.Src != "-" && opts.Src != "" {
		f, err := os.Open(opts.Src)
		if err != nil {
			return ingest.Summary{}, 0, fmt.Errorf("failed to open export: %w", err)
		}
		defer f.Close()
		src = f
	}

	dec, err := store.NewDecompressor(src, srcKind)
	if err != nil {
		return ingest.Summary{}, 0, err
	}
	defer dec.Close()

	if ctx == nil {
		ctx = context.Background()
	}
	backend := store.NewMemoryBackend()
	summary, err := ingest.Parse(ctx, dec, backend, ingest.Options{
		UnescapeBackslashes: opts.Unescape,
		Logger:              logger().Named("ingest"),
	})
	if err != nil {
		return summary, 0, err
	}

	written, err := store.WriteContainer(opts.Dest, destKind, store.CachedRecords(backend))
	if err != nil {
		return summary, written, fmt.Errorf("failed to write container: %w", err)
	}
	logger().Info("container written",
		zap.String("path", opts.Dest),
		zap.String("compression", string(destKind)),
		zap.Int("records", written),
	)
	return summary, written, nil
}
