/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/ssargent/userdots/pkg/api"
	"github.com/ssargent/userdots/pkg/query"
)

// findCmd represents the find command
var findCmd = &cobra.Command{
	Use:   "find [query...]",
	Short: "Resolve selector groups against a container",
	Long: `Resolve selector groups against a container. A query is a comma-separated
list of groups; a group joins selectors with "+". Selectors are a bare name,
gl:<glob>, re:<regex>, id:<n> or sk:<offset>.

Examples:
  dots find bob,carol
  dots find -u 're:^bo' -u 'id:3+sk:66' --format table
  dots find --index ./data/users.idx --limit 10 dave`,
	Run: func(cmd *cobra.Command, args []string) {
		users, _ := cmd.Flags().GetStringArray("users")
		limit, _ := cmd.Flags().GetInt("limit")
		noIndex, _ := cmd.Flags().GetBool("no-index")
		format, _ := cmd.Flags().GetString("format")
		indexPath, _ := cmd.Flags().GetString("index")

		if err := checkFormat(format); err != nil {
			fail(cmd, err)
		}

		cfg := container.Config()
		if indexPath != "" {
			cfg.Data.IndexPath = indexPath
		}
		settings := container.Settings()
		if cmd.Flags().Changed("limit") {
			settings.Limit = limit
		}
		if noIndex {
			settings.UseIndex = false
		}

		backend, err := container.OpenBackend()
		if err != nil {
			fail(cmd, err)
		}
		defer backend.Close()

		engine := container.Engine(backend)
		queries := append(append([]string{}, args...), users...)
		if err := runFind(cmd.Context(), engine, queries, settings, cmd.OutOrStdout(), format); err != nil {
			fail(cmd, err)
		}
	},
}

func init() {
	rootCmd.AddCommand(findCmd)
	findCmd.Flags().StringArrayP("users", "u", nil, "Query to resolve, repeatable")
	findCmd.Flags().Int("limit", 0, "Maximum matches per batch, 0 = unlimited (default query.limit)")
	findCmd.Flags().Bool("no-index", false, "Scan the container instead of probing indexes")
	findCmd.Flags().String("index", "", "Persisted index to preload (overrides data.index_path)")
	findCmd.Flags().StringP("format", "f", "json", "Output format: json or table")
}

// runFind resolves every query as one batch and writes the groups to w
func runFind(ctx context.Context, engine api.Searcher, queries []string, settings query.Settings, w io.Writer, format string) error {
	var groups [][]query.Selector
	for _, q := range queries {
		parsed, err := query.ParseQuery(q)
		if err != nil {
			return err
		}
		groups = append(groups, parsed...)
	}
	if len(groups) == 0 {
		return fmt.Errorf("no query given")
	}

	if ctx == nil {
		ctx = context.Background()
	}
	results, err := engine.Find(ctx, groups, settings)
	if err != nil {
		return err
	}

	out := make([]api.GroupResult, len(groups))
	for i, group := range groups {
		out[i] = api.GroupResult{
			Name:     query.GroupName(group),
			Users:    results[i],
			Timeline: query.MergeTimeline(results[i]),
		}
	}

	if format == "table" {
		return outputGroupsTable(w, out)
	}
	return outputJSON(w, out)
}
