/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ssargent/userdots/pkg/api"
)

// fail prints err and exits
func fail(cmd *cobra.Command, err error) {
	cmd.PrintErrf("Error: %v\n", err)
	os.Exit(1)
}

func outputJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputGroupsTable prints one row per matched user
func outputGroupsTable(w io.Writer, groups []api.GroupResult) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "GROUP\tID\tNAME\tEVENTS\tOFFSET")
	for _, g := range groups {
		if len(g.Users) == 0 {
			fmt.Fprintf(tw, "%s\t-\t-\t-\t-\n", g.Name)
			continue
		}
		for _, u := range g.Users {
			offset := "-"
			if u.HasOffset() {
				offset = fmt.Sprint(*u.Offset)
			}
			fmt.Fprintf(tw, "%s\t%d\t%s\t%d\t%s\n", g.Name, u.ID, u.Name, len(u.Events), offset)
		}
	}
	return tw.Flush()
}

// outputStatsTable prints a container summary
func outputStatsTable(w io.Writer, s containerStats) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Records:\t%d\n", s.Records)
	fmt.Fprintf(tw, "Events:\t%d\n", s.Events)
	fmt.Fprintf(tw, "Seekable:\t%t\n", s.Backend.Seekable)
	if s.FirstEvent != 0 || s.LastEvent != 0 {
		fmt.Fprintf(tw, "Span:\t%d .. %d\n", s.FirstEvent, s.LastEvent)
	}
	return tw.Flush()
}

func checkFormat(format string) error {
	switch format {
	case "json", "table":
		return nil
	default:
		return fmt.Errorf("unknown output format %q, expected json or table", format)
	}
}
