// ABOUTME: Usage subcommand reporting tokens consumed by dispatched commands and chat turns
// ABOUTME: Reads the SQLite usage ledger; filters by plugin and look-back window

package main

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/2389/coven-plugins/internal/store"
)

func newUsageCommand(flags *globalFlags) *cobra.Command {
	var pluginID string
	var since time.Duration

	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Show model token usage per command",
		Example: `  # Everything recorded
  coven-plugins usage

  # Legal commands over the last day
  coven-plugins usage --plugin legal --since 24h`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			gw, _, err := openGateway(cmd.Context(), flags)
			if err != nil {
				return err
			}
			defer func() { _ = gw.Close() }()

			ledger := gw.Usage()
			if ledger == nil {
				return errors.New("usage is not recorded by this store")
			}

			var filter store.UsageFilter
			if pluginID != "" {
				filter.PluginID = &pluginID
			}
			if since > 0 {
				from := time.Now().Add(-since)
				filter.Since = &from
			}

			stats, err := ledger.GetUsageStats(cmd.Context(), filter)
			if err != nil {
				return err
			}
			byCommand, err := ledger.GetUsageByCommand(cmd.Context(), filter)
			if err != nil {
				return err
			}
			printUsage(cmd.OutOrStdout(), stats, byCommand)
			return nil
		},
	}
	cmd.Flags().StringVarP(&pluginID, "plugin", "p", "", "only commands of this plugin")
	cmd.Flags().DurationVar(&since, "since", 0, "only usage within this window (e.g. 24h)")
	return cmd
}

func printUsage(w io.Writer, stats *store.UsageStats, byCommand []*store.CommandUsage) {
	if stats.RequestCount == 0 {
		fmt.Fprintln(w, "No usage recorded.")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "COMMAND\tREQUESTS\tINPUT\tOUTPUT\tTOTAL")
	for _, u := range byCommand {
		name := "(chat)"
		if u.Command != "" {
			name = "/" + u.Command
		}
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\n", name, u.RequestCount, u.TotalInput, u.TotalOutput, u.TotalTokens)
	}
	fmt.Fprintf(tw, "TOTAL\t%d\t%d\t%d\t%d\n", stats.RequestCount, stats.TotalInput, stats.TotalOutput, stats.TotalTokens)
	_ = tw.Flush()
}
