// ABOUTME: Plugin management subcommands: list, enable, disable, reload, watch, connections
// ABOUTME: Each command opens the runtime, performs one operation and prints a short report

package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/coven-plugins/internal/connectors"
	"github.com/2389/coven-plugins/internal/plugin"
)

func newListCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List loaded plugins",
		Long:  `List every discovered plugin with its status, source and contributions.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			gw, _, err := openGateway(cmd.Context(), flags)
			if err != nil {
				return err
			}
			defer func() { _ = gw.Close() }()

			printPlugins(cmd.OutOrStdout(), gw.Registry().Plugins())
			printWarnings(cmd.OutOrStdout(), gw.Registry().Warnings())
			return nil
		},
	}
}

func printPlugins(w io.Writer, plugins []*plugin.Plugin) {
	if len(plugins) == 0 {
		fmt.Fprintln(w, "No plugins found.")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tVERSION\tSTATUS\tSOURCE\tSKILLS\tCOMMANDS\tCONNECTORS")
	for _, p := range plugins {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%d\t%d\n",
			p.ID, p.Name, p.Version, statusLabel(p.Status()), p.Source,
			len(p.Skills), len(p.Commands), len(p.Connectors))
	}
	_ = tw.Flush()

	for _, p := range plugins {
		for _, e := range p.Errors {
			fmt.Fprintf(w, "%s %s: %s\n", color.RedString("!"), p.ID, e)
		}
	}
}

func statusLabel(s plugin.Status) string {
	switch s {
	case plugin.StatusActive:
		return color.GreenString(string(s))
	case plugin.StatusError:
		return color.RedString(string(s))
	default:
		return color.HiBlackString(string(s))
	}
}

func printWarnings(w io.Writer, warnings []string) {
	for _, warning := range warnings {
		fmt.Fprintf(w, "%s %s\n", color.YellowString("warning:"), warning)
	}
}

func newEnableCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "enable <plugin-id>",
		Short: "Enable a plugin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			gw, _, err := openGateway(cmd.Context(), flags)
			if err != nil {
				return err
			}
			defer func() { _ = gw.Close() }()

			if err := gw.Enable(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s enabled\n", color.GreenString("✓"), args[0])
			return nil
		},
	}
}

func newDisableCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "disable <plugin-id>",
		Short: "Disable a plugin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			gw, _, err := openGateway(cmd.Context(), flags)
			if err != nil {
				return err
			}
			defer func() { _ = gw.Close() }()

			if err := gw.Disable(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s disabled\n", color.GreenString("✓"), args[0])
			return nil
		},
	}
}

func newReloadCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "reload",
		Short: "Re-discover plugins and report what changed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			gw, _, err := openGateway(cmd.Context(), flags)
			if err != nil {
				return err
			}
			defer func() { _ = gw.Close() }()

			if err := gw.Reload(cmd.Context()); err != nil {
				return err
			}
			printPlugins(cmd.OutOrStdout(), gw.Registry().Plugins())
			printWarnings(cmd.OutOrStdout(), gw.Registry().Warnings())
			return nil
		},
	}
}

func newWatchCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Reload plugins whenever the plugins directory changes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}

			cyan := color.New(color.FgCyan)
			gray := color.New(color.FgHiBlack)
			green := color.New(color.FgGreen)
			out := cmd.OutOrStdout()

			cyan.Fprint(out, banner)
			gray.Fprintf(out, "    version: %s\n\n", version)
			green.Fprint(out, "    ▶ ")
			fmt.Fprintf(out, "Config:  %s\n", flags.configPath)
			green.Fprint(out, "    ▶ ")
			fmt.Fprintf(out, "Plugins: %s\n\n", cfg.Plugins.Dir)

			cfg.Plugins.Watch = true
			gw, err := startGateway(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer func() { _ = gw.Close() }()

			return gw.Run(cmd.Context())
		},
	}
}

func newConnectionsCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "connections",
		Short: "Show connector availability for enabled plugins",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			gw, _, err := openGateway(cmd.Context(), flags)
			if err != nil {
				return err
			}
			defer func() { _ = gw.Close() }()

			printConnections(cmd.OutOrStdout(), gw.Connectors().Current())
			return nil
		},
	}
}

func printConnections(w io.Writer, reg *connectors.Registry) {
	conns := reg.Connections()
	if len(conns) == 0 {
		fmt.Fprintln(w, "No connections declared by enabled plugins.")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "KEY\tTOOL\tTRANSPORT\tSTATUS")
	for _, c := range conns {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", c.Key, c.Declaration.ToolName, c.Declaration.Type, connectionLabel(c.Status))
	}
	_ = tw.Flush()
}

func connectionLabel(s connectors.Status) string {
	switch s.State {
	case connectors.StateAvailable:
		return color.GreenString(s.String())
	case connectors.StateUnavailable:
		return color.RedString(s.String())
	case connectors.StateStarting:
		return color.YellowString(s.String())
	default:
		return strings.TrimSpace(s.String())
	}
}
