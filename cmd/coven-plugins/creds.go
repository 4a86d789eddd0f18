// ABOUTME: Credential subcommands: set, list and delete values used by connector placeholders
// ABOUTME: Credentials are global by default; --plugin scopes one to a single plugin

package main

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/coven-plugins/internal/store"
)

func newCredsCommand(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "creds",
		Short: "Manage connector credentials",
		Long: `Manage values substituted for ${NAME} placeholders in connector declarations.

A plugin-scoped credential overrides the global one of the same name for that
plugin only. Values not found here fall back to the environment.`,
		Example: `  # Set a global credential
  coven-plugins creds set SLACK_BOT_TOKEN xoxb-...

  # Override it for one plugin
  coven-plugins creds set SLACK_BOT_TOKEN xoxb-... --plugin legal

  # Remove the override
  coven-plugins creds delete SLACK_BOT_TOKEN --plugin legal`,
	}

	cmd.AddCommand(newCredsSetCommand(flags))
	cmd.AddCommand(newCredsListCommand(flags))
	cmd.AddCommand(newCredsDeleteCommand(flags))
	return cmd
}

func scopeFlag(pluginID string) *string {
	if pluginID == "" {
		return nil
	}
	return &pluginID
}

func scopeLabel(pluginID *string) string {
	if pluginID == nil {
		return "global"
	}
	return *pluginID
}

func newCredsSetCommand(flags *globalFlags) *cobra.Command {
	var pluginID string
	cmd := &cobra.Command{
		Use:   "set <name> <value>",
		Short: "Create or replace a credential",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			gw, _, err := openGateway(cmd.Context(), flags)
			if err != nil {
				return err
			}
			defer func() { _ = gw.Close() }()

			scope := scopeFlag(pluginID)
			if _, err := store.SetCredential(cmd.Context(), gw.Credentials(), args[0], args[1], scope); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s saved (%s)\n", color.GreenString("✓"), args[0], scopeLabel(scope))
			return nil
		},
	}
	cmd.Flags().StringVarP(&pluginID, "plugin", "p", "", "scope the credential to one plugin")
	return cmd
}

func newCredsListCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List credentials with masked values",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			gw, _, err := openGateway(cmd.Context(), flags)
			if err != nil {
				return err
			}
			defer func() { _ = gw.Close() }()

			creds, err := gw.Credentials().ListCredentials(cmd.Context())
			if err != nil {
				return err
			}
			printCredentials(cmd.OutOrStdout(), creds)
			return nil
		},
	}
}

func printCredentials(w io.Writer, creds []*store.Credential) {
	if len(creds) == 0 {
		fmt.Fprintln(w, "No credentials stored.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tSCOPE\tVALUE\tUPDATED")
	for _, c := range creds {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", c.Name, scopeLabel(c.PluginID), maskValue(c.Value), c.UpdatedAt.Local().Format("2006-01-02 15:04"))
	}
	_ = tw.Flush()
}

// maskValue keeps the last four characters of long values.
func maskValue(v string) string {
	r := []rune(v)
	if len(r) <= 8 {
		return "••••"
	}
	return "••••" + string(r[len(r)-4:])
}

func newCredsDeleteCommand(flags *globalFlags) *cobra.Command {
	var pluginID string
	cmd := &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a credential",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			gw, _, err := openGateway(cmd.Context(), flags)
			if err != nil {
				return err
			}
			defer func() { _ = gw.Close() }()

			scope := scopeFlag(pluginID)
			cred, err := gw.Credentials().FindCredential(cmd.Context(), args[0], scope)
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("no %s credential named %s", scopeLabel(scope), args[0])
			}
			if err != nil {
				return err
			}
			if err := gw.Credentials().DeleteCredential(cmd.Context(), cred.ID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s deleted (%s)\n", color.GreenString("✓"), args[0], scopeLabel(scope))
			return nil
		},
	}
	cmd.Flags().StringVarP(&pluginID, "plugin", "p", "", "delete the plugin-scoped credential")
	return cmd
}
