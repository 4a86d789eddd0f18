// ABOUTME: Entry point for coven-plugins, the plugin runtime CLI
// ABOUTME: Builds the cobra command tree and runs it under a signal-aware context

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/coven-plugins/internal/config"
	"github.com/2389/coven-plugins/internal/gateway"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
                                             _             _
  ___ _____   _____ _ __        _ __  | |_   _  __ _(_)_ __  ___
 / __/ _ \ \ / / _ \ '_ \ _____| '_ \ | | | | |/ _' | | '_ \/ __|
| (_| (_) \ V /  __/ | | |_____| |_) || | |_| | (_| | | | | \__ \
 \___\___/ \_/ \___|_| |_|     | .__/ |_|\__,_|\__, |_|_| |_|___/
                               |_|             |___/
`

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	logLevel   string
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", color.RedString("Error:"), err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:   "coven-plugins",
		Short: "Plugin runtime for coven chat assistants",
		Long: `coven-plugins loads skill, command and connector plugins, assembles the
system context they contribute, and dispatches slash commands to the model.

Plugins are read from the embedded bundle and from the plugins directory.
Enabled flags and connector credentials persist across runs.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}

	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", config.Path(), "config file")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "override logging.level (debug, info, warn, error)")

	root.AddCommand(
		newListCommand(flags),
		newEnableCommand(flags),
		newDisableCommand(flags),
		newReloadCommand(flags),
		newWatchCommand(flags),
		newConnectionsCommand(flags),
		newContextCommand(flags),
		newCompleteCommand(flags),
		newRunCommand(flags),
		newChatCommand(flags),
		newCredsCommand(flags),
		newUsageCommand(flags),
		newInitCommand(),
	)
	return root
}

// loadConfig reads the config file and applies flag overrides.
func loadConfig(flags *globalFlags) (*config.Config, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if flags.logLevel != "" {
		cfg.Logging.Level = flags.logLevel
	}
	return cfg, nil
}

// openGateway loads config and starts the plugin runtime. Callers must Close it.
func openGateway(ctx context.Context, flags *globalFlags) (*gateway.Gateway, *config.Config, error) {
	cfg, err := loadConfig(flags)
	if err != nil {
		return nil, nil, err
	}
	gw, err := startGateway(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return gw, cfg, nil
}

func startGateway(ctx context.Context, cfg *config.Config) (*gateway.Gateway, error) {
	if err := os.MkdirAll(config.DataPath(), 0755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	logger := setupLogger(cfg.Logging, os.Stderr)
	gw, err := gateway.New(ctx, gateway.Options{Config: cfg, Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("starting plugin runtime: %w", err)
	}
	return gw, nil
}
