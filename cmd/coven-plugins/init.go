// ABOUTME: Interactive config file setup for coven-plugins
// ABOUTME: Prompts for each setting with a default and writes a YAML config

package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/2389/coven-plugins/internal/config"
)

func newInitCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create a config file interactively",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(bufio.NewReader(cmd.InOrStdin()), cmd.OutOrStdout(), config.Path())
		},
	}
}

func runInit(reader *bufio.Reader, out io.Writer, defaultConfigPath string) error {
	fmt.Fprintln(out, "coven-plugins configuration setup")
	fmt.Fprintln(out, "=================================")
	fmt.Fprintln(out)

	defaults := config.Default()

	outputFile := prompt(reader, out, "Config file path", defaultConfigPath)

	if _, err := os.Stat(outputFile); err == nil {
		overwrite := prompt(reader, out, "File exists. Overwrite?", "no")
		if !isYes(overwrite) {
			fmt.Fprintln(out, "Aborted.")
			return nil
		}
	}

	fmt.Fprintln(out, "\n--- Plugins ---")
	pluginsDir := prompt(reader, out, "Plugins directory", defaults.Plugins.Dir)
	watch := isYes(prompt(reader, out, "Reload when the directory changes?", "no"))

	fmt.Fprintln(out, "\n--- Storage ---")
	dbPath := prompt(reader, out, "SQLite database path", defaults.Database.Path)
	backend := prompt(reader, out, "Enabled-flag backend (sqlite/toml)", defaults.State.Backend)
	statePath := defaults.State.Path
	if backend == config.BackendTOML {
		statePath = prompt(reader, out, "TOML state file", defaults.State.Path)
	}

	fmt.Fprintln(out, "\n--- Model ---")
	provider := prompt(reader, out, "Provider (anthropic/dry-run)", defaults.Model.Provider)
	model := defaults.Model.Model
	if provider == config.ProviderAnthropic {
		model = prompt(reader, out, "Model", defaults.Model.Model)
	}
	budget := prompt(reader, out, "Context token budget", fmt.Sprint(defaults.Context.TokenBudget))

	fmt.Fprintln(out, "\n--- Logging ---")
	logLevel := prompt(reader, out, "Log level (debug/info/warn/error)", defaults.Logging.Level)
	logFormat := prompt(reader, out, "Log format (text/json)", defaults.Logging.Format)

	var cfg strings.Builder
	cfg.WriteString("# coven-plugins configuration\n")
	cfg.WriteString("# Generated by coven-plugins init\n\n")

	cfg.WriteString("plugins:\n")
	cfg.WriteString(fmt.Sprintf("  dir: %q\n", pluginsDir))
	cfg.WriteString(fmt.Sprintf("  watch: %t\n", watch))
	cfg.WriteString("  debounce: \"250ms\"\n")
	cfg.WriteString("\n")

	cfg.WriteString("state:\n")
	cfg.WriteString(fmt.Sprintf("  backend: %q\n", backend))
	cfg.WriteString(fmt.Sprintf("  path: %q\n", statePath))
	cfg.WriteString("\n")

	cfg.WriteString("database:\n")
	cfg.WriteString(fmt.Sprintf("  path: %q\n", dbPath))
	cfg.WriteString("\n")

	cfg.WriteString("context:\n")
	cfg.WriteString(fmt.Sprintf("  token_budget: %s\n", budget))
	cfg.WriteString("\n")

	cfg.WriteString("model:\n")
	cfg.WriteString(fmt.Sprintf("  provider: %q\n", provider))
	cfg.WriteString(fmt.Sprintf("  model: %q\n", model))
	cfg.WriteString("  api_key: \"${ANTHROPIC_API_KEY}\"\n")
	cfg.WriteString("  timeout: \"2m\"\n")
	cfg.WriteString("\n")

	cfg.WriteString("logging:\n")
	cfg.WriteString(fmt.Sprintf("  level: %q\n", logLevel))
	cfg.WriteString(fmt.Sprintf("  format: %q\n", logFormat))

	// Validate before writing so a typo never produces an unusable file.
	tmp, err := os.CreateTemp("", "coven-plugins-*.yaml")
	if err != nil {
		return fmt.Errorf("creating temp config: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := tmp.WriteString(cfg.String()); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("writing temp config: %w", err)
	}
	_ = tmp.Close()
	if _, err := config.Load(tmp.Name()); err != nil {
		return fmt.Errorf("generated config is invalid: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(outputFile), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(outputFile, []byte(cfg.String()), 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	if err := os.MkdirAll(pluginsDir, 0755); err != nil {
		return fmt.Errorf("creating plugins directory: %w", err)
	}

	fmt.Fprintf(out, "\nConfig written to %s\n", outputFile)
	fmt.Fprintf(out, "Plugins directory: %s\n", pluginsDir)
	fmt.Fprintln(out, "\nTo see what is installed:")
	fmt.Fprintln(out, "  coven-plugins list")
	return nil
}

func isYes(s string) bool {
	s = strings.ToLower(s)
	return s == "yes" || s == "y"
}

func prompt(reader *bufio.Reader, out io.Writer, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Fprintf(out, "%s [%s]: ", question, defaultVal)
	} else {
		fmt.Fprintf(out, "%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil && input == "" {
		// On EOF or error, return default
		fmt.Fprintln(out)
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}
