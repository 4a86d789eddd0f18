// ABOUTME: Configuration loading and parsing for coven-plugins
// ABOUTME: Supports YAML files with environment variable expansion, duration parsing and defaults

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete coven-plugins configuration
type Config struct {
	Plugins  PluginsConfig  `yaml:"plugins"`
	State    StateConfig    `yaml:"state"`
	Database DatabaseConfig `yaml:"database"`
	Context  ContextConfig  `yaml:"context"`
	Model    ModelConfig    `yaml:"model"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// PluginsConfig holds plugin discovery settings
type PluginsConfig struct {
	Dir            string        `yaml:"dir"`
	DisableBundled bool          `yaml:"disable_bundled"` // skip plugins embedded in the binary
	Watch          bool          `yaml:"watch"`           // reload when the plugins directory changes
	Concurrency    int           `yaml:"concurrency"`     // parallel plugin loads during discovery
	Debounce       time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	DebounceRaw string `yaml:"debounce"`
}

// Persisted enabled-flag backends
const (
	BackendSQLite = "sqlite"
	BackendTOML   = "toml"
)

// StateConfig selects where enabled/disabled flags are kept
type StateConfig struct {
	Backend string `yaml:"backend"` // sqlite or toml
	Path    string `yaml:"path"`    // TOML file, used when backend is toml
}

// DatabaseConfig holds the SQLite database (credentials, and flags for the sqlite backend)
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// ContextConfig holds context assembly limits
type ContextConfig struct {
	TokenBudget int `yaml:"token_budget"`
}

// Model providers
const (
	ProviderAnthropic = "anthropic"
	ProviderDryRun    = "dry-run"
)

// ModelConfig holds model invocation settings
type ModelConfig struct {
	Provider  string        `yaml:"provider"`
	Model     string        `yaml:"model"`
	MaxTokens int64         `yaml:"max_tokens"`
	APIKey    string        `yaml:"api_key"` // empty falls back to ANTHROPIC_API_KEY
	Timeout   time.Duration `yaml:"-"`

	TimeoutRaw string `yaml:"timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	data := DataPath()
	return &Config{
		Plugins: PluginsConfig{
			Dir:         filepath.Join(data, "plugins"),
			Concurrency: 4,
			Debounce:    250 * time.Millisecond,
		},
		State: StateConfig{
			Backend: BackendSQLite,
			Path:    filepath.Join(data, "plugin-state.toml"),
		},
		Database: DatabaseConfig{Path: filepath.Join(data, "plugins.db")},
		Context:  ContextConfig{TokenBudget: 8000},
		Model: ModelConfig{
			Provider:  ProviderDryRun,
			Model:     "claude-sonnet-4-5",
			MaxTokens: 4096,
			Timeout:   2 * time.Minute,
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
}

// Path returns the path to the config file.
// Priority: COVEN_PLUGINS_CONFIG env var > XDG_CONFIG_HOME/coven/plugins.yaml > ~/.config/coven/plugins.yaml
func Path() string {
	if envPath := os.Getenv("COVEN_PLUGINS_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "plugins.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "coven", "plugins.yaml")
}

// DataPath returns the coven data directory.
// Priority: XDG_DATA_HOME/coven > ~/.local/share/coven
func DataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "coven")
}

// Load reads a configuration file from the given path and returns a parsed Config.
// A missing file yields Default(). Values in the file override defaults.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	if err := yaml.Unmarshal([]byte(expandedData), cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Parse duration fields
	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Plugins.Dir == "" {
		return fmt.Errorf("plugins.dir is required")
	}
	if c.Plugins.Concurrency < 1 {
		return fmt.Errorf("plugins.concurrency must be at least 1, got %d", c.Plugins.Concurrency)
	}

	switch c.State.Backend {
	case BackendSQLite:
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required for the sqlite state backend")
		}
	case BackendTOML:
		if c.State.Path == "" {
			return fmt.Errorf("state.path is required for the toml state backend")
		}
	default:
		return fmt.Errorf("state.backend must be %q or %q, got %q", BackendSQLite, BackendTOML, c.State.Backend)
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required (credentials are stored there)")
	}

	if c.Context.TokenBudget <= 0 {
		return fmt.Errorf("context.token_budget must be positive, got %d", c.Context.TokenBudget)
	}

	switch c.Model.Provider {
	case ProviderAnthropic, ProviderDryRun:
	default:
		return fmt.Errorf("model.provider must be %q or %q, got %q", ProviderAnthropic, ProviderDryRun, c.Model.Provider)
	}
	if c.Model.Provider == ProviderAnthropic && c.Model.Model == "" {
		return fmt.Errorf("model.model is required for the anthropic provider")
	}
	if c.Model.MaxTokens <= 0 {
		return fmt.Errorf("model.max_tokens must be positive, got %d", c.Model.MaxTokens)
	}

	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Plugins.DebounceRaw != "" {
		cfg.Plugins.Debounce, err = time.ParseDuration(cfg.Plugins.DebounceRaw)
		if err != nil {
			return fmt.Errorf("parsing plugins.debounce %q: %w", cfg.Plugins.DebounceRaw, err)
		}
	}

	if cfg.Model.TimeoutRaw != "" {
		cfg.Model.Timeout, err = time.ParseDuration(cfg.Model.TimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing model.timeout %q: %w", cfg.Model.TimeoutRaw, err)
		}
	}

	return nil
}
