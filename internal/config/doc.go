// Package config handles configuration loading for coven-plugins.
//
// # Overview
//
// Configuration is loaded from a YAML file with environment variable
// expansion. Every field has a default, so a missing file is not an error.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from COVEN_PLUGINS_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/coven/plugins.yaml
//  3. ~/.config/coven/plugins.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	model:
//	  api_key: "${ANTHROPIC_API_KEY}"
//
// Unset variables expand to the empty string.
//
// # Configuration Sections
//
// Plugins:
//
//	plugins:
//	  dir: "~/.local/share/coven/plugins"
//	  disable_bundled: false
//	  watch: true
//	  debounce: "250ms"
//	  concurrency: 4
//
// Enabled/disabled state:
//
//	state:
//	  backend: "sqlite"   # sqlite, toml
//	  path: "plugin-state.toml"
//
//	database:
//	  path: "~/.local/share/coven/plugins.db"
//
// Context assembly:
//
//	context:
//	  token_budget: 8000
//
// Model:
//
//	model:
//	  provider: "anthropic"   # anthropic, dry-run
//	  model: "claude-sonnet-4-5"
//	  max_tokens: 4096
//	  timeout: "2m"
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Usage
//
//	cfg, err := config.Load(config.Path())
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
