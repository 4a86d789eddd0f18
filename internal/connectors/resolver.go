// ABOUTME: Credential resolution for ${VAR} placeholders in connector declarations.
// ABOUTME: Store values (plugin-scoped then global) win over the process environment.

package connectors

import (
	"context"
	"log/slog"
	"maps"
	"os"
	"regexp"
	"slices"

	"github.com/2389/coven-plugins/internal/plugin"
	"github.com/2389/coven-plugins/internal/store"
)

// Resolver returns the value for a variable name in the scope of a plugin.
type Resolver func(ctx context.Context, pluginID, name string) (string, bool)

// EnvLookup matches os.LookupEnv.
type EnvLookup func(name string) (string, bool)

// ChainResolver consults the credential store, then the environment.
// Either may be nil. Store errors are logged and treated as a miss.
func ChainResolver(creds store.CredentialStore, env EnvLookup, logger *slog.Logger) Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "credential_resolver")

	return func(ctx context.Context, pluginID, name string) (string, bool) {
		if creds != nil {
			values, err := creds.GetEffectiveCredentials(ctx, pluginID)
			if err != nil {
				logger.Warn("credential store lookup failed, falling back to environment",
					"plugin_id", pluginID,
					"name", name,
					"error", err,
				)
			} else if v, ok := values[name]; ok {
				return v, true
			}
		}
		if env != nil {
			return env(name)
		}
		return "", false
	}
}

// EnvResolver resolves from the process environment only.
func EnvResolver() Resolver {
	return ChainResolver(nil, os.LookupEnv, nil)
}

var placeholderPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// substitutor accumulates missing variable names across one declaration.
type substitutor struct {
	ctx      context.Context
	pluginID string
	resolve  Resolver
	cache    map[string]string
	missing  []string
}

func (s *substitutor) expand(value string) string {
	return placeholderPattern.ReplaceAllStringFunc(value, func(m string) string {
		name := placeholderPattern.FindStringSubmatch(m)[1]
		if v, ok := s.cache[name]; ok {
			return v
		}
		v, ok := s.resolve(s.ctx, s.pluginID, name)
		if !ok {
			if !slices.Contains(s.missing, name) {
				s.missing = append(s.missing, name)
			}
			return m
		}
		s.cache[name] = v
		return v
	})
}

// resolveConnection builds a connection from a declaration, substituting every placeholder.
func resolveConnection(ctx context.Context, resolve Resolver, pluginID, category string, decl plugin.Declaration) *Connection {
	sub := &substitutor{ctx: ctx, pluginID: pluginID, resolve: resolve, cache: make(map[string]string)}

	conn := &Connection{
		Key:         Key(pluginID, category),
		PluginID:    pluginID,
		Category:    category,
		Declaration: decl,
		Command:     sub.expand(decl.Command),
		URL:         sub.expand(decl.URL),
		Status:      Status{State: StateUnresolved},
	}
	for _, a := range decl.Args {
		conn.Args = append(conn.Args, sub.expand(a))
	}
	if len(decl.Env) > 0 {
		conn.Env = make(map[string]string, len(decl.Env))
		for _, k := range slices.Sorted(maps.Keys(decl.Env)) {
			conn.Env[k] = sub.expand(decl.Env[k])
		}
	}

	if len(sub.missing) > 0 {
		conn.Status = Status{State: StateUnavailable, Reason: ReasonMissingCredential, Missing: sub.missing}
	}
	return conn
}
