// ABOUTME: Pure ~~category placeholder substitution against connection availability.
// ABOUTME: Unavailable categories render as [not configured] and yield one degradation per category.

package assembler

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/2389/coven-plugins/internal/connectors"
	"github.com/2389/coven-plugins/internal/plugin"
)

// NotConfigured replaces placeholders whose connection is not available.
const NotConfigured = "[not configured]"

// multiWordCategories are categories written with a space after ~~.
var multiWordCategories = []string{
	"cloud storage",
	"office suite",
	"project tracker",
	"project tracking",
	"project management",
}

var categoryPlaceholder = buildCategoryPlaceholder()

func buildCategoryPlaceholder() *regexp.Regexp {
	alts := make([]string, 0, len(multiWordCategories))
	for _, c := range multiWordCategories {
		alts = append(alts, strings.ReplaceAll(regexp.QuoteMeta(c), " ", `[ \t]+`))
	}
	return regexp.MustCompile(`~~(?i:(?:` + strings.Join(alts, "|") + `)\b|[a-z0-9][a-z0-9_-]*)`)
}

// Connections is the read side of the connection registry the assembler needs.
// *connectors.Registry satisfies it.
type Connections interface {
	Version() uint64
	Availability(key string) connectors.Status
	ToolName(key string) (string, bool)
}

// Degradation records a placeholder whose connection could not be used.
type Degradation struct {
	PluginID string
	Category string
	Status   connectors.Status
}

// Key returns the namespaced connection key.
func (d Degradation) Key() string { return connectors.Key(d.PluginID, d.Category) }

// Note renders the degradation as a line addressed to the model.
func (d Degradation) Note() string {
	return fmt.Sprintf("%s: no %q tool is connected (%s). Do not offer actions that need it; suggest the user set it up instead.",
		d.PluginID, d.Category, d.Status)
}

// RenderPlaceholders substitutes every ~~category in text with the tool name of
// pluginID's connection for that category when it is available, and with
// NotConfigured otherwise. Each unavailable category is reported once, in order
// of first appearance.
func RenderPlaceholders(text, pluginID string, conns Connections) (string, []Degradation) {
	if conns == nil {
		conns = noConnections{}
	}
	var degraded []Degradation
	seen := make(map[string]bool)

	out := categoryPlaceholder.ReplaceAllStringFunc(text, func(m string) string {
		category := plugin.NormalizeCategory(m[2:])
		key := connectors.Key(pluginID, category)
		status := conns.Availability(key)
		if status.Available() {
			if name, ok := conns.ToolName(key); ok && name != "" {
				return name
			}
			return category
		}
		if !seen[category] {
			seen[category] = true
			degraded = append(degraded, Degradation{PluginID: pluginID, Category: category, Status: status})
		}
		return NotConfigured
	})
	return out, degraded
}

// noConnections reports every key as undeclared.
type noConnections struct{}

func (noConnections) Version() uint64 { return 0 }

func (noConnections) Availability(key string) connectors.Status {
	return connectors.Status{State: connectors.StateUnavailable, Reason: connectors.ReasonNotDeclared}
}

func (noConnections) ToolName(key string) (string, bool) { return "", false }
