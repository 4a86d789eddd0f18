// ABOUTME: Immutable plugin, skill, command, and connector declaration records.
// ABOUTME: Records are replaced wholesale on state changes and never patched in place.

package plugin

import (
	"maps"
	"slices"
	"strings"
)

// Status is the lifecycle tag of a loaded plugin.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
	StatusError    Status = "error"
)

// Source labels where a plugin was loaded from.
const (
	SourceBundled = "bundled"
	SourceDisk    = "disk"
)

// Plugin is a named, versioned bundle of skills, commands, and connector declarations.
// A Plugin is never mutated after construction; use WithEnabled to derive a new record.
type Plugin struct {
	ID          string
	Name        string
	Version     string
	Description string
	Path        string // directory inside the source filesystem
	Source      string // SourceBundled or SourceDisk
	Enabled     bool

	Skills      []*Skill
	Commands    []*Command
	Connectors  ConnectorSet
	LocalConfig string // empty when no {id}.local.md exists

	Errors []string
}

// Status derives the status tag from the enabled flag and load errors.
// A plugin is in error only when it has errors and nothing usable was loaded.
func (p *Plugin) Status() Status {
	if len(p.Errors) > 0 && len(p.Skills) == 0 && len(p.Commands) == 0 {
		return StatusError
	}
	if p.Enabled {
		return StatusActive
	}
	return StatusInactive
}

// Usable reports whether the plugin's content may be offered to the model.
func (p *Plugin) Usable() bool {
	return p.Enabled && p.Status() != StatusError
}

// HasLocalConfig reports whether the plugin carries non-blank local configuration.
func (p *Plugin) HasLocalConfig() bool {
	return strings.TrimSpace(p.LocalConfig) != ""
}

// WithEnabled returns a copy of the plugin with the enabled flag set.
// Skill, command, and connector values are shared; they are immutable.
func (p *Plugin) WithEnabled(enabled bool) *Plugin {
	cp := *p
	cp.Enabled = enabled
	return &cp
}

// RegisteredCommands returns the commands that can be invoked: the first
// command of each name, in load order. Later ones with the same name are shadowed.
func (p *Plugin) RegisteredCommands() []*Command {
	seen := make(map[string]bool, len(p.Commands))
	out := make([]*Command, 0, len(p.Commands))
	for _, cmd := range p.Commands {
		if seen[cmd.Name] {
			continue
		}
		seen[cmd.Name] = true
		out = append(out, cmd)
	}
	return out
}

// Command returns the plugin's command with the given short name, or nil.
func (p *Plugin) Command(name string) *Command {
	for _, cmd := range p.Commands {
		if cmd.Name == name {
			return cmd
		}
	}
	return nil
}

// Skill is a unit of passively injected domain knowledge.
type Skill struct {
	Name        string
	Description string
	Content     string // markdown body with frontmatter removed
	PluginID    string
	Path        string
}

// InputSlot is a named value a command needs before it can be built.
type InputSlot struct {
	Name        string
	Description string
	Required    bool
}

// Command is a user-invocable prompt template.
type Command struct {
	Name         string
	Description  string
	ArgumentHint string
	Content      string // template body with frontmatter removed
	PluginID     string
	Path         string
	Inputs       []InputSlot
	Skills       []string // skill names referenced by frontmatter; empty means all of the plugin's skills
}

// QualifiedName returns the registry key for the command, "pluginId:commandName".
func (c *Command) QualifiedName() string {
	return QualifiedName(c.PluginID, c.Name)
}

// Invocation returns the string a user types to run the command.
func (c *Command) Invocation() string {
	return "/" + c.QualifiedName()
}

// QualifiedName joins a plugin id and a command or category name.
func QualifiedName(pluginID, name string) string {
	return pluginID + ":" + name
}

// Transport types accepted in connector declarations.
const (
	TransportStdio = "stdio"
	TransportHTTP  = "http"
)

// Declaration describes how to reach one external tool server.
// Values may contain ${VAR} placeholders; they are resolved by the connector engine.
type Declaration struct {
	ToolName string            // display name substituted for ~~category, e.g. "Slack"
	Type     string            // TransportStdio or TransportHTTP
	Command  string            // stdio executable
	Args     []string          // stdio arguments
	URL      string            // http endpoint
	Env      map[string]string // environment variable name -> raw value
}

// Equal reports whether two declarations describe the same connection.
func (d Declaration) Equal(o Declaration) bool {
	return d.ToolName == o.ToolName &&
		d.Type == o.Type &&
		d.Command == o.Command &&
		d.URL == o.URL &&
		slices.Equal(d.Args, o.Args) &&
		maps.Equal(d.Env, o.Env)
}

// ConnectorSet maps an abstract category key (e.g. "chat") to its declaration.
type ConnectorSet map[string]Declaration

// Categories returns the set's category keys in sorted order.
func (s ConnectorSet) Categories() []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// NormalizeID converts a directory or display name into a plugin identifier:
// lowercase ASCII alphanumerics, with '-', '_' and whitespace mapped to '-'.
func NormalizeID(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r + ('a' - 'A'))
		case r == '-' || r == '_' || r == ' ' || r == '\t':
			b.WriteByte('-')
		}
	}
	id := strings.Trim(b.String(), "-")
	if id == "" {
		return "plugin"
	}
	return id
}

// NormalizeCategory folds a connector category to its key form: lowercase,
// whitespace runs joined with "-". "Cloud Storage" and "cloud-storage" match.
func NormalizeCategory(category string) string {
	return strings.ToLower(strings.Join(strings.Fields(category), "-"))
}
