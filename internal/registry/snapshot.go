// ABOUTME: Immutable, atomically published view of the plugin collection and its lookup indices.
// ABOUTME: Built once per mutation; never modified after publication.

package registry

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/2389/coven-plugins/internal/plugin"
)

// ConnectorSetRef pairs a plugin id with its declared connectors.
type ConnectorSetRef struct {
	PluginID string
	Set      plugin.ConnectorSet
}

// Snapshot is a consistent view of every plugin at one registry version.
type Snapshot struct {
	version  uint64
	plugins  []*plugin.Plugin // registration order
	byID     map[string]*plugin.Plugin
	commands map[string]*plugin.Command // fully-qualified name -> command, usable plugins only
	enabled  []*plugin.Plugin
	skills   []*plugin.Skill
	sets     []ConnectorSetRef
	warnings []string
	base     int // leading warnings that came from discovery
}

// buildSnapshot indexes plugins. baseWarnings are carried over from discovery.
func buildSnapshot(version uint64, plugins []*plugin.Plugin, baseWarnings []string, logger *slog.Logger) *Snapshot {
	s := &Snapshot{
		version:  version,
		plugins:  plugins,
		byID:     make(map[string]*plugin.Plugin, len(plugins)),
		commands: make(map[string]*plugin.Command),
		warnings: slices.Clone(baseWarnings),
		base:     len(baseWarnings),
	}

	for _, p := range plugins {
		s.byID[p.ID] = p
		if !p.Usable() {
			continue
		}
		s.enabled = append(s.enabled, p)
		s.skills = append(s.skills, p.Skills...)
		if len(p.Connectors) > 0 {
			s.sets = append(s.sets, ConnectorSetRef{PluginID: p.ID, Set: p.Connectors})
		}

		for _, cmd := range p.Commands {
			fq := plugin.QualifiedName(p.ID, cmd.Name)
			if first, exists := s.commands[fq]; exists {
				warning := fmt.Sprintf("%v: %s from %s ignored, %s kept", ErrDuplicateCommand, fq, cmd.Path, first.Path)
				s.warnings = append(s.warnings, warning)
				logger.Warn("duplicate command, keeping first registered",
					"command", fq,
					"kept", first.Path,
					"ignored", cmd.Path,
				)
				continue
			}
			s.commands[fq] = cmd
		}
	}
	return s
}

// Version increases by one with every published change.
func (s *Snapshot) Version() uint64 { return s.version }

// Plugins returns every loaded plugin, enabled or not, in registration order.
func (s *Snapshot) Plugins() []*plugin.Plugin { return slices.Clone(s.plugins) }

// Plugin returns the plugin with the given id, or nil.
func (s *Snapshot) Plugin(id string) *plugin.Plugin { return s.byID[id] }

// EnabledPlugins returns usable plugins in registration order.
func (s *Snapshot) EnabledPlugins() []*plugin.Plugin { return slices.Clone(s.enabled) }

// ActiveSkills returns the skills of usable plugins in registration order.
func (s *Snapshot) ActiveSkills() []*plugin.Skill { return slices.Clone(s.skills) }

// ActiveConnectorSets returns the connector sets of usable plugins in registration order.
func (s *Snapshot) ActiveConnectorSets() []ConnectorSetRef { return slices.Clone(s.sets) }

// GetCommandHandler looks up a command by fully-qualified name ("pluginId:command").
// Commands of disabled or missing plugins are not found.
func (s *Snapshot) GetCommandHandler(fq string) *plugin.Command { return s.commands[fq] }

func (s *Snapshot) baseWarnings() []string { return s.warnings[:s.base] }

// Warnings returns non-fatal conflicts found while building the snapshot.
func (s *Snapshot) Warnings() []string { return slices.Clone(s.warnings) }
