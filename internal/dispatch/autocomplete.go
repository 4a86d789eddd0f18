// ABOUTME: Command autocomplete over enabled plugins, grouped by plugin in registration order.
// ABOUTME: Ranks prefix, substring, fuzzy (sahilm/fuzzy), then description matches.

package dispatch

import (
	"slices"
	"strings"

	"github.com/sahilm/fuzzy"

	"github.com/2389/coven-plugins/internal/plugin"
)

// Suggestion is one completable command.
type Suggestion struct {
	Name         string // fully-qualified, "legal:triage-nda"
	Invocation   string // "/legal:triage-nda"
	Description  string // one line
	ArgumentHint string
}

// Group holds a plugin's suggestions.
type Group struct {
	PluginID    string
	PluginName  string
	Suggestions []Suggestion
}

// match ranks, best first.
const (
	rankPrefix = iota
	rankContains
	rankFuzzy
	rankDescription
)

type candidate struct {
	cmd   *plugin.Command
	order int
	rank  int
	score int
}

// Autocomplete returns commands of enabled plugins matching prefix. A
// "plugin:" prefix narrows to that plugin; otherwise the fully-qualified name
// and the plugin display name are matched. Commands whose description contains
// the query rank last.
func (d *Dispatcher) Autocomplete(prefix string) []Group {
	query := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(prefix), Prefix))
	return complete(d.catalog.EnabledPlugins(), query)
}

func complete(plugins []*plugin.Plugin, query string) []Group {
	var groups []Group
	for _, p := range plugins {
		if !p.Usable() {
			continue
		}
		var cands []candidate
		commands := p.RegisteredCommands()
		if pluginQuery, commandQuery, scoped := strings.Cut(query, ":"); scoped {
			if pluginQuery != p.ID {
				continue
			}
			for i, cmd := range commands {
				c, ok := rankAgainst(commandQuery, strings.ToLower(cmd.Name))
				if !ok {
					c, ok = rankDescriptionOf(commandQuery, cmd)
				}
				if ok {
					cands = append(cands, candidate{cmd: cmd, order: i, rank: c.rank, score: c.score})
				}
			}
		} else {
			name := strings.ToLower(p.Name)
			for i, cmd := range commands {
				best, ok := rankAgainst(query, strings.ToLower(cmd.QualifiedName()))
				if byName, nameOK := rankAgainst(query, name); nameOK && (!ok || better(byName, best)) {
					best, ok = byName, true
				}
				if !ok {
					best, ok = rankDescriptionOf(query, cmd)
				}
				if ok {
					cands = append(cands, candidate{cmd: cmd, order: i, rank: best.rank, score: best.score})
				}
			}
		}
		if len(cands) == 0 {
			continue
		}

		slices.SortStableFunc(cands, func(a, b candidate) int {
			if a.rank != b.rank {
				return a.rank - b.rank
			}
			if a.score != b.score {
				return b.score - a.score
			}
			return a.order - b.order
		})
		g := Group{PluginID: p.ID, PluginName: p.Name}
		for _, c := range cands {
			g.Suggestions = append(g.Suggestions, Suggestion{
				Name:         c.cmd.QualifiedName(),
				Invocation:   c.cmd.Invocation(),
				Description:  oneLine(c.cmd.Description),
				ArgumentHint: c.cmd.ArgumentHint,
			})
		}
		groups = append(groups, g)
	}
	return groups
}

type ranked struct {
	rank  int
	score int
}

func better(a, b ranked) bool {
	return a.rank < b.rank || (a.rank == b.rank && a.score > b.score)
}

func rankAgainst(query, target string) (ranked, bool) {
	switch {
	case query == "" || strings.HasPrefix(target, query):
		return ranked{rank: rankPrefix}, true
	case strings.Contains(target, query):
		return ranked{rank: rankContains}, true
	}
	if matches := fuzzy.Find(query, []string{target}); len(matches) > 0 {
		return ranked{rank: rankFuzzy, score: matches[0].Score}, true
	}
	return ranked{}, false
}

func rankDescriptionOf(query string, cmd *plugin.Command) (ranked, bool) {
	if query != "" && strings.Contains(strings.ToLower(cmd.Description), query) {
		return ranked{rank: rankDescription}, true
	}
	return ranked{}, false
}

func oneLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = strings.TrimSpace(s[:i])
	}
	return s
}
