// ABOUTME: Token-budgeted context assembly with priority tiers over plugin content.
// ABOUTME: Mandatory local configuration and notices first, then atomic units until the budget runs out.

package assembler

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"unicode"

	"github.com/2389/coven-plugins/internal/connectors"
	"github.com/2389/coven-plugins/internal/plugin"
)

// TruncationNotice is appended when optional content was dropped and room remains.
const TruncationNotice = "[Some plugin content was omitted to fit the context budget.]"

// Request carries the per-turn inputs to Build.
type Request struct {
	Hint             string          // conversation text used for relevance ranking
	Budget           int             // estimated tokens
	ReferencedSkills []*plugin.Skill // skills of the command being dispatched, if any
}

// AssembledContext is the result of one Build.
type AssembledContext struct {
	Text              string
	IncludedPluginIDs []string // plugins that contributed content, in registration order
	Truncated         bool
	EstimatedTokens   int
	Degradations      []Degradation
}

// Assembler builds contexts and caches rendered skills.
type Assembler struct {
	logger *slog.Logger
	cache  *renderCache
}

// New creates an Assembler. Pass nil logger for default.
func New(logger *slog.Logger) *Assembler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Assembler{
		logger: logger.With("component", "assembler"),
		cache:  newRenderCache(),
	}
}

// Invalidate drops every cached rendering. Called on registry and connection changes.
func (a *Assembler) Invalidate() {
	n := a.cache.clear()
	a.logger.Debug("render cache invalidated", "entries", n)
}

// CacheLen returns the number of cached skill renderings.
func (a *Assembler) CacheLen() int { return a.cache.len() }

type unit struct {
	section  int
	block    block
	pluginID string
}

// Build assembles the context for one turn. Disabled plugins are ignored.
// Enabled plugins in error status still contribute their local configuration
// and load errors; skills and listings come from usable plugins only.
func (a *Assembler) Build(plugins []*plugin.Plugin, conns Connections, req Request) *AssembledContext {
	if conns == nil {
		conns = noConnections{}
	}

	var enabled, active []*plugin.Plugin
	for _, p := range plugins {
		if !p.Enabled {
			continue
		}
		enabled = append(enabled, p)
		if p.Usable() {
			active = append(active, p)
		}
	}

	// Render every skill up front; degradation notes are mandatory content.
	rendered := make(map[*plugin.Skill]*renderEntry)
	var degradations []Degradation
	seenDegradation := make(map[string]bool)
	for _, p := range active {
		for _, s := range p.Skills {
			entry := a.cache.get(s, p.ID, conns)
			rendered[s] = entry
			for _, d := range entry.degradations {
				if seenDegradation[d.Key()] {
					continue
				}
				seenDegradation[d.Key()] = true
				degradations = append(degradations, d)
			}
		}
	}

	l := &layout{}
	included := make(map[string]bool)

	for _, p := range enabled {
		if p.HasLocalConfig() {
			l.add(sectionLocal, newBlock(fmt.Sprintf("### %s (%s)\n\n%s", p.Name, p.ID, p.LocalConfig)))
			included[p.ID] = true
		}
	}
	if notices := noticesBlock(enabled, degradations); notices != "" {
		l.add(sectionNotices, newBlock(notices))
	}
	mandatoryOver := tokensFor(l.runes) > req.Budget

	units := rankUnits(active, conns, rendered, req)

	// First see whether everything fits; only then is no notice needed.
	final := l.clone()
	fitsAll := true
	for _, u := range units {
		if tokensFor(final.runes+final.cost(u.section, u.block)) > req.Budget {
			fitsAll = false
			break
		}
		final.add(u.section, u.block)
	}

	var accepted []unit
	if fitsAll {
		accepted = units
	} else {
		notice := newBlock(TruncationNotice)
		reserve := notice.runes + len(separator)
		final = l.clone()
		for _, u := range units {
			if tokensFor(final.runes+final.cost(u.section, u.block)+reserve) > req.Budget {
				break
			}
			final.add(u.section, u.block)
			accepted = append(accepted, u)
		}
		if tokensFor(final.runes+final.cost(sectionTruncation, notice)) <= req.Budget {
			final.add(sectionTruncation, notice)
		}
	}
	for _, u := range accepted {
		included[u.pluginID] = true
	}

	result := &AssembledContext{
		Text:            final.render(),
		Truncated:       mandatoryOver || !fitsAll,
		EstimatedTokens: tokensFor(final.runes),
		Degradations:    degradations,
	}
	for _, p := range enabled {
		if included[p.ID] {
			result.IncludedPluginIDs = append(result.IncludedPluginIDs, p.ID)
		}
	}

	a.logger.Debug("context assembled",
		"plugins", len(enabled),
		"included", len(result.IncludedPluginIDs),
		"units", len(accepted),
		"units_dropped", len(units)-len(accepted),
		"tokens", result.EstimatedTokens,
		"budget", req.Budget,
		"truncated", result.Truncated,
		"degradations", len(degradations),
	)
	if mandatoryOver {
		a.logger.Warn("mandatory content exceeds the token budget",
			"tokens", result.EstimatedTokens,
			"budget", req.Budget,
		)
	}
	return result
}

// rankUnits orders optional units: most relevant plugin's skills, referenced
// skills, listings, then the rest.
func rankUnits(active []*plugin.Plugin, conns Connections, rendered map[*plugin.Skill]*renderEntry, req Request) []unit {
	var units []unit
	taken := make(map[*plugin.Skill]bool)
	takeSkill := func(s *plugin.Skill) {
		entry, ok := rendered[s]
		if !ok || taken[s] {
			return
		}
		taken[s] = true
		units = append(units, unit{section: sectionSkills, block: entry.block, pluginID: s.PluginID})
	}

	// (a) most relevant plugin
	if words := keywords(req.Hint); len(words) > 0 {
		var best *plugin.Plugin
		var bestScores []int
		bestTotal := 0
		for _, p := range active {
			scores := make([]int, len(p.Skills))
			total := 0
			for i, s := range p.Skills {
				scores[i] = relevance(words, s)
				total += scores[i]
			}
			if total > bestTotal {
				best, bestScores, bestTotal = p, scores, total
			}
		}
		if best != nil {
			order := make([]int, len(best.Skills))
			for i := range order {
				order[i] = i
			}
			slices.SortStableFunc(order, func(x, y int) int { return bestScores[y] - bestScores[x] })
			for _, i := range order {
				takeSkill(best.Skills[i])
			}
		}
	}

	// (b) skills referenced by the command; only those of active plugins are known to rendered.
	for _, s := range req.ReferencedSkills {
		takeSkill(s)
	}

	for _, p := range active {
		if listing := listingBlock(p, conns); listing != "" {
			units = append(units, unit{section: sectionListings, block: newBlock(listing), pluginID: p.ID})
		}
	}

	// (c)
	for _, p := range active {
		for _, s := range p.Skills {
			takeSkill(s)
		}
	}
	return units
}

func noticesBlock(enabled []*plugin.Plugin, degradations []Degradation) string {
	var lines []string
	for _, d := range degradations {
		lines = append(lines, "- "+d.Note())
	}
	for _, p := range enabled {
		for _, e := range p.Errors {
			lines = append(lines, fmt.Sprintf("- %s: part of this plugin failed to load (%s).", p.ID, e))
		}
	}
	return strings.Join(lines, "\n")
}

func listingBlock(p *plugin.Plugin, conns Connections) string {
	if len(p.Commands) == 0 && len(p.Connectors) == 0 {
		return ""
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "### %s (%s)", p.Name, p.ID)
	if len(p.Commands) > 0 {
		sb.WriteString("\nCommands:")
		for _, cmd := range p.RegisteredCommands() {
			sb.WriteString("\n- ")
			sb.WriteString(cmd.Invocation())
			if cmd.ArgumentHint != "" {
				sb.WriteString(" " + cmd.ArgumentHint)
			}
			if cmd.Description != "" {
				sb.WriteString(": " + cmd.Description)
			}
		}
	}
	if len(p.Connectors) > 0 {
		sb.WriteString("\nConnections:")
		for _, category := range p.Connectors.Categories() {
			key := connectors.Key(p.ID, category)
			fmt.Fprintf(&sb, "\n- %s: %s, %s", category, p.Connectors[category].ToolName, conns.Availability(key))
		}
	}
	return sb.String()
}

// keywords splits text into a set of lowercase words of at least three runes.
func keywords(text string) map[string]bool {
	words := make(map[string]bool)
	for _, w := range strings.FieldsFunc(strings.ToLower(text), isWordSeparator) {
		if len([]rune(w)) >= 3 {
			words[w] = true
		}
	}
	return words
}

func isWordSeparator(r rune) bool {
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}

// relevance counts hint keywords that appear among the skill's words.
func relevance(hint map[string]bool, s *plugin.Skill) int {
	own := keywords(s.Name + " " + s.Description + " " + s.Content)
	score := 0
	for w := range hint {
		if own[w] {
			score++
		}
	}
	return score
}

type renderEntry struct {
	skill        *plugin.Skill
	connVersion  uint64
	block        block
	degradations []Degradation
}

// renderCache keeps rendered skill blocks keyed by source path. An entry is
// reused only for the same skill record and connection registry version.
type renderCache struct {
	mu      sync.Mutex
	entries map[string]*renderEntry
}

func newRenderCache() *renderCache {
	return &renderCache{entries: make(map[string]*renderEntry)}
}

func (c *renderCache) get(s *plugin.Skill, pluginID string, conns Connections) *renderEntry {
	key := pluginID + "\x00" + s.Path
	version := conns.Version()

	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok && e.skill == s && e.connVersion == version {
		return e
	}

	text, degraded := RenderPlaceholders(s.Content, pluginID, conns)
	e := &renderEntry{
		skill:        s,
		connVersion:  version,
		block:        newBlock(fmt.Sprintf("### %s (%s)\n\n%s", s.Name, pluginID, strings.TrimSpace(text))),
		degradations: degraded,
	}
	c.entries[key] = e
	return e
}

func (c *renderCache) clear() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.entries)
	clear(c.entries)
	return n
}

func (c *renderCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
