// ABOUTME: Reads a plugin directory (manifest, skills, commands, connectors, local config) into records.
// ABOUTME: Discover loads every plugin under a root concurrently while preserving directory order.

package plugin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/bmatcuk/doublestar/v4"
	"golang.org/x/sync/errgroup"
)

// ManifestPath is the manifest location relative to a plugin directory.
const ManifestPath = ".claude-plugin/plugin.json"

// Defaults applied when the manifest omits a pattern.
const (
	DefaultSkillsPattern    = "skills/**/SKILL.md"
	DefaultCommandsPattern  = "commands/*.md"
	DefaultConnectorsPath   = ".mcp.json"
	LocalConfigSuffix       = ".local.md"
	defaultLoadConcurrency  = 8
	skillFileStem           = "SKILL"
	connectionsKey          = "connections"
	connectionsAliasKey     = "mcpServers"
	maxConnectorCategoryLen = 64
)

// categoryPattern matches the category keys that ~~placeholders can address.
var categoryPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]*$`)

// Manifest is the decoded .claude-plugin/plugin.json.
type Manifest struct {
	Name        string          `json:"name"`
	Version     string          `json:"version"`
	Description string          `json:"description"`
	Skills      string          `json:"skills,omitempty"`
	Commands    string          `json:"commands,omitempty"`
	Connectors  string          `json:"connectors,omitempty"`
	Author      json.RawMessage `json:"author,omitempty"`
}

// Loader turns plugin directories into Plugin records.
type Loader struct {
	lister      FileLister
	source      string
	concurrency int
	logger      *slog.Logger
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithFileLister replaces the glob resolver.
func WithFileLister(lister FileLister) LoaderOption {
	return func(l *Loader) { l.lister = lister }
}

// WithSource sets the source label stamped on loaded plugins.
func WithSource(source string) LoaderOption {
	return func(l *Loader) { l.source = source }
}

// WithConcurrency bounds how many plugins Discover loads at once.
func WithConcurrency(n int) LoaderOption {
	return func(l *Loader) {
		if n > 0 {
			l.concurrency = n
		}
	}
}

// NewLoader creates a Loader. A nil logger uses slog.Default().
func NewLoader(logger *slog.Logger, opts ...LoaderOption) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Loader{
		lister:      GlobLister{},
		source:      SourceDisk,
		concurrency: defaultLoadConcurrency,
		logger:      logger.With("component", "plugin_loader"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load reads the plugin rooted at dir within fsys.
// Manifest problems are returned as *LoadError; everything after the manifest is
// contained in the plugin's error list.
func (l *Loader) Load(ctx context.Context, fsys fs.FS, dir string) (*Plugin, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	manifest, err := l.readManifest(fsys, dir)
	if err != nil {
		return nil, err
	}

	id := pluginID(dir, manifest.Name)
	p := &Plugin{
		ID:          id,
		Name:        manifest.Name,
		Version:     manifest.Version,
		Description: manifest.Description,
		Path:        dir,
		Source:      l.source,
		Connectors:  ConnectorSet{},
	}
	log := l.logger.With("plugin_id", id)

	p.Skills = l.loadSkills(fsys, dir, manifest.Skills, p, log)
	p.Commands = l.loadCommands(fsys, dir, manifest.Commands, p, log)
	p.Connectors = l.loadConnectors(fsys, dir, manifest.Connectors, p, log)
	p.LocalConfig = l.loadLocalConfig(fsys, dir, id, p, log)

	log.Debug("plugin loaded",
		"skills", len(p.Skills),
		"commands", len(p.Commands),
		"connectors", len(p.Connectors),
		"errors", len(p.Errors),
	)
	return p, nil
}

func (l *Loader) readManifest(fsys fs.FS, dir string) (*Manifest, error) {
	manifestPath := path.Join(dir, ManifestPath)
	data, err := fs.ReadFile(fsys, manifestPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, newLoadError(ErrMissingManifest, manifestPath, nil)
		}
		return nil, newLoadError(ErrMalformedManifest, manifestPath, err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, newLoadError(ErrMalformedManifest, manifestPath, err)
	}
	m.Name = strings.TrimSpace(m.Name)
	m.Version = strings.TrimSpace(m.Version)
	m.Description = strings.TrimSpace(m.Description)

	var missing []string
	if m.Name == "" {
		missing = append(missing, "name")
	}
	if m.Version == "" {
		missing = append(missing, "version")
	}
	if m.Description == "" {
		missing = append(missing, "description")
	}
	if len(missing) > 0 {
		return nil, newLoadError(ErrMalformedManifest, manifestPath,
			fmt.Errorf("missing required fields: %s", strings.Join(missing, ", ")))
	}

	if m.Skills == "" {
		m.Skills = DefaultSkillsPattern
	}
	if m.Commands == "" {
		m.Commands = DefaultCommandsPattern
	}
	for _, pattern := range []string{m.Skills, m.Commands} {
		if !validRelative(pattern) || !doublestar.ValidatePattern(pattern) {
			return nil, newLoadError(ErrMalformedManifest, manifestPath,
				fmt.Errorf("invalid glob pattern %q", pattern))
		}
	}
	if m.Connectors != "" && (!validRelative(m.Connectors) || !fs.ValidPath(m.Connectors)) {
		return nil, newLoadError(ErrMalformedManifest, manifestPath,
			fmt.Errorf("invalid connectors path %q", m.Connectors))
	}
	return &m, nil
}

// validRelative rejects absolute paths and parent traversal.
func validRelative(p string) bool {
	if strings.HasPrefix(p, "/") {
		return false
	}
	for _, part := range strings.Split(p, "/") {
		if part == ".." {
			return false
		}
	}
	return true
}

func pluginID(dir, manifestName string) string {
	base := path.Base(dir)
	if base == "." || base == "/" {
		return NormalizeID(manifestName)
	}
	return NormalizeID(base)
}

func (l *Loader) loadSkills(fsys fs.FS, dir, pattern string, p *Plugin, log *slog.Logger) []*Skill {
	files, err := l.lister.ListFiles(fsys, dir, pattern)
	if err != nil {
		p.Errors = append(p.Errors, newLoadError(ErrFileRead, path.Join(dir, pattern), err).Error())
		log.Warn("skill pattern failed", "pattern", pattern, "error", err)
		return nil
	}

	var skills []*Skill
	for _, file := range files {
		raw, err := readText(fsys, file)
		if err != nil {
			p.Errors = append(p.Errors, err.Error())
			log.Warn("skill file unreadable", "path", file, "error", err)
			continue
		}
		fm, body, err := parseFrontmatter(raw)
		if err != nil {
			p.Errors = append(p.Errors, fmt.Sprintf("%s: %v", file, err))
			log.Warn("skill frontmatter invalid", "path", file, "error", err)
		}

		description := fm.Description
		if description == "" {
			outline := outlineTemplate(body)
			description = firstNonEmpty(outline.FirstHeading, outline.FirstLine)
		}
		skills = append(skills, &Skill{
			Name:        skillName(file, fm.Name),
			Description: description,
			Content:     body,
			PluginID:    p.ID,
			Path:        file,
		})
	}
	return skills
}

// skillName applies the naming precedence: frontmatter, parent directory of a SKILL file, file stem.
func skillName(file, declared string) string {
	if declared != "" {
		return declared
	}
	stem := fileStem(file)
	if strings.EqualFold(stem, skillFileStem) {
		if parent := path.Base(path.Dir(file)); parent != "." && parent != "/" {
			return parent
		}
	}
	return stem
}

func (l *Loader) loadCommands(fsys fs.FS, dir, pattern string, p *Plugin, log *slog.Logger) []*Command {
	files, err := l.lister.ListFiles(fsys, dir, pattern)
	if err != nil {
		p.Errors = append(p.Errors, newLoadError(ErrFileRead, path.Join(dir, pattern), err).Error())
		log.Warn("command pattern failed", "pattern", pattern, "error", err)
		return nil
	}

	var commands []*Command
	for _, file := range files {
		raw, err := readText(fsys, file)
		if err != nil {
			p.Errors = append(p.Errors, err.Error())
			log.Warn("command file unreadable", "path", file, "error", err)
			continue
		}
		fm, body, err := parseFrontmatter(raw)
		if err != nil {
			p.Errors = append(p.Errors, fmt.Sprintf("%s: %v", file, err))
			log.Warn("command frontmatter invalid", "path", file, "error", err)
		}

		name := fm.Name
		if name == "" {
			name = fileStem(file)
		}
		outline := outlineTemplate(body)
		commands = append(commands, &Command{
			Name:         name,
			Description:  firstNonEmpty(fm.Description, outline.FirstHeading, outline.FirstLine),
			ArgumentHint: fm.ArgumentHint,
			Content:      body,
			PluginID:     p.ID,
			Path:         file,
			Inputs:       commandInputs(fm.Inputs, outline.Inputs, body),
			Skills:       fm.Skills,
		})
	}
	return commands
}

// commandInputs merges declared slots: frontmatter first, then the Inputs section,
// then any {{name}} token not already declared.
func commandInputs(declared []inputEntry, outlined []InputSlot, body string) []InputSlot {
	var slots []InputSlot
	seen := make(map[string]bool)
	add := func(s InputSlot) {
		if s.Name == "" || seen[s.Name] {
			return
		}
		seen[s.Name] = true
		slots = append(slots, s)
	}

	for _, in := range declared {
		required := true
		if in.Required != nil {
			required = *in.Required
		}
		add(InputSlot{
			Name:        strings.TrimSpace(in.Name),
			Description: strings.TrimSpace(in.Description),
			Required:    required,
		})
	}
	for _, s := range outlined {
		add(s)
	}
	for _, name := range SlotNames(body) {
		add(InputSlot{Name: name, Required: true})
	}
	return slots
}

// connectorFile is the JSON shape of a connector config.
type connectorFile struct {
	Connections map[string]connectorEntry `json:"connections"`
	MCPServers  map[string]connectorEntry `json:"mcpServers"`
}

type connectorEntry struct {
	Name    string            `json:"name"`
	Type    string            `json:"type"`
	Command string            `json:"command"`
	Args    []string          `json:"args"`
	URL     string            `json:"url"`
	Env     map[string]string `json:"env"`
}

func (l *Loader) loadConnectors(fsys fs.FS, dir, declared string, p *Plugin, log *slog.Logger) ConnectorSet {
	rel := declared
	if rel == "" {
		rel = DefaultConnectorsPath
	}
	file := path.Join(dir, rel)

	data, err := fs.ReadFile(fsys, file)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			if declared != "" {
				log.Debug("declared connector config not present", "path", file)
			}
			return ConnectorSet{}
		}
		p.Errors = append(p.Errors, newLoadError(ErrFileRead, file, err).Error())
		log.Warn("connector config unreadable", "path", file, "error", err)
		return ConnectorSet{}
	}

	set, err := ParseConnectorConfig(data)
	if err != nil {
		p.Errors = append(p.Errors, newLoadError(ErrMalformedConnectorConfig, file, err).Error())
		log.Warn("connector config malformed, plugin keeps no connectors", "path", file, "error", err)
		return ConnectorSet{}
	}
	return set
}

// ParseConnectorConfig decodes and validates a connector config document.
// Any invalid entry rejects the whole document.
func ParseConnectorConfig(data []byte) (ConnectorSet, error) {
	var doc connectorFile
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}

	entries := doc.Connections
	if entries == nil {
		entries = doc.MCPServers
	} else if doc.MCPServers != nil {
		return nil, fmt.Errorf("both %q and %q present", connectionsKey, connectionsAliasKey)
	}
	if entries == nil {
		return nil, fmt.Errorf("missing %q object", connectionsKey)
	}

	set := make(ConnectorSet, len(entries))
	for raw, entry := range entries {
		category := NormalizeCategory(raw)
		if len(category) > maxConnectorCategoryLen || !categoryPattern.MatchString(category) {
			return nil, fmt.Errorf("invalid category key %q", raw)
		}
		if _, dup := set[category]; dup {
			return nil, fmt.Errorf("category %q declared twice", category)
		}
		decl, err := entry.declaration(category)
		if err != nil {
			return nil, fmt.Errorf("connection %q: %w", raw, err)
		}
		set[category] = decl
	}
	return set, nil
}

func (e connectorEntry) declaration(category string) (Declaration, error) {
	transport := strings.ToLower(strings.TrimSpace(e.Type))
	if transport == "" {
		switch {
		case e.Command != "":
			transport = TransportStdio
		case e.URL != "":
			transport = TransportHTTP
		}
	}

	switch transport {
	case TransportStdio:
		if strings.TrimSpace(e.Command) == "" {
			return Declaration{}, errors.New("stdio connection requires a command")
		}
	case TransportHTTP:
		if strings.TrimSpace(e.URL) == "" {
			return Declaration{}, errors.New("http connection requires a url")
		}
	case "":
		return Declaration{}, errors.New("connection needs a command or a url")
	default:
		return Declaration{}, fmt.Errorf("unknown transport type %q", e.Type)
	}

	toolName := strings.TrimSpace(e.Name)
	if toolName == "" {
		toolName = category
	}
	return Declaration{
		ToolName: toolName,
		Type:     transport,
		Command:  e.Command,
		Args:     e.Args,
		URL:      e.URL,
		Env:      e.Env,
	}, nil
}

func (l *Loader) loadLocalConfig(fsys fs.FS, dir, id string, p *Plugin, log *slog.Logger) string {
	file := path.Join(dir, id+LocalConfigSuffix)
	text, err := readText(fsys, file)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ""
		}
		p.Errors = append(p.Errors, err.Error())
		log.Warn("local configuration unreadable", "path", file, "error", err)
		return ""
	}
	return text
}

// readText reads a UTF-8 file. Failures are *LoadError values of kind ErrFileRead.
func readText(fsys fs.FS, file string) (string, error) {
	data, err := fs.ReadFile(fsys, file)
	if err != nil {
		return "", newLoadError(ErrFileRead, file, err)
	}
	if !utf8.Valid(data) {
		return "", newLoadError(ErrFileRead, file, errors.New("invalid UTF-8"))
	}
	return string(data), nil
}

func fileStem(file string) string {
	base := path.Base(file)
	return strings.TrimSuffix(base, path.Ext(base))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// Discovery is the result of scanning a plugins root.
type Discovery struct {
	Plugins  []*Plugin // directory order, unique ids
	Problems []error   // plugins skipped for malformed manifests
	Warnings []string  // duplicate ids and similar non-fatal conflicts
}

// Discover loads every immediate subdirectory of root that carries a manifest.
// Directories without a manifest are skipped silently. A missing root yields an empty result.
func (l *Loader) Discover(ctx context.Context, fsys fs.FS, root string) (*Discovery, error) {
	entries, err := fs.ReadDir(fsys, root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			l.logger.Debug("plugins root does not exist", "root", root)
			return &Discovery{}, nil
		}
		return nil, fmt.Errorf("reading plugins root %s: %w", root, err)
	}

	var dirs []string
	for _, entry := range entries {
		dir := path.Join(root, entry.Name())
		if !entry.IsDir() {
			// Symlinked directories report a non-dir type from ReadDir.
			info, err := fs.Stat(fsys, dir)
			if err != nil || !info.IsDir() {
				continue
			}
		}
		dirs = append(dirs, dir)
	}

	plugins := make([]*Plugin, len(dirs))
	problems := make([]error, len(dirs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.concurrency)
	for i, dir := range dirs {
		g.Go(func() error {
			p, err := l.Load(gctx, fsys, dir)
			switch {
			case err == nil:
				plugins[i] = p
			case errors.Is(err, ErrMissingManifest):
				l.logger.Debug("skipping directory without manifest", "dir", dir)
			case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
				return err
			default:
				l.logger.Warn("skipping plugin with malformed manifest", "dir", dir, "error", err)
				problems[i] = err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	result := &Discovery{}
	seen := make(map[string]string)
	for i, p := range plugins {
		if problems[i] != nil {
			result.Problems = append(result.Problems, problems[i])
		}
		if p == nil {
			continue
		}
		if first, dup := seen[p.ID]; dup {
			warning := fmt.Sprintf("duplicate plugin id %q: %s ignored, %s kept", p.ID, p.Path, first)
			result.Warnings = append(result.Warnings, warning)
			l.logger.Warn("duplicate plugin id, keeping first", "plugin_id", p.ID, "kept", first, "ignored", p.Path)
			continue
		}
		seen[p.ID] = p.Path
		result.Plugins = append(result.Plugins, p)
	}
	return result, nil
}
