// ABOUTME: Tests for plugin loading and discovery over in-memory filesystems.
// ABOUTME: Covers manifest validation, error containment, connector parsing, and discovery order.

package plugin

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const legalManifest = `{"name": "Legal", "version": "1.2.0", "description": "Contract review helpers", "author": {"name": "Ops"}}`

const triageTemplate = `---
description: Triage an incoming NDA
argument-hint: <nda text>
skills: [nda-basics]
---
# Triage NDA

Classify the agreement below.

## Inputs

- ` + "`nda_text`" + `: the full NDA text
- ` + "`counterparty`" + ` - (optional) the other party

Review this NDA:

{{nda_text}}
`

func legalFS() fstest.MapFS {
	return fstest.MapFS{
		"plugins/legal/.claude-plugin/plugin.json": {Data: []byte(legalManifest)},
		"plugins/legal/skills/nda-basics/SKILL.md": {Data: []byte("---\ndescription: NDA fundamentals\n---\nMutual NDAs bind both parties. Share via ~~chat.\n")},
		"plugins/legal/skills/risk/SKILL.md":       {Data: []byte("# Risk scoring\n\nScore clauses by exposure.\n")},
		"plugins/legal/commands/review-contract.md": {Data: []byte("# Review a contract\n\nRead {{contract}} and list risky clauses.\n")},
		"plugins/legal/commands/triage-nda.md":      {Data: []byte(triageTemplate)},
		"plugins/legal/.mcp.json": {Data: []byte(`{"connections": {
			"chat": {"name": "Slack", "command": "slack-mcp", "args": ["--team", "${SLACK_TEAM}"], "env": {"SLACK_TOKEN": "${SLACK_TOKEN}"}},
			"storage": {"name": "Box", "type": "http", "url": "https://box.example/mcp"}
		}}`)},
		"plugins/legal/legal.local.md": {Data: []byte("Our company is Acme.\r\nAlways cite clause numbers.\r\n")},
	}
}

// deniedFS fails reads of selected files with a permission error. Stat and
// directory listing still succeed, as on a real disk with a chmod 000 file.
// It only implements Open so every fs helper goes through the check.
type deniedFS struct {
	files  fstest.MapFS
	denied map[string]bool
}

func (d deniedFS) Open(name string) (fs.File, error) {
	f, err := d.files.Open(name)
	if err != nil || !d.denied[name] {
		return f, err
	}
	return deniedFile{File: f, name: name}, nil
}

type deniedFile struct {
	fs.File
	name string
}

func (f deniedFile) Read([]byte) (int, error) {
	return 0, &fs.PathError{Op: "read", Path: f.name, Err: fs.ErrPermission}
}

func newTestLoader() *Loader {
	return NewLoader(slog.Default())
}

func TestLoad_ParsesPlugin(t *testing.T) {
	p, err := newTestLoader().Load(context.Background(), legalFS(), "plugins/legal")
	require.NoError(t, err)

	assert.Equal(t, "legal", p.ID)
	assert.Equal(t, "Legal", p.Name)
	assert.Equal(t, "1.2.0", p.Version)
	assert.Equal(t, SourceDisk, p.Source)
	assert.False(t, p.Enabled)
	assert.Equal(t, StatusInactive, p.Status())
	assert.Empty(t, p.Errors)

	require.Len(t, p.Skills, 2)
	assert.Equal(t, "nda-basics", p.Skills[0].Name)
	assert.Equal(t, "NDA fundamentals", p.Skills[0].Description)
	assert.Equal(t, "Mutual NDAs bind both parties. Share via ~~chat.\n", p.Skills[0].Content)
	assert.Equal(t, "risk", p.Skills[1].Name)
	assert.Equal(t, "Risk scoring", p.Skills[1].Description)

	require.Len(t, p.Commands, 2)
	review := p.Command("review-contract")
	require.NotNil(t, review)
	assert.Equal(t, "legal:review-contract", review.QualifiedName())
	assert.Equal(t, "/legal:review-contract", review.Invocation())
	assert.Equal(t, "Review a contract", review.Description)
	assert.Equal(t, []InputSlot{{Name: "contract", Required: true}}, review.Inputs)

	triage := p.Command("triage-nda")
	require.NotNil(t, triage)
	assert.Equal(t, "Triage an incoming NDA", triage.Description)
	assert.Equal(t, "<nda text>", triage.ArgumentHint)
	assert.Equal(t, []string{"nda-basics"}, triage.Skills)
	assert.Equal(t, []InputSlot{
		{Name: "nda_text", Description: "the full NDA text", Required: true},
		{Name: "counterparty", Description: "the other party", Required: false},
	}, triage.Inputs)

	require.Len(t, p.Connectors, 2)
	chat := p.Connectors["chat"]
	assert.Equal(t, "Slack", chat.ToolName)
	assert.Equal(t, TransportStdio, chat.Type)
	assert.Equal(t, []string{"--team", "${SLACK_TEAM}"}, chat.Args)
	assert.Equal(t, "${SLACK_TOKEN}", chat.Env["SLACK_TOKEN"])
	assert.Equal(t, TransportHTTP, p.Connectors["storage"].Type)

	assert.Equal(t, "Our company is Acme.\r\nAlways cite clause numbers.\r\n", p.LocalConfig)
	assert.True(t, p.HasLocalConfig())
}

func TestLoad_MissingManifest(t *testing.T) {
	fsys := fstest.MapFS{"plugins/notes/readme.md": {Data: []byte("hi")}}

	_, err := newTestLoader().Load(context.Background(), fsys, "plugins/notes")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMissingManifest))

	var loadErr *LoadError
	require.True(t, errors.As(err, &loadErr))
	assert.Equal(t, "plugins/notes/.claude-plugin/plugin.json", loadErr.Path)
}

func TestLoad_MalformedManifest(t *testing.T) {
	tests := []struct {
		name     string
		manifest string
	}{
		{"invalid json", `{"name": "x",`},
		{"missing version", `{"name": "x", "description": "d"}`},
		{"missing description", `{"name": "x", "version": "1"}`},
		{"blank name", `{"name": "  ", "version": "1", "description": "d"}`},
		{"invalid skills glob", `{"name": "x", "version": "1", "description": "d", "skills": "skills/[a"}`},
		{"escaping commands glob", `{"name": "x", "version": "1", "description": "d", "commands": "../*.md"}`},
		{"absolute connectors path", `{"name": "x", "version": "1", "description": "d", "connectors": "/etc/mcp.json"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fsys := fstest.MapFS{"p/.claude-plugin/plugin.json": {Data: []byte(tt.manifest)}}
			_, err := newTestLoader().Load(context.Background(), fsys, "p")
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrMalformedManifest), "got %v", err)
		})
	}
}

func TestLoad_UnreadableSkillIsContained(t *testing.T) {
	base := legalFS()
	base["plugins/legal/skills/extra/SKILL.md"] = &fstest.MapFile{Data: []byte("extra")}
	fsys := deniedFS{files: base, denied: map[string]bool{"plugins/legal/skills/risk/SKILL.md": true}}

	p, err := newTestLoader().Load(context.Background(), fsys, "plugins/legal")
	require.NoError(t, err)

	require.Len(t, p.Skills, 2)
	assert.Equal(t, "extra", p.Skills[0].Name)
	assert.Equal(t, "nda-basics", p.Skills[1].Name)
	require.Len(t, p.Errors, 1)
	assert.Contains(t, p.Errors[0], "skills/risk/SKILL.md")
	assert.NotEqual(t, StatusError, p.Status())
	assert.Len(t, p.Commands, 2)
}

func TestLoad_InvalidUTF8(t *testing.T) {
	fsys := legalFS()
	fsys["plugins/legal/commands/broken.md"] = &fstest.MapFile{Data: []byte{0xff, 0xfe, 'x'}}

	p, err := newTestLoader().Load(context.Background(), fsys, "plugins/legal")
	require.NoError(t, err)
	assert.Len(t, p.Commands, 2)
	require.Len(t, p.Errors, 1)
	assert.Contains(t, p.Errors[0], "invalid UTF-8")
}

func TestLoad_NothingUsableIsError(t *testing.T) {
	fsys := deniedFS{
		files: fstest.MapFS{
			"p/.claude-plugin/plugin.json": {Data: []byte(`{"name": "p", "version": "1", "description": "d"}`)},
			"p/commands/only.md":           {Data: []byte("only")},
		},
		denied: map[string]bool{"p/commands/only.md": true},
	}

	p, err := newTestLoader().Load(context.Background(), fsys, "p")
	require.NoError(t, err)
	assert.Equal(t, StatusError, p.Status())
	assert.False(t, p.WithEnabled(true).Usable())
}

func TestLoad_EmptyPluginIsNotError(t *testing.T) {
	fsys := fstest.MapFS{
		"p/.claude-plugin/plugin.json": {Data: []byte(`{"name": "p", "version": "1", "description": "d"}`)},
	}

	p, err := newTestLoader().Load(context.Background(), fsys, "p")
	require.NoError(t, err)
	assert.Empty(t, p.Skills)
	assert.Empty(t, p.Commands)
	assert.Empty(t, p.Connectors)
	assert.Equal(t, StatusInactive, p.Status())
	assert.Equal(t, StatusActive, p.WithEnabled(true).Status())
}

func TestLoad_MalformedConnectorConfigDegrades(t *testing.T) {
	fsys := legalFS()
	fsys["plugins/legal/.mcp.json"] = &fstest.MapFile{Data: []byte(`{"connections": {"chat": {"type": "stdio"}}}`)}

	p, err := newTestLoader().Load(context.Background(), fsys, "plugins/legal")
	require.NoError(t, err)
	assert.Empty(t, p.Connectors)
	require.Len(t, p.Errors, 1)
	assert.Contains(t, p.Errors[0], ErrMalformedConnectorConfig.Error())
	assert.Equal(t, StatusActive, p.WithEnabled(true).Status())
}

func TestLoad_DeclaredConnectorPath(t *testing.T) {
	fsys := fstest.MapFS{
		"p/.claude-plugin/plugin.json": {Data: []byte(`{"name": "p", "version": "1", "description": "d", "connectors": "config/tools.json"}`)},
		"p/config/tools.json":          {Data: []byte(`{"mcpServers": {"crm": {"type": "http", "url": "https://crm.example"}}}`)},
	}

	p, err := newTestLoader().Load(context.Background(), fsys, "p")
	require.NoError(t, err)
	require.Contains(t, p.Connectors, "crm")
	assert.Equal(t, "crm", p.Connectors["crm"].ToolName)
}

func TestParseConnectorConfig(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		wantErr bool
		want    []string
	}{
		{"connections", `{"connections": {"chat": {"command": "x"}}}`, false, []string{"chat"}},
		{"alias", `{"mcpServers": {"a": {"url": "https://a"}, "b": {"command": "b"}}}`, false, []string{"a", "b"}},
		{"empty object", `{"connections": {}}`, false, []string{}},
		{"both keys", `{"connections": {}, "mcpServers": {}}`, true, nil},
		{"no key", `{"servers": {}}`, true, nil},
		{"wrong shape", `{"connections": ["chat"]}`, true, nil},
		{"http without url", `{"connections": {"a": {"type": "http"}}}`, true, nil},
		{"unknown type", `{"connections": {"a": {"type": "sse", "url": "https://a"}}}`, true, nil},
		{"bad category", `{"connections": {"a/b": {"command": "x"}}}`, true, nil},
		{"category folded", `{"connections": {"Cloud Storage": {"command": "x"}, "Chat": {"command": "y"}}}`, false, []string{"chat", "cloud-storage"}},
		{"category collides after folding", `{"connections": {"chat": {"command": "x"}, "Chat": {"command": "y"}}}`, true, nil},
		{"not json", `nope`, true, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			set, err := ParseConnectorConfig([]byte(tt.doc))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, set.Categories())
		})
	}
}

func TestNormalizeCategory(t *testing.T) {
	assert.Equal(t, "chat", NormalizeCategory("Chat"))
	assert.Equal(t, "cloud-storage", NormalizeCategory("cloud  storage"))
	assert.Equal(t, "e-signature", NormalizeCategory("E-Signature"))
}

func TestLoad_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestLoader().Load(ctx, legalFS(), "plugins/legal")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSkillName(t *testing.T) {
	tests := []struct {
		file, declared, want string
	}{
		{"p/skills/contracts/SKILL.md", "", "contracts"},
		{"p/skills/contracts/SKILL.md", "contract-review", "contract-review"},
		{"p/skills/privacy.md", "", "privacy"},
		{"SKILL.md", "", "SKILL"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, skillName(tt.file, tt.declared), tt.file)
	}
}

func TestDiscover(t *testing.T) {
	fsys := legalFS()
	fsys["plugins/zeta/.claude-plugin/plugin.json"] = &fstest.MapFile{Data: []byte(`{"name": "Zeta", "version": "0.1", "description": "z"}`)}
	fsys["plugins/alpha/.claude-plugin/plugin.json"] = &fstest.MapFile{Data: []byte(`{"name": "Alpha", "version": "0.1", "description": "a"}`)}
	fsys["plugins/notes/todo.md"] = &fstest.MapFile{Data: []byte("not a plugin")}
	fsys["plugins/broken/.claude-plugin/plugin.json"] = &fstest.MapFile{Data: []byte(`{"name": "Broken"}`)}
	fsys["plugins/README.md"] = &fstest.MapFile{Data: []byte("readme")}

	d, err := NewLoader(nil, WithConcurrency(2)).Discover(context.Background(), fsys, "plugins")
	require.NoError(t, err)

	var ids []string
	for _, p := range d.Plugins {
		ids = append(ids, p.ID)
	}
	assert.Equal(t, []string{"alpha", "legal", "zeta"}, ids)
	require.Len(t, d.Problems, 1)
	assert.ErrorIs(t, d.Problems[0], ErrMalformedManifest)
	assert.Empty(t, d.Warnings)
}

func TestDiscover_DuplicateIDsFirstWins(t *testing.T) {
	fsys := fstest.MapFS{
		"plugins/My_Tools/.claude-plugin/plugin.json": {Data: []byte(`{"name": "First", "version": "1", "description": "d"}`)},
		"plugins/my-tools/.claude-plugin/plugin.json": {Data: []byte(`{"name": "Second", "version": "1", "description": "d"}`)},
	}

	d, err := newTestLoader().Discover(context.Background(), fsys, "plugins")
	require.NoError(t, err)
	require.Len(t, d.Plugins, 1)
	assert.Equal(t, "First", d.Plugins[0].Name)
	require.Len(t, d.Warnings, 1)
	assert.Contains(t, d.Warnings[0], `"my-tools"`)
}

func TestDiscover_MissingRoot(t *testing.T) {
	d, err := newTestLoader().Discover(context.Background(), fstest.MapFS{}, "plugins")
	require.NoError(t, err)
	assert.Empty(t, d.Plugins)
}

func TestDiscover_SourceLabel(t *testing.T) {
	d, err := NewLoader(nil, WithSource(SourceBundled)).Discover(context.Background(), legalFS(), "plugins")
	require.NoError(t, err)
	require.Len(t, d.Plugins, 1)
	assert.Equal(t, SourceBundled, d.Plugins[0].Source)
}

func TestNormalizeID(t *testing.T) {
	tests := map[string]string{
		"legal":        "legal",
		"Legal Tools":  "legal-tools",
		"data_science": "data-science",
		"--Finance!--": "finance",
		"":             "plugin",
		"日本":           "plugin",
	}
	for in, want := range tests {
		if got := NormalizeID(in); got != want {
			t.Errorf("NormalizeID(%q) = %q, want %q", in, got, want)
		}
	}
}
