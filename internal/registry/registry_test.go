// ABOUTME: Tests for the plugin registry including enable/disable, reload atomicity, and overrides.
// ABOUTME: Uses in-memory filesystems and the mock state store.

package registry

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"testing/fstest"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-plugins/internal/events"
	"github.com/2389/coven-plugins/internal/plugin"
	"github.com/2389/coven-plugins/internal/store"
)

func manifest(name string) *fstest.MapFile {
	return &fstest.MapFile{Data: []byte(`{"name": "` + name + `", "version": "1.0.0", "description": "` + name + ` plugin"}`)}
}

func testFS() fstest.MapFS {
	return fstest.MapFS{
		"plugins/legal/.claude-plugin/plugin.json":  manifest("Legal"),
		"plugins/legal/skills/nda/SKILL.md":         {Data: []byte("NDA basics")},
		"plugins/legal/commands/review-contract.md": {Data: []byte("# Review a contract\n{{contract}}")},
		"plugins/legal/commands/triage-nda.md":      {Data: []byte("# Triage an NDA\n{{nda}}")},
		"plugins/legal/.mcp.json":                   {Data: []byte(`{"connections": {"chat": {"name": "Slack", "command": "slack"}}}`)},
		"plugins/finance/.claude-plugin/plugin.json": manifest("Finance"),
		"plugins/finance/skills/close/SKILL.md":      {Data: []byte("Month-end close")},
		"plugins/finance/commands/reconcile.md":      {Data: []byte("# Reconcile accounts")},
	}
}

func newTestRegistry(t *testing.T, fsys fstest.MapFS, state *store.MockStore, pub events.Publisher) *Registry {
	t.Helper()
	reg, err := New(context.Background(), Options{
		Sources:   []Source{{Label: plugin.SourceDisk, FS: fsys, Root: "plugins"}},
		State:     state,
		Publisher: pub,
		Logger:    slog.Default(),
	})
	require.NoError(t, err)
	return reg
}

func pluginIDs(plugins []*plugin.Plugin) []string {
	ids := make([]string, 0, len(plugins))
	for _, p := range plugins {
		ids = append(ids, p.ID)
	}
	return ids
}

func TestNew_LoadsPluginsDisabledByDefault(t *testing.T) {
	reg := newTestRegistry(t, testFS(), store.NewMockStore(), nil)

	assert.Equal(t, []string{"finance", "legal"}, pluginIDs(reg.Plugins()))
	assert.Empty(t, reg.EnabledPlugins())
	assert.Empty(t, reg.ActiveSkills())
	assert.Nil(t, reg.GetCommandHandler("legal:triage-nda"))
	assert.Equal(t, uint64(1), reg.Version())
}

func TestNew_AppliesPersistedFlags(t *testing.T) {
	state := store.NewMockStore()
	require.NoError(t, state.SetPluginEnabled(context.Background(), "legal", true))

	reg := newTestRegistry(t, testFS(), state, nil)

	assert.Equal(t, []string{"legal"}, pluginIDs(reg.EnabledPlugins()))
	assert.NotNil(t, reg.GetCommandHandler("legal:triage-nda"))
}

func TestNew_RequiresStateStore(t *testing.T) {
	_, err := New(context.Background(), Options{})
	assert.Error(t, err)
}

func TestEnable_ExposesContent(t *testing.T) {
	state := store.NewMockStore()
	reg := newTestRegistry(t, testFS(), state, nil)
	ctx := context.Background()

	require.NoError(t, reg.Enable(ctx, "legal"))

	cmd := reg.GetCommandHandler("legal:triage-nda")
	require.NotNil(t, cmd)
	assert.Equal(t, "Triage an NDA", cmd.Description)

	skills := reg.ActiveSkills()
	require.Len(t, skills, 1)
	assert.Equal(t, "nda", skills[0].Name)

	sets := reg.ActiveConnectorSets()
	require.Len(t, sets, 1)
	assert.Equal(t, "legal", sets[0].PluginID)
	assert.Contains(t, sets[0].Set, "chat")

	states, _ := state.LoadPluginStates(ctx)
	assert.True(t, states["legal"])
}

func TestEnable_Idempotent(t *testing.T) {
	reg := newTestRegistry(t, testFS(), store.NewMockStore(), nil)
	ctx := context.Background()

	require.NoError(t, reg.Enable(ctx, "legal"))
	once := reg.Snapshot()

	require.NoError(t, reg.Enable(ctx, "legal"))
	twice := reg.Snapshot()

	assert.Equal(t, once.Version(), twice.Version())
	if diff := cmp.Diff(once.Plugins(), twice.Plugins()); diff != "" {
		t.Errorf("second Enable changed the plugin set (-once +twice):\n%s", diff)
	}
	if diff := cmp.Diff(once.ActiveSkills(), twice.ActiveSkills()); diff != "" {
		t.Errorf("second Enable changed active skills (-once +twice):\n%s", diff)
	}
}

func TestEnable_UnknownPlugin(t *testing.T) {
	reg := newTestRegistry(t, testFS(), store.NewMockStore(), nil)

	err := reg.Enable(context.Background(), "nope")
	assert.True(t, errors.Is(err, ErrNotFound), "got %v", err)
	err = reg.Disable(context.Background(), "nope")
	assert.True(t, errors.Is(err, ErrNotFound), "got %v", err)
}

func TestEnable_PersistFailureLeavesStateUnchanged(t *testing.T) {
	state := store.NewMockStore()
	reg := newTestRegistry(t, testFS(), state, nil)
	before := reg.Snapshot()

	boom := errors.New("disk full")
	state.SetFailWrites(boom)

	err := reg.Enable(context.Background(), "legal")
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Same(t, before, reg.Snapshot())
	assert.Empty(t, reg.EnabledPlugins())
}

func TestDisable_RemovesEntriesWithoutReload(t *testing.T) {
	reg := newTestRegistry(t, testFS(), store.NewMockStore(), nil)
	ctx := context.Background()

	require.NoError(t, reg.Enable(ctx, "legal"))
	require.NoError(t, reg.Enable(ctx, "finance"))
	require.NotNil(t, reg.GetCommandHandler("legal:review-contract"))
	require.Len(t, reg.ActiveSkills(), 2)

	require.NoError(t, reg.Disable(ctx, "legal"))

	assert.Nil(t, reg.GetCommandHandler("legal:review-contract"))
	assert.Nil(t, reg.GetCommandHandler("legal:triage-nda"))
	assert.NotNil(t, reg.GetCommandHandler("finance:reconcile"))
	for _, s := range reg.ActiveSkills() {
		assert.NotEqual(t, "legal", s.PluginID)
	}
	assert.Len(t, reg.ActiveConnectorSets(), 0)

	// Still loaded, just disabled
	p := reg.Plugin("legal")
	require.NotNil(t, p)
	assert.Equal(t, plugin.StatusInactive, p.Status())
}

func TestActiveSkills_RegistrationOrder(t *testing.T) {
	reg := newTestRegistry(t, testFS(), store.NewMockStore(), nil)
	ctx := context.Background()

	// Enable order does not matter; registration (directory) order does.
	require.NoError(t, reg.Enable(ctx, "legal"))
	require.NoError(t, reg.Enable(ctx, "finance"))

	var owners []string
	for _, s := range reg.ActiveSkills() {
		owners = append(owners, s.PluginID)
	}
	assert.Equal(t, []string{"finance", "legal"}, owners)
}

func TestReload_Atomicity(t *testing.T) {
	fsys := testFS()
	state := store.NewMockStore()
	reg := newTestRegistry(t, fsys, state, nil)
	ctx := context.Background()
	require.NoError(t, reg.Enable(ctx, "legal"))

	before := reg.Snapshot()
	beforePlugins := before.Plugins()

	// Install a new plugin and remove a command on disk
	fsys["plugins/hr/.claude-plugin/plugin.json"] = manifest("HR")
	fsys["plugins/hr/commands/onboard.md"] = &fstest.MapFile{Data: []byte("# Onboard")}
	delete(fsys, "plugins/legal/commands/review-contract.md")

	require.NoError(t, reg.Reload(ctx))
	after := reg.Snapshot()

	// The old snapshot is untouched
	assert.Equal(t, []string{"finance", "legal"}, pluginIDs(before.Plugins()))
	assert.Nil(t, before.Plugin("hr"))
	assert.NotNil(t, before.GetCommandHandler("legal:review-contract"))
	if diff := cmp.Diff(beforePlugins, before.Plugins()); diff != "" {
		t.Errorf("pre-reload snapshot changed:\n%s", diff)
	}

	// The new snapshot has no pre-reload leftovers
	assert.Equal(t, []string{"finance", "hr", "legal"}, pluginIDs(after.Plugins()))
	assert.Nil(t, after.GetCommandHandler("legal:review-contract"))
	assert.NotNil(t, after.GetCommandHandler("legal:triage-nda"), "persisted flag re-applied")
	assert.Greater(t, after.Version(), before.Version())
	for _, p := range after.Plugins() {
		assert.NotSame(t, before.Plugin(p.ID), p)
	}
}

func TestReload_ConcurrentReaders(t *testing.T) {
	reg := newTestRegistry(t, testFS(), store.NewMockStore(), nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for range 4 {
		wg.Go(func() {
			for {
				select {
				case <-stop:
					return
				default:
				}
				snap := reg.Snapshot()
				// Every index in one snapshot agrees with itself.
				enabled := make(map[string]bool)
				for _, p := range snap.EnabledPlugins() {
					enabled[p.ID] = true
				}
				for _, s := range snap.ActiveSkills() {
					if !enabled[s.PluginID] {
						t.Errorf("skill %s from disabled plugin %s in snapshot %d", s.Name, s.PluginID, snap.Version())
						return
					}
				}
			}
		})
	}

	for i := range 20 {
		if i%2 == 0 {
			require.NoError(t, reg.Enable(ctx, "legal"))
		} else {
			require.NoError(t, reg.Disable(ctx, "legal"))
		}
		require.NoError(t, reg.Reload(ctx))
	}
	close(stop)
	wg.Wait()
}

func TestReload_LaterSourceOverridesInPlace(t *testing.T) {
	bundled := fstest.MapFS{
		"bundled/legal/.claude-plugin/plugin.json":   manifest("Legal (bundled)"),
		"bundled/legal/commands/old.md":              {Data: []byte("old")},
		"bundled/finance/.claude-plugin/plugin.json": manifest("Finance"),
	}
	disk := fstest.MapFS{
		"plugins/legal/.claude-plugin/plugin.json": manifest("Legal (disk)"),
		"plugins/legal/commands/new.md":            {Data: []byte("new")},
		"plugins/hr/.claude-plugin/plugin.json":    manifest("HR"),
	}

	reg, err := New(context.Background(), Options{
		Sources: []Source{
			{Label: plugin.SourceBundled, FS: bundled, Root: "bundled"},
			{Label: plugin.SourceDisk, FS: disk, Root: "plugins"},
		},
		State: store.NewMockStore(),
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"finance", "legal", "hr"}, pluginIDs(reg.Plugins()))
	legal := reg.Plugin("legal")
	assert.Equal(t, "Legal (disk)", legal.Name)
	assert.Equal(t, plugin.SourceDisk, legal.Source)
	assert.Equal(t, plugin.SourceBundled, reg.Plugin("finance").Source)

	require.NoError(t, reg.Enable(context.Background(), "legal"))
	assert.NotNil(t, reg.GetCommandHandler("legal:new"))
	assert.Nil(t, reg.GetCommandHandler("legal:old"))
}

func TestReload_MalformedManifestBecomesWarning(t *testing.T) {
	fsys := testFS()
	fsys["plugins/broken/.claude-plugin/plugin.json"] = &fstest.MapFile{Data: []byte(`{"name": "Broken"`)}

	reg := newTestRegistry(t, fsys, store.NewMockStore(), nil)

	assert.Nil(t, reg.Plugin("broken"))
	warnings := reg.Warnings()
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "malformed manifest")

	// Discovery warnings survive enable/disable
	require.NoError(t, reg.Enable(context.Background(), "legal"))
	assert.Len(t, reg.Warnings(), 1)
}

func TestEvents_EmittedOnEveryCall(t *testing.T) {
	b := events.NewBroadcaster(nil)
	defer b.Close()
	ch, _ := b.Subscribe(t.Context(), events.TopicRegistry)

	reg := newTestRegistry(t, testFS(), store.NewMockStore(), b)
	ctx := context.Background()

	require.NoError(t, reg.Enable(ctx, "legal"))
	require.NoError(t, reg.Enable(ctx, "legal"))
	require.NoError(t, reg.Disable(ctx, "legal"))
	require.NoError(t, reg.Reload(ctx))

	var kinds []events.Kind
	for range 4 {
		select {
		case ev := <-ch:
			kinds = append(kinds, ev.Kind)
		case <-time.After(time.Second):
			t.Fatalf("timed out after %v", kinds)
		}
	}
	assert.Equal(t, []events.Kind{
		events.KindPluginEnabled,
		events.KindPluginEnabled,
		events.KindPluginDisabled,
		events.KindPluginsReloaded,
	}, kinds)
}

func TestBuildSnapshot_DuplicateCommandFirstWins(t *testing.T) {
	first := &plugin.Command{Name: "review", PluginID: "legal", Path: "a/review.md"}
	second := &plugin.Command{Name: "review", PluginID: "legal", Path: "b/review.md"}
	p := &plugin.Plugin{ID: "legal", Enabled: true, Commands: []*plugin.Command{first, second}}

	snap := buildSnapshot(1, []*plugin.Plugin{p}, nil, slog.Default())

	assert.Same(t, first, snap.GetCommandHandler("legal:review"))
	require.Len(t, snap.Warnings(), 1)
	assert.Contains(t, snap.Warnings()[0], ErrDuplicateCommand.Error())
}

func TestEnable_DuplicateCommandFromDiskFirstWins(t *testing.T) {
	fsys := testFS()
	fsys["plugins/legal/commands/review.md"] = &fstest.MapFile{Data: []byte("---\nname: review-contract\n---\n# Quick review\n")}
	reg := newTestRegistry(t, fsys, store.NewMockStore(), nil)

	require.NoError(t, reg.Enable(context.Background(), "legal"))

	cmd := reg.GetCommandHandler("legal:review-contract")
	require.NotNil(t, cmd)
	assert.Equal(t, "plugins/legal/commands/review-contract.md", cmd.Path)

	var dup []string
	for _, w := range reg.Warnings() {
		if strings.Contains(w, ErrDuplicateCommand.Error()) {
			dup = append(dup, w)
		}
	}
	require.Len(t, dup, 1)
	assert.Contains(t, dup[0], "plugins/legal/commands/review.md")

	names := make([]string, 0)
	for _, c := range reg.Plugin("legal").RegisteredCommands() {
		names = append(names, c.Name)
	}
	assert.Equal(t, []string{"review-contract", "triage-nda"}, names)

	require.NoError(t, reg.Disable(context.Background(), "legal"))
	assert.Empty(t, reg.Warnings())
}

func TestSnapshot_ErrorPluginContributesNothing(t *testing.T) {
	p := &plugin.Plugin{ID: "broken", Enabled: true, Errors: []string{"file read error"}}

	snap := buildSnapshot(1, []*plugin.Plugin{p}, nil, slog.Default())

	assert.Empty(t, snap.EnabledPlugins())
	assert.NotNil(t, snap.Plugin("broken"))
}
