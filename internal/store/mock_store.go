// ABOUTME: Mock store implementation for testing
// ABOUTME: Allows tests to run without SQLite, with injectable write failures

package store

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockStore is an in-memory StateStore, CredentialStore and UsageStore for testing.
type MockStore struct {
	mu          sync.RWMutex
	states      map[string]bool        // keyed by plugin ID
	credentials map[string]*Credential // keyed by credential ID
	usage       []TokenUsage
	writes      int

	// FailWrites, when set, is returned by every mutating call.
	FailWrites error
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		states:      make(map[string]bool),
		credentials: make(map[string]*Credential),
	}
}

// SetFailWrites sets the error returned by mutating calls; nil clears it.
func (m *MockStore) SetFailWrites(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FailWrites = err
}

// Writes returns how many mutating calls succeeded.
func (m *MockStore) Writes() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.writes
}

// LoadPluginStates returns a copy of all flags.
func (m *MockStore) LoadPluginStates(ctx context.Context) (map[string]bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return maps.Clone(m.states), nil
}

// SetPluginEnabled records a flag.
func (m *MockStore) SetPluginEnabled(ctx context.Context, pluginID string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailWrites != nil {
		return m.FailWrites
	}
	m.states[pluginID] = enabled
	m.writes++
	return nil
}

// CreateCredential stores a new credential.
func (m *MockStore) CreateCredential(ctx context.Context, cred *Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailWrites != nil {
		return m.FailWrites
	}
	for _, c := range m.credentials {
		if c.Name == cred.Name && sameScope(c.PluginID, cred.PluginID) {
			return fmt.Errorf("%w: %q", ErrDuplicateCredential, cred.Name)
		}
	}

	if cred.ID == "" {
		cred.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	cred.CreatedAt, cred.UpdatedAt = now, now

	// Make a copy to avoid external modification
	c := *cred
	m.credentials[c.ID] = &c
	m.writes++
	return nil
}

// GetCredential retrieves a credential by ID.
func (m *MockStore) GetCredential(ctx context.Context, id string) (*Credential, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.credentials[id]
	if !ok {
		return nil, ErrNotFound
	}
	result := *c
	return &result, nil
}

// FindCredential retrieves a credential by name in an exact scope.
func (m *MockStore) FindCredential(ctx context.Context, name string, pluginID *string) (*Credential, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, c := range m.credentials {
		if c.Name == name && sameScope(c.PluginID, pluginID) {
			result := *c
			return &result, nil
		}
	}
	return nil, ErrNotFound
}

func sameScope(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// UpdateCredential replaces a credential's value.
func (m *MockStore) UpdateCredential(ctx context.Context, cred *Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailWrites != nil {
		return m.FailWrites
	}
	c, ok := m.credentials[cred.ID]
	if !ok {
		return ErrNotFound
	}
	c.Value = cred.Value
	c.UpdatedAt = time.Now().UTC()
	cred.UpdatedAt = c.UpdatedAt
	m.writes++
	return nil
}

// DeleteCredential removes a credential by ID.
func (m *MockStore) DeleteCredential(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailWrites != nil {
		return m.FailWrites
	}
	if _, ok := m.credentials[id]; !ok {
		return ErrNotFound
	}
	delete(m.credentials, id)
	m.writes++
	return nil
}

// ListCredentials returns credentials ordered by name, global scope first.
func (m *MockStore) ListCredentials(ctx context.Context) ([]*Credential, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*Credential, 0, len(m.credentials))
	for _, c := range m.credentials {
		cp := *c
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Name != result[j].Name {
			return result[i].Name < result[j].Name
		}
		if (result[i].PluginID == nil) != (result[j].PluginID == nil) {
			return result[i].PluginID == nil
		}
		return ptrToString(result[i].PluginID) < ptrToString(result[j].PluginID)
	})
	return result, nil
}

// GetEffectiveCredentials merges global credentials with plugin overrides.
func (m *MockStore) GetEffectiveCredentials(ctx context.Context, pluginID string) (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make(map[string]string)
	for _, c := range m.credentials {
		if c.PluginID == nil {
			if _, set := result[c.Name]; !set {
				result[c.Name] = c.Value
			}
		}
	}
	for _, c := range m.credentials {
		if c.PluginID != nil && *c.PluginID == pluginID {
			result[c.Name] = c.Value
		}
	}
	return result, nil
}

// SaveUsage records a usage entry.
func (m *MockStore) SaveUsage(ctx context.Context, usage *TokenUsage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailWrites != nil {
		return m.FailWrites
	}
	fillUsage(usage)
	m.usage = append(m.usage, *usage)
	m.writes++
	return nil
}

func (m *MockStore) matchingUsage(filter UsageFilter) []TokenUsage {
	var out []TokenUsage
	for _, u := range m.usage {
		if filter.PluginID != nil && u.PluginID != *filter.PluginID {
			continue
		}
		if filter.Since != nil && u.CreatedAt.Before(*filter.Since) {
			continue
		}
		if filter.Until != nil && !u.CreatedAt.Before(*filter.Until) {
			continue
		}
		out = append(out, u)
	}
	return out
}

// GetUsageStats aggregates recorded usage.
func (m *MockStore) GetUsageStats(ctx context.Context, filter UsageFilter) (*UsageStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var stats UsageStats
	for _, u := range m.matchingUsage(filter) {
		stats.TotalInput += u.InputTokens
		stats.TotalOutput += u.OutputTokens
		stats.RequestCount++
	}
	stats.TotalTokens = stats.TotalInput + stats.TotalOutput
	return &stats, nil
}

// GetUsageByCommand groups recorded usage by command, most tokens first.
func (m *MockStore) GetUsageByCommand(ctx context.Context, filter UsageFilter) ([]*CommandUsage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	byCommand := make(map[string]*CommandUsage)
	var result []*CommandUsage
	for _, u := range m.matchingUsage(filter) {
		cu, ok := byCommand[u.Command]
		if !ok {
			cu = &CommandUsage{Command: u.Command}
			byCommand[u.Command] = cu
			result = append(result, cu)
		}
		cu.TotalInput += u.InputTokens
		cu.TotalOutput += u.OutputTokens
		cu.TotalTokens += u.InputTokens + u.OutputTokens
		cu.RequestCount++
	}
	sort.SliceStable(result, func(i, j int) bool {
		if result[i].TotalTokens != result[j].TotalTokens {
			return result[i].TotalTokens > result[j].TotalTokens
		}
		return result[i].Command < result[j].Command
	})
	return result, nil
}

var (
	_ StateStore      = (*MockStore)(nil)
	_ CredentialStore = (*MockStore)(nil)
	_ UsageStore      = (*MockStore)(nil)
)
