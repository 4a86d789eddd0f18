// ABOUTME: Store interfaces and data types for coven-plugins persistence
// ABOUTME: Defines plugin enabled-flag state and scoped credentials

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateCredential is returned when a credential with the same name and scope already exists
var ErrDuplicateCredential = errors.New("credential already exists")

// PluginState is the persisted enabled flag of one plugin.
type PluginState struct {
	PluginID  string
	Enabled   bool
	UpdatedAt time.Time
}

// StateStore persists plugin enabled flags keyed by plugin id.
// Plugin content itself is never stored; it is read from disk on every load.
type StateStore interface {
	// LoadPluginStates returns every persisted flag. Ids without an entry are disabled.
	LoadPluginStates(ctx context.Context) (map[string]bool, error)
	// SetPluginEnabled records the flag for a plugin id.
	SetPluginEnabled(ctx context.Context, pluginID string, enabled bool) error
}

// Credential is a value substituted for ${NAME} placeholders in connector declarations.
// If PluginID is nil, this is a global default. If set, it overrides the default for that plugin.
type Credential struct {
	ID        string
	Name      string
	Value     string
	PluginID  *string // nil = global default
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CredentialStore defines methods for managing credentials.
type CredentialStore interface {
	CreateCredential(ctx context.Context, cred *Credential) error
	GetCredential(ctx context.Context, id string) (*Credential, error)
	FindCredential(ctx context.Context, name string, pluginID *string) (*Credential, error)
	UpdateCredential(ctx context.Context, cred *Credential) error
	DeleteCredential(ctx context.Context, id string) error
	ListCredentials(ctx context.Context) ([]*Credential, error)
	GetEffectiveCredentials(ctx context.Context, pluginID string) (map[string]string, error)
}

// SetCredential creates the credential in its scope or replaces the value of an existing one.
func SetCredential(ctx context.Context, s CredentialStore, name, value string, pluginID *string) (*Credential, error) {
	existing, err := s.FindCredential(ctx, name, pluginID)
	switch {
	case err == nil:
		existing.Value = value
		if err := s.UpdateCredential(ctx, existing); err != nil {
			return nil, err
		}
		return existing, nil
	case errors.Is(err, ErrNotFound):
		cred := &Credential{Name: name, Value: value, PluginID: pluginID}
		if err := s.CreateCredential(ctx, cred); err != nil {
			return nil, err
		}
		return cred, nil
	default:
		return nil, err
	}
}

// ptrToString returns the dereferenced string or empty string if nil.
func ptrToString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
