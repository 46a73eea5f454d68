// Package secretstore abstracts the host-managed secret/property store
// named in spec.md §6: arena_email, arena_password, arena_workspace_id,
// arena_api_base, plus the session cache and item-cache shard keys. The
// core never reads an environment variable or a file directly for these
// — it goes through this interface, so a real spreadsheet-host adapter
// (out of scope here, per spec.md §1) is a drop-in implementation.
package secretstore

import "context"

// Store is a flat, string-keyed key-value store with no structural
// guarantees beyond a value fitting in whatever the host imposes (the
// cache package is responsible for staying under that ceiling itself).
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	// Keys lists stored keys matching prefix, used by the item cache to
	// enumerate shard keys without knowing the shard count in advance.
	Keys(ctx context.Context, prefix string) ([]string, error)
}

// Well-known keys, per spec.md §6.
const (
	KeyEmail       = "arena_email"
	KeyPassword    = "arena_password"
	KeyWorkspaceID = "arena_workspace_id"
	KeyAPIBase     = "arena_api_base"

	KeySessionToken     = "arena_session_token"
	KeySessionAcquired  = "arena_session_acquired_at"
	KeyExportDefinition = "bom_export_definition_id"

	KeyCacheManifest = "item_cache_manifest"
	KeyCacheShardFmt = "item_cache_%d" // printf with shard index
)

// Credentials bundles the four fields required to authenticate.
type Credentials struct {
	Email       string
	Password    string
	WorkspaceID string
	APIBase     string
}

// LoadCredentials reads the four secret keys and fails with a
// ConfigurationError-shaped message (via the caller) if any is absent;
// see plm.Session for the actual error wrapping.
func LoadCredentials(ctx context.Context, s Store) (Credentials, error) {
	var c Credentials
	var ok bool
	var err error

	if c.Email, ok, err = s.Get(ctx, KeyEmail); err != nil || !ok {
		return c, missing(KeyEmail, err)
	}
	if c.Password, ok, err = s.Get(ctx, KeyPassword); err != nil || !ok {
		return c, missing(KeyPassword, err)
	}
	if c.WorkspaceID, ok, err = s.Get(ctx, KeyWorkspaceID); err != nil || !ok {
		return c, missing(KeyWorkspaceID, err)
	}
	if c.APIBase, ok, err = s.Get(ctx, KeyAPIBase); err != nil || !ok {
		return c, missing(KeyAPIBase, err)
	}
	return c, nil
}

func missing(key string, err error) error {
	if err != nil {
		return err
	}
	return &MissingSecretError{Key: key}
}

// MissingSecretError reports which required secret key was absent.
type MissingSecretError struct{ Key string }

func (e *MissingSecretError) Error() string {
	return "required secret not configured: " + e.Key
}
