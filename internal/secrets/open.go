package secrets

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// Backend names accepted by Open.
const (
	BackendSQLite  = "sqlite"
	BackendKeyring = "keyring"
)

// Open returns the store named by backend, keeping its files under dataDir.
func Open(ctx context.Context, backend, dataDir string) (Store, error) {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("secrets: mkdir data dir: %w", err)
	}
	switch backend {
	case "", BackendSQLite:
		return OpenSQLite(ctx, filepath.Join(dataDir, "secrets.db"))
	case BackendKeyring:
		return NewKeyringStore("starkguessr", filepath.Join(dataDir, "fallback_secrets.json")), nil
	default:
		return nil, fmt.Errorf("secrets: unknown backend %q", backend)
	}
}
