package localstore

import (
	"fmt"
	"os"
	"path/filepath"

	"tt-go/internal/config"
	"tt-go/internal/tracker"
)

// NewLocalStoreFromConfig creates a LocalStore based on the local config
// type. Databases are kept one-per-user so switching accounts never leaks
// data between users.
func NewLocalStoreFromConfig(cfg config.LocalConfig, userID string) (tracker.LocalStore, error) {
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite local store")
		}
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dbPath := filepath.Join(cfg.DataDir, userID+".db")
		return NewSQLiteStore(dbPath)
	case "memory":
		return NewSQLiteStore(":memory:")
	default:
		return nil, fmt.Errorf("unknown local store type: %s", cfg.Type)
	}
}
