package remotestore

import (
	"context"
	"fmt"

	"tt-go/internal/config"
	"tt-go/internal/remotestore/migrations"
	"tt-go/internal/tracker"
)

// NewRemoteStoreFromConfig builds the remote store selected by the config.
// "memory" is for tests and fully-offline use.
func NewRemoteStoreFromConfig(ctx context.Context, cfg config.RemoteConfig) (tracker.RemoteStore, error) {
	switch cfg.Type {
	case "postgres":
		if cfg.URL == "" {
			return nil, fmt.Errorf("remote store of type postgres requires a url")
		}
		if cfg.Migrate {
			if err := migrations.MigrateUp(cfg.URL); err != nil {
				return nil, fmt.Errorf("migrating remote store: %w", err)
			}
		}
		return NewPostgresStore(ctx, cfg.URL)
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown remote store type: %s", cfg.Type)
	}
}
