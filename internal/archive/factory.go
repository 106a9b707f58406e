package archive

import (
	"context"
	"fmt"

	"tt-go/internal/config"
)

// NewStoreFromConfig creates a Store implementation based on the archive config type.
func NewStoreFromConfig(ctx context.Context, cfg config.ArchiveConfig) (Store, error) {
	switch cfg.Type {
	case "memory":
		return NewMemoryStore(), nil
	case "s3":
		if cfg.S3Bucket == "" {
			return nil, fmt.Errorf("s3 archive store requires s3_bucket to be set")
		}
		return NewS3Store(ctx, cfg.S3Bucket, cfg.S3Prefix, cfg.S3Region)
	case "filesystem":
		if cfg.FSArchiveRoot == "" {
			return nil, fmt.Errorf("filesystem archive store requires fs_archive_root to be set")
		}
		return NewFileSystemStore(cfg.FSArchiveRoot)
	default:
		return nil, fmt.Errorf("unknown archive store type: %s", cfg.Type)
	}
}
