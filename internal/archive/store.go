// Package archive creates and restores encrypted snapshots of the local
// database. A snapshot is produced with VACUUM INTO, encrypted with the
// configured Encryptor, and written to a pluggable storage backend.
package archive

import (
	"context"
	"io"
	"time"
)

// Store provides an interface for archive storage backends.
// All operations use io.Reader/io.Writer for streaming so large databases
// never have to fit in memory twice.
type Store interface {
	// Put stores an archive under the given key. size is the number of
	// bytes that will be read from r.
	Put(ctx context.Context, key string, r io.Reader, size int64) error

	// Get retrieves an archive by key and writes it to w.
	Get(ctx context.Context, key string, w io.Writer) error

	// List returns the entries whose keys start with prefix, newest first.
	List(ctx context.Context, prefix string) ([]Entry, error)

	// ValidateSetup verifies that the backend is accessible and properly
	// configured.
	ValidateSetup(ctx context.Context) error
}

// Entry describes one stored archive.
type Entry struct {
	Key     string
	Size    int64
	ModTime time.Time
}
