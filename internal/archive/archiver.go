package archive

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"tt-go/internal/tracker"
)

// Snapshotter produces a consistent point-in-time copy of the local
// database at a path. Implemented by the sqlite local store.
type Snapshotter interface {
	SnapshotTo(destPath string) error
}

// Archiver runs the snapshot, encrypt, upload pipeline and its reverse.
type Archiver struct {
	source    Snapshotter
	encryptor tracker.Encryptor
	store     Store
	logger    tracker.Logger
	clock     tracker.Clock
}

// NewArchiver wires an archiver from its parts.
func NewArchiver(source Snapshotter, encryptor tracker.Encryptor, store Store, logger tracker.Logger, clock tracker.Clock) *Archiver {
	return &Archiver{
		source:    source,
		encryptor: encryptor,
		store:     store,
		logger:    logger,
		clock:     clock,
	}
}

// Create snapshots the database, encrypts the snapshot, and uploads it
// under a timestamped key scoped to the user. Returns the key of the new
// archive.
func (a *Archiver) Create(ctx context.Context, userID string) (string, error) {
	if !a.encryptor.IsConfigured() {
		return "", fmt.Errorf("encryption keys not configured; run `tt config keys` first")
	}

	workDir, err := os.MkdirTemp("", "tt-archive-*")
	if err != nil {
		return "", fmt.Errorf("creating work directory: %w", err)
	}
	defer os.RemoveAll(workDir)

	snapshotPath := filepath.Join(workDir, "snapshot.db")
	if err := a.source.SnapshotTo(snapshotPath); err != nil {
		return "", fmt.Errorf("creating snapshot: %w", err)
	}

	encryptedPath := filepath.Join(workDir, "snapshot.db.age")
	if err := a.encryptFile(snapshotPath, encryptedPath); err != nil {
		return "", err
	}

	info, err := os.Stat(encryptedPath)
	if err != nil {
		return "", fmt.Errorf("stating encrypted snapshot: %w", err)
	}

	f, err := os.Open(encryptedPath)
	if err != nil {
		return "", fmt.Errorf("opening encrypted snapshot: %w", err)
	}
	defer f.Close()

	key := fmt.Sprintf("%s/%s.db.age", userID, a.clock.Now().UTC().Format("20060102T150405Z"))
	if err := a.store.Put(ctx, key, f, info.Size()); err != nil {
		return "", fmt.Errorf("uploading archive: %w", err)
	}

	a.logger.Info("archive created", "key", key, "bytes", info.Size())
	return key, nil
}

// List returns the user's archives, newest first.
func (a *Archiver) List(ctx context.Context, userID string) ([]Entry, error) {
	return a.store.List(ctx, userID+"/")
}

// Restore downloads the archive at key and decrypts it to destPath. The
// destination must not already exist; restoring over a live database is
// refused.
func (a *Archiver) Restore(ctx context.Context, key, destPath string, decCtx tracker.DecryptionContext) error {
	if _, err := os.Stat(destPath); err == nil {
		return fmt.Errorf("restore destination already exists: %s", destPath)
	}

	workDir, err := os.MkdirTemp("", "tt-restore-*")
	if err != nil {
		return fmt.Errorf("creating work directory: %w", err)
	}
	defer os.RemoveAll(workDir)

	encryptedPath := filepath.Join(workDir, "archive.db.age")
	encFile, err := os.Create(encryptedPath)
	if err != nil {
		return fmt.Errorf("creating download file: %w", err)
	}
	if err := a.store.Get(ctx, key, encFile); err != nil {
		encFile.Close()
		return fmt.Errorf("downloading archive: %w", err)
	}
	if err := encFile.Close(); err != nil {
		return fmt.Errorf("closing download file: %w", err)
	}

	in, err := os.Open(encryptedPath)
	if err != nil {
		return fmt.Errorf("opening downloaded archive: %w", err)
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return fmt.Errorf("creating destination directory: %w", err)
	}
	out, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("creating destination file: %w", err)
	}
	defer out.Close()

	if err := decCtx.Decrypt(in, out); err != nil {
		os.Remove(destPath)
		return fmt.Errorf("decrypting archive: %w", err)
	}

	a.logger.Info("archive restored", "key", key, "dest", destPath)
	return nil
}

// encryptFile encrypts srcPath into destPath.
func (a *Archiver) encryptFile(srcPath, destPath string) error {
	in, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("opening snapshot: %w", err)
	}
	defer in.Close()

	out, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("creating encrypted file: %w", err)
	}
	defer out.Close()

	if err := a.encryptor.Encrypt(in, out); err != nil {
		return fmt.Errorf("encrypting snapshot: %w", err)
	}
	return nil
}
