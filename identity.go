package ledgerkv

// identity.go manages the IDENTITY file, which stores a random UUID
// uniquely identifying a database instance across its lifetime.
//
// Reference: RocksDB v10.7.5
//   - db/db_impl/db_impl_open.cc (SetIdentityFile, GetDbIdentityFromIdentityFile)
//   - env/env.cc (Env::GenerateUniqueId)

import (
	"crypto/rand"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/aalhour/ledgerkv/vfs"
)

// identityFileName is the name of the file storing the database's unique ID.
const identityFileName = "IDENTITY"

// generateDBID returns a new random RFC 4122 version-4 UUID string.
func generateDBID() (string, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("db: failed to generate db id: %w", err)
	}
	b[6] = (b[6] & 0x0f) | 0x40 // version 4
	b[8] = (b[8] & 0x3f) | 0x80 // variant 10
	return fmt.Sprintf("%x-%x-%x-%x-%x", b[0:4], b[4:6], b[6:8], b[8:10], b[10:16]), nil
}

// setIdentityFile writes a freshly generated (or supplied) db id to the
// IDENTITY file, replacing any previous one. The write goes through a
// temporary file followed by an atomic rename so that a crash never leaves
// behind a half-written IDENTITY.
func setIdentityFile(fs vfs.FS, dbname string, dbID string) error {
	tmpPath := filepath.Join(dbname, identityFileName+".dbtmp")
	finalPath := filepath.Join(dbname, identityFileName)

	f, err := fs.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("db: failed to create IDENTITY tmp file: %w", err)
	}
	if _, err := f.Write([]byte(dbID)); err != nil {
		_ = f.Close()
		return fmt.Errorf("db: failed to write IDENTITY: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("db: failed to sync IDENTITY: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("db: failed to close IDENTITY tmp file: %w", err)
	}
	if err := fs.Rename(tmpPath, finalPath); err != nil {
		return fmt.Errorf("db: failed to rename IDENTITY: %w", err)
	}
	return fs.SyncDir(dbname)
}

// getDBIdentityFromFile reads the db id stored in IDENTITY. It returns
// ErrNotFound-flavored error (via os semantics surfaced by fs.Open) when the
// file does not exist.
func getDBIdentityFromFile(fs vfs.FS, dbname string) (string, error) {
	path := filepath.Join(dbname, identityFileName)
	f, err := fs.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	buf := make([]byte, 256)
	n := 0
	for {
		m, rerr := f.Read(buf[n:])
		n += m
		if rerr != nil || n == len(buf) {
			break
		}
	}
	return strings.TrimSpace(string(buf[:n])), nil
}
