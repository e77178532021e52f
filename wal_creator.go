package ledgerkv

// wal_creator.go creates new WAL files, in the legacy or recyclable record
// format depending on Options.RecycleLogFileNum.
//
// Reference: RocksDB v10.7.5 db/db_impl/db_impl_open.cc (DBImpl::CreateWAL)

import (
	"fmt"
	"path/filepath"

	"github.com/aalhour/ledgerkv/internal/wal"
	"github.com/aalhour/ledgerkv/vfs"
)

// logFileName returns the filename for a WAL with the given number.
func logFileName(number uint64) string {
	return fmt.Sprintf("%06d.log", number)
}

// logFilePath returns the full path to a WAL with the given number, using
// WALDir (which sanitizeOptions always fills in).
func (db *DBImpl) logFilePath(number uint64) string {
	dir := db.name
	if db.options.WALDir != "" {
		dir = db.options.WALDir
	}
	return filepath.Join(dir, logFileName(number))
}

// createWAL creates a new WAL file for logNumber and returns the open file
// and a writer over it. The recyclable header format is used whenever
// RecycleLogFileNum > 0, matching the policy sanitizeOptions enforces
// (recycling is disabled outright under the two recovery modes that need
// to distinguish a truncated tail from a legitimately short log).
func (db *DBImpl) createWAL(logNumber uint64) (vfs.WritableFile, *wal.Writer, error) {
	recyclable := db.options.RecycleLogFileNum > 0

	path := db.logFilePath(logNumber)
	file, err := db.fs.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("db: failed to create WAL %d: %w", logNumber, err)
	}

	if db.options.ManifestPreallocationSize > 0 {
		// Best-effort: not every WritableFile implementation benefits from
		// preallocation, so a failure here is not fatal.
		_ = file.Truncate(0)
	}

	writer := wal.NewWriter(file, logNumber, recyclable)
	return file, writer, nil
}
