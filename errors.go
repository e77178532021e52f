package ledgerkv

// errors.go defines the closed set of error kinds a recovery operation can
// fail with, mirroring RocksDB's rocksdb::Status::Code.
//
// Multi-hop wrapping (e.g. "failed to recover WAL %d: %w: %w") uses
// cockroachdb/errors instead of fmt.Errorf so that errors.Is/As keep working
// across chains that pass through goroutine boundaries or get logged and
// reconstructed, which is the reason the rest of the corpus reaches for it
// over the stdlib for anything beyond a single wrap.
//
// Reference: RocksDB v10.7.5 include/rocksdb/status.h (Status::Code)

import (
	cockroacherrors "github.com/cockroachdb/errors"
)

// Closed set of error kinds a database operation can fail with.
var (
	// ErrNotFound indicates the requested entity (key, column family, file)
	// does not exist.
	ErrNotFound = cockroacherrors.New("db: not found")

	// ErrCorruption indicates on-disk data failed an integrity check
	// (checksum mismatch, truncated record, malformed MANIFEST entry).
	ErrCorruption = cockroacherrors.New("db: corruption")

	// ErrNotSupported indicates the requested operation or option
	// combination is not implemented.
	ErrNotSupported = cockroacherrors.New("db: not supported")

	// ErrInvalidArgument indicates the caller passed a value that can never
	// be valid, independent of database state.
	ErrInvalidArgument = cockroacherrors.New("db: invalid argument")

	// ErrIO indicates a filesystem operation failed (short of corruption).
	ErrIO = cockroacherrors.New("db: io error")

	// ErrAborted indicates an operation was aborted, typically due to a
	// conflict detected by a concurrent operation.
	ErrAborted = cockroacherrors.New("db: aborted")

	// ErrBusy indicates a resource (lock file, pending compaction slot) is
	// currently held by another operation.
	ErrBusy = cockroacherrors.New("db: busy")

	// ErrDBClosed indicates an operation was attempted after Close.
	ErrDBClosed = cockroacherrors.New("db: database is closed")
)

// wrapf is a thin alias kept local to this package so call sites read the
// same as the teacher's fmt.Errorf("...: %w", err) idiom while gaining
// cockroachdb/errors' stack-trace capture and safe-details support.
func wrapf(err error, format string, args ...any) error {
	return cockroacherrors.Wrapf(err, format, args...)
}
