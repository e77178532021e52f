package ledgerkv

// directio_probe.go checks, once at Recover time, that Options.UseDirectReads
// is actually honorable on the filesystem backing the database directory.
//
// Reference: RocksDB v10.7.5 db/db_impl/db_impl_open.cc (DBImpl::Recover,
// the NewRandomAccessFile probe against the CURRENT file)

import (
	"fmt"

	ivfs "github.com/aalhour/ledgerkv/internal/vfs"
)

// probeDirectIO verifies that direct reads can actually be issued against
// the CURRENT file when opts.UseDirectReads is set. RocksDB performs this
// probe because O_DIRECT support is a property of the mounted filesystem,
// not just the OS, and a mismatch has to be caught before recovery starts
// trusting unbuffered reads.
func probeDirectIO(fs ivfs.FS, dbname string, opts *Options) error {
	if !opts.UseDirectReads {
		return nil
	}

	dfs := ivfs.WrapWithDirectIO(fs)
	path := currentFilePath(dbname)

	if f, err := dfs.OpenRandomAccessWithOptions(path, ivfs.FileOptions{UseDirectReads: true}); err == nil {
		_ = f.Close()
		return nil
	}

	// Direct reads failed; see whether a buffered read succeeds. If it does,
	// the filesystem simply doesn't support O_DIRECT for this DB.
	f, err := dfs.OpenRandomAccessWithOptions(path, ivfs.FileOptions{UseDirectReads: false})
	if err == nil {
		_ = f.Close()
		return fmt.Errorf("%w: Direct I/O is not supported by the specified DB.", ErrInvalidArgument)
	}

	return fmt.Errorf("%w: Found options incompatible with filesystem: %v", ErrInvalidArgument, err)
}
