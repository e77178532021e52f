package ledgerkv

// directories.go tracks the directory handles a database touches so Open can
// fsync them once go-live setup completes. A directory's own metadata (the
// entries created or renamed into it — CURRENT, IDENTITY, WAL, SST files)
// needs its own fsync to survive a crash; fsyncing a file never fsyncs the
// directory entry that names it.
//
// Reference: RocksDB v10.7.5 db/db_impl/db_impl_open.cc (Directories,
// DBImpl::Open calling directories_.GetDbDir()->Fsync() after recovery)

import "github.com/aalhour/ledgerkv/vfs"

// directories bundles the database directory and, when distinct, the WAL
// directory, so both can be fsynced together at go-live.
type directories struct {
	fs     vfs.FS
	dbDir  string
	walDir string // empty when WAL files live in dbDir
}

// newDirectories returns a directories tracking dbDir and, if it differs
// from dbDir, walDir.
func newDirectories(fs vfs.FS, dbDir, walDir string) *directories {
	d := &directories{fs: fs, dbDir: dbDir}
	if walDir != "" && walDir != dbDir {
		d.walDir = walDir
	}
	return d
}

// syncAll fsyncs every tracked directory handle. Open calls this once after
// bootstrap or recovery has installed the initial version and cleaned up
// obsolete files, so every directory entry created during Open is durable
// even if the process crashes immediately afterward.
func (d *directories) syncAll() error {
	if err := d.fs.SyncDir(d.dbDir); err != nil {
		return err
	}
	if d.walDir != "" {
		if err := d.fs.SyncDir(d.walDir); err != nil {
			return err
		}
	}
	return nil
}
