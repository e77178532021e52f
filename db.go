package ledgerkv

// db.go ties option sanitization, directory/lock acquisition, manifest
// bootstrap or recovery, and WAL replay into Open, and defines the base
// read/write operation surface the read-only variant (db_readonly.go) also
// builds on.
//
// Reference: RocksDB v10.7.5
//   - db/db_impl/db_impl_open.cc (DB::Open, DBImpl::Recover)
//   - db/db_impl/db_impl.h (DBImpl)
//   - include/rocksdb/db.h (DB)

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/aalhour/ledgerkv/internal/dbformat"
	"github.com/aalhour/ledgerkv/internal/logging"
	"github.com/aalhour/ledgerkv/internal/manifest"
	"github.com/aalhour/ledgerkv/internal/memtable"
	"github.com/aalhour/ledgerkv/internal/table"
	"github.com/aalhour/ledgerkv/internal/version"
	"github.com/aalhour/ledgerkv/internal/wal"
	"github.com/aalhour/ledgerkv/vfs"
)

// DB is the interface every database handle returned by Open or
// OpenForReadOnly implements.
//
// Reference: RocksDB v10.7.5 include/rocksdb/db.h
type DB interface {
	Put(opts *WriteOptions, key, value []byte) error
	PutCF(opts *WriteOptions, cf ColumnFamilyHandle, key, value []byte) error
	Get(opts *ReadOptions, key []byte) ([]byte, error)
	GetCF(opts *ReadOptions, cf ColumnFamilyHandle, key []byte) ([]byte, error)
	MultiGet(opts *ReadOptions, keys [][]byte) ([][]byte, []error)
	Delete(opts *WriteOptions, key []byte) error
	DeleteCF(opts *WriteOptions, cf ColumnFamilyHandle, key []byte) error
	SingleDelete(opts *WriteOptions, key []byte) error
	SingleDeleteCF(opts *WriteOptions, cf ColumnFamilyHandle, key []byte) error
	DeleteRange(opts *WriteOptions, start, end []byte) error
	DeleteRangeCF(opts *WriteOptions, cf ColumnFamilyHandle, start, end []byte) error
	Merge(opts *WriteOptions, key, operand []byte) error
	MergeCF(opts *WriteOptions, cf ColumnFamilyHandle, key, operand []byte) error
	Write(opts *WriteOptions, b *WriteBatch) error

	Flush(opts *FlushOptions) error
	CompactRange(opts *CompactRangeOptions, start, end []byte) error

	CreateColumnFamily(opts ColumnFamilyOptions, name string) (ColumnFamilyHandle, error)
	DropColumnFamily(handle ColumnFamilyHandle) error

	NewIterator(opts *ReadOptions) Iterator
	NewIteratorCF(opts *ReadOptions, cf ColumnFamilyHandle) Iterator

	GetSnapshot() *Snapshot
	ReleaseSnapshot(s *Snapshot)

	GetProperty(name string) (string, bool)
	GetLatestSequenceNumber() uint64

	IngestExternalFile(paths []string, opts IngestExternalFileOptions) error

	SyncWAL() error
	FlushWAL(sync bool) error

	Close() error
}

// DBImpl is the concrete implementation Open returns wrapped behind DB.
// Read-only, secondary, and TTL variants embed it and override the
// operations their mode forbids.
type DBImpl struct {
	name    string
	options *Options
	fs      vfs.FS
	dirs    *directories

	comparator Comparator
	cmp        Comparator // kept alongside comparator; some call sites predate the rename

	mu sync.RWMutex

	versions       *version.VersionSet
	columnFamilies *columnFamilySet

	// mem/imm hold the default column family's active and being-flushed
	// memtables. Every operation on the default column family, plus
	// recovery and background flush, goes through these two fields
	// directly rather than through columnFamilies.getDefault(); secondary
	// column families created via CreateColumnFamily keep their state in
	// their own columnFamilyData and are not part of the background
	// flush/compaction pipeline (see DESIGN.md).
	mem     *memtable.MemTable
	imm     *memtable.MemTable
	immCond *sync.Cond

	seq uint64

	logFileNumber uint64
	logFile       vfs.WritableFile
	logWriter     *wal.Writer
	logMu         sync.Mutex

	tableCache      *table.TableCache
	writeController *writeController
	bgWork          *backgroundWork

	backgroundError error

	logger logging.Logger

	snapMu    sync.Mutex
	snapHead  Snapshot // sentinel; snapHead.next/prev form the live list
	dbID      string
	fileLock  io.Closer
	closed    bool
	shutdownCh chan struct{}
}

var _ DB = (*DBImpl)(nil)

// Open opens the database at path according to opts, creating it if
// CreateIfMissing is set and it does not already exist.
//
// Reference: RocksDB v10.7.5 db/db_impl/db_impl_open.cc (DB::Open)
func Open(path string, opts *Options) (DB, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	opts = sanitizeOptions(path, opts)
	if err := validateOptions(opts); err != nil {
		return nil, err
	}

	fs := opts.FS
	exists := fs.Exists(path)
	if !exists {
		if !opts.CreateIfMissing {
			return nil, fmt.Errorf("%w: database %q does not exist and CreateIfMissing is false", ErrInvalidArgument, path)
		}
	} else if opts.ErrorIfExists {
		return nil, fmt.Errorf("%w: database %q already exists and ErrorIfExists is true", ErrInvalidArgument, path)
	}

	if err := fs.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("db: failed to create database directory: %w", err)
	}
	if opts.WALDir != path {
		if err := fs.MkdirAll(opts.WALDir, 0755); err != nil {
			return nil, fmt.Errorf("db: failed to create WAL directory: %w", err)
		}
	}

	lock, err := fs.Lock(lockFilePath(path))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to acquire LOCK on %q: %v", ErrIO, path, err)
	}

	db := &DBImpl{
		name:            path,
		options:         opts,
		fs:              fs,
		dirs:            newDirectories(fs, path, opts.WALDir),
		comparator:      opts.Comparator,
		cmp:             opts.Comparator,
		tableCache:      table.NewTableCache(fs, table.DefaultTableCacheOptions()),
		writeController: newWriteController(),
		logger:          opts.Logger,
		fileLock:        lock,
		shutdownCh:      make(chan struct{}),
	}
	db.immCond = sync.NewCond(&db.mu)
	db.snapHead.next = &db.snapHead
	db.snapHead.prev = &db.snapHead
	db.columnFamilies = newColumnFamilySet(db)

	if dl, ok := db.logger.(*logging.DefaultLogger); ok {
		dl.SetFatalHandler(func(msg string) {
			db.SetBackgroundError(fmt.Errorf("%w: %s", logging.ErrFatal, msg))
		})
	}

	vsOpts := version.VersionSetOptions{
		DBName:              path,
		FS:                  fs,
		MaxManifestFileSize: 1 << 30,
		NumLevels:           version.MaxNumLevels,
		ComparatorName:      db.comparator.Name(),
	}
	db.versions = version.NewVersionSet(vsOpts)

	manifestExists := fs.Exists(currentFilePath(path))
	if !manifestExists {
		if err := db.create(); err != nil {
			_ = lock.Close()
			_ = db.tableCache.Close()
			return nil, err
		}
	} else {
		if err := db.recover(); err != nil {
			_ = lock.Close()
			_ = db.tableCache.Close()
			return nil, err
		}
	}

	nextLog := db.versions.NextFileNumber()
	logFile, logWriter, err := db.createWAL(nextLog)
	if err != nil {
		_ = lock.Close()
		_ = db.tableCache.Close()
		return nil, err
	}
	db.logFileNumber = nextLog
	db.logFile = logFile
	db.logWriter = logWriter

	if db.mem == nil {
		db.mem = memtable.NewMemTable(memtableComparator(db.comparator))
	}

	if err := db.commitNewLogNumber(nextLog); err != nil {
		_ = lock.Close()
		_ = db.tableCache.Close()
		return nil, err
	}

	if opts.PersistStatsToDisk {
		if err := db.initPersistentStatsColumnFamily(); err != nil {
			_ = lock.Close()
			_ = db.tableCache.Close()
			return nil, err
		}
	}

	if !opts.DisableAutoCompactions {
		db.bgWork = newBackgroundWork(db, opts)
		db.bgWork.start()
	}

	if err := db.dirs.syncAll(); err != nil {
		_ = lock.Close()
		_ = db.tableCache.Close()
		return nil, fmt.Errorf("db: failed to fsync database directory: %w", err)
	}

	db.logger.Infof("[open] database %q ready, last sequence %d", path, db.seq)

	return db, nil
}

// create bootstraps a brand-new database: writes IDENTITY, and asks the
// version set to lay down an initial empty MANIFEST plus CURRENT pointer.
//
// Reference: RocksDB v10.7.5 db/db_impl/db_impl_open.cc (NewDB)
func (db *DBImpl) create() error {
	dbID, err := generateDBID()
	if err != nil {
		return err
	}
	if err := setIdentityFile(db.fs, db.name, dbID); err != nil {
		return err
	}
	db.dbID = dbID

	// The bootstrap MANIFEST is preallocated to ManifestPreallocationSize so
	// its first fsync doesn't also have to extend the file's metadata; on
	// any failure below, remove it rather than leave a half-written
	// MANIFEST for the next Open to trip over.
	if err := db.versions.Create(); err != nil {
		manifestPath := manifestFilePath(db.name, db.versions.ManifestFileNumber())
		_ = db.fs.Remove(manifestPath)
		return fmt.Errorf("db: failed to create initial manifest: %w", err)
	}
	db.seq = 0
	return nil
}

// recover replays the MANIFEST followed by any WAL files left behind by an
// unclean shutdown, then removes SST files that ended up orphaned.
//
// Reference: RocksDB v10.7.5 db/db_impl/db_impl_open.cc (DBImpl::Recover)
func (db *DBImpl) recover() error {
	if err := probeDirectIO(db.fs, db.name, db.options); err != nil {
		return err
	}

	if err := db.versions.Recover(); err != nil {
		return fmt.Errorf("db: failed to recover manifest: %w", err)
	}
	db.seq = db.versions.LastSequence()

	if dbID, err := getDBIdentityFromFile(db.fs, db.name); err == nil {
		db.dbID = dbID
	}

	for _, cf := range db.versions.RecoveredColumnFamilies() {
		if cf.Name == DefaultColumnFamilyName {
			continue
		}
		if _, err := db.columnFamilies.createWithID(cf.ID, cf.Name, DefaultColumnFamilyOptions()); err != nil {
			db.logger.Warnf("[recovery] failed to recreate column family %q: %v", cf.Name, err)
		}
	}

	if err := db.recoverLogFiles(); err != nil {
		return err
	}

	if err := db.deleteOrphanedSSTFiles(); err != nil {
		return err
	}

	return nil
}

// commitNewLogNumber advances the MANIFEST's recorded LogNumber to the WAL
// Open just created for this session, so a future recovery knows every log
// numbered below it has already been folded into an SST or superseded.
func (db *DBImpl) commitNewLogNumber(logNumber uint64) error {
	edit := &manifest.VersionEdit{HasLogNumber: true, LogNumber: logNumber}
	if err := db.versions.LogAndApply(edit); err != nil {
		return fmt.Errorf("db: failed to commit log number %d: %w", logNumber, err)
	}
	return nil
}

// lockFilePath returns the path to the database's LOCK file.
func lockFilePath(dbname string) string {
	return dbname + "/LOCK"
}

// currentFilePath returns the path to the database's CURRENT file.
func currentFilePath(dbname string) string {
	return dbname + "/CURRENT"
}

// manifestFilePath returns the path to MANIFEST-<num> within dbname.
func manifestFilePath(dbname string, num uint64) string {
	return fmt.Sprintf("%s/MANIFEST-%06d", dbname, num)
}

func memtableComparator(cmp Comparator) memtable.Comparator {
	if cmp == nil {
		return nil
	}
	return memtable.Comparator(cmp.Compare)
}

// SetBackgroundError records the first error encountered by a background
// operation (flush, compaction, a fatal log line). Once set, writes fail
// until the DB is reopened.
func (db *DBImpl) SetBackgroundError(err error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.backgroundError == nil {
		db.backgroundError = err
	}
}

func (db *DBImpl) getBackgroundError() error {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.backgroundError
}

// recalculateWriteStall re-derives the write-throttling condition from the
// current L0 file count and notifies writeController.
//
// Reference: RocksDB v10.7.5 db/column_family.cc (RecalculateWriteStallConditions)
func (db *DBImpl) recalculateWriteStall() {
	v := db.versions.Current()
	if v == nil {
		return
	}
	l0Files := v.NumFiles(0)

	condition, cause := recalculateWriteStallCondition(
		0, l0Files,
		db.options.MaxWriteBufferNumber,
		db.options.Level0SlowdownWritesTrigger,
		db.options.Level0StopWritesTrigger,
		db.options.DisableAutoCompactions,
	)
	db.writeController.setStallCondition(condition, cause)
}

// GetSnapshot returns a handle to the database's current state. Reads made
// with this snapshot never observe writes committed after this call.
func (db *DBImpl) GetSnapshot() *Snapshot {
	db.mu.RLock()
	seq := db.seq
	db.mu.RUnlock()

	s := newSnapshot(db, seq)

	db.snapMu.Lock()
	s.prev = db.snapHead.prev
	s.next = &db.snapHead
	db.snapHead.prev.next = s
	db.snapHead.prev = s
	db.snapMu.Unlock()

	return s
}

// ReleaseSnapshot releases a reference on s. When the last reference drops,
// s is unlinked from the live snapshot list.
func (db *DBImpl) ReleaseSnapshot(s *Snapshot) {
	if s == nil {
		return
	}
	s.Release()
}

// releaseSnapshot is called by Snapshot.Release once its refcount hits zero.
func (db *DBImpl) releaseSnapshot(s *Snapshot) {
	db.snapMu.Lock()
	defer db.snapMu.Unlock()
	if s.prev != nil {
		s.prev.next = s.next
	}
	if s.next != nil {
		s.next.prev = s.prev
	}
	s.prev = nil
	s.next = nil
}

// GetLatestSequenceNumber returns the sequence number of the most recently
// completed write.
func (db *DBImpl) GetLatestSequenceNumber() uint64 {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.seq
}

// readSequence resolves the sequence number a read should be visible up to:
// the snapshot's, if one was supplied, else the database's latest.
func (db *DBImpl) readSequence(opts *ReadOptions) uint64 {
	if opts != nil && opts.Snapshot != nil {
		return opts.Snapshot.Sequence()
	}
	return db.GetLatestSequenceNumber()
}

// Put writes key/value to the default column family.
func (db *DBImpl) Put(opts *WriteOptions, key, value []byte) error {
	return db.PutCF(opts, nil, key, value)
}

// PutCF writes key/value to the given column family.
func (db *DBImpl) PutCF(opts *WriteOptions, cf ColumnFamilyHandle, key, value []byte) error {
	wb := NewWriteBatch()
	if cf == nil {
		wb.Put(key, value)
	} else {
		wb.PutCF(cf.ID(), key, value)
	}
	return db.Write(opts, wb)
}

// Delete removes key from the default column family.
func (db *DBImpl) Delete(opts *WriteOptions, key []byte) error {
	return db.DeleteCF(opts, nil, key)
}

// DeleteCF removes key from the given column family.
func (db *DBImpl) DeleteCF(opts *WriteOptions, cf ColumnFamilyHandle, key []byte) error {
	wb := NewWriteBatch()
	if cf == nil {
		wb.Delete(key)
	} else {
		wb.DeleteCF(cf.ID(), key)
	}
	return db.Write(opts, wb)
}

// SingleDelete removes a single instance of key from the default column
// family, valid only when key was written at most once since the last
// compaction that could have seen it.
func (db *DBImpl) SingleDelete(opts *WriteOptions, key []byte) error {
	return db.SingleDeleteCF(opts, nil, key)
}

// SingleDeleteCF is SingleDelete against the given column family.
func (db *DBImpl) SingleDeleteCF(opts *WriteOptions, cf ColumnFamilyHandle, key []byte) error {
	wb := NewWriteBatch()
	if cf == nil {
		wb.SingleDelete(key)
	} else {
		wb.SingleDeleteCF(cf.ID(), key)
	}
	return db.Write(opts, wb)
}

// DeleteRange removes every key in [start, end) from the default column
// family in a single record.
func (db *DBImpl) DeleteRange(opts *WriteOptions, start, end []byte) error {
	return db.DeleteRangeCF(opts, nil, start, end)
}

// DeleteRangeCF is DeleteRange against the given column family.
func (db *DBImpl) DeleteRangeCF(opts *WriteOptions, cf ColumnFamilyHandle, start, end []byte) error {
	wb := NewWriteBatch()
	if cf == nil {
		wb.DeleteRange(start, end)
	} else {
		wb.DeleteRangeCF(cf.ID(), start, end)
	}
	return db.Write(opts, wb)
}

// Merge applies operand to key via the configured MergeOperator.
func (db *DBImpl) Merge(opts *WriteOptions, key, operand []byte) error {
	return db.MergeCF(opts, nil, key, operand)
}

// MergeCF is Merge against the given column family.
func (db *DBImpl) MergeCF(opts *WriteOptions, cf ColumnFamilyHandle, key, operand []byte) error {
	if db.options.MergeOperator == nil {
		return fmt.Errorf("%w: no MergeOperator configured", ErrInvalidArgument)
	}
	wb := NewWriteBatch()
	if cf == nil {
		wb.Merge(key, operand)
	} else {
		wb.MergeCF(cf.ID(), key, operand)
	}
	return db.Write(opts, wb)
}

// Write atomically applies every operation recorded in b: appended to the
// WAL (unless DisableWAL), then applied to the active memtable.
//
// Reference: RocksDB v10.7.5 db/db_impl/db_impl_write.cc (DBImpl::WriteImpl)
func (db *DBImpl) Write(opts *WriteOptions, b *WriteBatch) error {
	if opts == nil {
		opts = DefaultWriteOptions()
	}
	if err := db.getBackgroundError(); err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	if b == nil || b.Count() == 0 {
		return nil
	}

	record := b.internalBatch().Data()
	db.writeController.maybeStallWrite(len(record))

	db.mu.Lock()

	count := uint64(b.Count())
	startSeq := db.seq + 1
	db.seq += count

	if !opts.DisableWAL {
		db.logMu.Lock()
		_, werr := db.logWriter.AddRecord(record)
		if werr == nil && opts.Sync {
			werr = db.logFile.Sync()
		}
		db.logMu.Unlock()
		if werr != nil {
			db.mu.Unlock()
			return fmt.Errorf("%w: failed to write WAL record: %v", ErrIO, werr)
		}
	}

	if err := db.maybeSwitchMemtableLocked(); err != nil {
		db.mu.Unlock()
		return err
	}

	handler := &memtableApplyHandler{mem: db.mem, sequence: startSeq}
	applyErr := b.internalBatch().Iterate(handler)
	db.mu.Unlock()

	if applyErr != nil {
		return fmt.Errorf("db: failed to apply write batch: %w", applyErr)
	}

	if db.bgWork != nil {
		db.bgWork.maybeScheduleFlush()
	}

	return nil
}

// maybeSwitchMemtableLocked rotates the active memtable into the immutable
// slot and schedules a flush when it has outgrown WriteBufferSize. Caller
// holds db.mu.
func (db *DBImpl) maybeSwitchMemtableLocked() error {
	if db.mem.ApproximateMemoryUsage() < int64(db.options.WriteBufferSize) {
		return nil
	}
	for db.imm != nil {
		db.immCond.Wait()
		if db.backgroundError != nil {
			return fmt.Errorf("%w: %v", ErrIO, db.backgroundError)
		}
	}
	db.imm = db.mem
	db.mem = memtable.NewMemTable(memtableComparator(db.comparator))
	if db.bgWork != nil {
		db.bgWork.maybeScheduleFlush()
	} else {
		go func() {
			if err := db.doFlush(); err != nil {
				db.logger.Warnf("[flush] synchronous flush failed: %v", err)
			}
		}()
	}
	return nil
}

// Get reads the value for key as of the most recent write, or the read
// snapshot in opts if one is set.
func (db *DBImpl) Get(opts *ReadOptions, key []byte) ([]byte, error) {
	return db.GetCF(opts, nil, key)
}

// GetCF is Get against the given column family.
func (db *DBImpl) GetCF(opts *ReadOptions, cf ColumnFamilyHandle, key []byte) ([]byte, error) {
	cfd, err := db.getColumnFamilyData(cf)
	if err != nil {
		return nil, err
	}
	seq := db.readSequence(opts)

	if cfd.id == DefaultColumnFamilyID {
		return db.getDefaultCF(key, seq)
	}

	cfd.memMu.RLock()
	value, found, deleted := cfd.mem.Get(key, dbformat.SequenceNumber(seq))
	cfd.memMu.RUnlock()
	if found {
		if deleted {
			return nil, ErrNotFound
		}
		return value, nil
	}
	return nil, ErrNotFound
}

// getDefaultCF implements the memtable -> immutable memtable -> SST levels
// lookup chain RocksDB calls GetImpl for the default column family, the
// only column family flush.go/background.go/recovery.go participate in.
func (db *DBImpl) getDefaultCF(key []byte, seq uint64) ([]byte, error) {
	db.mu.RLock()
	mem := db.mem
	imm := db.imm
	v := db.versions.Current()
	if v != nil {
		v.Ref()
	}
	db.mu.RUnlock()
	if v != nil {
		defer v.Unref()
	}

	sn := dbformat.SequenceNumber(seq)

	if mem != nil {
		if value, found, deleted := mem.Get(key, sn); found {
			if deleted {
				return nil, ErrNotFound
			}
			return value, nil
		}
	}
	if imm != nil {
		if value, found, deleted := imm.Get(key, sn); found {
			if deleted {
				return nil, ErrNotFound
			}
			return value, nil
		}
	}
	if v == nil {
		return nil, ErrNotFound
	}
	return db.getFromVersion(v, key, sn)
}

// MultiGet reads several keys, preserving order; a per-key error slot is
// ErrNotFound rather than failing the whole call.
func (db *DBImpl) MultiGet(opts *ReadOptions, keys [][]byte) ([][]byte, []error) {
	values := make([][]byte, len(keys))
	errs := make([]error, len(keys))
	for i, k := range keys {
		values[i], errs[i] = db.Get(opts, k)
	}
	return values, errs
}

// Flush forces the active memtable to L0, waiting for completion unless
// opts.Wait is false.
func (db *DBImpl) Flush(opts *FlushOptions) error {
	if opts == nil {
		opts = DefaultFlushOptions()
	}

	db.mu.Lock()
	if db.mem.Empty() && db.imm == nil {
		db.mu.Unlock()
		return nil
	}
	for db.imm != nil {
		if !opts.Wait {
			db.mu.Unlock()
			return nil
		}
		db.immCond.Wait()
		if db.backgroundError != nil {
			err := db.backgroundError
			db.mu.Unlock()
			return fmt.Errorf("%w: %v", ErrIO, err)
		}
	}
	if !db.mem.Empty() {
		db.imm = db.mem
		db.mem = memtable.NewMemTable(memtableComparator(db.comparator))
	}
	db.mu.Unlock()

	if !opts.Wait {
		go func() {
			if err := db.doFlush(); err != nil {
				db.logger.Warnf("[flush] background flush failed: %v", err)
			}
		}()
		return nil
	}

	if err := db.doFlush(); err != nil {
		return err
	}

	db.mu.Lock()
	for db.imm != nil && db.backgroundError == nil {
		db.immCond.Wait()
	}
	err := db.backgroundError
	db.mu.Unlock()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	return nil
}

// CompactRange schedules a manual compaction covering [start, end) and
// waits for it to complete.
func (db *DBImpl) CompactRange(opts *CompactRangeOptions, start, end []byte) error {
	if db.bgWork == nil {
		return nil
	}
	db.bgWork.maybeScheduleCompaction()
	for db.bgWork.isCompactionPending() || db.bgWork.numRunningCompactions() > 0 {
		time.Sleep(time.Millisecond)
		if err := db.getBackgroundError(); err != nil {
			return fmt.Errorf("%w: %v", ErrIO, err)
		}
	}
	return nil
}

// CreateColumnFamily creates a new column family with the given name.
func (db *DBImpl) CreateColumnFamily(opts ColumnFamilyOptions, name string) (ColumnFamilyHandle, error) {
	cfd, err := db.columnFamilies.create(name, opts)
	if err != nil {
		return nil, err
	}
	return &columnFamilyHandle{cfd: cfd}, nil
}

// DropColumnFamily drops a previously created column family. The default
// column family can never be dropped.
func (db *DBImpl) DropColumnFamily(handle ColumnFamilyHandle) error {
	cfd, err := db.getColumnFamilyData(handle)
	if err != nil {
		return err
	}
	return db.columnFamilies.drop(cfd)
}

// NewIterator returns an iterator over the default column family.
func (db *DBImpl) NewIterator(opts *ReadOptions) Iterator {
	return db.NewIteratorCF(opts, nil)
}

// NewIteratorCF returns an iterator over the given column family. The
// iterator walks the active memtable only; a full merging iterator across
// immutable memtables and SST levels is out of scope for the open/recovery
// core (see DESIGN.md).
func (db *DBImpl) NewIteratorCF(opts *ReadOptions, cf ColumnFamilyHandle) Iterator {
	seq := db.readSequence(opts)

	cfd, err := db.getColumnFamilyData(cf)
	if err != nil {
		return &memtableIterator{it: memtable.NewMemTable(nil).NewIterator(), seq: seq, snapshot: true}
	}

	var mt *memtable.MemTable
	if cfd.id == DefaultColumnFamilyID {
		db.mu.RLock()
		mt = db.mem
		db.mu.RUnlock()
	} else {
		cfd.memMu.RLock()
		mt = cfd.mem
		cfd.memMu.RUnlock()
	}
	if mt == nil {
		mt = memtable.NewMemTable(nil)
	}
	return &memtableIterator{it: mt.NewIterator(), seq: seq, snapshot: true}
}

// GetProperty returns the value of an internal database statistic, or
// false if name isn't recognized.
//
// Reference: RocksDB v10.7.5 include/rocksdb/db.h (DB::GetProperty)
func (db *DBImpl) GetProperty(name string) (string, bool) {
	switch name {
	case "rocksdb.num-files-at-level0", "rocksdb.num-files-at-level":
		v := db.versions.Current()
		if v == nil {
			return "0", true
		}
		return fmt.Sprintf("%d", v.NumFiles(0)), true
	case "rocksdb.sequence-number":
		return fmt.Sprintf("%d", db.GetLatestSequenceNumber()), true
	case "rocksdb.background-errors":
		if db.getBackgroundError() != nil {
			return "1", true
		}
		return "0", true
	case "rocksdb.is-write-stopped":
		condition, _ := db.writeController.getStallCondition()
		if condition == WriteStallConditionStopped {
			return "1", true
		}
		return "0", true
	default:
		return "", false
	}
}

// IngestExternalFile adds pre-built SST files directly into the database,
// bypassing the write path and memtable.
//
// Reference: RocksDB v10.7.5 db/external_sst_file_ingestion_job.cc
func (db *DBImpl) IngestExternalFile(paths []string, opts IngestExternalFileOptions) error {
	if len(paths) == 0 {
		return nil
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	edit := newIngestEdit()
	for _, p := range paths {
		info, err := db.fs.Stat(p)
		if err != nil {
			return fmt.Errorf("%w: failed to stat %q: %v", ErrIO, p, err)
		}

		num := db.versions.NextFileNumber()
		dst := db.sstFilePath(num)

		if opts.MoveFiles {
			if err := db.fs.Rename(p, dst); err != nil {
				return fmt.Errorf("%w: failed to move %q into database: %v", ErrIO, p, err)
			}
		} else if err := copySSTFile(db.fs, p, dst); err != nil {
			return err
		}

		meta, err := readIngestedFileMetadata(db.fs, dst, num, uint64(info.Size()))
		if err != nil {
			return err
		}
		appendIngestedFile(edit, meta)
	}

	if err := db.versions.LogAndApply(edit); err != nil {
		return fmt.Errorf("db: failed to commit ingested files: %w", err)
	}
	return nil
}

// SyncWAL fsyncs the current WAL file without adding a record to it.
func (db *DBImpl) SyncWAL() error {
	db.logMu.Lock()
	defer db.logMu.Unlock()
	if db.logFile == nil {
		return nil
	}
	if err := db.logFile.Sync(); err != nil {
		return fmt.Errorf("%w: failed to sync WAL: %v", ErrIO, err)
	}
	return nil
}

// FlushWAL flushes buffered WAL writer state to the OS, optionally
// following up with an fsync.
func (db *DBImpl) FlushWAL(sync bool) error {
	if !sync {
		return nil
	}
	return db.SyncWAL()
}

// Close stops background work, closes the WAL and table cache, and
// releases the LOCK file. Close is idempotent-safe against ErrDBClosed but
// not against concurrent use of a database already mid-Close.
func (db *DBImpl) Close() error {
	db.mu.Lock()
	if db.closed {
		db.mu.Unlock()
		return ErrDBClosed
	}
	db.closed = true
	close(db.shutdownCh)
	db.mu.Unlock()

	if db.bgWork != nil {
		db.bgWork.stop()
	}

	var firstErr error
	if db.logFile != nil {
		if err := db.logFile.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := db.versions.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := db.tableCache.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if db.fileLock != nil {
		if err := db.fileLock.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
