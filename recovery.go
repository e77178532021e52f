package ledgerkv

// recovery.go replays WAL files left behind by an unclean shutdown into an
// in-memory memtable, honoring Options.WALRecoveryMode and an optional
// Options.WalFilter, then hands the recovered memtable to the flush job so
// its contents land in L0 before the database goes live.
//
// Reference: RocksDB v10.7.5
//   - db/db_impl/db_impl_open.cc (RecoverLogFiles)
//   - db/db_impl/db_impl_write.cc

import (
	"errors"
	"fmt"
	"io"
	"regexp"
	"slices"
	"strconv"

	"github.com/aalhour/ledgerkv/internal/batch"
	"github.com/aalhour/ledgerkv/internal/flush"
	"github.com/aalhour/ledgerkv/internal/manifest"
	"github.com/aalhour/ledgerkv/internal/memtable"
	"github.com/aalhour/ledgerkv/internal/wal"
)

// logFileRegex matches log file names like "000001.log".
var logFileRegex = regexp.MustCompile(`^(\d{6})\.log$`)

// sstFileRegex matches SST file names like "000001.sst".
var sstFileRegex = regexp.MustCompile(`^(\d{6})\.sst$`)

// ErrCorruptedWAL is wrapped into the error returned when a WAL record fails
// its checksum and Options.WALRecoveryMode requires treating that as fatal.
var ErrCorruptedWAL = errors.New("db: corrupted WAL record")

// findLogFiles returns all log file numbers in the database's WAL directory.
func (db *DBImpl) findLogFiles() ([]uint64, error) {
	walDir := db.name
	if db.options.WALDir != "" {
		walDir = db.options.WALDir
	}

	entries, err := db.fs.ListDir(walDir)
	if err != nil {
		return nil, err
	}

	var logFiles []uint64
	for _, entry := range entries {
		matches := logFileRegex.FindStringSubmatch(entry)
		if matches == nil {
			continue
		}
		num, err := strconv.ParseUint(matches[1], 10, 64)
		if err != nil {
			continue
		}
		logFiles = append(logFiles, num)
	}

	return logFiles, nil
}

// recoverLogFiles replays every WAL file numbered >= the MANIFEST's recorded
// LogNumber into a fresh memtable, applies Options.WALRecoveryMode's
// tolerance policy to any corruption encountered, flushes the result to L0,
// and commits the flush via LogAndApply. It is the sole entry point recover()
// calls for the WAL-replay stage of Open.
func (db *DBImpl) recoverLogFiles() error {
	minLogNumber := db.versions.LogNumber()

	logFiles, err := db.findLogFiles()
	if err != nil {
		return fmt.Errorf("db: failed to find log files: %w", err)
	}

	var toReplay []uint64
	for _, num := range logFiles {
		if num >= minLogNumber {
			toReplay = append(toReplay, num)
		}
	}
	slices.Sort(toReplay)

	if len(toReplay) > 0 && db.options.ErrorIfLogFileExist {
		return fmt.Errorf("%w: WAL file %06d.log exists and ErrorIfLogFileExist is set", ErrInvalidArgument, toReplay[0])
	}

	if db.options.ErrorIfDataExistsInLogs {
		for _, logNum := range toReplay {
			hasData, err := db.logFileHasRecords(logNum)
			if err != nil {
				return fmt.Errorf("db: failed to inspect log %d: %w", logNum, err)
			}
			if hasData {
				return fmt.Errorf("%w: WAL file %06d.log contains data and ErrorIfDataExistsInLogs is set", ErrInvalidArgument, logNum)
			}
		}
	}

	var memCmp memtable.Comparator
	if db.comparator != nil {
		memCmp = db.comparator.Compare
	}
	mem := memtable.NewMemTable(memCmp)

	startSeq := db.seq
	handler := newRecovery2PCHandler(mem, startSeq)

	var corruptedLogNumber uint64
	var sawCorruption bool

	for i, logNum := range toReplay {
		isLastLog := i == len(toReplay)-1
		stop, err := db.replayOneLogFile(logNum, handler, isLastLog)
		if err != nil {
			return fmt.Errorf("db: failed to replay log %d: %w", logNum, err)
		}
		if stop {
			corruptedLogNumber = logNum
			sawCorruption = true
			break
		}
	}

	if sawCorruption && db.options.WALRecoveryMode == WALRecoveryModeAbsoluteConsistency {
		return fmt.Errorf("%w: log %d (AbsoluteConsistency forbids any tail corruption)", ErrCorruptedWAL, corruptedLogNumber)
	}

	db.seq = handler.Sequence()
	if len(toReplay) > 0 {
		db.logger.Infof("[recovery] replayed %d WAL files, max sequence: %d", len(toReplay), db.seq)
	}

	if len(handler.GetPreparedTransactions()) > 0 {
		db.logger.Warnf("[recovery] %d prepared transaction(s) recovered uncommitted; they remain pending", len(handler.GetPreparedTransactions()))
	}

	if mem.Empty() {
		return nil
	}
	if db.options.AvoidFlushDuringRecovery && !sawCorruption {
		// Keep the recovered writes in memory; they ride out in the next
		// regular flush instead of producing a recovery-only SST.
		db.mem = mem
		return nil
	}

	return db.writeLevel0TableForRecovery(mem)
}

// logFileHasRecords reports whether logNum contains at least one WAL
// record, without applying it to any memtable. Used by ErrorIfDataExistsInLogs
// to distinguish a log file that was merely preallocated from one an unclean
// shutdown actually wrote to.
func (db *DBImpl) logFileHasRecords(logNum uint64) (bool, error) {
	logPath := db.logFilePath(logNum)

	file, err := db.fs.Open(logPath)
	if err != nil {
		return false, nil
	}
	defer func() { _ = file.Close() }()

	reader := wal.NewReader(file, nil, false /* verifyChecksum */, logNum)
	_, err = reader.ReadRecord()
	if errors.Is(err, io.EOF) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// replayOneLogFile reads every record in logNum and applies it through
// handler. It returns stop=true when WALRecoveryMode says replay must halt
// at this log (a corrupted or truncated tail, outside PointInTimeRecovery's
// tolerance window or TolerateCorruptedTailRecords' last-log allowance).
func (db *DBImpl) replayOneLogFile(logNum uint64, handler batch.Handler2PC, isLastLog bool) (stop bool, err error) {
	logPath := db.logFilePath(logNum)

	file, err := db.fs.Open(logPath)
	if err != nil {
		// The WAL may have been allocated but never written before a crash.
		return false, nil
	}
	defer func() { _ = file.Close() }()

	verifyChecksum := db.options.WALRecoveryMode != WALRecoveryModeSkipAnyCorruptedRecords
	reader := wal.NewReader(file, nil, verifyChecksum, logNum)

	for {
		record, rerr := reader.ReadRecord()
		if errors.Is(rerr, io.EOF) {
			return false, nil
		}
		if rerr != nil {
			return db.handleWALCorruption(logNum, isLastLog, rerr)
		}

		wb, perr := batch.NewFromData(record)
		if perr != nil {
			return db.handleWALCorruption(logNum, isLastLog, perr)
		}

		if db.options.WalFilter != nil {
			decision, newBatch, ferr := db.options.WalFilter.LogRecordFound(logNum, record, nil)
			if ferr != nil {
				return false, fmt.Errorf("wal filter rejected record: %w", ferr)
			}
			switch decision {
			case WalProcessingIgnoreCurrentRecord:
				continue
			case WalProcessingStopReplay:
				return true, nil
			case WalProcessingCorruptedRecord:
				return db.handleWALCorruption(logNum, isLastLog, ErrCorruptedWAL)
			}
			if newBatch != nil {
				wb, perr = batch.NewFromData(newBatch)
				if perr != nil {
					return db.handleWALCorruption(logNum, isLastLog, perr)
				}
			}
		}

		if err := wb.Iterate(handler); err != nil {
			return false, fmt.Errorf("failed to apply batch: %w", err)
		}
	}
}

// handleWALCorruption applies WALRecoveryMode's tolerance policy to a read
// or decode failure encountered mid-log.
//
// Reference: RocksDB v10.7.5 include/rocksdb/options.h (WALRecoveryMode)
func (db *DBImpl) handleWALCorruption(logNum uint64, isLastLog bool, cause error) (stop bool, err error) {
	switch db.options.WALRecoveryMode {
	case WALRecoveryModeTolerateCorruptedTailRecords:
		if isLastLog {
			db.logger.Warnf("[recovery] tolerating corrupted tail in log %d: %v", logNum, cause)
			return true, nil
		}
		return false, fmt.Errorf("%w: log %d: %v", ErrCorruptedWAL, logNum, cause)

	case WALRecoveryModeAbsoluteConsistency:
		return false, fmt.Errorf("%w: log %d: %v", ErrCorruptedWAL, logNum, cause)

	case WALRecoveryModePointInTimeRecovery:
		db.logger.Warnf("[recovery] stopping replay at first corruption in log %d: %v", logNum, cause)
		return true, nil

	case WALRecoveryModeSkipAnyCorruptedRecords:
		db.logger.Warnf("[recovery] skipping corrupted record in log %d: %v", logNum, cause)
		return false, nil

	default:
		return false, fmt.Errorf("%w: log %d: %v", ErrCorruptedWAL, logNum, cause)
	}
}

// writeLevel0TableForRecovery flushes a recovered memtable straight to L0 and
// commits the new file via LogAndApply, reusing the same flush.Job the
// regular write path uses.
func (db *DBImpl) writeLevel0TableForRecovery(mem *memtable.MemTable) error {
	job := flush.NewJob(db, mem)
	meta, err := job.Run()
	if err != nil {
		if errors.Is(err, flush.ErrNoOutput) {
			return nil
		}
		return fmt.Errorf("db: recovery flush failed: %w", err)
	}

	newLastSeq := meta.FD.LargestSeqno
	if prev := manifest.SequenceNumber(db.versions.LastSequence()); prev > newLastSeq {
		newLastSeq = prev
	}

	edit := &manifest.VersionEdit{
		HasLastSequence: true,
		LastSequence:    newLastSeq,
		HasLogNumber:    true,
		LogNumber:       db.logFileNumber,
	}
	edit.NewFiles = append(edit.NewFiles, manifest.NewFileEntry{Level: 0, Meta: meta})

	if err := db.versions.LogAndApply(edit); err != nil {
		return fmt.Errorf("db: failed to commit recovery flush: %w", err)
	}
	db.versions.SetLastSequence(uint64(newLastSeq))

	return nil
}

// deleteOrphanedSSTFiles removes SST files that aren't referenced in the
// MANIFEST. This is critical for preventing internal key collisions after
// crash recovery.
//
// Scenario:
//  1. Flush writes SST file and syncs it
//  2. Crash occurs before MANIFEST update is synced
//  3. A fault-injecting filesystem drops the unsynced MANIFEST write
//  4. SST file exists but isn't in MANIFEST (orphaned)
//  5. On recovery, LastSequence from the old MANIFEST is used
//  6. New writes reuse sequence numbers from the orphaned SST -> collision
//
// Failure policy:
//   - Directory listing failure: fails Open() hard (corruption suspected)
//   - Individual file deletion failure: logs a warning, continues best-effort
//
// Reference: RocksDB v10.7.5 db/db_impl/db_impl_files.cc DeleteObsoleteFiles
func (db *DBImpl) deleteOrphanedSSTFiles() error {
	liveFiles := make(map[uint64]bool)
	if v := db.versions.Current(); v != nil {
		for level := range v.NumLevels() {
			for _, f := range v.Files(level) {
				liveFiles[f.FD.GetNumber()] = true
			}
		}
	}

	entries, err := db.fs.ListDir(db.name)
	if err != nil {
		return fmt.Errorf("db: failed to list directory: %w", err)
	}

	orphanCount := 0
	for _, entry := range entries {
		matches := sstFileRegex.FindStringSubmatch(entry)
		if matches == nil {
			continue
		}
		num, err := strconv.ParseUint(matches[1], 10, 64)
		if err != nil {
			continue
		}
		if liveFiles[num] {
			continue
		}

		sstPath := db.sstFilePath(num)
		if err := db.fs.Remove(sstPath); err != nil {
			db.logger.Warnf("[recovery] failed to delete orphaned SST %s: %v (continuing best-effort)", sstPath, err)
			continue
		}
		orphanCount++
	}
	_ = orphanCount

	return nil
}
