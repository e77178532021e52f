package ledgerkv

// sanitize.go fills in derived defaults and clamps user-supplied Options to
// safe values before Open proceeds to validation and recovery.
//
// Reference: RocksDB v10.7.5 db/db_impl/db_impl_open.cc (SanitizeOptions)

import (
	"path/filepath"
	"strings"

	"github.com/aalhour/ledgerkv/internal/logging"
	"github.com/aalhour/ledgerkv/vfs"
)

// clipToRange clamps *v to [lo, hi].
func clipToRange(v *int, lo, hi int) {
	if *v > hi {
		*v = hi
	}
	if *v < lo {
		*v = lo
	}
}

// sanitizeOptions returns a copy of opts with defaults filled in and
// mutually-derived fields reconciled. The caller's Options value is never
// mutated in place.
//
// Reference: RocksDB v10.7.5 db/db_impl/db_impl_open.cc:SanitizeOptions
func sanitizeOptions(dbname string, opts *Options) *Options {
	result := *opts

	if result.FS == nil {
		result.FS = vfs.Default()
	}
	if result.Comparator == nil {
		result.Comparator = BytewiseComparator{}
	}
	if result.Logger == nil {
		level := logging.LevelWarn
		if result.ParanoidChecks {
			level = logging.LevelInfo
		}
		result.Logger = logging.NewDefaultLogger(level)
	}

	// max_open_files is clamped to leave headroom for non-SST file
	// descriptors (WAL, LOCK, MANIFEST, ...).
	if result.MaxOpenFiles != -1 {
		clipToRange(&result.MaxOpenFiles, 20, 1_000_000)
	}

	if result.MaxBackgroundJobs <= 0 {
		result.MaxBackgroundJobs = 2
	}

	// recycling log files is incompatible with the two recovery modes that
	// must be able to tell precisely where a log ends.
	if result.WALRecoveryMode == WALRecoveryModePointInTimeRecovery ||
		result.WALRecoveryMode == WALRecoveryModeAbsoluteConsistency {
		result.RecycleLogFileNum = 0
	}
	if result.WALTTLSeconds > 0 || result.WALSizeLimitMB > 0 {
		result.RecycleLogFileNum = 0
	}

	// WALDir defaults to (and is normalized relative to) the db directory.
	if result.WALDir == "" {
		result.WALDir = dbname
	} else {
		result.WALDir = strings.TrimRight(filepath.Clean(result.WALDir), "/")
	}

	if len(result.DBPaths) == 0 {
		result.DBPaths = []DbPath{{Path: dbname, TargetSize: 0}}
	}

	if result.CompactionReadaheadSize > 0 {
		result.UseDirectReads = false
	}

	// 2PC markers must never be dropped by skipping the recovery flush,
	// since a prepared-but-uncommitted transaction living only in the WAL
	// would otherwise vanish the moment that WAL is treated as obsolete.
	if result.Allow2PC {
		result.AvoidFlushDuringRecovery = false
	}

	if !result.ParanoidChecks {
		result.SkipCheckingSSTFileSizesOnDBOpen = true
	}

	if result.KeepLogFileNum == 0 {
		result.KeepLogFileNum = 1000
	}

	if result.ManifestPreallocationSize <= 0 {
		result.ManifestPreallocationSize = 4 * 1024 * 1024
	}

	return &result
}
