package ledgerkv

// iterator.go defines the read-path cursor returned by NewIterator and the
// options that shape CompactRange/IngestExternalFile requests. The
// open-and-recovery core does not itself need a query path, but Open must
// hand back a DB whose iterator is at least memtable-consistent, so the base
// implementation stays intentionally narrow: it walks the active and
// immutable memtables only. SST-level and compaction-aware iteration is the
// query engine's concern, not the open/recovery path this module grounds
// itself on.
//
// Reference: RocksDB v10.7.5 include/rocksdb/iterator.h

import (
	"github.com/aalhour/ledgerkv/internal/memtable"
)

// Iterator walks key/value pairs in comparator order.
type Iterator interface {
	Valid() bool
	SeekToFirst()
	SeekToLast()
	Seek(target []byte)
	SeekForPrev(target []byte)
	Next()
	Prev()
	Key() []byte
	Value() []byte
	Error() error
	Close() error
}

// memtableIterator adapts internal/memtable's iterator to the public
// Iterator interface, filtering out entries newer than the read snapshot.
type memtableIterator struct {
	it       *memtable.MemTableIterator
	seq      uint64
	snapshot bool
}

func (mi *memtableIterator) skipUnreadable(advance func()) {
	for mi.it.Valid() {
		if !mi.snapshot || uint64(mi.it.Sequence()) <= mi.seq {
			return
		}
		advance()
	}
}

func (mi *memtableIterator) Valid() bool { return mi.it.Valid() }

func (mi *memtableIterator) SeekToFirst() {
	mi.it.SeekToFirst()
	mi.skipUnreadable(mi.it.Next)
}

func (mi *memtableIterator) SeekToLast() {
	mi.it.SeekToLast()
	mi.skipUnreadable(mi.it.Prev)
}

func (mi *memtableIterator) Seek(target []byte) {
	mi.it.Seek(target)
	mi.skipUnreadable(mi.it.Next)
}

func (mi *memtableIterator) SeekForPrev(target []byte) {
	mi.it.Seek(target)
	if !mi.it.Valid() {
		mi.it.SeekToLast()
	} else if string(mi.it.UserKey()) != string(target) {
		mi.it.Prev()
	}
	mi.skipUnreadable(mi.it.Prev)
}

func (mi *memtableIterator) Next() {
	mi.it.Next()
	mi.skipUnreadable(mi.it.Next)
}

func (mi *memtableIterator) Prev() {
	mi.it.Prev()
	mi.skipUnreadable(mi.it.Prev)
}

func (mi *memtableIterator) Key() []byte   { return mi.it.UserKey() }
func (mi *memtableIterator) Value() []byte { return mi.it.Value() }
func (mi *memtableIterator) Error() error  { return mi.it.Error() }
func (mi *memtableIterator) Close() error  { return nil }

// CompactRangeOptions configures a manual compaction request.
type CompactRangeOptions struct {
	// Exclusive requires no other manual compaction be in progress for the
	// same key range.
	Exclusive bool

	// ChangeLevel requests the output land on TargetLevel rather than the
	// level CompactRange would normally choose.
	ChangeLevel bool
	TargetLevel int

	// BottommostLevelCompaction controls whether the bottommost level is
	// force-compacted even when it would otherwise be skipped.
	BottommostLevelCompaction BottommostLevelCompaction

	// AllowWriteStall permits CompactRange to trigger a write stall rather
	// than returning ErrBusy when the compaction would otherwise be delayed.
	AllowWriteStall bool

	// MaxSubcompactions bounds the number of subcompactions run in parallel
	// for this request. Zero means use Options.MaxSubcompactions.
	MaxSubcompactions uint32
}

// BottommostLevelCompaction controls manual-compaction behavior on the
// bottommost level.
type BottommostLevelCompaction int

const (
	BottommostLevelCompactionSkip BottommostLevelCompaction = iota
	BottommostLevelCompactionIfHaveCompactionFilter
	BottommostLevelCompactionForce
	BottommostLevelCompactionForceOptimized
)

// DefaultCompactRangeOptions returns RocksDB's defaults.
func DefaultCompactRangeOptions() CompactRangeOptions {
	return CompactRangeOptions{
		BottommostLevelCompaction: BottommostLevelCompactionIfHaveCompactionFilter,
	}
}

// IngestExternalFileOptions configures IngestExternalFile.
type IngestExternalFileOptions struct {
	// MoveFiles renames the source SST into the database directory instead
	// of copying it. The caller loses ownership of the source path either way.
	MoveFiles bool

	// SnapshotConsistency requires the ingested keys not overlap any data
	// visible to an outstanding snapshot.
	SnapshotConsistency bool

	// AllowGlobalSeqNo permits rewriting the file's sequence number so it
	// sorts correctly against existing data, instead of requiring the
	// ingested range be entirely newer.
	AllowGlobalSeqNo bool

	// AllowBlockingFlush permits IngestExternalFile to flush the active
	// memtable if the ingested range overlaps unflushed data.
	AllowBlockingFlush bool

	// IngestBehind places the file in the bottommost level, for bulk-loading
	// data known to be older than everything already present.
	IngestBehind bool

	// WriteGlobalSeqno persists the rewritten sequence number into the SST's
	// properties block rather than keeping it index-side only.
	WriteGlobalSeqno bool

	// VerifyChecksumsBeforeIngest re-reads and verifies every block checksum
	// in the source file before linking it in.
	VerifyChecksumsBeforeIngest bool
}

// DefaultIngestExternalFileOptions returns RocksDB's defaults.
func DefaultIngestExternalFileOptions() IngestExternalFileOptions {
	return IngestExternalFileOptions{
		SnapshotConsistency:         true,
		AllowGlobalSeqNo:            true,
		AllowBlockingFlush:          true,
		VerifyChecksumsBeforeIngest: false,
	}
}
