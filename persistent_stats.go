package ledgerkv

// persistent_stats.go reconciles the reserved persistent-stats column family
// that Options.PersistStatsToDisk asks Open to maintain across restarts.
//
// Reference: RocksDB v10.7.5 db/db_impl/db_impl_open.cc
//   (kPersistentStatsColumnFamilyName, InitPersistStatsColumnFamily,
//    PersistentStatsProcessFormatVersion)

import "fmt"

// persistentStatsColumnFamilyName is the reserved column family RocksDB uses
// to store periodic statistics snapshots. It cannot be named or dropped by a
// caller like an ordinary column family.
const persistentStatsColumnFamilyName = "___rocksdb_stats_history___"

const (
	statsCFFormatVersionKey     = "__format_version__"
	statsCFCompatibleVersionKey = "__compatible_version__"

	statsCFCurrentFormatVersion    = 1
	statsCFCompatibleFormatVersion = 1
)

// initPersistentStatsColumnFamily finds or creates the persistent-stats
// column family and, the first time it's created, stamps it with the
// format-version keys a future Open uses to decide whether it understands
// what a prior version wrote there.
//
// Reference: RocksDB v10.7.5 db/db_impl/db_impl_open.cc (InitPersistStatsColumnFamily)
func (db *DBImpl) initPersistentStatsColumnFamily() error {
	if cfd := db.columnFamilies.getByName(persistentStatsColumnFamilyName); cfd != nil {
		return nil
	}

	handle, err := db.CreateColumnFamily(persistentStatsCFOptions(), persistentStatsColumnFamilyName)
	if err != nil {
		return fmt.Errorf("db: failed to create persistent-stats column family: %w", err)
	}

	wb := NewWriteBatch()
	wb.PutCF(handle.ID(), []byte(statsCFFormatVersionKey), []byte(fmt.Sprintf("%d", statsCFCurrentFormatVersion)))
	wb.PutCF(handle.ID(), []byte(statsCFCompatibleVersionKey), []byte(fmt.Sprintf("%d", statsCFCompatibleFormatVersion)))

	writeOpts := &WriteOptions{Sync: false}
	if err := db.Write(writeOpts, wb); err != nil {
		return fmt.Errorf("db: failed to stamp persistent-stats format version: %w", err)
	}
	return nil
}

// persistentStatsCFOptions returns the column family options RocksDB applies
// to the stats CF: small write buffer, aggressive TTL-free compaction, since
// it only ever holds small periodic snapshots.
//
// Reference: RocksDB v10.7.5 db/db_impl/db_impl_open.cc (OptimizeForPersistentStats)
func persistentStatsCFOptions() ColumnFamilyOptions {
	opts := DefaultColumnFamilyOptions()
	opts.WriteBufferSize = 2 << 20 // 2MB, RocksDB's OptimizeForPersistentStats default
	return opts
}
