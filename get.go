package ledgerkv

// get.go implements the on-disk half of Get: once a lookup misses both the
// active and immutable memtable, it walks the current Version's SST files
// from L0 down, exactly the order a value could have been compacted into.
//
// Reference: RocksDB v10.7.5 db/version_set.cc (Version::Get)

import (
	"sort"

	"github.com/aalhour/ledgerkv/internal/dbformat"
	"github.com/aalhour/ledgerkv/internal/manifest"
	"github.com/aalhour/ledgerkv/internal/version"
)

// getFromVersion looks up key, visible as of seq, across every level of v.
// L0 files can overlap in key range and are searched newest-file-first;
// every other level's files are disjoint and sorted, so at most one file
// per level is opened.
func (db *DBImpl) getFromVersion(v *version.Version, key []byte, seq dbformat.SequenceNumber) ([]byte, error) {
	l0 := append([]*manifest.FileMetaData(nil), v.Files(0)...)
	sort.Slice(l0, func(i, j int) bool {
		return l0[i].FD.GetNumber() > l0[j].FD.GetNumber()
	})
	for _, f := range l0 {
		value, found, deleted, err := db.getFromFile(f, key, seq)
		if err != nil {
			return nil, err
		}
		if found {
			if deleted {
				return nil, ErrNotFound
			}
			return value, nil
		}
	}

	for level := 1; level < v.NumLevels(); level++ {
		files := v.Files(level)
		for _, f := range files {
			if !fileMayContainKey(f, key, db.comparator) {
				continue
			}
			value, found, deleted, err := db.getFromFile(f, key, seq)
			if err != nil {
				return nil, err
			}
			if found {
				if deleted {
					return nil, ErrNotFound
				}
				return value, nil
			}
			break // levels > 0 are disjoint: at most one file can match
		}
	}

	return nil, ErrNotFound
}

// fileMayContainKey reports whether key falls within f's [Smallest, Largest]
// user-key range.
func fileMayContainKey(f *manifest.FileMetaData, key []byte, cmp Comparator) bool {
	if len(f.Smallest) > 0 && cmp.Compare(key, dbformat.ExtractUserKey(f.Smallest)) < 0 {
		return false
	}
	if len(f.Largest) > 0 && cmp.Compare(key, dbformat.ExtractUserKey(f.Largest)) > 0 {
		return false
	}
	return true
}

// getFromFile opens f (via the table cache) and looks up key visible as of
// seq, following the same lookup-key-then-scan approach memtable.Get uses.
func (db *DBImpl) getFromFile(f *manifest.FileMetaData, key []byte, seq dbformat.SequenceNumber) (value []byte, found, deleted bool, err error) {
	fileNum := f.FD.GetNumber()
	path := db.sstFilePath(fileNum)

	reader, err := db.tableCache.Get(fileNum, path)
	if err != nil {
		return nil, false, false, err
	}
	defer db.tableCache.Release(fileNum)

	if reader.HasFilter() && !reader.KeyMayMatch(key) {
		return nil, false, false, nil
	}

	lookup := dbformat.AppendInternalKey(nil, &dbformat.ParsedInternalKey{
		UserKey:   key,
		Sequence:  seq,
		Type:      dbformat.ValueTypeForSeek,
	})

	it := reader.NewIterator()
	it.Seek(lookup)
	if !it.Valid() {
		return nil, false, false, nil
	}

	entryKey := it.Key()
	parsed, perr := dbformat.ParseInternalKey(entryKey)
	if perr != nil {
		return nil, false, false, nil
	}
	if db.comparator.Compare(key, parsed.UserKey) != 0 {
		return nil, false, false, nil
	}
	if parsed.Sequence > seq {
		return nil, false, false, nil
	}

	switch parsed.Type {
	case dbformat.TypeValue, dbformat.TypeMerge:
		return append([]byte{}, it.Value()...), true, false, nil
	case dbformat.TypeDeletion, dbformat.TypeSingleDeletion:
		return nil, true, true, nil
	default:
		return nil, false, false, nil
	}
}
