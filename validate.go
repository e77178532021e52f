package ledgerkv

// validate.go rejects self-contradictory Options combinations before Open
// commits to opening (or creating) a database directory.
//
// Reference: RocksDB v10.7.5 db/db_impl/db_impl_open.cc (DBImpl::ValidateOptions)

import (
	"errors"
	"fmt"
)

// ErrInvalidOptions wraps every validation failure produced by validateOptions.
var ErrInvalidOptions = errors.New("db: invalid options")

// validateOptions rejects option combinations that are individually
// sanitized but mutually incompatible.
func validateOptions(opts *Options) error {
	if len(opts.DBPaths) > 4 {
		return fmt.Errorf("%w: db_paths.size() > 4 is not supported yet", ErrInvalidOptions)
	}

	if opts.AllowMmapReads && opts.UseDirectReads {
		return fmt.Errorf("%w: AllowMmapReads and UseDirectReads cannot both be set", ErrInvalidOptions)
	}
	if opts.AllowMmapWrites && opts.UseDirectIOForFlushAndCompaction {
		return fmt.Errorf("%w: AllowMmapWrites and UseDirectIOForFlushAndCompaction cannot both be set", ErrInvalidOptions)
	}

	if opts.KeepLogFileNum == 0 {
		return fmt.Errorf("%w: KeepLogFileNum must be greater than 0", ErrInvalidOptions)
	}

	if opts.UnorderedWrite {
		if opts.Allow2PC {
			return fmt.Errorf("%w: UnorderedWrite is not compatible with Allow2PC", ErrInvalidOptions)
		}
		if opts.EnablePipelinedWrite {
			return fmt.Errorf("%w: UnorderedWrite is not compatible with EnablePipelinedWrite", ErrInvalidOptions)
		}
		if !opts.AllowConcurrentMemtableWrite {
			return fmt.Errorf("%w: UnorderedWrite requires AllowConcurrentMemtableWrite", ErrInvalidOptions)
		}
	}

	if opts.AtomicFlush && opts.EnablePipelinedWrite {
		return fmt.Errorf("%w: AtomicFlush is not compatible with EnablePipelinedWrite", ErrInvalidOptions)
	}

	return nil
}
