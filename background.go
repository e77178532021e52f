package ledgerkv

// background.go schedules and runs flush and compaction work off the write
// path, and tracks enough state for PauseBackgroundWork/ContinueBackgroundWork
// (db_apis.go) to inspect and toggle.
//
// Reference: RocksDB v10.7.5
//   - db/db_impl/db_impl_compaction_flush.cc
//   - db/db_impl/db_impl_bg.cc

import (
	"fmt"
	"sync"

	"github.com/aalhour/ledgerkv/internal/compaction"
	"github.com/aalhour/ledgerkv/internal/manifest"
	"github.com/aalhour/ledgerkv/internal/testutil"
)

// backgroundWork tracks in-flight flush/compaction activity for a database
// and drives its background worker goroutine.
type backgroundWork struct {
	db *DBImpl

	picker            compaction.CompactionPicker
	maxSubcompactions int
	rateLimiter       RateLimiter

	compactionCh   chan struct{}
	flushCh        chan struct{}
	shutdownCh     chan struct{}
	backgroundDone sync.WaitGroup

	mu                sync.Mutex
	compactionRunning bool
	flushRunning      bool
	backgroundErrors  int
	paused            bool
	pauseCond         *sync.Cond
}

// newBackgroundWork creates a background work tracker wired to opts'
// compaction style, rate limiter and subcompaction budget.
func newBackgroundWork(db *DBImpl, opts *Options) *backgroundWork {
	maxSub := opts.MaxSubcompactions
	if maxSub <= 0 {
		maxSub = 1
	}
	bg := &backgroundWork{
		db:                db,
		picker:            createCompactionPicker(opts),
		maxSubcompactions: maxSub,
		rateLimiter:       opts.RateLimiter,
		compactionCh:      make(chan struct{}, 1),
		flushCh:           make(chan struct{}, 1),
		shutdownCh:        make(chan struct{}),
	}
	bg.pauseCond = sync.NewCond(&bg.mu)
	return bg
}

// compactionFilterAdapter adapts the public CompactionFilter to
// internal/compaction's Filter.
type compactionFilterAdapter struct {
	filter CompactionFilter
}

func (a *compactionFilterAdapter) Name() string { return a.filter.Name() }

func (a *compactionFilterAdapter) Filter(level int, key, value []byte) (compaction.FilterDecision, []byte) {
	decision, newValue := a.filter.Filter(level, key, value)
	switch decision {
	case FilterRemove:
		return compaction.FilterRemove, nil
	case FilterChange:
		return compaction.FilterChange, newValue
	default:
		return compaction.FilterKeep, nil
	}
}

// mergeOperatorAdapter adapts the public MergeOperator to
// internal/compaction's MergeOperator.
type mergeOperatorAdapter struct {
	op MergeOperator
}

func (a *mergeOperatorAdapter) FullMerge(key []byte, existingValue []byte, operands [][]byte) ([]byte, bool) {
	return a.op.FullMerge(key, existingValue, operands)
}

// rateLimiterAdapter adapts the public RateLimiter to
// internal/compaction's RateLimiter.
type rateLimiterAdapter struct {
	limiter RateLimiter
}

func (a *rateLimiterAdapter) Request(bytes int64, priority int) {
	if a.limiter != nil {
		a.limiter.Request(bytes, IOPriority(priority))
	}
}

// createCompactionPicker builds the picker matching opts.CompactionStyle.
func createCompactionPicker(opts *Options) compaction.CompactionPicker {
	switch opts.CompactionStyle {
	case CompactionStyleUniversal:
		var uopts *compaction.UniversalCompactionOptions
		if opts.UniversalCompactionOptions != nil {
			uopts = &compaction.UniversalCompactionOptions{
				SizeRatio:                   opts.UniversalCompactionOptions.SizeRatio,
				MinMergeWidth:               opts.UniversalCompactionOptions.MinMergeWidth,
				MaxMergeWidth:               opts.UniversalCompactionOptions.MaxMergeWidth,
				MaxSizeAmplificationPercent: opts.UniversalCompactionOptions.MaxSizeAmplificationPercent,
				AllowTrivialMove:            opts.UniversalCompactionOptions.AllowTrivialMove,
			}
		}
		return compaction.NewUniversalCompactionPicker(uopts)

	case CompactionStyleFIFO:
		var fopts *compaction.FIFOCompactionOptions
		if opts.FIFOCompactionOptions != nil {
			fopts = &compaction.FIFOCompactionOptions{
				MaxTableFilesSize: opts.FIFOCompactionOptions.MaxTableFilesSize,
				TTL:               opts.FIFOCompactionOptions.TTL,
				AllowCompaction:   opts.FIFOCompactionOptions.AllowCompaction,
			}
		}
		return compaction.NewFIFOCompactionPicker(fopts)

	default:
		picker := compaction.DefaultLeveledCompactionPicker()
		if opts.Level0FileNumCompactionTrigger > 0 {
			picker.L0CompactionTrigger = opts.Level0FileNumCompactionTrigger
		}
		if opts.MaxBytesForLevelBase > 0 {
			picker.MaxBytesForLevelBase = uint64(opts.MaxBytesForLevelBase)
		}
		return picker
	}
}

// start launches the background worker goroutine.
func (bg *backgroundWork) start() {
	bg.backgroundDone.Add(1)
	go bg.backgroundLoop()
}

// stop shuts the background worker down and waits for it to exit.
func (bg *backgroundWork) stop() {
	close(bg.shutdownCh)
	bg.backgroundDone.Wait()
}

// pause marks background work as paused. Already-running jobs are not
// interrupted; only future scheduling is suppressed.
func (bg *backgroundWork) pause() {
	bg.mu.Lock()
	defer bg.mu.Unlock()
	bg.paused = true
}

// resume clears the paused flag set by pause.
func (bg *backgroundWork) resume() {
	bg.mu.Lock()
	defer bg.mu.Unlock()
	bg.paused = false
	bg.pauseCond.Broadcast()
}

// isPaused reports whether background work is currently paused.
func (bg *backgroundWork) isPaused() bool {
	bg.mu.Lock()
	defer bg.mu.Unlock()
	return bg.paused
}

// waitIfPaused blocks the calling background worker while paused is set.
func (bg *backgroundWork) waitIfPaused() {
	bg.mu.Lock()
	for bg.paused {
		bg.pauseCond.Wait()
	}
	bg.mu.Unlock()
}

// maybeScheduleCompaction signals that compaction may be needed, coalescing
// with any already-pending signal.
func (bg *backgroundWork) maybeScheduleCompaction() {
	select {
	case bg.compactionCh <- struct{}{}:
	default:
	}
}

// maybeScheduleFlush signals that a flush may be needed, coalescing with any
// already-pending signal.
func (bg *backgroundWork) maybeScheduleFlush() {
	select {
	case bg.flushCh <- struct{}{}:
	default:
	}
}

func (bg *backgroundWork) backgroundLoop() {
	defer bg.backgroundDone.Done()

	for {
		select {
		case <-bg.shutdownCh:
			return
		case <-bg.flushCh:
			bg.waitIfPaused()
			bg.doFlushWork()
		case <-bg.compactionCh:
			bg.waitIfPaused()
			bg.doCompactionWork()
		}
	}
}

func (bg *backgroundWork) doFlushWork() {
	_ = testutil.SP(testutil.SPBGFlushStart)

	bg.mu.Lock()
	if bg.flushRunning {
		bg.mu.Unlock()
		return
	}
	bg.flushRunning = true
	bg.mu.Unlock()

	defer func() {
		bg.mu.Lock()
		bg.flushRunning = false
		bg.mu.Unlock()
	}()

	bg.db.mu.Lock()
	needsFlush := bg.db.imm != nil
	bg.db.mu.Unlock()
	if !needsFlush {
		return
	}

	_ = testutil.SP(testutil.SPBGFlushExecute)

	if err := bg.db.Flush(nil); err != nil {
		bg.db.SetBackgroundError(err)
		bg.incrementBackgroundErrors()
	}

	_ = testutil.SP(testutil.SPBGFlushComplete)

	bg.maybeScheduleCompaction()
}

func (bg *backgroundWork) doCompactionWork() {
	_ = testutil.SP(testutil.SPBGCompactionStart)

	bg.mu.Lock()
	if bg.compactionRunning {
		bg.mu.Unlock()
		return
	}
	bg.compactionRunning = true
	bg.mu.Unlock()

	defer func() {
		bg.mu.Lock()
		bg.compactionRunning = false
		bg.mu.Unlock()
	}()

	bg.db.mu.RLock()
	v := bg.db.versions.Current()
	if v != nil {
		v.Ref()
	}
	bg.db.mu.RUnlock()
	if v == nil {
		return
	}
	defer v.Unref()

	if !bg.picker.NeedsCompaction(v) {
		return
	}

	bg.db.mu.Lock()
	c := bg.picker.PickCompaction(v)
	if c == nil {
		bg.db.mu.Unlock()
		return
	}
	c.MarkFilesBeingCompacted(true)
	bg.db.mu.Unlock()

	_ = testutil.SP(testutil.SPBGCompactionPickComplete)

	defer func() {
		bg.db.mu.Lock()
		c.MarkFilesBeingCompacted(false)
		bg.db.mu.Unlock()
	}()

	_ = testutil.SP(testutil.SPBGCompactionExecute)
	testutil.MaybeKill(testutil.KPCompactionStart0)

	if err := bg.executeCompaction(c); err != nil {
		bg.db.SetBackgroundError(err)
		bg.incrementBackgroundErrors()
		return
	}

	_ = testutil.SP(testutil.SPBGCompactionComplete)

	bg.maybeScheduleCompaction()
}

func (bg *backgroundWork) executeCompaction(c *compaction.Compaction) error {
	if c.IsDeletionCompaction {
		return bg.executeDeletionCompaction(c)
	}

	bg.db.mu.Lock()
	dbPath := bg.db.name
	fs := bg.db.fs
	tableCache := bg.db.tableCache
	versions := bg.db.versions

	for _, input := range c.Inputs {
		for _, f := range input.Files {
			path := fmt.Sprintf("%s/%06d.sst", dbPath, f.FD.GetNumber())
			if !fs.Exists(path) {
				bg.db.mu.Unlock()
				return fmt.Errorf("db: input file %d no longer exists", f.FD.GetNumber())
			}
		}
	}
	bg.db.mu.Unlock()

	nextFileNum := func() uint64 { return versions.NextFileNumber() }

	var outputFiles []*manifest.FileMetaData
	var err error

	var rl compaction.RateLimiter
	if bg.rateLimiter != nil {
		rl = &rateLimiterAdapter{limiter: bg.rateLimiter}
	}

	var compFilter compaction.Filter
	if bg.db.options.CompactionFilterFactory != nil {
		isFull := len(c.Inputs) > 1 && c.OutputLevel > 1
		ctx := CompactionFilterContext{IsFull: isFull, IsManual: false, ColumnFamilyID: 0}
		filter := bg.db.options.CompactionFilterFactory.CreateCompactionFilter(ctx)
		compFilter = &compactionFilterAdapter{filter: filter}
	} else if bg.db.options.CompactionFilter != nil {
		compFilter = &compactionFilterAdapter{filter: bg.db.options.CompactionFilter}
	}

	var mergeOp compaction.MergeOperator
	if bg.db.options.MergeOperator != nil {
		mergeOp = &mergeOperatorAdapter{op: bg.db.options.MergeOperator}
	}

	if bg.maxSubcompactions > 1 && c.NumInputFiles() >= 4 {
		parallelJob := compaction.NewParallelCompactionJob(c, dbPath, fs, tableCache, nextFileNum, bg.maxSubcompactions)
		if mergeOp != nil {
			parallelJob.SetMergeOperator(mergeOp)
		}
		outputFiles, err = parallelJob.Run()
	} else {
		job := compaction.NewCompactionJobWithRateLimiter(c, dbPath, fs, tableCache, nextFileNum, 0, rl)
		if compFilter != nil {
			job.SetFilter(compFilter)
		}
		if mergeOp != nil {
			job.SetMergeOperator(mergeOp)
		}
		outputFiles, err = job.Run()
	}
	if err != nil {
		return err
	}

	testutil.MaybeKill(testutil.KPCompactionWriteSST0)
	testutil.MaybeKill(testutil.KPCompactionDeleteInput0)

	c.AddInputDeletions()

	bg.db.mu.Lock()
	defer bg.db.mu.Unlock()

	if err := versions.LogAndApply(c.Edit); err != nil {
		return err
	}
	bg.db.recalculateWriteStall()

	for _, input := range c.Inputs {
		for _, f := range input.Files {
			tableCache.Evict(f.FD.GetNumber())
		}
	}

	_ = len(outputFiles)
	return nil
}

func (bg *backgroundWork) executeDeletionCompaction(c *compaction.Compaction) error {
	bg.db.mu.Lock()
	defer bg.db.mu.Unlock()

	tableCache := bg.db.tableCache
	versions := bg.db.versions

	c.AddInputDeletions()
	if err := versions.LogAndApply(c.Edit); err != nil {
		return err
	}

	for _, input := range c.Inputs {
		for _, f := range input.Files {
			tableCache.Evict(f.FD.GetNumber())
		}
	}
	return nil
}

// isCompactionPending reports whether a compaction has been signaled but has
// not started running yet.
func (bg *backgroundWork) isCompactionPending() bool {
	select {
	case <-bg.compactionCh:
		select {
		case bg.compactionCh <- struct{}{}:
		default:
		}
		return true
	default:
		return false
	}
}

func (bg *backgroundWork) numRunningFlushes() int {
	bg.mu.Lock()
	defer bg.mu.Unlock()
	if bg.flushRunning {
		return 1
	}
	return 0
}

func (bg *backgroundWork) numRunningCompactions() int {
	bg.mu.Lock()
	defer bg.mu.Unlock()
	if bg.compactionRunning {
		return 1
	}
	return 0
}

func (bg *backgroundWork) numBackgroundErrors() int {
	bg.mu.Lock()
	defer bg.mu.Unlock()
	return bg.backgroundErrors
}

func (bg *backgroundWork) incrementBackgroundErrors() {
	bg.mu.Lock()
	defer bg.mu.Unlock()
	bg.backgroundErrors++
}
