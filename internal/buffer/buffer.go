// Package buffer implements the BufferPool facade: the single place reads
// and writes against on-disk pages are mediated, two-phase locking is
// enforced, and commit/abort are made atomic from the caller's perspective
// even though the underlying page store offers no atomicity of its own.
// This is the hard core of the engine, composing internal/locktable and
// internal/pagecache over whatever DBFile the caller supplies.
package buffer

import (
	"context"
	"errors"
	"sync"

	"github.com/gopherdb/txndb/internal/dberrors"
	"github.com/gopherdb/txndb/internal/dblog"
	"github.com/gopherdb/txndb/internal/locktable"
	"github.com/gopherdb/txndb/internal/page"
	"github.com/gopherdb/txndb/internal/pagecache"
)

// TxnID re-exports locktable.TxnID so callers need not import locktable
// directly just to hold a transaction handle.
type TxnID = locktable.TxnID

// NewTxnID mints a fresh transaction identifier.
func NewTxnID() TxnID { return locktable.NewTxnID() }

// DBFile is implemented by table storage (internal/heap.HeapFile is the only
// implementation in this module). It is the "external collaborator" the
// buffer pool delegates actual page I/O and serialization to.
type DBFile interface {
	// ReadPage reads and deserializes the given page number.
	ReadPage(pageNo int) (page.Page, error)
	// FlushPage serializes p and writes it back to its backing store.
	FlushPage(p page.Page) error
	// PageKey returns the cache/lock identity for a page number of this
	// file.
	PageKey(pageNo int) page.ID
}

// Config configures a BufferPool.
type Config struct {
	// Capacity is the maximum number of resident pages. Default 50.
	Capacity int
}

func DefaultConfig() Config {
	return Config{Capacity: 50}
}

// BufferPool is the façade described in package buffer's doc comment. It
// composes a LockTable, a page Cache, and whatever DBFiles callers pass to
// GetPage. It has no InsertTuple/DeleteTuple of its own: a DBFile changes
// tuples on pages it obtained through GetPage and then reports the change
// with MarkDirty.
type BufferPool struct {
	locks *locktable.LockTable
	cache *pagecache.Cache

	// fillMu makes the check-evict-read-insert sequence in GetPage atomic.
	// Without it, two transactions faulting in distinct missing pages could
	// both observe the cache as not-yet-full, both skip eviction, and both
	// insert -- pushing residency past capacity.
	fillMu sync.Mutex

	txnsMu sync.Mutex
	txns   map[TxnID]struct{}
}

func NewBufferPool(cfg Config) *BufferPool {
	if cfg.Capacity <= 0 {
		cfg = DefaultConfig()
	}
	lt := locktable.New()
	bp := &BufferPool{
		locks: lt,
		txns:  make(map[TxnID]struct{}),
	}
	bp.cache = pagecache.New(cfg.Capacity, lt)
	return bp
}

// BeginTransaction registers tid as active. Returns an error if tid is
// already running.
func (bp *BufferPool) BeginTransaction(tid TxnID) error {
	bp.txnsMu.Lock()
	defer bp.txnsMu.Unlock()
	if _, alive := bp.txns[tid]; alive {
		return dberrors.New(dberrors.BadInput, "transaction already running")
	}
	bp.txns[tid] = struct{}{}
	return nil
}

func (bp *BufferPool) isActive(tid TxnID) bool {
	bp.txnsMu.Lock()
	defer bp.txnsMu.Unlock()
	_, ok := bp.txns[tid]
	return ok
}

// GetPage retrieves pageNo from file on behalf of tid, acquiring perm first.
// If the page is not cached, it is read from the DBFile, evicting a victim
// first if the cache is full. The returned handle aliases the cache entry;
// callers must not retain it across other BufferPool calls that could evict
// it (see DESIGN.md).
func (bp *BufferPool) GetPage(tid TxnID, file DBFile, pageNo int, perm page.Permission) (page.Page, error) {
	if !bp.isActive(tid) {
		return nil, dberrors.New(dberrors.BadInput, "invalid or completed transaction")
	}

	pid := file.PageKey(pageNo)

	outcome, err := bp.locks.Acquire(context.Background(), pid, tid, perm)
	if err != nil || outcome == locktable.Aborted {
		if err == nil {
			err = dberrors.New(dberrors.TxnAborted, "deadlock detected")
		}
		dblog.L().Debug().
			Int64("tid", int64(tid)).
			Int("table", pid.TableID).
			Int("page", pid.PageNo).
			Err(err).
			Msg("lock acquire aborted")
		return nil, err
	}

	bp.fillMu.Lock()
	defer bp.fillMu.Unlock()

	if entry, ok := bp.cache.Get(pid); ok {
		return entry.P, nil
	}

	if bp.cache.Len() >= bp.capacity() {
		if _, err := bp.cache.EvictOne(); err != nil {
			return nil, err
		}
	}

	p, err := file.ReadPage(pageNo)
	if err != nil {
		return nil, err
	}
	bp.cache.Put(pid, &pagecache.Entry{ID: pid, P: p, File: file})
	return p, nil
}

func (bp *BufferPool) capacity() int {
	return bp.cache.Capacity()
}

// MarkDirty marks the cached page identified by file/pageNo as dirtied by
// tid and moves it to the MRU end of the eviction order. DBFile
// implementations call this after a successful insert/delete mutates a
// page's in-memory contents -- the buffer pool, not the page object, is the
// authority on which transaction owns a dirty page, since that ownership
// drives commit (force) and abort (discard) below.
func (bp *BufferPool) MarkDirty(tid TxnID, file DBFile, pageNo int) error {
	pid := file.PageKey(pageNo)
	entry, ok := bp.cache.Get(pid)
	if !ok {
		return dberrors.New(dberrors.BadInput, "page not resident; call GetPage first")
	}
	entry.P.SetDirty(true)
	t := tid
	entry.DirtyBy = &t
	entry.File = file
	bp.cache.Put(pid, entry)
	return nil
}

// UnsafeRelease forwards to LockTable.Release. Named "unsafe" because it
// violates strict two-phase locking if misused outside of its one sanctioned
// caller: a HeapFile's insert scan, which releases the ReadOnly lock on each
// full page it passes over before trying the next one.
func (bp *BufferPool) UnsafeRelease(tid TxnID, file DBFile, pageNo int) {
	bp.locks.Release(file.PageKey(pageNo), tid)
}

// HoldsLock delegates to the LockTable.
func (bp *BufferPool) HoldsLock(tid TxnID, file DBFile, pageNo int) bool {
	return bp.locks.Holds(file.PageKey(pageNo), tid)
}

// CommitTransaction implements the FORCE half of complete_transaction: every
// page tid dirtied is written to its backing DBFile and marked clean, then
// every lock tid holds is released. Locks are released even if a page write
// fails partway through -- callers must still be able to retry or abort a
// different transaction without being blocked by this one's locks.
func (bp *BufferPool) CommitTransaction(tid TxnID) error {
	var errs []error
	for _, entry := range bp.cache.Snapshot() {
		if entry.DirtyBy == nil || *entry.DirtyBy != tid {
			continue
		}
		if entry.File == nil {
			errs = append(errs, dberrors.New(dberrors.BadInput, "dirty page has no backing file"))
			continue
		}
		if err := entry.File.FlushPage(entry.P); err != nil {
			errs = append(errs, err)
			continue
		}
		entry.P.SetDirty(false)
		entry.DirtyBy = nil
	}
	bp.locks.ReleaseAll(tid)
	bp.forgetTxn(tid)
	err := errors.Join(errs...)
	dblog.L().Debug().Int64("tid", int64(tid)).Err(err).Msg("transaction committed")
	return err
}

// AbortTransaction implements the discard half of complete_transaction:
// every page tid dirtied is replaced in the cache by a fresh read from the
// backing DBFile (undoing tid's writes without ever having let them reach
// disk, since this is a NO STEAL pool), then every lock tid holds is
// released. The replacement is a new cache entry holding a new page object;
// a page handle obtained from GetPage before the abort is not updated and
// still holds the aborted contents.
func (bp *BufferPool) AbortTransaction(tid TxnID) error {
	var errs []error
	for _, entry := range bp.cache.Snapshot() {
		if entry.DirtyBy == nil || *entry.DirtyBy != tid {
			continue
		}
		if entry.File == nil {
			errs = append(errs, dberrors.New(dberrors.BadInput, "dirty page has no backing file"))
			continue
		}
		fresh, err := entry.File.ReadPage(entry.ID.PageNo)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		bp.cache.Put(entry.ID, &pagecache.Entry{ID: entry.ID, P: fresh, File: entry.File})
	}
	bp.locks.ReleaseAll(tid)
	bp.forgetTxn(tid)
	err := errors.Join(errs...)
	dblog.L().Debug().Int64("tid", int64(tid)).Err(err).Msg("transaction aborted")
	return err
}

// FlushAll writes every dirty page to disk regardless of owning
// transaction, then marks them clean. This is for administrative use only
// (e.g. a clean shutdown): it violates NO STEAL if called while transactions
// are still live, and is never invoked on the hot path.
func (bp *BufferPool) FlushAll() error {
	var errs []error
	for _, entry := range bp.cache.Snapshot() {
		if !entry.P.IsDirty() {
			continue
		}
		if entry.File == nil {
			errs = append(errs, dberrors.New(dberrors.BadInput, "dirty page has no backing file"))
			continue
		}
		if err := entry.File.FlushPage(entry.P); err != nil {
			errs = append(errs, err)
			continue
		}
		entry.P.SetDirty(false)
		entry.DirtyBy = nil
	}
	return errors.Join(errs...)
}

// DiscardPage removes pid from the cache without flushing it. Used by an
// external recovery manager or by table-page reuse.
func (bp *BufferPool) DiscardPage(file DBFile, pageNo int) {
	bp.cache.Remove(file.PageKey(pageNo))
}

func (bp *BufferPool) forgetTxn(tid TxnID) {
	bp.txnsMu.Lock()
	defer bp.txnsMu.Unlock()
	delete(bp.txns, tid)
}
