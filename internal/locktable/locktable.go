// Package locktable is the authoritative owner of per-page lock state: it
// decides whether a (transaction, page, mode) request can be granted,
// detects deadlocks by waits-for cycle checking before a requester blocks,
// and releases locks on transaction completion. This is one of the three
// hard-core packages (with internal/pagecache and internal/buffer) that
// this module exists to get right.
package locktable

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/gopherdb/txndb/internal/dberrors"
	"github.com/gopherdb/txndb/internal/page"
)

// TxnID is an opaque, unique identifier for an active transaction. Only
// equality and use as a map key are required of it.
type TxnID int64

var txnCounter atomic.Int64

// NewTxnID mints a fresh, process-unique transaction identifier.
func NewTxnID() TxnID {
	return TxnID(txnCounter.Add(1))
}

// Outcome is the result of an Acquire call.
type Outcome int

const (
	Granted Outcome = iota
	Aborted
)

// LockTable serializes every lock decision through a single mutex, exactly
// as the source this is grounded on does. A condition variable broadcasts on
// every release; waiters re-evaluate compatibility from scratch on wake,
// which makes spurious wakeups harmless.
type LockTable struct {
	mu   sync.Mutex
	cond *sync.Cond

	sharedHolders   map[page.ID]map[TxnID]struct{}
	exclusiveHolder map[page.ID]TxnID
	waitsFor        map[TxnID]map[TxnID]struct{}
}

func New() *LockTable {
	lt := &LockTable{
		sharedHolders:   make(map[page.ID]map[TxnID]struct{}),
		exclusiveHolder: make(map[page.ID]TxnID),
		waitsFor:        make(map[TxnID]map[TxnID]struct{}),
	}
	lt.cond = sync.NewCond(&lt.mu)
	return lt
}

// Acquire blocks the caller until pid/mode is granted to tid, or returns
// Aborted immediately when granting the request would close a waits-for
// cycle. ctx cancellation is mapped to Aborted as well -- there is no
// wall-clock timeout in this design, but an interrupted wait is treated the
// same as a detected deadlock by the caller.
func (lt *LockTable) Acquire(ctx context.Context, pid page.ID, tid TxnID, perm page.Permission) (Outcome, error) {
	lt.mu.Lock()
	defer lt.mu.Unlock()

	// Wake this waiter if ctx is cancelled while it is blocked on lt.cond.
	if ctx != nil && ctx.Done() != nil {
		stop := make(chan struct{})
		defer close(stop)
		go func() {
			select {
			case <-ctx.Done():
				lt.mu.Lock()
				lt.cond.Broadcast()
				lt.mu.Unlock()
			case <-stop:
			}
		}()
	}

	for {
		if ctx != nil {
			if err := ctx.Err(); err != nil {
				delete(lt.waitsFor, tid)
				return Aborted, dberrors.Wrap(dberrors.TxnAborted, "lock wait interrupted", err)
			}
		}

		holders, conflict := lt.conflictingHolders(pid, tid, perm)
		if !conflict {
			lt.grant(pid, tid, perm)
			delete(lt.waitsFor, tid)
			return Granted, nil
		}

		lt.waitsFor[tid] = holders
		if lt.hasCycle(tid) {
			delete(lt.waitsFor, tid)
			return Aborted, dberrors.New(dberrors.TxnAborted, "deadlock detected")
		}

		lt.cond.Wait()
	}
}

// conflictingHolders returns the set of transactions tid would have to wait
// on to acquire perm on pid, and whether such a conflict exists at all.
func (lt *LockTable) conflictingHolders(pid page.ID, tid TxnID, perm page.Permission) (map[TxnID]struct{}, bool) {
	excl, hasExcl := lt.exclusiveHolder[pid]
	shared := lt.sharedHolders[pid]

	switch perm {
	case page.ReadOnly:
		if !hasExcl || excl == tid {
			return nil, false
		}
		return map[TxnID]struct{}{excl: {}}, true

	case page.ReadWrite:
		if hasExcl && excl == tid {
			return nil, false
		}
		if !hasExcl && len(shared) == 0 {
			return nil, false
		}
		if !hasExcl && len(shared) == 1 {
			if _, onlyTid := shared[tid]; onlyTid {
				return nil, false
			}
		}
		holders := make(map[TxnID]struct{}, len(shared)+1)
		for h := range shared {
			if h != tid {
				holders[h] = struct{}{}
			}
		}
		if hasExcl {
			holders[excl] = struct{}{}
		}
		return holders, true
	}
	return nil, false
}

// grant records pid/perm as held by tid. A ReadWrite grant clears only the
// shared holders of this specific page (not the whole lock table -- the
// source this module is grounded on clears every page's shared holders on
// any exclusive grant, which forgets unrelated locks on other pages; this
// implementation fixes that).
func (lt *LockTable) grant(pid page.ID, tid TxnID, perm page.Permission) {
	switch perm {
	case page.ReadOnly:
		if lt.sharedHolders[pid] == nil {
			lt.sharedHolders[pid] = make(map[TxnID]struct{})
		}
		lt.sharedHolders[pid][tid] = struct{}{}
	case page.ReadWrite:
		delete(lt.sharedHolders, pid)
		lt.exclusiveHolder[pid] = tid
	}
}

// hasCycle runs a DFS over waitsFor starting at tid; revisiting any node
// already seen on the current path (including tid itself, reached via a
// non-empty path) means granting the wait would deadlock. Self-edges -- tid
// waiting on itself, which can happen if tid is in the shared set while
// requesting an upgrade -- are ignored, since conflictingHolders never
// includes tid among the returned holders.
func (lt *LockTable) hasCycle(start TxnID) bool {
	onPath := make(map[TxnID]bool)
	visited := make(map[TxnID]bool)

	var dfs func(tid TxnID) bool
	dfs = func(tid TxnID) bool {
		onPath[tid] = true
		visited[tid] = true
		for next := range lt.waitsFor[tid] {
			if onPath[next] {
				return true
			}
			if !visited[next] && dfs(next) {
				return true
			}
		}
		onPath[tid] = false
		return false
	}

	return dfs(start)
}

// Release removes tid from whichever of the shared set or exclusive slot it
// occupies for pid. It is idempotent and never fails.
func (lt *LockTable) Release(pid page.ID, tid TxnID) {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	lt.releaseLocked(pid, tid)
	lt.cond.Broadcast()
}

func (lt *LockTable) releaseLocked(pid page.ID, tid TxnID) {
	if holder, ok := lt.exclusiveHolder[pid]; ok && holder == tid {
		delete(lt.exclusiveHolder, pid)
	}
	if shared, ok := lt.sharedHolders[pid]; ok {
		delete(shared, tid)
		if len(shared) == 0 {
			delete(lt.sharedHolders, pid)
		}
	}
}

// ReleaseAll removes tid from every page's lock state and clears its
// waits-for edges. This is the entire two-phase-locking shrinking phase for
// tid; callers invoke it exactly once, at commit or abort.
func (lt *LockTable) ReleaseAll(tid TxnID) {
	lt.mu.Lock()
	defer lt.mu.Unlock()

	for pid, holder := range lt.exclusiveHolder {
		if holder == tid {
			delete(lt.exclusiveHolder, pid)
		}
	}
	for pid, shared := range lt.sharedHolders {
		delete(shared, tid)
		if len(shared) == 0 {
			delete(lt.sharedHolders, pid)
		}
	}
	delete(lt.waitsFor, tid)
	for _, waiting := range lt.waitsFor {
		delete(waiting, tid)
	}
	lt.cond.Broadcast()
}

// Holds reports whether tid currently holds any lock (shared or exclusive)
// on pid.
func (lt *LockTable) Holds(pid page.ID, tid TxnID) bool {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	if holder, ok := lt.exclusiveHolder[pid]; ok && holder == tid {
		return true
	}
	_, ok := lt.sharedHolders[pid][tid]
	return ok
}

// AnyLock reports whether any transaction holds a lock (shared or
// exclusive) on pid. It is used by the page cache's eviction scan: a clean
// page that is still locked must not be evicted, or a new reader on the same
// PageId could bypass the lock already held.
func (lt *LockTable) AnyLock(pid page.ID) bool {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	if _, ok := lt.exclusiveHolder[pid]; ok {
		return true
	}
	return len(lt.sharedHolders[pid]) > 0
}
