package locktable

import (
	"context"
	"testing"
	"time"

	"github.com/gopherdb/txndb/internal/page"
)

func mustGrant(t *testing.T, lt *LockTable, pid page.ID, tid TxnID, perm page.Permission) {
	t.Helper()
	outcome, err := lt.Acquire(context.Background(), pid, tid, perm)
	if err != nil || outcome != Granted {
		t.Fatalf("expected grant for tid %d, got outcome=%v err=%v", tid, outcome, err)
	}
}

// S1: two readers can hold ReadOnly on the same page simultaneously.
func TestSharedCompatibility(t *testing.T) {
	lt := New()
	p := page.ID{TableID: 1, PageNo: 1}
	t1, t2 := NewTxnID(), NewTxnID()

	mustGrant(t, lt, p, t1, page.ReadOnly)
	mustGrant(t, lt, p, t2, page.ReadOnly)

	if !lt.Holds(p, t1) || !lt.Holds(p, t2) {
		t.Fatalf("both readers should hold the lock")
	}
}

// S2: a writer blocks a reader, and the reader proceeds only after release.
func TestWriterBlocksReader(t *testing.T) {
	lt := New()
	p := page.ID{TableID: 1, PageNo: 1}
	writer, reader := NewTxnID(), NewTxnID()

	mustGrant(t, lt, p, writer, page.ReadWrite)

	readerDone := make(chan Outcome, 1)
	go func() {
		outcome, _ := lt.Acquire(context.Background(), p, reader, page.ReadOnly)
		readerDone <- outcome
	}()

	select {
	case <-readerDone:
		t.Fatalf("reader should have blocked while writer holds the page")
	case <-time.After(50 * time.Millisecond):
	}

	lt.Release(p, writer)

	select {
	case outcome := <-readerDone:
		if outcome != Granted {
			t.Fatalf("expected reader to be granted after release, got %v", outcome)
		}
	case <-time.After(time.Second):
		t.Fatalf("reader never unblocked after writer released")
	}
}

// S3: simple two-page deadlock. T1 holds P1 wants P2; T2 holds P2 wants P1.
// The second requester (T2) must abort immediately; T1 proceeds.
func TestSimpleDeadlockAbortsRequester(t *testing.T) {
	lt := New()
	p1 := page.ID{TableID: 1, PageNo: 1}
	p2 := page.ID{TableID: 1, PageNo: 2}
	t1, t2 := NewTxnID(), NewTxnID()

	mustGrant(t, lt, p1, t1, page.ReadWrite)
	mustGrant(t, lt, p2, t2, page.ReadWrite)

	t1Blocked := make(chan Outcome, 1)
	go func() {
		outcome, _ := lt.Acquire(context.Background(), p2, t1, page.ReadWrite)
		t1Blocked <- outcome
	}()

	// Give T1 a moment to register its wait on T2.
	time.Sleep(50 * time.Millisecond)

	outcome, err := lt.Acquire(context.Background(), p1, t2, page.ReadWrite)
	if err == nil || outcome != Aborted {
		t.Fatalf("expected T2 to be aborted closing the cycle, got outcome=%v err=%v", outcome, err)
	}

	// T2 backs off: release whatever it held so T1 can make progress.
	lt.ReleaseAll(t2)

	select {
	case outcome := <-t1Blocked:
		if outcome != Granted {
			t.Fatalf("expected T1 to eventually be granted P2, got %v", outcome)
		}
	case <-time.After(time.Second):
		t.Fatalf("T1 never made progress after T2 backed off")
	}
}

// S4: upgrade deadlock. Two readers of the same page both try to upgrade to
// a writer lock; the later requester must be the one aborted.
func TestUpgradeDeadlockAbortsLaterRequester(t *testing.T) {
	lt := New()
	p := page.ID{TableID: 1, PageNo: 1}
	t1, t2 := NewTxnID(), NewTxnID()

	mustGrant(t, lt, p, t1, page.ReadOnly)
	mustGrant(t, lt, p, t2, page.ReadOnly)

	t1Blocked := make(chan Outcome, 1)
	go func() {
		outcome, _ := lt.Acquire(context.Background(), p, t1, page.ReadWrite)
		t1Blocked <- outcome
	}()
	time.Sleep(50 * time.Millisecond)

	outcome, err := lt.Acquire(context.Background(), p, t2, page.ReadWrite)
	if err == nil || outcome != Aborted {
		t.Fatalf("expected later requester T2 to abort, got outcome=%v err=%v", outcome, err)
	}

	lt.ReleaseAll(t2)

	select {
	case outcome := <-t1Blocked:
		if outcome != Granted {
			t.Fatalf("expected T1 to be granted the upgrade, got %v", outcome)
		}
	case <-time.After(time.Second):
		t.Fatalf("T1 never completed its upgrade")
	}
}

func TestReleaseAllClearsLocksAndWaits(t *testing.T) {
	lt := New()
	p1 := page.ID{TableID: 1, PageNo: 1}
	p2 := page.ID{TableID: 1, PageNo: 2}
	tid := NewTxnID()

	mustGrant(t, lt, p1, tid, page.ReadWrite)
	mustGrant(t, lt, p2, tid, page.ReadOnly)

	lt.ReleaseAll(tid)

	if lt.Holds(p1, tid) || lt.Holds(p2, tid) {
		t.Fatalf("ReleaseAll should drop every lock held by tid")
	}
	if lt.AnyLock(p1) || lt.AnyLock(p2) {
		t.Fatalf("no other transaction should hold these pages")
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	lt := New()
	p := page.ID{TableID: 1, PageNo: 1}
	tid := NewTxnID()

	lt.Release(p, tid)
	lt.Release(p, tid)

	mustGrant(t, lt, p, tid, page.ReadWrite)
	lt.Release(p, tid)
	lt.Release(p, tid)

	if lt.Holds(p, tid) {
		t.Fatalf("tid should not hold the lock after release")
	}
}

func TestAcquireRespectsContextCancellation(t *testing.T) {
	lt := New()
	p := page.ID{TableID: 1, PageNo: 1}
	writer, reader := NewTxnID(), NewTxnID()

	mustGrant(t, lt, p, writer, page.ReadWrite)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan Outcome, 1)
	go func() {
		outcome, _ := lt.Acquire(ctx, p, reader, page.ReadOnly)
		done <- outcome
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case outcome := <-done:
		if outcome != Aborted {
			t.Fatalf("expected Aborted after cancellation, got %v", outcome)
		}
	case <-time.After(time.Second):
		t.Fatalf("Acquire did not return after ctx cancellation")
	}
}
