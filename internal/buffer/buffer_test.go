package buffer

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/d4l3k/messagediff"

	"github.com/gopherdb/txndb/internal/page"
)

// fakePage and fakeFile are a minimal in-memory DBFile used to exercise the
// buffer pool in isolation, without depending on internal/heap.

type fakePage struct {
	id    page.ID
	bytes []byte
	dirty bool
}

func (p *fakePage) ID() page.ID         { return p.id }
func (p *fakePage) IsDirty() bool       { return p.dirty }
func (p *fakePage) SetDirty(dirty bool) { p.dirty = dirty }
func (p *fakePage) ToBuffer() (*bytes.Buffer, error) {
	return bytes.NewBuffer(append([]byte(nil), p.bytes...)), nil
}

type fakeFile struct {
	tableID int

	mu      sync.Mutex
	disk    map[int][]byte
	reads   int
	writes  int
}

func newFakeFile(tableID int) *fakeFile {
	return &fakeFile{tableID: tableID, disk: make(map[int][]byte)}
}

func (f *fakeFile) PageKey(pageNo int) page.ID {
	return page.ID{TableID: f.tableID, PageNo: pageNo}
}

func (f *fakeFile) ReadPage(pageNo int) (page.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	buf := append([]byte(nil), f.disk[pageNo]...)
	return &fakePage{id: f.PageKey(pageNo), bytes: buf}, nil
}

func (f *fakeFile) FlushPage(p page.Page) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes++
	fp := p.(*fakePage)
	f.disk[fp.id.PageNo] = append([]byte(nil), fp.bytes...)
	return nil
}

func (f *fakeFile) diskBytes(pageNo int) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]byte(nil), f.disk[pageNo]...)
}

// write simulates a caller mutating a page's bytes after GetPage(ReadWrite),
// then tells the buffer pool about the dirtying, mirroring what
// internal/heap's insert/delete paths do.
func write(t *testing.T, bp *BufferPool, tid TxnID, file *fakeFile, pageNo int, data string) {
	t.Helper()
	p, err := bp.GetPage(tid, file, pageNo, page.ReadWrite)
	if err != nil {
		t.Fatalf("GetPage(ReadWrite) failed: %v", err)
	}
	p.(*fakePage).bytes = []byte(data)
	if err := bp.MarkDirty(tid, file, pageNo); err != nil {
		t.Fatalf("MarkDirty failed: %v", err)
	}
}

func beginTxn(t *testing.T, bp *BufferPool) TxnID {
	t.Helper()
	tid := NewTxnID()
	if err := bp.BeginTransaction(tid); err != nil {
		t.Fatalf("BeginTransaction: %v", err)
	}
	return tid
}

// S1: two readers on the same page neither block nor see different bytes.
func TestSharedConcurrency(t *testing.T) {
	bp := NewBufferPool(DefaultConfig())
	file := newFakeFile(1)
	file.disk[0] = []byte("hello")

	t1 := beginTxn(t, bp)
	t2 := beginTxn(t, bp)

	p1, err := bp.GetPage(t1, file, 0, page.ReadOnly)
	if err != nil {
		t.Fatalf("t1 GetPage: %v", err)
	}
	p2, err := bp.GetPage(t2, file, 0, page.ReadOnly)
	if err != nil {
		t.Fatalf("t2 GetPage: %v", err)
	}
	if diff, equal := messagediff.PrettyDiff(p1.(*fakePage).bytes, p2.(*fakePage).bytes); !equal {
		t.Fatalf("readers saw different bytes: %s", diff)
	}
}

// S2: a writer blocks a reader of the same page until it commits; the
// reader then observes the writer's bytes (force-at-commit).
func TestWriterBlocksReaderThenCommitIsVisible(t *testing.T) {
	bp := NewBufferPool(DefaultConfig())
	file := newFakeFile(1)

	t1 := beginTxn(t, bp)
	write(t, bp, t1, file, 0, "from-t1")

	t2 := beginTxn(t, bp)
	readerDone := make(chan []byte, 1)
	go func() {
		p, err := bp.GetPage(t2, file, 0, page.ReadOnly)
		if err != nil {
			t.Errorf("t2 GetPage: %v", err)
			readerDone <- nil
			return
		}
		readerDone <- p.(*fakePage).bytes
	}()

	select {
	case <-readerDone:
		t.Fatalf("reader should have blocked on t1's write lock")
	case <-time.After(50 * time.Millisecond):
	}

	if err := bp.CommitTransaction(t1); err != nil {
		t.Fatalf("commit: %v", err)
	}

	select {
	case bytesRead := <-readerDone:
		if string(bytesRead) != "from-t1" {
			t.Fatalf("reader should see committed bytes, got %q", bytesRead)
		}
	case <-time.After(time.Second):
		t.Fatalf("reader never unblocked after commit")
	}

	if string(file.diskBytes(0)) != "from-t1" {
		t.Fatalf("commit should force the page to disk")
	}
}

// S3: a two-transaction, two-page deadlock aborts exactly the closing
// requester; the other transaction still completes.
func TestDeadlockAbortsRequesterAndOtherCompletes(t *testing.T) {
	bp := NewBufferPool(DefaultConfig())
	file := newFakeFile(1)

	t1 := beginTxn(t, bp)
	t2 := beginTxn(t, bp)

	write(t, bp, t1, file, 1, "t1-p1")
	write(t, bp, t2, file, 2, "t2-p2")

	t1Done := make(chan error, 1)
	go func() {
		_, err := bp.GetPage(t1, file, 2, page.ReadWrite)
		t1Done <- err
	}()
	time.Sleep(50 * time.Millisecond)

	_, err := bp.GetPage(t2, file, 1, page.ReadWrite)
	if err == nil {
		t.Fatalf("expected t2 to be aborted on the closing request")
	}
	if err := bp.AbortTransaction(t2); err != nil {
		t.Fatalf("abort t2: %v", err)
	}

	select {
	case err := <-t1Done:
		if err != nil {
			t.Fatalf("t1 should make progress after t2 backs off, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("t1 never made progress")
	}
	if err := bp.CommitTransaction(t1); err != nil {
		t.Fatalf("commit t1: %v", err)
	}
}

// S5: with capacity 3, dirtying 3 pages exhausts the pool; a 4th request
// fails with ResourceExhausted until the dirty pages are committed.
func TestEvictionRespectsDirtyPages(t *testing.T) {
	bp := NewBufferPool(Config{Capacity: 3})
	file := newFakeFile(1)

	t1 := beginTxn(t, bp)
	write(t, bp, t1, file, 1, "a")
	write(t, bp, t1, file, 2, "b")
	write(t, bp, t1, file, 3, "c")

	if _, err := bp.GetPage(t1, file, 4, page.ReadOnly); err == nil {
		t.Fatalf("expected buffer pool exhaustion with all pages dirty")
	}

	if err := bp.CommitTransaction(t1); err != nil {
		t.Fatalf("commit: %v", err)
	}

	t2 := beginTxn(t, bp)
	if _, err := bp.GetPage(t2, file, 4, page.ReadOnly); err != nil {
		t.Fatalf("expected page 4 to be servable after commit freed capacity: %v", err)
	}
}

// S6: abort restores the pre-write bytes, visible to a subsequent reader.
func TestAbortRestoresBytes(t *testing.T) {
	bp := NewBufferPool(DefaultConfig())
	file := newFakeFile(1)
	file.disk[0] = []byte("original")

	t1 := beginTxn(t, bp)
	write(t, bp, t1, file, 0, "mutated")

	if err := bp.AbortTransaction(t1); err != nil {
		t.Fatalf("abort: %v", err)
	}

	t2 := beginTxn(t, bp)
	p, err := bp.GetPage(t2, file, 0, page.ReadOnly)
	if err != nil {
		t.Fatalf("GetPage after abort: %v", err)
	}
	if string(p.(*fakePage).bytes) != "original" {
		t.Fatalf("abort should roll back to pre-write bytes, got %q", p.(*fakePage).bytes)
	}
	if string(file.diskBytes(0)) != "original" {
		t.Fatalf("no-steal: aborted writes must never have reached disk, got %q", file.diskBytes(0))
	}
}

// Property 8: locks are released by the time CommitTransaction or
// AbortTransaction returns.
func TestLocksReleasedOnCompletion(t *testing.T) {
	bp := NewBufferPool(DefaultConfig())
	file := newFakeFile(1)

	t1 := beginTxn(t, bp)
	write(t, bp, t1, file, 0, "x")
	if err := bp.CommitTransaction(t1); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if bp.HoldsLock(t1, file, 0) {
		t.Fatalf("commit should release every lock t1 held")
	}

	t2 := beginTxn(t, bp)
	write(t, bp, t2, file, 1, "y")
	if err := bp.AbortTransaction(t2); err != nil {
		t.Fatalf("abort: %v", err)
	}
	if bp.HoldsLock(t2, file, 1) {
		t.Fatalf("abort should release every lock t2 held")
	}
}

func TestUnsafeReleaseDuringScan(t *testing.T) {
	bp := NewBufferPool(DefaultConfig())
	file := newFakeFile(1)

	t1 := beginTxn(t, bp)
	if _, err := bp.GetPage(t1, file, 0, page.ReadOnly); err != nil {
		t.Fatalf("GetPage: %v", err)
	}
	if !bp.HoldsLock(t1, file, 0) {
		t.Fatalf("expected t1 to hold the read lock")
	}

	bp.UnsafeRelease(t1, file, 0)

	if bp.HoldsLock(t1, file, 0) {
		t.Fatalf("UnsafeRelease should drop the lock immediately, before commit")
	}

	t2 := beginTxn(t, bp)
	if _, err := bp.GetPage(t2, file, 0, page.ReadWrite); err != nil {
		t.Fatalf("t2 should be able to write page 0 once t1 released it early: %v", err)
	}
}

func TestFlushAllWritesDirtyPagesRegardlessOfOwner(t *testing.T) {
	bp := NewBufferPool(DefaultConfig())
	file := newFakeFile(1)

	t1 := beginTxn(t, bp)
	write(t, bp, t1, file, 0, "admin-flush")

	if err := bp.FlushAll(); err != nil {
		t.Fatalf("FlushAll: %v", err)
	}
	if string(file.diskBytes(0)) != "admin-flush" {
		t.Fatalf("FlushAll should write dirty pages to disk regardless of owner")
	}
}

func TestDiscardPageDropsWithoutFlush(t *testing.T) {
	bp := NewBufferPool(DefaultConfig())
	file := newFakeFile(1)

	t1 := beginTxn(t, bp)
	write(t, bp, t1, file, 0, "never-flushed")

	bp.DiscardPage(file, 0)

	if string(file.diskBytes(0)) != "" {
		t.Fatalf("discard should not have flushed the page")
	}
}

// TestRandomizedConcurrentWorkload is a lightweight property check: many
// goroutines race to read/write a small set of pages, and once they finish
// the pool must not hold more pages than its capacity.
func TestRandomizedConcurrentWorkload(t *testing.T) {
	bp := NewBufferPool(Config{Capacity: 8})
	file := newFakeFile(1)
	const pages = 4
	const workers = 12

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			tid := NewTxnID()
			if err := bp.BeginTransaction(tid); err != nil {
				return
			}
			pageNo := w % pages
			if w%3 == 0 {
				p, err := bp.GetPage(tid, file, pageNo, page.ReadWrite)
				if err == nil {
					p.(*fakePage).bytes = []byte{byte(w)}
					bp.MarkDirty(tid, file, pageNo)
					bp.CommitTransaction(tid)
				} else {
					bp.AbortTransaction(tid)
				}
			} else {
				_, err := bp.GetPage(tid, file, pageNo, page.ReadOnly)
				if err == nil {
					bp.CommitTransaction(tid)
				} else {
					bp.AbortTransaction(tid)
				}
			}
		}(w)
	}
	wg.Wait()

	if bp.cache.Len() > bp.capacity() {
		t.Fatalf("pool exceeded capacity: %d > %d", bp.cache.Len(), bp.capacity())
	}
}
