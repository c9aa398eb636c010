package pagecache

import (
	"bytes"
	"testing"

	"github.com/gopherdb/txndb/internal/locktable"
	"github.com/gopherdb/txndb/internal/page"
)

type fakePage struct {
	id    page.ID
	dirty bool
}

func (p *fakePage) ID() page.ID                      { return p.id }
func (p *fakePage) IsDirty() bool                    { return p.dirty }
func (p *fakePage) SetDirty(dirty bool)              { p.dirty = dirty }
func (p *fakePage) ToBuffer() (*bytes.Buffer, error)  { return &bytes.Buffer{}, nil }

type noLocks struct{}

func (noLocks) AnyLock(page.ID) bool { return false }

func put(c *Cache, id page.ID, dirtyBy *locktable.TxnID) {
	c.Put(id, &Entry{ID: id, P: &fakePage{id: id}, DirtyBy: dirtyBy})
}

func TestBoundedResidency(t *testing.T) {
	c := New(2, noLocks{})
	put(c, page.ID{PageNo: 1}, nil)
	put(c, page.ID{PageNo: 2}, nil)
	if c.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", c.Len())
	}
	if _, err := c.EvictOne(); err != nil {
		t.Fatalf("expected a victim, got %v", err)
	}
	if c.Len() != 1 {
		t.Fatalf("expected 1 entry after eviction, got %d", c.Len())
	}
}

func TestEvictionSkipsDirtyAndLocked(t *testing.T) {
	tid := locktable.NewTxnID()
	c := New(3, lockedPages{locked: map[page.ID]bool{{PageNo: 2}: true}})
	put(c, page.ID{PageNo: 1}, &tid) // dirty
	put(c, page.ID{PageNo: 2}, nil)  // clean but locked
	put(c, page.ID{PageNo: 3}, nil)  // clean and unlocked

	victim, err := c.EvictOne()
	if err != nil {
		t.Fatalf("expected a victim, got %v", err)
	}
	if victim != (page.ID{PageNo: 3}) {
		t.Fatalf("expected page 3 to be evicted, got %v", victim)
	}
}

type lockedPages struct {
	locked map[page.ID]bool
}

func (l lockedPages) AnyLock(pid page.ID) bool { return l.locked[pid] }

func TestEvictionAllDirtyReturnsError(t *testing.T) {
	tid := locktable.NewTxnID()
	c := New(2, noLocks{})
	put(c, page.ID{PageNo: 1}, &tid)
	put(c, page.ID{PageNo: 2}, &tid)

	if _, err := c.EvictOne(); err != ErrAllDirty {
		t.Fatalf("expected ErrAllDirty, got %v", err)
	}
}

func TestTouchMovesToMRU(t *testing.T) {
	c := New(3, noLocks{})
	put(c, page.ID{PageNo: 1}, nil)
	put(c, page.ID{PageNo: 2}, nil)
	put(c, page.ID{PageNo: 3}, nil)

	c.Touch(page.ID{PageNo: 1})

	ids := c.IterIDs()
	if ids[len(ids)-1] != (page.ID{PageNo: 1}) {
		t.Fatalf("expected page 1 to be MRU after touch, order=%v", ids)
	}
}

func TestGetDoesNotTouchOrder(t *testing.T) {
	c := New(3, noLocks{})
	put(c, page.ID{PageNo: 1}, nil)
	put(c, page.ID{PageNo: 2}, nil)

	before := c.IterIDs()
	if _, ok := c.Get(page.ID{PageNo: 1}); !ok {
		t.Fatalf("expected page 1 to be cached")
	}
	after := c.IterIDs()

	if len(before) != len(after) || before[0] != after[0] {
		t.Fatalf("a pure Get should not change touch order: before=%v after=%v", before, after)
	}
}

func TestRemoveDropsWithoutFlush(t *testing.T) {
	c := New(3, noLocks{})
	put(c, page.ID{PageNo: 1}, nil)
	c.Remove(page.ID{PageNo: 1})
	if c.Len() != 0 {
		t.Fatalf("expected cache to be empty after remove")
	}
	if _, ok := c.Get(page.ID{PageNo: 1}); ok {
		t.Fatalf("removed page should not be retrievable")
	}
}
