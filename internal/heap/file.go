package heap

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/gopherdb/txndb/internal/buffer"
	"github.com/gopherdb/txndb/internal/dberrors"
	"github.com/gopherdb/txndb/internal/dbtype"
	"github.com/gopherdb/txndb/internal/page"
)

// HeapFile is an unordered collection of fixed-length tuples backed by a
// single on-disk file of HeapPages. It implements buffer.DBFile, so every
// read or write of its pages goes through the caller-supplied BufferPool --
// HeapFile itself never touches the file outside of ReadPage/FlushPage.
type HeapFile struct {
	tableID     int
	backingFile string
	tupleDesc   *dbtype.TupleDesc
	bufPool     *buffer.BufferPool

	mu             sync.Mutex
	pagesNum       int
	availablePages []bool
}

// NewHeapFile opens (or prepares to create) a HeapFile backed by fromFile.
// tableID must be unique among the tables sharing a BufferPool, since it is
// the high half of every page.ID this file produces.
func NewHeapFile(tableID int, fromFile string, td *dbtype.TupleDesc, bp *buffer.BufferPool) (*HeapFile, error) {
	f := &HeapFile{
		tableID:     tableID,
		backingFile: fromFile,
		tupleDesc:   td,
		bufPool:     bp,
	}
	f.pagesNum = f.numPagesOnDisk()
	f.availablePages = make([]bool, f.pagesNum)
	for i := range f.availablePages {
		f.availablePages[i] = true
	}
	return f, nil
}

func (f *HeapFile) numPagesOnDisk() int {
	info, err := os.Stat(f.backingFile)
	if err != nil {
		return 0
	}
	ps := int64(dbtype.PageSize())
	n := info.Size() / ps
	if info.Size()%ps != 0 {
		n++
	}
	return int(n)
}

// Descriptor returns the table's TupleDesc.
func (f *HeapFile) Descriptor() *dbtype.TupleDesc { return f.tupleDesc }

// PageKey implements buffer.DBFile.
func (f *HeapFile) PageKey(pageNo int) page.ID {
	return page.ID{TableID: f.tableID, PageNo: pageNo}
}

// ReadPage implements buffer.DBFile: read pageNo's bytes from the backing
// file and deserialize a heapPage from them.
func (f *HeapFile) ReadPage(pageNo int) (page.Page, error) {
	file, err := os.OpenFile(f.backingFile, os.O_CREATE|os.O_RDWR, 0666)
	if err != nil {
		return nil, dberrors.Wrap(dberrors.IO, "open heap file", err)
	}
	defer file.Close()

	data := make([]byte, dbtype.PageSize())
	offset := int64(pageNo) * int64(dbtype.PageSize())
	if _, err := file.ReadAt(data, offset); err != nil && err != io.EOF {
		return nil, dberrors.Wrap(dberrors.IO, "read heap page", err)
	}

	return initHeapPageFromBuffer(f.tableID, pageNo, f.tupleDesc, bytes.NewBuffer(data))
}

// FlushPage implements buffer.DBFile: serialize p and write it back to its
// offset in the backing file.
func (f *HeapFile) FlushPage(p page.Page) error {
	hp, ok := p.(*heapPage)
	if !ok {
		return dberrors.New(dberrors.BadInput, "page does not belong to a HeapFile")
	}

	file, err := os.OpenFile(f.backingFile, os.O_CREATE|os.O_RDWR, 0666)
	if err != nil {
		return dberrors.Wrap(dberrors.IO, "open heap file", err)
	}
	defer file.Close()

	buf, err := hp.ToBuffer()
	if err != nil {
		return err
	}
	offset := int64(hp.pageNumber) * int64(dbtype.PageSize())
	if _, err := file.WriteAt(buf.Bytes(), offset); err != nil {
		return dberrors.Wrap(dberrors.IO, "write heap page", err)
	}
	return nil
}

// InsertTuple adds t to the first page with a free slot, allocating a new
// page at the end of the file if none has room. To find that page it scans
// availablePages under only a ReadOnly lock per candidate, releasing each
// one immediately (via BufferPool.UnsafeRelease) once it's found full --
// otherwise a long scan would accumulate a read lock on every full page it
// passed over and starve writers on tables it no longer cares about. The
// lock is promoted to ReadWrite only on the page actually chosen.
func (f *HeapFile) InsertTuple(tid buffer.TxnID, t *dbtype.Tuple) error {
	if len(t.Fields) != len(f.tupleDesc.Fields) {
		return dberrors.New(dberrors.MalformedData, "tuple does not match table schema")
	}

	f.mu.Lock()
	candidates := append([]bool(nil), f.availablePages...)
	f.mu.Unlock()

	for pageNo, idle := range candidates {
		if !idle {
			continue
		}
		p, err := f.bufPool.GetPage(tid, f, pageNo, page.ReadOnly)
		if err != nil {
			return err
		}
		hp := p.(*heapPage)
		if hp.full() {
			f.bufPool.UnsafeRelease(tid, f, pageNo)
			f.mu.Lock()
			f.availablePages[pageNo] = false
			f.mu.Unlock()
			continue
		}
		p, err = f.bufPool.GetPage(tid, f, pageNo, page.ReadWrite)
		if err != nil {
			return err
		}
		hp = p.(*heapPage)
		if _, err := hp.insertTuple(t); err != nil {
			return err
		}
		return f.bufPool.MarkDirty(tid, f, pageNo)
	}

	return f.createNewPage(tid, t)
}

func (f *HeapFile) createNewPage(tid buffer.TxnID, t *dbtype.Tuple) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	pageNo := f.pagesNum
	hp, err := newHeapPage(f.tableID, pageNo, f.tupleDesc)
	if err != nil {
		return err
	}
	if err := f.FlushPage(hp); err != nil {
		return err
	}
	f.pagesNum++
	f.availablePages = append(f.availablePages, true)

	p, err := f.bufPool.GetPage(tid, f, pageNo, page.ReadWrite)
	if err != nil {
		return err
	}
	if _, err := p.(*heapPage).insertTuple(t); err != nil {
		return err
	}
	return f.bufPool.MarkDirty(tid, f, pageNo)
}

// DeleteTuple removes t, identified by t.Rid (set by Iterator), from its
// page.
func (f *HeapFile) DeleteTuple(tid buffer.TxnID, t *dbtype.Tuple) error {
	if t.Rid == nil {
		return dberrors.New(dberrors.BadInput, "tuple has no record id")
	}
	rid, ok := t.Rid.(string)
	if !ok {
		return dberrors.New(dberrors.BadInput, "invalid record id type")
	}
	parts := strings.Split(rid, "-")
	if len(parts) != 2 {
		return dberrors.New(dberrors.BadInput, "invalid record id format")
	}
	pageNo, err := strconv.Atoi(parts[0])
	if err != nil {
		return dberrors.New(dberrors.BadInput, "invalid record id")
	}

	p, err := f.bufPool.GetPage(tid, f, pageNo, page.ReadWrite)
	if err != nil {
		return err
	}
	hp := p.(*heapPage)
	if err := hp.deleteTuple(t.Rid); err != nil {
		return err
	}
	return f.bufPool.MarkDirty(tid, f, pageNo)
}

// Iterator returns a pull-style iterator over every tuple in the file,
// reading pages through tid's BufferPool in page order.
func (f *HeapFile) Iterator(tid buffer.TxnID) (func() (*dbtype.Tuple, error), error) {
	pageNo := 0
	var pageIter func() (*dbtype.Tuple, error)

	return func() (*dbtype.Tuple, error) {
		for {
			if pageIter == nil {
				f.mu.Lock()
				n := f.pagesNum
				f.mu.Unlock()
				if pageNo >= n {
					return nil, nil
				}
				p, err := f.bufPool.GetPage(tid, f, pageNo, page.ReadOnly)
				if err != nil {
					return nil, err
				}
				pageIter = p.(*heapPage).tupleIter()
			}
			t, err := pageIter()
			if err != nil {
				return nil, err
			}
			if t == nil {
				pageIter = nil
				pageNo++
				continue
			}
			t.Desc = *f.tupleDesc
			return t, nil
		}
	}, nil
}

// LoadFromCSV populates the file from a CSV, one tuple per committed
// transaction. Rows before a malformed line stay loaded; the load stops
// with an error at the first malformed line.
func (f *HeapFile) LoadFromCSV(r *os.File, hasHeader bool, sep string, skipLastField bool) error {
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		fields := strings.Split(scanner.Text(), sep)
		if skipLastField && len(fields) > 0 {
			fields = fields[:len(fields)-1]
		}
		if lineNo == 1 && hasHeader {
			continue
		}
		if len(fields) != len(f.tupleDesc.Fields) {
			return dberrors.New(dberrors.MalformedData, fmt.Sprintf("line %d: expected %d fields, got %d", lineNo, len(f.tupleDesc.Fields), len(fields)))
		}

		values := make([]dbtype.DBValue, len(fields))
		for i, raw := range fields {
			switch f.tupleDesc.Fields[i].Ftype {
			case dbtype.IntType:
				v, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
				if err != nil {
					return dberrors.New(dberrors.TypeMismatch, fmt.Sprintf("line %d: %q is not an int", lineNo, raw))
				}
				values[i] = dbtype.IntField{Value: v}
			case dbtype.StringType:
				if len(raw) > dbtype.StringLength {
					raw = raw[:dbtype.StringLength]
				}
				values[i] = dbtype.StringField{Value: raw}
			}
		}

		tid := buffer.NewTxnID()
		if err := f.bufPool.BeginTransaction(tid); err != nil {
			return err
		}
		t := &dbtype.Tuple{Desc: *f.tupleDesc, Fields: values}
		if err := f.InsertTuple(tid, t); err != nil {
			f.bufPool.AbortTransaction(tid)
			return err
		}
		if err := f.bufPool.CommitTransaction(tid); err != nil {
			return err
		}
	}
	return scanner.Err()
}
