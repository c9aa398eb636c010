// Package heap implements a row-store table: a HeapFile of fixed-size
// HeapPages holding fixed-length tuples in slots. It is the buffer pool's
// one DBFile implementation in this module, read and written exclusively
// through internal/buffer.BufferPool.
package heap

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	"github.com/gopherdb/txndb/internal/dberrors"
	"github.com/gopherdb/txndb/internal/dbtype"
	"github.com/gopherdb/txndb/internal/page"
)

// heapPage implements page.Page. Tuples are fixed-length, so a page's
// capacity in slots is computed once from its TupleDesc. In memory an empty
// slot is nil. On disk, after the 8-byte header (numSlots, numUsedSlots,
// both int32), only the occupied slots' tuples are written, back to back in
// slot order, so a page read back has its tuples in slots
// 0..numUsedSlots-1.
type heapPage struct {
	id           page.ID
	dirty        bool
	pageNumber   int
	numSlots     int32
	numUsedSlots int32
	desc         *dbtype.TupleDesc
	tuples       []*dbtype.Tuple
}

func tupleSizeBytes(desc *dbtype.TupleDesc) (int32, error) {
	var size int32
	for _, f := range desc.Fields {
		switch f.Ftype {
		case dbtype.IntType:
			size += 8
		case dbtype.StringType:
			size += int32(dbtype.StringLength)
		default:
			return 0, dberrors.New(dberrors.TypeMismatch, "field has no on-disk representation")
		}
	}
	return size, nil
}

func newHeapPage(tableID, pageNo int, desc *dbtype.TupleDesc) (*heapPage, error) {
	perTuple, err := tupleSizeBytes(desc)
	if err != nil {
		return nil, err
	}
	if perTuple == 0 {
		return nil, dberrors.New(dberrors.MalformedData, "tuple descriptor has no fields")
	}
	numSlots := (int32(dbtype.PageSize()) - 8) / perTuple
	return &heapPage{
		id:         page.ID{TableID: tableID, PageNo: pageNo},
		pageNumber: pageNo,
		numSlots:   numSlots,
		desc:       desc,
		tuples:     make([]*dbtype.Tuple, numSlots),
	}, nil
}

func (h *heapPage) ID() page.ID         { return h.id }
func (h *heapPage) IsDirty() bool       { return h.dirty }
func (h *heapPage) SetDirty(dirty bool) { h.dirty = dirty }

func (h *heapPage) full() bool { return h.numUsedSlots >= h.numSlots }

// insertTuple stores a copy of t in the first free slot with its Rid set to
// "<page>-<slot>" and returns that Rid (t itself is not modified), or
// returns an error if the page has no free slots.
func (h *heapPage) insertTuple(t *dbtype.Tuple) (dbtype.RecordID, error) {
	for slot, existing := range h.tuples {
		if existing != nil {
			continue
		}
		rid := fmt.Sprintf("%d-%d", h.pageNumber, slot)
		h.tuples[slot] = &dbtype.Tuple{Desc: *h.desc, Fields: t.Fields, Rid: rid}
		h.numUsedSlots++
		h.dirty = true
		return rid, nil
	}
	return nil, dberrors.New(dberrors.BufferPoolFull, "no free slot on page")
}

func parseRid(rid dbtype.RecordID) (slot int, err error) {
	s, ok := rid.(string)
	if !ok {
		return 0, dberrors.New(dberrors.BadInput, "invalid record id type")
	}
	parts := strings.Split(s, "-")
	if len(parts) != 2 {
		return 0, dberrors.New(dberrors.BadInput, "invalid record id format")
	}
	slot, err = strconv.Atoi(parts[1])
	if err != nil {
		return 0, dberrors.New(dberrors.BadInput, "invalid record id slot")
	}
	return slot, nil
}

func (h *heapPage) deleteTuple(rid dbtype.RecordID) error {
	slot, err := parseRid(rid)
	if err != nil {
		return err
	}
	if slot < 0 || slot >= len(h.tuples) || h.tuples[slot] == nil {
		return dberrors.New(dberrors.BadInput, "slot is empty or out of range")
	}
	h.tuples[slot] = nil
	h.numUsedSlots--
	h.dirty = true
	return nil
}

func (h *heapPage) ToBuffer() (*bytes.Buffer, error) {
	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.LittleEndian, h.numSlots); err != nil {
		return nil, err
	}
	if err := binary.Write(buf, binary.LittleEndian, h.numUsedSlots); err != nil {
		return nil, err
	}
	for _, t := range h.tuples {
		if t == nil {
			continue
		}
		if err := t.WriteTo(buf); err != nil {
			return nil, err
		}
	}
	if pad := dbtype.PageSize() - buf.Len(); pad > 0 {
		buf.Write(make([]byte, pad))
	}
	return buf, nil
}

func initHeapPageFromBuffer(tableID, pageNo int, desc *dbtype.TupleDesc, buf *bytes.Buffer) (*heapPage, error) {
	h := &heapPage{id: page.ID{TableID: tableID, PageNo: pageNo}, pageNumber: pageNo, desc: desc}
	if err := binary.Read(buf, binary.LittleEndian, &h.numSlots); err != nil {
		return nil, err
	}
	if err := binary.Read(buf, binary.LittleEndian, &h.numUsedSlots); err != nil {
		return nil, err
	}
	h.tuples = make([]*dbtype.Tuple, h.numSlots)
	for i := 0; i < int(h.numUsedSlots); i++ {
		t, err := dbtype.ReadTupleFrom(buf, desc)
		if err != nil {
			return nil, err
		}
		t.Rid = fmt.Sprintf("%d-%d", pageNo, i)
		h.tuples[i] = t
	}
	return h, nil
}

// tupleIter returns a pull-style iterator over the page's occupied slots.
func (h *heapPage) tupleIter() func() (*dbtype.Tuple, error) {
	i := 0
	return func() (*dbtype.Tuple, error) {
		for i < len(h.tuples) {
			t := h.tuples[i]
			i++
			if t != nil {
				return t, nil
			}
		}
		return nil, nil
	}
}
