package query

import (
	"github.com/gopherdb/txndb/internal/buffer"
	"github.com/gopherdb/txndb/internal/dbtype"
	"github.com/gopherdb/txndb/internal/heap"
)

// TableScan is a leaf operator reading every tuple of a HeapFile, in order,
// through the buffer pool.
type TableScan struct {
	file  *heap.HeapFile
	alias string
}

// NewTableScan scans file, qualifying its output fields with alias (the
// name the query referred to the table by, which may differ from the
// table's own name if it was aliased in a FROM clause).
func NewTableScan(file *heap.HeapFile, alias string) *TableScan {
	return &TableScan{file: file, alias: alias}
}

func (s *TableScan) Descriptor() *dbtype.TupleDesc {
	d := s.file.Descriptor().Copy()
	d.SetTableAlias(s.alias)
	return d
}

func (s *TableScan) Iterator(tid buffer.TxnID) (func() (*dbtype.Tuple, error), error) {
	next, err := s.file.Iterator(tid)
	if err != nil {
		return nil, err
	}
	desc := s.Descriptor()
	return func() (*dbtype.Tuple, error) {
		t, err := next()
		if err != nil || t == nil {
			return nil, err
		}
		t.Desc = *desc
		return t, nil
	}, nil
}
