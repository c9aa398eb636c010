package query

import (
	"github.com/gopherdb/txndb/internal/buffer"
	"github.com/gopherdb/txndb/internal/dbtype"
	"github.com/gopherdb/txndb/internal/heap"
)

// InsertOp drains its child and inserts every tuple into insertFile,
// producing a single "count" tuple.
type InsertOp struct {
	insertFile *heap.HeapFile
	child      Operator
	desc       *dbtype.TupleDesc
}

func NewInsertOp(insertFile *heap.HeapFile, child Operator) *InsertOp {
	return &InsertOp{
		insertFile: insertFile,
		child:      child,
		desc:       &dbtype.TupleDesc{Fields: []dbtype.FieldType{{Fname: "count", Ftype: dbtype.IntType}}},
	}
}

func (i *InsertOp) Descriptor() *dbtype.TupleDesc { return i.desc }

func (i *InsertOp) Iterator(tid buffer.TxnID) (func() (*dbtype.Tuple, error), error) {
	childIter, err := i.child.Iterator(tid)
	if err != nil {
		return nil, err
	}
	done := false
	return func() (*dbtype.Tuple, error) {
		if done {
			return nil, nil
		}
		done = true
		var count int64
		for {
			t, err := childIter()
			if err != nil {
				return nil, err
			}
			if t == nil {
				break
			}
			if err := i.insertFile.InsertTuple(tid, t); err != nil {
				return nil, err
			}
			count++
		}
		return &dbtype.Tuple{Desc: *i.desc, Fields: []dbtype.DBValue{dbtype.IntField{Value: count}}}, nil
	}, nil
}
