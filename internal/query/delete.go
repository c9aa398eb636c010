package query

import (
	"github.com/gopherdb/txndb/internal/buffer"
	"github.com/gopherdb/txndb/internal/dbtype"
	"github.com/gopherdb/txndb/internal/heap"
)

// DeleteOp drains its child and deletes every tuple (by Rid) from
// deleteFile, producing a single "count" tuple.
type DeleteOp struct {
	deleteFile *heap.HeapFile
	child      Operator
	desc       *dbtype.TupleDesc
}

func NewDeleteOp(deleteFile *heap.HeapFile, child Operator) *DeleteOp {
	return &DeleteOp{
		deleteFile: deleteFile,
		child:      child,
		desc:       &dbtype.TupleDesc{Fields: []dbtype.FieldType{{Fname: "count", Ftype: dbtype.IntType}}},
	}
}

func (d *DeleteOp) Descriptor() *dbtype.TupleDesc { return d.desc }

func (d *DeleteOp) Iterator(tid buffer.TxnID) (func() (*dbtype.Tuple, error), error) {
	childIter, err := d.child.Iterator(tid)
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
			if err := d.deleteFile.DeleteTuple(tid, t); err != nil {
				return nil, err
			}
			count++
		}
		return &dbtype.Tuple{Desc: *d.desc, Fields: []dbtype.DBValue{dbtype.IntField{Value: count}}}, nil
	}, nil
}
