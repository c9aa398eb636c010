package query

import (
	"github.com/gopherdb/txndb/internal/buffer"
	"github.com/gopherdb/txndb/internal/dbtype"
)

// Limit passes through at most n tuples from its child.
type Limit struct {
	child Operator
	n     int64
}

func NewLimit(n int64, child Operator) *Limit {
	return &Limit{child: child, n: n}
}

func (l *Limit) Descriptor() *dbtype.TupleDesc { return l.child.Descriptor() }

func (l *Limit) Iterator(tid buffer.TxnID) (func() (*dbtype.Tuple, error), error) {
	childIter, err := l.child.Iterator(tid)
	if err != nil {
		return nil, err
	}
	var count int64
	return func() (*dbtype.Tuple, error) {
		if count >= l.n {
			return nil, nil
		}
		t, err := childIter()
		if err != nil || t == nil {
			return nil, err
		}
		count++
		return t, nil
	}, nil
}
