package query

import (
	"github.com/gopherdb/txndb/internal/buffer"
	"github.com/gopherdb/txndb/internal/dbtype"
)

// Filter passes through only the child tuples satisfying left <op> right.
type Filter struct {
	op    dbtype.BoolOp
	left  dbtype.Expr
	right dbtype.Expr
	child Operator
}

func NewFilter(left dbtype.Expr, op dbtype.BoolOp, right dbtype.Expr, child Operator) *Filter {
	return &Filter{op: op, left: left, right: right, child: child}
}

func (f *Filter) Descriptor() *dbtype.TupleDesc { return f.child.Descriptor() }

func (f *Filter) Iterator(tid buffer.TxnID) (func() (*dbtype.Tuple, error), error) {
	childIter, err := f.child.Iterator(tid)
	if err != nil {
		return nil, err
	}
	return func() (*dbtype.Tuple, error) {
		for {
			t, err := childIter()
			if err != nil || t == nil {
				return nil, err
			}
			lv, err := f.left.EvalExpr(t)
			if err != nil {
				return nil, err
			}
			rv, err := f.right.EvalExpr(t)
			if err != nil {
				return nil, err
			}
			if lv.EvalPred(rv, f.op) {
				return t, nil
			}
		}
	}, nil
}
