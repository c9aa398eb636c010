package query

import (
	"sort"

	"github.com/gopherdb/txndb/internal/buffer"
	"github.com/gopherdb/txndb/internal/dbtype"
)

// OrderBy is a blocking sort: it materializes every child tuple before
// producing its first output.
type OrderBy struct {
	fields    []dbtype.Expr
	ascending []bool
	child     Operator
}

func NewOrderBy(fields []dbtype.Expr, ascending []bool, child Operator) *OrderBy {
	return &OrderBy{fields: fields, ascending: ascending, child: child}
}

func (o *OrderBy) Descriptor() *dbtype.TupleDesc { return o.child.Descriptor() }

func (o *OrderBy) Iterator(tid buffer.TxnID) (func() (*dbtype.Tuple, error), error) {
	childIter, err := o.child.Iterator(tid)
	if err != nil {
		return nil, err
	}
	all, err := drain(childIter)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(all, func(a, b int) bool {
		for i, expr := range o.fields {
			va, _ := expr.EvalExpr(all[a])
			vb, _ := expr.EvalExpr(all[b])
			if va.EvalPred(vb, dbtype.Equals) {
				continue
			}
			if o.ascending[i] {
				return va.EvalPred(vb, dbtype.LessThan)
			}
			return !va.EvalPred(vb, dbtype.LessThan)
		}
		return false
	})

	i := 0
	return func() (*dbtype.Tuple, error) {
		if i >= len(all) {
			return nil, nil
		}
		t := all[i]
		i++
		return t, nil
	}, nil
}
