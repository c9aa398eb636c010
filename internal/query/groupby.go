package query

import (
	"fmt"

	"github.com/gopherdb/txndb/internal/buffer"
	"github.com/gopherdb/txndb/internal/dbtype"
)

// AggSpec names one aggregate to compute: Fn applied to Expr, output under
// Alias.
type AggSpec struct {
	Fn    AggFunc
	Expr  dbtype.Expr
	Alias string
}

// GroupBy partitions child tuples by groupBy (which may be empty, for a
// single implicit group over the whole input) and computes each AggSpec
// per group. Like OrderBy, this is a blocking operator.
type GroupBy struct {
	child   Operator
	groupBy []dbtype.Expr
	aggs    []AggSpec
}

func NewGroupBy(groupBy []dbtype.Expr, aggs []AggSpec, child Operator) *GroupBy {
	return &GroupBy{child: child, groupBy: groupBy, aggs: aggs}
}

func (g *GroupBy) Descriptor() *dbtype.TupleDesc {
	fields := make([]dbtype.FieldType, 0, len(g.groupBy)+len(g.aggs))
	for _, expr := range g.groupBy {
		fields = append(fields, expr.GetExprType())
	}
	for _, a := range g.aggs {
		states, _ := newAggState(a.Fn, a.Expr)
		fields = append(fields, states.FieldType(a.Alias))
	}
	return &dbtype.TupleDesc{Fields: fields}
}

type groupEntry struct {
	keyVals []dbtype.DBValue
	states  []AggState
}

func (g *GroupBy) Iterator(tid buffer.TxnID) (func() (*dbtype.Tuple, error), error) {
	childIter, err := g.child.Iterator(tid)
	if err != nil {
		return nil, err
	}

	groups := make(map[string]*groupEntry)
	var order []string

	for {
		t, err := childIter()
		if err != nil {
			return nil, err
		}
		if t == nil {
			break
		}

		keyVals := make([]dbtype.DBValue, len(g.groupBy))
		key := ""
		for i, expr := range g.groupBy {
			v, err := expr.EvalExpr(t)
			if err != nil {
				return nil, err
			}
			keyVals[i] = v
			key += fmt.Sprintf("|%v", v)
		}

		entry, ok := groups[key]
		if !ok {
			entry = &groupEntry{keyVals: keyVals, states: make([]AggState, len(g.aggs))}
			for i, a := range g.aggs {
				s, err := newAggState(a.Fn, a.Expr)
				if err != nil {
					return nil, err
				}
				entry.states[i] = s
			}
			groups[key] = entry
			order = append(order, key)
		}
		for _, s := range entry.states {
			if err := s.Add(t); err != nil {
				return nil, err
			}
		}
	}

	desc := *g.Descriptor()
	i := 0
	return func() (*dbtype.Tuple, error) {
		if i >= len(order) {
			return nil, nil
		}
		entry := groups[order[i]]
		i++
		fields := make([]dbtype.DBValue, 0, len(entry.keyVals)+len(entry.states))
		fields = append(fields, entry.keyVals...)
		for _, s := range entry.states {
			fields = append(fields, s.Finalize())
		}
		return &dbtype.Tuple{Desc: desc, Fields: fields}, nil
	}, nil
}
