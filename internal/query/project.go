package query

import (
	"fmt"

	boom "github.com/tylertreat/BoomFilters"

	"github.com/gopherdb/txndb/internal/buffer"
	"github.com/gopherdb/txndb/internal/dberrors"
	"github.com/gopherdb/txndb/internal/dbtype"
)

// Project evaluates selectFields against each child tuple, optionally
// suppressing duplicates.
type Project struct {
	selectFields []dbtype.Expr
	outputNames  []string
	child        Operator
	distinct     bool
}

func NewProject(selectFields []dbtype.Expr, outputNames []string, distinct bool, child Operator) (*Project, error) {
	if len(selectFields) != len(outputNames) {
		return nil, dberrors.New(dberrors.BadInput, "select fields and output names must have the same length")
	}
	return &Project{selectFields: selectFields, outputNames: outputNames, distinct: distinct, child: child}, nil
}

func (p *Project) Descriptor() *dbtype.TupleDesc {
	fields := make([]dbtype.FieldType, len(p.selectFields))
	for i, e := range p.selectFields {
		ft := e.GetExprType()
		ft.Fname = p.outputNames[i]
		fields[i] = ft
	}
	return &dbtype.TupleDesc{Fields: fields}
}

// Iterator projects every child tuple onto selectFields. When distinct is
// set, a bloom filter fast-rejects the common case (a key never seen
// before needs no map lookup at all); a key the filter reports as possibly
// present is then checked against an exact seen-set, since a bloom filter
// can false-positive but never false-negative.
func (p *Project) Iterator(tid buffer.TxnID) (func() (*dbtype.Tuple, error), error) {
	childIter, err := p.child.Iterator(tid)
	if err != nil {
		return nil, err
	}
	desc := *p.Descriptor()

	var filter *boom.BloomFilter
	var seen map[string]struct{}
	if p.distinct {
		filter = boom.NewBloomFilter(10000, 0.01)
		seen = make(map[string]struct{})
	}

	return func() (*dbtype.Tuple, error) {
		for {
			t, err := childIter()
			if err != nil || t == nil {
				return nil, err
			}

			out := &dbtype.Tuple{Desc: desc, Fields: make([]dbtype.DBValue, len(p.selectFields))}
			for i, e := range p.selectFields {
				v, err := e.EvalExpr(t)
				if err != nil {
					return nil, err
				}
				out.Fields[i] = v
			}

			if p.distinct {
				key := fmt.Sprint(out.Key())
				kb := []byte(key)
				if filter.Test(kb) {
					if _, dup := seen[key]; dup {
						continue
					}
				}
				filter.Add(kb)
				seen[key] = struct{}{}
			}

			return out, nil
		}
	}, nil
}
