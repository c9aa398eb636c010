package query

import (
	"fmt"
	"sort"

	boom "github.com/tylertreat/BoomFilters"

	"github.com/gopherdb/txndb/internal/buffer"
	"github.com/gopherdb/txndb/internal/dberrors"
	"github.com/gopherdb/txndb/internal/dbtype"
)

// EqualityJoin is a sort-merge equijoin of left.leftField = right.rightField.
type EqualityJoin struct {
	leftField, rightField dbtype.Expr
	left, right           Operator
}

func NewEqualityJoin(left Operator, leftField dbtype.Expr, right Operator, rightField dbtype.Expr) (*EqualityJoin, error) {
	if leftField.GetExprType().Ftype != rightField.GetExprType().Ftype {
		return nil, dberrors.New(dberrors.IncompatibleTypes, "join fields must have the same type")
	}
	return &EqualityJoin{leftField: leftField, rightField: rightField, left: left, right: right}, nil
}

func (j *EqualityJoin) Descriptor() *dbtype.TupleDesc {
	return j.left.Descriptor().Merge(j.right.Descriptor())
}

func exprKeyBytes(e dbtype.Expr, t *dbtype.Tuple) ([]byte, error) {
	v, err := e.EvalExpr(t)
	if err != nil {
		return nil, err
	}
	switch f := v.(type) {
	case dbtype.IntField:
		return []byte(fmt.Sprintf("i:%d", f.Value)), nil
	case dbtype.StringField:
		return []byte("s:" + f.Value), nil
	default:
		return nil, dberrors.New(dberrors.TypeMismatch, "unsupported join key type")
	}
}

// Iterator materializes both sides, then sort-merges them on their join
// key. Before sorting the right side, a bloom filter built from the left
// side's keys pre-filters out right tuples that provably cannot match
// anything on the left -- on a selective join this shrinks the sort to
// just the rows that can possibly contribute to the output.
func (j *EqualityJoin) Iterator(tid buffer.TxnID) (func() (*dbtype.Tuple, error), error) {
	leftIter, err := j.left.Iterator(tid)
	if err != nil {
		return nil, err
	}
	leftTuples, err := drain(leftIter)
	if err != nil {
		return nil, err
	}

	filter := boom.NewBloomFilter(uint(maxInt(len(leftTuples), 1)*4+16), 0.01)
	for _, t := range leftTuples {
		kb, err := exprKeyBytes(j.leftField, t)
		if err != nil {
			return nil, err
		}
		filter.Add(kb)
	}

	rightIter, err := j.right.Iterator(tid)
	if err != nil {
		return nil, err
	}
	rightAll, err := drain(rightIter)
	if err != nil {
		return nil, err
	}
	rightTuples := rightAll[:0]
	for _, t := range rightAll {
		kb, err := exprKeyBytes(j.rightField, t)
		if err != nil {
			return nil, err
		}
		if filter.Test(kb) {
			rightTuples = append(rightTuples, t)
		}
	}

	sortByField(leftTuples, j.leftField)
	sortByField(rightTuples, j.rightField)

	joined, err := mergeJoin(leftTuples, rightTuples, j.leftField, j.rightField)
	if err != nil {
		return nil, err
	}

	i := 0
	return func() (*dbtype.Tuple, error) {
		if i >= len(joined) {
			return nil, nil
		}
		t := joined[i]
		i++
		return t, nil
	}, nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func sortByField(tuples []*dbtype.Tuple, field dbtype.Expr) {
	sort.Slice(tuples, func(i, j int) bool {
		vi, _ := field.EvalExpr(tuples[i])
		vj, _ := field.EvalExpr(tuples[j])
		return vi.EvalPred(vj, dbtype.LessThan)
	})
}

func mergeJoin(left, right []*dbtype.Tuple, leftField, rightField dbtype.Expr) ([]*dbtype.Tuple, error) {
	var out []*dbtype.Tuple
	i, k := 0, 0
	for i < len(left) && k < len(right) {
		lv, err := leftField.EvalExpr(left[i])
		if err != nil {
			return nil, err
		}
		rv, err := rightField.EvalExpr(right[k])
		if err != nil {
			return nil, err
		}
		switch {
		case lv.EvalPred(rv, dbtype.LessThan):
			i++
		case rv.EvalPred(lv, dbtype.LessThan):
			k++
		default:
			iEnd := equalRunEnd(left, i, leftField, rv)
			kEnd := equalRunEnd(right, k, rightField, lv)
			for a := i; a < iEnd; a++ {
				for b := k; b < kEnd; b++ {
					out = append(out, dbtype.Join(left[a], right[b]))
				}
			}
			i, k = iEnd, kEnd
		}
	}
	return out, nil
}

func equalRunEnd(tuples []*dbtype.Tuple, start int, field dbtype.Expr, pivot dbtype.DBValue) int {
	end := start
	for end < len(tuples) {
		v, err := field.EvalExpr(tuples[end])
		if err != nil || !v.EvalPred(pivot, dbtype.Equals) {
			break
		}
		end++
	}
	return end
}
