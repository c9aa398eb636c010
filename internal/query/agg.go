package query

import (
	"github.com/gopherdb/txndb/internal/dberrors"
	"github.com/gopherdb/txndb/internal/dbtype"
)

// AggState accumulates one aggregate function's running value across the
// tuples of a group.
type AggState interface {
	Add(t *dbtype.Tuple) error
	Finalize() dbtype.DBValue
	Copy() AggState
	FieldType(alias string) dbtype.FieldType
}

type countAgg struct {
	expr  dbtype.Expr
	count int64
}

func newCountAgg(expr dbtype.Expr) *countAgg { return &countAgg{expr: expr} }
func (a *countAgg) Add(t *dbtype.Tuple) error { a.count++; return nil }
func (a *countAgg) Finalize() dbtype.DBValue  { return dbtype.IntField{Value: a.count} }
func (a *countAgg) Copy() AggState            { c := *a; return &c }
func (a *countAgg) FieldType(alias string) dbtype.FieldType {
	return dbtype.FieldType{Fname: alias, Ftype: dbtype.IntType}
}

type sumAgg struct {
	expr dbtype.Expr
	sum  int64
}

func newSumAgg(expr dbtype.Expr) *sumAgg { return &sumAgg{expr: expr} }
func (a *sumAgg) Add(t *dbtype.Tuple) error {
	v, err := a.expr.EvalExpr(t)
	if err != nil {
		return err
	}
	f, ok := v.(dbtype.IntField)
	if !ok {
		return dberrors.New(dberrors.TypeMismatch, "SUM requires an int field")
	}
	a.sum += f.Value
	return nil
}
func (a *sumAgg) Finalize() dbtype.DBValue { return dbtype.IntField{Value: a.sum} }
func (a *sumAgg) Copy() AggState           { c := *a; return &c }
func (a *sumAgg) FieldType(alias string) dbtype.FieldType {
	return dbtype.FieldType{Fname: alias, Ftype: dbtype.IntType}
}

type avgAgg struct {
	expr  dbtype.Expr
	sum   int64
	count int64
}

func newAvgAgg(expr dbtype.Expr) *avgAgg { return &avgAgg{expr: expr} }
func (a *avgAgg) Add(t *dbtype.Tuple) error {
	v, err := a.expr.EvalExpr(t)
	if err != nil {
		return err
	}
	f, ok := v.(dbtype.IntField)
	if !ok {
		return dberrors.New(dberrors.TypeMismatch, "AVG requires an int field")
	}
	a.sum += f.Value
	a.count++
	return nil
}
func (a *avgAgg) Finalize() dbtype.DBValue {
	if a.count == 0 {
		return dbtype.IntField{Value: 0}
	}
	return dbtype.IntField{Value: a.sum / a.count}
}
func (a *avgAgg) Copy() AggState { c := *a; return &c }
func (a *avgAgg) FieldType(alias string) dbtype.FieldType {
	return dbtype.FieldType{Fname: alias, Ftype: dbtype.IntType}
}

type extremeAgg struct {
	expr  dbtype.Expr
	want  dbtype.BoolOp // GreaterThan for MAX, LessThan for MIN
	value dbtype.DBValue
}

func newMaxAgg(expr dbtype.Expr) *extremeAgg { return &extremeAgg{expr: expr, want: dbtype.GreaterThan} }
func newMinAgg(expr dbtype.Expr) *extremeAgg { return &extremeAgg{expr: expr, want: dbtype.LessThan} }

func (a *extremeAgg) Add(t *dbtype.Tuple) error {
	v, err := a.expr.EvalExpr(t)
	if err != nil {
		return err
	}
	if a.value == nil || v.EvalPred(a.value, a.want) {
		a.value = v
	}
	return nil
}
func (a *extremeAgg) Finalize() dbtype.DBValue { return a.value }
func (a *extremeAgg) Copy() AggState           { c := *a; return &c }
func (a *extremeAgg) FieldType(alias string) dbtype.FieldType {
	return dbtype.FieldType{Fname: alias, Ftype: a.expr.GetExprType().Ftype}
}

// AggFunc names one of the supported aggregate functions.
type AggFunc int

const (
	Count AggFunc = iota
	Sum
	Avg
	Min
	Max
)

func newAggState(fn AggFunc, expr dbtype.Expr) (AggState, error) {
	switch fn {
	case Count:
		return newCountAgg(expr), nil
	case Sum:
		return newSumAgg(expr), nil
	case Avg:
		return newAvgAgg(expr), nil
	case Min:
		return newMinAgg(expr), nil
	case Max:
		return newMaxAgg(expr), nil
	}
	return nil, dberrors.New(dberrors.BadInput, "unknown aggregate function")
}
