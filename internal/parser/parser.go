// Package parser turns a small subset of SQL text into a query.Operator
// tree: single-table SELECT (with an optional WHERE/ORDER BY/LIMIT/GROUP
// BY), INSERT INTO ... VALUES, and single-table DELETE. Statements beyond
// that subset return an error naming what was unsupported, rather than
// silently mis-parsing.
package parser

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/xwb1989/sqlparser"

	"github.com/gopherdb/txndb/internal/buffer"
	"github.com/gopherdb/txndb/internal/catalog"
	"github.com/gopherdb/txndb/internal/dberrors"
	"github.com/gopherdb/txndb/internal/dbtype"
	"github.com/gopherdb/txndb/internal/query"
)

// Parse compiles sql into a runnable query.Operator against the tables
// registered in cat.
func Parse(sql string, cat *catalog.Catalog) (query.Operator, error) {
	stmt, err := sqlparser.Parse(sql)
	if err != nil {
		return nil, dberrors.Wrap(dberrors.BadInput, "parse error", err)
	}

	switch s := stmt.(type) {
	case *sqlparser.Select:
		return parseSelect(s, cat)
	case *sqlparser.Insert:
		return parseInsert(s, cat)
	case *sqlparser.Delete:
		return parseDelete(s, cat)
	default:
		return nil, dberrors.New(dberrors.BadInput, fmt.Sprintf("unsupported statement: %T", stmt))
	}
}

func parseSelect(s *sqlparser.Select, cat *catalog.Catalog) (query.Operator, error) {
	if len(s.From) != 1 {
		return nil, dberrors.New(dberrors.BadInput, "only single-table FROM clauses are supported")
	}
	aliased, ok := s.From[0].(*sqlparser.AliasedTableExpr)
	if !ok {
		return nil, dberrors.New(dberrors.BadInput, "unsupported FROM clause")
	}
	tableExpr, ok := aliased.Expr.(sqlparser.TableName)
	if !ok {
		return nil, dberrors.New(dberrors.BadInput, "unsupported FROM clause")
	}
	tableName := tableExpr.Name.String()
	alias := tableName
	if !aliased.As.IsEmpty() {
		alias = aliased.As.String()
	}

	file, err := cat.FileForTable(tableName)
	if err != nil {
		return nil, err
	}
	var op query.Operator = query.NewTableScan(file, alias)

	if s.Where != nil {
		op, err = applyWhere(op, s.Where.Expr, alias)
		if err != nil {
			return nil, err
		}
	}

	if len(s.GroupBy) > 0 || hasAggregates(s.SelectExprs) {
		op, err = buildGroupBy(op, s, alias)
		if err != nil {
			return nil, err
		}
	} else {
		op, err = applyProject(op, s.SelectExprs, alias, s.Distinct != "")
		if err != nil {
			return nil, err
		}
	}

	if len(s.OrderBy) > 0 {
		op, err = applyOrderBy(op, s.OrderBy, alias)
		if err != nil {
			return nil, err
		}
	}

	if s.Limit != nil && s.Limit.Rowcount != nil {
		n, err := evalConstInt(s.Limit.Rowcount)
		if err != nil {
			return nil, err
		}
		op = query.NewLimit(n, op)
	}

	return op, nil
}

func fieldFor(colName *sqlparser.ColName, defaultAlias string) dbtype.FieldType {
	qualifier := defaultAlias
	if !colName.Qualifier.Name.IsEmpty() {
		qualifier = colName.Qualifier.Name.String()
	}
	return dbtype.FieldType{Fname: colName.Name.String(), TableQualifier: qualifier}
}

func exprFor(e sqlparser.Expr, defaultAlias string) (dbtype.Expr, error) {
	switch v := e.(type) {
	case *sqlparser.ColName:
		return dbtype.FieldExpr{Field: fieldFor(v, defaultAlias)}, nil
	case *sqlparser.SQLVal:
		return constFromSQLVal(v)
	default:
		return nil, dberrors.New(dberrors.BadInput, fmt.Sprintf("unsupported expression: %T", e))
	}
}

func constFromSQLVal(v *sqlparser.SQLVal) (dbtype.Expr, error) {
	switch v.Type {
	case sqlparser.IntVal:
		n, err := strconv.ParseInt(string(v.Val), 10, 64)
		if err != nil {
			return nil, dberrors.New(dberrors.TypeMismatch, "invalid integer literal")
		}
		return dbtype.ConstExpr{Val: dbtype.IntField{Value: n}, Ftype: dbtype.IntType}, nil
	case sqlparser.StrVal:
		return dbtype.ConstExpr{Val: dbtype.StringField{Value: string(v.Val)}, Ftype: dbtype.StringType}, nil
	default:
		return nil, dberrors.New(dberrors.BadInput, "unsupported literal type")
	}
}

func evalConstInt(e sqlparser.Expr) (int64, error) {
	v, ok := e.(*sqlparser.SQLVal)
	if !ok || v.Type != sqlparser.IntVal {
		return 0, dberrors.New(dberrors.BadInput, "expected an integer literal")
	}
	return strconv.ParseInt(string(v.Val), 10, 64)
}

var comparisonOps = map[string]dbtype.BoolOp{
	sqlparser.EqualStr:        dbtype.Equals,
	sqlparser.NotEqualStr:     dbtype.NotEquals,
	sqlparser.LessThanStr:     dbtype.LessThan,
	sqlparser.LessEqualStr:    dbtype.LessThanOrEqual,
	sqlparser.GreaterThanStr:  dbtype.GreaterThan,
	sqlparser.GreaterEqualStr: dbtype.GreaterThanOrEqual,
	sqlparser.LikeStr:         dbtype.Like,
}

func applyWhere(child query.Operator, e sqlparser.Expr, alias string) (query.Operator, error) {
	cmp, ok := e.(*sqlparser.ComparisonExpr)
	if !ok {
		return nil, dberrors.New(dberrors.BadInput, "only simple comparisons are supported in WHERE")
	}
	op, ok := comparisonOps[cmp.Operator]
	if !ok {
		return nil, dberrors.New(dberrors.BadInput, fmt.Sprintf("unsupported comparison operator %q", cmp.Operator))
	}
	left, err := exprFor(cmp.Left, alias)
	if err != nil {
		return nil, err
	}
	right, err := exprFor(cmp.Right, alias)
	if err != nil {
		return nil, err
	}
	return query.NewFilter(left, op, right, child), nil
}

func applyProject(child query.Operator, exprs sqlparser.SelectExprs, alias string, distinct bool) (query.Operator, error) {
	if len(exprs) == 1 {
		if _, ok := exprs[0].(*sqlparser.StarExpr); ok {
			if !distinct {
				return child, nil
			}
		}
	}

	var fields []dbtype.Expr
	var names []string
	for _, se := range exprs {
		aliased, ok := se.(*sqlparser.AliasedExpr)
		if !ok {
			return nil, dberrors.New(dberrors.BadInput, "unsupported select expression")
		}
		fe, err := exprFor(aliased.Expr, alias)
		if err != nil {
			return nil, err
		}
		name := fe.GetExprType().Fname
		if !aliased.As.IsEmpty() {
			name = aliased.As.String()
		}
		fields = append(fields, fe)
		names = append(names, name)
	}
	return query.NewProject(fields, names, distinct, child)
}

func applyOrderBy(child query.Operator, orderBy sqlparser.OrderBy, alias string) (query.Operator, error) {
	var fields []dbtype.Expr
	var ascending []bool
	for _, o := range orderBy {
		fe, err := exprFor(o.Expr, alias)
		if err != nil {
			return nil, err
		}
		fields = append(fields, fe)
		ascending = append(ascending, o.Direction != sqlparser.DescScr)
	}
	return query.NewOrderBy(fields, ascending, child), nil
}

func hasAggregates(exprs sqlparser.SelectExprs) bool {
	for _, se := range exprs {
		aliased, ok := se.(*sqlparser.AliasedExpr)
		if !ok {
			continue
		}
		if _, ok := aliased.Expr.(*sqlparser.FuncExpr); ok {
			return true
		}
	}
	return false
}

var aggFuncNames = map[string]query.AggFunc{
	"count": query.Count,
	"sum":   query.Sum,
	"avg":   query.Avg,
	"min":   query.Min,
	"max":   query.Max,
}

func buildGroupBy(child query.Operator, s *sqlparser.Select, alias string) (query.Operator, error) {
	var groupBy []dbtype.Expr
	for _, e := range s.GroupBy {
		fe, err := exprFor(e, alias)
		if err != nil {
			return nil, err
		}
		groupBy = append(groupBy, fe)
	}

	var specs []query.AggSpec
	for _, se := range s.SelectExprs {
		aliased, ok := se.(*sqlparser.AliasedExpr)
		if !ok {
			return nil, dberrors.New(dberrors.BadInput, "unsupported select expression")
		}
		fn, ok := aliased.Expr.(*sqlparser.FuncExpr)
		if !ok {
			// a bare column in a GROUP BY query must itself be a grouping key;
			// query.GroupBy always emits the grouping columns first, so nothing
			// further is needed here.
			continue
		}
		aggFn, ok := aggFuncNames[strings.ToLower(fn.Name.String())]
		if !ok {
			return nil, dberrors.New(dberrors.BadInput, fmt.Sprintf("unsupported aggregate function %q", fn.Name.String()))
		}
		if len(fn.Exprs) != 1 {
			return nil, dberrors.New(dberrors.BadInput, "aggregate functions take exactly one argument")
		}
		argAliased, ok := fn.Exprs[0].(*sqlparser.AliasedExpr)
		if !ok {
			return nil, dberrors.New(dberrors.BadInput, "unsupported aggregate argument")
		}
		argExpr, err := exprFor(argAliased.Expr, alias)
		if err != nil {
			return nil, err
		}
		name := strings.ToLower(fn.Name.String())
		if !aliased.As.IsEmpty() {
			name = aliased.As.String()
		}
		specs = append(specs, query.AggSpec{Fn: aggFn, Expr: argExpr, Alias: name})
	}

	return query.NewGroupBy(groupBy, specs, child), nil
}

func parseInsert(s *sqlparser.Insert, cat *catalog.Catalog) (query.Operator, error) {
	tableName := s.Table.Name.String()
	file, err := cat.FileForTable(tableName)
	if err != nil {
		return nil, err
	}
	desc := file.Descriptor()

	values, ok := s.Rows.(sqlparser.Values)
	if !ok {
		return nil, dberrors.New(dberrors.BadInput, "only INSERT ... VALUES is supported")
	}

	var rows []*dbtype.Tuple
	for _, tuple := range values {
		if len(tuple) != len(desc.Fields) {
			return nil, dberrors.New(dberrors.MalformedData, "value count does not match table schema")
		}
		fields := make([]dbtype.DBValue, len(tuple))
		for i, e := range tuple {
			val, ok := e.(*sqlparser.SQLVal)
			if !ok {
				return nil, dberrors.New(dberrors.BadInput, "only literal values are supported in INSERT")
			}
			ce, err := constFromSQLVal(val)
			if err != nil {
				return nil, err
			}
			fields[i] = ce.(dbtype.ConstExpr).Val
		}
		rows = append(rows, &dbtype.Tuple{Desc: *desc, Fields: fields})
	}

	return query.NewInsertOp(file, &literalRows{desc: desc, rows: rows}), nil
}

func parseDelete(s *sqlparser.Delete, cat *catalog.Catalog) (query.Operator, error) {
	if len(s.TableExprs) != 1 {
		return nil, dberrors.New(dberrors.BadInput, "only single-table DELETE is supported")
	}
	aliased, ok := s.TableExprs[0].(*sqlparser.AliasedTableExpr)
	if !ok {
		return nil, dberrors.New(dberrors.BadInput, "unsupported DELETE target")
	}
	tableExpr, ok := aliased.Expr.(sqlparser.TableName)
	if !ok {
		return nil, dberrors.New(dberrors.BadInput, "unsupported DELETE target")
	}
	tableName := tableExpr.Name.String()

	file, err := cat.FileForTable(tableName)
	if err != nil {
		return nil, err
	}

	var op query.Operator = query.NewTableScan(file, tableName)
	if s.Where != nil {
		op, err = applyWhere(op, s.Where.Expr, tableName)
		if err != nil {
			return nil, err
		}
	}
	return query.NewDeleteOp(file, op), nil
}

// literalRows replays a fixed, already-typed slice of tuples -- the operand
// of an INSERT ... VALUES statement, which has no table to scan.
type literalRows struct {
	desc *dbtype.TupleDesc
	rows []*dbtype.Tuple
}

func (l *literalRows) Descriptor() *dbtype.TupleDesc { return l.desc }
func (l *literalRows) Iterator(tid buffer.TxnID) (func() (*dbtype.Tuple, error), error) {
	i := 0
	return func() (*dbtype.Tuple, error) {
		if i >= len(l.rows) {
			return nil, nil
		}
		t := l.rows[i]
		i++
		return t, nil
	}, nil
}
