// Package dbtype defines the tuple/field/schema types the rest of the
// engine exchanges: DBType, FieldType, TupleDesc, DBValue, and Tuple. It has
// no dependencies on the buffer pool or storage layers, so both can depend
// on it without creating an import cycle.
package dbtype

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/gopherdb/txndb/internal/dberrors"
)

// PageSize is the process-wide page size in bytes. It is settable only for
// tests, via SetPageSizeForTest/ResetPageSize.
var pageSize int64 = 4096

const defaultPageSize = 4096

// StringLength is the fixed, padded length of a serialized string field.
const StringLength = 32

func PageSize() int {
	return int(atomic.LoadInt64(&pageSize))
}

// SetPageSizeForTest overrides the process-wide page size. Tests must call
// ResetPageSize when done.
func SetPageSizeForTest(n int) {
	atomic.StoreInt64(&pageSize, int64(n))
}

func ResetPageSize() {
	atomic.StoreInt64(&pageSize, defaultPageSize)
}

// DBType is the type of a tuple field, e.g. IntType or StringType.
type DBType int

const (
	// UnknownType is the zero value, so a FieldType built without specifying
	// Ftype (as FieldExpr does for a bare column reference) matches a field
	// of any type in FindField rather than only IntType.
	UnknownType DBType = iota
	IntType
	StringType
)

func (t DBType) String() string {
	switch t {
	case IntType:
		return "int"
	case StringType:
		return "string"
	}
	return "unknown"
}

// FieldType is the type of a field in a tuple: its name, the table it
// qualifies (which may be empty if unspecified in a query), and its DBType.
type FieldType struct {
	Fname          string
	TableQualifier string
	Ftype          DBType
}

// TupleDesc is the "type" of a tuple: its field names and types.
type TupleDesc struct {
	Fields []FieldType
}

// Equals reports whether d1 and d2 have the same fields in the same order.
func (d1 *TupleDesc) Equals(d2 *TupleDesc) bool {
	if len(d1.Fields) != len(d2.Fields) {
		return false
	}
	for i := range d1.Fields {
		if d1.Fields[i].Fname != d2.Fields[i].Fname || d1.Fields[i].Ftype != d2.Fields[i].Ftype {
			return false
		}
	}
	return true
}

// Copy returns a deep copy of the field slice (assigning one TupleDesc to
// another does not copy the underlying slice).
func (td *TupleDesc) Copy() *TupleDesc {
	fields := make([]FieldType, len(td.Fields))
	copy(fields, td.Fields)
	return &TupleDesc{Fields: fields}
}

// SetTableAlias assigns the TableQualifier of every field to alias.
func (td *TupleDesc) SetTableAlias(alias string) {
	fields := make([]FieldType, len(td.Fields))
	copy(fields, td.Fields)
	for i := range fields {
		fields[i].TableQualifier = alias
	}
	td.Fields = fields
}

// Merge returns a new TupleDesc consisting of d's fields followed by d2's.
func (d *TupleDesc) Merge(d2 *TupleDesc) *TupleDesc {
	fields := make([]FieldType, 0, len(d.Fields)+len(d2.Fields))
	fields = append(fields, d.Fields...)
	fields = append(fields, d2.Fields...)
	return &TupleDesc{Fields: fields}
}

// FindField finds the best matching field in desc for field. A match
// requires the same Fname and (Ftype or field.Ftype == UnknownType),
// preferring a TableQualifier match when field specifies one.
func FindField(field FieldType, desc *TupleDesc) (int, error) {
	best := -1
	for i, f := range desc.Fields {
		if f.Fname != field.Fname || (f.Ftype != field.Ftype && field.Ftype != UnknownType) {
			continue
		}
		if field.TableQualifier == "" && best != -1 {
			return 0, dberrors.New(dberrors.AmbiguousName, fmt.Sprintf("select name %s is ambiguous", f.Fname))
		}
		if f.TableQualifier == field.TableQualifier || best == -1 {
			best = i
		}
	}
	if best != -1 {
		return best, nil
	}
	return -1, dberrors.New(dberrors.IncompatibleTypes, fmt.Sprintf("field %s.%s not found", field.TableQualifier, field.Fname))
}

// HeaderString formats a human-readable header for this TupleDesc.
func (td *TupleDesc) HeaderString(aligned bool) string {
	out := ""
	for i, f := range td.Fields {
		name := f.Fname
		if f.TableQualifier != "" {
			name = f.TableQualifier + "." + name
		}
		if aligned {
			out = fmt.Sprintf("%s %s", out, fmtCol(name, len(td.Fields)))
		} else {
			sep := ","
			if i == 0 {
				sep = ""
			}
			out = fmt.Sprintf("%s%s%s", out, sep, name)
		}
	}
	return out
}

// ================== Tuple values ======================

// DBValue is a field's runtime value: IntField or StringField.
type DBValue interface {
	EvalPred(v DBValue, op BoolOp) bool
}

type IntField struct {
	Value int64
}

type StringField struct {
	Value string
}

// BoolOp is a predicate comparison operator.
type BoolOp int

const (
	Equals BoolOp = iota
	NotEquals
	LessThan
	LessThanOrEqual
	GreaterThan
	GreaterThanOrEqual
	Like
)

func (f IntField) EvalPred(v DBValue, op BoolOp) bool {
	other, ok := v.(IntField)
	if !ok {
		return false
	}
	return evalCompare(cmpInt(f.Value, other.Value), op)
}

func (f StringField) EvalPred(v DBValue, op BoolOp) bool {
	other, ok := v.(StringField)
	if !ok {
		return false
	}
	if op == Like {
		return strings.Contains(f.Value, other.Value)
	}
	return evalCompare(cmpInt(int64(strings.Compare(f.Value, other.Value)), 0), op)
}

func cmpInt(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func evalCompare(cmp int, op BoolOp) bool {
	switch op {
	case Equals:
		return cmp == 0
	case NotEquals:
		return cmp != 0
	case LessThan:
		return cmp < 0
	case LessThanOrEqual:
		return cmp <= 0
	case GreaterThan:
		return cmp > 0
	case GreaterThanOrEqual:
		return cmp >= 0
	}
	return false
}

// Expr is evaluated against a tuple (or nil, for a constant) to produce a
// DBValue, e.g. a column reference or a literal used in a WHERE clause or a
// projection list.
type Expr interface {
	EvalExpr(t *Tuple) (DBValue, error)
	GetExprType() FieldType
}

// ConstExpr is a literal value, the same regardless of the tuple it is
// evaluated against.
type ConstExpr struct {
	Val   DBValue
	Ftype DBType
}

func (e ConstExpr) EvalExpr(t *Tuple) (DBValue, error) { return e.Val, nil }
func (e ConstExpr) GetExprType() FieldType             { return FieldType{Ftype: e.Ftype} }

// FieldExpr references a column by name, optionally qualified by table.
type FieldExpr struct {
	Field FieldType
}

func (e FieldExpr) EvalExpr(t *Tuple) (DBValue, error) {
	idx, err := FindField(e.Field, &t.Desc)
	if err != nil {
		return nil, err
	}
	return t.Fields[idx], nil
}

func (e FieldExpr) GetExprType() FieldType { return e.Field }

// recordID identifies where within a DBFile a tuple lives. DBFile
// implementations choose their own concrete type (internal/heap uses a
// page number + slot pair).
type RecordID interface{}

// Tuple is the contents of a row: its descriptor, field values, and
// (optionally) the RecordID it was read from, used by DeleteTuple.
type Tuple struct {
	Desc   TupleDesc
	Fields []DBValue
	Rid    RecordID
}

func writeStringField(b *bytes.Buffer, f StringField) error {
	padded := make([]byte, StringLength)
	copy(padded, []byte(f.Value))
	return binary.Write(b, binary.LittleEndian, padded)
}

func writeIntField(b *bytes.Buffer, f IntField) error {
	return binary.Write(b, binary.LittleEndian, f.Value)
}

// WriteTo serializes t's fields, in order, into b. Strings are padded to
// StringLength bytes; ints are written as little-endian int64s.
func (t *Tuple) WriteTo(b *bytes.Buffer) error {
	for _, field := range t.Fields {
		switch v := field.(type) {
		case StringField:
			if err := writeStringField(b, v); err != nil {
				return err
			}
		case IntField:
			if err := writeIntField(b, v); err != nil {
				return err
			}
		default:
			return dberrors.New(dberrors.TypeMismatch, fmt.Sprintf("unsupported field type %T", field))
		}
	}
	return nil
}

func readStringField(b *bytes.Buffer) (StringField, error) {
	raw := make([]byte, StringLength)
	if err := binary.Read(b, binary.LittleEndian, raw); err != nil {
		return StringField{}, err
	}
	return StringField{Value: strings.TrimRight(string(raw), "\x00")}, nil
}

func readIntField(b *bytes.Buffer) (IntField, error) {
	var v int64
	if err := binary.Read(b, binary.LittleEndian, &v); err != nil {
		return IntField{}, err
	}
	return IntField{Value: v}, nil
}

// ReadTupleFrom deserializes a tuple with the given TupleDesc from b.
func ReadTupleFrom(b *bytes.Buffer, desc *TupleDesc) (*Tuple, error) {
	t := &Tuple{Desc: *desc}
	for _, ft := range desc.Fields {
		switch ft.Ftype {
		case StringType:
			sf, err := readStringField(b)
			if err != nil {
				return nil, err
			}
			t.Fields = append(t.Fields, sf)
		default:
			intf, err := readIntField(b)
			if err != nil {
				return nil, err
			}
			t.Fields = append(t.Fields, intf)
		}
	}
	return t, nil
}

// Equals compares two tuples for equality of descriptor and field values.
func (t1 *Tuple) Equals(t2 *Tuple) bool {
	if t1 == nil && t2 == nil {
		return true
	}
	if t1 == nil || t2 == nil {
		return false
	}
	if len(t1.Fields) != len(t2.Fields) || !t1.Desc.Equals(&t2.Desc) {
		return false
	}
	for i := range t1.Fields {
		if t1.Fields[i] != t2.Fields[i] {
			return false
		}
	}
	return true
}

// Join merges t2's fields onto the end of t1's, producing a new Tuple with
// a merged TupleDesc.
func Join(t1, t2 *Tuple) *Tuple {
	if t1 == nil {
		return t2
	}
	if t2 == nil {
		return t1
	}
	return &Tuple{
		Desc:   *t1.Desc.Merge(&t2.Desc),
		Fields: append(append([]DBValue{}, t1.Fields...), t2.Fields...),
	}
}

// Project returns a new tuple containing just the named fields, preferring
// a TableQualifier match but falling back to a bare name match.
func (t *Tuple) Project(fields []FieldType) (*Tuple, error) {
	out := &Tuple{Desc: TupleDesc{}, Fields: []DBValue{}}
	for _, field := range fields {
		idx := -1
		for i, f := range t.Desc.Fields {
			if f.Fname == field.Fname && f.TableQualifier == field.TableQualifier {
				idx = i
				break
			}
		}
		if idx == -1 {
			for i, f := range t.Desc.Fields {
				if f.Fname == field.Fname {
					idx = i
					break
				}
			}
		}
		if idx == -1 {
			return nil, dberrors.New(dberrors.IncompatibleTypes, fmt.Sprintf("field %s.%s not found", field.TableQualifier, field.Fname))
		}
		out.Fields = append(out.Fields, t.Fields[idx])
		out.Desc.Fields = append(out.Desc.Fields, t.Desc.Fields[idx])
	}
	return out, nil
}

// Key returns a value suitable for use as a map key uniquely identifying
// t's contents, used to implement DISTINCT projection.
func (t *Tuple) Key() any {
	var buf bytes.Buffer
	t.WriteTo(&buf) //nolint:errcheck // best-effort key; malformed tuples simply collide
	return buf.String()
}

var winWidth = 120

func fmtCol(v string, ncols int) string {
	colWid := winWidth / ncols
	next := len(v) + 3
	rem := colWid - next
	if rem > 0 {
		right := rem / 2
		left := rem - right
		return strings.Repeat(" ", left) + v + strings.Repeat(" ", right) + " |"
	}
	if colWid-4 < 0 || colWid-4 > len(v) {
		return " " + v + " |"
	}
	return " " + v[0:colWid-4] + " |"
}

// PrettyPrintString formats t's field values, tabular if aligned.
func (t *Tuple) PrettyPrintString(aligned bool) string {
	out := ""
	for i, f := range t.Fields {
		str := ""
		switch v := f.(type) {
		case IntField:
			str = strconv.FormatInt(v.Value, 10)
		case StringField:
			str = v.Value
		}
		if aligned {
			out = fmt.Sprintf("%s %s", out, fmtCol(str, len(t.Fields)))
		} else {
			sep := ","
			if i == 0 {
				sep = ""
			}
			out = fmt.Sprintf("%s%s%s", out, sep, str)
		}
	}
	return out
}
