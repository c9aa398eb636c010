package parser

import (
	"path/filepath"
	"testing"

	"github.com/gopherdb/txndb/internal/buffer"
	"github.com/gopherdb/txndb/internal/catalog"
	"github.com/gopherdb/txndb/internal/dbtype"
	"github.com/gopherdb/txndb/internal/heap"
)

func setupCatalog(t *testing.T) (*buffer.BufferPool, *catalog.Catalog) {
	t.Helper()
	bp := buffer.NewBufferPool(buffer.DefaultConfig())
	desc := &dbtype.TupleDesc{Fields: []dbtype.FieldType{
		{Fname: "id", Ftype: dbtype.IntType},
		{Fname: "name", Ftype: dbtype.StringType},
	}}
	f, err := heap.NewHeapFile(1, filepath.Join(t.TempDir(), "widgets.dat"), desc, bp)
	if err != nil {
		t.Fatalf("NewHeapFile: %v", err)
	}
	cat := catalog.New()
	cat.AddTable("widgets", f)
	return bp, cat
}

func runOp(t *testing.T, bp *buffer.BufferPool, op interface {
	Iterator(tid buffer.TxnID) (func() (*dbtype.Tuple, error), error)
}) []*dbtype.Tuple {
	t.Helper()
	tid := buffer.NewTxnID()
	bp.BeginTransaction(tid)
	iter, err := op.Iterator(tid)
	if err != nil {
		t.Fatalf("Iterator: %v", err)
	}
	var out []*dbtype.Tuple
	for {
		tup, err := iter()
		if err != nil {
			t.Fatalf("iterate: %v", err)
		}
		if tup == nil {
			break
		}
		out = append(out, tup)
	}
	bp.CommitTransaction(tid)
	return out
}

func TestParseInsertThenSelect(t *testing.T) {
	bp, cat := setupCatalog(t)

	insertOp, err := Parse(`insert into widgets (id, name) values (1, 'alice'), (2, 'bob')`, cat)
	if err != nil {
		t.Fatalf("Parse insert: %v", err)
	}
	rows := runOp(t, bp, insertOp)
	if len(rows) != 1 || rows[0].Fields[0].(dbtype.IntField).Value != 2 {
		t.Fatalf("expected insert count 2, got %v", rows)
	}

	selectOp, err := Parse(`select id, name from widgets where id > 1`, cat)
	if err != nil {
		t.Fatalf("Parse select: %v", err)
	}
	got := runOp(t, bp, selectOp)
	if len(got) != 1 {
		t.Fatalf("expected 1 row, got %d", len(got))
	}
}

func TestParseDelete(t *testing.T) {
	bp, cat := setupCatalog(t)
	insertOp, err := Parse(`insert into widgets (id, name) values (1, 'alice')`, cat)
	if err != nil {
		t.Fatalf("Parse insert: %v", err)
	}
	runOp(t, bp, insertOp)

	deleteOp, err := Parse(`delete from widgets where id = 1`, cat)
	if err != nil {
		t.Fatalf("Parse delete: %v", err)
	}
	rows := runOp(t, bp, deleteOp)
	if len(rows) != 1 || rows[0].Fields[0].(dbtype.IntField).Value != 1 {
		t.Fatalf("expected delete count 1, got %v", rows)
	}
}

func TestParseRejectsUnsupportedStatement(t *testing.T) {
	_, cat := setupCatalog(t)
	if _, err := Parse(`select * from widgets join other on widgets.id = other.id`, cat); err == nil {
		t.Fatalf("expected an error for a multi-table FROM clause")
	}
}
