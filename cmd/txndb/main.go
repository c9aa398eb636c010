// Command txndb is an interactive SQL shell over the transactional buffer
// pool: CREATE TABLE/INSERT/SELECT/DELETE statements run against HeapFile
// tables registered in a Catalog, with explicit BEGIN/COMMIT/ABORT
// controlling the session's current transaction.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/chzyer/readline"

	"github.com/gopherdb/txndb/internal/buffer"
	"github.com/gopherdb/txndb/internal/catalog"
	"github.com/gopherdb/txndb/internal/dblog"
	"github.com/gopherdb/txndb/internal/dbtype"
	"github.com/gopherdb/txndb/internal/heap"
	"github.com/gopherdb/txndb/internal/parser"
)

func main() {
	dataDir := flag.String("datadir", ".", "directory holding table files")
	capacity := flag.Int("buffer-pages", 50, "buffer pool capacity, in pages")
	pageSize := flag.Int("page-size", 4096, "page size in bytes")
	flag.Parse()

	dbtype.SetPageSizeForTest(*pageSize)

	if err := os.MkdirAll(*dataDir, 0755); err != nil {
		dblog.L().Fatal().Err(err).Msg("could not create data directory")
	}

	shell := &shell{
		bp:      buffer.NewBufferPool(buffer.Config{Capacity: *capacity}),
		cat:     catalog.New(),
		dataDir: *dataDir,
	}

	rl, err := readline.New("txndb> ")
	if err != nil {
		dblog.L().Fatal().Err(err).Msg("could not start readline")
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			if len(line) == 0 {
				break
			}
			continue
		}
		if err == io.EOF {
			break
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if err := shell.run(line); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
		}
	}

	if shell.tid != nil {
		shell.bp.AbortTransaction(*shell.tid)
	}
}

type shell struct {
	bp      *buffer.BufferPool
	cat     *catalog.Catalog
	dataDir string
	tid     *buffer.TxnID
}

func (s *shell) run(line string) error {
	switch {
	case strings.EqualFold(line, "begin") || strings.EqualFold(line, "begin;"):
		return s.begin()
	case strings.EqualFold(line, "commit") || strings.EqualFold(line, "commit;"):
		return s.commit()
	case strings.EqualFold(line, "abort") || strings.EqualFold(line, "abort;"):
		return s.abort()
	case line == `\tables`:
		for _, name := range s.cat.TableNames() {
			fmt.Println(name)
		}
		return nil
	case strings.HasPrefix(line, `\schema `):
		return s.printSchema(strings.TrimSpace(strings.TrimPrefix(line, `\schema `)))
	case strings.HasPrefix(strings.ToUpper(line), "CREATE TABLE"):
		return s.createTable(line)
	default:
		return s.execSQL(line)
	}
}

func (s *shell) begin() error {
	if s.tid != nil {
		return fmt.Errorf("a transaction is already active")
	}
	tid := buffer.NewTxnID()
	if err := s.bp.BeginTransaction(tid); err != nil {
		return err
	}
	s.tid = &tid
	return nil
}

func (s *shell) commit() error {
	if s.tid == nil {
		return fmt.Errorf("no active transaction")
	}
	err := s.bp.CommitTransaction(*s.tid)
	s.tid = nil
	return err
}

func (s *shell) abort() error {
	if s.tid == nil {
		return fmt.Errorf("no active transaction")
	}
	err := s.bp.AbortTransaction(*s.tid)
	s.tid = nil
	return err
}

func (s *shell) printSchema(table string) error {
	desc, err := s.cat.SchemaForTable(table)
	if err != nil {
		return err
	}
	fmt.Println(desc.HeaderString(false))
	return nil
}

// createTable handles the non-standard meta-syntax:
//
//	CREATE TABLE name (col type, col type, ...) FROM 'path.csv' [HEADER]
//
// where type is INT or STRING. This is not SQL sqlparser understands, so it
// is parsed by hand before anything reaches the parser package.
func (s *shell) createTable(line string) error {
	rest := strings.TrimSpace(line[len("CREATE TABLE"):])
	nameEnd := strings.IndexAny(rest, " (")
	if nameEnd < 0 {
		return fmt.Errorf("malformed CREATE TABLE")
	}
	name := rest[:nameEnd]
	rest = strings.TrimSpace(rest[nameEnd:])

	open := strings.Index(rest, "(")
	shut := strings.Index(rest, ")")
	if open < 0 || shut < 0 || shut < open {
		return fmt.Errorf("malformed column list")
	}
	colSpecs := strings.Split(rest[open+1:shut], ",")
	desc := &dbtype.TupleDesc{}
	for _, spec := range colSpecs {
		parts := strings.Fields(strings.TrimSpace(spec))
		if len(parts) != 2 {
			return fmt.Errorf("malformed column spec %q", spec)
		}
		var ftype dbtype.DBType
		switch strings.ToUpper(parts[1]) {
		case "INT":
			ftype = dbtype.IntType
		case "STRING":
			ftype = dbtype.StringType
		default:
			return fmt.Errorf("unknown column type %q", parts[1])
		}
		desc.Fields = append(desc.Fields, dbtype.FieldType{Fname: parts[0], Ftype: ftype})
	}

	rest = strings.TrimSpace(rest[shut+1:])
	hasHeader := strings.HasSuffix(strings.ToUpper(rest), "HEADER")
	rest = strings.TrimSuffix(strings.TrimSpace(strings.TrimSuffix(rest, "HEADER")), "HEADER")
	rest = strings.TrimSpace(rest)
	if !strings.HasPrefix(strings.ToUpper(rest), "FROM") {
		return fmt.Errorf("expected FROM 'path.csv'")
	}
	csvPath := strings.Trim(strings.TrimSpace(rest[len("FROM"):]), "'\"")

	tableID := len(s.cat.TableNames()) + 1
	backing := s.dataDir + "/" + name + ".dat"
	file, err := heap.NewHeapFile(tableID, backing, desc, s.bp)
	if err != nil {
		return err
	}
	s.cat.AddTable(name, file)

	if csvPath == "" {
		return nil
	}
	csvFile, err := os.Open(csvPath)
	if err != nil {
		return err
	}
	defer csvFile.Close()
	return file.LoadFromCSV(csvFile, hasHeader, ",", false)
}

func (s *shell) execSQL(sql string) error {
	op, err := parser.Parse(sql, s.cat)
	if err != nil {
		return err
	}

	tid := s.tid
	standalone := tid == nil
	if standalone {
		t := buffer.NewTxnID()
		if err := s.bp.BeginTransaction(t); err != nil {
			return err
		}
		tid = &t
	}

	iter, err := op.Iterator(*tid)
	if err != nil {
		if standalone {
			s.bp.AbortTransaction(*tid)
		}
		return err
	}

	desc := op.Descriptor()
	fmt.Println(desc.HeaderString(true))
	count := 0
	for {
		t, err := iter()
		if err != nil {
			if standalone {
				s.bp.AbortTransaction(*tid)
			}
			return err
		}
		if t == nil {
			break
		}
		fmt.Println(t.PrettyPrintString(true))
		count++
	}

	fmt.Printf("(%d rows)\n", count)

	if standalone {
		return s.bp.CommitTransaction(*tid)
	}
	return nil
}
