// Package catalog tracks the tables known to a running database: their
// names, schemas, and backing HeapFiles. The reference implementation we
// learned this engine from kept table metadata in a flat text file read at
// startup; we supplement that with an in-memory Catalog so the parser and
// CLI can resolve table names without re-parsing that file on every query.
package catalog

import (
	"fmt"
	"sync"

	"github.com/gopherdb/txndb/internal/dberrors"
	"github.com/gopherdb/txndb/internal/dbtype"
	"github.com/gopherdb/txndb/internal/heap"
)

type tableEntry struct {
	file *heap.HeapFile
	desc *dbtype.TupleDesc
}

// Catalog is a concurrency-safe table-name -> HeapFile registry.
type Catalog struct {
	mu     sync.RWMutex
	tables map[string]tableEntry
	// order preserves registration order, e.g. for a \tables CLI listing.
	order []string
}

func New() *Catalog {
	return &Catalog{tables: make(map[string]tableEntry)}
}

// AddTable registers name as backed by file. Re-registering an existing name
// replaces its entry (used when a CLI session re-creates a table).
func (c *Catalog) AddTable(name string, file *heap.HeapFile) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.tables[name]; !exists {
		c.order = append(c.order, name)
	}
	c.tables[name] = tableEntry{file: file, desc: file.Descriptor()}
}

// FileForTable returns the HeapFile backing name, or an error if unknown.
func (c *Catalog) FileForTable(name string) (*heap.HeapFile, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.tables[name]
	if !ok {
		return nil, dberrors.New(dberrors.BadInput, fmt.Sprintf("table %q does not exist", name))
	}
	return e.file, nil
}

// SchemaForTable returns the TupleDesc of name, or an error if unknown.
func (c *Catalog) SchemaForTable(name string) (*dbtype.TupleDesc, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.tables[name]
	if !ok {
		return nil, dberrors.New(dberrors.BadInput, fmt.Sprintf("table %q does not exist", name))
	}
	return e.desc, nil
}

// TableNames returns every registered table name in registration order.
func (c *Catalog) TableNames() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}
