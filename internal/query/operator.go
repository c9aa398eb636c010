// Package query implements the relational operators that sit above the
// buffer pool: table scans are supplied by internal/heap, everything else
// here composes child operators into a pull-based iterator tree.
package query

import (
	"github.com/gopherdb/txndb/internal/buffer"
	"github.com/gopherdb/txndb/internal/dbtype"
)

// Operator is any node in a query plan: it can describe its output schema
// and produce a pull-style iterator over its result tuples.
type Operator interface {
	Descriptor() *dbtype.TupleDesc
	Iterator(tid buffer.TxnID) (func() (*dbtype.Tuple, error), error)
}

// drain pulls every remaining tuple out of iter into a slice. Used by
// operators (join, order by) that must materialize their input before
// producing their first output tuple.
func drain(iter func() (*dbtype.Tuple, error)) ([]*dbtype.Tuple, error) {
	var out []*dbtype.Tuple
	for {
		t, err := iter()
		if err != nil {
			return nil, err
		}
		if t == nil {
			return out, nil
		}
		out = append(out, t)
	}
}
