// Package dberrors defines the closed set of error kinds surfaced by the
// engine, grounded on the GoDBError pattern used throughout the lab's tuple
// and heap file code.
package dberrors

import "fmt"

// Code classifies a GoDBError. Callers should switch on Code rather than
// inspect the message string.
type Code int

const (
	// BufferPoolFull means the page cache has no evictable victim (every
	// resident page is dirty or locked).
	BufferPoolFull Code = iota
	// MalformedData means a CSV load or wire-format read didn't match the
	// expected shape.
	MalformedData
	// TypeMismatch means a field's runtime type didn't match its declared
	// DBType.
	TypeMismatch
	// AmbiguousName means a field reference matched more than one column
	// with no table qualifier to disambiguate.
	AmbiguousName
	// IncompatibleTypes means an expression or predicate was evaluated over
	// fields of the wrong types.
	IncompatibleTypes
	// BadInput means a caller-supplied argument (nil tuple, missing table,
	// wrong schema) was invalid and not retryable.
	BadInput
	// TxnAborted means the lock table detected a deadlock cycle that
	// granting this request would close, or the wait was interrupted.
	TxnAborted
	// IO means the underlying page store failed a read or write.
	IO
)

func (c Code) String() string {
	switch c {
	case BufferPoolFull:
		return "buffer pool full"
	case MalformedData:
		return "malformed data"
	case TypeMismatch:
		return "type mismatch"
	case AmbiguousName:
		return "ambiguous name"
	case IncompatibleTypes:
		return "incompatible types"
	case BadInput:
		return "bad input"
	case TxnAborted:
		return "transaction aborted"
	case IO:
		return "io error"
	}
	return "unknown error"
}

// GoDBError is the error type returned by every engine package. It carries a
// Code so callers can branch on error kind rather than parse strings.
type GoDBError struct {
	Code Code
	Msg  string
	err  error // wrapped cause, if any
}

func New(code Code, msg string) GoDBError {
	return GoDBError{Code: code, Msg: msg}
}

func Wrap(code Code, msg string, cause error) GoDBError {
	return GoDBError{Code: code, Msg: msg, err: cause}
}

func (e GoDBError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Msg, e.err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

func (e GoDBError) Unwrap() error {
	return e.err
}

// Is allows errors.Is(err, dberrors.New(dberrors.TxnAborted, "")) style
// comparisons: any GoDBError target with the same Code matches, whatever its
// Msg.
func (e GoDBError) Is(target error) bool {
	t, ok := target.(GoDBError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}
