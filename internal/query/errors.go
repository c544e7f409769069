package query

import "fmt"

// ErrorKind classifies a QueryError.
type ErrorKind string

const (
	ErrExecutionFailed ErrorKind = "execution_failed"
	ErrTimeout         ErrorKind = "timeout"
	// ErrRejected is a statement refused by the SELECT-only validator.
	ErrRejected ErrorKind = "rejected"
	// ErrUnsupported is an operation that does not apply to the engine's kind.
	ErrUnsupported ErrorKind = "unsupported"
)

// QueryError is returned by the adapter for retrieval and SQL failures.
type QueryError struct {
	Kind   ErrorKind
	Engine string
	Detail string
	Err    error
}

func (e *QueryError) Error() string {
	msg := fmt.Sprintf("query engine %s: %s", e.Engine, e.Kind)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *QueryError) Unwrap() error { return e.Err }
