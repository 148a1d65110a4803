package pgreactor

import (
	"errors"
	"fmt"
)

// Common errors
var (
	// ErrInvalidConfig is returned when the connection configuration is invalid
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrOperationInProgress is returned when an operation is submitted while
	// another one is still in flight on the same connection
	ErrOperationInProgress = errors.New("another operation is in progress")

	// ErrConnBroken is returned once the connection hit a fatal protocol or I/O failure
	ErrConnBroken = errors.New("connection is broken")

	// ErrConnClosed is returned when using a closed connection
	ErrConnClosed = errors.New("connection is closed")

	// ErrProtocolViolation is returned when the server breaks the result contract,
	// e.g. a single-statement request yields more than one result
	ErrProtocolViolation = errors.New("protocol contract violation")

	// =========================================================================
	// Transaction errors
	// =========================================================================

	// ErrTxDone is returned when using a transaction after commit or rollback
	ErrTxDone = errors.New("transaction has already been committed or rolled back")

	// ErrBeginFailed is returned when BEGIN did not succeed
	ErrBeginFailed = errors.New("failed to begin transaction")

	// =========================================================================
	// Statement and result errors
	// =========================================================================

	// ErrEmptyStatementName is returned when preparing or executing an unnamed statement
	ErrEmptyStatementName = errors.New("statement name must not be empty")

	// ErrResultDone is returned when reading rows from the end-of-sequence sentinel
	ErrResultDone = errors.New("result is the end-of-sequence sentinel")

	// ErrRowOutOfRange is returned when a row index is past the end of the result
	ErrRowOutOfRange = errors.New("row index out of range")

	// ErrColumnOutOfRange is returned when a column index is past the end of the row
	ErrColumnOutOfRange = errors.New("column index out of range")

	// ErrNoAffectedRows is returned when the statement type carries no affected-row count
	ErrNoAffectedRows = errors.New("invalid query type for affected rows")
)

// ErrorKind classifies engine failures.
type ErrorKind int

const (
	// KindConnect is a construction failure: connect, handshake or socket setup.
	KindConnect ErrorKind = iota + 1

	// KindSend means the request could not be handed to the protocol driver.
	// Nothing was started and no handler will run.
	KindSend

	// KindIO is a flush or consume failure during readiness processing.
	KindIO

	// KindProtocol is a broken result contract. The connection is unusable afterwards.
	KindProtocol
)

// String returns the string representation of the error kind.
func (k ErrorKind) String() string {
	switch k {
	case KindConnect:
		return "connect"
	case KindSend:
		return "send"
	case KindIO:
		return "io"
	case KindProtocol:
		return "protocol"
	default:
		return "unknown"
	}
}

// OpError is an engine failure with its operation and kind
type OpError struct {
	Op   string    // Operation that failed, e.g. "exec", "prepare"
	Kind ErrorKind // Failure class
	Err  error     // Underlying error
}

// Error implements the error interface
func (e *OpError) Error() string {
	return fmt.Sprintf("%s (%s): %v", e.Op, e.Kind, e.Err)
}

// Unwrap returns the underlying error
func (e *OpError) Unwrap() error {
	return e.Err
}

// NewOpError creates a new OpError
func NewOpError(op string, kind ErrorKind, err error) *OpError {
	return &OpError{
		Op:   op,
		Kind: kind,
		Err:  err,
	}
}

// IsKind reports whether err is an *OpError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var opErr *OpError
	return errors.As(err, &opErr) && opErr.Kind == kind
}
