// Package driver defines the protocol driver abstraction used by pgreactor.
//
// A Protocol performs the wire-level request/response exchange with the
// server without ever blocking: requests are queued with one of the Send
// methods, pushed out with Flush, and responses are pulled in with
// ConsumeInput and handed out one result at a time by NextResult. The
// readiness of the underlying socket is exposed through Socket so an event
// loop can decide when to call back into the driver.
//
// The pgx/v5 implementation lives in github.com/youssefsiam38/pgreactor/driver/pgxv5.
package driver

import (
	"context"
)

// FlushStatus is the outcome of a Flush call.
type FlushStatus int

const (
	// FlushDone means all queued output reached the socket.
	FlushDone FlushStatus = iota

	// FlushWouldBlock means output is still pending; wait for write readiness and flush again.
	FlushWouldBlock

	// FlushError means the output could not be written. See LastError.
	FlushError
)

// String returns the string representation of the flush status.
func (s FlushStatus) String() string {
	switch s {
	case FlushDone:
		return "done"
	case FlushWouldBlock:
		return "would-block"
	case FlushError:
		return "error"
	default:
		return "unknown"
	}
}

// Protocol is the non-blocking protocol driver of a single server connection.
//
// Implementations are not safe for concurrent use. At most one request may be
// outstanding: a new Send call is only valid after NextResult returned nil
// for the previous one.
type Protocol interface {
	// SendQuery queues a simple-protocol query. The query may contain several
	// statements separated by ';' and cannot carry parameters. Results come back
	// in text format.
	SendQuery(sql string) error

	// SendQueryParams queues a single statement with positional parameters bound
	// to $1, $2, ... Results come back in binary format.
	SendQueryParams(sql string, params *Params) error

	// SendPrepare queues the creation of a named server-side prepared statement.
	SendPrepare(name, sql string) error

	// SendQueryPrepared queues the execution of a prepared statement.
	SendQueryPrepared(name string, params *Params) error

	// ConsumeInput moves whatever input the socket has delivered into the
	// driver and parses it. It never blocks. An error means the connection
	// state can no longer be trusted.
	ConsumeInput() error

	// Flush pushes queued output towards the socket without blocking.
	Flush() FlushStatus

	// IsBusy reports whether NextResult would have to wait for more input.
	IsBusy() bool

	// NextResult returns the next result of the outstanding request, or nil once
	// the request is fully drained.
	NextResult() Result

	// LastError returns the message of the most recent driver-level failure.
	LastError() string

	// Socket returns the readiness source of the underlying connection.
	Socket() Socket

	// Close terminates the session and releases the socket. It blocks until the
	// terminate message is written or ctx is done.
	Close(ctx context.Context) error
}

// Socket exposes readiness of a connection's socket.
//
// Readiness is level-triggered. Each call returns a channel that is closed
// once the condition holds; it may already be closed. A closed channel is a
// hint, not a promise: callers must tolerate Flush returning FlushWouldBlock
// or IsBusy returning true after a wake-up and simply wait again.
type Socket interface {
	// ReadReady is closed once unconsumed input is available.
	ReadReady() <-chan struct{}

	// WriteReady is closed once the socket can accept more output.
	WriteReady() <-chan struct{}
}

// Params is an encoded parameter list: three parallel slices indexed by
// parameter position. A nil entry in Values is SQL NULL.
type Params struct {
	// Values holds the wire representation of each parameter.
	Values [][]byte

	// Formats holds the format code of each parameter (0 text, 1 binary).
	Formats []int16

	// OIDs holds the type OID of each parameter. Zero lets the server infer it.
	OIDs []uint32
}

// Len returns the number of parameters.
func (p *Params) Len() int {
	if p == nil {
		return 0
	}
	return len(p.Values)
}
