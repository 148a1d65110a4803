// Package pgxv5 provides a pgx/v5 based protocol driver for pgreactor.
//
// Connection establishment, authentication and TLS are delegated to pgconn.
// Once the session is ready the connection is hijacked and driven directly
// with pgproto3 messages through a non-blocking socket wrapper, so the
// driver can be pumped from a readiness-based event loop.
//
// Usage:
//
//	proto, _ := pgxv5.Dial(ctx, "postgres://postgres@localhost/postgres", driver.AsyncHandlers{})
//	conn, _ := pgreactor.NewConn(proto)
package pgxv5

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgproto3"
	"github.com/youssefsiam38/pgreactor/driver"
)

// binaryFormat requests binary column values for extended-protocol queries.
var binaryFormat = []int16{1}

type requestKind int

const (
	requestIdle requestKind = iota
	requestSimple
	requestExtended
	requestPrepare
)

// Conn implements driver.Protocol on top of a hijacked pgconn session.
type Conn struct {
	sock     *socket
	frontend *pgproto3.Frontend
	frame    frameReader
	handlers driver.AsyncHandlers

	pid               uint32
	txStatus          byte
	parameterStatuses map[string]string

	inbox   []byte
	request requestKind
	current *result
	ready   []*result
	drained bool
	lastErr string
	closed  bool
}

var _ driver.Protocol = (*Conn)(nil)

// Dial connects to the server described by connString and returns a driver
// ready to accept requests.
func Dial(ctx context.Context, connString string, handlers driver.AsyncHandlers) (*Conn, error) {
	config, err := pgconn.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	pgConn, err := pgconn.ConnectConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("could not connect: %w", err)
	}

	hijacked, err := pgConn.Hijack()
	if err != nil {
		pgConn.Close(ctx)
		return nil, fmt.Errorf("could not take over connection: %w", err)
	}
	if hijacked.Conn == nil {
		return nil, errors.New("could not get a valid socket")
	}

	c := newConn(hijacked.Conn, handlers)
	c.pid = hijacked.PID
	c.txStatus = hijacked.TxStatus
	for k, v := range hijacked.ParameterStatuses {
		c.parameterStatuses[k] = v
	}
	return c, nil
}

func newConn(netConn net.Conn, handlers driver.AsyncHandlers) *Conn {
	c := &Conn{
		sock:              newSocket(netConn),
		handlers:          handlers,
		txStatus:          'I',
		parameterStatuses: make(map[string]string),
	}
	c.frontend = pgproto3.NewFrontend(&c.frame, c.sock)
	return c
}

// PID returns the backend process ID.
func (c *Conn) PID() uint32 {
	return c.pid
}

// TxStatus returns the transaction status reported by the last ReadyForQuery:
// 'I' idle, 'T' in a transaction block, 'E' in a failed transaction block.
func (c *Conn) TxStatus() byte {
	return c.txStatus
}

// ParameterStatus returns the value of a server run-time parameter.
func (c *Conn) ParameterStatus(name string) string {
	return c.parameterStatuses[name]
}

// Socket returns the readiness source of the connection.
func (c *Conn) Socket() driver.Socket {
	return c.sock
}

// LastError returns the message of the most recent failure.
func (c *Conn) LastError() string {
	return c.lastErr
}

// SendQuery queues a simple-protocol query.
func (c *Conn) SendQuery(sql string) error {
	if err := c.begin(requestSimple); err != nil {
		return err
	}
	c.frontend.Send(&pgproto3.Query{String: sql})
	return c.encode()
}

// SendQueryParams queues an unnamed extended-protocol statement.
func (c *Conn) SendQueryParams(sql string, params *driver.Params) error {
	if err := c.begin(requestExtended); err != nil {
		return err
	}
	c.frontend.Send(&pgproto3.Parse{Query: sql, ParameterOIDs: oids(params)})
	c.sendExecute("", params)
	return c.encode()
}

// SendPrepare queues the creation of a named prepared statement.
func (c *Conn) SendPrepare(name, sql string) error {
	if err := c.begin(requestPrepare); err != nil {
		return err
	}
	c.frontend.Send(&pgproto3.Parse{Name: name, Query: sql})
	c.frontend.Send(&pgproto3.Sync{})
	return c.encode()
}

// SendQueryPrepared queues the execution of a named prepared statement.
func (c *Conn) SendQueryPrepared(name string, params *driver.Params) error {
	if err := c.begin(requestExtended); err != nil {
		return err
	}
	c.sendExecute(name, params)
	return c.encode()
}

func (c *Conn) sendExecute(statement string, params *driver.Params) {
	bind := &pgproto3.Bind{PreparedStatement: statement, ResultFormatCodes: binaryFormat}
	if params != nil {
		bind.ParameterFormatCodes = params.Formats
		bind.Parameters = params.Values
	}
	c.frontend.Send(bind)
	c.frontend.Send(&pgproto3.Describe{ObjectType: 'P'})
	c.frontend.Send(&pgproto3.Execute{})
	c.frontend.Send(&pgproto3.Sync{})
}

func (c *Conn) begin(kind requestKind) error {
	if c.closed {
		return c.fail(net.ErrClosed)
	}
	if c.request != requestIdle {
		return c.fail(errors.New("another command is already in progress"))
	}
	if err := c.sock.readError(); err != nil {
		return c.fail(fmt.Errorf("connection lost: %w", err))
	}
	c.request = kind
	c.drained = false
	return nil
}

// encode moves the encoded messages into the socket's output queue.
func (c *Conn) encode() error {
	if err := c.frontend.Flush(); err != nil {
		c.request = requestIdle
		return c.fail(fmt.Errorf("failed to encode request: %w", err))
	}
	return nil
}

func (c *Conn) fail(err error) error {
	c.lastErr = err.Error()
	return err
}

// Flush pushes queued output to the socket without blocking.
func (c *Conn) Flush() driver.FlushStatus {
	// Messages queued while parsing (e.g. CopyFail) are encoded here.
	if err := c.frontend.Flush(); err != nil {
		c.fail(err)
		return driver.FlushError
	}

	status, err := c.sock.flush()
	if status == driver.FlushError {
		c.fail(fmt.Errorf("failed to write to socket: %w", err))
	}
	return status
}

// ConsumeInput parses whatever input has arrived.
func (c *Conn) ConsumeInput() error {
	in, readErr := c.sock.takeInput()
	if len(in) > 0 {
		c.inbox = append(c.inbox, in...)
	}

	if err := c.parse(); err != nil {
		return c.fail(err)
	}
	if readErr != nil {
		return c.fail(fmt.Errorf("server closed the connection unexpectedly: %w", readErr))
	}
	return nil
}

// IsBusy reports whether NextResult would need more input.
func (c *Conn) IsBusy() bool {
	return c.request != requestIdle && len(c.ready) == 0 && !c.drained
}

// NextResult returns the next completed result, or nil once the request is
// fully drained.
func (c *Conn) NextResult() driver.Result {
	if len(c.ready) > 0 {
		r := c.ready[0]
		c.ready[0] = nil
		c.ready = c.ready[1:]
		return r
	}
	if c.drained {
		c.request = requestIdle
		c.drained = false
	}
	return nil
}

// parse decodes every complete message in the inbox.
func (c *Conn) parse() error {
	for len(c.inbox) >= 5 {
		size := int(binary.BigEndian.Uint32(c.inbox[1:5])) + 1
		if size < 5 {
			return fmt.Errorf("invalid message length %d", size-1)
		}
		if len(c.inbox) < size {
			break
		}

		c.frame.buf = c.inbox[:size]
		c.inbox = c.inbox[size:]

		msg, err := c.frontend.Receive()
		if err != nil {
			return fmt.Errorf("failed to decode message: %w", err)
		}
		c.handle(msg)
	}

	if len(c.inbox) == 0 {
		c.inbox = nil
	}
	return nil
}

func (c *Conn) handle(msg pgproto3.BackendMessage) {
	switch msg := msg.(type) {
	case *pgproto3.ParseComplete:
		if c.request == requestPrepare {
			c.ready = append(c.ready, &result{status: driver.StatusCommandOK})
		}
	case *pgproto3.RowDescription:
		c.current = newRowsResult(msg)
	case *pgproto3.DataRow:
		if c.current == nil {
			c.current = &result{status: driver.StatusTuplesOK}
		}
		c.current.appendRow(msg.Values)
	case *pgproto3.CommandComplete:
		r := c.current
		if r == nil {
			r = &result{status: driver.StatusCommandOK}
		}
		r.tag = string(msg.CommandTag)
		c.current = nil
		c.ready = append(c.ready, r)
	case *pgproto3.EmptyQueryResponse:
		c.current = nil
		c.ready = append(c.ready, &result{status: driver.StatusEmptyQuery})
	case *pgproto3.ErrorResponse:
		r := newErrorResult(msg)
		c.lastErr = r.message
		c.current = nil
		if c.request != requestIdle {
			c.ready = append(c.ready, r)
		}
	case *pgproto3.CopyInResponse:
		c.frontend.Send(&pgproto3.CopyFail{Message: "COPY FROM STDIN is not supported"})
	case *pgproto3.ReadyForQuery:
		c.txStatus = msg.TxStatus
		if c.request != requestIdle {
			c.drained = true
		}
	case *pgproto3.ParameterStatus:
		c.parameterStatuses[msg.Name] = msg.Value
	case *pgproto3.NoticeResponse:
		if c.handlers.OnNotice != nil {
			c.handlers.OnNotice(&driver.Notice{
				Severity: msg.Severity,
				Code:     msg.Code,
				Message:  msg.Message,
			})
		}
	case *pgproto3.NotificationResponse:
		if c.handlers.OnNotification != nil {
			c.handlers.OnNotification(&driver.Notification{
				PID:     msg.PID,
				Channel: msg.Channel,
				Payload: msg.Payload,
			})
		}
	}
}

// Close sends Terminate and closes the socket.
func (c *Conn) Close(ctx context.Context) error {
	if c.closed {
		return nil
	}
	c.closed = true

	c.frontend.Send(&pgproto3.Terminate{})
	err := c.frontend.Flush()
	if err == nil {
		err = c.sock.waitFlushed(ctx)
	}

	if closeErr := c.sock.close(); err == nil {
		err = closeErr
	}
	return err
}

func oids(params *driver.Params) []uint32 {
	if params == nil {
		return nil
	}
	return params.OIDs
}

// frameReader feeds exactly one framed message to the frontend per Receive.
type frameReader struct {
	buf []byte
}

func (r *frameReader) Read(p []byte) (int, error) {
	if len(r.buf) == 0 {
		return 0, io.EOF
	}
	n := copy(p, r.buf)
	r.buf = r.buf[n:]
	return n, nil
}
