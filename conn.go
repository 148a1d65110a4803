package pgreactor

import (
	"context"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/youssefsiam38/pgreactor/codec"
	"github.com/youssefsiam38/pgreactor/driver"
	"github.com/youssefsiam38/pgreactor/driver/pgxv5"
	"github.com/youssefsiam38/pgreactor/reactor"
)

// Conn is a single server connection driven by a reactor.Loop.
//
// A Conn runs one operation at a time. A new operation may be submitted once
// the previous one delivered its terminal outcome; submitting earlier fails
// with ErrOperationInProgress.
type Conn struct {
	proto  driver.Protocol
	loop   *reactor.Loop
	config *connConfig
	logger Logger

	busy   atomic.Bool
	broken atomic.Bool
	closed atomic.Bool

	// pendingRollback is a transaction abandoned while an operation was in
	// flight. The operation rolls it back before releasing the connection.
	pendingRollback atomic.Pointer[Tx]
}

// Connect establishes a connection. Handshake, authentication and TLS are
// handled by pgx; the session is then driven by the loop given with WithLoop,
// or by reactor.Default().
func Connect(ctx context.Context, config Config, opts ...Option) (*Conn, error) {
	if err := config.Validate(); err != nil {
		return nil, NewOpError("connect", KindConnect, err)
	}

	cfg, err := buildConfig(opts)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.connectTimeout)
	defer cancel()

	proto, err := pgxv5.Dial(ctx, config.ConnString, cfg.asyncHandlers())
	if err != nil {
		return nil, NewOpError("connect", KindConnect, err)
	}

	cfg.logger.Debug("connected", "pid", proto.PID())
	return newConn(proto, cfg), nil
}

// NewConn wraps an already established protocol driver. Notification handlers
// must be given to the driver itself; WithNotificationHandler has no effect here.
func NewConn(proto driver.Protocol, opts ...Option) (*Conn, error) {
	if proto == nil {
		return nil, NewOpError("connect", KindConnect, ErrInvalidConfig)
	}

	cfg, err := buildConfig(opts)
	if err != nil {
		return nil, err
	}
	return newConn(proto, cfg), nil
}

func buildConfig(opts []Option) (*connConfig, error) {
	cfg := newConnConfig()
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}
	if cfg.loop == nil {
		cfg.loop = reactor.Default()
	}
	return cfg, nil
}

func newConn(proto driver.Protocol, cfg *connConfig) *Conn {
	return &Conn{
		proto:  proto,
		loop:   cfg.loop,
		config: cfg,
		logger: cfg.logger,
	}
}

// Loop returns the event loop the connection runs on.
func (c *Conn) Loop() *reactor.Loop {
	return c.loop
}

// Broken reports whether the connection hit a fatal failure.
func (c *Conn) Broken() bool {
	return c.broken.Load()
}

// LastError returns the message of the most recent driver-level failure.
func (c *Conn) LastError() string {
	return c.proto.LastError()
}

// Exec runs a single statement in its own transaction: BEGIN, the statement,
// then COMMIT when it succeeded. Arguments are bound to $1, $2, ... and rows
// come back in binary format. h is called once.
//
// When the statement succeeds but COMMIT fails, h receives the COMMIT result.
func (c *Conn) Exec(query string, h Handler, args ...any) error {
	return c.RunInTx(func(tx *Tx, done Handler) error {
		return tx.Exec(query, done, args...)
	}, h)
}

// ExecPrepared is like Exec but runs a statement registered with Prepare.
func (c *Conn) ExecPrepared(name string, h Handler, args ...any) error {
	if name == "" {
		return NewOpError("exec prepared", KindSend, ErrEmptyStatementName)
	}
	return c.RunInTx(func(tx *Tx, done Handler) error {
		return tx.ExecPrepared(name, done, args...)
	}, h)
}

// ExecAll runs a query that may hold several ';' separated statements,
// outside of an explicit transaction. h is called once per statement in
// order and once more with the sentinel, a Result whose Done reports true.
// Rows come back in text format.
func (c *Conn) ExecAll(query string, h Handler) error {
	return c.execAll("exec all", query, h)
}

// Prepare registers a named server-side statement. h is called once with a
// status-only Result.
func (c *Conn) Prepare(name, query string, h Handler) error {
	if name == "" {
		return NewOpError("prepare", KindSend, ErrEmptyStatementName)
	}
	return c.submit("prepare", func(p driver.Protocol) error {
		return p.SendPrepare(name, query)
	}, c.collapseOne("prepare", h))
}

// Close terminates the session and closes the socket. It blocks for at most
// the configured close timeout and fails with ErrOperationInProgress while an
// operation is in flight.
func (c *Conn) Close(ctx context.Context) error {
	if c.closed.Load() {
		return nil
	}
	if !c.busy.CompareAndSwap(false, true) {
		return NewOpError("close", KindSend, ErrOperationInProgress)
	}
	if !c.closed.CompareAndSwap(false, true) {
		c.busy.Store(false)
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.closeTimeout)
	defer cancel()

	err := c.proto.Close(ctx)
	c.busy.Store(false)
	if err != nil {
		c.logger.Warn("close failed", "error", err)
		return NewOpError("close", KindIO, err)
	}
	return nil
}

func (c *Conn) exec(name, query string, h Handler, args []any) error {
	params, err := codec.Encode(args...)
	if err != nil {
		return NewOpError(name, KindSend, err)
	}
	return c.submit(name, func(p driver.Protocol) error {
		return p.SendQueryParams(query, params)
	}, c.collapseOne(name, h))
}

func (c *Conn) execPrepared(name, statement string, h Handler, args []any) error {
	if statement == "" {
		return NewOpError(name, KindSend, ErrEmptyStatementName)
	}
	params, err := codec.Encode(args...)
	if err != nil {
		return NewOpError(name, KindSend, err)
	}
	return c.submit(name, func(p driver.Protocol) error {
		return p.SendQueryPrepared(statement, params)
	}, c.collapseOne(name, h))
}

func (c *Conn) execAll(name, query string, h Handler) error {
	return c.submit(name, func(p driver.Protocol) error {
		return p.SendQuery(query)
	}, h)
}

// NewStatementName returns a unique prepared statement name.
func NewStatementName() string {
	return "stmt_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}
