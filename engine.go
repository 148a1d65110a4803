package pgreactor

import (
	"context"
	"fmt"

	"github.com/youssefsiam38/pgreactor/driver"
	"github.com/youssefsiam38/pgreactor/reactor"
)

// Handler receives the outcome of an operation. It is called with a Result
// and a nil error for every delivered result, or once with a nil Result and
// the error that ended the operation. Handlers run on the loop goroutine and
// own the Results they receive.
type Handler func(*Result, error)

// opState tracks the drain side of an in-flight operation.
type opState int

const (
	// stateAwaitingWrite: draining is blocked on queued output. The write
	// side resumes it once Flush reports FlushDone.
	stateAwaitingWrite opState = iota

	// stateAwaitingRead: the driver needs more input.
	stateAwaitingRead

	// stateDraining: results are being pulled from the driver.
	stateDraining

	// stateDone: the terminal outcome was delivered.
	stateDone
)

// String returns the string representation of the state.
func (s opState) String() string {
	switch s {
	case stateAwaitingWrite:
		return "awaiting_write"
	case stateAwaitingRead:
		return "awaiting_read"
	case stateDraining:
		return "draining"
	case stateDone:
		return "done"
	default:
		return "unknown"
	}
}

// operation is one request in flight. Its state is only touched on the loop
// goroutine.
type operation struct {
	conn    *Conn
	name    string
	handler Handler
	state   opState

	writeSub *reactor.Subscription
	readSub  *reactor.Subscription
}

// submit hands a request to the driver and arms the readiness machinery.
// A non-nil return means nothing was started and handler will not be called.
func (c *Conn) submit(name string, send func(driver.Protocol) error, handler Handler) error {
	if err := c.acquire(name); err != nil {
		return err
	}

	if err := send(c.proto); err != nil {
		c.busy.Store(false)
		return NewOpError(name, KindSend, err)
	}

	op := &operation{
		conn:    c,
		name:    name,
		handler: handler,
		state:   stateAwaitingRead,
	}
	c.loop.Post(func() {
		op.armWrite()
		op.armRead()
	})
	return nil
}

// acquire claims the connection for one operation.
func (c *Conn) acquire(name string) error {
	if c.closed.Load() {
		return NewOpError(name, KindSend, ErrConnClosed)
	}
	if c.broken.Load() {
		return NewOpError(name, KindSend, ErrConnBroken)
	}
	if !c.busy.CompareAndSwap(false, true) {
		return NewOpError(name, KindSend, ErrOperationInProgress)
	}
	return nil
}

func (op *operation) armWrite() {
	if op.writeSub != nil {
		return
	}
	op.writeSub = op.conn.loop.Wait(op.conn.proto.Socket().WriteReady(), op.onWriteReady)
}

func (op *operation) armRead() {
	op.readSub = op.conn.loop.Wait(op.conn.proto.Socket().ReadReady(), op.onReadReady)
}

func (op *operation) onWriteReady() {
	op.writeSub = nil
	if op.state == stateDone {
		return
	}

	switch op.conn.proto.Flush() {
	case driver.FlushWouldBlock:
		op.armWrite()
	case driver.FlushDone:
		if op.state == stateAwaitingWrite {
			op.readSub.Cancel()
			op.readSub = nil
			op.drain()
		}
	default:
		op.fail(KindIO, fmt.Errorf("flush failed: %s", op.conn.proto.LastError()), true)
	}
}

func (op *operation) onReadReady() {
	op.readSub = nil
	if op.state == stateDone {
		return
	}

	if err := op.conn.proto.ConsumeInput(); err != nil {
		op.fail(KindIO, fmt.Errorf("consume input failed: %w", err), true)
		return
	}
	op.drain()
}

// drain delivers every result the driver can produce without more input.
func (op *operation) drain() {
	op.state = stateDraining
	proto := op.conn.proto

	for op.state == stateDraining {
		switch proto.Flush() {
		case driver.FlushWouldBlock:
			op.state = stateAwaitingWrite
			op.armWrite()
			op.armRead()
			return
		case driver.FlushError:
			op.fail(KindIO, fmt.Errorf("flush failed: %s", proto.LastError()), true)
			return
		}

		if proto.IsBusy() {
			op.state = stateAwaitingRead
			op.armRead()
			return
		}

		native := proto.NextResult()
		if native == nil {
			op.finish(sentinel(), nil)
			return
		}
		op.handler(newResult(native), nil)
	}
}

func (op *operation) fail(kind ErrorKind, err error, broken bool) {
	if broken {
		op.conn.markBroken(err)
	}
	op.finish(nil, NewOpError(op.name, kind, err))
}

// finish delivers the terminal outcome. A transaction abandoned while the
// operation was in flight is rolled back first. The connection is released
// before the handler runs so the handler may submit the next operation.
func (op *operation) finish(res *Result, err error) {
	op.state = stateDone
	op.writeSub.Cancel()
	op.readSub.Cancel()
	op.writeSub, op.readSub = nil, nil

	if tx := op.conn.pendingRollback.Swap(nil); tx != nil {
		tx.rollbackSync()
	}

	op.conn.busy.Store(false)
	op.handler(res, err)
}

// collapseOne adapts a single-statement handler to the result stream: it
// holds the one real result and forwards it when the sentinel arrives. A
// second result, or a sentinel with none before it, breaks the connection.
func (c *Conn) collapseOne(name string, h Handler) Handler {
	var (
		held     *Result
		violated bool
	)

	return func(res *Result, err error) {
		if violated {
			res.Close()
			return
		}

		if err != nil {
			held.Close()
			h(nil, err)
			return
		}

		if !res.Done() {
			if held == nil {
				held = res
				return
			}
			violated = true
			held.Close()
			res.Close()
			h(nil, c.violation(name, "expected one result, got more"))
			return
		}

		if held == nil {
			h(nil, c.violation(name, "expected one result, got none"))
			return
		}
		h(held, nil)
	}
}

func (c *Conn) violation(name, detail string) error {
	err := fmt.Errorf("%w: %s", ErrProtocolViolation, detail)
	c.markBroken(err)
	return NewOpError(name, KindProtocol, err)
}

func (c *Conn) markBroken(err error) {
	if c.broken.CompareAndSwap(false, true) {
		c.logger.Error("connection broken", "error", err)
	}
}

// execSync runs a simple query and blocks until it is drained, waiting on
// the socket directly so it may be called from the loop goroutine. The
// caller holds the in-flight flag. Results are discarded; the first failed
// result is returned as an error.
func (c *Conn) execSync(ctx context.Context, name, query string) error {
	proto := c.proto
	if err := proto.SendQuery(query); err != nil {
		return NewOpError(name, KindSend, err)
	}

	sock := proto.Socket()
	var failed error
	for {
		switch proto.Flush() {
		case driver.FlushWouldBlock:
			select {
			case <-sock.WriteReady():
				continue
			case <-ctx.Done():
				c.markBroken(ctx.Err())
				return NewOpError(name, KindIO, ctx.Err())
			}
		case driver.FlushError:
			err := fmt.Errorf("flush failed: %s", proto.LastError())
			c.markBroken(err)
			return NewOpError(name, KindIO, err)
		}

		if proto.IsBusy() {
			select {
			case <-sock.ReadReady():
			case <-ctx.Done():
				c.markBroken(ctx.Err())
				return NewOpError(name, KindIO, ctx.Err())
			}
			if err := proto.ConsumeInput(); err != nil {
				err = fmt.Errorf("consume input failed: %w", err)
				c.markBroken(err)
				return NewOpError(name, KindIO, err)
			}
			continue
		}

		native := proto.NextResult()
		if native == nil {
			return failed
		}
		res := newResult(native)
		if !res.OK() && failed == nil {
			failed = res.Err()
		}
		res.Close()
	}
}
