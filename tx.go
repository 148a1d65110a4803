package pgreactor

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/youssefsiam38/pgreactor/driver"
)

// TxState is the lifecycle state of a transaction.
type TxState int32

const (
	// TxOpen accepts statements.
	TxOpen TxState = iota

	// TxCommitting means COMMIT was sent and has not completed.
	TxCommitting

	// TxRollingBack means ROLLBACK was sent and has not completed.
	TxRollingBack

	// TxDone is terminal.
	TxDone
)

// String returns the string representation of the state.
func (s TxState) String() string {
	switch s {
	case TxOpen:
		return "open"
	case TxCommitting:
		return "committing"
	case TxRollingBack:
		return "rolling_back"
	case TxDone:
		return "done"
	default:
		return "unknown"
	}
}

// Tx is a transaction on a borrowed connection. Only one Tx may be open per
// connection and it must not outlive it.
//
// A Tx that is neither committed nor rolled back must be released with Close,
// which rolls it back. Defer Close in the handler that decides the outcome; it
// does nothing once Commit or Rollback was sent:
//
//	tx.Exec("INSERT INTO tbl_test (si) VALUES ($1)", func(res *pgreactor.Result, err error) {
//	    defer tx.Close()
//	    if err != nil || !res.OK() {
//	        return
//	    }
//	    tx.Commit(func(res *pgreactor.Result, err error) { ... })
//	}, int16(7))
//
// Close called while a statement is still in flight, such as a Close deferred
// in the Begin handler, rolls back as soon as that statement completes and
// before its handler runs.
type Tx struct {
	conn  *Conn
	state atomic.Int32
}

// Begin starts a transaction. h receives a live Tx once BEGIN succeeded, or
// the error that prevented it.
func (c *Conn) Begin(h func(*Tx, error)) error {
	return c.submit("begin", func(p driver.Protocol) error {
		return p.SendQueryParams("BEGIN", nil)
	}, c.collapseOne("begin", func(res *Result, err error) {
		if err != nil {
			h(nil, err)
			return
		}
		defer res.Close()

		if !res.OK() {
			h(nil, fmt.Errorf("%w: %w", ErrBeginFailed, res.Err()))
			return
		}
		h(&Tx{conn: c}, nil)
	}))
}

// RunInTx begins a transaction and runs body with it. body must call done
// exactly once unless it returns an error.
//
// If body succeeds the transaction is committed and h receives body's result,
// or the COMMIT result when COMMIT failed. Otherwise the transaction is rolled
// back and h receives body's outcome; the rollback outcome is only logged.
func (c *Conn) RunInTx(body func(tx *Tx, done Handler) error, h Handler) error {
	return c.Begin(func(tx *Tx, err error) {
		if err != nil {
			h(nil, err)
			return
		}

		err = body(tx, func(res *Result, err error) {
			if err != nil || !res.OK() {
				tx.abort(func() { h(res, err) })
				return
			}

			commitErr := tx.Commit(func(commitRes *Result, err error) {
				switch {
				case err != nil:
					res.Close()
					h(nil, err)
				case !commitRes.OK():
					res.Close()
					h(commitRes, nil)
				default:
					commitRes.Close()
					h(res, nil)
				}
			})
			if commitErr != nil {
				res.Close()
				h(nil, commitErr)
			}
		})
		if err != nil {
			tx.abort(func() { h(nil, err) })
		}
	})
}

// State returns the current state.
func (tx *Tx) State() TxState {
	return TxState(tx.state.Load())
}

// Conn returns the connection the transaction runs on.
func (tx *Tx) Conn() *Conn {
	return tx.conn
}

// Exec runs a single statement. Arguments are bound to $1, $2, ... and rows
// come back in binary format. h is called once.
func (tx *Tx) Exec(query string, h Handler, args ...any) error {
	if tx.State() != TxOpen {
		return NewOpError("exec", KindSend, ErrTxDone)
	}
	return tx.conn.exec("exec", query, h, args)
}

// ExecPrepared runs a statement registered with Conn.Prepare. h is called once.
func (tx *Tx) ExecPrepared(name string, h Handler, args ...any) error {
	if tx.State() != TxOpen {
		return NewOpError("exec prepared", KindSend, ErrTxDone)
	}
	return tx.conn.execPrepared("exec prepared", name, h, args)
}

// ExecAll runs a query that may hold several ';' separated statements. h is
// called once per statement in order and once more with the sentinel. It
// cannot bind parameters and rows come back in text format.
func (tx *Tx) ExecAll(query string, h Handler) error {
	if tx.State() != TxOpen {
		return NewOpError("exec all", KindSend, ErrTxDone)
	}
	return tx.conn.execAll("exec all", query, h)
}

// Commit sends COMMIT. The transaction is done once h runs, whatever the outcome.
func (tx *Tx) Commit(h Handler) error {
	return tx.finish("commit", "COMMIT", TxCommitting, h)
}

// Rollback sends ROLLBACK. The transaction is done once h runs, whatever the outcome.
func (tx *Tx) Rollback(h Handler) error {
	return tx.finish("rollback", "ROLLBACK", TxRollingBack, h)
}

func (tx *Tx) finish(name, query string, state TxState, h Handler) error {
	if !tx.state.CompareAndSwap(int32(TxOpen), int32(state)) {
		return NewOpError(name, KindSend, ErrTxDone)
	}

	err := tx.conn.submit(name, func(p driver.Protocol) error {
		return p.SendQueryParams(query, nil)
	}, tx.conn.collapseOne(name, func(res *Result, err error) {
		tx.state.Store(int32(TxDone))
		h(res, err)
	}))
	if err != nil {
		tx.state.Store(int32(TxOpen))
	}
	return err
}

// abort rolls back asynchronously, logs the outcome and then runs next.
func (tx *Tx) abort(next func()) {
	err := tx.Rollback(func(res *Result, err error) {
		switch {
		case err != nil:
			tx.conn.logger.Warn("rollback failed", "error", err)
		case !res.OK():
			tx.conn.logger.Warn("rollback failed", "error", res.Err())
		default:
			tx.conn.logger.Debug("transaction rolled back")
		}
		res.Close()
		next()
	})
	if err != nil {
		tx.conn.logger.Warn("rollback not sent", "error", err)
		next()
	}
}

// Close releases the transaction. If it is still open it is rolled back
// synchronously, bounded by the rollback timeout. Failures are logged and
// not returned. Close on a finished transaction does nothing.
//
// When another operation is in flight, typically the transaction's own
// statement, the rollback is sent as soon as that operation completes and
// before its handler runs, so nothing else can be submitted in between.
func (tx *Tx) Close() {
	if !tx.state.CompareAndSwap(int32(TxOpen), int32(TxRollingBack)) {
		return
	}

	c := tx.conn
	if !c.busy.CompareAndSwap(false, true) {
		c.pendingRollback.Store(tx)
		c.logger.Debug("rollback of abandoned transaction deferred until the operation in flight completes")

		// The operation may have completed before it could see the request
		if !c.busy.CompareAndSwap(false, true) {
			return
		}
		if !c.pendingRollback.CompareAndSwap(tx, nil) {
			c.busy.Store(false)
			return
		}
	}
	defer c.busy.Store(false)

	tx.rollbackSync()
}

// rollbackSync rolls back an abandoned transaction. The caller holds the
// connection's in-flight flag.
func (tx *Tx) rollbackSync() {
	c := tx.conn
	defer tx.state.Store(int32(TxDone))

	if c.broken.Load() || c.closed.Load() {
		c.logger.Warn("abandoned transaction not rolled back, connection is unusable")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.config.rollbackTimeout)
	defer cancel()

	if err := c.execSync(ctx, "rollback", "ROLLBACK"); err != nil {
		c.logger.Error("rollback of abandoned transaction failed", "error", err)
		return
	}
	c.logger.Debug("abandoned transaction rolled back")
}
