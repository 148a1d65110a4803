// Package pgreactor provides an asynchronous, readiness-driven PostgreSQL client.
//
// A Conn drives the PostgreSQL request/response protocol from an event loop
// without ever blocking it: requests are handed to a non-blocking protocol
// driver, and socket readiness events pump the driver until results are
// available, which are then delivered to a Handler. Transactions, prepared
// statements, multi-statement queries and a typed parameter/field codec are
// layered on top.
//
// # Key Features
//
//   - Readiness-driven execution on a reactor.Loop, owned by the caller or process-wide
//   - One operation in flight per connection, enforced with a fast-failing check
//   - Transactions with commit, rollback and synchronous rollback on abandonment
//   - Multi-statement queries delivering one Result per statement plus a sentinel
//   - Binary parameter encoding and size-checked field decoding (package codec)
//   - Connection setup, authentication and TLS delegated to pgx
//
// # Quick Start
//
// Run a loop and connect:
//
//	loop := reactor.New()
//	conn, err := pgreactor.Connect(ctx, pgreactor.Config{
//	    ConnString: "postgres://postgres@localhost:5432/postgres",
//	}, pgreactor.WithLoop(loop), pgreactor.WithLogger(slog.Default()))
//
// Execute a statement. Exec runs it in its own transaction and calls the
// handler once:
//
//	conn.Exec("SELECT id, t FROM tbl_test WHERE id = $1", func(res *pgreactor.Result, err error) {
//	    if err != nil {
//	        return
//	    }
//	    defer res.Close()
//	    field, _ := res.Field(0, 1)
//	    text, _ := codec.Decode(field, codec.Text)
//	}, 1)
//
//	loop.Run(ctx) // returns once nothing is left to do
//
// # Transactions
//
// Begin hands a live Tx to its handler. Use Commit or Rollback to finish it;
// Close rolls back a transaction that was left open:
//
//	conn.Begin(func(tx *pgreactor.Tx, err error) {
//	    if err != nil {
//	        return
//	    }
//	    tx.Exec("INSERT INTO tbl_test (si) VALUES ($1)", func(res *pgreactor.Result, err error) {
//	        defer tx.Close()
//	        if err != nil || !res.OK() {
//	            return
//	        }
//	        tx.Commit(func(res *pgreactor.Result, err error) {})
//	    }, int16(7))
//	})
//
// RunInTx composes begin, a body and commit, rolling back when the body fails.
//
// # Multiple Statements
//
// ExecAll calls its handler once per statement and once more with a sentinel
// Result whose Done method reports true:
//
//	tx.ExecAll("SELECT 1; SELECT 2", func(res *pgreactor.Result, err error) {
//	    if err != nil || res.Done() {
//	        return
//	    }
//	    ...
//	})
//
// # Errors
//
// Engine failures are *OpError values classified by ErrorKind: KindConnect,
// KindSend (nothing was started), KindIO (delivered once to the handler) and
// KindProtocol (the connection is broken). Statement failures reported by the
// server are not engine errors: the Result has StatusFatalError and its Err
// method returns a *pgconn.PgError. Decoding failures are reported by the
// codec package at field access.
package pgreactor
