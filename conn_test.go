package pgreactor

import (
	"bytes"
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/youssefsiam38/pgreactor/codec"
	"github.com/youssefsiam38/pgreactor/driver"
	"github.com/youssefsiam38/pgreactor/internal/testutil"
	"github.com/youssefsiam38/pgreactor/reactor"
)

var exampleColumns = []driver.Column{
	{Name: "id", TypeOID: pgtype.Int4OID, Format: pgtype.BinaryFormatCode},
	{Name: "si", TypeOID: pgtype.Int2OID, Format: pgtype.BinaryFormatCode},
	{Name: "t", TypeOID: pgtype.TextOID, Format: pgtype.BinaryFormatCode},
}

func exampleRows() *testutil.FakeResult {
	return testutil.Rows(exampleColumns,
		[][]byte{{0, 0, 0, 1}, {0, 10}, []byte("row 0")},
		[][]byte{{0, 0, 0, 2}, {0, 11}, []byte("row 1")},
		[][]byte{{0, 0, 0, 3}, nil, nil},
	)
}

func respond(results ...*testutil.FakeResult) *testutil.Response {
	return &testutil.Response{Results: results}
}

func newTestConn(t *testing.T, responses ...*testutil.Response) (*Conn, *testutil.FakeProtocol, *reactor.Loop) {
	t.Helper()

	fake := testutil.NewFakeProtocol(responses...)
	loop := reactor.New()
	conn, err := NewConn(fake, WithLoop(loop))
	if err != nil {
		t.Fatalf("NewConn() error = %v", err)
	}
	return conn, fake, loop
}

func runLoop(t *testing.T, loop *reactor.Loop) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := loop.Run(ctx); err != nil {
		t.Fatalf("loop.Run() error = %v", err)
	}
}

func TestNewConn_Validation(t *testing.T) {
	if _, err := NewConn(nil); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("NewConn(nil) error = %v, want %v", err, ErrInvalidConfig)
	}

	fake := testutil.NewFakeProtocol()
	if _, err := NewConn(fake, WithLoop(nil)); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("NewConn(WithLoop(nil)) error = %v, want %v", err, ErrInvalidConfig)
	}
	if _, err := NewConn(fake, WithRollbackTimeout(0)); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("NewConn(WithRollbackTimeout(0)) error = %v, want %v", err, ErrInvalidConfig)
	}

	conn, err := NewConn(fake)
	if err != nil {
		t.Fatalf("NewConn() error = %v", err)
	}
	if conn.Loop() != reactor.Default() {
		t.Error("Expected the default loop when WithLoop is not given")
	}
}

func TestConnect_InvalidConfig(t *testing.T) {
	_, err := Connect(context.Background(), Config{})
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("Connect() error = %v, want %v", err, ErrInvalidConfig)
	}
	if !IsKind(err, KindConnect) {
		t.Errorf("Connect() error kind = %v, want %v", err, KindConnect)
	}
}

func TestConn_Exec(t *testing.T) {
	conn, fake, loop := newTestConn(t,
		respond(testutil.OK("BEGIN")),
		respond(exampleRows()),
		respond(testutil.OK("COMMIT")),
	)

	calls := 0
	err := conn.Exec("SELECT id, si, t FROM tbl_test WHERE id > $1", func(res *Result, err error) {
		calls++
		if err != nil {
			t.Fatalf("handler error = %v", err)
		}
		defer res.Close()

		if res.Status() != StatusTuplesOK || !res.OK() {
			t.Errorf("Status() = %v, want %v", res.Status(), StatusTuplesOK)
		}
		if res.Size() != 3 {
			t.Errorf("Size() = %d, want 3", res.Size())
		}

		field, err := res.Field(0, 1)
		if err != nil {
			t.Fatalf("Field(0, 1) error = %v", err)
		}
		si, err := codec.Decode(field, codec.Int16)
		if err != nil {
			t.Fatalf("Decode() error = %v", err)
		}
		if si != 10 {
			t.Errorf("si = %d, want 10", si)
		}
	}, int32(0))
	if err != nil {
		t.Fatalf("Exec() error = %v", err)
	}

	runLoop(t, loop)

	if calls != 1 {
		t.Errorf("handler called %d times, want 1", calls)
	}

	want := []string{"BEGIN", "SELECT id, si, t FROM tbl_test WHERE id > $1", "COMMIT"}
	if got := fake.SQL(); !reflect.DeepEqual(got, want) {
		t.Errorf("requests = %v, want %v", got, want)
	}

	params := fake.Requests()[1].Params
	if params.Len() != 1 || !bytes.Equal(params.Values[0], []byte{0, 0, 0, 0}) {
		t.Errorf("params = %+v, want one int4 zero", params)
	}
	if params.OIDs[0] != pgtype.Int4OID || params.Formats[0] != pgtype.BinaryFormatCode {
		t.Errorf("param oid/format = %d/%d", params.OIDs[0], params.Formats[0])
	}
}

func TestConn_ExecStatementFails(t *testing.T) {
	conn, fake, loop := newTestConn(t,
		respond(testutil.OK("BEGIN")),
		respond(testutil.Failed(`relation "missing" does not exist`)),
		respond(testutil.OK("ROLLBACK")),
	)

	calls := 0
	err := conn.Exec("SELECT * FROM missing", func(res *Result, err error) {
		calls++
		if err != nil {
			t.Fatalf("handler error = %v", err)
		}
		if res.Status() != StatusFatalError {
			t.Errorf("Status() = %v, want %v", res.Status(), StatusFatalError)
		}
		if res.Err() == nil {
			t.Error("Expected Err() to report the server error")
		}
		if res.ErrorMessage() == "" {
			t.Error("Expected an error message")
		}
	})
	if err != nil {
		t.Fatalf("Exec() error = %v", err)
	}

	runLoop(t, loop)

	if calls != 1 {
		t.Errorf("handler called %d times, want 1", calls)
	}
	want := []string{"BEGIN", "SELECT * FROM missing", "ROLLBACK"}
	if got := fake.SQL(); !reflect.DeepEqual(got, want) {
		t.Errorf("requests = %v, want %v", got, want)
	}
}

func TestConn_ExecCommitFails(t *testing.T) {
	rows := exampleRows()
	conn, _, loop := newTestConn(t,
		respond(testutil.OK("BEGIN")),
		respond(rows),
		respond(testutil.Failed("could not serialize access")),
	)

	var got *Result
	if err := conn.Exec("SELECT 1", func(res *Result, err error) {
		if err != nil {
			t.Fatalf("handler error = %v", err)
		}
		got = res
	}); err != nil {
		t.Fatalf("Exec() error = %v", err)
	}

	runLoop(t, loop)

	if got == nil || got.Status() != StatusFatalError {
		t.Fatalf("Expected the COMMIT result to be forwarded, got %v", got)
	}
	if rows.Cleared() != 1 {
		t.Errorf("statement result cleared %d times, want 1", rows.Cleared())
	}
}

func TestConn_ExecBeginFails(t *testing.T) {
	conn, fake, loop := newTestConn(t,
		respond(testutil.Failed("out of connections")),
	)

	var gotErr error
	if err := conn.Exec("SELECT 1", func(res *Result, err error) {
		gotErr = err
	}); err != nil {
		t.Fatalf("Exec() error = %v", err)
	}

	runLoop(t, loop)

	if !errors.Is(gotErr, ErrBeginFailed) {
		t.Errorf("handler error = %v, want %v", gotErr, ErrBeginFailed)
	}
	if n := len(fake.Requests()); n != 1 {
		t.Errorf("sent %d requests, want 1", n)
	}
}

func TestConn_ExecEncodeError(t *testing.T) {
	conn, fake, loop := newTestConn(t,
		respond(testutil.OK("BEGIN")),
	)

	var gotErr error
	if err := conn.Exec("SELECT $1", func(res *Result, err error) {
		gotErr = err
	}, struct{}{}); err != nil {
		t.Fatalf("Exec() error = %v", err)
	}

	runLoop(t, loop)

	if !errors.Is(gotErr, codec.ErrUnsupportedType) {
		t.Errorf("handler error = %v, want %v", gotErr, codec.ErrUnsupportedType)
	}
	want := []string{"BEGIN", "ROLLBACK"}
	if got := fake.SQL(); !reflect.DeepEqual(got, want) {
		t.Errorf("requests = %v, want %v", got, want)
	}
}

func TestConn_Prepare(t *testing.T) {
	conn, fake, loop := newTestConn(t,
		respond(testutil.OK("")),
		respond(testutil.OK("BEGIN")),
		respond(exampleRows()),
		respond(testutil.OK("COMMIT")),
	)

	name := NewStatementName()
	err := conn.Prepare(name, "SELECT id, si, t FROM tbl_test WHERE id = $1", func(res *Result, err error) {
		if err != nil || !res.OK() {
			t.Fatalf("prepare failed: %v", err)
		}
		res.Close()

		err = conn.ExecPrepared(name, func(res *Result, err error) {
			if err != nil {
				t.Fatalf("handler error = %v", err)
			}
			if res.Size() != 3 {
				t.Errorf("Size() = %d, want 3", res.Size())
			}
		}, int32(1))
		if err != nil {
			t.Fatalf("ExecPrepared() error = %v", err)
		}
	})
	if err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}

	runLoop(t, loop)

	reqs := fake.Requests()
	if len(reqs) != 4 {
		t.Fatalf("sent %d requests, want 4", len(reqs))
	}
	if reqs[0].Kind != "prepare" || reqs[0].Name != name {
		t.Errorf("request 0 = %+v, want prepare %s", reqs[0], name)
	}
	if reqs[2].Kind != "prepared" || reqs[2].SQL != name {
		t.Errorf("request 2 = %+v, want prepared %s", reqs[2], name)
	}
}

func TestConn_EmptyStatementName(t *testing.T) {
	conn, fake, _ := newTestConn(t)

	if err := conn.Prepare("", "SELECT 1", func(*Result, error) {}); !errors.Is(err, ErrEmptyStatementName) {
		t.Errorf("Prepare() error = %v, want %v", err, ErrEmptyStatementName)
	}
	if err := conn.ExecPrepared("", func(*Result, error) {}); !errors.Is(err, ErrEmptyStatementName) {
		t.Errorf("ExecPrepared() error = %v, want %v", err, ErrEmptyStatementName)
	}
	if n := len(fake.Requests()); n != 0 {
		t.Errorf("sent %d requests, want 0", n)
	}
}

func TestNewStatementName(t *testing.T) {
	a, b := NewStatementName(), NewStatementName()
	if a == "" || a == b {
		t.Errorf("NewStatementName() = %q, %q; want unique non-empty names", a, b)
	}
}

func TestConn_Close(t *testing.T) {
	conn, fake, _ := newTestConn(t)

	if err := conn.Close(context.Background()); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if !fake.Closed() {
		t.Error("Expected the driver to be closed")
	}

	// Second close is a no-op
	if err := conn.Close(context.Background()); err != nil {
		t.Errorf("second Close() error = %v", err)
	}

	err := conn.ExecAll("SELECT 1", func(*Result, error) {})
	if !errors.Is(err, ErrConnClosed) {
		t.Errorf("ExecAll() after Close error = %v, want %v", err, ErrConnClosed)
	}
}

func TestConn_CloseWhileBusy(t *testing.T) {
	gate := make(chan struct{})
	conn, fake, loop := newTestConn(t, &testutil.Response{
		Gate:    gate,
		Results: []*testutil.FakeResult{testutil.OK("SELECT 1")},
	})

	if err := conn.ExecAll("SELECT 1", func(res *Result, err error) { res.Close() }); err != nil {
		t.Fatalf("ExecAll() error = %v", err)
	}

	if err := conn.Close(context.Background()); !errors.Is(err, ErrOperationInProgress) {
		t.Errorf("Close() error = %v, want %v", err, ErrOperationInProgress)
	}
	if fake.Closed() {
		t.Error("Expected the driver to stay open")
	}

	close(gate)
	runLoop(t, loop)

	if err := conn.Close(context.Background()); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}
