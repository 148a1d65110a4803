package pgreactor

import (
	"errors"
	"fmt"
	"testing"

	"github.com/youssefsiam38/pgreactor/driver"
	"github.com/youssefsiam38/pgreactor/internal/testutil"
)

func TestExecAll_ResultStream(t *testing.T) {
	for n := 1; n <= 4; n++ {
		t.Run(fmt.Sprintf("%d statements", n), func(t *testing.T) {
			results := make([]*testutil.FakeResult, n)
			for i := range results {
				results[i] = testutil.OK(fmt.Sprintf("SELECT %d", i))
			}
			conn, _, loop := newTestConn(t, respond(results...))

			var tags []string
			sentinels := 0
			err := conn.ExecAll("SELECT 0; SELECT 1; SELECT 2; SELECT 3", func(res *Result, err error) {
				if err != nil {
					t.Fatalf("handler error = %v", err)
				}
				if res.Done() {
					sentinels++
					return
				}
				if sentinels > 0 {
					t.Error("result delivered after the sentinel")
				}
				tags = append(tags, res.CommandTag().String())
			})
			if err != nil {
				t.Fatalf("ExecAll() error = %v", err)
			}

			runLoop(t, loop)

			if len(tags) != n {
				t.Fatalf("got %d results, want %d", len(tags), n)
			}
			for i, tag := range tags {
				if want := fmt.Sprintf("SELECT %d", i); tag != want {
					t.Errorf("result %d tag = %q, want %q", i, tag, want)
				}
			}
			if sentinels != 1 {
				t.Errorf("got %d sentinels, want 1", sentinels)
			}
		})
	}
}

func TestEngine_SingleResult(t *testing.T) {
	conn, _, loop := newTestConn(t,
		respond(testutil.OK("BEGIN")),
		respond(testutil.OK("INSERT 0 1")),
	)

	calls := 0
	err := conn.Begin(func(tx *Tx, err error) {
		if err != nil {
			t.Fatalf("Begin() handler error = %v", err)
		}
		err = tx.Exec("INSERT INTO tbl_test (si) VALUES ($1)", func(res *Result, err error) {
			calls++
			if err != nil {
				t.Fatalf("handler error = %v", err)
			}
			if res.Done() {
				t.Error("single-statement handler received the sentinel")
			}
			if n, _ := res.AffectedRows(); n != 1 {
				t.Errorf("AffectedRows() = %d, want 1", n)
			}
		}, int16(5))
		if err != nil {
			t.Fatalf("Exec() error = %v", err)
		}
	})
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}

	runLoop(t, loop)

	if calls != 1 {
		t.Errorf("handler called %d times, want 1", calls)
	}
}

func TestEngine_ContractViolation(t *testing.T) {
	t.Run("more than one result", func(t *testing.T) {
		first, second := testutil.OK("SELECT 1"), testutil.OK("SELECT 1")
		conn, _, loop := newTestConn(t,
			respond(testutil.OK("BEGIN")),
			respond(first, second),
		)

		var errs []error
		err := conn.Begin(func(tx *Tx, err error) {
			if err != nil {
				t.Fatalf("Begin() handler error = %v", err)
			}
			if err := tx.Exec("SELECT 1; SELECT 1", func(res *Result, err error) {
				errs = append(errs, err)
			}); err != nil {
				t.Fatalf("Exec() error = %v", err)
			}
		})
		if err != nil {
			t.Fatalf("Begin() error = %v", err)
		}

		runLoop(t, loop)

		if len(errs) != 1 {
			t.Fatalf("handler called %d times, want 1", len(errs))
		}
		if !errors.Is(errs[0], ErrProtocolViolation) || !IsKind(errs[0], KindProtocol) {
			t.Errorf("handler error = %v, want a protocol violation", errs[0])
		}
		if first.Cleared() != 1 || second.Cleared() != 1 {
			t.Errorf("results cleared %d/%d times, want 1/1", first.Cleared(), second.Cleared())
		}
		if !conn.Broken() {
			t.Error("Expected the connection to be broken")
		}

		err = conn.ExecAll("SELECT 1", func(*Result, error) {})
		if !errors.Is(err, ErrConnBroken) {
			t.Errorf("ExecAll() error = %v, want %v", err, ErrConnBroken)
		}
	})

	t.Run("no result", func(t *testing.T) {
		conn, _, loop := newTestConn(t, respond())

		var gotErr error
		calls := 0
		if err := conn.Prepare("stmt", "SELECT 1", func(res *Result, err error) {
			calls++
			gotErr = err
		}); err != nil {
			t.Fatalf("Prepare() error = %v", err)
		}

		runLoop(t, loop)

		if calls != 1 {
			t.Fatalf("handler called %d times, want 1", calls)
		}
		if !IsKind(gotErr, KindProtocol) {
			t.Errorf("handler error = %v, want kind %v", gotErr, KindProtocol)
		}
		if !conn.Broken() {
			t.Error("Expected the connection to be broken")
		}
	})
}

func TestEngine_SendError(t *testing.T) {
	conn, fake, loop := newTestConn(t)
	fake.SendErr = errors.New("connection lost")

	called := false
	err := conn.ExecAll("SELECT 1", func(*Result, error) { called = true })
	if !IsKind(err, KindSend) {
		t.Fatalf("ExecAll() error = %v, want kind %v", err, KindSend)
	}
	if loop.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0", loop.Pending())
	}

	runLoop(t, loop)

	if called {
		t.Error("handler must not run after a send error")
	}

	// The connection is released
	fake.SendErr = nil
	if err := conn.ExecAll("SELECT 1", func(res *Result, err error) { res.Close() }); err != nil {
		t.Errorf("ExecAll() after send error = %v", err)
	}
	runLoop(t, loop)
}

func TestEngine_OperationInProgress(t *testing.T) {
	gate := make(chan struct{})
	conn, fake, loop := newTestConn(t, &testutil.Response{
		Gate:    gate,
		Results: []*testutil.FakeResult{testutil.OK("SELECT 1")},
	})

	if err := conn.ExecAll("SELECT 1", func(res *Result, err error) { res.Close() }); err != nil {
		t.Fatalf("ExecAll() error = %v", err)
	}

	err := conn.ExecAll("SELECT 2", func(*Result, error) {
		t.Error("handler of a rejected operation must not run")
	})
	if !errors.Is(err, ErrOperationInProgress) {
		t.Errorf("second ExecAll() error = %v, want %v", err, ErrOperationInProgress)
	}

	close(gate)
	runLoop(t, loop)

	if n := len(fake.Requests()); n != 1 {
		t.Errorf("sent %d requests, want 1", n)
	}
}

func TestEngine_SubmitFromTerminalHandler(t *testing.T) {
	conn, fake, loop := newTestConn(t,
		respond(testutil.OK("SELECT 1")),
		respond(testutil.OK("SELECT 2")),
	)

	second := false
	err := conn.ExecAll("SELECT 1", func(res *Result, err error) {
		if err != nil {
			t.Fatalf("handler error = %v", err)
		}
		if !res.Done() {
			res.Close()
			return
		}
		err = conn.ExecAll("SELECT 2", func(res *Result, err error) {
			if res.Done() {
				second = true
			}
		})
		if err != nil {
			t.Errorf("ExecAll() from terminal handler error = %v", err)
		}
	})
	if err != nil {
		t.Fatalf("ExecAll() error = %v", err)
	}

	runLoop(t, loop)

	if !second {
		t.Error("Expected the second operation to complete")
	}
	if n := len(fake.Requests()); n != 2 {
		t.Errorf("sent %d requests, want 2", n)
	}
}

func TestEngine_FlushWouldBlock(t *testing.T) {
	conn, _, loop := newTestConn(t, &testutil.Response{
		Results: []*testutil.FakeResult{testutil.OK("SELECT 1")},
		Flushes: []driver.FlushStatus{
			driver.FlushWouldBlock,
			driver.FlushWouldBlock,
			driver.FlushWouldBlock,
		},
	})

	var results int
	done := false
	if err := conn.ExecAll("SELECT 1", func(res *Result, err error) {
		if err != nil {
			t.Fatalf("handler error = %v", err)
		}
		if res.Done() {
			done = true
			return
		}
		results++
	}); err != nil {
		t.Fatalf("ExecAll() error = %v", err)
	}

	runLoop(t, loop)

	if results != 1 || !done {
		t.Errorf("got %d results, done = %v; want 1, true", results, done)
	}
}

func TestEngine_FlushError(t *testing.T) {
	conn, _, loop := newTestConn(t, &testutil.Response{
		Results: []*testutil.FakeResult{testutil.OK("SELECT 1")},
		Flushes: []driver.FlushStatus{driver.FlushError},
	})

	var errs []error
	if err := conn.ExecAll("SELECT 1", func(res *Result, err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}); err != nil {
		t.Fatalf("ExecAll() error = %v", err)
	}

	runLoop(t, loop)

	if len(errs) != 1 {
		t.Fatalf("got %d errors, want 1", len(errs))
	}
	if !IsKind(errs[0], KindIO) {
		t.Errorf("handler error = %v, want kind %v", errs[0], KindIO)
	}
	if !conn.Broken() {
		t.Error("Expected the connection to be broken")
	}

	err := conn.ExecAll("SELECT 1", func(*Result, error) {})
	if !errors.Is(err, ErrConnBroken) {
		t.Errorf("ExecAll() after flush failure error = %v, want %v", err, ErrConnBroken)
	}
}

func TestEngine_ConsumeError(t *testing.T) {
	conn, _, loop := newTestConn(t, &testutil.Response{
		ConsumeErr: errors.New("server closed the connection unexpectedly"),
	})

	calls := 0
	var gotErr error
	if err := conn.ExecAll("SELECT 1", func(res *Result, err error) {
		calls++
		gotErr = err
	}); err != nil {
		t.Fatalf("ExecAll() error = %v", err)
	}

	runLoop(t, loop)

	if calls != 1 {
		t.Fatalf("handler called %d times, want 1", calls)
	}
	if !IsKind(gotErr, KindIO) {
		t.Errorf("handler error = %v, want kind %v", gotErr, KindIO)
	}
	if !conn.Broken() {
		t.Error("Expected the connection to be broken")
	}
}

func TestOpState_String(t *testing.T) {
	tests := []struct {
		state opState
		want  string
	}{
		{stateAwaitingWrite, "awaiting_write"},
		{stateAwaitingRead, "awaiting_read"},
		{stateDraining, "draining"},
		{stateDone, "done"},
		{opState(42), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("opState(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
