package testutil

import (
	"context"
	"errors"
	"strconv"
	"sync"

	"github.com/youssefsiam38/pgreactor/driver"
)

// ready is a closed channel: always-ready readiness.
var ready = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// FakeResult is a scripted driver.Result.
type FakeResult struct {
	StatusV driver.ResultStatus
	Cols    []driver.Column
	RowsV   [][][]byte
	Tag     string
	Message string
	ErrV    error

	mu      sync.Mutex
	cleared int
}

// OK returns a command result with the given tag.
func OK(tag string) *FakeResult {
	return &FakeResult{StatusV: driver.StatusCommandOK, Tag: tag}
}

// Rows returns a tuples result. A nil value is NULL.
func Rows(cols []driver.Column, rows ...[][]byte) *FakeResult {
	return &FakeResult{
		StatusV: driver.StatusTuplesOK,
		Cols:    cols,
		RowsV:   rows,
		Tag:     "SELECT " + strconv.Itoa(len(rows)),
	}
}

// Failed returns a fatal error result.
func Failed(message string) *FakeResult {
	return &FakeResult{StatusV: driver.StatusFatalError, Message: message, ErrV: errors.New(message)}
}

func (r *FakeResult) Status() driver.ResultStatus { return r.StatusV }
func (r *FakeResult) NumRows() int { return len(r.RowsV) }
func (r *FakeResult) NumColumns() int { return len(r.Cols) }
func (r *FakeResult) Column(col int) driver.Column { return r.Cols[col] }
func (r *FakeResult) Value(row, col int) []byte { return r.RowsV[row][col] }
func (r *FakeResult) IsNull(row, col int) bool { return r.RowsV[row][col] == nil }
func (r *FakeResult) CommandTag() string { return r.Tag }
func (r *FakeResult) ErrorMessage() string { return r.Message }
func (r *FakeResult) Err() error { return r.ErrV }

// Clear records the release.
func (r *FakeResult) Clear() {
	r.mu.Lock()
	r.cleared++
	r.mu.Unlock()
}

// Cleared returns how many times Clear was called.
func (r *FakeResult) Cleared() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cleared
}

// Response scripts the server's answer to one request.
type Response struct {
	// Results are handed out in order before the end marker.
	Results []*FakeResult

	// Gate holds the response back until it is closed. Nil means the
	// response is available at once.
	Gate chan struct{}

	// ConsumeErr is returned by ConsumeInput while this request is active.
	ConsumeErr error

	// Flushes is returned by successive Flush calls, then FlushDone.
	Flushes []driver.FlushStatus
}

// Request is a request recorded by FakeProtocol.
type Request struct {
	Kind   string // "query", "params", "prepare" or "prepared"
	SQL    string // query text or statement name
	Name   string // statement name for "prepare"
	Params *driver.Params
}

// FakeProtocol is a scripted driver.Protocol. Each Send call takes the next
// queued Response; a Send with nothing queued answers with a single OK result.
type FakeProtocol struct {
	mu        sync.Mutex
	responses []*Response
	requests  []Request
	active    *Response
	consumed  bool
	lastErr   string
	closed    bool

	// SendErr fails every Send call.
	SendErr error
}

var _ driver.Protocol = (*FakeProtocol)(nil)

// NewFakeProtocol creates a fake with the given responses queued.
func NewFakeProtocol(responses ...*Response) *FakeProtocol {
	return &FakeProtocol{responses: responses}
}

// Queue appends responses.
func (p *FakeProtocol) Queue(responses ...*Response) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.responses = append(p.responses, responses...)
}

// Requests returns the recorded requests.
func (p *FakeProtocol) Requests() []Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Request(nil), p.requests...)
}

// SQL returns the text of every recorded request.
func (p *FakeProtocol) SQL() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.requests))
	for i, r := range p.requests {
		out[i] = r.SQL
	}
	return out
}

// Closed reports whether Close was called.
func (p *FakeProtocol) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *FakeProtocol) send(req Request) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.SendErr != nil {
		p.lastErr = p.SendErr.Error()
		return p.SendErr
	}
	if p.closed {
		p.lastErr = "connection closed"
		return errors.New(p.lastErr)
	}
	if p.active != nil {
		p.lastErr = "another command is already in progress"
		return errors.New(p.lastErr)
	}

	p.requests = append(p.requests, req)
	if len(p.responses) > 0 {
		p.active = p.responses[0]
		p.responses = p.responses[1:]
	} else {
		p.active = &Response{Results: []*FakeResult{OK("OK")}}
	}
	p.consumed = false
	return nil
}

func (p *FakeProtocol) SendQuery(sql string) error {
	return p.send(Request{Kind: "query", SQL: sql})
}

func (p *FakeProtocol) SendQueryParams(sql string, params *driver.Params) error {
	return p.send(Request{Kind: "params", SQL: sql, Params: params})
}

func (p *FakeProtocol) SendPrepare(name, sql string) error {
	return p.send(Request{Kind: "prepare", SQL: sql, Name: name})
}

func (p *FakeProtocol) SendQueryPrepared(name string, params *driver.Params) error {
	return p.send(Request{Kind: "prepared", SQL: name, Params: params})
}

func (p *FakeProtocol) gateOpen() bool {
	if p.active == nil || p.active.Gate == nil {
		return true
	}
	select {
	case <-p.active.Gate:
		return true
	default:
		return false
	}
}

func (p *FakeProtocol) ConsumeInput() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.active != nil && p.active.ConsumeErr != nil {
		p.lastErr = p.active.ConsumeErr.Error()
		return p.active.ConsumeErr
	}
	if p.gateOpen() {
		p.consumed = true
	}
	return nil
}

func (p *FakeProtocol) Flush() driver.FlushStatus {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.active == nil || len(p.active.Flushes) == 0 {
		return driver.FlushDone
	}
	status := p.active.Flushes[0]
	p.active.Flushes = p.active.Flushes[1:]
	if status == driver.FlushError {
		p.lastErr = "broken pipe"
	}
	return status
}

func (p *FakeProtocol) IsBusy() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active != nil && !p.consumed
}

func (p *FakeProtocol) NextResult() driver.Result {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.active == nil {
		return nil
	}
	if len(p.active.Results) > 0 {
		r := p.active.Results[0]
		p.active.Results = p.active.Results[1:]
		return r
	}
	p.active = nil
	return nil
}

func (p *FakeProtocol) LastError() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastErr
}

func (p *FakeProtocol) Socket() driver.Socket {
	return fakeSocket{p: p}
}

func (p *FakeProtocol) Close(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

type fakeSocket struct {
	p *FakeProtocol
}

// ReadReady waits on the active response's gate, if any.
func (s fakeSocket) ReadReady() <-chan struct{} {
	s.p.mu.Lock()
	defer s.p.mu.Unlock()
	if s.p.active != nil && s.p.active.Gate != nil {
		return s.p.active.Gate
	}
	return ready
}

func (s fakeSocket) WriteReady() <-chan struct{} {
	return ready
}
