package pgxv5

import (
	"context"
	"net"
	"sync"

	"github.com/youssefsiam38/pgreactor/driver"
)

const readBufferSize = 8192

// socket turns a blocking net.Conn into a readiness source.
//
// A reader goroutine keeps pulling bytes off the connection into an input
// buffer and a writer goroutine pushes out whatever flush hands it. Readiness
// is level-triggered: a wait channel is closed when the condition holds and a
// fresh one is handed out once it no longer does.
type socket struct {
	conn net.Conn

	writeCh chan []byte
	closed  chan struct{}

	mu        sync.Mutex
	in        []byte
	readErr   error
	readWait  chan struct{}
	out       []byte
	writing   bool
	writeErr  error
	writeWait chan struct{}

	closeOnce sync.Once
	wg        sync.WaitGroup
}

var _ driver.Socket = (*socket)(nil)

// ready is returned to waiters whose condition already holds.
var ready = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

func newSocket(conn net.Conn) *socket {
	s := &socket{
		conn:      conn,
		writeCh:   make(chan []byte, 1),
		closed:    make(chan struct{}),
		readWait:  make(chan struct{}),
		writeWait: make(chan struct{}),
	}

	s.wg.Add(2)
	go s.readLoop()
	go s.writeLoop()

	return s
}

// ReadReady returns a channel that is closed once input is buffered or the
// reader has stopped.
func (s *socket) ReadReady() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.in) > 0 || s.readErr != nil {
		return ready
	}
	return s.readWait
}

// WriteReady returns a channel that is closed once no write is in progress.
func (s *socket) WriteReady() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.writing {
		return ready
	}
	return s.writeWait
}

// Write queues p for the writer goroutine. It never blocks and never fails;
// write errors surface through flush.
func (s *socket) Write(p []byte) (int, error) {
	s.mu.Lock()
	s.out = append(s.out, p...)
	s.mu.Unlock()
	return len(p), nil
}

// takeInput returns the input received since the last call together with
// the terminal read error, if the reader has stopped.
func (s *socket) takeInput() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	in := s.in
	s.in = nil
	return in, s.readErr
}

// readError returns the terminal read error, if the reader has stopped.
func (s *socket) readError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readErr
}

// flush hands queued output to the writer goroutine.
func (s *socket) flush() (driver.FlushStatus, error) {
	s.mu.Lock()
	if s.writeErr != nil {
		err := s.writeErr
		s.mu.Unlock()
		return driver.FlushError, err
	}
	if s.writing {
		s.mu.Unlock()
		return driver.FlushWouldBlock, nil
	}
	if len(s.out) == 0 {
		s.mu.Unlock()
		return driver.FlushDone, nil
	}

	buf := s.out
	s.out = nil
	s.writing = true
	s.mu.Unlock()

	// The writer is idle, so the buffered channel has room.
	s.writeCh <- buf
	return driver.FlushWouldBlock, nil
}

// waitFlushed flushes until all output is written, blocking the caller.
func (s *socket) waitFlushed(ctx context.Context) error {
	for {
		status, err := s.flush()
		switch status {
		case driver.FlushDone:
			return nil
		case driver.FlushError:
			return err
		}

		select {
		case <-s.WriteReady():
		case <-s.closed:
			return net.ErrClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *socket) readLoop() {
	defer s.wg.Done()

	buf := make([]byte, readBufferSize)
	for {
		n, err := s.conn.Read(buf)

		s.mu.Lock()
		if n > 0 {
			s.in = append(s.in, buf[:n]...)
		}
		if err != nil {
			s.readErr = err
		}
		close(s.readWait)
		s.readWait = make(chan struct{})
		s.mu.Unlock()

		if err != nil {
			return
		}
	}
}

func (s *socket) writeLoop() {
	defer s.wg.Done()

	for {
		select {
		case buf := <-s.writeCh:
			_, err := s.conn.Write(buf)

			s.mu.Lock()
			s.writing = false
			if err != nil && s.writeErr == nil {
				s.writeErr = err
			}
			close(s.writeWait)
			s.writeWait = make(chan struct{})
			s.mu.Unlock()
		case <-s.closed:
			return
		}
	}
}

// close shuts the connection down and waits for both goroutines to exit.
func (s *socket) close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		err = s.conn.Close()
		s.wg.Wait()
	})
	return err
}
