// Package reactor provides the event loop that drives pgreactor connections.
//
// A Loop runs posted tasks and readiness callbacks one at a time on a single
// goroutine, so callbacks for a connection never race with each other. The
// loop can be owned by the caller, who drives it with Run, or run in the
// background with Start/Stop. Default returns a process-wide loop that is
// started on first use and never stopped.
//
// Readiness subscriptions are one-shot: Wait arms a callback for a single
// channel close and the callback must call Wait again to keep listening.
package reactor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

var (
	// ErrAlreadyStarted is returned when Start or Run is called on a loop that is already running.
	ErrAlreadyStarted = errors.New("loop already started")

	// ErrNotStarted is returned when Stop is called on a loop that was not started.
	ErrNotStarted = errors.New("loop not started")
)

// Loop is a single-goroutine task executor.
type Loop struct {
	mu    sync.Mutex
	queue []func()
	wake  chan struct{}

	// pending counts posted tasks not yet run plus armed subscriptions.
	// Run returns when it drops to zero.
	pending atomic.Int64

	running atomic.Bool
	started atomic.Bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a loop. Nothing runs until Run or Start is called.
func New() *Loop {
	return &Loop{
		wake: make(chan struct{}, 1),
	}
}

var (
	defaultLoop     *Loop
	defaultLoopOnce sync.Once
)

// Default returns the process-wide loop, starting it on first use.
func Default() *Loop {
	defaultLoopOnce.Do(func() {
		defaultLoop = New()
		_ = defaultLoop.Start(context.Background())
	})
	return defaultLoop
}

// Post schedules fn to run on the loop goroutine.
func (l *Loop) Post(fn func()) {
	l.pending.Add(1)
	l.enqueue(fn)
}

// Wait arms a one-shot subscription: once ready is closed, fn runs on the
// loop goroutine unless the subscription was cancelled first.
func (l *Loop) Wait(ready <-chan struct{}, fn func()) *Subscription {
	sub := &Subscription{cancel: make(chan struct{})}
	l.pending.Add(1)

	go func() {
		select {
		case <-ready:
			l.enqueue(func() {
				if sub.cancelled.Load() {
					return
				}
				fn()
			})
		case <-sub.cancel:
			l.release()
		}
	}()

	return sub
}

// Pending returns the number of queued tasks and armed subscriptions.
func (l *Loop) Pending() int64 {
	return l.pending.Load()
}

// Run executes tasks on the calling goroutine until no work is left or ctx
// is done. It is the counterpart of running an externally owned loop.
func (l *Loop) Run(ctx context.Context) error {
	if !l.running.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	defer l.running.Store(false)

	for {
		if l.pending.Load() == 0 {
			return nil
		}

		if task := l.dequeue(); task != nil {
			l.runTask(task)
			continue
		}

		select {
		case <-l.wake:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Start runs the loop on a background goroutine until Stop is called. The
// loop stays alive while idle.
func (l *Loop) Start(ctx context.Context) error {
	if !l.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	ctx, l.cancel = context.WithCancel(ctx)
	l.done = make(chan struct{})

	// Work guard: keeps Run from returning while idle.
	l.pending.Add(1)

	go func() {
		defer close(l.done)
		_ = l.Run(ctx)
	}()

	return nil
}

// Stop stops a loop started with Start and waits for it to exit. Tasks still
// queued are dropped.
func (l *Loop) Stop(ctx context.Context) error {
	if !l.started.Load() {
		return ErrNotStarted
	}

	l.cancel()

	select {
	case <-l.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	l.pending.Add(-1)
	l.started.Store(false)
	return nil
}

func (l *Loop) runTask(task func()) {
	defer l.release()
	task()
}

func (l *Loop) enqueue(fn func()) {
	l.mu.Lock()
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	l.signal()
}

func (l *Loop) dequeue() func() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.queue) == 0 {
		return nil
	}
	task := l.queue[0]
	l.queue[0] = nil
	l.queue = l.queue[1:]
	return task
}

// release marks one unit of work finished.
func (l *Loop) release() {
	if l.pending.Add(-1) == 0 {
		l.signal()
	}
}

func (l *Loop) signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Subscription is an armed readiness callback.
type Subscription struct {
	cancel    chan struct{}
	cancelled atomic.Bool
	once      sync.Once
}

// Cancel disarms the subscription. The callback will not run afterwards,
// even if the channel was already closed. Cancel on a nil subscription is a
// no-op.
func (s *Subscription) Cancel() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		s.cancelled.Store(true)
		close(s.cancel)
	})
}
