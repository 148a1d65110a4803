// Package notifier provides LISTEN/NOTIFY on top of a pgreactor connection.
//
// The server only delivers notifications while the client reads from the
// socket, and a pgreactor connection only reads while an operation is in
// flight. The notifier therefore does two things:
//   - It fans notifications handed over by the connection out to per-channel
//     subscribers.
//   - Once started, it keeps an otherwise idle connection reading by issuing
//     an empty query at a fixed interval.
//
// Usage:
//
//	n := notifier.NewNotifier(nil)
//	conn, _ := pgreactor.Connect(ctx, cfg, pgreactor.WithNotificationHandler(n.Handle))
//	n.Subscribe("jobs", func(e *notifier.Event) { ... })
//	_ = n.Listen(conn, "jobs", func(err error) { ... })
//	_ = n.Start(ctx, conn)
package notifier

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/youssefsiam38/pgreactor"
	"github.com/youssefsiam38/pgreactor/driver"
	"github.com/youssefsiam38/pgreactor/reactor"
)

// Event represents a notification received on a channel.
type Event struct {
	// Channel is the channel the notification was sent on.
	Channel string

	// Payload is the notification payload (may be empty).
	Payload string

	// PID is the process ID of the notifying backend.
	PID uint32

	// ReceivedAt is when the event was received.
	ReceivedAt time.Time
}

// Handler is called when an event is received.
type Handler func(event *Event)

// Config holds configuration for the notifier.
type Config struct {
	// PollInterval is how often an idle connection is polled for notifications.
	// Default: 1 second
	PollInterval time.Duration

	// OnError is called when a poll fails.
	OnError func(err error)
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		PollInterval: time.Second,
	}
}

// Conn is the part of *pgreactor.Conn the notifier drives.
type Conn interface {
	Exec(query string, h pgreactor.Handler, args ...any) error
	ExecAll(query string, h pgreactor.Handler) error
	Loop() *reactor.Loop
}

var _ Conn = (*pgreactor.Conn)(nil)

// Subscription represents an active subscription to a channel.
type Subscription struct {
	channel string
	handler Handler
	id      int64
}

// Notifier dispatches notifications to subscribers.
type Notifier struct {
	config *Config

	mu            sync.RWMutex
	subscriptions map[string][]*Subscription
	nextSubID     int64

	started atomic.Bool
	done    chan struct{}
	cancel  context.CancelFunc
}

// NewNotifier creates a new notifier. A nil config uses DefaultConfig.
func NewNotifier(config *Config) *Notifier {
	if config == nil {
		config = DefaultConfig()
	}
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultConfig().PollInterval
	}

	return &Notifier{
		config:        config,
		subscriptions: make(map[string][]*Subscription),
	}
}

// Handle dispatches a notification delivered by the connection. Pass it to
// pgreactor.WithNotificationHandler.
func (n *Notifier) Handle(notification *driver.Notification) {
	n.dispatch(&Event{
		Channel:    notification.Channel,
		Payload:    notification.Payload,
		PID:        notification.PID,
		ReceivedAt: time.Now(),
	})
}

// Subscribe registers a handler for the given channel.
// Returns a function to unsubscribe.
func (n *Notifier) Subscribe(channel string, handler Handler) func() {
	n.mu.Lock()
	defer n.mu.Unlock()

	sub := &Subscription{
		channel: channel,
		handler: handler,
		id:      n.nextSubID,
	}
	n.nextSubID++

	n.subscriptions[channel] = append(n.subscriptions[channel], sub)

	return func() {
		n.unsubscribe(channel, sub.id)
	}
}

// unsubscribe removes a subscription.
func (n *Notifier) unsubscribe(channel string, id int64) {
	n.mu.Lock()
	defer n.mu.Unlock()

	subs := n.subscriptions[channel]
	for i, sub := range subs {
		if sub.id == id {
			n.subscriptions[channel] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(n.subscriptions[channel]) == 0 {
		delete(n.subscriptions, channel)
	}
}

// Listen issues LISTEN for channel on conn. done is called once with the
// outcome.
func (n *Notifier) Listen(conn Conn, channel string, done func(error)) error {
	return command(conn, "LISTEN", channel, done)
}

// Unlisten issues UNLISTEN for channel on conn.
func (n *Notifier) Unlisten(conn Conn, channel string, done func(error)) error {
	return command(conn, "UNLISTEN", channel, done)
}

// Notify sends payload on channel through conn. The notification is
// delivered when the surrounding transaction commits.
func (n *Notifier) Notify(conn Conn, channel, payload string, done func(error)) error {
	if channel == "" {
		return ErrEmptyChannel
	}
	return conn.Exec("SELECT pg_notify($1, $2)", func(res *pgreactor.Result, err error) {
		if err == nil {
			err = res.Err()
			res.Close()
		}
		done(err)
	}, channel, payload)
}

func command(conn Conn, verb, channel string, done func(error)) error {
	if channel == "" {
		return ErrEmptyChannel
	}

	var firstErr error
	return conn.ExecAll(verb+" "+pgx.Identifier{channel}.Sanitize(), func(res *pgreactor.Result, err error) {
		switch {
		case err != nil:
			done(err)
		case res.Done():
			done(firstErr)
		default:
			if firstErr == nil {
				firstErr = res.Err()
			}
			res.Close()
		}
	})
}

// Start polls conn for notifications until ctx is done or Stop is called.
// Polls are posted to the connection's loop, which must be running. A poll
// is skipped while another operation is in flight since that operation
// already reads from the socket.
func (n *Notifier) Start(ctx context.Context, conn Conn) error {
	if !n.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	ctx, n.cancel = context.WithCancel(ctx)
	n.done = make(chan struct{})
	go n.run(ctx, conn)

	return nil
}

// Stop stops polling.
func (n *Notifier) Stop(ctx context.Context) error {
	if !n.started.Load() {
		return ErrNotStarted
	}

	n.cancel()
	select {
	case <-n.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	n.started.Store(false)
	return nil
}

// IsRunning returns true if the notifier is polling.
func (n *Notifier) IsRunning() bool {
	return n.started.Load()
}

// run is the main polling loop.
func (n *Notifier) run(ctx context.Context, conn Conn) {
	defer close(n.done)

	ticker := time.NewTicker(n.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			conn.Loop().Post(func() { n.poll(conn) })
		}
	}
}

// poll runs on the loop goroutine.
func (n *Notifier) poll(conn Conn) {
	err := conn.ExecAll("", func(res *pgreactor.Result, err error) {
		if err != nil {
			n.reportError(err)
			return
		}
		res.Close()
	})
	if err != nil && !errors.Is(err, pgreactor.ErrOperationInProgress) {
		n.reportError(err)
	}
}

func (n *Notifier) reportError(err error) {
	if n.config.OnError != nil {
		n.config.OnError(err)
	}
}

// dispatch sends an event to all subscribed handlers.
func (n *Notifier) dispatch(event *Event) {
	n.mu.RLock()
	subs := make([]*Subscription, len(n.subscriptions[event.Channel]))
	copy(subs, n.subscriptions[event.Channel])
	n.mu.RUnlock()

	for _, sub := range subs {
		// Handlers run on the loop goroutine in subscription order
		sub.handler(event)
	}
}
