package pgreactor

import (
	"time"

	"github.com/youssefsiam38/pgreactor/driver"
	"github.com/youssefsiam38/pgreactor/reactor"
)

// Option is a functional option for configuring a Conn
type Option func(*connConfig) error

// WithLoop runs the connection on an externally owned event loop.
// Without it the process-wide reactor.Default() loop is used.
func WithLoop(loop *reactor.Loop) Option {
	return func(c *connConfig) error {
		if loop == nil {
			return NewOpError("WithLoop", KindConnect, ErrInvalidConfig)
		}
		c.loop = loop
		return nil
	}
}

// WithLogger sets the logger. *slog.Logger satisfies Logger.
func WithLogger(logger Logger) Option {
	return func(c *connConfig) error {
		if logger != nil {
			c.logger = logger
		}
		return nil
	}
}

// WithConnectTimeout bounds connection establishment (default 10s)
func WithConnectTimeout(timeout time.Duration) Option {
	return func(c *connConfig) error {
		if timeout <= 0 {
			return NewOpError("WithConnectTimeout", KindConnect, ErrInvalidConfig)
		}
		c.connectTimeout = timeout
		return nil
	}
}

// WithRollbackTimeout bounds the synchronous rollback issued when an open
// transaction is abandoned (default 5s)
func WithRollbackTimeout(timeout time.Duration) Option {
	return func(c *connConfig) error {
		if timeout <= 0 {
			return NewOpError("WithRollbackTimeout", KindConnect, ErrInvalidConfig)
		}
		c.rollbackTimeout = timeout
		return nil
	}
}

// WithCloseTimeout bounds the synchronous teardown in Close (default 5s)
func WithCloseTimeout(timeout time.Duration) Option {
	return func(c *connConfig) error {
		if timeout <= 0 {
			return NewOpError("WithCloseTimeout", KindConnect, ErrInvalidConfig)
		}
		c.closeTimeout = timeout
		return nil
	}
}

// WithNotificationHandler receives LISTEN/NOTIFY notifications that arrive
// while results are being drained. The handler runs on the loop goroutine.
func WithNotificationHandler(fn func(*driver.Notification)) Option {
	return func(c *connConfig) error {
		c.onNotification = fn
		return nil
	}
}
