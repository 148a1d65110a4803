package pgreactor

import (
	"fmt"
	"time"

	"github.com/youssefsiam38/pgreactor/driver"
	"github.com/youssefsiam38/pgreactor/reactor"
)

const (
	// DefaultConnectTimeout bounds connection establishment.
	DefaultConnectTimeout = 10 * time.Second

	// DefaultRollbackTimeout bounds the synchronous rollback of an abandoned transaction.
	DefaultRollbackTimeout = 5 * time.Second

	// DefaultCloseTimeout bounds the synchronous teardown in Close.
	DefaultCloseTimeout = 5 * time.Second
)

// Logger interface for structured logging.
// Compatible with *slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a no-op implementation of Logger.
type noopLogger struct{}

func (noopLogger) Debug(msg string, args ...any) {}
func (noopLogger) Info(msg string, args ...any)  {}
func (noopLogger) Warn(msg string, args ...any)  {}
func (noopLogger) Error(msg string, args ...any) {}

// Config holds the required configuration for a connection.
//
// Example:
//
//	conn, err := pgreactor.Connect(ctx, pgreactor.Config{
//	    ConnString: "postgres://postgres@localhost:5432/postgres",
//	}, pgreactor.WithLoop(loop))
type Config struct {
	// ConnString is a libpq-style keyword/value string or a postgres:// URL (required)
	ConnString string
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.ConnString == "" {
		return fmt.Errorf("%w: ConnString is required", ErrInvalidConfig)
	}
	return nil
}

// connConfig holds the full connection configuration including optional parameters
type connConfig struct {
	loop            *reactor.Loop
	logger          Logger
	connectTimeout  time.Duration
	rollbackTimeout time.Duration
	closeTimeout    time.Duration
	onNotification  func(*driver.Notification)
}

// newConnConfig creates a connection config with defaults applied
func newConnConfig() *connConfig {
	return &connConfig{
		logger:          noopLogger{},
		connectTimeout:  DefaultConnectTimeout,
		rollbackTimeout: DefaultRollbackTimeout,
		closeTimeout:    DefaultCloseTimeout,
	}
}

// asyncHandlers builds the driver callbacks for out-of-band server messages
func (c *connConfig) asyncHandlers() driver.AsyncHandlers {
	logger := c.logger
	return driver.AsyncHandlers{
		OnNotification: c.onNotification,
		OnNotice: func(n *driver.Notice) {
			logger.Debug("server notice", "severity", n.Severity, "code", n.Code, "message", n.Message)
		},
	}
}
