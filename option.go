package dxp

import (
	"time"
)

// ErrorAction defines the action to take when the decode loop fails.
type ErrorAction int

const (
	// Disconnect closes the connection when an error occurs.
	Disconnect ErrorAction = iota
	// Continue keeps the transport open for sending. The decode loop stays
	// stopped because the stream cannot be resynchronized.
	Continue
)

// options holds the configuration for a session.
type options struct {
	role    Role
	logger  Logger
	metrics *Metrics

	onEvent func(Event)
	// onError is called when the decode loop fails.
	// Returns Disconnect to close the connection, Continue to keep it open.
	onError func(error) ErrorAction

	bufferSize     int           // size of the outbound queue
	readBufferSize int           // size of a single transport read
	readTimeout    time.Duration // read deadline per transport read, 0 disables
	dialTimeout    time.Duration // timeout for establishing the transport
}

// Option is a function that configures session options.
type Option func(*options)

// RoleOption selects whether the session initiates games or follows.
// The default is Initiator.
func RoleOption(role Role) Option {
	return func(o *options) {
		o.role = role
	}
}

// OnEventOption sets the notification handler.
// This callback is required. It is invoked synchronously for every message
// sent or received: received events from the decode loop, sent events from
// the goroutine that called the Send method. The two can overlap, so the
// handler must be safe for concurrent use. Sending from the handler is
// allowed; such a send fails with ErrConnectionClosed once the connection is
// shutting down.
func OnEventOption(cb func(Event)) Option {
	return func(o *options) {
		o.onEvent = cb
	}
}

// OnErrorOption sets the callback invoked when the decode loop fails.
// Return Disconnect to close the connection, or Continue to keep sending.
func OnErrorOption(cb func(error) ErrorAction) Option {
	return func(o *options) {
		o.onError = cb
	}
}

// BufferSizeOption sets how many outbound messages may wait for the writer.
func BufferSizeOption(size int) Option {
	return func(o *options) {
		o.bufferSize = size
	}
}

// ReadBufferSizeOption sets the size of each read from the transport.
func ReadBufferSizeOption(size int) Option {
	return func(o *options) {
		o.readBufferSize = size
	}
}

// ReadTimeoutOption sets a deadline for each transport read. A peer that stays
// silent longer than this is disconnected. Zero, the default, waits forever.
func ReadTimeoutOption(timeout time.Duration) Option {
	return func(o *options) {
		o.readTimeout = timeout
	}
}

// DialTimeoutOption sets the timeout used by Connect.
func DialTimeoutOption(timeout time.Duration) Option {
	return func(o *options) {
		o.dialTimeout = timeout
	}
}

// LoggerOption sets the logger.
// If not set, zap's global logger is used.
func LoggerOption(logger Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// MetricsOption sets the collectors the session reports to.
func MetricsOption(m *Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}
