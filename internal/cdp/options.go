package cdp

import (
	"time"

	"go.uber.org/zap"
)

// DefaultTimeout is the default timeout for CDP commands.
const DefaultTimeout = 30 * time.Second

// DefaultReadLimit caps the size of a single inbound frame. Screenshots and
// large evaluation results routinely exceed the websocket library default.
const DefaultReadLimit = 100 << 20

type options struct {
	logger    *zap.Logger
	metrics   *Metrics
	timeout   time.Duration
	readLimit int64
}

// Option configures a Connection.
type Option func(*options)

// WithLogger sets the logger. Sessions inherit a named child of it.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetrics records connection activity into m.
func WithMetrics(m *Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithTimeout sets the deadline used by Send for both the connection and its sessions.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithReadLimit sets the maximum inbound frame size used by Dial.
func WithReadLimit(n int64) Option {
	return func(o *options) {
		if n > 0 {
			o.readLimit = n
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{
		logger:    zap.NewNop(),
		timeout:   DefaultTimeout,
		readLimit: DefaultReadLimit,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
