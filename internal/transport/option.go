package transport

import "time"

const (
	defaultWriteTimeout = 5 * time.Second
	defaultMaxLineSize  = 64 * 1024
)

type options struct {
	writeTimeout time.Duration
	maxLineSize  int
}

func defaultOptions() options {
	return options{
		writeTimeout: defaultWriteTimeout,
		maxLineSize:  defaultMaxLineSize,
	}
}

// Option configures a Conn.
type Option func(*options)

// WithWriteTimeout bounds every Send so a peer that stopped reading cannot
// block the writer forever. Zero disables the deadline.
func WithWriteTimeout(d time.Duration) Option {
	return func(o *options) {
		o.writeTimeout = d
	}
}

// WithMaxLineSize sets the longest line ReadLoop accepts. A longer line is
// treated as an I/O failure.
func WithMaxLineSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxLineSize = n
		}
	}
}
