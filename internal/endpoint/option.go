package endpoint

import (
	"time"

	"github.com/1ureka/rhythmlink/internal/transport"
)

const (
	defaultDialTimeout  = 5 * time.Second
	defaultRejectLinger = time.Second
	defaultJoinTimeout  = 10 * time.Second
)

type options struct {
	dialTimeout  time.Duration
	rejectLinger time.Duration
	joinTimeout  time.Duration
	conn         []transport.Option
}

func newOptions(opt []Option) options {
	opts := options{
		dialTimeout:  defaultDialTimeout,
		rejectLinger: defaultRejectLinger,
		joinTimeout:  defaultJoinTimeout,
	}
	for _, o := range opt {
		o(&opts)
	}
	return opts
}

// Option configures a Host or a Joiner.
type Option func(*options)

// WithDialTimeout bounds how long a joiner waits for the TCP connection.
func WithDialTimeout(d time.Duration) Option {
	return func(o *options) {
		o.dialTimeout = d
	}
}

// WithRejectLinger bounds how long the host keeps a rejected connection
// open so the rejection can be read before the socket goes away.
func WithRejectLinger(d time.Duration) Option {
	return func(o *options) {
		o.rejectLinger = d
	}
}

// WithJoinTimeout bounds how long an accepted connection may hold the guest
// slot without completing the handshake.
func WithJoinTimeout(d time.Duration) Option {
	return func(o *options) {
		o.joinTimeout = d
	}
}

// WithConnOptions passes options through to every transport.Conn.
func WithConnOptions(opt ...transport.Option) Option {
	return func(o *options) {
		o.conn = append(o.conn, opt...)
	}
}
