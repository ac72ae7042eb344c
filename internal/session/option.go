package session

import (
	"time"

	"github.com/1ureka/rhythmlink/internal/endpoint"
	"github.com/1ureka/rhythmlink/internal/transport"
)

const (
	defaultHeartbeatInterval = 2 * time.Second
	defaultHeartbeatTimeout  = 8 * time.Second
)

type options struct {
	events            Events
	heartbeatInterval time.Duration
	heartbeatTimeout  time.Duration
	clock             func() time.Time
	endpoint          []endpoint.Option
}

// Option configures a Session.
type Option func(*options)

// WithEvents registers the game-layer callbacks.
func WithEvents(ev Events) Option {
	return func(o *options) {
		o.events = ev
	}
}

// WithHeartbeat sets how often a keep-alive is sent and how long the peer
// may stay silent before the connection is declared dead. Non-positive
// values keep the defaults.
func WithHeartbeat(interval, timeout time.Duration) Option {
	return func(o *options) {
		if interval > 0 {
			o.heartbeatInterval = interval
		}
		if timeout > 0 {
			o.heartbeatTimeout = timeout
		}
	}
}

// WithDialTimeout bounds JoinHost's connection attempt.
func WithDialTimeout(d time.Duration) Option {
	return func(o *options) {
		o.endpoint = append(o.endpoint, endpoint.WithDialTimeout(d))
	}
}

// WithWriteTimeout bounds every single write to the peer.
func WithWriteTimeout(d time.Duration) Option {
	return func(o *options) {
		o.endpoint = append(o.endpoint, endpoint.WithConnOptions(transport.WithWriteTimeout(d)))
	}
}

// WithEndpointOptions passes options through to the host or joiner.
func WithEndpointOptions(opt ...endpoint.Option) Option {
	return func(o *options) {
		o.endpoint = append(o.endpoint, opt...)
	}
}

// WithClock replaces the wall clock used for Start timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.clock = now
		}
	}
}

func newOptions(opt []Option) options {
	opts := options{
		heartbeatInterval: defaultHeartbeatInterval,
		heartbeatTimeout:  defaultHeartbeatTimeout,
		clock:             time.Now,
	}
	for _, o := range opt {
		o(&opts)
	}
	return opts
}
