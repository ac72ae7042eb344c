// Package transport carries protocol messages over a byte stream, one JSON
// line per message.
package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/1ureka/rhythmlink/internal/protocol"
	"github.com/1ureka/rhythmlink/internal/util"
)

// ErrPeerClosed is returned by ReadLoop when the peer closed the stream.
var ErrPeerClosed = errors.New("connection closed by peer")

// ErrClosed is returned by Send after Close.
var ErrClosed = errors.New("connection closed")

// ConnectionError wraps a bind, accept, connect or socket I/O failure.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// Conn wraps a single duplex stream. Send may be called from any number of
// goroutines; ReadLoop must be run by exactly one.
type Conn struct {
	raw  net.Conn
	id   uint32
	opts options

	mu     sync.Mutex // guards writer; one line in flight at a time
	writer *bufio.Writer

	closeOnce sync.Once
	closed    chan struct{}
}

// NewConn wraps raw. The caller hands over ownership: Close closes raw.
func NewConn(raw net.Conn, opt ...Option) *Conn {
	opts := defaultOptions()
	for _, o := range opt {
		o(&opts)
	}

	util.Stats.AddConn()

	return &Conn{
		raw:    raw,
		id:     util.ConnID(raw),
		opts:   opts,
		writer: bufio.NewWriter(raw),
		closed: make(chan struct{}),
	}
}

// ID returns the log tag of this connection.
func (c *Conn) ID() uint32 { return c.id }

// RemoteAddr returns the address of the peer.
func (c *Conn) RemoteAddr() net.Addr { return c.raw.RemoteAddr() }

// Raw returns the underlying stream.
func (c *Conn) Raw() net.Conn { return c.raw }

// Send encodes msg and writes it as one line, flushing immediately.
// Concurrent callers are serialized so lines never interleave.
func (c *Conn) Send(msg protocol.Message) error {
	line, err := protocol.Encode(msg)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	select {
	case <-c.closed:
		return ErrClosed
	default:
	}

	if c.opts.writeTimeout > 0 {
		_ = c.raw.SetWriteDeadline(time.Now().Add(c.opts.writeTimeout))
	}

	if _, err := c.writer.Write(line); err != nil {
		return &ConnectionError{Op: "write", Err: err}
	}
	if err := c.writer.Flush(); err != nil {
		return &ConnectionError{Op: "write", Err: err}
	}

	util.Stats.AddSent(len(line))
	util.LogWire(c.id, "send", line)
	return nil
}

// ReadLoop reads lines until the stream ends, ctx is cancelled, or onMessage
// returns an error. Messages are handed to onMessage one at a time, in the
// order they were received.
//
// Blank lines are skipped. Lines that fail to decode are logged and skipped;
// they never end the loop. The returned error is ctx.Err() after
// cancellation, ErrPeerClosed at end of stream, a *ConnectionError on I/O
// failure, or whatever onMessage returned.
//
// Cancellation is observed between reads; a read already blocked is
// released by Close.
func (c *Conn) ReadLoop(ctx context.Context, onMessage func(protocol.Message) error) error {
	scanner := bufio.NewScanner(c.raw)
	// Scanner honours the larger of max and cap(buf), so a small limit
	// needs a small initial buffer.
	scanner.Buffer(make([]byte, 0, min(4096, c.opts.maxLineSize)), c.opts.maxLineSize)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if !scanner.Scan() {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := scanner.Err(); err != nil {
				return &ConnectionError{Op: "read", Err: err}
			}
			return ErrPeerClosed
		}

		line := scanner.Bytes()
		if len(trimSpace(line)) == 0 {
			continue
		}

		util.LogWire(c.id, "recv", line)

		msg, err := protocol.Decode(line)
		if err != nil {
			util.Stats.AddMalformed()
			util.LogDebug("[%08x] dropping line: %v", c.id, err)
			continue
		}
		util.Stats.AddRecv(len(line) + 1)

		if err := onMessage(msg); err != nil {
			return err
		}
	}
}

// Close closes the underlying stream. Safe to call multiple times.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.raw.Close()
		util.Stats.RemoveConn()
	})
	return err
}

// Done returns a channel that is closed once Close has been called.
func (c *Conn) Done() <-chan struct{} {
	return c.closed
}

func trimSpace(b []byte) []byte {
	for len(b) > 0 && (b[0] == ' ' || b[0] == '\t' || b[0] == '\r') {
		b = b[1:]
	}
	for len(b) > 0 && (b[len(b)-1] == ' ' || b[len(b)-1] == '\t' || b[len(b)-1] == '\r') {
		b = b[:len(b)-1]
	}
	return b
}
