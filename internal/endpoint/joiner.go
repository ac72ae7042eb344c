package endpoint

import (
	"context"
	"errors"
	"sync"

	"github.com/1ureka/rhythmlink/internal/protocol"
	"github.com/1ureka/rhythmlink/internal/transport"
	"github.com/1ureka/rhythmlink/internal/util"
)

// JoinerHooks are invoked from the joiner's read goroutine. They must not
// call Joiner.Disconnect.
type JoinerHooks struct {
	OnJoined       func(slot int, roomID, message string)
	OnRejected     func(reason string)
	OnMessage      func(msg protocol.Message)
	OnDisconnected func(reason string)
}

// Joiner is the outbound end of a room.
type Joiner struct {
	conn   *transport.Conn
	hooks  JoinerHooks
	cancel context.CancelFunc
	done   chan struct{}

	mu          sync.Mutex
	slot        int
	roomID      string
	leaving     bool
	localReason string

	leaveOnce      sync.Once
	disconnectOnce sync.Once
}

// Dial connects to host:port, sends Join{name} and starts reading. The
// answer arrives through hooks. If the connection cannot be established or
// the Join cannot be written, nothing is left open and no hook fires.
func Dial(ctx context.Context, host string, port int, name string, hooks JoinerHooks, opt ...Option) (*Joiner, error) {
	opts := newOptions(opt)

	raw, err := transport.Dial(ctx, host, port, opts.dialTimeout)
	if err != nil {
		return nil, err
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	j := &Joiner{
		conn:   transport.NewConn(raw, opts.conn...),
		hooks:  hooks,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	util.LogInfo("[%08x] connected to %s", j.conn.ID(), j.conn.RemoteAddr())

	// The read loop starts only once Join is out, so a failed write is
	// reported to the caller alone and never through OnDisconnected.
	if err := j.conn.Send(protocol.NewJoin(name)); err != nil {
		cancel()
		_ = j.conn.Close()
		return nil, err
	}

	go j.readLoop(loopCtx)
	return j, nil
}

// Slot returns the slot assigned by JoinOk, or 0 before it arrived.
func (j *Joiner) Slot() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.slot
}

// RoomID returns the room announced by JoinOk.
func (j *Joiner) RoomID() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.roomID
}

// Send writes msg to the host.
func (j *Joiner) Send(msg protocol.Message) error {
	select {
	case <-j.done:
		return ErrNotConnected
	default:
	}
	return j.conn.Send(msg)
}

// Done is closed once the read loop has ended and the socket is closed.
func (j *Joiner) Done() <-chan struct{} {
	return j.done
}

// Disconnect tells the host we are leaving (best effort), closes the
// connection and waits for the read loop. OnDisconnected fires exactly once
// over the joiner's lifetime, with reason unless the connection had already
// ended for another reason.
func (j *Joiner) Disconnect(reason string) {
	j.leaveOnce.Do(func() {
		j.mu.Lock()
		j.leaving = true
		j.localReason = reason
		j.mu.Unlock()

		select {
		case <-j.done:
		default:
			if err := j.conn.Send(protocol.NewAbort(reason)); err != nil {
				util.LogDebug("[%08x] failed to send Abort: %v", j.conn.ID(), err)
			}
		}

		j.cancel()
		_ = j.conn.Close()
	})
	<-j.done
}

func (j *Joiner) readLoop(ctx context.Context) {
	defer close(j.done)

	err := j.conn.ReadLoop(ctx, j.handle)
	_ = j.conn.Close()

	j.mu.Lock()
	leaving, localReason := j.leaving, j.localReason
	j.mu.Unlock()

	reason := disconnectReason(err)
	var rejected *RejectedError
	var abort *AbortError
	if leaving && !errors.As(err, &rejected) && !errors.As(err, &abort) {
		reason = localReason
	}

	util.LogInfo("[%08x] disconnected: %s", j.conn.ID(), reason)
	j.disconnectOnce.Do(func() {
		if j.hooks.OnDisconnected != nil {
			j.hooks.OnDisconnected(reason)
		}
	})
}

func (j *Joiner) handle(msg protocol.Message) error {
	switch m := msg.(type) {
	case *protocol.JoinOk:
		j.mu.Lock()
		j.slot = m.Slot
		j.roomID = m.RoomID
		j.mu.Unlock()

		util.LogSuccess("[%08x] joined room %s as slot %d", j.conn.ID(), m.RoomID, m.Slot)
		if j.hooks.OnJoined != nil {
			j.hooks.OnJoined(m.Slot, m.RoomID, m.Message)
		}

	case *protocol.JoinReject:
		util.LogWarning("[%08x] join rejected: %s", j.conn.ID(), m.Reason)
		if j.hooks.OnRejected != nil {
			j.hooks.OnRejected(m.Reason)
		}
		return &RejectedError{Reason: m.Reason}

	case *protocol.Abort:
		return &AbortError{Reason: m.Reason}

	default:
		if j.hooks.OnMessage != nil {
			j.hooks.OnMessage(msg)
		}
	}
	return nil
}
