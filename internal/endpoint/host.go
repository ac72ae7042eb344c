package endpoint

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/1ureka/rhythmlink/internal/protocol"
	"github.com/1ureka/rhythmlink/internal/transport"
	"github.com/1ureka/rhythmlink/internal/util"
)

// HostHooks are invoked from the host's background goroutines. They must not
// call Host.Stop.
type HostHooks struct {
	// OnClientConnected fires once the occupant has completed the handshake.
	OnClientConnected func(name string)
	// OnMessage receives every message that is not part of the handshake,
	// in arrival order.
	OnMessage func(msg protocol.Message)
	// OnClientDisconnected fires when a joined occupant goes away for any
	// reason other than Stop.
	OnClientDisconnected func(reason string)
}

// Host listens for joiners and admits exactly one at a time.
//
//	Listening → AwaitingJoin → Occupied → (occupant leaves) → AwaitingJoin
//
// A connection that arrives while the slot is occupied is answered with a
// JoinReject and closed; the occupant is never displaced.
type Host struct {
	roomID string
	hooks  HostHooks
	opts   options

	mu       sync.Mutex
	listener net.Listener
	cancel   context.CancelFunc
	group    *errgroup.Group
	occupant *occupant
}

// occupant is the connection currently holding the guest slot.
type occupant struct {
	conn   *transport.Conn
	name   string
	joined bool // guarded by Host.mu; only the serving goroutine writes it
}

// NewHost creates a host for roomID. Nothing is bound until Start.
func NewHost(roomID string, hooks HostHooks, opt ...Option) *Host {
	return &Host{
		roomID: roomID,
		hooks:  hooks,
		opts:   newOptions(opt),
	}
}

// Start binds port on all interfaces and begins accepting. Calling Start on
// a host that is already listening does nothing.
func (h *Host) Start(port int) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.listener != nil {
		return nil
	}

	listener, err := transport.Listen(port)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	group := new(errgroup.Group)

	h.listener = listener
	h.cancel = cancel
	h.group = group

	util.LogInfo("room %s listening on %s", h.roomID, listener.Addr())

	group.Go(func() error {
		return h.acceptLoop(ctx, listener, group)
	})

	return nil
}

// Addr returns the bound address, or nil when not listening.
func (h *Host) Addr() net.Addr {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.listener == nil {
		return nil
	}
	return h.listener.Addr()
}

// Occupied reports whether a connection currently holds the guest slot,
// joined or not.
func (h *Host) Occupied() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.occupant != nil
}

// PeerName returns the name the occupant joined with.
func (h *Host) PeerName() string {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.occupant == nil || !h.occupant.joined {
		return ""
	}
	return h.occupant.name
}

// Send writes msg to the joined occupant.
func (h *Host) Send(msg protocol.Message) error {
	h.mu.Lock()
	occ := h.occupant
	joined := occ != nil && occ.joined
	h.mu.Unlock()

	if !joined {
		return ErrNotConnected
	}
	return occ.conn.Send(msg)
}

// Stop closes the listener and the occupant and waits for every background
// goroutine to return. Safe to call multiple times.
func (h *Host) Stop() {
	h.mu.Lock()
	if h.listener == nil {
		h.mu.Unlock()
		return
	}

	listener, cancel, group, occ := h.listener, h.cancel, h.group, h.occupant
	h.listener, h.cancel, h.group, h.occupant = nil, nil, nil, nil
	h.mu.Unlock()

	cancel()
	_ = listener.Close()
	if occ != nil {
		_ = occ.conn.Close()
	}

	if err := group.Wait(); err != nil {
		util.LogDebug("host background error: %v", err)
	}
	util.LogInfo("room %s closed", h.roomID)
}

// ---------------------------------------------------------------------------
// Accept loop
// ---------------------------------------------------------------------------

func (h *Host) acceptLoop(ctx context.Context, listener net.Listener, group *errgroup.Group) error {
	for {
		raw, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}

			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			util.LogError("accept error: %v", err)
			return &transport.ConnectionError{Op: "accept", Err: err}
		}

		if tcp, ok := raw.(*net.TCPConn); ok {
			_ = tcp.SetNoDelay(true)
		}
		conn := transport.NewConn(raw, h.opts.conn...)

		h.mu.Lock()
		if h.occupant != nil {
			h.mu.Unlock()
			util.LogWarning("[%08x] rejecting %s: %s", conn.ID(), conn.RemoteAddr(), ReasonOccupied)
			group.Go(func() error {
				h.reject(ctx, conn, ReasonOccupied)
				return nil
			})
			continue
		}
		occ := &occupant{conn: conn}
		h.occupant = occ
		h.mu.Unlock()

		util.LogInfo("[%08x] connection from %s", conn.ID(), conn.RemoteAddr())
		group.Go(func() error {
			h.serve(ctx, occ)
			return nil
		})
	}
}

// reject answers conn with a JoinReject, then half-closes and drains it so
// the peer can read the rejection before the socket is torn down.
func (h *Host) reject(ctx context.Context, conn *transport.Conn, reason string) {
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if err := conn.Send(protocol.NewJoinReject(reason)); err != nil {
		util.LogDebug("[%08x] failed to send rejection: %v", conn.ID(), err)
		return
	}

	raw := conn.Raw()
	if tcp, ok := raw.(*net.TCPConn); ok {
		_ = tcp.CloseWrite()
	}
	_ = raw.SetReadDeadline(time.Now().Add(h.opts.rejectLinger))
	_, _ = io.Copy(io.Discard, raw)
}

// ---------------------------------------------------------------------------
// Occupant
// ---------------------------------------------------------------------------

// serve runs the occupant's read loop and releases the slot when it ends.
func (h *Host) serve(ctx context.Context, occ *occupant) {
	stop := context.AfterFunc(ctx, func() { occ.conn.Close() })
	defer stop()

	// A connection that never sends Join must not hold the slot forever.
	joinTimer := time.AfterFunc(h.opts.joinTimeout, func() {
		h.mu.Lock()
		joined := occ.joined
		h.mu.Unlock()
		if !joined {
			util.LogWarning("[%08x] no Join within %s, dropping", occ.conn.ID(), h.opts.joinTimeout)
			occ.conn.Close()
		}
	})
	defer joinTimer.Stop()

	err := occ.conn.ReadLoop(ctx, func(msg protocol.Message) error {
		return h.handle(occ, msg)
	})
	_ = occ.conn.Close()

	h.mu.Lock()
	if h.occupant == occ {
		h.occupant = nil
	}
	joined := occ.joined
	h.mu.Unlock()

	if ctx.Err() != nil {
		return
	}

	reason := disconnectReason(err)
	util.LogInfo("[%08x] occupant left: %s", occ.conn.ID(), reason)

	if joined && h.hooks.OnClientDisconnected != nil {
		h.hooks.OnClientDisconnected(reason)
	}
}

// handle runs on the occupant's read goroutine. Only Join and Abort are
// interpreted here; everything else is forwarded.
func (h *Host) handle(occ *occupant, msg protocol.Message) error {
	switch m := msg.(type) {
	case *protocol.Join:
		h.mu.Lock()
		joined := occ.joined
		h.mu.Unlock()

		if joined {
			util.LogDebug("[%08x] ignoring repeated Join from %q", occ.conn.ID(), m.Name)
			return nil
		}

		welcome := fmt.Sprintf("welcome, %s", m.Name)
		if err := occ.conn.Send(protocol.NewJoinOk(GuestSlot, h.roomID, welcome)); err != nil {
			return err
		}

		h.mu.Lock()
		occ.joined = true
		occ.name = m.Name
		h.mu.Unlock()

		util.LogSuccess("[%08x] %q joined room %s", occ.conn.ID(), m.Name, h.roomID)
		if h.hooks.OnClientConnected != nil {
			h.hooks.OnClientConnected(m.Name)
		}

	case *protocol.Abort:
		return &AbortError{Reason: m.Reason}

	default:
		if h.hooks.OnMessage != nil {
			h.hooks.OnMessage(msg)
		}
	}
	return nil
}

// disconnectReason turns the error that ended a read loop into the
// human-readable reason handed to the game layer.
func disconnectReason(err error) string {
	var abort *AbortError
	var rejected *RejectedError
	switch {
	case errors.As(err, &rejected):
		return fmt.Sprintf("rejected: %s", rejected.Reason)
	case errors.As(err, &abort):
		return fmt.Sprintf("peer left: %s", abort.Reason)
	case errors.Is(err, transport.ErrPeerClosed):
		return transport.ErrPeerClosed.Error()
	case err == nil:
		return "connection closed"
	default:
		return fmt.Sprintf("connection error: %v", err)
	}
}
