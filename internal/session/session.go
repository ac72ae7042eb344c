// Package session is the single point of contact between the game layer and
// the network. A Session plays exactly one role at a time (host, joiner or
// none), keeps the room cache, watches the peer's liveness and reports every
// disconnect exactly once.
package session

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/1ureka/rhythmlink/internal/endpoint"
	"github.com/1ureka/rhythmlink/internal/protocol"
	"github.com/1ureka/rhythmlink/internal/util"
)

// Role is the part the local side plays in a room.
type Role int

const (
	RoleNone Role = iota
	RoleHost
	RoleJoiner
)

func (r Role) String() string {
	switch r {
	case RoleHost:
		return "host"
	case RoleJoiner:
		return "joiner"
	default:
		return "none"
	}
}

// Session orchestrates one host or joiner endpoint.
//
// Lifecycle calls are serialized by lifecycle. Everything else is guarded by
// mu, which is never held while calling into an endpoint or an event.
// Each connection attempt gets a new generation; callbacks from an older
// generation are ignored, so a late hook can never touch a newer role.
type Session struct {
	opts   options
	events Events

	lifecycle sync.Mutex
	lobby     sync.Mutex // orders lobby sends against the resync on connect

	mu        sync.Mutex
	gen       uint64
	role      Role
	host      *endpoint.Host
	joiner    *endpoint.Joiner
	hb        *heartbeat
	connected bool
	notified  bool
	localSlot int
	localName string
	peerName  string
	roomID    string
	lastRecv  time.Time
	state     roomState
}

// New creates an idle session.
func New(opt ...Option) *Session {
	opts := newOptions(opt)
	return &Session{
		opts:   opts,
		events: opts.events,
	}
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

// StartHost shuts down any previous role and opens a room on port. An empty
// roomID is replaced by a generated one.
func (s *Session) StartHost(port int, name, roomID string) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.shutdownLocked(ReasonReplaced)

	if roomID == "" {
		roomID = uuid.NewString()
	}

	s.mu.Lock()
	gen := s.begin(RoleHost, name)
	s.roomID = roomID
	s.localSlot = endpoint.HostSlot
	host := endpoint.NewHost(roomID, s.hostHooks(gen), s.opts.endpoint...)
	s.host = host
	s.mu.Unlock()

	if err := host.Start(port); err != nil {
		s.mu.Lock()
		s.abandon()
		s.mu.Unlock()
		return fmt.Errorf("start host: %w", err)
	}

	s.logf("hosting room %s on %s", roomID, host.Addr())
	return nil
}

// JoinHost shuts down any previous role, connects to address:port and sends
// Join{name}. The outcome of the handshake is reported through OnConnected
// or OnDisconnected.
func (s *Session) JoinHost(ctx context.Context, address string, port int, name string) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.shutdownLocked(ReasonReplaced)

	s.mu.Lock()
	gen := s.begin(RoleJoiner, name)
	s.mu.Unlock()

	target := net.JoinHostPort(address, strconv.Itoa(port))
	s.logf("connecting to %s as %q", target, name)

	joiner, err := endpoint.Dial(ctx, address, port, name, s.joinerHooks(gen), s.opts.endpoint...)
	if err != nil {
		s.mu.Lock()
		s.abandon()
		s.mu.Unlock()
		return fmt.Errorf("join %s: %w", target, err)
	}

	// The liveness clock runs from the moment the connection exists, so a
	// host that never answers Join is timed out like a silent peer. Pings
	// only go out once JoinOk has arrived.
	s.mu.Lock()
	s.joiner = joiner
	if s.gen == gen && s.hb == nil {
		s.startHeartbeat(gen)
	}
	s.mu.Unlock()
	return nil
}

// Leave tells the peer we are going, then shuts down.
func (s *Session) Leave(reason string) {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.mu.Lock()
	host, connected := s.host, s.connected
	s.mu.Unlock()

	// The joiner announces itself in Disconnect.
	if host != nil && connected {
		if err := host.Send(protocol.NewAbort(reason)); err != nil {
			util.LogDebug("failed to send Abort: %v", err)
		}
	}

	s.shutdownLocked(reason)
}

// Shutdown tears down the active role. Concurrent and repeated calls
// collapse into one teardown and at most one OnDisconnected.
func (s *Session) Shutdown(reason string) {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.shutdownLocked(reason)
}

// begin resets connection-scoped state for a new attempt. Caller holds mu.
func (s *Session) begin(role Role, name string) uint64 {
	s.gen++
	s.role = role
	s.notified = false
	s.connected = false
	s.localSlot = 0
	s.localName = name
	s.peerName = ""
	s.roomID = ""
	s.state.clearConnection()
	s.state.clearSummaries()
	return s.gen
}

// abandon drops the current role without any notification. Caller holds mu.
func (s *Session) abandon() {
	s.gen++
	s.role = RoleNone
	s.host = nil
	s.joiner = nil
	s.hb = nil
	s.connected = false
	s.localSlot = 0
	s.peerName = ""
	s.roomID = ""
	s.state.clearConnection()
}

// shutdownLocked stops the heartbeat and the endpoint and waits for both.
// Caller holds lifecycle.
func (s *Session) shutdownLocked(reason string) {
	s.mu.Lock()
	if s.role == RoleNone {
		s.mu.Unlock()
		return
	}
	role, host, joiner, hb := s.role, s.host, s.joiner, s.hb
	notify := !s.notified
	s.notified = true
	s.abandon()
	s.mu.Unlock()

	if hb != nil {
		hb.stop()
	}
	if host != nil {
		host.Stop()
	}
	if joiner != nil {
		joiner.Disconnect(reason)
	}

	util.LogInfo("%s session closed: %s", role, reason)
	if notify {
		s.events.log(fmt.Sprintf("disconnected: %s", reason))
		s.events.disconnected(reason)
	}
}

// teardown is the background path into shutdown. It runs on its own
// goroutine because the endpoint goroutine that noticed the problem is one
// of those shutdown waits for.
func (s *Session) teardown(gen uint64, reason string) {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.mu.Lock()
	current := s.gen == gen && s.role != RoleNone
	s.mu.Unlock()

	if current {
		s.shutdownLocked(reason)
	}
}

// ---------------------------------------------------------------------------
// Endpoint hooks
// ---------------------------------------------------------------------------

func (s *Session) hostHooks(gen uint64) endpoint.HostHooks {
	return endpoint.HostHooks{
		OnClientConnected:    func(name string) { s.onClientConnected(gen, name) },
		OnMessage:            func(msg protocol.Message) { s.onMessage(gen, msg) },
		OnClientDisconnected: func(reason string) { s.onPeerGone(gen, reason) },
	}
}

func (s *Session) joinerHooks(gen uint64) endpoint.JoinerHooks {
	return endpoint.JoinerHooks{
		OnJoined: func(slot int, roomID, message string) { s.onJoined(gen, slot, roomID, message) },
		OnRejected: func(reason string) {
			if s.current(gen) {
				s.logf("join rejected: %s", reason)
			}
		},
		OnMessage:      func(msg protocol.Message) { s.onMessage(gen, msg) },
		OnDisconnected: func(reason string) { s.onPeerGone(gen, reason) },
	}
}

func (s *Session) current(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen == gen
}

// onClientConnected marks the host connected and replays the room cache to
// the new peer.
func (s *Session) onClientConnected(gen uint64, name string) {
	s.lobby.Lock()

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		s.lobby.Unlock()
		return
	}
	s.connected = true
	s.peerName = name
	if s.hb == nil {
		s.startHeartbeat(gen)
	}
	host := s.host
	resync := s.state.resync()
	s.mu.Unlock()

	for _, msg := range resync {
		if err := host.Send(msg); err != nil {
			util.LogDebug("resync stopped: %v", err)
			break
		}
	}
	s.lobby.Unlock()

	s.logf("%s joined the room", name)
	s.events.connected(endpoint.HostSlot)
}

func (s *Session) onJoined(gen uint64, slot int, roomID, message string) {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}
	s.connected = true
	s.localSlot = slot
	s.roomID = roomID
	s.lastRecv = time.Now()
	if s.hb == nil {
		s.startHeartbeat(gen)
	}
	s.mu.Unlock()

	if message != "" {
		s.logf("host: %s", message)
	}
	s.events.connected(slot)
}

// onPeerGone runs on the endpoint goroutine that lost the peer.
func (s *Session) onPeerGone(gen uint64, reason string) {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}
	s.connected = false
	s.mu.Unlock()

	go s.teardown(gen, reason)
}

// onMessage caches and forwards one inbound message. It never sends
// anything back, so peers cannot echo each other.
func (s *Session) onMessage(gen uint64, msg protocol.Message) {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}
	s.lastRecv = time.Now()
	s.state.apply(msg)
	s.mu.Unlock()

	switch m := msg.(type) {
	case *protocol.System:
		if m.Text != pingText {
			s.logf("peer: %s", m.Text)
		}
		return
	case *protocol.Envelope:
		util.LogDebug("ignoring message of unknown type %q", m.Kind())
		return
	case *protocol.SelectDifficulty:
		if validSlot(m.Slot) != nil {
			util.LogWarning("ignoring SelectDifficulty for slot %d", m.Slot)
			return
		}
	case *protocol.Ready:
		if validSlot(m.Slot) != nil {
			util.LogWarning("ignoring Ready for slot %d", m.Slot)
			return
		}
	case *protocol.MatchSummary:
		if validSlot(m.Slot) != nil {
			util.LogWarning("ignoring MatchSummary for slot %d", m.Slot)
			return
		}
	}

	s.events.dispatch(msg)
}

// ---------------------------------------------------------------------------
// Commands
// ---------------------------------------------------------------------------

// SelectSong caches the selection and sends it to the peer.
func (s *Session) SelectSong(songID, difficulty string) error {
	return s.sendLobby(protocol.NewSelectSong(songID, difficulty))
}

// SelectDifficulty caches slot's difficulty and sends it to the peer.
func (s *Session) SelectDifficulty(slot int, difficulty string) error {
	if err := validSlot(slot); err != nil {
		return err
	}
	return s.sendLobby(protocol.NewSelectDifficulty(slot, difficulty))
}

// SetReady caches slot's ready flag and sends it to the peer.
func (s *Session) SetReady(slot int, ready bool) error {
	if err := validSlot(slot); err != nil {
		return err
	}
	return s.sendLobby(protocol.NewReady(slot, ready))
}

// sendLobby updates the cache, then transmits. A host still waiting for its
// joiner only caches; the joiner receives the state when it connects.
func (s *Session) sendLobby(msg protocol.Message) error {
	s.lobby.Lock()
	defer s.lobby.Unlock()

	s.mu.Lock()
	role, connected := s.role, s.connected
	if role == RoleNone || (role == RoleJoiner && !connected) {
		s.mu.Unlock()
		return ErrNotConnected
	}
	s.state.apply(msg)
	s.mu.Unlock()

	if !connected {
		return nil
	}
	return s.send(msg)
}

// SendStart schedules the match leadTimeMs from now. The start is cached
// and reported locally before it is sent; both sides count in towards the
// same absolute timestamp.
func (s *Session) SendStart(leadTimeMs int64) (*protocol.Start, error) {
	if leadTimeMs < 0 {
		leadTimeMs = 0
	}

	s.mu.Lock()
	if !s.connected {
		s.mu.Unlock()
		return nil, ErrNotConnected
	}
	start := protocol.NewStart(leadTimeMs, s.opts.clock().UnixMilli()+leadTimeMs)
	s.state.apply(start)
	s.mu.Unlock()

	s.events.dispatch(start)
	return start, s.send(start)
}

// SendInput relays a tap. Nothing is cached.
func (s *Session) SendInput(slot int, noteType string, atMs float64) error {
	if err := validSlot(slot); err != nil {
		return err
	}
	return s.send(protocol.NewInput(slot, noteType, atMs))
}

// SendHitResult relays an authoritative judgement. Nothing is cached.
func (s *Session) SendHitResult(r protocol.HitResult) error {
	if err := validSlot(r.Slot); err != nil {
		return err
	}
	return s.send(protocol.NewHitResult(r))
}

// SendMatchSummary caches the summary by slot, then sends it. The summary is
// cached even when there is no peer left to send it to.
func (s *Session) SendMatchSummary(sum protocol.MatchSummary) error {
	if err := validSlot(sum.Slot); err != nil {
		return err
	}
	msg := protocol.NewMatchSummary(sum)

	s.mu.Lock()
	s.state.apply(msg)
	s.mu.Unlock()

	return s.send(msg)
}

// SendPlayerSetting relays slot's scroll speed.
func (s *Session) SendPlayerSetting(slot int, speed float64) error {
	if err := validSlot(slot); err != nil {
		return err
	}
	return s.send(protocol.NewUpdatePlayerSetting(slot, speed))
}

func (s *Session) send(msg protocol.Message) error {
	s.mu.Lock()
	host, joiner, connected := s.host, s.joiner, s.connected
	s.mu.Unlock()

	switch {
	case !connected:
		return ErrNotConnected
	case host != nil:
		return host.Send(msg)
	case joiner != nil:
		return joiner.Send(msg)
	default:
		return ErrNotConnected
	}
}

func (s *Session) logf(format string, args ...any) {
	text := fmt.Sprintf(format, args...)
	util.LogInfo("%s", text)
	s.events.log(text)
}

// ---------------------------------------------------------------------------
// Queries
// ---------------------------------------------------------------------------

func (s *Session) Role() Role {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.role
}

// Connected reports whether a peer has completed the handshake.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// LocalSlot is 1 on the host, the assigned slot on a joined joiner and 0
// otherwise.
func (s *Session) LocalSlot() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.localSlot
}

func (s *Session) LocalName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.localName
}

func (s *Session) RoomID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roomID
}

// PeerName is the joiner's name as seen by the host. The protocol does not
// carry the host's name, so it is empty on the joiner.
func (s *Session) PeerName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peerName
}

// ListenAddr returns the host's bound address, or nil.
func (s *Session) ListenAddr() net.Addr {
	s.mu.Lock()
	host := s.host
	s.mu.Unlock()

	if host == nil {
		return nil
	}
	return host.Addr()
}

// Difficulty returns the cached difficulty of slot.
func (s *Session) Difficulty(slot int) string {
	if validSlot(slot) != nil {
		return ""
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.difficulty[slot]
}

// IsReady returns the cached ready flag of slot.
func (s *Session) IsReady(slot int) bool {
	if validSlot(slot) != nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.ready[slot]
}

// LastSong returns a copy of the last song selection, or nil.
func (s *Session) LastSong() *protocol.SelectSong {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.lastSong == nil {
		return nil
	}
	c := *s.state.lastSong
	return &c
}

// LastStart returns a copy of the last Start sent or received, or nil.
func (s *Session) LastStart() *protocol.Start {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.lastStart == nil {
		return nil
	}
	c := *s.state.lastStart
	return &c
}

// MatchSummary returns a copy of slot's summary, or nil. Summaries outlive
// the connection and are only cleared by the next StartHost or JoinHost.
func (s *Session) MatchSummary(slot int) *protocol.MatchSummary {
	if validSlot(slot) != nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.summaries[slot] == nil {
		return nil
	}
	c := *s.state.summaries[slot]
	return &c
}

// Status is a point-in-time copy of the session. Per-slot arrays are
// indexed by slot-1.
type Status struct {
	Role       Role
	Connected  bool
	LocalSlot  int
	LocalName  string
	PeerName   string
	RoomID     string
	Song       *protocol.SelectSong
	Start      *protocol.Start
	Difficulty [2]string
	Ready      [2]bool
	Summaries  [2]*protocol.MatchSummary
}

// Status returns a consistent copy of the session and its room cache.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		Role:      s.role,
		Connected: s.connected,
		LocalSlot: s.localSlot,
		LocalName: s.localName,
		PeerName:  s.peerName,
		RoomID:    s.roomID,
	}
	if s.state.lastSong != nil {
		c := *s.state.lastSong
		st.Song = &c
	}
	if s.state.lastStart != nil {
		c := *s.state.lastStart
		st.Start = &c
	}
	for slot := 1; slot <= 2; slot++ {
		st.Difficulty[slot-1] = s.state.difficulty[slot]
		st.Ready[slot-1] = s.state.ready[slot]
		if sum := s.state.summaries[slot]; sum != nil {
			c := *sum
			st.Summaries[slot-1] = &c
		}
	}
	return st
}
