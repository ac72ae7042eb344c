// Package bridge exposes a session to a local game UI over a single
// WebSocket connection: session events go out as JSON objects, commands come
// back the same way.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/1ureka/rhythmlink/internal/protocol"
	"github.com/1ureka/rhythmlink/internal/session"
	"github.com/1ureka/rhythmlink/internal/util"
)

const writeTimeout = 2 * time.Second

// Event names sent to the UI.
const (
	EvConnected        = "connected"
	EvDisconnected     = "disconnected"
	EvLog              = "log"
	EvSelectSong       = "selectSong"
	EvSelectDifficulty = "selectDifficulty"
	EvReady            = "ready"
	EvStart            = "start"
	EvInput            = "input"
	EvHitResult        = "hitResult"
	EvMatchSummary     = "matchSummary"
	EvPlayerSetting    = "playerSetting"
	EvError            = "error"
)

// Event is one JSON object sent to the UI.
type Event struct {
	Event   string           `json:"Event"`
	Slot    int              `json:"Slot,omitempty"`
	Text    string           `json:"Text,omitempty"`
	Message protocol.Message `json:"Message,omitempty"`
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Server is the bridge's WebSocket endpoint. Only one UI may be attached at
// a time; a second one is closed with a policy violation.
type Server struct {
	cmd    Commander
	server *http.Server

	mu       sync.Mutex
	listener net.Listener
	client   *client
}

// client serializes writes to the attached UI.
type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) send(ev Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteJSON(ev)
}

// New creates a bridge. Events can be hooked up before Start.
func New() *Server {
	s := &Server{}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	s.server = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	return s
}

// Start listens on addr, e.g. "127.0.0.1:7070", and forwards UI commands
// to cmd.
func (s *Server) Start(addr string, cmd Commander) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to start bridge: %w", err)
	}

	s.mu.Lock()
	s.listener = listener
	s.cmd = cmd
	s.mu.Unlock()

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			util.LogError("bridge stopped: %v", err)
		}
	}()

	util.LogInfo("bridge listening on ws://%s/ws", listener.Addr())
	return nil
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Attached reports whether a UI is connected.
func (s *Server) Attached() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client != nil
}

// Publish sends ev to the UI, if one is attached. A UI that cannot keep up
// is dropped.
func (s *Server) Publish(ev Event) {
	s.mu.Lock()
	c := s.client
	s.mu.Unlock()

	if c == nil {
		return
	}
	if err := c.send(ev); err != nil {
		util.LogWarning("bridge client dropped: %v", err)
		s.detach(c)
	}
}

// Close stops accepting and disconnects the UI.
func (s *Server) Close() error {
	s.mu.Lock()
	c := s.client
	s.client = nil
	s.mu.Unlock()

	if c != nil {
		c.mu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "bridge closed"),
			time.Now().Add(writeTimeout))
		c.mu.Unlock()
		_ = c.conn.Close()
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// Hook returns next extended so that every event is also published.
func (s *Server) Hook(next session.Events) session.Events {
	return session.Events{
		OnConnected: func(slot int) {
			call1(next.OnConnected, slot)
			s.Publish(Event{Event: EvConnected, Slot: slot})
		},
		OnDisconnected: func(reason string) {
			call1(next.OnDisconnected, reason)
			s.Publish(Event{Event: EvDisconnected, Text: reason})
		},
		OnLog: func(text string) {
			call1(next.OnLog, text)
			s.Publish(Event{Event: EvLog, Text: text})
		},
		OnSelectSong: func(m *protocol.SelectSong) {
			call1(next.OnSelectSong, m)
			s.Publish(Event{Event: EvSelectSong, Message: m})
		},
		OnSelectDifficulty: func(m *protocol.SelectDifficulty) {
			call1(next.OnSelectDifficulty, m)
			s.Publish(Event{Event: EvSelectDifficulty, Slot: m.Slot, Message: m})
		},
		OnReady: func(m *protocol.Ready) {
			call1(next.OnReady, m)
			s.Publish(Event{Event: EvReady, Slot: m.Slot, Message: m})
		},
		OnStart: func(m *protocol.Start) {
			call1(next.OnStart, m)
			s.Publish(Event{Event: EvStart, Message: m})
		},
		OnInput: func(m *protocol.Input) {
			call1(next.OnInput, m)
			s.Publish(Event{Event: EvInput, Slot: m.Slot, Message: m})
		},
		OnHitResult: func(m *protocol.HitResult) {
			call1(next.OnHitResult, m)
			s.Publish(Event{Event: EvHitResult, Slot: m.Slot, Message: m})
		},
		OnMatchSummary: func(m *protocol.MatchSummary) {
			call1(next.OnMatchSummary, m)
			s.Publish(Event{Event: EvMatchSummary, Slot: m.Slot, Message: m})
		},
		OnPlayerSetting: func(m *protocol.UpdatePlayerSetting) {
			call1(next.OnPlayerSetting, m)
			s.Publish(Event{Event: EvPlayerSetting, Slot: m.Slot, Message: m})
		},
	}
}

func call1[T any](fn func(T), v T) {
	if fn != nil {
		fn(v)
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	c := &client{conn: conn}

	// Only one UI at a time.
	s.mu.Lock()
	if s.client != nil {
		s.mu.Unlock()
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "already connected"))
		_ = conn.Close()
		return
	}
	s.client = c
	s.mu.Unlock()

	util.LogInfo("bridge client attached from %s", conn.RemoteAddr())
	s.serve(c)
}

// serve reads commands until the UI goes away.
func (s *Server) serve(c *client) {
	defer s.detach(c)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			if !errors.As(err, &closeErr) {
				util.LogDebug("bridge read failed: %v", err)
			}
			return
		}

		if err := s.execute(data); err != nil {
			if err := c.send(Event{Event: EvError, Text: err.Error()}); err != nil {
				return
			}
		}
	}
}

func (s *Server) execute(data []byte) error {
	var cmd Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		return fmt.Errorf("invalid command: %w", err)
	}

	util.LogDebug("bridge command %q", cmd.Command)
	if err := cmd.Apply(s.cmd); err != nil {
		return fmt.Errorf("%s: %w", cmd.Command, err)
	}
	return nil
}

func (s *Server) detach(c *client) {
	s.mu.Lock()
	if s.client == c {
		s.client = nil
	}
	s.mu.Unlock()
	_ = c.conn.Close()
}
