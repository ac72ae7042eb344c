package bridge

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1ureka/rhythmlink/internal/protocol"
	"github.com/1ureka/rhythmlink/internal/session"
	"github.com/1ureka/rhythmlink/internal/util"
)

const waitTimeout = 3 * time.Second

func TestMain(m *testing.M) {
	util.SetLogOutput(io.Discard)
	m.Run()
}

// fakeCommander records every call as a short string.
type fakeCommander struct {
	calls chan string
}

func newFakeCommander() *fakeCommander {
	return &fakeCommander{calls: make(chan string, 64)}
}

func (f *fakeCommander) record(format string, args ...any) {
	f.calls <- fmt.Sprintf(format, args...)
}

func (f *fakeCommander) SelectSong(songID, difficulty string) error {
	f.record("song %s %s", songID, difficulty)
	return nil
}

func (f *fakeCommander) SelectDifficulty(slot int, difficulty string) error {
	if slot != 1 && slot != 2 {
		return session.ErrInvalidSlot
	}
	f.record("diff %d %s", slot, difficulty)
	return nil
}

func (f *fakeCommander) SetReady(slot int, ready bool) error {
	f.record("ready %d %t", slot, ready)
	return nil
}

func (f *fakeCommander) SendStart(leadTimeMs int64) (*protocol.Start, error) {
	f.record("start %d", leadTimeMs)
	return protocol.NewStart(leadTimeMs, leadTimeMs), nil
}

func (f *fakeCommander) SendInput(slot int, noteType string, atMs float64) error {
	f.record("input %d %s %g", slot, noteType, atMs)
	return nil
}

func (f *fakeCommander) SendHitResult(r protocol.HitResult) error {
	f.record("hit %d %s %d", r.Slot, r.Result, r.Score)
	return nil
}

func (f *fakeCommander) SendMatchSummary(s protocol.MatchSummary) error {
	f.record("summary %d %s %d", s.Slot, s.PlayerName, s.Score)
	return nil
}

func (f *fakeCommander) SendPlayerSetting(slot int, speed float64) error {
	f.record("speed %d %g", slot, speed)
	return nil
}

func (f *fakeCommander) Leave(reason string) {
	f.record("leave %s", reason)
}

// wireEvent mirrors Event with the message left raw.
type wireEvent struct {
	Event   string          `json:"Event"`
	Slot    int             `json:"Slot"`
	Text    string          `json:"Text"`
	Message json.RawMessage `json:"Message"`
}

func startBridge(t *testing.T, cmd Commander) (*Server, string) {
	t.Helper()
	s := New()
	require.NoError(t, s.Start("127.0.0.1:0", cmd))
	t.Cleanup(func() { s.Close() })
	return s, "ws://" + s.Addr().String() + "/ws"
}

func attach(t *testing.T, s *Server, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.Eventually(t, s.Attached, waitTimeout, 5*time.Millisecond)
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) wireEvent {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(waitTimeout)))
	var ev wireEvent
	require.NoError(t, conn.ReadJSON(&ev))
	return ev
}

func recvCall(t *testing.T, calls <-chan string) string {
	t.Helper()
	select {
	case c := <-calls:
		return c
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for a command")
		return ""
	}
}

func TestCommandsReachCommander(t *testing.T) {
	cmd := newFakeCommander()
	s, url := startBridge(t, cmd)
	conn := attach(t, s, url)

	testCases := []struct {
		json string
		want string
	}{
		{`{"Command":"selectSong","SongId":"SongA","Difficulty":"Hard"}`, "song SongA Hard"},
		{`{"Command":"selectDifficulty","Slot":2,"Difficulty":"Normal"}`, "diff 2 Normal"},
		{`{"Command":"setReady","Slot":1,"IsReady":true}`, "ready 1 true"},
		{`{"Command":"start","LeadTimeMs":1500}`, "start 1500"},
		{`{"Command":"input","Slot":2,"NoteType":"Ka","AtMs":12.5}`, "input 2 Ka 12.5"},
		{`{"Command":"hitResult","HitResult":{"Slot":2,"Result":"Good","Score":100}}`, "hit 2 Good 100"},
		{`{"Command":"matchSummary","Summary":{"Slot":1,"PlayerName":"Bob","Score":900}}`, "summary 1 Bob 900"},
		{`{"Command":"playerSetting","Slot":1,"Speed":1.5}`, "speed 1 1.5"},
		{`{"Command":"leave"}`, "leave left the room"},
		{`{"Command":"leave","Reason":"bye"}`, "leave bye"},
	}

	for _, tc := range testCases {
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(tc.json)))
		assert.Equal(t, tc.want, recvCall(t, cmd.calls), tc.json)
	}
}

func TestBadCommandsAreReportedAndSurvived(t *testing.T) {
	cmd := newFakeCommander()
	s, url := startBridge(t, cmd)
	conn := attach(t, s, url)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"Command":"dance"}`)))
	ev := readEvent(t, conn)
	assert.Equal(t, EvError, ev.Event)
	assert.Contains(t, ev.Text, ErrUnknownCommand.Error())

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`not json`)))
	ev = readEvent(t, conn)
	assert.Equal(t, EvError, ev.Event)
	assert.Contains(t, ev.Text, "invalid command")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"Command":"selectDifficulty","Slot":3}`)))
	ev = readEvent(t, conn)
	assert.Equal(t, EvError, ev.Event)
	assert.Contains(t, ev.Text, session.ErrInvalidSlot.Error())

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"Command":"hitResult"}`)))
	assert.Equal(t, EvError, readEvent(t, conn).Event)

	// Still attached and working.
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"Command":"start","LeadTimeMs":10}`)))
	assert.Equal(t, "start 10", recvCall(t, cmd.calls))
	assert.True(t, s.Attached())
}

func TestSecondClientIsRejected(t *testing.T) {
	s, url := startBridge(t, newFakeCommander())
	attach(t, s, url)

	second, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer second.Close()

	require.NoError(t, second.SetReadDeadline(time.Now().Add(waitTimeout)))
	_, _, err = second.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation), "got %v", err)
	assert.True(t, s.Attached(), "the first client stays")
}

func TestHookPublishesEvents(t *testing.T) {
	s, url := startBridge(t, newFakeCommander())
	conn := attach(t, s, url)

	readies := make(chan *protocol.Ready, 1)
	events := s.Hook(session.Events{
		OnReady: func(m *protocol.Ready) { readies <- m },
	})

	events.OnReady(protocol.NewReady(2, true))
	assert.Equal(t, protocol.NewReady(2, true), <-readies)

	ev := readEvent(t, conn)
	assert.Equal(t, EvReady, ev.Event)
	assert.Equal(t, 2, ev.Slot)
	assert.JSONEq(t, `{"Type":"Ready","Slot":2,"IsReady":true}`, string(ev.Message))

	// Callbacks without a downstream handler are still published.
	events.OnConnected(1)
	ev = readEvent(t, conn)
	assert.Equal(t, EvConnected, ev.Event)
	assert.Equal(t, 1, ev.Slot)
	assert.Empty(t, ev.Message)

	events.OnDisconnected("peer left: bye")
	ev = readEvent(t, conn)
	assert.Equal(t, EvDisconnected, ev.Event)
	assert.Equal(t, "peer left: bye", ev.Text)

	events.OnStart(protocol.NewStart(1500, 1_700_000_001_500))
	ev = readEvent(t, conn)
	assert.Equal(t, EvStart, ev.Event)
	msg, err := protocol.Decode(ev.Message)
	require.NoError(t, err)
	assert.Equal(t, protocol.NewStart(1500, 1_700_000_001_500), msg)
}

func TestPublishWithoutClient(t *testing.T) {
	s, _ := startBridge(t, newFakeCommander())
	assert.False(t, s.Attached())
	s.Publish(Event{Event: EvLog, Text: "nobody listens"})
}

func TestCloseDisconnectsClient(t *testing.T) {
	s := New()
	require.NoError(t, s.Start("127.0.0.1:0", newFakeCommander()))
	conn := attach(t, s, "ws://"+s.Addr().String()+"/ws")

	require.NoError(t, s.Close())
	assert.False(t, s.Attached())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(waitTimeout)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		assert.Equal(t, websocket.CloseGoingAway, closeErr.Code)
	}
}
