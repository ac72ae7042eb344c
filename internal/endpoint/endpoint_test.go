package endpoint

import (
	"bufio"
	"context"
	"io"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1ureka/rhythmlink/internal/protocol"
	"github.com/1ureka/rhythmlink/internal/transport"
	"github.com/1ureka/rhythmlink/internal/util"
)

const waitTimeout = 3 * time.Second

func TestMain(m *testing.M) {
	util.SetLogOutput(io.Discard)
	m.Run()
}

// hostRecorder turns HostHooks into channels.
type hostRecorder struct {
	connected    chan string
	messages     chan protocol.Message
	disconnected chan string
}

func newHostRecorder() *hostRecorder {
	return &hostRecorder{
		connected:    make(chan string, 8),
		messages:     make(chan protocol.Message, 64),
		disconnected: make(chan string, 8),
	}
}

func (r *hostRecorder) hooks() HostHooks {
	return HostHooks{
		OnClientConnected:    func(name string) { r.connected <- name },
		OnMessage:            func(msg protocol.Message) { r.messages <- msg },
		OnClientDisconnected: func(reason string) { r.disconnected <- reason },
	}
}

// joinerRecorder turns JoinerHooks into channels.
type joinerRecorder struct {
	joined       chan *protocol.JoinOk
	rejected     chan string
	messages     chan protocol.Message
	disconnected chan string
}

func newJoinerRecorder() *joinerRecorder {
	return &joinerRecorder{
		joined:       make(chan *protocol.JoinOk, 8),
		rejected:     make(chan string, 8),
		messages:     make(chan protocol.Message, 64),
		disconnected: make(chan string, 8),
	}
}

func (r *joinerRecorder) hooks() JoinerHooks {
	return JoinerHooks{
		OnJoined: func(slot int, roomID, message string) {
			r.joined <- protocol.NewJoinOk(slot, roomID, message)
		},
		OnRejected:     func(reason string) { r.rejected <- reason },
		OnMessage:      func(msg protocol.Message) { r.messages <- msg },
		OnDisconnected: func(reason string) { r.disconnected <- reason },
	}
}

func recv[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(waitTimeout):
		var zero T
		t.Fatalf("timed out waiting on %T", zero)
		return zero
	}
}

func assertQuiet[T any](t *testing.T, ch <-chan T, d time.Duration) {
	t.Helper()
	select {
	case v := <-ch:
		t.Fatalf("unexpected value %v", v)
	case <-time.After(d):
	}
}

func startHost(t *testing.T, rec *hostRecorder, opt ...Option) (*Host, int) {
	t.Helper()
	h := NewHost("room1", rec.hooks(), opt...)
	require.NoError(t, h.Start(0))
	t.Cleanup(h.Stop)
	return h, h.Addr().(*net.TCPAddr).Port
}

func dial(t *testing.T, port int, name string, rec *joinerRecorder) *Joiner {
	t.Helper()
	j, err := Dial(context.Background(), "127.0.0.1", port, name, rec.hooks())
	require.NoError(t, err)
	t.Cleanup(func() { j.Disconnect("test over") })
	return j
}

func TestHandshake(t *testing.T) {
	hostRec, joinRec := newHostRecorder(), newJoinerRecorder()
	h, port := startHost(t, hostRec)

	j := dial(t, port, "Alice", joinRec)

	ok := recv(t, joinRec.joined)
	assert.Equal(t, GuestSlot, ok.Slot)
	assert.Equal(t, "room1", ok.RoomID)
	assert.Equal(t, "welcome, Alice", ok.Message)
	assert.Equal(t, "Alice", recv(t, hostRec.connected))

	assert.Equal(t, GuestSlot, j.Slot())
	assert.Equal(t, "room1", j.RoomID())
	assert.True(t, h.Occupied())
	assert.Equal(t, "Alice", h.PeerName())
}

func TestRelayBothWays(t *testing.T) {
	hostRec, joinRec := newHostRecorder(), newJoinerRecorder()
	h, port := startHost(t, hostRec)
	j := dial(t, port, "Alice", joinRec)
	recv(t, hostRec.connected)

	require.NoError(t, h.Send(protocol.NewSelectSong("SongA", "Hard")))
	assert.Equal(t, protocol.NewSelectSong("SongA", "Hard"), recv(t, joinRec.messages))

	require.NoError(t, j.Send(protocol.NewReady(2, true)))
	assert.Equal(t, protocol.NewReady(2, true), recv(t, hostRec.messages))
}

func TestSecondJoinerRejected(t *testing.T) {
	hostRec := newHostRecorder()
	h, port := startHost(t, hostRec)

	aliceRec := newJoinerRecorder()
	alice := dial(t, port, "Alice", aliceRec)
	recv(t, aliceRec.joined)
	recv(t, hostRec.connected)

	bobRec := newJoinerRecorder()
	dial(t, port, "Bob", bobRec)

	assert.Equal(t, ReasonOccupied, recv(t, bobRec.rejected))
	assert.Equal(t, "rejected: "+ReasonOccupied, recv(t, bobRec.disconnected))
	assertQuiet(t, bobRec.joined, 50*time.Millisecond)
	assertQuiet(t, hostRec.connected, 50*time.Millisecond)

	// Alice is unaffected.
	require.NoError(t, h.Send(protocol.NewSystem("still here")))
	assert.Equal(t, protocol.NewSystem("still here"), recv(t, aliceRec.messages))
	require.NoError(t, alice.Send(protocol.NewReady(2, false)))
	assert.Equal(t, protocol.NewReady(2, false), recv(t, hostRec.messages))
	assertQuiet(t, hostRec.disconnected, 50*time.Millisecond)
	assert.Equal(t, "Alice", h.PeerName())
}

func TestRejectedConnectionSeesExactlyOneLine(t *testing.T) {
	hostRec := newHostRecorder()
	_, port := startHost(t, hostRec)

	aliceRec := newJoinerRecorder()
	dial(t, port, "Alice", aliceRec)
	recv(t, aliceRec.joined)

	raw, err := net.Dial("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	require.NoError(t, err)
	defer raw.Close()
	_, err = raw.Write([]byte(`{"Type":"Join","Name":"Mallory"}` + "\n"))
	require.NoError(t, err)

	require.NoError(t, raw.SetReadDeadline(time.Now().Add(waitTimeout)))
	reader := bufio.NewReader(raw)

	line, err := reader.ReadBytes('\n')
	require.NoError(t, err)
	msg, err := protocol.Decode(line)
	require.NoError(t, err)
	assert.Equal(t, protocol.NewJoinReject(ReasonOccupied), msg)

	// Then the host closes its side.
	_, err = reader.ReadBytes('\n')
	assert.ErrorIs(t, err, io.EOF)
}

func TestHostAcceptsNewOccupantAfterLeave(t *testing.T) {
	hostRec := newHostRecorder()
	h, port := startHost(t, hostRec)

	aliceRec := newJoinerRecorder()
	alice := dial(t, port, "Alice", aliceRec)
	recv(t, hostRec.connected)

	alice.Disconnect("bye")
	assert.Equal(t, "bye", recv(t, aliceRec.disconnected))
	assert.Equal(t, "peer left: bye", recv(t, hostRec.disconnected))
	require.Eventually(t, func() bool { return !h.Occupied() }, waitTimeout, 5*time.Millisecond)
	assert.ErrorIs(t, h.Send(protocol.NewSystem("nobody")), ErrNotConnected)

	carolRec := newJoinerRecorder()
	dial(t, port, "Carol", carolRec)
	assert.Equal(t, GuestSlot, recv(t, carolRec.joined).Slot)
	assert.Equal(t, "Carol", recv(t, hostRec.connected))
}

func TestOccupantDropReportsPeerClosed(t *testing.T) {
	hostRec := newHostRecorder()
	_, port := startHost(t, hostRec)

	raw, err := net.Dial("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	require.NoError(t, err)
	_, err = raw.Write([]byte(`{"Type":"Join","Name":"Dave"}` + "\n"))
	require.NoError(t, err)
	assert.Equal(t, "Dave", recv(t, hostRec.connected))

	// Consume the JoinOk so closing sends a clean FIN.
	require.NoError(t, raw.SetReadDeadline(time.Now().Add(waitTimeout)))
	_, err = bufio.NewReader(raw).ReadBytes('\n')
	require.NoError(t, err)
	require.NoError(t, raw.Close())
	assert.Equal(t, transport.ErrPeerClosed.Error(), recv(t, hostRec.disconnected))
}

func TestUnjoinedConnectionIsDroppedAfterJoinTimeout(t *testing.T) {
	hostRec := newHostRecorder()
	h, port := startHost(t, hostRec, WithJoinTimeout(300*time.Millisecond))

	idle, err := net.Dial("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	require.NoError(t, err)
	defer idle.Close()
	require.Eventually(t, h.Occupied, waitTimeout, 5*time.Millisecond)

	require.Eventually(t, func() bool { return !h.Occupied() }, waitTimeout, 5*time.Millisecond)
	assertQuiet(t, hostRec.disconnected, 50*time.Millisecond)

	rec := newJoinerRecorder()
	dial(t, port, "Erin", rec)
	assert.Equal(t, "Erin", recv(t, hostRec.connected))
}

func TestMessagesBeforeJoinAreForwarded(t *testing.T) {
	hostRec := newHostRecorder()
	_, port := startHost(t, hostRec)

	raw, err := net.Dial("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	require.NoError(t, err)
	c := transport.NewConn(raw)
	defer c.Close()

	require.NoError(t, c.Send(protocol.NewSystem("early")))
	assert.Equal(t, protocol.NewSystem("early"), recv(t, hostRec.messages))
	assertQuiet(t, hostRec.connected, 50*time.Millisecond)

	require.NoError(t, c.Send(protocol.NewJoin("Frank")))
	assert.Equal(t, "Frank", recv(t, hostRec.connected))

	// A repeated Join is ignored.
	require.NoError(t, c.Send(protocol.NewJoin("Frank again")))
	require.NoError(t, c.Send(protocol.NewSystem("after")))
	assert.Equal(t, protocol.NewSystem("after"), recv(t, hostRec.messages))
	assertQuiet(t, hostRec.connected, 50*time.Millisecond)
}

func TestStartAndStopAreIdempotent(t *testing.T) {
	hostRec := newHostRecorder()
	h := NewHost("room1", hostRec.hooks())

	h.Stop()
	require.NoError(t, h.Start(0))
	addr := h.Addr()
	require.NoError(t, h.Start(0))
	assert.Equal(t, addr, h.Addr())

	joinRec := newJoinerRecorder()
	dial(t, addr.(*net.TCPAddr).Port, "Gina", joinRec)
	recv(t, hostRec.connected)

	h.Stop()
	h.Stop()
	assert.Nil(t, h.Addr())
	assert.False(t, h.Occupied())

	assert.Equal(t, transport.ErrPeerClosed.Error(), recv(t, joinRec.disconnected))
	assertQuiet(t, hostRec.disconnected, 50*time.Millisecond)

	// The host can be started again.
	require.NoError(t, h.Start(0))
	h.Stop()
}

func TestJoinerDisconnectFiresOnce(t *testing.T) {
	hostRec, joinRec := newHostRecorder(), newJoinerRecorder()
	_, port := startHost(t, hostRec)
	j := dial(t, port, "Hank", joinRec)
	recv(t, joinRec.joined)

	j.Disconnect("first")
	j.Disconnect("second")

	assert.Equal(t, "first", recv(t, joinRec.disconnected))
	assertQuiet(t, joinRec.disconnected, 50*time.Millisecond)
	assert.ErrorIs(t, j.Send(protocol.NewSystem("late")), ErrNotConnected)
}

func TestJoinerHandlesAbort(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()

	accepted := make(chan *transport.Conn, 1)
	go func() {
		raw, err := listener.Accept()
		if err == nil {
			accepted <- transport.NewConn(raw)
		}
	}()

	rec := newJoinerRecorder()
	j := dial(t, listener.Addr().(*net.TCPAddr).Port, "Ivy", rec)

	server := recv(t, accepted)
	defer server.Close()
	require.NoError(t, server.Send(protocol.NewJoinOk(2, "r", "hi")))
	recv(t, rec.joined)
	require.NoError(t, server.Send(protocol.NewAbort("host quit")))

	assert.Equal(t, "peer left: host quit", recv(t, rec.disconnected))
	select {
	case <-j.Done():
	case <-time.After(waitTimeout):
		t.Fatal("joiner read loop still running")
	}
}

func TestDialFailureLeavesNothing(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := listener.Addr().(*net.TCPAddr).Port
	require.NoError(t, listener.Close())

	rec := newJoinerRecorder()
	j, err := Dial(context.Background(), "127.0.0.1", port, "Jack", rec.hooks(), WithDialTimeout(time.Second))
	assert.Nil(t, j)

	var ce *transport.ConnectionError
	require.ErrorAs(t, err, &ce)
	assertQuiet(t, rec.disconnected, 50*time.Millisecond)
}


func TestJoinWriteFailureIsReportedOnce(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		if c, err := listener.Accept(); err == nil {
			accepted <- c
		}
	}()

	// A deadline that has already passed makes the Join write fail.
	rec := newJoinerRecorder()
	j, err := Dial(context.Background(), "127.0.0.1", listener.Addr().(*net.TCPAddr).Port, "Jack",
		rec.hooks(), WithConnOptions(transport.WithWriteTimeout(time.Nanosecond)))
	assert.Nil(t, j)

	var ce *transport.ConnectionError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "write", ce.Op)

	// The socket is closed and no hook reports the failure a second time.
	conn := recv(t, accepted)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(waitTimeout)))
	_, err = conn.Read(make([]byte, 64))
	assert.ErrorIs(t, err, io.EOF)
	assertQuiet(t, rec.disconnected, 100*time.Millisecond)
	assertQuiet(t, rec.rejected, 10*time.Millisecond)
}
