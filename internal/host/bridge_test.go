package host

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingSink struct {
	mu       sync.Mutex
	attached []string
	detached []string
	moves    []string
	suppress bool
}

func (s *recordingSink) PlayerAttached(_ uuid.UUID, name, origin string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attached = append(s.attached, name+"@"+origin)
	return s.suppress
}

func (s *recordingSink) PlayerDetached(_ uuid.UUID, name, origin string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.detached = append(s.detached, name)
}

func (s *recordingSink) PlayerMoved(_ uuid.UUID, name, from, to string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.moves = append(s.moves, name+":"+from+">"+to)
}

func startBridge(t *testing.T, sink EventSink) (*Bridge, *httptest.Server) {
	t.Helper()
	b := NewBridge("proxy-1", 50, zap.NewNop().Sugar())
	b.SetSink(sink)
	go b.Run()
	srv := httptest.NewServer(b)
	t.Cleanup(func() {
		srv.Close()
		b.Stop()
	})
	return b, srv
}

func dial(t *testing.T, srv *httptest.Server, player string, hello Frame) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?player=" + player
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	hello.Type = FrameHello
	require.NoError(t, conn.WriteJSON(hello))
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) Frame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var f Frame
	require.NoError(t, json.Unmarshal(data, &f))
	return f
}

func TestAttachDeliversJoinAck(t *testing.T) {
	sink := &recordingSink{suppress: true}
	_, srv := startBridge(t, sink)

	conn := dial(t, srv, "Bob", Frame{Server: "lobby"})

	ack := readFrame(t, conn)
	assert.Equal(t, FrameJoinAck, ack.Type)
	assert.True(t, ack.SuppressDefault)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.Equal(t, []string{"Bob@lobby"}, sink.attached)
}

func TestSendToReachesOnlyTarget(t *testing.T) {
	sink := &recordingSink{}
	b, srv := startBridge(t, sink)

	bob := dial(t, srv, "Bob", Frame{})
	carol := dial(t, srv, "Carol", Frame{})
	readFrame(t, bob)   // join_ack
	readFrame(t, carol) // join_ack

	b.SendTo("Bob", "hi bob")
	f := readFrame(t, bob)
	assert.Equal(t, FrameMessage, f.Type)
	assert.Equal(t, "hi bob", f.Body)

	carol.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	_, _, err := carol.ReadMessage()
	assert.Error(t, err, "carol should receive nothing")
}

func TestSendToAllExcept(t *testing.T) {
	sink := &recordingSink{}
	b, srv := startBridge(t, sink)

	bob := dial(t, srv, "Bob", Frame{})
	carol := dial(t, srv, "Carol", Frame{})
	readFrame(t, bob)
	readFrame(t, carol)

	b.SendToAllExcept("Bob", "carol only")
	f := readFrame(t, carol)
	assert.Equal(t, "carol only", f.Body)

	bob.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	_, _, err := bob.ReadMessage()
	assert.Error(t, err)
}

func TestSendToServersScopesByCurrentServer(t *testing.T) {
	sink := &recordingSink{}
	b, srv := startBridge(t, sink)

	bob := dial(t, srv, "Bob", Frame{Server: "lobby"})
	carol := dial(t, srv, "Carol", Frame{Server: "survival"})
	readFrame(t, bob)
	readFrame(t, carol)

	b.SendToServers([]string{"survival"}, "survival news")
	f := readFrame(t, carol)
	assert.Equal(t, "survival news", f.Body)

	bob.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	_, _, err := bob.ReadMessage()
	assert.Error(t, err)
}

func TestPermissionsFromHello(t *testing.T) {
	sink := &recordingSink{}
	b, srv := startBridge(t, sink)

	conn := dial(t, srv, "Bob", Frame{Permissions: []string{"herald.group.vip"}})
	readFrame(t, conn)

	assert.True(t, b.HasPermission("Bob", "herald.group.vip"))
	assert.False(t, b.HasPermission("Bob", "herald.group.admin"))
	assert.False(t, b.HasPermission("Ghost", "herald.group.vip"))
}

func TestSwitchFrameFiresMove(t *testing.T) {
	sink := &recordingSink{}
	_, srv := startBridge(t, sink)

	conn := dial(t, srv, "Bob", Frame{Server: "lobby"})
	readFrame(t, conn)

	require.NoError(t, conn.WriteJSON(Frame{Type: FrameSwitch, Server: "survival"}))

	require.Eventually(t, func() bool {
		sink.mu.Lock()
		defer sink.mu.Unlock()
		return len(sink.moves) == 1
	}, 2*time.Second, 20*time.Millisecond)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.Equal(t, []string{"Bob:lobby>survival"}, sink.moves)
}

func TestDetachFiresOnClose(t *testing.T) {
	sink := &recordingSink{}
	b, srv := startBridge(t, sink)

	conn := dial(t, srv, "Bob", Frame{})
	readFrame(t, conn)
	assert.True(t, b.IsOnline("Bob"))

	conn.Close()

	require.Eventually(t, func() bool {
		sink.mu.Lock()
		defer sink.mu.Unlock()
		return len(sink.detached) == 1
	}, 2*time.Second, 20*time.Millisecond)
	assert.False(t, b.IsOnline("Bob"))

	n, err := b.OnlineCount()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSendToDetachedClientIsNoop(t *testing.T) {
	sink := &recordingSink{}
	b, srv := startBridge(t, sink)

	conn := dial(t, srv, "Bob", Frame{})
	readFrame(t, conn)

	// Grab the session the way a delayed welcome would: resolved while the
	// player was still online, delivered after the disconnect.
	b.mu.RLock()
	c := b.clients["Bob"]
	b.mu.RUnlock()
	require.NotNil(t, c)

	conn.Close()
	require.Eventually(t, func() bool { return !b.IsOnline("Bob") }, 2*time.Second, 20*time.Millisecond)

	assert.NotPanics(t, func() {
		c.sendFrame(Frame{Type: FrameMessage, Body: "too late"})
		b.SendTo("Bob", "too late")
	})
}

func TestSendToRacesDisconnect(t *testing.T) {
	sink := &recordingSink{}
	b, srv := startBridge(t, sink)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?player=Flapper"
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 20; i++ {
			conn, _, err := websocket.DefaultDialer.Dial(url, nil)
			if err != nil {
				return
			}
			conn.WriteJSON(Frame{Type: FrameHello})
			conn.SetReadDeadline(time.Now().Add(time.Second))
			conn.ReadMessage() // join_ack
			conn.Close()
		}
	}()

	assert.NotPanics(t, func() {
		for {
			select {
			case <-done:
				return
			default:
				b.SendTo("Flapper", "ping")
			}
		}
	})
}

func TestMissingPlayerParamRejected(t *testing.T) {
	_, srv := startBridge(t, &recordingSink{})

	resp, err := http.Get(srv.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestEnvQueries(t *testing.T) {
	b, srv := startBridge(t, &recordingSink{})

	conn := dial(t, srv, "Bob", Frame{})
	readFrame(t, conn)

	n, err := b.OnlineCount()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	max, err := b.MaxCapacity()
	require.NoError(t, err)
	assert.Equal(t, 50, max)
	assert.Equal(t, "proxy-1", b.ProcessName())
}
