package host

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // bridge clients are trusted plugins, not browsers
	},
}

// Frame is the JSON envelope on the bridge socket, both directions.
type Frame struct {
	Type string `json:"type"`
	// Client -> bridge
	Permissions []string `json:"permissions,omitempty"` // hello
	Server      string   `json:"server,omitempty"`      // hello, switch target
	// Bridge -> client
	Body            string `json:"body,omitempty"`             // message
	SuppressDefault bool   `json:"suppress_default,omitempty"` // join_ack
}

// Frame types.
const (
	FrameHello   = "hello"
	FrameSwitch  = "switch"
	FrameMessage = "message"
	FrameJoinAck = "join_ack"
)

type client struct {
	bridge *Bridge
	conn   *websocket.Conn
	send   chan []byte

	id          uuid.UUID
	name        string
	mu          sync.Mutex
	closed      bool
	server      string
	permissions map[string]bool
}

// Bridge is the websocket Host implementation. Each connected socket is one
// player session announced by the game-side plugin; socket attach and detach
// double as the join and leave events.
type Bridge struct {
	log         *zap.SugaredLogger
	processName string
	maxPlayers  int
	sink        EventSink

	register   chan *client
	unregister chan *client
	done       chan struct{}

	mu      sync.RWMutex
	clients map[string]*client // keyed by player name
}

// NewBridge creates a bridge; call SetSink then Run before serving.
func NewBridge(processName string, maxPlayers int, log *zap.SugaredLogger) *Bridge {
	return &Bridge{
		log:         log,
		processName: processName,
		maxPlayers:  maxPlayers,
		register:    make(chan *client),
		unregister:  make(chan *client),
		done:        make(chan struct{}),
		clients:     make(map[string]*client),
	}
}

// SetSink wires the engine in. Must be called before Run.
func (b *Bridge) SetSink(sink EventSink) { b.sink = sink }

// Run drives registration until Stop. Sends go straight to per-client
// channels, so only lifecycle events pass through here.
func (b *Bridge) Run() {
	for {
		select {
		case c := <-b.register:
			b.mu.Lock()
			if old, ok := b.clients[c.name]; ok {
				// Reconnect under the same name bumps the stale socket.
				old.shutdown()
			}
			b.clients[c.name] = c
			total := len(b.clients)
			b.mu.Unlock()
			b.log.Infow("player attached", "player", c.name, "server", c.currentServer(), "online", total)

			suppress := false
			if b.sink != nil {
				suppress = b.sink.PlayerAttached(c.id, c.name, c.currentServer())
			}
			c.sendFrame(Frame{Type: FrameJoinAck, SuppressDefault: suppress})

		case c := <-b.unregister:
			b.mu.Lock()
			current, ok := b.clients[c.name]
			if ok && current == c {
				delete(b.clients, c.name)
				c.shutdown()
			}
			total := len(b.clients)
			b.mu.Unlock()
			if ok && current == c {
				b.log.Infow("player detached", "player", c.name, "online", total)
				if b.sink != nil {
					b.sink.PlayerDetached(c.id, c.name, c.currentServer())
				}
			}

		case <-b.done:
			return
		}
	}
}

// Stop ends the Run loop and closes every socket.
func (b *Bridge) Stop() {
	close(b.done)
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, c := range b.clients {
		c.shutdown()
	}
	b.clients = make(map[string]*client)
}

// ServeHTTP upgrades a plugin connection. The player name comes from the
// query string; identity defaults to a name-derived UUID when the plugin
// does not supply one, matching offline-mode game servers.
func (b *Bridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("player")
	if name == "" {
		http.Error(w, "player query parameter required", http.StatusBadRequest)
		return
	}

	id := uuid.NewSHA1(uuid.NameSpaceOID, []byte(name))
	if raw := r.URL.Query().Get("uuid"); raw != "" {
		parsed, err := uuid.Parse(raw)
		if err != nil {
			http.Error(w, "invalid uuid", http.StatusBadRequest)
			return
		}
		id = parsed
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.log.Warnw("bridge upgrade failed", "error", err)
		return
	}

	c := &client{
		bridge:      b,
		conn:        conn,
		send:        make(chan []byte, 256),
		id:          id,
		name:        name,
		server:      r.URL.Query().Get("server"),
		permissions: make(map[string]bool),
	}

	// The hello frame is the first thing on the socket and carries
	// permissions plus the starting server, so classification sees the
	// right group. A plugin that never says hello gets dropped.
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	mt, data, err := conn.ReadMessage()
	if err != nil || mt != websocket.TextMessage {
		b.log.Warnw("bridge client sent no hello", "player", name, "error", err)
		conn.Close()
		return
	}
	var hello Frame
	if err := json.Unmarshal(data, &hello); err != nil || hello.Type != FrameHello {
		b.log.Warnw("bridge client sent bad hello", "player", name, "error", err)
		conn.Close()
		return
	}
	c.applyHello(hello)

	select {
	case b.register <- c:
	case <-b.done:
		conn.Close()
		return
	}
	go c.writePump()
	go c.readPump()
}

// SendTo implements Host.
func (b *Bridge) SendTo(player, msg string) {
	b.mu.RLock()
	c, ok := b.clients[player]
	b.mu.RUnlock()
	if ok {
		c.sendFrame(Frame{Type: FrameMessage, Body: msg})
	}
}

// SendToAll implements Host.
func (b *Bridge) SendToAll(msg string) {
	b.eachClient(func(c *client) bool { return true }, msg)
}

// SendToAllExcept implements Host.
func (b *Bridge) SendToAllExcept(player, msg string) {
	b.eachClient(func(c *client) bool { return c.name != player }, msg)
}

// SendToServers implements Host.
func (b *Bridge) SendToServers(servers []string, msg string) {
	want := make(map[string]bool, len(servers))
	for _, s := range servers {
		want[s] = true
	}
	b.eachClient(func(c *client) bool { return want[c.currentServer()] }, msg)
}

func (b *Bridge) eachClient(match func(*client) bool, msg string) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, c := range b.clients {
		if match(c) {
			c.sendFrame(Frame{Type: FrameMessage, Body: msg})
		}
	}
}

// OnlineCount implements Host.
func (b *Bridge) OnlineCount() (int, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients), nil
}

// MaxCapacity implements Host.
func (b *Bridge) MaxCapacity() (int, error) { return b.maxPlayers, nil }

// ProcessName implements Host.
func (b *Bridge) ProcessName() string { return b.processName }

// IsOnline implements Host.
func (b *Bridge) IsOnline(player string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.clients[player]
	return ok
}

// HasPermission implements Host.
func (b *Bridge) HasPermission(player, node string) bool {
	b.mu.RLock()
	c, ok := b.clients[player]
	b.mu.RUnlock()
	if !ok {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.permissions[node]
}

// ScheduleAfter implements Host.
func (b *Bridge) ScheduleAfter(d time.Duration, fn func()) {
	time.AfterFunc(d, fn)
}

func (c *client) applyHello(f Frame) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, node := range f.Permissions {
		c.permissions[node] = true
	}
	if f.Server != "" {
		c.server = f.Server
	}
}

func (c *client) currentServer() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.server
}

// shutdown closes the socket and the send channel exactly once. Senders
// check the closed flag under the same mutex, so a frame racing a
// disconnect is dropped instead of hitting a closed channel.
func (c *client) shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
	c.conn.Close()
}

func (c *client) sendFrame(f Frame) {
	data, err := json.Marshal(f)
	if err != nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- data:
	default:
		// Slow consumer, drop the frame rather than stall dispatch.
	}
}

func (c *client) readPump() {
	defer func() {
		select {
		case c.bridge.unregister <- c:
		case <-c.bridge.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		mt, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNoStatusReceived) {
				c.bridge.log.Warnw("bridge read failed", "player", c.name, "error", err)
			}
			return
		}
		if mt != websocket.TextMessage {
			continue
		}

		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			c.bridge.log.Warnw("dropping malformed bridge frame", "player", c.name, "error", err)
			continue
		}
		switch f.Type {
		case FrameHello:
			c.applyHello(f)
		case FrameSwitch:
			c.mu.Lock()
			from := c.server
			c.server = f.Server
			c.mu.Unlock()
			if c.bridge.sink != nil && from != f.Server {
				c.bridge.sink.PlayerMoved(c.id, c.name, from, f.Server)
			}
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
