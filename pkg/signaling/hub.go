// Package signaling routes opaque negotiation, whiteboard and chat payloads
// between the members of a room. The server coordinates membership and
// addressing only; payload contents are never inspected.
package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"meetrelay/pkg/metrics"
	"meetrelay/pkg/rooms"
	"meetrelay/pkg/signaling/protocol"
)

const (
	defaultReadLimit   = 64 * 1024
	pingInterval       = 40 * time.Second
	pongWait           = 60 * time.Second
	writeTimeout       = 10 * time.Second
	upgradeReadBuffer  = 1024
	upgradeWriteBuffer = 1024
)

// HubOptions configures a Hub instance.
type HubOptions struct {
	ICEServers []protocol.ICEServer
	ICEMode    string
	Logger     *log.Logger
	Upgrader   *websocket.Upgrader
}

// ConnOptions controls how a connection is registered.
type ConnOptions struct {
	// Username is the session display name for this connection.
	Username string
	// Context lets the caller cancel the connection (defaults to Background).
	Context context.Context
}

// Hub owns the WebSocket connections and implements presence and routing on
// top of the room store.
type Hub struct {
	store      *rooms.Store
	iceServers []protocol.ICEServer
	iceMode    string
	upgrader   websocket.Upgrader
	logger     *log.Logger

	mu    sync.Mutex
	conns map[*client]struct{}
}

type client struct {
	hub      *Hub
	conn     *websocket.Conn
	send     chan []byte
	ctx      context.Context
	cancel   context.CancelFunc
	username string

	// room is the connection's current room. It is written only by the
	// reader goroutine (join/leave dispatch and the disconnect path), so it
	// needs no lock.
	room string
}

// NewHub builds a Hub on top of the given room store.
func NewHub(store *rooms.Store, opts HubOptions) *Hub {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  upgradeReadBuffer,
		WriteBufferSize: upgradeWriteBuffer,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
	if opts.Upgrader != nil {
		upgrader = *opts.Upgrader
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	return &Hub{
		store:      store,
		iceServers: opts.ICEServers,
		iceMode:    opts.ICEMode,
		upgrader:   upgrader,
		logger:     logger,
		conns:      make(map[*client]struct{}),
	}
}

// Upgrade upgrades the request and registers the connection under the given
// session username.
func (h *Hub) Upgrade(w http.ResponseWriter, r *http.Request, username string) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Printf("upgrade error: %v", err)
		return
	}
	h.Accept(conn, ConnOptions{Username: username})
}

// Accept registers an already-upgraded WebSocket connection.
func (h *Hub) Accept(conn *websocket.Conn, opts ConnOptions) {
	ctx := opts.Context
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	c := &client{
		hub:      h,
		conn:     conn,
		send:     make(chan []byte, 32),
		ctx:      ctx,
		cancel:   cancel,
		username: opts.Username,
	}

	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()

	c.deliver(protocol.Welcome{
		Type:       "welcome",
		Username:   c.username,
		ICEServers: h.iceServers,
		ICEMode:    h.iceMode,
	})
	h.logger.Printf("ws: accepted %s", c.username)

	go c.writePump()
	go c.readPump()
}

// Join adds the participant to the room and notifies the full membership,
// joiner included, with the post-join participant list. Joining an unknown
// room is a silent no-op; the return reports whether the join took effect.
func (h *Hub) Join(roomID, username string, p rooms.Peer) bool {
	names, members, ok := h.store.Join(roomID, username, p)
	if !ok {
		h.logger.Printf("ws: join to unknown room %s by %s", roomID, username)
		return false
	}
	h.logger.Printf("ws: %s joined room %s (participants=%d)", username, roomID, len(names))
	h.fanout(members, protocol.Presence{
		Type:         "user_joined",
		Username:     username,
		Participants: names,
	})
	return true
}

// Leave removes the participant and notifies the remaining members. The
// leaver is not addressed. Leaving an unknown room is a silent no-op.
func (h *Hub) Leave(roomID, username string) {
	names, remaining, ok := h.store.Leave(roomID, username)
	if !ok {
		return
	}
	h.logger.Printf("ws: %s left room %s (participants=%d)", username, roomID, len(names))
	h.fanout(remaining, protocol.Presence{
		Type:         "user_left",
		Username:     username,
		Participants: names,
	})
}

// Disconnect reconciles an abrupt connection loss using the registry's
// last-known identity and room. It is idempotent: if the membership was
// already cleared, or the handle was replaced by a re-join, nothing happens.
func (h *Hub) Disconnect(roomID, username string, p rooms.Peer) {
	names, remaining, ok := h.store.Evict(roomID, username, p)
	if !ok {
		return
	}
	h.logger.Printf("ws: %s disconnected from room %s (participants=%d)", username, roomID, len(names))
	h.fanout(remaining, protocol.Presence{
		Type:         "user_left",
		Username:     username,
		Participants: names,
	})
}

// Signal relays negotiation data. With a target currently in the room it is
// delivered to that handle only; otherwise it goes to every participant
// except the sender. Unknown rooms drop the message.
func (h *Hub) Signal(roomID, from, target string, payload json.RawMessage) {
	peers, ok := h.store.Route(roomID, from, target)
	if !ok {
		return
	}
	metrics.MessagesRouted.WithLabelValues("signal").Inc()
	h.fanout(peers, protocol.Signal{
		Type:   "signal",
		From:   from,
		Signal: payload,
	})
}

// Draw relays a whiteboard stroke to every participant except the sender.
func (h *Hub) Draw(roomID, from string, payload json.RawMessage) {
	peers, ok := h.store.Recipients(roomID, from)
	if !ok {
		return
	}
	metrics.MessagesRouted.WithLabelValues("whiteboard_draw").Inc()
	h.fanout(peers, protocol.Draw{
		Type:     "whiteboard_draw",
		Username: from,
		DrawData: payload,
	})
}

// Chat relays a chat line to every participant, sender included. Empty
// messages are dropped.
func (h *Hub) Chat(roomID, from, message string, timestamp json.RawMessage) {
	if message == "" {
		return
	}
	peers, ok := h.store.Recipients(roomID, "")
	if !ok {
		return
	}
	metrics.MessagesRouted.WithLabelValues("chat_message").Inc()
	h.fanout(peers, protocol.Chat{
		Type:      "chat_message",
		Username:  from,
		Message:   message,
		Timestamp: timestamp,
	})
}

// CloseAll tears down every open connection; used during shutdown. The
// read pumps observe the closed sockets and run their normal disconnect
// reconciliation.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.conns {
		c.cancel()
		_ = c.conn.Close()
	}
}

// fanout marshals once and hands the frame to each recipient. Delivery is
// fire and forget; a closed or saturated connection is left for its own
// disconnect path to clean up.
func (h *Hub) fanout(peers []rooms.Peer, msg interface{}) {
	if len(peers) == 0 {
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Printf("marshal fanout: %v", err)
		return
	}
	for _, p := range peers {
		if !p.Send(data) {
			h.logger.Printf("ws: send buffer full, dropping message")
		}
	}
}

func (h *Hub) handleInbound(c *client, msg protocol.Inbound) {
	if msg.RoomID == "" {
		return
	}
	switch msg.Type {
	case "join":
		if c.room != "" && c.room != msg.RoomID {
			// One room per connection: switching rooms leaves the old one.
			h.Leave(c.room, c.username)
			c.room = ""
		}
		if h.Join(msg.RoomID, c.username, c) {
			c.room = msg.RoomID
		}
	case "leave":
		h.Leave(msg.RoomID, c.username)
		if c.room == msg.RoomID {
			c.room = ""
		}
	case "signal":
		h.Signal(msg.RoomID, c.username, msg.Target, msg.Signal)
	case "whiteboard_draw":
		h.Draw(msg.RoomID, c.username, msg.DrawData)
	case "chat_message":
		h.Chat(msg.RoomID, c.username, msg.Message, msg.Timestamp)
	default:
		h.logger.Printf("unknown message type from %s: %s", c.username, msg.Type)
	}
}

// disconnect runs once when the reader exits, whether or not the client sent
// an explicit leave first.
func (h *Hub) disconnect(c *client) {
	if c.room != "" {
		h.Disconnect(c.room, c.username, c)
		c.room = ""
	}

	h.mu.Lock()
	delete(h.conns, c)
	h.mu.Unlock()
	h.logger.Printf("ws: closed %s", c.username)
}

// Send implements rooms.Peer: enqueue without blocking.
func (c *client) Send(data []byte) bool {
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *client) deliver(v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	c.Send(data)
}

func (c *client) readPump() {
	h := c.hub
	// The send channel is never closed: a fanout holding a stale recipient
	// snapshot may still enqueue after the reader exits. Cancel stops the
	// writer instead.
	defer func() {
		h.disconnect(c)
		c.conn.Close()
		c.cancel()
	}()

	c.conn.SetReadLimit(defaultReadLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				return
			}
			if !errors.Is(err, websocket.ErrCloseSent) {
				h.logger.Printf("read error from %s: %v", c.username, err)
			}
			return
		}

		var msg protocol.Inbound
		if err := json.Unmarshal(data, &msg); err != nil {
			h.logger.Printf("bad payload from %s: %v", c.username, err)
			continue
		}
		h.handleInbound(c, msg)
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-c.ctx.Done():
			return
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
