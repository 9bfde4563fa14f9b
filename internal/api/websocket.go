package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/autelis-bridge/internal/infrastructure/config"
	"github.com/nerrad567/autelis-bridge/internal/infrastructure/logging"
)

// Message types exchanged with WebSocket clients.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"

	// wsSendBufferSize is the per-client outbound queue. A client that falls
	// this far behind loses events rather than stalling the poller.
	wsSendBufferSize = 64

	// ChannelSnapshot carries every new controller snapshot.
	ChannelSnapshot = "snapshot"
)

// WSMessage is the envelope for every frame in either direction.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// WSSubscribePayload lists the channels in a subscribe or unsubscribe request.
type WSSubscribePayload struct {
	Channels []string `json:"channels"`
}

// Hub fans snapshot events out to connected dashboard clients.
type Hub struct {
	cfg     config.WebSocketConfig
	logger  *logging.Logger
	clients map[*WSClient]struct{}
	mu      sync.RWMutex

	// dropped counts events discarded because a client queue was full.
	dropped atomic.Uint64
}

// WSClient is one upgraded connection and its channel subscriptions.
type WSClient struct {
	hub           *Hub
	conn          *websocket.Conn
	send          chan []byte
	subscriptions map[string]struct{}
	mu            sync.RWMutex
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origins are policed by the CORS middleware.
	CheckOrigin: func(_ *http.Request) bool { return true },
}

// NewHub creates an empty hub.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{
		cfg:     cfg,
		logger:  logger,
		clients: make(map[*WSClient]struct{}),
	}
}

// Run blocks until ctx is cancelled and then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

// Register adds a client.
func (h *Hub) Register(client *WSClient) {
	h.mu.Lock()
	h.clients[client] = struct{}{}
	count := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "clients", count)
}

// Unregister removes a client. The send channel is closed only by the
// caller that actually removed the entry, so repeated calls are safe.
func (h *Hub) Unregister(client *WSClient) {
	h.mu.Lock()
	_, existed := h.clients[client]
	delete(h.clients, client)
	count := len(h.clients)
	h.mu.Unlock()

	if !existed {
		return
	}
	close(client.send)
	h.logger.Debug("websocket client disconnected", "clients", count)
}

// Broadcast delivers payload as an event to every client subscribed to
// channel. It never blocks on a slow client.
func (h *Hub) Broadcast(channel string, payload any) {
	data, err := json.Marshal(newEventMessage(channel, payload))
	if err != nil {
		h.logger.Error("encoding websocket event", "channel", channel, "error", err)
		return
	}

	delivered, dropped := 0, 0
	for _, client := range h.subscribers(channel) {
		if client.trySend(data) {
			delivered++
		} else {
			dropped++
		}
	}

	if dropped > 0 {
		h.dropped.Add(uint64(dropped))
		h.logger.Warn("websocket clients lagging, events dropped",
			"channel", channel, "dropped", dropped)
	}
	if delivered > 0 {
		h.logger.Debug("websocket event sent", "channel", channel, "recipients", delivered)
	}
}

// subscribers returns the clients subscribed to channel. The hub lock is
// released before any client lock is taken.
func (h *Hub) subscribers(channel string) []*WSClient {
	h.mu.RLock()
	all := make([]*WSClient, 0, len(h.clients))
	for client := range h.clients {
		all = append(all, client)
	}
	h.mu.RUnlock()

	matched := all[:0]
	for _, client := range all {
		if client.isSubscribed(channel) {
			matched = append(matched, client)
		}
	}
	return matched
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// DroppedEvents returns how many events were discarded for lagging clients.
func (h *Hub) DroppedEvents() uint64 {
	return h.dropped.Load()
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		close(client.send)
		if client.conn != nil {
			client.conn.Close()
		}
		delete(h.clients, client)
	}
}

func newEventMessage(channel string, payload any) WSMessage {
	return WSMessage{
		Type:      WSTypeEvent,
		EventType: channel,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Payload:   payload,
	}
}

// handleWebSocket upgrades the request. New clients start on the snapshot
// channel and receive the current snapshot before any broadcast.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "remote_addr", r.RemoteAddr, "error", err)
		return
	}

	client := &WSClient{
		hub:           s.hub,
		conn:          conn,
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: map[string]struct{}{ChannelSnapshot: {}},
	}
	s.hub.Register(client)

	if snap := s.bridge.Snapshot(); snap != nil {
		client.sendMessage(newEventMessage(ChannelSnapshot, newSnapshotPayload(snap)))
	}

	timing := newWSTiming(s.wsCfg)
	go client.writePump(timing)
	go client.readPump(timing, s.wsCfg.MaxMessageSize)
}

// wsTiming holds the keepalive durations derived from config.
type wsTiming struct {
	ping     time.Duration
	pongWait time.Duration
}

func newWSTiming(cfg config.WebSocketConfig) wsTiming {
	return wsTiming{
		ping:     time.Duration(cfg.PingInterval) * time.Second,
		pongWait: time.Duration(cfg.PongTimeout) * time.Second,
	}
}

// readDeadline is how long a client may stay silent before it is dropped.
func (t wsTiming) readDeadline() time.Time {
	return time.Now().Add(t.ping + t.pongWait)
}

func (c *WSClient) readPump(timing wsTiming, maxMessageSize int) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(int64(maxMessageSize))
	//nolint:errcheck // read errors surface through ReadMessage
	c.conn.SetReadDeadline(timing.readDeadline())
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(timing.readDeadline())
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "error", err)
			}
			return
		}
		// Application frames count as liveness too; some browsers ignore
		// protocol pings.
		//nolint:errcheck // read errors surface through ReadMessage
		c.conn.SetReadDeadline(timing.readDeadline())
		c.handleMessage(data)
	}
}

func (c *WSClient) writePump(timing wsTiming) {
	ticker := time.NewTicker(timing.ping)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	write := func(messageType int, data []byte) error {
		//nolint:errcheck // write errors surface through WriteMessage
		c.conn.SetWriteDeadline(time.Now().Add(timing.pongWait))
		return c.conn.WriteMessage(messageType, data)
	}

	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				//nolint:errcheck // connection is closing anyway
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := write(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			if err := write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *WSClient) handleMessage(data []byte) {
	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError("", "invalid JSON message")
		return
	}

	switch msg.Type {
	case WSTypeSubscribe:
		c.updateSubscriptions(msg, true)
	case WSTypeUnsubscribe:
		c.updateSubscriptions(msg, false)
	case WSTypePing:
		c.reply(msg.ID, WSTypePong, nil)
	default:
		c.sendError(msg.ID, "unknown message type: "+msg.Type)
	}
}

// updateSubscriptions adds or removes the channels named in msg.
func (c *WSClient) updateSubscriptions(msg WSMessage, subscribe bool) {
	// Payload arrives as a generic map; round-trip it into the typed form.
	raw, err := json.Marshal(msg.Payload)
	if err != nil {
		c.sendError(msg.ID, "invalid payload")
		return
	}
	var req WSSubscribePayload
	if err := json.Unmarshal(raw, &req); err != nil {
		c.sendError(msg.ID, "invalid "+msg.Type+" payload")
		return
	}

	c.mu.Lock()
	for _, ch := range req.Channels {
		if subscribe {
			c.subscriptions[ch] = struct{}{}
		} else {
			delete(c.subscriptions, ch)
		}
	}
	c.mu.Unlock()

	key := "unsubscribed"
	if subscribe {
		key = "subscribed"
	}
	c.hub.logger.Debug("websocket subscriptions updated", key, req.Channels)
	c.reply(msg.ID, WSTypeResponse, map[string]any{key: req.Channels})
}

// trySend queues data without blocking. It reports false when the queue
// is full. A send racing with Unregister is absorbed.
func (c *WSClient) trySend(data []byte) (queued bool) {
	defer func() {
		if recover() != nil {
			queued = false
		}
	}()

	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *WSClient) isSubscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.subscriptions[channel]
	return ok
}

func (c *WSClient) sendMessage(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.hub.logger.Error("encoding websocket message", "type", msg.Type, "error", err)
		return
	}
	c.trySend(data)
}

func (c *WSClient) reply(id, msgType string, payload any) {
	c.sendMessage(WSMessage{
		Type:      msgType,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
}

func (c *WSClient) sendError(id, message string) {
	c.reply(id, WSTypeError, map[string]string{"message": message})
}
