package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// ============================================================================
// State WebSocket: hub + per-client pumps + broadcaster
// ============================================================================
//
//   - Hub tracks connected clients and fans frames out to them.
//   - Each client has its own write pump; a client whose queue fills is evicted.
//   - RunBroadcaster turns reducer broadcasts into JSON frames.
//
// The initial "state_init" frame goes through the daemon loop like every other
// snapshot read. Frames are JSON text with an envelope: {type, ts, data}.
//
// ============================================================================

// wsMessageSnapshot is the JSON `data` payload for "state_init".
type wsMessageSnapshot struct {
	LastEventTime *string  `json:"last_event_time"`
	IsSupported   bool     `json:"is_supported"`
	DebugInfo     []string `json:"debug_info"`
	Accepted      uint64   `json:"accepted"`
	Suppressed    uint64   `json:"suppressed"`
}

func newWSMessageSnapshot(snap StateSnapshot) wsMessageSnapshot {
	out := wsMessageSnapshot{
		IsSupported: snap.IsSupported,
		DebugInfo:   snap.DebugInfo,
		Accepted:    snap.Accepted,
		Suppressed:  snap.Suppressed,
	}
	if out.DebugInfo == nil {
		out.DebugInfo = []string{}
	}
	if snap.HasEvent {
		t := snap.LastEventTime
		out.LastEventTime = &t
	}
	return out
}

// wsPressAcceptedData is the JSON `data` payload for "press_accepted".
type wsPressAcceptedData struct {
	ID        string `json:"id"`
	Source    string `json:"source"`
	EventTime string `json:"event_time"`
}

// wsPressSuppressedData is the JSON `data` payload for "press_suppressed".
type wsPressSuppressedData struct {
	Source string `json:"source"`
}

// wsDebugChangedData is the JSON `data` payload for "debug_changed".
type wsDebugChangedData struct {
	DebugInfo []string `json:"debug_info"`
}

// wsSupportChangedData is the JSON `data` payload for "support_changed".
type wsSupportChangedData struct {
	IsSupported bool `json:"is_supported"`
}

// wsOutboundEvent is a pre-typed, externally-consumable state event.
type wsOutboundEvent struct {
	Type string
	Data any
	At   time.Time // zero means use now
}

// envelope is the wire format envelope for WS messages.
type envelope struct {
	Type string      `json:"type"`
	Ts   *time.Time  `json:"ts,omitempty"`
	Data interface{} `json:"data,omitempty"`
}

const (
	wsTypeStateInit       = "state_init"
	wsTypePressAccepted   = "press_accepted"
	wsTypePressSuppressed = "press_suppressed"
	wsTypeDebugChanged    = "debug_changed"
	wsTypeSupportChanged  = "support_changed"
)

// ============================================================================
// Hub
// ============================================================================

type Hub struct {
	logger *slog.Logger

	// Buffered broadcast channel for already-serialized JSON frames.
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client

	mu      sync.Mutex
	clients map[*Client]struct{}

	sendBuf int
}

type HubConfig struct {
	// SendBuf is the per-client outbound queue size. Zero means 32.
	SendBuf int

	// BroadcastBuf is the hub inbound broadcast queue size. Zero means 128.
	BroadcastBuf int
}

// NewHub constructs a hub. Call Run(ctx) to start it.
func NewHub(logger *slog.Logger, cfg HubConfig) *Hub {
	sendBuf := cfg.SendBuf
	if sendBuf <= 0 {
		sendBuf = 32
	}
	bcastBuf := cfg.BroadcastBuf
	if bcastBuf <= 0 {
		bcastBuf = 128
	}

	return &Hub{
		logger:     logger,
		broadcast:  make(chan []byte, bcastBuf),
		register:   make(chan *Client, 64),
		unregister: make(chan *Client, 64),
		clients:    make(map[*Client]struct{}),
		sendBuf:    sendBuf,
	}
}

// Run processes hub events until ctx is canceled.
// It disconnects all clients on shutdown.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("ws hub starting")

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("ws hub stopping (context canceled)")
			h.closeAllClients()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("ws client registered", "remote_addr", c.remoteAddr, "clients", n)

		case c := <-h.unregister:
			h.removeClient(c, "unregister")

		case msg := <-h.broadcast:
			// Collect slow clients first, remove them after unlocking.
			var slow []*Client

			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					slow = append(slow, c)
				}
			}
			h.mu.Unlock()

			for _, c := range slow {
				h.removeClient(c, "slow_client")
			}
		}
	}
}

// ClientCount returns the number of registered clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if c.conn != nil {
			_ = c.conn.Close()
		}
		safeCloseChan(c.send)
		delete(h.clients, c)
	}
}

func (h *Hub) removeClient(c *Client, reason string) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
	}
	n := len(h.clients)
	h.mu.Unlock()

	if ok {
		if c.conn != nil {
			_ = c.conn.Close()
		}
		// Closing send signals writePump to exit.
		safeCloseChan(c.send)

		h.logger.Info("ws client disconnected", "remote_addr", c.remoteAddr, "reason", reason, "clients", n)
	}
}

func safeCloseChan(ch chan []byte) {
	defer func() {
		_ = recover() // ignore "close of closed channel"
	}()
	close(ch)
}

// BroadcastBytes enqueues a pre-serialized JSON WS frame for broadcast.
// It never blocks; if the hub queue is full it drops the message.
func (h *Hub) BroadcastBytes(msg []byte) {
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn("ws hub broadcast queue full, dropping message", "bytes", len(msg))
	}
}

// ============================================================================
// Client
// ============================================================================

type Client struct {
	hub *Hub

	conn *websocket.Conn
	send chan []byte

	remoteAddr string
	logger     *slog.Logger
}

// NewClient creates a client with a buffered send channel.
func NewClient(hub *Hub, conn *websocket.Conn, remoteAddr string, logger *slog.Logger) *Client {
	sendBuf := 32
	if hub != nil && hub.sendBuf > 0 {
		sendBuf = hub.sendBuf
	}
	return &Client{
		hub:        hub,
		conn:       conn,
		send:       make(chan []byte, sendBuf),
		remoteAddr: remoteAddr,
		logger:     logger,
	}
}

const (
	writeWait  = 5 * time.Second
	pongWait   = 30 * time.Second
	pingPeriod = 20 * time.Second
)

// wsDebugCoalesceWindow bounds how often debug_changed frames go out. A key press
// produces a burst of notes; clients only need the latest log.
const wsDebugCoalesceWindow = 50 * time.Millisecond

// closeStatus extracts a human-readable websocket close code / text when possible.
func closeStatus(err error) (code int, text string, ok bool) {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code, ce.Text, true
	}
	return 0, "", false
}

// writePump writes messages from the send queue to the websocket.
// It exits on write error or when send is closed.
func (c *Client) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	for {
		select {
		case <-ctx.Done():
			return

		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Channel closed: hub is disconnecting us.
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.logExit("write error", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logExit("ping error", err)
				return
			}
		}
	}
}

// readPump reads and discards incoming messages to detect disconnects and handle
// control frames. It exits on read error, then unregisters the client.
func (c *Client) readPump(ctx context.Context) {
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if _, _, err := c.conn.ReadMessage(); err != nil {
			c.logExit("read error", err)
			if c.hub != nil {
				c.hub.unregister <- c
			}
			return
		}
	}
}

func (c *Client) logExit(what string, err error) {
	if errors.Is(err, websocket.ErrCloseSent) {
		return
	}
	if code, text, ok := closeStatus(err); ok {
		c.logger.Info("ws pump exiting (close)", "remote_addr", c.remoteAddr, "code", code, "reason", text)
		return
	}
	c.logger.Info("ws pump exiting ("+what+")", "remote_addr", c.remoteAddr, "error", err)
}

// ============================================================================
// HTTP Handler
// ============================================================================

type StateServer struct {
	logger *slog.Logger

	hub *Hub

	// Required for the initial snapshot request on connect.
	events chan<- Event
}

// NewStateServer constructs the WS state server components. Mount it on a
// router, start hub.Run(ctx), and start the broadcaster loop.
func NewStateServer(logger *slog.Logger, events chan<- Event, cfg HubConfig) *StateServer {
	return &StateServer{
		logger: logger,
		hub:    NewHub(logger, cfg),
		events: events,
	}
}

func (s *StateServer) Hub() *Hub { return s.hub }

// Register mounts the WS handler on r.
func (s *StateServer) Register(r chi.Router, path string) {
	if r == nil {
		return
	}
	r.Get(path, s.handleStateWS)
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleStateWS upgrades and registers a client, then sends state_init.
func (s *StateServer) handleStateWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade failed", "error", err)
		return
	}

	client := NewClient(s.hub, conn, r.RemoteAddr, s.logger)

	// Register first so broadcasts can reach it.
	s.hub.register <- client

	// The pumps must outlive the handler: net/http cancels r.Context() when it
	// returns. Connection lifetime is owned by the hub and by read/write errors.
	go client.writePump(context.Background())
	go client.readPump(context.Background())

	if s.events == nil {
		return
	}

	snap, err := requestSnapshot(r.Context(), s.events)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			s.logger.Warn("ws snapshot request failed", "error", err)
		}
		return
	}

	now := time.Now().UTC()
	initMsg, err := json.Marshal(envelope{
		Type: wsTypeStateInit,
		Ts:   &now,
		Data: newWSMessageSnapshot(snap),
	})
	if err != nil {
		s.logger.Warn("ws state_init marshal failed", "error", err)
		return
	}

	// If the client is already slow, disconnect.
	select {
	case client.send <- initMsg:
	default:
		s.hub.unregister <- client
	}
}

// ============================================================================
// Broadcaster
// ============================================================================

// RunBroadcaster reads reducer-emitted StateBroadcast values, marshals them, and
// broadcasts them to all hub clients. Intended to run as a single goroutine.
func RunBroadcaster(ctx context.Context, hub *Hub, src <-chan StateBroadcast, logger *slog.Logger) {
	if hub == nil || src == nil {
		return
	}

	// debug_changed is rate-limited: the latest pending log is flushed at most once
	// every wsDebugCoalesceWindow, even if updates keep arriving.
	var pendingDebug *wsOutboundEvent
	var debugTimer *time.Timer
	var debugTimerCh <-chan time.Time

	emit := func(ev wsOutboundEvent) {
		ts := ev.At
		if ts.IsZero() {
			ts = time.Now().UTC()
		}
		msg, err := json.Marshal(envelope{Type: ev.Type, Ts: &ts, Data: ev.Data})
		if err != nil {
			logger.Warn("ws broadcaster marshal failed", "error", err, "type", ev.Type)
			return
		}
		hub.BroadcastBytes(msg)
	}

	flushPendingDebug := func() {
		if pendingDebug == nil {
			return
		}
		emit(*pendingDebug)
		pendingDebug = nil
	}

	stopDebugTimer := func() {
		if debugTimer == nil {
			debugTimerCh = nil
			return
		}
		if !debugTimer.Stop() {
			select {
			case <-debugTimer.C:
			default:
			}
		}
		debugTimerCh = nil
		debugTimer = nil
	}

	startDebugTimerIfNeeded := func() {
		if debugTimer != nil {
			return
		}
		debugTimer = time.NewTimer(wsDebugCoalesceWindow)
		debugTimerCh = debugTimer.C
	}

	for {
		select {
		case <-ctx.Done():
			flushPendingDebug()
			stopDebugTimer()
			return

		case <-debugTimerCh:
			flushPendingDebug()
			stopDebugTimer()

		case b, ok := <-src:
			if !ok {
				flushPendingDebug()
				stopDebugTimer()
				logger.Info("ws broadcaster stopping (source ended)")
				return
			}

			ev, ok := convertBroadcast(b)
			if !ok {
				continue
			}

			// Latest wins; the timer is not reset by further updates.
			if ev.Type == wsTypeDebugChanged {
				copyEv := ev
				pendingDebug = &copyEv
				startDebugTimerIfNeeded()
				continue
			}

			emit(ev)
		}
	}
}

func convertBroadcast(b StateBroadcast) (wsOutboundEvent, bool) {
	switch ev := b.(type) {
	case BroadcastPressAccepted:
		return wsOutboundEvent{
			Type: wsTypePressAccepted,
			Data: wsPressAcceptedData{
				ID:        uuid.NewString(),
				Source:    ev.Source,
				EventTime: ev.EventTime,
			},
			At: ev.At,
		}, true

	case BroadcastPressSuppressed:
		return wsOutboundEvent{
			Type: wsTypePressSuppressed,
			Data: wsPressSuppressedData{Source: ev.Source},
			At:   ev.At,
		}, true

	case BroadcastDebugChanged:
		return wsOutboundEvent{
			Type: wsTypeDebugChanged,
			Data: wsDebugChangedData{DebugInfo: ev.Lines},
			At:   ev.At,
		}, true

	case BroadcastSupportChanged:
		return wsOutboundEvent{
			Type: wsTypeSupportChanged,
			Data: wsSupportChangedData{IsSupported: ev.Supported},
			At:   ev.At,
		}, true

	default:
		return wsOutboundEvent{}, false
	}
}

// broadcastType names a broadcast for logs.
func broadcastType(b StateBroadcast) string {
	if ev, ok := convertBroadcast(b); ok {
		return ev.Type
	}
	return "unknown"
}
