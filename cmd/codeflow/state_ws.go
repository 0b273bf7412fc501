package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// State websocket
//
// Clients connect to /ws/state and receive JSON text frames
// {type, ts, data}. The first frame is "state_init" carrying a
// StateSnapshot; after that every render produces a "state" frame.
// A client whose send queue fills up is disconnected.

// wsStateData is the "state" frame payload.
type wsStateData struct {
	State  string     `json:"state"`
	Speed  float64    `json:"speed"`
	Volume int        `json:"volume"`
	Status statusItem `json:"status"`
}

type wsEnvelope struct {
	Type string     `json:"type"`
	Ts   *time.Time `json:"ts,omitempty"`
	Data any        `json:"data,omitempty"`
}

func marshalFrame(typ string, data any) ([]byte, error) {
	now := time.Now().UTC()
	return json.Marshal(wsEnvelope{Type: typ, Ts: &now, Data: data})
}

const (
	wsWriteWait    = 5 * time.Second
	wsPongWait     = 30 * time.Second
	wsPingPeriod   = 20 * time.Second
	wsSendBuf      = 16
	wsBroadcastBuf = 64
)

// Hub tracks connected clients and fans frames out to them.
type Hub struct {
	logger *slog.Logger

	broadcast  chan []byte
	register   chan *wsClient
	unregister chan *wsClient

	mu      sync.Mutex
	clients map[*wsClient]struct{}
}

// NewHub constructs a hub. Call Run to start it.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		logger:     logger,
		broadcast:  make(chan []byte, wsBroadcastBuf),
		register:   make(chan *wsClient, 16),
		unregister: make(chan *wsClient, 16),
		clients:    make(map[*wsClient]struct{}),
	}
}

// Run processes registrations and broadcasts until ctx is canceled, then
// disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			clients := h.clients
			h.clients = make(map[*wsClient]struct{})
			h.mu.Unlock()
			for c := range clients {
				c.close()
			}
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("ws client registered", "remote_addr", c.remoteAddr, "clients", n)

		case c := <-h.unregister:
			h.remove(c, "unregister")

		case msg := <-h.broadcast:
			var slow []*wsClient
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
				h.remove(c, "slow_client")
			}
		}
	}
}

// ClientCount reports the number of registered clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) remove(c *wsClient, reason string) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()

	if ok {
		c.close()
		h.logger.Info("ws client disconnected", "remote_addr", c.remoteAddr, "reason", reason, "clients", n)
	}
}

// BroadcastBytes enqueues a frame without blocking; it is dropped when the
// hub queue is full.
func (h *Hub) BroadcastBytes(msg []byte) {
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn("ws hub broadcast queue full, dropping message", "bytes", len(msg))
	}
}

// Render implements PresentationSink.
func (h *Hub) Render(v View) {
	msg, err := marshalFrame("state", wsStateData{
		State:  v.State.String(),
		Speed:  v.Speed,
		Volume: v.Volume,
		Status: statusFor(v),
	})
	if err != nil {
		h.logger.Warn("ws state marshal failed", "error", err)
		return
	}
	h.BroadcastBytes(msg)
}

// Close implements PresentationSink. Clients are closed by Run on shutdown.
func (h *Hub) Close() error { return nil }

type wsClient struct {
	hub        *Hub
	conn       *websocket.Conn
	send       chan []byte
	remoteAddr string
	logger     *slog.Logger
	closeOnce  sync.Once
}

func newWSClient(hub *Hub, conn *websocket.Conn, remoteAddr string, logger *slog.Logger) *wsClient {
	return &wsClient{
		hub:        hub,
		conn:       conn,
		send:       make(chan []byte, wsSendBuf),
		remoteAddr: remoteAddr,
		logger:     logger,
	}
}

// close ends both pumps. Safe to call more than once.
func (c *wsClient) close() {
	c.closeOnce.Do(func() {
		close(c.send)
		if c.conn != nil {
			_ = c.conn.Close()
		}
	})
}

func (c *wsClient) logExit(pump string, err error) {
	if errors.Is(err, websocket.ErrCloseSent) {
		return
	}
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		c.logger.Debug("ws pump exiting", "pump", pump, "remote_addr", c.remoteAddr, "code", ce.Code, "reason", ce.Text)
		return
	}
	c.logger.Debug("ws pump exiting", "pump", pump, "remote_addr", c.remoteAddr, "error", err)
}

func (c *wsClient) writePump() {
	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.logExit("write", err)
				return
			}
		case <-ping.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logExit("write", err)
				return
			}
		}
	}
}

// readPump discards inbound frames; it exists to notice disconnects and
// answer control frames.
func (c *wsClient) readPump() {
	_ = c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			c.logExit("read", err)
			c.hub.unregister <- c
			return
		}
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// stateWSHandler upgrades the connection and queues a state_init frame
// built from a snapshot taken on the daemon loop before the client joins
// the hub, so the snapshot always precedes broadcasts.
func stateWSHandler(hub *Hub, events chan<- Event, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn("ws upgrade failed", "error", err)
			return
		}
		client := newWSClient(hub, conn, r.RemoteAddr, logger)

		snap, err := requestSnapshot(r.Context(), events, statusReplyTimeout)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				logger.Warn("ws snapshot request failed", "error", err)
			}
			_ = conn.Close()
			return
		}
		msg, err := marshalFrame("state_init", snap)
		if err != nil {
			logger.Warn("ws snapshot marshal failed", "error", err)
			_ = conn.Close()
			return
		}
		client.send <- msg

		hub.register <- client

		// Pumps outlive the request context
		go client.writePump()
		go client.readPump()
	}
}
