package hub

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/victornm/livequiz/internal/wire"
)

// Handler consumes the frames read from connections.
type Handler interface {
	Handle(ctx context.Context, connID string, in wire.Inbound)
	Disconnected(ctx context.Context, connID string)
}

type Config struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	SendBufferSize  int
	CheckOrigin     func(r *http.Request) bool
}

func DefaultConfig() Config {
	return Config{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  4096,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		SendBufferSize:  256,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = d.ReadTimeout
	}
	if c.PingInterval <= 0 || c.PingInterval >= c.ReadTimeout {
		c.PingInterval = c.ReadTimeout * 9 / 10
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = d.MaxMessageSize
	}
	if c.ReadBufferSize <= 0 {
		c.ReadBufferSize = d.ReadBufferSize
	}
	if c.WriteBufferSize <= 0 {
		c.WriteBufferSize = d.WriteBufferSize
	}
	if c.SendBufferSize <= 0 {
		c.SendBufferSize = d.SendBufferSize
	}
	return c
}

// Hub owns the websocket connections and the PIN groups used for multicast.
type Hub struct {
	c        Config
	upgrader websocket.Upgrader

	mu     sync.RWMutex
	conns  map[string]*conn
	groups map[string]map[string]struct{}
	closed bool
}

type conn struct {
	id     string
	ws     *websocket.Conn
	send   chan []byte
	pins   map[string]struct{}
	closed bool
}

func New(c Config) *Hub {
	c = c.withDefaults()

	return &Hub{
		c: c,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  c.ReadBufferSize,
			WriteBufferSize: c.WriteBufferSize,
			CheckOrigin:     c.CheckOrigin,
		},
		conns:  make(map[string]*conn),
		groups: make(map[string]map[string]struct{}),
	}
}

// Serve upgrades the request and pumps frames between the connection and h until it closes.
func (hb *Hub) Serve(w http.ResponseWriter, r *http.Request, h Handler) error {
	ws, err := hb.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("hub: upgrade: %w", err)
	}

	c := &conn{
		id:   uuid.NewString(),
		ws:   ws,
		send: make(chan []byte, hb.c.SendBufferSize),
		pins: make(map[string]struct{}),
	}

	hb.mu.Lock()
	if hb.closed {
		hb.mu.Unlock()
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(hb.c.WriteTimeout))
		ws.Close()
		return fmt.Errorf("hub: closed")
	}
	hb.conns[c.id] = c
	hb.mu.Unlock()

	ctx := context.WithoutCancel(r.Context())
	slog.InfoContext(ctx, "hub: connection opened", "conn", c.id, "remote", r.RemoteAddr)

	go hb.writePump(ctx, c)
	go func() {
		hb.readPump(ctx, c, h)
		hb.unregister(c)
		h.Disconnected(ctx, c.id)
	}()

	return nil
}

// Send queues a message for one connection. Unknown connections are ignored.
func (hb *Hub) Send(connID string, m wire.Outbound) {
	b, err := wire.Encode(m)
	if err != nil {
		slog.Error("hub: encode message failed", "event", m.Event, "error", err)
		return
	}

	hb.mu.RLock()
	c, ok := hb.conns[connID]
	var slow []*conn
	if ok && !hb.enqueue(c, b) {
		slow = append(slow, c)
	}
	hb.mu.RUnlock()

	hb.drop(slow)
}

// Broadcast queues a message for every connection of a PIN group.
func (hb *Hub) Broadcast(pin string, m wire.Outbound) {
	b, err := wire.Encode(m)
	if err != nil {
		slog.Error("hub: encode message failed", "event", m.Event, "error", err)
		return
	}

	var slow []*conn

	hb.mu.RLock()
	for id := range hb.groups[pin] {
		if c, ok := hb.conns[id]; ok && !hb.enqueue(c, b) {
			slow = append(slow, c)
		}
	}
	n := len(hb.groups[pin])
	hb.mu.RUnlock()

	hb.drop(slow)

	slog.Debug("hub: broadcast", "pin", pin, "event", m.Event, "connections", n)
}

// Join adds the connection to the PIN group.
func (hb *Hub) Join(pin, connID string) {
	hb.mu.Lock()
	defer hb.mu.Unlock()

	c, ok := hb.conns[connID]
	if !ok {
		return
	}

	g, ok := hb.groups[pin]
	if !ok {
		g = make(map[string]struct{})
		hb.groups[pin] = g
	}
	g[connID] = struct{}{}
	c.pins[pin] = struct{}{}
}

// Close disconnects every connection and refuses new ones. Handlers may still be running when it
// returns; they finish once their read pump sees the closed connection.
func (hb *Hub) Close() {
	hb.mu.Lock()
	hb.closed = true
	cs := make([]*conn, 0, len(hb.conns))
	for _, c := range hb.conns {
		cs = append(cs, c)
	}
	hb.mu.Unlock()

	for _, c := range cs {
		hb.unregister(c)
	}

	slog.Info("hub: closed", "connections", len(cs))
}

// GroupSize returns the number of connections in a PIN group.
func (hb *Hub) GroupSize(pin string) int {
	hb.mu.RLock()
	defer hb.mu.RUnlock()

	return len(hb.groups[pin])
}

// Connections returns the number of open connections.
func (hb *Hub) Connections() int {
	hb.mu.RLock()
	defer hb.mu.RUnlock()

	return len(hb.conns)
}

// enqueue never blocks. Caller must hold hb.mu.
func (hb *Hub) enqueue(c *conn, b []byte) bool {
	if c.closed {
		return true
	}

	select {
	case c.send <- b:
		return true
	default:
		return false
	}
}

func (hb *Hub) drop(slow []*conn) {
	for _, c := range slow {
		slog.Warn("hub: send buffer full, closing connection", "conn", c.id)
		hb.unregister(c)
	}
}

func (hb *Hub) unregister(c *conn) {
	hb.mu.Lock()
	defer hb.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true

	delete(hb.conns, c.id)
	for pin := range c.pins {
		if g, ok := hb.groups[pin]; ok {
			delete(g, c.id)
			if len(g) == 0 {
				delete(hb.groups, pin)
			}
		}
	}
	close(c.send)
}

func (hb *Hub) writePump(ctx context.Context, c *conn) {
	ticker := time.NewTicker(hb.c.PingInterval)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case b, ok := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(hb.c.WriteTimeout))
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.ws.WriteMessage(websocket.TextMessage, b); err != nil {
				slog.InfoContext(ctx, "hub: write failed", "conn", c.id, "error", err)
				return
			}

		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(hb.c.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				slog.InfoContext(ctx, "hub: ping failed", "conn", c.id, "error", err)
				return
			}
		}
	}
}

func (hb *Hub) readPump(ctx context.Context, c *conn, h Handler) {
	defer c.ws.Close()

	c.ws.SetReadLimit(hb.c.MaxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(hb.c.ReadTimeout))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(hb.c.ReadTimeout))
	})

	for {
		_, b, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.InfoContext(ctx, "hub: unexpected close", "conn", c.id, "error", err)
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(hb.c.ReadTimeout))

		in, err := wire.Decode(b)
		if err != nil {
			hb.Send(c.id, wire.Error("malformed message"))
			continue
		}

		h.Handle(ctx, c.id, in)
	}
}
