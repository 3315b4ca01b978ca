// Package realtime streams newly created notifications to connected users of
// the same tenant over WebSocket.
//
// Connections are indexed by tenant, so a publish only walks the clients of
// the tenant it belongs to and can never reach another tenant's sockets.
package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mbd888/bakehouse/internal/metrics"
)

// Connection limits.
const (
	MaxClients          = 10000
	MaxClientsPerTenant = 500
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = 30 * time.Second
	sendBuffer   = 64
)

var normalCloseCodes = []int{
	websocket.CloseNormalClosure,
	websocket.CloseGoingAway,
	websocket.CloseNoStatusReceived,
}

// EventType for real-time events
type EventType string

const (
	EventNotification EventType = "notification"
)

// Event is delivered to the clients of Tenant. A non-empty RecipientID
// restricts delivery to that user's connections; empty means broadcast.
type Event struct {
	Type        EventType `json:"type"`
	Tenant      string    `json:"-"`
	RecipientID string    `json:"-"`
	Timestamp   time.Time `json:"timestamp"`
	Data        any       `json:"data"`
}

// Client is one WebSocket connection bound to a tenant and, optionally, a user.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	tenant string
	userID string
}

// Stats summarizes hub activity for the operator stats endpoint.
type Stats struct {
	ConnectedClients int   `json:"connected_clients"`
	ConnectedTenants int   `json:"connected_tenants"`
	TotalClients     int64 `json:"total_clients"`
	PeakClients      int64 `json:"peak_clients"`
	TotalEvents      int64 `json:"total_events"`
	DroppedEvents    int64 `json:"dropped_events"`
	SlowClients      int64 `json:"slow_clients_closed"`
}

// Hub owns every live connection. Run is the only writer of the index.
type Hub struct {
	mu       sync.RWMutex
	tenants  map[string]map[*Client]struct{}
	count    int
	events   chan *Event
	register chan *Client
	leave    chan *Client
	done     chan struct{}
	upgrader websocket.Upgrader
	logger   *slog.Logger

	maxClients   int
	maxPerTenant int

	totalClients atomic.Int64
	peakClients  atomic.Int64
	totalEvents  atomic.Int64
	dropped      atomic.Int64
	slowClosed   atomic.Int64
}

// NewHub creates a hub. allowedOrigins lists browser origins permitted to
// connect in addition to same-host pages.
func NewHub(logger *slog.Logger, allowedOrigins ...string) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	origins := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		if o != "" {
			origins[o] = true
		}
	}
	return &Hub{
		tenants:      make(map[string]map[*Client]struct{}),
		events:       make(chan *Event, 256),
		register:     make(chan *Client),
		leave:        make(chan *Client),
		done:         make(chan struct{}),
		logger:       logger,
		maxClients:   MaxClients,
		maxPerTenant: MaxClientsPerTenant,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" || origins[origin] {
					return true
				}
				return origin == "http://"+r.Host || origin == "https://"+r.Host
			},
		},
	}
}

// Run serves registrations and deliveries until ctx ends, then closes every
// connection.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("realtime hub started")
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			h.logger.Info("realtime hub stopped")
			return
		case c := <-h.register:
			h.add(c)
		case c := <-h.leave:
			h.remove(c)
		case ev := <-h.events:
			h.deliver(ev)
		}
	}
}

func (h *Hub) add(c *Client) {
	h.mu.Lock()
	set, ok := h.tenants[c.tenant]
	if !ok {
		set = make(map[*Client]struct{})
		h.tenants[c.tenant] = set
	}
	set[c] = struct{}{}
	h.count++
	n := h.count
	h.mu.Unlock()

	h.totalClients.Add(1)
	if int64(n) > h.peakClients.Load() {
		h.peakClients.Store(int64(n))
	}
	metrics.ActiveWebSocketClients.Set(float64(n))
	h.logger.Debug("client connected", "tenant", c.tenant, "user_id", c.userID, "total", n)
}

// remove drops c from the index and closes its send channel. It is a no-op
// for clients already removed.
func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	set := h.tenants[c.tenant]
	if _, ok := set[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(h.tenants, c.tenant)
	}
	h.count--
	n := h.count
	h.mu.Unlock()

	close(c.send)
	metrics.ActiveWebSocketClients.Set(float64(n))
	h.logger.Debug("client disconnected", "tenant", c.tenant, "total", n)
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	for tenant, set := range h.tenants {
		for c := range set {
			close(c.send)
		}
		delete(h.tenants, tenant)
	}
	h.count = 0
	h.mu.Unlock()
	metrics.ActiveWebSocketClients.Set(0)
}

// deliver fans ev out to its tenant. Clients whose buffers are full are
// disconnected rather than allowed to stall the hub.
func (h *Hub) deliver(ev *Event) {
	h.totalEvents.Add(1)
	payload, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error("encode realtime event", "tenant", ev.Tenant, "error", err)
		return
	}

	var slow []*Client
	h.mu.RLock()
	for c := range h.tenants[ev.Tenant] {
		if !shouldSend(c, ev) {
			continue
		}
		select {
		case c.send <- payload:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.slowClosed.Add(1)
		h.logger.Warn("closing slow websocket client", "tenant", c.tenant, "user_id", c.userID)
		h.remove(c)
	}
}

// shouldSend never crosses tenants; within a tenant a targeted event only
// reaches the recipient, while anonymous connections see broadcasts only.
func shouldSend(client *Client, event *Event) bool {
	if client.tenant != event.Tenant {
		return false
	}
	if event.RecipientID == "" {
		return true
	}
	return client.userID == event.RecipientID
}

// Broadcast queues an event for delivery. Events are dropped when the queue
// is full.
func (h *Hub) Broadcast(event *Event) {
	select {
	case h.events <- event:
	default:
		h.dropped.Add(1)
		h.logger.Warn("realtime queue full, dropping event", "tenant", event.Tenant)
	}
}

// PublishNotification queues a notification for a tenant's connected users.
func (h *Hub) PublishNotification(tenant, recipientID string, notification any) {
	h.Broadcast(&Event{
		Type:        EventNotification,
		Tenant:      tenant,
		RecipientID: recipientID,
		Timestamp:   time.Now().UTC(),
		Data:        notification,
	})
}

// TenantClients returns the number of live connections for tenant.
func (h *Hub) TenantClients(tenant string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.tenants[tenant])
}

// Stats returns hub statistics
func (h *Hub) Stats() Stats {
	h.mu.RLock()
	connected, tenants := h.count, len(h.tenants)
	h.mu.RUnlock()

	return Stats{
		ConnectedClients: connected,
		ConnectedTenants: tenants,
		TotalClients:     h.totalClients.Load(),
		PeakClients:      h.peakClients.Load(),
		TotalEvents:      h.totalEvents.Load(),
		DroppedEvents:    h.dropped.Load(),
		SlowClients:      h.slowClosed.Load(),
	}
}

// admit reports why a new connection for tenant must be refused, or "".
func (h *Hub) admit(tenant string) string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	switch {
	case h.count >= h.maxClients:
		return "too many connections"
	case len(h.tenants[tenant]) >= h.maxPerTenant:
		return "too many connections for tenant"
	}
	return ""
}

// HandleWebSocket upgrades HTTP to WebSocket for a tenant. userID may be
// empty, in which case only broadcast notifications are delivered.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request, tenant, userID string) {
	select {
	case <-h.done:
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	default:
	}
	if reason := h.admit(tenant); reason != "" {
		http.Error(w, reason, http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "tenant", tenant, "error", err)
		return
	}

	c := &Client{hub: h, conn: conn, send: make(chan []byte, sendBuffer), tenant: tenant, userID: userID}
	select {
	case h.register <- c:
	case <-h.done:
		_ = conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

// readPump drains the connection so pongs and close frames are processed.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.leave <- c:
		case <-c.hub.done:
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(4 * 1024)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if !websocket.IsCloseError(err, normalCloseCodes...) {
				c.hub.logger.Debug("websocket read error", "tenant", c.tenant, "error", err)
			}
			return
		}
	}
}

// writePump sends queued events and keepalive pings. A closed send channel
// means the hub dropped the client.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.hub.logger.Warn("websocket write error", "tenant", c.tenant, "error", err)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.hub.logger.Debug("websocket ping failed", "tenant", c.tenant, "error", err)
				return
			}
		}
	}
}
