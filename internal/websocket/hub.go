package websocket

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"clinicledger/internal/config"
	"clinicledger/internal/infrastructure"
	"clinicledger/internal/operations"
	"clinicledger/pkg/contracts/events"
)

// ProgressSource is the observer registry the hub attaches clients to.
type ProgressSource interface {
	Subscribe(o operations.Observer) error
	Unsubscribe(id string)
}

// Hub tracks connected clients and ties their lifetime to a progress subscription.
type Hub struct {
	cfg        config.WebSocketConfig
	progress   ProgressSource
	upgrader   websocket.Upgrader
	mu         sync.RWMutex
	clients    map[string]*Client
	register   chan *Client
	unregister chan *Client
	quit       chan struct{}
	stopOnce   sync.Once
	logger     *slog.Logger
}

// NewHub creates a hub that subscribes clients to progress.
func NewHub(cfg config.WebSocketConfig, progress ProgressSource, logger *slog.Logger) *Hub {
	if cfg.SendBufferSize <= 0 {
		cfg.SendBufferSize = 64
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = 60 * time.Second
	}
	if cfg.PingPeriod <= 0 || cfg.PingPeriod >= cfg.PongWait {
		cfg.PingPeriod = cfg.PongWait * 9 / 10
	}
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	h := &Hub{
		cfg:        cfg,
		progress:   progress,
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		quit:       make(chan struct{}),
		logger:     logger.With(slog.String("component", "websocket.hub")),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  cfg.ReadBufferSize,
		WriteBufferSize: cfg.WriteBufferSize,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// Run processes registrations until Stop.
func (h *Hub) Run() {
	for {
		select {
		case <-h.quit:
			h.mu.Lock()
			for id, c := range h.clients {
				h.progress.Unsubscribe(id)
				c.close()
				delete(h.clients, id)
			}
			h.mu.Unlock()
			h.logger.Info("hub stopped")
			return

		case c := <-h.register:
			if err := h.progress.Subscribe(c); err != nil {
				h.logger.Warn("rejecting client", slog.String("client_id", c.id), slog.String("error", err.Error()))
				c.close()
				continue
			}
			h.mu.Lock()
			h.clients[c.id] = c
			count := len(h.clients)
			h.mu.Unlock()
			h.greet(c)
			c.logger.Info("client registered",
				slog.String("remote_addr", c.remoteAddr),
				slog.Int("total_clients", count))

		case c := <-h.unregister:
			h.mu.Lock()
			_, ok := h.clients[c.id]
			delete(h.clients, c.id)
			count := len(h.clients)
			h.mu.Unlock()
			if !ok {
				continue
			}
			h.progress.Unsubscribe(c.id)
			c.close()
			c.logger.Info("client unregistered",
				slog.Duration("connection_duration", time.Since(c.connectedAt)),
				slog.Int("total_clients", count))
		}
	}
}

func (h *Hub) greet(c *Client) {
	data, err := json.Marshal(events.WebSocketMessage{
		Type:      events.MessageTypeConnect,
		Timestamp: time.Now().UTC(),
		TraceID:   c.traceID,
		Data:      map[string]string{"client_id": c.id},
	})
	if err == nil {
		_ = c.enqueue(data)
	}
}

// Register adds c. It blocks until the hub loop accepts it or the hub stops.
func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.quit:
		c.close()
	}
}

// Unregister removes c.
func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.quit:
	}
}

// Stop disconnects every client and ends Run.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.quit) })
}

// ClientCount returns the number of registered clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and starts the client pumps.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := infrastructure.EnsureTraceID(r.Context())
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WarnContext(ctx, "websocket upgrade failed",
			slog.String("remote_addr", r.RemoteAddr),
			slog.String("error", err.Error()))
		return
	}
	c := NewClient(h, Wrap(conn), infrastructure.GetTraceID(ctx))
	h.Register(c)
	go c.WritePump()
	go c.ReadPump()
}

// checkOrigin allows same-host requests, requests without an Origin header
// and configured origins. "*" allows any origin.
func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || origin == "http://"+r.Host || origin == "https://"+r.Host {
		return true
	}
	for _, allowed := range h.cfg.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	h.logger.Warn("websocket origin rejected", slog.String("origin", origin))
	return false
}
