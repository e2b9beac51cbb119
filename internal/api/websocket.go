package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/rawblock/bridgetrace/internal/risk"
)

const (
	writeWait       = 5 * time.Second
	broadcastBuffer = 256
)

// Hub maintains the set of active websocket clients and broadcasts risk
// alerts to them.
type Hub struct {
	upgrader  websocket.Upgrader
	clients   map[*websocket.Conn]bool
	broadcast chan []byte
	mutex     sync.Mutex
	writeWait time.Duration
	log       *zap.Logger
}

// NewHub creates a hub accepting upgrades from allowedOrigins. An empty
// list or "*" accepts any origin.
func NewHub(allowedOrigins []string, log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	allowAll := len(allowedOrigins) == 0
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		if o == "*" {
			allowAll = true
		}
		allowed[o] = true
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return allowAll || origin == "" || allowed[origin]
			},
		},
		broadcast: make(chan []byte, broadcastBuffer),
		clients:   make(map[*websocket.Conn]bool),
		writeWait: writeWait,
		log:       log.Named("stream"),
	}
}

// Run delivers queued messages until ctx is done, then closes every client.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case message := <-h.broadcast:
			h.deliver(message)
		}
	}
}

// snapshot copies the client set so writes happen without holding the lock.
func (h *Hub) snapshot() []*websocket.Conn {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for client := range h.clients {
		conns = append(conns, client)
	}
	return conns
}

func (h *Hub) remove(client *websocket.Conn) {
	h.mutex.Lock()
	delete(h.clients, client)
	h.mutex.Unlock()
}

// deliver is only called from Run, so each connection has a single writer.
func (h *Hub) deliver(message []byte) {
	for _, client := range h.snapshot() {
		_ = client.SetWriteDeadline(time.Now().Add(h.writeWait))
		if err := client.WriteMessage(websocket.TextMessage, message); err != nil {
			h.log.Warn("websocket write failed", zap.Error(err))
			h.remove(client)
			client.Close()
		}
	}
}

func (h *Hub) closeAll() {
	h.mutex.Lock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for client := range h.clients {
		conns = append(conns, client)
		delete(h.clients, client)
	}
	h.mutex.Unlock()

	for _, client := range conns {
		_ = client.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(h.writeWait))
		client.Close()
	}
}

// Clients reports the number of connected clients.
func (h *Hub) Clients() int {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return len(h.clients)
}

// Subscribe handles incoming websocket connections
func (h *Hub) Subscribe(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	h.mutex.Lock()
	h.clients[conn] = true
	total := len(h.clients)
	h.mutex.Unlock()
	h.log.Info("client connected", zap.Int("clients", total))

	// Clients only receive; reading detects disconnects.
	go func() {
		defer func() {
			h.mutex.Lock()
			delete(h.clients, conn)
			total := len(h.clients)
			h.mutex.Unlock()
			conn.Close()
			h.log.Info("client disconnected", zap.Int("clients", total))
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					h.log.Warn("websocket read failed", zap.Error(err))
				}
				return
			}
		}
	}()
}

// Broadcast queues data for every client. When the queue is full the
// message is dropped.
func (h *Hub) Broadcast(data []byte) {
	select {
	case h.broadcast <- data:
	default:
		h.log.Warn("broadcast queue full, dropping message")
	}
}

type alertMessage struct {
	Type  string     `json:"type"`
	Alert risk.Alert `json:"alert"`
}

// PublishRiskAlert broadcasts a risk_alert message.
func (h *Hub) PublishRiskAlert(alert risk.Alert) {
	payload, err := json.Marshal(alertMessage{Type: "risk_alert", Alert: alert})
	if err != nil {
		h.log.Error("encode risk alert", zap.Error(err))
		return
	}
	h.Broadcast(payload)
	h.log.Info("risk alert published",
		zap.String("entity_id", alert.EntityID),
		zap.Float64("risk_score", alert.RiskScore))
}
