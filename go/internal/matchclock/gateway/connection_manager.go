package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mcdev12/touchline/go/internal/matchclock/coordinator"
	"github.com/rs/zerolog/log"
)

// StateSource is where the connection manager reads observable clock state from
type StateSource interface {
	Observe() coordinator.Observable
	Subscribe() (<-chan coordinator.Observable, func())
}

// ConnectionManager manages WebSocket connections for the match clock display
type ConnectionManager struct {
	connections map[*Connection]bool
	mu          sync.RWMutex

	upgrader websocket.Upgrader
	config   ConnectionConfig
	source   StateSource

	broadcastCh chan *TimerMessage

	// onForeground is called when a client reports it regained the foreground
	onForeground func(ctx context.Context)
	baseCtx      context.Context
}

// Connection represents a WebSocket connection to a display client
type Connection struct {
	ID      string
	Conn    *websocket.Conn
	Send    chan []byte
	Manager *ConnectionManager

	ConnectedAt time.Time
}

// ConnectionConfig holds configuration for WebSocket connections
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
}

// ConnectionStats is reported by /ws/stats
type ConnectionStats struct {
	TotalConnections int `json:"total_connections"`
}

// DefaultConnectionConfig returns default WebSocket configuration
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  1024,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
}

// NewConnectionManager creates a new WebSocket connection manager
func NewConnectionManager(config ConnectionConfig, source StateSource) *ConnectionManager {
	return &ConnectionManager{
		connections: make(map[*Connection]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:      config,
		source:      source,
		broadcastCh: make(chan *TimerMessage, 256),
		baseCtx:     context.Background(),
	}
}

// OnForeground registers the callback for client foreground messages
func (cm *ConnectionManager) OnForeground(fn func(ctx context.Context)) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.onForeground = fn
}

// Start broadcasts every observable change until ctx is done
func (cm *ConnectionManager) Start(ctx context.Context) {
	cm.mu.Lock()
	cm.baseCtx = ctx
	cm.mu.Unlock()

	updates, unsubscribe := cm.source.Subscribe()
	defer unsubscribe()

	log.Info().Msg("connection manager started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("connection manager shutting down")
			cm.closeAll()
			return
		case obs, ok := <-updates:
			if !ok {
				return
			}
			msg, err := newTimerMessage(MessageTypeState, obs.MatchID, time.Now(), obs)
			if err != nil {
				log.Error().Err(err).Msg("failed to build state message")
				continue
			}
			cm.handleBroadcast(msg)
		case msg := <-cm.broadcastCh:
			cm.handleBroadcast(msg)
		}
	}
}

// Broadcast queues a message for every connection
func (cm *ConnectionManager) Broadcast(msg *TimerMessage) {
	select {
	case cm.broadcastCh <- msg:
	default:
		log.Warn().Str("type", string(msg.Type)).Msg("broadcast channel full, dropping message")
	}
}

// UpgradeConnection upgrades an HTTP connection to WebSocket
func (cm *ConnectionManager) UpgradeConnection(w http.ResponseWriter, r *http.Request) error {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("failed to upgrade connection: %w", err)
	}

	connection := &Connection{
		ID:          uuid.New().String(),
		Conn:        conn,
		Send:        make(chan []byte, 64),
		Manager:     cm,
		ConnectedAt: time.Now(),
	}

	cm.registerConnection(connection)

	// New clients get the current state right away.
	obs := cm.source.Observe()
	if msg, err := newTimerMessage(MessageTypeState, obs.MatchID, time.Now(), obs); err == nil {
		if data, err := json.Marshal(msg); err == nil {
			cm.trySend(connection, data)
		}
	}

	go connection.writePump()
	go connection.readPump()

	log.Info().
		Str("connection_id", connection.ID).
		Str("remote_addr", r.RemoteAddr).
		Msg("WebSocket connection established")

	return nil
}

func (cm *ConnectionManager) registerConnection(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	cm.connections[conn] = true

	log.Debug().
		Str("connection_id", conn.ID).
		Int("total_connections", len(cm.connections)).
		Msg("connection registered")
}

func (cm *ConnectionManager) unregisterConnection(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if _, exists := cm.connections[conn]; exists {
		delete(cm.connections, conn)
		close(conn.Send)

		log.Info().
			Str("connection_id", conn.ID).
			Dur("connected_for", time.Since(conn.ConnectedAt)).
			Msg("connection unregistered")
	}
}

func (cm *ConnectionManager) closeAll() {
	cm.mu.RLock()
	conns := make([]*Connection, 0, len(cm.connections))
	for conn := range cm.connections {
		conns = append(conns, conn)
	}
	cm.mu.RUnlock()

	for _, conn := range conns {
		cm.unregisterConnection(conn)
	}
}

func (cm *ConnectionManager) handleBroadcast(message *TimerMessage) {
	cm.mu.RLock()
	targets := make([]*Connection, 0, len(cm.connections))
	for conn := range cm.connections {
		targets = append(targets, conn)
	}
	cm.mu.RUnlock()

	if len(targets) == 0 {
		return
	}

	data, err := json.Marshal(message)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal message for broadcast")
		return
	}

	for _, conn := range targets {
		if !cm.trySend(conn, data) {
			log.Warn().
				Str("connection_id", conn.ID).
				Msg("connection send buffer full, closing connection")
			cm.unregisterConnection(conn)
			conn.Conn.Close()
		}
	}

	log.Debug().
		Str("type", string(message.Type)).
		Str("match_id", message.MatchID).
		Int("connections", len(targets)).
		Msg("message broadcasted")
}

// trySend sends without blocking. Holding the read lock keeps Send open while we write.
func (cm *ConnectionManager) trySend(conn *Connection, data []byte) bool {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	if !cm.connections[conn] {
		return true
	}
	select {
	case conn.Send <- data:
		return true
	default:
		return false
	}
}

// GetConnectionStats returns statistics about active connections
func (cm *ConnectionManager) GetConnectionStats() ConnectionStats {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return ConnectionStats{TotalConnections: len(cm.connections)}
}

func (cm *ConnectionManager) foreground() {
	cm.mu.RLock()
	fn, ctx := cm.onForeground, cm.baseCtx
	cm.mu.RUnlock()

	if fn != nil {
		fn(ctx)
	}
}

// writePump handles sending messages to the WebSocket connection
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.Manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
		c.Manager.unregisterConnection(c)
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to write message to WebSocket")
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Debug().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to send ping")
				return
			}
		}
	}
}

// readPump handles reading messages from the WebSocket connection
func (c *Connection) readPump() {
	defer func() {
		c.Manager.unregisterConnection(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.Manager.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("unexpected WebSocket close error")
			}
			break
		}

		c.handleClientMessage(message)
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	}
}

// handleClientMessage processes messages received from the client
func (c *Connection) handleClientMessage(message []byte) {
	var msg ClientMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		log.Debug().
			Err(err).
			Str("connection_id", c.ID).
			Msg("ignoring malformed client message")
		return
	}

	switch msg.Type {
	case ClientMessageForeground:
		log.Debug().Str("connection_id", c.ID).Msg("client regained foreground")
		c.Manager.foreground()
	case ClientMessagePing:
	default:
		log.Debug().
			Str("connection_id", c.ID).
			Str("type", string(msg.Type)).
			Msg("unknown client message type")
	}
}
