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
	"github.com/rs/zerolog/log"
)

// ConnectionManager tracks the websocket connections subscribed to each
// challenge code and fans events out to them.
type ConnectionManager struct {
	connections map[string]map[*Connection]bool // keyed by challenge code
	mu          sync.RWMutex

	upgrader websocket.Upgrader
	config   ConnectionConfig

	broadcastCh chan Event
}

// Connection is one subscribed game client.
type Connection struct {
	ID       string
	PlayerID string
	Code     string
	Conn     *websocket.Conn
	Send     chan []byte
	Manager  *ConnectionManager

	ConnectedAt time.Time
}

// ConnectionConfig holds websocket tuning.
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
}

// DefaultConnectionConfig returns defaults suitable for development.
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  1024,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			// Allow all origins in development - restrict in production
			return true
		},
	}
}

// NewConnectionManager creates an empty manager.
func NewConnectionManager(config ConnectionConfig) *ConnectionManager {
	return &ConnectionManager{
		connections: make(map[string]map[*Connection]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:      config,
		broadcastCh: make(chan Event, 256),
	}
}

// Start processes broadcast events until the context ends.
func (cm *ConnectionManager) Start(ctx context.Context) {
	log.Info().Msg("connection manager started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("connection manager shutting down")
			cm.closeAll()
			return
		case event := <-cm.broadcastCh:
			cm.handleBroadcast(event)
		}
	}
}

// Broadcast queues an event for every connection on its challenge code.
func (cm *ConnectionManager) Broadcast(event Event) {
	select {
	case cm.broadcastCh <- event:
	default:
		log.Warn().Str("code", event.Code).Str("type", string(event.Type)).Msg("broadcast queue full, dropping event")
	}
}

// UpgradeConnection upgrades an HTTP request and registers the client under
// its challenge code.
func (cm *ConnectionManager) UpgradeConnection(w http.ResponseWriter, r *http.Request, playerID, code string) error {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("failed to upgrade connection: %w", err)
	}

	connection := &Connection{
		ID:          uuid.New().String(),
		PlayerID:    playerID,
		Code:        code,
		Conn:        conn,
		Send:        make(chan []byte, 64),
		Manager:     cm,
		ConnectedAt: time.Now(),
	}

	cm.mu.Lock()
	if cm.connections[code] == nil {
		cm.connections[code] = make(map[*Connection]bool)
	}
	cm.connections[code][connection] = true
	cm.mu.Unlock()

	log.Info().
		Str("connection_id", connection.ID).
		Str("player_id", playerID).
		Str("code", code).
		Msg("client connected")

	go connection.writePump()
	go connection.readPump()
	return nil
}

func (cm *ConnectionManager) handleBroadcast(event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("type", string(event.Type)).Msg("failed to marshal event")
		return
	}

	cm.mu.RLock()
	conns := make([]*Connection, 0, len(cm.connections[event.Code]))
	for conn := range cm.connections[event.Code] {
		conns = append(conns, conn)
	}
	cm.mu.RUnlock()

	for _, conn := range conns {
		select {
		case conn.Send <- data:
		default:
			// Slow client: drop it rather than stall the broadcast.
			log.Warn().Str("connection_id", conn.ID).Msg("send buffer full, closing connection")
			cm.remove(conn)
		}
	}
}

func (cm *ConnectionManager) remove(conn *Connection) {
	cm.mu.Lock()
	if conns, ok := cm.connections[conn.Code]; ok && conns[conn] {
		delete(conns, conn)
		if len(conns) == 0 {
			delete(cm.connections, conn.Code)
		}
		close(conn.Send)
	}
	cm.mu.Unlock()
}

func (cm *ConnectionManager) closeAll() {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	for code, conns := range cm.connections {
		for conn := range conns {
			close(conn.Send)
		}
		delete(cm.connections, code)
	}
}

// ConnectionCount reports how many clients are subscribed to a code.
func (cm *ConnectionManager) ConnectionCount(code string) int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.connections[code])
}

func (c *Connection) writePump() {
	ticker := time.NewTicker(c.Manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		if err := c.Conn.Close(); err != nil {
			log.Debug().Err(err).Str("connection_id", c.ID).Msg("close after write pump")
		}
	}()

	for {
		select {
		case data, ok := <-c.Send:
			if err := c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout)); err != nil {
				return
			}
			if !ok {
				// Manager closed the connection.
				_ = c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Warn().Err(err).Str("connection_id", c.ID).Msg("write failed")
				return
			}
		case <-ticker.C:
			if err := c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout)); err != nil {
				return
			}
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Connection) readPump() {
	defer func() {
		c.Manager.remove(c)
		if err := c.Conn.Close(); err != nil {
			log.Debug().Err(err).Str("connection_id", c.ID).Msg("close after read pump")
		}
		log.Info().Str("connection_id", c.ID).Str("code", c.Code).Msg("client disconnected")
	}()

	c.Conn.SetReadLimit(c.Manager.config.MaxMessageSize)
	if err := c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout)); err != nil {
		return
	}
	c.Conn.SetPongHandler(func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	})

	// Clients only listen; reads exist to surface pongs and closes.
	for {
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Str("connection_id", c.ID).Msg("unexpected close")
			}
			return
		}
	}
}
