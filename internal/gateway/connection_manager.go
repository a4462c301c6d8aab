package gateway

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/afrintel/lms-realtime/internal/models"
)

// ConnectionManager owns every WebSocket connection on this instance and the
// room subscriptions used for scoped broadcasts. Rooms are named groups
// (team:<id>, challenge:<id>); a connection may sit in any number of them.
type ConnectionManager struct {
	rooms map[string]map[*Connection]bool
	conns map[*Connection]bool
	mu    sync.RWMutex

	upgrader websocket.Upgrader
	config   ConnectionConfig

	broadcastCh chan broadcastMessage

	// onMessage is invoked from each connection's read pump.
	onMessage func(*Connection, []byte)
}

// Connection represents one client WebSocket.
type Connection struct {
	ID   string
	User *models.User
	Conn *websocket.Conn
	Send chan []byte

	// done is closed on unregister. Send itself is never closed: broadcast
	// snapshots and read-pump acks may still hold the connection after it is
	// unregistered, and a send on a closed channel would panic them.
	done chan struct{}

	manager *ConnectionManager

	ConnectedAt time.Time
}

// ConnectionConfig holds WebSocket tunables.
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
}

type broadcastMessage struct {
	// room is empty for an all-connections broadcast.
	room string
	data []byte
}

// DefaultConnectionConfig returns default WebSocket configuration.
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  64 * 1024, // solutions are text blobs, allow some room
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			// The platform fronts this with its own origin checks.
			return true
		},
	}
}

// NewConnectionManager creates a manager with the given configuration.
func NewConnectionManager(config ConnectionConfig) *ConnectionManager {
	return &ConnectionManager{
		rooms: make(map[string]map[*Connection]bool),
		conns: make(map[*Connection]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:      config,
		broadcastCh: make(chan broadcastMessage, 1000),
	}
}

// SetMessageHandler installs the dispatch callback for client messages. Must
// be called before the first upgrade.
func (cm *ConnectionManager) SetMessageHandler(fn func(*Connection, []byte)) {
	cm.onMessage = fn
}

// Start processes queued broadcasts until the context is cancelled.
func (cm *ConnectionManager) Start(ctx context.Context) {
	log.Info().Msg("connection manager started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("connection manager shutting down")
			return
		case message := <-cm.broadcastCh:
			cm.handleBroadcast(message)
		}
	}
}

// UpgradeConnection upgrades an authenticated HTTP request to a WebSocket and
// starts its pumps.
func (cm *ConnectionManager) UpgradeConnection(w http.ResponseWriter, r *http.Request, user *models.User) (*Connection, error) {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}

	connection := &Connection{
		ID:          uuid.New().String(),
		User:        user,
		Conn:        conn,
		Send:        make(chan []byte, 256),
		done:        make(chan struct{}),
		manager:     cm,
		ConnectedAt: time.Now(),
	}

	cm.register(connection)

	go connection.writePump()
	go connection.readPump()

	log.Info().
		Str("connection_id", connection.ID).
		Str("user_id", user.ID).
		Msg("WebSocket connection established")
	return connection, nil
}

func (cm *ConnectionManager) register(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.conns[conn] = true
}

func (cm *ConnectionManager) unregister(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if _, exists := cm.conns[conn]; !exists {
		return
	}
	delete(cm.conns, conn)
	for room, members := range cm.rooms {
		if members[conn] {
			delete(members, conn)
			if len(members) == 0 {
				delete(cm.rooms, room)
			}
		}
	}
	close(conn.done)

	log.Info().
		Str("connection_id", conn.ID).
		Str("user_id", conn.User.ID).
		Msg("connection unregistered")
}

// JoinRoom subscribes a connection to a broadcast room.
func (cm *ConnectionManager) JoinRoom(conn *Connection, room string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if !cm.conns[conn] {
		return
	}
	if cm.rooms[room] == nil {
		cm.rooms[room] = make(map[*Connection]bool)
	}
	cm.rooms[room][conn] = true

	log.Debug().
		Str("connection_id", conn.ID).
		Str("room", room).
		Int("room_size", len(cm.rooms[room])).
		Msg("connection joined room")
}

// LeaveRoom removes a connection from a broadcast room.
func (cm *ConnectionManager) LeaveRoom(conn *Connection, room string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if members, exists := cm.rooms[room]; exists {
		delete(members, conn)
		if len(members) == 0 {
			delete(cm.rooms, room)
		}
	}
}

// BroadcastToRoom queues a message for every connection in a room.
func (cm *ConnectionManager) BroadcastToRoom(room string, message []byte) {
	select {
	case cm.broadcastCh <- broadcastMessage{room: room, data: message}:
	default:
		log.Warn().Str("room", room).Msg("broadcast channel full, dropping message")
	}
}

// BroadcastToAll queues a message for every connection on this instance.
func (cm *ConnectionManager) BroadcastToAll(message []byte) {
	select {
	case cm.broadcastCh <- broadcastMessage{data: message}:
	default:
		log.Warn().Msg("broadcast channel full, dropping message")
	}
}

// SendTo delivers a message to a single connection. Used for scoped acks and
// error notices; fire-and-forget like every other delivery here. Messages for
// a connection that already unregistered are dropped.
func (cm *ConnectionManager) SendTo(conn *Connection, message []byte) {
	select {
	case <-conn.done:
		return
	default:
	}

	select {
	case conn.Send <- message:
	default:
		log.Warn().
			Str("connection_id", conn.ID).
			Msg("connection send buffer full, closing connection")
		cm.unregister(conn)
		conn.Conn.Close()
	}
}

func (cm *ConnectionManager) handleBroadcast(message broadcastMessage) {
	cm.mu.RLock()
	var targets []*Connection
	if message.room == "" {
		targets = make([]*Connection, 0, len(cm.conns))
		for conn := range cm.conns {
			targets = append(targets, conn)
		}
	} else {
		for conn := range cm.rooms[message.room] {
			targets = append(targets, conn)
		}
	}
	cm.mu.RUnlock()

	for _, conn := range targets {
		cm.SendTo(conn, message.data)
	}

	log.Debug().
		Str("room", message.room).
		Int("connections", len(targets)).
		Msg("message broadcasted")
}

// Stats describes the live connection population.
type Stats struct {
	TotalConnections int `json:"total_connections"`
	ActiveRooms      int `json:"active_rooms"`
}

// GetStats returns statistics about active connections.
func (cm *ConnectionManager) GetStats() Stats {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return Stats{
		TotalConnections: len(cm.conns),
		ActiveRooms:      len(cm.rooms),
	}
}

// writePump sends queued messages and pings until the connection dies.
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
		c.manager.unregister(c)
	}()

	for {
		select {
		case message := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to write message to WebSocket")
				return
			}

		case <-c.done:
			c.Conn.SetWriteDeadline(time.Now().Add(c.manager.config.WriteTimeout))
			c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump reads client messages and hands them to the dispatch callback.
func (c *Connection) readPump() {
	defer func() {
		c.manager.unregister(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.manager.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.manager.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.manager.config.ReadTimeout))
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

		if c.manager.onMessage != nil {
			c.manager.onMessage(c, message)
		}
		c.Conn.SetReadDeadline(time.Now().Add(c.manager.config.ReadTimeout))
	}
}
