package handler

import (
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Client is one WebSocket connection owned by a user. A user may hold several
// connections at once (phone and tablet both watching the same story).
type Client struct {
	UserID string
	Conn   *websocket.Conn
	send   chan []byte
}

// ConnectionManager tracks active WebSocket connections per user.
type ConnectionManager struct {
	mu      sync.RWMutex
	clients map[string]map[*Client]struct{}
	logger  zerolog.Logger
}

func NewConnectionManager(logger zerolog.Logger) *ConnectionManager {
	return &ConnectionManager{
		clients: make(map[string]map[*Client]struct{}),
		logger:  logger.With().Str("component", "ConnectionManager").Logger(),
	}
}

// RegisterClient adds a connection for its user.
func (m *ConnectionManager) RegisterClient(client *Client) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.clients[client.UserID] == nil {
		m.clients[client.UserID] = make(map[*Client]struct{})
	}
	m.clients[client.UserID][client] = struct{}{}
	m.logger.Info().
		Str("userID", client.UserID).
		Int("connections", len(m.clients[client.UserID])).
		Msg("Client registered")
}

// UnregisterClient removes a connection and closes its send channel. The
// connection itself is closed by the read pump.
func (m *ConnectionManager) UnregisterClient(client *Client) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conns, ok := m.clients[client.UserID]
	if !ok {
		return
	}
	if _, ok := conns[client]; !ok {
		return
	}
	delete(conns, client)
	close(client.send)
	if len(conns) == 0 {
		delete(m.clients, client.UserID)
	}
	m.logger.Info().Str("userID", client.UserID).Msg("Client unregistered")
}

// SendToUser queues a message for every connection of the user. Returns the
// number of connections the message was queued on; zero means the user is
// offline, which is fine, polling picks the update up.
func (m *ConnectionManager) SendToUser(userID string, message []byte) int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	delivered := 0
	for client := range m.clients[userID] {
		select {
		case client.send <- message:
			delivered++
		default:
			m.logger.Warn().
				Str("userID", userID).
				Msg("Send queue full, dropping message for connection")
		}
	}
	return delivered
}

// ConnectionCount reports how many connections the user currently holds.
func (m *ConnectionManager) ConnectionCount(userID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.clients[userID])
}
