package websocket

import (
	"encoding/json"
	"sync"
	"time"

	"edupulse-sync-server/internal/metrics"

	"go.uber.org/zap"
)

type ClientMessage struct {
	Client  *Client
	Message []byte
}

type Manager struct {
	clients        map[string]*Client
	userIndex      map[string]map[string]bool
	clientsMutex   sync.RWMutex
	Register       chan *Client
	Unregister     chan *Client
	HandleMessage  chan *ClientMessage
	maxConnPerUser int
	writeWait      time.Duration
	pongWait       time.Duration
	pingPeriod     time.Duration
	maxMessageSize int64
	messageHandler MessageHandler
	log            *zap.SugaredLogger
	done           chan struct{}
}

type MessageHandler interface {
	HandleWebSocketMessage(client *Client, msg *Message) error
}

func NewManager(maxConnPerUser int, writeWait, pongWait, pingPeriod time.Duration, maxMessageSize int64, log *zap.SugaredLogger) *Manager {
	return &Manager{
		clients:        make(map[string]*Client),
		userIndex:      make(map[string]map[string]bool),
		Register:       make(chan *Client),
		Unregister:     make(chan *Client),
		HandleMessage:  make(chan *ClientMessage),
		maxConnPerUser: maxConnPerUser,
		writeWait:      writeWait,
		pongWait:       pongWait,
		pingPeriod:     pingPeriod,
		maxMessageSize: maxMessageSize,
		log:            log,
		done:           make(chan struct{}),
	}
}

func (m *Manager) SetMessageHandler(handler MessageHandler) {
	m.messageHandler = handler
}

func (m *Manager) Run() {
	for {
		select {
		case client := <-m.Register:
			m.registerClient(client)

		case client := <-m.Unregister:
			m.unregisterClient(client)

		case clientMsg := <-m.HandleMessage:
			// a sync session can take a while; keep the loop free for
			// registrations meanwhile
			go m.processMessage(clientMsg)

		case <-m.done:
			return
		}
	}
}

// Stop ends Run and closes every open connection.
func (m *Manager) Stop() {
	m.clientsMutex.Lock()
	for id, client := range m.clients {
		delete(m.clients, id)
		close(client.Send)
	}
	m.userIndex = make(map[string]map[string]bool)
	m.clientsMutex.Unlock()

	metrics.WebSocketConnections.Set(0)
	close(m.done)
}

func (m *Manager) registerClient(client *Client) {
	m.clientsMutex.Lock()
	defer m.clientsMutex.Unlock()

	if m.userIndex[client.UserID] == nil {
		m.userIndex[client.UserID] = make(map[string]bool)
	}

	if len(m.userIndex[client.UserID]) >= m.maxConnPerUser {
		m.log.Warnw("max connections reached", "user_id", client.UserID)
		close(client.Send)
		return
	}

	m.clients[client.ID] = client
	m.userIndex[client.UserID][client.ID] = true
	metrics.WebSocketConnections.Inc()

	m.log.Infow("client registered", "client_id", client.ID, "user_id", client.UserID, "device_id", client.DeviceID)
}

func (m *Manager) unregisterClient(client *Client) {
	m.clientsMutex.Lock()
	defer m.clientsMutex.Unlock()

	if _, ok := m.clients[client.ID]; ok {
		delete(m.clients, client.ID)
		delete(m.userIndex[client.UserID], client.ID)

		if len(m.userIndex[client.UserID]) == 0 {
			delete(m.userIndex, client.UserID)
		}

		close(client.Send)
		metrics.WebSocketConnections.Dec()
		m.log.Infow("client unregistered", "client_id", client.ID)
	}
}

func (m *Manager) processMessage(clientMsg *ClientMessage) {
	var msg Message
	if err := json.Unmarshal(clientMsg.Message, &msg); err != nil {
		m.log.Warnw("error unmarshaling message", "client_id", clientMsg.Client.ID, "error", err)
		return
	}

	if m.messageHandler != nil {
		if err := m.messageHandler.HandleWebSocketMessage(clientMsg.Client, &msg); err != nil {
			m.log.Warnw("error handling message", "client_id", clientMsg.Client.ID, "type", msg.Type, "error", err)
		}
	}
}

// BroadcastToUser sends message to every connection of userID except the
// ones opened by excludeDeviceID.
func (m *Manager) BroadcastToUser(userID string, message *Message, excludeDeviceID string) error {
	messageBytes, err := json.Marshal(message)
	if err != nil {
		return err
	}

	var slow []*Client
	m.clientsMutex.RLock()
	for clientID := range m.userIndex[userID] {
		client := m.clients[clientID]
		if client.DeviceID == excludeDeviceID {
			continue
		}
		select {
		case client.Send <- messageBytes:
		default:
			m.log.Warnw("client send buffer full, closing connection", "client_id", clientID)
			slow = append(slow, client)
		}
	}
	m.clientsMutex.RUnlock()

	// Run takes the write lock to unregister, so hand off outside the read lock
	for _, client := range slow {
		go func(c *Client) {
			select {
			case m.Unregister <- c:
			case <-m.done:
			}
		}(client)
	}
	return nil
}

func (m *Manager) SendToClient(clientID string, message *Message) error {
	m.clientsMutex.RLock()
	defer m.clientsMutex.RUnlock()

	client, exists := m.clients[clientID]
	if !exists {
		return nil
	}

	messageBytes, err := json.Marshal(message)
	if err != nil {
		return err
	}

	select {
	case client.Send <- messageBytes:
	default:
		m.log.Warnw("client send buffer full", "client_id", clientID)
	}

	return nil
}

func (m *Manager) GetUserConnections(userID string) int {
	m.clientsMutex.RLock()
	defer m.clientsMutex.RUnlock()

	if clients, exists := m.userIndex[userID]; exists {
		return len(clients)
	}
	return 0
}
