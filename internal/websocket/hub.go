package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/quizarena/internal/domain"
)

// Client message types
const (
	MessageTypeJoinQueue    = "join_queue"
	MessageTypeLeaveQueue   = "leave_queue"
	MessageTypeSubmitAnswer = "submit_answer"
	MessageTypeSubmitResult = "submit_result"
	MessageTypeLeaveSession = "leave_session"
	MessageTypePing         = "ping"
	MessageTypePong         = "pong"
	MessageTypeError        = "error"
)

// Message represents an outbound WebSocket message
type Message struct {
	Type      string      `json:"type"`
	Payload   interface{} `json:"payload,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// BattleEngine is the engine surface the transport drives.
type BattleEngine interface {
	JoinQueue(ctx context.Context, connID, username, topic string) error
	LeaveQueue(connID string)
	RecordAnswer(sessionID, username string, questionIndex int, outcome domain.AnswerOutcome)
	RecordResult(ctx context.Context, sessionID, username string, correctAnswers int)
	Forfeit(sessionID, username string)
	HandleDisconnect(connID string)
}

// Hub maintains the set of active connections and delivers engine
// notifications to them by connection ID.
type Hub struct {
	// Connected clients by connection ID
	conns map[string]*Client

	// Register requests from clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	// Mutex for thread-safe operations
	mu sync.RWMutex

	// Engine receiving client commands and the disconnect callback
	engine BattleEngine

	// Logger
	logger *slog.Logger

	// Context for shutdown
	ctx    context.Context
	cancel context.CancelFunc
}

// NewHub creates a new Hub
func NewHub(logger *slog.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		conns:      make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// SetEngine attaches the battle engine. Must be called before Run.
func (h *Hub) SetEngine(engine BattleEngine) {
	h.engine = engine
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	h.logger.Info("WebSocket hub started")
	for {
		select {
		case <-h.ctx.Done():
			h.logger.Info("WebSocket hub stopping")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.conns[client.id] = client
			h.mu.Unlock()
			h.logger.Debug("client registered", "conn_id", client.id)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.conns[client.id]; ok {
				delete(h.conns, client.id)
				close(client.send)
			}
			h.mu.Unlock()
			h.logger.Debug("client unregistered", "conn_id", client.id)

			// Connection loss retires the client's ticket or session.
			if h.engine != nil {
				h.engine.HandleDisconnect(client.id)
			}
		}
	}
}

// Stop stops the hub
func (h *Hub) Stop() {
	h.cancel()
}

// Send delivers one notification to one connection, at-most-once. A
// missing connection or a full buffer drops the message.
func (h *Hub) Send(connID, msgType string, payload any) {
	h.mu.RLock()
	client, ok := h.conns[connID]
	h.mu.RUnlock()
	if !ok {
		h.logger.Debug("dropping notification for gone connection", "conn_id", connID, "type", msgType)
		return
	}

	data, err := json.Marshal(Message{
		Type:      msgType,
		Payload:   payload,
		Timestamp: time.Now(),
	})
	if err != nil {
		h.logger.Error("failed to marshal notification", "type", msgType, "error", err)
		return
	}

	select {
	case client.send <- data:
	default:
		h.logger.Warn("client buffer full, dropping notification", "conn_id", connID, "type", msgType)
	}
}

// Register adds a client to the hub
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister removes a client from the hub
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// TotalConnections returns the number of connected clients
func (h *Hub) TotalConnections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}
