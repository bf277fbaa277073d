package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"callsignal-backend/internal/database"
	"callsignal-backend/internal/domain"
	"callsignal-backend/internal/middleware"
	redisRepo "callsignal-backend/internal/repository/redis"
	"callsignal-backend/pkg/constants"
	"callsignal-backend/pkg/logger"
	"callsignal-backend/pkg/metrics"
	"callsignal-backend/pkg/response"
)

// EventsHub pushes call events to connected participants over WebSocket.
// Polling stays authoritative; a dropped event is recovered by the next poll.
type EventsHub struct {
	// Registered clients per user
	users map[uuid.UUID]map[*EventClient]bool

	// Cancel functions for per-user Redis subscriptions
	subscriptionCancels map[uuid.UUID]context.CancelFunc

	// Redis client for Pub/Sub, nil when events are delivered in-process
	redisClient *database.RedisClient
	metrics     *metrics.Metrics

	mu sync.RWMutex

	register   chan *EventClient
	unregister chan *EventClient
	deliver    chan delivery
	done       chan struct{}
	closeOnce  sync.Once

	upgrader  websocket.Upgrader
	semaphore chan struct{}
}

// EventClient is one WebSocket connection of a user
type EventClient struct {
	hub    *EventsHub
	conn   *websocket.Conn
	send   chan []byte
	userID uuid.UUID
}

type delivery struct {
	userID  uuid.UUID
	payload []byte
}

// NewEventsHub creates and starts a hub. redisClient and m may be nil.
func NewEventsHub(redisClient *database.RedisClient, allowedOrigins []string, m *metrics.Metrics) *EventsHub {
	hub := &EventsHub{
		users:               make(map[uuid.UUID]map[*EventClient]bool),
		subscriptionCancels: make(map[uuid.UUID]context.CancelFunc),
		redisClient:         redisClient,
		metrics:             m,
		register:            make(chan *EventClient),
		unregister:          make(chan *EventClient),
		deliver:             make(chan delivery, 256),
		done:                make(chan struct{}),
		semaphore:           make(chan struct{}, constants.MaxEventConnections),
	}
	hub.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(allowedOrigins),
	}

	go hub.run()

	return hub
}

// originChecker allows non-browser clients, which send no Origin, and the configured origins
func originChecker(allowedOrigins []string) func(r *http.Request) bool {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		allowed[origin] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || allowed["*"] || allowed[origin]
	}
}

// run handles hub operations
func (h *EventsHub) run() {
	for {
		select {
		case <-h.done:
			h.mu.Lock()
			for userID, clients := range h.users {
				for client := range clients {
					close(client.send)
				}
				delete(h.users, userID)
			}
			for userID, cancel := range h.subscriptionCancels {
				cancel()
				delete(h.subscriptionCancels, userID)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			if h.users[client.userID] == nil {
				h.users[client.userID] = make(map[*EventClient]bool)
				if h.redisClient != nil {
					ctx, cancel := context.WithCancel(context.Background())
					h.subscriptionCancels[client.userID] = cancel
					go h.subscribeToUser(ctx, client.userID)
				}
			}
			h.users[client.userID][client] = true
			h.mu.Unlock()
			h.reportConnections()

		case client := <-h.unregister:
			h.mu.Lock()
			h.removeLocked(client)
			h.mu.Unlock()
			h.reportConnections()

		case d := <-h.deliver:
			h.mu.Lock()
			for client := range h.users[d.userID] {
				select {
				case client.send <- d.payload:
				default:
					// Slow consumer; it will catch up by polling
					h.removeLocked(client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// removeLocked drops a client and the user's subscription when it was the last one
func (h *EventsHub) removeLocked(client *EventClient) {
	clients, ok := h.users[client.userID]
	if !ok {
		return
	}
	if _, exists := clients[client]; !exists {
		return
	}
	delete(clients, client)
	close(client.send)

	if len(clients) == 0 {
		if cancel, ok := h.subscriptionCancels[client.userID]; ok {
			cancel()
			delete(h.subscriptionCancels, client.userID)
		}
		delete(h.users, client.userID)
	}
}

func (h *EventsHub) reportConnections() {
	if h.metrics != nil {
		h.metrics.SetWebSocketConnections(h.ConnectionCount())
	}
}

// ConnectionCount returns the number of open connections
func (h *EventsHub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	count := 0
	for _, clients := range h.users {
		count += len(clients)
	}
	return count
}

// subscribeToUser relays the user's Redis channel to their connections
func (h *EventsHub) subscribeToUser(ctx context.Context, userID uuid.UUID) {
	channel := redisRepo.UserChannel(userID)

	pubsub := h.redisClient.SafeSubscribe(ctx, channel)
	if pubsub == nil {
		logger.Warn("Redis degraded, call events limited to polling",
			zap.String("user_id", userID.String()))
		return
	}
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		if ctx.Err() == nil {
			logger.Error("Failed to subscribe to Redis channel",
				zap.String("user_id", userID.String()),
				zap.Error(err))
		}
		return
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			h.enqueue(ctx, delivery{userID: userID, payload: []byte(msg.Payload)})
		}
	}
}

// Publish delivers an event to the connections of both participants.
// Used when no Redis bus is configured.
func (h *EventsHub) Publish(ctx context.Context, event *domain.CallEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	for _, userID := range event.Recipients() {
		h.enqueue(ctx, delivery{userID: userID, payload: payload})
	}
	return nil
}

func (h *EventsHub) enqueue(ctx context.Context, d delivery) {
	select {
	case h.deliver <- d:
	case <-ctx.Done():
	case <-h.done:
	}
}

// Close stops the hub and disconnects every client
func (h *EventsHub) Close() {
	h.closeOnce.Do(func() {
		close(h.done)
	})
}

// ServeWS upgrades the request and streams the user's call events
// GET /v1/calls/ws/events
func (h *EventsHub) ServeWS(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "Not authenticated")
		return
	}

	select {
	case h.semaphore <- struct{}{}:
	default:
		logger.Warn("WebSocket connection rejected: max connections reached",
			zap.Int("max_connections", constants.MaxEventConnections))
		response.ServiceUnavailable(c, "Server at capacity, please try again later")
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		<-h.semaphore
		logger.Warn("WebSocket upgrade failed",
			zap.String("user_id", userID.String()),
			zap.Error(err))
		return
	}

	client := &EventClient{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, constants.EventSendBuffer),
		userID: userID,
	}

	select {
	case h.register <- client:
	case <-h.done:
		<-h.semaphore
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// readPump consumes control frames until the connection closes
func (c *EventClient) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
		<-c.hub.semaphore
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(constants.WebSocketPongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(constants.WebSocketPongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Debug("WebSocket connection closed",
					zap.String("user_id", c.userID.String()),
					zap.Error(err))
			}
			return
		}
	}
}

// writePump writes events and pings to the connection
func (c *EventClient) writePump() {
	ticker := time.NewTicker(constants.WebSocketPingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(constants.WebSocketWriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
			if c.hub.metrics != nil {
				c.hub.metrics.RecordWebSocketMessage("call_event", "outbound")
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(constants.WebSocketWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
