// Package websocket pushes live updates to connected staff clients. Clients
// subscribe to topics such as "listings/<session id>" or "patients/<id>" and
// receive every event published on them.
package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/clinic/clinic/internal/platform/auth"
)

const (
	sendBuffer = 64
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// Event is one update sent to subscribers of Topic.
type Event struct {
	Type      string          `json:"type"`
	Topic     string          `json:"topic"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// NewEvent marshals data into an event stamped with the current time.
func NewEvent(eventType, topic string, data interface{}) (Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Event{}, err
	}
	return Event{Type: eventType, Topic: topic, Timestamp: time.Now().UTC(), Data: raw}, nil
}

// ClientMessage is an inbound subscribe/unsubscribe request.
type ClientMessage struct {
	Action string   `json:"action"`
	Topics []string `json:"topics"`
}

// Publisher delivers events. Publishing never blocks on slow clients.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }

// TopicAuthorizer reports whether the user may subscribe to topic.
type TopicAuthorizer func(userID, role, topic string) bool

type Client struct {
	ID     string
	UserID string
	Role   string
	Send   chan []byte

	topics map[string]struct{}
}

func newClient(userID, role string) *Client {
	return &Client{
		ID:     uuid.NewString(),
		UserID: userID,
		Role:   role,
		Send:   make(chan []byte, sendBuffer),
		topics: make(map[string]struct{}),
	}
}

// Hub tracks clients and their topic subscriptions.
type Hub struct {
	logger    zerolog.Logger
	authorize TopicAuthorizer

	mu      sync.RWMutex
	clients map[string]map[*Client]struct{} // topic -> subscribers
	all     map[*Client]struct{}
}

func NewHub(authorize TopicAuthorizer, logger zerolog.Logger) *Hub {
	if authorize == nil {
		authorize = func(string, string, string) bool { return true }
	}
	return &Hub{
		logger:    logger.With().Str("component", "websocket").Logger(),
		authorize: authorize,
		clients:   make(map[string]map[*Client]struct{}),
		all:       make(map[*Client]struct{}),
	}
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.all[client] = struct{}{}
}

// Unregister drops the client from every topic and closes its Send channel.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.all[client]; !ok {
		return
	}
	for topic := range client.topics {
		h.removeLocked(topic, client)
	}
	delete(h.all, client)
	close(client.Send)
}

func (h *Hub) removeLocked(topic string, client *Client) {
	subscribers, ok := h.clients[topic]
	if !ok {
		return
	}
	delete(subscribers, client)
	if len(subscribers) == 0 {
		delete(h.clients, topic)
	}
}

// Subscribe adds the topics the client is allowed to see and returns the
// ones that were refused.
func (h *Hub) Subscribe(client *Client, topics []string) (denied []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, topic := range topics {
		if !h.authorize(client.UserID, client.Role, topic) {
			denied = append(denied, topic)
			continue
		}
		if h.clients[topic] == nil {
			h.clients[topic] = make(map[*Client]struct{})
		}
		h.clients[topic][client] = struct{}{}
		client.topics[topic] = struct{}{}
	}
	return denied
}

func (h *Hub) Unsubscribe(client *Client, topics []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, topic := range topics {
		h.removeLocked(topic, client)
		delete(client.topics, topic)
	}
}

// ProcessMessage applies an inbound message and returns the reply to send, if any.
func (h *Hub) ProcessMessage(client *Client, msg ClientMessage) *Event {
	switch msg.Action {
	case "subscribe":
		if denied := h.Subscribe(client, msg.Topics); len(denied) > 0 {
			ev, _ := NewEvent("subscription.denied", "", map[string][]string{"topics": denied})
			return &ev
		}
	case "unsubscribe":
		h.Unsubscribe(client, msg.Topics)
	default:
		ev, _ := NewEvent("error", "", map[string]string{"message": "unknown action " + msg.Action})
		return &ev
	}
	return nil
}

// Broadcast sends event to every subscriber of topic. Clients with a full
// buffer miss the event.
func (h *Hub) Broadcast(topic string, event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error().Err(err).Str("topic", topic).Msg("failed to marshal event")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients[topic] {
		select {
		case client.Send <- data:
		default:
			h.logger.Warn().Str("client", client.ID).Str("topic", topic).Msg("client buffer full, dropping event")
		}
	}
}

func (h *Hub) Publish(_ context.Context, event Event) error {
	h.Broadcast(event.Topic, event)
	return nil
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.all)
}

func (h *Hub) TopicCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[topic])
}

// Handler upgrades authenticated requests to websocket connections.
type Handler struct {
	hub      *Hub
	upgrader gorillawebsocket.Upgrader
}

// NewHandler accepts connections from the given origins; an empty list
// accepts same-origin requests only.
func NewHandler(hub *Hub, allowedOrigins []string) *Handler {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = struct{}{}
	}
	up := gorillawebsocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024}
	if len(allowed) > 0 {
		up.CheckOrigin = func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			_, ok := allowed[origin]
			return ok
		}
	}
	return &Handler{hub: hub, upgrader: up}
}

// Path is the route of the upgrade endpoint within the API group.
const Path = "/ws"

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET(Path, h.Connect)
}

func (h *Handler) Connect(c echo.Context) error {
	ctx := c.Request().Context()
	userID := auth.UserIDFromContext(ctx)
	if userID == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}

	ws, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	client := newClient(userID, auth.RoleFromContext(ctx))
	h.hub.Register(client)

	go h.writePump(client, ws)
	go h.readPump(client, ws)
	return nil
}

func (h *Handler) readPump(client *Client, ws *gorillawebsocket.Conn) {
	defer func() {
		h.hub.Unregister(client)
		ws.Close()
	}()

	ws.SetReadLimit(4096)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := ws.ReadMessage()
		if err != nil {
			return
		}
		var msg ClientMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}
		if reply := h.hub.ProcessMessage(client, msg); reply != nil {
			if data, err := json.Marshal(reply); err == nil {
				select {
				case client.Send <- data:
				default:
				}
			}
		}
	}
}

func (h *Handler) writePump(client *Client, ws *gorillawebsocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		ws.Close()
	}()

	for {
		select {
		case message, ok := <-client.Send:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = ws.WriteMessage(gorillawebsocket.CloseMessage, nil)
				return
			}
			if err := ws.WriteMessage(gorillawebsocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(gorillawebsocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
