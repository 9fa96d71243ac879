package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/vyrodovalexey/basket-sync/internal/auth"
	"github.com/vyrodovalexey/basket-sync/internal/model"
)

// WebSocket configuration constants.
const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	sendBuffer     = 16
	closeGrace     = 100 * time.Millisecond
)

// wsClient is one open socket of an authenticated user.
type wsClient struct {
	conn   *websocket.Conn
	userID string
	send   chan model.WebSocketMessage
	cancel context.CancelFunc
}

// WebSocketHandler accepts /ws connections and pushes collection events to
// every socket of the user they concern.
type WebSocketHandler struct {
	upgrader websocket.Upgrader
	logger   *zap.Logger
	mu       sync.RWMutex
	users    map[string]map[*wsClient]struct{}
}

// NewWebSocketHandler creates a WebSocketHandler. Browser upgrades are only
// accepted from allowedOrigins; "*" accepts any origin.
func NewWebSocketHandler(allowedOrigins []string, logger *zap.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		logger: logger,
		users:  make(map[string]map[*wsClient]struct{}),
	}
}

// originChecker allows requests without an Origin header (non-browser
// clients) and browser requests from a listed origin.
func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		set[o] = true
	}

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || set["*"] {
			return true
		}
		if set[origin] {
			return true
		}
		u, err := url.Parse(origin)
		return err == nil && u.Host == r.Host
	}
}

// RegisterRoutes registers the WebSocket route with the router.
func (h *WebSocketHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/ws", h.HandleWebSocket).Methods(http.MethodGet)
}

// HandleWebSocket upgrades an authenticated request.
//
//nolint:contextcheck // the socket outlives the upgrade request
func (h *WebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok || user.ID == "" {
		writeError(w, h.logger, http.StatusUnauthorized, "authentication required")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("failed to upgrade connection", zap.Error(err))
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &wsClient{
		conn:   conn,
		userID: user.ID,
		send:   make(chan model.WebSocketMessage, sendBuffer),
		cancel: cancel,
	}
	h.addClient(c)

	h.logger.Info("websocket client connected",
		zap.String("user_id", user.ID),
		zap.String("remote_addr", conn.RemoteAddr().String()),
	)

	go h.writePump(ctx, c)
	go h.readPump(ctx, c)
}

// Publish queues msg on every socket of userID. A socket whose queue is full
// misses the message.
func (h *WebSocketHandler) Publish(userID string, msg model.WebSocketMessage) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.users[userID] {
		select {
		case c.send <- msg:
		default:
			h.logger.Debug("websocket send queue full, dropping message",
				zap.String("user_id", userID),
				zap.String("type", msg.Type),
			)
		}
	}
}

// Connections returns the number of open sockets of userID.
func (h *WebSocketHandler) Connections(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users[userID])
}

// readPump answers application pings and notices disconnects.
func (h *WebSocketHandler) readPump(ctx context.Context, c *wsClient) {
	defer func() {
		h.removeClient(c)
		if err := c.conn.Close(); err != nil {
			h.logger.Debug("error closing connection", zap.Error(err))
		}
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		h.logger.Error("failed to set read deadline", zap.Error(err))
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for ctx.Err() == nil {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn("websocket read error", zap.Error(err))
			}
			return
		}

		var msg model.WebSocketMessage
		if err := json.Unmarshal(data, &msg); err != nil || msg.Type != model.WSMessageTypePing {
			h.logger.Debug("ignoring client message", zap.ByteString("message", data))
			continue
		}
		select {
		case c.send <- model.WebSocketMessage{Type: model.WSMessageTypePong, Timestamp: time.Now().UTC()}:
		default:
		}
	}
}

// writePump owns all writes to the connection.
func (h *WebSocketHandler) writePump(ctx context.Context, c *wsClient) {
	pingTicker := time.NewTicker(pingPeriod)
	defer pingTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.sendCloseMessage(c.conn)
			return
		case msg := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				h.logger.Debug("failed to send message", zap.Error(err))
				return
			}
		case <-pingTicker.C:
			if err := h.sendPing(c.conn); err != nil {
				h.logger.Debug("failed to send ping", zap.Error(err))
				return
			}
		}
	}
}

// sendPing sends a ping message to the connection.
func (h *WebSocketHandler) sendPing(conn *websocket.Conn) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.PingMessage, nil)
}

// sendCloseMessage sends a close frame to the connection.
func (h *WebSocketHandler) sendCloseMessage(conn *websocket.Conn) {
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		h.logger.Debug("failed to set write deadline for close", zap.Error(err))
		return
	}

	closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "server shutting down")
	if err := conn.WriteMessage(websocket.CloseMessage, closeMsg); err != nil {
		h.logger.Debug("failed to send close message", zap.Error(err))
	}
}

func (h *WebSocketHandler) addClient(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients, ok := h.users[c.userID]
	if !ok {
		clients = make(map[*wsClient]struct{})
		h.users[c.userID] = clients
	}
	clients[c] = struct{}{}
}

func (h *WebSocketHandler) removeClient(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients, ok := h.users[c.userID]
	if !ok {
		return
	}
	if _, exists := clients[c]; !exists {
		return
	}

	c.cancel()
	delete(clients, c)
	if len(clients) == 0 {
		delete(h.users, c.userID)
	}
	h.logger.Info("websocket client disconnected", zap.String("user_id", c.userID))
}

// CloseAllConnections sends a close frame to every socket and closes it.
func (h *WebSocketHandler) CloseAllConnections() {
	h.mu.Lock()
	var all []*wsClient
	for _, clients := range h.users {
		for c := range clients {
			all = append(all, c)
		}
	}
	h.users = make(map[string]map[*wsClient]struct{})
	h.mu.Unlock()

	for _, c := range all {
		c.cancel()
	}

	// Let the write pumps flush their close frames.
	time.Sleep(closeGrace)

	for _, c := range all {
		if err := c.conn.Close(); err != nil {
			h.logger.Debug("error closing connection", zap.Error(err))
		}
	}

	h.logger.Info("all websocket connections closed", zap.Int("count", len(all)))
}
