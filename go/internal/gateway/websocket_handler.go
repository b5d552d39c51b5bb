package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// TokenVerifier resolves a bearer token to a user id.
type TokenVerifier interface {
	Verify(token string) (string, error)
}

// wsTransport adapts a gorilla websocket to Transport. WriteMessage is only
// called from the write pump; control frames may be sent concurrently.
type wsTransport struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
}

func (t *wsTransport) WriteMessage(data []byte) error {
	t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout))
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

func (t *wsTransport) Ping() error {
	return t.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(t.writeTimeout))
}

func (t *wsTransport) Close(code int, reason string) error {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = t.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(t.writeTimeout))
	return t.conn.Close()
}

// WebSocketHandler upgrades authenticated requests into managed connections.
type WebSocketHandler struct {
	manager  *ConnectionManager
	verifier TokenVerifier
}

func NewWebSocketHandler(cm *ConnectionManager, verifier TokenVerifier) *WebSocketHandler {
	return &WebSocketHandler{manager: cm, verifier: verifier}
}

// RegisterRoutes registers websocket routes on r.
func (h *WebSocketHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/games/{gameID}/ws", h.HandleGameConnection).Methods(http.MethodGet)
	r.HandleFunc("/ws", h.HandleGameConnection).Methods(http.MethodGet)
	r.HandleFunc("/ws/stats", h.HandleConnectionStats).Methods(http.MethodGet)
}

func bearerToken(r *http.Request) string {
	if tok := r.URL.Query().Get("token"); tok != "" {
		return tok
	}
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

// HandleGameConnection authenticates and upgrades a client connection. A
// rejected token closes the socket with code 4401.
func (h *WebSocketHandler) HandleGameConnection(w http.ResponseWriter, r *http.Request) {
	gameID := mux.Vars(r)["gameID"]

	ws, err := h.manager.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("failed to upgrade websocket connection")
		return
	}
	transport := &wsTransport{conn: ws, writeTimeout: h.manager.config.WriteTimeout}

	userID, err := h.verifier.Verify(bearerToken(r))
	if err != nil {
		log.Warn().Err(err).Str("game_id", gameID).Msg("websocket authentication failed")
		_ = transport.Close(CloseUnauthorized, "Unauthorized")
		return
	}

	conn := h.manager.Connect(transport, userID, gameID, r.URL.Query().Get("reconnect_token"))
	h.manager.readPump(context.WithoutCancel(r.Context()), conn, ws)
}

// readPump feeds inbound frames to HandleInbound until the socket fails.
func (cm *ConnectionManager) readPump(ctx context.Context, conn *Connection, ws *websocket.Conn) {
	defer cm.Disconnect(conn, "client disconnected", true)

	readTimeout := cm.config.PingInterval + 2*cm.config.PongTimeout
	// oversized frames up to this cap get an error reply instead of a hard close
	ws.SetReadLimit(cm.config.MaxMessageSize * 4)
	ws.SetReadDeadline(time.Now().Add(readTimeout))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(readTimeout))
		conn.touch(cm.clock.Now())
		return nil
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Error().
					Err(err).
					Str("connection_id", conn.ID).
					Msg("unexpected websocket close error")
			}
			return
		}
		ws.SetReadDeadline(time.Now().Add(readTimeout))
		cm.HandleInbound(ctx, conn, data)
	}
}

// HandleConnectionStats returns statistics about active connections.
func (h *WebSocketHandler) HandleConnectionStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h.manager.Stats()); err != nil {
		log.Error().Err(err).Msg("failed to encode connection stats")
	}
}
