package driver

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
)

// DefaultMaxMessageBytes bounds one incoming control message.
const DefaultMaxMessageBytes = 1 << 20

// Handler serves the control protocol over websocket connections.
type Handler struct {
	server   *Server
	upgrader websocket.Upgrader
	maxBytes int64
}

// NewHandler wraps s. Every origin is accepted; put the handler behind an
// authenticating proxy when exposing it.
func NewHandler(s *Server) *Handler {
	return &Handler{
		server: s,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		maxBytes: DefaultMaxMessageBytes,
	}
}

// ServeHTTP upgrades the request and runs Serve until the client goes away.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.server.logger.Error("failed to upgrade the websocket", "error", err)
		return
	}
	defer ws.Close()
	ws.SetReadLimit(h.maxBytes)

	err = h.server.Serve(r.Context(), ws)
	if err != nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		h.server.logger.Warn("websocket session ended", "remote", r.RemoteAddr, slog.Any("error", err))
		return
	}
	_ = ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}
