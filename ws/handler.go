// Package ws is the websocket transport that keeps the presence registry in
// sync with live client connections.
package ws

import (
	"log/slog"
	"net/http"

	"github.com/feedline/messaging/api"
	"github.com/feedline/messaging/delivery"
	"github.com/feedline/messaging/metrics"
	"github.com/feedline/messaging/presence"
	"github.com/gorilla/websocket"
)

// Handler upgrades requests to websocket connections and registers them
// for the authenticated user.
type Handler struct {
	Logger   *slog.Logger
	Presence *presence.Registry[delivery.Conn]
	Upgrader websocket.Upgrader
}

// userID resolves the caller. Browsers cannot set headers on the upgrade
// request, so the user_id query parameter is accepted as well.
func userID(r *http.Request) string {
	if id := r.Header.Get(api.UserHeader); id != "" {
		return id
	}
	return r.URL.Query().Get("user_id")
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == "" {
		http.Error(w, "missing user identity", http.StatusUnauthorized)
		return
	}

	wsConn, err := h.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied to the client.
		h.Logger.Error("Could not upgrade connection", "error", err.Error())
		return
	}

	conn := NewConnection(uid, wsConn, h.Logger)
	if prev, ok := h.Presence.Register(uid, conn); ok {
		if old, ok := prev.(*Connection); ok {
			old.Close(CloseSessionReplaced, "session replaced")
		}
	}
	metrics.PresenceConnections.Set(float64(h.Presence.Len()))
	h.Logger.Info("Connection registered", "connection_id", conn.ID, "user_id", uid)

	go conn.writeLoop()
	conn.readLoop()

	h.Presence.Unregister(conn)
	metrics.PresenceConnections.Set(float64(h.Presence.Len()))
	conn.Close(websocket.CloseNormalClosure, "")
	h.Logger.Info("Connection unregistered", "connection_id", conn.ID, "user_id", uid)
}
