package api

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/cureliah/backend/internal/realtime"
	"github.com/gorilla/websocket"
)

// RealtimeHandler upgrades to a websocket carrying the caller's inbox changes.
// Browsers cannot set headers on websocket requests, so the access token comes
// in the token query parameter.
func (h *Handlers) RealtimeHandler(auth *Authenticator, allowedOrigins []string) http.HandlerFunc {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(allowedOrigins),
	}

	return func(w http.ResponseWriter, r *http.Request) {
		if h.hub == nil {
			h.writeError(w, http.StatusServiceUnavailable, "Realtime updates are not enabled")
			return
		}
		token := strings.TrimSpace(r.URL.Query().Get("token"))
		if token == "" {
			token, _ = bearerToken(r)
		}
		actor, err := auth.Authenticate(r.Context(), token)
		if err != nil {
			status, message := authFailure(err)
			h.writeError(w, status, message)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade has already written the HTTP error.
			h.logger.Warn("websocket upgrade failed", "user_id", actor.ID, "error", err)
			return
		}
		client := realtime.NewClient(h.hub, conn, actor.ID)
		if err := h.hub.Attach(r.Context(), client); err != nil {
			h.logger.Error("failed to attach realtime client", "user_id", actor.ID, "error", err)
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "unavailable"))
			_ = conn.Close()
			return
		}
		client.Start()
	}
}

// originChecker accepts same-origin requests, non-browser clients and the
// configured CORS origins.
func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	wildcard := false
	for _, origin := range allowed {
		origin = strings.TrimRight(strings.TrimSpace(origin), "/")
		if origin == "*" {
			wildcard = true
		}
		set[strings.ToLower(origin)] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || wildcard {
			return true
		}
		if _, ok := set[strings.ToLower(strings.TrimRight(origin, "/"))]; ok {
			return true
		}
		u, err := url.Parse(origin)
		return err == nil && strings.EqualFold(u.Host, r.Host)
	}
}
