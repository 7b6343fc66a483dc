package websocket

import (
	"context"
	"net/http"

	ws "github.com/coder/websocket"

	"github.com/dukerupert/fortrock/internal/guard"
	"github.com/dukerupert/fortrock/internal/model"
)

// SessionSource is what a connection needs from the identity provider.
type SessionSource interface {
	guard.SessionSource
	Session(ctx context.Context, token string) (*model.Session, error)
}

// HandleSession returns an HTTP handler that upgrades a signed-in request to
// a WebSocket and streams its guard state until the connection closes.
// tokenFunc extracts the session token from the request.
func HandleSession(hub *Hub, evaluator *guard.Evaluator, sessions SessionSource, tokenFunc func(*http.Request) string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := tokenFunc(r)
		sess, err := sessions.Session(r.Context(), token)
		if err != nil {
			hub.logger.Error("websocket session lookup", "error", err)
			http.Error(w, "Internal error", http.StatusInternalServerError)
			return
		}
		if sess == nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		conn, err := ws.Accept(w, r, nil)
		if err != nil {
			hub.logger.Warn("websocket accept", "error", err)
			return
		}
		defer conn.CloseNow()

		client := NewClient(hub, conn, sess.UserID)
		g := guard.New(evaluator, sessions, token, hub.logger.With("user_id", sess.UserID),
			guard.OnChange(func(st guard.State) {
				hub.SendTo(client, Message{Type: TypeSessionState, Data: st})
			}))
		client.Run(r.Context(), g)
	}
}
