package feed

import (
	"net/http"

	ws "github.com/coder/websocket"

	"github.com/lcrostarosa/safecheck/internal/logging"
	"github.com/lcrostarosa/safecheck/internal/rpc"
)

// Handler upgrades connections to WebSocket and runs them as Hub clients.
// Browsers cannot set headers on a WebSocket upgrade, so the API key may
// also be passed as the token query parameter.
func Handler(hub *Hub, auth rpc.AuthConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Clone()
		if token := r.URL.Query().Get("token"); token != "" && header.Get("X-API-Key") == "" {
			header.Set("X-API-Key", token)
		}
		if !auth.Authorized(header) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		conn, err := ws.Accept(w, r, &ws.AcceptOptions{
			InsecureSkipVerify: true, // local UI may be served from another origin
		})
		if err != nil {
			logging.Warn("WebSocket accept failed", logging.Err(err))
			return
		}
		defer conn.CloseNow()

		NewClient(hub, conn).Run(r.Context())
	}
}
