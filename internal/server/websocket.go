// Package server exposes the HTTP side of the gateway: WebSocket upgrades
// and the health check.
package server

import (
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"
)

func newUpgrader(origins *originPolicy) *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     origins.checkOrigin,
	}
}

// WebSocketHandler upgrades the request and serves it as a chat connection.
// Each WebSocket message carries one envelope; the state machine and
// responses are the same as on the TCP listener.
func (s *Server) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "remote_addr", r.RemoteAddr, "error", err)
		return
	}

	s.attach(newWSTransport(conn, r.RemoteAddr, s.cfg))
}

// HealthHandler reports that the server is up along with live counts.
func (s *Server) HealthHandler(w http.ResponseWriter, _ *http.Request) {
	stats := s.Stats()
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "tcpchat server is running! connections=%d online=%d registered=%d groups=%d pending_offline=%d\n",
		stats.Connections, stats.Online, stats.Registered, stats.Groups, stats.PendingOffline)
}
