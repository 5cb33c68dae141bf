// Package server wires HTTP handlers into a ServeMux for the chat service's
// WebSocket gateway.
package server

import "net/http"

// SetupRoutes configures and returns an HTTP ServeMux with the gateway
// routes: the health check and the WebSocket endpoint.
func SetupRoutes(s *Server) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.HealthHandler)
	mux.HandleFunc("/ws", s.WebSocketHandler)
	return mux
}
