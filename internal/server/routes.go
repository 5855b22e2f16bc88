package server

import "net/http"

// SetupRoutes configures and returns an HTTP ServeMux with all application routes.
func SetupRoutes(h *Handlers) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", h.Health)
	mux.HandleFunc("/ws", h.WebSocket)
	mux.HandleFunc("GET /healthz", h.Stats)
	mux.HandleFunc("GET /api/topics", h.Topics)
	mux.HandleFunc("POST /api/rooms", h.CreateRoom)
	return mux
}
