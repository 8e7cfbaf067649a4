package server

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
)

// SetupRoutes returns the router for the HTTP side of the relay: health on
// "/" and "/health", the WebSocket gateway on "/ws" and the test page on
// "/test".
func SetupRoutes(g *Gateway, stats Stats, logger *slog.Logger) *mux.Router {
	if logger == nil {
		logger = slog.Default()
	}
	r := mux.NewRouter()
	health := HealthHandler(stats)
	r.HandleFunc("/", health).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/health", health).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/ws", g.WebSocketHandler).Methods(http.MethodGet)
	r.HandleFunc("/test", TestPageHandler(logger)).Methods(http.MethodGet)
	return r
}
