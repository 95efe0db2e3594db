package api

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/swecc-uw/swecc-sockets/pkg/config"
	"github.com/swecc-uw/swecc-sockets/pkg/events"
	"github.com/swecc-uw/swecc-sockets/pkg/log"
	"github.com/swecc-uw/swecc-sockets/pkg/registry"
)

type Server struct {
	cfg      *config.Config
	registry *registry.Registry
	emitters map[registry.ServiceKind]*events.Emitter
	upgrader websocket.Upgrader
	logger   *log.Logger
}

func NewServer(cfg *config.Config, reg *registry.Registry, emitters map[registry.ServiceKind]*events.Emitter) *Server {
	return &Server{
		cfg:      cfg,
		registry: reg,
		emitters: emitters,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// browsers connect cross-origin; auth happens via the token path segment
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: log.ForService("api"),
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Errorf("encoding JSON response: %v", err)
	}
}

func CorsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
