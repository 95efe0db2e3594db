package api

import (
	"net/http"
)

type statusResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /{$}", s.HandleStatus)
	mux.HandleFunc("GET /ping", s.HandlePing)
	mux.HandleFunc("GET /ws/{service}/{token}", s.HandleWebSocket)
}

func (s *Server) HandleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, statusResponse{
		Status:  "online",
		Message: "WebSocket server is running",
	})
}

func (s *Server) HandlePing(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("pong")); err != nil {
		s.logger.Errorf("writing ping response: %v", err)
	}
}
