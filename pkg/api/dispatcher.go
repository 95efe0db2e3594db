package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/swecc-uw/swecc-sockets/pkg/auth"
	"github.com/swecc-uw/swecc-sockets/pkg/events"
	"github.com/swecc-uw/swecc-sockets/pkg/protocol"
	"github.com/swecc-uw/swecc-sockets/pkg/registry"
)

// CloseUnknownService is sent when the path names a service the gateway
// does not run. Auth and policy failures use 1008 (policy violation).
const CloseUnknownService = 4004

// HandleWebSocket upgrades the connection, authenticates the token from the
// path and runs the read loop. Rejections happen after the upgrade so the
// client receives a proper close code instead of an HTTP error.
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	service := r.PathValue("service")
	token := r.PathValue("token")

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Errorf("websocket upgrade failed: %v", err)
		return
	}

	kind, ok := registry.KindForService(service)
	if !ok {
		s.refuse(ws, CloseUnknownService, fmt.Sprintf("Unknown service: %s", service))
		return
	}

	claims, err := auth.Verify([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		s.logger.Warnf("rejected %s connection: %v", service, err)
		s.refuse(ws, websocket.ClosePolicyViolation, "Authentication failed")
		return
	}

	// admission control for logs happens here; the handler re-checks per
	// message so a stale connection cannot issue commands either
	if kind == registry.KindLogs && !claims.InAnyGroup("is_admin", "is_api_key") {
		s.refuse(ws, websocket.ClosePolicyViolation, "You don't have permission to access container logs")
		return
	}

	conn, err := s.registry.Register(kind, claims.UserID, claims.Username, claims.Groups, ws)
	if err != nil {
		if errors.Is(err, registry.ErrAlreadyRegistered) {
			s.refuse(ws, websocket.ClosePolicyViolation, "Another connection is already active for this user")
			return
		}
		s.logger.Errorf("registering %s connection for user %d: %v", service, claims.UserID, err)
		s.refuse(ws, websocket.CloseInternalServerErr, "Connection failed")
		return
	}

	s.logger.Infof("user %s (ID: %d) connected to %s", claims.Username, claims.UserID, service)

	ctx := r.Context()
	em := s.emitters[kind]

	defer func() {
		s.registry.Disconnect(kind, claims.UserID)
		if em != nil {
			em.Emit(ctx, events.Event{
				Type:     events.Disconnect,
				Kind:     kind,
				UserID:   claims.UserID,
				Username: claims.Username,
				Groups:   claims.Groups,
			})
		}
		s.logger.Infof("user %s (ID: %d) disconnected from %s", claims.Username, claims.UserID, service)
	}()

	if em != nil {
		em.Emit(ctx, events.Event{
			Type:     events.Connect,
			Kind:     kind,
			UserID:   claims.UserID,
			Username: claims.Username,
			Groups:   claims.Groups,
			Conn:     conn,
		})
	}

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}

		var payload map[string]any
		if err := json.Unmarshal(data, &payload); err != nil {
			if !conn.Closing() {
				_ = conn.Send(protocol.ErrorFrame("Invalid JSON message format"))
			}
			continue
		}

		if em != nil {
			em.Emit(ctx, events.Event{
				Type:     events.Message,
				Kind:     kind,
				UserID:   claims.UserID,
				Username: claims.Username,
				Groups:   claims.Groups,
				Data:     payload,
				Conn:     conn,
			})
		}
	}
}

// refuse sends an error frame followed by a close frame and drops the
// socket. Write failures are ignored, the peer may already be gone.
func (s *Server) refuse(ws *websocket.Conn, code int, message string) {
	if frame, err := json.Marshal(protocol.ErrorFrame(message)); err == nil {
		_ = ws.WriteMessage(websocket.TextMessage, frame)
	}
	_ = ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, message))
	_ = ws.Close()
}
