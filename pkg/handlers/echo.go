package handlers

import (
	"context"

	"github.com/swecc-uw/swecc-sockets/pkg/events"
	"github.com/swecc-uw/swecc-sockets/pkg/protocol"
	"github.com/swecc-uw/swecc-sockets/pkg/registry"
)

// EchoHandler reflects message content back to the sender. It is the
// reference implementation of the handler contract.
type EchoHandler struct {
	base
}

func NewEchoHandler(reg *registry.Registry) *EchoHandler {
	return &EchoHandler{base: newBase("Echo", reg)}
}

func (h *EchoHandler) HandleMessage(ctx context.Context, ev events.Event) {
	content := stringField(ev.Data, "content")
	h.logger.Infof("message from %s (ID: %d): %s", ev.Username, ev.UserID, content)

	h.safeSend(ev.Conn, protocol.Frame{
		Type:     protocol.TypeEcho,
		UserID:   ev.UserID,
		Username: ev.Username,
		Message:  content,
	})
}
