package handlers

// Package handlers implements the per-service protocol logic. Each handler
// exposes three entry points (connect, message, disconnect) and is wired to
// its service's emitter once at startup via Subscribe; constructors have no
// subscription side effects.

import (
	"context"
	"errors"
	"fmt"

	"github.com/swecc-uw/swecc-sockets/pkg/events"
	"github.com/swecc-uw/swecc-sockets/pkg/log"
	"github.com/swecc-uw/swecc-sockets/pkg/protocol"
	"github.com/swecc-uw/swecc-sockets/pkg/registry"
)

// Handler is the contract every service handler implements.
type Handler interface {
	HandleConnect(ctx context.Context, ev events.Event)
	HandleMessage(ctx context.Context, ev events.Event)
	HandleDisconnect(ctx context.Context, ev events.Event)
}

// Subscribe registers the handler's entry points on the service emitter.
func Subscribe(em *events.Emitter, h Handler) {
	em.On(events.Connect, h.HandleConnect)
	em.On(events.Message, h.HandleMessage)
	em.On(events.Disconnect, h.HandleDisconnect)
}

// base carries the pieces shared by all handlers: the registry for lookups
// and eviction, a named logger, and the welcome frame on connect.
type base struct {
	serviceName string
	reg         *registry.Registry
	logger      *log.Logger
}

func newBase(serviceName string, reg *registry.Registry) base {
	return base{
		serviceName: serviceName,
		reg:         reg,
		logger:      log.ForService(serviceName),
	}
}

// HandleConnect sends the service welcome frame.
func (b *base) HandleConnect(ctx context.Context, ev events.Event) {
	b.safeSend(ev.Conn, protocol.SystemFrame(
		fmt.Sprintf("%s service: Connected as %s", b.serviceName, ev.Username)))
	b.logger.Infof("user %s (ID: %d) connected", ev.Username, ev.UserID)
}

// HandleMessage logs the frame. Shadowed by every handler that accepts
// client commands; the resume service keeps this default since its frames
// originate from the broker, not the client.
func (b *base) HandleMessage(ctx context.Context, ev events.Event) {
	b.logger.Infof("message from %s (ID: %d): %v", ev.Username, ev.UserID, ev.Data)
}

// HandleDisconnect logs the departure. Handlers with per-user state shadow
// this with their own cleanup.
func (b *base) HandleDisconnect(ctx context.Context, ev events.Event) {
	b.logger.Infof("user %s (ID: %d) disconnected", ev.Username, ev.UserID)
}

// safeSend delivers a frame best effort. Send failures are logged and the
// dead socket is evicted from the registry; a connection already marked
// closing is simply skipped.
func (b *base) safeSend(conn *registry.Conn, frame protocol.Frame) {
	if conn == nil {
		return
	}
	if err := conn.Send(frame); err != nil {
		if errors.Is(err, registry.ErrConnClosing) {
			b.logger.Debugf("dropped %s frame for user %d: connection closing", frame.Type, conn.UserID)
			return
		}
		b.logger.Errorf("sending %s frame to user %d: %v", frame.Type, conn.UserID, err)
		b.reg.Evict(conn)
	}
}

// stringField extracts an optional string field from a decoded client frame.
func stringField(data map[string]any, key string) string {
	if data == nil {
		return ""
	}
	s, _ := data[key].(string)
	return s
}
