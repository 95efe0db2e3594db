package events

import (
	"github.com/swecc-uw/swecc-sockets/pkg/registry"
)

// EventType enumerates the connection lifecycle events a service handler
// reacts to.
type EventType string

const (
	Connect    EventType = "connection"
	Message    EventType = "message"
	Disconnect EventType = "disconnect"
)

// Event carries one lifecycle occurrence from the dispatcher (or the MQ
// bridge) to a service's listeners. Ephemeral; valid only for the duration
// of the emission.
type Event struct {
	Type     EventType
	Kind     registry.ServiceKind
	UserID   uint64
	Username string
	Groups   []string

	// Data is the decoded client frame, present for Message events.
	Data map[string]any

	// Conn is the originating connection, nil for Disconnect events raced
	// by eviction.
	Conn *registry.Conn
}
