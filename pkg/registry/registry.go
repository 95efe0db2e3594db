package registry

// Package registry tracks live WebSocket connections keyed by
// (service kind, user id). It is the authoritative owner of connection
// references: handlers borrow *Conn values and must tolerate them turning
// closing underneath. A closing id is retained until the next Register for
// the same key so that sends racing a disconnect are suppressed rather than
// delivered to a dead socket.

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/swecc-uw/swecc-sockets/pkg/log"
	"github.com/swecc-uw/swecc-sockets/pkg/protocol"
)

// ServiceKind identifies which logical service a connection belongs to.
type ServiceKind string

const (
	KindEcho   ServiceKind = "echo"
	KindLogs   ServiceKind = "logs"
	KindRoom   ServiceKind = "room"
	KindResume ServiceKind = "resume"
)

// KindForService maps a route service name to its kind. The presence and
// chat endpoints share the Room kind (and therefore one handler and one room
// state).
func KindForService(service string) (ServiceKind, bool) {
	switch service {
	case "echo":
		return KindEcho, true
	case "logs":
		return KindLogs, true
	case "resume":
		return KindResume, true
	case "presence", "chat":
		return KindRoom, true
	default:
		return "", false
	}
}

// Socket is the transport surface a connection writes to. Satisfied by
// *websocket.Conn; tests substitute fakes.
type Socket interface {
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// ErrAlreadyRegistered is returned when a (kind, user) key is already live.
// The caller must close the new socket; the existing entry is untouched.
var ErrAlreadyRegistered = errors.New("connection already registered")

// ErrConnClosing is returned by Send once the connection has been marked
// closing.
var ErrConnClosing = errors.New("connection closing")

// Conn is one live authenticated connection.
type Conn struct {
	ID       string
	Kind     ServiceKind
	UserID   uint64
	Username string
	Groups   []string

	socket  Socket
	writeMu sync.Mutex
	closing atomic.Bool
}

// Closing reports whether the connection has been marked for eviction.
func (c *Conn) Closing() bool {
	return c.closing.Load()
}

// Send marshals the frame and writes it as a text message. Writes on one
// connection are serialized; a frame is never interleaved with another.
func (c *Conn) Send(frame protocol.Frame) error {
	if c.closing.Load() {
		return ErrConnClosing
	}

	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("marshaling frame: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.closing.Load() {
		return ErrConnClosing
	}
	return c.socket.WriteMessage(websocket.TextMessage, data)
}

// Close closes the underlying socket.
func (c *Conn) Close() error {
	return c.socket.Close()
}

type connKey struct {
	kind ServiceKind
	user uint64
}

// Registry is the process-wide connection table.
type Registry struct {
	mu           sync.Mutex
	active       map[connKey]*Conn
	closingIDs   map[string]struct{}
	closingByKey map[connKey]string

	logger *log.Logger
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		active:       make(map[connKey]*Conn),
		closingIDs:   make(map[string]struct{}),
		closingByKey: make(map[connKey]string),
		logger:       log.ForService("registry"),
	}
}

// Register inserts a connection for (kind, user). A duplicate key returns
// ErrAlreadyRegistered without touching the existing entry. Registration
// drops any closing id retained for the same key.
func (r *Registry) Register(kind ServiceKind, userID uint64, username string, groups []string, socket Socket) (*Conn, error) {
	key := connKey{kind: kind, user: userID}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.active[key]; exists {
		r.logger.Warnf("duplicate connection for user %d on %s service", userID, kind)
		return nil, ErrAlreadyRegistered
	}

	if staleID, ok := r.closingByKey[key]; ok {
		delete(r.closingIDs, staleID)
		delete(r.closingByKey, key)
	}

	conn := &Conn{
		ID:       uuid.NewString(),
		Kind:     kind,
		UserID:   userID,
		Username: username,
		Groups:   groups,
		socket:   socket,
	}
	r.active[key] = conn

	r.logger.Infof("user %d (%s) connected to %s service, %d connections total",
		userID, username, kind, len(r.active))
	return conn, nil
}

// Lookup returns the live connection for (kind, user), or nil when absent or
// closing.
func (r *Registry) Lookup(kind ServiceKind, userID uint64) *Conn {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.active[connKey{kind: kind, user: userID}]
	if !ok {
		return nil
	}
	if _, closing := r.closingIDs[conn.ID]; closing || conn.Closing() {
		return nil
	}
	return conn
}

// Disconnect marks the connection closing and removes it from the live map.
// Idempotent.
func (r *Registry) Disconnect(kind ServiceKind, userID uint64) {
	key := connKey{kind: kind, user: userID}

	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.active[key]
	if !ok {
		return
	}

	conn.closing.Store(true)
	delete(r.active, key)
	r.closingIDs[conn.ID] = struct{}{}
	r.closingByKey[key] = conn.ID

	r.logger.Infof("user %d disconnected from %s service, %d connections total",
		userID, kind, len(r.active))
}

// Evict removes a connection after a send failure. A no-op when a different
// connection has since taken the key.
func (r *Registry) Evict(conn *Conn) {
	key := connKey{kind: conn.Kind, user: conn.UserID}

	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.active[key]
	if !ok || current.ID != conn.ID {
		return
	}

	conn.closing.Store(true)
	delete(r.active, key)
	r.closingIDs[conn.ID] = struct{}{}
	r.closingByKey[key] = conn.ID

	r.logger.Warnf("evicted dead connection for user %d on %s service", conn.UserID, conn.Kind)
}

// ActiveUsers returns a snapshot of user ids with at least one live
// connection, across all kinds.
func (r *Registry) ActiveUsers() []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[uint64]struct{}, len(r.active))
	users := make([]uint64, 0, len(r.active))
	for key := range r.active {
		if _, dup := seen[key.user]; dup {
			continue
		}
		seen[key.user] = struct{}{}
		users = append(users, key.user)
	}
	return users
}

// Count returns the number of live connections.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}
