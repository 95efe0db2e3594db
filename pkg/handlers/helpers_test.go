package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/swecc-uw/swecc-sockets/pkg/events"
	"github.com/swecc-uw/swecc-sockets/pkg/protocol"
	"github.com/swecc-uw/swecc-sockets/pkg/registry"
)

// fakeSocket records frames written to it; optionally fails writes.
type fakeSocket struct {
	mu     sync.Mutex
	frames []protocol.Frame
	failed bool
}

func (s *fakeSocket) WriteMessage(messageType int, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failed {
		return errors.New("write on broken socket")
	}
	var f protocol.Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	s.frames = append(s.frames, f)
	return nil
}

func (s *fakeSocket) Close() error { return nil }

func (s *fakeSocket) fail() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed = true
}

func (s *fakeSocket) sent() []protocol.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]protocol.Frame, len(s.frames))
	copy(out, s.frames)
	return out
}

func (s *fakeSocket) framesOfType(t protocol.MessageType) []protocol.Frame {
	var out []protocol.Frame
	for _, f := range s.sent() {
		if f.Type == t {
			out = append(out, f)
		}
	}
	return out
}

// connect registers a fake connection for the given kind.
func connect(t *testing.T, reg *registry.Registry, kind registry.ServiceKind, userID uint64, username string, groups ...string) (*registry.Conn, *fakeSocket) {
	t.Helper()
	sock := &fakeSocket{}
	conn, err := reg.Register(kind, userID, username, groups, sock)
	if err != nil {
		t.Fatalf("register user %d: %v", userID, err)
	}
	return conn, sock
}

// messageEvent builds a Message event the way the dispatcher does.
func messageEvent(conn *registry.Conn, data map[string]any) events.Event {
	return events.Event{
		Type:     events.Message,
		Kind:     conn.Kind,
		UserID:   conn.UserID,
		Username: conn.Username,
		Groups:   conn.Groups,
		Data:     data,
		Conn:     conn,
	}
}

func connectEvent(conn *registry.Conn) events.Event {
	return events.Event{
		Type:     events.Connect,
		Kind:     conn.Kind,
		UserID:   conn.UserID,
		Username: conn.Username,
		Groups:   conn.Groups,
		Conn:     conn,
	}
}

func disconnectEvent(conn *registry.Conn) events.Event {
	return events.Event{
		Type:     events.Disconnect,
		Kind:     conn.Kind,
		UserID:   conn.UserID,
		Username: conn.Username,
		Groups:   conn.Groups,
	}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

var testCtx = context.Background()
