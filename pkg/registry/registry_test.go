package registry

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/swecc-uw/swecc-sockets/pkg/protocol"
)

// fakeSocket records written frames and can be told to fail.
type fakeSocket struct {
	mu     sync.Mutex
	frames []protocol.Frame
	failed bool
	closed bool
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

func (s *fakeSocket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSocket) sent() []protocol.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]protocol.Frame, len(s.frames))
	copy(out, s.frames)
	return out
}

func TestRegisterAndLookup(t *testing.T) {
	r := New()

	conn, err := r.Register(KindEcho, 1, "alice", nil, &fakeSocket{})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	got := r.Lookup(KindEcho, 1)
	if got == nil || got.ID != conn.ID {
		t.Fatalf("lookup returned %v, want the registered connection", got)
	}
	if r.Lookup(KindLogs, 1) != nil {
		t.Errorf("lookup must be scoped by kind")
	}
}

func TestDuplicateRegisterRejected(t *testing.T) {
	r := New()

	first, err := r.Register(KindEcho, 1, "alice", nil, &fakeSocket{})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	if _, err := r.Register(KindEcho, 1, "alice", nil, &fakeSocket{}); !errors.Is(err, ErrAlreadyRegistered) {
		t.Fatalf("expected ErrAlreadyRegistered, got %v", err)
	}

	// first connection remains authoritative
	if got := r.Lookup(KindEcho, 1); got == nil || got.ID != first.ID {
		t.Fatalf("existing entry was disturbed by duplicate register")
	}
}

func TestDisconnectIsIdempotent(t *testing.T) {
	r := New()

	conn, err := r.Register(KindRoom, 7, "bob", nil, &fakeSocket{})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	r.Disconnect(KindRoom, 7)
	r.Disconnect(KindRoom, 7)

	if r.Lookup(KindRoom, 7) != nil {
		t.Errorf("lookup after disconnect must return nil")
	}
	if !conn.Closing() {
		t.Errorf("disconnected connection must be marked closing")
	}
	if err := conn.Send(protocol.SystemFrame("late")); !errors.Is(err, ErrConnClosing) {
		t.Errorf("send to closing connection must fail, got %v", err)
	}
}

func TestReRegisterDropsClosingID(t *testing.T) {
	r := New()

	if _, err := r.Register(KindEcho, 1, "alice", nil, &fakeSocket{}); err != nil {
		t.Fatalf("register: %v", err)
	}
	r.Disconnect(KindEcho, 1)

	conn, err := r.Register(KindEcho, 1, "alice", nil, &fakeSocket{})
	if err != nil {
		t.Fatalf("re-register after disconnect: %v", err)
	}
	if got := r.Lookup(KindEcho, 1); got == nil || got.ID != conn.ID {
		t.Fatalf("new connection not dispatchable after re-register")
	}
}

func TestEvictOnlyMatchingConn(t *testing.T) {
	r := New()

	stale, err := r.Register(KindEcho, 1, "alice", nil, &fakeSocket{})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	r.Disconnect(KindEcho, 1)

	fresh, err := r.Register(KindEcho, 1, "alice", nil, &fakeSocket{})
	if err != nil {
		t.Fatalf("re-register: %v", err)
	}

	// evicting the stale borrow must not remove the fresh connection
	r.Evict(stale)
	if got := r.Lookup(KindEcho, 1); got == nil || got.ID != fresh.ID {
		t.Fatalf("fresh connection lost after stale evict")
	}

	r.Evict(fresh)
	if r.Lookup(KindEcho, 1) != nil {
		t.Errorf("evicted connection still dispatchable")
	}
}

func TestSendWritesTextFrame(t *testing.T) {
	r := New()
	sock := &fakeSocket{}

	conn, err := r.Register(KindEcho, 1, "alice", nil, sock)
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	if err := conn.Send(protocol.SystemFrame("hello")); err != nil {
		t.Fatalf("send: %v", err)
	}

	frames := sock.sent()
	if len(frames) != 1 || frames[0].Type != protocol.TypeSystem || frames[0].Message != "hello" {
		t.Fatalf("unexpected frames: %+v", frames)
	}
}

func TestActiveUsersSnapshot(t *testing.T) {
	r := New()

	if _, err := r.Register(KindEcho, 1, "alice", nil, &fakeSocket{}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := r.Register(KindRoom, 1, "alice", nil, &fakeSocket{}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := r.Register(KindRoom, 2, "bob", nil, &fakeSocket{}); err != nil {
		t.Fatalf("register: %v", err)
	}

	users := r.ActiveUsers()
	if len(users) != 2 {
		t.Fatalf("expected 2 distinct users, got %v", users)
	}
}

func TestKindForService(t *testing.T) {
	cases := map[string]ServiceKind{
		"echo":     KindEcho,
		"logs":     KindLogs,
		"resume":   KindResume,
		"presence": KindRoom,
		"chat":     KindRoom,
	}
	for service, want := range cases {
		got, ok := KindForService(service)
		if !ok || got != want {
			t.Errorf("KindForService(%q) = %v, %v; want %v, true", service, got, ok, want)
		}
	}
	if _, ok := KindForService("ghost"); ok {
		t.Errorf("unknown service must not resolve")
	}
}
