package handlers

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/swecc-uw/swecc-sockets/pkg/docker"
	"github.com/swecc-uw/swecc-sockets/pkg/events"
	"github.com/swecc-uw/swecc-sockets/pkg/protocol"
	"github.com/swecc-uw/swecc-sockets/pkg/registry"
)

// ContainerLogsHandler streams container logs to admin connections. Each
// user has at most one running stream; starting a second cancels the first
// and waits for it to wind down before the new one begins. Disconnect drives
// the stop path automatically.
type ContainerLogsHandler struct {
	base

	streamer docker.LogStreamer

	mu      sync.Mutex
	running map[uint64]*logStream
}

type logStream struct {
	container string
	cancel    context.CancelFunc
	done      chan struct{}
}

func NewContainerLogsHandler(reg *registry.Registry, streamer docker.LogStreamer) *ContainerLogsHandler {
	return &ContainerLogsHandler{
		base:     newBase("Logs", reg),
		streamer: streamer,
		running:  make(map[uint64]*logStream),
	}
}

func (h *ContainerLogsHandler) HandleMessage(ctx context.Context, ev events.Event) {
	claims := groupSet(ev.Groups)
	if !claims["is_admin"] && !claims["is_api_key"] {
		h.safeSend(ev.Conn, protocol.ErrorFrame("You don't have permission to access container logs"))
		return
	}

	msgType := stringField(ev.Data, "type")
	containerName := stringField(ev.Data, "container_name")

	switch {
	case msgType == "start_logs" && containerName != "":
		h.startLogs(ev.UserID, containerName, ev.Conn)
	case msgType == "stop_logs":
		h.stopLogs(ev.UserID)
		h.safeSend(ev.Conn, protocol.Frame{
			Type:    protocol.TypeLogsStopped,
			Message: "Stopped streaming logs",
		})
	default:
		h.safeSend(ev.Conn, protocol.ErrorFrame(
			"Unknown logs command. Available commands: start_logs, stop_logs"))
	}
}

func (h *ContainerLogsHandler) HandleDisconnect(ctx context.Context, ev events.Event) {
	h.stopLogs(ev.UserID)
	h.logger.Infof("user %s (ID: %d) disconnected", ev.Username, ev.UserID)
}

// startLogs supersedes any running stream for the user, opens the runtime
// stream and spawns the reader task. The logs_started confirmation follows
// the task spawn.
func (h *ContainerLogsHandler) startLogs(userID uint64, containerName string, conn *registry.Conn) {
	h.stopLogs(userID)

	// the stream outlives the message emission, so it gets its own context
	streamCtx, cancel := context.WithCancel(context.Background())

	rc, err := h.streamer.StreamLogs(streamCtx, containerName)
	if err != nil {
		cancel()
		if errors.Is(err, docker.ErrContainerNotFound) {
			h.safeSend(conn, protocol.ErrorFrame(fmt.Sprintf("Container '%s' not found", containerName)))
		} else {
			h.logger.Errorf("starting logs for %s: %v", containerName, err)
			h.safeSend(conn, protocol.ErrorFrame(fmt.Sprintf("Error starting logs: %v", err)))
		}
		return
	}

	ls := &logStream{
		container: containerName,
		cancel:    cancel,
		done:      make(chan struct{}),
	}

	h.mu.Lock()
	h.running[userID] = ls
	h.mu.Unlock()

	go h.stream(streamCtx, ls, userID, rc, conn)

	h.safeSend(conn, protocol.Frame{
		Type:    protocol.TypeLogsStarted,
		Message: fmt.Sprintf("Started streaming logs for container: %s", containerName),
	})

	h.logger.Infof("started log streaming for container %s for user %d", containerName, userID)
}

// stopLogs cancels the user's stream, waits for the reader task to finish
// and removes the entry. A no-op when the user has no stream.
func (h *ContainerLogsHandler) stopLogs(userID uint64) {
	h.mu.Lock()
	ls := h.running[userID]
	delete(h.running, userID)
	h.mu.Unlock()

	if ls == nil {
		return
	}

	ls.cancel()
	<-ls.done
	h.logger.Infof("stopped log streaming for user %d", userID)
}

// stream reads the log stream line by line and forwards each complete line
// as a log_line frame. Invalid UTF-8 is replaced, the trailing buffer is
// flushed at stream end, and a send failure is terminal for the stream.
func (h *ContainerLogsHandler) stream(ctx context.Context, ls *logStream, userID uint64, rc io.ReadCloser, conn *registry.Conn) {
	defer close(ls.done)
	// a stream that ends on its own still owns its context; releasing it
	// here lets the ctx watcher below exit on every path
	defer ls.cancel()
	defer func() {
		h.mu.Lock()
		if h.running[userID] == ls {
			delete(h.running, userID)
		}
		h.mu.Unlock()
	}()
	defer func() { _ = rc.Close() }()

	// cancellation must release the runtime stream even while a read blocks
	go func() {
		<-ctx.Done()
		_ = rc.Close()
	}()

	reader := bufio.NewReader(rc)
	for {
		line, err := reader.ReadString('\n')
		if line != "" {
			text := strings.ToValidUTF8(strings.TrimRight(line, "\n"), "�")
			if sendErr := conn.Send(protocol.Frame{Type: protocol.TypeLogLine, Message: text}); sendErr != nil {
				h.logger.Errorf("sending log line to user %d: %v", userID, sendErr)
				return
			}
		}
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, io.EOF) {
				h.logger.Errorf("log stream for %s ended: %v", ls.container, err)
				h.safeSend(conn, protocol.ErrorFrame(fmt.Sprintf("Error in log streaming: %v", err)))
			}
			return
		}
	}
}

// Running reports the container a user is streaming, for introspection in
// tests.
func (h *ContainerLogsHandler) Running(userID uint64) (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ls, ok := h.running[userID]
	if !ok {
		return "", false
	}
	return ls.container, true
}

func groupSet(groups []string) map[string]bool {
	set := make(map[string]bool, len(groups))
	for _, g := range groups {
		set[g] = true
	}
	return set
}
