package handlers

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/swecc-uw/swecc-sockets/pkg/events"
	"github.com/swecc-uw/swecc-sockets/pkg/protocol"
	"github.com/swecc-uw/swecc-sockets/pkg/registry"
)

// RoomHandler implements presence and chat on shared room state. The two
// indices (room -> members, user -> rooms) are symmetric and always mutated
// together under one mutex; readers never observe a half-updated pair.
type RoomHandler struct {
	base

	mu        sync.Mutex
	rooms     map[string]map[uint64]string // room id -> user id -> username
	userRooms map[uint64]map[string]struct{}
}

func NewRoomHandler(reg *registry.Registry) *RoomHandler {
	return &RoomHandler{
		base:      newBase("Room", reg),
		rooms:     make(map[string]map[uint64]string),
		userRooms: make(map[uint64]map[string]struct{}),
	}
}

func (h *RoomHandler) HandleMessage(ctx context.Context, ev events.Event) {
	msgType := stringField(ev.Data, "type")
	roomID := stringField(ev.Data, "room_id")
	content := stringField(ev.Data, "content")

	switch {
	case msgType == "join_room" && roomID != "":
		h.joinRoom(ev.UserID, ev.Username, roomID, ev.Conn)
	case msgType == "leave_room" && roomID != "":
		h.leaveRoom(ev.UserID, ev.Username, roomID)
	case msgType == "chat_message" && roomID != "":
		h.chatMessage(ev.UserID, ev.Username, roomID, content)
	case msgType == "list_rooms":
		h.listRooms(ev.Conn)
	case msgType == "get_room_users" && roomID != "":
		h.roomUsers(ev.Conn, roomID)
	default:
		h.safeSend(ev.Conn, protocol.ErrorFrame(
			"Unknown room command. Available commands: join_room, leave_room, chat_message, list_rooms, get_room_users"))
	}
}

// HandleDisconnect runs the leave path for every room the user was in, then
// forgets the user.
func (h *RoomHandler) HandleDisconnect(ctx context.Context, ev events.Event) {
	h.mu.Lock()
	joined := make([]string, 0, len(h.userRooms[ev.UserID]))
	for roomID := range h.userRooms[ev.UserID] {
		joined = append(joined, roomID)
	}
	h.mu.Unlock()

	for _, roomID := range joined {
		h.leaveRoom(ev.UserID, ev.Username, roomID)
	}

	h.mu.Lock()
	delete(h.userRooms, ev.UserID)
	h.mu.Unlock()

	h.logger.Infof("user %s (ID: %d) disconnected", ev.Username, ev.UserID)
}

func (h *RoomHandler) joinRoom(userID uint64, username, roomID string, conn *registry.Conn) {
	h.mu.Lock()
	if h.rooms[roomID] == nil {
		h.rooms[roomID] = make(map[uint64]string)
	}
	h.rooms[roomID][userID] = username

	if h.userRooms[userID] == nil {
		h.userRooms[userID] = make(map[string]struct{})
	}
	h.userRooms[userID][roomID] = struct{}{}
	h.mu.Unlock()

	h.safeSend(conn, protocol.Frame{
		Type:    protocol.TypeRoomJoined,
		RoomID:  roomID,
		Message: fmt.Sprintf("Joined room %s", roomID),
	})

	h.broadcastToRoom(roomID, protocol.Frame{
		Type:     protocol.TypeChatMessage,
		RoomID:   roomID,
		Username: "System",
		Message:  fmt.Sprintf("%s has joined the room", username),
	}, userID)

	h.broadcastPresence(roomID)

	h.logger.Infof("user %s (ID: %d) joined room %s", username, userID, roomID)
}

func (h *RoomHandler) leaveRoom(userID uint64, username, roomID string) {
	h.mu.Lock()
	members, exists := h.rooms[roomID]
	if !exists {
		h.mu.Unlock()
		return
	}
	if _, member := members[userID]; !member {
		h.mu.Unlock()
		return
	}

	delete(members, userID)
	if set := h.userRooms[userID]; set != nil {
		delete(set, roomID)
	}

	empty := len(members) == 0
	if empty {
		delete(h.rooms, roomID)
	}
	h.mu.Unlock()

	if !empty {
		h.broadcastPresence(roomID)
		h.broadcastToRoom(roomID, protocol.Frame{
			Type:     protocol.TypeChatMessage,
			RoomID:   roomID,
			Username: "System",
			Message:  fmt.Sprintf("%s has left the room", username),
		}, 0)
	}

	h.safeSend(h.reg.Lookup(registry.KindRoom, userID), protocol.Frame{
		Type:    protocol.TypeRoomLeft,
		RoomID:  roomID,
		Message: fmt.Sprintf("Left room %s", roomID),
	})

	h.logger.Infof("user %s (ID: %d) left room %s", username, userID, roomID)
}

func (h *RoomHandler) chatMessage(userID uint64, username, roomID, content string) {
	if strings.TrimSpace(content) == "" {
		return
	}

	h.mu.Lock()
	members := h.rooms[roomID]
	_, member := members[userID]
	h.mu.Unlock()

	if !member {
		h.safeSend(h.reg.Lookup(registry.KindRoom, userID),
			protocol.ErrorFrame(fmt.Sprintf("You are not in chat room %s", roomID)))
		return
	}

	h.broadcastToRoom(roomID, protocol.Frame{
		Type:     protocol.TypeChatMessage,
		RoomID:   roomID,
		UserID:   userID,
		Username: username,
		Message:  content,
	}, 0)

	h.logger.Debugf("chat message from %s in room %s: %s", username, roomID, content)
}

func (h *RoomHandler) listRooms(conn *registry.Conn) {
	h.mu.Lock()
	rooms := make([]any, 0, len(h.rooms))
	for roomID, members := range h.rooms {
		rooms = append(rooms, map[string]any{
			"id":         roomID,
			"user_count": len(members),
		})
	}
	h.mu.Unlock()

	h.safeSend(conn, protocol.Frame{
		Type: protocol.TypeRoomList,
		Data: map[string]any{"rooms": rooms},
	})
}

func (h *RoomHandler) roomUsers(conn *registry.Conn, roomID string) {
	h.mu.Lock()
	members, exists := h.rooms[roomID]
	users := memberList(members)
	h.mu.Unlock()

	if !exists {
		h.safeSend(conn, protocol.ErrorFrame(fmt.Sprintf("Room %s does not exist", roomID)))
		return
	}

	h.safeSend(conn, protocol.Frame{
		Type: protocol.TypeRoomUsers,
		Data: map[string]any{
			"room_id": roomID,
			"users":   users,
		},
	})
}

// broadcastPresence sends the current member list to every user in the room.
func (h *RoomHandler) broadcastPresence(roomID string) {
	h.mu.Lock()
	members := h.rooms[roomID]
	count := len(members)
	users := memberList(members)
	h.mu.Unlock()

	if count == 0 {
		return
	}

	h.broadcastToRoom(roomID, protocol.Frame{
		Type:   protocol.TypePresenceUpdate,
		RoomID: roomID,
		Data: map[string]any{
			"user_count": count,
			"users":      users,
		},
	}, 0)
}

// broadcastToRoom fans a frame out to every member concurrently, resolving
// sockets through the registry. excludeUserID 0 excludes nobody (user ids
// are positive). Per-socket failures are isolated in safeSend.
func (h *RoomHandler) broadcastToRoom(roomID string, frame protocol.Frame, excludeUserID uint64) {
	h.mu.Lock()
	targets := make([]uint64, 0, len(h.rooms[roomID]))
	for userID := range h.rooms[roomID] {
		if userID != excludeUserID {
			targets = append(targets, userID)
		}
	}
	h.mu.Unlock()

	var wg sync.WaitGroup
	for _, userID := range targets {
		conn := h.reg.Lookup(registry.KindRoom, userID)
		if conn == nil {
			continue
		}
		wg.Add(1)
		go func(c *registry.Conn) {
			defer wg.Done()
			h.safeSend(c, frame)
		}(conn)
	}
	wg.Wait()
}

// memberList renders members as presence entries, ordered by user id.
func memberList(members map[uint64]string) []any {
	ids := make([]uint64, 0, len(members))
	for id := range members {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	users := make([]any, 0, len(ids))
	for _, id := range ids {
		users = append(users, map[string]any{
			"id":       id,
			"username": members[id],
		})
	}
	return users
}
