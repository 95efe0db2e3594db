package protocol

// Package protocol defines the JSON envelope exchanged with WebSocket
// clients. Every server frame carries a type plus whichever optional fields
// that type needs; absent fields are omitted on the wire. Unknown fields on
// ingress are ignored by the dispatcher's generic decode.

// MessageType enumerates the frame types the gateway emits.
type MessageType string

const (
	TypeSystem MessageType = "system"
	TypeError  MessageType = "error"
	TypeEcho   MessageType = "echo"

	TypeLogLine     MessageType = "log_line"
	TypeLogsStarted MessageType = "logs_started"
	TypeLogsStopped MessageType = "logs_stopped"

	TypeRoomJoined     MessageType = "room_joined"
	TypeRoomLeft       MessageType = "room_left"
	TypePresenceUpdate MessageType = "presence_update"
	TypeRoomList       MessageType = "room_list"
	TypeRoomUsers      MessageType = "room_users"
	TypeChatMessage    MessageType = "chat_message"

	TypeResumeReviewed MessageType = "resume_reviewed"
)

// Frame is the wire envelope. Only Type is required.
type Frame struct {
	Type     MessageType    `json:"type"`
	Message  string         `json:"message,omitempty"`
	UserID   uint64         `json:"user_id,omitempty"`
	Username string         `json:"username,omitempty"`
	RoomID   string         `json:"room_id,omitempty"`
	Data     map[string]any `json:"data,omitempty"`
}

// SystemFrame builds a system notice.
func SystemFrame(message string) Frame {
	return Frame{Type: TypeSystem, Message: message}
}

// ErrorFrame builds an error notice.
func ErrorFrame(message string) Frame {
	return Frame{Type: TypeError, Message: message}
}
