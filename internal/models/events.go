package models

import "time"

// Client operations carried in a ClientFrame.
const (
	OpJoin       = "join"
	OpLeave      = "leave"
	OpSend       = "send"
	OpTyping     = "typing"
	OpStopTyping = "stop_typing"
)

// Server event types carried in a ServerEvent.
const (
	EventAck      = "ack"
	EventMessage  = "message"
	EventPresence = "presence"
	EventTyping   = "typing"
)

// Presence event kinds.
const (
	PresenceJoined = "joined"
	PresenceLeft   = "left"
)

// Error codes returned in failed acks.
const (
	ErrCodeInvalidFrame       = "invalid_frame"
	ErrCodeAuthorization      = "authorization_denied"
	ErrCodeProjectNotFound    = "project_not_found"
	ErrCodeNotInRoom          = "not_in_room"
	ErrCodeEmptyMessage       = "empty_message"
	ErrCodeMessageTooLong     = "message_too_long"
	ErrCodeRoomUnavailable    = "room_unavailable"
	ErrCodePersistenceFailure = "persistence_failure"
)

// ClientFrame is a client-to-server command.
type ClientFrame struct {
	Op        string `json:"op"`
	ProjectID string `json:"project_id,omitempty"`
	Body      string `json:"body,omitempty"`
}

// ServerEvent is a server-to-client event. Every client frame is
// acknowledged to the calling connection with an EventAck; broadcasts go
// to all current room members.
type ServerEvent struct {
	Type string `json:"type"`

	// Ack fields
	Op      string `json:"op,omitempty"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`

	// Message broadcast / send ack
	Message   *Message `json:"message,omitempty"`
	MessageID string   `json:"message_id,omitempty"`
	Seq       int64    `json:"seq,omitempty"`

	// Presence / typing
	UserID   string `json:"user_id,omitempty"`
	UserName string `json:"user_name,omitempty"`
	Presence string `json:"presence,omitempty"`
	IsTyping bool   `json:"is_typing,omitempty"`

	// Join ack: who is currently in the room
	Members []Identity `json:"members,omitempty"`

	Timestamp time.Time `json:"timestamp,omitempty"`
}
