package ws

import (
	"encoding/json"
	"time"

	"github.com/anteros-labs/domus/internal/domain"
)

// Event types - Client → Server
const (
	EventTypeRoomJoin    = "room:join"
	EventTypeRoomLeave   = "room:leave"
	EventTypeMessageSend = "message:send"
	EventTypePing        = "ping"
)

// Event types - Server → Client
const (
	EventTypeMessageNew       = "message:new"
	EventTypeMessageReceived  = "message:received" // ack of an own send, carries the confirmed entity
	EventTypeMessageDelivered = "message:delivered"
	EventTypeUserConnected    = "user:connected"
	EventTypeUserDisconnected = "user:disconnected"
	EventTypePresenceState    = "presence:state" // full online snapshot, sent after every (re)connect
	EventTypePong             = "pong"
	EventTypeError            = "error"
)

// Event types - both directions
const (
	EventTypeTyping   = "message:typing"
	EventTypeMarkRead = "message:read"
)

// Event is the base envelope for all channel traffic.
type Event struct {
	Type           string          `json:"type"`
	ConversationID string          `json:"conversation_id,omitempty"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	Timestamp      int64           `json:"ts,omitempty"`
}

// --- Client → Server payloads ---

type RoomJoinPayload struct {
	ConversationIDs []string `json:"conversation_ids"`
}

type RoomLeavePayload struct {
	ConversationID string `json:"conversation_id"`
}

type MessageSendPayload struct {
	ConversationID string              `json:"conversation_id"`
	ReceiverID     string              `json:"receiver_id,omitempty"`
	Content        string              `json:"content"`
	Attachments    []domain.Attachment `json:"attachments,omitempty"`
	Nonce          string              `json:"nonce"`
}

// --- Server → Client payloads ---

// MessagePayload rides on message:new and message:received. The parent
// conversation comes along so a client can list a conversation it has never
// fetched over REST.
type MessagePayload struct {
	Message      domain.Message       `json:"message"`
	Conversation *domain.Conversation `json:"conversation,omitempty"`
	Nonce        string               `json:"nonce,omitempty"`
}

type DeliveredPayload struct {
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id"`
	UserID         string `json:"user_id"`
}

type PresencePayload struct {
	UserID string `json:"user_id"`
}

type PresenceStatePayload struct {
	UserIDs []string `json:"user_ids"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// --- Both directions ---

type TypingPayload struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id,omitempty"`
	UserName       string `json:"user_name,omitempty"`
	IsTyping       bool   `json:"is_typing"`
}

type MarkReadPayload struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id,omitempty"`
}

// NewEvent builds an event with the current timestamp.
func NewEvent(eventType, conversationID string, payload any) (*Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Event{
		Type:           eventType,
		ConversationID: conversationID,
		Payload:        data,
		Timestamp:      time.Now().Unix(),
	}, nil
}
