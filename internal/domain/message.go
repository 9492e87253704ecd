package domain

import "time"

// DeliveryStatus is the lifecycle stage of an outgoing message. It only ever
// moves forward: queued → sent → delivered → read.
type DeliveryStatus string

const (
	StatusQueued    DeliveryStatus = "queued"
	StatusSent      DeliveryStatus = "sent"
	StatusDelivered DeliveryStatus = "delivered"
	StatusRead      DeliveryStatus = "read"
)

var statusRank = map[DeliveryStatus]int{
	StatusQueued:    0,
	StatusSent:      1,
	StatusDelivered: 2,
	StatusRead:      3,
}

// Before reports whether s precedes other in the delivery lifecycle.
func (s DeliveryStatus) Before(other DeliveryStatus) bool {
	return statusRank[s] < statusRank[other]
}

// Attachment is the descriptor the upload subsystem hands back for one file.
// The binary itself never passes through the sync core.
type Attachment struct {
	FileName    string `json:"file_name"`
	StoragePath string `json:"storage_path"`
	Size        int64  `json:"size"`
	MimeType    string `json:"mime_type"`
}

type Message struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversation_id"`
	// Nonce is the client-side correlation token for a message that has no
	// server id yet. The server echoes it back in the send acknowledgment.
	Nonce       string         `json:"nonce,omitempty"`
	Sender      UserSummary    `json:"sender"`
	Receiver    UserSummary    `json:"receiver"`
	Content     string         `json:"content"`
	Attachments []Attachment   `json:"attachments,omitempty"`
	System      bool           `json:"is_system_message,omitempty"`
	Status      DeliveryStatus `json:"status"`
	CreatedAt   time.Time      `json:"created_at"`
}

// Advance moves the message forward in the delivery lifecycle. Backward or
// repeated transitions are rejected, and system messages carry no delivery
// semantics beyond sent.
func (m *Message) Advance(to DeliveryStatus) bool {
	if m.System && StatusSent.Before(to) {
		return false
	}
	if !m.Status.Before(to) {
		return false
	}
	m.Status = to
	return true
}
