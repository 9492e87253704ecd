package domain

import "time"

type ConversationKind string

const (
	KindDirect   ConversationKind = "direct"
	KindGroup    ConversationKind = "group"
	KindUnit     ConversationKind = "unit"
	KindBuilding ConversationKind = "building"
)

// UnreadCounts maps user id → unread message count. This is the one and only
// representation of unread state; missing keys read as zero.
type UnreadCounts map[string]int

func (u UnreadCounts) Get(userID string) int {
	return u[userID]
}

func (u UnreadCounts) Bump(userID string) {
	u[userID]++
}

func (u UnreadCounts) Reset(userID string) {
	u[userID] = 0
}

type Conversation struct {
	ID            string           `json:"id"`
	Kind          ConversationKind `json:"kind"`
	Participants  []UserSummary    `json:"participants"`
	LastMessage   *Message         `json:"last_message,omitempty"`
	LastMessageAt time.Time        `json:"last_message_at"`
	Unread        UnreadCounts     `json:"unread_counts"`
}

// HasParticipant reports whether userID takes part in the conversation.
func (c *Conversation) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p.ID == userID {
			return true
		}
	}
	return false
}

// Counterpart returns the other party of a direct conversation.
func (c *Conversation) Counterpart(userID string) (UserSummary, bool) {
	if c.Kind != KindDirect {
		return UserSummary{}, false
	}
	for _, p := range c.Participants {
		if p.ID != userID {
			return p, true
		}
	}
	return UserSummary{}, false
}
