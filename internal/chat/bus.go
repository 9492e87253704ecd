package chat

import (
	"sync"

	"github.com/anteros-labs/domus/internal/domain"
)

// Notification is a typed event published by the sync core. Subscribers
// (badge counters, views, the CLI) switch on the concrete type.
type Notification interface{ notification() }

type ConnectionChanged struct {
	Connected bool
}

// ConversationsChanged means the list membership or ordering changed.
type ConversationsChanged struct{}

// UnreadChanged carries the current user's unread count for one conversation.
type UnreadChanged struct {
	ConversationID string
	Unread         int
}

type MessageAppended struct {
	ConversationID string
	Message        domain.Message
}

// StreamReplaced means the open stream's history was (re)loaded wholesale.
type StreamReplaced struct {
	ConversationID string
}

type MessageStatusChanged struct {
	ConversationID string
	MessageID      string
	Status         domain.DeliveryStatus
}

// TypingChanged carries the full typing set for one conversation.
type TypingChanged struct {
	ConversationID string
	UserIDs        []string
}

type PresenceChanged struct {
	UserID string
	Online bool
}

func (ConnectionChanged) notification()     {}
func (ConversationsChanged) notification()  {}
func (UnreadChanged) notification()         {}
func (MessageAppended) notification()       {}
func (StreamReplaced) notification()        {}
func (MessageStatusChanged) notification()  {}
func (TypingChanged) notification()         {}
func (PresenceChanged) notification()       {}

const subscriberBufSize = 64

// Bus fans core notifications out to subscribers. A subscriber that stops
// draining loses notifications rather than stalling the event loop.
type Bus struct {
	mu   sync.Mutex
	subs map[int]chan Notification
	next int
}

func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Notification)}
}

// Subscribe returns a receive channel and a cancel func. Cancel closes the
// channel; calling it twice is safe.
func (b *Bus) Subscribe() (<-chan Notification, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.next
	b.next++
	ch := make(chan Notification, subscriberBufSize)
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

func (b *Bus) Publish(n Notification) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subs {
		select {
		case sub <- n:
		default:
		}
	}
}
