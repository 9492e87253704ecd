package chat

import (
	"sort"
	"sync"

	"github.com/anteros-labs/domus/internal/domain"
)

// Outbox is the delivery state machine for locally-originated messages. A
// message enters in queued under its client nonce, adopts the server id on
// acknowledgment, and only ever moves forward: queued → sent → delivered →
// read. Duplicate receipts are no-ops; read is terminal and the entry is
// dropped there.
type Outbox struct {
	mu      sync.Mutex
	byNonce map[string]*domain.Message
	byID    map[string]*domain.Message
}

func NewOutbox() *Outbox {
	return &Outbox{
		byNonce: make(map[string]*domain.Message),
		byID:    make(map[string]*domain.Message),
	}
}

// Track registers a provisional queued message. It must carry a nonce; it
// has no server id yet.
func (o *Outbox) Track(msg domain.Message) {
	if msg.Nonce == "" || msg.System {
		return
	}
	msg.Status = domain.StatusQueued
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.byNonce[msg.Nonce]; ok {
		return
	}
	o.byNonce[msg.Nonce] = &msg
}

// Ack reconciles the channel acknowledgment with the provisional entry:
// the server id is adopted and the message moves queued → sent. A duplicate
// ack reports false.
func (o *Outbox) Ack(nonce string, confirmed domain.Message) (domain.Message, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	m, ok := o.byNonce[nonce]
	if !ok {
		return domain.Message{}, false
	}
	if !m.Status.Before(domain.StatusSent) {
		return *m, false
	}

	m.ID = confirmed.ID
	m.CreatedAt = confirmed.CreatedAt
	m.Advance(domain.StatusSent)
	o.byID[m.ID] = m
	return *m, true
}

// Delivered advances one sent message. Reports the updated copy, or false
// for unknown ids and out-of-order receipts.
func (o *Outbox) Delivered(messageID string) (domain.Message, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	m, ok := o.byID[messageID]
	if !ok || !m.Advance(domain.StatusDelivered) {
		return domain.Message{}, false
	}
	return *m, true
}

// ReadAll advances every acknowledged message in the conversation to read.
// Read receipts are conversation-scoped, not per message. Read entries are
// terminal and forgotten. Returns the messages that actually moved.
func (o *Outbox) ReadAll(conversationID string) []domain.Message {
	o.mu.Lock()
	defer o.mu.Unlock()

	var moved []domain.Message
	for id, m := range o.byID {
		if m.ConversationID != conversationID {
			continue
		}
		if !m.Advance(domain.StatusRead) {
			continue
		}
		moved = append(moved, *m)
		delete(o.byID, id)
		delete(o.byNonce, m.Nonce)
	}
	sort.Slice(moved, func(i, j int) bool { return moved[i].CreatedAt.Before(moved[j].CreatedAt) })
	return moved
}

// Queued returns the messages still waiting for the channel, oldest first.
// This is the set re-submitted after a reconnect.
func (o *Outbox) Queued() []domain.Message {
	o.mu.Lock()
	defer o.mu.Unlock()

	var out []domain.Message
	for _, m := range o.byNonce {
		if m.Status == domain.StatusQueued {
			out = append(out, *m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Status looks an entry up by server id.
func (o *Outbox) Status(messageID string) (domain.DeliveryStatus, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if m, ok := o.byID[messageID]; ok {
		return m.Status, true
	}
	return "", false
}
