package chat

import (
	"sort"
	"sync"
	"time"

	"github.com/anteros-labs/domus/internal/domain"
)

// ConversationStore is the client-side list of conversations, reconciling the
// REST snapshot, push updates and locally created conversations. The list is
// kept sorted by last activity, newest first; equal timestamps keep their
// relative insertion order.
type ConversationStore struct {
	mu    sync.RWMutex
	me    string
	list  []*domain.Conversation
	index map[string]*domain.Conversation
	// seen holds the ids of messages already folded in. A push replayed
	// after a reconnect is a no-op, not a double unread bump.
	seen map[string]struct{}
	bus  *Bus
}

func NewConversationStore(currentUserID string, bus *Bus) *ConversationStore {
	return &ConversationStore{
		me:    currentUserID,
		index: make(map[string]*domain.Conversation),
		seen:  make(map[string]struct{}),
		bus:   bus,
	}
}

// Replace installs a fresh REST snapshot, dropping local list state.
func (s *ConversationStore) Replace(convs []domain.Conversation) {
	s.mu.Lock()
	s.list = make([]*domain.Conversation, 0, len(convs))
	s.index = make(map[string]*domain.Conversation, len(convs))
	for i := range convs {
		c := convs[i]
		if c.Unread == nil {
			c.Unread = domain.UnreadCounts{}
		}
		if c.LastMessage != nil {
			s.seen[c.LastMessage.ID] = struct{}{}
		}
		s.list = append(s.list, &c)
		s.index[c.ID] = &c
	}
	s.sortLocked()
	s.mu.Unlock()

	s.bus.Publish(ConversationsChanged{})
}

// Add inserts a locally created conversation (no-op if already present).
func (s *ConversationStore) Add(conv domain.Conversation) {
	s.mu.Lock()
	if _, ok := s.index[conv.ID]; ok {
		s.mu.Unlock()
		return
	}
	if conv.Unread == nil {
		conv.Unread = domain.UnreadCounts{}
	}
	if conv.LastMessageAt.IsZero() {
		conv.LastMessageAt = time.Now()
	}
	s.list = append(s.list, &conv)
	s.index[conv.ID] = &conv
	s.sortLocked()
	s.mu.Unlock()

	s.bus.Publish(ConversationsChanged{})
}

// UpsertFromPush folds one pushed message, with its parent conversation, into
// the list. It is idempotent: the message id is the dedup key, so applying
// the same push twice leaves the store observably unchanged and reports false.
func (s *ConversationStore) UpsertFromPush(msg domain.Message, conv *domain.Conversation, bumpUnread bool) bool {
	s.mu.Lock()

	if msg.ID != "" {
		if _, dup := s.seen[msg.ID]; dup {
			s.mu.Unlock()
			return false
		}
		s.seen[msg.ID] = struct{}{}
	}

	c, ok := s.index[msg.ConversationID]
	if !ok {
		c = s.insertLocked(msg, conv)
	}

	m := msg
	c.LastMessage = &m
	c.LastMessageAt = msg.CreatedAt
	if bumpUnread {
		c.Unread.Bump(s.me)
	}
	s.sortLocked()

	unread := c.Unread.Get(s.me)
	s.mu.Unlock()

	s.bus.Publish(ConversationsChanged{})
	if bumpUnread {
		s.bus.Publish(UnreadChanged{ConversationID: msg.ConversationID, Unread: unread})
	}
	return true
}

// insertLocked adds the pushed conversation, or a minimal one synthesized
// from the message when the push carried none.
func (s *ConversationStore) insertLocked(msg domain.Message, conv *domain.Conversation) *domain.Conversation {
	var c domain.Conversation
	if conv != nil {
		c = *conv
	} else {
		c = domain.Conversation{
			ID:           msg.ConversationID,
			Kind:         domain.KindDirect,
			Participants: []domain.UserSummary{msg.Sender, msg.Receiver},
		}
	}
	if c.Unread == nil {
		c.Unread = domain.UnreadCounts{}
	}
	s.list = append(s.list, &c)
	s.index[c.ID] = &c
	return &c
}

// MarkRead zeroes the current user's unread counter. Optimistic: the badge
// does not wait for the server; emitting the read receipt is the session's
// job. Reports whether the conversation exists.
func (s *ConversationStore) MarkRead(conversationID string) bool {
	return s.ResetUnread(conversationID, s.me)
}

// ResetUnread zeroes one user's counter, e.g. when their read receipt
// arrives over the channel.
func (s *ConversationStore) ResetUnread(conversationID, userID string) bool {
	s.mu.Lock()
	c, ok := s.index[conversationID]
	if ok {
		c.Unread.Reset(userID)
	}
	s.mu.Unlock()

	if ok && userID == s.me {
		s.bus.Publish(UnreadChanged{ConversationID: conversationID, Unread: 0})
	}
	return ok
}

// RoomIDs returns every conversation id, the set of rooms to (re)join.
func (s *ConversationStore) RoomIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.list))
	for _, c := range s.list {
		out = append(out, c.ID)
	}
	return out
}

// Conversations returns a copy of the list in display order.
func (s *ConversationStore) Conversations() []domain.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Conversation, 0, len(s.list))
	for _, c := range s.list {
		out = append(out, *c)
	}
	return out
}

func (s *ConversationStore) Get(conversationID string) (domain.Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.index[conversationID]
	if !ok {
		return domain.Conversation{}, false
	}
	return *c, true
}

// Unread returns the current user's unread count for one conversation.
func (s *ConversationStore) Unread(conversationID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if c, ok := s.index[conversationID]; ok {
		return c.Unread.Get(s.me)
	}
	return 0
}

func (s *ConversationStore) sortLocked() {
	sort.SliceStable(s.list, func(i, j int) bool {
		return s.list[i].LastMessageAt.After(s.list[j].LastMessageAt)
	})
}
