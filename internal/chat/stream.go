package chat

import (
	"context"
	"fmt"
	"sync"

	"github.com/anteros-labs/domus/internal/domain"
	"github.com/anteros-labs/domus/internal/transport/rest"
)

// HistoryLoader is the slice of the REST client the stream needs.
type HistoryLoader interface {
	ListMessages(ctx context.Context, conversationID, before string, limit int) (*rest.MessagePage, error)
}

// MessageStream holds the ordered history of the one open conversation.
// Paginated REST fetches and live push appends merge into a single list
// sorted ascending by creation time, ties keeping arrival order. A
// generation counter makes results that outlive their conversation inert:
// a history page or push landing after Close (or after another Open) is
// discarded, never buffered.
type MessageStream struct {
	mu       sync.RWMutex
	loader   HistoryLoader
	pageSize int
	bus      *Bus

	open     string // conversation id, "" when closed
	gen      uint64 // bumped on every Open and Close
	messages []domain.Message
	hasMore  bool
}

func NewMessageStream(loader HistoryLoader, pageSize int, bus *Bus) *MessageStream {
	if pageSize <= 0 {
		pageSize = 50
	}
	return &MessageStream{loader: loader, pageSize: pageSize, bus: bus}
}

// OpenID returns the open conversation id, or "".
func (st *MessageStream) OpenID() string {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.open
}

// Open switches the stream to conversationID and fetches its newest history
// page. Pushes arriving while the fetch is in flight are kept and merged;
// a fetch result arriving after the stream has moved on is dropped.
func (st *MessageStream) Open(ctx context.Context, conversationID string) error {
	st.mu.Lock()
	st.open = conversationID
	st.gen++
	gen := st.gen
	st.messages = nil
	st.hasMore = false
	st.mu.Unlock()

	page, err := st.loader.ListMessages(ctx, conversationID, "", st.pageSize)
	if err != nil {
		return fmt.Errorf("loading history for %s: %w", conversationID, err)
	}

	st.mu.Lock()
	if st.gen != gen {
		// stale response: a different conversation (or none) is open now
		st.mu.Unlock()
		return nil
	}
	st.messages = mergeByCreatedAt(page.Messages, st.messages)
	st.hasMore = page.HasMore
	st.mu.Unlock()

	st.bus.Publish(StreamReplaced{ConversationID: conversationID})
	return nil
}

// LoadOlder prepends the next older history page.
func (st *MessageStream) LoadOlder(ctx context.Context) error {
	st.mu.RLock()
	id := st.open
	gen := st.gen
	hasMore := st.hasMore
	before := ""
	if len(st.messages) > 0 {
		before = st.messages[0].ID
	}
	st.mu.RUnlock()

	if id == "" || !hasMore {
		return nil
	}

	page, err := st.loader.ListMessages(ctx, id, before, st.pageSize)
	if err != nil {
		return fmt.Errorf("loading older history for %s: %w", id, err)
	}

	st.mu.Lock()
	if st.gen != gen {
		st.mu.Unlock()
		return nil
	}
	st.messages = mergeByCreatedAt(page.Messages, st.messages)
	st.hasMore = page.HasMore
	st.mu.Unlock()
	return nil
}

// AppendFromPush adds a pushed message when it belongs to the open
// conversation. Everything else reports false and is the caller's business
// (an unread bump at most).
func (st *MessageStream) AppendFromPush(msg domain.Message) bool {
	st.mu.Lock()
	if st.open == "" || msg.ConversationID != st.open {
		st.mu.Unlock()
		return false
	}
	if st.containsLocked(msg) {
		st.mu.Unlock()
		return false
	}
	st.messages = insertByCreatedAt(st.messages, msg)
	st.mu.Unlock()

	st.bus.Publish(MessageAppended{ConversationID: msg.ConversationID, Message: msg})
	return true
}

// AppendLocal places a provisional queued message at its timestamp position,
// before any server confirmation exists.
func (st *MessageStream) AppendLocal(msg domain.Message) bool {
	st.mu.Lock()
	if st.open == "" || msg.ConversationID != st.open {
		st.mu.Unlock()
		return false
	}
	st.messages = insertByCreatedAt(st.messages, msg)
	st.mu.Unlock()

	st.bus.Publish(MessageAppended{ConversationID: msg.ConversationID, Message: msg})
	return true
}

// Reconcile swaps the provisional entry for the server-confirmed one, keyed
// by nonce. Delivery status only ever moves forward: a replayed ack carrying
// an older status keeps the entry's current one.
func (st *MessageStream) Reconcile(nonce string, confirmed domain.Message) bool {
	if nonce == "" {
		return false
	}
	st.mu.Lock()
	if st.open == "" || confirmed.ConversationID != st.open {
		st.mu.Unlock()
		return false
	}
	for i := range st.messages {
		if st.messages[i].Nonce == nonce {
			if confirmed.Status.Before(st.messages[i].Status) {
				confirmed.Status = st.messages[i].Status
			}
			changed := st.messages[i].Status != confirmed.Status
			st.messages[i] = confirmed
			st.mu.Unlock()
			if changed {
				st.bus.Publish(MessageStatusChanged{
					ConversationID: confirmed.ConversationID,
					MessageID:      confirmed.ID,
					Status:         confirmed.Status,
				})
			}
			return true
		}
	}
	st.mu.Unlock()
	return false
}

// AdvanceStatus moves one message's delivery state forward for display.
func (st *MessageStream) AdvanceStatus(messageID string, to domain.DeliveryStatus) bool {
	st.mu.Lock()
	for i := range st.messages {
		if st.messages[i].ID == messageID {
			ok := st.messages[i].Advance(to)
			conv := st.messages[i].ConversationID
			st.mu.Unlock()
			if ok {
				st.bus.Publish(MessageStatusChanged{ConversationID: conv, MessageID: messageID, Status: to})
			}
			return ok
		}
	}
	st.mu.Unlock()
	return false
}

// Close empties the stream and reports which conversation was open. After
// Close returns no push can append: the open id is gone and the generation
// has moved, so in-flight fetch results are dropped on arrival.
func (st *MessageStream) Close() string {
	st.mu.Lock()
	id := st.open
	st.open = ""
	st.gen++
	st.messages = nil
	st.hasMore = false
	st.mu.Unlock()
	return id
}

// Messages returns a copy of the ordered history.
func (st *MessageStream) Messages() []domain.Message {
	st.mu.RLock()
	defer st.mu.RUnlock()
	out := make([]domain.Message, len(st.messages))
	copy(out, st.messages)
	return out
}

// HasMore reports whether older history remains on the server.
func (st *MessageStream) HasMore() bool {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.hasMore
}

func (st *MessageStream) containsLocked(msg domain.Message) bool {
	for i := range st.messages {
		if msg.ID != "" && st.messages[i].ID == msg.ID {
			return true
		}
		if msg.Nonce != "" && st.messages[i].Nonce == msg.Nonce {
			return true
		}
	}
	return false
}

// insertByCreatedAt keeps the list sorted ascending by creation time. Equal
// timestamps keep arrival order: the new message goes after existing ones.
func insertByCreatedAt(msgs []domain.Message, msg domain.Message) []domain.Message {
	i := len(msgs)
	for i > 0 && msgs[i-1].CreatedAt.After(msg.CreatedAt) {
		i--
	}
	msgs = append(msgs, domain.Message{})
	copy(msgs[i+1:], msgs[i:])
	msgs[i] = msg
	return msgs
}

// mergeByCreatedAt folds a fetched page into the current list, dropping
// entries the list already has (by id or nonce).
func mergeByCreatedAt(fetched, current []domain.Message) []domain.Message {
	byID := make(map[string]struct{}, len(current))
	byNonce := make(map[string]struct{}, len(current))
	for i := range current {
		if current[i].ID != "" {
			byID[current[i].ID] = struct{}{}
		}
		if current[i].Nonce != "" {
			byNonce[current[i].Nonce] = struct{}{}
		}
	}

	out := make([]domain.Message, len(current))
	copy(out, current)
	for _, m := range fetched {
		if m.ID != "" {
			if _, dup := byID[m.ID]; dup {
				continue
			}
		}
		if m.Nonce != "" {
			if _, dup := byNonce[m.Nonce]; dup {
				continue
			}
		}
		out = insertByCreatedAt(out, m)
	}
	return out
}
