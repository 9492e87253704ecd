package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/anteros-labs/domus/internal/domain"
	"github.com/anteros-labs/domus/internal/transport/rest"
	"github.com/anteros-labs/domus/internal/transport/ws"
	"github.com/anteros-labs/domus/pkg/validator"
)

var ErrInvalidMessage = errors.New("invalid message")

// Channel is the persistent push channel the session runs on. *ws.Conn
// implements it; tests substitute a scripted fake.
type Channel interface {
	Events() <-chan *ws.Event
	States() <-chan ws.State
	Send(*ws.Event) error
	Connected() bool
	Close()
}

// API is the REST surface the session consumes.
type API interface {
	ListConversations(ctx context.Context) ([]domain.Conversation, error)
	ListMessages(ctx context.Context, conversationID, before string, limit int) (*rest.MessagePage, error)
	CreateDirectConversation(ctx context.Context, otherUserID string) (*domain.Conversation, error)
	UploadAttachments(ctx context.Context, files []rest.UploadFile) ([]domain.Attachment, error)
}

type SessionConfig struct {
	PageSize     int
	TypingIdle   time.Duration
	TypingExpiry time.Duration
}

// Session is the sync core of one signed-in user: it owns the stores, runs
// the event loop that folds channel pushes into them, and exposes the
// user-facing operations. One run goroutine performs all push-driven
// mutations; the stores carry their own locks so accessors are safe from any
// goroutine. REST calls happen on the caller's goroutine so they never block
// event processing.
type Session struct {
	me  domain.UserSummary
	api API
	ch  Channel
	bus *Bus

	Conversations *ConversationStore
	Stream        *MessageStream
	Presence      *PresenceTracker
	Typing        *TypingCoordinator
	outbox        *Outbox

	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

func NewSession(me domain.UserSummary, api API, ch Channel, cfg SessionConfig) *Session {
	bus := NewBus()
	s := &Session{
		me:     me,
		api:    api,
		ch:     ch,
		bus:    bus,
		outbox: NewOutbox(),
		done:   make(chan struct{}),
	}
	s.Conversations = NewConversationStore(me.ID, bus)
	s.Stream = NewMessageStream(api, cfg.PageSize, bus)
	s.Presence = NewPresenceTracker()
	s.Typing = NewTypingCoordinator(cfg.TypingIdle, cfg.TypingExpiry, s.sendTyping, bus)
	return s
}

// Me returns the signed-in user the session acts as.
func (s *Session) Me() domain.UserSummary { return s.me }

// Notifications subscribes to the core's typed notification feed.
func (s *Session) Notifications() (<-chan Notification, func()) {
	return s.bus.Subscribe()
}

// Start launches the event loop. Start before connecting the channel so the
// first Connected transition is observed.
func (s *Session) Start() {
	s.wg.Add(1)
	go s.run()
}

// Close tears the session down: channel closed, loop drained, timers cleared.
// Safe to call more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.ch.Close()
		s.wg.Wait()
		s.Typing.Shutdown()
	})
}

func (s *Session) run() {
	defer s.wg.Done()
	for {
		select {
		case ev, ok := <-s.ch.Events():
			if !ok {
				return
			}
			s.handleEvent(ev)
		case st, ok := <-s.ch.States():
			if !ok {
				return
			}
			s.handleState(st)
		case <-s.done:
			return
		}
	}
}

// Load pulls the conversation snapshot over REST and, when the channel is
// up, (re)joins every conversation's room.
func (s *Session) Load(ctx context.Context) error {
	convs, err := s.api.ListConversations(ctx)
	if err != nil {
		return fmt.Errorf("loading conversations: %w", err)
	}
	s.Conversations.Replace(convs)
	if s.ch.Connected() {
		s.joinRooms(s.Conversations.RoomIDs())
	}
	return nil
}

// OpenConversation loads the history, joins the room and marks the
// conversation read.
func (s *Session) OpenConversation(ctx context.Context, conversationID string) error {
	// join before the fetch so pushes landing mid-fetch are not lost
	s.joinRooms([]string{conversationID})
	if err := s.Stream.Open(ctx, conversationID); err != nil {
		return err
	}
	s.MarkRead(conversationID)
	return nil
}

// CloseConversation tears the open stream down: the room is left, typing
// timers die, and late pushes for it are discarded by the stream itself.
func (s *Session) CloseConversation() {
	id := s.Stream.Close()
	if id == "" {
		return
	}
	s.Typing.CloseConversation(id)
	s.leaveRoom(id)
}

// StartDirect finds or creates the direct conversation with the counterpart
// and folds it into the store.
func (s *Session) StartDirect(ctx context.Context, otherUserID string) (*domain.Conversation, error) {
	conv, err := s.api.CreateDirectConversation(ctx, otherUserID)
	if err != nil {
		return nil, fmt.Errorf("creating direct conversation: %w", err)
	}
	s.Conversations.Add(*conv)
	s.joinRooms([]string{conv.ID})
	return conv, nil
}

// SendMessage validates, uploads attachments, then submits over the channel.
// An attachment upload failure surfaces as an error and nothing is
// submitted. With the channel down the message stays queued and is
// re-submitted on the next reconnect. The returned message is the
// provisional queued entity.
func (s *Session) SendMessage(ctx context.Context, conversationID, receiverID, content string, files []rest.UploadFile) (domain.Message, error) {
	sizes := make([]int64, len(files))
	for i, f := range files {
		sizes[i] = f.Size
	}
	if errs := validator.ValidateOutgoingMessage(content, sizes); errs.HasErrors() {
		return domain.Message{}, fmt.Errorf("%w: %v", ErrInvalidMessage, errs)
	}

	var atts []domain.Attachment
	if len(files) > 0 {
		var err error
		atts, err = s.api.UploadAttachments(ctx, files)
		if err != nil {
			return domain.Message{}, fmt.Errorf("uploading attachments: %w", err)
		}
	}

	receiver := domain.UserSummary{ID: receiverID}
	if conv, ok := s.Conversations.Get(conversationID); ok {
		if other, ok := conv.Counterpart(s.me.ID); ok {
			receiver = other
		}
	}

	msg := domain.Message{
		ConversationID: conversationID,
		Nonce:          uuid.NewString(),
		Sender:         s.me,
		Receiver:       receiver,
		Content:        content,
		Attachments:    atts,
		Status:         domain.StatusQueued,
		CreatedAt:      time.Now(),
	}

	s.outbox.Track(msg)
	s.Stream.AppendLocal(msg)
	s.Typing.MessageSent(conversationID)
	s.submit(msg)
	return msg, nil
}

// MarkRead optimistically zeroes the unread badge and emits the read receipt
// outward. The badge does not wait for the server.
func (s *Session) MarkRead(conversationID string) {
	s.Conversations.MarkRead(conversationID)

	ev, err := ws.NewEvent(ws.EventTypeMarkRead, conversationID, ws.MarkReadPayload{
		ConversationID: conversationID,
		UserID:         s.me.ID,
	})
	if err != nil {
		return
	}
	if err := s.ch.Send(ev); err != nil {
		// best effort: the local badge is already reset
		log.Printf("chat: read receipt for %s deferred: %v", conversationID, err)
	}
}

// InputActivity records one local keystroke in the conversation's composer.
func (s *Session) InputActivity(conversationID string) {
	s.Typing.InputActivity(conversationID)
}

// --- event loop internals ---

func (s *Session) handleState(st ws.State) {
	switch st {
	case ws.StateConnected:
		rooms := s.Conversations.RoomIDs()
		if open := s.Stream.OpenID(); open != "" {
			rooms = append(rooms, open)
		}
		log.Printf("chat: channel up, re-joining %d rooms", len(rooms))
		s.joinRooms(rooms)
		s.flushQueued()
		s.bus.Publish(ConnectionChanged{Connected: true})

	case ws.StateDisconnected:
		log.Printf("chat: channel down, keeping last known state")
		s.bus.Publish(ConnectionChanged{Connected: false})
	}
}

func (s *Session) handleEvent(ev *ws.Event) {
	switch ev.Type {
	case ws.EventTypeMessageNew:
		var p ws.MessagePayload
		if !s.decode(ev, &p) {
			return
		}
		s.onMessageNew(p)

	case ws.EventTypeMessageReceived:
		var p ws.MessagePayload
		if !s.decode(ev, &p) {
			return
		}
		s.onAck(p)

	case ws.EventTypeMessageDelivered:
		var p ws.DeliveredPayload
		if !s.decode(ev, &p) {
			return
		}
		if m, ok := s.outbox.Delivered(p.MessageID); ok {
			if !s.Stream.AdvanceStatus(m.ID, domain.StatusDelivered) {
				s.bus.Publish(MessageStatusChanged{ConversationID: m.ConversationID, MessageID: m.ID, Status: m.Status})
			}
		}

	case ws.EventTypeMarkRead:
		var p ws.MarkReadPayload
		if !s.decode(ev, &p) {
			return
		}
		s.onRemoteRead(p)

	case ws.EventTypeTyping:
		var p ws.TypingPayload
		if !s.decode(ev, &p) {
			return
		}
		if p.UserID == s.me.ID {
			return // own echo
		}
		s.Typing.ApplyRemote(p.ConversationID, p.UserID, p.UserName, p.IsTyping)

	case ws.EventTypeUserConnected:
		var p ws.PresencePayload
		if !s.decode(ev, &p) {
			return
		}
		s.Presence.SetOnline(p.UserID)
		s.bus.Publish(PresenceChanged{UserID: p.UserID, Online: true})

	case ws.EventTypeUserDisconnected:
		var p ws.PresencePayload
		if !s.decode(ev, &p) {
			return
		}
		s.Presence.SetOffline(p.UserID)
		s.bus.Publish(PresenceChanged{UserID: p.UserID, Online: false})

	case ws.EventTypePresenceState:
		var p ws.PresenceStatePayload
		if !s.decode(ev, &p) {
			return
		}
		s.Presence.Replace(p.UserIDs)

	case ws.EventTypeError:
		var p ws.ErrorPayload
		if !s.decode(ev, &p) {
			return
		}
		log.Printf("chat: server error %s: %s", p.Code, p.Message)

	case ws.EventTypePong:
		// keepalive noise

	default:
		log.Printf("chat: unknown event type %q", ev.Type)
	}
}

func (s *Session) onMessageNew(p ws.MessagePayload) {
	msg := p.Message
	open := s.Stream.OpenID() == msg.ConversationID
	fromMe := msg.Sender.ID == s.me.ID

	if !s.Conversations.UpsertFromPush(msg, p.Conversation, !fromMe && !open) {
		return // duplicate delivery
	}

	if open {
		s.Stream.AppendFromPush(msg)
		if !fromMe {
			// viewing the conversation: tell the sender right away
			s.MarkRead(msg.ConversationID)
		}
	}
}

func (s *Session) onAck(p ws.MessagePayload) {
	confirmed, ok := s.outbox.Ack(p.Nonce, p.Message)
	if !ok && confirmed.ID == "" {
		// unknown nonce: the entry was read and forgotten, or never ours.
		// A replayed ack for a still-tracked entry keeps the tracked copy,
		// whose status is already ahead of the wire one.
		confirmed = p.Message
	}
	s.Conversations.UpsertFromPush(confirmed, p.Conversation, false)
	if !s.Stream.Reconcile(p.Nonce, confirmed) && ok {
		s.bus.Publish(MessageStatusChanged{
			ConversationID: confirmed.ConversationID,
			MessageID:      confirmed.ID,
			Status:         confirmed.Status,
		})
	}
}

func (s *Session) onRemoteRead(p ws.MarkReadPayload) {
	if p.UserID == s.me.ID {
		return // our own receipt echoed back
	}
	s.Conversations.ResetUnread(p.ConversationID, p.UserID)
	for _, m := range s.outbox.ReadAll(p.ConversationID) {
		if !s.Stream.AdvanceStatus(m.ID, domain.StatusRead) {
			s.bus.Publish(MessageStatusChanged{ConversationID: m.ConversationID, MessageID: m.ID, Status: domain.StatusRead})
		}
	}
}

// flushQueued re-submits every still-queued message after a reconnect. The
// nonce makes a retry the server already saw idempotent.
func (s *Session) flushQueued() {
	for _, msg := range s.outbox.Queued() {
		s.submit(msg)
	}
}

func (s *Session) submit(msg domain.Message) {
	ev, err := ws.NewEvent(ws.EventTypeMessageSend, msg.ConversationID, ws.MessageSendPayload{
		ConversationID: msg.ConversationID,
		ReceiverID:     msg.Receiver.ID,
		Content:        msg.Content,
		Attachments:    msg.Attachments,
		Nonce:          msg.Nonce,
	})
	if err != nil {
		log.Printf("chat: encoding send: %v", err)
		return
	}
	if err := s.ch.Send(ev); err != nil {
		// stays queued; flushQueued picks it up on the next reconnect
		log.Printf("chat: channel down, message %s stays queued", msg.Nonce)
	}
}

func (s *Session) joinRooms(conversationIDs []string) {
	if len(conversationIDs) == 0 {
		return
	}
	ev, err := ws.NewEvent(ws.EventTypeRoomJoin, "", ws.RoomJoinPayload{ConversationIDs: conversationIDs})
	if err != nil {
		return
	}
	if err := s.ch.Send(ev); err != nil {
		log.Printf("chat: join deferred, channel down")
	}
}

func (s *Session) leaveRoom(conversationID string) {
	ev, err := ws.NewEvent(ws.EventTypeRoomLeave, conversationID, ws.RoomLeavePayload{ConversationID: conversationID})
	if err != nil {
		return
	}
	if err := s.ch.Send(ev); err != nil {
		log.Printf("chat: leave deferred, channel down")
	}
}

func (s *Session) sendTyping(conversationID string, isTyping bool) {
	ev, err := ws.NewEvent(ws.EventTypeTyping, conversationID, ws.TypingPayload{
		ConversationID: conversationID,
		UserID:         s.me.ID,
		UserName:       s.me.DisplayName,
		IsTyping:       isTyping,
	})
	if err != nil {
		return
	}
	// typing is a best-effort signal, a lost one only delays the indicator
	_ = s.ch.Send(ev)
}

func (s *Session) decode(ev *ws.Event, out any) bool {
	if err := json.Unmarshal(ev.Payload, out); err != nil {
		log.Printf("chat: bad %s payload: %v", ev.Type, err)
		return false
	}
	return true
}
