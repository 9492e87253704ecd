package chat

import (
	"sort"
	"sync"
	"time"
)

const (
	// DefaultTypingIdle is how long after the last keystroke the outward
	// typing=false signal fires.
	DefaultTypingIdle = 3 * time.Second
	// DefaultTypingExpiry is how long a remote typing entry lives without a
	// refresh, so a lost typing=false can never leave a stuck indicator.
	DefaultTypingExpiry = 5 * time.Second
)

type remoteTyper struct {
	name  string
	timer *time.Timer
}

// TypingCoordinator debounces local keystrokes into rate-limited outward
// typing signals and folds remote signals into a per-conversation typing set.
// All timers are owned here, keyed by conversation (and user), and cleared on
// conversation close, so nothing fires for a conversation that no longer exists.
type TypingCoordinator struct {
	mu           sync.Mutex
	idleTimeout  time.Duration
	remoteExpiry time.Duration
	emit         func(conversationID string, isTyping bool)
	bus          *Bus

	local  map[string]*time.Timer            // conversation id → idle timer
	remote map[string]map[string]*remoteTyper // conversation id → user id
}

// NewTypingCoordinator builds a coordinator. emit is called outside the lock
// with each outward signal; typing is best-effort, so emit must not block.
func NewTypingCoordinator(idle, expiry time.Duration, emit func(conversationID string, isTyping bool), bus *Bus) *TypingCoordinator {
	if idle <= 0 {
		idle = DefaultTypingIdle
	}
	if expiry <= 0 {
		expiry = DefaultTypingExpiry
	}
	return &TypingCoordinator{
		idleTimeout:  idle,
		remoteExpiry: expiry,
		emit:         emit,
		bus:          bus,
		local:        make(map[string]*time.Timer),
		remote:       make(map[string]map[string]*remoteTyper),
	}
}

// InputActivity records one local keystroke. The first keystroke after an
// idle period emits typing=true; further keystrokes only re-arm the idle
// timer, so typing=false fires exactly once when the user goes quiet.
func (t *TypingCoordinator) InputActivity(conversationID string) {
	t.mu.Lock()
	if timer, ok := t.local[conversationID]; ok {
		timer.Reset(t.idleTimeout)
		t.mu.Unlock()
		return
	}
	t.local[conversationID] = time.AfterFunc(t.idleTimeout, func() {
		t.stopLocal(conversationID, true)
	})
	t.mu.Unlock()

	t.emit(conversationID, true)
}

// MessageSent cancels the idle timer and emits typing=false immediately.
func (t *TypingCoordinator) MessageSent(conversationID string) {
	t.stopLocal(conversationID, false)
}

// stopLocal retires the conversation's idle timer. Whichever of the timer
// callback and an explicit stop wins the lock removes the map entry; the
// loser finds it gone, so typing=false goes out exactly once.
func (t *TypingCoordinator) stopLocal(conversationID string, fromTimer bool) {
	t.mu.Lock()
	timer, ok := t.local[conversationID]
	if !ok {
		t.mu.Unlock()
		return
	}
	if !fromTimer {
		timer.Stop()
	}
	delete(t.local, conversationID)
	t.mu.Unlock()

	t.emit(conversationID, false)
}

// ApplyRemote folds a remote typing signal into the conversation's set.
// Entries expire on their own after the refresh window.
func (t *TypingCoordinator) ApplyRemote(conversationID, userID, userName string, isTyping bool) {
	t.mu.Lock()
	set := t.remote[conversationID]

	if !isTyping {
		if r, ok := set[userID]; ok {
			r.timer.Stop()
			delete(set, userID)
			if len(set) == 0 {
				delete(t.remote, conversationID)
			}
		}
		ids := t.typingLocked(conversationID)
		t.mu.Unlock()
		t.publish(conversationID, ids)
		return
	}

	if set == nil {
		set = make(map[string]*remoteTyper)
		t.remote[conversationID] = set
	}
	if r, ok := set[userID]; ok {
		r.name = userName
		r.timer.Reset(t.remoteExpiry)
		t.mu.Unlock()
		return
	}
	set[userID] = &remoteTyper{
		name: userName,
		timer: time.AfterFunc(t.remoteExpiry, func() {
			t.expireRemote(conversationID, userID)
		}),
	}
	ids := t.typingLocked(conversationID)
	t.mu.Unlock()
	t.publish(conversationID, ids)
}

func (t *TypingCoordinator) expireRemote(conversationID, userID string) {
	t.mu.Lock()
	set := t.remote[conversationID]
	if _, ok := set[userID]; !ok {
		t.mu.Unlock()
		return
	}
	delete(set, userID)
	if len(set) == 0 {
		delete(t.remote, conversationID)
	}
	ids := t.typingLocked(conversationID)
	t.mu.Unlock()
	t.publish(conversationID, ids)
}

// Typing returns the ids of users currently typing in the conversation,
// sorted for stable display.
func (t *TypingCoordinator) Typing(conversationID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.typingLocked(conversationID)
}

func (t *TypingCoordinator) typingLocked(conversationID string) []string {
	set := t.remote[conversationID]
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// CloseConversation clears every timer owned for the conversation. An active
// local signal goes out as typing=false on the way.
func (t *TypingCoordinator) CloseConversation(conversationID string) {
	t.stopLocal(conversationID, false)

	t.mu.Lock()
	for _, r := range t.remote[conversationID] {
		r.timer.Stop()
	}
	delete(t.remote, conversationID)
	t.mu.Unlock()
}

// Shutdown stops every timer. No signals are emitted.
func (t *TypingCoordinator) Shutdown() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, timer := range t.local {
		timer.Stop()
		delete(t.local, id)
	}
	for id, set := range t.remote {
		for _, r := range set {
			r.timer.Stop()
		}
		delete(t.remote, id)
	}
}

func (t *TypingCoordinator) publish(conversationID string, ids []string) {
	if t.bus != nil {
		t.bus.Publish(TypingChanged{ConversationID: conversationID, UserIDs: ids})
	}
}
