package chat_test

import (
	"testing"
	"time"

	"github.com/anteros-labs/domus/internal/chat"
	"github.com/anteros-labs/domus/internal/domain"
)

var (
	alice = domain.UserSummary{ID: "u-alice", DisplayName: "Alice"}
	bob   = domain.UserSummary{ID: "u-bob", DisplayName: "Bob"}
	carol = domain.UserSummary{ID: "u-carol", DisplayName: "Carol"}
)

func baseTime() time.Time {
	return time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
}

func directConv(id string, a, b domain.UserSummary, at time.Time) domain.Conversation {
	return domain.Conversation{
		ID:            id,
		Kind:          domain.KindDirect,
		Participants:  []domain.UserSummary{a, b},
		LastMessageAt: at,
		Unread:        domain.UnreadCounts{},
	}
}

func pushMsg(id, convID string, from, to domain.UserSummary, at time.Time) domain.Message {
	return domain.Message{
		ID:             id,
		ConversationID: convID,
		Sender:         from,
		Receiver:       to,
		Content:        "hello",
		Status:         domain.StatusSent,
		CreatedAt:      at,
	}
}

func TestUpsertFromPushIdempotent(t *testing.T) {
	store := chat.NewConversationStore(alice.ID, chat.NewBus())
	t0 := baseTime()
	store.Replace([]domain.Conversation{directConv("c1", alice, bob, t0)})

	msg := pushMsg("m1", "c1", bob, alice, t0.Add(time.Minute))
	conv := directConv("c1", alice, bob, t0.Add(time.Minute))

	if !store.UpsertFromPush(msg, &conv, true) {
		t.Fatalf("first apply should report a change")
	}
	if store.UpsertFromPush(msg, &conv, true) {
		t.Fatalf("second apply of the identical push should be a no-op")
	}

	convs := store.Conversations()
	if len(convs) != 1 {
		t.Fatalf("expected 1 conversation, got %d", len(convs))
	}
	if got := store.Unread("c1"); got != 1 {
		t.Fatalf("unread bumped %d times, want 1", got)
	}
	if convs[0].LastMessage == nil || convs[0].LastMessage.ID != "m1" {
		t.Fatalf("last message not updated")
	}
}

func TestUpsertPrependsUnknownConversation(t *testing.T) {
	store := chat.NewConversationStore(alice.ID, chat.NewBus())
	t0 := baseTime()
	store.Replace([]domain.Conversation{directConv("c1", alice, bob, t0)})

	msg := pushMsg("m9", "c2", carol, alice, t0.Add(time.Hour))
	conv := directConv("c2", alice, carol, t0.Add(time.Hour))

	store.UpsertFromPush(msg, &conv, true)

	convs := store.Conversations()
	if len(convs) != 2 {
		t.Fatalf("expected 2 conversations, got %d", len(convs))
	}
	if convs[0].ID != "c2" {
		t.Fatalf("new conversation should sort first, got %s", convs[0].ID)
	}
}

func TestListOrderingStableOnEqualTimestamps(t *testing.T) {
	store := chat.NewConversationStore(alice.ID, chat.NewBus())
	t0 := baseTime()
	store.Replace([]domain.Conversation{
		directConv("c1", alice, bob, t0),
		directConv("c2", alice, carol, t0),
		directConv("c3", alice, bob, t0.Add(-time.Hour)),
	})

	convs := store.Conversations()
	if convs[0].ID != "c1" || convs[1].ID != "c2" || convs[2].ID != "c3" {
		t.Fatalf("equal timestamps must keep insertion order, got %s %s %s",
			convs[0].ID, convs[1].ID, convs[2].ID)
	}
}

func TestMarkReadReconciliation(t *testing.T) {
	store := chat.NewConversationStore(alice.ID, chat.NewBus())
	t0 := baseTime()
	store.Replace([]domain.Conversation{
		directConv("c1", alice, bob, t0),
		directConv("c2", alice, carol, t0.Add(-time.Minute)),
	})

	store.UpsertFromPush(pushMsg("m1", "c1", bob, alice, t0.Add(time.Minute)), nil, true)
	store.UpsertFromPush(pushMsg("m2", "c1", bob, alice, t0.Add(2*time.Minute)), nil, true)

	if !store.MarkRead("c1") {
		t.Fatalf("mark read on known conversation should succeed")
	}
	if got := store.Unread("c1"); got != 0 {
		t.Fatalf("unread after markRead = %d, want 0", got)
	}

	// a push for a different conversation must not touch c1's counter
	store.UpsertFromPush(pushMsg("m3", "c2", carol, alice, t0.Add(3*time.Minute)), nil, true)
	if got := store.Unread("c1"); got != 0 {
		t.Fatalf("push for c2 altered c1's unread: %d", got)
	}
	if got := store.Unread("c2"); got != 1 {
		t.Fatalf("unread for c2 = %d, want 1", got)
	}
}

func TestReplaceDedupsSnapshotLastMessages(t *testing.T) {
	store := chat.NewConversationStore(alice.ID, chat.NewBus())
	t0 := baseTime()

	last := pushMsg("m1", "c1", bob, alice, t0)
	conv := directConv("c1", alice, bob, t0)
	conv.LastMessage = &last
	store.Replace([]domain.Conversation{conv})

	// replaying the snapshot's last message over the channel must not bump
	if store.UpsertFromPush(last, &conv, true) {
		t.Fatalf("snapshot last message replayed as push should be a no-op")
	}
	if got := store.Unread("c1"); got != 0 {
		t.Fatalf("unread = %d, want 0", got)
	}
}

func TestRoomIDs(t *testing.T) {
	store := chat.NewConversationStore(alice.ID, chat.NewBus())
	t0 := baseTime()
	store.Replace([]domain.Conversation{
		directConv("c1", alice, bob, t0),
		directConv("c2", alice, carol, t0.Add(time.Second)),
	})

	ids := store.RoomIDs()
	if len(ids) != 2 {
		t.Fatalf("expected 2 room ids, got %v", ids)
	}
}
