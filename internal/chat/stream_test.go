package chat_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/anteros-labs/domus/internal/chat"
	"github.com/anteros-labs/domus/internal/domain"
	"github.com/anteros-labs/domus/internal/transport/rest"
)

// fakeLoader serves canned history pages, optionally holding a response until
// released so stale-response behavior can be exercised.
type fakeLoader struct {
	mu    sync.Mutex
	pages map[string]*rest.MessagePage
	gate  chan struct{} // when set, ListMessages blocks until closed
}

func (f *fakeLoader) ListMessages(ctx context.Context, conversationID, before string, limit int) (*rest.MessagePage, error) {
	f.mu.Lock()
	gate := f.gate
	page := f.pages[conversationID]
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if page == nil {
		return &rest.MessagePage{Messages: []domain.Message{}}, nil
	}
	cp := *page
	return &cp, nil
}

func streamMsg(id, convID string, from domain.UserSummary, at time.Time) domain.Message {
	return domain.Message{
		ID:             id,
		ConversationID: convID,
		Sender:         from,
		Receiver:       alice,
		Content:        "msg " + id,
		Status:         domain.StatusSent,
		CreatedAt:      at,
	}
}

func TestOrderingInvariantFetchAfterPush(t *testing.T) {
	t0 := baseTime()
	loader := &fakeLoader{
		pages: map[string]*rest.MessagePage{
			"c1": {Messages: []domain.Message{
				streamMsg("m1", "c1", bob, t0),
				streamMsg("m3", "c1", bob, t0.Add(2*time.Minute)),
			}},
		},
		gate: make(chan struct{}),
	}
	st := chat.NewMessageStream(loader, 50, chat.NewBus())

	opened := make(chan error, 1)
	go func() { opened <- st.Open(context.Background(), "c1") }()

	// a push lands while the history fetch is still in flight
	waitUntil(t, func() bool { return st.OpenID() == "c1" })
	st.AppendFromPush(streamMsg("m2", "c1", bob, t0.Add(time.Minute)))

	close(loader.gate)
	if err := <-opened; err != nil {
		t.Fatalf("open: %v", err)
	}

	got := st.Messages()
	if len(got) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(got))
	}
	for i, want := range []string{"m1", "m2", "m3"} {
		if got[i].ID != want {
			t.Fatalf("position %d: got %s, want %s", i, got[i].ID, want)
		}
	}
}

func TestAppendIgnoresOtherConversations(t *testing.T) {
	t0 := baseTime()
	loader := &fakeLoader{pages: map[string]*rest.MessagePage{}}
	st := chat.NewMessageStream(loader, 50, chat.NewBus())

	if err := st.Open(context.Background(), "c1"); err != nil {
		t.Fatalf("open: %v", err)
	}
	if st.AppendFromPush(streamMsg("m1", "c2", bob, t0)) {
		t.Fatalf("push for another conversation must not append")
	}
	if len(st.Messages()) != 0 {
		t.Fatalf("stream picked up a foreign message")
	}
}

func TestStaleDiscardAfterClose(t *testing.T) {
	t0 := baseTime()
	loader := &fakeLoader{pages: map[string]*rest.MessagePage{}}
	st := chat.NewMessageStream(loader, 50, chat.NewBus())

	if err := st.Open(context.Background(), "cA"); err != nil {
		t.Fatalf("open: %v", err)
	}
	lateMsg := streamMsg("late", "cA", bob, t0)

	if got := st.Close(); got != "cA" {
		t.Fatalf("close reported %q, want cA", got)
	}
	if st.AppendFromPush(lateMsg) {
		t.Fatalf("append after close must be discarded")
	}

	if err := st.Open(context.Background(), "cB"); err != nil {
		t.Fatalf("open cB: %v", err)
	}
	if st.AppendFromPush(lateMsg) {
		t.Fatalf("late event for cA must not reach cB's history")
	}
	if len(st.Messages()) != 0 {
		t.Fatalf("cB history contaminated: %v", st.Messages())
	}
}

func TestStaleFetchResultDiscarded(t *testing.T) {
	t0 := baseTime()
	loader := &fakeLoader{
		pages: map[string]*rest.MessagePage{
			"cA": {Messages: []domain.Message{streamMsg("a1", "cA", bob, t0)}},
		},
		gate: make(chan struct{}),
	}
	st := chat.NewMessageStream(loader, 50, chat.NewBus())

	opened := make(chan error, 1)
	go func() { opened <- st.Open(context.Background(), "cA") }()
	waitUntil(t, func() bool { return st.OpenID() == "cA" })

	// the user navigates away before the fetch completes
	st.Close()
	loader.mu.Lock()
	gate := loader.gate
	loader.gate = nil
	loader.mu.Unlock()
	if err := st.Open(context.Background(), "cB"); err != nil {
		t.Fatalf("open cB: %v", err)
	}

	close(gate)
	if err := <-opened; err != nil {
		t.Fatalf("stale open should not error: %v", err)
	}

	for _, m := range st.Messages() {
		if m.ConversationID == "cA" {
			t.Fatalf("stale cA fetch result applied to cB stream")
		}
	}
}

func TestDuplicatePushAppendsOnce(t *testing.T) {
	t0 := baseTime()
	loader := &fakeLoader{pages: map[string]*rest.MessagePage{}}
	st := chat.NewMessageStream(loader, 50, chat.NewBus())

	if err := st.Open(context.Background(), "c1"); err != nil {
		t.Fatalf("open: %v", err)
	}
	msg := streamMsg("m1", "c1", bob, t0)
	if !st.AppendFromPush(msg) {
		t.Fatalf("first append should succeed")
	}
	if st.AppendFromPush(msg) {
		t.Fatalf("duplicate append should be dropped")
	}
	if len(st.Messages()) != 1 {
		t.Fatalf("expected 1 message, got %d", len(st.Messages()))
	}
}

func TestReconcileSwapsProvisionalEntry(t *testing.T) {
	t0 := baseTime()
	loader := &fakeLoader{pages: map[string]*rest.MessagePage{}}
	st := chat.NewMessageStream(loader, 50, chat.NewBus())

	if err := st.Open(context.Background(), "c1"); err != nil {
		t.Fatalf("open: %v", err)
	}

	provisional := domain.Message{
		ConversationID: "c1",
		Nonce:          "n-1",
		Sender:         alice,
		Content:        "hi",
		Status:         domain.StatusQueued,
		CreatedAt:      t0,
	}
	st.AppendLocal(provisional)

	confirmed := provisional
	confirmed.ID = "m-server"
	confirmed.Status = domain.StatusSent
	if !st.Reconcile("n-1", confirmed) {
		t.Fatalf("reconcile should find the provisional entry")
	}

	got := st.Messages()
	if len(got) != 1 || got[0].ID != "m-server" || got[0].Status != domain.StatusSent {
		t.Fatalf("provisional entry not reconciled: %+v", got)
	}
}

func TestGrouping(t *testing.T) {
	day1 := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	day2 := time.Date(2026, 3, 15, 8, 0, 0, 0, time.UTC)

	sys := streamMsg("s1", "c1", domain.UserSummary{}, day1.Add(2*time.Minute))
	sys.System = true

	msgs := []domain.Message{
		streamMsg("m1", "c1", bob, day1),
		streamMsg("m2", "c1", bob, day1.Add(time.Minute)),
		sys,
		streamMsg("m3", "c1", alice, day1.Add(3*time.Minute)),
		streamMsg("m4", "c1", alice, day2),
	}

	sections := chat.Grouped(msgs)
	if len(sections) != 2 {
		t.Fatalf("expected 2 day sections, got %d", len(sections))
	}
	runs := sections[0].Runs
	if len(runs) != 3 {
		t.Fatalf("day 1: expected 3 runs (bob×2, system, alice), got %d", len(runs))
	}
	if len(runs[0].Messages) != 2 || runs[0].Sender.ID != bob.ID {
		t.Fatalf("first run should be bob's two messages")
	}
	if !runs[1].System {
		t.Fatalf("system message should break sender runs")
	}
	if len(sections[1].Runs) != 1 {
		t.Fatalf("day 2: expected 1 run, got %d", len(sections[1].Runs))
	}
}

// waitUntil polls cond for up to two seconds.
func TestReconcileKeepsAdvancedStatus(t *testing.T) {
	loader := &fakeLoader{}
	stream := chat.NewMessageStream(loader, 50, chat.NewBus())
	if err := stream.Open(context.Background(), "c1"); err != nil {
		t.Fatalf("open: %v", err)
	}

	provisional := domain.Message{
		ConversationID: "c1",
		Nonce:          "n1",
		Sender:         alice,
		Content:        "local",
		Status:         domain.StatusQueued,
		CreatedAt:      baseTime(),
	}
	stream.AppendLocal(provisional)

	confirmed := provisional
	confirmed.ID = "m1"
	confirmed.Status = domain.StatusSent
	if !stream.Reconcile("n1", confirmed) {
		t.Fatalf("first reconcile should apply")
	}
	if !stream.AdvanceStatus("m1", domain.StatusDelivered) {
		t.Fatalf("delivered advance should apply")
	}

	// same confirmation again: the entry must keep its delivered status
	if !stream.Reconcile("n1", confirmed) {
		t.Fatalf("replayed reconcile should still be handled by the stream")
	}
	msgs := stream.Messages()
	if len(msgs) != 1 || msgs[0].Status != domain.StatusDelivered {
		t.Fatalf("replayed reconcile regressed status: %+v", msgs)
	}
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not reached in time")
}
