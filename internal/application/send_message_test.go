package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/roomly/matchtalk/internal/domain"
)

func setupConversation(t *testing.T, store *mockStore, svc *Service) *domain.Conversation {
	t.Helper()
	store.seedMatch("m1", "userA", "userB")
	conv, err := svc.EnsureConversation(context.Background(), "m1", "userA")
	if err != nil {
		t.Fatal(err)
	}
	return conv
}

func TestSendMessageValidation(t *testing.T) {
	store := newMockStore()
	svc := newTestService(store)
	conv := setupConversation(t, store, svc)
	ctx := context.Background()

	_, err := svc.SendMessage(ctx, SendMessageCommand{ConversationID: conv.ID, SenderID: "userA"})
	if !errors.Is(err, domain.ErrEmptyContent) {
		t.Errorf("empty content: got %v, want ErrEmptyContent", err)
	}

	_, err = svc.SendMessage(ctx, SendMessageCommand{ConversationID: conv.ID, SenderID: "userC", Content: "hi"})
	if !errors.Is(err, domain.ErrNotParticipant) {
		t.Errorf("outsider: got %v, want ErrNotParticipant", err)
	}
}

func TestSendMessageUpdatesLedgerAndTimestamps(t *testing.T) {
	store := newMockStore()
	svc := newTestService(store)
	conv := setupConversation(t, store, svc)
	ctx := context.Background()

	msg, err := svc.SendMessage(ctx, SendMessageCommand{
		ConversationID: conv.ID, SenderID: "userA", Content: "hi", ClientMsgID: "c1",
	})
	if err != nil {
		t.Fatal(err)
	}

	m, _ := store.GetMatch(ctx, nil, "m1")
	if m.LastMessageAt == nil || !m.LastMessageAt.Equal(msg.CreatedAt) {
		t.Errorf("match.lastMessageAt not advanced: %v", m.LastMessageAt)
	}

	c, _ := store.GetConversation(ctx, nil, conv.ID)
	if !c.UpdatedAt.Equal(msg.CreatedAt) {
		t.Errorf("conversation.updatedAt = %v, want %v", c.UpdatedAt, msg.CreatedAt)
	}

	if n, _ := svc.UnreadCount(ctx, conv.ID, "userB"); n != 1 {
		t.Errorf("unread for userB = %d, want 1", n)
	}
	if n, _ := svc.UnreadCount(ctx, conv.ID, "userA"); n != 0 {
		t.Errorf("unread for sender = %d, want 0", n)
	}
}

func TestSendMessageRecoversFromTransientFailure(t *testing.T) {
	store := newMockStore()
	svc := newTestService(store)
	conv := setupConversation(t, store, svc)

	store.failAppends = 2

	msg, err := svc.SendMessage(context.Background(), SendMessageCommand{
		ConversationID: conv.ID, SenderID: "userA", Content: "hi",
	})
	if err != nil {
		t.Fatalf("expected recovery within the retry budget, got %v", err)
	}
	if msg == nil || msg.Content != "hi" {
		t.Fatalf("unexpected message: %+v", msg)
	}
}

func TestSendMessageFailureKeepsOptimisticEntry(t *testing.T) {
	store := newMockStore()
	svc := newTestService(store)
	conv := setupConversation(t, store, svc)

	store.failAppends = 100

	_, err := svc.SendMessage(context.Background(), SendMessageCommand{
		ConversationID: conv.ID, SenderID: "userA", Content: "hi", ClientMsgID: "c1",
	})
	if !errors.Is(err, domain.ErrRetryExhausted) {
		t.Fatalf("got %v, want ErrRetryExhausted", err)
	}

	// The optimistic entry is flagged failed, never silently dropped.
	msgs := svc.Cache().Messages(conv.ID)
	if len(msgs) != 1 {
		t.Fatalf("optimistic entry dropped: %d entries", len(msgs))
	}
	if msgs[0].Status != domain.StatusFailed {
		t.Errorf("status = %s, want failed", msgs[0].Status)
	}
}

func TestSendMessageMonotonicClock(t *testing.T) {
	store := newMockStore()
	svc := newTestService(store)
	conv := setupConversation(t, store, svc)
	ctx := context.Background()

	// A message already recorded in the future (skewed writer clock).
	future := time.Now().UTC().Add(time.Hour)
	store.mu.Lock()
	store.msgs["skewed"] = &domain.Message{
		ID: "skewed", ConversationID: conv.ID, SenderID: "userB",
		Type: domain.MessageTypeText, Content: "early",
		CreatedAt: future, ReadReceipts: map[string]time.Time{}, Status: domain.StatusSent,
	}
	store.mu.Unlock()

	msg, err := svc.SendMessage(ctx, SendMessageCommand{
		ConversationID: conv.ID, SenderID: "userA", Content: "after",
	})
	if err != nil {
		t.Fatal(err)
	}
	if msg.CreatedAt.Before(future) {
		t.Errorf("append clock regressed: %v < %v", msg.CreatedAt, future)
	}
}

// A client retry carrying the same client message id must echo the row
// the first attempt produced, not append a second one.
func TestSendMessageResendEchoesOriginal(t *testing.T) {
	store := newMockStore()
	svc := newTestService(store)
	conv := setupConversation(t, store, svc)
	ctx := context.Background()

	first, err := svc.SendMessage(ctx, SendMessageCommand{
		ConversationID: conv.ID, SenderID: "userA", ClientMsgID: "c1", Content: "hi",
	})
	if err != nil {
		t.Fatal(err)
	}

	second, err := svc.SendMessage(ctx, SendMessageCommand{
		ConversationID: conv.ID, SenderID: "userA", ClientMsgID: "c1", Content: "hi",
	})
	if err != nil {
		t.Fatal(err)
	}
	if second.ID != first.ID {
		t.Errorf("resend produced a new row: %s != %s", second.ID, first.ID)
	}

	msgs, err := svc.ListMessages(ctx, conv.ID, "userA", 50, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("ledger holds %d rows, want 1", len(msgs))
	}
	if cached := svc.Cache().Messages(conv.ID); len(cached) != 1 || cached[0].ID != first.ID {
		t.Fatalf("cache diverged from ledger: %d entries", len(cached))
	}
}

// A duplicate that loses the dedup-index race still echoes the
// committed row instead of surfacing a conflict.
func TestSendMessageDuplicateInsertEchoes(t *testing.T) {
	store := newMockStore()
	svc := newTestService(store)
	conv := setupConversation(t, store, svc)
	ctx := context.Background()

	// The winner's row is committed but the loser's dedup lookup ran
	// before it landed, so the insert itself collides.
	committed := &domain.Message{
		ID: "winner", ConversationID: conv.ID, SenderID: "userA",
		ClientMsgID: "c1", Type: domain.MessageTypeText, Content: "hi",
		CreatedAt: time.Now().UTC(), ReadReceipts: map[string]time.Time{}, Status: domain.StatusSent,
	}
	store.mu.Lock()
	store.msgs["winner"] = committed
	store.hideClientLookups = 1
	store.mu.Unlock()

	got, err := svc.SendMessage(ctx, SendMessageCommand{
		ConversationID: conv.ID, SenderID: "userA", ClientMsgID: "c1", Content: "hi",
	})
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != "winner" {
		t.Errorf("echoed %s, want the committed row", got.ID)
	}
}

// Message outbox rows are keyed by the conversation so all of a
// conversation's deltas land on one partition, in order.
func TestMessageOutboxKeyedByConversation(t *testing.T) {
	store := newMockStore()
	svc := newTestService(store)
	conv := setupConversation(t, store, svc)
	ctx := context.Background()

	msg, err := svc.SendMessage(ctx, SendMessageCommand{
		ConversationID: conv.ID, SenderID: "userA", Content: "hi",
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := svc.MarkRead(ctx, conv.ID, "userB", ""); err != nil {
		t.Fatal(err)
	}
	if err := svc.DeleteMessage(ctx, conv.ID, msg.ID, "userA"); err != nil {
		t.Fatal(err)
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	for _, row := range store.outbox {
		if row.AggregateType == "message" && row.AggregateID != conv.ID {
			t.Errorf("message outbox row keyed by %s, want conversation %s", row.AggregateID, conv.ID)
		}
	}
}
