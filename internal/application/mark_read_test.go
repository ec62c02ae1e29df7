package application

import (
	"context"
	"errors"
	"testing"

	"github.com/roomly/matchtalk/internal/domain"
)

func TestMarkReadValidation(t *testing.T) {
	store := newMockStore()
	svc := newTestService(store)
	conv := setupConversation(t, store, svc)
	ctx := context.Background()

	if err := svc.MarkRead(ctx, conv.ID, "userC", ""); !errors.Is(err, domain.ErrNotParticipant) {
		t.Errorf("outsider: got %v, want ErrNotParticipant", err)
	}
	if err := svc.MarkRead(ctx, conv.ID, "userB", "no-such-message"); !errors.Is(err, domain.ErrMessageNotFound) {
		t.Errorf("unknown upto: got %v, want ErrMessageNotFound", err)
	}
}

// A bounded markRead only clears messages up to the named one; newer
// messages stay unread.
func TestMarkReadBounded(t *testing.T) {
	store := newMockStore()
	svc := newTestService(store)
	conv := setupConversation(t, store, svc)
	ctx := context.Background()

	var mid *domain.Message
	for i := 0; i < 3; i++ {
		m, err := svc.SendMessage(ctx, SendMessageCommand{
			ConversationID: conv.ID, SenderID: "userA", Content: "hello",
		})
		if err != nil {
			t.Fatal(err)
		}
		if i == 1 {
			mid = m
		}
	}

	if err := svc.MarkRead(ctx, conv.ID, "userB", mid.ID); err != nil {
		t.Fatal(err)
	}
	if n, _ := svc.UnreadCount(ctx, conv.ID, "userB"); n != 1 {
		t.Fatalf("unread after bounded markRead = %d, want 1", n)
	}
}

// A message bound to a different conversation is rejected rather than
// silently clearing the wrong thread.
func TestMarkReadCrossConversationBound(t *testing.T) {
	store := newMockStore()
	svc := newTestService(store)
	conv := setupConversation(t, store, svc)
	ctx := context.Background()

	store.seedMatch("m2", "userA", "userC")
	other, err := svc.EnsureConversation(ctx, "m2", "userA")
	if err != nil {
		t.Fatal(err)
	}
	foreign, err := svc.SendMessage(ctx, SendMessageCommand{
		ConversationID: other.ID, SenderID: "userA", Content: "elsewhere",
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := svc.MarkRead(ctx, conv.ID, "userB", foreign.ID); !errors.Is(err, domain.ErrMessageNotFound) {
		t.Errorf("got %v, want ErrMessageNotFound", err)
	}
}
