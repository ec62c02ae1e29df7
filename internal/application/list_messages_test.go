package application

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/roomly/matchtalk/internal/domain"
	"github.com/roomly/matchtalk/internal/repository"
)

func TestListMessagesOrderAndPagination(t *testing.T) {
	store := newMockStore()
	svc := newTestService(store)
	conv := setupConversation(t, store, svc)
	ctx := context.Background()

	const total = 25
	for i := 0; i < total; i++ {
		sender := "userA"
		if i%2 == 1 {
			sender = "userB"
		}
		if _, err := svc.SendMessage(ctx, SendMessageCommand{
			ConversationID: conv.ID, SenderID: sender,
			Content: fmt.Sprintf("msg %d", i),
		}); err != nil {
			t.Fatal(err)
		}
	}

	// Walk the ledger backward page by page, then stitch the pages back
	// together and check the whole sequence against the total order.
	var pages [][]*domain.Message
	cursor := ""
	for {
		page, err := svc.ListMessages(ctx, conv.ID, "userA", 10, cursor)
		if err != nil {
			t.Fatal(err)
		}
		if len(page) == 0 {
			break
		}
		pages = append(pages, page)
		cursor = repository.CursorFor(page[0]).Encode()
	}

	if len(pages) != 3 {
		t.Fatalf("got %d pages, want 3", len(pages))
	}
	if len(pages[0]) != 10 || len(pages[1]) != 10 || len(pages[2]) != 5 {
		t.Fatalf("page sizes = %d,%d,%d, want 10,10,5", len(pages[0]), len(pages[1]), len(pages[2]))
	}

	var all []*domain.Message
	for i := len(pages) - 1; i >= 0; i-- {
		all = append(all, pages[i]...)
	}
	if len(all) != total {
		t.Fatalf("stitched %d messages, want %d", len(all), total)
	}
	seen := make(map[string]bool, total)
	for i := 1; i < len(all); i++ {
		if !domain.Less(all[i-1], all[i]) {
			t.Fatalf("order violated at %d: %s !< %s", i, all[i-1].ID, all[i].ID)
		}
	}
	for _, m := range all {
		if seen[m.ID] {
			t.Fatalf("duplicate message %s across pages", m.ID)
		}
		seen[m.ID] = true
	}
	if all[0].Content != "msg 0" || all[total-1].Content != fmt.Sprintf("msg %d", total-1) {
		t.Fatalf("stitched sequence endpoints wrong: %q .. %q", all[0].Content, all[total-1].Content)
	}
}

func TestListMessagesAccess(t *testing.T) {
	store := newMockStore()
	svc := newTestService(store)
	conv := setupConversation(t, store, svc)
	ctx := context.Background()

	if _, err := svc.ListMessages(ctx, conv.ID, "userC", 10, ""); !errors.Is(err, domain.ErrNotParticipant) {
		t.Errorf("outsider: got %v, want ErrNotParticipant", err)
	}
	if _, err := svc.ListMessages(ctx, "nope", "userA", 10, ""); !errors.Is(err, domain.ErrConversationNotFound) {
		t.Errorf("unknown conversation: got %v, want ErrConversationNotFound", err)
	}
}

func TestListMessagesBadCursor(t *testing.T) {
	store := newMockStore()
	svc := newTestService(store)
	conv := setupConversation(t, store, svc)

	for _, cur := range []string{"garbage", "12:", "notanumber:abc"} {
		if _, err := svc.ListMessages(context.Background(), conv.ID, "userA", 10, cur); !errors.Is(err, domain.ErrInvalidInput) {
			t.Errorf("cursor %q: got %v, want ErrInvalidInput", cur, err)
		}
	}
}
