package application

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/roomly/matchtalk/internal/cache"
	"github.com/roomly/matchtalk/internal/domain"
	"github.com/roomly/matchtalk/internal/retry"
	"github.com/roomly/matchtalk/internal/subscription"
)

func newTestService(store *mockStore) *Service {
	svc := New(store, nopTx{}, cache.New(), subscription.NewHub(), zap.NewNop())
	svc.retry = retry.Policy{Attempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
	return svc
}

func TestEnsureConversationCreatesOnce(t *testing.T) {
	store := newMockStore()
	store.seedMatch("m1", "userA", "userB")
	svc := newTestService(store)
	ctx := context.Background()

	conv1, err := svc.EnsureConversation(ctx, "m1", "userA")
	if err != nil {
		t.Fatal(err)
	}
	conv2, err := svc.EnsureConversation(ctx, "m1", "userB")
	if err != nil {
		t.Fatal(err)
	}

	if conv1.ID != conv2.ID {
		t.Errorf("second call returned a different conversation: %s vs %s", conv1.ID, conv2.ID)
	}

	m, _ := store.GetMatch(ctx, nil, "m1")
	if m.InitiatedBy != "userA" {
		t.Errorf("initiatedBy = %q, want userA (first caller)", m.InitiatedBy)
	}
	if m.ConversationID != conv1.ID {
		t.Errorf("match.conversationID = %q, want %q", m.ConversationID, conv1.ID)
	}
}

func TestEnsureConversationUnknownMatch(t *testing.T) {
	svc := newTestService(newMockStore())

	_, err := svc.EnsureConversation(context.Background(), "nope", "userA")
	if !errors.Is(err, domain.ErrMatchNotFound) {
		t.Errorf("got %v, want ErrMatchNotFound", err)
	}
}

func TestEnsureConversationOutsider(t *testing.T) {
	store := newMockStore()
	store.seedMatch("m1", "userA", "userB")
	svc := newTestService(store)

	_, err := svc.EnsureConversation(context.Background(), "m1", "userC")
	if !errors.Is(err, domain.ErrNotParticipant) {
		t.Errorf("got %v, want ErrNotParticipant", err)
	}
}

func TestEnsureConversationConcurrentRace(t *testing.T) {
	store := newMockStore()
	store.seedMatch("m1", "userA", "userB")
	svc := newTestService(store)
	ctx := context.Background()

	const callers = 16
	ids := make([]string, callers)
	errs := make([]error, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			user := "userA"
			if i%2 == 1 {
				user = "userB"
			}
			conv, err := svc.EnsureConversation(ctx, "m1", user)
			if err != nil {
				errs[i] = err
				return
			}
			ids[i] = conv.ID
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("caller %d failed: %v", i, err)
		}
	}

	for i := 1; i < callers; i++ {
		if ids[i] != ids[0] {
			t.Fatalf("callers observed different conversations: %s vs %s", ids[0], ids[i])
		}
	}

	m, _ := store.GetMatch(ctx, nil, "m1")
	if m.InitiatedBy != "userA" && m.InitiatedBy != "userB" {
		t.Errorf("initiatedBy = %q, want exactly one participant", m.InitiatedBy)
	}
	if m.ConversationID != ids[0] {
		t.Errorf("match links %q, callers got %q", m.ConversationID, ids[0])
	}
}
