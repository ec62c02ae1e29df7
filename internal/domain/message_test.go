package domain

import (
	"errors"
	"testing"
	"time"
)

func TestNewMessageValidation(t *testing.T) {
	now := time.Now().UTC()

	if _, err := NewMessage("msg1", "conv1", "userA", "", "", "hi", now); err != nil {
		t.Fatalf("valid message rejected: %v", err)
	}

	if _, err := NewMessage("msg1", "conv1", "userA", "", "", "", now); !errors.Is(err, ErrEmptyContent) {
		t.Errorf("empty content: got %v, want ErrEmptyContent", err)
	}

	big := make([]byte, MaxMessageSize+1)
	for i := range big {
		big[i] = 'x'
	}
	if _, err := NewMessage("msg1", "conv1", "userA", "", "", string(big), now); !errors.Is(err, ErrMessageTooLarge) {
		t.Errorf("oversized content: got %v, want ErrMessageTooLarge", err)
	}

	if _, err := NewMessage("", "conv1", "userA", "", "", "hi", now); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("missing id: got %v, want ErrInvalidInput", err)
	}
}

func TestMessageOrdering(t *testing.T) {
	t1 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Second)

	a := &Message{ID: "b", CreatedAt: t1}
	b := &Message{ID: "a", CreatedAt: t2}

	if !Less(a, b) {
		t.Error("earlier timestamp must sort first")
	}

	// Equal timestamps fall back to id order, so ordering stays total
	// under clock skew.
	c := &Message{ID: "a", CreatedAt: t1}
	d := &Message{ID: "b", CreatedAt: t1}
	if !Less(c, d) || Less(d, c) {
		t.Error("id tie-break must give a strict total order")
	}
}

func TestReadReceiptNeverRegresses(t *testing.T) {
	m := &Message{ID: "msg1"}

	later := time.Date(2026, 3, 1, 12, 0, 5, 0, time.UTC)
	earlier := later.Add(-time.Minute)

	m.MarkRead("userB", later)
	m.MarkRead("userB", earlier)

	if got := m.ReadReceipts["userB"]; !got.Equal(later) {
		t.Errorf("receipt regressed to %v, want %v", got, later)
	}

	evenLater := later.Add(time.Minute)
	m.MarkRead("userB", evenLater)
	if got := m.ReadReceipts["userB"]; !got.Equal(evenLater) {
		t.Errorf("receipt did not advance, got %v", got)
	}
}

func TestTombstoneKeepsIdentity(t *testing.T) {
	now := time.Now().UTC()
	m, err := NewMessage("msg1", "conv1", "userA", "", MessageTypeText, "secret", now)
	if err != nil {
		t.Fatal(err)
	}

	m.Tombstone()

	if m.Content != DeletedMarker || m.Type != MessageTypeDeleted {
		t.Errorf("tombstone gave content=%q type=%q", m.Content, m.Type)
	}
	if m.ID != "msg1" || !m.CreatedAt.Equal(now) {
		t.Error("tombstone must not change identity or ordering key")
	}
}
