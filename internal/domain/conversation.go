package domain

import "time"

// Conversation Invariants:
//  1. Membership: exactly 2 participants, equal to the match participants.
//  2. Mapping: at most one conversation per match, enforced by a uniqueness
//     constraint on MatchID at the persistence boundary.
type Conversation struct {
	ID           string
	MatchID      string
	ParticipantA string
	ParticipantB string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (c *Conversation) CanSend(userID string) error {
	if userID != c.ParticipantA && userID != c.ParticipantB {
		return ErrNotParticipant
	}
	return nil
}

func (c *Conversation) OtherParticipant(userID string) string {
	if userID == c.ParticipantA {
		return c.ParticipantB
	}
	return c.ParticipantA
}

func (c *Conversation) Participants() [2]string {
	return [2]string{c.ParticipantA, c.ParticipantB}
}
