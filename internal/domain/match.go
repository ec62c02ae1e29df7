package domain

import "time"

// Match Invariants:
//  1. Participants: exactly two, immutable, set by the external matching process.
//  2. ConversationID and InitiatedBy are write-once: once set, never cleared
//     or reassigned. Only the conversation create path writes them.
//  3. LastMessageAt only moves forward.
type Match struct {
	ID             string
	ParticipantA   string
	ParticipantB   string
	CreatedAt      time.Time
	ConversationID string
	InitiatedBy    string
	LastMessageAt  *time.Time
}

func (m *Match) HasParticipant(userID string) bool {
	return userID == m.ParticipantA || userID == m.ParticipantB
}

func (m *Match) OtherParticipant(userID string) string {
	if userID == m.ParticipantA {
		return m.ParticipantB
	}
	return m.ParticipantA
}

func (m *Match) HasConversation() bool {
	return m.ConversationID != ""
}
