package domain

type CardLocation string

const (
	LocationNewMatches CardLocation = "new_matches"
	LocationMessages   CardLocation = "messages"
)

// CardState is derived, never persisted. It is recomputed on demand from
// the match, its conversation and the viewer's unread count.
type CardState struct {
	MatchID     string
	ViewerID    string
	Location    CardLocation
	UnreadCount int
	Badge       bool
}

// PlaceCard computes where a match surfaces for a viewer:
//
//   - no conversation yet: new-matches tray, no badge
//   - viewer initiated:    messages list, no badge
//   - other initiated:     stays in new-matches until the viewer replies,
//     badged while the first message is unread
//   - initiator unknown:   messages list, no badge (stale record, should not
//     occur once the create path has run)
//
// Pure function, no suspension, safe to call from any goroutine.
func PlaceCard(m *Match, conv *Conversation, unread int, viewerID string) CardState {
	cs := CardState{
		MatchID:  m.ID,
		ViewerID: viewerID,
	}

	if conv == nil {
		cs.Location = LocationNewMatches
		return cs
	}

	cs.UnreadCount = unread

	switch {
	case m.InitiatedBy == viewerID:
		cs.Location = LocationMessages
	case m.InitiatedBy == "":
		cs.Location = LocationMessages
	default:
		cs.Location = LocationNewMatches
		cs.Badge = unread > 0
	}

	return cs
}
