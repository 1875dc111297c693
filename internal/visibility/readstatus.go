package visibility

import (
	"slices"

	"chatcore/internal/domain"
	"chatcore/internal/membership"
)

// PeerCursor is another group member's read cursor together with the part of
// the timeline that member can see.
type PeerCursor struct {
	UserID    int64
	ReadSeqID int64
	Intervals []membership.Interval
}

// HasRead reports whether the member both saw and read past seq. A cursor
// seeded at a later join does not cover messages from before that join.
func (p PeerCursor) HasRead(seq int64) bool {
	return p.ReadSeqID >= seq && membership.Contains(p.Intervals, seq)
}

// ReadState holds the cursors needed to decide read flags for one viewer.
type ReadState struct {
	UserID int64
	Group  bool
	// OwnRead is the viewer's read cursor.
	OwnRead int64
	// PeerRead is the peer's cursor in a direct topic.
	PeerRead int64
	// Peers are the other current members of a group. A group message
	// counts as read once any of them has read it.
	Peers []PeerCursor
}

// IsRead reports whether m is shown as read to the viewer.
func (s ReadState) IsRead(m *domain.Message) bool {
	if s.Group {
		if m.SenderID != s.UserID {
			return false
		}
		return slices.ContainsFunc(s.Peers, func(p PeerCursor) bool { return p.HasRead(m.SeqID) })
	}
	if m.SenderID == s.UserID {
		return s.PeerRead >= m.SeqID
	}
	return s.OwnRead >= m.SeqID
}
