// Package visibility answers what a user may see of a topic timeline and
// where their read position is, combining membership intervals with storage.
package visibility

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"chatcore/internal/domain"
	"chatcore/internal/membership"
)

// ErrLookupFailed wraps storage failures. Callers may retry.
var ErrLookupFailed = errors.New("visibility lookup failed")

type Service struct {
	topics  domain.TopicRepository
	members domain.MembershipRepository
	subs    domain.SubscriptionRepository
	msgs    domain.MessageRepository
	log     *slog.Logger
}

func NewService(
	topics domain.TopicRepository,
	members domain.MembershipRepository,
	subs domain.SubscriptionRepository,
	msgs domain.MessageRepository,
	log *slog.Logger,
) *Service {
	return &Service{topics: topics, members: members, subs: subs, msgs: msgs, log: log}
}

// HistoryQuery selects a page of a topic timeline around Anchor, which is
// excluded from the page. Anchor 0 means the newest end for ListBefore and
// the oldest end for ListAfter.
type HistoryQuery struct {
	TopicID  int64
	UserID   int64
	Anchor   int64
	Limit    int
	Location *time.Location
}

type Item struct {
	*domain.Message
	FirstOfDate bool `json:"first_of_date"`
	Read        bool `json:"read"`
}

type Page struct {
	Items      []Item `json:"items"`
	HasEarlier bool   `json:"has_earlier"`
	HasLater   bool   `json:"has_later"`
}

func lookupErr(op string, err error) error {
	for _, sentinel := range []error{
		domain.ErrNotFound,
		domain.ErrNotMember,
		domain.ErrCorruptMembership,
		ErrLookupFailed,
	} {
		if errors.Is(err, sentinel) {
			return err
		}
	}
	return fmt.Errorf("%s: %w: %w", op, ErrLookupFailed, err)
}

// Intervals reconstructs the user's membership intervals in a group.
func (s *Service) Intervals(ctx context.Context, topicID, userID int64) ([]membership.Interval, error) {
	entries, err := s.members.ListEventSeqIDs(ctx, topicID, userID, domain.EntryKinds)
	if err != nil {
		return nil, lookupErr("list entry events", err)
	}
	exits, err := s.members.ListEventSeqIDs(ctx, topicID, userID, domain.ExitKinds)
	if err != nil {
		return nil, lookupErr("list exit events", err)
	}
	if len(entries) == 0 && len(exits) > 0 {
		s.log.Error("exit events without entry events",
			"topic_id", topicID, "user_id", userID, "exits", exits)
		return nil, fmt.Errorf("topic %d user %d: %w", topicID, userID, domain.ErrCorruptMembership)
	}
	if err := membership.Validate(entries, exits); err != nil {
		s.log.Warn("membership history does not alternate",
			"topic_id", topicID, "user_id", userID,
			"entries", entries, "exits", exits, "error", err)
	}
	return membership.Reconstruct(entries, exits), nil
}

// Resolve loads the topic and the user's visible domain in it. Users that
// never belonged to the topic get domain.ErrNotMember.
func (s *Service) Resolve(ctx context.Context, topicID, userID int64) (*Access, error) {
	topic, err := s.topics.GetByID(ctx, topicID)
	if err != nil {
		return nil, lookupErr("get topic", err)
	}
	a := &Access{Topic: topic, UserID: userID}

	if !topic.IsGroup() {
		if _, err := s.subs.Get(ctx, topicID, userID); err != nil {
			return nil, lookupErr("get subscription", err)
		}
		return a, nil
	}

	a.Intervals, err = s.Intervals(ctx, topicID, userID)
	if err != nil {
		return nil, err
	}
	if len(a.Intervals) == 0 {
		return nil, domain.ErrNotMember
	}
	return a, nil
}

func (s *Service) IsVisible(ctx context.Context, topicID, userID, seq int64) (bool, error) {
	a, err := s.Resolve(ctx, topicID, userID)
	if errors.Is(err, domain.ErrNotMember) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return a.Visible(seq), nil
}

func (s *Service) VisibleRanges(ctx context.Context, topicID, userID int64, r membership.Range) ([]membership.Range, error) {
	a, err := s.Resolve(ctx, topicID, userID)
	if err != nil {
		return nil, err
	}
	return a.Ranges(r), nil
}

// HasEarlier reports whether any visible timeline item sits below seq.
func (s *Service) HasEarlier(ctx context.Context, topicID, userID, seq int64) (bool, error) {
	a, err := s.Resolve(ctx, topicID, userID)
	if err != nil {
		return false, err
	}
	return s.hasIn(ctx, a, a.Ranges(membership.Range{From: 0, To: seq}))
}

func (s *Service) hasIn(ctx context.Context, a *Access, ranges []membership.Range) (bool, error) {
	for _, r := range slices.Backward(ranges) {
		ok, err := s.msgs.ExistsInRange(ctx, a.Topic.ID, a.UserID, r.From, r.To)
		if err != nil {
			return false, lookupErr("probe messages", err)
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// IsMessageAccessible reports whether the message at seq can still be shown
// to or referenced by the user.
func (s *Service) IsMessageAccessible(ctx context.Context, topicID, userID, seq int64) (bool, error) {
	a, err := s.Resolve(ctx, topicID, userID)
	if errors.Is(err, domain.ErrNotMember) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !a.Visible(seq) {
		return false, nil
	}

	m, err := s.msgs.GetBySeq(ctx, topicID, seq)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, lookupErr("get message", err)
	}
	if m.IsDeleted {
		return false, nil
	}

	hidden, err := s.msgs.IsDeletedForUser(ctx, topicID, seq, userID)
	if err != nil {
		return false, lookupErr("check deleted for user", err)
	}
	return !hidden, nil
}

// ReadCursor returns the live cursor of a current member, or the one
// snapshotted at the user's latest removal.
func (s *Service) ReadCursor(ctx context.Context, topicID, userID int64) (domain.ReadCursor, error) {
	a, err := s.Resolve(ctx, topicID, userID)
	if err != nil {
		return domain.ReadCursor{}, err
	}
	return s.cursor(ctx, a)
}

func (s *Service) cursor(ctx context.Context, a *Access) (domain.ReadCursor, error) {
	if a.IsMember() {
		sub, err := s.subs.Get(ctx, a.Topic.ID, a.UserID)
		if err != nil {
			return domain.ReadCursor{}, lookupErr("get subscription", err)
		}
		return sub.Cursor(), nil
	}

	exit, err := s.members.LatestExitEvent(ctx, a.Topic.ID, a.UserID)
	if err != nil {
		return domain.ReadCursor{}, lookupErr("latest exit event", err)
	}
	snap, err := s.members.GetSnapshot(ctx, exit.ID)
	if err != nil {
		return domain.ReadCursor{}, lookupErr("get removal snapshot", err)
	}
	return snap.Cursor(), nil
}

func (s *Service) ReadStatus(ctx context.Context, topicID, userID int64) (ReadState, error) {
	a, err := s.Resolve(ctx, topicID, userID)
	if err != nil {
		return ReadState{}, err
	}
	return s.readState(ctx, a)
}

func (s *Service) readState(ctx context.Context, a *Access) (ReadState, error) {
	own, err := s.cursor(ctx, a)
	if err != nil {
		return ReadState{}, err
	}
	rs := ReadState{UserID: a.UserID, Group: a.Topic.IsGroup(), OwnRead: own.ReadSeqID}
	if !rs.Group {
		rs.PeerRead, err = s.subs.MaxPeerReadSeq(ctx, a.Topic.ID, a.UserID)
		if err != nil {
			return ReadState{}, lookupErr("max peer read seq", err)
		}
		return rs, nil
	}
	rs.Peers, err = s.peerCursors(ctx, a)
	if err != nil {
		return ReadState{}, err
	}
	return rs, nil
}

// peerCursors loads the cursors and intervals of the other current members.
// A member with corrupt history is left out rather than failing the viewer's
// query.
func (s *Service) peerCursors(ctx context.Context, a *Access) ([]PeerCursor, error) {
	subs, err := s.subs.ListForTopic(ctx, a.Topic.ID)
	if err != nil {
		return nil, lookupErr("list subscriptions", err)
	}
	peers := make([]PeerCursor, 0, len(subs))
	for _, sub := range subs {
		if sub.UserID == a.UserID {
			continue
		}
		ivs, err := s.Intervals(ctx, a.Topic.ID, sub.UserID)
		if errors.Is(err, domain.ErrCorruptMembership) {
			continue
		}
		if err != nil {
			return nil, err
		}
		peers = append(peers, PeerCursor{UserID: sub.UserID, ReadSeqID: sub.ReadSeqID, Intervals: ivs})
	}
	return peers, nil
}

// UnreadCount counts other members' messages after the read cursor that the
// user can see.
func (s *Service) UnreadCount(ctx context.Context, topicID, userID int64) (int, error) {
	a, err := s.Resolve(ctx, topicID, userID)
	if err != nil {
		return 0, err
	}
	c, err := s.cursor(ctx, a)
	if err != nil {
		return 0, err
	}

	total := 0
	for _, r := range a.Ranges(membership.Range{From: c.ReadSeqID + 1, To: membership.Unbounded}) {
		n, err := s.msgs.CountUnread(ctx, topicID, userID, r.From, r.To)
		if err != nil {
			return 0, lookupErr("count unread", err)
		}
		total += n
	}
	return total, nil
}

// ListBefore returns up to Limit visible items below the anchor in ascending
// order.
func (s *Service) ListBefore(ctx context.Context, q HistoryQuery) (*Page, error) {
	if q.Limit <= 0 {
		return nil, domain.ErrInvalidInput
	}
	a, err := s.Resolve(ctx, q.TopicID, q.UserID)
	if err != nil {
		return nil, err
	}

	anchor := q.Anchor
	if anchor <= 0 {
		anchor = membership.Unbounded
	}
	msgs, err := s.collectDesc(ctx, a, a.Ranges(membership.Range{From: 0, To: anchor}), q.Limit+1)
	if err != nil {
		return nil, err
	}

	page := &Page{}
	var hint *time.Time
	if len(msgs) > q.Limit {
		page.HasEarlier = true
		hint = &msgs[q.Limit].CreatedAt
		msgs = msgs[:q.Limit]
	}
	slices.Reverse(msgs)
	return s.fill(ctx, a, page, msgs, hint, q.Location)
}

// ListAfter returns up to Limit visible items above the anchor in ascending
// order.
func (s *Service) ListAfter(ctx context.Context, q HistoryQuery) (*Page, error) {
	if q.Limit <= 0 {
		return nil, domain.ErrInvalidInput
	}
	a, err := s.Resolve(ctx, q.TopicID, q.UserID)
	if err != nil {
		return nil, err
	}

	anchor := max(q.Anchor, 0)
	msgs, err := s.collectAsc(ctx, a, a.Ranges(membership.Range{From: anchor + 1, To: membership.Unbounded}), q.Limit+1)
	if err != nil {
		return nil, err
	}

	page := &Page{}
	if len(msgs) > q.Limit {
		page.HasLater = true
		msgs = msgs[:q.Limit]
	}

	var hint *time.Time
	prev, err := s.collectDesc(ctx, a, a.Ranges(membership.Range{From: 0, To: anchor + 1}), 1)
	if err != nil {
		return nil, err
	}
	if len(prev) == 1 {
		page.HasEarlier = true
		hint = &prev[0].CreatedAt
	}
	return s.fill(ctx, a, page, msgs, hint, q.Location)
}

func (s *Service) fill(ctx context.Context, a *Access, page *Page, msgs []*domain.Message, hint *time.Time, loc *time.Location) (*Page, error) {
	rs, err := s.readState(ctx, a)
	if err != nil {
		return nil, err
	}

	dates := make([]time.Time, len(msgs))
	for i, m := range msgs {
		dates[i] = m.CreatedAt
	}
	flags := FirstOfDate(dates, hint, loc)

	page.Items = make([]Item, len(msgs))
	for i, m := range msgs {
		page.Items[i] = Item{Message: m, FirstOfDate: flags[i], Read: rs.IsRead(m)}
	}
	return page, nil
}

func (s *Service) collectDesc(ctx context.Context, a *Access, ranges []membership.Range, n int) ([]*domain.Message, error) {
	var out []*domain.Message
	for _, r := range slices.Backward(ranges) {
		if len(out) >= n {
			break
		}
		msgs, err := s.msgs.ListRange(ctx, a.Topic.ID, a.UserID, r.From, r.To, n-len(out))
		if err != nil {
			return nil, lookupErr("list messages", err)
		}
		out = append(out, msgs...)
	}
	return out, nil
}

func (s *Service) collectAsc(ctx context.Context, a *Access, ranges []membership.Range, n int) ([]*domain.Message, error) {
	var out []*domain.Message
	for _, r := range ranges {
		if len(out) >= n {
			break
		}
		msgs, err := s.msgs.ListRangeAsc(ctx, a.Topic.ID, a.UserID, r.From, r.To, n-len(out))
		if err != nil {
			return nil, lookupErr("list messages", err)
		}
		out = append(out, msgs...)
	}
	return out, nil
}

// MarkRead advances the user's read cursor to seq. It reports false, without
// error, when the stored cursor is already at or past seq.
func (s *Service) MarkRead(ctx context.Context, topicID, userID, seq int64) (bool, error) {
	return s.advance(ctx, topicID, userID, seq, "read", s.subs.AdvanceReadSeq)
}

func (s *Service) MarkReceived(ctx context.Context, topicID, userID, seq int64) (bool, error) {
	return s.advance(ctx, topicID, userID, seq, "received", s.subs.AdvanceRecvSeq)
}

func (s *Service) advance(
	ctx context.Context,
	topicID, userID, seq int64,
	which string,
	apply func(ctx context.Context, topicID, userID, seqID int64) (bool, error),
) (bool, error) {
	a, err := s.Resolve(ctx, topicID, userID)
	if err != nil {
		return false, err
	}
	if !a.IsMember() {
		return false, domain.ErrNotMember
	}
	if seq <= 0 || seq > a.Topic.LastSeqID {
		return false, fmt.Errorf("%s seq %d outside [1, %d]: %w", which, seq, a.Topic.LastSeqID, domain.ErrInvalidInput)
	}

	advanced, err := apply(ctx, topicID, userID, seq)
	if err != nil {
		return false, lookupErr("advance "+which+" cursor", err)
	}
	if !advanced {
		s.log.Debug("cursor not advanced", "cursor", which, "topic_id", topicID, "user_id", userID, "seq_id", seq)
	}
	return advanced, nil
}
