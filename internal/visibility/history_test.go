package visibility_test

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatcore/internal/domain"
	"chatcore/internal/store/sqlite"
	"chatcore/internal/visibility"
)

func seqsOf(page *visibility.Page) []int64 {
	out := make([]int64, 0, len(page.Items))
	for _, it := range page.Items {
		out = append(out, it.SeqID)
	}
	return out
}

func readFlags(page *visibility.Page) map[int64]bool {
	out := make(map[int64]bool, len(page.Items))
	for _, it := range page.Items {
		out[it.SeqID] = it.Read
	}
	return out
}

type store struct {
	topics  *sqlite.TopicRepo
	members *sqlite.MembershipRepo
	subs    *sqlite.SubscriptionRepo
	msgs    *sqlite.MessageRepo
	svc     *visibility.Service
}

func newStore(t *testing.T) *store {
	t.Helper()
	db, err := sqlite.Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, sqlite.Migrate(db))

	s := &store{
		topics:  sqlite.NewTopicRepo(db),
		members: sqlite.NewMembershipRepo(db),
		subs:    sqlite.NewSubscriptionRepo(db),
		msgs:    sqlite.NewMessageRepo(db),
	}
	s.svc = visibility.NewService(s.topics, s.members, s.subs, s.msgs, slog.New(slog.DiscardHandler))
	return s
}

func (s *store) text(t *testing.T, topicID, senderID int64) int64 {
	t.Helper()
	m := &domain.Message{TopicID: topicID, SenderID: senderID, Kind: domain.MessageText, Content: "hello"}
	require.NoError(t, s.msgs.Create(context.Background(), m))
	return m.SeqID
}

// TestHistory_JoinDoesNotReadEarlierMessages checks that a member added after
// a message does not make it read:
//
//	1 create(alice)  2 text(alice)  3 add(bob)  4 text(alice)
func TestHistory_JoinDoesNotReadEarlierMessages(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	g := &domain.Topic{}
	_, err := s.topics.CreateGroup(ctx, g, alice, "owner")
	require.NoError(t, err)
	before := s.text(t, g.ID, alice)
	_, err = s.members.Join(ctx, g.ID, bob, alice, domain.EventAddMember, "")
	require.NoError(t, err)
	after := s.text(t, g.ID, alice)

	page, err := s.svc.ListBefore(ctx, visibility.HistoryQuery{TopicID: g.ID, UserID: alice, Limit: 50})
	require.NoError(t, err)
	flags := readFlags(page)
	assert.False(t, flags[before], "bob joined after this message")
	assert.False(t, flags[after])

	_, err = s.svc.MarkRead(ctx, g.ID, bob, after)
	require.NoError(t, err)

	page, err = s.svc.ListBefore(ctx, visibility.HistoryQuery{TopicID: g.ID, UserID: alice, Limit: 50})
	require.NoError(t, err)
	flags = readFlags(page)
	assert.False(t, flags[before], "bob's cursor passes it but bob never saw it")
	assert.True(t, flags[after])

	rs, err := s.svc.ReadStatus(ctx, g.ID, alice)
	require.NoError(t, err)
	require.Len(t, rs.Peers, 1)
	assert.Equal(t, bob, rs.Peers[0].UserID)
	assert.Equal(t, after, rs.Peers[0].ReadSeqID)
}

// TestHistory_AcrossRemoval runs the service on a real store:
//
//	1 create(alice)  2 add(bob)  3-6 text  7 remove(bob)  8-9 text  10 add(bob)  11-12 text
func TestHistory_AcrossRemoval(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	topics, members, subs, svc := st.topics, st.members, st.subs, st.svc
	var err error

	text := func(topicID int64, n int) {
		for range n {
			st.text(t, topicID, alice)
		}
	}

	g := &domain.Topic{}
	_, err = topics.CreateGroup(ctx, g, alice, "owner")
	require.NoError(t, err)
	_, err = members.Join(ctx, g.ID, bob, alice, domain.EventAddMember, "")
	require.NoError(t, err)
	text(g.ID, 4)
	_, err = subs.AdvanceReadSeq(ctx, g.ID, bob, 4)
	require.NoError(t, err)
	_, err = members.Leave(ctx, g.ID, bob, alice, domain.EventRemoveMember)
	require.NoError(t, err)
	text(g.ID, 2)

	t.Run("RemovedMember", func(t *testing.T) {
		c, err := svc.ReadCursor(ctx, g.ID, bob)
		require.NoError(t, err)
		assert.Equal(t, int64(4), c.ReadSeqID)

		n, err := svc.UnreadCount(ctx, g.ID, bob)
		require.NoError(t, err)
		assert.Equal(t, 2, n, "seqs 5 and 6, nothing after the removal")

		page, err := svc.ListBefore(ctx, visibility.HistoryQuery{TopicID: g.ID, UserID: bob, Limit: 50})
		require.NoError(t, err)
		assert.Equal(t, []int64{2, 3, 4, 5, 6}, seqsOf(page))

		_, err = svc.MarkRead(ctx, g.ID, bob, 6)
		assert.ErrorIs(t, err, domain.ErrNotMember)
	})

	_, err = members.Join(ctx, g.ID, bob, alice, domain.EventAddMember, "")
	require.NoError(t, err)
	text(g.ID, 2)

	t.Run("ListBefore", func(t *testing.T) {
		page, err := svc.ListBefore(ctx, visibility.HistoryQuery{TopicID: g.ID, UserID: bob, Limit: 3})
		require.NoError(t, err)
		assert.Equal(t, []int64{10, 11, 12}, seqsOf(page))
		assert.True(t, page.HasEarlier)

		page, err = svc.ListBefore(ctx, visibility.HistoryQuery{TopicID: g.ID, UserID: bob, Anchor: 10, Limit: 10})
		require.NoError(t, err)
		assert.Equal(t, []int64{2, 3, 4, 5, 6}, seqsOf(page))
		assert.False(t, page.HasEarlier)
		assert.True(t, page.Items[0].FirstOfDate)

		for _, it := range page.Items {
			assert.False(t, it.Read, "others' group messages are never flagged read")
		}
	})

	t.Run("ListAfter", func(t *testing.T) {
		page, err := svc.ListAfter(ctx, visibility.HistoryQuery{TopicID: g.ID, UserID: bob, Anchor: 4, Limit: 3})
		require.NoError(t, err)
		assert.Equal(t, []int64{5, 6, 10}, seqsOf(page))
		assert.True(t, page.HasLater)
		assert.True(t, page.HasEarlier)
	})

	t.Run("EarlierAndAccessible", func(t *testing.T) {
		earlier, err := svc.HasEarlier(ctx, g.ID, bob, 10)
		require.NoError(t, err)
		assert.True(t, earlier)
		earlier, err = svc.HasEarlier(ctx, g.ID, bob, 2)
		require.NoError(t, err)
		assert.False(t, earlier)

		ok, err := svc.IsMessageAccessible(ctx, g.ID, bob, 8)
		require.NoError(t, err)
		assert.False(t, ok)
		ok, err = svc.IsMessageAccessible(ctx, g.ID, alice, 8)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("CursorAfterRejoin", func(t *testing.T) {
		n, err := svc.UnreadCount(ctx, g.ID, bob)
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		ok, err := svc.MarkRead(ctx, g.ID, bob, 12)
		require.NoError(t, err)
		assert.True(t, ok)
		ok, err = svc.MarkRead(ctx, g.ID, bob, 11)
		require.NoError(t, err)
		assert.False(t, ok)

		n, err = svc.UnreadCount(ctx, g.ID, bob)
		require.NoError(t, err)
		assert.Equal(t, 0, n)

		rs, err := svc.ReadStatus(ctx, g.ID, alice)
		require.NoError(t, err)
		require.Len(t, rs.Peers, 1)
		assert.Equal(t, int64(12), rs.Peers[0].ReadSeqID)

		page, err := svc.ListBefore(ctx, visibility.HistoryQuery{TopicID: g.ID, UserID: alice, Limit: 50})
		require.NoError(t, err)
		flags := readFlags(page)
		for _, seq := range []int64{2, 3, 6, 10, 12} {
			assert.True(t, flags[seq], "seq %d", seq)
		}
		for _, seq := range []int64{1, 7, 8, 9} {
			assert.False(t, flags[seq], "seq %d sits outside bob's membership", seq)
		}
	})
}
