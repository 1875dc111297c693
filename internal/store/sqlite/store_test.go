package sqlite_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatcore/internal/domain"
	"chatcore/internal/store/sqlite"
)

type repos struct {
	topics  *sqlite.TopicRepo
	members *sqlite.MembershipRepo
	subs    *sqlite.SubscriptionRepo
	msgs    *sqlite.MessageRepo
}

func openTestDB(t *testing.T) (*sql.DB, repos) {
	t.Helper()
	db, err := sqlite.Open(filepath.Join(t.TempDir(), "chat.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, sqlite.Migrate(db))
	require.NoError(t, sqlite.Migrate(db), "migrations must be re-runnable")

	return db, repos{
		topics:  sqlite.NewTopicRepo(db),
		members: sqlite.NewMembershipRepo(db),
		subs:    sqlite.NewSubscriptionRepo(db),
		msgs:    sqlite.NewMessageRepo(db),
	}
}

func newGroup(t *testing.T, r repos, creator int64) *domain.Topic {
	t.Helper()
	name := "team"
	topic := &domain.Topic{Name: &name}
	e, err := r.topics.CreateGroup(context.Background(), topic, creator, "owner")
	require.NoError(t, err)
	require.Equal(t, domain.EventCreate, e.Kind)
	return topic
}

func send(t *testing.T, r repos, topicID, sender int64, text string) *domain.Message {
	t.Helper()
	m := &domain.Message{TopicID: topicID, SenderID: sender, Kind: domain.MessageText, Content: text}
	require.NoError(t, r.msgs.Create(context.Background(), m))
	return m
}

func TestTopicRepo_GroupAndDirect(t *testing.T) {
	ctx := context.Background()
	_, r := openTestDB(t)

	g := newGroup(t, r, 1)
	assert.Equal(t, int64(1), g.LastSeqID)
	assert.True(t, g.IsGroup())

	got, err := r.topics.GetByID(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, "team", *got.Name)
	assert.Equal(t, int64(1), got.LastSeqID)

	_, err = r.topics.GetByID(ctx, 999)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	d := &domain.Topic{}
	require.NoError(t, r.topics.CreateDirect(ctx, d, 2, 1))
	assert.ErrorIs(t, r.topics.CreateDirect(ctx, &domain.Topic{}, 1, 2), domain.ErrConflict)

	found, err := r.topics.FindDirect(ctx, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, d.ID, found.ID)
	assert.Equal(t, domain.TopicDirect, found.Kind)

	ids, err := r.topics.ListGroupIDsForUser(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []int64{g.ID}, ids)

	topics, err := r.topics.ListForUser(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, topics, 2)

	_, err = r.members.Join(ctx, d.ID, 3, 3, domain.EventJoinByID, "")
	assert.ErrorIs(t, err, domain.ErrNotGroup)
}

func TestMessageRepo_SequenceIDs(t *testing.T) {
	ctx := context.Background()
	_, r := openTestDB(t)
	g := newGroup(t, r, 1)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m := &domain.Message{TopicID: g.ID, SenderID: 1, Kind: domain.MessageText, Content: "hi"}
			assert.NoError(t, r.msgs.Create(ctx, m))
		}()
	}
	wg.Wait()

	msgs, err := r.msgs.ListRangeAsc(ctx, g.ID, 1, 0, 1<<62, 100)
	require.NoError(t, err)
	require.Len(t, msgs, 21)
	for i, m := range msgs {
		assert.Equal(t, int64(i+1), m.SeqID)
	}

	err = r.msgs.Create(ctx, &domain.Message{TopicID: 999, SenderID: 1, Kind: domain.MessageText, Content: "x"})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMembershipRepo_JoinLeaveLog(t *testing.T) {
	ctx := context.Background()
	_, r := openTestDB(t)
	g := newGroup(t, r, 1) // seq 1

	join, err := r.members.Join(ctx, g.ID, 2, 1, domain.EventAddMember, "member") // seq 2
	require.NoError(t, err)
	require.NotNil(t, join.AffectedID)
	assert.Equal(t, int64(2), join.SubjectID())
	assert.Equal(t, int64(2), join.SeqID)

	_, err = r.members.Join(ctx, g.ID, 2, 2, domain.EventJoinByLink, "")
	assert.ErrorIs(t, err, domain.ErrAlreadyMember)

	send(t, r, g.ID, 1, "a") // seq 3
	m4 := send(t, r, g.ID, 1, "b")
	ok, err := r.subs.AdvanceReadSeq(ctx, g.ID, 2, m4.SeqID)
	require.NoError(t, err)
	require.True(t, ok)

	leave, err := r.members.Leave(ctx, g.ID, 2, 2, domain.EventLeave) // seq 5
	require.NoError(t, err)
	assert.Nil(t, leave.AffectedID)
	assert.Equal(t, int64(5), leave.SeqID)

	_, err = r.subs.Get(ctx, g.ID, 2)
	assert.ErrorIs(t, err, domain.ErrNotMember)
	_, err = r.members.Leave(ctx, g.ID, 2, 2, domain.EventLeave)
	assert.ErrorIs(t, err, domain.ErrNotMember)

	latest, err := r.members.LatestExitEvent(ctx, g.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, leave.ID, latest.ID)

	snap, err := r.members.GetSnapshot(ctx, latest.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(4), snap.ReadSeqID)
	assert.Equal(t, int64(4), snap.RecvSeqID)

	_, err = r.members.Join(ctx, g.ID, 2, 2, domain.EventJoinByID, "member") // seq 6
	require.NoError(t, err)

	entries, err := r.members.ListEventSeqIDs(ctx, g.ID, 2, domain.EntryKinds)
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 6}, entries)
	exits, err := r.members.ListEventSeqIDs(ctx, g.ID, 2, domain.ExitKinds)
	require.NoError(t, err)
	assert.Equal(t, []int64{5}, exits)

	creator, err := r.members.ListEventSeqIDs(ctx, g.ID, 1, domain.EntryKinds)
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, creator)

	_, err = r.members.LatestExitEvent(ctx, g.ID, 1)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	perm, err := r.members.ChangePermission(ctx, g.ID, 2, 1, "admin") // seq 7
	require.NoError(t, err)
	assert.Equal(t, domain.EventPermissionChange, perm.Kind)
	sub, err := r.subs.Get(ctx, g.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, "admin", sub.Permission)
	assert.Equal(t, int64(6), sub.ReadSeqID, "rejoin starts the cursor at the join event")

	events, err := r.members.ListEvents(ctx, g.ID)
	require.NoError(t, err)
	kinds := make([]domain.EventKind, 0, len(events))
	for _, e := range events {
		kinds = append(kinds, e.Kind)
	}
	assert.Equal(t, []domain.EventKind{
		domain.EventCreate, domain.EventAddMember, domain.EventLeave,
		domain.EventJoinByID, domain.EventPermissionChange,
	}, kinds)

	_, err = r.members.Join(ctx, g.ID, 3, 3, domain.EventLeave, "")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestSubscriptionRepo_CursorIsMonotonic(t *testing.T) {
	ctx := context.Background()
	_, r := openTestDB(t)
	d := &domain.Topic{}
	require.NoError(t, r.topics.CreateDirect(ctx, d, 1, 2))

	ok, err := r.subs.AdvanceReadSeq(ctx, d.ID, 1, 5)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = r.subs.AdvanceReadSeq(ctx, d.ID, 1, 3)
	require.NoError(t, err)
	assert.False(t, ok)

	sub, err := r.subs.Get(ctx, d.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(5), sub.ReadSeqID)
	assert.Equal(t, int64(5), sub.RecvSeqID)

	ok, err = r.subs.AdvanceRecvSeq(ctx, d.ID, 1, 4)
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = r.subs.AdvanceRecvSeq(ctx, d.ID, 1, 9)
	require.NoError(t, err)
	assert.True(t, ok)

	var wg sync.WaitGroup
	for _, seq := range []int64{7, 4, 6} {
		wg.Add(1)
		go func(seq int64) {
			defer wg.Done()
			_, err := r.subs.AdvanceReadSeq(ctx, d.ID, 2, seq)
			assert.NoError(t, err)
		}(seq)
	}
	wg.Wait()

	sub, err = r.subs.Get(ctx, d.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(7), sub.ReadSeqID)

	peer, err := r.subs.MaxPeerReadSeq(ctx, d.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(7), peer)

	ids, err := r.subs.ListMemberIDs(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, ids)
}

func TestMessageRepo_RangesAndDeletion(t *testing.T) {
	ctx := context.Background()
	_, r := openTestDB(t)
	d := &domain.Topic{}
	require.NoError(t, r.topics.CreateDirect(ctx, d, 1, 2))

	for i := 0; i < 6; i++ {
		send(t, r, d.ID, 1+int64(i%2), "m")
	}
	// seqs 1..6, senders 1,2,1,2,1,2

	desc, err := r.msgs.ListRange(ctx, d.ID, 1, 2, 5, 10)
	require.NoError(t, err)
	require.Len(t, desc, 3)
	assert.Equal(t, int64(4), desc[0].SeqID)
	assert.Equal(t, int64(2), desc[2].SeqID)

	limited, err := r.msgs.ListRange(ctx, d.ID, 1, 0, 1<<62, 2)
	require.NoError(t, err)
	require.Len(t, limited, 2)
	assert.Equal(t, int64(6), limited[0].SeqID)

	unread, err := r.msgs.CountUnread(ctx, d.ID, 1, 3, 1<<62)
	require.NoError(t, err)
	assert.Equal(t, 2, unread) // seqs 4 and 6 from user 2

	require.NoError(t, r.msgs.DeleteForUser(ctx, d.ID, 4, 1))
	require.NoError(t, r.msgs.DeleteForUser(ctx, d.ID, 4, 1))
	deleted, err := r.msgs.IsDeletedForUser(ctx, d.ID, 4, 1)
	require.NoError(t, err)
	assert.True(t, deleted)
	deleted, err = r.msgs.IsDeletedForUser(ctx, d.ID, 4, 2)
	require.NoError(t, err)
	assert.False(t, deleted)

	require.NoError(t, r.msgs.DeleteForEveryone(ctx, d.ID, 6))
	assert.ErrorIs(t, r.msgs.DeleteForEveryone(ctx, d.ID, 99), domain.ErrNotFound)

	unread, err = r.msgs.CountUnread(ctx, d.ID, 1, 3, 1<<62)
	require.NoError(t, err)
	assert.Equal(t, 0, unread)

	exists, err := r.msgs.ExistsInRange(ctx, d.ID, 1, 4, 5)
	require.NoError(t, err)
	assert.False(t, exists, "deleted for me is hidden")
	exists, err = r.msgs.ExistsInRange(ctx, d.ID, 2, 4, 5)
	require.NoError(t, err)
	assert.True(t, exists)

	m, err := r.msgs.GetBySeq(ctx, d.ID, 6)
	require.NoError(t, err)
	assert.True(t, m.IsDeleted)
	_, err = r.msgs.GetBySeq(ctx, d.ID, 42)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
