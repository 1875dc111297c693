package visibility_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"chatcore/internal/domain"
	"chatcore/internal/membership"
	"chatcore/internal/visibility"
)

func TestFirstOfDate(t *testing.T) {
	jan := func(day, hour int) time.Time {
		return time.Date(2026, time.January, day, hour, 0, 0, 0, time.UTC)
	}
	dates := []time.Time{jan(1, 9), jan(1, 18), jan(2, 8), jan(2, 23), jan(3, 0)}
	hint := jan(1, 7)
	otherDay := jan(0, 12)

	tests := []struct {
		name string
		hint *time.Time
		want []bool
	}{
		{"NoHint", nil, []bool{true, false, true, false, true}},
		{"SameDateHint", &hint, []bool{false, false, true, false, true}},
		{"EarlierDateHint", &otherDay, []bool{true, false, true, false, true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, visibility.FirstOfDate(dates, tt.hint, nil))
		})
	}

	t.Run("Empty", func(t *testing.T) {
		assert.Empty(t, visibility.FirstOfDate(nil, &hint, nil))
	})

	t.Run("Location", func(t *testing.T) {
		// 23:00 and 01:00 UTC fall on the same day three hours west.
		loc := time.FixedZone("UTC-3", -3*60*60)
		got := visibility.FirstOfDate([]time.Time{jan(1, 23), jan(2, 1)}, nil, loc)
		assert.Equal(t, []bool{true, false}, got)
		got = visibility.FirstOfDate([]time.Time{jan(1, 23), jan(2, 1)}, nil, time.UTC)
		assert.Equal(t, []bool{true, true}, got)
	})
}

func TestReadState_IsRead(t *testing.T) {
	const me, peer int64 = 1, 2
	mine := func(seq int64) *domain.Message { return &domain.Message{SeqID: seq, SenderID: me} }
	theirs := func(seq int64) *domain.Message { return &domain.Message{SeqID: seq, SenderID: peer} }

	direct := visibility.ReadState{UserID: me, OwnRead: 5, PeerRead: 3}
	assert.True(t, direct.IsRead(mine(3)))
	assert.False(t, direct.IsRead(mine(4)))
	assert.True(t, direct.IsRead(theirs(5)))
	assert.False(t, direct.IsRead(theirs(6)))

	group := visibility.ReadState{UserID: me, Group: true, OwnRead: 50, Peers: []visibility.PeerCursor{
		{UserID: peer, ReadSeqID: 9, Intervals: []membership.Interval{membership.Open(1)}},
		{UserID: 3, ReadSeqID: 40, Intervals: []membership.Interval{membership.Open(20)}},
	}}
	assert.True(t, group.IsRead(mine(9)), "any member past the message marks it read")
	assert.False(t, group.IsRead(mine(10)))
	assert.True(t, group.IsRead(mine(25)))
	assert.False(t, group.IsRead(mine(15)), "a later joiner's cursor does not cover earlier messages")
	assert.False(t, group.IsRead(theirs(1)), "others' group messages are never flagged")
}
