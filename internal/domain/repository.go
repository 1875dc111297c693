package domain

import (
	"context"
)

// TopicRepository defines persistence operations for topics.
type TopicRepository interface {
	CreateGroup(ctx context.Context, t *Topic, creatorID int64, permission string) (*MembershipEvent, error)
	CreateDirect(ctx context.Context, t *Topic, userA, userB int64) error
	GetByID(ctx context.Context, id int64) (*Topic, error)
	FindDirect(ctx context.Context, userA, userB int64) (*Topic, error)
	ListForUser(ctx context.Context, userID int64) ([]*Topic, error)
	ListGroupIDsForUser(ctx context.Context, userID int64) ([]int64, error)
}

// MembershipRepository owns the append-only membership event log together
// with the subscription rows and removal snapshots it implies.
type MembershipRepository interface {
	// Join appends an entry event and creates the subscription in one
	// transaction.
	Join(ctx context.Context, topicID, userID, actorID int64, kind EventKind, permission string) (*MembershipEvent, error)
	// Leave appends an exit event, snapshots the cursor and deletes the
	// subscription in one transaction.
	Leave(ctx context.Context, topicID, userID, actorID int64, kind EventKind) (*MembershipEvent, error)
	ChangePermission(ctx context.Context, topicID, userID, actorID int64, permission string) (*MembershipEvent, error)
	ListEventSeqIDs(ctx context.Context, topicID, userID int64, kinds []EventKind) ([]int64, error)
	LatestExitEvent(ctx context.Context, topicID, userID int64) (*MembershipEvent, error)
	GetSnapshot(ctx context.Context, eventID int64) (*RemovalSnapshot, error)
	ListEvents(ctx context.Context, topicID int64) ([]*MembershipEvent, error)
}

// SubscriptionRepository reads live subscriptions and moves cursors.
type SubscriptionRepository interface {
	Get(ctx context.Context, topicID, userID int64) (*Subscription, error)
	ListMemberIDs(ctx context.Context, topicID int64) ([]int64, error)
	ListForTopic(ctx context.Context, topicID int64) ([]*Subscription, error)
	// AdvanceReadSeq only applies seqID when it is greater than the stored
	// value and reports whether it did.
	AdvanceReadSeq(ctx context.Context, topicID, userID, seqID int64) (bool, error)
	AdvanceRecvSeq(ctx context.Context, topicID, userID, seqID int64) (bool, error)
	// MaxPeerReadSeq returns the largest read cursor among the other members.
	MaxPeerReadSeq(ctx context.Context, topicID, userID int64) (int64, error)
}

// MessageRepository defines persistence operations for messages.
type MessageRepository interface {
	Create(ctx context.Context, m *Message) error
	GetBySeq(ctx context.Context, topicID, seqID int64) (*Message, error)
	// ListRange returns messages with fromSeq <= seq < toSeq, newest first,
	// without the ones userID deleted for themselves.
	ListRange(ctx context.Context, topicID, userID, fromSeq, toSeq int64, limit int) ([]*Message, error)
	// ListRangeAsc is ListRange in ascending order.
	ListRangeAsc(ctx context.Context, topicID, userID, fromSeq, toSeq int64, limit int) ([]*Message, error)
	ExistsInRange(ctx context.Context, topicID, userID, fromSeq, toSeq int64) (bool, error)
	CountUnread(ctx context.Context, topicID, userID, fromSeq, toSeq int64) (int, error)
	DeleteForUser(ctx context.Context, topicID, seqID, userID int64) error
	DeleteForEveryone(ctx context.Context, topicID, seqID int64) error
	IsDeletedForUser(ctx context.Context, topicID, seqID, userID int64) (bool, error)
}
