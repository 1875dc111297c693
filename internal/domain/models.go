package domain

import "time"

// TopicKind distinguishes two-party conversations from groups.
type TopicKind string

const (
	TopicDirect TopicKind = "p2p"
	TopicGroup  TopicKind = "group"
)

// Topic represents a chat destination (direct or group).
type Topic struct {
	ID        int64     `db:"id" json:"id"`
	Kind      TopicKind `db:"kind" json:"kind"`
	Name      *string   `db:"name" json:"name,omitempty"`
	LastSeqID int64     `db:"last_seq_id" json:"last_seq_id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

func (t *Topic) IsGroup() bool {
	return t.Kind == TopicGroup
}

// Subscription is the live record binding a user to a topic. It is deleted
// when the user leaves or is removed.
type Subscription struct {
	UserID     int64     `db:"user_id" json:"user_id"`
	TopicID    int64     `db:"topic_id" json:"topic_id"`
	Permission string    `db:"permission" json:"permission"`
	ReadSeqID  int64     `db:"read_seq_id" json:"read_seq_id"`
	RecvSeqID  int64     `db:"recv_seq_id" json:"recv_seq_id"`
	JoinedAt   time.Time `db:"joined_at" json:"joined_at"`
}

func (s *Subscription) Cursor() ReadCursor {
	return ReadCursor{
		UserID:    s.UserID,
		TopicID:   s.TopicID,
		ReadSeqID: s.ReadSeqID,
		RecvSeqID: s.RecvSeqID,
	}
}

// ReadCursor is a user's read/received position in a topic.
type ReadCursor struct {
	UserID    int64 `json:"user_id"`
	TopicID   int64 `json:"topic_id"`
	ReadSeqID int64 `json:"read_seq_id"`
	RecvSeqID int64 `json:"recv_seq_id"`
}

// EventKind is the kind of a membership-changing action.
type EventKind string

const (
	EventCreate           EventKind = "create"
	EventJoinByID         EventKind = "join_by_id"
	EventJoinByLink       EventKind = "join_by_link"
	EventAddMember        EventKind = "add_member"
	EventRemoveMember     EventKind = "remove_member"
	EventLeave            EventKind = "leave"
	EventPermissionChange EventKind = "permission_change"
)

// EntryKinds start a membership period, ExitKinds end one.
var (
	EntryKinds = []EventKind{EventCreate, EventJoinByID, EventJoinByLink, EventAddMember}
	ExitKinds  = []EventKind{EventRemoveMember, EventLeave}
)

func (k EventKind) IsEntry() bool {
	switch k {
	case EventCreate, EventJoinByID, EventJoinByLink, EventAddMember:
		return true
	}
	return false
}

func (k EventKind) IsExit() bool {
	return k == EventRemoveMember || k == EventLeave
}

// MembershipEvent is an immutable log entry anchored to the sequence id of a
// synthetic event message in the topic timeline.
type MembershipEvent struct {
	ID         int64     `db:"id" json:"id"`
	TopicID    int64     `db:"topic_id" json:"topic_id"`
	Kind       EventKind `db:"kind" json:"kind"`
	ActorID    int64     `db:"actor_id" json:"actor_id"`
	AffectedID *int64    `db:"affected_id" json:"affected_id,omitempty"`
	SeqID      int64     `db:"seq_id" json:"seq_id"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// SubjectID returns the user whose membership the event changes.
func (e *MembershipEvent) SubjectID() int64 {
	if e.AffectedID != nil {
		return *e.AffectedID
	}
	return e.ActorID
}

// RemovalSnapshot keeps the cursor a user had at the moment a removal or
// leave event deleted their subscription.
type RemovalSnapshot struct {
	EventID   int64     `db:"event_id" json:"event_id"`
	TopicID   int64     `db:"topic_id" json:"topic_id"`
	UserID    int64     `db:"user_id" json:"user_id"`
	ReadSeqID int64     `db:"read_seq_id" json:"read_seq_id"`
	RecvSeqID int64     `db:"recv_seq_id" json:"recv_seq_id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

func (s *RemovalSnapshot) Cursor() ReadCursor {
	return ReadCursor{
		UserID:    s.UserID,
		TopicID:   s.TopicID,
		ReadSeqID: s.ReadSeqID,
		RecvSeqID: s.RecvSeqID,
	}
}

// MessageKind separates user messages from synthetic membership-event entries.
type MessageKind string

const (
	MessageText  MessageKind = "text"
	MessageEvent MessageKind = "event"
)

// Message represents a single timeline entry of a topic.
type Message struct {
	ID           int64       `db:"id" json:"id"`
	TopicID      int64       `db:"topic_id" json:"topic_id"`
	SeqID        int64       `db:"seq_id" json:"seq_id"`
	SenderID     int64       `db:"sender_id" json:"sender_id"`
	Kind         MessageKind `db:"kind" json:"kind"`
	Content      string      `db:"content" json:"content"`
	ReplyToSeqID *int64      `db:"reply_to_seq_id" json:"reply_to_seq_id,omitempty"`
	CreatedAt    time.Time   `db:"created_at" json:"created_at"`
	IsDeleted    bool        `db:"is_deleted" json:"is_deleted"`
}
