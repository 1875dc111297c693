package presence

// Kind is the fixed outbound notification vocabulary of the registry.
type Kind string

const (
	KindStatusOn      Kind = "status-on"
	KindStatusOff     Kind = "status-off"
	KindDetailChanged Kind = "detail-online-members-changed"
)

// StatusNotification is the coarse tier: a group crossed the online
// threshold and UserID, an online member of that group, must be told.
type StatusNotification struct {
	Kind    Kind  `json:"kind"`
	TopicID int64 `json:"topic_id"`
	UserID  int64 `json:"user_id"`
}

// DetailNotification is the fine tier: UserID subscribed to the roster of
// TopicID and receives the full online member set after every change.
type DetailNotification struct {
	TopicID         int64   `json:"topic_id"`
	UserID          int64   `json:"user_id"`
	OnlineMemberIDs []int64 `json:"online_member_ids"`
}

func (DetailNotification) Kind() Kind {
	return KindDetailChanged
}

// Notifications carries both tiers produced by one registry call. A detail
// subscriber may also get a status notification for the same change.
type Notifications struct {
	Status []StatusNotification `json:"status,omitempty"`
	Detail []DetailNotification `json:"detail,omitempty"`
}

func (n Notifications) Empty() bool {
	return len(n.Status) == 0 && len(n.Detail) == 0
}

func (n *Notifications) add(other Notifications) {
	n.Status = append(n.Status, other.Status...)
	n.Detail = append(n.Detail, other.Detail...)
}
