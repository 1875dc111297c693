// Package presence tracks who is online, per user and per group, and
// computes whom to notify when that changes.
//
// The Registry is a cache: it never touches storage, group membership lists
// are handed in by the caller, and the whole state can be rebuilt from
// storage by replaying connects after a restart.
package presence

import (
	"cmp"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

// A group reads as online once this many of its members are connected.
const onlineThreshold = 2

// Connection is the push handle of one live transport session.
type Connection interface {
	Send(payload any) error
}

// TypingTarget is the topic a user is currently typing in.
type TypingTarget struct {
	TopicID   int64     `json:"topic_id"`
	StartedAt time.Time `json:"started_at"`
}

type RegisterResult struct {
	ConnectionID string
	// CameOnline is set when this is the user's first connection.
	CameOnline    bool
	Notifications Notifications
}

type DeregisterResult struct {
	// WentOffline is set when the last connection of the user was removed.
	WentOffline         bool
	GroupsTurnedOffline []int64
	Notifications       Notifications
}

type MembershipChange struct {
	Changed       bool
	Notifications Notifications
}

type GroupStatus struct {
	TopicID     int64 `json:"topic_id"`
	IsOnline    bool  `json:"is_online"`
	OnlineCount int   `json:"online_count"`
}

type Stats struct {
	Users       int `json:"users"`
	Connections int `json:"connections"`
	Groups      int `json:"groups"`
}

type userPresence struct {
	conns  map[string]Connection
	groups map[int64]struct{}
	typing *TypingTarget
}

type groupPresence struct {
	online map[int64]struct{}
	detail map[int64]struct{}
}

func (g *groupPresence) isOnline() bool {
	return len(g.online) >= onlineThreshold
}

// Registry is the single in-memory authority for presence. One mutex guards
// all state; every method is synchronous and never blocks on I/O.
type Registry struct {
	mu     sync.Mutex
	users  map[int64]*userPresence
	groups map[int64]*groupPresence
	newID  func() string
}

func NewRegistry() *Registry {
	return &Registry{
		users:  make(map[int64]*userPresence),
		groups: make(map[int64]*groupPresence),
		newID:  uuid.NewString,
	}
}

// Register adds a connection for userID and marks the user online in every
// group of groupIDs.
func (r *Registry) Register(userID int64, groupIDs []int64, conn Connection) RegisterResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[userID]
	if !ok {
		u = &userPresence{
			conns:  make(map[string]Connection),
			groups: make(map[int64]struct{}),
		}
		r.users[userID] = u
	}
	connID := r.newID()
	u.conns[connID] = conn

	res := RegisterResult{ConnectionID: connID, CameOnline: !ok}
	for _, topicID := range lo.Uniq(groupIDs) {
		if _, n := r.join(u, userID, topicID); !n.Empty() {
			res.Notifications.add(n)
		}
	}
	return res
}

// Deregister removes a connection. Only the removal of the last connection
// of a user changes presence.
func (r *Registry) Deregister(userID int64, connectionID string) DeregisterResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	var res DeregisterResult
	u, ok := r.users[userID]
	if !ok {
		return res
	}
	if _, ok := u.conns[connectionID]; !ok {
		return res
	}
	delete(u.conns, connectionID)
	if len(u.conns) > 0 {
		return res
	}

	res.WentOffline = true
	for _, topicID := range sortedKeys(u.groups) {
		_, turnedOffline, n := r.leave(u, userID, topicID)
		if turnedOffline {
			res.GroupsTurnedOffline = append(res.GroupsTurnedOffline, topicID)
		}
		res.Notifications.add(n)
	}
	delete(r.users, userID)
	return res
}

func (r *Registry) IsUserOnline(userID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.users[userID]
	return ok
}

func (r *Registry) IsGroupOnline(topicID int64) GroupStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	status := GroupStatus{TopicID: topicID}
	if g, ok := r.groups[topicID]; ok {
		status.OnlineCount = len(g.online)
		status.IsOnline = g.isOnline()
	}
	return status
}

// OnlineMembers returns the ids of the connected members of a group.
func (r *Registry) OnlineMembers(topicID int64) []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	g, ok := r.groups[topicID]
	if !ok {
		return nil
	}
	return sortedKeys(g.online)
}

// AddMemberToGroup counts an already connected user as online in a group
// they just became a member of. Offline users are left alone.
func (r *Registry) AddMemberToGroup(userID, topicID int64) MembershipChange {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[userID]
	if !ok {
		return MembershipChange{}
	}
	changed, n := r.join(u, userID, topicID)
	return MembershipChange{Changed: changed, Notifications: n}
}

// RemoveMemberFromGroup drops a user who left or was removed from a group.
// The user also loses their detail subscription and typing target there.
func (r *Registry) RemoveMemberFromGroup(userID, topicID int64) MembershipChange {
	r.mu.Lock()
	defer r.mu.Unlock()

	if g, ok := r.groups[topicID]; ok {
		delete(g.detail, userID)
	}
	u, ok := r.users[userID]
	if !ok {
		return MembershipChange{}
	}
	if u.typing != nil && u.typing.TopicID == topicID {
		u.typing = nil
	}
	changed, _, n := r.leave(u, userID, topicID)
	return MembershipChange{Changed: changed, Notifications: n}
}

// SetTyping overwrites the typing target of a connected user.
func (r *Registry) SetTyping(userID, topicID int64, startedAt time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if u, ok := r.users[userID]; ok {
		u.typing = &TypingTarget{TopicID: topicID, StartedAt: startedAt}
	}
}

// ClearTyping removes the typing target and returns the one that was set.
func (r *Registry) ClearTyping(userID int64) (TypingTarget, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[userID]
	if !ok || u.typing == nil {
		return TypingTarget{}, false
	}
	prev := *u.typing
	u.typing = nil
	return prev, true
}

// ExpireTyping clears the typing target only if it is still the one started
// at startedAt, so a timeout never cancels a newer indicator.
func (r *Registry) ExpireTyping(userID int64, startedAt time.Time) (TypingTarget, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[userID]
	if !ok || u.typing == nil || !u.typing.StartedAt.Equal(startedAt) {
		return TypingTarget{}, false
	}
	prev := *u.typing
	u.typing = nil
	return prev, true
}

func (r *Registry) Typing(userID int64) (TypingTarget, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[userID]
	if !ok || u.typing == nil {
		return TypingTarget{}, false
	}
	return *u.typing, true
}

// SubscribeDetail adds userID to the roster subscribers of a group and
// returns the current online member set.
func (r *Registry) SubscribeDetail(userID, topicID int64) []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	g := r.group(topicID)
	g.detail[userID] = struct{}{}
	return sortedKeys(g.online)
}

func (r *Registry) UnsubscribeDetail(userID, topicID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if g, ok := r.groups[topicID]; ok {
		delete(g.detail, userID)
	}
}

func (r *Registry) DetailSubscribers(topicID int64) []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	g, ok := r.groups[topicID]
	if !ok {
		return nil
	}
	return sortedKeys(g.detail)
}

// ConnectionsOf returns the push handles of every connection of a user.
func (r *Registry) ConnectionsOf(userID int64) []Connection {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[userID]
	if !ok {
		return nil
	}
	return lo.Values(u.conns)
}

// OtherConnections returns the user's connections except connectionID.
func (r *Registry) OtherConnections(userID int64, connectionID string) []Connection {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[userID]
	if !ok {
		return nil
	}
	return lo.Values(lo.OmitByKeys(u.conns, []string{connectionID}))
}

func (r *Registry) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := Stats{Users: len(r.users), Groups: len(r.groups)}
	for _, u := range r.users {
		s.Connections += len(u.conns)
	}
	return s
}

// ── helpers (callers hold r.mu) ──────────────────────────────────────────────

func (r *Registry) group(topicID int64) *groupPresence {
	g, ok := r.groups[topicID]
	if !ok {
		g = &groupPresence{
			online: make(map[int64]struct{}),
			detail: make(map[int64]struct{}),
		}
		r.groups[topicID] = g
	}
	return g
}

func (r *Registry) join(u *userPresence, userID, topicID int64) (bool, Notifications) {
	g := r.group(topicID)
	if _, ok := g.online[userID]; ok {
		return false, Notifications{}
	}
	wasOnline := g.isOnline()
	g.online[userID] = struct{}{}
	u.groups[topicID] = struct{}{}

	var n Notifications
	if !wasOnline && g.isOnline() {
		n.Status = statusFor(KindStatusOn, topicID, g, userID)
	}
	n.Detail = detailFor(topicID, g)
	return true, n
}

func (r *Registry) leave(u *userPresence, userID, topicID int64) (changed, turnedOffline bool, n Notifications) {
	delete(u.groups, topicID)
	g, ok := r.groups[topicID]
	if !ok {
		return false, false, n
	}
	if _, ok := g.online[userID]; !ok {
		return false, false, n
	}
	wasOnline := g.isOnline()
	delete(g.online, userID)

	if wasOnline && !g.isOnline() {
		turnedOffline = true
		n.Status = statusFor(KindStatusOff, topicID, g, userID)
	}
	n.Detail = detailFor(topicID, g)
	return true, turnedOffline, n
}

// statusFor addresses every online member of g except the one whose change
// caused the crossing.
func statusFor(kind Kind, topicID int64, g *groupPresence, causedBy int64) []StatusNotification {
	var res []StatusNotification
	for _, id := range sortedKeys(g.online) {
		if id == causedBy {
			continue
		}
		res = append(res, StatusNotification{Kind: kind, TopicID: topicID, UserID: id})
	}
	return res
}

func detailFor(topicID int64, g *groupPresence) []DetailNotification {
	if len(g.detail) == 0 {
		return nil
	}
	members := sortedKeys(g.online)
	res := make([]DetailNotification, 0, len(g.detail))
	for _, id := range sortedKeys(g.detail) {
		res = append(res, DetailNotification{
			TopicID:         topicID,
			UserID:          id,
			OnlineMemberIDs: slices.Clone(members),
		})
	}
	return res
}

func sortedKeys[K cmp.Ordered, V any](m map[K]V) []K {
	keys := lo.Keys(m)
	slices.Sort(keys)
	return keys
}
