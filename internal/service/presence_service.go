package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/samber/lo"

	"chatcore/internal/domain"
	"chatcore/internal/presence"
)

// PresenceService feeds the registry from connection and typing events and
// forwards what it reports.
type PresenceService struct {
	topics   domain.TopicRepository
	subs     domain.SubscriptionRepository
	registry *presence.Registry
	notifier Notifier
	log      *slog.Logger

	TypingTimeout time.Duration
	now           func() time.Time

	timersMu sync.Mutex
	// typingTimers holds the pending expiry of each typing user.
	typingTimers map[int64]*time.Timer
}

func NewPresenceService(
	topics domain.TopicRepository,
	subs domain.SubscriptionRepository,
	registry *presence.Registry,
	notifier Notifier,
	log *slog.Logger,
	typingTimeout time.Duration,
) *PresenceService {
	return &PresenceService{
		topics:        topics,
		subs:          subs,
		registry:      registry,
		notifier:      notifier,
		log:           log,
		TypingTimeout: typingTimeout,
		now:           time.Now,
		typingTimers:  make(map[int64]*time.Timer),
	}
}

// Connect registers a new connection with the user's current groups and
// returns its id.
func (s *PresenceService) Connect(ctx context.Context, userID int64, conn presence.Connection) (string, error) {
	groupIDs, err := s.topics.ListGroupIDsForUser(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("list groups: %w", err)
	}

	res := s.registry.Register(userID, groupIDs, conn)
	s.notifier.Dispatch(res.Notifications)
	if res.CameOnline {
		s.announcePeers(ctx, userID, EventUserOnline)
	}

	s.log.Debug("connection registered",
		"user_id", userID, "connection_id", res.ConnectionID, "groups", len(groupIDs))
	return res.ConnectionID, nil
}

func (s *PresenceService) Disconnect(ctx context.Context, userID int64, connectionID string) {
	typing, wasTyping := s.registry.Typing(userID)

	res := s.registry.Deregister(userID, connectionID)
	s.notifier.Dispatch(res.Notifications)
	if !res.WentOffline {
		return
	}

	s.dropTypingTimer(userID, nil)
	if wasTyping {
		s.sendTyping(ctx, typing.TopicID, userID, false)
	}
	s.announcePeers(ctx, userID, EventUserOffline)
	if len(res.GroupsTurnedOffline) > 0 {
		s.log.Debug("groups turned offline", "user_id", userID, "topic_ids", res.GroupsTurnedOffline)
	}
}

// announcePeers tells the online peers of the user's direct topics that the
// user came online or went offline.
func (s *PresenceService) announcePeers(ctx context.Context, userID int64, eventType string) {
	topics, err := s.topics.ListForUser(ctx, userID)
	if err != nil {
		s.log.Error("list topics for presence", "user_id", userID, "error", err)
		return
	}

	for _, t := range lo.Filter(topics, func(t *domain.Topic, _ int) bool { return !t.IsGroup() }) {
		ids, err := s.subs.ListMemberIDs(ctx, t.ID)
		if err != nil {
			s.log.Error("list direct peers", "topic_id", t.ID, "error", err)
			continue
		}
		peers := lo.Filter(lo.Without(ids, userID), func(id int64, _ int) bool {
			return s.registry.IsUserOnline(id)
		})
		s.notifier.SendToUsers(peers, map[string]any{
			"type":     eventType,
			"topic_id": t.ID,
			"user_id":  userID,
		})
	}
}

// StartTyping sets the typing target and clears it again after
// TypingTimeout unless a newer start replaced it.
func (s *PresenceService) StartTyping(ctx context.Context, userID, topicID int64) error {
	if _, err := s.subs.Get(ctx, topicID, userID); err != nil {
		return err
	}

	startedAt := s.now()
	s.registry.SetTyping(userID, topicID, startedAt)
	s.sendTyping(ctx, topicID, userID, true)

	s.armTypingTimer(userID, startedAt)
	return nil
}

// armTypingTimer replaces the user's pending expiry with a new one.
func (s *PresenceService) armTypingTimer(userID int64, startedAt time.Time) {
	s.timersMu.Lock()
	defer s.timersMu.Unlock()

	if prev, ok := s.typingTimers[userID]; ok {
		prev.Stop()
	}
	var timer *time.Timer
	timer = time.AfterFunc(s.TypingTimeout, func() {
		s.dropTypingTimer(userID, timer)
		if prev, ok := s.registry.ExpireTyping(userID, startedAt); ok {
			s.sendTyping(context.Background(), prev.TopicID, userID, false)
		}
	})
	s.typingTimers[userID] = timer
}

// dropTypingTimer forgets the user's timer. A nil timer stops whichever one
// is pending; otherwise only that exact timer is removed.
func (s *PresenceService) dropTypingTimer(userID int64, timer *time.Timer) {
	s.timersMu.Lock()
	defer s.timersMu.Unlock()

	cur, ok := s.typingTimers[userID]
	if !ok || (timer != nil && cur != timer) {
		return
	}
	cur.Stop()
	delete(s.typingTimers, userID)
}

func (s *PresenceService) StopTyping(ctx context.Context, userID int64) {
	s.dropTypingTimer(userID, nil)
	if prev, ok := s.registry.ClearTyping(userID); ok {
		s.sendTyping(ctx, prev.TopicID, userID, false)
	}
}

func (s *PresenceService) sendTyping(ctx context.Context, topicID, userID int64, typing bool) {
	ids, err := s.subs.ListMemberIDs(ctx, topicID)
	if err != nil {
		s.log.Error("list members for typing", "topic_id", topicID, "error", err)
		return
	}
	s.notifier.SendToUsers(lo.Without(ids, userID), typingPayload(topicID, userID, typing))
}

// SubscribeDetail opts a member into roster updates of a group and returns
// the current online members.
func (s *PresenceService) SubscribeDetail(ctx context.Context, userID, topicID int64) ([]int64, error) {
	if err := s.requireGroupMember(ctx, topicID, userID); err != nil {
		return nil, err
	}
	return s.registry.SubscribeDetail(userID, topicID), nil
}

func (s *PresenceService) UnsubscribeDetail(userID, topicID int64) {
	s.registry.UnsubscribeDetail(userID, topicID)
}

func (s *PresenceService) GroupStatus(ctx context.Context, userID, topicID int64) (presence.GroupStatus, error) {
	if err := s.requireGroupMember(ctx, topicID, userID); err != nil {
		return presence.GroupStatus{}, err
	}
	return s.registry.IsGroupOnline(topicID), nil
}

func (s *PresenceService) IsUserOnline(userID int64) bool {
	return s.registry.IsUserOnline(userID)
}

func (s *PresenceService) Stats() presence.Stats {
	return s.registry.Stats()
}

func (s *PresenceService) requireGroupMember(ctx context.Context, topicID, userID int64) error {
	t, err := s.topics.GetByID(ctx, topicID)
	if err != nil {
		return err
	}
	if !t.IsGroup() {
		return domain.ErrNotGroup
	}
	_, err = s.subs.Get(ctx, topicID, userID)
	return err
}
