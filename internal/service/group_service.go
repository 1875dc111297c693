package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/samber/lo"

	"chatcore/internal/domain"
	"chatcore/internal/presence"
)

// GroupService runs topic and membership actions. Every action commits to
// storage first, then updates the registry, then notifies.
type GroupService struct {
	topics   domain.TopicRepository
	members  domain.MembershipRepository
	subs     domain.SubscriptionRepository
	registry *presence.Registry
	notifier Notifier
	log      *slog.Logger
}

func NewGroupService(
	topics domain.TopicRepository,
	members domain.MembershipRepository,
	subs domain.SubscriptionRepository,
	registry *presence.Registry,
	notifier Notifier,
	log *slog.Logger,
) *GroupService {
	return &GroupService{
		topics:   topics,
		members:  members,
		subs:     subs,
		registry: registry,
		notifier: notifier,
		log:      log,
	}
}

type GroupCreateInput struct {
	Name      string
	MemberIDs []int64
}

func (s *GroupService) CreateGroup(ctx context.Context, creatorID int64, in GroupCreateInput) (*domain.Topic, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, fmt.Errorf("group name is required: %w", domain.ErrInvalidInput)
	}

	topic := &domain.Topic{Name: &name}
	if _, err := s.topics.CreateGroup(ctx, topic, creatorID, PermOwner); err != nil {
		return nil, fmt.Errorf("create group: %w", err)
	}
	s.notifier.Dispatch(s.registry.AddMemberToGroup(creatorID, topic.ID).Notifications)

	for _, uid := range lo.Without(lo.Uniq(in.MemberIDs), creatorID) {
		if _, err := s.enter(ctx, topic.ID, uid, creatorID, domain.EventAddMember, PermMember); err != nil {
			return nil, err
		}
	}

	return s.topics.GetByID(ctx, topic.ID)
}

// CreateDirect returns the direct topic between two users, creating it on
// first use.
func (s *GroupService) CreateDirect(ctx context.Context, userID, peerID int64) (*domain.Topic, error) {
	if userID == peerID {
		return nil, fmt.Errorf("direct topic with self: %w", domain.ErrInvalidInput)
	}

	existing, err := s.topics.FindDirect(ctx, userID, peerID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("find direct topic: %w", err)
	}

	topic := &domain.Topic{}
	err = s.topics.CreateDirect(ctx, topic, userID, peerID)
	if errors.Is(err, domain.ErrConflict) {
		return s.topics.FindDirect(ctx, userID, peerID)
	}
	if err != nil {
		return nil, fmt.Errorf("create direct topic: %w", err)
	}
	return topic, nil
}

func (s *GroupService) JoinGroup(ctx context.Context, topicID, userID int64, byLink bool) (*domain.MembershipEvent, error) {
	kind := domain.EventJoinByID
	if byLink {
		kind = domain.EventJoinByLink
	}
	return s.enter(ctx, topicID, userID, userID, kind, PermMember)
}

// AddMember lets any current member bring someone in.
func (s *GroupService) AddMember(ctx context.Context, topicID, actorID, userID int64) (*domain.MembershipEvent, error) {
	_, err := s.subs.Get(ctx, topicID, actorID)
	if errors.Is(err, domain.ErrNotMember) {
		return nil, domain.ErrForbidden
	}
	if err != nil {
		return nil, err
	}
	return s.enter(ctx, topicID, userID, actorID, domain.EventAddMember, PermMember)
}

func (s *GroupService) RemoveMember(ctx context.Context, topicID, actorID, userID int64) (*domain.MembershipEvent, error) {
	if actorID == userID {
		return s.Leave(ctx, topicID, userID)
	}
	if err := s.requireManager(ctx, topicID, actorID); err != nil {
		return nil, err
	}
	return s.exit(ctx, topicID, userID, actorID, domain.EventRemoveMember)
}

func (s *GroupService) Leave(ctx context.Context, topicID, userID int64) (*domain.MembershipEvent, error) {
	return s.exit(ctx, topicID, userID, userID, domain.EventLeave)
}

func (s *GroupService) ChangePermission(ctx context.Context, topicID, actorID, userID int64, permission string) (*domain.MembershipEvent, error) {
	if !lo.Contains([]string{PermOwner, PermAdmin, PermMember}, permission) {
		return nil, fmt.Errorf("unknown permission %q: %w", permission, domain.ErrInvalidInput)
	}
	if err := s.requireManager(ctx, topicID, actorID); err != nil {
		return nil, err
	}

	e, err := s.members.ChangePermission(ctx, topicID, userID, actorID, permission)
	if err != nil {
		return nil, fmt.Errorf("change permission: %w", err)
	}
	s.broadcast(ctx, topicID, EventPermissionChanged, e, map[string]any{"permission": permission})
	return e, nil
}

func (s *GroupService) ListTopics(ctx context.Context, userID int64) ([]*domain.Topic, error) {
	return s.topics.ListForUser(ctx, userID)
}

func (s *GroupService) ListMembers(ctx context.Context, topicID, userID int64) ([]*domain.Subscription, error) {
	if _, err := s.subs.Get(ctx, topicID, userID); err != nil {
		return nil, err
	}
	return s.subs.ListForTopic(ctx, topicID)
}

func (s *GroupService) enter(ctx context.Context, topicID, userID, actorID int64, kind domain.EventKind, permission string) (*domain.MembershipEvent, error) {
	e, err := s.members.Join(ctx, topicID, userID, actorID, kind, permission)
	if err != nil {
		return nil, fmt.Errorf("join group: %w", err)
	}
	s.notifier.Dispatch(s.registry.AddMemberToGroup(userID, topicID).Notifications)
	s.broadcast(ctx, topicID, EventMemberJoined, e, nil)
	return e, nil
}

func (s *GroupService) exit(ctx context.Context, topicID, userID, actorID int64, kind domain.EventKind) (*domain.MembershipEvent, error) {
	e, err := s.members.Leave(ctx, topicID, userID, actorID, kind)
	if err != nil {
		return nil, fmt.Errorf("leave group: %w", err)
	}
	s.notifier.Dispatch(s.registry.RemoveMemberFromGroup(userID, topicID).Notifications)

	event := EventMemberLeft
	if kind == domain.EventRemoveMember {
		event = EventMemberRemoved
	}
	s.broadcast(ctx, topicID, event, e, nil, userID)
	return e, nil
}

// broadcast sends a membership event to the current members and to extra
// recipients that are no longer members.
func (s *GroupService) broadcast(ctx context.Context, topicID int64, eventType string, e *domain.MembershipEvent, fields map[string]any, extra ...int64) {
	ids, err := s.subs.ListMemberIDs(ctx, topicID)
	if err != nil {
		s.log.Error("list members for broadcast", "topic_id", topicID, "event", eventType, "error", err)
	}

	payload := map[string]any{
		"type":     eventType,
		"topic_id": topicID,
		"user_id":  e.SubjectID(),
		"actor_id": e.ActorID,
		"seq_id":   e.SeqID,
	}
	for k, v := range fields {
		payload[k] = v
	}
	s.notifier.SendToUsers(lo.Uniq(append(ids, extra...)), payload)
}

func (s *GroupService) requireManager(ctx context.Context, topicID, userID int64) error {
	sub, err := s.subs.Get(ctx, topicID, userID)
	if errors.Is(err, domain.ErrNotMember) {
		return domain.ErrForbidden
	}
	if err != nil {
		return err
	}
	if !canManage(sub.Permission) {
		return domain.ErrForbidden
	}
	return nil
}
