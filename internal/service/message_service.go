package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/samber/lo"

	"chatcore/internal/domain"
	"chatcore/internal/presence"
	"chatcore/internal/visibility"
)

const maxContentRunes = 5000

// DeleteMode selects who stops seeing a deleted message.
type DeleteMode string

const (
	DeleteForMe       DeleteMode = "for_me"
	DeleteForEveryone DeleteMode = "for_everyone"
)

type MessageService struct {
	subs       domain.SubscriptionRepository
	messages   domain.MessageRepository
	visibility *visibility.Service
	registry   *presence.Registry
	notifier   Notifier
	log        *slog.Logger
}

func NewMessageService(
	subs domain.SubscriptionRepository,
	messages domain.MessageRepository,
	vis *visibility.Service,
	registry *presence.Registry,
	notifier Notifier,
	log *slog.Logger,
) *MessageService {
	return &MessageService{
		subs:       subs,
		messages:   messages,
		visibility: vis,
		registry:   registry,
		notifier:   notifier,
		log:        log,
	}
}

type MessageCreateInput struct {
	TopicID      int64
	Content      string
	ReplyToSeqID *int64
}

// Send stores a message from a current member and pushes it to every member.
// A reply must point at a message the sender can still see.
func (s *MessageService) Send(ctx context.Context, senderID int64, in MessageCreateInput) (*domain.Message, error) {
	if strings.TrimSpace(in.Content) == "" {
		return nil, fmt.Errorf("message content cannot be empty: %w", domain.ErrInvalidInput)
	}
	if len([]rune(in.Content)) > maxContentRunes {
		return nil, fmt.Errorf("message content exceeds %d characters: %w", maxContentRunes, domain.ErrInvalidInput)
	}

	access, err := s.visibility.Resolve(ctx, in.TopicID, senderID)
	if err != nil {
		return nil, err
	}
	if !access.IsMember() {
		return nil, domain.ErrNotMember
	}

	if in.ReplyToSeqID != nil {
		ok, err := s.visibility.IsMessageAccessible(ctx, in.TopicID, senderID, *in.ReplyToSeqID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("reply target %d is not accessible: %w", *in.ReplyToSeqID, domain.ErrInvalidInput)
		}
	}

	msg := &domain.Message{
		TopicID:      in.TopicID,
		SenderID:     senderID,
		Kind:         domain.MessageText,
		Content:      in.Content,
		ReplyToSeqID: in.ReplyToSeqID,
	}
	if err := s.messages.Create(ctx, msg); err != nil {
		return nil, fmt.Errorf("create message: %w", err)
	}
	if _, err := s.subs.AdvanceReadSeq(ctx, in.TopicID, senderID, msg.SeqID); err != nil {
		s.log.Warn("advance sender cursor", "topic_id", in.TopicID, "user_id", senderID, "error", err)
	}

	memberIDs, err := s.subs.ListMemberIDs(ctx, in.TopicID)
	if err != nil {
		return msg, fmt.Errorf("list members: %w", err)
	}

	if t, ok := s.registry.Typing(senderID); ok && t.TopicID == in.TopicID {
		if _, ok := s.registry.ExpireTyping(senderID, t.StartedAt); ok {
			s.notifier.SendToUsers(lo.Without(memberIDs, senderID), typingPayload(in.TopicID, senderID, false))
		}
	}

	s.notifier.SendToUsers(memberIDs, map[string]any{
		"type":    EventMessage,
		"message": msg,
	})
	return msg, nil
}

func (s *MessageService) Delete(ctx context.Context, userID, topicID, seqID int64, mode DeleteMode) error {
	switch mode {
	case DeleteForEveryone:
		msg, err := s.messages.GetBySeq(ctx, topicID, seqID)
		if err != nil {
			return err
		}
		if msg.SenderID != userID || msg.Kind != domain.MessageText {
			return domain.ErrForbidden
		}
		if _, err := s.subs.Get(ctx, topicID, userID); err != nil {
			return err
		}
		if err := s.messages.DeleteForEveryone(ctx, topicID, seqID); err != nil {
			return fmt.Errorf("delete for everyone: %w", err)
		}
		memberIDs, err := s.subs.ListMemberIDs(ctx, topicID)
		if err != nil {
			return fmt.Errorf("list members: %w", err)
		}
		s.notifier.SendToUsers(memberIDs, deletedPayload(topicID, seqID, mode))

	case DeleteForMe:
		visible, err := s.visibility.IsVisible(ctx, topicID, userID, seqID)
		if err != nil {
			return err
		}
		if !visible {
			return domain.ErrNotFound
		}
		if err := s.messages.DeleteForUser(ctx, topicID, seqID, userID); err != nil {
			return fmt.Errorf("delete for me: %w", err)
		}
		s.notifier.SendToUsers([]int64{userID}, deletedPayload(topicID, seqID, mode))

	default:
		return fmt.Errorf("delete mode must be %q or %q: %w", DeleteForMe, DeleteForEveryone, domain.ErrInvalidInput)
	}
	return nil
}

// MarkRead advances the read cursor. Only an actual advance is announced,
// to the user's other connections and to the other members.
func (s *MessageService) MarkRead(ctx context.Context, userID int64, connectionID string, topicID, seqID int64) (bool, error) {
	advanced, err := s.visibility.MarkRead(ctx, topicID, userID, seqID)
	if err != nil || !advanced {
		return advanced, err
	}
	s.announceCursor(ctx, EventRead, userID, connectionID, topicID, seqID)
	return true, nil
}

func (s *MessageService) MarkReceived(ctx context.Context, userID int64, connectionID string, topicID, seqID int64) (bool, error) {
	advanced, err := s.visibility.MarkReceived(ctx, topicID, userID, seqID)
	if err != nil || !advanced {
		return advanced, err
	}
	s.announceCursor(ctx, EventReceived, userID, connectionID, topicID, seqID)
	return true, nil
}

func (s *MessageService) announceCursor(ctx context.Context, eventType string, userID int64, connectionID string, topicID, seqID int64) {
	payload := map[string]any{
		"type":     eventType,
		"topic_id": topicID,
		"user_id":  userID,
		"seq_id":   seqID,
	}
	s.notifier.SendToOtherConnections(userID, connectionID, payload)

	memberIDs, err := s.subs.ListMemberIDs(ctx, topicID)
	if err != nil {
		s.log.Error("list members for cursor event", "topic_id", topicID, "error", err)
		return
	}
	s.notifier.SendToUsers(lo.Without(memberIDs, userID), payload)
}

// History returns one page of the topic timeline for userID. Pages go
// backwards from Anchor unless after is set.
func (s *MessageService) History(ctx context.Context, q visibility.HistoryQuery, after bool) (*visibility.Page, error) {
	if after {
		return s.visibility.ListAfter(ctx, q)
	}
	return s.visibility.ListBefore(ctx, q)
}

func deletedPayload(topicID, seqID int64, mode DeleteMode) map[string]any {
	return map[string]any{
		"type":        EventMessageDeleted,
		"topic_id":    topicID,
		"seq_id":      seqID,
		"delete_type": string(mode),
	}
}

func typingPayload(topicID, userID int64, typing bool) map[string]any {
	return map[string]any{
		"type":     EventTyping,
		"topic_id": topicID,
		"user_id":  userID,
		"typing":   typing,
	}
}
