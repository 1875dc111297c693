package visibility_test

import (
	"context"

	"github.com/stretchr/testify/mock"

	"chatcore/internal/domain"
)

type MockTopicRepo struct {
	mock.Mock
}

func (m *MockTopicRepo) CreateGroup(ctx context.Context, t *domain.Topic, creatorID int64, permission string) (*domain.MembershipEvent, error) {
	return nil, nil
}

func (m *MockTopicRepo) CreateDirect(ctx context.Context, t *domain.Topic, userA, userB int64) error {
	return nil
}

func (m *MockTopicRepo) GetByID(ctx context.Context, id int64) (*domain.Topic, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Topic), args.Error(1)
}

func (m *MockTopicRepo) FindDirect(ctx context.Context, userA, userB int64) (*domain.Topic, error) {
	return nil, domain.ErrNotFound
}

func (m *MockTopicRepo) ListForUser(ctx context.Context, userID int64) ([]*domain.Topic, error) {
	return nil, nil
}

func (m *MockTopicRepo) ListGroupIDsForUser(ctx context.Context, userID int64) ([]int64, error) {
	return nil, nil
}

type MockMembershipRepo struct {
	mock.Mock
}

func (m *MockMembershipRepo) Join(ctx context.Context, topicID, userID, actorID int64, kind domain.EventKind, permission string) (*domain.MembershipEvent, error) {
	return nil, nil
}

func (m *MockMembershipRepo) Leave(ctx context.Context, topicID, userID, actorID int64, kind domain.EventKind) (*domain.MembershipEvent, error) {
	return nil, nil
}

func (m *MockMembershipRepo) ChangePermission(ctx context.Context, topicID, userID, actorID int64, permission string) (*domain.MembershipEvent, error) {
	return nil, nil
}

func (m *MockMembershipRepo) ListEventSeqIDs(ctx context.Context, topicID, userID int64, kinds []domain.EventKind) ([]int64, error) {
	args := m.Called(ctx, topicID, userID, kinds)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]int64), args.Error(1)
}

func (m *MockMembershipRepo) LatestExitEvent(ctx context.Context, topicID, userID int64) (*domain.MembershipEvent, error) {
	args := m.Called(ctx, topicID, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.MembershipEvent), args.Error(1)
}

func (m *MockMembershipRepo) GetSnapshot(ctx context.Context, eventID int64) (*domain.RemovalSnapshot, error) {
	args := m.Called(ctx, eventID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.RemovalSnapshot), args.Error(1)
}

func (m *MockMembershipRepo) ListEvents(ctx context.Context, topicID int64) ([]*domain.MembershipEvent, error) {
	return nil, nil
}

type MockSubscriptionRepo struct {
	mock.Mock
}

func (m *MockSubscriptionRepo) Get(ctx context.Context, topicID, userID int64) (*domain.Subscription, error) {
	args := m.Called(ctx, topicID, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Subscription), args.Error(1)
}

func (m *MockSubscriptionRepo) ListMemberIDs(ctx context.Context, topicID int64) ([]int64, error) {
	return nil, nil
}

func (m *MockSubscriptionRepo) ListForTopic(ctx context.Context, topicID int64) ([]*domain.Subscription, error) {
	return nil, nil
}

func (m *MockSubscriptionRepo) AdvanceReadSeq(ctx context.Context, topicID, userID, seqID int64) (bool, error) {
	args := m.Called(ctx, topicID, userID, seqID)
	return args.Bool(0), args.Error(1)
}

func (m *MockSubscriptionRepo) AdvanceRecvSeq(ctx context.Context, topicID, userID, seqID int64) (bool, error) {
	args := m.Called(ctx, topicID, userID, seqID)
	return args.Bool(0), args.Error(1)
}

func (m *MockSubscriptionRepo) MaxPeerReadSeq(ctx context.Context, topicID, userID int64) (int64, error) {
	args := m.Called(ctx, topicID, userID)
	return args.Get(0).(int64), args.Error(1)
}

type MockMessageRepo struct {
	mock.Mock
}

func (m *MockMessageRepo) Create(ctx context.Context, msg *domain.Message) error {
	return nil
}

func (m *MockMessageRepo) GetBySeq(ctx context.Context, topicID, seqID int64) (*domain.Message, error) {
	args := m.Called(ctx, topicID, seqID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Message), args.Error(1)
}

func (m *MockMessageRepo) ListRange(ctx context.Context, topicID, userID, fromSeq, toSeq int64, limit int) ([]*domain.Message, error) {
	args := m.Called(ctx, topicID, userID, fromSeq, toSeq, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Message), args.Error(1)
}

func (m *MockMessageRepo) ListRangeAsc(ctx context.Context, topicID, userID, fromSeq, toSeq int64, limit int) ([]*domain.Message, error) {
	args := m.Called(ctx, topicID, userID, fromSeq, toSeq, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Message), args.Error(1)
}

func (m *MockMessageRepo) ExistsInRange(ctx context.Context, topicID, userID, fromSeq, toSeq int64) (bool, error) {
	args := m.Called(ctx, topicID, userID, fromSeq, toSeq)
	return args.Bool(0), args.Error(1)
}

func (m *MockMessageRepo) CountUnread(ctx context.Context, topicID, userID, fromSeq, toSeq int64) (int, error) {
	args := m.Called(ctx, topicID, userID, fromSeq, toSeq)
	return args.Int(0), args.Error(1)
}

func (m *MockMessageRepo) DeleteForUser(ctx context.Context, topicID, seqID, userID int64) error {
	return nil
}

func (m *MockMessageRepo) DeleteForEveryone(ctx context.Context, topicID, seqID int64) error {
	return nil
}

func (m *MockMessageRepo) IsDeletedForUser(ctx context.Context, topicID, seqID, userID int64) (bool, error) {
	args := m.Called(ctx, topicID, seqID, userID)
	return args.Bool(0), args.Error(1)
}
