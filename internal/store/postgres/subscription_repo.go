package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"chatcore/internal/domain"
)

type SubscriptionRepo struct {
	db *sql.DB
}

func NewSubscriptionRepo(db *sql.DB) *SubscriptionRepo {
	return &SubscriptionRepo{db: db}
}

var _ domain.SubscriptionRepository = (*SubscriptionRepo)(nil)

func scanSubscription(row interface{ Scan(...any) error }) (*domain.Subscription, error) {
	s := &domain.Subscription{}
	if err := row.Scan(&s.UserID, &s.TopicID, &s.Permission, &s.ReadSeqID, &s.RecvSeqID, &s.JoinedAt); err != nil {
		return nil, err
	}
	return s, nil
}

func (r *SubscriptionRepo) Get(ctx context.Context, topicID, userID int64) (*domain.Subscription, error) {
	s, err := scanSubscription(r.db.QueryRowContext(ctx, `
		SELECT user_id, topic_id, permission, read_seq_id, recv_seq_id, joined_at
		FROM subscriptions WHERE topic_id = $1 AND user_id = $2
	`, topicID, userID))
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotMember
	}
	if err != nil {
		return nil, fmt.Errorf("get subscription: %w", err)
	}
	return s, nil
}

func (r *SubscriptionRepo) ListMemberIDs(ctx context.Context, topicID int64) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT user_id FROM subscriptions WHERE topic_id = $1 ORDER BY user_id
	`, topicID)
	if err != nil {
		return nil, fmt.Errorf("list member ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan member id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *SubscriptionRepo) ListForTopic(ctx context.Context, topicID int64) ([]*domain.Subscription, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT user_id, topic_id, permission, read_seq_id, recv_seq_id, joined_at
		FROM subscriptions WHERE topic_id = $1 ORDER BY user_id
	`, topicID)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []*domain.Subscription
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		subs = append(subs, s)
	}
	return subs, rows.Err()
}

func (r *SubscriptionRepo) AdvanceReadSeq(ctx context.Context, topicID, userID, seqID int64) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE subscriptions
		SET read_seq_id = $1, recv_seq_id = GREATEST(recv_seq_id, $1)
		WHERE topic_id = $2 AND user_id = $3 AND read_seq_id < $1
	`, seqID, topicID, userID)
	if err != nil {
		return false, fmt.Errorf("advance read seq: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

func (r *SubscriptionRepo) AdvanceRecvSeq(ctx context.Context, topicID, userID, seqID int64) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE subscriptions
		SET recv_seq_id = $1
		WHERE topic_id = $2 AND user_id = $3 AND recv_seq_id < $1
	`, seqID, topicID, userID)
	if err != nil {
		return false, fmt.Errorf("advance recv seq: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

func (r *SubscriptionRepo) MaxPeerReadSeq(ctx context.Context, topicID, userID int64) (int64, error) {
	var seq int64
	if err := r.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(read_seq_id), 0)
		FROM subscriptions WHERE topic_id = $1 AND user_id <> $2
	`, topicID, userID).Scan(&seq); err != nil {
		return 0, fmt.Errorf("max peer read seq: %w", err)
	}
	return seq, nil
}
