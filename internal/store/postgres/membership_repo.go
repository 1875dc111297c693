package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/samber/lo"

	"chatcore/internal/domain"
)

type MembershipRepo struct {
	db *sql.DB
}

func NewMembershipRepo(db *sql.DB) *MembershipRepo {
	return &MembershipRepo{db: db}
}

var _ domain.MembershipRepository = (*MembershipRepo)(nil)

func (r *MembershipRepo) Join(ctx context.Context, topicID, userID, actorID int64, kind domain.EventKind, permission string) (*domain.MembershipEvent, error) {
	if !kind.IsEntry() {
		return nil, fmt.Errorf("join with %q: %w", kind, domain.ErrInvalidInput)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := requireGroup(ctx, tx, topicID); err != nil {
		return nil, err
	}
	if _, err := subscriptionTx(ctx, tx, topicID, userID); err == nil {
		return nil, domain.ErrAlreadyMember
	} else if err != domain.ErrNotMember {
		return nil, err
	}

	e, err := appendEvent(ctx, tx, topicID, userID, actorID, kind)
	if err != nil {
		return nil, err
	}
	if err := insertSubscription(ctx, tx, topicID, userID, permission, e.SeqID); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return e, nil
}

func (r *MembershipRepo) Leave(ctx context.Context, topicID, userID, actorID int64, kind domain.EventKind) (*domain.MembershipEvent, error) {
	if !kind.IsExit() {
		return nil, fmt.Errorf("leave with %q: %w", kind, domain.ErrInvalidInput)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := requireGroup(ctx, tx, topicID); err != nil {
		return nil, err
	}
	sub, err := subscriptionTx(ctx, tx, topicID, userID)
	if err != nil {
		return nil, err
	}

	e, err := appendEvent(ctx, tx, topicID, userID, actorID, kind)
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO removal_snapshots (event_id, topic_id, user_id, read_seq_id, recv_seq_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, e.ID, topicID, userID, sub.ReadSeqID, sub.RecvSeqID, e.CreatedAt); err != nil {
		return nil, fmt.Errorf("insert removal snapshot: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM subscriptions WHERE topic_id = $1 AND user_id = $2
	`, topicID, userID); err != nil {
		return nil, fmt.Errorf("delete subscription: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return e, nil
}

func (r *MembershipRepo) ChangePermission(ctx context.Context, topicID, userID, actorID int64, permission string) (*domain.MembershipEvent, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := requireGroup(ctx, tx, topicID); err != nil {
		return nil, err
	}
	if _, err := subscriptionTx(ctx, tx, topicID, userID); err != nil {
		return nil, err
	}

	e, err := appendEvent(ctx, tx, topicID, userID, actorID, domain.EventPermissionChange)
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE subscriptions SET permission = $1 WHERE topic_id = $2 AND user_id = $3
	`, permission, topicID, userID); err != nil {
		return nil, fmt.Errorf("update permission: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return e, nil
}

func (r *MembershipRepo) ListEventSeqIDs(ctx context.Context, topicID, userID int64, kinds []domain.EventKind) ([]int64, error) {
	if len(kinds) == 0 {
		return nil, nil
	}
	names := lo.Map(kinds, func(k domain.EventKind, _ int) string { return string(k) })

	rows, err := r.db.QueryContext(ctx, `
		SELECT seq_id
		FROM membership_events
		WHERE topic_id = $1 AND subject_id = $2 AND kind = ANY($3)
		ORDER BY seq_id ASC
	`, topicID, userID, names)
	if err != nil {
		return nil, fmt.Errorf("list event seq ids: %w", err)
	}
	defer rows.Close()

	var seqs []int64
	for rows.Next() {
		var seq int64
		if err := rows.Scan(&seq); err != nil {
			return nil, fmt.Errorf("scan event seq id: %w", err)
		}
		seqs = append(seqs, seq)
	}
	return seqs, rows.Err()
}

func (r *MembershipRepo) LatestExitEvent(ctx context.Context, topicID, userID int64) (*domain.MembershipEvent, error) {
	e, err := scanEvent(r.db.QueryRowContext(ctx, `
		SELECT id, topic_id, kind, actor_id, affected_id, seq_id, created_at
		FROM membership_events
		WHERE topic_id = $1 AND subject_id = $2 AND kind IN ($3, $4)
		ORDER BY seq_id DESC
		LIMIT 1
	`, topicID, userID, string(domain.EventRemoveMember), string(domain.EventLeave)))
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("latest exit event: %w", err)
	}
	return e, nil
}

func (r *MembershipRepo) GetSnapshot(ctx context.Context, eventID int64) (*domain.RemovalSnapshot, error) {
	s := &domain.RemovalSnapshot{}
	err := r.db.QueryRowContext(ctx, `
		SELECT event_id, topic_id, user_id, read_seq_id, recv_seq_id, created_at
		FROM removal_snapshots WHERE event_id = $1
	`, eventID).Scan(&s.EventID, &s.TopicID, &s.UserID, &s.ReadSeqID, &s.RecvSeqID, &s.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get removal snapshot: %w", err)
	}
	return s, nil
}

func (r *MembershipRepo) ListEvents(ctx context.Context, topicID int64) ([]*domain.MembershipEvent, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, topic_id, kind, actor_id, affected_id, seq_id, created_at
		FROM membership_events
		WHERE topic_id = $1
		ORDER BY seq_id ASC
	`, topicID)
	if err != nil {
		return nil, fmt.Errorf("list membership events: %w", err)
	}
	defer rows.Close()

	var events []*domain.MembershipEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan membership event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func scanEvent(row interface{ Scan(...any) error }) (*domain.MembershipEvent, error) {
	e := &domain.MembershipEvent{}
	var kind string
	if err := row.Scan(&e.ID, &e.TopicID, &kind, &e.ActorID, &e.AffectedID, &e.SeqID, &e.CreatedAt); err != nil {
		return nil, err
	}
	e.Kind = domain.EventKind(kind)
	return e, nil
}

func subscriptionTx(ctx context.Context, tx *sql.Tx, topicID, userID int64) (*domain.Subscription, error) {
	s, err := scanSubscription(tx.QueryRowContext(ctx, `
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
