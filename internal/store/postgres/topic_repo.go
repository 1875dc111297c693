package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"chatcore/internal/domain"
)

type TopicRepo struct {
	db *sql.DB
}

func NewTopicRepo(db *sql.DB) *TopicRepo {
	return &TopicRepo{db: db}
}

var _ domain.TopicRepository = (*TopicRepo)(nil)

func scanTopic(row interface{ Scan(...any) error }) (*domain.Topic, error) {
	t := &domain.Topic{}
	var kind string
	if err := row.Scan(&t.ID, &kind, &t.Name, &t.LastSeqID, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	t.Kind = domain.TopicKind(kind)
	return t, nil
}

func (r *TopicRepo) CreateGroup(ctx context.Context, t *domain.Topic, creatorID int64, permission string) (*domain.MembershipEvent, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	t.Kind = domain.TopicGroup
	if err := tx.QueryRowContext(ctx, `
		INSERT INTO topics (kind, name, last_seq_id, created_at, updated_at)
		VALUES ($1, $2, 0, NOW(), NOW())
		RETURNING id, created_at
	`, string(t.Kind), t.Name).Scan(&t.ID, &t.CreatedAt); err != nil {
		return nil, fmt.Errorf("insert topic: %w", err)
	}

	e, err := appendEvent(ctx, tx, t.ID, creatorID, creatorID, domain.EventCreate)
	if err != nil {
		return nil, err
	}
	if err := insertSubscription(ctx, tx, t.ID, creatorID, permission, e.SeqID); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	t.LastSeqID = e.SeqID
	t.UpdatedAt = e.CreatedAt
	return e, nil
}

func (r *TopicRepo) CreateDirect(ctx context.Context, t *domain.Topic, userA, userB int64) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	t.Kind = domain.TopicDirect
	err = tx.QueryRowContext(ctx, `
		INSERT INTO topics (kind, name, direct_key, last_seq_id, created_at, updated_at)
		VALUES ($1, NULL, $2, 0, NOW(), NOW())
		ON CONFLICT (direct_key) DO NOTHING
		RETURNING id, created_at, updated_at
	`, string(t.Kind), directKey(userA, userB)).Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return domain.ErrConflict
	}
	if err != nil {
		return fmt.Errorf("insert topic: %w", err)
	}

	for _, uid := range []int64{userA, userB} {
		if err := insertSubscription(ctx, tx, t.ID, uid, "", 0); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (r *TopicRepo) GetByID(ctx context.Context, id int64) (*domain.Topic, error) {
	t, err := scanTopic(r.db.QueryRowContext(ctx, `
		SELECT id, kind, name, last_seq_id, created_at, updated_at
		FROM topics WHERE id = $1
	`, id))
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get topic: %w", err)
	}
	return t, nil
}

func (r *TopicRepo) FindDirect(ctx context.Context, userA, userB int64) (*domain.Topic, error) {
	t, err := scanTopic(r.db.QueryRowContext(ctx, `
		SELECT id, kind, name, last_seq_id, created_at, updated_at
		FROM topics WHERE direct_key = $1
	`, directKey(userA, userB)))
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find direct topic: %w", err)
	}
	return t, nil
}

func (r *TopicRepo) ListForUser(ctx context.Context, userID int64) ([]*domain.Topic, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT t.id, t.kind, t.name, t.last_seq_id, t.created_at, t.updated_at
		FROM topics t
		JOIN subscriptions s ON s.topic_id = t.id
		WHERE s.user_id = $1
		ORDER BY t.updated_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list topics: %w", err)
	}
	defer rows.Close()

	var out []*domain.Topic
	for rows.Next() {
		t, err := scanTopic(rows)
		if err != nil {
			return nil, fmt.Errorf("scan topic: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *TopicRepo) ListGroupIDsForUser(ctx context.Context, userID int64) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT t.id
		FROM topics t
		JOIN subscriptions s ON s.topic_id = t.id
		WHERE s.user_id = $1 AND t.kind = $2
		ORDER BY t.id
	`, userID, string(domain.TopicGroup))
	if err != nil {
		return nil, fmt.Errorf("list group ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan group id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
