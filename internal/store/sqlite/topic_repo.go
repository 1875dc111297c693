package sqlite

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

const topicColumns = `t.id, t.kind, t.name, t.last_seq_id, t.created_at, t.updated_at`

func scanTopic(row interface{ Scan(...any) error }) (*domain.Topic, error) {
	t := &domain.Topic{}
	if err := row.Scan(&t.ID, &t.Kind, &t.Name, &t.LastSeqID, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	return t, nil
}

// CreateGroup stores the topic, its create event and the creator's
// subscription.
func (r *TopicRepo) CreateGroup(ctx context.Context, t *domain.Topic, creatorID int64, permission string) (*domain.MembershipEvent, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	at := now()
	t.Kind = domain.TopicGroup
	res, err := tx.ExecContext(ctx, `
		INSERT INTO topics (kind, name, last_seq_id, created_at, updated_at)
		VALUES (?, ?, 0, ?, ?)
	`, string(t.Kind), t.Name, at, at)
	if err != nil {
		return nil, fmt.Errorf("insert topic: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	t.ID = id

	e, err := appendEvent(ctx, tx, t.ID, creatorID, creatorID, domain.EventCreate)
	if err != nil {
		return nil, err
	}
	if err := insertSubscription(ctx, tx, t.ID, creatorID, permission, e.SeqID, at); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	t.LastSeqID = e.SeqID
	t.CreatedAt, t.UpdatedAt = at, e.CreatedAt
	return e, nil
}

func (r *TopicRepo) CreateDirect(ctx context.Context, t *domain.Topic, userA, userB int64) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	at := now()
	t.Kind = domain.TopicDirect
	res, err := tx.ExecContext(ctx, `
		INSERT INTO topics (kind, name, direct_key, last_seq_id, created_at, updated_at)
		VALUES (?, NULL, ?, 0, ?, ?)
		ON CONFLICT (direct_key) DO NOTHING
	`, string(t.Kind), directKey(userA, userB), at, at)
	if err != nil {
		return fmt.Errorf("insert topic: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrConflict
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	t.ID = id

	for _, uid := range []int64{userA, userB} {
		if err := insertSubscription(ctx, tx, t.ID, uid, "", 0, at); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	t.CreatedAt, t.UpdatedAt = at, at
	return nil
}

func (r *TopicRepo) GetByID(ctx context.Context, id int64) (*domain.Topic, error) {
	t, err := scanTopic(r.db.QueryRowContext(ctx, `
		SELECT `+topicColumns+`
		FROM topics t
		WHERE t.id = ?
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
		SELECT `+topicColumns+`
		FROM topics t
		WHERE t.direct_key = ?
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
		SELECT `+topicColumns+`
		FROM topics t
		JOIN subscriptions s ON s.topic_id = t.id
		WHERE s.user_id = ?
		ORDER BY t.updated_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list topics: %w", err)
	}
	defer rows.Close()

	var topics []*domain.Topic
	for rows.Next() {
		t, err := scanTopic(rows)
		if err != nil {
			return nil, fmt.Errorf("scan topic: %w", err)
		}
		topics = append(topics, t)
	}
	return topics, rows.Err()
}

func (r *TopicRepo) ListGroupIDsForUser(ctx context.Context, userID int64) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT t.id
		FROM topics t
		JOIN subscriptions s ON s.topic_id = t.id
		WHERE s.user_id = ? AND t.kind = ?
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
