package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"chatcore/internal/domain"
)

type MessageRepo struct {
	db *sql.DB
}

func NewMessageRepo(db *sql.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

var _ domain.MessageRepository = (*MessageRepo)(nil)

const messageColumns = `m.id, m.topic_id, m.seq_id, m.sender_id, m.kind, m.content, m.reply_to_seq_id, m.created_at, m.is_deleted`

// visibleTo filters out rows the user deleted for themselves. It binds the
// user id first, then topic id and the [from, to) bounds.
const visibleTo = `
	FROM messages m
	LEFT JOIN user_deleted_messages d
		ON d.topic_id = m.topic_id AND d.seq_id = m.seq_id AND d.user_id = ?
	WHERE m.topic_id = ? AND m.seq_id >= ? AND m.seq_id < ? AND d.user_id IS NULL
`

func scanMessage(row interface{ Scan(...any) error }) (*domain.Message, error) {
	m := &domain.Message{}
	if err := row.Scan(
		&m.ID,
		&m.TopicID,
		&m.SeqID,
		&m.SenderID,
		&m.Kind,
		&m.Content,
		&m.ReplyToSeqID,
		&m.CreatedAt,
		&m.IsDeleted,
	); err != nil {
		return nil, err
	}
	return m, nil
}

// Create assigns the next sequence id of the topic to m and stores it.
func (r *MessageRepo) Create(ctx context.Context, m *domain.Message) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := insertMessage(ctx, tx, m); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (r *MessageRepo) GetBySeq(ctx context.Context, topicID, seqID int64) (*domain.Message, error) {
	m, err := scanMessage(r.db.QueryRowContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages m
		WHERE m.topic_id = ? AND m.seq_id = ?
	`, topicID, seqID))
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	return m, nil
}

func (r *MessageRepo) ListRange(ctx context.Context, topicID, userID, fromSeq, toSeq int64, limit int) ([]*domain.Message, error) {
	return r.listRange(ctx, "DESC", topicID, userID, fromSeq, toSeq, limit)
}

func (r *MessageRepo) ListRangeAsc(ctx context.Context, topicID, userID, fromSeq, toSeq int64, limit int) ([]*domain.Message, error) {
	return r.listRange(ctx, "ASC", topicID, userID, fromSeq, toSeq, limit)
}

func (r *MessageRepo) listRange(ctx context.Context, order string, topicID, userID, fromSeq, toSeq int64, limit int) ([]*domain.Message, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+messageColumns+visibleTo+`
		ORDER BY m.seq_id `+order+`
		LIMIT ?
	`, userID, topicID, fromSeq, toSeq, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var msgs []*domain.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func (r *MessageRepo) ExistsInRange(ctx context.Context, topicID, userID, fromSeq, toSeq int64) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 `+visibleTo+`)
	`, userID, topicID, fromSeq, toSeq).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("exists in range: %w", err)
	}
	return exists, nil
}

// CountUnread counts other members' live text messages in [fromSeq, toSeq).
func (r *MessageRepo) CountUnread(ctx context.Context, topicID, userID, fromSeq, toSeq int64) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) `+visibleTo+`
			AND m.sender_id <> ? AND m.kind = ? AND m.is_deleted = 0
	`, userID, topicID, fromSeq, toSeq, userID, string(domain.MessageText)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	return n, nil
}

func (r *MessageRepo) DeleteForUser(ctx context.Context, topicID, seqID, userID int64) error {
	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO user_deleted_messages (user_id, topic_id, seq_id, deleted_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`, userID, topicID, seqID, now()); err != nil {
		return fmt.Errorf("delete message for user: %w", err)
	}
	return nil
}

func (r *MessageRepo) DeleteForEveryone(ctx context.Context, topicID, seqID int64) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE messages
		SET is_deleted = 1
		WHERE topic_id = ? AND seq_id = ?
	`, topicID, seqID)
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *MessageRepo) IsDeletedForUser(ctx context.Context, topicID, seqID, userID int64) (bool, error) {
	var exists int
	err := r.db.QueryRowContext(ctx, `
		SELECT 1
		FROM user_deleted_messages
		WHERE topic_id = ? AND seq_id = ? AND user_id = ?
	`, topicID, seqID, userID).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("is deleted for user: %w", err)
	}
	return true, nil
}
