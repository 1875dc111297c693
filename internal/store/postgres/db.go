package postgres

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"

	"chatcore/internal/domain"
)

// Open opens a PostgreSQL database using the pgx stdlib driver.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// Migrate runs idempotent DDL migrations for the chat schema on PostgreSQL.
func Migrate(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS topics (
			id          BIGSERIAL    PRIMARY KEY,
			kind        VARCHAR(10)  NOT NULL,
			name        VARCHAR(100),
			direct_key  VARCHAR(64)  UNIQUE,
			last_seq_id BIGINT       NOT NULL DEFAULT 0,
			created_at  TIMESTAMPTZ  NOT NULL DEFAULT NOW(),
			updated_at  TIMESTAMPTZ  NOT NULL DEFAULT NOW()
		)`,

		`CREATE TABLE IF NOT EXISTS subscriptions (
			user_id     BIGINT       NOT NULL,
			topic_id    BIGINT       NOT NULL REFERENCES topics(id),
			permission  VARCHAR(32)  NOT NULL DEFAULT '',
			read_seq_id BIGINT       NOT NULL DEFAULT 0,
			recv_seq_id BIGINT       NOT NULL DEFAULT 0,
			joined_at   TIMESTAMPTZ  NOT NULL DEFAULT NOW(),
			PRIMARY KEY (user_id, topic_id)
		)`,

		`CREATE TABLE IF NOT EXISTS messages (
			id              BIGSERIAL    PRIMARY KEY,
			topic_id        BIGINT       NOT NULL REFERENCES topics(id),
			seq_id          BIGINT       NOT NULL,
			sender_id       BIGINT       NOT NULL,
			kind            VARCHAR(10)  NOT NULL,
			content         TEXT         NOT NULL,
			reply_to_seq_id BIGINT,
			created_at      TIMESTAMPTZ  NOT NULL DEFAULT NOW(),
			is_deleted      BOOLEAN      NOT NULL DEFAULT FALSE,
			UNIQUE (topic_id, seq_id)
		)`,

		`CREATE TABLE IF NOT EXISTS membership_events (
			id          BIGSERIAL    PRIMARY KEY,
			topic_id    BIGINT       NOT NULL REFERENCES topics(id),
			kind        VARCHAR(32)  NOT NULL,
			actor_id    BIGINT       NOT NULL,
			affected_id BIGINT,
			subject_id  BIGINT       NOT NULL,
			seq_id      BIGINT       NOT NULL,
			created_at  TIMESTAMPTZ  NOT NULL DEFAULT NOW()
		)`,

		`CREATE TABLE IF NOT EXISTS removal_snapshots (
			event_id    BIGINT       PRIMARY KEY REFERENCES membership_events(id),
			topic_id    BIGINT       NOT NULL,
			user_id     BIGINT       NOT NULL,
			read_seq_id BIGINT       NOT NULL,
			recv_seq_id BIGINT       NOT NULL,
			created_at  TIMESTAMPTZ  NOT NULL DEFAULT NOW()
		)`,

		`CREATE TABLE IF NOT EXISTS user_deleted_messages (
			user_id    BIGINT       NOT NULL,
			topic_id   BIGINT       NOT NULL,
			seq_id     BIGINT       NOT NULL,
			deleted_at TIMESTAMPTZ  NOT NULL DEFAULT NOW(),
			PRIMARY KEY (user_id, topic_id, seq_id)
		)`,

		`CREATE INDEX IF NOT EXISTS idx_subscriptions_topic ON subscriptions(topic_id)`,
		`CREATE INDEX IF NOT EXISTS idx_topics_updated_at ON topics(updated_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_membership_events_subject ON membership_events(topic_id, subject_id, kind)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_sender ON messages(sender_id)`,
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// lockTopic takes a row lock on the topic for the rest of tx and returns its
// kind.
func lockTopic(ctx context.Context, tx *sql.Tx, topicID int64) (domain.TopicKind, error) {
	var kind string
	err := tx.QueryRowContext(ctx, `SELECT kind FROM topics WHERE id = $1 FOR UPDATE`, topicID).Scan(&kind)
	if err == sql.ErrNoRows {
		return "", domain.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("lock topic: %w", err)
	}
	return domain.TopicKind(kind), nil
}

func requireGroup(ctx context.Context, tx *sql.Tx, topicID int64) error {
	kind, err := lockTopic(ctx, tx, topicID)
	if err != nil {
		return err
	}
	if kind != domain.TopicGroup {
		return domain.ErrNotGroup
	}
	return nil
}

// insertMessage assigns the next sequence id to m and stores it inside tx.
func insertMessage(ctx context.Context, tx *sql.Tx, m *domain.Message) error {
	err := tx.QueryRowContext(ctx, `
		UPDATE topics
		SET last_seq_id = last_seq_id + 1, updated_at = NOW()
		WHERE id = $1
		RETURNING last_seq_id
	`, m.TopicID).Scan(&m.SeqID)
	if err == sql.ErrNoRows {
		return domain.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("next seq: %w", err)
	}

	if err := tx.QueryRowContext(ctx, `
		INSERT INTO messages (topic_id, seq_id, sender_id, kind, content, reply_to_seq_id, created_at, is_deleted)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), FALSE)
		RETURNING id, created_at
	`, m.TopicID, m.SeqID, m.SenderID, string(m.Kind), m.Content, m.ReplyToSeqID,
	).Scan(&m.ID, &m.CreatedAt); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func appendEvent(ctx context.Context, tx *sql.Tx, topicID, userID, actorID int64, kind domain.EventKind) (*domain.MembershipEvent, error) {
	m := &domain.Message{
		TopicID:  topicID,
		SenderID: actorID,
		Kind:     domain.MessageEvent,
		Content:  string(kind),
	}
	if err := insertMessage(ctx, tx, m); err != nil {
		return nil, err
	}

	e := &domain.MembershipEvent{
		TopicID: topicID,
		Kind:    kind,
		ActorID: actorID,
		SeqID:   m.SeqID,
	}
	if userID != actorID {
		affected := userID
		e.AffectedID = &affected
	}

	if err := tx.QueryRowContext(ctx, `
		INSERT INTO membership_events (topic_id, kind, actor_id, affected_id, subject_id, seq_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at
	`, e.TopicID, string(e.Kind), e.ActorID, e.AffectedID, userID, e.SeqID, m.CreatedAt,
	).Scan(&e.ID, &e.CreatedAt); err != nil {
		return nil, fmt.Errorf("insert membership event: %w", err)
	}
	return e, nil
}

func insertSubscription(ctx context.Context, tx *sql.Tx, topicID, userID int64, permission string, seq int64) error {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO subscriptions (user_id, topic_id, permission, read_seq_id, recv_seq_id, joined_at)
		VALUES ($1, $2, $3, $4, $4, NOW())
	`, userID, topicID, permission, seq); err != nil {
		return fmt.Errorf("insert subscription: %w", err)
	}
	return nil
}

func directKey(a, b int64) string {
	return fmt.Sprintf("%d:%d", min(a, b), max(a, b))
}
