package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"chatcore/internal/domain"
)

// Open opens a SQLite database with the given DSN. The pool holds a single
// connection so the pragmas below apply to every statement.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys = ON;`); err != nil {
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout = 5000;`); err != nil {
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	return db, nil
}

// Migrate creates the schema. Every statement is idempotent.
func Migrate(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS topics (
			id INTEGER PRIMARY KEY,
			kind TEXT NOT NULL,
			name VARCHAR(100),
			direct_key TEXT UNIQUE,
			last_seq_id INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS subscriptions (
			user_id INTEGER NOT NULL,
			topic_id INTEGER NOT NULL,
			permission TEXT NOT NULL DEFAULT '',
			read_seq_id INTEGER NOT NULL DEFAULT 0,
			recv_seq_id INTEGER NOT NULL DEFAULT 0,
			joined_at DATETIME NOT NULL,
			PRIMARY KEY (user_id, topic_id),
			FOREIGN KEY (topic_id) REFERENCES topics(id)
		);`,
		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY,
			topic_id INTEGER NOT NULL,
			seq_id INTEGER NOT NULL,
			sender_id INTEGER NOT NULL,
			kind TEXT NOT NULL,
			content TEXT NOT NULL,
			reply_to_seq_id INTEGER DEFAULT NULL,
			created_at DATETIME NOT NULL,
			is_deleted BOOLEAN NOT NULL DEFAULT 0,
			UNIQUE (topic_id, seq_id),
			FOREIGN KEY (topic_id) REFERENCES topics(id)
		);`,
		`CREATE TABLE IF NOT EXISTS membership_events (
			id INTEGER PRIMARY KEY,
			topic_id INTEGER NOT NULL,
			kind TEXT NOT NULL,
			actor_id INTEGER NOT NULL,
			affected_id INTEGER DEFAULT NULL,
			subject_id INTEGER NOT NULL,
			seq_id INTEGER NOT NULL,
			created_at DATETIME NOT NULL,
			FOREIGN KEY (topic_id) REFERENCES topics(id)
		);`,
		`CREATE TABLE IF NOT EXISTS removal_snapshots (
			event_id INTEGER PRIMARY KEY,
			topic_id INTEGER NOT NULL,
			user_id INTEGER NOT NULL,
			read_seq_id INTEGER NOT NULL,
			recv_seq_id INTEGER NOT NULL,
			created_at DATETIME NOT NULL,
			FOREIGN KEY (event_id) REFERENCES membership_events(id)
		);`,
		`CREATE TABLE IF NOT EXISTS user_deleted_messages (
			user_id INTEGER NOT NULL,
			topic_id INTEGER NOT NULL,
			seq_id INTEGER NOT NULL,
			deleted_at DATETIME NOT NULL,
			PRIMARY KEY (user_id, topic_id, seq_id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_subscriptions_topic ON subscriptions(topic_id);`,
		`CREATE INDEX IF NOT EXISTS idx_topics_updated_at ON topics(updated_at DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_membership_events_subject ON membership_events(topic_id, subject_id, kind);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_sender ON messages(sender_id);`,
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	return nil
}

func now() time.Time {
	return time.Now().UTC()
}

// nextSeq bumps the topic counter inside tx and returns the new value.
func nextSeq(ctx context.Context, tx *sql.Tx, topicID int64, at time.Time) (int64, error) {
	var seq int64
	err := tx.QueryRowContext(ctx, `
		UPDATE topics
		SET last_seq_id = last_seq_id + 1, updated_at = ?
		WHERE id = ?
		RETURNING last_seq_id
	`, at, topicID).Scan(&seq)
	if err == sql.ErrNoRows {
		return 0, domain.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("next seq: %w", err)
	}
	return seq, nil
}

// insertMessage assigns the next sequence id to m and stores it inside tx.
func insertMessage(ctx context.Context, tx *sql.Tx, m *domain.Message) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now()
	}
	seq, err := nextSeq(ctx, tx, m.TopicID, m.CreatedAt)
	if err != nil {
		return err
	}
	m.SeqID = seq

	res, err := tx.ExecContext(ctx, `
		INSERT INTO messages (topic_id, seq_id, sender_id, kind, content, reply_to_seq_id, created_at, is_deleted)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0)
	`, m.TopicID, m.SeqID, m.SenderID, string(m.Kind), m.Content, m.ReplyToSeqID, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	m.ID = id
	return nil
}

// appendEvent writes the synthetic timeline message for an event and the
// event row itself.
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
		TopicID:   topicID,
		Kind:      kind,
		ActorID:   actorID,
		SeqID:     m.SeqID,
		CreatedAt: m.CreatedAt,
	}
	if userID != actorID {
		affected := userID
		e.AffectedID = &affected
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO membership_events (topic_id, kind, actor_id, affected_id, subject_id, seq_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, e.TopicID, string(e.Kind), e.ActorID, e.AffectedID, userID, e.SeqID, e.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert membership event: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	e.ID = id
	return e, nil
}

func insertSubscription(ctx context.Context, tx *sql.Tx, topicID, userID int64, permission string, seq int64, at time.Time) error {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO subscriptions (user_id, topic_id, permission, read_seq_id, recv_seq_id, joined_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, userID, topicID, permission, seq, seq, at); err != nil {
		return fmt.Errorf("insert subscription: %w", err)
	}
	return nil
}

func directKey(a, b int64) string {
	return fmt.Sprintf("%d:%d", min(a, b), max(a, b))
}
