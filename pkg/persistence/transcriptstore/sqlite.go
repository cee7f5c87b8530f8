package transcriptstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"github.com/go-go-golems/voicebot/pkg/conversation"
)

type SQLiteTranscriptStore struct {
	db *sql.DB
}

var _ TranscriptStore = &SQLiteTranscriptStore{}

// SQLiteDSNForFile builds a DSN with WAL and a busy timeout, so the chat
// can write while `history` reads.
func SQLiteDSNForFile(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", errors.New("sqlite transcript store: empty path")
	}
	return fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", path), nil
}

func NewSQLiteTranscriptStore(dsn string) (*SQLiteTranscriptStore, error) {
	if dsn == "" {
		return nil, errors.New("sqlite transcript store: empty dsn")
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite transcript store: open")
	}
	s := &SQLiteTranscriptStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteTranscriptStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteTranscriptStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS transcript_messages (
		  conv_id TEXT NOT NULL,
		  seq INTEGER NOT NULL,
		  role TEXT NOT NULL,
		  created_at_ms INTEGER NOT NULL,
		  updated_at_ms INTEGER NOT NULL,
		  message_json TEXT NOT NULL,
		  PRIMARY KEY (conv_id, seq)
		);`,
		`CREATE TABLE IF NOT EXISTS transcript_conversations (
		  conv_id TEXT PRIMARY KEY,
		  title TEXT NOT NULL DEFAULT '',
		  created_at_ms INTEGER NOT NULL,
		  last_activity_ms INTEGER NOT NULL,
		  message_count INTEGER NOT NULL DEFAULT 0,
		  status TEXT NOT NULL DEFAULT 'active',
		  last_error TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE INDEX IF NOT EXISTS transcript_conversations_by_last_activity
		  ON transcript_conversations(last_activity_ms DESC, conv_id ASC);`,
	}
	for _, st := range stmts {
		if _, err := s.db.Exec(st); err != nil {
			return errors.Wrap(err, "sqlite transcript store: migrate")
		}
	}
	return nil
}

const upsertConversationSQL = `
	INSERT INTO transcript_conversations (
		conv_id, title, created_at_ms, last_activity_ms, message_count, status, last_error
	) VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(conv_id) DO UPDATE SET
		title = CASE
			WHEN transcript_conversations.title = '' THEN excluded.title
			ELSE transcript_conversations.title
		END,
		created_at_ms = CASE
			WHEN transcript_conversations.created_at_ms > 0 THEN transcript_conversations.created_at_ms
			ELSE excluded.created_at_ms
		END,
		last_activity_ms = CASE
			WHEN excluded.last_activity_ms > transcript_conversations.last_activity_ms THEN excluded.last_activity_ms
			ELSE transcript_conversations.last_activity_ms
		END,
		message_count = CASE
			WHEN excluded.message_count > transcript_conversations.message_count THEN excluded.message_count
			ELSE transcript_conversations.message_count
		END,
		status = CASE
			WHEN excluded.status <> '' THEN excluded.status
			ELSE transcript_conversations.status
		END,
		last_error = CASE
			WHEN excluded.last_error <> '' THEN excluded.last_error
			ELSE transcript_conversations.last_error
		END
`

func (s *SQLiteTranscriptStore) UpsertMessage(ctx context.Context, convID string, m conversation.Message) error {
	convID = strings.TrimSpace(convID)
	if convID == "" {
		return errors.New("sqlite transcript store: convID is empty")
	}
	if m.Seq < 0 {
		return errors.Errorf("sqlite transcript store: invalid seq %d", m.Seq)
	}
	now := time.Now().UnixMilli()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "sqlite transcript store: begin")
	}
	defer func() { _ = tx.Rollback() }()

	var existingCreated int64
	var existingJSON string
	err = tx.QueryRowContext(ctx,
		`SELECT created_at_ms, message_json FROM transcript_messages WHERE conv_id = ? AND seq = ?`,
		convID, m.Seq).Scan(&existingCreated, &existingJSON)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return errors.Wrap(err, "sqlite transcript store: load message")
	}
	createdAt := existingCreated
	if createdAt == 0 {
		createdAt = now
		if !m.CreatedAt.IsZero() {
			createdAt = m.CreatedAt.UnixMilli()
		}
	} else {
		var prev conversation.Message
		if err := json.Unmarshal([]byte(existingJSON), &prev); err == nil && !prev.CreatedAt.IsZero() {
			m.CreatedAt = prev.CreatedAt
		}
	}

	payload, err := json.Marshal(m)
	if err != nil {
		return errors.Wrap(err, "sqlite transcript store: marshal message")
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO transcript_messages(conv_id, seq, role, created_at_ms, updated_at_ms, message_json)
		VALUES(?, ?, ?, ?, ?, ?)
		ON CONFLICT(conv_id, seq) DO UPDATE SET
		  role = excluded.role,
		  updated_at_ms = excluded.updated_at_ms,
		  message_json = excluded.message_json
	`, convID, m.Seq, string(m.Role), createdAt, now, string(payload)); err != nil {
		return errors.Wrap(err, "sqlite transcript store: upsert message")
	}

	var count int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM transcript_messages WHERE conv_id = ?`, convID).Scan(&count); err != nil {
		return errors.Wrap(err, "sqlite transcript store: count messages")
	}
	if _, err := tx.ExecContext(ctx, upsertConversationSQL,
		convID, titleFor(m), now, now, count, "", ""); err != nil {
		return errors.Wrap(err, "sqlite transcript store: upsert conversation progress")
	}

	return errors.Wrap(tx.Commit(), "sqlite transcript store: commit")
}

func (s *SQLiteTranscriptStore) ClearMessages(ctx context.Context, convID string) error {
	convID = strings.TrimSpace(convID)
	if convID == "" {
		return errors.New("sqlite transcript store: convID is empty")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "sqlite transcript store: begin")
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, `DELETE FROM transcript_messages WHERE conv_id = ?`, convID); err != nil {
		return errors.Wrap(err, "sqlite transcript store: clear messages")
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE transcript_conversations
		SET message_count = 0, title = '', last_activity_ms = ?
		WHERE conv_id = ?
	`, time.Now().UnixMilli(), convID); err != nil {
		return errors.Wrap(err, "sqlite transcript store: reset conversation")
	}
	return errors.Wrap(tx.Commit(), "sqlite transcript store: commit")
}

func (s *SQLiteTranscriptStore) GetTranscript(ctx context.Context, convID string) ([]conversation.Message, error) {
	convID = strings.TrimSpace(convID)
	if convID == "" {
		return nil, errors.New("sqlite transcript store: convID is empty")
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT message_json FROM transcript_messages WHERE conv_id = ? ORDER BY seq ASC`, convID)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite transcript store: query transcript")
	}
	defer func() { _ = rows.Close() }()

	var out []conversation.Message
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, errors.Wrap(err, "sqlite transcript store: scan message")
		}
		var m conversation.Message
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			return nil, errors.Wrap(err, "sqlite transcript store: unmarshal message")
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "sqlite transcript store: iterate transcript")
	}
	return out, nil
}

func (s *SQLiteTranscriptStore) UpsertConversation(ctx context.Context, record ConversationRecord) error {
	record = normalizeConversationRecord(record, time.Now().UnixMilli())
	if record.ConvID == "" {
		return errors.New("sqlite transcript store: convID is empty")
	}
	if _, err := s.db.ExecContext(ctx, upsertConversationSQL,
		record.ConvID, record.Title, record.CreatedAtMs, record.LastActivityMs,
		record.MessageCount, record.Status, record.LastError); err != nil {
		return errors.Wrap(err, "sqlite transcript store: upsert conversation")
	}
	return nil
}

const selectConversationSQL = `
	SELECT conv_id, title, created_at_ms, last_activity_ms, message_count, status, last_error
	FROM transcript_conversations
`

type scanner interface {
	Scan(dest ...any) error
}

func scanConversation(row scanner) (ConversationRecord, error) {
	var r ConversationRecord
	err := row.Scan(&r.ConvID, &r.Title, &r.CreatedAtMs, &r.LastActivityMs, &r.MessageCount, &r.Status, &r.LastError)
	if r.Status == "" {
		r.Status = "active"
	}
	return r, err
}

func (s *SQLiteTranscriptStore) GetConversation(ctx context.Context, convID string) (ConversationRecord, bool, error) {
	convID = strings.TrimSpace(convID)
	if convID == "" {
		return ConversationRecord{}, false, errors.New("sqlite transcript store: convID is empty")
	}
	record, err := scanConversation(s.db.QueryRowContext(ctx, selectConversationSQL+` WHERE conv_id = ?`, convID))
	if errors.Is(err, sql.ErrNoRows) {
		return ConversationRecord{}, false, nil
	}
	if err != nil {
		return ConversationRecord{}, false, errors.Wrap(err, "sqlite transcript store: get conversation")
	}
	return record, true, nil
}

func (s *SQLiteTranscriptStore) ListConversations(ctx context.Context, limit int, sinceMs int64) ([]ConversationRecord, error) {
	if limit <= 0 {
		limit = 200
	}
	query := selectConversationSQL
	args := make([]any, 0, 2)
	if sinceMs > 0 {
		query += ` WHERE last_activity_ms >= ?`
		args = append(args, sinceMs)
	}
	query += ` ORDER BY last_activity_ms DESC, conv_id ASC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite transcript store: list conversations")
	}
	defer func() { _ = rows.Close() }()

	records := make([]ConversationRecord, 0)
	for rows.Next() {
		record, err := scanConversation(rows)
		if err != nil {
			return nil, errors.Wrap(err, "sqlite transcript store: scan conversation")
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "sqlite transcript store: iterate conversations")
	}
	return records, nil
}
