// Package checkpoint persists conversation sessions to SQLite so the
// assistant resumes exactly where it left off after a restart. Each
// session is a keyed, strictly ordered transcript; message batches are
// written in a single transaction so a crash mid-write never leaves a
// partial tool round on disk.
package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/masonworks/mason-code-agent/internal/llm"
)

// ErrNotFound is returned by Load and Delete when no session exists
// under the given key.
var ErrNotFound = errors.New("session not found")

// SessionInfo summarizes a stored session without loading its messages.
type SessionInfo struct {
	Key       string
	CreatedAt time.Time
	UpdatedAt time.Time
	Messages  int
}

// Store handles session persistence. It wraps a single long-lived
// database handle opened by the caller at startup and never opens
// connections of its own.
type Store struct {
	db *sql.DB
}

// NewStore creates a session store using the given database.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			key        TEXT PRIMARY KEY,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS messages (
			id           TEXT PRIMARY KEY,
			session_key  TEXT NOT NULL,
			seq          INTEGER NOT NULL,
			role         TEXT NOT NULL,
			content      TEXT NOT NULL,
			tool_calls   TEXT,
			tool_call_id TEXT,
			created_at   TEXT NOT NULL,
			UNIQUE(session_key, seq)
		);

		CREATE INDEX IF NOT EXISTS idx_messages_session
			ON messages(session_key, seq);
	`)
	return err
}

// AppendBatch writes msgs at sequence positions startSeq onward in one
// transaction: all rows land or none do. The UNIQUE(session_key, seq)
// constraint rejects the whole batch if any position is already taken,
// so two writers can never interleave a tool round.
func (s *Store) AppendBatch(ctx context.Context, sessionKey string, startSeq int, msgs []llm.Message) error {
	if len(msgs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC().Format(time.RFC3339)

	if _, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO sessions (key, created_at, updated_at)
		VALUES (?, ?, ?)
	`, sessionKey, now, now); err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE sessions SET updated_at = ? WHERE key = ?
	`, now, sessionKey); err != nil {
		return fmt.Errorf("touch session: %w", err)
	}

	for i, msg := range msgs {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("generate message id: %w", err)
		}

		var toolCalls any
		if len(msg.ToolCalls) > 0 {
			raw, err := json.Marshal(msg.ToolCalls)
			if err != nil {
				return fmt.Errorf("marshal tool calls: %w", err)
			}
			toolCalls = string(raw)
		}

		var toolCallID any
		if msg.ToolCallID != "" {
			toolCallID = msg.ToolCallID
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO messages (id, session_key, seq, role, content, tool_calls, tool_call_id, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, id.String(), sessionKey, startSeq+i, msg.Role, msg.Content, toolCalls, toolCallID, now); err != nil {
			return fmt.Errorf("insert message at seq %d: %w", startSeq+i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Load returns the full ordered history for a session. It returns
// ErrNotFound when the key has never been written; a committed batch is
// always returned whole.
func (s *Store) Load(ctx context.Context, sessionKey string) ([]llm.Message, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sessions WHERE key = ?`, sessionKey,
	).Scan(&count)
	if err != nil {
		return nil, fmt.Errorf("query session: %w", err)
	}
	if count == 0 {
		return nil, ErrNotFound
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT role, content, tool_calls, tool_call_id
		FROM messages
		WHERE session_key = ?
		ORDER BY seq ASC
	`, sessionKey)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var msgs []llm.Message
	for rows.Next() {
		var msg llm.Message
		var toolCalls, toolCallID sql.NullString
		if err := rows.Scan(&msg.Role, &msg.Content, &toolCalls, &toolCallID); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if toolCalls.Valid {
			if err := json.Unmarshal([]byte(toolCalls.String), &msg.ToolCalls); err != nil {
				return nil, fmt.Errorf("unmarshal tool calls: %w", err)
			}
		}
		if toolCallID.Valid {
			msg.ToolCallID = toolCallID.String
		}
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}

// List returns all stored sessions, most recently updated first.
func (s *Store) List(ctx context.Context) ([]SessionInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.key, s.created_at, s.updated_at, COUNT(m.id)
		FROM sessions s
		LEFT JOIN messages m ON m.session_key = s.key
		GROUP BY s.key
		ORDER BY s.updated_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []SessionInfo
	for rows.Next() {
		var info SessionInfo
		var createdStr, updatedStr string
		if err := rows.Scan(&info.Key, &createdStr, &updatedStr, &info.Messages); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		info.CreatedAt, _ = time.Parse(time.RFC3339, createdStr)
		info.UpdatedAt, _ = time.Parse(time.RFC3339, updatedStr)
		sessions = append(sessions, info)
	}
	return sessions, rows.Err()
}

// Clear removes all stored messages for a session but keeps the session
// row so the key stays listed. Clearing an unknown key is a no-op.
func (s *Store) Clear(ctx context.Context, sessionKey string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM messages WHERE session_key = ?`, sessionKey,
	); err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE sessions SET updated_at = ? WHERE key = ?`,
		time.Now().UTC().Format(time.RFC3339), sessionKey,
	); err != nil {
		return fmt.Errorf("touch session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Delete removes a session and its messages entirely.
func (s *Store) Delete(ctx context.Context, sessionKey string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM messages WHERE session_key = ?`, sessionKey,
	); err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}

	result, err := tx.ExecContext(ctx,
		`DELETE FROM sessions WHERE key = ?`, sessionKey,
	)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Touch bumps a session's updated_at, creating the row if needed. The
// engine calls it when resuming so List ordering reflects activity.
func (s *Store) Touch(ctx context.Context, sessionKey string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	if _, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO sessions (key, created_at, updated_at)
		VALUES (?, ?, ?)
	`, sessionKey, now, now); err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET updated_at = ? WHERE key = ?`, now, sessionKey,
	); err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	return nil
}
