package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/jadenj13/analyst/internals/codec"
	"github.com/jadenj13/analyst/internals/conversation"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	key        TEXT PRIMARY KEY,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);
CREATE TABLE IF NOT EXISTS messages (
	session_key  TEXT NOT NULL REFERENCES sessions(key),
	seq          INTEGER NOT NULL,
	role         TEXT NOT NULL,
	kind         TEXT NOT NULL DEFAULT '',
	content      TEXT NOT NULL DEFAULT '',
	blocks       TEXT,
	tool_calls   TEXT,
	tool_call_id TEXT NOT NULL DEFAULT '',
	tool_name    TEXT NOT NULL DEFAULT '',
	artifacts    BLOB,
	created_at   DATETIME NOT NULL,
	PRIMARY KEY (session_key, seq)
);
`

type SQLite struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

// OpenSQLite opens (or creates) the session database at path.
func OpenSQLite(path string) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One writer; appends are serialized by the connection.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return &SQLite{db: db, path: path, now: time.Now}, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) Append(ctx context.Context, key string, msgs ...conversation.Message) error {
	if len(msgs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback()

	now := s.now().UTC()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO sessions (key, created_at, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET updated_at = excluded.updated_at`,
		key, now, now,
	); err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}

	var last int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM messages WHERE session_key = ?`, key,
	).Scan(&last); err != nil {
		return fmt.Errorf("read last seq: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO messages (session_key, seq, role, kind, content, blocks, tool_calls,
			tool_call_id, tool_name, artifacts, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, m := range msgs {
		created := m.CreatedAt
		if created.IsZero() {
			created = now
		}
		row, err := encodeRow(m)
		if err != nil {
			return fmt.Errorf("encode message %d: %w", i, err)
		}
		if _, err := stmt.ExecContext(ctx,
			key, last+int64(i)+1, string(m.Role), string(m.Kind), m.Content,
			row.blocks, row.toolCalls, m.ToolCallID, m.ToolName, row.artifacts, created.UTC(),
		); err != nil {
			return fmt.Errorf("insert message %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit append: %w", err)
	}
	return nil
}

func (s *SQLite) Read(ctx context.Context, key string) ([]conversation.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, role, kind, content, blocks, tool_calls, tool_call_id, tool_name,
			artifacts, created_at
		FROM messages WHERE session_key = ? ORDER BY seq`, key)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var msgs []conversation.Message
	for rows.Next() {
		var (
			m         conversation.Message
			role      string
			kind      string
			blocks    sql.NullString
			toolCalls sql.NullString
			artifacts []byte
		)
		if err := rows.Scan(&m.Seq, &role, &kind, &m.Content, &blocks, &toolCalls,
			&m.ToolCallID, &m.ToolName, &artifacts, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Role = conversation.Role(role)
		m.Kind = conversation.Kind(kind)
		if blocks.Valid {
			if err := json.Unmarshal([]byte(blocks.String), &m.Blocks); err != nil {
				return nil, fmt.Errorf("decode blocks of seq %d: %w", m.Seq, err)
			}
		}
		if toolCalls.Valid {
			if err := json.Unmarshal([]byte(toolCalls.String), &m.ToolCalls); err != nil {
				return nil, fmt.Errorf("decode tool calls of seq %d: %w", m.Seq, err)
			}
		}
		if len(artifacts) > 0 {
			if err := codec.Unpack(artifacts, &m.Artifacts); err != nil {
				return nil, fmt.Errorf("decode artifacts of seq %d: %w", m.Seq, err)
			}
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return msgs, nil
}

func (s *SQLite) Info(ctx context.Context, key string) (Info, error) {
	var total, turns int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(CASE WHEN role = ? THEN 1 ELSE 0 END), 0)
		FROM messages WHERE session_key = ?`,
		string(conversation.RoleUser), key,
	).Scan(&total, &turns)
	if err != nil {
		return Info{}, fmt.Errorf("session info: %w", err)
	}
	return Info{
		SessionID:     key,
		TotalMessages: total,
		UserTurns:     turns,
		HasHistory:    turns > 0,
	}, nil
}

func (s *SQLite) Stats(ctx context.Context) (Stats, error) {
	st := Stats{Path: s.path}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions`).Scan(&st.Sessions); err != nil {
		return Stats{}, fmt.Errorf("count sessions: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages`).Scan(&st.Messages); err != nil {
		return Stats{}, fmt.Errorf("count messages: %w", err)
	}
	if fi, err := os.Stat(s.path); err == nil {
		st.SizeMB = math.Round(float64(fi.Size())/(1024*1024)*1000) / 1000
	}
	return st, nil
}

type encodedRow struct {
	blocks    any
	toolCalls any
	artifacts []byte
}

func encodeRow(m conversation.Message) (encodedRow, error) {
	var row encodedRow
	if m.Blocks != nil {
		b, err := json.Marshal(m.Blocks)
		if err != nil {
			return row, err
		}
		row.blocks = string(b)
	}
	if len(m.ToolCalls) > 0 {
		b, err := json.Marshal(m.ToolCalls)
		if err != nil {
			return row, err
		}
		row.toolCalls = string(b)
	}
	if len(m.Artifacts) > 0 {
		b, err := codec.Pack(m.Artifacts)
		if err != nil {
			return row, err
		}
		row.artifacts = b
	}
	return row, nil
}
