// Package archive keeps a local SQLite history of stream messages.
package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/iamthamanic/multiagentultra/internal/stream"
	v1 "github.com/iamthamanic/multiagentultra/pkg/api/v1"
)

// DefaultRecentLimit is used by Recent when limit is not positive.
const DefaultRecentLimit = 100

// Store persists stream messages.
type Store struct {
	db *sqlx.DB
}

type messageRow struct {
	ID        int64   `db:"id"`
	Kind      string  `db:"kind"`
	AgentID   *int64  `db:"agent_id"`
	AgentName *string `db:"agent_name"`
	CrewID    *int64  `db:"crew_id"`
	ProjectID *int64  `db:"project_id"`
	Content   string  `db:"content"`
	Metadata  *string `db:"metadata"`
	Timestamp string  `db:"timestamp"`
}

// Open opens (creating if needed) the archive database at path. The path
// ":memory:" opens a private in-memory database.
func Open(path string) (*Store, error) {
	dsn := ":memory:"
	if path != ":memory:" {
		path = expandHome(path)
		if dir := filepath.Dir(path); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to prepare archive path: %w", err)
			}
		}
		dsn = fmt.Sprintf("file:%s?_mode=rwc&_journal_mode=WAL", path)
	}

	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to close archive after schema error: %w", closeErr)
		}
		return nil, fmt.Errorf("failed to initialize archive schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS stream_messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		kind TEXT NOT NULL,
		agent_id INTEGER,
		agent_name TEXT,
		crew_id INTEGER,
		project_id INTEGER,
		content TEXT NOT NULL,
		metadata TEXT,
		timestamp TEXT NOT NULL,
		received_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_stream_messages_project ON stream_messages(project_id, id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save appends one message.
func (s *Store) Save(ctx context.Context, msg stream.Message) error {
	var metadata *string
	if len(msg.Metadata) > 0 {
		raw, err := json.Marshal(msg.Metadata)
		if err != nil {
			return fmt.Errorf("failed to encode metadata: %w", err)
		}
		m := string(raw)
		metadata = &m
	}

	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO stream_messages (kind, agent_id, agent_name, crew_id, project_id, content, metadata, timestamp, received_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), string(msg.Kind), msg.AgentID, msg.AgentName, msg.CrewID, msg.ProjectID, msg.Content, metadata,
		msg.Timestamp.UTC().Format(time.RFC3339Nano), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save message: %w", err)
	}
	return nil
}

// Recent returns up to limit of the newest messages, oldest first. A zero
// projectID returns messages of every project.
func (s *Store) Recent(ctx context.Context, projectID int64, limit int) ([]stream.Message, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}

	query := `SELECT id, kind, agent_id, agent_name, crew_id, project_id, content, metadata, timestamp FROM stream_messages`
	args := []interface{}{}
	if projectID != 0 {
		query += ` WHERE project_id = ?`
		args = append(args, projectID)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	var rows []messageRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}

	out := make([]stream.Message, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		msg, err := rows[i].toMessage()
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	return out, nil
}

func (r messageRow) toMessage() (stream.Message, error) {
	ts, err := v1.ParseTimestamp(r.Timestamp)
	if err != nil {
		return stream.Message{}, fmt.Errorf("message %d: %w", r.ID, err)
	}
	msg := stream.Message{
		Kind:      stream.Kind(r.Kind),
		AgentID:   r.AgentID,
		AgentName: r.AgentName,
		CrewID:    r.CrewID,
		ProjectID: r.ProjectID,
		Content:   r.Content,
		Timestamp: ts,
	}
	if r.Metadata != nil {
		if err := json.Unmarshal([]byte(*r.Metadata), &msg.Metadata); err != nil {
			return stream.Message{}, fmt.Errorf("message %d metadata: %w", r.ID, err)
		}
	}
	return msg, nil
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}
