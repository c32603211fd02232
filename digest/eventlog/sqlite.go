package eventlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"

	"github.com/theimaginaryfoundation/wa-digest/digest"
)

// SQLiteStore keeps events in a single table, one row per record, with the stored JSON in raw.
// Rows are read back in insertion order.
type SQLiteStore struct {
	db     *sql.DB
	path   string
	logger *slog.Logger

	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens or creates a SQLite database at the given path.
func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	s := &SQLiteStore{
		db:      db,
		path:    dbPath,
		logger:  discardIfNil(logger),
		entropy: ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS events (
		id         TEXT PRIMARY KEY,
		ts_server  INTEGER NOT NULL,
		type       TEXT NOT NULL DEFAULT '',
		chat_jid   TEXT NOT NULL DEFAULT '',
		raw        TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_events_ts_server ON events(ts_server);
	CREATE INDEX IF NOT EXISTS idx_events_chat ON events(chat_jid);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) newID(t time.Time) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), s.entropy).String()
}

func (s *SQLiteStore) Backend() string  { return BackendSQLite }
func (s *SQLiteStore) Location() string { return s.path }
func (s *SQLiteStore) Close() error     { return s.db.Close() }

func (s *SQLiteStore) Append(ctx context.Context, tsServer int64, events []json.RawMessage) (int, error) {
	stamped, err := stampAll(tsServer, events)
	if err != nil {
		return 0, fmt.Errorf("SQLiteStore.Append: %w", err)
	}
	return s.AppendRecords(ctx, stamped)
}

func (s *SQLiteStore) AppendRecords(ctx context.Context, records []json.RawMessage) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("SQLiteStore.AppendRecords: begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO events (id, ts_server, type, chat_jid, raw) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("SQLiteStore.AppendRecords: prepare: %w", err)
	}
	defer stmt.Close()

	now := time.Now()
	for i, raw := range records {
		rec, err := DecodeRecord(raw)
		if err != nil {
			return 0, fmt.Errorf("SQLiteStore.AppendRecords: record %d: %w", i, err)
		}
		if _, err := stmt.ExecContext(ctx, s.newID(now), rec.ServerTimestampMs, rec.Type, rec.ConversationID, string(raw)); err != nil {
			return 0, fmt.Errorf("SQLiteStore.AppendRecords: insert %d: %w", i, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("SQLiteStore.AppendRecords: commit: %w", err)
	}
	return len(records), nil
}

func (s *SQLiteStore) Scan(ctx context.Context, fn func(digest.EventRecord) error) error {
	rows, err := s.db.QueryContext(ctx, `SELECT raw FROM events ORDER BY rowid`)
	if err != nil {
		return fmt.Errorf("SQLiteStore.Scan: %w", err)
	}
	defer rows.Close()

	skipped := 0
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return fmt.Errorf("SQLiteStore.Scan: %w", err)
		}
		rec, err := DecodeRecord([]byte(raw))
		if err != nil {
			skipped++
			continue
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	if skipped > 0 {
		s.logger.Debug("skipped malformed event rows", "path", s.path, "count", skipped)
	}
	return rows.Err()
}

func (s *SQLiteStore) Tail(ctx context.Context, n int) ([]json.RawMessage, error) {
	n = clampTail(n)
	if n == 0 {
		return []json.RawMessage{}, nil
	}
	rows, err := s.db.QueryContext(ctx, `SELECT raw FROM events ORDER BY rowid DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("SQLiteStore.Tail: %w", err)
	}
	defer rows.Close()

	var out []json.RawMessage
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("SQLiteStore.Tail: %w", err)
		}
		out = append(out, json.RawMessage(raw))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("SQLiteStore.Tail: %w", err)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	if out == nil {
		out = []json.RawMessage{}
	}
	return out, nil
}

func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&n); err != nil {
		return 0, fmt.Errorf("SQLiteStore.Count: %w", err)
	}
	return n, nil
}
