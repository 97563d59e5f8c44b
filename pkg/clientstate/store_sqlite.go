package clientstate

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"github.com/openline-chat/openline/pkg/chatsync"
)

// SQLiteStore keeps client state in a single key/value table.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = &SQLiteStore{}

func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	if dsn == "" {
		return nil, errors.New("sqlite client state: empty dsn")
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS client_state (
			key           TEXT PRIMARY KEY,
			value         TEXT NOT NULL,
			updated_at_ms INTEGER NOT NULL
		)
	`)
	return errors.Wrap(err, "sqlite client state: migrate")
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) SaveSession(ctx context.Context, self chatsync.Identity) error {
	if self.ID == "" {
		return errors.New("sqlite client state: identity has no id")
	}
	payload, err := json.Marshal(self)
	if err != nil {
		return errors.Wrap(err, "sqlite client state: encode session")
	}
	return s.put(ctx, KeySession, string(payload))
}

func (s *SQLiteStore) LoadSession(ctx context.Context) (chatsync.Identity, bool, error) {
	value, ok, err := s.get(ctx, KeySession)
	if err != nil || !ok {
		return chatsync.Identity{}, false, err
	}
	var self chatsync.Identity
	if err := json.Unmarshal([]byte(value), &self); err != nil {
		return chatsync.Identity{}, false, errors.Wrap(err, "sqlite client state: decode session")
	}
	return self, true, nil
}

func (s *SQLiteStore) ClearSession(ctx context.Context) error {
	return s.delete(ctx, KeySession)
}

func (s *SQLiteStore) SaveTheme(ctx context.Context, mode string) error {
	if mode == "" {
		return errors.New("sqlite client state: theme mode is empty")
	}
	return s.put(ctx, KeyTheme, mode)
}

func (s *SQLiteStore) LoadTheme(ctx context.Context) (string, bool, error) {
	return s.get(ctx, KeyTheme)
}

func (s *SQLiteStore) put(ctx context.Context, key, value string) error {
	if s == nil || s.db == nil {
		return errors.New("sqlite client state: db is nil")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO client_state (key, value, updated_at_ms) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at_ms = excluded.updated_at_ms
	`, key, value, time.Now().UnixMilli())
	return errors.Wrapf(err, "sqlite client state: put %s", key)
}

func (s *SQLiteStore) get(ctx context.Context, key string) (string, bool, error) {
	if s == nil || s.db == nil {
		return "", false, errors.New("sqlite client state: db is nil")
	}
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM client_state WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrapf(err, "sqlite client state: get %s", key)
	}
	return value, true, nil
}

func (s *SQLiteStore) delete(ctx context.Context, key string) error {
	if s == nil || s.db == nil {
		return errors.New("sqlite client state: db is nil")
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM client_state WHERE key = ?`, key)
	return errors.Wrapf(err, "sqlite client state: delete %s", key)
}
