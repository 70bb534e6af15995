package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	sqlite "modernc.org/sqlite"
)

const (
	sqliteConstraintCode = 19
	defaultBusyTimeout   = 5000
	defaultRecentLimit   = 50
	maxRecentLimit       = 1000
)

// Store is the connection journal: one row per websocket session, kept in SQLite.
type Store struct {
	db     *sql.DB
	closed atomic.Bool
}

// Connection is one journal row. Identity and DisconnectedAt stay empty until known.
type Connection struct {
	ID             string     `json:"id"`
	RemoteAddr     string     `json:"remote_addr"`
	Identity       *string    `json:"identity"`
	ConnectedAt    time.Time  `json:"connected_at"`
	DisconnectedAt *time.Time `json:"disconnected_at"`
}

// ErrJournalClosed is returned by every method once Close has been called.
var ErrJournalClosed = errors.New("connection journal is closed")

// ErrConnectionExists is returned when a session id is journaled twice.
var ErrConnectionExists = errors.New("connection already recorded")

// NewStore initializes the SQLite database at the provided path. Call Close when done.
func NewStore(path string) (*Store, error) {
	if path == "" {
		path = "comicchat.db"
	}
	db, err := sql.Open("sqlite", buildDSN(path))
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d;", defaultBusyTimeout)); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping journal: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying DB connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil || s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}

func (s *Store) usable() error {
	if s == nil || s.db == nil || s.closed.Load() {
		return ErrJournalClosed
	}
	return nil
}

func buildDSN(path string) string {
	switch {
	case strings.HasPrefix(path, "sqlite://"):
		path = path[len("sqlite://"):]
	case strings.HasPrefix(path, "file:"), strings.HasPrefix(path, ":memory:"):
		// already in a form sqlite understands
	default:
		path = "file:" + path
	}
	separator := "?"
	if strings.Contains(path, "?") {
		separator = "&"
	}
	return fmt.Sprintf("%s%s_pragma=busy_timeout=%d&_pragma=journal_mode=WAL", path, separator, defaultBusyTimeout)
}

// Migrate runs the schema creation statements.
func (s *Store) Migrate(ctx context.Context) (err error) {
	if err := s.usable(); err != nil {
		return err
	}
	statements := []string{
		`CREATE TABLE IF NOT EXISTS connections (
			id TEXT PRIMARY KEY,
			remote_addr TEXT NOT NULL,
			identity TEXT,
			connected_at INTEGER NOT NULL,
			disconnected_at INTEGER
		);`,
		`CREATE INDEX IF NOT EXISTS connections_connected_at ON connections(connected_at DESC);`,
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migrate: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	for _, stmt := range statements {
		if _, err = tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return tx.Commit()
}

// RecordConnect inserts the row for a freshly accepted session.
func (s *Store) RecordConnect(ctx context.Context, id, remoteAddr string, at time.Time) error {
	if err := s.usable(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO connections(id, remote_addr, connected_at) VALUES(?, ?, ?)`, id, remoteAddr, at.UnixMilli())
	if err != nil {
		if isConstraintError(err) {
			return ErrConnectionExists
		}
		return fmt.Errorf("record connect %s: %w", id, err)
	}
	return nil
}

// RecordIdentity stores the name a session announced with its first message.
func (s *Store) RecordIdentity(ctx context.Context, id, identity string) error {
	if err := s.usable(); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `UPDATE connections SET identity = ? WHERE id = ?`, identity, id); err != nil {
		return fmt.Errorf("record identity %s: %w", id, err)
	}
	return nil
}

// RecordDisconnect stamps the close time. A row that is already closed keeps its first stamp.
func (s *Store) RecordDisconnect(ctx context.Context, id string, at time.Time) error {
	if err := s.usable(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `UPDATE connections SET disconnected_at = ? WHERE id = ? AND disconnected_at IS NULL`, at.UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("record disconnect %s: %w", id, err)
	}
	return nil
}

// MarkAbandoned closes rows left open by a previous process that did not shut down cleanly.
func (s *Store) MarkAbandoned(ctx context.Context, at time.Time) (int64, error) {
	if err := s.usable(); err != nil {
		return 0, err
	}
	result, err := s.db.ExecContext(ctx, `UPDATE connections SET disconnected_at = ? WHERE disconnected_at IS NULL`, at.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("mark abandoned: %w", err)
	}
	return result.RowsAffected()
}

// GetConnection fetches one row by session id (nil when absent).
func (s *Store) GetConnection(ctx context.Context, id string) (*Connection, error) {
	if err := s.usable(); err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx, `SELECT id, remote_addr, identity, connected_at, disconnected_at FROM connections WHERE id = ?`, id)
	conn, err := scanConnection(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return conn, nil
}

// RecentConnections returns the newest rows first.
func (s *Store) RecentConnections(ctx context.Context, limit int) ([]Connection, error) {
	if err := s.usable(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	if limit > maxRecentLimit {
		limit = maxRecentLimit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, remote_addr, identity, connected_at, disconnected_at
		FROM connections
		ORDER BY connected_at DESC, id ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent connections: %w", err)
	}
	defer rows.Close()

	connections := make([]Connection, 0, limit)
	for rows.Next() {
		conn, err := scanConnection(rows)
		if err != nil {
			return nil, err
		}
		connections = append(connections, *conn)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return connections, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConnection(row rowScanner) (*Connection, error) {
	var (
		conn           Connection
		identity       sql.NullString
		connectedAt    int64
		disconnectedAt sql.NullInt64
	)
	if err := row.Scan(&conn.ID, &conn.RemoteAddr, &identity, &connectedAt, &disconnectedAt); err != nil {
		return nil, err
	}
	conn.ConnectedAt = time.UnixMilli(connectedAt).UTC()
	if identity.Valid {
		value := identity.String
		conn.Identity = &value
	}
	if disconnectedAt.Valid {
		value := time.UnixMilli(disconnectedAt.Int64).UTC()
		conn.DisconnectedAt = &value
	}
	return &conn, nil
}

func isConstraintError(err error) bool {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xff == sqliteConstraintCode
	}
	return false
}
