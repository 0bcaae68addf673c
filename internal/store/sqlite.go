package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ashureev/wardline/internal/domain"
	"github.com/ashureev/wardline/internal/shared"
	_ "modernc.org/sqlite"
)

const (
	conflictRetries   = 3
	conflictBaseDelay = 50 * time.Millisecond
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	// WAL lets the retention sweep run alongside socket inserts.
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if dbPath == ":memory:" {
		// Every connection to :memory: is a separate empty database.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		sender_id TEXT NOT NULL DEFAULT '',
		sender_department_id TEXT NOT NULL DEFAULT '',
		admin_id TEXT NOT NULL DEFAULT '',
		receiver_department_id TEXT NOT NULL,
		text TEXT NOT NULL,
		institution_id TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_receiver_created
		ON messages(receiver_department_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_messages_created ON messages(created_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// InsertMessage stores m, retrying briefly when the database is locked.
func (s *SQLiteStore) InsertMessage(ctx context.Context, m *domain.Message) error {
	if m.ID == "" || m.CreatedAt.IsZero() {
		return errors.New("insert message: id and createdAt are required")
	}
	query := `
	INSERT INTO messages (id, sender_id, sender_department_id, admin_id,
		receiver_department_id, text, institution_id, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO NOTHING`

	return withConflictRetry(ctx, "insert message", func() error {
		_, err := s.db.ExecContext(ctx, query,
			m.ID.String(), m.SenderID.String(), m.SenderDepartmentID.String(), m.AdminID.String(),
			m.ReceiverDepartmentID.String(), m.Text, m.InstitutionID.String(),
			m.CreatedAt.UnixMilli(),
		)
		return err
	})
}

// ListMessages returns the newest messages for departmentID first.
func (s *SQLiteStore) ListMessages(ctx context.Context, departmentID domain.ID, limit int) ([]*domain.Message, error) {
	query := `
		SELECT id, sender_id, sender_department_id, admin_id,
		       receiver_department_id, text, institution_id, created_at
		FROM messages
		WHERE receiver_department_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, departmentID.String(), limit)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]*domain.Message, 0)
	for rows.Next() {
		var m domain.Message
		var id, sender, senderDept, admin, receiver, institution string
		var createdAt int64
		if err := rows.Scan(&id, &sender, &senderDept, &admin, &receiver, &m.Text, &institution, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		m.ID = domain.ID(id)
		m.SenderID = domain.ID(sender)
		m.SenderDepartmentID = domain.ID(senderDept)
		m.AdminID = domain.ID(admin)
		m.ReceiverDepartmentID = domain.ID(receiver)
		m.InstitutionID = domain.ID(institution)
		m.CreatedAt = domain.At(time.UnixMilli(createdAt))
		out = append(out, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return out, nil
}

// DeleteOlderThan removes messages created before cutoff.
func (s *SQLiteStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	var deleted int64
	err := withConflictRetry(ctx, "delete old messages", func() error {
		result, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE created_at < ?`, cutoff.UnixMilli())
		if err != nil {
			return err
		}
		deleted, err = result.RowsAffected()
		return err
	})
	return deleted, err
}

// withConflictRetry runs fn, retrying SQLITE_BUSY and "database is
// locked" failures with exponential backoff: 50ms, 100ms.
func withConflictRetry(ctx context.Context, op string, fn func() error) error {
	var err error
	for i := 0; i < conflictRetries; i++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !shared.IsSQLiteConflictError(err) || i == conflictRetries-1 {
			break
		}
		delay := conflictBaseDelay * time.Duration(1<<i)
		slog.Debug("Database locked, retrying", "op", op, "attempt", i+1, "delay", delay)
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s: %w", op, ctx.Err())
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
