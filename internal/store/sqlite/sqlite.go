package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"github.com/aarutech20/indicVoice/internal/store"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store is a store.Store backed by SQLite. All access goes through a single
// connection, which serializes writers and keeps ":memory:" databases alive.
type Store struct {
	db *sql.DB
}

var _ store.Store = (*Store)(nil)

// Open opens (creating if needed) the database at path and applies pending
// migrations. Use ":memory:" for a throwaway database.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	if path != ":memory:" {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL")
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply %q: %w", p, err)
		}
	}

	if err := migrateUp(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// migrateUp applies the embedded migrations. The migrator is not closed
// because that would close the shared *sql.DB.
func migrateUp(db *sql.DB) error {
	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate up: %w", err)
	}
	return nil
}

// CreateSessionIfAbsent implements store.Store.
func (s *Store) CreateSessionIfAbsent(ctx context.Context, sess store.Session) (*store.Session, bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO transcription_sessions (session_id, language_code, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (session_id) DO NOTHING
	`, sess.ID, sess.LanguageCode, sess.Active, toNanos(sess.CreatedAt), toNanos(sess.UpdatedAt))
	if err != nil {
		return nil, false, fmt.Errorf("insert session: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("insert session: %w", err)
	}

	stored, err := s.GetSession(ctx, sess.ID)
	if err != nil {
		return nil, false, err
	}
	return stored, n == 1, nil
}

// GetSession implements store.Store.
func (s *Store) GetSession(ctx context.Context, id string) (*store.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT session_id, language_code, is_active, created_at, updated_at
		FROM transcription_sessions
		WHERE session_id = ?
	`, id)

	var sess store.Session
	var createdAt, updatedAt int64
	if err := row.Scan(&sess.ID, &sess.LanguageCode, &sess.Active, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("scan session: %w", err)
	}
	sess.CreatedAt = fromNanos(createdAt)
	sess.UpdatedAt = fromNanos(updatedAt)

	return &sess, nil
}

// EndSession implements store.Store.
func (s *Store) EndSession(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE transcription_sessions
		SET is_active = 0, updated_at = MAX(updated_at, ?)
		WHERE session_id = ?
	`, toNanos(at), id)
	if err != nil {
		return false, fmt.Errorf("end session: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("end session: %w", err)
	}
	return n > 0, nil
}

// AppendResult implements store.Store.
func (s *Store) AppendResult(ctx context.Context, r store.ChunkResult) (*store.ChunkResult, error) {
	var confidence sql.NullFloat64
	if r.Confidence != nil {
		confidence = sql.NullFloat64{Float64: *r.Confidence, Valid: true}
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO transcription_results (session_id, chunk_number, transcription_text, confidence_score, timestamp)
		VALUES (?, ?, ?, ?, ?)
	`, r.SessionID, r.ChunkNumber, r.Text, confidence, toNanos(r.Timestamp))
	if err != nil {
		return nil, fmt.Errorf("insert result: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("insert result: %w", err)
	}

	out := r
	out.ID = id
	out.Timestamp = fromNanos(toNanos(r.Timestamp))
	return &out, nil
}

// ListResults implements store.Store.
func (s *Store) ListResults(ctx context.Context, sessionID string) ([]store.ChunkResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, chunk_number, transcription_text, confidence_score, timestamp
		FROM transcription_results
		WHERE session_id = ?
		ORDER BY chunk_number ASC, id ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query results: %w", err)
	}
	defer rows.Close()

	results := make([]store.ChunkResult, 0)
	for rows.Next() {
		var r store.ChunkResult
		var confidence sql.NullFloat64
		var ts int64
		if err := rows.Scan(&r.ID, &r.SessionID, &r.ChunkNumber, &r.Text, &confidence, &ts); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		if confidence.Valid {
			r.Confidence = store.Float64(confidence.Float64)
		}
		r.Timestamp = fromNanos(ts)
		results = append(results, r)
	}
	return results, rows.Err()
}

// Ping implements store.Store.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func toNanos(t time.Time) int64 {
	return t.UTC().UnixNano()
}

func fromNanos(ns int64) time.Time {
	return time.Unix(0, ns).UTC()
}
