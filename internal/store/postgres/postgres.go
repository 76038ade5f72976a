package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/aarutech20/indicVoice/internal/store"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Options tune the connection pool. Zero values keep the pgxpool defaults.
type Options struct {
	MaxConns        int32
	MaxConnLifetime time.Duration
}

// Store is a store.Store backed by PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

var _ store.Store = (*Store)(nil)

// Open connects to dsn, verifies the connection and migrates the schema.
func Open(ctx context.Context, dsn string, opts Options) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if opts.MaxConns > 0 {
		cfg.MaxConns = opts.MaxConns
	}
	if opts.MaxConnLifetime > 0 {
		cfg.MaxConnLifetime = opts.MaxConnLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := migrateUp(pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &Store{pool: pool}, nil
}

func migrateUp(pool *pgxpool.Pool) error {
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	driver, err := migratepgx.WithInstance(db, &migratepgx.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "pgx5", driver)
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
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO transcription_sessions (session_id, language_code, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (session_id) DO NOTHING
	`, sess.ID, sess.LanguageCode, sess.Active, sess.CreatedAt.UTC(), sess.UpdatedAt.UTC())
	if err != nil {
		return nil, false, fmt.Errorf("insert session: %w", err)
	}

	stored, err := s.GetSession(ctx, sess.ID)
	if err != nil {
		return nil, false, err
	}
	return stored, tag.RowsAffected() == 1, nil
}

// GetSession implements store.Store.
func (s *Store) GetSession(ctx context.Context, id string) (*store.Session, error) {
	var sess store.Session
	err := s.pool.QueryRow(ctx, `
		SELECT session_id, language_code, is_active, created_at, updated_at
		FROM transcription_sessions
		WHERE session_id = $1
	`, id).Scan(&sess.ID, &sess.LanguageCode, &sess.Active, &sess.CreatedAt, &sess.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("scan session: %w", err)
	}

	sess.CreatedAt = sess.CreatedAt.UTC()
	sess.UpdatedAt = sess.UpdatedAt.UTC()
	return &sess, nil
}

// EndSession implements store.Store.
func (s *Store) EndSession(ctx context.Context, id string, at time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE transcription_sessions
		SET is_active = FALSE, updated_at = GREATEST(updated_at, $1)
		WHERE session_id = $2
	`, at.UTC(), id)
	if err != nil {
		return false, fmt.Errorf("end session: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// AppendResult implements store.Store.
func (s *Store) AppendResult(ctx context.Context, r store.ChunkResult) (*store.ChunkResult, error) {
	out := r
	err := s.pool.QueryRow(ctx, `
		INSERT INTO transcription_results (session_id, chunk_number, transcription_text, confidence_score, timestamp)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, timestamp
	`, r.SessionID, r.ChunkNumber, r.Text, r.Confidence, r.Timestamp.UTC()).Scan(&out.ID, &out.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("insert result: %w", err)
	}

	out.Timestamp = out.Timestamp.UTC()
	return &out, nil
}

// ListResults implements store.Store.
func (s *Store) ListResults(ctx context.Context, sessionID string) ([]store.ChunkResult, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, session_id, chunk_number, transcription_text, confidence_score, timestamp
		FROM transcription_results
		WHERE session_id = $1
		ORDER BY chunk_number ASC, id ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query results: %w", err)
	}
	defer rows.Close()

	results := make([]store.ChunkResult, 0)
	for rows.Next() {
		var r store.ChunkResult
		if err := rows.Scan(&r.ID, &r.SessionID, &r.ChunkNumber, &r.Text, &r.Confidence, &r.Timestamp); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		r.Timestamp = r.Timestamp.UTC()
		results = append(results, r)
	}
	return results, rows.Err()
}

// Ping implements store.Store.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
