package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/pavelanni/examhall/internal/model"
)

// Supported database/sql driver names.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "pgx"
)

const pingAttempts = 10

type Store struct {
	db     *sqlx.DB
	driver string
}

// dbtx is satisfied by both *sqlx.DB and *sqlx.Tx.
type dbtx interface {
	Rebind(query string) string
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// New opens the database, waits for it to answer and applies the schema.
// An empty driver means SQLite.
func New(driver, dsn string) (*Store, error) {
	switch driver {
	case "", DriverSQLite:
		driver = DriverSQLite
		dsn = sqliteDSN(dsn)
	case DriverPostgres:
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if driver == DriverSQLite {
		// One connection serializes writers and keeps :memory: databases shared.
		db.SetMaxOpenConns(1)
	}
	if err := ping(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db, driver: driver}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func sqliteDSN(path string) string {
	switch {
	case path == "":
		return ":memory:"
	case path == ":memory:", strings.Contains(path, "?"):
		return path
	}
	return path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
}

// ping waits for the database to be ready, backing off a little longer after each attempt.
func ping(db *sqlx.DB) error {
	var err error
	for attempt := 1; attempt <= pingAttempts; attempt++ {
		if err = db.Ping(); err == nil {
			return nil
		}
		time.Sleep(time.Duration(attempt) * 100 * time.Millisecond)
	}
	return err
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Driver returns the database/sql driver name in use.
func (s *Store) Driver() string {
	return s.driver
}

func (s *Store) migrate() error {
	ts, float := "DATETIME", "REAL"
	if s.driver == DriverPostgres {
		ts, float = "TIMESTAMPTZ", "DOUBLE PRECISION"
	}
	schema := strings.NewReplacer("{{ts}}", ts, "{{real}}", float).Replace(`
	CREATE TABLE IF NOT EXISTS quota_ledgers (
		tenant_id TEXT PRIMARY KEY,
		quota_total INTEGER NOT NULL DEFAULT 0,
		quota_used INTEGER NOT NULL DEFAULT 0,
		CHECK (quota_used >= 0)
	);

	CREATE TABLE IF NOT EXISTS students (
		tenant_id TEXT NOT NULL,
		id TEXT NOT NULL,
		name TEXT NOT NULL,
		level TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (tenant_id, id)
	);

	CREATE TABLE IF NOT EXISTS questions (
		tenant_id TEXT NOT NULL,
		id TEXT NOT NULL,
		bank_id TEXT NOT NULL,
		topic TEXT NOT NULL DEFAULT '',
		text TEXT NOT NULL,
		weight {{real}} NOT NULL DEFAULT 1,
		solution TEXT NOT NULL DEFAULT '',
		type TEXT NOT NULL,
		body TEXT NOT NULL,
		PRIMARY KEY (tenant_id, id)
	);

	CREATE TABLE IF NOT EXISTS packages (
		tenant_id TEXT NOT NULL,
		id TEXT NOT NULL,
		name TEXT NOT NULL,
		bank_id TEXT NOT NULL,
		question_ids TEXT NOT NULL DEFAULT '[]',
		duration_minutes INTEGER NOT NULL DEFAULT 0,
		shuffle_questions BOOLEAN NOT NULL DEFAULT FALSE,
		shuffle_options BOOLEAN NOT NULL DEFAULT FALSE,
		scoring_mode TEXT NOT NULL DEFAULT 'standard',
		negative_mark {{real}} NOT NULL DEFAULT 0,
		passing_grade {{real}} NOT NULL DEFAULT 0,
		target_level TEXT NOT NULL DEFAULT '',
		ready BOOLEAN NOT NULL DEFAULT FALSE,
		PRIMARY KEY (tenant_id, id)
	);

	CREATE TABLE IF NOT EXISTS exam_sessions (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		package_id TEXT NOT NULL,
		name TEXT NOT NULL,
		starts_at {{ts}} NOT NULL,
		ends_at {{ts}} NOT NULL,
		status TEXT NOT NULL DEFAULT 'prepared',
		started_at {{ts}},
		ended_at {{ts}}
	);

	CREATE TABLE IF NOT EXISTS rooms (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		name TEXT NOT NULL,
		position INTEGER NOT NULL DEFAULT 0,
		capacity INTEGER NOT NULL DEFAULT 0,
		supervisor_id TEXT NOT NULL,
		co_supervisors TEXT NOT NULL DEFAULT '[]',
		proctor_id TEXT NOT NULL DEFAULT '',
		token TEXT NOT NULL,
		UNIQUE (session_id, token)
	);

	CREATE TABLE IF NOT EXISTS room_students (
		session_id TEXT NOT NULL,
		room_id TEXT NOT NULL,
		student_id TEXT NOT NULL,
		seat INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (session_id, student_id)
	);

	CREATE TABLE IF NOT EXISTS results (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		session_id TEXT NOT NULL,
		student_id TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'in_progress',
		synced BOOLEAN NOT NULL DEFAULT FALSE,
		answered INTEGER NOT NULL DEFAULT 0,
		correct INTEGER NOT NULL DEFAULT 0,
		incorrect INTEGER NOT NULL DEFAULT 0,
		ungraded INTEGER NOT NULL DEFAULT 0,
		score {{real}} NOT NULL DEFAULT 0,
		max_score {{real}} NOT NULL DEFAULT 0,
		final_grade {{real}},
		passed BOOLEAN NOT NULL DEFAULT FALSE,
		started_at {{ts}} NOT NULL,
		ended_at {{ts}},
		updated_at {{ts}} NOT NULL,
		UNIQUE (session_id, student_id)
	);

	CREATE TABLE IF NOT EXISTS answers (
		result_id TEXT NOT NULL,
		question_id TEXT NOT NULL,
		value TEXT NOT NULL,
		doubtful BOOLEAN NOT NULL DEFAULT FALSE,
		updated_at {{ts}} NOT NULL,
		PRIMARY KEY (result_id, question_id)
	);

	CREATE TABLE IF NOT EXISTS essay_scores (
		result_id TEXT NOT NULL,
		question_id TEXT NOT NULL,
		suggested_score {{real}},
		suggested_feedback TEXT NOT NULL DEFAULT '',
		reviewer_score {{real}},
		reviewer_comment TEXT NOT NULL DEFAULT '',
		reviewed_by TEXT NOT NULL DEFAULT '',
		reviewed_at {{ts}},
		PRIMARY KEY (result_id, question_id)
	);

	CREATE TABLE IF NOT EXISTS imported_files (
		path TEXT PRIMARY KEY,
		hash TEXT NOT NULL,
		imported_at {{ts}} NOT NULL
	);
	`)
	// pgx runs one statement per Exec.
	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// inTx runs fn inside a transaction and commits when it returns nil.
func (s *Store) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// get is GetContext with placeholder rebinding and ErrNotFound mapping.
func get(ctx context.Context, q dbtx, dest any, query string, args ...any) error {
	err := q.GetContext(ctx, dest, q.Rebind(query), args...)
	if errors.Is(err, sql.ErrNoRows) {
		return model.ErrNotFound
	}
	return err
}

func sel(ctx context.Context, q dbtx, dest any, query string, args ...any) error {
	return q.SelectContext(ctx, dest, q.Rebind(query), args...)
}

func exec(ctx context.Context, q dbtx, query string, args ...any) (sql.Result, error) {
	return q.ExecContext(ctx, q.Rebind(query), args...)
}

// selectIn is sel for queries with an IN (?) clause over a slice argument.
func selectIn(ctx context.Context, q dbtx, dest any, query string, args ...any) error {
	query, args, err := sqlx.In(query, args...)
	if err != nil {
		return err
	}
	return sel(ctx, q, dest, query, args...)
}
