// Package store is the embedded metadata store: a single SQLite file
// holding documents, the crawl queue, tags, lenses, connections, the
// embedding queue, vector rows, watched-folder ledger entries, and user
// settings.
//
// It follows the teacher's pool/retry/migrate idiom (internal/storage/db.go)
// with Postgres/pgx swapped for SQLite/mattn-go-sqlite3, since the
// specification requires a single-file embedded store rather than a
// networked database.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3" // registers the "sqlite3" driver
	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog"

	"github.com/spyglass-search/spyglass-sub001/migrations"
)

func init() {
	sqlite_vec.Auto()
}

// Store wraps a SQLite connection and provides repository methods for
// every entity in the data model.
type Store struct {
	DB     *sql.DB
	Logger *zerolog.Logger
}

// Options configures the underlying connection pool. SQLite only
// supports a single writer at a time, so MaxOpenConns is typically left
// at its default of 1 to avoid SQLITE_BUSY churn; readers are safe to
// share the same connection because WAL mode is enabled.
type Options struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DefaultOptions returns sensible defaults for an embedded single-process
// store.
func DefaultOptions() Options {
	return Options{
		MaxOpenConns:    1,
		MaxIdleConns:    1,
		ConnMaxLifetime: time.Hour,
	}
}

const maxConnectionRetries = 3

var connectRetrySleep = 200 * time.Millisecond

// New opens (creating if necessary) the SQLite database at path with
// default pool options.
func New(ctx context.Context, path string, logger *zerolog.Logger) (*Store, error) {
	return NewWithOptions(ctx, path, DefaultOptions(), logger)
}

// NewWithOptions opens the database at path with custom pool options.
func NewWithOptions(ctx context.Context, path string, opts Options, logger *zerolog.Logger) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000", path)

	var (
		db  *sql.DB
		err error
	)

	for i := 0; i < maxConnectionRetries; i++ {
		db, err = sql.Open("sqlite3", dsn)
		if err == nil {
			if err = db.PingContext(ctx); err == nil {
				break
			}
		}

		if db != nil {
			_ = db.Close()
		}

		time.Sleep(connectRetrySleep)
	}

	if err != nil {
		return nil, fmt.Errorf("open store at %s: %w", path, err)
	}

	if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}

	if opts.MaxIdleConns > 0 {
		db.SetMaxIdleConns(opts.MaxIdleConns)
	}

	if opts.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}

	return &Store{DB: db, Logger: logger}, nil
}

// Close closes the underlying connection.
func (s *Store) Close() error {
	return s.DB.Close()
}

// Ping reports whether the underlying connection is reachable, for the
// health server's readiness probe.
func (s *Store) Ping(ctx context.Context) error {
	return s.DB.PingContext(ctx)
}

type gooseLogger struct {
	logger *zerolog.Logger
}

func (l *gooseLogger) Fatalf(format string, v ...interface{}) { l.logger.Fatal().Msgf(format, v...) }
func (l *gooseLogger) Printf(format string, v ...interface{}) { l.logger.Info().Msgf(format, v...) }

// Migrate runs pending goose migrations against the store.
func (s *Store) Migrate(_ context.Context) error {
	goose.SetBaseFS(migrations.FS)
	goose.SetLogger(&gooseLogger{logger: s.Logger})

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}

	if err := goose.Up(s.DB, "."); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

func toTimePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}

	return &t.Time
}

func fromTimePtr(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}

	return sql.NullTime{Time: *t, Valid: true}
}
