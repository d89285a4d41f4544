package ratelimit

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"           // postgres driver
	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
)

const rateLimitTable = "hubprovider_rate_limit_events"

// Dialect adapts SQLStore to a database engine.
type Dialect struct {
	Name string
	// Lock serialises Admit calls for one key inside the open transaction.
	// Empty when the engine already serialises writers.
	Lock        string
	Placeholder func(n int) string
}

var (
	// Postgres serialises per key with a transaction-scoped advisory lock.
	Postgres = Dialect{
		Name:        "postgres",
		Lock:        "SELECT pg_advisory_xact_lock(hashtext($1))",
		Placeholder: func(n int) string { return fmt.Sprintf("$%d", n) },
	}
	// SQLite relies on immediate transactions taking the write lock up front.
	SQLite = Dialect{
		Name:        "sqlite3",
		Placeholder: func(int) string { return "?" },
	}
)

// SQLStore keeps shared windows in a SQL table so that monitors in separate
// processes draw from one budget.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
}

// NewSQLStore wraps an open database. Call EnsureSchema before first use.
func NewSQLStore(db *sql.DB, dialect Dialect) *SQLStore {
	return &SQLStore{db: db, dialect: dialect}
}

// OpenSQLStore opens driver ("postgres" or "sqlite3") at dsn and creates the
// events table if needed.
func OpenSQLStore(ctx context.Context, driver, dsn string) (*SQLStore, error) {
	var dialect Dialect
	switch driver {
	case "postgres":
		dialect = Postgres
	case "sqlite3", "sqlite":
		driver = "sqlite3"
		dialect = SQLite
		dsn = sqliteDSN(dsn)
	default:
		return nil, fmt.Errorf("ratelimit: unsupported store driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("ratelimit: open %s store: %w", driver, err)
	}
	if dialect.Name == SQLite.Name {
		db.SetMaxOpenConns(1)
	}
	store := NewSQLStore(db, dialect)
	if err := store.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func sqliteDSN(dsn string) string {
	params := []string{}
	if !strings.Contains(dsn, "_txlock=") {
		params = append(params, "_txlock=immediate")
	}
	if !strings.Contains(dsn, "_busy_timeout=") {
		params = append(params, "_busy_timeout=5000")
	}
	if len(params) == 0 {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + strings.Join(params, "&")
}

// EnsureSchema creates the events table and its index.
func (s *SQLStore) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		"CREATE TABLE IF NOT EXISTS " + rateLimitTable + " (key TEXT NOT NULL, ts BIGINT NOT NULL)",
		"CREATE INDEX IF NOT EXISTS " + rateLimitTable + "_key_ts ON " + rateLimitTable + " (key, ts)",
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ratelimit: ensure schema: %w", err)
		}
	}
	return nil
}

func (s *SQLStore) Admit(ctx context.Context, key string, now time.Time, window time.Duration, limit int, record bool) (usage Usage, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Usage{}, fmt.Errorf("ratelimit: begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	p := s.dialect.Placeholder
	if s.dialect.Lock != "" {
		if _, err = tx.ExecContext(ctx, s.dialect.Lock, key); err != nil {
			return Usage{}, fmt.Errorf("ratelimit: lock %q: %w", key, err)
		}
	}

	cutoff := now.Add(-window).UnixNano()
	if _, err = tx.ExecContext(ctx,
		"DELETE FROM "+rateLimitTable+" WHERE key = "+p(1)+" AND ts <= "+p(2), key, cutoff); err != nil {
		return Usage{}, fmt.Errorf("ratelimit: prune: %w", err)
	}

	var (
		count int
		first sql.NullInt64
	)
	if err = tx.QueryRowContext(ctx,
		"SELECT COUNT(*), MIN(ts) FROM "+rateLimitTable+" WHERE key = "+p(1), key).Scan(&count, &first); err != nil {
		return Usage{}, fmt.Errorf("ratelimit: count: %w", err)
	}
	usage.Count = count
	if first.Valid {
		usage.Oldest = time.Unix(0, first.Int64)
	}

	if record && count < limit {
		if _, err = tx.ExecContext(ctx,
			"INSERT INTO "+rateLimitTable+" (key, ts) VALUES ("+p(1)+", "+p(2)+")", key, now.UnixNano()); err != nil {
			return Usage{}, fmt.Errorf("ratelimit: record: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return Usage{}, fmt.Errorf("ratelimit: commit: %w", err)
	}
	return usage, nil
}

// Close closes the underlying database.
func (s *SQLStore) Close() error {
	return s.db.Close()
}
