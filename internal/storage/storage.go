package storage

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// Supported database/sql driver names.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "pgx"
)

func init() {
	// modernc registers as "sqlite", which sqlx does not know; it uses '?' binds.
	sqlx.BindDriver(DriverSQLite, sqlx.QUESTION)
}

// Options selects a backing database.
type Options struct {
	Driver string
	DSN    string
	// MaxOpenConns caps the pool; zero keeps the driver default.
	MaxOpenConns int
}

// Open connects to the configured database and ensures the gateway tables exist.
func Open(ctx context.Context, opts Options) (*sqlx.DB, error) {
	if opts.DSN == "" {
		return nil, fmt.Errorf("store dsn is empty")
	}

	driver := opts.Driver
	if driver == "" {
		driver = DriverSQLite
	}

	dsn := opts.DSN
	switch driver {
	case DriverSQLite:
		if err := ensureSQLiteDir(dsn); err != nil {
			return nil, err
		}
		dsn = sqliteDSN(dsn)
	case DriverPostgres:
	default:
		return nil, fmt.Errorf("unsupported store driver %q", driver)
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	switch {
	case driver == DriverSQLite && IsInMemory(opts.DSN):
		// Every new connection to an in-memory database gets its own empty copy.
		db.SetMaxOpenConns(1)
	case opts.MaxOpenConns > 0:
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}

	if err := Bootstrap(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// OpenSQLite opens (and creates if needed) the SQLite database at path.
func OpenSQLite(ctx context.Context, path string) (*sqlx.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	return Open(ctx, Options{Driver: DriverSQLite, DSN: path})
}

// Bootstrap creates tables/indexes if missing. The DDL is portable between
// SQLite and PostgreSQL: timestamps are RFC3339 text, booleans are integers.
func Bootstrap(ctx context.Context, db *sqlx.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
  id           TEXT PRIMARY KEY,
  shop         TEXT NOT NULL,
  is_online    INTEGER NOT NULL DEFAULT 0,
  access_token TEXT NOT NULL,
  scope        TEXT NOT NULL DEFAULT '',
  expires      TEXT,
  created_at   TEXT NOT NULL,
  updated_at   TEXT NOT NULL
);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS sessions_shop_mode_idx ON sessions(shop, is_online);`,
		`CREATE TABLE IF NOT EXISTS tenants (
  id                    TEXT PRIMARY KEY,
  tenant_domain         TEXT NOT NULL UNIQUE,
  display_name          TEXT NOT NULL DEFAULT '',
  access_token          TEXT NOT NULL DEFAULT '',
  subscription_status   TEXT NOT NULL DEFAULT 'trial',
  plan                  TEXT NOT NULL DEFAULT 'trial',
  usage_used            INTEGER NOT NULL DEFAULT 0,
  usage_limit           INTEGER NOT NULL DEFAULT 0,
  assistant_id          TEXT,
  phone_number          TEXT,
  provisioning_settings TEXT NOT NULL DEFAULT '{}',
  created_at            TEXT NOT NULL,
  updated_at            TEXT NOT NULL
);`,
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap %s: %w", db.DriverName(), err)
		}
	}
	return nil
}

// IsInMemory reports whether a SQLite DSN names a private in-memory database.
func IsInMemory(dsn string) bool {
	name, query, _ := strings.Cut(dsn, "?")
	return name == ":memory:" || name == "file::memory:" || strings.Contains(query, "mode=memory")
}

// SameDatabase reports an error unless both PostgreSQL DSNs address the same
// database on the same server. Credentials and other parameters may differ.
func SameDatabase(primaryDSN, otherDSN string) error {
	a, err := pgx.ParseConfig(primaryDSN)
	if err != nil {
		return fmt.Errorf("parse primary dsn: %w", err)
	}
	b, err := pgx.ParseConfig(otherDSN)
	if err != nil {
		return fmt.Errorf("parse fallback dsn: %w", err)
	}
	if a.Host != b.Host || a.Port != b.Port || a.Database != b.Database {
		return fmt.Errorf("fallback addresses %s:%d/%s, primary addresses %s:%d/%s",
			b.Host, b.Port, b.Database, a.Host, a.Port, a.Database)
	}
	return nil
}

func ensureSQLiteDir(path string) error {
	if IsInMemory(path) || strings.HasPrefix(path, "file:") {
		return nil
	}
	if i := strings.Index(path, "?"); i >= 0 {
		path = path[:i]
	}
	if err := requireLocalFilesystem(path, detectFilesystem); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create sqlite directory: %w", err)
	}
	return nil
}

// sqliteDSN attaches per-connection pragmas; pragmas issued with Exec only
// reach one pooled connection.
func sqliteDSN(path string) string {
	if strings.Contains(path, "_pragma=") {
		return path
	}
	q := url.Values{}
	q.Add("_pragma", "busy_timeout(5000)")
	q.Add("_pragma", "foreign_keys(1)")
	q.Add("_pragma", "journal_mode(WAL)")

	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + q.Encode()
}
