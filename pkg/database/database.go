package database

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"runtime"
	"strings"
	"time"
)

// Database wraps the SQL connection that stores the load journal.
type Database struct {
	DB     *sql.DB // The underlying SQL database connection
	Driver string  // Normalized driver name so SQL builders can stay declarative
}

// Config holds the configuration details for initializing the database.
type Config struct {
	DBType    string // sqlite, genji, duckdb or pgx (PostgreSQL)
	DBPath    string // File path for file-based engines
	DBConn    string // Raw DSN for pgx; overrides the host fields
	DBHost    string // The host for PostgreSQL
	DBPort    int    // The port for PostgreSQL
	DBUser    string // The user for PostgreSQL
	DBPass    string // The password for PostgreSQL
	DBName    string // The name of the PostgreSQL database
	PGSSLMode string // The SSL mode for PostgreSQL
	Port      int    // HTTP port, used in default file names
}

// normalizeDBType trims and lowercases driver names so switch blocks do not
// miss a driver because of mixed case or stray whitespace.
func normalizeDBType(dbType string) string {
	return strings.ToLower(strings.TrimSpace(dbType))
}

// Disabled reports whether cfg turns the journal off.
func Disabled(cfg Config) bool {
	t := normalizeDBType(cfg.DBType)
	return t == "" || t == "none"
}

// NewDatabase opens DB and configures connection pooling.
// File engines get a single connection; they do not benefit from more.
func NewDatabase(config Config) (*Database, error) {
	driverName := normalizeDBType(config.DBType)
	var dsn string

	switch driverName {
	case "sqlite", "genji":
		dsn = config.DBPath
		if dsn == "" {
			dsn = fmt.Sprintf("journal-%d.%s", config.Port, driverName)
		}
	case "duckdb":
		dsn = config.DBPath
		if dsn == "" {
			dsn = fmt.Sprintf("journal-%d.duckdb", config.Port)
		}
	case "pgx":
		if strings.TrimSpace(config.DBConn) != "" {
			dsn = config.DBConn
		} else {
			dsn = fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
				config.DBUser, config.DBPass, config.DBHost, config.DBPort, config.DBName, config.PGSSLMode)
		}
	default:
		return nil, fmt.Errorf("unsupported database type: %s", config.DBType)
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("error opening the database: %w", err)
	}

	switch driverName {
	case "sqlite", "genji", "duckdb":
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
	case "pgx":
		db.SetMaxOpenConns(4)
		db.SetMaxIdleConns(2)
		db.SetConnMaxLifetime(30 * time.Minute)
	}

	{
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("error connecting to the database: %w", err)
		}
	}

	switch driverName {
	case "sqlite":
		tuneCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := tuneConnection(tuneCtx, db, sqlitePragmas, log.Printf); err != nil {
			log.Printf("sqlite tuning skipped: %v", err)
		}
		cancel()
	case "duckdb":
		tuneCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := tuneConnection(tuneCtx, db, duckdbPragmas(), log.Printf); err != nil {
			log.Printf("duckdb tuning skipped: %v", err)
		}
		cancel()
	}

	log.Printf("Using database driver: %s with DSN: %s", driverName, redactDSN(dsn))

	return &Database{DB: db, Driver: driverName}, nil
}

// Close releases the connection pool.
func (db *Database) Close() error {
	if db == nil || db.DB == nil {
		return nil
	}
	return db.DB.Close()
}

type pragma struct {
	label     string
	query     string
	expectRow bool
}

var sqlitePragmas = []pragma{
	{label: "journal_mode", query: "PRAGMA journal_mode=WAL;", expectRow: true},
	{label: "synchronous", query: "PRAGMA synchronous=NORMAL;"},
	{label: "busy_timeout", query: "PRAGMA busy_timeout=5000;"},
}

func duckdbPragmas() []pragma {
	threads := runtime.NumCPU()
	if threads < 1 {
		threads = 1
	}
	return []pragma{{label: "threads", query: fmt.Sprintf("PRAGMA threads=%d;", threads)}}
}

// tuneConnection applies pragmas one by one from a worker goroutine so a
// stuck engine cannot hold the caller past ctx.
func tuneConnection(ctx context.Context, db *sql.DB, steps []pragma, logf func(string, ...any)) error {
	jobs := make(chan pragma)
	errs := make(chan error, 1)

	go func() {
		defer close(errs)
		for step := range jobs {
			select {
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			default:
			}

			if step.expectRow {
				var mode string
				if err := db.QueryRowContext(ctx, step.query).Scan(&mode); err != nil {
					errs <- fmt.Errorf("apply %s: %w", step.label, err)
					return
				}
				logf("tuning %s -> %s", step.label, mode)
				continue
			}

			if _, err := db.ExecContext(ctx, step.query); err != nil {
				errs <- fmt.Errorf("apply %s: %w", step.label, err)
				return
			}
			logf("tuning %s applied", step.label)
		}
		errs <- nil
	}()

	go func() {
		defer close(jobs)
		for _, step := range steps {
			select {
			case jobs <- step:
			case <-ctx.Done():
				return
			}
		}
	}()

	return <-errs
}

// InitSchema creates the journal table for the configured engine.
func (db *Database) InitSchema(ctx context.Context) error {
	var stmts []string
	switch db.Driver {
	case "genji":
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS load_journal (
  load_id     TEXT PRIMARY KEY,
  session_id  TEXT,
  sheet_id    TEXT,
  manage_id   TEXT,
  overlay_id  TEXT,
  view_id     TEXT,
  status      TEXT,
  markers     INTEGER,
  skipped     INTEGER,
  categories  INTEGER,
  duration_ms INTEGER,
  message     TEXT,
  loaded_at   INTEGER
)`,
			`CREATE INDEX IF NOT EXISTS idx_load_journal_loaded_at ON load_journal (loaded_at)`,
		}
	default:
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS load_journal (
  load_id     TEXT PRIMARY KEY,
  session_id  TEXT,
  sheet_id    TEXT,
  manage_id   TEXT,
  overlay_id  TEXT,
  view_id     TEXT,
  status      TEXT,
  markers     BIGINT,
  skipped     BIGINT,
  categories  BIGINT,
  duration_ms BIGINT,
  message     TEXT,
  loaded_at   BIGINT
)`,
			`CREATE INDEX IF NOT EXISTS idx_load_journal_loaded_at ON load_journal (loaded_at)`,
		}
	}

	for _, stmt := range stmts {
		if _, err := db.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema (%s): %w", db.Driver, err)
		}
	}
	return nil
}

// placeholder renders the n-th bind parameter in the engine's dialect.
func placeholder(driver string, n int) string {
	if driver == "pgx" {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

// redactDSN hides the password of URL-style DSNs before logging.
func redactDSN(dsn string) string {
	at := strings.LastIndex(dsn, "@")
	scheme := strings.Index(dsn, "://")
	if at < 0 || scheme < 0 || at < scheme {
		return dsn
	}
	creds := dsn[scheme+3 : at]
	if i := strings.Index(creds, ":"); i >= 0 {
		return dsn[:scheme+3] + creds[:i] + ":***" + dsn[at:]
	}
	return dsn
}
