package checkpoint

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/microsoft/go-mssqldb"
	_ "modernc.org/sqlite"
)

// Dialect selects SQL syntax and driver for SQLState.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
	DialectMSSQL    Dialect = "mssql"
)

func (d Dialect) driverName() string {
	switch d {
	case DialectPostgres:
		return "pgx"
	case DialectMSSQL:
		return "sqlserver"
	default:
		return "sqlite"
	}
}

// SQLState stores bookmarks in a tap_bookmarks table. Timestamps are kept as
// RFC 3339 text so every dialect round-trips nanoseconds and zones alike.
type SQLState struct {
	db      *sql.DB
	dialect Dialect
}

// OpenSQLState connects and creates the bookmark table if needed. For
// sqlite, target is a file path; otherwise it is a DSN.
func OpenSQLState(dialect Dialect, target string) (*SQLState, error) {
	dsn := target
	if dialect == DialectSQLite {
		if dir := filepath.Dir(target); dir != "" {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("creating state dir: %w", err)
			}
		}
		dsn = target + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open(dialect.driverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("opening state database: %w", err)
	}
	if dialect == DialectSQLite {
		db.SetMaxOpenConns(1)
	}

	s, err := NewSQLState(db, dialect)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLState wraps an open database.
func NewSQLState(db *sql.DB, dialect Dialect) (*SQLState, error) {
	s := &SQLState{db: db, dialect: dialect}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrating state schema: %w", err)
	}
	return s, nil
}

func (s *SQLState) migrate() error {
	var ddl string
	switch s.dialect {
	case DialectMSSQL:
		ddl = `
	IF OBJECT_ID(N'tap_bookmarks', N'U') IS NULL
	CREATE TABLE tap_bookmarks (
		table_name NVARCHAR(256) NOT NULL PRIMARY KEY,
		last_modified NVARCHAR(64) NOT NULL,
		updated_at NVARCHAR(64) NOT NULL
	)`
	default:
		ddl = `
	CREATE TABLE IF NOT EXISTS tap_bookmarks (
		table_name TEXT PRIMARY KEY,
		last_modified TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`
	}
	_, err := s.db.Exec(ddl)
	return err
}

func (s *SQLState) selectSQL() string {
	switch s.dialect {
	case DialectPostgres:
		return `SELECT last_modified FROM tap_bookmarks WHERE table_name = $1`
	case DialectMSSQL:
		return `SELECT last_modified FROM tap_bookmarks WHERE table_name = @p1`
	default:
		return `SELECT last_modified FROM tap_bookmarks WHERE table_name = ?`
	}
}

func (s *SQLState) upsertSQL() string {
	switch s.dialect {
	case DialectPostgres:
		return `INSERT INTO tap_bookmarks (table_name, last_modified, updated_at) VALUES ($1, $2, $3)
		ON CONFLICT (table_name) DO UPDATE SET last_modified = EXCLUDED.last_modified, updated_at = EXCLUDED.updated_at`
	case DialectMSSQL:
		return `MERGE tap_bookmarks AS t
		USING (SELECT @p1 AS table_name, @p2 AS last_modified, @p3 AS updated_at) AS s
		ON t.table_name = s.table_name
		WHEN MATCHED THEN UPDATE SET last_modified = s.last_modified, updated_at = s.updated_at
		WHEN NOT MATCHED THEN INSERT (table_name, last_modified, updated_at) VALUES (s.table_name, s.last_modified, s.updated_at);`
	default:
		return `INSERT INTO tap_bookmarks (table_name, last_modified, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (table_name) DO UPDATE SET last_modified = excluded.last_modified, updated_at = excluded.updated_at`
	}
}

func (s *SQLState) Bookmark(table string) (time.Time, bool, error) {
	var raw string
	err := s.db.QueryRow(s.selectSQL(), table).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("reading bookmark for '%s': %w", table, err)
	}
	ts, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parsing bookmark for '%s': %w", table, err)
	}
	return ts, true, nil
}

func (s *SQLState) SetBookmark(table string, ts time.Time) error {
	cur, ok, err := s.Bookmark(table)
	if err != nil {
		return err
	}
	if err := checkMonotonic(table, cur, ok, ts); err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	if _, err := s.db.Exec(s.upsertSQL(), table, ts.UTC().Format(time.RFC3339Nano), now); err != nil {
		return fmt.Errorf("saving bookmark for '%s': %w", table, err)
	}
	return nil
}

func (s *SQLState) Snapshot() (State, error) {
	rows, err := s.db.Query(`SELECT table_name, last_modified FROM tap_bookmarks`)
	if err != nil {
		return State{}, fmt.Errorf("reading bookmarks: %w", err)
	}
	defer rows.Close()

	out := NewState()
	for rows.Next() {
		var table, raw string
		if err := rows.Scan(&table, &raw); err != nil {
			return State{}, fmt.Errorf("reading bookmarks: %w", err)
		}
		ts, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return State{}, fmt.Errorf("parsing bookmark for '%s': %w", table, err)
		}
		out.Bookmarks[table] = Bookmark{LastModified: ts}
	}
	return out, rows.Err()
}

// Close closes the database connection.
func (s *SQLState) Close() error {
	return s.db.Close()
}
