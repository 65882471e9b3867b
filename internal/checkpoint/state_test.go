package checkpoint

import (
	"database/sql"
	"errors"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
)

func TestSQLiteState(t *testing.T) {
	state, err := OpenSQLState(DialectSQLite, filepath.Join(t.TempDir(), "tap.db"))
	if err != nil {
		t.Fatalf("OpenSQLState() error: %v", err)
	}
	defer state.Close()

	if _, ok, err := state.Bookmark("orders"); err != nil || ok {
		t.Fatalf("Bookmark() on empty db: ok=%v err=%v", ok, err)
	}

	t1 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	t2 := t1.Add(90 * time.Minute)
	for _, ts := range []time.Time{t1, t2} {
		if err := state.SetBookmark("orders", ts); err != nil {
			t.Fatalf("SetBookmark(%v) error: %v", ts, err)
		}
	}
	if err := state.SetBookmark("users", t1); err != nil {
		t.Fatalf("SetBookmark(users) error: %v", err)
	}

	got, ok, err := state.Bookmark("orders")
	if err != nil || !ok {
		t.Fatalf("Bookmark() ok=%v err=%v", ok, err)
	}
	if !got.Equal(t2) {
		t.Fatalf("bookmark = %v, want %v", got, t2)
	}

	if err := state.SetBookmark("orders", t1); !errors.Is(err, ErrBookmarkRegression) {
		t.Fatalf("regression error = %v", err)
	}

	snap, err := state.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot() error: %v", err)
	}
	if len(snap.Bookmarks) != 2 {
		t.Fatalf("snapshot tables = %d, want 2", len(snap.Bookmarks))
	}
	if got := countRows(t, state.db, `SELECT COUNT(*) FROM tap_bookmarks`); got != 2 {
		t.Fatalf("rows = %d, want 2", got)
	}
}

func TestPostgresStateSQL(t *testing.T) {
	db, mock := newSQLMock(t)
	ts := time.Date(2024, 2, 2, 2, 2, 2, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta(`CREATE TABLE IF NOT EXISTS tap_bookmarks`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT last_modified FROM tap_bookmarks WHERE table_name = $1`)).
		WithArgs("orders").
		WillReturnRows(sqlmock.NewRows([]string{"last_modified"}))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO tap_bookmarks (table_name, last_modified, updated_at) VALUES ($1, $2, $3)`)).
		WithArgs("orders", "2024-02-02T02:02:02Z", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	state, err := NewSQLState(db, DialectPostgres)
	if err != nil {
		t.Fatalf("NewSQLState() error: %v", err)
	}
	if err := state.SetBookmark("orders", ts); err != nil {
		t.Fatalf("SetBookmark() error: %v", err)
	}
	assertSQLMock(t, mock)
}

func TestMSSQLStateSQL(t *testing.T) {
	db, mock := newSQLMock(t)
	stored := "2024-02-02T02:02:02Z"

	mock.ExpectExec(regexp.QuoteMeta(`IF OBJECT_ID(N'tap_bookmarks', N'U') IS NULL`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT last_modified FROM tap_bookmarks WHERE table_name = @p1`)).
		WithArgs("orders").
		WillReturnRows(sqlmock.NewRows([]string{"last_modified"}).AddRow(stored))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT last_modified FROM tap_bookmarks WHERE table_name = @p1`)).
		WithArgs("orders").
		WillReturnRows(sqlmock.NewRows([]string{"last_modified"}).AddRow(stored))
	mock.ExpectExec(regexp.QuoteMeta(`MERGE tap_bookmarks AS t`)).
		WithArgs("orders", "2024-02-03T00:00:00Z", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	state, err := NewSQLState(db, DialectMSSQL)
	if err != nil {
		t.Fatalf("NewSQLState() error: %v", err)
	}
	got, ok, err := state.Bookmark("orders")
	if err != nil || !ok || got.Format(time.RFC3339) != stored {
		t.Fatalf("Bookmark() = %v, %v, %v", got, ok, err)
	}
	if err := state.SetBookmark("orders", time.Date(2024, 2, 3, 0, 0, 0, 0, time.UTC)); err != nil {
		t.Fatalf("SetBookmark() error: %v", err)
	}
	assertSQLMock(t, mock)
}

func newSQLMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func assertSQLMock(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sql expectations: %v", err)
	}
}

func countRows(t *testing.T, db *sql.DB, query string, args ...any) int {
	t.Helper()
	var count int
	if err := db.QueryRow(query, args...).Scan(&count); err != nil {
		t.Fatalf("count query error: %v", err)
	}
	return count
}
