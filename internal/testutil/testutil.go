// Package testutil provides test utilities for pgreactor
package testutil

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// TestDB wraps a database/sql connection used to set up and verify fixtures
// independently of the connection under test
type TestDB struct {
	DB  *sqlx.DB
	URL string
}

// NewTestDB creates a test database connection from DATABASE_URL env var
// Skips the test if DATABASE_URL is not set (for unit tests)
func NewTestDB(t *testing.T) *TestDB {
	t.Helper()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	db, err := sqlx.Connect("postgres", dbURL)
	if err != nil {
		t.Fatalf("Failed to connect to database: %v", err)
	}

	// Verify connection
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		t.Fatalf("Failed to ping database: %v", err)
	}

	return &TestDB{DB: db, URL: dbURL}
}

// Close closes the database connection
func (db *TestDB) Close() {
	if db.DB != nil {
		db.DB.Close()
	}
}

// Row is one row of the example table
type Row struct {
	ID int     `db:"id"`
	SI *int16  `db:"si"`
	I  *int32  `db:"i"`
	BI *int64  `db:"bi"`
	T  *string `db:"t"`
}

// CreateExampleTable creates a uniquely named table holding three rows:
// (10, 20, 40, 'row 0'), (11, 22, 44, 'row 1') and a row of NULLs. The ids
// are 1, 2 and 3. The table is dropped when the test ends.
func (db *TestDB) CreateExampleTable(t *testing.T) string {
	t.Helper()

	table := "tbl_test_" + strings.ReplaceAll(uuid.NewString(), "-", "")

	stmts := []string{
		fmt.Sprintf(`CREATE TABLE %s (
			id serial NOT NULL,
			si smallint,
			i int,
			bi bigint,
			t text
		)`, table),
		fmt.Sprintf(`INSERT INTO %s (si, i, bi, t) VALUES
			(10, 20, 40, 'row 0'),
			(11, 22, 44, 'row 1'),
			(NULL, NULL, NULL, NULL)`, table),
	}

	for _, stmt := range stmts {
		if _, err := db.DB.Exec(stmt); err != nil {
			t.Fatalf("Failed to create example table: %v", err)
		}
	}

	t.Cleanup(func() {
		_, _ = db.DB.Exec(fmt.Sprintf("DROP TABLE IF EXISTS %s", table))
	})

	return table
}

// Rows returns the rows of an example table ordered by id
func (db *TestDB) Rows(t *testing.T, table string) []Row {
	t.Helper()

	var rows []Row
	if err := db.DB.Select(&rows, fmt.Sprintf("SELECT id, si, i, bi, t FROM %s ORDER BY id", table)); err != nil {
		t.Fatalf("Failed to select rows: %v", err)
	}
	return rows
}

// Count returns the number of rows in table matching where, which uses ? placeholders
func (db *TestDB) Count(t *testing.T, table, where string, args ...any) int {
	t.Helper()

	var n int
	query := fmt.Sprintf("SELECT count(*) FROM %s WHERE %s", table, db.DB.Rebind(where))
	if err := db.DB.Get(&n, query, args...); err != nil {
		t.Fatalf("Failed to count rows: %v", err)
	}
	return n
}

// Notify sends a notification from a separate session
func (db *TestDB) Notify(t *testing.T, channel, payload string) {
	t.Helper()

	if _, err := db.DB.Exec("SELECT pg_notify($1, $2)", channel, payload); err != nil {
		t.Fatalf("Failed to notify: %v", err)
	}
}

// RequireIntegration skips the test if not running integration tests
func RequireIntegration(t *testing.T) {
	t.Helper()
	if os.Getenv("DATABASE_URL") == "" {
		t.Skip("Skipping integration test: DATABASE_URL not set")
	}
}
