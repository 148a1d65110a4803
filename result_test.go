package pgreactor

import (
	"database/sql"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/youssefsiam38/pgreactor/codec"
	"github.com/youssefsiam38/pgreactor/driver"
	"github.com/youssefsiam38/pgreactor/internal/testutil"
)

func TestResult_Sentinel(t *testing.T) {
	res := sentinel()

	if !res.Done() {
		t.Fatal("Expected Done() to be true")
	}
	if res.OK() {
		t.Error("sentinel must not report OK")
	}
	if res.Size() != 0 || res.NumColumns() != 0 {
		t.Errorf("Size()/NumColumns() = %d/%d, want 0/0", res.Size(), res.NumColumns())
	}
	if _, err := res.Row(0); !errors.Is(err, ErrResultDone) {
		t.Errorf("Row(0) error = %v, want %v", err, ErrResultDone)
	}
	if _, err := res.AffectedRows(); !errors.Is(err, ErrNoAffectedRows) {
		t.Errorf("AffectedRows() error = %v, want %v", err, ErrNoAffectedRows)
	}

	// Close on the sentinel is a no-op
	res.Close()
}

func TestResult_Rows(t *testing.T) {
	native := exampleRows()
	res := newResult(native)

	if res.Done() || !res.OK() {
		t.Fatalf("Done()/OK() = %v/%v, want false/true", res.Done(), res.OK())
	}
	if res.Size() != 3 || res.NumColumns() != 3 {
		t.Fatalf("Size()/NumColumns() = %d/%d, want 3/3", res.Size(), res.NumColumns())
	}

	rows := res.Rows()
	if len(rows) != 3 {
		t.Fatalf("len(Rows()) = %d, want 3", len(rows))
	}

	text, err := rows[1].FieldByName("t")
	if err != nil {
		t.Fatalf("FieldByName() error = %v", err)
	}
	if s, _ := codec.Decode(text, codec.Text); s != "row 1" {
		t.Errorf("t = %q, want %q", s, "row 1")
	}
	if text.Column().Name != "t" || text.Len() != 5 {
		t.Errorf("Column()/Len() = %q/%d", text.Column().Name, text.Len())
	}

	null, err := res.Field(2, 1)
	if err != nil {
		t.Fatalf("Field(2, 1) error = %v", err)
	}
	if !null.IsNull() {
		t.Error("Expected field (2, 1) to be NULL")
	}
	if _, err := codec.Decode(null, codec.Int16); !errors.Is(err, codec.ErrLength) {
		t.Errorf("Decode(NULL, Int16) error = %v, want %v", err, codec.ErrLength)
	}
	v, err := codec.Decode(null, codec.Nullable(codec.Int16))
	if err != nil || v != (sql.Null[int16]{}) {
		t.Errorf("Decode(NULL, Nullable(Int16)) = %v, %v; want absent", v, err)
	}
	if d, _ := codec.DecodeOr(null, codec.Int16, -1); d != -1 {
		t.Errorf("DecodeOr() = %d, want -1", d)
	}

	if _, err := res.Row(3); !errors.Is(err, ErrRowOutOfRange) {
		t.Errorf("Row(3) error = %v, want %v", err, ErrRowOutOfRange)
	}
	if _, err := rows[0].Field(3); !errors.Is(err, ErrColumnOutOfRange) {
		t.Errorf("Field(3) error = %v, want %v", err, ErrColumnOutOfRange)
	}
	if _, err := rows[0].FieldByName("missing"); !errors.Is(err, ErrColumnOutOfRange) {
		t.Errorf("FieldByName(missing) error = %v, want %v", err, ErrColumnOutOfRange)
	}

	if n, err := res.AffectedRows(); err != nil || n != 3 {
		t.Errorf("AffectedRows() = %d, %v; want 3", n, err)
	}

	res.Close()
	res.Close()
	if native.Cleared() != 1 {
		t.Errorf("Clear called %d times, want 1", native.Cleared())
	}
	if !res.Done() {
		t.Error("a closed result reads as done")
	}
}

func TestResult_AffectedRows(t *testing.T) {
	tests := []struct {
		tag     string
		want    int64
		wantErr bool
	}{
		{"INSERT 0 3", 3, false},
		{"UPDATE 2", 2, false},
		{"DELETE 0", 0, false},
		{"SELECT 1", 1, false},
		{"BEGIN", 0, true},
		{"CREATE TABLE", 0, true},
		{"", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.tag, func(t *testing.T) {
			res := newResult(testutil.OK(tt.tag))
			got, err := res.AffectedRows()
			if (err != nil) != tt.wantErr {
				t.Fatalf("AffectedRows() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("AffectedRows() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestResult_Err(t *testing.T) {
	pgErr := &pgconn.PgError{Severity: "ERROR", Code: "42P01", Message: `relation "missing" does not exist`}
	res := newResult(&testutil.FakeResult{
		StatusV: driver.StatusFatalError,
		Message: pgErr.Message,
		ErrV:    pgErr,
	})

	if res.OK() {
		t.Fatal("Expected a failed result")
	}

	var got *pgconn.PgError
	if !errors.As(res.Err(), &got) || got.Code != "42P01" {
		t.Errorf("Err() = %v, want the server error", res.Err())
	}
	if res.PgError() != pgErr {
		t.Errorf("PgError() = %v, want %v", res.PgError(), pgErr)
	}

	bad := newResult(&testutil.FakeResult{StatusV: driver.StatusBadResponse})
	if bad.Err() == nil {
		t.Error("Expected an error for a bad response")
	}

	ok := newResult(testutil.OK("BEGIN"))
	if ok.Err() != nil || ok.PgError() != nil {
		t.Errorf("Err()/PgError() on success = %v/%v", ok.Err(), ok.PgError())
	}
}
