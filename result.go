package pgreactor

import (
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/youssefsiam38/pgreactor/codec"
	"github.com/youssefsiam38/pgreactor/driver"
)

// Status is the outcome class of one statement.
type Status = driver.ResultStatus

// Result statuses.
const (
	StatusEmptyQuery  = driver.StatusEmptyQuery
	StatusCommandOK   = driver.StatusCommandOK
	StatusTuplesOK    = driver.StatusTuplesOK
	StatusBadResponse = driver.StatusBadResponse
	StatusFatalError  = driver.StatusFatalError
)

// Result is the outcome of one statement, or the end-of-sequence sentinel
// that closes a multi-result stream.
//
// A Result owns its native storage until Close. The sentinel holds no
// storage; every row accessor on it fails with ErrResultDone.
type Result struct {
	native driver.Result
}

// sentinel returns the end-of-sequence marker.
func sentinel() *Result {
	return &Result{}
}

func newResult(native driver.Result) *Result {
	return &Result{native: native}
}

// Done reports whether r is the end-of-sequence sentinel.
func (r *Result) Done() bool {
	return r == nil || r.native == nil
}

// Status returns the status of the statement. The sentinel reports StatusEmptyQuery.
func (r *Result) Status() Status {
	if r.Done() {
		return StatusEmptyQuery
	}
	return r.native.Status()
}

// OK reports whether the statement succeeded.
func (r *Result) OK() bool {
	s := r.Status()
	return !r.Done() && (s == StatusCommandOK || s == StatusTuplesOK)
}

// Err returns the server error of a failed statement as a *pgconn.PgError,
// or a generic error for other non-OK statuses. It returns nil for OK results.
func (r *Result) Err() error {
	if r.Done() {
		return ErrResultDone
	}
	if r.OK() {
		return nil
	}
	if err := r.native.Err(); err != nil {
		return err
	}
	if msg := r.native.ErrorMessage(); msg != "" {
		return fmt.Errorf("%s: %s", r.native.Status(), msg)
	}
	return fmt.Errorf("unexpected result status %s", r.native.Status())
}

// PgError returns the server error, if the statement failed with one.
func (r *Result) PgError() *pgconn.PgError {
	if r.Done() {
		return nil
	}
	pgErr, _ := r.native.Err().(*pgconn.PgError)
	return pgErr
}

// ErrorMessage returns the server error message, or "".
func (r *Result) ErrorMessage() string {
	if r.Done() {
		return ""
	}
	return r.native.ErrorMessage()
}

// Size returns the number of rows.
func (r *Result) Size() int {
	if r.Done() {
		return 0
	}
	return r.native.NumRows()
}

// NumColumns returns the number of columns.
func (r *Result) NumColumns() int {
	if r.Done() {
		return 0
	}
	return r.native.NumColumns()
}

// Columns returns the column descriptions.
func (r *Result) Columns() []driver.Column {
	if r.Done() {
		return nil
	}
	columns := make([]driver.Column, r.native.NumColumns())
	for i := range columns {
		columns[i] = r.native.Column(i)
	}
	return columns
}

// CommandTag returns the command completion tag.
func (r *Result) CommandTag() pgconn.CommandTag {
	if r.Done() {
		return pgconn.NewCommandTag("")
	}
	return pgconn.NewCommandTag(r.native.CommandTag())
}

// AffectedRows returns the number of rows affected by an INSERT, UPDATE,
// DELETE, SELECT, MOVE, FETCH, COPY or MERGE.
func (r *Result) AffectedRows() (int64, error) {
	tag := r.CommandTag()
	if tag.String() == "" || !hasRowCount(tag) {
		return 0, ErrNoAffectedRows
	}
	return tag.RowsAffected(), nil
}

func hasRowCount(tag pgconn.CommandTag) bool {
	s := tag.String()
	return len(s) > 0 && s[len(s)-1] >= '0' && s[len(s)-1] <= '9'
}

// Row returns row n.
func (r *Result) Row(n int) (Row, error) {
	if r.Done() {
		return Row{}, ErrResultDone
	}
	if n < 0 || n >= r.native.NumRows() {
		return Row{}, fmt.Errorf("%w: row %d, size %d", ErrRowOutOfRange, n, r.native.NumRows())
	}
	return Row{res: r, row: n}, nil
}

// Rows returns all rows in order.
func (r *Result) Rows() []Row {
	rows := make([]Row, r.Size())
	for i := range rows {
		rows[i] = Row{res: r, row: i}
	}
	return rows
}

// Field is shorthand for Row(row) followed by Field(col).
func (r *Result) Field(row, col int) (Field, error) {
	rw, err := r.Row(row)
	if err != nil {
		return Field{}, err
	}
	return rw.Field(col)
}

// Close releases the native result storage. It is safe to call more than once.
func (r *Result) Close() {
	if r == nil || r.native == nil {
		return
	}
	r.native.Clear()
	r.native = nil
}

// Row is a view of one row of a Result.
type Row struct {
	res *Result
	row int
}

// Len returns the number of fields in the row.
func (w Row) Len() int {
	return w.res.NumColumns()
}

// Field returns field n of the row.
func (w Row) Field(n int) (Field, error) {
	if w.res.Done() {
		return Field{}, ErrResultDone
	}
	if n < 0 || n >= w.res.native.NumColumns() {
		return Field{}, fmt.Errorf("%w: column %d, width %d", ErrColumnOutOfRange, n, w.res.native.NumColumns())
	}
	return Field{res: w.res, row: w.row, col: n}, nil
}

// FieldByName returns the first field whose column has the given name.
func (w Row) FieldByName(name string) (Field, error) {
	for i := 0; i < w.res.NumColumns(); i++ {
		if w.res.native.Column(i).Name == name {
			return Field{res: w.res, row: w.row, col: i}, nil
		}
	}
	return Field{}, fmt.Errorf("%w: no column named %q", ErrColumnOutOfRange, name)
}

// Field is a read-only view of one field. It must not outlive its Result.
type Field struct {
	res *Result
	row int
	col int
}

var _ codec.Source = Field{}

// IsNull reports whether the field is SQL NULL.
func (f Field) IsNull() bool {
	return f.res.native.IsNull(f.row, f.col)
}

// Bytes returns the raw field bytes; nil for NULL.
func (f Field) Bytes() []byte {
	return f.res.native.Value(f.row, f.col)
}

// Len returns the length of the raw field bytes.
func (f Field) Len() int {
	return len(f.Bytes())
}

// Format returns the wire format of the field.
func (f Field) Format() int16 {
	return f.res.native.Column(f.col).Format
}

// Column returns the description of the field's column.
func (f Field) Column() driver.Column {
	return f.res.native.Column(f.col)
}
