package pgxv5

import (
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgproto3"
	"github.com/youssefsiam38/pgreactor/driver"
)

// result is the native result assembled from backend messages.
type result struct {
	status  driver.ResultStatus
	columns []driver.Column
	rows    [][][]byte
	tag     string
	message string
	pgErr   *pgconn.PgError
}

var _ driver.Result = (*result)(nil)

func newRowsResult(desc *pgproto3.RowDescription) *result {
	columns := make([]driver.Column, len(desc.Fields))
	for i, f := range desc.Fields {
		columns[i] = driver.Column{
			Name:    string(f.Name),
			TypeOID: f.DataTypeOID,
			Format:  f.Format,
		}
	}
	return &result{status: driver.StatusTuplesOK, columns: columns}
}

func newErrorResult(msg *pgproto3.ErrorResponse) *result {
	pgErr := pgconn.ErrorResponseToPgError(msg)
	return &result{
		status:  driver.StatusFatalError,
		message: pgErr.Message,
		pgErr:   pgErr,
	}
}

// appendRow copies a data row out of the frontend's read buffer, which is
// reused by the next Receive.
func (r *result) appendRow(values [][]byte) {
	size := 0
	for _, v := range values {
		size += len(v)
	}

	arena := make([]byte, size)
	row := make([][]byte, len(values))
	off := 0
	for i, v := range values {
		if v == nil {
			continue
		}
		n := copy(arena[off:], v)
		row[i] = arena[off : off+n : off+n]
		off += n
	}
	r.rows = append(r.rows, row)
}

func (r *result) Status() driver.ResultStatus { return r.status }

func (r *result) NumRows() int { return len(r.rows) }

func (r *result) NumColumns() int { return len(r.columns) }

func (r *result) Column(col int) driver.Column { return r.columns[col] }

func (r *result) Value(row, col int) []byte { return r.rows[row][col] }

func (r *result) IsNull(row, col int) bool { return r.rows[row][col] == nil }

func (r *result) CommandTag() string { return r.tag }

func (r *result) ErrorMessage() string { return r.message }

// Err returns the server error as a *pgconn.PgError.
func (r *result) Err() error {
	if r.pgErr == nil {
		return nil
	}
	return r.pgErr
}

func (r *result) Clear() {
	r.columns = nil
	r.rows = nil
}
