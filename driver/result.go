package driver

// ResultStatus is the outcome class of one statement.
type ResultStatus int

const (
	// StatusEmptyQuery is returned for an empty query string.
	StatusEmptyQuery ResultStatus = iota

	// StatusCommandOK is returned for a statement that produced no rows.
	StatusCommandOK

	// StatusTuplesOK is returned for a statement that produced a row set (possibly empty).
	StatusTuplesOK

	// StatusBadResponse is returned when the server response was not understood.
	StatusBadResponse

	// StatusFatalError is returned when the server reported an error.
	StatusFatalError
)

// String returns the string representation of the status.
func (s ResultStatus) String() string {
	switch s {
	case StatusEmptyQuery:
		return "EMPTY_QUERY"
	case StatusCommandOK:
		return "COMMAND_OK"
	case StatusTuplesOK:
		return "TUPLES_OK"
	case StatusBadResponse:
		return "BAD_RESPONSE"
	case StatusFatalError:
		return "FATAL_ERROR"
	default:
		return "UNKNOWN"
	}
}

// Column describes one column of a row set.
type Column struct {
	Name    string
	TypeOID uint32

	// Format is the wire format of the column values (0 text, 1 binary).
	Format int16
}

// Result is the native storage of one statement outcome.
//
// Row and column indexes are not bounds-checked; callers validate them
// against NumRows and NumColumns.
type Result interface {
	Status() ResultStatus

	NumRows() int
	NumColumns() int
	Column(col int) Column

	// Value returns the raw bytes of a field. It returns nil for SQL NULL.
	// A non-NULL empty value is a non-nil empty slice.
	Value(row, col int) []byte

	// IsNull reports whether the field is SQL NULL.
	IsNull(row, col int) bool

	// CommandTag returns the command completion tag, e.g. "INSERT 0 1".
	CommandTag() string

	// ErrorMessage returns the server error message, or "" if there is none.
	ErrorMessage() string

	// Err returns the server error of a StatusFatalError result.
	Err() error

	// Clear releases the result storage. Further access is invalid.
	Clear()
}
