package codec

import (
	"bytes"
	"database/sql"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

// Source is a single field as returned by the server.
type Source interface {
	// IsNull reports the protocol's explicit NULL flag.
	IsNull() bool

	// Bytes returns the raw field bytes.
	Bytes() []byte

	// Format returns the wire format of the field (0 text, 1 binary).
	Format() int16
}

// Decoder decodes fields into values of type T.
//
// MinSize and MaxSize bound the accepted length of binary-format fields.
// Nullable decoders accept SQL NULL; all others reject it with ErrLength.
// Setting Nullable directly decodes NULL to the zero value of T; use the
// Nullable function to tell NULL apart from a zero value.
type Decoder[T any] struct {
	Name     string
	MinSize  int
	MaxSize  int
	Nullable bool

	binary func(src []byte) (T, error)
	text   func(src []byte) (T, error)
	null   func() T
}

// NewDecoder builds a decoder for a type outside the builtin set. text may be
// nil when the type is only ever read in binary format.
func NewDecoder[T any](name string, minSize, maxSize int, binary, text func(src []byte) (T, error)) Decoder[T] {
	if text == nil {
		text = func([]byte) (T, error) {
			var zero T
			return zero, fmt.Errorf("%w: %s has no text decoder", ErrInvalidText, name)
		}
	}
	return Decoder[T]{Name: name, MinSize: minSize, MaxSize: maxSize, binary: binary, text: text}
}

// Decode decodes a non-NULL field without size validation.
func (d Decoder[T]) Decode(src []byte, format int16) (T, error) {
	if format == pgtype.TextFormatCode {
		return d.text(src)
	}
	return d.binary(src)
}

// Decode validates src against d and decodes it.
func Decode[T any](src Source, d Decoder[T]) (T, error) {
	var zero T

	if src.IsNull() {
		if !d.Nullable {
			return zero, fmt.Errorf("%w: field is null, %s is not nullable", ErrLength, d.Name)
		}
		if d.null == nil {
			return zero, nil
		}
		return d.null(), nil
	}

	raw := src.Bytes()
	format := src.Format()
	if format == pgtype.BinaryFormatCode && (len(raw) < d.MinSize || len(raw) > d.MaxSize) {
		return zero, fmt.Errorf("%w: field length %d not in range %d-%d for %s",
			ErrLength, len(raw), d.MinSize, d.MaxSize, d.Name)
	}

	return d.Decode(raw, format)
}

// DecodeOr is like Decode but returns def when the field is NULL.
func DecodeOr[T any](src Source, d Decoder[T], def T) (T, error) {
	if src.IsNull() {
		return def, nil
	}
	return Decode(src, d)
}

// Nullable wraps d so that NULL decodes to an invalid sql.Null. Only the
// explicit NULL flag counts as NULL; an empty text field is a valid "".
func Nullable[T any](d Decoder[T]) Decoder[sql.Null[T]] {
	wrap := func(decode func([]byte) (T, error)) func([]byte) (sql.Null[T], error) {
		return func(src []byte) (sql.Null[T], error) {
			v, err := decode(src)
			if err != nil {
				return sql.Null[T]{}, err
			}
			return sql.Null[T]{V: v, Valid: true}, nil
		}
	}

	return Decoder[sql.Null[T]]{
		Name:     "nullable " + d.Name,
		MinSize:  d.MinSize,
		MaxSize:  d.MaxSize,
		Nullable: true,
		binary:   wrap(d.binary),
		text:     wrap(d.text),
		null:     func() sql.Null[T] { return sql.Null[T]{} },
	}
}

const unbounded = math.MaxInt

// Builtin decoders. Combine with Nullable to accept NULL.
var (
	Int16 = Decoder[int16]{
		Name: "int2", MinSize: 2, MaxSize: 2,
		binary: func(src []byte) (int16, error) {
			return int16(binary.BigEndian.Uint16(src)), nil
		},
		text: func(src []byte) (int16, error) {
			n, err := parseInt(src, 16)
			return int16(n), err
		},
	}

	Int32 = Decoder[int32]{
		Name: "int4", MinSize: 4, MaxSize: 4,
		binary: func(src []byte) (int32, error) {
			return int32(binary.BigEndian.Uint32(src)), nil
		},
		text: func(src []byte) (int32, error) {
			n, err := parseInt(src, 32)
			return int32(n), err
		},
	}

	Int64 = Decoder[int64]{
		Name: "int8", MinSize: 8, MaxSize: 8,
		binary: func(src []byte) (int64, error) {
			return int64(binary.BigEndian.Uint64(src)), nil
		},
		text: func(src []byte) (int64, error) {
			return parseInt(src, 64)
		},
	}

	Float32 = Decoder[float32]{
		Name: "float4", MinSize: 4, MaxSize: 4,
		binary: func(src []byte) (float32, error) {
			return math.Float32frombits(binary.BigEndian.Uint32(src)), nil
		},
		text: func(src []byte) (float32, error) {
			f, err := parseFloat(src, 32)
			return float32(f), err
		},
	}

	Float64 = Decoder[float64]{
		Name: "float8", MinSize: 8, MaxSize: 8,
		binary: func(src []byte) (float64, error) {
			return math.Float64frombits(binary.BigEndian.Uint64(src)), nil
		},
		text: func(src []byte) (float64, error) {
			return parseFloat(src, 64)
		},
	}

	Text = Decoder[string]{
		Name: "text", MinSize: 0, MaxSize: unbounded,
		binary: decodeString,
		text:   decodeString,
	}

	Bool = Decoder[bool]{
		Name: "bool", MinSize: 1, MaxSize: 1,
		binary: func(src []byte) (bool, error) {
			return src[0] != 0, nil
		},
		text: func(src []byte) (bool, error) {
			b, err := strconv.ParseBool(string(src))
			if err != nil {
				return false, fmt.Errorf("%w: bool %q", ErrInvalidText, src)
			}
			return b, nil
		},
	}

	Bytea = Decoder[[]byte]{
		Name: "bytea", MinSize: 0, MaxSize: unbounded,
		binary: func(src []byte) ([]byte, error) {
			return append(make([]byte, 0, len(src)), src...), nil
		},
		text: func(src []byte) ([]byte, error) {
			hexPart, ok := bytes.CutPrefix(src, []byte(`\x`))
			if !ok {
				return nil, fmt.Errorf("%w: bytea is not in hex format", ErrInvalidText)
			}
			dst := make([]byte, hex.DecodedLen(len(hexPart)))
			if _, err := hex.Decode(dst, hexPart); err != nil {
				return nil, fmt.Errorf("%w: bytea: %v", ErrInvalidText, err)
			}
			return dst, nil
		},
	}

	UUID = Decoder[uuid.UUID]{
		Name: "uuid", MinSize: 16, MaxSize: 16,
		binary: func(src []byte) (uuid.UUID, error) {
			return uuid.FromBytes(src)
		},
		text: func(src []byte) (uuid.UUID, error) {
			u, err := uuid.ParseBytes(src)
			if err != nil {
				return uuid.Nil, fmt.Errorf("%w: uuid: %v", ErrInvalidText, err)
			}
			return u, nil
		},
	}
)

func decodeString(src []byte) (string, error) {
	return string(src), nil
}

func parseInt(src []byte, bitSize int) (int64, error) {
	n, err := strconv.ParseInt(string(src), 10, bitSize)
	if errors.Is(err, strconv.ErrRange) {
		return 0, fmt.Errorf("%w: integer %q out of range for %d bits", ErrLength, src, bitSize)
	}
	if err != nil {
		return 0, fmt.Errorf("%w: integer %q", ErrInvalidText, src)
	}
	return n, nil
}

func parseFloat(src []byte, bitSize int) (float64, error) {
	f, err := strconv.ParseFloat(string(src), bitSize)
	if errors.Is(err, strconv.ErrRange) {
		return 0, fmt.Errorf("%w: float %q out of range for %d bits", ErrLength, src, bitSize)
	}
	if err != nil {
		return 0, fmt.Errorf("%w: float %q", ErrInvalidText, src)
	}
	return f, nil
}
