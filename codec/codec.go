// Package codec converts Go values to PostgreSQL wire parameters and decodes
// returned field bytes back into Go values.
//
// Parameters are mapped onto a closed set of kinds. Numeric kinds travel as
// fixed-width big-endian binary, text travels as raw bytes in text format.
// Decoding is driven by a Decoder per target type which carries the accepted
// binary size range and whether SQL NULL is acceptable.
package codec

import (
	"database/sql"
	"database/sql/driver"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"reflect"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	pgdriver "github.com/youssefsiam38/pgreactor/driver"
)

var (
	// ErrLength is returned when a field is NULL but the target type is not
	// nullable, or when its binary length is outside the decoder's range.
	ErrLength = errors.New("field length out of range")

	// ErrUnsupportedType is returned when a parameter has no wire mapping.
	ErrUnsupportedType = errors.New("unsupported parameter type")

	// ErrInvalidText is returned when a text-format field cannot be parsed.
	ErrInvalidText = errors.New("invalid text representation")
)

// Kind identifies the wire type of a parameter.
type Kind uint8

const (
	// KindUnknown is an untyped NULL; the server infers its type.
	KindUnknown Kind = iota
	KindInt16
	KindInt32
	KindInt64
	KindFloat32
	KindFloat64
	KindText
	KindBool
	KindBytea
	KindUUID
)

// String returns the PostgreSQL name of the kind.
func (k Kind) String() string {
	switch k {
	case KindInt16:
		return "int2"
	case KindInt32:
		return "int4"
	case KindInt64:
		return "int8"
	case KindFloat32:
		return "float4"
	case KindFloat64:
		return "float8"
	case KindText:
		return "text"
	case KindBool:
		return "bool"
	case KindBytea:
		return "bytea"
	case KindUUID:
		return "uuid"
	default:
		return "unknown"
	}
}

// OID returns the type OID sent with the parameter.
func (k Kind) OID() uint32 {
	switch k {
	case KindInt16:
		return pgtype.Int2OID
	case KindInt32:
		return pgtype.Int4OID
	case KindInt64:
		return pgtype.Int8OID
	case KindFloat32:
		return pgtype.Float4OID
	case KindFloat64:
		return pgtype.Float8OID
	case KindText:
		return pgtype.TextOID
	case KindBool:
		return pgtype.BoolOID
	case KindBytea:
		return pgtype.ByteaOID
	case KindUUID:
		return pgtype.UUIDOID
	default:
		return 0
	}
}

// Format returns the wire format code of the kind.
func (k Kind) Format() int16 {
	switch k {
	case KindText, KindUnknown:
		return pgtype.TextFormatCode
	default:
		return pgtype.BinaryFormatCode
	}
}

// Value is a single parameter: a kind plus its payload, or a typed NULL.
type Value struct {
	kind  Kind
	null  bool
	i     int64
	f     float64
	s     string
	b     []byte
	u     uuid.UUID
	truth bool
}

// Null returns a NULL of the given kind.
func Null(k Kind) Value {
	return Value{kind: k, null: true}
}

// Kind returns the wire type of the value.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether the value is SQL NULL.
func (v Value) IsNull() bool { return v.null }

// Encode returns the wire bytes of the value, nil for NULL.
func (v Value) Encode() []byte {
	if v.null {
		return nil
	}

	switch v.kind {
	case KindInt16:
		return binary.BigEndian.AppendUint16(nil, uint16(v.i))
	case KindInt32:
		return binary.BigEndian.AppendUint32(nil, uint32(v.i))
	case KindInt64:
		return binary.BigEndian.AppendUint64(nil, uint64(v.i))
	case KindFloat32:
		return binary.BigEndian.AppendUint32(nil, math.Float32bits(float32(v.f)))
	case KindFloat64:
		return binary.BigEndian.AppendUint64(nil, math.Float64bits(v.f))
	case KindText:
		// Empty text must stay distinguishable from NULL.
		return append(make([]byte, 0, len(v.s)), v.s...)
	case KindBool:
		if v.truth {
			return []byte{1}
		}
		return []byte{0}
	case KindBytea:
		return append(make([]byte, 0, len(v.b)), v.b...)
	case KindUUID:
		return append([]byte(nil), v.u[:]...)
	default:
		return nil
	}
}

// ValueOf maps a Go value onto a parameter kind.
//
// Supported: nil, Value, signed integers, uint8/uint16/uint32, float32,
// float64, string, []byte, bool, uuid.UUID, sql.Null of those, pointers to
// any of those (nil pointers become typed NULLs) and driver.Valuer.
func ValueOf(arg any) (Value, error) {
	switch a := arg.(type) {
	case nil:
		return Value{null: true}, nil
	case Value:
		return a, nil
	case int8:
		return Value{kind: KindInt16, i: int64(a)}, nil
	case int16:
		return Value{kind: KindInt16, i: int64(a)}, nil
	case int32:
		return Value{kind: KindInt32, i: int64(a)}, nil
	case int64:
		return Value{kind: KindInt64, i: a}, nil
	case int:
		return Value{kind: KindInt64, i: int64(a)}, nil
	case uint8:
		return Value{kind: KindInt16, i: int64(a)}, nil
	case uint16:
		return Value{kind: KindInt32, i: int64(a)}, nil
	case uint32:
		return Value{kind: KindInt64, i: int64(a)}, nil
	case float32:
		return Value{kind: KindFloat32, f: float64(a)}, nil
	case float64:
		return Value{kind: KindFloat64, f: a}, nil
	case string:
		return Value{kind: KindText, s: a}, nil
	case []byte:
		if a == nil {
			return Null(KindBytea), nil
		}
		return Value{kind: KindBytea, b: a}, nil
	case bool:
		return Value{kind: KindBool, truth: a}, nil
	case uuid.UUID:
		return Value{kind: KindUUID, u: a}, nil
	case sql.Null[int16]:
		return nullable(a, KindInt16)
	case sql.Null[int32]:
		return nullable(a, KindInt32)
	case sql.Null[int64]:
		return nullable(a, KindInt64)
	case sql.Null[float32]:
		return nullable(a, KindFloat32)
	case sql.Null[float64]:
		return nullable(a, KindFloat64)
	case sql.Null[string]:
		return nullable(a, KindText)
	case sql.Null[bool]:
		return nullable(a, KindBool)
	case sql.Null[uuid.UUID]:
		return nullable(a, KindUUID)
	case driver.Valuer:
		v, err := a.Value()
		if err != nil {
			return Value{}, fmt.Errorf("failed to get driver value: %w", err)
		}
		return ValueOf(v)
	}

	rv := reflect.ValueOf(arg)
	if rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			zero, err := ValueOf(reflect.Zero(rv.Type().Elem()).Interface())
			if err != nil {
				return Value{}, err
			}
			return Null(zero.kind), nil
		}
		return ValueOf(rv.Elem().Interface())
	}

	return Value{}, fmt.Errorf("%w: %T", ErrUnsupportedType, arg)
}

func nullable[T any](n sql.Null[T], k Kind) (Value, error) {
	if !n.Valid {
		return Null(k), nil
	}
	return ValueOf(n.V)
}

// Encode converts positional arguments into the parallel arrays the protocol
// driver sends: wire bytes, format codes and type OIDs.
func Encode(args ...any) (*pgdriver.Params, error) {
	params := &pgdriver.Params{
		Values:  make([][]byte, len(args)),
		Formats: make([]int16, len(args)),
		OIDs:    make([]uint32, len(args)),
	}

	for i, arg := range args {
		v, err := ValueOf(arg)
		if err != nil {
			return nil, fmt.Errorf("parameter $%d: %w", i+1, err)
		}
		params.Values[i] = v.Encode()
		params.Formats[i] = v.kind.Format()
		params.OIDs[i] = v.kind.OID()
	}

	return params, nil
}
