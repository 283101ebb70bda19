// Package tensor provides the typed, shaped values exchanged with the execution engine.
package tensor

import "fmt"

// Element is a constraint for supported tensor element types.
// It uses Go generics to keep getters and buffers type safe.
type Element interface {
	~float32 | ~float64 | ~int8 | ~int16 | ~int32 | ~int64 | ~uint8 | ~uint16 | ~bool | ~string
}

// DataType represents runtime type information for tensors and columns.
type DataType int

// Supported data types.
const (
	Invalid DataType = iota
	Float32
	Float64
	Int8
	Int16
	Int32
	Int64
	Uint8
	Uint16
	Bool
	String
)

// Size returns the byte size of one element. String elements have no fixed size and report 0.
func (dt DataType) Size() int {
	switch dt {
	case Float32, Int32:
		return 4
	case Float64, Int64:
		return 8
	case Int16, Uint16:
		return 2
	case Int8, Uint8, Bool:
		return 1
	case String:
		return 0
	default:
		panic("unknown data type")
	}
}

// String returns a human-readable name for the data type.
func (dt DataType) String() string {
	switch dt {
	case Float32:
		return "float32"
	case Float64:
		return "float64"
	case Int8:
		return "int8"
	case Int16:
		return "int16"
	case Int32:
		return "int32"
	case Int64:
		return "int64"
	case Uint8:
		return "uint8"
	case Uint16:
		return "uint16"
	case Bool:
		return "bool"
	case String:
		return "string"
	default:
		return "unknown"
	}
}

// Valid reports whether dt is one of the supported data types.
func (dt DataType) Valid() bool {
	return dt >= Float32 && dt <= String
}

// ParseDataType converts the name produced by DataType.String back to a DataType.
func ParseDataType(s string) (DataType, error) {
	for dt := Float32; dt <= String; dt++ {
		if dt.String() == s {
			return dt, nil
		}
	}
	return Invalid, fmt.Errorf("unknown data type %q", s)
}

// DataTypeOf infers the DataType of a generic element type T.
func DataTypeOf[T Element]() DataType {
	var zero T
	switch any(zero).(type) {
	case float32:
		return Float32
	case float64:
		return Float64
	case int8:
		return Int8
	case int16:
		return Int16
	case int32:
		return Int32
	case int64:
		return Int64
	case uint8:
		return Uint8
	case uint16:
		return Uint16
	case bool:
		return Bool
	case string:
		return String
	default:
		panic("unsupported type")
	}
}
