/*
   This file handles the element types of voxel arrays and routines that
   convert them to and from slices of bytes.
*/

package dvid

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
)

// DataType is a unique ID for each element type of an array, e.g., a uint8 or a float32.
// The set of types is closed: only the constants below are valid.
type DataType uint8

const (
	T_uint8 DataType = iota
	T_int8
	T_uint16
	T_int16
	T_uint32
	T_int32
	T_uint64
	T_int64
	T_float32
	T_float64

	numDataTypes
)

// Number is the set of Go element types that correspond to a DataType.
type Number interface {
	~uint8 | ~int8 | ~uint16 | ~int16 | ~uint32 | ~int32 | ~uint64 | ~int64 | ~float32 | ~float64
}

var typeBytes = [numDataTypes]int{
	T_uint8:   1,
	T_int8:    1,
	T_uint16:  2,
	T_int16:   2,
	T_uint32:  4,
	T_int32:   4,
	T_uint64:  8,
	T_int64:   8,
	T_float32: 4,
	T_float64: 8,
}

var typeNames = [numDataTypes]string{
	T_uint8:   "uint8",
	T_int8:    "int8",
	T_uint16:  "uint16",
	T_int16:   "int16",
	T_uint32:  "uint32",
	T_int32:   "int32",
	T_uint64:  "uint64",
	T_int64:   "int64",
	T_float32: "float32",
	T_float64: "float64",
}

// Valid returns true if the data type is one of the known element types.
func (t DataType) Valid() bool {
	return t < numDataTypes
}

// Bytes returns the # of bytes for one element of the type.
func (t DataType) Bytes() int {
	if !t.Valid() {
		return 0
	}
	return typeBytes[t]
}

func (t DataType) String() string {
	if !t.Valid() {
		return fmt.Sprintf("unknown data type %d", uint8(t))
	}
	return typeNames[t]
}

// IsFloat returns true for floating point types.
func (t DataType) IsFloat() bool {
	return t == T_float32 || t == T_float64
}

// IsSigned returns true for signed integer types.
func (t DataType) IsSigned() bool {
	return t == T_int8 || t == T_int16 || t == T_int32 || t == T_int64
}

// ParseDataType returns the DataType for a name like "uint16".
func ParseDataType(name string) (DataType, error) {
	for t, s := range typeNames {
		if s == name {
			return DataType(t), nil
		}
	}
	return 0, fmt.Errorf("unsupported data type %q", name)
}

// MarshalJSON implements the json.Marshaler interface.
func (t DataType) MarshalJSON() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("can't marshal %s", t)
	}
	return json.Marshal(typeNames[t])
}

// UnmarshalJSON implements the json.Unmarshaler interface.
func (t *DataType) UnmarshalJSON(b []byte) error {
	var name string
	if err := json.Unmarshal(b, &name); err != nil {
		return err
	}
	dt, err := ParseDataType(name)
	if err != nil {
		return err
	}
	*t = dt
	return nil
}

// Limits returns the sentinel and fill values for the type.  The sentinel is a
// placeholder that marks an element as not yet written and is the most negative
// representable value for signed integers, zero for unsigned integers, and negative
// infinity for floats.  The fill value is always zero.
func Limits[T Number](t DataType) (sentinel, fill T) {
	var s float64
	switch t {
	case T_uint8, T_uint16, T_uint32, T_uint64:
		s = 0
	case T_int8:
		s = math.MinInt8
	case T_int16:
		s = math.MinInt16
	case T_int32:
		s = math.MinInt32
	case T_int64:
		var v int64 = math.MinInt64
		return T(v), 0
	case T_float32, T_float64:
		s = math.Inf(-1)
	default:
		panic(fmt.Sprintf("Limits() called with unexpected data type %d", uint8(t)))
	}
	return T(s), 0
}

// DecodeValues converts little-endian bytes into a slice of values.
func DecodeValues[T Number](b []byte) ([]T, error) {
	var zero T
	n := binary.Size(zero)
	if n <= 0 || len(b)%n != 0 {
		return nil, fmt.Errorf("can't decode %d bytes into %d-byte values", len(b), n)
	}
	values := make([]T, len(b)/n)
	if _, err := binary.Decode(b, binary.LittleEndian, values); err != nil {
		return nil, err
	}
	return values, nil
}

// EncodeValues converts a slice of values into little-endian bytes.
func EncodeValues[T Number](values []T) ([]byte, error) {
	var zero T
	b := make([]byte, 0, len(values)*binary.Size(zero))
	return binary.Append(b, binary.LittleEndian, values)
}
