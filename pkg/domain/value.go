package domain

import "slices"

// ValueType tags the payload carried by a Value.
type ValueType string

// Supported value types for store attributes.
const (
	ValueBool       ValueType = "bool"
	ValueInt        ValueType = "int"
	ValueFloat      ValueType = "float"
	ValueVec2       ValueType = "float2"
	ValueVec3       ValueType = "float3"
	ValueVec4       ValueType = "float4"
	ValueMat4       ValueType = "float4x4"
	ValueString     ValueType = "string"
	ValueFloatArray ValueType = "float_array"
	ValueIntArray   ValueType = "int_array"
)

var vectorWidths = map[ValueType]int{
	ValueFloat: 1,
	ValueVec2:  2,
	ValueVec3:  3,
	ValueVec4:  4,
	ValueMat4:  16,
}

// Value is a typed attribute payload written to the document store. Scalars
// and fixed-width vectors share the Floats slice so values survive a JSON
// round trip without losing their shape.
type Value struct {
	Type   ValueType `json:"type"`
	Bool   bool      `json:"bool,omitempty"`
	Int    int64     `json:"int,omitempty"`
	Floats []float64 `json:"floats,omitempty"`
	Ints   []int64   `json:"ints,omitempty"`
	String string    `json:"string,omitempty"`
}

// BoolValue wraps a boolean.
func BoolValue(v bool) Value { return Value{Type: ValueBool, Bool: v} }

// IntValue wraps an integer.
func IntValue(v int64) Value { return Value{Type: ValueInt, Int: v} }

// FloatValue wraps a scalar float.
func FloatValue(v float64) Value { return Value{Type: ValueFloat, Floats: []float64{v}} }

// Vec2Value wraps a float2.
func Vec2Value(x, y float64) Value { return Value{Type: ValueVec2, Floats: []float64{x, y}} }

// Vec3Value wraps a float3.
func Vec3Value(x, y, z float64) Value { return Value{Type: ValueVec3, Floats: []float64{x, y, z}} }

// Vec4Value wraps a float4.
func Vec4Value(x, y, z, w float64) Value {
	return Value{Type: ValueVec4, Floats: []float64{x, y, z, w}}
}

// Mat4Value wraps a row-major 4x4 matrix. Short input is padded with zeros.
func Mat4Value(m []float64) Value {
	out := make([]float64, 16)
	copy(out, m)
	return Value{Type: ValueMat4, Floats: out}
}

// Identity4 returns the 4x4 identity matrix.
func Identity4() Value {
	return Mat4Value([]float64{1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1})
}

// StringValue wraps a string.
func StringValue(v string) Value { return Value{Type: ValueString, String: v} }

// FloatArrayValue wraps a float array. The input is copied.
func FloatArrayValue(v []float64) Value {
	return Value{Type: ValueFloatArray, Floats: slices.Clone(v)}
}

// IntArrayValue wraps an integer array. The input is copied.
func IntArrayValue(v []int64) Value {
	return Value{Type: ValueIntArray, Ints: slices.Clone(v)}
}

// Float returns the scalar float payload or zero.
func (v Value) Float() float64 {
	if len(v.Floats) == 0 {
		return 0
	}
	return v.Floats[0]
}

// Valid reports whether the payload shape matches the declared type.
func (v Value) Valid() bool {
	if width, ok := vectorWidths[v.Type]; ok {
		return len(v.Floats) == width
	}
	switch v.Type {
	case ValueBool, ValueInt, ValueString, ValueFloatArray, ValueIntArray:
		return true
	default:
		return false
	}
}

// Equal reports whether two values carry the same type and payload.
func (v Value) Equal(o Value) bool {
	return v.Type == o.Type &&
		v.Bool == o.Bool &&
		v.Int == o.Int &&
		v.String == o.String &&
		slices.Equal(v.Floats, o.Floats) &&
		slices.Equal(v.Ints, o.Ints)
}

// Clone returns a deep copy of the value.
func (v Value) Clone() Value {
	v.Floats = slices.Clone(v.Floats)
	v.Ints = slices.Clone(v.Ints)
	return v
}
