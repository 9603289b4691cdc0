package cip

import (
	"encoding/binary"
	"math"
)

// CIP elementary data type codes, per the Identity/Data Table object
// conventions used by ReadTag/WriteTag bodies. Only the types this client
// needs to move tag values are represented; decode rejects anything else
// with KindTypeMismatch.
const (
	TypeBOOL  uint16 = 0x00C1
	TypeSINT  uint16 = 0x00C2
	TypeINT   uint16 = 0x00C3
	TypeDINT  uint16 = 0x00C4
	TypeLINT  uint16 = 0x00C5
	TypeREAL  uint16 = 0x00CA
	TypeLREAL uint16 = 0x00CB
	TypeBITS  uint16 = 0x00D3

	// TypeSTRING is a STRUCT handle, not an elementary type: on the wire it
	// is the two-byte code below, followed by a structure handle, a 16-bit
	// pad, a 32-bit length, and up to 82 characters of payload.
	TypeSTRING uint16 = 0x02A0

	stringStructHandle = 0x0FCE
	stringMaxChars      = 82
	stringSlotWidth     = 88
)

// elementSize returns the fixed per-element byte width for scalar types.
// STRING has no fixed element size and is rejected here; callers must
// special-case it.
func elementSize(typeCode uint16) (int, bool) {
	switch typeCode {
	case TypeBOOL, TypeSINT:
		return 1, true
	case TypeINT:
		return 2, true
	case TypeDINT, TypeREAL, TypeBITS:
		return 4, true
	case TypeLINT, TypeLREAL:
		return 8, true
	default:
		return 0, false
	}
}

// Value is a CIP-typed payload: a type code, an element count, and the raw
// little-endian wire bytes for that many elements. It is the unit returned
// from a read and accepted by a write.
type Value struct {
	Type     uint16
	Elements int
	Raw      []byte
}

// NewValue allocates a Value of the given type and element count with a
// zeroed payload, ready to be filled in by a Set* call before a write.
func NewValue(typeCode uint16, elements int) (*Value, error) {
	if elements < 1 {
		return nil, newErr(KindArgument, "element count must be >= 1")
	}
	if typeCode == TypeSTRING {
		if elements != 1 {
			return nil, newErr(KindArgument, "STRING values are not array-valued")
		}
		return &Value{Type: typeCode, Elements: 1, Raw: make([]byte, stringSlotWidth)}, nil
	}
	size, ok := elementSize(typeCode)
	if !ok {
		return nil, newErr(KindArgument, "unsupported CIP type code")
	}
	return &Value{Type: typeCode, Elements: elements, Raw: make([]byte, size*elements)}, nil
}

// Decode builds a Value from a type code and the raw element bytes that
// followed it in a ReadTag response body (or a ReadTag sub-response of a
// Multiple Service Packet).
func Decode(typeCode uint16, raw []byte) (*Value, error) {
	if typeCode == TypeSTRING {
		return decodeString(raw)
	}
	size, ok := elementSize(typeCode)
	if !ok {
		return nil, newErr(KindTypeMismatch, "unsupported CIP type code in response")
	}
	if size == 0 || len(raw)%size != 0 || len(raw) == 0 {
		return nil, newErr(KindFraming, "response payload length is not a multiple of the element size")
	}
	return &Value{Type: typeCode, Elements: len(raw) / size, Raw: append([]byte(nil), raw...)}, nil
}

func decodeString(raw []byte) (*Value, error) {
	if len(raw) < 8 {
		return nil, newErr(KindFraming, "STRING payload too short for structure prelude")
	}
	handle := binary.LittleEndian.Uint16(raw[0:2])
	if handle != stringStructHandle {
		return nil, newErr(KindFraming, "STRING structure handle mismatch")
	}
	// raw[2:4] is the 16-bit pad.
	length := binary.LittleEndian.Uint32(raw[4:8])
	if int(length) > stringMaxChars || 8+int(length) > len(raw) {
		return nil, newErr(KindFraming, "STRING length exceeds payload or the 82-character limit")
	}
	return &Value{Type: TypeSTRING, Elements: 1, Raw: append([]byte(nil), raw...)}, nil
}

// Encode returns the wire bytes for this value's payload (the part of a
// WriteTag body following type code and element count).
func (v *Value) Encode() []byte {
	return append([]byte(nil), v.Raw...)
}

func (v *Value) elemSize() int {
	size, _ := elementSize(v.Type)
	return size
}

// Bool returns the boolean at index i (0 = false, non-zero = true).
func (v *Value) Bool(i int) (bool, error) {
	if v.Type != TypeBOOL {
		return false, newErr(KindTypeMismatch, "value is not BOOL")
	}
	if i < 0 || i >= v.Elements {
		return false, newErr(KindArgument, "index out of range")
	}
	return v.Raw[i] != 0, nil
}

// Int widens any signed integer type to int64.
func (v *Value) Int(i int) (int64, error) {
	size := v.elemSize()
	if size == 0 || i < 0 || i >= v.Elements {
		return 0, newErr(KindArgument, "index out of range or not an integer type")
	}
	b := v.Raw[i*size : i*size+size]
	switch v.Type {
	case TypeSINT:
		return int64(int8(b[0])), nil
	case TypeINT:
		return int64(int16(binary.LittleEndian.Uint16(b))), nil
	case TypeDINT:
		return int64(int32(binary.LittleEndian.Uint32(b))), nil
	case TypeLINT:
		return int64(binary.LittleEndian.Uint64(b)), nil
	default:
		return 0, newErr(KindTypeMismatch, "value is not an integer type")
	}
}

// Float widens REAL/LREAL to float64.
func (v *Value) Float(i int) (float64, error) {
	size := v.elemSize()
	if size == 0 || i < 0 || i >= v.Elements {
		return 0, newErr(KindArgument, "index out of range or not a float type")
	}
	b := v.Raw[i*size : i*size+size]
	switch v.Type {
	case TypeREAL:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(b))), nil
	case TypeLREAL:
		return math.Float64frombits(binary.LittleEndian.Uint64(b)), nil
	default:
		return 0, newErr(KindTypeMismatch, "value is not a float type")
	}
}

// Bits returns the 32-bit pack at index i.
func (v *Value) Bits(i int) (uint32, error) {
	if v.Type != TypeBITS {
		return 0, newErr(KindTypeMismatch, "value is not BITS")
	}
	if i < 0 || i >= v.Elements {
		return 0, newErr(KindArgument, "index out of range")
	}
	return binary.LittleEndian.Uint32(v.Raw[i*4 : i*4+4]), nil
}

// String decodes a STRING value's characters.
func (v *Value) String() (string, error) {
	if v.Type != TypeSTRING {
		return "", newErr(KindTypeMismatch, "value is not STRING")
	}
	length := binary.LittleEndian.Uint32(v.Raw[4:8])
	return string(v.Raw[8 : 8+length]), nil
}

// SetInt stores x at index i, widening/narrowing to the value's declared
// integer type. Returns KindTypeMismatch if a fixed-width type isn't
// integral, and KindArgument for STRING or an out-of-range index.
func (v *Value) SetInt(i int, x int64) error {
	size := v.elemSize()
	if size == 0 || i < 0 || i >= v.Elements {
		return newErr(KindArgument, "index out of range or not an integer type")
	}
	b := v.Raw[i*size : i*size+size]
	switch v.Type {
	case TypeSINT:
		b[0] = byte(int8(x))
	case TypeINT:
		binary.LittleEndian.PutUint16(b, uint16(int16(x)))
	case TypeDINT:
		binary.LittleEndian.PutUint32(b, uint32(int32(x)))
	case TypeLINT:
		binary.LittleEndian.PutUint64(b, uint64(x))
	default:
		return newErr(KindTypeMismatch, "value is not an integer type")
	}
	return nil
}

// SetFloat stores x at index i as REAL or LREAL.
func (v *Value) SetFloat(i int, x float64) error {
	size := v.elemSize()
	if size == 0 || i < 0 || i >= v.Elements {
		return newErr(KindArgument, "index out of range or not a float type")
	}
	b := v.Raw[i*size : i*size+size]
	switch v.Type {
	case TypeREAL:
		binary.LittleEndian.PutUint32(b, math.Float32bits(float32(x)))
	case TypeLREAL:
		binary.LittleEndian.PutUint64(b, math.Float64bits(x))
	default:
		return newErr(KindTypeMismatch, "value is not a float type")
	}
	return nil
}

// SetBool stores x at index i.
func (v *Value) SetBool(i int, x bool) error {
	if v.Type != TypeBOOL {
		return newErr(KindTypeMismatch, "value is not BOOL")
	}
	if i < 0 || i >= v.Elements {
		return newErr(KindArgument, "index out of range")
	}
	if x {
		v.Raw[i] = 1
	} else {
		v.Raw[i] = 0
	}
	return nil
}

// NewString builds a STRING value, erroring if s is longer
// than the 82-character payload limit.
func NewString(s string) (*Value, error) {
	if len(s) > stringMaxChars {
		return nil, newErr(KindArgument, "STRING longer than 82 characters")
	}
	// Structure handle and 16-bit pad, then the fixed slot holding the
	// 32-bit length and up to 82 characters.
	raw := make([]byte, 4+stringSlotWidth)
	binary.LittleEndian.PutUint16(raw[0:2], stringStructHandle)
	binary.LittleEndian.PutUint32(raw[4:8], uint32(len(s)))
	copy(raw[8:8+len(s)], s)
	return &Value{Type: TypeSTRING, Elements: 1, Raw: raw}, nil
}

// Any returns the element at index i as a plain Go value (bool, int64,
// float64, uint32, or string), suitable for JSON marshaling.
func (v *Value) Any(i int) (interface{}, error) {
	switch v.Type {
	case TypeBOOL:
		return v.Bool(i)
	case TypeSINT, TypeINT, TypeDINT, TypeLINT:
		return v.Int(i)
	case TypeREAL, TypeLREAL:
		return v.Float(i)
	case TypeBITS:
		return v.Bits(i)
	case TypeSTRING:
		return v.String()
	default:
		return nil, newErr(KindTypeMismatch, "unsupported CIP type code")
	}
}

// ValueFromJSON builds a single-element Value of typeCode from a decoded
// JSON scalar (float64, bool, or string, per encoding/json's default
// unmarshal targets for interface{}).
func ValueFromJSON(typeCode uint16, raw interface{}) (*Value, error) {
	if typeCode == TypeSTRING {
		s, ok := raw.(string)
		if !ok {
			return nil, newErr(KindArgument, "STRING write requires a JSON string value")
		}
		return NewString(s)
	}

	v, err := NewValue(typeCode, 1)
	if err != nil {
		return nil, err
	}
	switch typeCode {
	case TypeBOOL:
		switch x := raw.(type) {
		case bool:
			err = v.SetBool(0, x)
		case float64:
			err = v.SetBool(0, x != 0)
		default:
			return nil, newErr(KindArgument, "BOOL write requires a JSON bool or number")
		}
	case TypeSINT, TypeINT, TypeDINT, TypeLINT:
		num, ok := raw.(float64)
		if !ok {
			return nil, newErr(KindArgument, "integer write requires a JSON number")
		}
		err = v.SetInt(0, int64(num))
	case TypeREAL, TypeLREAL:
		num, ok := raw.(float64)
		if !ok {
			return nil, newErr(KindArgument, "float write requires a JSON number")
		}
		err = v.SetFloat(0, num)
	default:
		return nil, newErr(KindArgument, "unsupported CIP type code for JSON write")
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}

// TypeName returns a human-readable name for a CIP type code.
func TypeName(typeCode uint16) string {
	switch typeCode {
	case TypeBOOL:
		return "BOOL"
	case TypeSINT:
		return "SINT"
	case TypeINT:
		return "INT"
	case TypeDINT:
		return "DINT"
	case TypeLINT:
		return "LINT"
	case TypeREAL:
		return "REAL"
	case TypeLREAL:
		return "LREAL"
	case TypeBITS:
		return "BITS"
	case TypeSTRING:
		return "STRING"
	default:
		return "UNKNOWN"
	}
}
