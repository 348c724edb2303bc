package param

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Type is the storage type of a parameter.
type Type uint8

const (
	TypeInt Type = iota
	TypeFloat
	TypeUint8
	TypeUint16
	TypeUint32
	TypeString
)

var typeNames = [...]string{
	TypeInt:    "int",
	TypeFloat:  "float",
	TypeUint8:  "u8",
	TypeUint16: "u16",
	TypeUint32: "u32",
	TypeString: "string",
}

func (t Type) String() string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}
	return fmt.Sprintf("Type(%d)", uint8(t))
}

// size is the encoded size of a numeric type; strings report 0.
func (t Type) size() int {
	switch t {
	case TypeUint8:
		return 1
	case TypeUint16:
		return 2
	case TypeInt, TypeFloat, TypeUint32:
		return 4
	default:
		return 0
	}
}

// Value is a tagged parameter value. The zero Value is invalid and is what
// Get returns for an unknown id.
type Value struct {
	typ   Type
	valid bool
	num   uint32
	str   string
}

func Int(v int32) Value     { return Value{typ: TypeInt, valid: true, num: uint32(v)} }
func Float(v float32) Value { return Value{typ: TypeFloat, valid: true, num: math.Float32bits(v)} }
func Uint8(v uint8) Value   { return Value{typ: TypeUint8, valid: true, num: uint32(v)} }
func Uint16(v uint16) Value { return Value{typ: TypeUint16, valid: true, num: uint32(v)} }
func Uint32(v uint32) Value { return Value{typ: TypeUint32, valid: true, num: v} }
func String(s string) Value { return Value{typ: TypeString, valid: true, str: s} }

// Type returns the variant tag.
func (v Value) Type() Type { return v.typ }

// IsZero reports whether v is the invalid zero Value.
func (v Value) IsZero() bool { return !v.valid }

func (v Value) Int() int32     { return int32(v.num) }
func (v Value) Float() float32 { return math.Float32frombits(v.num) }
func (v Value) Uint8() uint8   { return uint8(v.num) }
func (v Value) Uint16() uint16 { return uint16(v.num) }
func (v Value) Uint32() uint32 { return v.num }
func (v Value) Text() string   { return v.str }

func (v Value) String() string {
	if !v.valid {
		return "<none>"
	}
	switch v.typ {
	case TypeInt:
		return strconv.FormatInt(int64(v.Int()), 10)
	case TypeFloat:
		return strconv.FormatFloat(float64(v.Float()), 'g', -1, 32)
	case TypeUint8, TypeUint16, TypeUint32:
		return strconv.FormatUint(uint64(v.num), 10)
	case TypeString:
		return strconv.Quote(v.str)
	default:
		return fmt.Sprintf("%s(%d)", v.typ, v.num)
	}
}

// encode renders v in its persisted form. Strings are cut to capacity-1 bytes.
func (v Value) encode(capacity int) []byte {
	switch v.typ {
	case TypeUint8:
		return []byte{uint8(v.num)}
	case TypeUint16:
		return binary.LittleEndian.AppendUint16(nil, uint16(v.num))
	case TypeInt, TypeFloat, TypeUint32:
		return binary.LittleEndian.AppendUint32(nil, v.num)
	case TypeString:
		return []byte(clip(v.str, capacity))
	default:
		return nil
	}
}

// decode parses a persisted value of type t. b is already sized to what was
// stored, bounded by the encoded size.
func decode(t Type, b []byte) Value {
	switch t {
	case TypeUint8:
		return Uint8(b[0])
	case TypeUint16:
		return Uint16(binary.LittleEndian.Uint16(b))
	case TypeInt:
		return Int(int32(binary.LittleEndian.Uint32(b)))
	case TypeFloat:
		return Float(math.Float32frombits(binary.LittleEndian.Uint32(b)))
	case TypeUint32:
		return Uint32(binary.LittleEndian.Uint32(b))
	default:
		if i := strings.IndexByte(string(b), 0); i >= 0 {
			b = b[:i]
		}
		return String(string(b))
	}
}

func clip(s string, capacity int) string {
	if len(s) > capacity-1 {
		return s[:capacity-1]
	}
	return s
}

// ParseValue parses text as a value of type t.
func ParseValue(t Type, text string) (Value, error) {
	switch t {
	case TypeInt:
		n, err := strconv.ParseInt(text, 0, 32)
		if err != nil {
			return Value{}, fmt.Errorf("param: parse int: %w", err)
		}
		return Int(int32(n)), nil
	case TypeFloat:
		f, err := strconv.ParseFloat(text, 32)
		if err != nil {
			return Value{}, fmt.Errorf("param: parse float: %w", err)
		}
		return Float(float32(f)), nil
	case TypeUint8, TypeUint16, TypeUint32:
		n, err := strconv.ParseUint(text, 0, t.size()*8)
		if err != nil {
			return Value{}, fmt.Errorf("param: parse %s: %w", t, err)
		}
		switch t {
		case TypeUint8:
			return Uint8(uint8(n)), nil
		case TypeUint16:
			return Uint16(uint16(n)), nil
		default:
			return Uint32(uint32(n)), nil
		}
	case TypeString:
		return String(text), nil
	default:
		return Value{}, fmt.Errorf("param: parse: unknown type %s", t)
	}
}
