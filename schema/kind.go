package schema

import (
	"fmt"
	"strings"

	"github.com/stewi1014/bitcodec/encio"
	"github.com/stewi1014/bitcodec/expr"
)

// Kind is the shape of a Type.
type Kind uint8

// Kinds.
const (
	Invalid Kind = iota
	Uint
	Int
	Bool
	Float
	String
	Bytes
	Enum
	KindStruct
	KindList
	Union
	Select
)

var kindNames = [...]string{
	Invalid:    "invalid",
	Uint:       "uint",
	Int:        "int",
	Bool:       "bool",
	Float:      "float",
	String:     "string",
	Bytes:      "bytes",
	Enum:       "enum",
	KindStruct: "struct",
	KindList:   "list",
	Union:      "union",
	Select:     "select",
}

// String implements fmt.Stringer.
func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// ParseKind returns the Kind named s.
func ParseKind(s string) (Kind, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for k, name := range kindNames {
		if name == s && k != int(Invalid) {
			return Kind(k), nil
		}
	}
	return Invalid, encio.NewError(encio.ErrBadSchema, fmt.Sprintf("unknown kind %q", s), "")
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(text []byte) error {
	parsed, err := ParseKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Numeric returns true for kinds read as an integer of Bits width.
func (k Kind) Numeric() bool {
	return k == Uint || k == Int || k == Enum
}

// ExprType returns the type expressions see for values of kind k.
func (k Kind) ExprType() expr.Type {
	switch k {
	case Uint, Int:
		return expr.Int
	case Bool:
		return expr.Bool
	case Float:
		return expr.Float
	case String, Enum:
		return expr.String
	default:
		return expr.Dyn
	}
}
