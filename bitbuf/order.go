// Package bitbuf provides bit-addressable views over byte slices for reading, and a bit writer for encoding.
//
// Bits are numbered most significant first within each byte, so a 3 bit read from the byte 0b10100000 gives 0b101.
// Byte order only matters for numeric reads that span more than 8 bits.
package bitbuf

import (
	"fmt"
	"strings"
)

// ByteOrder is the order of 8-bit groups within a multi-byte numeric value.
type ByteOrder uint8

const (
	// BigEndian puts the most significant group first.
	BigEndian ByteOrder = iota
	// LittleEndian puts the least significant group first.
	// When the width is not a multiple of 8, the last, partial group holds the most significant bits.
	LittleEndian
)

// String implements fmt.Stringer.
func (o ByteOrder) String() string {
	switch o {
	case BigEndian:
		return "big"
	case LittleEndian:
		return "little"
	default:
		return fmt.Sprintf("ByteOrder(%d)", uint8(o))
	}
}

// ParseByteOrder parses "big"/"be" and "little"/"le", ignoring case.
// The empty string is big endian.
func ParseByteOrder(s string) (ByteOrder, error) {
	switch strings.ToLower(s) {
	case "", "big", "be", "bigendian", "big-endian":
		return BigEndian, nil
	case "little", "le", "littleendian", "little-endian":
		return LittleEndian, nil
	default:
		return 0, fmt.Errorf("unknown byte order %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (o ByteOrder) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (o *ByteOrder) UnmarshalText(text []byte) error {
	parsed, err := ParseByteOrder(string(text))
	if err != nil {
		return err
	}
	*o = parsed
	return nil
}
