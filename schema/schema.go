// Package schema describes the layout of binary records.
//
// A Record is an ordered list of Fields, each with a Type. Sizes, counts, conditions and expected values
// are expression text (see package expr), compiled when a codec is built from the Record.
// Records may reference each other, and themselves, freely.
//
// Records are written in Go, derived from struct tags with FromStruct, or loaded from a Document.
package schema

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/stewi1014/bitcodec/bitbuf"
	"github.com/stewi1014/bitcodec/encio"
)

// Record is the schema of a structured value.
type Record struct {
	// Name identifies the record in errors and documents.
	Name string

	// Base is a record whose fields come before this record's own.
	Base *Record

	// Fields in the order they appear on the wire.
	Fields []*Field

	// Tag is the value identifying this record as a union candidate.
	Tag *Tag

	// Init names a method on the Go value, func() error, called after all fields are decoded.
	Init string

	// Hook is called with the decoded value after Init.
	Hook func(any) error

	// Inject assigns fields from expressions after decoding. The expressions see the record's
	// own fields by name and the enclosing record's fields through outer.
	// Injected fields are not read from or written to the stream.
	Inject []Injection

	// GoType is the struct type decoded values are pointers to.
	// If nil, values are *Struct.
	GoType reflect.Type

	once      sync.Once
	accessors map[string]Accessor
	err       error
}

// Tag identifies a union candidate by a fixed width prefix.
type Tag struct {
	Value uint64           `yaml:"value" json:"value" cbor:"value"`
	Bits  uint             `yaml:"bits" json:"bits" cbor:"bits"`
	Order bitbuf.ByteOrder `yaml:"order,omitempty" json:"order,omitempty" cbor:"order,omitempty"`
}

// Injection assigns Field the value of Expr, evaluated in the record's scope once every field is decoded.
type Injection struct {
	Field string `yaml:"field" json:"field" cbor:"field"`
	Expr  string `yaml:"expr" json:"expr" cbor:"expr"`
}

// Compression is a compression format applied to a length-prefixed field.
type Compression string

// Compression formats.
const (
	None Compression = ""
	Zstd Compression = "zstd"
	LZ4  Compression = "lz4"
)

// Field is one named member of a Record.
type Field struct {
	Name string
	Type *Type

	// If is a boolean expression; when false the field is absent and holds its zero value.
	If string

	// Match is an expression the decoded value must equal.
	Match string

	// Align is the bit boundary the cursor is moved to after the field, usually 8.
	Align uint

	// Slice is a bit count expression bounding the field's reads.
	Slice string

	// PrefixBits, if non-zero, bounds the field by a PrefixBits wide count of bytes read immediately before it.
	PrefixBits  uint
	PrefixOrder bitbuf.ByteOrder

	// Compression is applied to the length-prefixed span. It requires PrefixBits.
	Compression Compression

	// Codec names a codec registered by the caller, used instead of one built from Type.
	Codec string

	// GoName is the Go struct field holding the value. It defaults to Name.
	GoName string
}

// Type is the shape of a field's value.
type Type struct {
	Kind Kind

	// Bits is the width of numeric kinds. Bool defaults to 1 and Float to 32.
	Bits  string
	Order bitbuf.ByteOrder

	// Record is the schema of Struct values.
	Record *Record

	// Elem is the element type of a List.
	Elem *Type
	// Count is the number of elements; if empty the list continues while elements decode.
	Count string
	// Offset is the bit offset of element index from the start of the list.
	Offset string
	// Lazy lists decode elements when they are first accessed.
	Lazy bool

	// Candidates of a Union, selected by their Tag.
	Candidates []*Record

	// Select chooses a record by condition.
	Select *Selector

	// Length is the byte count of String and Bytes values.
	Length string
	// Terminator ends a String without a Length. It defaults to 0.
	Terminator *byte
	// Encoding is the character set of a String; utf-8 by default.
	Encoding string

	// Enum names integer values.
	Enum map[int64]string

	// MatchBytes is the exact content of a Bytes value.
	MatchBytes []byte
}

// Selector chooses the record of a Select value.
type Selector struct {
	// PrefixBits, if non-zero, is the width of a value read before selecting and bound to prefix.
	PrefixBits  uint
	PrefixOrder bitbuf.ByteOrder

	Alternatives []Alternative

	// Default is used when no condition holds. If nil, the value is nil.
	Default *Record
}

// Alternative is one choice of a Selector.
type Alternative struct {
	Condition string
	Record    *Record

	// Prefix is written before the record when encoding.
	Prefix uint64
}

// Scalar returns a Type of kind k with the given bit width.
func Scalar(k Kind, bits string) *Type {
	return &Type{Kind: k, Bits: bits}
}

// Of returns a Struct type for rec.
func Of(rec *Record) *Type {
	return &Type{Kind: KindStruct, Record: rec}
}

// ListOf returns a List of elem with count elements.
func ListOf(elem *Type, count string) *Type {
	return &Type{Kind: KindList, Elem: elem, Count: count}
}

// All returns the record's fields, base record fields first.
func (r *Record) All() []*Field {
	if r.Base == nil {
		return r.Fields
	}

	all := append([]*Field{}, r.Base.All()...)
	return append(all, r.Fields...)
}

// String implements fmt.Stringer.
func (r *Record) String() string {
	if r == nil {
		return "<nil record>"
	}
	if r.Name != "" {
		return r.Name
	}
	if r.GoType != nil {
		return r.GoType.String()
	}
	return "record"
}

// New returns an empty value of the record.
func (r *Record) New() any {
	if r.GoType == nil {
		return NewStruct(r)
	}
	return reflect.New(r.GoType).Interface()
}

// Owns returns true if v is a value of this record.
func (r *Record) Owns(v any) bool {
	switch val := v.(type) {
	case *Struct:
		return val.Record == r
	case nil:
		return false
	}

	if r.GoType == nil {
		return false
	}
	ty := reflect.TypeOf(v)
	return ty == r.GoType || ty == reflect.PointerTo(r.GoType)
}

// Accessor returns the accessor for the named field.
func (r *Record) Accessor(name string) (Accessor, error) {
	if err := r.prepare(); err != nil {
		return nil, err
	}

	a, ok := r.accessors[name]
	if !ok {
		return nil, encio.NewError(encio.ErrBadSchema, fmt.Sprintf("%v has no field %v", r, name), "")
	}
	return a, nil
}

// prepare builds the record's accessors.
func (r *Record) prepare() error {
	r.once.Do(func() {
		r.accessors = make(map[string]Accessor)
		injected := make([]string, len(r.Inject))
		for i, inj := range r.Inject {
			injected[i] = inj.Field
		}

		if r.GoType == nil {
			for _, f := range r.All() {
				r.accessors[f.Name] = dynamicAccessor(f.Name)
			}
			for _, name := range injected {
				r.accessors[name] = dynamicAccessor(name)
			}
			return
		}

		if r.GoType.Kind() != reflect.Struct {
			r.err = encio.NewError(encio.ErrBadType, fmt.Sprintf("%v is not a struct", r.GoType), "")
			return
		}

		for _, f := range r.All() {
			goName := f.GoName
			if goName == "" {
				goName = f.Name
			}

			a, err := newReflectAccessor(r.GoType, goName)
			if err != nil {
				r.err = err
				return
			}
			r.accessors[f.Name] = a
		}
		for _, name := range injected {
			if _, ok := r.accessors[name]; ok {
				continue
			}
			a, err := newReflectAccessor(r.GoType, name)
			if err != nil {
				r.err = err
				return
			}
			r.accessors[name] = a
		}

		goRecords.Store(r.GoType, r)
	})
	return r.err
}

// goRecords maps Go struct types to the record describing them, for Normalize.
var goRecords sync.Map
