package schema

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/zoobzio/sentinel"

	"github.com/stewi1014/bitcodec/bitbuf"
	"github.com/stewi1014/bitcodec/encio"
)

// StructTag is the struct tag FromStruct reads.
//
// Options are separated by semicolons, e.g. `bin:"bits=12;order=little;if=flags != 0"`.
// A tag of "-" skips the field.
//
//	bits        width of integers, defaults to the Go type's size
//	order       big or little
//	kind        overrides the kind inferred from the Go type
//	if          presence condition
//	match       expected value
//	align       bit boundary after the field
//	slice       bit count bounding the field
//	prefix      width of a byte count prefix, with prefixorder
//	compress    zstd or lz4
//	count       list element count, defaults to the length of arrays
//	offset      list element offset
//	lazy        decode list elements on access
//	length      byte count of strings and bytes
//	terminator  byte ending a string
//	encoding    string character set
//	codec       name of a caller-supplied codec
//	name        field name in expressions, defaults to the Go name
const StructTag = "bin"

func init() {
	sentinel.Tag(StructTag)
}

// FromStruct returns the record describing T, a struct type, from its `bin` struct tags.
// Nested structs, including pointers back to T, become nested records.
func FromStruct[T any]() (*Record, error) {
	var zero T
	if reflect.TypeOf(zero) == nil || reflect.TypeOf(zero).Kind() != reflect.Struct {
		return nil, encio.NewError(encio.ErrBadType, fmt.Sprintf("%T is not a struct", zero), "")
	}

	d := deriver{records: make(map[reflect.Type]*Record)}
	return d.record(reflect.TypeOf(zero), sentinel.Scan[T]())
}

type deriver struct {
	records map[reflect.Type]*Record
}

// metadata returns the sentinel metadata of a nested type, or reads it by reflection if sentinel has not seen it.
func metadata(rt reflect.Type) sentinel.Metadata {
	if meta, ok := sentinel.Lookup(rt.String()); ok {
		return meta
	}

	meta := sentinel.Metadata{
		TypeName:    rt.Name(),
		PackageName: rt.PkgPath(),
		Fields:      make([]sentinel.FieldMetadata, 0, rt.NumField()),
	}
	for i := 0; i < rt.NumField(); i++ {
		sf := rt.Field(i)
		if !sf.IsExported() {
			continue
		}

		fm := sentinel.FieldMetadata{
			Name:        sf.Name,
			Type:        sf.Type.String(),
			ReflectType: sf.Type,
			Index:       sf.Index,
			Tags:        make(map[string]string),
		}
		if tag, ok := sf.Tag.Lookup(StructTag); ok {
			fm.Tags[StructTag] = tag
		}
		meta.Fields = append(meta.Fields, fm)
	}
	return meta
}

func (d *deriver) record(rt reflect.Type, meta sentinel.Metadata) (*Record, error) {
	if r, ok := d.records[rt]; ok {
		return r, nil
	}

	r := &Record{
		Name:   rt.Name(),
		GoType: rt,
	}
	d.records[rt] = r

	for _, fm := range meta.Fields {
		if len(fm.Index) != 1 || !exported(fm.Name) {
			continue
		}

		tag := fm.Tags[StructTag]
		if tag == "-" {
			continue
		}

		opts, err := parseTag(tag)
		if err != nil {
			return nil, encio.WithField(err, fm.Name)
		}

		f, err := d.field(fm.Name, fm.ReflectType, opts)
		if err != nil {
			return nil, encio.WithField(err, fm.Name)
		}
		r.Fields = append(r.Fields, f)
	}

	return r, nil
}

func exported(name string) bool {
	return name != "" && name[0] >= 'A' && name[0] <= 'Z'
}

// parseTag splits a tag into options. The first '=' separates key and value, so values may contain '='.
func parseTag(tag string) (map[string]string, error) {
	opts := make(map[string]string)
	for _, part := range strings.Split(tag, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		key, value, ok := strings.Cut(part, "=")
		key = strings.ToLower(strings.TrimSpace(key))
		if !ok {
			// Bare options are flags.
			value = "true"
		}
		if _, dup := opts[key]; dup {
			return nil, encio.NewError(encio.ErrBadSchema, fmt.Sprintf("option %q given twice", key), "")
		}
		opts[key] = strings.TrimSpace(value)
	}
	return opts, nil
}

func (d *deriver) field(goName string, ft reflect.Type, opts map[string]string) (*Field, error) {
	f := &Field{
		Name:   goName,
		GoName: goName,
		If:     opts["if"],
		Match:  opts["match"],
		Slice:  opts["slice"],
		Codec:  opts["codec"],
	}
	if name, ok := opts["name"]; ok {
		f.Name = name
	}

	var err error
	if f.Align, err = uintOpt(opts, "align"); err != nil {
		return nil, err
	}
	if f.PrefixBits, err = uintOpt(opts, "prefix"); err != nil {
		return nil, err
	}
	if f.PrefixOrder, err = bitbuf.ParseByteOrder(opts["prefixorder"]); err != nil {
		return nil, err
	}
	switch c := Compression(opts["compress"]); c {
	case None, Zstd, LZ4:
		f.Compression = c
	default:
		return nil, encio.NewError(encio.ErrBadSchema, fmt.Sprintf("unknown compression %q", c), "")
	}

	f.Type, err = d.typeOf(ft, opts)
	return f, err
}

func uintOpt(opts map[string]string, key string) (uint, error) {
	s, ok := opts[key]
	if !ok {
		return 0, nil
	}
	n, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, encio.NewError(encio.ErrBadSchema, fmt.Sprintf("%v=%q: %v", key, s, err), "")
	}
	return uint(n), nil
}

func (d *deriver) typeOf(ft reflect.Type, opts map[string]string) (*Type, error) {
	t := &Type{
		Bits:     opts["bits"],
		Count:    opts["count"],
		Offset:   opts["offset"],
		Length:   opts["length"],
		Encoding: opts["encoding"],
	}

	var err error
	if t.Order, err = bitbuf.ParseByteOrder(opts["order"]); err != nil {
		return nil, err
	}
	if lazy, ok := opts["lazy"]; ok {
		if t.Lazy, err = strconv.ParseBool(lazy); err != nil {
			return nil, encio.NewError(encio.ErrBadSchema, fmt.Sprintf("lazy=%q: %v", lazy, err), "")
		}
	}
	if term, ok := opts["terminator"]; ok {
		n, err := strconv.ParseUint(term, 0, 8)
		if err != nil {
			return nil, encio.NewError(encio.ErrBadSchema, fmt.Sprintf("terminator=%q: %v", term, err), "")
		}
		b := byte(n)
		t.Terminator = &b
	}

	if kind, ok := opts["kind"]; ok {
		if t.Kind, err = ParseKind(kind); err != nil {
			return nil, err
		}
	}

	for ft.Kind() == reflect.Ptr && ft.Elem().Kind() != reflect.Struct {
		ft = ft.Elem()
	}

	sized := func() {
		if t.Bits == "" {
			t.Bits = strconv.Itoa(ft.Bits())
		}
	}

	switch ft.Kind() {
	case reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		t.infer(Uint)
		sized()
	case reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		t.infer(Int)
		sized()
	case reflect.Uint, reflect.Int:
		if t.Bits == "" {
			return nil, encio.NewError(encio.ErrBadSchema, fmt.Sprintf("%v needs an explicit width", ft), "")
		}
		if ft.Kind() == reflect.Uint {
			t.infer(Uint)
		} else {
			t.infer(Int)
		}
	case reflect.Bool:
		t.infer(Bool)
	case reflect.Float32, reflect.Float64:
		t.infer(Float)
		sized()
	case reflect.String:
		t.infer(String)

	case reflect.Slice, reflect.Array:
		if ft.Elem().Kind() == reflect.Uint8 && t.Kind != KindList {
			t.infer(Bytes)
			if ft.Kind() == reflect.Array && t.Length == "" {
				t.Length = strconv.Itoa(ft.Len())
			}
			break
		}

		t.infer(KindList)
		if ft.Kind() == reflect.Array && t.Count == "" {
			t.Count = strconv.Itoa(ft.Len())
		}

		elemOpts := map[string]string{}
		for _, key := range []string{"bits", "order", "length", "encoding", "terminator"} {
			if v, ok := opts[key]; ok {
				elemOpts[key] = v
			}
		}
		t.Bits, t.Order, t.Length, t.Encoding, t.Terminator = "", bitbuf.BigEndian, "", "", nil
		if t.Elem, err = d.typeOf(ft.Elem(), elemOpts); err != nil {
			return nil, err
		}

	case reflect.Struct:
		t.infer(KindStruct)
		if t.Record, err = d.record(ft, metadata(ft)); err != nil {
			return nil, err
		}
	case reflect.Ptr:
		t.infer(KindStruct)
		if t.Record, err = d.record(ft.Elem(), metadata(ft.Elem())); err != nil {
			return nil, err
		}

	default:
		return nil, encio.NewError(encio.ErrBadType, fmt.Sprintf("no kind for %v", ft), "")
	}

	return t, nil
}

// infer sets the kind unless a tag chose one.
func (t *Type) infer(k Kind) {
	if t.Kind == Invalid {
		t.Kind = k
	}
}
