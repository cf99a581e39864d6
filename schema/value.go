package schema

import (
	"fmt"
	"reflect"

	"github.com/stewi1014/bitcodec/encio"
	"github.com/stewi1014/bitcodec/expr"
)

// NewStruct returns an empty Struct of rec.
func NewStruct(rec *Record) *Struct {
	return &Struct{
		Record: rec,
		values: make(map[string]any, len(rec.Fields)),
	}
}

// Struct is a record value without a Go type.
type Struct struct {
	Record *Record
	values map[string]any
}

// Get returns the value of the named field, or nil if it is not set.
func (s *Struct) Get(name string) any {
	return s.values[name]
}

// Set sets the named field.
func (s *Struct) Set(name string, v any) {
	s.values[name] = v
}

// Map returns the struct as a map, converting nested structs and lists.
// Lazy list elements that fail to decode are nil.
func (s *Struct) Map() map[string]any {
	m := make(map[string]any, len(s.values))
	for k, v := range s.values {
		m[k] = plain(v)
	}
	return m
}

func plain(v any) any {
	switch val := v.(type) {
	case *Struct:
		if val == nil {
			return nil
		}
		return val.Map()
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = plain(e)
		}
		return out
	case List:
		out := make([]any, val.Len())
		for i := range out {
			e, _ := val.At(i)
			out[i] = plain(e)
		}
		return out
	}
	return v
}

// List is a list whose elements are produced on demand.
type List interface {
	Len() int
	// At returns element i, decoding it on first access.
	At(i int) (any, error)
}

// Elements returns the elements of a list value; a []any, a List, a Go slice or array.
func Elements(v any) ([]any, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case []any:
		return val, nil
	case List:
		out := make([]any, val.Len())
		for i := range out {
			e, err := val.At(i)
			if err != nil {
				return nil, err
			}
			out[i] = e
		}
		return out, nil
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Ptr && !rv.IsNil() && rv.Elem().Kind() == reflect.Array {
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, encio.NewError(encio.ErrBadType, fmt.Sprintf("%T is not a list", v), "")
	}

	out := make([]any, rv.Len())
	for i := range out {
		e := rv.Index(i)
		if e.Kind() == reflect.Struct && e.CanAddr() {
			out[i] = e.Addr().Interface()
			continue
		}
		out[i] = e.Interface()
	}
	return out, nil
}

// Normalize returns v as expressions see it.
// Integers become int64, records become maps from field name and lists become []any.
func Normalize(v any) any {
	switch val := v.(type) {
	case *Struct:
		if val == nil {
			return nil
		}
		m := make(map[string]any, len(val.values))
		for k, e := range val.values {
			m[k] = Normalize(e)
		}
		return m
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = Normalize(e)
		}
		return out
	case []byte, string, bool, nil:
		return v
	case List:
		elems, err := Elements(val)
		if err != nil {
			return nil
		}
		return Normalize(elems)
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr:
		if rv.IsNil() {
			return nil
		}
		if rv.Elem().Kind() == reflect.Struct {
			return normalizeStruct(rv.Elem())
		}
		return Normalize(rv.Elem().Interface())
	case reflect.Struct:
		return normalizeStruct(rv)
	case reflect.Slice, reflect.Array:
		elems, err := Elements(v)
		if err != nil {
			return nil
		}
		return Normalize(elems)
	}
	return expr.Native(v)
}

func normalizeStruct(rv reflect.Value) map[string]any {
	if rec, ok := goRecords.Load(rv.Type()); ok {
		r := rec.(*Record)
		m := make(map[string]any, len(r.accessors))
		for name, a := range r.accessors {
			if ra, ok := a.(*reflectAccessor); ok {
				m[name] = Normalize(fieldValue(rv.FieldByIndex(ra.index)))
			}
		}
		return m
	}

	m := make(map[string]any)
	for i := 0; i < rv.NumField(); i++ {
		sf := rv.Type().Field(i)
		if !sf.IsExported() {
			continue
		}
		m[sf.Name] = Normalize(fieldValue(rv.Field(i)))
	}
	return m
}

// Accessor gets and sets one field of a record value.
type Accessor interface {
	Get(rec any) (any, error)
	Set(rec any, v any) error
}

type dynamicAccessor string

func (a dynamicAccessor) Get(rec any) (any, error) {
	s, ok := rec.(*Struct)
	if !ok || s == nil {
		return nil, encio.NewError(encio.ErrBadType, fmt.Sprintf("getting %v from %T, wanted *schema.Struct", string(a), rec), "")
	}
	return s.values[string(a)], nil
}

func (a dynamicAccessor) Set(rec any, v any) error {
	s, ok := rec.(*Struct)
	if !ok || s == nil {
		return encio.NewError(encio.ErrBadType, fmt.Sprintf("setting %v on %T, wanted *schema.Struct", string(a), rec), "")
	}
	s.values[string(a)] = v
	return nil
}

func newReflectAccessor(ty reflect.Type, name string) (*reflectAccessor, error) {
	sf, ok := ty.FieldByName(name)
	if !ok {
		return nil, encio.NewError(encio.ErrBadSchema, fmt.Sprintf("%v has no field %v", ty, name), "")
	}
	if !sf.IsExported() {
		return nil, encio.NewError(encio.ErrBadSchema, fmt.Sprintf("%v.%v is not exported", ty, name), "")
	}
	return &reflectAccessor{ty: ty, name: name, index: sf.Index}, nil
}

type reflectAccessor struct {
	ty    reflect.Type
	name  string
	index []int
}

func (a *reflectAccessor) field(rec any) (reflect.Value, error) {
	rv := reflect.ValueOf(rec)
	if rv.Kind() != reflect.Ptr || rv.Type().Elem() != a.ty {
		return reflect.Value{}, encio.NewError(encio.ErrBadType, fmt.Sprintf("accessing %v on %T, wanted *%v", a.name, rec, a.ty), "")
	}
	if rv.IsNil() {
		return reflect.Value{}, encio.NewError(encio.ErrNilPointer, fmt.Sprintf("accessing %v", a.name), "")
	}
	return rv.Elem().FieldByIndex(a.index), nil
}

func (a *reflectAccessor) Get(rec any) (any, error) {
	f, err := a.field(rec)
	if err != nil {
		return nil, err
	}
	return fieldValue(f), nil
}

// fieldValue returns nested structs by pointer so they can be encoded as records.
func fieldValue(f reflect.Value) any {
	switch {
	case f.Kind() == reflect.Struct && f.CanAddr():
		return f.Addr().Interface()
	case f.Kind() == reflect.Ptr && f.IsNil():
		return nil
	case f.Kind() == reflect.Interface && f.IsNil():
		return nil
	}
	return f.Interface()
}

func (a *reflectAccessor) Set(rec any, v any) error {
	f, err := a.field(rec)
	if err != nil {
		return err
	}
	if err := Assign(f, v); err != nil {
		return fmt.Errorf("setting %v.%v: %w", a.ty, a.name, err)
	}
	return nil
}

// Assign stores a decoded value in dst, converting it to dst's type.
func Assign(dst reflect.Value, v any) error {
	if v == nil {
		dst.Set(reflect.Zero(dst.Type()))
		return nil
	}

	src := reflect.ValueOf(v)
	dt := dst.Type()

	switch {
	case src.Type().AssignableTo(dt):
		dst.Set(src)
		return nil

	case src.Kind() == reflect.Ptr && src.Type().Elem() == dt:
		if src.IsNil() {
			dst.Set(reflect.Zero(dt))
		} else {
			dst.Set(src.Elem())
		}
		return nil

	case dt.Kind() == reflect.Ptr:
		n := reflect.New(dt.Elem())
		if err := Assign(n.Elem(), v); err != nil {
			return err
		}
		dst.Set(n)
		return nil

	case numeric(src.Kind()) && numeric(dt.Kind()),
		src.Kind() == reflect.Bool && dt.Kind() == reflect.Bool,
		src.Kind() == reflect.String && dt.Kind() == reflect.String:
		dst.Set(src.Convert(dt))
		return nil

	case src.Kind() == reflect.Slice && src.Type().Elem().Kind() == reflect.Uint8 && dt.Kind() == reflect.Array && dt.Elem().Kind() == reflect.Uint8:
		reflect.Copy(dst, src)
		return nil

	case dt.Kind() == reflect.Slice || dt.Kind() == reflect.Array:
		elems, err := Elements(v)
		if err != nil {
			return err
		}

		if dt.Kind() == reflect.Array {
			if len(elems) != dt.Len() {
				return encio.NewError(encio.ErrBadType, fmt.Sprintf("%v elements into %v", len(elems), dt), "")
			}
			for i, e := range elems {
				if err := Assign(dst.Index(i), e); err != nil {
					return err
				}
			}
			return nil
		}

		s := reflect.MakeSlice(dt, len(elems), len(elems))
		for i, e := range elems {
			if err := Assign(s.Index(i), e); err != nil {
				return err
			}
		}
		dst.Set(s)
		return nil
	}

	return encio.NewError(encio.ErrBadType, fmt.Sprintf("cannot assign %T to %v", v, dt), "")
}

func numeric(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}
