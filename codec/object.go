package codec

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/stewi1014/bitcodec/bitbuf"
	"github.com/stewi1014/bitcodec/encio"
	"github.com/stewi1014/bitcodec/expr"
	"github.com/stewi1014/bitcodec/schema"
)

func objectFactory(_ *schema.Field, t *schema.Type, ctx expr.Context, root Factory) (Codec, error) {
	if t.Kind != schema.KindStruct {
		return nil, nil
	}
	if t.Record == nil {
		return nil, encio.NewError(encio.ErrBadSchema, "struct type without a record", "")
	}
	return NewObject(t.Record, t, ctx, root)
}

// Binding pairs a field of a record with the codec and accessor for its value.
type Binding struct {
	Name     string
	Codec    Codec
	Accessor schema.Accessor

	// Condition is the field's presence condition, or nil if it is always present.
	Condition expr.Boolean
}

type injection struct {
	field    string
	value    expr.Value
	accessor schema.Accessor
}

// NewObject returns the codec of rec. ctx is the scope enclosing the record, and t the type the codec reports.
func NewObject(rec *schema.Record, t *schema.Type, ctx expr.Context, root Factory) (*Object, error) {
	if t == nil {
		t = schema.Of(rec)
	}

	o := &Object{
		rec: rec,
		t:   t,
	}

	scope := expr.NewScope(ctx)
	for _, f := range rec.All() {
		b, err := bind(rec, f, scope, root)
		if err != nil {
			return nil, encio.WithField(err, f.Name)
		}
		o.bindings = append(o.bindings, b)
		scope.Declare(f.Name, f.Type.Kind.ExprType())
	}

	for _, inj := range rec.Inject {
		v, err := expr.NewValue(scope, inj.Expr)
		if err != nil {
			return nil, encio.WithField(err, inj.Field)
		}
		a, err := rec.Accessor(inj.Field)
		if err != nil {
			return nil, encio.WithField(err, inj.Field)
		}
		o.inject = append(o.inject, injection{field: inj.Field, value: v, accessor: a})
	}

	if rec.Init != "" {
		call, err := initMethod(rec)
		if err != nil {
			return nil, err
		}
		o.init = call
	}

	return o, nil
}

func bind(rec *schema.Record, f *schema.Field, scope *expr.Scope, root Factory) (Binding, error) {
	if f.Type == nil {
		return Binding{}, encio.NewError(encio.ErrBadSchema, "field has no type", "")
	}

	c, err := create(f, f.Type, scope, root)
	if err != nil {
		return Binding{}, err
	}
	if c, err = Decorate(f, c, scope); err != nil {
		return Binding{}, err
	}

	a, err := rec.Accessor(f.Name)
	if err != nil {
		return Binding{}, err
	}

	b := Binding{Name: f.Name, Codec: c, Accessor: a}
	if cond, ok := c.(*Conditional); ok {
		b.Condition = cond.Cond
	}
	return b, nil
}

var errorType = reflect.TypeOf((*error)(nil)).Elem()

// initMethod finds rec's Init method on pointers to its Go type.
func initMethod(rec *schema.Record) (func(v any) error, error) {
	if rec.GoType == nil {
		return nil, encio.NewError(encio.ErrBadSchema, fmt.Sprintf("%v has init method %v but no Go type", rec, rec.Init), "")
	}

	m, ok := reflect.PointerTo(rec.GoType).MethodByName(rec.Init)
	if !ok {
		return nil, encio.NewError(encio.ErrBadSchema, fmt.Sprintf("*%v has no method %v", rec.GoType, rec.Init), "")
	}

	mt := m.Type
	if mt.NumIn() != 1 || mt.NumOut() > 1 || (mt.NumOut() == 1 && mt.Out(0) != errorType) {
		return nil, encio.NewError(encio.ErrBadSchema, fmt.Sprintf("%v.%v must be func() or func() error", rec.GoType, rec.Init), "")
	}

	return func(v any) error {
		out := m.Func.Call([]reflect.Value{reflect.ValueOf(v)})
		if len(out) == 0 || out[0].IsNil() {
			return nil
		}
		return out[0].Interface().(error)
	}, nil
}

// Object is the codec of a record.
// Fields are decoded in order into a value from the Builder, each in a scope holding the fields before it.
type Object struct {
	rec      *schema.Record
	t        *schema.Type
	bindings []Binding
	inject   []injection
	init     func(v any) error
}

// Record returns the record the codec handles.
func (o *Object) Record() *schema.Record { return o.rec }

// Bindings returns the record's bindings in wire order.
func (o *Object) Bindings() []Binding { return o.bindings }

// scope is the Resolver of one record value.
type scope struct {
	values map[string]any
	outer  expr.Resolver
}

func (s *scope) Get(name string) (any, error) {
	v, ok := s.values[name]
	if !ok {
		return nil, fmt.Errorf("%w: %v", expr.ErrNotFound, name)
	}
	return schema.Normalize(v), nil
}

func (s *scope) Outer() expr.Resolver { return s.outer }

// Decode implements Codec.
func (o *Object) Decode(buf *bitbuf.Buffer, r expr.Resolver, b Builder) (any, error) {
	v := b.New(o.rec)
	s := &scope{
		values: make(map[string]any, len(o.bindings)),
		outer:  r,
	}

	for _, bind := range o.bindings {
		fv, err := bind.Codec.Decode(buf, s, b)
		if err != nil {
			return nil, encio.WithField(err, bind.Name)
		}
		if err := bind.Accessor.Set(v, fv); err != nil {
			return nil, encio.WithField(err, bind.Name)
		}
		s.values[bind.Name] = fv
	}

	for _, inj := range o.inject {
		iv, err := inj.value.Value(s)
		if err != nil {
			return nil, encio.WithField(err, inj.field)
		}
		if err := inj.accessor.Set(v, iv); err != nil {
			return nil, encio.WithField(err, inj.field)
		}
	}

	if o.init != nil {
		if err := o.init(v); err != nil {
			return nil, hookError(o.rec, o.rec.Init, err)
		}
	}
	if o.rec.Hook != nil {
		if err := o.rec.Hook(v); err != nil {
			return nil, hookError(o.rec, "hook", err)
		}
	}

	return v, nil
}

// hookError wraps err with encio.ErrHook, keeping err visible to errors.Is.
func hookError(rec *schema.Record, name string, err error) error {
	if errors.Is(err, encio.ErrHook) {
		return err
	}
	return fmt.Errorf("%w: %v %v: %w", encio.ErrHook, rec, name, err)
}

// Encode implements Codec.
// Go records may be given by value or by pointer, and dynamic records as a *schema.Struct or a map of field values.
func (o *Object) Encode(v any, ch *bitbuf.Channel, r expr.Resolver) error {
	v, err := o.value(v)
	if err != nil {
		return err
	}

	s := &scope{
		values: make(map[string]any, len(o.bindings)),
		outer:  r,
	}

	for _, bind := range o.bindings {
		fv, err := bind.Accessor.Get(v)
		if err != nil {
			return encio.WithField(err, bind.Name)
		}
		s.values[bind.Name] = fv

		if err := bind.Codec.Encode(fv, ch, s); err != nil {
			return encio.WithField(err, bind.Name)
		}
	}
	return nil
}

// value returns v in a form the record's accessors take.
func (o *Object) value(v any) (any, error) {
	if v == nil {
		return nil, encio.NewError(encio.ErrNilPointer, fmt.Sprintf("encoding a nil %v", o.rec), "")
	}

	if m, ok := v.(map[string]any); ok && o.rec.GoType == nil {
		s := schema.NewStruct(o.rec)
		for k, e := range m {
			s.Set(k, e)
		}
		return s, nil
	}

	if !o.rec.Owns(v) {
		return nil, encio.NewError(encio.ErrBadType, fmt.Sprintf("%T is not a %v", v, o.rec), "")
	}

	rv := reflect.ValueOf(v)
	switch {
	case rv.Kind() == reflect.Struct:
		p := reflect.New(rv.Type())
		p.Elem().Set(rv)
		return p.Interface(), nil
	case rv.Kind() == reflect.Ptr && rv.IsNil():
		return nil, encio.NewError(encio.ErrNilPointer, fmt.Sprintf("encoding a nil %v", o.rec), "")
	}
	return v, nil
}

// Size implements Codec.
// It is the sum of the field sizes, if they can all be known from the enclosing scope.
func (o *Object) Size() expr.Integer {
	sizes := make([]expr.Integer, len(o.bindings))
	for i, b := range o.bindings {
		size := b.Codec.Size()
		if size == nil {
			return nil
		}
		sizes[i] = expr.Lift(size)
	}
	return expr.Sum(sizes...)
}

// Type implements Codec.
func (o *Object) Type() *schema.Type { return o.t }
