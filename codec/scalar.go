package codec

import (
	"fmt"
	"math"
	"reflect"

	"github.com/stewi1014/bitcodec/bitbuf"
	"github.com/stewi1014/bitcodec/encio"
	"github.com/stewi1014/bitcodec/expr"
	"github.com/stewi1014/bitcodec/schema"
)

// newWidth compiles a bit width. A constant width must be between 1 and 64.
func newWidth(ctx expr.Context, text, def string) (expr.Integer, error) {
	if text == "" {
		text = def
	}
	if text == "" {
		return nil, encio.NewError(encio.ErrBadSchema, "missing bit width", "")
	}

	w, err := expr.NewInteger(ctx, text)
	if err != nil {
		return nil, err
	}
	if n, ok := expr.Constant(w); ok && (n < 1 || n > bitbuf.MaxBits) {
		return nil, encio.NewError(encio.ErrBadSchema, fmt.Sprintf("width %v is not between 1 and %v bits", n, bitbuf.MaxBits), "")
	}
	return w, nil
}

// width evaluates a bit width.
func width(w expr.Integer, r expr.Resolver) (uint, error) {
	n, err := w.Int(r)
	if err != nil {
		return 0, err
	}
	if n < 1 || n > bitbuf.MaxBits {
		return 0, encio.NewError(encio.ErrMismatch, fmt.Sprintf("%v gave width %v", w, n), "")
	}
	return uint(n), nil
}

func toUint64(v any) (uint64, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return rv.Uint(), true
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if rv.Int() < 0 {
			return 0, false
		}
		return uint64(rv.Int()), true
	}
	return 0, false
}

func toInt64(v any) (int64, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		if rv.Uint() > math.MaxInt64 {
			return 0, false
		}
		return int64(rv.Uint()), true
	}
	return 0, false
}

func badType(v any, want string) error {
	return encio.NewError(encio.ErrBadType, fmt.Sprintf("cannot encode %T as %v", v, want), "")
}

func numericFactory(_ *schema.Field, t *schema.Type, ctx expr.Context, _ Factory) (Codec, error) {
	if t.Kind != schema.Uint && t.Kind != schema.Int {
		return nil, nil
	}

	bits, err := newWidth(ctx, t.Bits, "")
	if err != nil {
		return nil, err
	}
	return &Numeric{t: t, bits: bits, signed: t.Kind == schema.Int}, nil
}

// Numeric is a codec for integers of 1 to 64 bits.
// Unsigned values decode to uint64 and signed values to int64.
type Numeric struct {
	t      *schema.Type
	bits   expr.Integer
	signed bool
}

// Decode implements Codec.
func (c *Numeric) Decode(buf *bitbuf.Buffer, r expr.Resolver, _ Builder) (any, error) {
	n, err := width(c.bits, r)
	if err != nil {
		return nil, err
	}

	if c.signed {
		return buf.ReadSigned(n, c.t.Order)
	}
	return buf.ReadUnsigned(n, c.t.Order)
}

// Encode implements Codec.
func (c *Numeric) Encode(v any, ch *bitbuf.Channel, r expr.Resolver) error {
	n, err := width(c.bits, r)
	if err != nil {
		return err
	}

	if c.signed {
		x, ok := toInt64(v)
		if !ok {
			return badType(v, "a signed integer")
		}
		if n < 64 && (x < -(1<<(n-1)) || x > 1<<(n-1)-1) {
			return encio.NewError(encio.ErrMismatch, fmt.Sprintf("%v does not fit in %v bits", x, n), "")
		}
		return ch.Write(n, uint64(x)&mask(n), c.t.Order)
	}

	u, ok := toUint64(v)
	if !ok {
		return badType(v, "an unsigned integer")
	}
	if n < 64 && u>>n != 0 {
		return encio.NewError(encio.ErrMismatch, fmt.Sprintf("%v does not fit in %v bits", u, n), "")
	}
	return ch.Write(n, u, c.t.Order)
}

func mask(n uint) uint64 {
	if n >= 64 {
		return math.MaxUint64
	}
	return 1<<n - 1
}

// Size implements Codec.
func (c *Numeric) Size() expr.Integer { return c.bits }

// Type implements Codec.
func (c *Numeric) Type() *schema.Type { return c.t }

func boolFactory(_ *schema.Field, t *schema.Type, ctx expr.Context, _ Factory) (Codec, error) {
	if t.Kind != schema.Bool {
		return nil, nil
	}

	bits, err := newWidth(ctx, t.Bits, "1")
	if err != nil {
		return nil, err
	}
	return &Bool{t: t, bits: bits}, nil
}

// Bool is a codec for booleans. Any non-zero value is true; true is written as 1.
type Bool struct {
	t    *schema.Type
	bits expr.Integer
}

// Decode implements Codec.
func (c *Bool) Decode(buf *bitbuf.Buffer, r expr.Resolver, _ Builder) (any, error) {
	n, err := width(c.bits, r)
	if err != nil {
		return nil, err
	}

	v, err := buf.ReadUnsigned(n, c.t.Order)
	if err != nil {
		return nil, err
	}
	return v != 0, nil
}

// Encode implements Codec.
func (c *Bool) Encode(v any, ch *bitbuf.Channel, r expr.Resolver) error {
	n, err := width(c.bits, r)
	if err != nil {
		return err
	}

	b, ok := v.(bool)
	if !ok {
		return badType(v, "a bool")
	}
	var u uint64
	if b {
		u = 1
	}
	return ch.Write(n, u, c.t.Order)
}

// Size implements Codec.
func (c *Bool) Size() expr.Integer { return c.bits }

// Type implements Codec.
func (c *Bool) Type() *schema.Type { return c.t }

func floatFactory(_ *schema.Field, t *schema.Type, _ expr.Context, _ Factory) (Codec, error) {
	if t.Kind != schema.Float {
		return nil, nil
	}

	switch t.Bits {
	case "", "32":
		return &Float{t: t, bits: 32}, nil
	case "64":
		return &Float{t: t, bits: 64}, nil
	}
	return nil, encio.NewError(encio.ErrBadSchema, fmt.Sprintf("floats are 32 or 64 bits, not %q", t.Bits), "")
}

// Float is a codec for IEEE-754 floats. Values decode to float64.
type Float struct {
	t    *schema.Type
	bits uint
}

// Decode implements Codec.
func (c *Float) Decode(buf *bitbuf.Buffer, _ expr.Resolver, _ Builder) (any, error) {
	u, err := buf.ReadUnsigned(c.bits, c.t.Order)
	if err != nil {
		return nil, err
	}

	if c.bits == 32 {
		return float64(math.Float32frombits(uint32(u))), nil
	}
	return math.Float64frombits(u), nil
}

// Encode implements Codec.
func (c *Float) Encode(v any, ch *bitbuf.Channel, _ expr.Resolver) error {
	var f float64
	switch x := v.(type) {
	case float64:
		f = x
	case float32:
		f = float64(x)
	default:
		i, ok := toInt64(v)
		if !ok {
			return badType(v, "a float")
		}
		f = float64(i)
	}

	if c.bits == 32 {
		return ch.Write(32, uint64(math.Float32bits(float32(f))), c.t.Order)
	}
	return ch.Write(64, math.Float64bits(f), c.t.Order)
}

// Size implements Codec.
func (c *Float) Size() expr.Integer { return expr.Const(int64(c.bits)) }

// Type implements Codec.
func (c *Float) Type() *schema.Type { return c.t }

func enumFactory(_ *schema.Field, t *schema.Type, ctx expr.Context, _ Factory) (Codec, error) {
	if t.Kind != schema.Enum {
		return nil, nil
	}
	if len(t.Enum) == 0 {
		return nil, encio.NewError(encio.ErrBadSchema, "enum has no values", "")
	}

	bits, err := newWidth(ctx, t.Bits, "")
	if err != nil {
		return nil, err
	}

	c := &Enum{
		t:      t,
		bits:   bits,
		values: make(map[string]int64, len(t.Enum)),
	}
	for v, name := range t.Enum {
		if _, dup := c.values[name]; dup {
			return nil, encio.NewError(encio.ErrBadSchema, fmt.Sprintf("enum name %q is used twice", name), "")
		}
		c.values[name] = v
	}
	return c, nil
}

// Enum is a codec for named integers. Values decode to their name.
type Enum struct {
	t      *schema.Type
	bits   expr.Integer
	values map[string]int64
}

// Decode implements Codec.
func (c *Enum) Decode(buf *bitbuf.Buffer, r expr.Resolver, _ Builder) (any, error) {
	n, err := width(c.bits, r)
	if err != nil {
		return nil, err
	}

	u, err := buf.ReadUnsigned(n, c.t.Order)
	if err != nil {
		return nil, err
	}

	name, ok := c.t.Enum[int64(u)]
	if !ok {
		return nil, encio.NewError(encio.ErrMismatch, fmt.Sprintf("%v is not an enum value", u), "")
	}
	return name, nil
}

// Encode implements Codec.
func (c *Enum) Encode(v any, ch *bitbuf.Channel, r expr.Resolver) error {
	n, err := width(c.bits, r)
	if err != nil {
		return err
	}

	var value int64
	if name, ok := v.(string); ok {
		if value, ok = c.values[name]; !ok {
			return encio.NewError(encio.ErrMismatch, fmt.Sprintf("%q is not an enum name", name), "")
		}
	} else {
		i, ok := toInt64(v)
		if !ok {
			return badType(v, "an enum")
		}
		if _, ok := c.t.Enum[i]; !ok {
			return encio.NewError(encio.ErrMismatch, fmt.Sprintf("%v is not an enum value", i), "")
		}
		value = i
	}

	return ch.Write(n, uint64(value)&mask(n), c.t.Order)
}

// Size implements Codec.
func (c *Enum) Size() expr.Integer { return c.bits }

// Type implements Codec.
func (c *Enum) Type() *schema.Type { return c.t }
