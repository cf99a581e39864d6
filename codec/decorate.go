package codec

import (
	"bytes"
	"fmt"
	"reflect"

	"github.com/google/cel-go/common/types/ref"

	"github.com/stewi1014/bitcodec/bitbuf"
	"github.com/stewi1014/bitcodec/encio"
	"github.com/stewi1014/bitcodec/expr"
	"github.com/stewi1014/bitcodec/schema"
)

// Decorate wraps the codec of field f with the field's options.
// From the inside out they are Match, Slice or LengthPrefix, Align and Conditional.
// ctx is the record scope before f is declared.
func Decorate(f *schema.Field, c Codec, ctx expr.Context) (Codec, error) {
	if f.Match != "" {
		m, err := NewMatch(f.Name, f.Type.Kind.ExprType(), f.Match, c, ctx)
		if err != nil {
			return nil, err
		}
		c = m
	}

	if f.Compression != schema.None && f.PrefixBits == 0 {
		return nil, encio.NewError(encio.ErrBadSchema, fmt.Sprintf("%v compression needs a length prefix", f.Compression), "")
	}
	switch {
	case f.Slice != "" && f.PrefixBits != 0:
		return nil, encio.NewError(encio.ErrBadSchema, "a field cannot have both a slice and a length prefix", "")
	case f.Slice != "":
		n, err := expr.NewInteger(ctx, f.Slice)
		if err != nil {
			return nil, err
		}
		c = &Slice{inner: c, bits: n}
	case f.PrefixBits != 0:
		if f.PrefixBits > bitbuf.MaxBits {
			return nil, encio.NewError(encio.ErrBadSchema, fmt.Sprintf("%v bit length prefix is too wide", f.PrefixBits), "")
		}
		c = &LengthPrefix{inner: c, bits: f.PrefixBits, order: f.PrefixOrder, compression: f.Compression}
	}

	if f.Align > 1 {
		c = &Align{inner: c, boundary: f.Align}
	}

	if f.If != "" {
		cond, err := expr.NewBoolean(ctx, f.If)
		if err != nil {
			return nil, err
		}
		c = &Conditional{inner: c, Cond: cond, zero: zero(f.Type)}
	}

	return c, nil
}

// zero returns the value an absent field of type t holds.
func zero(t *schema.Type) any {
	switch t.Kind {
	case schema.Uint:
		return uint64(0)
	case schema.Int:
		return int64(0)
	case schema.Bool:
		return false
	case schema.Float:
		return float64(0)
	case schema.String:
		return ""
	}
	return nil
}

// NewMatch returns a codec checking that values of c equal text.
// The expression sees the value being checked under name.
func NewMatch(name string, t expr.Type, text string, c Codec, ctx expr.Context) (*Match, error) {
	want, err := expr.NewValue(expr.With(ctx, name, t), text)
	if err != nil {
		return nil, err
	}
	return &Match{inner: c, name: name, want: want}, nil
}

// Match fails with encio.ErrMismatch when a value does not equal an expected value.
type Match struct {
	inner Codec
	name  string
	want  expr.Value
}

func (m *Match) check(v any, r expr.Resolver) error {
	got := schema.Normalize(v)
	want, err := m.want.Value(expr.Bind(r, m.name, got))
	if err != nil {
		return err
	}

	if !equal(got, native(want)) {
		return encio.NewError(encio.ErrMismatch, fmt.Sprintf("%v is %v, wanted %v (%v)", m.name, got, want, m.want), "")
	}
	return nil
}

// native converts a value produced by an expression to the form Normalize gives.
func native(v any) any {
	switch val := v.(type) {
	case ref.Val:
		return native(val.Value())
	case []ref.Val:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = native(e)
		}
		return out
	}
	return expr.Native(v)
}

func equal(a, b any) bool {
	if ab, ok := a.([]byte); ok {
		bb, ok := b.([]byte)
		return ok && bytes.Equal(ab, bb)
	}
	return reflect.DeepEqual(a, b)
}

// Decode implements Codec.
func (m *Match) Decode(buf *bitbuf.Buffer, r expr.Resolver, b Builder) (any, error) {
	v, err := m.inner.Decode(buf, r, b)
	if err != nil {
		return nil, err
	}
	if err := m.check(v, r); err != nil {
		return nil, err
	}
	return v, nil
}

// Encode implements Codec.
func (m *Match) Encode(v any, ch *bitbuf.Channel, r expr.Resolver) error {
	if err := m.check(v, r); err != nil {
		return err
	}
	return m.inner.Encode(v, ch, r)
}

// Size implements Codec.
func (m *Match) Size() expr.Integer { return m.inner.Size() }

// Type implements Codec.
func (m *Match) Type() *schema.Type { return m.inner.Type() }

// Slice bounds a codec to a number of bits. The cursor always moves past the whole slice.
type Slice struct {
	inner Codec
	bits  expr.Integer
}

func (s *Slice) length(r expr.Resolver) (uint64, error) {
	n, err := s.bits.Int(r)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, encio.NewError(encio.ErrMismatch, fmt.Sprintf("%v gave negative slice %v", s.bits, n), "")
	}
	return uint64(n), nil
}

// Decode implements Codec.
func (s *Slice) Decode(buf *bitbuf.Buffer, r expr.Resolver, b Builder) (any, error) {
	n, err := s.length(r)
	if err != nil {
		return nil, err
	}

	sub, err := buf.Slice(n)
	if err != nil {
		return nil, err
	}
	return s.inner.Decode(sub, r, b)
}

// Encode implements Codec.
// Content shorter than the slice is padded with zero bits.
func (s *Slice) Encode(v any, ch *bitbuf.Channel, r expr.Resolver) error {
	n, err := s.length(r)
	if err != nil {
		return err
	}

	tmp := bitbuf.NewChannelAt(ch.Offset())
	defer tmp.Close()
	if err := s.inner.Encode(v, tmp, r); err != nil {
		return err
	}
	if tmp.Position() > n {
		return encio.NewError(encio.ErrMismatch, fmt.Sprintf("%v bits do not fit in a %v bit slice", tmp.Position(), n), "")
	}

	ch.WriteChannel(tmp)
	return pad(ch, n-tmp.Position())
}

func pad(ch *bitbuf.Channel, n uint64) error {
	for n > 0 {
		take := uint64(bitbuf.MaxBits)
		if n < take {
			take = n
		}
		if err := ch.WriteBits(uint(take), 0); err != nil {
			return err
		}
		n -= take
	}
	return nil
}

// Size implements Codec.
func (s *Slice) Size() expr.Integer { return s.bits }

// Type implements Codec.
func (s *Slice) Type() *schema.Type { return s.inner.Type() }

// LengthPrefix bounds a codec by a count of bytes read immediately before it.
// The bytes may be compressed, in which case the count is of compressed bytes.
type LengthPrefix struct {
	inner       Codec
	bits        uint
	order       bitbuf.ByteOrder
	compression schema.Compression
}

// Decode implements Codec.
func (l *LengthPrefix) Decode(buf *bitbuf.Buffer, r expr.Resolver, b Builder) (any, error) {
	n, err := buf.ReadUnsigned(l.bits, l.order)
	if err != nil {
		return nil, err
	}
	if n > uint64(encio.TooBig) {
		return nil, encio.NewError(encio.ErrUnderflow, fmt.Sprintf("length prefix of %v bytes is too big", n), "")
	}

	if l.compression == schema.None {
		sub, err := buf.Slice(n * 8)
		if err != nil {
			return nil, err
		}
		return l.inner.Decode(sub, r, b)
	}

	packed, err := buf.ReadBytes(int(n))
	if err != nil {
		return nil, err
	}
	data, err := decompress(l.compression, packed)
	if err != nil {
		return nil, err
	}
	return l.inner.Decode(bitbuf.New(data), r, b)
}

// Encode implements Codec.
// The content is padded to a whole byte.
func (l *LengthPrefix) Encode(v any, ch *bitbuf.Channel, r expr.Resolver) error {
	// Compressed content is decoded from a buffer of its own.
	origin := ch.Offset() + uint64(l.bits)
	if l.compression != schema.None {
		origin = 0
	}

	tmp := bitbuf.NewChannelAt(origin)
	defer tmp.Close()
	if err := l.inner.Encode(v, tmp, r); err != nil {
		return err
	}
	if rem := tmp.Position() % 8; rem != 0 {
		if err := pad(tmp, 8-rem); err != nil {
			return err
		}
	}

	data, err := compress(l.compression, tmp.Bytes())
	if err != nil {
		return err
	}

	n := uint64(len(data))
	if l.bits < 64 && n>>l.bits != 0 {
		return encio.NewError(encio.ErrMismatch, fmt.Sprintf("%v bytes do not fit in a %v bit length prefix", n, l.bits), "")
	}
	if err := ch.Write(l.bits, n, l.order); err != nil {
		return err
	}
	ch.WriteBytes(data)
	return nil
}

// Size implements Codec.
func (l *LengthPrefix) Size() expr.Integer { return nil }

// Type implements Codec.
func (l *LengthPrefix) Type() *schema.Type { return l.inner.Type() }

// Align moves the cursor to a bit boundary after its codec.
type Align struct {
	inner    Codec
	boundary uint
}

// Decode implements Codec.
func (a *Align) Decode(buf *bitbuf.Buffer, r expr.Resolver, b Builder) (any, error) {
	v, err := a.inner.Decode(buf, r, b)
	if err != nil {
		return nil, err
	}
	return v, buf.Align(a.boundary)
}

// Encode implements Codec.
func (a *Align) Encode(v any, ch *bitbuf.Channel, r expr.Resolver) error {
	if err := a.inner.Encode(v, ch, r); err != nil {
		return err
	}
	ch.Align(a.boundary)
	return nil
}

// Size implements Codec.
// Padding depends on where the value starts.
func (a *Align) Size() expr.Integer { return nil }

// Type implements Codec.
func (a *Align) Type() *schema.Type { return a.inner.Type() }

// Conditional guards a codec with a condition. When it is false the value is absent;
// nothing is read or written, and decoding gives the type's zero value.
type Conditional struct {
	inner Codec
	Cond  expr.Boolean
	zero  any
}

// Decode implements Codec.
func (c *Conditional) Decode(buf *bitbuf.Buffer, r expr.Resolver, b Builder) (any, error) {
	ok, err := c.Cond.Bool(r)
	if err != nil {
		return nil, err
	}
	if !ok {
		return c.zero, nil
	}
	return c.inner.Decode(buf, r, b)
}

// Encode implements Codec.
func (c *Conditional) Encode(v any, ch *bitbuf.Channel, r expr.Resolver) error {
	ok, err := c.Cond.Bool(r)
	if err != nil || !ok {
		return err
	}
	return c.inner.Encode(v, ch, r)
}

// Size implements Codec.
func (c *Conditional) Size() expr.Integer {
	if c.Cond.Parameterized() {
		return nil
	}
	if ok, err := c.Cond.Bool(nil); err != nil || !ok {
		return expr.Const(0)
	}
	return c.inner.Size()
}

// Type implements Codec.
func (c *Conditional) Type() *schema.Type { return c.inner.Type() }
