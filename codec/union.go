package codec

import (
	"fmt"

	"github.com/stewi1014/bitcodec/bitbuf"
	"github.com/stewi1014/bitcodec/encio"
	"github.com/stewi1014/bitcodec/expr"
	"github.com/stewi1014/bitcodec/schema"
)

type candidate struct {
	rec   *schema.Record
	codec *Object
}

func unionFactory(_ *schema.Field, t *schema.Type, ctx expr.Context, root Factory) (Codec, error) {
	if t.Kind != schema.Union {
		return nil, nil
	}
	if len(t.Candidates) == 0 {
		return nil, encio.NewError(encio.ErrBadSchema, "union without candidates", "")
	}

	u := &Union{t: t}
	for i, rec := range t.Candidates {
		if rec.Tag == nil {
			return nil, encio.NewError(encio.ErrBadSchema, fmt.Sprintf("union candidate %v has no tag", rec), "")
		}
		if i == 0 {
			u.bits, u.order = rec.Tag.Bits, rec.Tag.Order
			if u.bits == 0 || u.bits > bitbuf.MaxBits {
				return nil, encio.NewError(encio.ErrBadSchema, fmt.Sprintf("union tags of %v bits", u.bits), "")
			}
		}
		if rec.Tag.Bits != u.bits || rec.Tag.Order != u.order {
			return nil, encio.NewError(
				encio.ErrBadSchema,
				fmt.Sprintf("candidate %v has a %v bit %v tag, but %v has a %v bit %v tag", rec, rec.Tag.Bits, rec.Tag.Order, t.Candidates[0], u.bits, u.order),
				"",
			)
		}

		c, err := NewObject(rec, nil, ctx, root)
		if err != nil {
			return nil, encio.WithField(err, rec.String())
		}
		u.candidates = append(u.candidates, candidate{rec: rec, codec: c})
	}
	return u, nil
}

// Union is a record chosen by a tag read before it.
// The first candidate, in declaration order, whose tag equals the read value is decoded.
type Union struct {
	t          *schema.Type
	bits       uint
	order      bitbuf.ByteOrder
	candidates []candidate
}

// Decode implements Codec.
func (u *Union) Decode(buf *bitbuf.Buffer, r expr.Resolver, b Builder) (any, error) {
	tag, err := buf.ReadUnsigned(u.bits, u.order)
	if err != nil {
		return nil, err
	}

	for _, c := range u.candidates {
		if c.rec.Tag.Value == tag {
			return c.codec.Decode(buf, r, b)
		}
	}
	return nil, encio.NewError(encio.ErrNoMatch, fmt.Sprintf("no union candidate has tag %v", tag), "")
}

// Encode implements Codec.
// The candidate is the first whose record v is a value of.
func (u *Union) Encode(v any, ch *bitbuf.Channel, r expr.Resolver) error {
	for _, c := range u.candidates {
		if !c.rec.Owns(v) {
			continue
		}
		if err := ch.Write(u.bits, c.rec.Tag.Value, u.order); err != nil {
			return err
		}
		return c.codec.Encode(v, ch, r)
	}
	return encio.NewError(encio.ErrBadType, fmt.Sprintf("%T is not a value of any union candidate", v), "")
}

// Size implements Codec.
// It is only known if every candidate has the same constant size.
func (u *Union) Size() expr.Integer {
	var size int64
	for i, c := range u.candidates {
		n, ok := constant(c.codec.Size())
		if !ok || (i > 0 && n != size) {
			return nil
		}
		size = n
	}
	return expr.Const(int64(u.bits) + size)
}

// Type implements Codec.
func (u *Union) Type() *schema.Type { return u.t }

type alternative struct {
	cond   expr.Boolean
	rec    *schema.Record
	codec  *Object
	prefix uint64
}

func selectFactory(_ *schema.Field, t *schema.Type, ctx expr.Context, root Factory) (Codec, error) {
	if t.Kind != schema.Select {
		return nil, nil
	}
	sel := t.Select
	if sel == nil {
		return nil, encio.NewError(encio.ErrBadSchema, "select without a selector", "")
	}
	if sel.PrefixBits > bitbuf.MaxBits {
		return nil, encio.NewError(encio.ErrBadSchema, fmt.Sprintf("%v bit select prefix is too wide", sel.PrefixBits), "")
	}

	s := &Select{t: t, bits: sel.PrefixBits, order: sel.PrefixOrder}
	if s.bits > 0 {
		ctx = expr.With(ctx, expr.Prefix, expr.Int)
	}

	for i, alt := range sel.Alternatives {
		if alt.Record == nil {
			return nil, encio.NewError(encio.ErrBadSchema, fmt.Sprintf("select alternative %v has no record", i), "")
		}
		cond, err := expr.NewBoolean(ctx, alt.Condition)
		if err != nil {
			return nil, err
		}
		c, err := NewObject(alt.Record, nil, ctx, root)
		if err != nil {
			return nil, encio.WithField(err, alt.Record.String())
		}
		s.alternatives = append(s.alternatives, alternative{cond: cond, rec: alt.Record, codec: c, prefix: alt.Prefix})
	}

	if sel.Default != nil {
		c, err := NewObject(sel.Default, nil, ctx, root)
		if err != nil {
			return nil, encio.WithField(err, sel.Default.String())
		}
		s.def = c
	}
	return s, nil
}

// Select is a record chosen by the first of a list of conditions to hold.
// An optional prefix is read first and bound to prefix for the conditions.
// If no condition holds the default record is decoded, and without a default the value is nil.
type Select struct {
	t            *schema.Type
	bits         uint
	order        bitbuf.ByteOrder
	alternatives []alternative
	def          *Object
}

// Decode implements Codec.
func (s *Select) Decode(buf *bitbuf.Buffer, r expr.Resolver, b Builder) (any, error) {
	if s.bits > 0 {
		p, err := buf.ReadUnsigned(s.bits, s.order)
		if err != nil {
			return nil, err
		}
		r = expr.Bind(r, expr.Prefix, p)
	}

	for _, alt := range s.alternatives {
		ok, err := alt.cond.Bool(r)
		if err != nil {
			return nil, err
		}
		if ok {
			return alt.codec.Decode(buf, r, b)
		}
	}

	if s.def != nil {
		return s.def.Decode(buf, r, b)
	}
	return nil, nil
}

// Encode implements Codec.
// The alternative is the first whose record v is a value of and whose condition holds.
// With a prefix, the alternative's prefix value is written first; the default has none, so it cannot be encoded.
func (s *Select) Encode(v any, ch *bitbuf.Channel, r expr.Resolver) error {
	if v == nil {
		if s.bits > 0 {
			return encio.NewError(encio.ErrUnsupported, "encoding a missing selected value after a prefix", "")
		}
		return nil
	}

	owned := false
	for _, alt := range s.alternatives {
		if !alt.rec.Owns(v) {
			continue
		}
		owned = true

		ar := r
		if s.bits > 0 {
			ar = expr.Bind(r, expr.Prefix, alt.prefix)
		}
		ok, err := alt.cond.Bool(ar)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}

		if s.bits > 0 {
			if err := ch.Write(s.bits, alt.prefix, s.order); err != nil {
				return err
			}
		}
		return alt.codec.Encode(v, ch, ar)
	}

	if s.def != nil && s.def.Record().Owns(v) {
		if s.bits > 0 {
			return encio.NewError(encio.ErrUnsupported, "the default of a prefixed select has no prefix to write", "")
		}
		return s.def.Encode(v, ch, r)
	}

	if owned {
		return encio.NewError(encio.ErrMismatch, fmt.Sprintf("no condition selecting %T holds", v), "")
	}
	return encio.NewError(encio.ErrUnsupported, fmt.Sprintf("%T is not a value of any select alternative", v), "")
}

// Size implements Codec.
func (s *Select) Size() expr.Integer { return nil }

// Type implements Codec.
func (s *Select) Type() *schema.Type { return s.t }
