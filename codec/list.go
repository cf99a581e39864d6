package codec

import (
	"errors"
	"fmt"
	"sync"

	"github.com/stewi1014/bitcodec/bitbuf"
	"github.com/stewi1014/bitcodec/encio"
	"github.com/stewi1014/bitcodec/expr"
	"github.com/stewi1014/bitcodec/schema"
)

// listFactory picks the list strategy once, from what is known when the schema is compiled.
//
//	no count                 Dynamic
//	count and offset         Offset
//	constant element size    Static
//	otherwise                Switching
func listFactory(field *schema.Field, t *schema.Type, ctx expr.Context, root Factory) (Codec, error) {
	if t.Kind != schema.KindList {
		return nil, nil
	}
	if t.Elem == nil {
		return nil, encio.NewError(encio.ErrBadSchema, "list without an element type", "")
	}

	elemCtx := expr.With(ctx, expr.Index, expr.Int)
	elem, err := create(field, t.Elem, elemCtx, root)
	if err != nil {
		return nil, err
	}

	if t.Count == "" {
		if t.Offset != "" {
			return nil, encio.NewError(encio.ErrBadSchema, "an offset list needs a count", "")
		}
		return &Dynamic{t: t, elem: elem}, nil
	}

	count, err := expr.NewInteger(ctx, t.Count)
	if err != nil {
		return nil, err
	}
	l := list{t: t, elem: elem, count: count}

	if t.Offset != "" {
		offset, err := expr.NewInteger(elemCtx, t.Offset)
		if err != nil {
			return nil, err
		}
		return &Offset{list: l, offset: offset}, nil
	}

	size := elem.Size()
	if n, ok := constant(size); ok {
		return &Static{list: l, size: n}, nil
	}
	return &Switching{list: l, size: size}, nil
}

func constant(i expr.Integer) (int64, bool) {
	if i == nil {
		return 0, false
	}
	return expr.Constant(i)
}

func at(r expr.Resolver, i int) expr.Resolver {
	return expr.Bind(r, expr.Index, int64(i))
}

// list holds what counted lists share.
type list struct {
	t     *schema.Type
	elem  Codec
	count expr.Integer
}

func (l *list) length(r expr.Resolver) (int, error) {
	n, err := l.count.Int(r)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, encio.NewError(encio.ErrMismatch, fmt.Sprintf("%v gave negative count %v", l.count, n), "")
	}
	if uint64(n) > uint64(encio.TooBig) {
		return 0, encio.NewError(encio.ErrUnderflow, fmt.Sprintf("%v gave count %v, which is too big", l.count, n), "")
	}
	return int(n), nil
}

// sequential decodes n elements one after the other.
func (l *list) sequential(n int, buf *bitbuf.Buffer, r expr.Resolver, b Builder) ([]any, error) {
	out := make([]any, n)
	for i := range out {
		v, err := l.elem.Decode(buf, at(r, i), b)
		if err != nil {
			return nil, encio.WithIndex(err, i)
		}
		out[i] = v
	}
	return out, nil
}

// static decodes n elements of size bits each, lazily if the type asks for it.
func (l *list) static(n int, size uint64, buf *bitbuf.Buffer, r expr.Resolver, b Builder) (any, error) {
	if size > 0 && uint64(n) > buf.Remaining()/size {
		return nil, encio.NewError(encio.ErrUnderflow, fmt.Sprintf("%v elements of %v bits at bit %v, but only %v remain", n, size, buf.Position(), buf.Remaining()), "")
	}
	if !l.t.Lazy {
		return l.sequential(n, buf, r, b)
	}

	view, err := buf.Slice(uint64(n) * size)
	if err != nil {
		return nil, err
	}
	return newLazyList(n, func(i int) (any, error) {
		sub, err := view.View(uint64(i)*size, size)
		if err != nil {
			return nil, err
		}
		return l.elem.Decode(sub, at(r, i), b)
	}), nil
}

func (l *list) encode(v any, ch *bitbuf.Channel, r expr.Resolver) error {
	elems, err := schema.Elements(v)
	if err != nil {
		return err
	}

	n, err := l.length(r)
	if err != nil {
		return err
	}
	if len(elems) != n {
		return encio.NewError(encio.ErrMismatch, fmt.Sprintf("have %v elements, but %v gives %v", len(elems), l.count, n), "")
	}

	return encodeElements(l.elem, elems, ch, r)
}

func encodeElements(elem Codec, elems []any, ch *bitbuf.Channel, r expr.Resolver) error {
	for i, e := range elems {
		if err := elem.Encode(e, ch, at(r, i)); err != nil {
			return encio.WithIndex(err, i)
		}
	}
	return nil
}

// Type implements Codec.
func (l *list) Type() *schema.Type { return l.t }

// Static is a counted list of elements with a constant size.
// Element i starts at i times the size, so lazy lists decode elements in any order.
type Static struct {
	list
	size int64
}

// Decode implements Codec.
func (c *Static) Decode(buf *bitbuf.Buffer, r expr.Resolver, b Builder) (any, error) {
	n, err := c.length(r)
	if err != nil {
		return nil, err
	}
	return c.static(n, uint64(c.size), buf, r, b)
}

// Encode implements Codec.
func (c *Static) Encode(v any, ch *bitbuf.Channel, r expr.Resolver) error {
	return c.encode(v, ch, r)
}

// Size implements Codec.
func (c *Static) Size() expr.Integer {
	return expr.Product(c.count, expr.Const(c.size))
}

// Switching is a counted list whose element size is not constant when the schema is compiled,
// but may be once a decode call's outer values are known.
// Each call uses the Static layout if it can evaluate the size, and decodes elements one by one otherwise.
type Switching struct {
	list
	size expr.Integer
}

// Decode implements Codec.
func (c *Switching) Decode(buf *bitbuf.Buffer, r expr.Resolver, b Builder) (any, error) {
	n, err := c.length(r)
	if err != nil {
		return nil, err
	}

	if c.size != nil {
		// The size may not depend on which element it is.
		if size, err := c.size.Int(expr.Unavailable(r, expr.Index)); err == nil && size >= 0 {
			return c.static(n, uint64(size), buf, r, b)
		}
	}
	return c.sequential(n, buf, r, b)
}

// Encode implements Codec.
func (c *Switching) Encode(v any, ch *bitbuf.Channel, r expr.Resolver) error {
	return c.encode(v, ch, r)
}

// Size implements Codec.
func (c *Switching) Size() expr.Integer { return nil }

// Dynamic is a list without a count. Elements are decoded until the buffer ends, or one underflows,
// mismatches or matches no candidate; that element is discarded and the cursor left at the end of the last good one.
// Any other failure, an init hook failure included, fails the decode.
type Dynamic struct {
	t    *schema.Type
	elem Codec
}

// Decode implements Codec.
func (c *Dynamic) Decode(buf *bitbuf.Buffer, r expr.Resolver, b Builder) (any, error) {
	out := []any{}
	for i := 0; buf.Remaining() > 0; i++ {
		start := buf.Position()

		v, err := c.elem.Decode(buf, at(r, i), b)
		if err != nil {
			if !endsList(err) {
				return nil, encio.WithIndex(err, i)
			}
			encio.Logger.Debug("dynamic list ended", "elements", i, "bit", start, "reason", err)
			if err := buf.SetPosition(start); err != nil {
				return nil, err
			}
			break
		}
		if buf.Position() == start {
			// An element that reads nothing would repeat forever.
			break
		}

		out = append(out, v)
	}
	return out, nil
}

// endsList reports whether err means the data holds no further element.
// Other errors are faults in the schema or the values it runs against.
func endsList(err error) bool {
	if errors.Is(err, encio.ErrHook) {
		return false
	}
	return errors.Is(err, encio.ErrUnderflow) || errors.Is(err, encio.ErrMismatch) || errors.Is(err, encio.ErrNoMatch)
}

// Encode implements Codec.
// A decoder could not tell where the list ends, so it cannot be encoded.
func (c *Dynamic) Encode(any, *bitbuf.Channel, expr.Resolver) error {
	return encio.NewError(encio.ErrUnsupported, "encoding a list without a count", "")
}

// Size implements Codec.
func (c *Dynamic) Size() expr.Integer { return nil }

// Type implements Codec.
func (c *Dynamic) Type() *schema.Type { return c.t }

// Offset is a counted list whose element i starts offset(i) bits after the start of the list.
// Each element but the last is bounded by the start of the next. Elements decode the same in any order.
type Offset struct {
	list
	offset expr.Integer
}

func (c *Offset) start(r expr.Resolver, i int) (uint64, error) {
	off, err := c.offset.Int(at(r, i))
	if err != nil {
		return 0, err
	}
	if off < 0 {
		return 0, encio.NewError(encio.ErrMismatch, fmt.Sprintf("%v gave negative offset %v for element %v", c.offset, off, i), "")
	}
	return uint64(off), nil
}

// view returns the bits of element i of n, relative to the start of the list.
func (c *Offset) view(span *bitbuf.Buffer, r expr.Resolver, i, n int) (*bitbuf.Buffer, uint64, error) {
	from, err := c.start(r, i)
	if err != nil {
		return nil, 0, err
	}
	if i == n-1 {
		sub, err := span.Tail(from)
		return sub, from, err
	}

	to, err := c.start(r, i+1)
	if err != nil {
		return nil, 0, err
	}
	if to < from {
		return nil, 0, encio.NewError(encio.ErrMismatch, fmt.Sprintf("element %v starts at %v, before element %v at %v", i+1, to, i, from), "")
	}
	sub, err := span.View(from, to-from)
	return sub, from, err
}

// Decode implements Codec.
// The cursor is left at the end of the last element.
func (c *Offset) Decode(buf *bitbuf.Buffer, r expr.Resolver, b Builder) (any, error) {
	n, err := c.length(r)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return []any{}, nil
	}

	span, err := buf.Tail(buf.Position())
	if err != nil {
		return nil, err
	}
	load := func(i int) (any, uint64, error) {
		sub, from, err := c.view(span, r, i, n)
		if err != nil {
			return nil, 0, err
		}
		v, err := c.elem.Decode(sub, at(r, i), b)
		return v, from + sub.Position(), err
	}

	base := buf.Position()
	last := n - 1

	if c.t.Lazy {
		l := newLazyList(n, func(i int) (any, error) {
			v, _, err := load(i)
			return v, err
		})

		if size, ok := constant(c.elem.Size()); ok {
			from, err := c.start(r, last)
			if err != nil {
				return nil, err
			}
			return l, buf.SetPosition(base + from + uint64(size))
		}

		v, end, err := load(last)
		if err != nil {
			return nil, encio.WithIndex(err, last)
		}
		l.set(last, v)
		return l, buf.SetPosition(base + end)
	}

	out := make([]any, n)
	var end uint64
	for i := range out {
		v, e, err := load(i)
		if err != nil {
			return nil, encio.WithIndex(err, i)
		}
		out[i], end = v, e
	}
	return out, buf.SetPosition(base + end)
}

// Encode implements Codec.
// Offsets are free to leave gaps or overlap, so there is no layout to write.
func (c *Offset) Encode(any, *bitbuf.Channel, expr.Resolver) error {
	return encio.NewError(encio.ErrUnsupported, "encoding an offset list", "")
}

// Size implements Codec.
func (c *Offset) Size() expr.Integer { return nil }

// lazyList is a schema.List decoding each element on first access.
// It is safe for concurrent use.
type lazyList struct {
	cells []lazyCell
	load  func(i int) (any, error)
}

type lazyCell struct {
	once sync.Once
	v    any
	err  error
}

func newLazyList(n int, load func(i int) (any, error)) *lazyList {
	return &lazyList{
		cells: make([]lazyCell, n),
		load:  load,
	}
}

// set stores an element that is already decoded.
func (l *lazyList) set(i int, v any) {
	c := &l.cells[i]
	c.once.Do(func() { c.v = v })
}

// Len implements schema.List.
func (l *lazyList) Len() int { return len(l.cells) }

// At implements schema.List.
func (l *lazyList) At(i int) (any, error) {
	if i < 0 || i >= len(l.cells) {
		return nil, encio.NewError(encio.ErrUnderflow, fmt.Sprintf("index %v of a %v element list", i, len(l.cells)), "")
	}

	c := &l.cells[i]
	c.once.Do(func() {
		c.v, c.err = l.load(i)
		if c.err != nil {
			c.err = encio.WithIndex(c.err, i)
		}
	})
	return c.v, c.err
}
