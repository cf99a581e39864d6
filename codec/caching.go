package codec

import (
	"fmt"
	"reflect"

	"github.com/stewi1014/bitcodec/bitbuf"
	"github.com/stewi1014/bitcodec/encio"
	"github.com/stewi1014/bitcodec/expr"
	"github.com/stewi1014/bitcodec/schema"
)

// key identifies a codec by the field holding the value and the value's type.
type key struct {
	field *schema.Field
	t     *schema.Type
}

// scoped identifies a finished codec. Expressions are compiled against ctx,
// so the same field under two parents needs two codecs.
type scoped struct {
	key
	ctx expr.Context
}

// genState is the state of generation of a codec.
type genState struct {
	deferred *Deferred
	state    byte
}

const (
	stateGenerating = iota
	stateRecursed
)

// NewCaching returns a Caching using factory for cache misses.
func NewCaching(factory Factory) *Caching {
	return &Caching{
		factory: factory,
		seen:    make(map[key]*genState),
		built:   make(map[scoped]Codec),
	}
}

// Caching builds at most one codec per field, type and scope, and resolves recursive records.
//
// When a (field, type) pair is asked for while it is still being built, which happens exactly when a record contains itself,
// a Deferred codec is returned in its place and pointed at the real codec once it is finished.
// The deferred codec keeps the scope of the level that built it; a recursive record sees the same names at every depth.
// Caching is not safe for concurrent use.
type Caching struct {
	factory Factory
	seen    map[key]*genState
	built   map[scoped]Codec
}

// Create implements Factory.
// The root passed on to the wrapped factory is always the Caching, so element and member codecs are cached too.
func (c *Caching) Create(field *schema.Field, t *schema.Type, ctx expr.Context, _ Factory) (Codec, error) {
	id := key{field: field, t: t}
	sid, cacheable := scoped{key: id, ctx: ctx}, hashable(ctx)

	if cacheable {
		if codec, ok := c.built[sid]; ok {
			return codec, nil
		}
	}

	if gen, ok := c.seen[id]; ok {
		switch gen.state {
		case stateRecursed:
			return gen.deferred, nil
		case stateGenerating:
			// Recursive type!
			gen.deferred = &Deferred{t: t}
			gen.state = stateRecursed
			return gen.deferred, nil
		}
		panic("invalid generation state")
	}

	gen := &genState{state: stateGenerating}
	c.seen[id] = gen
	codec, err := c.factory.Create(field, t, ctx, c)
	delete(c.seen, id)
	if err != nil || codec == nil {
		return nil, err
	}

	if gen.state == stateRecursed {
		gen.deferred.target = codec
	}
	if cacheable {
		c.built[sid] = codec
	}
	return codec, nil
}

// hashable reports whether ctx can be used as a map key.
func hashable(ctx expr.Context) bool {
	return ctx == nil || reflect.TypeOf(ctx).Comparable()
}

// Deferred stands in for a codec that was still being built when it was needed.
// It forwards to the codec once that is finished.
type Deferred struct {
	t      *schema.Type
	target Codec
}

// Target returns the codec Deferred forwards to, or nil if it has not been built.
func (d *Deferred) Target() Codec { return d.target }

func (d *Deferred) resolved() (Codec, error) {
	if d.target == nil {
		return nil, encio.NewError(encio.ErrBadSchema, fmt.Sprintf("recursive %v codec used before it was built", d.t.Kind), "")
	}
	return d.target, nil
}

// Decode implements Codec.
func (d *Deferred) Decode(buf *bitbuf.Buffer, r expr.Resolver, b Builder) (any, error) {
	c, err := d.resolved()
	if err != nil {
		return nil, err
	}
	return c.Decode(buf, r, b)
}

// Encode implements Codec.
func (d *Deferred) Encode(v any, ch *bitbuf.Channel, r expr.Resolver) error {
	c, err := d.resolved()
	if err != nil {
		return err
	}
	return c.Encode(v, ch, r)
}

// Size implements Codec.
// Recursive values have no fixed size.
func (d *Deferred) Size() expr.Integer { return nil }

// Type implements Codec.
func (d *Deferred) Type() *schema.Type { return d.t }
