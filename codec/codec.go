// Package codec turns schema records into trees of codecs, and runs them.
//
// A Codec decodes one value from a bitbuf.Buffer and encodes it to a bitbuf.Channel.
// Codecs are built once by a Factory and are then immutable; everything that changes per call
// travels in the Buffer or Channel, the expr.Resolver and the Builder, so a codec tree can be used concurrently.
//
// Factories are chained with Compound, which asks each in turn, and wrapped in Caching,
// which builds each field once per scope and lets recursive records refer to themselves.
package codec

import (
	"fmt"

	"github.com/stewi1014/bitcodec/bitbuf"
	"github.com/stewi1014/bitcodec/encio"
	"github.com/stewi1014/bitcodec/expr"
	"github.com/stewi1014/bitcodec/schema"
)

// Codec reads and writes values of one schema type.
type Codec interface {
	// Decode reads a value from buf. r resolves names in the scope the value is decoded in.
	Decode(buf *bitbuf.Buffer, r expr.Resolver, b Builder) (any, error)

	// Encode writes v to ch.
	Encode(v any, ch *bitbuf.Channel, r expr.Resolver) error

	// Size returns the encoded size in bits, evaluated in the scope the value is decoded in, or nil if it is unknown.
	Size() expr.Integer

	// Type returns the schema type the codec handles. It is nil for codecs not built from a type.
	Type() *schema.Type
}

// Builder creates record values during decoding.
type Builder interface {
	New(rec *schema.Record) any
}

// BuilderFunc is a function implementing Builder.
type BuilderFunc func(rec *schema.Record) any

// New implements Builder.
func (f BuilderFunc) New(rec *schema.Record) any { return f(rec) }

// DefaultBuilder creates values with Record.New.
var DefaultBuilder Builder = BuilderFunc(func(rec *schema.Record) any { return rec.New() })

// Factory creates Codecs.
type Factory interface {
	// Create returns a codec for values of type t, held in field, with expressions compiled in ctx.
	// field is nil for the top level record. root is the factory to use for element and member codecs.
	//
	// A nil Codec and nil error means the factory does not handle t, and the next factory should be asked.
	Create(field *schema.Field, t *schema.Type, ctx expr.Context, root Factory) (Codec, error)
}

// FactoryFunc is a function implementing Factory.
type FactoryFunc func(field *schema.Field, t *schema.Type, ctx expr.Context, root Factory) (Codec, error)

// Create implements Factory.
func (f FactoryFunc) Create(field *schema.Field, t *schema.Type, ctx expr.Context, root Factory) (Codec, error) {
	return f(field, t, ctx, root)
}

// Compound asks each factory in order, returning the first codec.
type Compound []Factory

// Create implements Factory.
func (c Compound) Create(field *schema.Field, t *schema.Type, ctx expr.Context, root Factory) (Codec, error) {
	for _, f := range c {
		codec, err := f.Create(field, t, ctx, root)
		if err != nil || codec != nil {
			return codec, err
		}
	}
	return nil, nil
}

// Defaults returns the built-in factories in the order they are tried.
// Named codecs take precedence over everything else.
func Defaults(named map[string]Codec) Compound {
	return Compound{
		Named(named),
		FactoryFunc(numericFactory),
		FactoryFunc(boolFactory),
		FactoryFunc(floatFactory),
		FactoryFunc(enumFactory),
		FactoryFunc(stringFactory),
		FactoryFunc(bytesFactory),
		FactoryFunc(listFactory),
		FactoryFunc(unionFactory),
		FactoryFunc(selectFactory),
		FactoryFunc(objectFactory),
	}
}

// Named returns a factory handling fields that name a codec.
// A field naming a codec that does not exist is a schema error.
func Named(codecs map[string]Codec) Factory {
	return FactoryFunc(func(field *schema.Field, t *schema.Type, ctx expr.Context, root Factory) (Codec, error) {
		if field == nil || field.Codec == "" || t != field.Type {
			return nil, nil
		}

		c, ok := codecs[field.Codec]
		if !ok {
			return nil, encio.NewError(encio.ErrBadSchema, fmt.Sprintf("no codec named %q", field.Codec), "")
		}
		return c, nil
	})
}

// Build returns the codec of rec. Extra factories are tried before the built-in ones.
func Build(rec *schema.Record, named map[string]Codec, extra ...Factory) (Codec, error) {
	if rec == nil {
		panic(encio.NewError(encio.ErrNilPointer, "building a codec for a nil record", ""))
	}

	chain := append(Compound{}, extra...)
	chain = append(chain, Defaults(named)...)
	root := NewCaching(chain)

	return root.Create(nil, schema.Of(rec), nil, root)
}

// create asks root for a codec, turning a refusal into an error.
func create(field *schema.Field, t *schema.Type, ctx expr.Context, root Factory) (Codec, error) {
	if t == nil {
		return nil, encio.NewError(encio.ErrBadSchema, "missing type", "")
	}

	c, err := root.Create(field, t, ctx, root)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, encio.NewError(encio.ErrBadSchema, fmt.Sprintf("no codec for %v", t.Kind), "")
	}
	return c, nil
}
