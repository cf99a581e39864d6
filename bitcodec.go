// Package bitcodec decodes and encodes binary records described by a schema.
//
// A schema.Record lists fields with their widths, byte orders, presence conditions, counts and expected values,
// written as expressions over the fields decoded before them. Build turns a record into a Codec once;
// the Codec is then used for any number of concurrent Decode and Encode calls.
//
//	rec := &schema.Record{Name: "header", Fields: []*schema.Field{
//		{Name: "n", Type: schema.Scalar(schema.Uint, "8")},
//		{Name: "items", Type: schema.ListOf(schema.Scalar(schema.Uint, "8"), "n")},
//	}}
//	c, err := bitcodec.Build(rec, nil)
//	...
//	v, err := bitcodec.Decode(ctx, c, []byte{2, 10, 20})
//
// Records may also be derived from Go structs with schema.FromStruct, or loaded from YAML, JSONC or CBOR documents.
//
// bitcodec/schema describes records, bitcodec/codec builds and runs the codec trees,
// bitcodec/expr compiles the expressions, bitcodec/bitbuf reads and writes bits,
// and bitcodec/encio holds the error kinds shared by all of them.
package bitcodec

import (
	"context"
	"log/slog"
	"time"

	"github.com/stewi1014/bitcodec/codec"
	"github.com/stewi1014/bitcodec/encio"
	"github.com/stewi1014/bitcodec/expr"
	"github.com/stewi1014/bitcodec/schema"
)

// Codec decodes and encodes values of one record. It is safe for concurrent use.
type Codec struct {
	rec     *schema.Record
	root    codec.Codec
	builder codec.Builder
	logger  *slog.Logger
}

// Build returns the Codec of rec.
// The returned errors are construction errors; they wrap encio.ErrBadSchema, encio.ErrUndeclared,
// encio.ErrBadExpression or encio.ErrBadType and carry the path of the offending field.
func Build(rec *schema.Record, config *Config) (*Codec, error) {
	if rec == nil {
		panic(encio.NewError(encio.ErrNilPointer, "building a codec for a nil record", ""))
	}
	config = config.copyAndFill()

	start := time.Now()
	root, err := codec.Build(rec, config.Codecs, config.Factories...)
	emitCodecBuilt(context.Background(), rec.String(), time.Since(start), err)
	if err != nil {
		config.Logger.Debug("building codec failed", "record", rec, "err", err)
		return nil, err
	}

	c := &Codec{
		rec:     rec,
		root:    root,
		builder: config.Builder,
		logger:  config.Logger,
	}
	if bits, ok := c.Size(); ok {
		config.Logger.Debug("built codec", "record", rec, "bits", bits)
	} else {
		config.Logger.Debug("built codec", "record", rec)
	}
	return c, nil
}

// Record returns the record c was built from.
func (c *Codec) Record() *schema.Record { return c.rec }

// Root returns the codec tree's root.
func (c *Codec) Root() codec.Codec { return c.root }

// Size returns the encoded size of every value of the record in bits,
// and false if it varies between values.
func (c *Codec) Size() (int64, bool) {
	size := c.root.Size()
	if size == nil {
		return 0, false
	}
	n, err := size.Int(expr.Map{})
	if err != nil {
		return 0, false
	}
	return n, true
}
