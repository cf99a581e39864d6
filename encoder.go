package bitcodec

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/stewi1014/bitcodec/bitbuf"
	"github.com/stewi1014/bitcodec/encio"
)

// Encode encodes v, a value of c's record, padding the last byte with zero bits.
// v may be a *schema.Struct, a map of field values, or the record's Go type by value or pointer.
// On failure it returns an *EncodeError.
func Encode(ctx context.Context, c *Codec, v any) ([]byte, error) {
	ch := bitbuf.NewChannel()
	defer ch.Close()

	if err := c.encode(ctx, v, ch); err != nil {
		return nil, err
	}
	return append([]byte(nil), ch.Bytes()...), nil
}

// EncodeTo encodes v to w.
func EncodeTo(ctx context.Context, c *Codec, v any, w io.Writer) error {
	ch := bitbuf.NewChannel()
	defer ch.Close()

	if err := c.encode(ctx, v, ch); err != nil {
		return err
	}
	_, err := ch.WriteTo(w)
	return err
}

func (c *Codec) encode(ctx context.Context, v any, ch *bitbuf.Channel) error {
	if c == nil {
		panic(encio.NewError(encio.ErrNilPointer, "encoding with a nil codec", ""))
	}

	start, began := ch.Position(), time.Now()
	err := c.root.Encode(v, ch, nil)
	emitEncodeComplete(ctx, c.rec.String(), ch.Position()-start, time.Since(began), err)

	if err != nil {
		c.logger.Debug("encode failed", "record", c.rec, "err", err)
		return newEncodeError(c.rec.String(), err)
	}
	return nil
}

// NewEncoder returns an Encoder writing values of c's record to w.
func NewEncoder(w io.Writer, c *Codec) *Encoder {
	return &Encoder{
		w: w,
		c: c,
	}
}

// Encoder writes a stream of values that a Decoder reads back. Each value starts on a byte boundary.
// It is safe for concurrent use; values are written whole, one at a time.
type Encoder struct {
	w     io.Writer
	c     *Codec
	mutex sync.Mutex
}

// Encode writes v.
func (e *Encoder) Encode(ctx context.Context, v any) error {
	ch := bitbuf.NewChannel()
	defer ch.Close()

	if err := e.c.encode(ctx, v, ch); err != nil {
		return err
	}

	e.mutex.Lock()
	defer e.mutex.Unlock()

	_, err := ch.WriteTo(e.w)
	return err
}
