package bitcodec

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/stewi1014/bitcodec/bitbuf"
	"github.com/stewi1014/bitcodec/encio"
)

// Decode decodes one value of c's record from the start of data.
// Values are *schema.Struct for records without a Go type, and pointers to the Go type otherwise.
// Bytes after the value are ignored. On failure it returns a *DecodeError and no value.
func Decode(ctx context.Context, c *Codec, data []byte) (any, error) {
	v, _, err := c.decode(ctx, bitbuf.New(data))
	return v, err
}

// DecodeReader reads r to its end and decodes one value from the bytes.
func DecodeReader(ctx context.Context, c *Codec, r io.Reader) (any, error) {
	data, err := encio.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return Decode(ctx, c, data)
}

// DecodeAs decodes a value of a record derived from T with schema.FromStruct.
func DecodeAs[T any](ctx context.Context, c *Codec, data []byte) (*T, error) {
	v, err := Decode(ctx, c, data)
	if err != nil {
		return nil, err
	}

	t, ok := v.(*T)
	if !ok {
		return nil, encio.NewError(encio.ErrBadType, fmt.Sprintf("%v decodes to %T, not %T", c.rec, v, t), "")
	}
	return t, nil
}

func (c *Codec) decode(ctx context.Context, buf *bitbuf.Buffer) (v any, bits uint64, err error) {
	if c == nil {
		panic(encio.NewError(encio.ErrNilPointer, "decoding with a nil codec", ""))
	}

	start, began := buf.Position(), time.Now()
	v, err = c.root.Decode(buf, nil, c.builder)
	bits = buf.Position() - start
	emitDecodeComplete(ctx, c.rec.String(), bits, time.Since(began), err)

	if err != nil {
		c.logger.Debug("decode failed", "record", c.rec, "bit", buf.Position(), "err", err)
		return nil, bits, newDecodeError(c.rec.String(), buf.Position(), err)
	}
	return v, bits, nil
}

// NewDecoder returns a Decoder reading values of c's record from r.
func NewDecoder(r io.Reader, c *Codec) *Decoder {
	return &Decoder{
		r: r,
		c: c,
	}
}

// Decoder decodes a stream of values written one after the other, each starting on a byte boundary.
// It reads r to its end on the first call to Decode.
type Decoder struct {
	r     io.Reader
	c     *Codec
	mutex sync.Mutex
	data  []byte
	read  bool
}

// Decode decodes the next value. It returns io.EOF once every value has been decoded.
// A failed value leaves the Decoder where it was, so the failure repeats.
func (d *Decoder) Decode(ctx context.Context) (any, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if !d.read {
		data, err := encio.ReadAll(d.r)
		if err != nil {
			return nil, err
		}
		d.data, d.read = data, true
	}
	if len(d.data) == 0 {
		return nil, io.EOF
	}

	// Each value is laid out as if it were alone, so it is decoded from a buffer starting at its first byte.
	v, bits, err := d.c.decode(ctx, bitbuf.New(d.data))
	if err != nil {
		return nil, err
	}
	if bits == 0 {
		return nil, encio.NewError(encio.ErrMismatch, fmt.Sprintf("%v bytes follow a value that reads nothing", len(d.data)), "")
	}

	d.data = d.data[(bits+7)>>3:]
	return v, nil
}
