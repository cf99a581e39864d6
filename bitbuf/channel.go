package bitbuf

import (
	"fmt"
	"io"

	"github.com/stewi1014/bitcodec/encio"
)

// NewChannel returns an empty Channel.
func NewChannel() *Channel {
	return NewChannelAt(0)
}

// NewChannelAt returns an empty Channel whose content will be placed origin bits into a stream.
// Align pads relative to the stream, so content written ahead of time aligns the same as when it is read back in place.
func NewChannelAt(origin uint64) *Channel {
	return &Channel{
		buff:   GetBuffer(MinBufferSize),
		origin: origin,
	}
}

// Channel is an append-only bit writer. It mirrors the layout Buffer reads,
// so anything written with Write can be read back with ReadUnsigned using the same width and order.
//
// Call Close to return its storage to the pool once the bytes are no longer needed.
type Channel struct {
	buff   []byte
	bits   uint64
	origin uint64
}

// Position returns the number of bits written.
func (c *Channel) Position() uint64 { return c.bits }

// Offset returns the position in the stream the next bit will be placed at.
func (c *Channel) Offset() uint64 { return c.origin + c.bits }

// Bytes returns the written bytes. A trailing partial byte is padded with zero bits.
// The slice aliases the Channel's storage and is invalid after Close.
func (c *Channel) Bytes() []byte {
	return c.buff[:(c.bits+7)>>3]
}

// Close releases the Channel's storage.
func (c *Channel) Close() {
	PutBuffer(c.buff)
	c.buff = nil
	c.bits = 0
	c.origin = 0
}

// WriteTo implements io.WriterTo.
func (c *Channel) WriteTo(w io.Writer) (int64, error) {
	b := c.Bytes()
	if err := encio.Write(b, w); err != nil {
		return 0, err
	}
	return int64(len(b)), nil
}

// grow makes room for n more bits, zeroing newly exposed bytes.
func (c *Channel) grow(n uint64) {
	need := int((c.bits + n + 7) >> 3)
	l := len(c.buff)
	if need <= l {
		return
	}

	if need > cap(c.buff) {
		nb := GetBuffer(need * 2)
		nb = nb[:l]
		copy(nb, c.buff)
		PutBuffer(c.buff)
		c.buff = nb
	}

	c.buff = c.buff[:need]
	for i := l; i < need; i++ {
		c.buff[i] = 0
	}
}

// WriteBits writes the low n bits of v, most significant first.
func (c *Channel) WriteBits(n uint, v uint64) error {
	if n > MaxBits {
		return encio.NewError(encio.ErrUnsupported, fmt.Sprintf("cannot write %v bits at once", n), "")
	}

	c.grow(uint64(n))
	c.put(n, v)
	return nil
}

func (c *Channel) put(n uint, v uint64) {
	for n > 0 {
		avail := 8 - uint(c.bits&7)
		take := avail
		if n < take {
			take = n
		}

		chunk := (v >> (n - take)) & (1<<take - 1)
		c.buff[c.bits>>3] |= byte(chunk << (avail - take))

		n -= take
		c.bits += uint64(take)
	}
}

// Write writes the low n bits of v as an unsigned integer in the given byte order.
func (c *Channel) Write(n uint, v uint64, order ByteOrder) error {
	if order == BigEndian || n <= 8 {
		return c.WriteBits(n, v)
	}
	if n > MaxBits {
		return encio.NewError(encio.ErrUnsupported, fmt.Sprintf("cannot write %v bits at once", n), "")
	}

	c.grow(uint64(n))
	for shift := uint(0); shift < n; shift += 8 {
		take := n - shift
		if take > 8 {
			take = 8
		}
		c.put(take, v>>shift)
	}
	return nil
}

// WriteBytes writes whole bytes. The Channel does not need to be byte aligned.
func (c *Channel) WriteBytes(p []byte) {
	c.grow(uint64(len(p)) * 8)
	if c.bits&7 == 0 {
		copy(c.buff[c.bits>>3:], p)
		c.bits += uint64(len(p)) * 8
		return
	}

	for _, by := range p {
		c.put(8, uint64(by))
	}
}

// WriteChannel appends everything written to o, bit for bit.
func (c *Channel) WriteChannel(o *Channel) {
	full := o.bits >> 3
	c.WriteBytes(o.buff[:full])

	if rem := uint(o.bits & 7); rem > 0 {
		last := uint64(o.buff[full]) >> (8 - rem)
		c.grow(uint64(rem))
		c.put(rem, last)
	}
}

// Align pads with zero bits up to the next multiple of boundary bits in the stream.
func (c *Channel) Align(boundary uint) {
	if boundary <= 1 {
		return
	}

	rem := c.Offset() % uint64(boundary)
	if rem == 0 {
		return
	}

	pad := uint64(boundary) - rem
	c.grow(pad)
	c.bits += pad
}
