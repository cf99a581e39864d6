package bitbuf

import (
	"fmt"

	"github.com/stewi1014/bitcodec/encio"
)

// MaxBits is the widest numeric read or write supported.
const MaxBits = 64

// New returns a Buffer reading all of data.
func New(data []byte) *Buffer {
	return &Buffer{
		data:  data,
		limit: uint64(len(data)) * 8,
	}
}

// Buffer is a bit-addressable, read-only view over a byte slice.
// The cursor is always within [0, BitLength()]; reads that would pass the end fail with encio.ErrUnderflow and leave the cursor unmoved.
//
// Slices share the parent's bytes but cannot read past their own length.
// A Buffer is not safe for concurrent use, but distinct Buffers over the same bytes are.
type Buffer struct {
	data  []byte
	start uint64 // first bit of this view within data
	limit uint64 // bit length of this view
	pos   uint64 // cursor, relative to start
}

// BitLength returns the number of bits in the view.
func (b *Buffer) BitLength() uint64 { return b.limit }

// Position returns the cursor, in bits from the start of the view.
func (b *Buffer) Position() uint64 { return b.pos }

// Remaining returns the number of unread bits.
func (b *Buffer) Remaining() uint64 { return b.limit - b.pos }

// SetPosition moves the cursor to pos bits from the start of the view.
func (b *Buffer) SetPosition(pos uint64) error {
	if pos > b.limit {
		return encio.NewError(encio.ErrUnderflow, fmt.Sprintf("cannot seek to bit %v of %v", pos, b.limit), "")
	}
	b.pos = pos
	return nil
}

// Clone returns an independent cursor over the same view.
func (b *Buffer) Clone() *Buffer {
	c := *b
	return &c
}

func (b *Buffer) need(n uint64) error {
	if n > b.limit-b.pos {
		return encio.NewError(
			encio.ErrUnderflow,
			fmt.Sprintf("want %v bits at bit %v but only %v remain", n, b.pos, b.limit-b.pos),
			"",
		)
	}
	return nil
}

// ReadBits reads n bits, most significant first, right aligned in the result.
func (b *Buffer) ReadBits(n uint) (uint64, error) {
	if n > MaxBits {
		return 0, encio.NewError(encio.ErrUnsupported, fmt.Sprintf("cannot read %v bits at once", n), "")
	}
	if err := b.need(uint64(n)); err != nil {
		return 0, err
	}

	v := b.peek(b.start+b.pos, n)
	b.pos += uint64(n)
	return v, nil
}

// peek reads n bits at the absolute bit offset abs. Bounds must already be checked.
func (b *Buffer) peek(abs uint64, n uint) (v uint64) {
	for n > 0 {
		cur := uint64(b.data[abs>>3])
		avail := 8 - uint(abs&7)
		take := avail
		if n < take {
			take = n
		}

		chunk := (cur >> (avail - take)) & (1<<take - 1)
		v = v<<take | chunk

		n -= take
		abs += uint64(take)
	}
	return
}

// ReadUnsigned reads an n-bit unsigned integer in the given byte order.
func (b *Buffer) ReadUnsigned(n uint, order ByteOrder) (uint64, error) {
	if order == BigEndian || n <= 8 {
		return b.ReadBits(n)
	}

	if n > MaxBits {
		return 0, encio.NewError(encio.ErrUnsupported, fmt.Sprintf("cannot read %v bits at once", n), "")
	}
	if err := b.need(uint64(n)); err != nil {
		return 0, err
	}

	var v uint64
	abs := b.start + b.pos
	for shift := uint(0); shift < n; shift += 8 {
		take := n - shift
		if take > 8 {
			take = 8
		}
		v |= b.peek(abs, take) << shift
		abs += uint64(take)
	}

	b.pos += uint64(n)
	return v, nil
}

// ReadSigned reads an n-bit two's complement integer in the given byte order.
func (b *Buffer) ReadSigned(n uint, order ByteOrder) (int64, error) {
	v, err := b.ReadUnsigned(n, order)
	if err != nil || n == 0 {
		return 0, err
	}
	return SignExtend(v, n), nil
}

// SignExtend interprets the low n bits of v as a two's complement integer.
func SignExtend(v uint64, n uint) int64 {
	if n == 0 || n >= 64 {
		return int64(v)
	}
	shift := 64 - n
	return int64(v<<shift) >> shift
}

// ReadBytes reads n whole bytes. The cursor does not need to be byte aligned.
// When it is, the returned slice aliases the underlying data.
func (b *Buffer) ReadBytes(n int) ([]byte, error) {
	if n < 0 {
		return nil, encio.NewError(encio.ErrUnderflow, fmt.Sprintf("negative byte count %v", n), "")
	}
	if err := b.need(uint64(n) * 8); err != nil {
		return nil, err
	}

	abs := b.start + b.pos
	b.pos += uint64(n) * 8
	if abs&7 == 0 {
		off := abs >> 3
		return b.data[off : off+uint64(n) : off+uint64(n)], nil
	}

	out := make([]byte, n)
	for i := range out {
		out[i] = byte(b.peek(abs, 8))
		abs += 8
	}
	return out, nil
}

// Slice returns a view of the next n bits and advances the cursor past them.
func (b *Buffer) Slice(n uint64) (*Buffer, error) {
	if err := b.need(n); err != nil {
		return nil, err
	}

	s := &Buffer{
		data:  b.data,
		start: b.start + b.pos,
		limit: n,
	}
	b.pos += n
	return s, nil
}

// View returns a view of n bits starting at bit from, without moving the cursor.
func (b *Buffer) View(from, n uint64) (*Buffer, error) {
	if from > b.limit || n > b.limit-from {
		return nil, encio.NewError(
			encio.ErrUnderflow,
			fmt.Sprintf("want bits [%v, %v) of %v", from, from+n, b.limit),
			"",
		)
	}

	return &Buffer{
		data:  b.data,
		start: b.start + from,
		limit: n,
	}, nil
}

// Tail returns a view from bit from to the end of this view, without moving the cursor.
func (b *Buffer) Tail(from uint64) (*Buffer, error) {
	if from > b.limit {
		return nil, encio.NewError(encio.ErrUnderflow, fmt.Sprintf("cannot view from bit %v of %v", from, b.limit), "")
	}
	return b.View(from, b.limit-from)
}

// Align advances the cursor to the next multiple of boundary bits in the underlying data.
// An aligned cursor does not move.
func (b *Buffer) Align(boundary uint) error {
	if boundary <= 1 {
		return nil
	}

	abs := b.start + b.pos
	rem := abs % uint64(boundary)
	if rem == 0 {
		return nil
	}

	skip := uint64(boundary) - rem
	if err := b.need(skip); err != nil {
		return err
	}
	b.pos += skip
	return nil
}
