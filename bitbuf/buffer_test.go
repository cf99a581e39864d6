package bitbuf_test

import (
	"errors"
	"fmt"
	"math/rand"
	"testing"

	"github.com/maxatome/go-testdeep/td"
	"github.com/stewi1014/bitcodec/bitbuf"
	"github.com/stewi1014/bitcodec/encio"
)

func TestReadUnsigned(t *testing.T) {
	testCases := []struct {
		desc  string
		data  []byte
		skip  uint
		bits  uint
		order bitbuf.ByteOrder
		want  uint64
	}{
		{desc: "byte", data: []byte{0xAB}, bits: 8, want: 0xAB},
		{desc: "high nibble", data: []byte{0xAB}, bits: 4, want: 0xA},
		{desc: "low nibble", data: []byte{0xAB}, skip: 4, bits: 4, want: 0xB},
		{desc: "3 bits of 0xFF", data: []byte{0xFF}, bits: 3, want: 7},
		{desc: "single bit", data: []byte{0x40}, skip: 1, bits: 1, want: 1},
		{desc: "big endian u16", data: []byte{0x12, 0x34}, bits: 16, want: 0x1234},
		{desc: "little endian u16", data: []byte{0x12, 0x34}, bits: 16, order: bitbuf.LittleEndian, want: 0x3412},
		{desc: "big endian u32", data: []byte{1, 2, 3, 4}, bits: 32, want: 0x01020304},
		{desc: "little endian u32", data: []byte{1, 2, 3, 4}, bits: 32, order: bitbuf.LittleEndian, want: 0x04030201},
		{desc: "unaligned big endian u16", data: []byte{0x0F, 0xF0, 0x00}, skip: 4, bits: 16, want: 0xFF00},
		{desc: "unaligned little endian u16", data: []byte{0x0F, 0xF0, 0x00}, skip: 4, bits: 16, order: bitbuf.LittleEndian, want: 0x00FF},
		{desc: "little endian 12 bits", data: []byte{0xAB, 0xC0}, bits: 12, order: bitbuf.LittleEndian, want: 0xCAB},
		{desc: "u64", data: []byte{1, 2, 3, 4, 5, 6, 7, 8}, bits: 64, want: 0x0102030405060708},
		{desc: "little endian u64", data: []byte{1, 2, 3, 4, 5, 6, 7, 8}, bits: 64, order: bitbuf.LittleEndian, want: 0x0807060504030201},
	}
	for _, tC := range testCases {
		t.Run(tC.desc, func(t *testing.T) {
			b := bitbuf.New(tC.data)
			if _, err := b.ReadBits(tC.skip); err != nil {
				t.Fatal(err)
			}

			got, err := b.ReadUnsigned(tC.bits, tC.order)
			if err != nil {
				t.Fatal(err)
			}
			td.Cmp(t, got, tC.want)
			td.Cmp(t, b.Position(), uint64(tC.skip+tC.bits))
		})
	}
}

func TestReadSigned(t *testing.T) {
	testCases := []struct {
		data  []byte
		bits  uint
		order bitbuf.ByteOrder
		want  int64
	}{
		{data: []byte{0xFF}, bits: 8, want: -1},
		{data: []byte{0x80}, bits: 8, want: -128},
		{data: []byte{0x7F}, bits: 8, want: 127},
		{data: []byte{0xE0}, bits: 3, want: -1},
		{data: []byte{0x60}, bits: 3, want: 3},
		{data: []byte{0xFF, 0xFE}, bits: 16, want: -2},
		{data: []byte{0xFE, 0xFF}, bits: 16, order: bitbuf.LittleEndian, want: -2},
	}
	for _, tC := range testCases {
		t.Run(fmt.Sprintf("%x/%v/%v", tC.data, tC.bits, tC.order), func(t *testing.T) {
			got, err := bitbuf.New(tC.data).ReadSigned(tC.bits, tC.order)
			if err != nil {
				t.Fatal(err)
			}
			td.Cmp(t, got, tC.want)
		})
	}
}

func TestUnderflow(t *testing.T) {
	b := bitbuf.New([]byte{1, 2})
	if _, err := b.ReadBits(12); err != nil {
		t.Fatal(err)
	}

	_, err := b.ReadBits(5)
	if !errors.Is(err, encio.ErrUnderflow) {
		t.Fatalf("got %v, wanted underflow", err)
	}
	if errors.Is(err, encio.ErrMismatch) {
		t.Fatal("underflow must be distinguishable from mismatch")
	}
	td.Cmp(t, b.Position(), uint64(12), "failed reads leave the cursor alone")

	got, err := b.ReadBits(4)
	td.CmpNoError(t, err)
	td.Cmp(t, got, uint64(2))
	td.Cmp(t, b.Remaining(), uint64(0))

	td.CmpTrue(t, errors.Is(b.SetPosition(17), encio.ErrUnderflow))
}

func TestSlice(t *testing.T) {
	b := bitbuf.New([]byte{0xAA, 0xBB, 0xCC, 0xDD})
	if _, err := b.ReadBits(8); err != nil {
		t.Fatal(err)
	}

	s, err := b.Slice(12)
	if err != nil {
		t.Fatal(err)
	}
	td.Cmp(t, b.Position(), uint64(20), "slicing advances the parent")
	td.Cmp(t, s.BitLength(), uint64(12))

	v, err := s.ReadBits(8)
	td.CmpNoError(t, err)
	td.Cmp(t, v, uint64(0xBB))

	_, err = s.ReadBits(8)
	td.CmpTrue(t, errors.Is(err, encio.ErrUnderflow), "slice cannot read past its length")

	v, err = s.ReadBits(4)
	td.CmpNoError(t, err)
	td.Cmp(t, v, uint64(0xC))

	_, err = b.Slice(13)
	td.CmpTrue(t, errors.Is(err, encio.ErrUnderflow))
}

func TestView(t *testing.T) {
	b := bitbuf.New([]byte{1, 2, 3, 4})

	v, err := b.View(16, 16)
	if err != nil {
		t.Fatal(err)
	}
	got, err := v.ReadUnsigned(16, bitbuf.BigEndian)
	td.CmpNoError(t, err)
	td.Cmp(t, got, uint64(0x0304))
	td.Cmp(t, b.Position(), uint64(0), "views do not move the cursor")

	tail, err := b.Tail(8)
	td.CmpNoError(t, err)
	td.Cmp(t, tail.BitLength(), uint64(24))

	_, err = b.View(24, 9)
	td.CmpTrue(t, errors.Is(err, encio.ErrUnderflow))
}

func TestReadBytes(t *testing.T) {
	b := bitbuf.New([]byte{0x0A, 0xBC, 0xDE, 0xF0})

	aligned, err := b.ReadBytes(1)
	td.CmpNoError(t, err)
	td.Cmp(t, aligned, []byte{0x0A})

	if _, err := b.ReadBits(4); err != nil {
		t.Fatal(err)
	}

	unaligned, err := b.ReadBytes(2)
	td.CmpNoError(t, err)
	td.Cmp(t, unaligned, []byte{0xCD, 0xEF})

	_, err = b.ReadBytes(1)
	td.CmpTrue(t, errors.Is(err, encio.ErrUnderflow))
}

func TestAlign(t *testing.T) {
	b := bitbuf.New([]byte{0xFF, 0x01})
	if _, err := b.ReadBits(3); err != nil {
		t.Fatal(err)
	}
	td.CmpNoError(t, b.Align(8))
	td.Cmp(t, b.Position(), uint64(8))
	td.CmpNoError(t, b.Align(8))
	td.Cmp(t, b.Position(), uint64(8), "aligned cursor stays")

	if _, err := b.ReadBits(1); err != nil {
		t.Fatal(err)
	}
	td.CmpNoError(t, b.Align(8))
	td.Cmp(t, b.Remaining(), uint64(0))
}

func TestChannelRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(256))

	type write struct {
		bits  uint
		order bitbuf.ByteOrder
		v     uint64
	}

	for i := 0; i < 50; i++ {
		writes := make([]write, 1+rng.Intn(40))
		c := bitbuf.NewChannel()

		var total uint64
		for j := range writes {
			w := write{
				bits:  1 + uint(rng.Intn(64)),
				order: bitbuf.ByteOrder(rng.Intn(2)),
				v:     rng.Uint64(),
			}
			if w.bits < 64 {
				w.v &= 1<<w.bits - 1
			}
			writes[j] = w
			td.CmpNoError(t, c.Write(w.bits, w.v, w.order))
			total += uint64(w.bits)
		}
		td.Cmp(t, c.Position(), total)

		b := bitbuf.New(c.Bytes())
		for _, w := range writes {
			got, err := b.ReadUnsigned(w.bits, w.order)
			if err != nil {
				t.Fatal(err)
			}
			if got != w.v {
				t.Fatalf("wrote %v bits %v (%v), read back %v", w.bits, w.v, w.order, got)
			}
		}
		c.Close()
	}
}

func TestChannel(t *testing.T) {
	c := bitbuf.NewChannel()
	defer c.Close()

	td.CmpNoError(t, c.WriteBits(3, 0b101))
	c.WriteBytes([]byte{0xFF})
	c.Align(8)
	td.Cmp(t, c.Position(), uint64(16))
	td.Cmp(t, c.Bytes(), []byte{0xBF, 0xE0})

	o := bitbuf.NewChannel()
	defer o.Close()
	td.CmpNoError(t, o.WriteBits(4, 0xA))
	c.WriteChannel(o)
	td.Cmp(t, c.Position(), uint64(20))
	td.Cmp(t, c.Bytes(), []byte{0xBF, 0xE0, 0xA0})
}

func TestChannelAt(t *testing.T) {
	c := bitbuf.NewChannelAt(4)
	defer c.Close()

	td.CmpNoError(t, c.WriteBits(4, 0x3))
	td.Cmp(t, c.Offset(), uint64(8))
	c.Align(8)
	td.Cmp(t, c.Position(), uint64(4), "already on a stream byte boundary")

	td.CmpNoError(t, c.WriteBits(2, 0b11))
	c.Align(8)
	td.Cmp(t, c.Position(), uint64(12))
	td.Cmp(t, c.Offset(), uint64(16))
	td.Cmp(t, c.Bytes(), []byte{0x3C, 0x00})
}

func TestParseByteOrder(t *testing.T) {
	for s, want := range map[string]bitbuf.ByteOrder{
		"":       bitbuf.BigEndian,
		"BIG":    bitbuf.BigEndian,
		"le":     bitbuf.LittleEndian,
		"little": bitbuf.LittleEndian,
	} {
		got, err := bitbuf.ParseByteOrder(s)
		td.CmpNoError(t, err)
		td.Cmp(t, got, want, s)
	}

	_, err := bitbuf.ParseByteOrder("middle")
	td.CmpError(t, err)
}
