package encio

import (
	"fmt"
	"io"
)

// Buffer accumulates bytes read from a source. It grows like bytes.Buffer, but refuses to grow past TooBig.
type Buffer struct {
	buff []byte
}

// ReadFrom implements io.ReaderFrom, appending everything r gives until io.EOF.
// It refuses to hold more than TooBig bytes.
func (b *Buffer) ReadFrom(r io.Reader) (int64, error) {
	var total int64
	take := 512
	for {
		l := b.grow(take)
		n, err := r.Read(b.buff[l:])
		b.buff = b.buff[:l+n]
		total += int64(n)

		if uintptr(b.Len()) > TooBig {
			return total, NewError(ErrUnderflow, fmt.Sprintf("byte source is larger than %v bytes", TooBig), "")
		}

		switch {
		case err == io.EOF:
			return total, nil
		case err != nil:
			return total, NewIOError(err, "reading byte source")
		}

		if n == take {
			take *= 2
		}
	}
}

// Bytes returns the buffered bytes.
// The slice aliases the buffer's storage.
func (b *Buffer) Bytes() []byte {
	return b.buff
}

// Len returns the number of buffered bytes.
func (b *Buffer) Len() int {
	return len(b.buff)
}

// grow extends the buffer by n bytes, returning the offset of the first new byte.
func (b *Buffer) grow(n int) int {
	l := len(b.buff)
	if l+n <= cap(b.buff) {
		b.buff = b.buff[:l+n]
		return l
	}

	nb := make([]byte, l+n, cap(b.buff)*2+n)
	copy(nb, b.buff)
	b.buff = nb
	return l
}
